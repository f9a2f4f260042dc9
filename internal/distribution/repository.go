package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beanline/beanline/internal/platform/db"
	"github.com/beanline/beanline/internal/purchase"
	"github.com/beanline/beanline/internal/shared"
	"github.com/beanline/beanline/internal/stock"
)

// Repository provides PostgreSQL backed persistence for stock batches.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx     pgx.Tx
	stock  stock.TxRepository
	orders purchase.TxRepository
}

// WithTx wraps the callback in a repeatable-read transaction shared by the
// batch, ledger and order repositories, so workflow writes commit together.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			tx:     tx,
			stock:  stock.NewTxRepository(tx),
			orders: purchase.NewTxRepository(tx),
		})
	})
}

func (t *txRepo) Stock() stock.TxRepository     { return t.stock }
func (t *txRepo) Orders() purchase.TxRepository { return t.orders }

const batchColumns = `id, order_id, batch_number, COALESCE(supplier_id,0), quality_status, plan_status,
	COALESCE(checked_by,0), COALESCE(checked_at,'epoch'), COALESCE(proposed_by,0), COALESCE(proposed_at,'epoch'),
	COALESCE(decided_by,0), COALESCE(decided_at,'epoch'), COALESCE(decision_notes,''), created_at, updated_at`

func scanBatch(row pgx.Row) (StockBatch, error) {
	var b StockBatch
	err := row.Scan(&b.ID, &b.OrderID, &b.BatchNumber, &b.SupplierID, &b.QualityStatus, &b.PlanStatus,
		&b.CheckedBy, &b.CheckedAt, &b.ProposedBy, &b.ProposedAt,
		&b.DecidedBy, &b.DecidedAt, &b.DecisionNotes, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadBatch(ctx context.Context, q querier, query string, arg any) (StockBatch, error) {
	b, err := scanBatch(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockBatch{}, fmt.Errorf("%w: stock batch", shared.ErrNotFound)
		}
		return StockBatch{}, fmt.Errorf("%w: get batch: %v", shared.ErrStorage, err)
	}
	rows, err := q.Query(ctx, `SELECT id, batch_id, product_id, quantity, COALESCE(expiry_date,'epoch'),
		passed_qty, refurbished_qty, damaged_qty, expired_qty, online_stock, offline_stock
		FROM stock_batch_items WHERE batch_id=$1 ORDER BY id`, b.ID)
	if err != nil {
		return StockBatch{}, fmt.Errorf("%w: batch items: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	for rows.Next() {
		var item BatchItem
		if err := rows.Scan(&item.ID, &item.BatchID, &item.ProductID, &item.Quantity, &item.ExpiryDate,
			&item.PassedQuantity, &item.RefurbishedQuantity, &item.DamagedQuantity, &item.ExpiredQuantity,
			&item.OnlineStock, &item.OfflineStock); err != nil {
			return StockBatch{}, fmt.Errorf("%w: scan batch item: %v", shared.ErrStorage, err)
		}
		b.Items = append(b.Items, item)
	}
	if err := rows.Err(); err != nil {
		return StockBatch{}, fmt.Errorf("%w: batch items: %v", shared.ErrStorage, err)
	}

	planRows, err := q.Query(ctx, `SELECT product_id, online_qty, offline_qty
		FROM distribution_plan_lines WHERE batch_id=$1 ORDER BY id`, b.ID)
	if err != nil {
		return StockBatch{}, fmt.Errorf("%w: plan lines: %v", shared.ErrStorage, err)
	}
	defer planRows.Close()
	for planRows.Next() {
		var line PlanLine
		if err := planRows.Scan(&line.ProductID, &line.OnlineQuantity, &line.OfflineQuantity); err != nil {
			return StockBatch{}, fmt.Errorf("%w: scan plan line: %v", shared.ErrStorage, err)
		}
		b.Plan = append(b.Plan, line)
	}
	if err := planRows.Err(); err != nil {
		return StockBatch{}, fmt.Errorf("%w: plan lines: %v", shared.ErrStorage, err)
	}
	return b, nil
}

// GetBatch loads one batch with items and plan.
func (r *Repository) GetBatch(ctx context.Context, id int64) (StockBatch, error) {
	return loadBatch(ctx, r.pool, `SELECT `+batchColumns+` FROM stock_batches WHERE id=$1`, id)
}

// GetBatchByOrder loads the batch belonging to an order.
func (r *Repository) GetBatchByOrder(ctx context.Context, orderID int64) (StockBatch, error) {
	return loadBatch(ctx, r.pool, `SELECT `+batchColumns+` FROM stock_batches WHERE order_id=$1`, orderID)
}

// List returns the most recent batches, without item detail.
func (r *Repository) List(ctx context.Context, limit int) ([]StockBatch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM stock_batches ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list batches: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	var out []StockBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan batch: %v", shared.ErrStorage, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBatchForUpdate locks the batch row and loads items and plan.
func (t *txRepo) GetBatchForUpdate(ctx context.Context, id int64) (StockBatch, error) {
	return loadBatch(ctx, t.tx, `SELECT `+batchColumns+` FROM stock_batches WHERE id=$1 FOR UPDATE`, id)
}

// InsertBatch stores a new batch with its items.
func (t *txRepo) InsertBatch(ctx context.Context, b StockBatch) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_batches
		(order_id, batch_number, supplier_id, quality_status, plan_status, created_at, updated_at)
		VALUES ($1,$2,NULLIF($3,0),$4,$5,NOW(),NOW()) RETURNING id`,
		b.OrderID, b.BatchNumber, b.SupplierID, b.QualityStatus, b.PlanStatus).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert batch: %v", shared.ErrStorage, err)
	}
	for _, item := range b.Items {
		_, err := t.tx.Exec(ctx, `INSERT INTO stock_batch_items
			(batch_id, product_id, quantity, expiry_date, passed_qty, refurbished_qty, damaged_qty, expired_qty, online_stock, offline_stock)
			VALUES ($1,$2,$3,NULLIF($4,'epoch'::timestamptz),0,0,0,0,0,0)`,
			id, item.ProductID, item.Quantity, item.ExpiryDate)
		if err != nil {
			return 0, fmt.Errorf("%w: insert batch item: %v", shared.ErrStorage, err)
		}
	}
	return id, nil
}

// UpdateBatch stores batch header changes.
func (t *txRepo) UpdateBatch(ctx context.Context, b StockBatch) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_batches SET quality_status=$2, plan_status=$3,
		checked_by=NULLIF($4,0), checked_at=NULLIF($5,'epoch'::timestamptz),
		proposed_by=NULLIF($6,0), proposed_at=NULLIF($7,'epoch'::timestamptz),
		decided_by=NULLIF($8,0), decided_at=NULLIF($9,'epoch'::timestamptz),
		decision_notes=NULLIF($10,''), updated_at=NOW()
		WHERE id=$1`,
		b.ID, b.QualityStatus, b.PlanStatus,
		b.CheckedBy, b.CheckedAt, b.ProposedBy, b.ProposedAt,
		b.DecidedBy, b.DecidedAt, b.DecisionNotes)
	if err != nil {
		return fmt.Errorf("%w: update batch: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: stock batch %d", shared.ErrNotFound, b.ID)
	}
	return nil
}

// UpdateItem stores one item's quality and channel quantities.
func (t *txRepo) UpdateItem(ctx context.Context, item BatchItem) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_batch_items SET
		passed_qty=$2, refurbished_qty=$3, damaged_qty=$4, expired_qty=$5,
		online_stock=$6, offline_stock=$7
		WHERE id=$1`,
		item.ID, item.PassedQuantity, item.RefurbishedQuantity, item.DamagedQuantity, item.ExpiredQuantity,
		item.OnlineStock, item.OfflineStock)
	if err != nil {
		return fmt.Errorf("%w: update batch item: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: batch item %d", shared.ErrNotFound, item.ID)
	}
	return nil
}

// ReplacePlan swaps out the proposed plan lines.
func (t *txRepo) ReplacePlan(ctx context.Context, batchID int64, lines []PlanLine) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM distribution_plan_lines WHERE batch_id=$1`, batchID); err != nil {
		return fmt.Errorf("%w: clear plan: %v", shared.ErrStorage, err)
	}
	for _, line := range lines {
		_, err := t.tx.Exec(ctx, `INSERT INTO distribution_plan_lines (batch_id, product_id, online_qty, offline_qty)
			VALUES ($1,$2,$3,$4)`, batchID, line.ProductID, line.OnlineQuantity, line.OfflineQuantity)
		if err != nil {
			return fmt.Errorf("%w: insert plan line: %v", shared.ErrStorage, err)
		}
	}
	return nil
}

// AddProductTotalStock bumps the denormalized lifetime stock counter.
func (t *txRepo) AddProductTotalStock(ctx context.Context, productID int64, delta int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE products SET total_stock=GREATEST(total_stock+$2,0), updated_at=NOW() WHERE id=$1`,
		productID, delta)
	if err != nil {
		return fmt.Errorf("%w: update product total stock: %v", shared.ErrStorage, err)
	}
	return nil
}
