package purchase

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beanline/beanline/internal/platform/db"
	"github.com/beanline/beanline/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an already-open transaction. Used by workflows that
// close an order atomically with other aggregates.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const orderColumns = `id, order_number, batch_number, supplier_id, status,
transport_mode, freight_cost, clearance_cost, other_logistics_cost, total_logistics_cost,
tax, shipping, discount, subtotal, total_amount, grand_total, has_batch,
created_by, COALESCE(approved_by,0), COALESCE(approved_at,'epoch'), COALESCE(delivered_at,'epoch'), COALESCE(completed_at,'epoch'),
COALESCE(cancelled_by,0), COALESCE(cancelled_at,'epoch'), COALESCE(cancellation_reason,''), created_at, updated_at`

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.OrderNumber, &po.BatchNumber, &po.SupplierID, &po.Status,
		&po.Logistics.TransportMode, &po.Logistics.FreightCost, &po.Logistics.ClearanceCost, &po.Logistics.OtherCost, &po.Logistics.TotalCost,
		&po.Tax, &po.Shipping, &po.Discount, &po.Subtotal, &po.TotalAmount, &po.GrandTotal, &po.HasBatch,
		&po.CreatedBy, &po.ApprovedBy, &po.ApprovedAt, &po.DeliveredAt, &po.CompletedAt,
		&po.CancelledBy, &po.CancelledAt, &po.CancellationReason, &po.CreatedAt, &po.UpdatedAt)
	return po, err
}

// Get returns one order with items and status history.
func (r *Repository) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, fmt.Errorf("%w: purchase order %d", shared.ErrNotFound, id)
		}
		return PurchaseOrder{}, fmt.Errorf("%w: get order: %v", shared.ErrStorage, err)
	}
	if po.Items, err = r.loadItems(ctx, id); err != nil {
		return PurchaseOrder{}, err
	}
	if po.History, err = r.loadHistory(ctx, id); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// List returns orders matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM purchase_orders
WHERE ($1 = '' OR status = $1) AND ($2 = 0 OR supplier_id = $2)
ORDER BY created_at DESC, id DESC LIMIT $3`, string(filter.Status), filter.SupplierID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list orders: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	var orders []PurchaseOrder
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan order: %v", shared.ErrStorage, err)
		}
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list orders: %v", shared.ErrStorage, err)
	}
	return orders, nil
}

func (r *Repository) loadItems(ctx context.Context, orderID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, product_id, quantity, unit_price, currency, total FROM purchase_order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: load items: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Currency, &item.Total); err != nil {
			return nil, fmt.Errorf("%w: scan item: %v", shared.ErrStorage, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load items: %v", shared.ErrStorage, err)
	}
	return items, nil
}

func (r *Repository) loadHistory(ctx context.Context, orderID int64) ([]StatusChange, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, previous_status, new_status, actor_id, actor_role, occurred_at, COALESCE(notes,'') FROM purchase_order_status_history WHERE order_id=$1 ORDER BY occurred_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	var history []StatusChange
	for rows.Next() {
		var change StatusChange
		if err := rows.Scan(&change.ID, &change.OrderID, &change.Previous, &change.New, &change.ActorID, &change.Role, &change.At, &change.Notes); err != nil {
			return nil, fmt.Errorf("%w: scan history: %v", shared.ErrStorage, err)
		}
		history = append(history, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load history: %v", shared.ErrStorage, err)
	}
	return history, nil
}

// GetForUpdate locks the order row for the transaction.
func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, fmt.Errorf("%w: purchase order %d", shared.ErrNotFound, id)
		}
		return PurchaseOrder{}, fmt.Errorf("%w: lock order: %v", shared.ErrStorage, err)
	}
	rows, err := t.tx.Query(ctx, `SELECT id, order_id, product_id, quantity, unit_price, currency, total FROM purchase_order_items WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("%w: load items: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Currency, &item.Total); err != nil {
			return PurchaseOrder{}, fmt.Errorf("%w: scan item: %v", shared.ErrStorage, err)
		}
		po.Items = append(po.Items, item)
	}
	if err := rows.Err(); err != nil {
		return PurchaseOrder{}, fmt.Errorf("%w: load items: %v", shared.ErrStorage, err)
	}
	return po, nil
}

// Insert stores the order header.
func (t *txRepo) Insert(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders
(order_number, batch_number, supplier_id, status, transport_mode, freight_cost, clearance_cost, other_logistics_cost, total_logistics_cost,
 tax, shipping, discount, subtotal, total_amount, grand_total, has_batch, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19) RETURNING id`,
		po.OrderNumber, po.BatchNumber, po.SupplierID, string(po.Status),
		po.Logistics.TransportMode, po.Logistics.FreightCost, po.Logistics.ClearanceCost, po.Logistics.OtherCost, po.Logistics.TotalCost,
		po.Tax, po.Shipping, po.Discount, po.Subtotal, po.TotalAmount, po.GrandTotal, po.HasBatch,
		po.CreatedBy, po.CreatedAt, po.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert order: %v", shared.ErrStorage, err)
	}
	return id, nil
}

// ReplaceItems rewrites the order lines.
func (t *txRepo) ReplaceItems(ctx context.Context, orderID int64, items []Item) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE order_id=$1`, orderID); err != nil {
		return fmt.Errorf("%w: clear items: %v", shared.ErrStorage, err)
	}
	for _, item := range items {
		_, err := t.tx.Exec(ctx, `INSERT INTO purchase_order_items (order_id, product_id, quantity, unit_price, currency, total) VALUES ($1,$2,$3,$4,$5,$6)`,
			orderID, item.ProductID, item.Quantity, item.UnitPrice, item.Currency, item.Total)
		if err != nil {
			return fmt.Errorf("%w: insert item: %v", shared.ErrStorage, err)
		}
	}
	return nil
}

// Update persists header fields including status and rollups.
func (t *txRepo) Update(ctx context.Context, po PurchaseOrder) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET
status=$2, transport_mode=$3, freight_cost=$4, clearance_cost=$5, other_logistics_cost=$6, total_logistics_cost=$7,
tax=$8, shipping=$9, discount=$10, subtotal=$11, total_amount=$12, grand_total=$13, has_batch=$14,
approved_by=NULLIF($15,0), approved_at=NULLIF($16,'epoch'::timestamptz), delivered_at=NULLIF($17,'epoch'::timestamptz),
completed_at=NULLIF($18,'epoch'::timestamptz), cancelled_by=NULLIF($19,0), cancelled_at=NULLIF($20,'epoch'::timestamptz),
cancellation_reason=NULLIF($21,''), updated_at=NOW()
WHERE id=$1`,
		po.ID, string(po.Status),
		po.Logistics.TransportMode, po.Logistics.FreightCost, po.Logistics.ClearanceCost, po.Logistics.OtherCost, po.Logistics.TotalCost,
		po.Tax, po.Shipping, po.Discount, po.Subtotal, po.TotalAmount, po.GrandTotal, po.HasBatch,
		po.ApprovedBy, po.ApprovedAt, po.DeliveredAt, po.CompletedAt, po.CancelledBy, po.CancelledAt, po.CancellationReason)
	if err != nil {
		return fmt.Errorf("%w: update order: %v", shared.ErrStorage, err)
	}
	return nil
}

// AppendHistory stores one status change entry.
func (t *txRepo) AppendHistory(ctx context.Context, change StatusChange) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO purchase_order_status_history (order_id, previous_status, new_status, actor_id, actor_role, occurred_at, notes) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		change.OrderID, string(change.Previous), string(change.New), change.ActorID, string(change.Role), change.At, change.Notes)
	if err != nil {
		return fmt.Errorf("%w: append history: %v", shared.ErrStorage, err)
	}
	return nil
}

// Delete removes the order and its lines.
func (t *txRepo) Delete(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE order_id=$1`, id); err != nil {
		return fmt.Errorf("%w: delete items: %v", shared.ErrStorage, err)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_status_history WHERE order_id=$1`, id); err != nil {
		return fmt.Errorf("%w: delete history: %v", shared.ErrStorage, err)
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete order: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: purchase order %d", shared.ErrNotFound, id)
	}
	return nil
}
