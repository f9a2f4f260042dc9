package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beanline/beanline/internal/platform/db"
	"github.com/beanline/beanline/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the ledger.
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
// span the ledger and other aggregates atomically.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const stockColumns = `product_id, expected_qty, arrived_qty, received_qty, damaged_qty, refurbished_qty, salable_qty, online_qty, offline_qty, expired_qty, near_expiry_qty, version, updated_at`

func scanStock(row pgx.Row) (Stock, error) {
	var s Stock
	err := row.Scan(&s.ProductID,
		&s.Incoming.Expected, &s.Incoming.Arrived,
		&s.Processing.Received, &s.Processing.Damaged, &s.Processing.Refurbished, &s.Processing.Salable,
		&s.Distribution.Online, &s.Distribution.Offline,
		&s.Expiration.TotalExpired, &s.Expiration.NearExpiry,
		&s.Version, &s.UpdatedAt)
	return s, err
}

// GetStock loads the ledger row for one product.
func (r *Repository) GetStock(ctx context.Context, productID int64) (Stock, error) {
	s, err := scanStock(r.pool.QueryRow(ctx, `SELECT `+stockColumns+` FROM stocks WHERE product_id=$1`, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stock{}, ErrStockNotFound
		}
		return Stock{}, fmt.Errorf("%w: get stock: %v", shared.ErrStorage, err)
	}
	return s, nil
}

const lotColumns = `id, product_id, batch_number, manufacture_date, expiration_date, quantity, location, status, COALESCE(supplier_id,0), COALESCE(order_number,''), created_at`

func scanLot(row pgx.Row) (Lot, error) {
	var l Lot
	err := row.Scan(&l.ID, &l.ProductID, &l.BatchNumber, &l.ManufactureDate, &l.ExpirationDate,
		&l.Quantity, &l.Location, &l.Status, &l.SupplierID, &l.OrderNumber, &l.CreatedAt)
	return l, err
}

func collectLots(rows pgx.Rows) ([]Lot, error) {
	defer rows.Close()
	var lots []Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lots, nil
}

// ListLots returns a point-in-time snapshot of one product's lots.
func (r *Repository) ListLots(ctx context.Context, productID int64) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lotColumns+` FROM stock_lots WHERE product_id=$1 ORDER BY expiration_date, id`, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: list lots: %v", shared.ErrStorage, err)
	}
	return collectLots(rows)
}

// ListAllLots returns a snapshot across all products for expiration scans.
func (r *Repository) ListAllLots(ctx context.Context) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lotColumns+` FROM stock_lots ORDER BY product_id, expiration_date, id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list all lots: %v", shared.ErrStorage, err)
	}
	return collectLots(rows)
}

// ListMovements returns recent ledger entries, newest first.
func (r *Repository) ListMovements(ctx context.Context, productID int64, limit int) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, movement_type, COALESCE(from_location,''), COALESCE(to_location,''), quantity, COALESCE(reason,''), COALESCE(reference,''), COALESCE(batch_number,''), performed_by, occurred_at
FROM stock_movements WHERE product_id=$1 ORDER BY occurred_at DESC, id DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list movements: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.From, &m.To, &m.Quantity, &m.Reason, &m.Reference, &m.BatchNumber, &m.PerformedBy, &m.At); err != nil {
			return nil, fmt.Errorf("%w: scan movement: %v", shared.ErrStorage, err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list movements: %v", shared.ErrStorage, err)
	}
	return movements, nil
}

// GetStockForUpdate inserts the row when missing and takes the per-product
// lock that serializes concurrent mutations.
func (t *txRepo) GetStockForUpdate(ctx context.Context, productID int64) (Stock, error) {
	if _, err := t.tx.Exec(ctx, `INSERT INTO stocks (product_id) VALUES ($1) ON CONFLICT (product_id) DO NOTHING`, productID); err != nil {
		return Stock{}, fmt.Errorf("%w: init stock: %v", shared.ErrStorage, err)
	}
	s, err := scanStock(t.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM stocks WHERE product_id=$1 FOR UPDATE`, productID))
	if err != nil {
		return Stock{}, fmt.Errorf("%w: lock stock: %v", shared.ErrStorage, err)
	}
	return s, nil
}

// UpsertStock persists the counters and bumps the revision.
func (t *txRepo) UpsertStock(ctx context.Context, s Stock) error {
	_, err := t.tx.Exec(ctx, `UPDATE stocks SET
expected_qty=$2, arrived_qty=$3, received_qty=$4, damaged_qty=$5, refurbished_qty=$6, salable_qty=$7,
online_qty=$8, offline_qty=$9, expired_qty=$10, near_expiry_qty=$11, version=version+1, updated_at=NOW()
WHERE product_id=$1`,
		s.ProductID,
		s.Incoming.Expected, s.Incoming.Arrived,
		s.Processing.Received, s.Processing.Damaged, s.Processing.Refurbished, s.Processing.Salable,
		s.Distribution.Online, s.Distribution.Offline,
		s.Expiration.TotalExpired, s.Expiration.NearExpiry)
	if err != nil {
		return fmt.Errorf("%w: upsert stock: %v", shared.ErrStorage, err)
	}
	return nil
}

// InsertMovement appends one ledger entry.
func (t *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, movement_type, from_location, to_location, quantity, reason, reference, batch_number, performed_by, occurred_at)
VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5, $6, $7, NULLIF($8,''), $9, COALESCE($10, NOW())) RETURNING id`,
		m.ProductID, string(m.Type), string(m.From), string(m.To), m.Quantity, m.Reason, m.Reference, m.BatchNumber, m.PerformedBy, m.At).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert movement: %v", shared.ErrStorage, err)
	}
	return id, nil
}

func (t *txRepo) GetLotForUpdate(ctx context.Context, lotID int64) (Lot, error) {
	lot, err := scanLot(t.tx.QueryRow(ctx, `SELECT `+lotColumns+` FROM stock_lots WHERE id=$1 FOR UPDATE`, lotID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, ErrLotNotFound
		}
		return Lot{}, fmt.Errorf("%w: lock lot: %v", shared.ErrStorage, err)
	}
	return lot, nil
}

func (t *txRepo) ListLotsForUpdate(ctx context.Context, productID int64) ([]Lot, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+lotColumns+` FROM stock_lots WHERE product_id=$1 ORDER BY expiration_date, id FOR UPDATE`, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: lock lots: %v", shared.ErrStorage, err)
	}
	return collectLots(rows)
}

func (t *txRepo) LotNumberExists(ctx context.Context, productID int64, batchNumber string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM stock_lots WHERE product_id=$1 AND batch_number=$2)`, productID, batchNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: lot exists: %v", shared.ErrStorage, err)
	}
	return exists, nil
}

func (t *txRepo) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_lots (product_id, batch_number, manufacture_date, expiration_date, quantity, location, status, supplier_id, order_number, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8,0), NULLIF($9,''), COALESCE($10, NOW())) RETURNING id`,
		lot.ProductID, lot.BatchNumber, lot.ManufactureDate, lot.ExpirationDate, lot.Quantity,
		string(lot.Location), string(lot.Status), lot.SupplierID, lot.OrderNumber, lot.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert lot: %v", shared.ErrStorage, err)
	}
	return id, nil
}

func (t *txRepo) UpdateLot(ctx context.Context, lot Lot) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_lots SET quantity=$2, location=$3, status=$4 WHERE id=$1`,
		lot.ID, lot.Quantity, string(lot.Location), string(lot.Status))
	if err != nil {
		return fmt.Errorf("%w: update lot: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLotNotFound
	}
	return nil
}

func (t *txRepo) DeleteLot(ctx context.Context, lotID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM stock_lots WHERE id=$1`, lotID)
	if err != nil {
		return fmt.Errorf("%w: delete lot: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLotNotFound
	}
	return nil
}

// SetProductStock refreshes the denormalized online-stock cache on products.
func (t *txRepo) SetProductStock(ctx context.Context, productID int64, qty int64) error {
	if qty < 0 {
		qty = 0
	}
	_, err := t.tx.Exec(ctx, `UPDATE products SET current_stock=$2, updated_at=NOW() WHERE id=$1`, productID, qty)
	if err != nil {
		return fmt.Errorf("%w: set product stock: %v", shared.ErrStorage, err)
	}
	return nil
}
