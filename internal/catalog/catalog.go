// Package catalog exposes the narrow product surface the warehouse core
// reads and writes. The catalog itself is owned by another service; this
// package only covers the fields stock distribution depends on.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beanline/beanline/internal/shared"
)

// Product carries the catalog fields the warehouse core consumes.
type Product struct {
	ID           int64
	SKU          string
	Name         string
	IsPerishable bool
	// WarehouseManaged mirrors the catalog's warehouse-stock flag. When false
	// the product opts out of denormalized stock updates on approval.
	WarehouseManaged bool
	// CurrentStock is the denormalized online stock count kept in sync with
	// the ledger's distribution.onlineStock.
	CurrentStock int64
	// TotalStock is the sellable count bumped when a distribution plan is
	// approved (online + offline commitment).
	TotalStock int64
}

// Port is the read/write contract against the external product catalog.
type Port interface {
	Get(ctx context.Context, productID int64) (Product, error)
	SetCurrentStock(ctx context.Context, productID int64, qty int64) error
	AddTotalStock(ctx context.Context, productID int64, delta int64) error
}

// Repository implements Port on the shared PostgreSQL schema.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a product by id.
func (r *Repository) Get(ctx context.Context, productID int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, is_perishable, warehouse_managed, current_stock, total_stock FROM products WHERE id=$1`, productID).
		Scan(&p.ID, &p.SKU, &p.Name, &p.IsPerishable, &p.WarehouseManaged, &p.CurrentStock, &p.TotalStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: product %d", shared.ErrNotFound, productID)
		}
		return Product{}, fmt.Errorf("%w: get product: %v", shared.ErrStorage, err)
	}
	return p, nil
}

// SetCurrentStock overwrites the denormalized stock count.
func (r *Repository) SetCurrentStock(ctx context.Context, productID int64, qty int64) error {
	if qty < 0 {
		qty = 0
	}
	tag, err := r.pool.Exec(ctx, `UPDATE products SET current_stock=$2, updated_at=NOW() WHERE id=$1`, productID, qty)
	if err != nil {
		return fmt.Errorf("%w: set current stock: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", shared.ErrNotFound, productID)
	}
	return nil
}

// AddTotalStock bumps the sellable stock count, clamped at zero.
func (r *Repository) AddTotalStock(ctx context.Context, productID int64, delta int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET total_stock=GREATEST(total_stock+$2, 0), updated_at=NOW() WHERE id=$1`, productID, delta)
	if err != nil {
		return fmt.Errorf("%w: add total stock: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", shared.ErrNotFound, productID)
	}
	return nil
}
