package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beanline/beanline/internal/catalog"
	"github.com/beanline/beanline/internal/shared"
)

// ErrStockNotFound indicates a missing per-product stock row. Repositories
// return it so the service can create the row lazily.
var ErrStockNotFound = errors.New("stock: record not found")

// ErrLotNotFound indicates a missing lot row.
var ErrLotNotFound = errors.New("stock: lot not found")

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStock(ctx context.Context, productID int64) (Stock, error)
	ListLots(ctx context.Context, productID int64) ([]Lot, error)
	ListAllLots(ctx context.Context) ([]Lot, error)
	ListMovements(ctx context.Context, productID int64, limit int) ([]Movement, error)
}

// TxRepository exposes the operations available inside one transaction. The
// row lock taken by GetStockForUpdate serializes all mutations per product.
type TxRepository interface {
	GetStockForUpdate(ctx context.Context, productID int64) (Stock, error)
	UpsertStock(ctx context.Context, s Stock) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	GetLotForUpdate(ctx context.Context, lotID int64) (Lot, error)
	ListLotsForUpdate(ctx context.Context, productID int64) ([]Lot, error)
	LotNumberExists(ctx context.Context, productID int64, batchNumber string) (bool, error)
	InsertLot(ctx context.Context, lot Lot) (int64, error)
	UpdateLot(ctx context.Context, lot Lot) error
	DeleteLot(ctx context.Context, lotID int64) error
	SetProductStock(ctx context.Context, productID int64, qty int64) error
}

// CatalogPort reads the product flags the warehouse core depends on.
type CatalogPort interface {
	Get(ctx context.Context, productID int64) (catalog.Product, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups tunables.
type ServiceConfig struct {
	// NearExpiryWindow is the warning window for the NEAR_EXPIRY label.
	NearExpiryWindow time.Duration
	// AlertCacheTTL bounds how stale a cached expiration report may be.
	AlertCacheTTL time.Duration
}

const defaultNearExpiryWindow = 30 * 24 * time.Hour

const alertCacheKey = "stock:expiration_report"

// Service coordinates ledger, lot registry and alert operations.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	audit   AuditPort
	cache   *redis.Client
	cfg     ServiceConfig
}

// NewService builds Service. cache and audit may be nil.
func NewService(repo RepositoryPort, cat CatalogPort, audit AuditPort, cache *redis.Client, cfg ServiceConfig) *Service {
	if cfg.NearExpiryWindow <= 0 {
		cfg.NearExpiryWindow = defaultNearExpiryWindow
	}
	if cfg.AlertCacheTTL <= 0 {
		cfg.AlertCacheTTL = 5 * time.Minute
	}
	return &Service{repo: repo, catalog: cat, audit: audit, cache: cache, cfg: cfg}
}

// Window returns the configured near-expiry warning window.
func (s *Service) Window() time.Duration {
	return s.cfg.NearExpiryWindow
}

// GetStock returns the ledger for a product, zero-valued when none exists yet.
func (s *Service) GetStock(ctx context.Context, productID int64) (Stock, error) {
	st, err := s.repo.GetStock(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrStockNotFound) {
			return Stock{ProductID: productID}, nil
		}
		return Stock{}, err
	}
	return st, nil
}

// Lots returns the lot registry rows for a product.
func (s *Service) Lots(ctx context.Context, productID int64) ([]Lot, error) {
	return s.repo.ListLots(ctx, productID)
}

// Movements returns the most recent ledger entries for a product.
func (s *Service) Movements(ctx context.Context, productID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListMovements(ctx, productID, limit)
}

// RecordMovement applies one movement inside a per-product transaction and
// keeps the denormalized product stock in step with the online counter.
func (s *Service) RecordMovement(ctx context.Context, productID int64, in MovementInput) (Stock, error) {
	if productID == 0 {
		return Stock{}, fmt.Errorf("%w: product required", shared.ErrNotFound)
	}
	product, err := s.catalog.Get(ctx, productID)
	if err != nil {
		return Stock{}, err
	}
	var updated Stock
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		st, err := s.lockOrInit(ctx, tx, productID)
		if err != nil {
			return err
		}
		movement, err := ApplyMovement(&st, in)
		if err != nil {
			return err
		}
		if err := tx.UpsertStock(ctx, st); err != nil {
			return err
		}
		if _, err := tx.InsertMovement(ctx, movement); err != nil {
			return err
		}
		if product.WarehouseManaged {
			if err := tx.SetProductStock(ctx, productID, st.Distribution.Online); err != nil {
				return err
			}
		}
		updated = st
		return nil
	})
	if err != nil {
		return Stock{}, err
	}
	s.recordAudit(ctx, in.Actor, fmt.Sprintf("stock:%s", in.Type), productID, map[string]any{
		"from": string(in.From), "to": string(in.To), "qty": in.Quantity, "reason": in.Reason,
	})
	return updated, nil
}

// CreateLotInput describes a new lot.
type CreateLotInput struct {
	ProductID       int64
	BatchNumber     string
	ManufactureDate time.Time
	ExpirationDate  time.Time
	Quantity        int64
	Location        Location
	SupplierID      int64
	OrderNumber     string
	Actor           shared.Actor
}

// CreateLot registers a lot for a perishable product and books the arrival
// into the ledger.
func (s *Service) CreateLot(ctx context.Context, in CreateLotInput) (Lot, error) {
	if in.Quantity <= 0 {
		return Lot{}, fmt.Errorf("%w: lot quantity must be positive", shared.ErrQuantityMismatch)
	}
	if in.BatchNumber == "" {
		return Lot{}, fmt.Errorf("%w: batch number required", shared.ErrQuantityMismatch)
	}
	product, err := s.catalog.Get(ctx, in.ProductID)
	if err != nil {
		return Lot{}, err
	}
	if !product.IsPerishable {
		return Lot{}, fmt.Errorf("%w: product %d is not lot-tracked", shared.ErrPreconditionFailed, in.ProductID)
	}
	if in.Location == "" {
		in.Location = LocationIncoming
	}
	lot := Lot{
		ProductID:       in.ProductID,
		BatchNumber:     in.BatchNumber,
		ManufactureDate: in.ManufactureDate,
		ExpirationDate:  in.ExpirationDate,
		Quantity:        in.Quantity,
		Location:        in.Location,
		Status:          LotStatusActive,
		SupplierID:      in.SupplierID,
		OrderNumber:     in.OrderNumber,
		CreatedAt:       time.Now().UTC(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		st, err := s.lockOrInit(ctx, tx, in.ProductID)
		if err != nil {
			return err
		}
		exists, err := tx.LotNumberExists(ctx, in.ProductID, in.BatchNumber)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: batch %s already registered for product %d", shared.ErrDuplicate, in.BatchNumber, in.ProductID)
		}
		movement, err := ApplyMovement(&st, MovementInput{
			Type:        MovementBatchIn,
			To:          in.Location,
			Quantity:    in.Quantity,
			Reason:      "lot registered",
			Reference:   in.OrderNumber,
			BatchNumber: in.BatchNumber,
			Actor:       in.Actor,
		})
		if err != nil {
			return err
		}
		id, err := tx.InsertLot(ctx, lot)
		if err != nil {
			return err
		}
		lot.ID = id
		if err := tx.UpsertStock(ctx, st); err != nil {
			return err
		}
		_, err = tx.InsertMovement(ctx, movement)
		return err
	})
	if err != nil {
		return Lot{}, err
	}
	s.recordAudit(ctx, in.Actor, "stock:lot_create", in.ProductID, map[string]any{"batch": in.BatchNumber, "qty": in.Quantity})
	return lot, nil
}

// TransferLot moves quantity from a lot to another location. A partial
// transfer splits the lot: the original row relocates with the moved
// quantity and a sibling keeps the remainder at the old location. Siblings
// share batch-number lineage and are never auto-merged.
func (s *Service) TransferLot(ctx context.Context, lotID int64, to Location, quantity int64, actor shared.Actor) (Lot, error) {
	if quantity <= 0 {
		return Lot{}, fmt.Errorf("%w: transfer quantity must be positive", shared.ErrQuantityMismatch)
	}
	var moved Lot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lot, err := tx.GetLotForUpdate(ctx, lotID)
		if err != nil {
			return err
		}
		if lot.Location == to {
			return fmt.Errorf("%w: lot already at %s", shared.ErrPreconditionFailed, to)
		}
		if quantity > lot.Quantity {
			return fmt.Errorf("%w: %d requested, %d in lot %s", shared.ErrInsufficientStock, quantity, lot.Quantity, lot.BatchNumber)
		}
		st, err := s.lockOrInit(ctx, tx, lot.ProductID)
		if err != nil {
			return err
		}
		movement, err := ApplyMovement(&st, MovementInput{
			Type:        MovementTransfer,
			From:        lot.Location,
			To:          to,
			Quantity:    quantity,
			Reason:      "lot transfer",
			BatchNumber: lot.BatchNumber,
			Actor:       actor,
		})
		if err != nil {
			return err
		}
		if quantity < lot.Quantity {
			sibling := lot
			sibling.ID = 0
			sibling.Quantity = lot.Quantity - quantity
			if _, err := tx.InsertLot(ctx, sibling); err != nil {
				return err
			}
		}
		lot.Quantity = quantity
		lot.Location = to
		if err := tx.UpdateLot(ctx, lot); err != nil {
			return err
		}
		if err := tx.UpsertStock(ctx, st); err != nil {
			return err
		}
		if _, err := tx.InsertMovement(ctx, movement); err != nil {
			return err
		}
		moved = lot
		return nil
	})
	if err != nil {
		return Lot{}, err
	}
	s.recordAudit(ctx, actor, "stock:lot_transfer", moved.ProductID, map[string]any{"batch": moved.BatchNumber, "to": string(to), "qty": quantity})
	return moved, nil
}

// DisposeLot removes a lot entirely, booking its quantity out of the ledger.
func (s *Service) DisposeLot(ctx context.Context, lotID int64, reason string, actor shared.Actor) error {
	var productID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lot, err := tx.GetLotForUpdate(ctx, lotID)
		if err != nil {
			return err
		}
		st, err := s.lockOrInit(ctx, tx, lot.ProductID)
		if err != nil {
			return err
		}
		if lot.Quantity > 0 {
			movement, err := ApplyMovement(&st, MovementInput{
				Type:        MovementOut,
				From:        lot.Location,
				Quantity:    lot.Quantity,
				Reason:      reason,
				BatchNumber: lot.BatchNumber,
				Actor:       actor,
			})
			if err != nil {
				return err
			}
			if _, err := tx.InsertMovement(ctx, movement); err != nil {
				return err
			}
		}
		if err := tx.DeleteLot(ctx, lot.ID); err != nil {
			return err
		}
		if err := tx.UpsertStock(ctx, st); err != nil {
			return err
		}
		productID = lot.ProductID
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "stock:lot_dispose", productID, map[string]any{"lot": lotID, "reason": reason})
	return nil
}

// RecommendWithdrawal runs the FIFO allocator over the product's current lots.
func (s *Service) RecommendWithdrawal(ctx context.Context, productID int64, quantity int64) (Recommendation, error) {
	lots, err := s.repo.ListLots(ctx, productID)
	if err != nil {
		return Recommendation{}, err
	}
	return Recommend(lots, quantity), nil
}

// ExpirationAlerts builds the expiration report across all products. The
// rendered report is cached briefly; scans tolerate slightly stale data.
func (s *Service) ExpirationAlerts(ctx context.Context) (ExpirationReport, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, alertCacheKey).Bytes(); err == nil {
			var cached ExpirationReport
			if json.Unmarshal(raw, &cached) == nil {
				return cached, nil
			}
		}
	}
	lots, err := s.repo.ListAllLots(ctx)
	if err != nil {
		return ExpirationReport{}, err
	}
	report := BuildExpirationReport(lots, time.Now(), s.cfg.NearExpiryWindow)
	if s.cache != nil {
		if raw, err := json.Marshal(report); err == nil {
			s.cache.Set(ctx, alertCacheKey, raw, s.cfg.AlertCacheTTL)
		}
	}
	return report, nil
}

// MarkExpiredLots flips overdue ACTIVE lots to EXPIRED and moves their
// quantity into the EXPIRED bucket. Returns how many lots were flipped.
func (s *Service) MarkExpiredLots(ctx context.Context, now time.Time) (int, error) {
	lots, err := s.repo.ListAllLots(ctx)
	if err != nil {
		return 0, err
	}
	byProduct := make(map[int64][]Lot)
	for _, lot := range lots {
		if lot.Status == LotStatusActive && !lot.ExpirationDate.After(now) {
			byProduct[lot.ProductID] = append(byProduct[lot.ProductID], lot)
		}
	}
	flipped := 0
	for productID, overdue := range byProduct {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			st, err := s.lockOrInit(ctx, tx, productID)
			if err != nil {
				return err
			}
			for _, candidate := range overdue {
				lot, err := tx.GetLotForUpdate(ctx, candidate.ID)
				if err != nil {
					if errors.Is(err, ErrLotNotFound) {
						continue
					}
					return err
				}
				if lot.Status != LotStatusActive || lot.ExpirationDate.After(now) {
					continue
				}
				movement, err := ApplyMovement(&st, MovementInput{
					Type:        MovementExpire,
					From:        lot.Location,
					Quantity:    lot.Quantity,
					Reason:      "expired",
					BatchNumber: lot.BatchNumber,
				})
				if err != nil {
					return err
				}
				lot.Status = LotStatusExpired
				lot.Location = LocationExpired
				if err := tx.UpdateLot(ctx, lot); err != nil {
					return err
				}
				if _, err := tx.InsertMovement(ctx, movement); err != nil {
					return err
				}
				flipped++
			}
			return tx.UpsertStock(ctx, st)
		})
		if err != nil {
			return flipped, err
		}
	}
	if flipped > 0 && s.cache != nil {
		s.cache.Del(ctx, alertCacheKey)
	}
	return flipped, nil
}

// SyncProduct recomputes derived counters from the lot set and refreshes the
// denormalized product stock. Used by the repair job and after workflows that
// touch many lots at once.
func (s *Service) SyncProduct(ctx context.Context, productID int64) (Stock, error) {
	product, err := s.catalog.Get(ctx, productID)
	if err != nil {
		return Stock{}, err
	}
	var synced Stock
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		st, err := s.lockOrInit(ctx, tx, productID)
		if err != nil {
			return err
		}
		lots, err := tx.ListLotsForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		SyncFromLots(&st, lots, time.Now(), s.cfg.NearExpiryWindow)
		if err := tx.UpsertStock(ctx, st); err != nil {
			return err
		}
		if product.WarehouseManaged {
			if err := tx.SetProductStock(ctx, productID, st.Distribution.Online); err != nil {
				return err
			}
		}
		synced = st
		return nil
	})
	if err != nil {
		return Stock{}, err
	}
	return synced, nil
}

func (s *Service) lockOrInit(ctx context.Context, tx TxRepository, productID int64) (Stock, error) {
	st, err := tx.GetStockForUpdate(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrStockNotFound) {
			return Stock{ProductID: productID}, nil
		}
		return Stock{}, err
	}
	return st, nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, productID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Role:     actor.Role,
		Action:   action,
		Entity:   "stock",
		EntityID: fmt.Sprintf("%d", productID),
		Meta:     meta,
	})
}
