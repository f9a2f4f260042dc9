package purchase

import (
	"context"
	"fmt"
	"time"

	"github.com/beanline/beanline/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PurchaseOrder, error)
	List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	Insert(ctx context.Context, po PurchaseOrder) (int64, error)
	ReplaceItems(ctx context.Context, orderID int64, items []Item) error
	Update(ctx context.Context, po PurchaseOrder) error
	AppendHistory(ctx context.Context, change StatusChange) error
	Delete(ctx context.Context, id int64) error
}

// NumberPort allocates document numbers.
type NumberPort interface {
	Next(ctx context.Context, kind shared.SequenceKind, at time.Time) (string, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ListFilter narrows order listings.
type ListFilter struct {
	Status     Status
	SupplierID int64
	Limit      int
}

// Service orchestrates the purchase order lifecycle.
type Service struct {
	repo    RepositoryPort
	numbers NumberPort
	policy  *Policy
	audit   AuditPort
}

// NewService constructs the purchase service.
func NewService(repo RepositoryPort, numbers NumberPort, policy *Policy, audit AuditPort) *Service {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Service{repo: repo, numbers: numbers, policy: policy, audit: audit}
}

// Policy exposes the active permission table.
func (s *Service) Policy() *Policy {
	return s.policy
}

// ItemInput describes one order line.
type ItemInput struct {
	ProductID int64
	Quantity  int64
	UnitPrice float64
	Currency  string
}

// LogisticsInput describes the freight cost breakdown.
type LogisticsInput struct {
	TransportMode string
	FreightCost   float64
	ClearanceCost float64
	OtherCost     float64
}

// CreateInput describes a new draft order.
type CreateInput struct {
	SupplierID int64
	Items      []ItemInput
	Logistics  LogisticsInput
	Tax        float64
	Shipping   float64
	Discount   float64
	Actor      shared.Actor
}

// Create persists a DRAFT order with freshly allocated document numbers.
func (s *Service) Create(ctx context.Context, in CreateInput) (PurchaseOrder, error) {
	if in.SupplierID == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier required", shared.ErrNotFound)
	}
	items, err := buildItems(in.Items)
	if err != nil {
		return PurchaseOrder{}, err
	}
	now := time.Now().UTC()
	orderNumber, err := s.numbers.Next(ctx, shared.SequencePurchaseOrder, now)
	if err != nil {
		return PurchaseOrder{}, err
	}
	batchNumber, err := s.numbers.Next(ctx, shared.SequenceStockBatch, now)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po := PurchaseOrder{
		OrderNumber: orderNumber,
		BatchNumber: batchNumber,
		SupplierID:  in.SupplierID,
		Status:      StatusDraft,
		Items:       items,
		Logistics: Logistics{
			TransportMode: in.Logistics.TransportMode,
			FreightCost:   in.Logistics.FreightCost,
			ClearanceCost: in.Logistics.ClearanceCost,
			OtherCost:     in.Logistics.OtherCost,
		},
		Tax:       in.Tax,
		Shipping:  in.Shipping,
		Discount:  in.Discount,
		CreatedBy: in.Actor.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	po.Recalculate()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Insert(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		return tx.ReplaceItems(ctx, id, po.Items)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, in.Actor, "po:create", po.ID, map[string]any{"number": po.OrderNumber, "grand_total": po.GrandTotal})
	return po, nil
}

// UpdateInput carries the editable order fields.
type UpdateInput struct {
	OrderID   int64
	Items     []ItemInput
	Logistics LogisticsInput
	Tax       float64
	Shipping  float64
	Discount  float64
	Actor     shared.Actor
}

// Update rewrites items and logistics on an order still open for editing and
// recomputes every financial rollup.
func (s *Service) Update(ctx context.Context, in UpdateInput) (PurchaseOrder, error) {
	items, err := buildItems(in.Items)
	if err != nil {
		return PurchaseOrder{}, err
	}
	var updated PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if po.Status != StatusDraft && po.Status != StatusPending {
			return fmt.Errorf("%w: order %s is not editable in %s", shared.ErrPreconditionFailed, po.OrderNumber, po.Status)
		}
		po.Items = items
		po.Logistics = Logistics{
			TransportMode: in.Logistics.TransportMode,
			FreightCost:   in.Logistics.FreightCost,
			ClearanceCost: in.Logistics.ClearanceCost,
			OtherCost:     in.Logistics.OtherCost,
		}
		po.Tax = in.Tax
		po.Shipping = in.Shipping
		po.Discount = in.Discount
		po.Recalculate()
		po.UpdatedAt = time.Now().UTC()
		if err := tx.Update(ctx, po); err != nil {
			return err
		}
		if err := tx.ReplaceItems(ctx, po.ID, po.Items); err != nil {
			return err
		}
		updated = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, in.Actor, "po:update", updated.ID, map[string]any{"number": updated.OrderNumber})
	return updated, nil
}

// Transition moves an order through the state machine. Rejected transitions
// mutate nothing.
func (s *Service) Transition(ctx context.Context, orderID int64, target Status, actor shared.Actor, notes string) (PurchaseOrder, error) {
	var updated PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.policy.Transition(&po, target, actor, notes, time.Now().UTC()); err != nil {
			return err
		}
		if err := tx.Update(ctx, po); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, po.History[len(po.History)-1]); err != nil {
			return err
		}
		updated = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "po:transition", updated.ID, map[string]any{"number": updated.OrderNumber, "status": string(target)})
	return updated, nil
}

// Delete removes an order. Only drafts may be hard-deleted.
func (s *Service) Delete(ctx context.Context, orderID int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if po.Status != StatusDraft {
			return fmt.Errorf("%w: only draft orders may be deleted", shared.ErrPreconditionFailed)
		}
		return tx.Delete(ctx, orderID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "po:delete", orderID, nil)
	return nil
}

// Get loads one order with items and history.
func (s *Service) Get(ctx context.Context, orderID int64) (PurchaseOrder, error) {
	return s.repo.Get(ctx, orderID)
}

// List returns orders matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	return s.repo.List(ctx, filter)
}

// UnitEconomics derives the per-item cost figures the pricing engine reads:
// unit cost straight from the item and the order's logistics cost spread
// evenly across every unit.
func (s *Service) UnitEconomics(ctx context.Context, orderID int64) ([]UnitEconomics, error) {
	po, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	totalQty := po.TotalQuantity()
	var perUnit float64
	if totalQty > 0 {
		perUnit = po.Logistics.TotalCost / float64(totalQty)
	}
	out := make([]UnitEconomics, 0, len(po.Items))
	for _, item := range po.Items {
		out = append(out, UnitEconomics{
			ProductID:            item.ProductID,
			Quantity:             item.Quantity,
			UnitCost:             item.UnitPrice,
			Currency:             item.Currency,
			LogisticsCostPerUnit: perUnit,
		})
	}
	return out, nil
}

func buildItems(inputs []ItemInput) ([]Item, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one item required", shared.ErrQuantityMismatch)
	}
	items := make([]Item, 0, len(inputs))
	for _, in := range inputs {
		if in.ProductID == 0 || in.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item requires product and positive quantity", shared.ErrQuantityMismatch)
		}
		if in.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: unit price must be >= 0", shared.ErrQuantityMismatch)
		}
		items = append(items, Item{
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			Currency:  in.Currency,
		})
	}
	return items, nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Role:     actor.Role,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: fmt.Sprintf("%d", orderID),
		Meta:     meta,
	})
}
