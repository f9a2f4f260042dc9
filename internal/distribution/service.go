package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beanline/beanline/internal/catalog"
	"github.com/beanline/beanline/internal/purchase"
	"github.com/beanline/beanline/internal/shared"
	"github.com/beanline/beanline/internal/stock"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, id int64) (StockBatch, error)
	GetBatchByOrder(ctx context.Context, orderID int64) (StockBatch, error)
	List(ctx context.Context, limit int) ([]StockBatch, error)
}

// TxRepository spans the batch, ledger and order aggregates inside one
// transaction so approval is all-or-nothing.
type TxRepository interface {
	Stock() stock.TxRepository
	Orders() purchase.TxRepository
	GetBatchForUpdate(ctx context.Context, id int64) (StockBatch, error)
	InsertBatch(ctx context.Context, b StockBatch) (int64, error)
	UpdateBatch(ctx context.Context, b StockBatch) error
	UpdateItem(ctx context.Context, item BatchItem) error
	ReplacePlan(ctx context.Context, batchID int64, lines []PlanLine) error
	AddProductTotalStock(ctx context.Context, productID int64, delta int64) error
}

// CatalogPort reads product flags.
type CatalogPort interface {
	Get(ctx context.Context, productID int64) (catalog.Product, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups tunables.
type ServiceConfig struct {
	NearExpiryWindow time.Duration
}

// Service drives the quality-check / distribution-approval workflow.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	policy  *purchase.Policy
	audit   AuditPort
	cfg     ServiceConfig
}

// NewService constructs the workflow service.
func NewService(repo RepositoryPort, cat CatalogPort, policy *purchase.Policy, audit AuditPort, cfg ServiceConfig) *Service {
	if policy == nil {
		policy = purchase.DefaultPolicy()
	}
	if cfg.NearExpiryWindow <= 0 {
		cfg.NearExpiryWindow = 30 * 24 * time.Hour
	}
	return &Service{repo: repo, catalog: cat, policy: policy, audit: audit, cfg: cfg}
}

// GetBatch loads one batch.
func (s *Service) GetBatch(ctx context.Context, id int64) (StockBatch, error) {
	return s.repo.GetBatch(ctx, id)
}

// GetBatchByOrder loads the batch belonging to an order.
func (s *Service) GetBatchByOrder(ctx context.Context, orderID int64) (StockBatch, error) {
	return s.repo.GetBatchByOrder(ctx, orderID)
}

// List returns recent batches.
func (s *Service) List(ctx context.Context, limit int) ([]StockBatch, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.List(ctx, limit)
}

// ReceiptItemInput describes goods received for one product.
type ReceiptItemInput struct {
	ProductID  int64
	Quantity   int64
	ExpiryDate time.Time
}

// CreateBatchInput describes the goods receipt for a delivered order.
type CreateBatchInput struct {
	OrderID int64
	Items   []ReceiptItemInput
	Actor   shared.Actor
}

// CreateBatchFromOrder registers the goods receipt for a DELIVERED order.
// Exactly one batch may ever exist per order; received quantities default to
// the ordered quantities and arrival is booked into the ledger per product.
func (s *Service) CreateBatchFromOrder(ctx context.Context, in CreateBatchInput) (StockBatch, error) {
	var created StockBatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.Orders().GetForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if po.Status != purchase.StatusDelivered {
			return fmt.Errorf("%w: order %s is %s, batches require DELIVERED", shared.ErrPreconditionFailed, po.OrderNumber, po.Status)
		}
		if po.HasBatch {
			return fmt.Errorf("%w: order %s already has a batch", shared.ErrDuplicate, po.OrderNumber)
		}

		received := make(map[int64]ReceiptItemInput, len(in.Items))
		for _, item := range in.Items {
			if item.Quantity < 0 {
				return fmt.Errorf("%w: received quantity must be >= 0", shared.ErrQuantityMismatch)
			}
			received[item.ProductID] = item
		}

		batch := StockBatch{
			OrderID:       po.ID,
			BatchNumber:   po.BatchNumber,
			SupplierID:    po.SupplierID,
			QualityStatus: QualityPending,
			PlanStatus:    PlanPending,
			CreatedAt:     time.Now().UTC(),
		}
		for _, line := range po.Items {
			qty := line.Quantity
			expiry := time.Time{}
			if override, ok := received[line.ProductID]; ok {
				qty = override.Quantity
				expiry = override.ExpiryDate
			}
			batch.Items = append(batch.Items, BatchItem{
				ProductID:  line.ProductID,
				Quantity:   qty,
				ExpiryDate: expiry,
			})
		}

		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = id

		for i, item := range batch.Items {
			orderedQty := po.Items[i].Quantity
			st, err := tx.Stock().GetStockForUpdate(ctx, item.ProductID)
			if err != nil && !errors.Is(err, stock.ErrStockNotFound) {
				return err
			}
			st.ProductID = item.ProductID
			st.Incoming.Expected += orderedQty
			if item.Quantity > 0 {
				movement, err := stock.ApplyMovement(&st, stock.MovementInput{
					Type:        stock.MovementBatchIn,
					To:          stock.LocationIncoming,
					Quantity:    item.Quantity,
					Reason:      "goods receipt",
					Reference:   po.OrderNumber,
					BatchNumber: batch.BatchNumber,
					Actor:       in.Actor,
				})
				if err != nil {
					return err
				}
				if _, err := tx.Stock().InsertMovement(ctx, movement); err != nil {
					return err
				}
			}
			if err := tx.Stock().UpsertStock(ctx, st); err != nil {
				return err
			}
		}

		po.HasBatch = true
		if err := tx.Orders().Update(ctx, po); err != nil {
			return err
		}
		created = batch
		return nil
	})
	if err != nil {
		return StockBatch{}, err
	}
	s.recordAudit(ctx, in.Actor, "batch:create", created.ID, map[string]any{"order": created.OrderID, "number": created.BatchNumber})
	return created, nil
}

// QualityItemInput assigns the four quality quantities for one product.
type QualityItemInput struct {
	ProductID           int64
	PassedQuantity      int64
	RefurbishedQuantity int64
	DamagedQuantity     int64
	ExpiredQuantity     int64
}

// QualityCheckInput describes a quality-check submission.
type QualityCheckInput struct {
	BatchID int64
	Items   []QualityItemInput
	Actor   shared.Actor
}

// CompleteQualityCheck classifies a batch's received goods. One-shot: the
// batch must still be PENDING and every quantity is validated before any
// counter moves.
func (s *Service) CompleteQualityCheck(ctx context.Context, in QualityCheckInput) (StockBatch, error) {
	if len(in.Items) == 0 {
		return StockBatch{}, fmt.Errorf("%w: quality check requires at least one item", shared.ErrQuantityMismatch)
	}
	var checked StockBatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, in.BatchID)
		if err != nil {
			return err
		}
		if batch.QualityStatus != QualityPending {
			return fmt.Errorf("%w: batch %s quality check already completed", shared.ErrPreconditionFailed, batch.BatchNumber)
		}

		// Validate everything up front; nothing is written on rejection.
		outcomes := make(map[int64]QualityItemInput, len(in.Items))
		for _, out := range in.Items {
			item := batch.ItemFor(out.ProductID)
			if item == nil {
				return fmt.Errorf("%w: product %d is not part of batch %s", shared.ErrNotFound, out.ProductID, batch.BatchNumber)
			}
			if out.PassedQuantity < 0 || out.RefurbishedQuantity < 0 || out.DamagedQuantity < 0 || out.ExpiredQuantity < 0 {
				return fmt.Errorf("%w: quality quantities must be >= 0", shared.ErrQuantityMismatch)
			}
			sum := out.PassedQuantity + out.RefurbishedQuantity + out.DamagedQuantity + out.ExpiredQuantity
			if sum > item.Quantity {
				return fmt.Errorf("%w: product %d classified %d of %d received", shared.ErrQuantityMismatch, out.ProductID, sum, item.Quantity)
			}
			outcomes[out.ProductID] = out
		}

		now := time.Now().UTC()
		for i := range batch.Items {
			item := &batch.Items[i]
			out, ok := outcomes[item.ProductID]
			if !ok {
				continue
			}
			item.PassedQuantity = out.PassedQuantity
			item.RefurbishedQuantity = out.RefurbishedQuantity
			item.DamagedQuantity = out.DamagedQuantity
			item.ExpiredQuantity = out.ExpiredQuantity

			if err := s.applyQualityOutcome(ctx, tx, batch, *item, in.Actor); err != nil {
				return err
			}
			if err := tx.UpdateItem(ctx, *item); err != nil {
				return err
			}
		}

		batch.QualityStatus = QualityCompleted
		batch.CheckedBy = in.Actor.UserID
		batch.CheckedAt = now
		batch.UpdatedAt = now
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return err
		}
		checked = batch
		return nil
	})
	if err != nil {
		return StockBatch{}, err
	}
	s.recordAudit(ctx, in.Actor, "batch:quality_check", checked.ID, map[string]any{"number": checked.BatchNumber})
	return checked, nil
}

// applyQualityOutcome books one item's classification into the ledger:
// damaged, refurbished and expired goods leave INCOMING; passed goods stay
// there as salable stock, lot-tracked when the product is perishable.
func (s *Service) applyQualityOutcome(ctx context.Context, tx TxRepository, batch StockBatch, item BatchItem, actor shared.Actor) error {
	st, err := tx.Stock().GetStockForUpdate(ctx, item.ProductID)
	if err != nil && !errors.Is(err, stock.ErrStockNotFound) {
		return err
	}
	st.ProductID = item.ProductID

	moves := []struct {
		movementType stock.MovementType
		to           stock.Location
		qty          int64
		reason       string
	}{
		{stock.MovementDamage, stock.LocationDamaged, item.DamagedQuantity, "quality check: damaged"},
		{stock.MovementTransfer, stock.LocationRefurbished, item.RefurbishedQuantity, "quality check: refurbished"},
		{stock.MovementExpire, stock.LocationExpired, item.ExpiredQuantity, "quality check: expired on arrival"},
	}
	for _, mv := range moves {
		if mv.qty == 0 {
			continue
		}
		movement, err := stock.ApplyMovement(&st, stock.MovementInput{
			Type:        mv.movementType,
			From:        stock.LocationIncoming,
			To:          mv.to,
			Quantity:    mv.qty,
			Reason:      mv.reason,
			Reference:   batch.BatchNumber,
			BatchNumber: batch.BatchNumber,
			Actor:       actor,
		})
		if err != nil {
			return err
		}
		if _, err := tx.Stock().InsertMovement(ctx, movement); err != nil {
			return err
		}
	}

	st.Processing.Salable += item.PassedQuantity + item.RefurbishedQuantity
	if err := tx.Stock().UpsertStock(ctx, st); err != nil {
		return err
	}

	if item.PassedQuantity > 0 {
		product, err := s.catalog.Get(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if product.IsPerishable {
			exists, err := tx.Stock().LotNumberExists(ctx, item.ProductID, batch.BatchNumber)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: lot %s already exists for product %d", shared.ErrDuplicate, batch.BatchNumber, item.ProductID)
			}
			_, err = tx.Stock().InsertLot(ctx, stock.Lot{
				ProductID:      item.ProductID,
				BatchNumber:    batch.BatchNumber,
				ExpirationDate: item.ExpiryDate,
				Quantity:       item.PassedQuantity,
				Location:       stock.LocationIncoming,
				Status:         stock.LotStatusActive,
				SupplierID:     batch.SupplierID,
				CreatedAt:      time.Now().UTC(),
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// PlanInput proposes a channel split for a quality-checked batch.
type PlanInput struct {
	BatchID int64
	Lines   []PlanLine
	Actor   shared.Actor
}

// ProposeDistribution records the online/offline split proposal and parks the
// batch awaiting director approval.
func (s *Service) ProposeDistribution(ctx context.Context, in PlanInput) (StockBatch, error) {
	if len(in.Lines) == 0 {
		return StockBatch{}, fmt.Errorf("%w: distribution plan requires at least one line", shared.ErrQuantityMismatch)
	}
	var proposed StockBatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, in.BatchID)
		if err != nil {
			return err
		}
		if batch.QualityStatus != QualityCompleted {
			return fmt.Errorf("%w: batch %s has no completed quality check", shared.ErrPreconditionFailed, batch.BatchNumber)
		}
		if batch.PlanStatus != PlanPending && batch.PlanStatus != PlanRejected {
			return fmt.Errorf("%w: batch %s distribution is %s", shared.ErrPreconditionFailed, batch.BatchNumber, batch.PlanStatus)
		}
		for _, line := range in.Lines {
			item := batch.ItemFor(line.ProductID)
			if item == nil {
				return fmt.Errorf("%w: product %d is not part of batch %s", shared.ErrNotFound, line.ProductID, batch.BatchNumber)
			}
			if line.OnlineQuantity < 0 || line.OfflineQuantity < 0 {
				return fmt.Errorf("%w: plan quantities must be >= 0", shared.ErrQuantityMismatch)
			}
			available := item.Distributable() - item.OnlineStock - item.OfflineStock
			if line.OnlineQuantity+line.OfflineQuantity > available {
				return fmt.Errorf("%w: product %d plan exceeds %d distributable", shared.ErrQuantityMismatch, line.ProductID, available)
			}
		}
		now := time.Now().UTC()
		batch.Plan = in.Lines
		batch.PlanStatus = PlanAwaitingApproval
		batch.ProposedBy = in.Actor.UserID
		batch.ProposedAt = now
		batch.UpdatedAt = now
		if err := tx.ReplacePlan(ctx, batch.ID, in.Lines); err != nil {
			return err
		}
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return err
		}
		proposed = batch
		return nil
	})
	if err != nil {
		return StockBatch{}, err
	}
	s.recordAudit(ctx, in.Actor, "batch:propose_distribution", proposed.ID, map[string]any{"number": proposed.BatchNumber})
	return proposed, nil
}

// ApproveDistribution commits the proposed split. Director-class only. The
// batch, ledger, product counters and purchase order close in one
// transaction; any failure leaves all of them unchanged.
func (s *Service) ApproveDistribution(ctx context.Context, batchID int64, actor shared.Actor, notes string) (StockBatch, error) {
	if !actor.IsDirectorClass() {
		return StockBatch{}, fmt.Errorf("%w: role %s may not approve distributions", shared.ErrPermissionDenied, actor.Role)
	}
	var approved StockBatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.PlanStatus != PlanAwaitingApproval {
			return fmt.Errorf("%w: batch %s distribution is %s, not awaiting approval", shared.ErrPreconditionFailed, batch.BatchNumber, batch.PlanStatus)
		}
		po, err := tx.Orders().GetForUpdate(ctx, batch.OrderID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, line := range batch.Plan {
			item := batch.ItemFor(line.ProductID)
			if item == nil {
				return fmt.Errorf("%w: product %d is not part of batch %s", shared.ErrNotFound, line.ProductID, batch.BatchNumber)
			}
			product, err := s.catalog.Get(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if err := s.commitSplit(ctx, tx, batch, item, line, product, actor); err != nil {
				return err
			}
			if err := tx.UpdateItem(ctx, *item); err != nil {
				return err
			}
		}

		batch.PlanStatus = PlanApproved
		batch.DecidedBy = actor.UserID
		batch.DecidedAt = now
		batch.DecisionNotes = notes
		batch.UpdatedAt = now
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return err
		}

		if err := s.policy.Transition(&po, purchase.StatusCompleted, actor, "distribution approved", now); err != nil {
			return err
		}
		if err := tx.Orders().Update(ctx, po); err != nil {
			return err
		}
		if err := tx.Orders().AppendHistory(ctx, po.History[len(po.History)-1]); err != nil {
			return err
		}
		approved = batch
		return nil
	})
	if err != nil {
		return StockBatch{}, err
	}
	s.recordAudit(ctx, actor, "batch:approve_distribution", approved.ID, map[string]any{"number": approved.BatchNumber})
	return approved, nil
}

// commitSplit books one plan line: goods move INCOMING first, then
// REFURBISHED, into their sales channel; lots split along the same cut.
func (s *Service) commitSplit(ctx context.Context, tx TxRepository, batch StockBatch, item *BatchItem, line PlanLine, product catalog.Product, actor shared.Actor) error {
	st, err := tx.Stock().GetStockForUpdate(ctx, item.ProductID)
	if err != nil {
		return err
	}

	remainingIncoming := item.PassedQuantity - item.OnlineStock - item.OfflineStock
	if remainingIncoming < 0 {
		remainingIncoming = 0
	}
	channels := []struct {
		to  stock.Location
		qty int64
	}{
		{stock.LocationOnline, line.OnlineQuantity},
		{stock.LocationOffline, line.OfflineQuantity},
	}
	for _, ch := range channels {
		if ch.qty == 0 {
			continue
		}
		fromIncoming := ch.qty
		if fromIncoming > remainingIncoming {
			fromIncoming = remainingIncoming
		}
		fromRefurbished := ch.qty - fromIncoming
		remainingIncoming -= fromIncoming

		for _, leg := range []struct {
			from stock.Location
			qty  int64
		}{{stock.LocationIncoming, fromIncoming}, {stock.LocationRefurbished, fromRefurbished}} {
			if leg.qty == 0 {
				continue
			}
			movement, err := stock.ApplyMovement(&st, stock.MovementInput{
				Type:        stock.MovementTransfer,
				From:        leg.from,
				To:          ch.to,
				Quantity:    leg.qty,
				Reason:      "distribution approved",
				Reference:   batch.BatchNumber,
				BatchNumber: batch.BatchNumber,
				Actor:       actor,
			})
			if err != nil {
				return err
			}
			if _, err := tx.Stock().InsertMovement(ctx, movement); err != nil {
				return err
			}
			if leg.from == stock.LocationIncoming && product.IsPerishable {
				if err := splitLots(ctx, tx.Stock(), item.ProductID, batch.BatchNumber, ch.to, leg.qty); err != nil {
					return err
				}
			}
		}
	}

	item.OnlineStock += line.OnlineQuantity
	item.OfflineStock += line.OfflineQuantity

	if err := tx.Stock().UpsertStock(ctx, st); err != nil {
		return err
	}
	if product.WarehouseManaged {
		if err := tx.Stock().SetProductStock(ctx, item.ProductID, st.Distribution.Online); err != nil {
			return err
		}
		if delta := line.OnlineQuantity + line.OfflineQuantity; delta > 0 {
			if err := tx.AddProductTotalStock(ctx, item.ProductID, delta); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitLots relocates quantity from the batch's INCOMING lots into a channel,
// splitting the last consumed lot when the cut lands inside it.
func splitLots(ctx context.Context, txs stock.TxRepository, productID int64, batchNumber string, to stock.Location, quantity int64) error {
	lots, err := txs.ListLotsForUpdate(ctx, productID)
	if err != nil {
		return err
	}
	remaining := quantity
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		if lot.BatchNumber != batchNumber || lot.Location != stock.LocationIncoming || lot.Status != stock.LotStatusActive {
			continue
		}
		take := lot.Quantity
		if take > remaining {
			take = remaining
		}
		if take < lot.Quantity {
			sibling := lot
			sibling.ID = 0
			sibling.Quantity = lot.Quantity - take
			if _, err := txs.InsertLot(ctx, sibling); err != nil {
				return err
			}
		}
		lot.Quantity = take
		lot.Location = to
		if err := txs.UpdateLot(ctx, lot); err != nil {
			return err
		}
		remaining -= take
	}
	if remaining > 0 {
		return fmt.Errorf("%w: lots cover %d of %d planned for product %d", shared.ErrInsufficientStock, quantity-remaining, quantity, productID)
	}
	return nil
}

// RejectDistribution declines the proposal. The ledger is untouched.
func (s *Service) RejectDistribution(ctx context.Context, batchID int64, actor shared.Actor, notes string) (StockBatch, error) {
	if !actor.IsDirectorClass() {
		return StockBatch{}, fmt.Errorf("%w: role %s may not reject distributions", shared.ErrPermissionDenied, actor.Role)
	}
	var rejected StockBatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.PlanStatus != PlanAwaitingApproval {
			return fmt.Errorf("%w: batch %s distribution is %s, not awaiting approval", shared.ErrPreconditionFailed, batch.BatchNumber, batch.PlanStatus)
		}
		now := time.Now().UTC()
		batch.PlanStatus = PlanRejected
		batch.DecidedBy = actor.UserID
		batch.DecidedAt = now
		batch.DecisionNotes = notes
		batch.UpdatedAt = now
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return err
		}
		rejected = batch
		return nil
	})
	if err != nil {
		return StockBatch{}, err
	}
	s.recordAudit(ctx, actor, "batch:reject_distribution", rejected.ID, map[string]any{"number": rejected.BatchNumber, "notes": notes})
	return rejected, nil
}

// ReactivateOrder reopens a COMPLETED order for a redo of the distribution.
// Director/IT only, reason mandatory. Ledger effects of the prior approval
// stay booked; corrections go through explicit movements.
func (s *Service) ReactivateOrder(ctx context.Context, orderID int64, actor shared.Actor, reason string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := purchase.Reactivate(&po, actor, reason, time.Now().UTC()); err != nil {
			return err
		}
		if err := tx.Orders().Update(ctx, po); err != nil {
			return err
		}
		if err := tx.Orders().AppendHistory(ctx, po.History[len(po.History)-1]); err != nil {
			return err
		}
		batch, err := s.repo.GetBatchByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		locked, err := tx.GetBatchForUpdate(ctx, batch.ID)
		if err != nil {
			return err
		}
		locked.PlanStatus = PlanPending
		locked.UpdatedAt = time.Now().UTC()
		return tx.UpdateBatch(ctx, locked)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "order:reactivate", orderID, map[string]any{"reason": reason})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Role:     actor.Role,
		Action:   action,
		Entity:   "stock_batch",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
