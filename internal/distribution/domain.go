package distribution

import "time"

// QualityStatus tracks the one-shot quality check.
type QualityStatus string

const (
	QualityPending   QualityStatus = "PENDING"
	QualityCompleted QualityStatus = "COMPLETED"
)

// PlanStatus tracks the distribution proposal workflow.
type PlanStatus string

const (
	PlanPending          PlanStatus = "PENDING"
	PlanAwaitingApproval PlanStatus = "AWAITING_APPROVAL"
	PlanApproved         PlanStatus = "APPROVED"
	PlanRejected         PlanStatus = "REJECTED"
)

// BatchItem is one product within a delivered batch. The four quality
// quantities never sum past the received quantity; online/offline stock is
// filled in when the distribution plan is approved.
type BatchItem struct {
	ID         int64
	BatchID    int64
	ProductID  int64
	Quantity   int64
	ExpiryDate time.Time

	PassedQuantity      int64
	RefurbishedQuantity int64
	DamagedQuantity     int64
	ExpiredQuantity     int64

	OnlineStock  int64
	OfflineStock int64
}

// Distributable is what the plan may allocate for the item.
func (i BatchItem) Distributable() int64 {
	return i.PassedQuantity + i.RefurbishedQuantity
}

// PlanLine is one proposed channel split.
type PlanLine struct {
	ProductID       int64
	OnlineQuantity  int64
	OfflineQuantity int64
}

// StockBatch is the goods-receipt aggregate created once per delivered
// purchase order (1:1, enforced by the order's hasBatch flag).
type StockBatch struct {
	ID          int64
	OrderID     int64
	BatchNumber string
	SupplierID  int64

	QualityStatus QualityStatus
	PlanStatus    PlanStatus
	Items         []BatchItem
	Plan          []PlanLine

	CheckedBy     int64
	CheckedAt     time.Time
	ProposedBy    int64
	ProposedAt    time.Time
	DecidedBy     int64
	DecidedAt     time.Time
	DecisionNotes string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemFor returns the batch item for a product, nil when absent.
func (b *StockBatch) ItemFor(productID int64) *BatchItem {
	for i := range b.Items {
		if b.Items[i].ProductID == productID {
			return &b.Items[i]
		}
	}
	return nil
}
