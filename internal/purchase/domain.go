package purchase

import (
	"time"

	"github.com/beanline/beanline/internal/shared"
)

// Status enumerates purchase order lifecycle states.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusDelivered Status = "DELIVERED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Item is one purchased product line. Total is always quantity times unit
// price; it is recomputed on every edit, never trusted from input.
type Item struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int64
	UnitPrice float64
	Currency  string
	Total     float64
}

// Logistics carries the freight cost breakdown for the import. TotalCost is
// the sum of the three cost fields, recomputed on every edit.
type Logistics struct {
	TransportMode string
	FreightCost   float64
	ClearanceCost float64
	OtherCost     float64
	TotalCost     float64
}

// StatusChange is one append-only status history entry.
type StatusChange struct {
	ID       int64
	OrderID  int64
	Previous Status
	New      Status
	ActorID  int64
	Role     shared.Role
	At       time.Time
	Notes    string
}

// PurchaseOrder is the aggregate governing a supplier order from draft to the
// warehouse handover.
type PurchaseOrder struct {
	ID          int64
	OrderNumber string
	BatchNumber string
	SupplierID  int64
	Status      Status
	Items       []Item
	Logistics   Logistics
	Tax         float64
	Shipping    float64
	Discount    float64
	Subtotal    float64
	TotalAmount float64
	GrandTotal  float64
	HasBatch    bool

	CreatedBy          int64
	ApprovedBy         int64
	ApprovedAt         time.Time
	DeliveredAt        time.Time
	CompletedAt        time.Time
	CancelledBy        int64
	CancelledAt        time.Time
	CancellationReason string

	History   []StatusChange
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalQuantity sums item quantities.
func (po *PurchaseOrder) TotalQuantity() int64 {
	var total int64
	for _, item := range po.Items {
		total += item.Quantity
	}
	return total
}

// Recalculate derives every financial rollup from items and logistics. The
// three rollup fields must never drift from their sources.
func (po *PurchaseOrder) Recalculate() {
	var subtotal float64
	for i := range po.Items {
		po.Items[i].Total = float64(po.Items[i].Quantity) * po.Items[i].UnitPrice
		subtotal += po.Items[i].Total
	}
	po.Logistics.TotalCost = po.Logistics.FreightCost + po.Logistics.ClearanceCost + po.Logistics.OtherCost
	po.Subtotal = subtotal
	po.TotalAmount = subtotal + po.Tax + po.Shipping - po.Discount
	po.GrandTotal = po.TotalAmount + po.Logistics.TotalCost
}

// UnitEconomics is the stable read surface the pricing engine consumes.
type UnitEconomics struct {
	ProductID            int64
	Quantity             int64
	UnitCost             float64
	Currency             string
	LogisticsCostPerUnit float64
}
