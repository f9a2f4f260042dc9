package stock

import (
	"time"

	"github.com/beanline/beanline/internal/shared"
)

// Location names a physical or logical bucket stock can sit in.
type Location string

const (
	LocationIncoming    Location = "INCOMING"
	LocationOnline      Location = "ONLINE"
	LocationOffline     Location = "OFFLINE"
	LocationDamaged     Location = "DAMAGED"
	LocationRefurbished Location = "REFURBISHED"
	LocationExpired     Location = "EXPIRED"
)

// Locations lists every bucket in a fixed order.
var Locations = []Location{
	LocationIncoming,
	LocationOnline,
	LocationOffline,
	LocationDamaged,
	LocationRefurbished,
	LocationExpired,
}

// MovementType enumerates supported ledger movements.
type MovementType string

const (
	// MovementIn represents a plain inbound movement.
	MovementIn MovementType = "IN"
	// MovementBatchIn records goods arriving from a delivered purchase order.
	MovementBatchIn MovementType = "BATCH_IN"
	// MovementOut removes goods from a location (sale, withdrawal, disposal).
	MovementOut MovementType = "OUT"
	// MovementTransfer moves goods between two locations.
	MovementTransfer MovementType = "TRANSFER"
	// MovementDamage reroutes goods from a location into DAMAGED.
	MovementDamage MovementType = "DAMAGE"
	// MovementExpire reroutes goods from a location into EXPIRED.
	MovementExpire MovementType = "EXPIRE"
)

// LotStatus tracks a lot through its shelf life. NEAR_EXPIRY is a query-time
// label derived from the warning window, never persisted.
type LotStatus string

const (
	LotStatusActive     LotStatus = "ACTIVE"
	LotStatusNearExpiry LotStatus = "NEAR_EXPIRY"
	LotStatusExpired    LotStatus = "EXPIRED"
)

// IncomingCounters track expected versus arrived quantity.
type IncomingCounters struct {
	Expected int64
	Arrived  int64
}

// ProcessingCounters track quality-check outcomes.
type ProcessingCounters struct {
	Received    int64
	Damaged     int64
	Refurbished int64
	Salable     int64
}

// DistributionCounters track the committed channel split.
type DistributionCounters struct {
	Online  int64
	Offline int64
}

// ExpirationCounters track expired and near-expiry totals.
type ExpirationCounters struct {
	TotalExpired int64
	NearExpiry   int64
}

// Stock is the per-product quantity ledger. One record per product, created
// lazily on the first movement or lot.
type Stock struct {
	ProductID    int64
	Incoming     IncomingCounters
	Processing   ProcessingCounters
	Distribution DistributionCounters
	Expiration   ExpirationCounters
	Version      int64
	UpdatedAt    time.Time
}

// Movement is one append-only ledger entry. Movements are never mutated or
// deleted after the fact.
type Movement struct {
	ID          int64
	ProductID   int64
	Type        MovementType
	From        Location
	To          Location
	Quantity    int64
	Reason      string
	Reference   string
	BatchNumber string
	PerformedBy int64
	At          time.Time
}

// Lot is a lot-tracked quantity sharing a manufacture/expiration date.
// Split siblings share BatchNumber lineage but keep distinct ids.
type Lot struct {
	ID              int64
	ProductID       int64
	BatchNumber     string
	ManufactureDate time.Time
	ExpirationDate  time.Time
	Quantity        int64
	Location        Location
	Status          LotStatus
	SupplierID      int64
	OrderNumber     string
	CreatedAt       time.Time
}

// DaysUntilExpiry returns whole days until the lot expires, negative when overdue.
func (l Lot) DaysUntilExpiry(now time.Time) int {
	return int(l.ExpirationDate.Sub(now).Hours() / 24)
}

// EffectiveStatus applies the near-expiry window to an ACTIVE lot.
func (l Lot) EffectiveStatus(now time.Time, window time.Duration) LotStatus {
	if l.Status != LotStatusActive {
		return l.Status
	}
	if !l.ExpirationDate.After(now) {
		return LotStatusExpired
	}
	if l.ExpirationDate.Sub(now) <= window {
		return LotStatusNearExpiry
	}
	return LotStatusActive
}

// MovementInput describes one requested ledger mutation.
type MovementInput struct {
	Type        MovementType
	From        Location
	To          Location
	Quantity    int64
	Reason      string
	Reference   string
	BatchNumber string
	Actor       shared.Actor
}
