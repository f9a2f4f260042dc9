package stock

import (
	"fmt"
	"time"

	"github.com/beanline/beanline/internal/shared"
)

// AvailableByLocation maps a location to its ledger counter.
func AvailableByLocation(s *Stock, loc Location) int64 {
	switch loc {
	case LocationIncoming:
		return s.Incoming.Arrived
	case LocationOnline:
		return s.Distribution.Online
	case LocationOffline:
		return s.Distribution.Offline
	case LocationDamaged:
		return s.Processing.Damaged
	case LocationRefurbished:
		return s.Processing.Refurbished
	case LocationExpired:
		return s.Expiration.TotalExpired
	}
	return 0
}

// TotalOnHand sums every location counter.
func TotalOnHand(s *Stock) int64 {
	var total int64
	for _, loc := range Locations {
		total += AvailableByLocation(s, loc)
	}
	return total
}

// Salable sums the locations goods can still be sold or shipped from.
func Salable(s *Stock) int64 {
	return s.Incoming.Arrived + s.Distribution.Online + s.Distribution.Offline + s.Processing.Refurbished
}

// ApplyMovement mutates the ledger counters for one movement and returns the
// appended movement record. The mutation is all-or-nothing: any validation
// failure leaves the counters untouched. Callers persist the stock and the
// movement in the same transaction.
func ApplyMovement(s *Stock, in MovementInput) (Movement, error) {
	if in.Quantity <= 0 {
		return Movement{}, fmt.Errorf("%w: movement quantity must be positive", shared.ErrQuantityMismatch)
	}
	switch in.Type {
	case MovementIn, MovementBatchIn:
		if in.To == "" {
			in.To = LocationIncoming
		}
	case MovementOut:
		if in.From == "" {
			return Movement{}, fmt.Errorf("%w: OUT movement requires a source location", shared.ErrQuantityMismatch)
		}
	case MovementDamage:
		in.To = LocationDamaged
	case MovementExpire:
		in.To = LocationExpired
	case MovementTransfer:
		if in.From == "" || in.To == "" || in.From == in.To {
			return Movement{}, fmt.Errorf("%w: transfer requires distinct source and destination", shared.ErrQuantityMismatch)
		}
	default:
		return Movement{}, fmt.Errorf("%w: unknown movement type %q", shared.ErrQuantityMismatch, in.Type)
	}

	if in.From != "" {
		if avail := AvailableByLocation(s, in.From); avail < in.Quantity {
			return Movement{}, fmt.Errorf("%w: %d requested, %d available at %s", shared.ErrInsufficientStock, in.Quantity, avail, in.From)
		}
	}
	if (in.Type == MovementDamage || in.Type == MovementExpire) && in.From == "" {
		return Movement{}, fmt.Errorf("%w: %s movement requires a source location", shared.ErrQuantityMismatch, in.Type)
	}

	if in.From != "" {
		addToLocation(s, in.From, -in.Quantity)
	}
	if in.To != "" {
		addToLocation(s, in.To, in.Quantity)
	}
	if in.Type == MovementBatchIn {
		s.Processing.Received += in.Quantity
	}
	clampCounters(s)
	s.UpdatedAt = time.Now().UTC()

	return Movement{
		ProductID:   s.ProductID,
		Type:        in.Type,
		From:        in.From,
		To:          in.To,
		Quantity:    in.Quantity,
		Reason:      in.Reason,
		Reference:   in.Reference,
		BatchNumber: in.BatchNumber,
		PerformedBy: in.Actor.UserID,
		At:          s.UpdatedAt,
	}, nil
}

func addToLocation(s *Stock, loc Location, delta int64) {
	switch loc {
	case LocationIncoming:
		s.Incoming.Arrived += delta
	case LocationOnline:
		s.Distribution.Online += delta
	case LocationOffline:
		s.Distribution.Offline += delta
	case LocationDamaged:
		s.Processing.Damaged += delta
	case LocationRefurbished:
		s.Processing.Refurbished += delta
	case LocationExpired:
		s.Expiration.TotalExpired += delta
	}
}

// clampCounters keeps every counter non-negative. Validation should prevent
// underflow before this point; the clamp is the ledger's last invariant.
func clampCounters(s *Stock) {
	clamp(&s.Incoming.Expected)
	clamp(&s.Incoming.Arrived)
	clamp(&s.Processing.Received)
	clamp(&s.Processing.Damaged)
	clamp(&s.Processing.Refurbished)
	clamp(&s.Processing.Salable)
	clamp(&s.Distribution.Online)
	clamp(&s.Distribution.Offline)
	clamp(&s.Expiration.TotalExpired)
	clamp(&s.Expiration.NearExpiry)
}

func clamp(v *int64) {
	if *v < 0 {
		*v = 0
	}
}

// SyncFromLots recomputes the derived processing and expiration counters from
// the product's lot set. Called after quality checks and approvals so the
// ledger never drifts from lot-level truth.
func SyncFromLots(s *Stock, lots []Lot, now time.Time, window time.Duration) {
	var salable, nearExpiry, expired int64
	for _, lot := range lots {
		switch lot.EffectiveStatus(now, window) {
		case LotStatusExpired:
			expired += lot.Quantity
		case LotStatusNearExpiry:
			nearExpiry += lot.Quantity
			salable += lot.Quantity
		default:
			salable += lot.Quantity
		}
	}
	s.Processing.Salable = salable
	s.Expiration.NearExpiry = nearExpiry
	if expired > s.Expiration.TotalExpired {
		s.Expiration.TotalExpired = expired
	}
	clampCounters(s)
	s.UpdatedAt = now.UTC()
}
