package stock

import "sort"

// Pick is one lot consumed by a FIFO recommendation.
type Pick struct {
	Lot      Lot
	Quantity int64
}

// Recommendation is the result of a FIFO allocation over a lot snapshot.
type Recommendation struct {
	Picks     []Pick
	Requested int64
	Fulfilled int64
	Shortfall int64
}

// Recommend selects active sellable lots earliest-expiring-first until the
// requested quantity is satisfied or the lots are exhausted. Pure and
// deterministic: equal expiration dates keep their input order.
func Recommend(lots []Lot, requested int64) Recommendation {
	rec := Recommendation{Requested: requested}
	if requested <= 0 {
		return rec
	}
	eligible := make([]Lot, 0, len(lots))
	for _, lot := range lots {
		if lot.Status != LotStatusActive {
			continue
		}
		if lot.Location != LocationOnline && lot.Location != LocationOffline {
			continue
		}
		if lot.Quantity <= 0 {
			continue
		}
		eligible = append(eligible, lot)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].ExpirationDate.Before(eligible[j].ExpirationDate)
	})

	remaining := requested
	for _, lot := range eligible {
		if remaining == 0 {
			break
		}
		take := lot.Quantity
		if take > remaining {
			take = remaining
		}
		rec.Picks = append(rec.Picks, Pick{Lot: lot, Quantity: take})
		remaining -= take
	}
	rec.Fulfilled = requested - remaining
	rec.Shortfall = remaining
	return rec
}
