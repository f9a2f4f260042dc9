package stock

import (
	"sort"
	"time"
)

// ExpiredLot is a lot past its expiration date that is not yet flagged EXPIRED.
type ExpiredLot struct {
	Lot         Lot
	DaysOverdue int
}

// ExpiringLot is a lot inside the warning window.
type ExpiringLot struct {
	Lot      Lot
	DaysLeft int
}

// ExpirationReport partitions a lot snapshot for alerting.
type ExpirationReport struct {
	GeneratedAt  time.Time
	WindowDays   int
	Expired      []ExpiredLot
	ExpiringSoon []ExpiringLot
}

// UnitsAtRisk totals the quantity sitting in expired or expiring lots.
func (r ExpirationReport) UnitsAtRisk() int64 {
	var total int64
	for _, e := range r.Expired {
		total += e.Lot.Quantity
	}
	for _, e := range r.ExpiringSoon {
		total += e.Lot.Quantity
	}
	return total
}

// BuildExpirationReport partitions lots into expired (most overdue first) and
// expiring-soon (closest expiry first) sets. Pure; safe on any snapshot.
func BuildExpirationReport(lots []Lot, now time.Time, window time.Duration) ExpirationReport {
	report := ExpirationReport{
		GeneratedAt: now.UTC(),
		WindowDays:  int(window.Hours() / 24),
	}
	for _, lot := range lots {
		if lot.Quantity <= 0 {
			continue
		}
		switch {
		case !lot.ExpirationDate.After(now):
			if lot.Status == LotStatusExpired {
				continue
			}
			report.Expired = append(report.Expired, ExpiredLot{
				Lot:         lot,
				DaysOverdue: -lot.DaysUntilExpiry(now),
			})
		case !lot.ExpirationDate.After(now.Add(window)):
			report.ExpiringSoon = append(report.ExpiringSoon, ExpiringLot{
				Lot:      lot,
				DaysLeft: lot.DaysUntilExpiry(now),
			})
		}
	}
	sort.SliceStable(report.Expired, func(i, j int) bool {
		return report.Expired[i].DaysOverdue > report.Expired[j].DaysOverdue
	})
	sort.SliceStable(report.ExpiringSoon, func(i, j int) bool {
		return report.ExpiringSoon[i].DaysLeft < report.ExpiringSoon[j].DaysLeft
	})
	return report
}
