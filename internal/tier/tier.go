// Package tier derives trust tiers and their limits from a user's history.
package tier

import (
	"github.com/billix-app/swaprules/internal/domain"
)

// MinBillCents is the smallest bill any tier may swap ($20).
const MinBillCents int64 = 2000

// Requirements are the thresholds and limits of one tier.
type Requirements struct {
	Tier               domain.Tier `json:"tier"`
	MinPoints          int64       `json:"minPoints"`
	MinCompletedSwaps  int         `json:"minCompletedSwaps"`
	MinSuccessRate     int         `json:"minSuccessRate"` // percent
	RequiresIDVerified bool        `json:"requiresIdVerified"`
	MinBillCents       int64       `json:"minBillCents"`
	MaxBillCents       int64       `json:"maxBillCents"`
	MaxActiveSwaps     int         `json:"maxActiveSwaps"`
	CanRequestOneSided bool        `json:"canRequestOneSided"`
}

// table is ordered highest tier first; evaluation depends on that order.
var table = []Requirements{
	{
		Tier: domain.TierElite, MinPoints: 900, MinCompletedSwaps: 50, MinSuccessRate: 98,
		RequiresIDVerified: true, MinBillCents: MinBillCents, MaxBillCents: 100000,
		MaxActiveSwaps: 10, CanRequestOneSided: true,
	},
	{
		Tier: domain.TierVeteran, MinPoints: 600, MinCompletedSwaps: 25, MinSuccessRate: 95,
		RequiresIDVerified: true, MinBillCents: MinBillCents, MaxBillCents: 50000,
		MaxActiveSwaps: 5, CanRequestOneSided: true,
	},
	{
		Tier: domain.TierTrusted, MinPoints: 300, MinCompletedSwaps: 10, MinSuccessRate: 90,
		RequiresIDVerified: true, MinBillCents: MinBillCents, MaxBillCents: 25000,
		MaxActiveSwaps: 3, CanRequestOneSided: true,
	},
	{
		Tier: domain.TierEstablished, MinPoints: 100, MinCompletedSwaps: 3, MinSuccessRate: 80,
		MinBillCents: MinBillCents, MaxBillCents: 10000, MaxActiveSwaps: 2,
	},
	{
		Tier: domain.TierStarter, MinBillCents: MinBillCents, MaxBillCents: 5000, MaxActiveSwaps: 1,
	},
}

// All returns the tier table, highest first.
func All() []Requirements {
	out := make([]Requirements, len(table))
	copy(out, table)
	return out
}

// For returns the requirements of t; unknown tiers get the starter limits.
func For(t domain.Tier) Requirements {
	for _, r := range table {
		if r.Tier == t {
			return r
		}
	}
	return table[len(table)-1]
}

// qualifies reports whether every requirement of r is met.
func (r Requirements) qualifies(points int64, completed, successRate int, idVerified bool) bool {
	return points >= r.MinPoints &&
		completed >= r.MinCompletedSwaps &&
		successRate >= r.MinSuccessRate &&
		(!r.RequiresIDVerified || idVerified)
}

// TierFor returns the highest tier whose every requirement is satisfied,
// falling through to T1_STARTER.
func TierFor(points int64, completedSwaps, successRate int, idVerified bool) domain.Tier {
	for _, r := range table {
		if r.qualifies(points, completedSwaps, successRate, idVerified) {
			return r.Tier
		}
	}
	return domain.TierStarter
}

// SuccessRate returns the integer percent of finished swaps that completed.
// A user with no finished swaps has a perfect rate.
func SuccessRate(completed, failed int) int {
	total := completed + failed
	if total == 0 {
		return 100
	}
	return completed * 100 / total
}

// Evaluate recomputes the tier of a profile from its counters.
func Evaluate(p *domain.TrustProfile) domain.Tier {
	return TierFor(p.TrustPoints(), p.CompletedSwaps, SuccessRate(p.CompletedSwaps, p.FailedSwaps), p.IDVerified)
}

// Refresh sets p.Tier from its counters and returns it.
func Refresh(p *domain.TrustProfile) domain.Tier {
	p.Tier = Evaluate(p)
	return p.Tier
}

// CanSwapAmount reports whether amountCents is within the tier's bill range.
func CanSwapAmount(t domain.Tier, amountCents int64) bool {
	r := For(t)
	return amountCents >= r.MinBillCents && amountCents <= r.MaxBillCents
}

// CanStartSwap reports whether a user with activeSwaps open swaps may start another.
func CanStartSwap(t domain.Tier, activeSwaps int) bool {
	return activeSwaps < For(t).MaxActiveSwaps
}

// CanRequestOneSided reports whether the tier may request a one-sided assist.
func CanRequestOneSided(t domain.Tier) bool {
	return For(t).CanRequestOneSided
}

// Snapshot builds the cacheable derived view of a profile.
func Snapshot(p *domain.TrustProfile, activeSwaps int) *domain.TrustSnapshot {
	return &domain.TrustSnapshot{
		UserID:         p.UserID,
		Tier:           Evaluate(p),
		Points:         p.Points,
		CompletedSwaps: p.CompletedSwaps,
		SuccessRate:    SuccessRate(p.CompletedSwaps, p.FailedSwaps),
		IDVerified:     p.IDVerified,
		ActiveSwaps:    activeSwaps,
	}
}
