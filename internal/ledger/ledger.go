// Package ledger builds append-only points ledger entries.
//
// History is never edited. A reversal is a new entry with the opposite sign.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/billix-app/swaprules/internal/domain"
)

// expectedSign constrains the delta direction of system reasons; zero means
// either sign is accepted.
var expectedSign = map[domain.PointsReason]int{
	domain.PointsSwapCompleted:   1,
	domain.PointsReferral:        1,
	domain.PointsFeeWaiver:       -1,
	domain.PointsRedemption:      -1,
	domain.PointsDisputePenalty:  -1,
	domain.PointsNoShowPenalty:   -1,
	domain.PointsAdminAdjustment: 0,
}

// NewEntry validates and stamps an entry.
func NewEntry(userID string, delta int64, reason domain.PointsReason, swapID, note string, now time.Time) (*domain.LedgerEntry, error) {
	if userID == "" {
		return nil, domain.Invalid("userId is required")
	}
	if !reason.Valid() {
		return nil, domain.Invalid("unknown points reason %q", reason)
	}
	if delta == 0 {
		return nil, domain.Invalid("delta must be non-zero")
	}
	switch sign := expectedSign[reason]; {
	case sign > 0 && delta < 0, sign < 0 && delta > 0:
		return nil, domain.Invalid("%s entries must have a %s delta", reason, signName(sign))
	}

	return &domain.LedgerEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Delta:     delta,
		Reason:    reason,
		SwapID:    swapID,
		Note:      note,
		CreatedAt: now,
	}, nil
}

func signName(sign int) string {
	if sign > 0 {
		return "positive"
	}
	return "negative"
}

// Balance sums the deltas of entries.
func Balance(entries []*domain.LedgerEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Delta
	}
	return total
}

// Reverse returns an offsetting entry for e.
func Reverse(e *domain.LedgerEntry, note string, now time.Time) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:        uuid.New().String(),
		UserID:    e.UserID,
		Delta:     -e.Delta,
		Reason:    domain.PointsAdminAdjustment,
		SwapID:    e.SwapID,
		Note:      fmt.Sprintf("reversal of %s: %s", e.ID, note),
		CreatedAt: now,
	}
}

// Post appends an entry to profile's running balance and queues both the
// profile and the entry on cs. A debit that would take the balance negative
// fails with ErrInsufficientPoints unless allowNegative is set (penalties).
func Post(cs *domain.ChangeSet, profile *domain.TrustProfile, e *domain.LedgerEntry, allowNegative bool) error {
	if e.UserID != profile.UserID {
		return domain.Invalid("entry user %s does not match profile %s", e.UserID, profile.UserID)
	}
	if e.Delta < 0 && !allowNegative && profile.Points+e.Delta < 0 {
		return fmt.Errorf("%w: balance %d, need %d", domain.ErrInsufficientPoints, profile.Points, -e.Delta)
	}

	profile.Points += e.Delta
	profile.UpdatedAt = e.CreatedAt
	cs.AddProfile(profile)
	cs.Ledger = append(cs.Ledger, e)
	return nil
}
