package domain

import "time"

// PointsReason explains a ledger delta.
type PointsReason string

const (
	PointsSwapCompleted   PointsReason = "SWAP_COMPLETED"
	PointsFeeWaiver       PointsReason = "FEE_WAIVER"
	PointsReferral        PointsReason = "REFERRAL"
	PointsAdminAdjustment PointsReason = "ADMIN_ADJUSTMENT"
	PointsRedemption      PointsReason = "REDEMPTION"
	PointsDisputePenalty  PointsReason = "DISPUTE_PENALTY"
	PointsNoShowPenalty   PointsReason = "NO_SHOW_PENALTY"
)

// Valid reports whether r is a known reason.
func (r PointsReason) Valid() bool {
	switch r {
	case PointsSwapCompleted, PointsFeeWaiver, PointsReferral, PointsAdminAdjustment,
		PointsRedemption, PointsDisputePenalty, PointsNoShowPenalty:
		return true
	}
	return false
}

// LedgerEntry is an immutable point delta. Reversals are new offsetting entries.
type LedgerEntry struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	Delta     int64        `json:"delta"`
	Reason    PointsReason `json:"reason"`
	SwapID    string       `json:"swapId,omitempty"`
	Note      string       `json:"note,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}
