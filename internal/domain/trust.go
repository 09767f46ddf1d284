package domain

import "time"

// Tier is a user's trust level.
type Tier string

const (
	TierStarter     Tier = "T1_STARTER"
	TierEstablished Tier = "T2_ESTABLISHED"
	TierTrusted     Tier = "T3_TRUSTED"
	TierVeteran     Tier = "T4_VETERAN"
	TierElite       Tier = "T5_ELITE"
)

// Rank returns 1..5 for known tiers, 0 otherwise.
func (t Tier) Rank() int {
	switch t {
	case TierStarter:
		return 1
	case TierEstablished:
		return 2
	case TierTrusted:
		return 3
	case TierVeteran:
		return 4
	case TierElite:
		return 5
	}
	return 0
}

// MaxTrustPoints caps the points counted toward a tier.
const MaxTrustPoints = 1000

// TrustProfile aggregates a user's swap history.
// Tier is derived from the counters and is recomputed on every read;
// the stored value is a cache only.
type TrustProfile struct {
	UserID         string    `json:"userId"`
	Points         int64     `json:"points"`
	Tier           Tier      `json:"tier"`
	CompletedSwaps int       `json:"completedSwaps"`
	FailedSwaps    int       `json:"failedSwaps"`
	DisputedSwaps  int       `json:"disputedSwaps"`
	DisputesLost   int       `json:"disputesLost"`
	NoShows        int       `json:"noShows"`
	IDVerified     bool      `json:"idVerified"`
	PhoneVerified  bool      `json:"phoneVerified"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Version        int64     `json:"version"`
}

// TrustPoints returns the ledger-derived points clamped to the 0..1000 scale.
func (p *TrustProfile) TrustPoints() int64 {
	switch {
	case p.Points < 0:
		return 0
	case p.Points > MaxTrustPoints:
		return MaxTrustPoints
	}
	return p.Points
}

// Clone returns a copy safe to mutate.
func (p *TrustProfile) Clone() *TrustProfile {
	c := *p
	return &c
}

// NewTrustProfile returns the profile of a user with no history.
func NewTrustProfile(userID string, now time.Time) *TrustProfile {
	return &TrustProfile{
		UserID:    userID,
		Tier:      TierStarter,
		UpdatedAt: now,
	}
}
