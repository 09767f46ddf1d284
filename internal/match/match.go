// Package match scores how well two bills pair up for a swap.
package match

import (
	"sort"
	"time"

	"github.com/billix-app/swaprules/internal/domain"
)

// Reason is a satisfied match criterion.
type Reason string

const (
	ReasonExactAmount          Reason = "EXACT_AMOUNT"
	ReasonSimilarAmount        Reason = "SIMILAR_AMOUNT"
	ReasonComplementaryDueDate Reason = "COMPLEMENTARY_DUE_DATE"
	ReasonCategoryMatch        Reason = "CATEGORY_MATCH"
	ReasonHighTrustPartner     Reason = "HIGH_TRUST_PARTNER"
	ReasonSameTier             Reason = "SAME_TIER"
	ReasonUrgentBill           Reason = "URGENT_BILL"
	ReasonReliablePartner      Reason = "RELIABLE_PARTNER"
)

// Points awarded per reason.
var contributions = map[Reason]int{
	ReasonExactAmount:          25,
	ReasonSimilarAmount:        15,
	ReasonComplementaryDueDate: 15,
	ReasonCategoryMatch:        10,
	ReasonHighTrustPartner:     15,
	ReasonSameTier:             5,
	ReasonUrgentBill:           5,
	ReasonReliablePartner:      10,
}

// Contribution returns the points a reason adds to the score.
func Contribution(r Reason) int {
	return contributions[r]
}

const (
	// similarAmountDivisor: amounts within 10% of the larger are similar.
	similarAmountDivisor = 10

	complementaryDueWindow = 7 * 24 * time.Hour
	urgentWindow           = 3 * 24 * time.Hour

	reliableMinCompleted   = 5
	reliableMinSuccessRate = 95
)

// Quality is the display band of a score.
type Quality string

const (
	QualityExcellent Quality = "EXCELLENT"
	QualityGood      Quality = "GOOD"
	QualityFair      Quality = "FAIR"
	QualityPoor      Quality = "POOR"
)

// QualityOf bands a score; bands are left-inclusive.
func QualityOf(score int) Quality {
	switch {
	case score >= 80:
		return QualityExcellent
	case score >= 60:
		return QualityGood
	case score >= 40:
		return QualityFair
	}
	return QualityPoor
}

// Input is everything the scorer looks at.
type Input struct {
	Bill      *domain.Bill
	Candidate *domain.Bill
	UserTier  domain.Tier
	Partner   *domain.TrustSnapshot
	Now       time.Time
}

// Result is the outcome of scoring one candidate.
type Result struct {
	BillID    string   `json:"billId"`
	PartnerID string   `json:"partnerId"`
	Score     int      `json:"score"`
	Quality   Quality  `json:"quality"`
	Reasons   []Reason `json:"reasons"`
}

// Score sums the contribution of every satisfied reason. The total is the raw
// sum and may exceed 100.
func Score(in Input) Result {
	var reasons []Reason
	a, b := in.Bill, in.Candidate

	switch {
	case a.AmountCents == b.AmountCents:
		reasons = append(reasons, ReasonExactAmount)
	case similarAmount(a.AmountCents, b.AmountCents):
		reasons = append(reasons, ReasonSimilarAmount)
	}

	if absDuration(a.DueDate.Sub(b.DueDate)) <= complementaryDueWindow {
		reasons = append(reasons, ReasonComplementaryDueDate)
	}
	if a.Category != "" && a.Category == b.Category {
		reasons = append(reasons, ReasonCategoryMatch)
	}

	if p := in.Partner; p != nil {
		if p.Tier.Rank() >= domain.TierTrusted.Rank() {
			reasons = append(reasons, ReasonHighTrustPartner)
		}
		if in.UserTier != "" && p.Tier == in.UserTier {
			reasons = append(reasons, ReasonSameTier)
		}
	}

	if !in.Now.IsZero() && b.DueDate.Sub(in.Now) <= urgentWindow {
		reasons = append(reasons, ReasonUrgentBill)
	}

	if p := in.Partner; p != nil && p.CompletedSwaps >= reliableMinCompleted && p.SuccessRate >= reliableMinSuccessRate {
		reasons = append(reasons, ReasonReliablePartner)
	}

	total := 0
	for _, r := range reasons {
		total += contributions[r]
	}

	return Result{
		BillID:    b.ID,
		PartnerID: b.OwnerID,
		Score:     total,
		Quality:   QualityOf(total),
		Reasons:   reasons,
	}
}

// Rank scores every candidate and returns them best first. Ties keep the
// earlier due date first.
func Rank(bill *domain.Bill, userTier domain.Tier, candidates []*domain.Bill, partners map[string]*domain.TrustSnapshot, now time.Time) []Result {
	type scored struct {
		res Result
		due time.Time
	}
	all := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == bill.ID || c.OwnerID == bill.OwnerID {
			continue
		}
		all = append(all, scored{
			res: Score(Input{Bill: bill, Candidate: c, UserTier: userTier, Partner: partners[c.OwnerID], Now: now}),
			due: c.DueDate,
		})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].res.Score != all[j].res.Score {
			return all[i].res.Score > all[j].res.Score
		}
		return all[i].due.Before(all[j].due)
	})

	out := make([]Result, len(all))
	for i, s := range all {
		out[i] = s.res
	}
	return out
}

func similarAmount(a, b int64) bool {
	hi := a
	if b > hi {
		hi = b
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff*similarAmountDivisor <= hi
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
