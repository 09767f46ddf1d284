package rules

import "github.com/billix-app/swaprules/internal/domain"

func limit(v float64) *float64 { return &v }

// whenTrue maps a boolean expression to pass below 1 and outcome at 1.
func whenTrue(outcome, reason string) []domain.RuleBand {
	return []domain.RuleBand{
		{UpperLimit: limit(1), SubRuleRef: domain.RuleOutcomePass},
		{LowerLimit: limit(1), SubRuleRef: outcome, Reason: reason},
	}
}

// BuiltinRules returns the default proposal policy. The serve command seeds
// these when the rule store is empty; stored rules always take precedence.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "large-amount-gap",
			Name:        "Large amount gap",
			Description: "Two-sided swaps whose bills differ by more than $200",
			Version:     "1",
			Expression:  `swap_type == "TWO_SIDED" && bill_b_amount_cents > 0 && (amount_cents - bill_b_amount_cents > 20000 || bill_b_amount_cents - amount_cents > 20000)`,
			Bands:       whenTrue(domain.RuleOutcomeReview, "bill amounts differ by more than $200"),
			Weight:      1,
			Enabled:     true,
		},
		{
			ID:          "rapid-proposals",
			Name:        "Rapid proposals",
			Description: "Initiator has proposed many swaps within the hour",
			Version:     "1",
			Expression:  `proposals_last_hour >= 5`,
			Bands:       whenTrue(domain.RuleOutcomeReview, "many proposals in the last hour"),
			Weight:      1,
			Enabled:     true,
		},
		{
			ID:          "overdue-bill",
			Name:        "Overdue bill",
			Description: "Bills already past due cannot be swapped",
			Version:     "1",
			Expression:  `days_until_due < 0`,
			Bands:       whenTrue(domain.RuleOutcomeFail, "bill is past due"),
			Weight:      2,
			Enabled:     true,
		},
	}
}
