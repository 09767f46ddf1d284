package rules

import (
	"fmt"

	"github.com/billix-app/swaprules/internal/domain"
)

// Outcome is the aggregated verdict on a proposal.
type Outcome string

const (
	OutcomeAllow  Outcome = "ALLOW"
	OutcomeReview Outcome = "REVIEW"
	OutcomeReject Outcome = "REJECT"
)

// Decision is the result of aggregating rule results.
type Decision struct {
	Outcome        Outcome             `json:"outcome"`
	Score          float64             `json:"score"`
	Reasons        []string            `json:"reasons,omitempty"`
	RulesTriggered int                 `json:"rulesTriggered"`
	Errors         int                 `json:"errors"`
	Results        []domain.RuleResult `json:"results,omitempty"`
}

// Processor aggregates rule results into a decision.
type Processor struct {
	// ReviewThreshold flags a proposal for review when the weighted score
	// reaches it. Zero disables the aggregate check.
	ReviewThreshold float64

	UseWeightedScoring bool
}

// NewProcessor creates a processor with default settings.
func NewProcessor() *Processor {
	return &Processor{
		ReviewThreshold:    0.7,
		UseWeightedScoring: true,
	}
}

// Decide aggregates results. Any ".fail" rejects; any ".review", or an
// aggregate score at or above the threshold, flags for review. Rules that
// failed to evaluate are counted but never block a proposal.
func (p *Processor) Decide(results []domain.RuleResult) Decision {
	d := Decision{Outcome: OutcomeAllow, Results: results}
	if len(results) == 0 {
		return d
	}

	var total, totalWeight float64
	var failed bool
	var reviewReasons, failReasons []string

	for _, r := range results {
		switch r.SubRuleRef {
		case domain.RuleOutcomeFail:
			failed = true
			d.RulesTriggered++
			failReasons = append(failReasons, reasonOf(r))
		case domain.RuleOutcomeReview:
			d.RulesTriggered++
			reviewReasons = append(reviewReasons, reasonOf(r))
		case domain.RuleOutcomeError:
			d.Errors++
			continue
		}

		weight := 1.0
		if p.UseWeightedScoring && r.Weight > 0 {
			weight = r.Weight
		}
		total += r.Score * weight
		totalWeight += weight
	}

	if totalWeight > 0 {
		d.Score = total / totalWeight
	}

	switch {
	case failed:
		d.Outcome = OutcomeReject
		d.Reasons = failReasons
	case len(reviewReasons) > 0:
		d.Outcome = OutcomeReview
		d.Reasons = reviewReasons
	case p.ReviewThreshold > 0 && d.Score >= p.ReviewThreshold:
		d.Outcome = OutcomeReview
		d.Reasons = []string{fmt.Sprintf("aggregate policy score %.2f reached %.2f", d.Score, p.ReviewThreshold)}
	}

	return d
}

func reasonOf(r domain.RuleResult) string {
	if r.Reason != "" {
		return r.Reason
	}
	return r.RuleID
}
