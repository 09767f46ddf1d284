package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/billix-app/swaprules/internal/domain"
)

func twoSided(amount, other int64) *Facts {
	return &Facts{
		InitiatorID:      "alice",
		AmountCents:      amount,
		BillBAmountCents: other,
		SwapType:         domain.SwapTwoSided,
		Category:         domain.CategoryElectric,
		DaysUntilDue:     10,
		InitiatorTier:    domain.TierStarter,
		CounterpartyTier: domain.TierEstablished,
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}

	results, err := engine.EvaluateAll(context.Background(), twoSided(5000, 5000))
	if err != nil || results != nil {
		t.Errorf("expected no results from empty engine, got %v (%v)", results, err)
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "test-rule-001",
		Name:       "Test Rule",
		Expression: "amount_cents > 10000",
		Weight:     1.0,
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	tests := []struct {
		name string
		rule *domain.RuleConfig
	}{
		{"syntax", &domain.RuleConfig{ID: "bad", Expression: "this is not valid CEL !!!"}},
		{"unknown variable", &domain.RuleConfig{ID: "bad", Expression: "debtor_id == creditor_id"}},
		{"string output", &domain.RuleConfig{ID: "bad", Expression: "swap_type"}},
		{"missing id", &domain.RuleConfig{Expression: "true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.ValidateRule(tt.rule); err == nil {
				t.Error("expected validation error")
			}
			if err := engine.LoadRule(tt.rule); err == nil {
				t.Error("expected load error")
			}
		})
	}

	if engine.RulesCount() != 0 {
		t.Errorf("invalid rules must not load, got %d", engine.RulesCount())
	}
}

func TestEvaluateBandedRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	zero := 0.0
	one := 1.0

	rule := &domain.RuleConfig{
		ID:         "starter-large-bill",
		Name:       "Starter Large Bill",
		Expression: "initiator_tier <= 1 && amount_cents > 4000 ? 1.0 : 0.0",
		Bands: []domain.RuleBand{
			{LowerLimit: &zero, UpperLimit: &one, SubRuleRef: domain.RuleOutcomePass, Reason: "Within starter comfort zone"},
			{LowerLimit: &one, UpperLimit: nil, SubRuleRef: domain.RuleOutcomeReview, Reason: "Large bill for a new user"},
		},
		Weight:  1.0,
		Enabled: true,
	}
	engine.LoadRule(rule)

	ctx := context.Background()

	results, err := engine.EvaluateAll(ctx, twoSided(3000, 3000))
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Score != 0.0 || results[0].SubRuleRef != domain.RuleOutcomePass {
		t.Errorf("expected pass with score 0, got %s %.2f", results[0].SubRuleRef, results[0].Score)
	}

	results, _ = engine.EvaluateAll(ctx, twoSided(4500, 4500))
	if results[0].Score != 1.0 || results[0].SubRuleRef != domain.RuleOutcomeReview {
		t.Errorf("expected review with score 1, got %s %.2f", results[0].SubRuleRef, results[0].Score)
	}

	facts := twoSided(4500, 4500)
	facts.InitiatorTier = domain.TierTrusted
	results, _ = engine.EvaluateAll(ctx, facts)
	if results[0].SubRuleRef != domain.RuleOutcomePass {
		t.Errorf("higher tier should pass, got %s", results[0].SubRuleRef)
	}
}

func TestEvaluateBooleanRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "one-sided-open",
		Expression: `swap_type == "ONE_SIDED_ASSIST" && counterparty_tier == 0`,
		Weight:     1.0,
		Enabled:    true,
	})

	ctx := context.Background()

	results, _ := engine.EvaluateAll(ctx, twoSided(5000, 5000))
	if results[0].Score != 0.0 {
		t.Errorf("expected score 0 for two-sided swap, got %.2f", results[0].Score)
	}

	facts := &Facts{AmountCents: 5000, SwapType: domain.SwapOneSidedAssist, InitiatorTier: domain.TierTrusted}
	results, _ = engine.EvaluateAll(ctx, facts)
	if results[0].Score != 1.0 {
		t.Errorf("expected score 1 for open assist, got %.2f", results[0].Score)
	}
	if results[0].SubRuleRef != domain.RuleOutcomePass {
		t.Errorf("unbanded rules default to pass, got %s", results[0].SubRuleRef)
	}
}

func TestProposalMapVariable(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "map-access",
		Expression: `proposal.initiator_id == "alice" && proposal.amount_cents == 5000`,
		Enabled:    true,
	})

	results, _ := engine.EvaluateAll(context.Background(), twoSided(5000, 5000))
	if results[0].SubRuleRef == domain.RuleOutcomeError {
		t.Fatalf("evaluation error: %s", results[0].Reason)
	}
	if results[0].Score != 1.0 {
		t.Errorf("expected map facts to match, got %.2f", results[0].Score)
	}
}

func TestEvaluationError(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "div-zero",
		Expression: "amount_cents / active_swaps > 1",
		Enabled:    true,
	})

	facts := twoSided(5000, 5000)
	facts.ActiveSwaps = 0

	results, err := engine.EvaluateAll(context.Background(), facts)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if results[0].SubRuleRef != domain.RuleOutcomeError {
		t.Errorf("expected error outcome, got %s", results[0].SubRuleRef)
	}
}

func TestParallelExecution(t *testing.T) {
	engine, _ := NewEngine(3)
	defer engine.Close()

	for i := 0; i < 10; i++ {
		engine.LoadRule(&domain.RuleConfig{
			ID:         fmt.Sprintf("rule-%02d", i),
			Name:       fmt.Sprintf("Rule %d", i),
			Expression: "amount_cents > 0",
			Weight:     1.0,
			Enabled:    true,
		})
	}

	if engine.RulesCount() != 10 {
		t.Fatalf("expected 10 rules, got %d", engine.RulesCount())
	}

	results, err := engine.EvaluateAll(context.Background(), twoSided(5000, 5000))
	if err != nil {
		t.Fatalf("parallel evaluation failed: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}

	for i, r := range results {
		if r.RuleID != fmt.Sprintf("rule-%02d", i) {
			t.Errorf("results must be ordered by rule id, got %s at %d", r.RuleID, i)
		}
		if r.Score != 1.0 {
			t.Errorf("rule %d: expected score 1.0, got %.2f", i, r.Score)
		}
	}
}

func TestEvaluateRequiresFacts(t *testing.T) {
	engine, _ := NewEngine(1)
	defer engine.Close()

	if _, err := engine.EvaluateAll(context.Background(), nil); err == nil {
		t.Error("expected error for nil facts")
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "old", Expression: "true", Enabled: true})

	err := engine.ReloadRules([]*domain.RuleConfig{
		{ID: "b", Expression: "active_swaps > 2", Enabled: true},
		{ID: "a", Expression: "initiator_points < 10", Enabled: true},
		{ID: "off", Expression: "true", Enabled: false},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	loaded := engine.GetLoadedRules()
	if len(loaded) != 2 || loaded[0].ID != "a" || loaded[1].ID != "b" {
		t.Errorf("unexpected loaded rules %v", loaded)
	}

	err = engine.ReloadRules([]*domain.RuleConfig{{ID: "broken", Expression: "(((", Enabled: true}})
	if err == nil {
		t.Fatal("expected reload error")
	}
	if engine.RulesCount() != 2 {
		t.Errorf("failed reload must keep the previous rules, got %d", engine.RulesCount())
	}
}

func TestBuiltinRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	if err := engine.LoadRules(BuiltinRules()); err != nil {
		t.Fatalf("builtin rules must compile: %v", err)
	}

	ctx := context.Background()
	processor := NewProcessor()

	tests := []struct {
		name  string
		facts func() *Facts
		want  Outcome
	}{
		{"ordinary swap", func() *Facts { return twoSided(5000, 5500) }, OutcomeAllow},
		{"large gap", func() *Facts { return twoSided(5000, 30000) }, OutcomeReview},
		{"rapid proposals", func() *Facts {
			f := twoSided(5000, 5000)
			f.ProposalsLastHour = 6
			return f
		}, OutcomeReview},
		{"past due", func() *Facts {
			f := twoSided(5000, 5000)
			f.DaysUntilDue = -1
			return f
		}, OutcomeReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := engine.EvaluateAll(ctx, tt.facts())
			if err != nil {
				t.Fatalf("evaluation failed: %v", err)
			}
			if got := processor.Decide(results).Outcome; got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRuleResultMetadata(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "meta-test",
		Expression: "amount_cents > 0",
		Weight:     0.75,
		Enabled:    true,
	})

	results, _ := engine.EvaluateAll(context.Background(), twoSided(100, 100))

	if results[0].RuleID != "meta-test" {
		t.Errorf("expected RuleID 'meta-test', got '%s'", results[0].RuleID)
	}
	if results[0].Weight != 0.75 {
		t.Errorf("expected Weight 0.75, got %.2f", results[0].Weight)
	}
	if results[0].ProcessMs < 0 {
		t.Error("ProcessMs should be non-negative")
	}
}
