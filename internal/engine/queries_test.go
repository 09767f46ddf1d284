package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/match"
	"github.com/billix-app/swaprules/internal/rules"
)

func TestBills(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	t.Run("DecimalAmount", func(t *testing.T) {
		b, err := h.svc.CreateBill(ctx, alice, BillInput{Amount: "125.40", DueDate: base.AddDate(0, 0, 3)})
		if err != nil {
			t.Fatalf("CreateBill failed: %v", err)
		}
		if b.AmountCents != 12540 || b.Category != domain.CategoryOther || b.Status != domain.BillActive {
			t.Errorf("unexpected bill %+v", b)
		}
	})

	tests := []struct {
		name   string
		actor  Actor
		in     BillInput
		target error
	}{
		{"Anonymous", Actor{}, BillInput{AmountCents: 100, DueDate: base}, domain.ErrNotAuthenticated},
		{"ZeroAmount", alice, BillInput{DueDate: base}, domain.ErrInvalidInput},
		{"BadAmount", alice, BillInput{Amount: "12.345", DueDate: base}, domain.ErrInvalidInput},
		{"NoDueDate", alice, BillInput{AmountCents: 100}, domain.ErrInvalidInput},
		{"UnknownCategory", alice, BillInput{AmountCents: 100, DueDate: base, Category: "YACHT"}, domain.ErrInvalidInput},
		{"ForAnotherUser", alice, BillInput{OwnerID: "bob", AmountCents: 100, DueDate: base}, domain.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateBill(ctx, tt.actor, tt.in)
			expectErr(t, err, tt.target)
		})
	}

	t.Run("AdminOnBehalf", func(t *testing.T) {
		b, err := h.svc.CreateBill(ctx, admin, BillInput{OwnerID: "bob", AmountCents: 100, DueDate: base})
		if err != nil {
			t.Fatalf("CreateBill failed: %v", err)
		}
		if b.OwnerID != "bob" {
			t.Errorf("expected owner bob, got %s", b.OwnerID)
		}
	})

	t.Run("Visibility", func(t *testing.T) {
		b := h.bill(t, alice, 3000, 4)
		if _, err := h.svc.GetBill(ctx, bob, b.ID); err != nil {
			t.Errorf("active bills are visible for matching: %v", err)
		}
		if _, err := h.svc.RemoveBill(ctx, bob, b.ID); err == nil {
			t.Fatal("expected forbidden removal")
		}
		removed, err := h.svc.RemoveBill(ctx, alice, b.ID)
		if err != nil {
			t.Fatalf("RemoveBill failed: %v", err)
		}
		if removed.Status != domain.BillRemoved {
			t.Errorf("expected REMOVED, got %s", removed.Status)
		}
		_, err = h.svc.GetBill(ctx, bob, b.ID)
		expectErr(t, err, domain.ErrBillNotFound)
		if _, err := h.svc.GetBill(ctx, alice, b.ID); err != nil {
			t.Errorf("owner should still see a removed bill: %v", err)
		}
		_, err = h.svc.RemoveBill(ctx, alice, b.ID)
		expectErr(t, err, domain.ErrBillUnavailable)
	})

	t.Run("LockedBillCannotBeRemoved", func(t *testing.T) {
		sw := h.locked(t)
		_, err := h.svc.RemoveBill(ctx, alice, sw.BillAID)
		expectErr(t, err, domain.ErrBillUnavailable)
	})
}

func TestMatches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	mine := h.bill(t, alice, 5000, 5)
	good := h.bill(t, bob, 5000, 6)
	h.bill(t, alice, 5000, 5)
	if _, err := h.svc.CreateBill(ctx, carol, BillInput{AmountCents: 90000, DueDate: base.AddDate(0, 1, 0), Category: domain.CategoryRent}); err != nil {
		t.Fatalf("CreateBill failed: %v", err)
	}

	ranked, err := h.svc.Matches(ctx, alice, mine.ID, 0)
	if err != nil {
		t.Fatalf("Matches failed: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 candidates from other users, got %d", len(ranked))
	}
	if ranked[0].BillID != good.ID {
		t.Errorf("expected %s ranked first, got %+v", good.ID, ranked[0])
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Errorf("ranking not descending: %d <= %d", ranked[0].Score, ranked[1].Score)
	}
	hasExact := false
	for _, r := range ranked[0].Reasons {
		if r == match.ReasonExactAmount {
			hasExact = true
		}
	}
	if !hasExact {
		t.Errorf("expected EXACT_AMOUNT, got %v", ranked[0].Reasons)
	}

	limited, err := h.svc.Matches(ctx, alice, mine.ID, 1)
	if err != nil {
		t.Fatalf("Matches failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored, got %d", len(limited))
	}

	_, err = h.svc.Matches(ctx, bob, mine.ID, 0)
	expectErr(t, err, domain.ErrForbidden)
}

func TestTrustAndPoints(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.trusted(t, "alice")

	t.Run("Trust", func(t *testing.T) {
		self, err := h.svc.Trust(ctx, alice, "alice")
		if err != nil {
			t.Fatalf("Trust failed: %v", err)
		}
		if self.Snapshot.Tier != domain.TierTrusted || self.Profile == nil {
			t.Errorf("unexpected self view %+v", self)
		}
		if self.Limits.MaxBillCents != 25000 {
			t.Errorf("expected trusted limit, got %+v", self.Limits)
		}

		other, err := h.svc.Trust(ctx, bob, "alice")
		if err != nil {
			t.Fatalf("Trust failed: %v", err)
		}
		if other.Profile != nil {
			t.Error("profile must stay private to other users")
		}
		if other.Snapshot.Points != 300 {
			t.Errorf("expected 300 points, got %d", other.Snapshot.Points)
		}
	})

	t.Run("Points", func(t *testing.T) {
		view, err := h.svc.Points(ctx, alice, "alice")
		if err != nil {
			t.Fatalf("Points failed: %v", err)
		}
		if view.Balance != 300 || len(view.Entries) != 1 {
			t.Errorf("unexpected points view %+v", view)
		}
		_, err = h.svc.Points(ctx, bob, "alice")
		expectErr(t, err, domain.ErrForbidden)
		if _, err := h.svc.Points(ctx, admin, "alice"); err != nil {
			t.Errorf("admin should read points: %v", err)
		}
	})

	t.Run("GrantPoints", func(t *testing.T) {
		_, err := h.svc.GrantPoints(ctx, alice, "alice", Grant{Delta: 10})
		expectErr(t, err, domain.ErrForbidden)

		_, err = h.svc.GrantPoints(ctx, admin, "alice", Grant{Delta: 10, Reason: domain.PointsSwapCompleted})
		expectErr(t, err, domain.ErrInvalidInput)

		_, err = h.svc.GrantPoints(ctx, admin, "bob", Grant{Delta: -10})
		expectErr(t, err, domain.ErrInsufficientPoints)

		e, err := h.svc.GrantPoints(ctx, admin, "alice", Grant{Delta: -20, Note: "goodwill reversal"})
		if err != nil {
			t.Fatalf("GrantPoints failed: %v", err)
		}
		if e.Reason != domain.PointsAdminAdjustment {
			t.Errorf("expected ADMIN_ADJUSTMENT, got %s", e.Reason)
		}
		if got := h.profile(t, "alice").Points; got != 280 {
			t.Errorf("expected 280 points, got %d", got)
		}
	})

	t.Run("SetIDVerified", func(t *testing.T) {
		_, err := h.svc.SetIDVerified(ctx, bob, "alice", false)
		expectErr(t, err, domain.ErrForbidden)

		p, err := h.svc.SetIDVerified(ctx, admin, "alice", false)
		if err != nil {
			t.Fatalf("SetIDVerified failed: %v", err)
		}
		if p.IDVerified || p.Tier == domain.TierTrusted {
			t.Errorf("unverified user cannot stay trusted: %+v", p)
		}

		view, err := h.svc.Trust(ctx, bob, "alice")
		if err != nil {
			t.Fatalf("Trust failed: %v", err)
		}
		if view.Snapshot.Tier == domain.TierTrusted {
			t.Error("cached snapshot should be invalidated")
		}
	})
}

func TestProposalPolicy(t *testing.T) {
	ctx := context.Background()

	builtin := func(t *testing.T) *harness {
		eng, err := rules.NewEngine(4)
		if err != nil {
			t.Fatalf("NewEngine failed: %v", err)
		}
		t.Cleanup(func() { eng.Close() })
		if err := eng.LoadRules(rules.BuiltinRules()); err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}
		return newHarness(t, eng)
	}

	t.Run("OverdueBillRejected", func(t *testing.T) {
		h := builtin(t)
		a := h.bill(t, alice, 3000, -1)
		b := h.bill(t, bob, 3000, 4)
		_, err := h.svc.ProposeSwap(ctx, alice, Proposal{BillAID: a.ID, BillBID: b.ID})
		expectErr(t, err, domain.ErrPolicyRejected)
		if !strings.Contains(err.Error(), "past due") {
			t.Errorf("expected rule reason in error, got %v", err)
		}
	})

	t.Run("AmountGapFlagged", func(t *testing.T) {
		h := builtin(t)
		h.trusted(t, "alice")
		a := h.bill(t, alice, 25000, 5)
		b := h.bill(t, bob, 4000, 6)
		sw, err := h.svc.ProposeSwap(ctx, alice, Proposal{BillAID: a.ID, BillBID: b.ID})
		if err != nil {
			t.Fatalf("ProposeSwap failed: %v", err)
		}
		if len(sw.PolicyNotes) != 1 || !strings.Contains(sw.PolicyNotes[0], "$200") {
			t.Errorf("expected amount gap note, got %v", sw.PolicyNotes)
		}
		if stored := h.swap(t, sw.ID); len(stored.PolicyNotes) != 1 {
			t.Errorf("policy notes not stored: %v", stored.PolicyNotes)
		}
	})

	t.Run("CleanProposalAllowed", func(t *testing.T) {
		h := builtin(t)
		sw := h.offered(t)
		if len(sw.PolicyNotes) != 0 {
			t.Errorf("expected no notes, got %v", sw.PolicyNotes)
		}
	})

	t.Run("SaveAndReload", func(t *testing.T) {
		eng, err := rules.NewEngine(2)
		if err != nil {
			t.Fatalf("NewEngine failed: %v", err)
		}
		t.Cleanup(func() { eng.Close() })
		h := newHarness(t, eng)

		rule := &domain.RuleConfig{
			ID:         "big-bill",
			Name:       "Big bill",
			Version:    "1",
			Expression: `amount_cents > 4000`,
			Bands: []domain.RuleBand{
				{UpperLimit: floatPtr(1), SubRuleRef: domain.RuleOutcomePass},
				{LowerLimit: floatPtr(1), SubRuleRef: domain.RuleOutcomeReview, Reason: "big bill"},
			},
			Weight:  1,
			Enabled: true,
		}
		expectErr(t, h.svc.SaveRule(ctx, alice, rule), domain.ErrForbidden)

		broken := *rule
		broken.Expression = `amount_cents >`
		expectErr(t, h.svc.SaveRule(ctx, admin, &broken), domain.ErrInvalidInput)

		if err := h.svc.SaveRule(ctx, admin, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
		if eng.RulesCount() != 1 {
			t.Errorf("expected 1 loaded rule, got %d", eng.RulesCount())
		}
		stored, err := h.svc.ListRules(ctx, admin)
		if err != nil || len(stored) != 1 {
			t.Fatalf("ListRules: %v (%d)", err, len(stored))
		}

		sw := h.offered(t)
		if len(sw.PolicyNotes) != 1 || sw.PolicyNotes[0] != "big bill" {
			t.Errorf("expected stored rule to flag the swap, got %v", sw.PolicyNotes)
		}

		n, err := h.svc.ReloadRules(ctx, admin)
		if err != nil || n != 1 {
			t.Errorf("ReloadRules: %d (%v)", n, err)
		}
	})
}

func floatPtr(v float64) *float64 { return &v }

func TestQuoteFees(t *testing.T) {
	h := newHarness(t, nil)
	b := int64(4000)

	f, err := h.svc.QuoteFees(FeeQuote{BillACents: 5000, BillBCents: &b})
	if err != nil {
		t.Fatalf("QuoteFees failed: %v", err)
	}
	if f.InitiatorTotalCents != 214 || f.CounterpartyTotalCents != 214 {
		t.Errorf("unexpected fees %+v", f)
	}

	assist, err := h.svc.QuoteFees(FeeQuote{Type: domain.SwapOneSidedAssist, BillACents: 5000})
	if err != nil {
		t.Fatalf("QuoteFees failed: %v", err)
	}
	if assist.InitiatorTotalCents != 0 || assist.CounterpartyTotalCents == 0 {
		t.Errorf("assist fees fall on the supporter, got %+v", assist)
	}

	for _, in := range []FeeQuote{
		{BillACents: 5000},
		{BillACents: 0, BillBCents: &b},
		{Type: "BARTER", BillACents: 5000},
	} {
		if _, err := h.svc.QuoteFees(in); err == nil {
			t.Errorf("expected error for %+v", in)
		}
	}
}
