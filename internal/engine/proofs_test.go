package engine

import (
	"context"
	"testing"
	"time"

	"github.com/billix-app/swaprules/internal/domain"
)

func TestReviewProof(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	sw := h.locked(t)

	p := h.submit(t, alice, sw.ID)
	if got := h.swap(t, sw.ID).Status; got != domain.SwapAwaitingProof {
		t.Fatalf("first proof should move to AWAITING_PROOF, got %s", got)
	}

	tests := []struct {
		name   string
		actor  Actor
		review ProofReview
		target error
	}{
		{"Submitter", alice, ProofReview{Accepted: true}, domain.ErrNotAuthorizedToReview},
		{"Outsider", carol, ProofReview{Accepted: true}, domain.ErrNotAuthorizedToReview},
		{"RejectWithoutReason", bob, ProofReview{Accepted: false}, domain.ErrInvalidInput},
		{"NotAuthenticated", Actor{}, ProofReview{Accepted: true}, domain.ErrNotAuthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.ReviewProof(ctx, tt.actor, p.ID, tt.review)
			expectErr(t, err, tt.target)
		})
	}

	t.Run("UnknownProof", func(t *testing.T) {
		_, err := h.svc.ReviewProof(ctx, bob, "missing", ProofReview{Accepted: true})
		expectErr(t, err, domain.ErrProofNotFound)
	})

	t.Run("DuplicateSubmission", func(t *testing.T) {
		_, err := h.svc.SubmitProof(ctx, alice, sw.ID, ProofInput{Type: domain.ProofScreenshot, FileRef: "again.png"})
		expectErr(t, err, domain.ErrInvalidInput)
	})

	t.Run("AdminReviews", func(t *testing.T) {
		got, err := h.svc.ReviewProof(ctx, admin, p.ID, ProofReview{Accepted: true})
		if err != nil {
			t.Fatalf("ReviewProof failed: %v", err)
		}
		if got.Status != domain.ProofAccepted || got.ReviewerID != "ops" {
			t.Errorf("unexpected proof %+v", got)
		}

		_, err = h.svc.ReviewProof(ctx, bob, p.ID, ProofReview{Accepted: true})
		expectErr(t, err, domain.ErrProofAlreadyReviewed)
	})
}

func TestResubmitProof(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	sw := h.locked(t)
	p := h.submit(t, alice, sw.ID)

	_, err := h.svc.ResubmitProof(ctx, alice, p.ID, ProofInput{Type: domain.ProofScreenshot, FileRef: "b.png"})
	expectErr(t, err, domain.ErrProofNotRejected)

	if _, err := h.svc.ReviewProof(ctx, bob, p.ID, ProofReview{RejectionReason: "amount cut off"}); err != nil {
		t.Fatalf("ReviewProof failed: %v", err)
	}

	_, err = h.svc.ResubmitProof(ctx, bob, p.ID, ProofInput{Type: domain.ProofScreenshot, FileRef: "b.png"})
	expectErr(t, err, domain.ErrForbidden)

	next, err := h.svc.ResubmitProof(ctx, alice, p.ID, ProofInput{Type: domain.ProofBankStatement, FileRef: "statement.pdf"})
	if err != nil {
		t.Fatalf("ResubmitProof failed: %v", err)
	}
	if next.Status != domain.ProofPendingReview || next.OriginalProofID != p.ID || next.ResubmissionCount != 1 {
		t.Errorf("unexpected resubmission %+v", next)
	}

	proofs, err := h.svc.ListProofs(ctx, bob, sw.ID)
	if err != nil {
		t.Fatalf("ListProofs failed: %v", err)
	}
	for _, q := range proofs {
		if q.ID == p.ID && q.Status != domain.ProofResubmitted {
			t.Errorf("original should be RESUBMITTED, got %s", q.Status)
		}
	}

	if _, err := h.svc.ReviewProof(ctx, bob, next.ID, ProofReview{RejectionReason: "wrong account"}); err != nil {
		t.Fatalf("ReviewProof failed: %v", err)
	}
	_, err = h.svc.ResubmitProof(ctx, alice, next.ID, ProofInput{Type: domain.ProofScreenshot, FileRef: "c.png"})
	expectErr(t, err, domain.ErrMaxResubmissionsReached)

	_, err = h.svc.ResubmitProof(ctx, alice, p.ID, ProofInput{Type: domain.ProofScreenshot, FileRef: "c.png"})
	expectErr(t, err, domain.ErrMaxResubmissionsReached)
}

// rejected returns an AWAITING_PROOF swap where bob rejected alice's proof.
func (h *harness) rejected(t *testing.T) *domain.Swap {
	t.Helper()
	sw := h.locked(t)
	p := h.submit(t, alice, sw.ID)
	if _, err := h.svc.ReviewProof(context.Background(), bob, p.ID, ProofReview{RejectionReason: "blurry"}); err != nil {
		t.Fatalf("ReviewProof failed: %v", err)
	}
	return sw
}

func TestFileDispute(t *testing.T) {
	ctx := context.Background()

	t.Run("WindowBoundary", func(t *testing.T) {
		tests := []struct {
			name    string
			advance time.Duration
			target  error
		}{
			{"JustInside", 24*time.Hour - time.Second, nil},
			{"JustOutside", 24*time.Hour + time.Second, domain.ErrDisputeWindowExpired},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := newHarness(t, nil)
				sw := h.rejected(t)
				h.clock.Advance(tt.advance)

				_, err := h.svc.FileDispute(ctx, alice, sw.ID, DisputeInput{Reason: domain.DisputeProofRejected})
				if tt.target == nil {
					if err != nil {
						t.Fatalf("FileDispute failed: %v", err)
					}
					return
				}
				expectErr(t, err, tt.target)
			})
		}
	})

	t.Run("Rules", func(t *testing.T) {
		h := newHarness(t, nil)
		sw := h.rejected(t)

		_, err := h.svc.FileDispute(ctx, alice, sw.ID, DisputeInput{ReportedID: "alice", Reason: domain.DisputeOther})
		expectErr(t, err, domain.ErrCannotDisputeOwnSwap)

		_, err = h.svc.FileDispute(ctx, carol, sw.ID, DisputeInput{ReportedID: "bob", Reason: domain.DisputeOther})
		expectErr(t, err, domain.ErrNotSwapParty)

		_, err = h.svc.FileDispute(ctx, alice, sw.ID, DisputeInput{Reason: "ANGRY"})
		expectErr(t, err, domain.ErrInvalidInput)

		d, err := h.svc.FileDispute(ctx, alice, sw.ID, DisputeInput{
			Reason:      domain.DisputeProofRejected,
			Description: "the screenshot shows the full amount",
			Evidence:    []string{"proofs/alice.png"},
		})
		if err != nil {
			t.Fatalf("FileDispute failed: %v", err)
		}
		if d.ReportedID != "bob" || d.Status != domain.DisputeOpen {
			t.Errorf("unexpected dispute %+v", d)
		}
		if got := h.swap(t, sw.ID).Status; got != domain.SwapDisputed {
			t.Errorf("expected DISPUTED, got %s", got)
		}
		for _, user := range []string{"alice", "bob"} {
			if got := h.profile(t, user).DisputedSwaps; got != 1 {
				t.Errorf("%s: expected 1 disputed swap, got %d", user, got)
			}
		}

		_, err = h.svc.FileDispute(ctx, bob, sw.ID, DisputeInput{Reason: domain.DisputeFraudulentProof})
		expectErr(t, err, domain.ErrAlreadyDisputed)
	})

	t.Run("BeforeProof", func(t *testing.T) {
		h := newHarness(t, nil)
		sw := h.locked(t)

		_, err := h.svc.FileDispute(ctx, alice, sw.ID, DisputeInput{Reason: domain.DisputeNonPayment})
		expectErr(t, err, domain.ErrInvalidTransition)
	})
}

func TestResolveDispute(t *testing.T) {
	ctx := context.Background()

	file := func(t *testing.T, h *harness) (*domain.Swap, *domain.Dispute) {
		t.Helper()
		sw := h.rejected(t)
		d, err := h.svc.FileDispute(ctx, alice, sw.ID, DisputeInput{Reason: domain.DisputeProofRejected})
		if err != nil {
			t.Fatalf("FileDispute failed: %v", err)
		}
		return sw, d
	}

	t.Run("AdminOnly", func(t *testing.T) {
		h := newHarness(t, nil)
		_, d := file(t, h)

		_, err := h.svc.ResolveDispute(ctx, alice, d.ID, Resolution{Resolution: domain.ResolveSwapCompleted})
		expectErr(t, err, domain.ErrForbidden)
		_, err = h.svc.InvestigateDispute(ctx, bob, d.ID)
		expectErr(t, err, domain.ErrForbidden)
		_, err = h.svc.ResolveDispute(ctx, admin, "missing", Resolution{Resolution: domain.ResolveSwapCompleted})
		expectErr(t, err, domain.ErrDisputeNotFound)
	})

	t.Run("FailedWithFault", func(t *testing.T) {
		h := newHarness(t, nil)
		sw, d := file(t, h)

		d, err := h.svc.InvestigateDispute(ctx, admin, d.ID)
		if err != nil {
			t.Fatalf("InvestigateDispute failed: %v", err)
		}
		if d.Status != domain.DisputeInvestigating {
			t.Errorf("expected INVESTIGATING, got %s", d.Status)
		}

		d, err = h.svc.ResolveDispute(ctx, admin, d.ID, Resolution{
			Resolution:    domain.ResolveSwapFailed,
			AtFaultUserID: "bob",
		})
		if err != nil {
			t.Fatalf("ResolveDispute failed: %v", err)
		}
		if d.Status != domain.DisputeResolved || d.ResolverID != "ops" {
			t.Errorf("unexpected dispute %+v", d)
		}

		got := h.swap(t, sw.ID)
		if got.Status != domain.SwapFailed {
			t.Fatalf("expected FAILED, got %s", got.Status)
		}
		for _, id := range got.BillIDs() {
			if status := h.billStatus(t, id); status != domain.BillActive {
				t.Errorf("bill %s should return to ACTIVE, got %s", id, status)
			}
		}

		b := h.profile(t, "bob")
		if b.DisputesLost != 1 || b.FailedSwaps != 1 || b.Points != -50 {
			t.Errorf("unexpected at-fault profile %+v", b)
		}
		if a := h.profile(t, "alice"); a.FailedSwaps != 0 || a.DisputesLost != 0 {
			t.Errorf("reporter should not be charged, got %+v", a)
		}

		_, err = h.svc.ResolveDispute(ctx, admin, d.ID, Resolution{Resolution: domain.ResolveDismissed})
		expectErr(t, err, domain.ErrDisputeClosed)
	})

	t.Run("CompletedWithoutFault", func(t *testing.T) {
		h := newHarness(t, nil)
		sw, d := file(t, h)

		if _, err := h.svc.ResolveDispute(ctx, admin, d.ID, Resolution{Resolution: domain.ResolveSwapCompleted}); err != nil {
			t.Fatalf("ResolveDispute failed: %v", err)
		}
		if got := h.swap(t, sw.ID).Status; got != domain.SwapCompleted {
			t.Errorf("expected COMPLETED, got %s", got)
		}
		for _, user := range []string{"alice", "bob"} {
			p := h.profile(t, user)
			if p.CompletedSwaps != 1 || p.Points != 25 {
				t.Errorf("%s: expected completion credit, got %+v", user, p)
			}
		}
	})

	t.Run("InvalidFault", func(t *testing.T) {
		h := newHarness(t, nil)
		_, d := file(t, h)

		_, err := h.svc.ResolveDispute(ctx, admin, d.ID, Resolution{Resolution: domain.ResolveSwapFailed, AtFaultUserID: "carol"})
		expectErr(t, err, domain.ErrInvalidInput)
	})
}

func TestExtensions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	sw := h.locked(t)
	due := *sw.ProofDueAt

	partial := int64(-1)
	tests := []struct {
		name   string
		actor  Actor
		in     ExtensionInput
		target error
	}{
		{"Outsider", carol, ExtensionInput{Reason: "x", RequestedDeadline: due.Add(time.Hour)}, domain.ErrNotSwapParty},
		{"NoReason", alice, ExtensionInput{RequestedDeadline: due.Add(time.Hour)}, domain.ErrInvalidInput},
		{"NotLater", alice, ExtensionInput{Reason: "x", RequestedDeadline: due}, domain.ErrExtensionInvalid},
		{"TooFar", alice, ExtensionInput{Reason: "x", RequestedDeadline: due.Add(8 * 24 * time.Hour)}, domain.ErrExtensionInvalid},
		{"NegativePartial", alice, ExtensionInput{Reason: "x", RequestedDeadline: due.Add(time.Hour), PartialPaymentCents: &partial}, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.RequestExtension(ctx, tt.actor, sw.ID, tt.in)
			expectErr(t, err, tt.target)
		})
	}

	paid := int64(2000)
	want := due.Add(48 * time.Hour)
	ext, err := h.svc.RequestExtension(ctx, alice, sw.ID, ExtensionInput{
		Reason:              "paycheck lands Friday",
		RequestedDeadline:   want,
		PartialPaymentCents: &paid,
	})
	if err != nil {
		t.Fatalf("RequestExtension failed: %v", err)
	}
	if ext.Status != domain.ExtensionPending {
		t.Errorf("expected PENDING, got %s", ext.Status)
	}

	_, err = h.svc.RequestExtension(ctx, bob, sw.ID, ExtensionInput{Reason: "me too", RequestedDeadline: want})
	expectErr(t, err, domain.ErrExtensionPending)

	_, err = h.svc.DecideExtension(ctx, alice, ext.ID, true)
	expectErr(t, err, domain.ErrForbidden)

	_, err = h.svc.DecideExtension(ctx, bob, "missing", true)
	expectErr(t, err, domain.ErrExtensionNotFound)

	ext, err = h.svc.DecideExtension(ctx, bob, ext.ID, true)
	if err != nil {
		t.Fatalf("DecideExtension failed: %v", err)
	}
	if ext.Status != domain.ExtensionApproved || ext.DeciderID != "bob" {
		t.Errorf("unexpected extension %+v", ext)
	}
	if got := h.swap(t, sw.ID).ProofDueAt; got == nil || !got.Equal(want) {
		t.Errorf("proof deadline should move to %s, got %v", want, got)
	}

	_, err = h.svc.DecideExtension(ctx, bob, ext.ID, false)
	expectErr(t, err, domain.ErrInvalidInput)

	exts, err := h.svc.ListExtensions(ctx, alice, sw.ID)
	if err != nil {
		t.Fatalf("ListExtensions failed: %v", err)
	}
	if len(exts) != 1 || exts[0].PartialPaymentCents == nil || *exts[0].PartialPaymentCents != 2000 {
		t.Errorf("unexpected extensions %+v", exts)
	}
}
