package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/ledger"
	"github.com/billix-app/swaprules/internal/metrics"
	"github.com/billix-app/swaprules/internal/proof"
)

// SweepError is one item the sweep could not process.
type SweepError struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

// SweepReport lists what one deadline sweep did.
type SweepReport struct {
	At             time.Time    `json:"at"`
	ExpiredOffers  []string     `json:"expiredOffers,omitempty"`
	ExpiredFees    []string     `json:"expiredFees,omitempty"`
	AutoAccepted   []string     `json:"autoAccepted,omitempty"`
	Completed      []string     `json:"completed,omitempty"`
	OverdueReviews []string     `json:"overdueReviews,omitempty"`
	NoShows        []string     `json:"noShows,omitempty"`
	OverdueProofs  []string     `json:"overdueProofs,omitempty"`
	Errors         []SweepError `json:"errors,omitempty"`
}

func (r *SweepReport) fail(kind, id string, err error) {
	slog.Warn("sweep item failed",
		"kind", kind,
		"id", id,
		"error", err,
	)
	r.Errors = append(r.Errors, SweepError{Kind: kind, ID: id, Error: err.Error()})
}

// SweepDeadlines applies every deadline that has passed at now. Each item is
// committed on its own; a failed item is reported and the sweep goes on.
func (s *Service) SweepDeadlines(ctx context.Context, now time.Time) (report *SweepReport, err error) {
	ctx, end := s.begin(ctx, "sweep_deadlines", attribute.String("at", now.Format(time.RFC3339)))
	defer end(&err)

	now = now.UTC()
	report = &SweepReport{At: now}

	if err := s.sweepOffers(ctx, now, report); err != nil {
		return nil, err
	}
	if err := s.sweepFees(ctx, now, report); err != nil {
		return nil, err
	}
	if err := s.sweepReviews(ctx, now, report); err != nil {
		return nil, err
	}
	if err := s.sweepNoShows(ctx, now, report); err != nil {
		return nil, err
	}

	metrics.OverdueReviews.Set(float64(len(report.OverdueReviews)))
	for action, n := range map[string]int{
		"expire_offer":  len(report.ExpiredOffers),
		"expire_fee":    len(report.ExpiredFees),
		"auto_accept":   len(report.AutoAccepted),
		"complete":      len(report.Completed),
		"no_show":       len(report.NoShows),
		"overdue_proof": len(report.OverdueProofs),
		"error":         len(report.Errors),
	} {
		metrics.SweepActions.WithLabelValues(action).Add(float64(n))
	}

	slog.Info("deadline sweep finished",
		"expired_offers", len(report.ExpiredOffers),
		"expired_fees", len(report.ExpiredFees),
		"auto_accepted", len(report.AutoAccepted),
		"completed", len(report.Completed),
		"overdue_reviews", len(report.OverdueReviews),
		"no_shows", len(report.NoShows),
		"overdue_proofs", len(report.OverdueProofs),
		"errors", len(report.Errors),
	)
	return report, nil
}

func (s *Service) sweepOffers(ctx context.Context, now time.Time, report *SweepReport) error {
	swaps, err := s.repo.ListSwapsByStatus(ctx, []domain.SwapStatus{domain.SwapOffered, domain.SwapCountered}, 0)
	if err != nil {
		return err
	}
	for _, sw := range swaps {
		deals, err := s.repo.ListDeals(ctx, sw.ID)
		if err != nil {
			report.fail("offer", sw.ID, err)
			continue
		}
		if d := currentDeal(deals); d == nil || !d.IsExpired(now) {
			continue
		}
		if err := s.expire(ctx, sw, "offer expired", now); err != nil {
			report.fail("offer", sw.ID, err)
			continue
		}
		report.ExpiredOffers = append(report.ExpiredOffers, sw.ID)
	}
	return nil
}

func (s *Service) sweepFees(ctx context.Context, now time.Time, report *SweepReport) error {
	swaps, err := s.repo.ListSwapsByStatus(ctx, []domain.SwapStatus{domain.SwapAcceptedPendingFee}, 0)
	if err != nil {
		return err
	}
	for _, sw := range swaps {
		if sw.FeeDeadline == nil || !now.After(*sw.FeeDeadline) {
			continue
		}
		if err := s.expire(ctx, sw, "fee deadline passed", now); err != nil {
			report.fail("fee", sw.ID, err)
			continue
		}
		report.ExpiredFees = append(report.ExpiredFees, sw.ID)
	}
	return nil
}

func (s *Service) expire(ctx context.Context, sw *domain.Swap, note string, now time.Time) error {
	cs := &domain.ChangeSet{Swap: sw}
	var moves []domain.SwapEvent
	if err := s.closeEarly(ctx, cs, sw, domain.SwapExpired, domain.DealExpired, note, now, &moves, proof.SystemReviewer); err != nil {
		return err
	}
	if err := s.commit(ctx, cs); err != nil {
		return err
	}
	s.publishMoves(ctx, moves)
	return nil
}

func (s *Service) sweepReviews(ctx context.Context, now time.Time, report *SweepReport) error {
	pending, err := s.repo.ListPendingProofs(ctx, now)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if s.proofs.IsReviewOverdue(p, now) {
			report.OverdueReviews = append(report.OverdueReviews, p.ID)
		}
		if !s.proofs.AutoAcceptDue(p, now) {
			continue
		}
		accepted, completed, err := s.autoAccept(ctx, p, now)
		if err != nil {
			report.fail("proof", p.ID, err)
			continue
		}
		if !accepted {
			continue
		}
		report.AutoAccepted = append(report.AutoAccepted, p.ID)
		if completed != "" {
			report.Completed = append(report.Completed, completed)
		}
	}
	return nil
}

// autoAccept accepts p on behalf of the scheduler and completes its swap
// when every proof is in. Proofs on swaps no longer awaiting proof, such as
// disputed ones, are left alone. completed is the id of a completed swap.
func (s *Service) autoAccept(ctx context.Context, p *domain.Proof, now time.Time) (accepted bool, completed string, err error) {
	sw, err := s.loadSwap(ctx, p.SwapID)
	if err != nil {
		return false, "", err
	}
	if sw.Status != domain.SwapAwaitingProof {
		return false, "", nil
	}
	if err := s.proofs.AutoAccept(p, now); err != nil {
		return false, "", err
	}

	cs := &domain.ChangeSet{Swap: sw, Proofs: []*domain.Proof{p}}
	sw.UpdatedAt = now
	var moves []domain.SwapEvent

	all, err := s.repo.ListProofs(ctx, sw.ID)
	if err != nil {
		return false, "", err
	}
	if proof.AllAccepted(sw, withProof(all, p)) {
		if err := s.complete(ctx, cs, s.newProfiles(), sw, now, &moves, proof.SystemReviewer); err != nil {
			return false, "", err
		}
		completed = sw.ID
	}
	if err := s.commit(ctx, cs); err != nil {
		return false, "", err
	}

	s.publishMoves(ctx, moves)
	s.publish(ctx, domain.TopicProofReviewed, p)
	return true, completed, nil
}

func (s *Service) sweepNoShows(ctx context.Context, now time.Time, report *SweepReport) error {
	swaps, err := s.repo.ListSwapsByStatus(ctx, []domain.SwapStatus{domain.SwapLocked, domain.SwapAwaitingProof}, 0)
	if err != nil {
		return err
	}
	for _, sw := range swaps {
		if sw.ProofDueAt == nil || !now.After(*sw.ProofDueAt) {
			continue
		}
		outcome, err := s.noShow(ctx, sw, now)
		if err != nil {
			report.fail("no_show", sw.ID, err)
			continue
		}
		switch outcome {
		case noShowFailed:
			report.NoShows = append(report.NoShows, sw.ID)
		case noShowOverdue:
			report.OverdueProofs = append(report.OverdueProofs, sw.ID)
		}
	}
	return nil
}

type noShowOutcome int

const (
	noShowNone noShowOutcome = iota
	noShowFailed
	noShowOverdue
)

// noShow fails a swap whose proof deadline passed with a party that never
// submitted proof, when the accepted terms fall back to refunding fees.
// Other fallbacks are reported overdue and left for the parties or an admin.
// A pending extension holds the swap open.
func (s *Service) noShow(ctx context.Context, sw *domain.Swap, now time.Time) (noShowOutcome, error) {
	exts, err := s.repo.ListExtensions(ctx, sw.ID)
	if err != nil {
		return noShowNone, err
	}
	for _, e := range exts {
		if e.Status == domain.ExtensionPending {
			return noShowNone, nil
		}
	}

	proofs, err := s.repo.ListProofs(ctx, sw.ID)
	if err != nil {
		return noShowNone, err
	}
	var missing []string
	for _, uid := range sw.RequiredProofSubmitters() {
		submitted := false
		for _, p := range proofs {
			if p.SubmitterID == uid {
				submitted = true
				break
			}
		}
		if !submitted {
			missing = append(missing, uid)
		}
	}
	if len(missing) == 0 {
		return noShowNone, nil
	}

	deals, err := s.repo.ListDeals(ctx, sw.ID)
	if err != nil {
		return noShowNone, err
	}
	if d := acceptedDeal(deals); d == nil || d.Terms.Fallback != domain.FallbackRefundFees {
		return noShowOverdue, nil
	}

	cs := &domain.ChangeSet{Swap: sw}
	var moves []domain.SwapEvent
	if sw.Status == domain.SwapLocked {
		if err := s.transition(sw, domain.SwapAwaitingProof, now, &moves, proof.SystemReviewer); err != nil {
			return noShowNone, err
		}
	}
	if err := s.transition(sw, domain.SwapFailed, now, &moves, proof.SystemReviewer); err != nil {
		return noShowNone, err
	}
	if err := s.releaseBills(ctx, cs, sw); err != nil {
		return noShowNone, err
	}

	ps := s.newProfiles()
	for _, uid := range missing {
		p, err := ps.get(ctx, uid)
		if err != nil {
			return noShowNone, err
		}
		p.NoShows++
		p.FailedSwaps++
		p.UpdatedAt = now
		cs.AddProfile(p)
		if s.policy.NoShowPenaltyPoints <= 0 {
			continue
		}
		e, err := ledger.NewEntry(uid, -s.policy.NoShowPenaltyPoints, domain.PointsNoShowPenalty, sw.ID, "proof deadline missed", now)
		if err != nil {
			return noShowNone, err
		}
		if err := ledger.Post(cs, p, e, true); err != nil {
			return noShowNone, err
		}
	}
	if err := s.refundWaivers(ctx, cs, ps, sw, "counterparty no-show", now, missing...); err != nil {
		return noShowNone, err
	}

	if err := s.commit(ctx, cs); err != nil {
		return noShowNone, err
	}
	slog.Info("swap failed on missed proof deadline",
		"swap_id", sw.ID,
		"missing", missing,
	)
	s.publishMoves(ctx, moves)
	return noShowFailed, nil
}
