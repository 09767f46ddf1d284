package engine

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/billix-app/swaprules/internal/dispute"
	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/ledger"
)

// DisputeInput is a dispute as filed by a party.
type DisputeInput struct {
	ReportedID  string               `json:"reportedId"`
	Reason      domain.DisputeReason `json:"reason"`
	Description string               `json:"description,omitempty"`
	Evidence    []string             `json:"evidence,omitempty"`
}

// Resolution closes a dispute.
type Resolution struct {
	Resolution    domain.DisputeResolution `json:"resolution"`
	AtFaultUserID string                   `json:"atFaultUserId,omitempty"`
}

// FileDispute flags a swap awaiting proof. The swap moves to DISPUTED and
// both parties' dispute counters increase. A swap with an active dispute
// fails with ErrAlreadyDisputed.
func (s *Service) FileDispute(ctx context.Context, actor Actor, swapID string, in DisputeInput) (d *domain.Dispute, err error) {
	ctx, end := s.begin(ctx, "file_dispute", attribute.String("swap_id", swapID))
	defer end(&err)

	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	sw, err := s.loadSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	reported := in.ReportedID
	if reported == "" {
		reported = sw.OtherParty(actor.UserID)
	}

	existing, err := s.repo.ListDisputes(ctx, sw.ID)
	if err != nil {
		return nil, err
	}
	proofs, err := s.repo.ListProofs(ctx, sw.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	d, err = s.disputes.File(sw, existing, proofs, dispute.Filing{
		ReporterID:  actor.UserID,
		ReportedID:  reported,
		Reason:      in.Reason,
		Description: in.Description,
		Evidence:    in.Evidence,
	}, now)
	if err != nil {
		return nil, err
	}

	cs := &domain.ChangeSet{Swap: sw, Disputes: []*domain.Dispute{d}}
	var moves []domain.SwapEvent
	if err := s.transition(sw, domain.SwapDisputed, now, &moves, actor.UserID); err != nil {
		return nil, err
	}
	ps := s.newProfiles()
	for _, uid := range []string{sw.InitiatorID, sw.CounterpartyID} {
		p, err := ps.get(ctx, uid)
		if err != nil {
			return nil, err
		}
		p.DisputedSwaps++
		p.UpdatedAt = now
		cs.AddProfile(p)
	}
	if err := s.commit(ctx, cs); err != nil {
		return nil, err
	}

	slog.Info("dispute filed",
		"swap_id", sw.ID,
		"dispute_id", d.ID,
		"reporter_id", d.ReporterID,
		"reported_id", d.ReportedID,
		"reason", d.Reason,
	)
	s.publishMoves(ctx, moves)
	s.publish(ctx, domain.TopicDisputeFiled, d)
	return d, nil
}

// InvestigateDispute moves an open dispute under investigation.
func (s *Service) InvestigateDispute(ctx context.Context, actor Actor, disputeID string) (d *domain.Dispute, err error) {
	ctx, end := s.begin(ctx, "investigate_dispute", attribute.String("dispute_id", disputeID))
	defer end(&err)

	if err := actor.requireAdmin(); err != nil {
		return nil, err
	}
	d, sw, err := s.loadDisputeAndSwap(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := s.disputes.Investigate(d); err != nil {
		return nil, err
	}

	sw.UpdatedAt = s.now()
	if err := s.commit(ctx, &domain.ChangeSet{Swap: sw, Disputes: []*domain.Dispute{d}}); err != nil {
		return nil, err
	}
	slog.Info("dispute under investigation", "dispute_id", d.ID, "admin_id", actor.UserID)
	return d, nil
}

// ResolveDispute closes a dispute and settles the swap. The at-fault user,
// when named, loses points and gains a lost dispute.
func (s *Service) ResolveDispute(ctx context.Context, actor Actor, disputeID string, in Resolution) (d *domain.Dispute, err error) {
	ctx, end := s.begin(ctx, "resolve_dispute", attribute.String("dispute_id", disputeID))
	defer end(&err)

	if err := actor.requireAdmin(); err != nil {
		return nil, err
	}
	d, sw, err := s.loadDisputeAndSwap(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	target, err := s.disputes.Resolve(d, in.Resolution, in.AtFaultUserID, actor.UserID, now)
	if err != nil {
		return nil, err
	}

	cs := &domain.ChangeSet{Swap: sw, Disputes: []*domain.Dispute{d}}
	ps := s.newProfiles()
	var moves []domain.SwapEvent

	if sw.Status == domain.SwapDisputed {
		switch target {
		case domain.SwapCompleted:
			if err := s.complete(ctx, cs, ps, sw, now, &moves, actor.UserID); err != nil {
				return nil, err
			}
		case domain.SwapFailed:
			if err := s.transition(sw, domain.SwapFailed, now, &moves, actor.UserID); err != nil {
				return nil, err
			}
			if err := s.releaseBills(ctx, cs, sw); err != nil {
				return nil, err
			}
			failed := []string{sw.InitiatorID, sw.CounterpartyID}
			if d.AtFaultUserID != "" {
				failed = []string{d.AtFaultUserID}
			}
			for _, uid := range failed {
				p, err := ps.get(ctx, uid)
				if err != nil {
					return nil, err
				}
				p.FailedSwaps++
				p.UpdatedAt = now
				cs.AddProfile(p)
			}
		}
	}

	if d.AtFaultUserID != "" {
		p, err := ps.get(ctx, d.AtFaultUserID)
		if err != nil {
			return nil, err
		}
		p.DisputesLost++
		p.UpdatedAt = now
		cs.AddProfile(p)
		if s.policy.DisputePenaltyPoints > 0 {
			e, err := ledger.NewEntry(p.UserID, -s.policy.DisputePenaltyPoints, domain.PointsDisputePenalty, sw.ID, "dispute lost", now)
			if err != nil {
				return nil, err
			}
			if err := ledger.Post(cs, p, e, true); err != nil {
				return nil, err
			}
		}
	}

	if err := s.commit(ctx, cs); err != nil {
		return nil, err
	}

	slog.Info("dispute resolved",
		"dispute_id", d.ID,
		"swap_id", sw.ID,
		"resolution", d.Resolution,
		"at_fault_user_id", d.AtFaultUserID,
		"status", sw.Status,
	)
	s.publishMoves(ctx, moves)
	s.publish(ctx, domain.TopicDisputeResolved, d)
	return d, nil
}

func (s *Service) loadDisputeAndSwap(ctx context.Context, disputeID string) (*domain.Dispute, *domain.Swap, error) {
	if disputeID == "" {
		return nil, nil, domain.Invalid("disputeId is required")
	}
	d, err := s.repo.GetDispute(ctx, disputeID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, nil, domain.ErrDisputeNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	sw, err := s.loadSwap(ctx, d.SwapID)
	if err != nil {
		return nil, nil, err
	}
	return d, sw, nil
}
