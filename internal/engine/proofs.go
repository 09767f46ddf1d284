package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/ledger"
	"github.com/billix-app/swaprules/internal/proof"
)

// ProofInput is a proof submission or resubmission.
type ProofInput struct {
	Type    domain.ProofType `json:"type"`
	FileRef string           `json:"fileRef"`
	Notes   string           `json:"notes,omitempty"`
}

// ProofReview is the reviewer's verdict.
type ProofReview struct {
	Accepted        bool   `json:"accepted"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}

// SubmitProof files payment evidence for a locked swap. The first proof
// moves the swap to AWAITING_PROOF.
func (s *Service) SubmitProof(ctx context.Context, actor Actor, swapID string, in ProofInput) (p *domain.Proof, err error) {
	ctx, end := s.begin(ctx, "submit_proof", attribute.String("swap_id", swapID))
	defer end(&err)

	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	sw, err := s.loadSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.ListProofs(ctx, sw.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p, err = s.proofs.Submit(sw, existing, proof.Submission{
		SubmitterID: actor.UserID,
		Type:        in.Type,
		FileRef:     in.FileRef,
		Notes:       in.Notes,
	}, now)
	if err != nil {
		return nil, err
	}

	cs := &domain.ChangeSet{Swap: sw, Proofs: []*domain.Proof{p}}
	var moves []domain.SwapEvent
	if sw.Status == domain.SwapLocked {
		if err := s.transition(sw, domain.SwapAwaitingProof, now, &moves, actor.UserID); err != nil {
			return nil, err
		}
	} else {
		sw.UpdatedAt = now
	}
	if err := s.commit(ctx, cs); err != nil {
		return nil, err
	}

	slog.Info("proof submitted",
		"swap_id", sw.ID,
		"proof_id", p.ID,
		"user_id", actor.UserID,
		"proof_type", p.Type,
	)
	s.publishMoves(ctx, moves)
	s.publish(ctx, domain.TopicProofSubmitted, p)
	return p, nil
}

// ReviewProof accepts or rejects a pending proof. When every required proof
// is accepted the swap completes.
func (s *Service) ReviewProof(ctx context.Context, actor Actor, proofID string, in ProofReview) (p *domain.Proof, err error) {
	ctx, end := s.begin(ctx, "review_proof", attribute.String("proof_id", proofID))
	defer end(&err)

	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	p, sw, err := s.loadProofAndSwap(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if sw.Status != domain.SwapAwaitingProof {
		return nil, fmt.Errorf("%w: swap is %s", domain.ErrInvalidTransition, sw.Status)
	}

	now := s.now()
	if err := s.proofs.Review(p, sw, actor.UserID, actor.Admin, in.Accepted, in.RejectionReason, now); err != nil {
		return nil, err
	}

	cs := &domain.ChangeSet{Swap: sw, Proofs: []*domain.Proof{p}}
	sw.UpdatedAt = now
	var moves []domain.SwapEvent
	if p.Status == domain.ProofAccepted {
		all, err := s.repo.ListProofs(ctx, sw.ID)
		if err != nil {
			return nil, err
		}
		if proof.AllAccepted(sw, withProof(all, p)) {
			if err := s.complete(ctx, cs, s.newProfiles(), sw, now, &moves, actor.UserID); err != nil {
				return nil, err
			}
		}
	}
	if err := s.commit(ctx, cs); err != nil {
		return nil, err
	}

	slog.Info("proof reviewed",
		"swap_id", sw.ID,
		"proof_id", p.ID,
		"reviewer_id", actor.UserID,
		"status", p.Status,
	)
	s.publishMoves(ctx, moves)
	s.publish(ctx, domain.TopicProofReviewed, p)
	return p, nil
}

// ResubmitProof replaces a rejected proof with new evidence.
func (s *Service) ResubmitProof(ctx context.Context, actor Actor, proofID string, in ProofInput) (p *domain.Proof, err error) {
	ctx, end := s.begin(ctx, "resubmit_proof", attribute.String("proof_id", proofID))
	defer end(&err)

	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	original, sw, err := s.loadProofAndSwap(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if sw.Status != domain.SwapAwaitingProof {
		return nil, fmt.Errorf("%w: swap is %s", domain.ErrInvalidTransition, sw.Status)
	}

	now := s.now()
	p, err = s.proofs.Resubmit(original, proof.Submission{
		SubmitterID: actor.UserID,
		Type:        in.Type,
		FileRef:     in.FileRef,
		Notes:       in.Notes,
	}, now)
	if err != nil {
		return nil, err
	}

	sw.UpdatedAt = now
	if err := s.commit(ctx, &domain.ChangeSet{Swap: sw, Proofs: []*domain.Proof{original, p}}); err != nil {
		return nil, err
	}

	slog.Info("proof resubmitted",
		"swap_id", sw.ID,
		"proof_id", p.ID,
		"original_proof_id", original.ID,
		"resubmission_count", p.ResubmissionCount,
	)
	s.publish(ctx, domain.TopicProofSubmitted, p)
	return p, nil
}

func (s *Service) loadProofAndSwap(ctx context.Context, proofID string) (*domain.Proof, *domain.Swap, error) {
	if proofID == "" {
		return nil, nil, domain.Invalid("proofId is required")
	}
	p, err := s.repo.GetProof(ctx, proofID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, nil, domain.ErrProofNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	sw, err := s.loadSwap(ctx, p.SwapID)
	if err != nil {
		return nil, nil, err
	}
	return p, sw, nil
}

// withProof returns all with the stored copy of p replaced by p.
func withProof(all []*domain.Proof, p *domain.Proof) []*domain.Proof {
	out := make([]*domain.Proof, 0, len(all)+1)
	found := false
	for _, q := range all {
		if q.ID == p.ID {
			out = append(out, p)
			found = true
			continue
		}
		out = append(out, q)
	}
	if !found {
		out = append(out, p)
	}
	return out
}

// complete closes the swap as COMPLETED, marks its bills paid and credits
// both parties.
func (s *Service) complete(ctx context.Context, cs *domain.ChangeSet, ps *profiles, sw *domain.Swap, now time.Time, moves *[]domain.SwapEvent, actorID string) error {
	if err := s.transition(sw, domain.SwapCompleted, now, moves, actorID); err != nil {
		return err
	}
	for _, id := range sw.BillIDs() {
		b, err := s.loadBill(ctx, id)
		if err != nil {
			return err
		}
		b.Status = domain.BillPaid
		b.UpdatedAt = now
		cs.Bills = append(cs.Bills, b)
	}

	for _, uid := range []string{sw.InitiatorID, sw.CounterpartyID} {
		if uid == "" {
			continue
		}
		p, err := ps.get(ctx, uid)
		if err != nil {
			return err
		}
		p.CompletedSwaps++
		p.UpdatedAt = now
		cs.AddProfile(p)
		if s.policy.CompletionPoints <= 0 {
			continue
		}
		e, err := ledger.NewEntry(uid, s.policy.CompletionPoints, domain.PointsSwapCompleted, sw.ID, "swap completed", now)
		if err != nil {
			return err
		}
		if err := ledger.Post(cs, p, e, false); err != nil {
			return err
		}
	}
	return nil
}
