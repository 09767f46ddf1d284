// Package proof implements payment proof submission, review and resubmission.
//
// The workflow is pure: it validates and mutates the records it is handed and
// never touches storage or timers. Deadlines are reported, not enforced; an
// external scheduler decides when to act on them.
package proof

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/billix-app/swaprules/internal/domain"
)

// SystemReviewer is recorded as reviewer on scheduler auto-accepts.
const SystemReviewer = "system"

// Policy holds the proof deadlines and limits.
type Policy struct {
	ReviewWindow     time.Duration
	AutoAcceptAfter  time.Duration
	MaxResubmissions int
}

// PolicyFrom extracts the proof policy from the service policy.
func PolicyFrom(p domain.PolicyConfig) Policy {
	return Policy{
		ReviewWindow:     p.ReviewWindow.Std(),
		AutoAcceptAfter:  p.AutoAcceptAfter.Std(),
		MaxResubmissions: p.MaxResubmissions,
	}
}

// Workflow applies the proof rules.
type Workflow struct {
	policy Policy
}

// New creates a proof workflow.
func New(policy Policy) *Workflow {
	return &Workflow{policy: policy}
}

// Policy returns the configured policy.
func (w *Workflow) Policy() Policy {
	return w.policy
}

// Submission is a new piece of evidence from one party.
type Submission struct {
	SubmitterID string
	Type        domain.ProofType
	FileRef     string
	Notes       string
}

func (s Submission) validate() error {
	if !s.Type.Valid() {
		return domain.Invalid("unknown proof type %q", s.Type)
	}
	if strings.TrimSpace(s.FileRef) == "" {
		return domain.Invalid("fileRef is required")
	}
	return nil
}

// Submit creates a proof for the swap. existing is every proof already filed
// for the swap; a party with a pending or accepted proof cannot submit again,
// and a party whose proof was rejected must resubmit instead.
func (w *Workflow) Submit(swap *domain.Swap, existing []*domain.Proof, sub Submission, now time.Time) (*domain.Proof, error) {
	if swap.Status != domain.SwapLocked && swap.Status != domain.SwapAwaitingProof {
		return nil, fmt.Errorf("%w: swap is %s", domain.ErrInvalidTransition, swap.Status)
	}
	if !swap.IsParty(sub.SubmitterID) {
		return nil, domain.ErrNotSwapParty
	}
	if !requiredFrom(swap, sub.SubmitterID) {
		return nil, domain.ErrProofNotRequired
	}
	if err := sub.validate(); err != nil {
		return nil, err
	}

	for _, p := range existing {
		if p.SubmitterID != sub.SubmitterID {
			continue
		}
		switch p.Status {
		case domain.ProofPendingReview, domain.ProofAccepted:
			return nil, domain.Invalid("proof already submitted")
		case domain.ProofRejected:
			return nil, domain.Invalid("rejected proof %s must be resubmitted", p.ID)
		}
	}

	return w.newProof(swap.ID, sub, now), nil
}

func (w *Workflow) newProof(swapID string, sub Submission, now time.Time) *domain.Proof {
	return &domain.Proof{
		ID:             uuid.New().String(),
		SwapID:         swapID,
		SubmitterID:    sub.SubmitterID,
		Type:           sub.Type,
		FileRef:        sub.FileRef,
		Notes:          sub.Notes,
		Status:         domain.ProofPendingReview,
		SubmittedAt:    now,
		ReviewDeadline: now.Add(w.policy.ReviewWindow),
	}
}

// Review accepts or rejects a pending proof. Only the other party of the
// swap, or an admin, may review.
func (w *Workflow) Review(p *domain.Proof, swap *domain.Swap, reviewerID string, admin, accepted bool, reason string, now time.Time) error {
	if !admin && (reviewerID == p.SubmitterID || swap.OtherParty(p.SubmitterID) != reviewerID) {
		return domain.ErrNotAuthorizedToReview
	}
	if p.Status != domain.ProofPendingReview {
		return domain.ErrProofAlreadyReviewed
	}
	if !accepted && strings.TrimSpace(reason) == "" {
		return domain.Invalid("rejectionReason is required")
	}

	reviewed := now
	p.ReviewerID = reviewerID
	p.ReviewedAt = &reviewed
	if accepted {
		p.Status = domain.ProofAccepted
		p.RejectionReason = ""
	} else {
		p.Status = domain.ProofRejected
		p.RejectionReason = reason
	}
	return nil
}

// CanResubmit reports whether a rejected proof still has a resubmission left.
func (w *Workflow) CanResubmit(p *domain.Proof) bool {
	return p.Status == domain.ProofRejected && p.ResubmissionCount < w.policy.MaxResubmissions
}

// Resubmit replaces a rejected proof. The original is marked RESUBMITTED and
// its count incremented; the replacement inherits the count so the chain
// cannot be resubmitted past the limit.
func (w *Workflow) Resubmit(original *domain.Proof, sub Submission, now time.Time) (*domain.Proof, error) {
	if sub.SubmitterID != original.SubmitterID {
		return nil, domain.ErrForbidden
	}
	if original.ResubmissionCount >= w.policy.MaxResubmissions {
		return nil, domain.ErrMaxResubmissionsReached
	}
	if original.Status != domain.ProofRejected {
		return nil, domain.ErrProofNotRejected
	}
	if err := sub.validate(); err != nil {
		return nil, err
	}

	original.Status = domain.ProofResubmitted
	original.ResubmissionCount++

	next := w.newProof(original.SwapID, sub, now)
	next.ResubmissionCount = original.ResubmissionCount
	next.OriginalProofID = original.ID
	if original.OriginalProofID != "" {
		next.OriginalProofID = original.OriginalProofID
	}
	return next, nil
}

// IsReviewOverdue reports a pending proof past its review deadline.
func (w *Workflow) IsReviewOverdue(p *domain.Proof, now time.Time) bool {
	return p.Status == domain.ProofPendingReview && now.After(p.ReviewDeadline)
}

// AutoAcceptDue reports whether the auto-accept horizon has passed for a
// pending proof.
func (w *Workflow) AutoAcceptDue(p *domain.Proof, now time.Time) bool {
	return p.Status == domain.ProofPendingReview && !now.Before(p.SubmittedAt.Add(w.policy.AutoAcceptAfter))
}

// AutoAccept accepts a pending proof on behalf of the scheduler.
func (w *Workflow) AutoAccept(p *domain.Proof, now time.Time) error {
	if !w.AutoAcceptDue(p, now) {
		return fmt.Errorf("%w: proof %s is not due for auto-accept", domain.ErrInvalidInput, p.ID)
	}
	reviewed := now
	p.Status = domain.ProofAccepted
	p.ReviewerID = SystemReviewer
	p.ReviewedAt = &reviewed
	return nil
}

// AllAccepted reports whether every party that owes proof has an accepted one.
func AllAccepted(swap *domain.Swap, proofs []*domain.Proof) bool {
	for _, uid := range swap.RequiredProofSubmitters() {
		found := false
		for _, p := range proofs {
			if p.SubmitterID == uid && p.Status == domain.ProofAccepted {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// LatestRejection returns when the most recent rejection among proofs was
// reviewed, or nil if none was rejected.
func LatestRejection(proofs []*domain.Proof) *time.Time {
	var latest *time.Time
	for _, p := range proofs {
		rejected := p.Status == domain.ProofRejected || (p.Status == domain.ProofResubmitted && p.RejectionReason != "")
		if !rejected || p.ReviewedAt == nil {
			continue
		}
		if latest == nil || p.ReviewedAt.After(*latest) {
			t := *p.ReviewedAt
			latest = &t
		}
	}
	return latest
}

func requiredFrom(swap *domain.Swap, userID string) bool {
	for _, uid := range swap.RequiredProofSubmitters() {
		if uid == userID {
			return true
		}
	}
	return false
}
