// Package dispute implements filing and resolution of swap disputes.
package dispute

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/proof"
)

// Workflow applies the dispute rules.
type Workflow struct {
	window time.Duration
}

// New creates a dispute workflow with the given filing window.
func New(window time.Duration) *Workflow {
	return &Workflow{window: window}
}

// Filing is a dispute as submitted by the reporter.
type Filing struct {
	ReporterID  string
	ReportedID  string
	Reason      domain.DisputeReason
	Description string
	Evidence    []string
}

// WindowAnchor is the instant the filing window runs from: the latest proof
// rejection, or the proof-due deadline when nothing was rejected. Nil means
// the swap has no anchor and the window does not apply.
func WindowAnchor(swap *domain.Swap, proofs []*domain.Proof) *time.Time {
	if t := proof.LatestRejection(proofs); t != nil {
		return t
	}
	return swap.ProofDueAt
}

// Deadline returns the last instant a dispute may be filed, or nil.
func (w *Workflow) Deadline(swap *domain.Swap, proofs []*domain.Proof) *time.Time {
	anchor := WindowAnchor(swap, proofs)
	if anchor == nil {
		return nil
	}
	d := anchor.Add(w.window)
	return &d
}

// File validates a filing and returns the new dispute. existing holds the
// disputes already on record for the swap.
func (w *Workflow) File(swap *domain.Swap, existing []*domain.Dispute, proofs []*domain.Proof, f Filing, now time.Time) (*domain.Dispute, error) {
	if f.ReporterID == f.ReportedID {
		return nil, domain.ErrCannotDisputeOwnSwap
	}
	if !swap.IsParty(f.ReporterID) || !swap.IsParty(f.ReportedID) {
		return nil, domain.ErrNotSwapParty
	}
	if !f.Reason.Valid() {
		return nil, domain.Invalid("unknown dispute reason %q", f.Reason)
	}
	for _, d := range existing {
		if d.Status.IsActive() {
			return nil, domain.ErrAlreadyDisputed
		}
	}
	if deadline := w.Deadline(swap, proofs); deadline != nil && now.After(*deadline) {
		return nil, fmt.Errorf("%w: closed at %s", domain.ErrDisputeWindowExpired, deadline.Format(time.RFC3339))
	}

	return &domain.Dispute{
		ID:          uuid.New().String(),
		SwapID:      swap.ID,
		ReporterID:  f.ReporterID,
		ReportedID:  f.ReportedID,
		Reason:      f.Reason,
		Description: f.Description,
		Evidence:    append([]string(nil), f.Evidence...),
		Status:      domain.DisputeOpen,
		FiledAt:     now,
	}, nil
}

// Investigate moves an open dispute under investigation.
func (w *Workflow) Investigate(d *domain.Dispute) error {
	switch d.Status {
	case domain.DisputeOpen:
		d.Status = domain.DisputeInvestigating
		return nil
	case domain.DisputeInvestigating:
		return domain.Invalid("dispute %s is already under investigation", d.ID)
	}
	return domain.ErrDisputeClosed
}

// Resolve closes a dispute and returns the status the swap should move to.
// atFaultUserID is optional but, when given, must name one of the two sides.
func (w *Workflow) Resolve(d *domain.Dispute, resolution domain.DisputeResolution, atFaultUserID, resolverID string, now time.Time) (domain.SwapStatus, error) {
	if !d.Status.IsActive() {
		return "", domain.ErrDisputeClosed
	}
	if !resolution.Valid() {
		return "", domain.Invalid("unknown resolution %q", resolution)
	}
	if atFaultUserID != "" && atFaultUserID != d.ReporterID && atFaultUserID != d.ReportedID {
		return "", domain.Invalid("atFaultUserId must be the reporter or the reported user")
	}

	resolved := now
	d.Resolution = resolution
	d.AtFaultUserID = atFaultUserID
	d.ResolverID = resolverID
	d.ResolvedAt = &resolved

	switch resolution {
	case domain.ResolveSwapFailed:
		d.Status = domain.DisputeResolved
		return domain.SwapFailed, nil
	case domain.ResolveDismissed:
		d.Status = domain.DisputeDismissed
		return domain.SwapCompleted, nil
	default:
		d.Status = domain.DisputeResolved
		return domain.SwapCompleted, nil
	}
}
