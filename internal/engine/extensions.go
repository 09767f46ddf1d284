package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/billix-app/swaprules/internal/domain"
)

// ExtensionInput asks for a later proof deadline.
type ExtensionInput struct {
	Reason              string    `json:"reason"`
	RequestedDeadline   time.Time `json:"requestedDeadline"`
	PartialPaymentCents *int64    `json:"partialPaymentCents,omitempty"`
}

// RequestExtension files a request to move the proof deadline. The other
// party decides it.
func (s *Service) RequestExtension(ctx context.Context, actor Actor, swapID string, in ExtensionInput) (ext *domain.ExtensionRequest, err error) {
	ctx, end := s.begin(ctx, "request_extension", attribute.String("swap_id", swapID))
	defer end(&err)

	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	sw, err := s.loadSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if sw.Status != domain.SwapLocked && sw.Status != domain.SwapAwaitingProof {
		return nil, fmt.Errorf("%w: swap is %s", domain.ErrInvalidTransition, sw.Status)
	}
	if !sw.IsParty(actor.UserID) {
		return nil, domain.ErrNotSwapParty
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, domain.Invalid("reason is required")
	}
	if in.PartialPaymentCents != nil && *in.PartialPaymentCents < 0 {
		return nil, domain.Invalid("partialPaymentCents must not be negative")
	}
	if sw.ProofDueAt == nil {
		return nil, fmt.Errorf("%w: swap has no proof deadline", domain.ErrExtensionInvalid)
	}
	limit := sw.ProofDueAt.Add(s.policy.MaxExtension.Std())
	if !in.RequestedDeadline.After(*sw.ProofDueAt) || in.RequestedDeadline.After(limit) {
		return nil, fmt.Errorf("%w: must be after %s and no later than %s", domain.ErrExtensionInvalid,
			sw.ProofDueAt.Format(time.RFC3339), limit.Format(time.RFC3339))
	}

	existing, err := s.repo.ListExtensions(ctx, sw.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if e.Status == domain.ExtensionPending {
			return nil, domain.ErrExtensionPending
		}
	}

	now := s.now()
	ext = &domain.ExtensionRequest{
		ID:                  uuid.New().String(),
		SwapID:              sw.ID,
		RequesterID:         actor.UserID,
		Reason:              in.Reason,
		RequestedDeadline:   in.RequestedDeadline.UTC(),
		PartialPaymentCents: in.PartialPaymentCents,
		Status:              domain.ExtensionPending,
		CreatedAt:           now,
	}
	sw.UpdatedAt = now
	if err := s.commit(ctx, &domain.ChangeSet{Swap: sw, Extensions: []*domain.ExtensionRequest{ext}}); err != nil {
		return nil, err
	}

	slog.Info("extension requested",
		"swap_id", sw.ID,
		"extension_id", ext.ID,
		"user_id", actor.UserID,
		"requested_deadline", ext.RequestedDeadline,
	)
	s.publish(ctx, domain.TopicExtensionRequested, ext)
	return ext, nil
}

// DecideExtension approves or denies a pending extension. Approval moves the
// swap's proof deadline.
func (s *Service) DecideExtension(ctx context.Context, actor Actor, extensionID string, approve bool) (ext *domain.ExtensionRequest, err error) {
	ctx, end := s.begin(ctx, "decide_extension", attribute.String("extension_id", extensionID))
	defer end(&err)

	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	if extensionID == "" {
		return nil, domain.Invalid("extensionId is required")
	}
	ext, err = s.repo.GetExtension(ctx, extensionID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, domain.ErrExtensionNotFound
	}
	if err != nil {
		return nil, err
	}
	sw, err := s.loadSwap(ctx, ext.SwapID)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && sw.OtherParty(ext.RequesterID) != actor.UserID {
		return nil, fmt.Errorf("%w: only the other party may decide", domain.ErrForbidden)
	}
	if ext.Status != domain.ExtensionPending {
		return nil, domain.Invalid("extension %s is already %s", ext.ID, ext.Status)
	}

	now := s.now()
	ext.DecidedAt = stamp(now)
	ext.DeciderID = actor.UserID
	if approve {
		if sw.Status != domain.SwapLocked && sw.Status != domain.SwapAwaitingProof {
			return nil, fmt.Errorf("%w: swap is %s", domain.ErrInvalidTransition, sw.Status)
		}
		ext.Status = domain.ExtensionApproved
		sw.ProofDueAt = stamp(ext.RequestedDeadline)
	} else {
		ext.Status = domain.ExtensionDenied
	}
	sw.UpdatedAt = now

	if err := s.commit(ctx, &domain.ChangeSet{Swap: sw, Extensions: []*domain.ExtensionRequest{ext}}); err != nil {
		return nil, err
	}

	slog.Info("extension decided",
		"swap_id", sw.ID,
		"extension_id", ext.ID,
		"decider_id", actor.UserID,
		"status", ext.Status,
	)
	return ext, nil
}
