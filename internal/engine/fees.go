package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/ledger"
)

// PayFee settles the actor's facilitation fee. Once both parties have
// settled, the bills are locked and the proof deadline starts.
func (s *Service) PayFee(ctx context.Context, actor Actor, swapID string, method domain.FeePaymentMethod) (sw *domain.Swap, err error) {
	ctx, end := s.begin(ctx, "pay_fee",
		attribute.String("swap_id", swapID),
		attribute.String("method", string(method)),
	)
	defer end(&err)

	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	sw, err = s.loadSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if sw.Status != domain.SwapAcceptedPendingFee {
		return nil, fmt.Errorf("%w: swap is %s", domain.ErrInvalidTransition, sw.Status)
	}
	status, ok := sw.FeeStatusFor(actor.UserID)
	if !ok {
		return nil, domain.ErrNotSwapParty
	}

	now := s.now()
	if sw.FeeDeadline != nil && now.After(*sw.FeeDeadline) {
		return nil, fmt.Errorf("%w: fee deadline passed", domain.ErrDealExpired)
	}
	if status.Settled() {
		return nil, domain.ErrFeeAlreadySettled
	}

	cs := &domain.ChangeSet{Swap: sw}
	switch method {
	case domain.FeeMethodCard:
		status = domain.FeePaid
	case domain.FeeMethodPointsWaiver:
		p, err := s.loadProfile(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		e, err := ledger.NewEntry(actor.UserID, -s.policy.FeeWaiverPoints, domain.PointsFeeWaiver, sw.ID, "fee waiver", now)
		if err != nil {
			return nil, err
		}
		if err := ledger.Post(cs, p, e, false); err != nil {
			return nil, err
		}
		status = domain.FeeWaived
	default:
		return nil, domain.Invalid("unknown payment method %q", method)
	}

	if actor.UserID == sw.InitiatorID {
		sw.InitiatorFeeStatus = status
	} else {
		sw.CounterpartyFeeStatus = status
	}
	sw.UpdatedAt = now

	var moves []domain.SwapEvent
	if sw.FeesSettled() {
		if err := s.lock(ctx, cs, sw, &moves, actor.UserID); err != nil {
			return nil, err
		}
	}

	if err := s.commit(ctx, cs); err != nil {
		return nil, err
	}

	slog.Info("fee settled",
		"swap_id", sw.ID,
		"user_id", actor.UserID,
		"method", method,
		"status", sw.Status,
	)
	s.publishMoves(ctx, moves)
	if len(cs.Ledger) > 0 {
		s.publish(ctx, domain.TopicPointsChanged, cs.Ledger)
	}
	return sw, nil
}

// lock moves the swap to LOCKED, locks its bills and sets the proof deadline
// from the accepted terms.
func (s *Service) lock(ctx context.Context, cs *domain.ChangeSet, sw *domain.Swap, moves *[]domain.SwapEvent, actorID string) error {
	now := s.now()
	for _, id := range sw.BillIDs() {
		b, err := s.loadBill(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != domain.BillActive {
			return fmt.Errorf("%w: bill %s is %s", domain.ErrBillUnavailable, b.ID, b.Status)
		}
		b.Status = domain.BillLocked
		b.UpdatedAt = now
		cs.Bills = append(cs.Bills, b)
	}

	deals, err := s.repo.ListDeals(ctx, sw.ID)
	if err != nil {
		return err
	}
	window := s.policy.DefaultProofWindow.Std()
	if d := acceptedDeal(deals); d != nil && d.Terms.ProofWindowHours > 0 {
		window = hours(d.Terms.ProofWindowHours)
	}
	if err := s.transition(sw, domain.SwapLocked, now, moves, actorID); err != nil {
		return err
	}
	sw.ProofDueAt = stamp(now.Add(window))
	return nil
}

// releaseBills returns locked bills to the market.
func (s *Service) releaseBills(ctx context.Context, cs *domain.ChangeSet, sw *domain.Swap) error {
	now := s.now()
	for _, id := range sw.BillIDs() {
		b, err := s.loadBill(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != domain.BillLocked {
			continue
		}
		b.Status = domain.BillActive
		b.UpdatedAt = now
		cs.Bills = append(cs.Bills, b)
	}
	return nil
}
