package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/fees"
	"github.com/billix-app/swaprules/internal/ledger"
	"github.com/billix-app/swaprules/internal/metrics"
	"github.com/billix-app/swaprules/internal/rules"
	"github.com/billix-app/swaprules/internal/tier"
	"github.com/billix-app/swaprules/internal/velocity"
)

// Proposal opens a swap.
type Proposal struct {
	BillAID        string          `json:"billAId"`
	BillBID        string          `json:"billBId,omitempty"`
	CounterpartyID string          `json:"counterpartyId,omitempty"`
	Type           domain.SwapType `json:"type"`
	Terms          *domain.Terms   `json:"terms,omitempty"`
}

// Response answers the current deal of a swap.
type Response struct {
	Action domain.ResponseAction `json:"action"`
	Terms  *domain.Terms         `json:"terms,omitempty"`
}

// ProposeSwap validates eligibility of the initiator and creates an OFFERED
// swap with its first deal.
func (s *Service) ProposeSwap(ctx context.Context, actor Actor, in Proposal) (sw *domain.Swap, err error) {
	ctx, end := s.begin(ctx, "propose_swap", attribute.String("user_id", actor.UserID))
	defer end(&err)

	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = domain.SwapTwoSided
	}
	if !in.Type.Valid() {
		return nil, domain.Invalid("unknown swap type %q", in.Type)
	}

	billA, err := s.loadBill(ctx, in.BillAID)
	if err != nil {
		return nil, err
	}
	if billA.OwnerID != actor.UserID {
		return nil, fmt.Errorf("%w: bill %s belongs to another user", domain.ErrForbidden, billA.ID)
	}
	if !billA.Matchable() {
		return nil, fmt.Errorf("%w: bill %s is %s", domain.ErrBillUnavailable, billA.ID, billA.Status)
	}

	var billB *domain.Bill
	counterparty := in.CounterpartyID
	switch in.Type {
	case domain.SwapTwoSided:
		if in.BillBID == "" {
			return nil, domain.Invalid("billBId is required for a two-sided swap")
		}
		billB, err = s.loadBill(ctx, in.BillBID)
		if err != nil {
			return nil, err
		}
		if billB.OwnerID == actor.UserID {
			return nil, domain.ErrCannotSwapOwnBill
		}
		if !billB.Matchable() {
			return nil, fmt.Errorf("%w: bill %s is %s", domain.ErrBillUnavailable, billB.ID, billB.Status)
		}
		if counterparty != "" && counterparty != billB.OwnerID {
			return nil, domain.Invalid("counterpartyId must own billBId")
		}
		counterparty = billB.OwnerID
	case domain.SwapOneSidedAssist:
		if in.BillBID != "" {
			return nil, domain.Invalid("a one-sided assist carries no second bill")
		}
		if counterparty == actor.UserID {
			return nil, domain.ErrCannotSwapOwnBill
		}
	}

	profile, err := s.loadProfile(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	userTier := profile.Tier

	if !tier.CanSwapAmount(userTier, billA.AmountCents) {
		return nil, fmt.Errorf("%w: %s limit for %s", domain.ErrTierCapExceeded, fees.FormatCents(billA.AmountCents), userTier)
	}
	if billB != nil && !tier.CanSwapAmount(userTier, billB.AmountCents) {
		return nil, fmt.Errorf("%w: %s limit for %s", domain.ErrTierCapExceeded, fees.FormatCents(billB.AmountCents), userTier)
	}
	if in.Type == domain.SwapOneSidedAssist && !tier.CanRequestOneSided(userTier) {
		return nil, domain.ErrOneSidedIneligible
	}

	terms := s.defaultTerms(billA, billB)
	if in.Terms != nil {
		terms = mergeTerms(terms, *in.Terms)
	}
	if err := validateTerms(in.Type, terms); err != nil {
		return nil, err
	}
	if err := termsWithinBills(terms, billA, billB); err != nil {
		return nil, err
	}

	active, err := s.velocity.ActiveSwaps(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !tier.CanStartSwap(userTier, active) {
		return nil, fmt.Errorf("%w: %d of %d", domain.ErrMaxActiveSwaps, active, tier.For(userTier).MaxActiveSwaps)
	}

	// Proposals rejected by policy still count toward the hourly limit.
	proposals, err := s.velocity.RecordProposal(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !velocity.Allowed(proposals, s.policy.MaxProposalsPerHour) {
		return nil, domain.ErrRateLimited
	}

	now := s.now()
	facts := &rules.Facts{
		InitiatorID:       actor.UserID,
		AmountCents:       billA.AmountCents,
		SwapType:          in.Type,
		Category:          billA.Category,
		DaysUntilDue:      int(billA.DueDate.Sub(now).Hours() / 24),
		InitiatorTier:     userTier,
		InitiatorPoints:   profile.Points,
		ActiveSwaps:       active,
		ProposalsLastHour: proposals,
	}
	if billB != nil {
		facts.BillBAmountCents = billB.AmountCents
	}
	if counterparty != "" {
		if snap, err := s.snapshot(ctx, counterparty); err == nil {
			facts.CounterpartyTier = snap.Tier
		}
	}
	notes, err := s.applyPolicy(ctx, facts)
	if err != nil {
		return nil, err
	}

	acceptBy := now.Add(s.policy.DealExpiry.Std())
	sw = &domain.Swap{
		ID:             uuid.New().String(),
		Type:           in.Type,
		Status:         domain.SwapOffered,
		InitiatorID:    actor.UserID,
		CounterpartyID: counterparty,
		BillAID:        billA.ID,
		AcceptDeadline: &acceptBy,
		CreatedAt:      now,
		UpdatedAt:      now,
		PolicyNotes:    notes,
	}
	if billB != nil {
		sw.BillBID = billB.ID
	}
	deal := &domain.Deal{
		ID:         uuid.New().String(),
		SwapID:     sw.ID,
		Version:    1,
		ProposerID: actor.UserID,
		Terms:      terms,
		Status:     domain.DealProposed,
		CreatedAt:  now,
		ExpiresAt:  acceptBy,
	}

	if err := s.commit(ctx, &domain.ChangeSet{NewSwap: sw, Deals: []*domain.Deal{deal}}); err != nil {
		return nil, err
	}

	slog.Info("swap proposed",
		"swap_id", sw.ID,
		"initiator_id", sw.InitiatorID,
		"counterparty_id", sw.CounterpartyID,
		"swap_type", sw.Type,
		"policy_notes", len(notes),
	)
	s.publish(ctx, domain.TopicSwapProposed, sw)
	s.publishMoves(ctx, []domain.SwapEvent{{
		SwapID:    sw.ID,
		To:        sw.Status,
		ActorID:   actor.UserID,
		Timestamp: now.Format(time.RFC3339Nano),
	}})
	return sw, nil
}

// applyPolicy runs the proposal rules. A reject decision fails the proposal;
// a review decision returns notes stored on the swap. Evaluation failures
// never block a proposal.
func (s *Service) applyPolicy(ctx context.Context, facts *rules.Facts) ([]string, error) {
	if s.rules == nil || s.rules.RulesCount() == 0 {
		return nil, nil
	}
	results, err := s.rules.EvaluateAll(ctx, facts)
	if err != nil {
		slog.Warn("policy evaluation failed", "user_id", facts.InitiatorID, "error", err)
		return nil, nil
	}

	decision := s.decider.Decide(results)
	metrics.PolicyDecisions.WithLabelValues(string(decision.Outcome)).Inc()

	switch decision.Outcome {
	case rules.OutcomeReject:
		slog.Info("proposal rejected by policy",
			"user_id", facts.InitiatorID,
			"rules_triggered", decision.RulesTriggered,
			"score", decision.Score,
		)
		return nil, fmt.Errorf("%w: %s", domain.ErrPolicyRejected, strings.Join(decision.Reasons, "; "))
	case rules.OutcomeReview:
		return decision.Reasons, nil
	}
	return nil, nil
}

func (s *Service) defaultTerms(billA, billB *domain.Bill) domain.Terms {
	t := domain.Terms{
		PaymentOrder:         domain.PaySimultaneous,
		InitiatorAmountCents: billA.AmountCents,
		ProofWindowHours:     int(s.policy.DefaultProofWindow.Std() / time.Hour),
		ProofType:            domain.ProofScreenshot,
		Fallback:             domain.FallbackRefundFees,
	}
	if billB != nil {
		t.CounterpartyAmountCents = billB.AmountCents
	}
	return t
}

// mergeTerms overlays the non-zero fields of in onto base.
func mergeTerms(base, in domain.Terms) domain.Terms {
	if in.PaymentOrder != "" {
		base.PaymentOrder = in.PaymentOrder
	}
	if in.InitiatorAmountCents != 0 {
		base.InitiatorAmountCents = in.InitiatorAmountCents
	}
	if in.CounterpartyAmountCents != 0 {
		base.CounterpartyAmountCents = in.CounterpartyAmountCents
	}
	if in.ProofWindowHours != 0 {
		base.ProofWindowHours = in.ProofWindowHours
	}
	if in.ProofType != "" {
		base.ProofType = in.ProofType
	}
	if in.Fallback != "" {
		base.Fallback = in.Fallback
	}
	return base
}

// maxTermCents is the largest bill any tier may swap.
var maxTermCents = tier.For(domain.TierElite).MaxBillCents

func validateTerms(t domain.SwapType, terms domain.Terms) error {
	switch terms.PaymentOrder {
	case domain.PaySimultaneous, domain.PayInitiatorFirst, domain.PayCounterpartyFirst:
	default:
		return domain.Invalid("unknown payment order %q", terms.PaymentOrder)
	}
	switch terms.Fallback {
	case domain.FallbackRefundFees, domain.FallbackExtendDeadline, domain.FallbackAdminReview:
	default:
		return domain.Invalid("unknown fallback %q", terms.Fallback)
	}
	if !terms.ProofType.Valid() {
		return domain.Invalid("unknown proof type %q", terms.ProofType)
	}
	if terms.ProofWindowHours <= 0 {
		return domain.Invalid("proofWindowHours must be positive")
	}
	if terms.InitiatorAmountCents <= 0 {
		return domain.Invalid("initiatorAmountCents must be positive")
	}
	if t == domain.SwapTwoSided && terms.CounterpartyAmountCents <= 0 {
		return domain.Invalid("counterpartyAmountCents must be positive")
	}
	if t == domain.SwapOneSidedAssist && terms.CounterpartyAmountCents != 0 {
		return domain.Invalid("a one-sided assist carries no counterparty amount")
	}
	if terms.InitiatorAmountCents > maxTermCents || terms.CounterpartyAmountCents > maxTermCents {
		return domain.Invalid("amounts may not exceed %s", fees.FormatCents(maxTermCents))
	}
	return nil
}

// termsWithinBills rejects amounts larger than the bills they pay toward.
func termsWithinBills(terms domain.Terms, billA, billB *domain.Bill) error {
	if terms.InitiatorAmountCents > billA.AmountCents {
		return domain.Invalid("initiatorAmountCents exceeds bill %s (%s)", billA.ID, fees.FormatCents(billA.AmountCents))
	}
	if billB != nil && terms.CounterpartyAmountCents > billB.AmountCents {
		return domain.Invalid("counterpartyAmountCents exceeds bill %s (%s)", billB.ID, fees.FormatCents(billB.AmountCents))
	}
	return nil
}

// RespondToSwap accepts, counters or rejects the current deal.
func (s *Service) RespondToSwap(ctx context.Context, actor Actor, swapID string, in Response) (sw *domain.Swap, err error) {
	ctx, end := s.begin(ctx, "respond_to_swap",
		attribute.String("swap_id", swapID),
		attribute.String("action", string(in.Action)),
	)
	defer end(&err)

	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	sw, err = s.loadSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if !sw.Status.IsNegotiating() {
		return nil, fmt.Errorf("%w: swap is %s", domain.ErrInvalidTransition, sw.Status)
	}

	deals, err := s.repo.ListDeals(ctx, sw.ID)
	if err != nil {
		return nil, err
	}
	deal := currentDeal(deals)
	if deal == nil || deal.Status != domain.DealProposed {
		return nil, fmt.Errorf("%w: no open deal on swap %s", domain.ErrInvalidTransition, sw.ID)
	}

	now := s.now()
	cs := &domain.ChangeSet{Swap: sw}

	// An open assist has no supporter yet; the first responder claims it.
	if sw.Type == domain.SwapOneSidedAssist && sw.CounterpartyID == "" {
		if actor.UserID == sw.InitiatorID {
			return nil, domain.ErrNotYourTurn
		}
		if err := s.claimAssist(ctx, sw, actor.UserID); err != nil {
			return nil, err
		}
	} else {
		if !sw.IsParty(actor.UserID) {
			return nil, domain.ErrNotSwapParty
		}
		if deal.ProposerID == actor.UserID {
			return nil, domain.ErrNotYourTurn
		}
	}
	if deal.IsExpired(now) {
		return nil, domain.ErrDealExpired
	}

	var moves []domain.SwapEvent
	switch in.Action {
	case domain.RespondAccept:
		if err := s.checkCommit(ctx, sw, deal.Terms); err != nil {
			return nil, err
		}
		deal.Status = domain.DealAccepted
		deal.DecidedAt = stamp(now)

		var billB *int64
		if sw.Type == domain.SwapTwoSided {
			b := deal.Terms.CounterpartyAmountCents
			billB = &b
		}
		f := fees.CalculateTotalFees(deal.Terms.InitiatorAmountCents, billB, sw.Type)
		sw.InitiatorFeeCents = f.InitiatorTotalCents
		sw.CounterpartyFeeCents = f.CounterpartyTotalCents
		sw.SpreadFeeCents = f.SpreadFeeCents
		sw.InitiatorFeeStatus = initialFeeStatus(f.InitiatorTotalCents)
		sw.CounterpartyFeeStatus = initialFeeStatus(f.CounterpartyTotalCents)
		sw.FeeDeadline = stamp(now.Add(s.policy.FeeDeadline.Std()))

		if err := s.transition(sw, domain.SwapAcceptedPendingFee, now, &moves, actor.UserID); err != nil {
			return nil, err
		}

	case domain.RespondCounter:
		if in.Terms == nil {
			return nil, domain.Invalid("terms are required to counter")
		}
		terms := mergeTerms(deal.Terms, *in.Terms)
		if err := validateTerms(sw.Type, terms); err != nil {
			return nil, err
		}
		billA, err := s.loadBill(ctx, sw.BillAID)
		if err != nil {
			return nil, err
		}
		var billB *domain.Bill
		if sw.BillBID != "" {
			if billB, err = s.loadBill(ctx, sw.BillBID); err != nil {
				return nil, err
			}
		}
		if err := termsWithinBills(terms, billA, billB); err != nil {
			return nil, err
		}
		if err := s.transition(sw, domain.SwapCountered, now, &moves, actor.UserID); err != nil {
			return nil, err
		}
		deal.Status = domain.DealCountered
		deal.DecidedAt = stamp(now)

		next := &domain.Deal{
			ID:         uuid.New().String(),
			SwapID:     sw.ID,
			Version:    deal.Version + 1,
			ProposerID: actor.UserID,
			Terms:      terms,
			Status:     domain.DealProposed,
			CreatedAt:  now,
			ExpiresAt:  now.Add(s.policy.DealExpiry.Std()),
		}
		cs.Deals = append(cs.Deals, next)
		sw.AcceptDeadline = stamp(next.ExpiresAt)

	case domain.RespondReject:
		if err := s.transition(sw, domain.SwapCancelled, now, &moves, actor.UserID); err != nil {
			return nil, err
		}
		deal.Status = domain.DealRejected
		deal.DecidedAt = stamp(now)

	default:
		return nil, domain.Invalid("unknown action %q", in.Action)
	}

	cs.Deals = append([]*domain.Deal{deal}, cs.Deals...)
	if err := s.commit(ctx, cs); err != nil {
		return nil, err
	}

	slog.Info("swap response recorded",
		"swap_id", sw.ID,
		"user_id", actor.UserID,
		"action", in.Action,
		"status", sw.Status,
	)
	s.publishMoves(ctx, moves)
	return sw, nil
}

// claimAssist makes userID the supporter of an open one-sided assist.
func (s *Service) claimAssist(ctx context.Context, sw *domain.Swap, userID string) error {
	p, err := s.loadProfile(ctx, userID)
	if err != nil {
		return err
	}
	active, err := s.repo.CountActiveSwaps(ctx, userID)
	if err != nil {
		return err
	}
	if !tier.CanStartSwap(p.Tier, active) {
		return fmt.Errorf("%w: %d of %d", domain.ErrMaxActiveSwaps, active, tier.For(p.Tier).MaxActiveSwaps)
	}
	sw.CounterpartyID = userID
	return nil
}

// checkCommit runs before a deal is accepted. The agreed amounts must fit the
// initiator's current tier, and neither party may already hold as many
// accepted swaps as their tier allows.
func (s *Service) checkCommit(ctx context.Context, sw *domain.Swap, terms domain.Terms) error {
	for _, uid := range []string{sw.InitiatorID, sw.CounterpartyID} {
		p, err := s.loadProfile(ctx, uid)
		if err != nil {
			return err
		}
		if uid == sw.InitiatorID {
			limit := tier.For(p.Tier).MaxBillCents
			for _, cents := range []int64{terms.InitiatorAmountCents, terms.CounterpartyAmountCents} {
				if cents > limit {
					return fmt.Errorf("%w: %s limit for %s", domain.ErrTierCapExceeded, fees.FormatCents(cents), p.Tier)
				}
			}
		}
		committed, err := s.repo.CountCommittedSwaps(ctx, uid)
		if err != nil {
			return err
		}
		if !tier.CanStartSwap(p.Tier, committed) {
			return fmt.Errorf("%w: %s holds %d of %d", domain.ErrMaxActiveSwaps, uid, committed, tier.For(p.Tier).MaxActiveSwaps)
		}
	}
	return nil
}

func initialFeeStatus(cents int64) domain.FeeStatus {
	if cents == 0 {
		return domain.FeeNotRequired
	}
	return domain.FeeUnpaid
}

// CancelSwap withdraws a swap before bills are locked. Points spent on fee
// waivers are refunded.
func (s *Service) CancelSwap(ctx context.Context, actor Actor, swapID string) (sw *domain.Swap, err error) {
	ctx, end := s.begin(ctx, "cancel_swap", attribute.String("swap_id", swapID))
	defer end(&err)

	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	sw, err = s.loadSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && !sw.IsParty(actor.UserID) {
		return nil, domain.ErrNotSwapParty
	}

	now := s.now()
	cs := &domain.ChangeSet{Swap: sw}
	var moves []domain.SwapEvent
	if err := s.closeEarly(ctx, cs, sw, domain.SwapCancelled, domain.DealRejected, "swap cancelled", now, &moves, actor.UserID); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, cs); err != nil {
		return nil, err
	}

	slog.Info("swap cancelled", "swap_id", sw.ID, "user_id", actor.UserID)
	s.publishMoves(ctx, moves)
	return sw, nil
}

// closeEarly moves a pre-lock swap to a terminal status, closes its open
// deal and refunds fee waivers.
func (s *Service) closeEarly(ctx context.Context, cs *domain.ChangeSet, sw *domain.Swap, to domain.SwapStatus, dealStatus domain.DealStatus, note string, now time.Time, moves *[]domain.SwapEvent, actorID string) error {
	if err := s.transition(sw, to, now, moves, actorID); err != nil {
		return err
	}

	deals, err := s.repo.ListDeals(ctx, sw.ID)
	if err != nil {
		return err
	}
	for _, d := range deals {
		if d.Status == domain.DealProposed {
			d.Status = dealStatus
			d.DecidedAt = stamp(now)
			cs.Deals = append(cs.Deals, d)
		}
	}
	return s.refundWaivers(ctx, cs, s.newProfiles(), sw, note, now)
}

// refundWaivers reverses every fee waiver entry posted for the swap by a
// party other than skip.
func (s *Service) refundWaivers(ctx context.Context, cs *domain.ChangeSet, ps *profiles, sw *domain.Swap, note string, now time.Time, skip ...string) error {
	for _, uid := range []string{sw.InitiatorID, sw.CounterpartyID} {
		status, _ := sw.FeeStatusFor(uid)
		if uid == "" || status != domain.FeeWaived || slices.Contains(skip, uid) {
			continue
		}
		entries, err := s.repo.ListLedgerEntries(ctx, uid)
		if err != nil {
			return err
		}
		p, err := ps.get(ctx, uid)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.SwapID != sw.ID || e.Reason != domain.PointsFeeWaiver {
				continue
			}
			if err := ledger.Post(cs, p, ledger.Reverse(e, note, now), true); err != nil {
				return err
			}
		}
	}
	return nil
}
