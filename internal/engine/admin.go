package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/fees"
	"github.com/billix-app/swaprules/internal/ledger"
)

// BillInput registers a bill. Amount may be given as cents or as a decimal
// currency string such as "125.40".
type BillInput struct {
	OwnerID     string              `json:"ownerId,omitempty"`
	AmountCents int64               `json:"amountCents,omitempty"`
	Amount      string              `json:"amount,omitempty"`
	DueDate     time.Time           `json:"dueDate"`
	Provider    string              `json:"provider"`
	Category    domain.BillCategory `json:"category"`
}

// CreateBill registers an ACTIVE bill for the actor. Admins may register on
// behalf of another owner.
func (s *Service) CreateBill(ctx context.Context, actor Actor, in BillInput) (b *domain.Bill, err error) {
	ctx, end := s.begin(ctx, "create_bill")
	defer end(&err)

	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	owner := actor.UserID
	if in.OwnerID != "" && in.OwnerID != actor.UserID {
		if !actor.Admin {
			return nil, fmt.Errorf("%w: cannot create bills for another user", domain.ErrForbidden)
		}
		owner = in.OwnerID
	}

	cents := in.AmountCents
	if cents == 0 && in.Amount != "" {
		if cents, err = fees.ParseAmount(in.Amount); err != nil {
			return nil, domain.Invalid("%v", err)
		}
	}
	if cents <= 0 {
		return nil, domain.Invalid("amount must be positive")
	}
	if in.DueDate.IsZero() {
		return nil, domain.Invalid("dueDate is required")
	}
	if in.Category == "" {
		in.Category = domain.CategoryOther
	}
	if !in.Category.Valid() {
		return nil, domain.Invalid("unknown category %q", in.Category)
	}

	now := s.now()
	b = &domain.Bill{
		ID:          uuid.New().String(),
		OwnerID:     owner,
		AmountCents: cents,
		DueDate:     in.DueDate.UTC(),
		Provider:    strings.TrimSpace(in.Provider),
		Category:    in.Category,
		Status:      domain.BillActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.commit(ctx, &domain.ChangeSet{NewBills: []*domain.Bill{b}}); err != nil {
		return nil, err
	}

	slog.Info("bill created",
		"bill_id", b.ID,
		"owner_id", b.OwnerID,
		"amount", fees.FormatCents(b.AmountCents),
	)
	return b, nil
}

// RemoveBill withdraws a bill that is not part of a swap.
func (s *Service) RemoveBill(ctx context.Context, actor Actor, billID string) (b *domain.Bill, err error) {
	ctx, end := s.begin(ctx, "remove_bill", attribute.String("bill_id", billID))
	defer end(&err)

	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	b, err = s.loadBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != actor.UserID && !actor.Admin {
		return nil, fmt.Errorf("%w: bill %s belongs to another user", domain.ErrForbidden, b.ID)
	}
	if b.Status != domain.BillActive && b.Status != domain.BillDraft {
		return nil, fmt.Errorf("%w: bill %s is %s", domain.ErrBillUnavailable, b.ID, b.Status)
	}

	b.Status = domain.BillRemoved
	b.UpdatedAt = s.now()
	if err := s.commit(ctx, &domain.ChangeSet{Bills: []*domain.Bill{b}}); err != nil {
		return nil, err
	}
	slog.Info("bill removed", "bill_id", b.ID, "user_id", actor.UserID)
	return b, nil
}

// Grant is an admin points adjustment.
type Grant struct {
	Delta  int64               `json:"delta"`
	Reason domain.PointsReason `json:"reason"`
	Note   string              `json:"note,omitempty"`
}

// GrantPoints posts a REFERRAL or ADMIN_ADJUSTMENT entry for userID.
func (s *Service) GrantPoints(ctx context.Context, actor Actor, userID string, in Grant) (e *domain.LedgerEntry, err error) {
	ctx, end := s.begin(ctx, "grant_points", attribute.String("user_id", userID))
	defer end(&err)

	if err := actor.requireAdmin(); err != nil {
		return nil, err
	}
	if in.Reason == "" {
		in.Reason = domain.PointsAdminAdjustment
	}
	if in.Reason != domain.PointsReferral && in.Reason != domain.PointsAdminAdjustment {
		return nil, domain.Invalid("reason must be REFERRAL or ADMIN_ADJUSTMENT")
	}

	now := s.now()
	e, err = ledger.NewEntry(userID, in.Delta, in.Reason, "", in.Note, now)
	if err != nil {
		return nil, err
	}
	p, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	cs := &domain.ChangeSet{}
	if err := ledger.Post(cs, p, e, false); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, cs); err != nil {
		return nil, err
	}

	slog.Info("points granted",
		"user_id", userID,
		"admin_id", actor.UserID,
		"delta", e.Delta,
		"reason", e.Reason,
	)
	s.publish(ctx, domain.TopicPointsChanged, cs.Ledger)
	return e, nil
}

// SetIDVerified records the outcome of identity verification.
func (s *Service) SetIDVerified(ctx context.Context, actor Actor, userID string, verified bool) (p *domain.TrustProfile, err error) {
	ctx, end := s.begin(ctx, "set_id_verified", attribute.String("user_id", userID))
	defer end(&err)

	if err := actor.requireAdmin(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, domain.Invalid("userId is required")
	}
	p, err = s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.IDVerified = verified
	p.UpdatedAt = s.now()

	cs := &domain.ChangeSet{}
	cs.AddProfile(p)
	if err := s.commit(ctx, cs); err != nil {
		return nil, err
	}
	slog.Info("id verification updated", "user_id", userID, "verified", verified, "tier", p.Tier)
	return p, nil
}

// ListRules returns the stored policy rules.
func (s *Service) ListRules(ctx context.Context, actor Actor) ([]*domain.RuleConfig, error) {
	if err := actor.requireAdmin(); err != nil {
		return nil, err
	}
	return s.repo.ListRuleConfigs(ctx)
}

// SaveRule validates, stores and activates a policy rule.
func (s *Service) SaveRule(ctx context.Context, actor Actor, rule *domain.RuleConfig) (err error) {
	ctx, end := s.begin(ctx, "save_rule")
	defer end(&err)

	if err := actor.requireAdmin(); err != nil {
		return err
	}
	if rule == nil || rule.ID == "" || rule.Version == "" {
		return domain.Invalid("rule id and version are required")
	}
	if s.rules == nil {
		return fmt.Errorf("policy rules are disabled")
	}
	if err := s.rules.ValidateRule(rule); err != nil {
		return domain.Invalid("%v", err)
	}
	if err := s.repo.SaveRuleConfig(ctx, rule); err != nil {
		return err
	}
	_, err = s.ReloadRules(ctx, actor)
	return err
}

// ReloadRules replaces the loaded rule set with the stored one and returns
// the number of rules in force.
func (s *Service) ReloadRules(ctx context.Context, actor Actor) (int, error) {
	if err := actor.requireAdmin(); err != nil {
		return 0, err
	}
	if s.rules == nil {
		return 0, fmt.Errorf("policy rules are disabled")
	}
	return s.LoadStoredRules(ctx)
}

// LoadStoredRules loads the stored rules into the engine.
func (s *Service) LoadStoredRules(ctx context.Context) (int, error) {
	if s.rules == nil {
		return 0, nil
	}
	configs, err := s.repo.ListRuleConfigs(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.rules.ReloadRules(configs); err != nil {
		return 0, err
	}
	slog.Info("policy rules loaded", "count", s.rules.RulesCount())
	return s.rules.RulesCount(), nil
}
