package engine

import (
	"context"
	"fmt"

	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/fees"
	"github.com/billix-app/swaprules/internal/ledger"
	"github.com/billix-app/swaprules/internal/match"
	"github.com/billix-app/swaprules/internal/tier"
)

// TrustView is a user's derived trust state. Profile is only filled in for
// the user themselves and admins.
type TrustView struct {
	Snapshot *domain.TrustSnapshot `json:"snapshot"`
	Limits   tier.Requirements     `json:"limits"`
	Profile  *domain.TrustProfile  `json:"profile,omitempty"`
}

// PointsView is a user's points balance and history.
type PointsView struct {
	UserID  string                `json:"userId"`
	Balance int64                 `json:"balance"`
	Entries []*domain.LedgerEntry `json:"entries"`
}

// GetBill returns a bill visible to the actor: their own, any bill for an
// admin, or one open for matching.
func (s *Service) GetBill(ctx context.Context, actor Actor, billID string) (*domain.Bill, error) {
	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	b, err := s.loadBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != actor.UserID && !actor.Admin && !b.Matchable() {
		return nil, domain.ErrBillNotFound
	}
	return b, nil
}

// canView reports whether actor may read sw. Open assists without a
// supporter are visible to everyone.
func canView(sw *domain.Swap, actor Actor) bool {
	if actor.Admin || sw.IsParty(actor.UserID) {
		return true
	}
	return sw.Type == domain.SwapOneSidedAssist && sw.CounterpartyID == "" && sw.Status.IsNegotiating()
}

func (s *Service) viewSwap(ctx context.Context, actor Actor, swapID string) (*domain.Swap, error) {
	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	sw, err := s.loadSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if !canView(sw, actor) {
		return nil, domain.ErrNotSwapParty
	}
	return sw, nil
}

// GetSwap returns a swap.
func (s *Service) GetSwap(ctx context.Context, actor Actor, swapID string) (*domain.Swap, error) {
	return s.viewSwap(ctx, actor, swapID)
}

// ListDeals returns every deal version of a swap, oldest first.
func (s *Service) ListDeals(ctx context.Context, actor Actor, swapID string) ([]*domain.Deal, error) {
	sw, err := s.viewSwap(ctx, actor, swapID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDeals(ctx, sw.ID)
}

// ListProofs returns the proofs filed for a swap.
func (s *Service) ListProofs(ctx context.Context, actor Actor, swapID string) ([]*domain.Proof, error) {
	sw, err := s.viewSwap(ctx, actor, swapID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProofs(ctx, sw.ID)
}

// ListDisputes returns the disputes filed on a swap.
func (s *Service) ListDisputes(ctx context.Context, actor Actor, swapID string) ([]*domain.Dispute, error) {
	sw, err := s.viewSwap(ctx, actor, swapID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDisputes(ctx, sw.ID)
}

// ListExtensions returns the extension requests of a swap.
func (s *Service) ListExtensions(ctx context.Context, actor Actor, swapID string) ([]*domain.ExtensionRequest, error) {
	sw, err := s.viewSwap(ctx, actor, swapID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListExtensions(ctx, sw.ID)
}

// Trust returns the trust view of userID. The tier is always recomputed.
func (s *Service) Trust(ctx context.Context, actor Actor, userID string) (*TrustView, error) {
	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, domain.Invalid("userId is required")
	}
	snap, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	view := &TrustView{Snapshot: snap, Limits: tier.For(snap.Tier)}
	if actor.Admin || actor.UserID == userID {
		if view.Profile, err = s.loadProfile(ctx, userID); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// Points returns the balance and ledger history of userID.
func (s *Service) Points(ctx context.Context, actor Actor, userID string) (*PointsView, error) {
	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	if !actor.Admin && actor.UserID != userID {
		return nil, fmt.Errorf("%w: points are private", domain.ErrForbidden)
	}
	entries, err := s.repo.ListLedgerEntries(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &PointsView{UserID: userID, Balance: ledger.Balance(entries), Entries: entries}, nil
}

// Matches ranks the bills of other users against one of the actor's bills.
func (s *Service) Matches(ctx context.Context, actor Actor, billID string, limit int) ([]match.Result, error) {
	if err := actor.authenticate(); err != nil {
		return nil, err
	}
	bill, err := s.loadBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.OwnerID != actor.UserID && !actor.Admin {
		return nil, fmt.Errorf("%w: bill %s belongs to another user", domain.ErrForbidden, bill.ID)
	}

	candidates, err := s.repo.ListMatchableBills(ctx, bill.OwnerID, 0)
	if err != nil {
		return nil, err
	}
	owner, err := s.snapshot(ctx, bill.OwnerID)
	if err != nil {
		return nil, err
	}
	partners := make(map[string]*domain.TrustSnapshot)
	for _, c := range candidates {
		if _, ok := partners[c.OwnerID]; ok {
			continue
		}
		snap, err := s.snapshot(ctx, c.OwnerID)
		if err != nil {
			return nil, err
		}
		partners[c.OwnerID] = snap
	}

	ranked := match.Rank(bill, owner.Tier, candidates, partners, s.now())
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// FeeQuote asks for the fees of a prospective swap.
type FeeQuote struct {
	Type       domain.SwapType `json:"type"`
	BillACents int64           `json:"billACents"`
	BillBCents *int64          `json:"billBCents,omitempty"`
}

// QuoteFees computes the fees of a prospective swap without recording it.
func (s *Service) QuoteFees(in FeeQuote) (fees.Fees, error) {
	if in.Type == "" {
		in.Type = domain.SwapTwoSided
	}
	if !in.Type.Valid() {
		return fees.Fees{}, domain.Invalid("unknown swap type %q", in.Type)
	}
	if in.BillACents <= 0 {
		return fees.Fees{}, domain.Invalid("billACents must be positive")
	}
	if in.Type == domain.SwapTwoSided && (in.BillBCents == nil || *in.BillBCents <= 0) {
		return fees.Fees{}, domain.Invalid("billBCents must be positive for a two-sided swap")
	}
	return fees.CalculateTotalFees(in.BillACents, in.BillBCents, in.Type), nil
}
