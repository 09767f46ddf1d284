// Package engine implements the swap lifecycle operations.
//
// Every operation reads a snapshot through the repository, computes the next
// state with the rule packages and commits it with one Repository.Apply. A
// failed operation writes nothing. Lifecycle events are published after
// commit and are best effort.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/billix-app/swaprules/internal/bus"
	"github.com/billix-app/swaprules/internal/cache"
	"github.com/billix-app/swaprules/internal/dispute"
	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/lifecycle"
	"github.com/billix-app/swaprules/internal/metrics"
	"github.com/billix-app/swaprules/internal/proof"
	"github.com/billix-app/swaprules/internal/rules"
	"github.com/billix-app/swaprules/internal/tier"
	"github.com/billix-app/swaprules/internal/velocity"
)

var tracer = otel.Tracer("swaprules-engine")

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Admin  bool
}

func (a Actor) authenticate() error {
	if a.UserID == "" {
		return domain.ErrNotAuthenticated
	}
	return nil
}

func (a Actor) requireAdmin() error {
	if err := a.authenticate(); err != nil {
		return err
	}
	if !a.Admin {
		return fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	return nil
}

// Deps are the collaborators of a Service. Repo is required; a nil Cache
// falls back to an in-process LRU, a nil Bus disables events and a nil
// Rules engine disables proposal policy.
type Deps struct {
	Repo       domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Rules      *rules.Engine
	Policy     domain.PolicyConfig
	ProfileTTL time.Duration
	Clock      domain.Clock
}

// Service runs swap lifecycle operations.
type Service struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	rules      *rules.Engine
	decider    *rules.Processor
	velocity   *velocity.Service
	machine    *lifecycle.StateMachine
	proofs     *proof.Workflow
	disputes   *dispute.Workflow
	policy     domain.PolicyConfig
	profileTTL time.Duration
	clock      domain.Clock
}

// New creates a Service.
func New(d Deps) (*Service, error) {
	if d.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if d.Cache == nil {
		d.Cache = cache.NewLRUCache(1000)
	}
	if d.Clock == nil {
		d.Clock = domain.SystemClock{}
	}
	if d.ProfileTTL <= 0 {
		d.ProfileTTL = time.Minute
	}

	return &Service{
		repo:       d.Repo,
		cache:      d.Cache,
		bus:        d.Bus,
		rules:      d.Rules,
		decider:    rules.NewProcessor(),
		velocity:   velocity.NewService(d.Repo, d.Cache),
		machine:    lifecycle.New(),
		proofs:     proof.New(proof.PolicyFrom(d.Policy)),
		disputes:   dispute.New(d.Policy.DisputeWindow.Std()),
		policy:     d.Policy,
		profileTTL: d.ProfileTTL,
		clock:      d.Clock,
	}, nil
}

// Policy returns the lifecycle policy in force.
func (s *Service) Policy() domain.PolicyConfig {
	return s.policy
}

// Rules returns the policy rule engine, or nil.
func (s *Service) Rules() *rules.Engine {
	return s.rules
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// begin starts the span of an operation. The returned func records metrics
// and closes the span with the final error.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))

	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		code := domain.Code(err)
		if err != nil {
			if code == "" {
				code = "INTERNAL"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
		}
		metrics.ObserveOperation(op, code, start)
		span.End()
	}
}

// commit applies cs and invalidates cached snapshots of every written profile.
// Tiers of written profiles are recomputed first.
func (s *Service) commit(ctx context.Context, cs *domain.ChangeSet) error {
	for _, p := range cs.Profiles {
		tier.Refresh(p)
	}
	if err := s.repo.Apply(ctx, cs); err != nil {
		return err
	}
	for _, p := range cs.Profiles {
		if err := s.cache.Delete(ctx, cache.ProfileKey(p.UserID)); err != nil {
			slog.Warn("failed to invalidate trust snapshot",
				"user_id", p.UserID,
				"error", err,
			)
		}
	}
	for _, e := range cs.Ledger {
		metrics.PointsPosted.WithLabelValues(string(e.Reason)).Inc()
	}
	return nil
}

// transition moves the swap and records the edge for the event published
// after commit.
func (s *Service) transition(sw *domain.Swap, to domain.SwapStatus, now time.Time, moves *[]domain.SwapEvent, actorID string) error {
	from := sw.Status
	if err := s.machine.Transition(sw, to, now); err != nil {
		return err
	}
	*moves = append(*moves, domain.SwapEvent{
		SwapID:    sw.ID,
		From:      from,
		To:        to,
		ActorID:   actorID,
		Timestamp: now.Format(time.RFC3339Nano),
	})
	return nil
}

func (s *Service) publish(ctx context.Context, topic string, v any) {
	if s.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, s.bus, topic, v); err != nil {
		slog.Warn("failed to publish event",
			"topic", topic,
			"error", err,
		)
	}
}

func (s *Service) publishMoves(ctx context.Context, moves []domain.SwapEvent) {
	for _, m := range moves {
		metrics.SwapTransitions.WithLabelValues(string(m.From), string(m.To)).Inc()
		s.publish(ctx, domain.TopicSwapTransitioned, m)
	}
}

// ─── Loaders ────────────────────────────────────────────────────────────────

func (s *Service) loadSwap(ctx context.Context, swapID string) (*domain.Swap, error) {
	if swapID == "" {
		return nil, domain.Invalid("swapId is required")
	}
	sw, err := s.repo.GetSwap(ctx, swapID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, domain.ErrSwapNotFound
	}
	return sw, err
}

func (s *Service) loadBill(ctx context.Context, billID string) (*domain.Bill, error) {
	if billID == "" {
		return nil, domain.Invalid("billId is required")
	}
	b, err := s.repo.GetBill(ctx, billID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, domain.ErrBillNotFound
	}
	return b, err
}

// loadProfile returns the stored profile with its tier recomputed, or a
// fresh profile for a user without history.
func (s *Service) loadProfile(ctx context.Context, userID string) (*domain.TrustProfile, error) {
	p, err := s.repo.GetTrustProfile(ctx, userID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		p = domain.NewTrustProfile(userID, s.now())
	} else if err != nil {
		return nil, err
	}
	tier.Refresh(p)
	return p, nil
}

// profiles caches the profiles touched by one operation so each user is
// loaded and written once.
type profiles struct {
	s    *Service
	byID map[string]*domain.TrustProfile
}

func (s *Service) newProfiles() *profiles {
	return &profiles{s: s, byID: make(map[string]*domain.TrustProfile)}
}

func (ps *profiles) get(ctx context.Context, userID string) (*domain.TrustProfile, error) {
	if p, ok := ps.byID[userID]; ok {
		return p, nil
	}
	p, err := ps.s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	ps.byID[userID] = p
	return p, nil
}

// snapshot returns the cached trust snapshot of userID, computing and
// caching it on a miss.
func (s *Service) snapshot(ctx context.Context, userID string) (*domain.TrustSnapshot, error) {
	if snap, err := s.cache.GetProfile(ctx, userID); err == nil && snap != nil {
		return snap, nil
	} else if err != nil {
		slog.Warn("trust snapshot cache read failed", "user_id", userID, "error", err)
	}

	p, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	active, err := s.repo.CountActiveSwaps(ctx, userID)
	if err != nil {
		return nil, err
	}

	snap := tier.Snapshot(p, active)
	if err := s.cache.SetProfile(ctx, userID, snap, s.profileTTL); err != nil {
		slog.Warn("trust snapshot cache write failed", "user_id", userID, "error", err)
	}
	return snap, nil
}

// currentDeal returns the highest deal version, or nil.
func currentDeal(deals []*domain.Deal) *domain.Deal {
	var cur *domain.Deal
	for _, d := range deals {
		if cur == nil || d.Version > cur.Version {
			cur = d
		}
	}
	return cur
}

// acceptedDeal returns the accepted deal, or nil.
func acceptedDeal(deals []*domain.Deal) *domain.Deal {
	for _, d := range deals {
		if d.Status == domain.DealAccepted {
			return d
		}
	}
	return nil
}

func stamp(t time.Time) *time.Time {
	return &t
}

func hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}
