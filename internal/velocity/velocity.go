// Package velocity tracks how quickly users open new swaps.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/billix-app/swaprules/internal/domain"
)

// DefaultWindow is the proposal counting window.
const DefaultWindow = time.Hour

// Service counts proposals per user in fixed windows and reports the
// number of swaps a user has in flight.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	window time.Duration
}

// NewService creates a new velocity service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		window: DefaultWindow,
	}
}

// WithWindow overrides the counting window.
func (s *Service) WithWindow(window time.Duration) *Service {
	if window > 0 {
		s.window = window
	}
	return s
}

func proposalKey(userID string) string {
	return "proposals:" + userID
}

// RecordProposal counts one proposal by userID and returns the count in the
// current window, this one included.
func (s *Service) RecordProposal(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("userID is required")
	}
	if s.cache == nil {
		return 0, fmt.Errorf("no counter store available")
	}

	count, err := s.cache.IncrementCounter(ctx, proposalKey(userID), s.window)
	if err != nil {
		return 0, fmt.Errorf("failed to count proposal: %w", err)
	}
	return count, nil
}

// Allowed reports whether count stays within limit. A limit of zero or less
// disables the check.
func Allowed(count int64, limit int) bool {
	return limit <= 0 || count <= int64(limit)
}

// ActiveSwaps returns the number of non-terminal swaps userID is a party to.
func (s *Service) ActiveSwaps(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("userID is required")
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	n, err := s.repo.CountActiveSwaps(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count active swaps: %w", err)
	}
	return n, nil
}
