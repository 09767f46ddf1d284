package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU + Redis.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetProfile retrieves a cached trust snapshot.
	GetProfile(ctx context.Context, userID string) (*TrustSnapshot, error)

	// SetProfile caches a trust snapshot.
	SetProfile(ctx context.Context, userID string, snap *TrustSnapshot, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for proposal velocity (proposals per user in a time window).
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// TrustSnapshot is the cached, derived view of a trust profile.
type TrustSnapshot struct {
	UserID         string `json:"userId"`
	Tier           Tier   `json:"tier"`
	Points         int64  `json:"points"`
	CompletedSwaps int    `json:"completedSwaps"`
	SuccessRate    int    `json:"successRate"`
	IDVerified     bool   `json:"idVerified"`
	ActiveSwaps    int    `json:"activeSwaps"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `toml:"type"`

	// Local LRU cache settings
	LocalMaxSize int      `toml:"local_max_size"`
	LocalTTL     Duration `toml:"local_ttl"`

	// Redis settings
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `toml:"enable_two_phase"` // If true, check local first, then Redis

	// ProfileTTL bounds how stale a cached trust snapshot may be.
	ProfileTTL Duration `toml:"profile_ttl"`
}
