// Package domain defines the core types and ports of the swap rules service.
package domain

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned by Repository lookups that match nothing.
var ErrRecordNotFound = errors.New("record not found")

// Repository is the persistence port. The service reads a snapshot, computes
// the next state in memory and commits it with Apply, which fails with
// ErrConflict when any versioned aggregate changed since it was read.
type Repository interface {
	// Bills
	GetBill(ctx context.Context, billID string) (*Bill, error)
	ListMatchableBills(ctx context.Context, excludeOwnerID string, limit int) ([]*Bill, error)

	// Swaps
	GetSwap(ctx context.Context, swapID string) (*Swap, error)
	ListSwapsByStatus(ctx context.Context, statuses []SwapStatus, limit int) ([]*Swap, error)
	CountActiveSwaps(ctx context.Context, userID string) (int, error)
	CountCommittedSwaps(ctx context.Context, userID string) (int, error)

	// Deals
	ListDeals(ctx context.Context, swapID string) ([]*Deal, error)

	// Proofs
	GetProof(ctx context.Context, proofID string) (*Proof, error)
	ListProofs(ctx context.Context, swapID string) ([]*Proof, error)
	ListPendingProofs(ctx context.Context, submittedBefore time.Time) ([]*Proof, error)

	// Disputes
	GetDispute(ctx context.Context, disputeID string) (*Dispute, error)
	ListDisputes(ctx context.Context, swapID string) ([]*Dispute, error)

	// Extensions
	GetExtension(ctx context.Context, extensionID string) (*ExtensionRequest, error)
	ListExtensions(ctx context.Context, swapID string) ([]*ExtensionRequest, error)

	// Trust and points
	GetTrustProfile(ctx context.Context, userID string) (*TrustProfile, error)
	ListLedgerEntries(ctx context.Context, userID string) ([]*LedgerEntry, error)

	// Policy rule configuration
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Apply commits a change set atomically.
	Apply(ctx context.Context, cs *ChangeSet) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ChangeSet is the unit of work for one operation.
//
// Updated aggregates (Bills, Swap, Profiles) carry the Version that was read;
// Apply writes them only if the stored version still matches and bumps the
// in-memory Version on success. Ledger entries are insert-only.
type ChangeSet struct {
	NewBills   []*Bill
	Bills      []*Bill
	NewSwap    *Swap
	Swap       *Swap
	Deals      []*Deal
	Proofs     []*Proof
	Disputes   []*Dispute
	Extensions []*ExtensionRequest
	Profiles   []*TrustProfile
	Ledger     []*LedgerEntry
}

// Empty reports whether the change set holds no writes.
func (cs *ChangeSet) Empty() bool {
	return len(cs.NewBills) == 0 && len(cs.Bills) == 0 && cs.NewSwap == nil && cs.Swap == nil &&
		len(cs.Deals) == 0 && len(cs.Proofs) == 0 && len(cs.Disputes) == 0 &&
		len(cs.Extensions) == 0 && len(cs.Profiles) == 0 && len(cs.Ledger) == 0
}

// AddProfile queues a profile write once per user.
func (cs *ChangeSet) AddProfile(p *TrustProfile) {
	for _, existing := range cs.Profiles {
		if existing.UserID == p.UserID {
			return
		}
	}
	cs.Profiles = append(cs.Profiles, p)
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `toml:"driver"`

	// SQLite specific
	SQLitePath string `toml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `toml:"postgres_host"`
	PostgresPort     int    `toml:"postgres_port"`
	PostgresUser     string `toml:"postgres_user"`
	PostgresPassword string `toml:"postgres_password"`
	PostgresDB       string `toml:"postgres_db"`
	PostgresSSLMode  string `toml:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int      `toml:"max_open_conns"`
	MaxIdleConns    int      `toml:"max_idle_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
}
