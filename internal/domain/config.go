package domain

import (
	"fmt"
	"time"
)

// Config holds the complete service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `toml:"server"`

	// Deployment profile determines the default infrastructure
	Profile Profile `toml:"profile"`

	// Component configurations
	Repository RepositoryConfig `toml:"repository"`
	Cache      CacheConfig      `toml:"cache"`
	EventBus   EventBusConfig   `toml:"event_bus"`

	// Swap lifecycle policy values
	Policy PolicyConfig `toml:"policy"`

	// Observability
	Logging LoggingConfig `toml:"logging"`
	Tracing TracingConfig `toml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	ReadTimeout  int    `toml:"read_timeout"`  // seconds
	WriteTimeout int    `toml:"write_timeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// PolicyConfig holds the deadlines and limits of the swap lifecycle.
type PolicyConfig struct {
	// DealExpiry is how long a proposal or counter-offer stays open.
	DealExpiry Duration `toml:"deal_expiry"`

	// FeeDeadline is how long both parties have to settle fees after acceptance.
	FeeDeadline Duration `toml:"fee_deadline"`

	// DefaultProofWindow applies when the accepted terms carry no proof window.
	DefaultProofWindow Duration `toml:"default_proof_window"`

	// ReviewWindow is the time a counterparty has to review a proof.
	ReviewWindow Duration `toml:"review_window"`

	// AutoAcceptAfter is the horizon after which an unreviewed proof may be
	// accepted by the scheduler.
	AutoAcceptAfter Duration `toml:"auto_accept_after"`

	// DisputeWindow is how long after a proof rejection a dispute may be filed.
	DisputeWindow Duration `toml:"dispute_window"`

	// MaxExtension caps how far past the current proof deadline an extension may reach.
	MaxExtension Duration `toml:"max_extension"`

	// MaxResubmissions is how many times a rejected proof may be resubmitted.
	MaxResubmissions int `toml:"max_resubmissions"`

	// MaxProposalsPerHour limits proposal velocity per user (0 disables).
	MaxProposalsPerHour int `toml:"max_proposals_per_hour"`

	// CompletionPoints is credited to each party of a completed swap.
	CompletionPoints int64 `toml:"completion_points"`

	// FeeWaiverPoints is the points cost of waiving one party's fee.
	FeeWaiverPoints int64 `toml:"fee_waiver_points"`

	// DisputePenaltyPoints is debited from the at-fault user of a dispute.
	DisputePenaltyPoints int64 `toml:"dispute_penalty_points"`

	// NoShowPenaltyPoints is debited from a party whose swap expires unproven.
	NoShowPenaltyPoints int64 `toml:"no_show_penalty_points"`
}

// Profile selects infrastructure defaults.
type Profile string

const (
	// ProfileLocal runs on SQLite, in-process cache and channels.
	ProfileLocal Profile = "local"

	// ProfileProduction runs on PostgreSQL, Redis and NATS.
	ProfileProduction Profile = "production"
)

// Duration is a time.Duration that reads from TOML strings such as "24h".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultPolicy returns the lifecycle policy used by the Billix app.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		DealExpiry:           Duration(24 * time.Hour),
		FeeDeadline:          Duration(24 * time.Hour),
		DefaultProofWindow:   Duration(72 * time.Hour),
		ReviewWindow:         Duration(12 * time.Hour),
		AutoAcceptAfter:      Duration(24 * time.Hour),
		DisputeWindow:        Duration(24 * time.Hour),
		MaxExtension:         Duration(7 * 24 * time.Hour),
		MaxResubmissions:     1,
		MaxProposalsPerHour:  10,
		CompletionPoints:     25,
		FeeWaiverPoints:      100,
		DisputePenaltyPoints: 50,
		NoShowPenaltyPoints:  30,
	}
}

// DefaultConfig returns a default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Profile: ProfileLocal,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./swaprules.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     Duration(5 * time.Minute),
			ProfileTTL:   Duration(time.Minute),
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Policy: DefaultPolicy(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "swaprules",
		},
	}
}

// ProductionConfig returns a configuration backed by PostgreSQL, Redis and NATS.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileProduction
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "billix",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       Duration(30 * time.Second),
		ProfileTTL:     Duration(time.Minute),
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
