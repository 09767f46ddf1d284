// Package config loads the service configuration from a profile preset, an
// optional TOML file and BILLIX_* environment overrides, in that order.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/billix-app/swaprules/internal/domain"
)

// Getenv looks up an environment variable. os.Getenv in production.
type Getenv func(key string) string

// Load builds the configuration. path may be empty; BILLIX_CONFIG names a
// file when path is empty.
func Load(path string, getenv Getenv) (*domain.Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if path == "" {
		path = getenv("BILLIX_CONFIG")
	}

	profile := domain.Profile(getenv("BILLIX_PROFILE"))
	if profile == "" && path != "" {
		var head struct {
			Profile domain.Profile `toml:"profile"`
		}
		if _, err := toml.DecodeFile(path, &head); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		profile = head.Profile
	}

	cfg, err := Preset(profile)
	if err != nil {
		return nil, err
	}

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
		slog.Debug("config file loaded", "path", path)
	}
	// A file may not switch presets after the fact.
	if profile != "" {
		cfg.Profile = profile
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Preset returns the defaults of a deployment profile. Empty means local.
func Preset(p domain.Profile) (*domain.Config, error) {
	switch p {
	case "", domain.ProfileLocal:
		return domain.DefaultConfig(), nil
	case domain.ProfileProduction:
		return domain.ProductionConfig(), nil
	}
	return nil, fmt.Errorf("unknown profile %q", p)
}

func applyEnv(cfg *domain.Config, getenv Getenv) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", key, v)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not a boolean", key, v)
		}
		*dst = b
		return nil
	}

	str("BILLIX_HOST", &cfg.Server.Host)
	if err := num("BILLIX_PORT", &cfg.Server.Port); err != nil {
		return err
	}

	str("BILLIX_DB_DRIVER", &cfg.Repository.Driver)
	str("BILLIX_SQLITE_PATH", &cfg.Repository.SQLitePath)
	str("BILLIX_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	if err := num("BILLIX_POSTGRES_PORT", &cfg.Repository.PostgresPort); err != nil {
		return err
	}
	str("BILLIX_POSTGRES_USER", &cfg.Repository.PostgresUser)
	str("BILLIX_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	str("BILLIX_POSTGRES_DB", &cfg.Repository.PostgresDB)
	str("BILLIX_POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	str("BILLIX_CACHE_TYPE", &cfg.Cache.Type)
	str("BILLIX_REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("BILLIX_REDIS_PASSWORD", &cfg.Cache.RedisPassword)

	str("BILLIX_BUS_TYPE", &cfg.EventBus.Type)
	str("BILLIX_NATS_URL", &cfg.EventBus.NATSUrl)
	str("BILLIX_NATS_TOKEN", &cfg.EventBus.NATSToken)
	str("BILLIX_NATS_QUEUE_GROUP", &cfg.EventBus.NATSQueueGroup)

	str("BILLIX_LOG_LEVEL", &cfg.Logging.Level)
	str("BILLIX_LOG_FORMAT", &cfg.Logging.Format)
	if getenv("BILLIX_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	if err := flag("BILLIX_TRACING", &cfg.Tracing.Enabled); err != nil {
		return err
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	switch cfg.Repository.Driver {
	case "sqlite":
		if cfg.Repository.SQLitePath == "" {
			return fmt.Errorf("repository.sqlite_path is required")
		}
	case "postgres":
		if cfg.Repository.PostgresHost == "" || cfg.Repository.PostgresDB == "" {
			return fmt.Errorf("repository.postgres_host and postgres_db are required")
		}
	default:
		return fmt.Errorf("unsupported repository driver %q", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type %q", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type %q", cfg.EventBus.Type)
	}
	if _, err := LogLevel(cfg.Logging.Level); err != nil {
		return err
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}

	p := cfg.Policy
	for name, d := range map[string]domain.Duration{
		"deal_expiry":          p.DealExpiry,
		"fee_deadline":         p.FeeDeadline,
		"default_proof_window": p.DefaultProofWindow,
		"review_window":        p.ReviewWindow,
		"auto_accept_after":    p.AutoAcceptAfter,
		"dispute_window":       p.DisputeWindow,
		"max_extension":        p.MaxExtension,
	} {
		if d.Std() <= 0 {
			return fmt.Errorf("policy.%s must be positive", name)
		}
	}
	if p.DefaultProofWindow.Std()%time.Hour != 0 {
		return fmt.Errorf("policy.default_proof_window must be whole hours")
	}
	if p.MaxResubmissions < 0 || p.MaxProposalsPerHour < 0 {
		return fmt.Errorf("policy limits must not be negative")
	}
	if p.CompletionPoints < 0 || p.FeeWaiverPoints <= 0 || p.DisputePenaltyPoints < 0 || p.NoShowPenaltyPoints < 0 {
		return fmt.Errorf("policy points must not be negative and fee_waiver_points must be positive")
	}
	return nil
}

// LogLevel parses a logging.level value.
func LogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid logging.level %q", s)
	}
	return level, nil
}
