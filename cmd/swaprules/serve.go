package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/billix-app/swaprules/internal/api"
	"github.com/billix-app/swaprules/internal/bus"
	"github.com/billix-app/swaprules/internal/cache"
	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/engine"
	"github.com/billix-app/swaprules/internal/repository"
	"github.com/billix-app/swaprules/internal/rules"
	"github.com/billix-app/swaprules/internal/worker"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Duration("sweep-every", 0, "Publish a deadline sweep trigger on this interval (0 leaves it to the external scheduler)")
	serveCmd.Flags().Bool("no-builtin-rules", false, "Do not seed the builtin proposal policy into an empty rule store")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the deadline sweep worker",
	RunE:  runServe,
}

// runtime holds the infrastructure shared by the commands that touch state.
type runtime struct {
	repo  *repository.SQLRepository
	cache domain.Cache
	bus   domain.EventBus
	rules *rules.Engine
	svc   *engine.Service
}

func openRuntime(cfg *domain.Config) (*runtime, error) {
	rt := &runtime{}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	rt.repo = repo
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	rt.cache, err = cache.New(cfg.Cache)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	rt.bus, err = bus.New(cfg.EventBus)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	rt.rules, err = rules.NewEngine(100)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}

	rt.svc, err = engine.New(engine.Deps{
		Repo:       rt.repo,
		Cache:      rt.cache,
		Bus:        rt.bus,
		Rules:      rt.rules,
		Policy:     cfg.Policy,
		ProfileTTL: cfg.Cache.ProfileTTL.Std(),
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.rules != nil {
		rt.rules.Close()
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
	if rt.cache != nil {
		rt.cache.Close()
	}
	if rt.repo != nil {
		rt.repo.Close()
	}
}

// loadRules seeds the builtin policy into an empty store, then loads the
// store into the engine.
func (rt *runtime) loadRules(ctx context.Context, seed bool) error {
	stored, err := rt.repo.ListRuleConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}
	if len(stored) == 0 && seed {
		for _, rule := range rules.BuiltinRules() {
			if err := rt.repo.SaveRuleConfig(ctx, rule); err != nil {
				return fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
			}
		}
		slog.Info("builtin policy rules seeded", "count", len(rules.BuiltinRules()))
	}

	n, err := rt.svc.LoadStoredRules(ctx)
	if err != nil {
		return err
	}
	slog.Info("rule engine initialized", "rules_count", n)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sweepEvery, _ := cmd.Flags().GetDuration("sweep-every")
	noBuiltin, _ := cmd.Flags().GetBool("no-builtin-rules")

	slog.Info("starting swaprules",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"profile", cfg.Profile,
	)

	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := openRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.loadRules(ctx, !noBuiltin); err != nil {
		return err
	}

	sweeper := worker.NewWorker(rt.bus, rt.svc, nil)
	if err := sweeper.Start(worker.Config{}); err != nil {
		return fmt.Errorf("failed to start sweep worker: %w", err)
	}

	if sweepEvery > 0 {
		go triggerSweeps(ctx, rt.bus, sweepEvery)
	}

	srv := api.NewServer(cfg.Server, rt.svc, rt.repo, rt.cache, rt.bus, Version)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("swaprules is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		sweeper.Stop()
		return err
	}

	if err := sweeper.Stop(); err != nil {
		slog.Error("failed to stop sweep worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("swaprules shutdown complete")
	return nil
}

// triggerSweeps stands in for the external scheduler on single-node setups.
func triggerSweeps(ctx context.Context, b domain.EventBus, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Publish(ctx, domain.TopicDeadlineSweep, nil); err != nil {
				slog.Warn("failed to publish sweep trigger", "error", err)
			}
		}
	}
}
