// Package worker runs the deadline sweep when the external scheduler asks
// for one over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/billix-app/swaprules/internal/bus"
	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/engine"
)

// Sweeper applies every deadline that has passed at now.
type Sweeper interface {
	SweepDeadlines(ctx context.Context, now time.Time) (*engine.SweepReport, error)
}

// Worker consumes sweep triggers from the EventBus.
type Worker struct {
	bus     domain.EventBus
	sweeper Sweeper
	clock   domain.Clock

	// running serializes sweeps; a trigger that arrives mid-sweep is dropped.
	running sync.Mutex
	sweeps  atomic.Int64
	skipped atomic.Int64

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Topics the worker listens on for sweep triggers. Empty means
	// domain.TopicDeadlineSweep.
	Topics []string
}

// SweepRequest is the trigger payload. A zero At sweeps at the worker's
// current time; an empty payload is accepted.
type SweepRequest struct {
	At time.Time `json:"at,omitempty"`
}

// NewWorker creates a sweep worker.
func NewWorker(b domain.EventBus, sweeper Sweeper, clock domain.Clock) *Worker {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     b,
		sweeper: sweeper,
		clock:   clock,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the sweep topics.
func (w *Worker) Start(cfg Config) error {
	topics := cfg.Topics
	if len(topics) == 0 {
		topics = []string{domain.TopicDeadlineSweep}
	}

	for _, topic := range topics {
		sub, err := w.bus.Subscribe(w.ctx, topic, w.handleMessage)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
		slog.Info("sweep worker started", "topic", topic)
	}
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req SweepRequest
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			slog.Error("failed to parse sweep request",
				"message_id", msg.ID,
				"error", err,
			)
			return err
		}
	}

	if !w.running.TryLock() {
		w.skipped.Add(1)
		slog.Warn("sweep already running, trigger dropped", "message_id", msg.ID)
		return nil
	}
	defer w.running.Unlock()

	return w.sweep(ctx, msg, req)
}

func (w *Worker) sweep(ctx context.Context, msg *domain.Message, req SweepRequest) error {
	start := time.Now()
	at := req.At
	if at.IsZero() {
		at = w.clock.Now()
	}

	report, err := w.sweeper.SweepDeadlines(ctx, at)
	if err != nil {
		slog.Error("deadline sweep failed",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	w.sweeps.Add(1)

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode sweep report: %w", err)
	}
	if err := w.bus.Publish(ctx, domain.TopicSweepReport, payload); err != nil {
		slog.Error("failed to publish sweep report", "error", err)
	}
	if err := bus.Reply(ctx, w.bus, msg, payload); err != nil {
		slog.Error("failed to reply to sweep request",
			"message_id", msg.ID,
			"error", err,
		)
	}

	slog.Info("sweep request processed",
		"message_id", msg.ID,
		"at", at.Format(time.RFC3339),
		"errors", len(report.Errors),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes and waits for an in-flight sweep to finish.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.running.Lock()
	defer w.running.Unlock()

	slog.Info("sweep worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Sweeps            int64    `json:"sweeps"`
	Skipped           int64    `json:"skipped"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Sweeps:            w.sweeps.Load(),
		Skipped:           w.skipped.Load(),
	}
}
