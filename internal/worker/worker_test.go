package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/billix-app/swaprules/internal/bus"
	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/engine"
)

type fakeSweeper struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
}

func (f *fakeSweeper) SweepDeadlines(ctx context.Context, now time.Time) (*engine.SweepReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, now)
	if f.err != nil {
		return nil, f.err
	}
	return &engine.SweepReport{At: now, ExpiredOffers: []string{"swap-1"}}, nil
}

func (f *fakeSweeper) called() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls...)
}

var sweepAt = time.Date(2026, 7, 2, 6, 0, 0, 0, time.UTC)

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	clock := &domain.FixedClock{T: sweepAt}

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &fakeSweeper{}, clock)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicDeadlineSweep {
			t.Errorf("unexpected stats %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("PublishesReport", func(t *testing.T) {
		sweeper := &fakeSweeper{}
		w := NewWorker(eventBus, sweeper, clock)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		var received atomic.Bool
		var mu sync.Mutex
		var report engine.SweepReport
		sub, _ := eventBus.Subscribe(context.Background(), domain.TopicSweepReport, func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			defer mu.Unlock()
			if err := json.Unmarshal(msg.Payload, &report); err != nil {
				return err
			}
			received.Store(true)
			return nil
		})
		defer sub.Unsubscribe()

		at := sweepAt.Add(-time.Hour)
		if err := bus.PublishJSON(context.Background(), eventBus, domain.TopicDeadlineSweep, SweepRequest{At: at}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		time.Sleep(100 * time.Millisecond)

		if !received.Load() {
			t.Fatal("expected sweep report to be published")
		}
		mu.Lock()
		defer mu.Unlock()
		if !report.At.Equal(at) || len(report.ExpiredOffers) != 1 {
			t.Errorf("unexpected report %+v", report)
		}
		if calls := sweeper.called(); len(calls) != 1 || !calls[0].Equal(at) {
			t.Errorf("expected one sweep at %s, got %v", at, calls)
		}
		if w.GetStats().Sweeps != 1 {
			t.Errorf("expected 1 sweep counted, got %d", w.GetStats().Sweeps)
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		sweeper := &fakeSweeper{}
		w := NewWorker(eventBus, sweeper, clock)
		if err := w.Start(Config{Topics: []string{"billix.deadline.sweep.test"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		reply, err := eventBus.Request(ctx, "billix.deadline.sweep.test", nil)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		var report engine.SweepReport
		if err := json.Unmarshal(reply, &report); err != nil {
			t.Fatalf("failed to parse reply: %v", err)
		}
		if !report.At.Equal(sweepAt) {
			t.Errorf("empty request should sweep at the clock time, got %s", report.At)
		}
	})

	t.Run("BadPayload", func(t *testing.T) {
		sweeper := &fakeSweeper{}
		w := NewWorker(eventBus, sweeper, clock)
		err := w.handleMessage(context.Background(), &domain.Message{ID: "m-1", Payload: []byte("{")})
		if err == nil {
			t.Error("expected parse error")
		}
		if len(sweeper.called()) != 0 {
			t.Error("sweep must not run on a bad payload")
		}
	})

	t.Run("SweepFailure", func(t *testing.T) {
		sweeper := &fakeSweeper{err: errors.New("database is locked")}
		w := NewWorker(eventBus, sweeper, clock)
		if err := w.handleMessage(context.Background(), &domain.Message{ID: "m-2"}); err == nil {
			t.Error("expected sweep error to surface")
		}
		if w.GetStats().Sweeps != 0 {
			t.Error("failed sweeps are not counted")
		}
	})

	t.Run("OverlappingTriggerDropped", func(t *testing.T) {
		sweeper := &fakeSweeper{}
		w := NewWorker(eventBus, sweeper, clock)

		w.running.Lock()
		err := w.handleMessage(context.Background(), &domain.Message{ID: "m-3"})
		w.running.Unlock()

		if err != nil {
			t.Errorf("dropped trigger is not an error: %v", err)
		}
		if len(sweeper.called()) != 0 || w.GetStats().Skipped != 1 {
			t.Errorf("expected trigger skipped, stats %+v", w.GetStats())
		}
	})
}
