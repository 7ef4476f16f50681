// Package sweep evicts idle in-memory sessions and expired visitor rows.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/alphatech-ng/alphatech-site/internal/shared"
)

// DefaultInterval is how often the worker runs when Config.Interval is zero.
const DefaultInterval = 5 * time.Minute

// SessionSweeper drops in-memory sessions idle longer than ttl and reports
// how many it removed.
type SessionSweeper interface {
	SweepIdle(ttl time.Duration) int
}

// VisitorPruner deletes visitors, and their device sign-ins, idle longer than ttl.
type VisitorPruner interface {
	DeleteIdleVisitors(ctx context.Context, ttl time.Duration) (visitors int64, sessions int64, err error)
}

// Config configures the worker.
type Config struct {
	Interval        time.Duration
	SessionIdleTTL  time.Duration
	VisitorTTL      time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
}

// Worker periodically sweeps the view and chat registries and the visitor table.
type Worker struct {
	cfg      Config
	views    SessionSweeper
	chats    SessionSweeper
	visitors VisitorPruner
}

// NewWorker creates a worker. Any of the sweepers may be nil.
func NewWorker(cfg Config, views, chats SessionSweeper, visitors VisitorPruner) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	return &Worker{cfg: cfg, views: views, chats: chats, visitors: visitors}
}

// Start runs the worker in a background goroutine until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Sweep worker started",
			"interval", w.cfg.Interval,
			"session_idle_ttl", w.cfg.SessionIdleTTL,
			"visitor_ttl", w.cfg.VisitorTTL)

		for {
			select {
			case <-ticker.C:
				w.RunOnce(ctx)
			case <-ctx.Done():
				slog.Info("Sweep worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// RunOnce performs a single sweep.
func (w *Worker) RunOnce(ctx context.Context) {
	if w.cfg.SessionIdleTTL > 0 {
		if w.views != nil {
			if n := w.views.SweepIdle(w.cfg.SessionIdleTTL); n > 0 {
				slog.Info("Sweep worker evicted idle view sessions", "count", n)
			}
		}
		if w.chats != nil {
			if n := w.chats.SweepIdle(w.cfg.SessionIdleTTL); n > 0 {
				slog.Info("Sweep worker evicted idle chat sessions", "count", n)
			}
		}
	}

	if w.visitors == nil || w.cfg.VisitorTTL <= 0 {
		return
	}

	var visitors, sessions int64
	err := shared.RetryOnConflict(ctx, w.cfg.MaxRetries, w.cfg.RetryBaseDelay, func(ctx context.Context) error {
		var err error
		visitors, sessions, err = w.visitors.DeleteIdleVisitors(ctx, w.cfg.VisitorTTL)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Sweep worker canceled during visitor cleanup", "error", err)
			return
		}
		slog.Error("Sweep worker failed to delete idle visitors", "error", err)
		return
	}
	if visitors > 0 || sessions > 0 {
		slog.Info("Sweep worker deleted idle visitors", "visitors", visitors, "device_sessions", sessions)
	}
}
