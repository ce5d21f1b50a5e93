// Package daemon runs mailspend syncs on a fixed interval.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ArionMiles/mailspend/pkg/orchestrator"
)

// DefaultInterval is used when Config.Interval is not positive.
const DefaultInterval = 10 * time.Minute

// Syncer runs one sync pass.
type Syncer interface {
	Sync(ctx context.Context) (*orchestrator.Result, error)
}

// Config holds the runner configuration.
type Config struct {
	// Interval between the start of consecutive syncs.
	Interval time.Duration
}

// Runner manages the sync daemon lifecycle.
type Runner struct {
	syncer   Syncer
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	last *orchestrator.Result
	runs int
}

// New creates a new daemon runner.
func New(syncer Syncer, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	return &Runner{
		syncer:   syncer,
		interval: cfg.Interval,
		logger:   logger,
	}
}

// Run syncs immediately and then once per interval. It blocks until ctx is
// canceled. A failed sync is logged and retried on the next tick.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("daemon started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.runOnce(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("daemon stopped", "runs", r.Runs())
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	start := time.Now()
	res, err := r.syncer.Sync(ctx)

	r.mu.Lock()
	r.runs++
	if res != nil {
		r.last = res
	}
	r.mu.Unlock()

	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		r.logger.Error("sync failed", "error", err)
		return
	}

	attrs := []any{
		"synced", res.Synced(),
		"skipped", res.Skipped(),
		"failed", res.Failed(),
		"duration", time.Since(start),
	}
	if rerr := res.Err(); rerr != nil {
		r.logger.Warn("sync completed with errors", append(attrs, "error", rerr)...)
		return
	}
	r.logger.Info("sync completed", attrs...)
}

// LastResult returns the result of the most recent sync, or nil.
func (r *Runner) LastResult() *orchestrator.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Runs returns how many syncs have been attempted.
func (r *Runner) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}
