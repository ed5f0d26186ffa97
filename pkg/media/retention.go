package media

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Retention periodically removes old media from a Store.
type Retention struct {
	store  Store
	maxAge time.Duration
	logger *slog.Logger
	cron   *cron.Cron
}

// NewRetention schedules store.Cleanup(maxAge) on the cron spec
// (standard five-field syntax or descriptors like "@hourly").
func NewRetention(store Store, spec string, maxAge time.Duration, logger *slog.Logger) (*Retention, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retention{
		store:  store,
		maxAge: maxAge,
		logger: logger.With("component", "media-retention"),
		cron:   cron.New(),
	}
	if _, err := r.cron.AddFunc(spec, r.Sweep); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the schedule in its own goroutine.
func (r *Retention) Start() { r.cron.Start() }

// Stop halts the schedule and waits for a running sweep.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}

// Sweep runs one cleanup pass.
func (r *Retention) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := r.store.Cleanup(ctx, r.maxAge)
	if err != nil {
		r.logger.Warn("media cleanup failed", "error", err, "removed", n)
		return
	}
	if n > 0 {
		r.logger.Info("media cleanup", "removed", n, "max_age", r.maxAge)
	}
}
