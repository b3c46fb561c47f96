package storage

import (
	"context"
	"log/slog"
	"time"
)

// Retention periodically evicts terminal jobs older than a TTL.
type Retention struct {
	store    Evicter
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewRetention creates a sweeper for store. The sweep interval is a tenth
// of ttl, but never below one minute.
func NewRetention(store Evicter, ttl time.Duration) *Retention {
	interval := ttl / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Retention{
		store:    store,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Run sweeps until ctx is cancelled.
func (r *Retention) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("retention sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep and returns the number of evicted jobs.
func (r *Retention) RunOnce(ctx context.Context) (int, error) {
	n, err := r.store.EvictBefore(ctx, r.now().Add(-r.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("evicted expired jobs", "count", n)
	}
	return n, nil
}
