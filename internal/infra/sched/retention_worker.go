package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ai-video-studio/internal/domain/ports/repository"
	"ai-video-studio/internal/infra/metrics"
)

// PoolStatser is implemented by stores backed by a connection pool.
type PoolStatser interface {
	PoolStats() (total, idle, inUse int32)
}

// RetentionWorker deletes terminal jobs once they are older than the retention
// window. Pull clients can read a finished job until then.
type RetentionWorker struct {
	interval  time.Duration
	retention time.Duration
	store     repository.JobStore
	pool      PoolStatser
	log       *zerolog.Logger
	now       func() time.Time
}

// NewRetentionWorker builds the worker. pool may be nil.
func NewRetentionWorker(interval, retention time.Duration, store repository.JobStore, pool PoolStatser, logger *zerolog.Logger) *RetentionWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	wlog := logger.With().Str("component", "RetentionWorker").Logger()
	return &RetentionWorker{
		interval:  interval,
		retention: retention,
		store:     store,
		pool:      pool,
		log:       &wlog,
		now:       time.Now,
	}
}

func (w *RetentionWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("retention", w.retention).Msg("Starting retention worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping retention worker")
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one collection pass and returns how many jobs were removed.
func (w *RetentionWorker) Sweep(ctx context.Context) int {
	if w.pool != nil {
		metrics.SetDBPoolStats(w.pool.PoolStats())
	}
	n, err := w.store.DeleteTerminalBefore(ctx, w.now().Add(-w.retention))
	if err != nil {
		w.log.Error().Err(err).Msg("retention sweep failed")
		return 0
	}
	if n > 0 {
		metrics.AddGCDeleted(n)
		w.log.Info().Int("count", n).Msg("expired terminal jobs removed")
	}
	return n
}
