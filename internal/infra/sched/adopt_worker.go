package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Resumer starts loops for active jobs that have none.
type Resumer interface {
	Resume(ctx context.Context) (int, error)
}

// AdoptWorker periodically hands orphaned jobs to the local engine. With a
// shared store a job whose owner died, or whose lease expired, would
// otherwise never be polled again.
type AdoptWorker struct {
	interval time.Duration
	engine   Resumer
	log      *zerolog.Logger
}

func NewAdoptWorker(interval time.Duration, engine Resumer, logger *zerolog.Logger) *AdoptWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	wlog := logger.With().Str("component", "AdoptWorker").Logger()
	return &AdoptWorker{interval: interval, engine: engine, log: &wlog}
}

func (w *AdoptWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting adopt worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping adopt worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.engine.Resume(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("adopt pass failed")
				continue
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("adopted orphaned jobs")
			}
		}
	}
}
