package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-video-studio/internal/config"
	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/domain/ports/adapter"
	"ai-video-studio/internal/domain/ports/repository"
	"ai-video-studio/internal/domain/ports/usecase"
	"ai-video-studio/internal/infra/logging"
	"ai-video-studio/internal/infra/metrics"
)

// Compile-time check
var _ usecase.LoopStarter = (*Engine)(nil)

const internalFailureMessage = "internal error while tracking the generation"

// Engine runs one reconciliation loop per job. Loops only stop early when the
// engine is stopped; the job is then left as-is for a later Resume.
type Engine struct {
	store    repository.JobStore
	provider adapter.VideoProvider
	pub      usecase.Publisher
	locker   usecase.LoopLocker
	cfg      config.EngineConfig
	log      *zerolog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	loops map[string]struct{}
	wg    sync.WaitGroup
}

// NewEngine wires the loop. locker may be nil when a single instance owns all jobs.
func NewEngine(
	store repository.JobStore,
	provider adapter.VideoProvider,
	pub usecase.Publisher,
	locker usecase.LoopLocker,
	cfg config.EngineConfig,
	logger *zerolog.Logger,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:    store,
		provider: provider,
		pub:      pub,
		locker:   locker,
		cfg:      cfg,
		log:      logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		loops:    make(map[string]struct{}),
	}
}

// Start launches the loop for jobID. It returns domain.ErrLoopRunning when a
// loop for the id is already running here or on another instance.
func (e *Engine) Start(ctx context.Context, jobID string) error {
	e.mu.Lock()
	if e.ctx.Err() != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine stopped: %w", domain.ErrInternal)
	}
	if _, ok := e.loops[jobID]; ok {
		e.mu.Unlock()
		return domain.ErrLoopRunning
	}
	e.loops[jobID] = struct{}{}
	e.wg.Add(1)
	e.mu.Unlock()

	var token string
	if e.locker != nil {
		t, err := e.locker.TryLock(ctx, jobID)
		if err != nil {
			e.release(jobID)
			e.wg.Done()
			return err
		}
		token = t
	}

	metrics.LoopStarted()
	go e.run(jobID, token)
	return nil
}

// Resume starts loops for every non-terminal job in the store. Jobs already
// owned here or by another instance are skipped. It is safe to call
// periodically to adopt jobs whose owner went away.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	jobs, err := e.store.ListActive(ctx, e.cfg.ResumeLimit)
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}
	started := 0
	for _, j := range jobs {
		switch err := e.Start(ctx, j.ID); {
		case err == nil:
			started++
		case errors.Is(err, domain.ErrLoopRunning):
		default:
			e.log.Warn().Err(err).Str("job_id", j.ID).Msg("resume: could not start loop")
		}
	}
	return started, nil
}

// Active reports how many loops are running in this process.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loops)
}

// Wait blocks until every loop has returned.
func (e *Engine) Wait() { e.wg.Wait() }

// Stop cancels all loops and waits for them.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.cancel()
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) release(jobID string) {
	e.mu.Lock()
	delete(e.loops, jobID)
	e.mu.Unlock()
}

func (e *Engine) run(jobID, token string) {
	ctx := logging.WithJobID(e.ctx, jobID)
	log := logging.With(ctx, e.log)

	defer e.wg.Done()
	defer e.release(jobID)
	defer metrics.LoopStopped()
	if token != "" {
		defer func() {
			uctx, cancel := context.WithTimeout(context.Background(), e.cfg.ProviderTimeout)
			defer cancel()
			if err := e.locker.Unlock(uctx, jobID, token); err != nil {
				log.Warn().Err(err).Msg("release loop lease")
			}
		}()
	}
	defer func() {
		if r := recover(); r != nil {
			e.fail(jobID, log, fmt.Errorf("%w: panic: %v", domain.ErrInternal, r))
		}
	}()

	log.Debug().Dur("interval", e.cfg.PollInterval).Int("max_attempts", e.cfg.MaxAttempts).Msg("reconciliation started")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconciliation interrupted by shutdown")
			return
		case <-ticker.C:
		}

		if token != "" {
			if err := e.locker.Refresh(ctx, jobID, token); err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, domain.ErrLoopRunning) {
					log.Warn().Msg("loop lease taken over, stopping")
					return
				}
				// the lease outlives a missed refresh; an expired one is adopted by the next Resume
				log.Warn().Err(err).Msg("loop lease refresh failed, still polling")
			}
		}

		done, err := e.tick(ctx, jobID, log)
		if err != nil {
			e.fail(jobID, log, err)
			return
		}
		if done {
			return
		}
	}
}

// tick performs one poll and records its outcome. It reports done once the
// job is terminal or gone.
func (e *Engine) tick(ctx context.Context, jobID string, log *zerolog.Logger) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	snap, perr := e.provider.FetchStatus(callCtx, jobID)
	cancel()
	if ctx.Err() != nil {
		return true, nil
	}

	var changed bool
	job, err := e.store.Update(ctx, jobID, func(j *model.GenerationJob) error {
		changed = false
		if j.IsTerminal() {
			return nil
		}
		now := e.now()
		j.RecordAttempt()
		switch {
		case perr == nil:
			changed = j.ApplySnapshot(snap, now)
		case domain.IsPermanent(perr):
			changed = j.Fail(domain.ProviderMessage(perr), now)
		}
		if !j.IsTerminal() && j.Attempts >= e.cfg.MaxAttempts {
			changed = j.TimeOut(now) || changed
		}
		j.UpdatedAt = now
		return nil
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Warn().Msg("job disappeared from the store, stopping")
		return true, nil
	case err != nil:
		if ctx.Err() != nil {
			return true, nil
		}
		return false, fmt.Errorf("%w: store update: %v", domain.ErrInternal, err)
	}

	if perr != nil && !domain.IsPermanent(perr) {
		log.Debug().Err(perr).Int("attempts", job.Attempts).Msg("transient provider error")
	}
	if changed {
		e.pub.Publish(job)
	}
	if job.IsTerminal() {
		metrics.ObserveJobFinished(string(job.Status), job.Attempts)
		ev := log.Info()
		switch job.Status {
		case model.JobStatusTimeout:
			ev = log.Warn().Err(domain.ErrBudgetExhausted)
		case model.JobStatusFailed:
			ev = log.Warn().Str("error", job.ErrorMessage)
		}
		ev.Str("status", string(job.Status)).Int("attempts", job.Attempts).Msg("reconciliation finished")
		return true, nil
	}
	return false, nil
}

// fail handles an internal error: the job is marked failed when possible and
// subscribers are told. The process keeps running.
func (e *Engine) fail(jobID string, log *zerolog.Logger, cause error) {
	log.Error().Err(cause).Msg("reconciliation aborted")

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ProviderTimeout)
	defer cancel()
	var marked bool
	job, err := e.store.Update(ctx, jobID, func(j *model.GenerationJob) error {
		marked = j.Fail(internalFailureMessage, e.now())
		return nil
	})
	e.pub.PublishError(jobID, internalFailureMessage)
	if err != nil {
		log.Error().Err(err).Msg("could not mark job failed")
		return
	}
	if marked {
		metrics.ObserveJobFinished(string(job.Status), job.Attempts)
		e.pub.Publish(job)
	}
}
