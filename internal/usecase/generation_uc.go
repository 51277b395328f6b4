package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/domain/ports/adapter"
	"ai-video-studio/internal/domain/ports/repository"
	"ai-video-studio/internal/domain/ports/usecase"
	"ai-video-studio/internal/infra/logging"
	"ai-video-studio/internal/infra/metrics"
)

const abandonTimeout = 5 * time.Second

// Compile-time check
var _ GenerationUseCase = (*generationUC)(nil)

type GenerationUseCase interface {
	// Submit validates params, hands them to the provider and starts tracking.
	// It returns as soon as the job is recorded; it never waits for the video.
	Submit(ctx context.Context, params model.GenerationParams) (string, error)
	// Get reads the recorded snapshot. It never calls the provider.
	Get(ctx context.Context, jobID string) (*model.GenerationJob, error)
}

type generationUC struct {
	store    repository.JobStore
	provider adapter.VideoProvider
	loops    usecase.LoopStarter
	log      *zerolog.Logger
	devMode  bool
	now      func() time.Time
}

func NewGenerationUseCase(store repository.JobStore, provider adapter.VideoProvider, loops usecase.LoopStarter, logger *zerolog.Logger, devMode bool) *generationUC {
	return &generationUC{store: store, provider: provider, loops: loops, log: logger, devMode: devMode, now: time.Now}
}

func (g *generationUC) Submit(ctx context.Context, params model.GenerationParams) (string, error) {
	defer logging.TraceDuration(g.log, "GenerationUC.Submit")()

	params = params.Normalized()
	if err := params.Validate(); err != nil {
		metrics.IncSubmission("invalid")
		return "", err
	}

	id, err := g.provider.Submit(ctx, params)
	if err != nil {
		metrics.IncSubmission("provider_error")
		return "", fmt.Errorf("submit generation: %w", err)
	}

	job, err := model.NewGenerationJob(id, params, g.now())
	if err != nil {
		metrics.IncSubmission("provider_error")
		return "", fmt.Errorf("provider returned unusable job id: %w", err)
	}
	if err := g.store.Create(ctx, job); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			metrics.IncSubmission("duplicate")
		}
		return "", fmt.Errorf("record job %s: %w", id, err)
	}
	if err := g.loops.Start(ctx, id); err != nil {
		// an adopt pass can pick the fresh record up first; the job is tracked either way
		if !errors.Is(err, domain.ErrLoopRunning) {
			metrics.IncSubmission("start_error")
			g.abandon(ctx, id, err)
			return "", fmt.Errorf("start reconciliation for %s: %w", id, err)
		}
	}

	metrics.IncSubmission("accepted")
	logging.With(logging.WithJobID(ctx, id), g.log).Info().
		Str("prompt", logging.Redact(params.Prompt, g.devMode)).
		Str("aspect_ratio", params.AspectRatio).
		Int("duration", params.Duration).
		Str("size", params.Size).
		Msg("generation submitted")
	return id, nil
}

// abandon marks a recorded job failed when no loop could be started for it, so
// it does not sit in the store as pending forever.
func (g *generationUC) abandon(ctx context.Context, id string, cause error) {
	log := logging.With(logging.WithJobID(ctx, id), g.log)
	log.Error().Err(cause).Msg("could not start reconciliation")

	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()
	var marked bool
	job, err := g.store.Update(uctx, id, func(j *model.GenerationJob) error {
		marked = j.Fail(internalFailureMessage, g.now())
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("could not mark job failed")
		return
	}
	if marked {
		metrics.ObserveJobFinished(string(job.Status), job.Attempts)
	}
}

func (g *generationUC) Get(ctx context.Context, jobID string) (*model.GenerationJob, error) {
	if jobID == "" {
		return nil, &domain.ValidationError{Field: "jobId", Reason: "must not be empty"}
	}
	return g.store.Get(ctx, jobID)
}
