package repository

import (
	"context"
	"time"

	"ai-video-studio/internal/domain/model"
)

// UpdateFunc mutates the job in place. Returning an error aborts the update.
type UpdateFunc func(job *model.GenerationJob) error

// JobStore is the single source of truth for job status.
// Implementations serialize writes per job id so readers never see a torn record.
type JobStore interface {
	// Create inserts a new job, failing with domain.ErrAlreadyExists when the id is taken.
	Create(ctx context.Context, job *model.GenerationJob) error

	// Get returns a copy of the job or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*model.GenerationJob, error)

	// Update applies fn atomically and returns a copy of the stored result.
	Update(ctx context.Context, id string, fn UpdateFunc) (*model.GenerationJob, error)

	// ListActive returns jobs that have not reached a terminal state.
	ListActive(ctx context.Context, limit int) ([]*model.GenerationJob, error)

	// DeleteTerminalBefore removes terminal jobs last updated before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}
