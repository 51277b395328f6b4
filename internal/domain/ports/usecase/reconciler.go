package usecase

import (
	"context"

	"ai-video-studio/internal/domain/model"
)

// Publisher fans job updates out to push subscribers. Implementations must not
// block on delivery.
type Publisher interface {
	Publish(job *model.GenerationJob)
	PublishError(jobID, msg string)
}

// LoopStarter starts the single reconciliation loop for a job id.
type LoopStarter interface {
	Start(ctx context.Context, jobID string) error
}

// LoopLocker grants cross-instance ownership of a job's loop.
// TryLock returns domain.ErrLoopRunning while another owner holds the lease.
type LoopLocker interface {
	TryLock(ctx context.Context, jobID string) (token string, err error)
	Refresh(ctx context.Context, jobID, token string) error
	Unlock(ctx context.Context, jobID, token string) error
}
