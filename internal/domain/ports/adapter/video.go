package adapter

import (
	"context"

	"ai-video-studio/internal/domain/model"
)

// VideoProvider is the port for the external generation provider.
// Implementations hold no job state. Errors are *domain.ProviderError so that
// callers can tell transient failures from permanent rejections.
type VideoProvider interface {
	// Submit expects params that already passed validation and returns the provider job id.
	Submit(ctx context.Context, params model.GenerationParams) (string, error)

	// FetchStatus returns a normalized snapshot for a provider job id.
	FetchStatus(ctx context.Context, jobID string) (model.StatusSnapshot, error)
}
