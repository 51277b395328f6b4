package provider

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/domain/ports/adapter"
)

var _ adapter.VideoProvider = (*SimProvider)(nil)

// SimProvider is an in-process provider for local/dev runs. Every status fetch
// advances a job by Step percent until it succeeds with a fake URL. Finished
// ids are forgotten, so fetching them again reports an unknown job.
type SimProvider struct {
	mu      sync.Mutex
	jobs    map[string]int
	step    int
	latency time.Duration
	baseURL string
}

func NewSimProvider(step int, latency time.Duration) *SimProvider {
	if step <= 0 {
		step = 10
	}
	return &SimProvider{
		jobs:    make(map[string]int),
		step:    step,
		latency: latency,
		baseURL: "https://sim.local/videos/",
	}
}

func (s *SimProvider) wait(ctx context.Context, op string) error {
	if s.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(s.latency):
		return nil
	case <-ctx.Done():
		return domain.NewTransient(op, 0, "", ctx.Err())
	}
}

func (s *SimProvider) Submit(ctx context.Context, _ model.GenerationParams) (string, error) {
	if err := s.wait(ctx, "submit"); err != nil {
		return "", err
	}
	id := "sim-" + uuid.NewString()
	s.mu.Lock()
	s.jobs[id] = 0
	s.mu.Unlock()
	return id, nil
}

func (s *SimProvider) FetchStatus(ctx context.Context, jobID string) (model.StatusSnapshot, error) {
	if err := s.wait(ctx, "status"); err != nil {
		return model.StatusSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.jobs[jobID]
	if !ok {
		return model.StatusSnapshot{}, domain.NewPermanent("status", http.StatusNotFound, "unknown job id", nil)
	}
	p += s.step
	if p >= 100 {
		delete(s.jobs, jobID)
		return model.StatusSnapshot{Status: model.JobStatusSucceeded, Progress: 100, ResultURL: s.baseURL + jobID + ".mp4"}, nil
	}
	s.jobs[jobID] = p
	return model.StatusSnapshot{Status: model.JobStatusRunning, Progress: p}, nil
}
