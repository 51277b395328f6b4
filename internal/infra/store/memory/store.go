// Package memory is the default single-process job store.
package memory

import (
	"context"
	"sync"
	"time"

	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/domain/ports/repository"
	"ai-video-studio/internal/infra/metrics"
)

var _ repository.JobStore = (*Store)(nil)

// entry serializes access to a single job.
type entry struct {
	mu  sync.Mutex
	job *model.GenerationJob
}

type Store struct {
	mu   sync.RWMutex
	jobs map[string]*entry
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*entry)}
}

func (s *Store) Create(_ context.Context, job *model.GenerationJob) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		metrics.IncStoreOp("memory", "create", "conflict")
		return domain.ErrAlreadyExists
	}
	s.jobs[job.ID] = &entry{job: job.Clone()}
	metrics.IncStoreOp("memory", "create", "ok")
	return nil
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	return e, ok
}

func (s *Store) Get(_ context.Context, id string) (*model.GenerationJob, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

func (s *Store) Update(_ context.Context, id string, fn repository.UpdateFunc) (*model.GenerationJob, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	// fn works on a copy so a failed update leaves the stored record untouched
	cp := e.job.Clone()
	if err := fn(cp); err != nil {
		metrics.IncStoreOp("memory", "update", "aborted")
		return nil, err
	}
	e.job = cp
	metrics.IncStoreOp("memory", "update", "ok")
	return cp.Clone(), nil
}

func (s *Store) ListActive(_ context.Context, limit int) ([]*model.GenerationJob, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*model.GenerationJob
	for _, e := range entries {
		if limit > 0 && len(out) >= limit {
			break
		}
		e.mu.Lock()
		if !e.job.IsTerminal() {
			out = append(out, e.job.Clone())
		}
		e.mu.Unlock()
	}
	return out, nil
}

func (s *Store) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.jobs {
		e.mu.Lock()
		expired := e.job.IsTerminal() && e.job.UpdatedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// Len is the number of retained jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
