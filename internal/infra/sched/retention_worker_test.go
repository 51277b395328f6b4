package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/infra/logging"
	"ai-video-studio/internal/infra/store/memory"
)

type fakePool struct{ calls int }

func (p *fakePool) PoolStats() (int32, int32, int32) {
	p.calls++
	return 10, 7, 3
}

func seed(t *testing.T, s *memory.Store, id string, finishedAt time.Time, terminal bool) {
	t.Helper()
	j, _ := model.NewGenerationJob(id, model.GenerationParams{Prompt: "p", AspectRatio: "1:1", Duration: 5, Size: "480p"}, finishedAt)
	if err := s.Create(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	if terminal {
		_, err := s.Update(context.Background(), id, func(j *model.GenerationJob) error {
			j.Succeed("u", finishedAt)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestRetentionWorker_Sweep(t *testing.T) {
	store := memory.NewStore()
	now := time.Now()
	seed(t, store, "old-done", now.Add(-time.Hour), true)
	seed(t, store, "fresh-done", now.Add(-time.Minute), true)
	seed(t, store, "old-running", now.Add(-time.Hour), false)

	pool := &fakePool{}
	w := NewRetentionWorker(time.Minute, 15*time.Minute, store, pool, logging.Nop())
	w.now = func() time.Time { return now }

	if n := w.Sweep(context.Background()); n != 1 {
		t.Fatalf("expected 1 job removed, got %d", n)
	}
	if _, err := store.Get(context.Background(), "old-done"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expired job should be gone, got %v", err)
	}
	for _, id := range []string{"fresh-done", "old-running"} {
		if _, err := store.Get(context.Background(), id); err != nil {
			t.Errorf("%s should be kept: %v", id, err)
		}
	}
	if pool.calls != 1 {
		t.Errorf("expected pool stats to be sampled once, got %d", pool.calls)
	}
}

func TestRetentionWorker_RunStopsOnCancel(t *testing.T) {
	w := NewRetentionWorker(time.Millisecond, time.Minute, memory.NewStore(), nil, logging.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
