// Package storetest holds the behaviour every repository.JobStore must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/domain/ports/repository"
)

// Run exercises store through the JobStore contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) repository.JobStore) {
	t.Run("create and get", func(t *testing.T) { testCreateGet(t, newStore(t)) })
	t.Run("duplicate create", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("concurrent create", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("not found", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("update aborted", func(t *testing.T) { testUpdateAborted(t, newStore(t)) })
	t.Run("concurrent updates", func(t *testing.T) { testConcurrentUpdates(t, newStore(t)) })
	t.Run("list active", func(t *testing.T) { testListActive(t, newStore(t)) })
	t.Run("delete terminal", func(t *testing.T) { testDeleteTerminal(t, newStore(t)) })
}

var testParams = model.GenerationParams{Prompt: "a fox in the snow", AspectRatio: "16:9", Duration: 5, Size: "720p"}

func newJob(t *testing.T, id string, now time.Time) *model.GenerationJob {
	t.Helper()
	j, err := model.NewGenerationJob(id, testParams, now)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return j
}

func testCreateGet(t *testing.T, s repository.JobStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.Create(ctx, newJob(t, "job-1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.JobStatusPending || got.Progress != 0 || got.Params.Prompt != testParams.Prompt {
		t.Errorf("unexpected job %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("createdAt: expected %s, got %s", now, got.CreatedAt)
	}

	got.Progress = 99
	again, _ := s.Get(ctx, "job-1")
	if again.Progress != 0 {
		t.Error("Get must return a copy, mutation leaked into the store")
	}
}

func testDuplicate(t *testing.T, s repository.JobStore) {
	ctx := context.Background()
	if err := s.Create(ctx, newJob(t, "dup", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.Create(ctx, newJob(t, "dup", time.Now()))
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func testConcurrentCreate(t *testing.T, s repository.JobStore) {
	ctx := context.Background()
	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	okCount := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Create(ctx, newJob(t, "same", time.Now())); err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if okCount != 1 {
		t.Fatalf("expected exactly one successful create, got %d", okCount)
	}
}

func testNotFound(t *testing.T, s repository.JobStore) {
	ctx := context.Background()
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("get: expected ErrNotFound, got %v", err)
	}
	_, err := s.Update(ctx, "missing", func(*model.GenerationJob) error { return nil })
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("update: expected ErrNotFound, got %v", err)
	}
}

func testUpdateAborted(t *testing.T, s repository.JobStore) {
	ctx := context.Background()
	if err := s.Create(ctx, newJob(t, "abort", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	boom := errors.New("boom")
	_, err := s.Update(ctx, "abort", func(j *model.GenerationJob) error {
		j.Progress = 50
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	got, _ := s.Get(ctx, "abort")
	if got.Progress != 0 {
		t.Errorf("aborted update must not persist, progress=%d", got.Progress)
	}
}

func testConcurrentUpdates(t *testing.T, s repository.JobStore) {
	ctx := context.Background()
	if err := s.Create(ctx, newJob(t, "race", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	const n = 20
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			_, err := s.Update(ctx, "race", func(j *model.GenerationJob) error {
				j.RecordAttempt()
				j.ApplySnapshot(model.StatusSnapshot{Status: model.JobStatusRunning, Progress: p}, time.Now())
				return nil
			})
			if err != nil {
				t.Errorf("update %d: %v", p, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "race")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Attempts != n {
		t.Errorf("expected %d attempts (no lost updates), got %d", n, got.Attempts)
	}
	if got.Progress != n {
		t.Errorf("expected progress clamped to max %d, got %d", n, got.Progress)
	}
}

func testListActive(t *testing.T, s repository.JobStore) {
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 3; i++ {
		if err := s.Create(ctx, newJob(t, fmt.Sprintf("active-%d", i), now)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := s.Update(ctx, "active-1", func(j *model.GenerationJob) error {
		j.Succeed("https://cdn.example/v.mp4", now)
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	jobs, err := s.ListActive(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 active jobs, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.IsTerminal() {
			t.Errorf("terminal job %s listed as active", j.ID)
		}
	}
}

func testDeleteTerminal(t *testing.T, s repository.JobStore) {
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	for _, id := range []string{"old-done", "old-running", "fresh-done"} {
		if err := s.Create(ctx, newJob(t, id, old)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	mustUpdate := func(id string, fn repository.UpdateFunc) {
		if _, err := s.Update(ctx, id, fn); err != nil {
			t.Fatalf("update %s: %v", id, err)
		}
	}
	mustUpdate("old-done", func(j *model.GenerationJob) error { j.Fail("nope", old); return nil })
	mustUpdate("fresh-done", func(j *model.GenerationJob) error { j.TimeOut(time.Now()); return nil })

	n, err := s.DeleteTerminalBefore(ctx, time.Now().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted job, got %d", n)
	}
	if _, err := s.Get(ctx, "old-done"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("old terminal job should be gone, got %v", err)
	}
	for _, id := range []string{"old-running", "fresh-done"} {
		if _, err := s.Get(ctx, id); err != nil {
			t.Errorf("%s should be retained: %v", id, err)
		}
	}
}
