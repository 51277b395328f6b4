package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"ai-video-studio/internal/infra/logging"
)

type countingResumer struct {
	calls atomic.Int32
	fail  bool
}

func (r *countingResumer) Resume(context.Context) (int, error) {
	r.calls.Add(1)
	if r.fail {
		return 0, errors.New("redis: connection refused")
	}
	return 1, nil
}

func TestAdoptWorker_ResumesEveryTick(t *testing.T) {
	for _, fail := range []bool{false, true} {
		r := &countingResumer{fail: fail}
		w := NewAdoptWorker(2*time.Millisecond, r, logging.Nop())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		err := w.Run(ctx)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline error, got %v", err)
		}
		// a failed pass must not stop later ones
		if r.calls.Load() < 2 {
			t.Errorf("fail=%v: expected repeated adopt passes, got %d", fail, r.calls.Load())
		}
	}
}
