package provider

import (
	"context"
	"strings"
	"testing"

	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
)

func TestSimProvider_AdvancesToSuccess(t *testing.T) {
	s := NewSimProvider(40, 0)
	ctx := context.Background()
	id, err := s.Submit(ctx, validParams)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "sim-") {
		t.Errorf("unexpected id %q", id)
	}

	want := []model.JobStatus{model.JobStatusRunning, model.JobStatusRunning, model.JobStatusSucceeded}
	last := 0
	for i, st := range want {
		snap, err := s.FetchStatus(ctx, id)
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if snap.Status != st {
			t.Fatalf("fetch %d: expected %s, got %s", i, st, snap.Status)
		}
		if snap.Progress < last {
			t.Fatalf("progress went backwards: %d -> %d", last, snap.Progress)
		}
		last = snap.Progress
		if st == model.JobStatusSucceeded && snap.ResultURL != "https://sim.local/videos/"+id+".mp4" {
			t.Errorf("unexpected url %q", snap.ResultURL)
		}
	}
	if n := s.tracked(); n != 0 {
		t.Errorf("finished job should be forgotten, %d still tracked", n)
	}
	if _, err := s.FetchStatus(ctx, id); !domain.IsPermanent(err) {
		t.Errorf("expected a finished id to be unknown, got %v", err)
	}
}

func TestSimProvider_UnknownIDIsPermanent(t *testing.T) {
	s := NewSimProvider(10, 0)
	if _, err := s.FetchStatus(context.Background(), "nope"); !domain.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func (s *SimProvider) tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
