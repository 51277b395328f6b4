package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/infra/hub"
	"ai-video-studio/internal/infra/logging"
	"ai-video-studio/internal/infra/store/memory"
)

func TestGenerationUC_ValidationBeforeProvider(t *testing.T) {
	store := memory.NewStore()
	prov := &scriptedProvider{id: "p1", steps: []step{{}}}
	e := NewEngine(store, prov, &recordingPublisher{}, nil, testEngineConfig(3), logging.Nop())
	uc := NewGenerationUseCase(store, prov, e, logging.Nop(), false)

	tests := []struct {
		name  string
		field string
		edit  func(p *model.GenerationParams)
	}{
		{"empty prompt", "prompt", func(p *model.GenerationParams) { p.Prompt = "   " }},
		{"unknown aspect ratio", "aspectRatio", func(p *model.GenerationParams) { p.AspectRatio = "21:9" }},
		{"unknown duration", "duration", func(p *model.GenerationParams) { p.Duration = 7 }},
		{"unknown size", "size", func(p *model.GenerationParams) { p.Size = "4k" }},
		{"unknown style", "style", func(p *model.GenerationParams) { p.Style = "pixel" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams
			tt.edit(&p)
			_, err := uc.Submit(context.Background(), p)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("expected validation error on %s, got %v", tt.field, err)
			}
		})
	}
	if prov.submits.Load() != 0 {
		t.Errorf("provider must not be called for invalid params, got %d calls", prov.submits.Load())
	}
	if store.Len() != 0 {
		t.Errorf("no job may be created for invalid params")
	}
}

func TestGenerationUC_ProviderRejection(t *testing.T) {
	store := memory.NewStore()
	prov := &scriptedProvider{subErr: domain.NewPermanent("submit", 400, "prompt rejected", nil), steps: []step{{}}}
	e := NewEngine(store, prov, &recordingPublisher{}, nil, testEngineConfig(3), logging.Nop())
	uc := NewGenerationUseCase(store, prov, e, logging.Nop(), false)

	_, err := uc.Submit(context.Background(), validParams)
	if !domain.IsPermanent(err) {
		t.Fatalf("expected permanent provider error, got %v", err)
	}
	if store.Len() != 0 || e.Active() != 0 {
		t.Error("rejected submission must not create a job or a loop")
	}
}

func TestGenerationUC_DuplicateIDsNeverRunTwoLoops(t *testing.T) {
	store := memory.NewStore()
	prov := &scriptedProvider{id: "same-id", steps: []step{
		{snap: model.StatusSnapshot{Status: model.JobStatusRunning, Progress: 10}},
		{snap: model.StatusSnapshot{Status: model.JobStatusSucceeded, ResultURL: "u"}},
	}}
	e := NewEngine(store, prov, &recordingPublisher{}, nil, testEngineConfig(10), logging.Nop())
	uc := NewGenerationUseCase(store, prov, e, logging.Nop(), false)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok, dup int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uc.Submit(context.Background(), validParams)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrLoopRunning):
				dup++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || dup != n-1 {
		t.Fatalf("expected 1 accepted and %d duplicates, got %d and %d", n-1, ok, dup)
	}
	if a := e.Active(); a > 1 {
		t.Fatalf("expected at most one loop, got %d", a)
	}
	e.Wait()
	if got := prov.fetches.Load(); got != 2 {
		t.Errorf("expected the single loop to poll twice, got %d", got)
	}
}

func TestGenerationUC_GetUnknown(t *testing.T) {
	store := memory.NewStore()
	uc := NewGenerationUseCase(store, &scriptedProvider{steps: []step{{}}}, nil, logging.Nop(), false)
	if _, err := uc.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := uc.Get(context.Background(), ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

type captureSink struct {
	mu     sync.Mutex
	events []hub.Event
	final  chan struct{}
}

func (c *captureSink) Send(_ context.Context, ev hub.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	if ev.Type == hub.EventFinal || ev.Type == hub.EventTimeout {
		close(c.final)
	}
	return nil
}

func (c *captureSink) Close() error { return nil }

// The end-to-end scenario: 40%, 90%, then success, observed by a push
// subscriber and a pull client at the same time.
func TestGeneration_PushAndPullObserveSameOutcome(t *testing.T) {
	store := memory.NewStore()
	prov := &scriptedProvider{id: "vid-1", steps: []step{
		{snap: model.StatusSnapshot{Status: model.JobStatusRunning, Progress: 40}},
		{snap: model.StatusSnapshot{Status: model.JobStatusRunning, Progress: 90}},
		{snap: model.StatusSnapshot{Status: model.JobStatusSucceeded, Progress: 100, ResultURL: "X"}},
	}}
	h := hub.New(store, 16, time.Second, logging.Nop())
	defer h.Close()
	cfg := testEngineConfig(150)
	cfg.PollInterval = 10 * time.Millisecond
	e := NewEngine(store, prov, h, nil, cfg, logging.Nop())
	uc := NewGenerationUseCase(store, prov, gatedStarter{e: e, gate: make(chan struct{})}, logging.Nop(), false)
	starter := uc.loops.(gatedStarter)

	sink := &captureSink{final: make(chan struct{})}
	if err := h.Connect("c1", sink); err != nil {
		t.Fatal(err)
	}

	id, err := uc.Submit(context.Background(), validParams)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := h.Subscribe(context.Background(), "c1", id); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	close(starter.gate)

	pullDone := make(chan *model.GenerationJob)
	go func() {
		for {
			j, err := uc.Get(context.Background(), id)
			if err == nil && j.IsTerminal() {
				pullDone <- j
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	select {
	case <-sink.final:
	case <-time.After(5 * time.Second):
		t.Fatal("no final event")
	}
	pulled := <-pullDone
	e.Wait()

	sink.mu.Lock()
	events := append([]hub.Event(nil), sink.events...)
	sink.mu.Unlock()

	var progress []int
	for _, ev := range events[1 : len(events)-1] {
		if ev.Type != hub.EventProgress {
			t.Fatalf("unexpected event %s before final", ev.Type)
		}
		progress = append(progress, ev.Data.(*model.GenerationJob).Progress)
	}
	if len(progress) != 2 || progress[0] != 40 || progress[1] != 90 {
		t.Fatalf("expected progress [40 90], got %v", progress)
	}
	final := events[len(events)-1].Data.(*model.GenerationJob)
	if events[len(events)-1].Type != hub.EventFinal || final.Status != model.JobStatusSucceeded || final.ResultURL != "X" {
		t.Fatalf("unexpected final %+v", final)
	}
	if pulled.Status != final.Status || pulled.ResultURL != final.ResultURL || pulled.Progress != final.Progress {
		t.Errorf("pull saw %+v, push saw %+v", pulled, final)
	}
	if got := prov.fetches.Load(); got != 3 {
		t.Errorf("pull reads must not reach the provider: expected 3 polls, got %d", got)
	}
}

// gatedStarter holds the loop until the test has subscribed.
type gatedStarter struct {
	e    *Engine
	gate chan struct{}
}

func (g gatedStarter) Start(ctx context.Context, id string) error {
	go func() {
		<-g.gate
		_ = g.e.Start(context.Background(), id)
	}()
	return nil
}

// stubStarter answers every Start with err.
type stubStarter struct{ err error }

func (s stubStarter) Start(context.Context, string) error { return s.err }

func TestGenerationUC_StartFailureFailsTheJob(t *testing.T) {
	store := memory.NewStore()
	prov := &scriptedProvider{id: "p1", steps: []step{{}}}
	uc := NewGenerationUseCase(store, prov, stubStarter{err: errors.New("redis: connection refused")}, logging.Nop(), false)

	if _, err := uc.Submit(context.Background(), validParams); err == nil {
		t.Fatal("expected submit to report the start failure")
	}
	job, err := store.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("expected the job record to remain readable, got %v", err)
	}
	if job.Status != model.JobStatusFailed || job.ErrorMessage != internalFailureMessage {
		t.Errorf("job without a loop must not stay active, got %s %q", job.Status, job.ErrorMessage)
	}
}

func TestGenerationUC_StartRaceWithAdoptionSucceeds(t *testing.T) {
	store := memory.NewStore()
	prov := &scriptedProvider{id: "p1", steps: []step{{}}}
	uc := NewGenerationUseCase(store, prov, stubStarter{err: domain.ErrLoopRunning}, logging.Nop(), false)

	id, err := uc.Submit(context.Background(), validParams)
	if err != nil || id != "p1" {
		t.Fatalf("expected the job to be accepted, got id=%q err=%v", id, err)
	}
	if job, _ := store.Get(context.Background(), "p1"); job.IsTerminal() {
		t.Errorf("an owned job must stay active, got %s", job.Status)
	}
}
