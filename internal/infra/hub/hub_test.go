package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/infra/logging"
	"ai-video-studio/internal/infra/store/memory"
)

type fakeSink struct {
	mu     sync.Mutex
	events []Event
	gate   chan struct{} // when set, Send waits for a value
	fail   bool
	closed bool
}

func (s *fakeSink) Send(ctx context.Context, ev Event) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// waitFor polls until cond holds on the received events.
func (s *fakeSink) waitFor(t *testing.T, cond func([]Event) bool) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := s.snapshot(); cond(evs) {
			return evs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met, got %+v", s.snapshot())
	return nil
}

func hasFinal(evs []Event) bool {
	for _, e := range evs {
		if e.terminal() {
			return true
		}
	}
	return false
}

var params = model.GenerationParams{Prompt: "p", AspectRatio: "16:9", Duration: 5, Size: "720p"}

func newJob(t *testing.T, store *memory.Store, id string) *model.GenerationJob {
	t.Helper()
	j, err := model.NewGenerationJob(id, params, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Create(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	return j
}

func advance(t *testing.T, store *memory.Store, id string, s model.StatusSnapshot) *model.GenerationJob {
	t.Helper()
	j, err := store.Update(context.Background(), id, func(j *model.GenerationJob) error {
		j.ApplySnapshot(s, time.Now())
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func newHub(store JobReader, buffer int) *Hub {
	return New(store, buffer, time.Second, logging.Nop())
}

func TestHub_ProgressThenSingleFinal(t *testing.T) {
	store := memory.NewStore()
	h := newHub(store, 16)
	defer h.Close()
	newJob(t, store, "j1")

	sink := &fakeSink{}
	if err := h.Connect("c1", sink); err != nil {
		t.Fatal(err)
	}
	if err := h.Subscribe(context.Background(), "c1", "j1"); err != nil {
		t.Fatal(err)
	}
	h.Publish(advance(t, store, "j1", model.StatusSnapshot{Status: model.JobStatusRunning, Progress: 40}))
	h.Publish(advance(t, store, "j1", model.StatusSnapshot{Status: model.JobStatusRunning, Progress: 90}))
	final := advance(t, store, "j1", model.StatusSnapshot{Status: model.JobStatusSucceeded, Progress: 100, ResultURL: "X"})
	h.Publish(final)
	h.Publish(final)

	evs := sink.waitFor(t, hasFinal)
	time.Sleep(20 * time.Millisecond)
	evs = sink.snapshot()

	var progress []int
	finals := 0
	for i, e := range evs {
		switch e.Type {
		case EventProgress:
			if finals > 0 {
				t.Fatalf("event %d after final: %+v", i, e)
			}
			progress = append(progress, e.job().Progress)
		case EventFinal:
			finals++
			if e.job().ResultURL != "X" {
				t.Errorf("expected result url X, got %q", e.job().ResultURL)
			}
		}
	}
	if finals != 1 {
		t.Fatalf("expected exactly one final, got %d", finals)
	}
	want := []int{0, 40, 90}
	if len(progress) != len(want) {
		t.Fatalf("expected progress %v, got %v", want, progress)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Fatalf("expected progress %v, got %v", want, progress)
		}
	}
	if n := h.Subscribers("j1"); n != 0 {
		t.Errorf("final delivery should remove the subscription, %d left", n)
	}
}

func TestHub_LateSubscriberGetsFinalImmediately(t *testing.T) {
	store := memory.NewStore()
	h := newHub(store, 16)
	defer h.Close()
	newJob(t, store, "done")
	store.Update(context.Background(), "done", func(j *model.GenerationJob) error {
		j.TimeOut(time.Now())
		return nil
	})

	sink := &fakeSink{}
	_ = h.Connect("c1", sink)
	if err := h.Subscribe(context.Background(), "c1", "done"); err != nil {
		t.Fatal(err)
	}
	evs := sink.waitFor(t, func(e []Event) bool { return len(e) == 1 })
	if evs[0].Type != EventTimeout {
		t.Errorf("expected timeout frame, got %s", evs[0].Type)
	}
	if evs[0].job().ErrorMessage != model.TimeoutMessage {
		t.Errorf("unexpected message %q", evs[0].job().ErrorMessage)
	}
	if n := h.Subscribers("done"); n != 0 {
		t.Errorf("terminal subscribe must not leave a subscription, got %d", n)
	}
}

func TestHub_SubscribeUnknownJob(t *testing.T) {
	h := newHub(memory.NewStore(), 16)
	defer h.Close()
	_ = h.Connect("c1", &fakeSink{})
	if err := h.Subscribe(context.Background(), "c1", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := h.Subscribers("missing"); n != 0 {
		t.Errorf("unknown job must not be subscribed, got %d", n)
	}
	if err := h.Subscribe(context.Background(), "ghost", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown connection, got %v", err)
	}
}

func TestHub_StaleProgressIsDropped(t *testing.T) {
	store := memory.NewStore()
	h := newHub(store, 16)
	defer h.Close()
	j := newJob(t, store, "j1")

	sink := &fakeSink{}
	_ = h.Connect("c1", sink)
	_ = h.Subscribe(context.Background(), "c1", "j1")

	high := j.Clone()
	high.Status, high.Progress = model.JobStatusRunning, 70
	low := high.Clone()
	low.Progress = 30
	h.Publish(high)
	h.Publish(low)
	h.Publish(high)

	time.Sleep(50 * time.Millisecond)
	last := -1
	for _, e := range sink.snapshot() {
		if p := e.job().Progress; p < last {
			t.Fatalf("progress went backwards: %d after %d", p, last)
		} else {
			last = p
		}
	}
	if last != 70 {
		t.Errorf("expected last progress 70, got %d", last)
	}
}

func TestHub_SlowConnectionCoalescesProgress(t *testing.T) {
	store := memory.NewStore()
	h := newHub(store, 2)
	defer h.Close()
	j := newJob(t, store, "j1")

	gate := make(chan struct{})
	sink := &fakeSink{gate: gate}
	_ = h.Connect("c1", sink)
	_ = h.Subscribe(context.Background(), "c1", "j1")

	for p := 1; p <= 50; p++ {
		s := j.Clone()
		s.Status, s.Progress = model.JobStatusRunning, p
		h.Publish(s)
	}
	done := j.Clone()
	done.Succeed("X", time.Now())
	h.Publish(done)

	go func() {
		for {
			select {
			case gate <- struct{}{}:
			case <-time.After(time.Second):
				return
			}
		}
	}()
	evs := sink.waitFor(t, hasFinal)

	if len(evs) > 4 {
		t.Errorf("expected the bounded queue to coalesce, got %d events", len(evs))
	}
	last := -1
	for i, e := range evs {
		if e.job().Progress < last {
			t.Fatalf("progress went backwards at %d", i)
		}
		last = e.job().Progress
	}
	if evs[len(evs)-1].Type != EventFinal {
		t.Errorf("final must be the last event, got %s", evs[len(evs)-1].Type)
	}
}

func TestHub_WriteFailureDisconnects(t *testing.T) {
	store := memory.NewStore()
	h := newHub(store, 16)
	defer h.Close()
	newJob(t, store, "j1")

	sink := &fakeSink{fail: true}
	_ = h.Connect("c1", sink)
	_ = h.Subscribe(context.Background(), "c1", "j1")

	deadline := time.Now().Add(2 * time.Second)
	for h.Connections() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.Connections() != 0 {
		t.Fatal("expected connection to be dropped after a write failure")
	}
	if h.Subscribers("j1") != 0 {
		t.Error("expected subscriptions to be removed")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !sink.closed {
		t.Error("expected sink to be closed")
	}
}

func TestHub_DisconnectRemovesSubscriptions(t *testing.T) {
	store := memory.NewStore()
	h := newHub(store, 16)
	defer h.Close()
	newJob(t, store, "a")
	newJob(t, store, "b")

	_ = h.Connect("c1", &fakeSink{})
	_ = h.Connect("c2", &fakeSink{})
	_ = h.Subscribe(context.Background(), "c1", "a")
	_ = h.Subscribe(context.Background(), "c1", "b")
	_ = h.Subscribe(context.Background(), "c2", "a")

	h.Disconnect("c1")
	if h.Subscribers("a") != 1 || h.Subscribers("b") != 0 {
		t.Errorf("unexpected subscribers a=%d b=%d", h.Subscribers("a"), h.Subscribers("b"))
	}
	if err := h.Connect("c2", &fakeSink{}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected duplicate connection error, got %v", err)
	}
}

func TestHub_ErrorFrames(t *testing.T) {
	store := memory.NewStore()
	h := newHub(store, 16)
	defer h.Close()
	newJob(t, store, "j1")

	sink := &fakeSink{}
	_ = h.Connect("c1", sink)
	_ = h.Subscribe(context.Background(), "c1", "j1")
	h.PublishError("j1", "store unavailable")
	h.SendError("c1", "", "bad frame")

	evs := sink.waitFor(t, func(e []Event) bool { return len(e) == 3 })
	if evs[1].Type != EventError || evs[1].Data.(ErrorData).Message != "store unavailable" {
		t.Errorf("unexpected job error frame %+v", evs[1])
	}
	if evs[2].Type != EventError || evs[2].Data.(ErrorData).Message != "bad frame" {
		t.Errorf("unexpected connection error frame %+v", evs[2])
	}
}

func TestHub_ConcurrentSubscribersAndPublishers(t *testing.T) {
	store := memory.NewStore()
	h := newHub(store, 8)
	defer h.Close()

	const jobs, conns = 5, 10
	for i := 0; i < jobs; i++ {
		newJob(t, store, string(rune('a'+i)))
	}
	sinks := make([]*fakeSink, conns)
	for i := range sinks {
		sinks[i] = &fakeSink{}
		_ = h.Connect(string(rune('A'+i)), sinks[i])
	}

	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		for k := 0; k < jobs; k++ {
			wg.Add(1)
			go func(c, jb string) {
				defer wg.Done()
				_ = h.Subscribe(context.Background(), c, jb)
			}(string(rune('A'+i)), string(rune('a'+k)))
		}
	}
	for k := 0; k < jobs; k++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for p := 10; p < 100; p += 10 {
				h.Publish(advance(t, store, id, model.StatusSnapshot{Status: model.JobStatusRunning, Progress: p}))
			}
			h.Publish(advance(t, store, id, model.StatusSnapshot{Status: model.JobStatusSucceeded, ResultURL: "u"}))
		}(string(rune('a' + k)))
	}
	wg.Wait()

	for i, s := range sinks {
		evs := s.waitFor(t, func(e []Event) bool {
			n := 0
			for _, ev := range e {
				if ev.terminal() {
					n++
				}
			}
			return n == jobs
		})
		last := map[string]int{}
		finals := map[string]int{}
		for _, e := range evs {
			if finals[e.JobID] > 0 {
				t.Fatalf("sink %d: event after final for %s", i, e.JobID)
			}
			if e.job().Progress < last[e.JobID] {
				t.Fatalf("sink %d: progress regressed for %s", i, e.JobID)
			}
			last[e.JobID] = e.job().Progress
			if e.terminal() {
				finals[e.JobID]++
			}
		}
	}
}

func TestHub_FinishedJobsReleaseConnectionState(t *testing.T) {
	store := memory.NewStore()
	h := newHub(store, 16)
	defer h.Close()

	sink := &fakeSink{}
	_ = h.Connect("dashboard", sink)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		newJob(t, store, id)
		if err := h.Subscribe(context.Background(), "dashboard", id); err != nil {
			t.Fatal(err)
		}
	}
	for _, id := range ids[:3] {
		h.Publish(advance(t, store, id, model.StatusSnapshot{Status: model.JobStatusSucceeded, ResultURL: "u"}))
	}
	h.Unsubscribe("dashboard", "d")

	h.mu.Lock()
	n := len(h.conns["dashboard"].views)
	h.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no per-job state after finals and unsubscribe, got %d views", n)
	}

	// a later subscription to a finished job still gets exactly one final
	if err := h.Subscribe(context.Background(), "dashboard", "a"); err != nil {
		t.Fatal(err)
	}
	sink.waitFor(t, func(e []Event) bool {
		n := 0
		for _, ev := range e {
			if ev.JobID == "a" && ev.terminal() {
				n++
			}
		}
		return n == 2
	})
}
