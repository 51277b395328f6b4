package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/infra/metrics"
)

// Hub fans job snapshots out to push-channel connections. Publish never blocks
// on a client: every connection has its own queue and writer goroutine.
type Hub struct {
	store        JobReader
	log          *zerolog.Logger
	bufferSize   int
	writeTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*conn
	jobs  map[string]map[string]struct{} // jobID -> connIDs
	nsubs int

	wg sync.WaitGroup
}

func New(store JobReader, bufferSize int, writeTimeout time.Duration, logger *zerolog.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Hub{
		store:        store,
		log:          logger,
		bufferSize:   bufferSize,
		writeTimeout: writeTimeout,
		conns:        make(map[string]*conn),
		jobs:         make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Connect(connID string, sink Sink) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; ok {
		return fmt.Errorf("connection %s: %w", connID, domain.ErrAlreadyExists)
	}
	c := newConn(connID, sink)
	h.conns[connID] = c
	metrics.SetHubConnections(len(h.conns))

	h.wg.Add(1)
	go h.writeLoop(c)
	return nil
}

// Disconnect removes the connection and all its subscriptions. Queued events
// are discarded. Reconciliation is not affected.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeConnLocked(connID)
}

func (h *Hub) removeConnLocked(connID string) *conn {
	c, ok := h.conns[connID]
	if !ok {
		return nil
	}
	for jobID := range c.subs {
		h.unsubscribeLocked(c, jobID)
	}
	delete(h.conns, connID)
	close(c.done)
	metrics.SetHubConnections(len(h.conns))
	return c
}

func (h *Hub) drop(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.id] == c {
		h.removeConnLocked(c.id)
	}
}

// Subscribe attaches connID to jobID and queues the job's current state: the
// final event when the job is already terminal, a progress snapshot otherwise.
func (h *Hub) Subscribe(ctx context.Context, connID, jobID string) error {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("connection %s: %w", connID, domain.ErrNotFound)
	}
	// Register before reading so a Publish racing with the read is not lost.
	h.subscribeLocked(c, jobID)
	h.mu.Unlock()

	job, err := h.store.Get(ctx, jobID)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[connID] != c {
		return nil
	}
	if _, ok := c.subs[jobID]; !ok {
		// a racing Publish already queued the final, or the client unsubscribed
		return nil
	}
	if err != nil {
		h.unsubscribeLocked(c, jobID)
		return fmt.Errorf("subscribe %s: %w", jobID, err)
	}
	ev := EventFor(job)
	c.offer(ev, h.bufferSize)
	if ev.terminal() {
		h.unsubscribeLocked(c, jobID)
	}
	return nil
}

func (h *Hub) Unsubscribe(connID, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[connID]; ok {
		h.unsubscribeLocked(c, jobID)
	}
}

func (h *Hub) subscribeLocked(c *conn, jobID string) {
	// A new subscription gets its own final event.
	c.view(jobID).final = false
	if _, ok := c.subs[jobID]; ok {
		return
	}
	c.subs[jobID] = struct{}{}
	set, ok := h.jobs[jobID]
	if !ok {
		set = make(map[string]struct{})
		h.jobs[jobID] = set
	}
	set[c.id] = struct{}{}
	h.nsubs++
	metrics.SetHubSubscriptions(h.nsubs)
}

func (h *Hub) unsubscribeLocked(c *conn, jobID string) {
	if _, ok := c.subs[jobID]; !ok {
		return
	}
	delete(c.subs, jobID)
	delete(c.views, jobID)
	if set, ok := h.jobs[jobID]; ok {
		delete(set, c.id)
		if len(set) == 0 {
			delete(h.jobs, jobID)
		}
	}
	h.nsubs--
	metrics.SetHubSubscriptions(h.nsubs)
}

// Publish queues the job snapshot for every subscriber. A terminal snapshot
// ends the subscriptions.
func (h *Hub) Publish(job *model.GenerationJob) {
	if job == nil {
		return
	}
	ev := EventFor(job)

	h.mu.Lock()
	defer h.mu.Unlock()
	for connID := range h.jobs[job.ID] {
		c := h.conns[connID]
		if c == nil {
			continue
		}
		c.offer(ev, h.bufferSize)
		if ev.terminal() {
			h.unsubscribeLocked(c, job.ID)
		}
	}
}

// PublishError tells every subscriber of jobID about an internal failure.
func (h *Hub) PublishError(jobID, msg string) {
	ev := ErrorEvent(jobID, msg)
	h.mu.Lock()
	defer h.mu.Unlock()
	for connID := range h.jobs[jobID] {
		if c := h.conns[connID]; c != nil {
			c.offer(ev, h.bufferSize)
		}
	}
}

// SendError queues an error frame for a single connection.
func (h *Hub) SendError(connID, jobID, msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c := h.conns[connID]; c != nil {
		c.offer(ErrorEvent(jobID, msg), h.bufferSize)
	}
}

// Subscribers returns how many connections follow jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.jobs[jobID])
}

func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects everyone and waits for the writers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	for id := range h.conns {
		h.removeConnLocked(id)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) writeLoop(c *conn) {
	defer h.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			select {
			case <-c.done:
				return
			default:
			}
			ev, ok := c.pop()
			if !ok {
				break
			}
			ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
			err := c.sink.Send(ctx, ev)
			cancel()
			if err != nil {
				h.log.Warn().Err(err).Str("conn_id", c.id).Str("job_id", ev.JobID).Msg("push write failed, dropping connection")
				metrics.IncHubEvent(string(ev.Type), "failed")
				_ = c.sink.Close()
				h.drop(c)
				return
			}
			metrics.IncHubEvent(string(ev.Type), "delivered")
		}
	}
}
