package hub

import (
	"sync"

	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/infra/metrics"
)

// jobView is what one connection has already been sent for a job.
type jobView struct {
	progress int
	status   model.JobStatus
	final    bool
}

type conn struct {
	id   string
	sink Sink

	// guarded by Hub.mu
	subs  map[string]struct{}
	views map[string]*jobView

	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	done  chan struct{}
}

func newConn(id string, sink Sink) *conn {
	return &conn{
		id:    id,
		sink:  sink,
		subs:  make(map[string]struct{}),
		views: make(map[string]*jobView),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (c *conn) view(jobID string) *jobView {
	v, ok := c.views[jobID]
	if !ok {
		v = &jobView{}
		c.views[jobID] = v
	}
	return v
}

// offer filters a job event against what this connection already saw and queues
// it. Caller holds Hub.mu.
func (c *conn) offer(ev Event, limit int) {
	if ev.Type == EventError {
		c.push(ev, limit)
		return
	}
	j := ev.job()
	if j == nil {
		return
	}
	v := c.view(ev.JobID)
	if v.final {
		metrics.IncHubEvent(string(ev.Type), "dropped")
		return
	}
	if ev.terminal() {
		v.final = true
		v.progress, v.status = j.Progress, j.Status
		c.push(ev, 0)
		return
	}
	if j.Progress < v.progress || (j.Progress == v.progress && j.Status == v.status) {
		metrics.IncHubEvent(string(ev.Type), "dropped")
		return
	}
	if c.push(ev, limit) {
		v.progress, v.status = j.Progress, j.Status
	}
}

// push appends ev. When limit is reached a progress event replaces the newest
// queued progress of the same job instead; with none to replace it is dropped.
// limit <= 0 means unbounded.
func (c *conn) push(ev Event, limit int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit > 0 && len(c.queue) >= limit && ev.Type == EventProgress {
		for i := len(c.queue) - 1; i >= 0; i-- {
			if c.queue[i].Type == EventProgress && c.queue[i].JobID == ev.JobID {
				c.queue[i] = ev
				metrics.IncHubEvent(string(ev.Type), "coalesced")
				return true
			}
		}
		metrics.IncHubEvent(string(ev.Type), "dropped")
		return false
	}
	c.queue = append(c.queue, ev)
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *conn) pop() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Event{}, false
	}
	ev := c.queue[0]
	c.queue[0] = Event{}
	c.queue = c.queue[1:]
	return ev, true
}
