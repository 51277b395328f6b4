package hub

import (
	"context"

	"ai-video-studio/internal/domain/model"
)

type EventType string

const (
	EventProgress EventType = "progress"
	EventFinal    EventType = "final"
	EventTimeout  EventType = "timeout"
	EventError    EventType = "error"
)

// Event is one server frame on the push channel.
type Event struct {
	Type  EventType `json:"type"`
	JobID string    `json:"jobId,omitempty"`
	Data  any       `json:"data,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// Sink writes events to one client connection. Send is only ever called from
// that connection's writer goroutine.
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}

// JobReader is the read side of the job store the hub needs for snapshots.
type JobReader interface {
	Get(ctx context.Context, id string) (*model.GenerationJob, error)
}

// EventFor picks the frame type for a job snapshot.
func EventFor(job *model.GenerationJob) Event {
	t := EventProgress
	switch job.Status {
	case model.JobStatusTimeout:
		t = EventTimeout
	case model.JobStatusSucceeded, model.JobStatusFailed:
		t = EventFinal
	}
	return Event{Type: t, JobID: job.ID, Data: job.Clone()}
}

func ErrorEvent(jobID, msg string) Event {
	return Event{Type: EventError, JobID: jobID, Data: ErrorData{Message: msg}}
}

func (e Event) terminal() bool { return e.Type == EventFinal || e.Type == EventTimeout }

func (e Event) job() *model.GenerationJob {
	j, _ := e.Data.(*model.GenerationJob)
	return j
}
