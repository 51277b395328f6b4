package model

import (
	"time"

	"ai-video-studio/internal/domain"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimeout   JobStatus = "timeout"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusTimeout
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusSucceeded, JobStatusFailed, JobStatusTimeout:
		return true
	}
	return false
}

const (
	TimeoutMessage          = "generation took too long, please try again"
	MissingResultURLMessage = "provider reported success without a result url"
	DefaultFailureMessage   = "generation failed"
)

// StatusSnapshot is a normalized provider status response.
// Status is one of pending, running, succeeded or failed.
type StatusSnapshot struct {
	Status    JobStatus
	Progress  int
	ResultURL string
	Error     string
}

// GenerationJob is owned by the reconciliation loop that created it.
// Once Status is terminal the record is never mutated again.
type GenerationJob struct {
	ID           string           `json:"id"`
	Status       JobStatus        `json:"status"`
	Progress     int              `json:"progress"`
	ResultURL    string           `json:"resultUrl,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	Attempts     int              `json:"attempts"`
	Params       GenerationParams `json:"params"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

func NewGenerationJob(id string, params GenerationParams, now time.Time) (*GenerationJob, error) {
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &GenerationJob{
		ID:        id,
		Status:    JobStatusPending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (j *GenerationJob) IsTerminal() bool { return j.Status.IsTerminal() }

// Clone returns an independent copy safe to hand to readers.
func (j *GenerationJob) Clone() *GenerationJob {
	if j == nil {
		return nil
	}
	cp := *j
	return &cp
}

// RecordAttempt counts one reconciliation poll.
func (j *GenerationJob) RecordAttempt() {
	if j.IsTerminal() {
		return
	}
	j.Attempts++
}

// ApplySnapshot merges a provider snapshot and reports whether a client-visible
// field (status or progress) changed. Progress never decreases.
func (j *GenerationJob) ApplySnapshot(s StatusSnapshot, now time.Time) bool {
	if j.IsTerminal() {
		return false
	}
	changed := false
	if p := clampProgress(s.Progress); p > j.Progress {
		j.Progress = p
		changed = true
	}

	switch s.Status {
	case JobStatusSucceeded:
		if s.ResultURL == "" {
			return j.Fail(MissingResultURLMessage, now)
		}
		return j.Succeed(s.ResultURL, now)
	case JobStatusFailed:
		msg := s.Error
		if msg == "" {
			msg = DefaultFailureMessage
		}
		return j.Fail(msg, now)
	case JobStatusRunning:
		if j.Status == JobStatusPending {
			j.Status = JobStatusRunning
			changed = true
		}
	default:
		if j.Status == JobStatusPending && j.Progress > 0 {
			j.Status = JobStatusRunning
			changed = true
		}
	}
	if changed {
		j.UpdatedAt = now
	}
	return changed
}

func (j *GenerationJob) Succeed(resultURL string, now time.Time) bool {
	if j.IsTerminal() || resultURL == "" {
		return false
	}
	j.Status = JobStatusSucceeded
	j.Progress = 100
	j.ResultURL = resultURL
	j.ErrorMessage = ""
	j.UpdatedAt = now
	return true
}

func (j *GenerationJob) Fail(msg string, now time.Time) bool {
	return j.finish(JobStatusFailed, msg, now)
}

func (j *GenerationJob) TimeOut(now time.Time) bool {
	return j.finish(JobStatusTimeout, TimeoutMessage, now)
}

func (j *GenerationJob) finish(status JobStatus, msg string, now time.Time) bool {
	if j.IsTerminal() {
		return false
	}
	if msg == "" {
		msg = DefaultFailureMessage
	}
	j.Status = status
	j.ErrorMessage = msg
	j.ResultURL = ""
	j.UpdatedAt = now
	return true
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
