package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/domain/ports/usecase"
)

var _ usecase.Publisher = (*EventRelay)(nil)

// EventRelay carries job events between instances. A loop publishes to a
// Redis channel and every instance, itself included, forwards what it hears
// to its local hub, so a client may follow a job polled elsewhere.
type EventRelay struct {
	c       *Client
	local   usecase.Publisher
	log     *zerolog.Logger
	timeout time.Duration
	ps      *redis.PubSub
}

type relayMessage struct {
	Job     *model.GenerationJob `json:"job,omitempty"`
	JobID   string               `json:"jobId,omitempty"`
	Message string               `json:"message,omitempty"`
}

func NewEventRelay(c *Client, local usecase.Publisher, logger *zerolog.Logger) *EventRelay {
	rlog := logger.With().Str("component", "EventRelay").Logger()
	return &EventRelay{c: c, local: local, log: &rlog, timeout: 2 * time.Second}
}

func (r *EventRelay) channel() string { return r.c.key("events") }

// Open subscribes to the channel. Events published after it returns are
// delivered once Run is consuming.
func (r *EventRelay) Open(ctx context.Context) error {
	ps := r.c.cli.Subscribe(ctx, r.channel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}
	r.ps = ps
	return nil
}

// Run forwards relayed events to the local hub until ctx is done.
func (r *EventRelay) Run(ctx context.Context) error {
	if r.ps == nil {
		return errors.New("event relay: Run before Open")
	}
	defer r.ps.Close()
	ch := r.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(msg.Payload)
		}
	}
}

func (r *EventRelay) deliver(payload string) {
	var m relayMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		r.log.Warn().Err(err).Msg("dropping malformed relay message")
		return
	}
	switch {
	case m.Job != nil:
		r.local.Publish(m.Job)
	case m.JobID != "":
		r.local.PublishError(m.JobID, m.Message)
	}
}

func (r *EventRelay) Publish(job *model.GenerationJob) {
	if job == nil {
		return
	}
	r.send(relayMessage{Job: job}, func() { r.local.Publish(job) })
}

func (r *EventRelay) PublishError(jobID, msg string) {
	r.send(relayMessage{JobID: jobID, Message: msg}, func() { r.local.PublishError(jobID, msg) })
}

// send publishes m; when Redis is unreachable local subscribers still get it.
func (r *EventRelay) send(m relayMessage, fallback func()) {
	b, err := json.Marshal(m)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err = r.c.cli.Publish(ctx, r.channel(), b).Err()
		cancel()
	}
	if err != nil {
		r.log.Warn().Err(err).Msg("relay publish failed, delivering locally")
		fallback()
	}
}
