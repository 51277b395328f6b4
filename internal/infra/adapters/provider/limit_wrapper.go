package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/domain/ports/adapter"
	"ai-video-studio/internal/infra/metrics"
)

// Compile-time check
var _ adapter.VideoProvider = (*limitedProvider)(nil)

// limitedProvider caps concurrent calls and the outbound request rate so that a
// burst of loops does not stampede the provider.
type limitedProvider struct {
	inner adapter.VideoProvider
	sem   chan struct{}
	rl    *rate.Limiter
}

// NewLimitedProvider returns inner unchanged when both limits are disabled.
func NewLimitedProvider(inner adapter.VideoProvider, maxConcurrent int, ratePerSecond float64, burst int) adapter.VideoProvider {
	if maxConcurrent <= 0 && ratePerSecond <= 0 {
		return inner
	}
	l := &limitedProvider{inner: inner}
	if maxConcurrent > 0 {
		l.sem = make(chan struct{}, maxConcurrent)
	}
	if ratePerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		l.rl = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return l
}

// acquire waits for a slot; a wait cut short by ctx counts as a transient failure.
func (l *limitedProvider) acquire(ctx context.Context, op string) (func(), error) {
	start := time.Now()
	release := func() {}
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
			release = func() { <-l.sem }
		case <-ctx.Done():
			return nil, domain.NewTransient(op, 0, "provider limiter wait", ctx.Err())
		}
	}
	if l.rl != nil {
		if err := l.rl.Wait(ctx); err != nil {
			release()
			return nil, domain.NewTransient(op, 0, "provider rate limit wait", err)
		}
	}
	metrics.ObserveLimiterWait(time.Since(start).Milliseconds())
	return release, nil
}

func (l *limitedProvider) Submit(ctx context.Context, params model.GenerationParams) (string, error) {
	release, err := l.acquire(ctx, "submit")
	if err != nil {
		return "", err
	}
	defer release()
	return l.inner.Submit(ctx, params)
}

func (l *limitedProvider) FetchStatus(ctx context.Context, jobID string) (model.StatusSnapshot, error) {
	release, err := l.acquire(ctx, "status")
	if err != nil {
		return model.StatusSnapshot{}, err
	}
	defer release()
	return l.inner.FetchStatus(ctx, jobID)
}

// instrumented records call outcome and latency per provider.
type instrumented struct {
	inner adapter.VideoProvider
	name  string
}

func Instrument(inner adapter.VideoProvider, name string) adapter.VideoProvider {
	return &instrumented{inner: inner, name: name}
}

func (i *instrumented) Submit(ctx context.Context, params model.GenerationParams) (string, error) {
	start := time.Now()
	id, err := i.inner.Submit(ctx, params)
	metrics.ObserveProviderCall(i.name, "submit", outcome(err), time.Since(start).Milliseconds())
	return id, err
}

func (i *instrumented) FetchStatus(ctx context.Context, jobID string) (model.StatusSnapshot, error) {
	start := time.Now()
	s, err := i.inner.FetchStatus(ctx, jobID)
	metrics.ObserveProviderCall(i.name, "status", outcome(err), time.Since(start).Milliseconds())
	return s, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsPermanent(err):
		return "permanent"
	default:
		return "transient"
	}
}
