package provider

import (
	"context"
	"fmt"
	"time"

	"ai-video-studio/internal/config"
	"ai-video-studio/internal/domain/ports/adapter"
)

// New builds the configured provider wrapped with metrics and the limiter.
func New(ctx context.Context, cfg config.ProviderConfig, callTimeout time.Duration) (adapter.VideoProvider, error) {
	var (
		p   adapter.VideoProvider
		err error
	)
	switch cfg.Kind {
	case "http":
		p, err = NewHTTPProvider(cfg.BaseURL, cfg.Token, callTimeout)
	case "veo":
		p, err = NewVeoProvider(ctx, cfg.Token, cfg.BaseURL, cfg.Model)
	case "sim":
		p = NewSimProvider(7, 150*time.Millisecond)
	default:
		err = fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return NewLimitedProvider(Instrument(p, cfg.Kind), cfg.ConcurrentLimit, cfg.RatePerSecond, cfg.Burst), nil
}
