// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ai-video-studio/internal/config"
	"ai-video-studio/internal/domain/ports/repository"
	portsuc "ai-video-studio/internal/domain/ports/usecase"
	"ai-video-studio/internal/infra/adapters/provider"
	"ai-video-studio/internal/infra/api"
	pg "ai-video-studio/internal/infra/db/postgres"
	"ai-video-studio/internal/infra/hub"
	"ai-video-studio/internal/infra/logging"
	"ai-video-studio/internal/infra/metrics"
	red "ai-video-studio/internal/infra/redis"
	"ai-video-studio/internal/infra/sched"
	"ai-video-studio/internal/infra/store/memory"
	"ai-video-studio/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

// backend is the selected job store plus the optional pieces it brings along.
type backend struct {
	store   repository.JobStore
	locker  portsuc.LoopLocker
	limiter api.SubmitLimiter
	pool    sched.PoolStatser
	redis   *red.Client
	health  func(ctx context.Context) error
	close   func()
}

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (simulated provider, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("exited with error")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	// ---- Provider ----
	prov, err := provider.New(ctx, cfg.Provider, cfg.Engine.ProviderTimeout)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	logger.Info().Str("provider", cfg.Provider.Kind).Msg("video provider ready")

	// ---- Hub and engine ----
	h := hub.New(be.store, cfg.Hub.BufferSize, cfg.Hub.WriteTimeout, logger)
	var pub portsuc.Publisher = h
	var relay *red.EventRelay
	if be.redis != nil {
		// loops publish through redis so subscribers on any instance hear them
		relay = red.NewEventRelay(be.redis, h, logger)
		if err := relay.Open(ctx); err != nil {
			return fmt.Errorf("event relay: %w", err)
		}
		pub = relay
	}
	engine := usecase.NewEngine(be.store, prov, pub, be.locker, cfg.Engine, logger)
	gen := usecase.NewGenerationUseCase(be.store, prov, engine, logger, cfg.Runtime.Dev)

	// jobs left active by a previous process pick up where they stopped
	if n, err := engine.Resume(ctx); err != nil {
		logger.Error().Err(err).Msg("resume active jobs failed")
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("resumed active jobs")
	}

	// ---- HTTP ----
	srv := api.NewServer(gen, h, be.limiter, be.health, cfg.HTTP, logger)
	server := api.NewHTTPServer(cfg.HTTP, srv.Router())

	janitor := sched.NewRetentionWorker(cfg.Engine.GCInterval, cfg.Engine.RetentionWindow, be.store, be.pool, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return janitor.Run(gctx)
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}
	if be.locker != nil {
		// only a shared store with leases can hand a dead instance's jobs over
		adopter := sched.NewAdoptWorker(cfg.Engine.AdoptInterval, engine, logger)
		g.Go(func() error {
			return adopter.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			logger.Error().Err(err).Msg("http shutdown")
		}
		engine.Stop()
		h.Close()
		return nil
	})
	return g.Wait()
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*backend, error) {
	switch cfg.Store.Driver {
	case "redis":
		client, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		logger.Info().Str("addr", cfg.Redis.URL).Msg("redis job store")
		be := &backend{
			store:  red.NewJobStore(client, cfg.Engine.RetentionWindow),
			locker: red.NewLocker(client, lockTTL(cfg.Engine)),
			redis:  client,
			health: client.Ping,
			close:  func() { _ = client.Close() },
		}
		if cfg.HTTP.SubmitRateLimit > 0 {
			be.limiter = red.NewRateLimiter(client)
		}
		return be, nil

	case "postgres":
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		logger.Info().Msg("postgres job store")
		repo := pg.NewGenerationJobRepo(pool, pg.NewTxManager(pool))
		return &backend{
			store:  repo,
			pool:   repo,
			health: pool.Ping,
			close:  pool.Close,
		}, nil

	default:
		logger.Info().Msg("in-memory job store")
		return &backend{
			store:  memory.NewStore(),
			health: func(context.Context) error { return nil },
			close:  func() {},
		}, nil
	}
}

// lockTTL outlives a few missed refreshes but frees a crashed owner's jobs quickly.
func lockTTL(cfg config.EngineConfig) time.Duration {
	ttl := 3 * cfg.PollInterval
	if floor := cfg.ProviderTimeout + cfg.PollInterval; ttl < floor {
		ttl = floor
	}
	return ttl
}
