package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ai-video-studio/internal/config"
	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/infra/hub"
	"ai-video-studio/internal/infra/metrics"
	"ai-video-studio/internal/usecase"
)

const maxBodyBytes = 64 << 10

// SubmitLimiter is a fixed-window limiter keyed by client.
type SubmitLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	SubmitKey(clientID string) string
}

// Server exposes the submission, pull and push endpoints.
type Server struct {
	gen     usecase.GenerationUseCase
	hub     *hub.Hub
	limiter SubmitLimiter
	health  func(ctx context.Context) error
	cfg     config.HTTPConfig
	log     *zerolog.Logger
}

// NewServer wires the handlers. limiter and health may be nil.
func NewServer(gen usecase.GenerationUseCase, h *hub.Hub, limiter SubmitLimiter, health func(ctx context.Context) error, cfg config.HTTPConfig, logger *zerolog.Logger) *Server {
	return &Server{gen: gen, hub: h, limiter: limiter, health: health, cfg: cfg, log: logger}
}

// Router builds the chi router. The push channel is kept out of the request
// timeout since it is long-lived.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(TraceID(s.log))
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/v1/ws", s.handleWS)

	r.Group(func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(Timeout(s.cfg.RequestTimeout))
		}
		r.Post("/api/v1/generations", s.handleSubmit)
		r.Post("/api/v1/generations/status", s.handleStatusPost)
		r.Get("/api/v1/generations/{jobID}", s.handleStatusGet)
	})
	return r
}

// NewHTTPServer applies the configured timeouts around handler.
func NewHTTPServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

type statusRequest struct {
	JobID string `json:"jobId"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var params model.GenerationParams
	if err := decodeJSON(w, r, &params); err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	id, err := s.submit(r.Context(), clientID(r), params)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, submitResponse{JobID: id})
}

func (s *Server) handleStatusGet(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, chi.URLParam(r, "jobID"))
}

func (s *Server) handleStatusPost(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	s.writeStatus(w, r, req.JobID)
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.gen.Get(r.Context(), jobID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// submit applies the per-client rate limit before handing off to the gateway.
func (s *Server) submit(ctx context.Context, client string, params model.GenerationParams) (string, error) {
	if s.limiter != nil && s.cfg.SubmitRateLimit > 0 {
		ok, err := s.limiter.Allow(ctx, s.limiter.SubmitKey(client), s.cfg.SubmitRateLimit, s.cfg.SubmitRateWindow)
		if err != nil {
			// Limiter outages must not block submissions.
			s.log.Warn().Err(err).Msg("submit rate limiter unavailable")
		} else if !ok {
			metrics.IncRateLimitTriggered()
			metrics.IncSubmission("rate_limited")
			return "", domain.ErrRateLimited
		}
	}
	return s.gen.Submit(ctx, params)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return fmt.Errorf("malformed request body: %v", err)
	}
	return nil
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
