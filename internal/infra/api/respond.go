package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"ai-video-studio/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func respondError(w http.ResponseWriter, code int, msg, field string) {
	respondJSON(w, code, errorResponse{Error: msg, Field: field})
}

// respondErr maps a domain error onto a status code and a message that is
// safe to show to clients.
func respondErr(w http.ResponseWriter, err error) {
	code, msg, field := describeError(err)
	respondError(w, code, msg, field)
}

func describeError(err error) (code int, msg, field string) {
	var ve *domain.ValidationError
	var pe *domain.ProviderError
	switch {
	case err == nil:
		return http.StatusOK, "", ""
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error(), ve.Field
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid request", ""
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "job not found", ""
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrLoopRunning):
		return http.StatusConflict, "job already exists", ""
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "too many submissions, slow down", ""
	case errors.As(err, &pe) && pe.Kind == domain.Permanent:
		return http.StatusBadGateway, "provider rejected the request: " + domain.ProviderMessage(err), ""
	case errors.As(err, &pe):
		return http.StatusServiceUnavailable, "provider temporarily unavailable", ""
	}
	return http.StatusInternalServerError, "internal error", ""
}
