package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.VideoProvider = (*HTTPProvider)(nil)

const maxErrorBody = 4 << 10

// HTTPProvider talks to a JSON generation API:
// POST {base}/submit -> {id}, POST {base}/status {id} -> {status, progress, resultUrl, error}.
type HTTPProvider struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTPProvider uses timeout as the per-call deadline, independent of the job budget.
func NewHTTPProvider(baseURL, token string, timeout time.Duration) (*HTTPProvider, error) {
	if baseURL == "" {
		return nil, errors.New("provider base url empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type submitRequest struct {
	Prompt         string `json:"prompt"`
	AspectRatio    string `json:"aspectRatio"`
	Duration       int    `json:"duration"`
	Size           string `json:"size"`
	Style          string `json:"style,omitempty"`
	NegativePrompt string `json:"negativePrompt,omitempty"`
}

type statusResponse struct {
	Status    string      `json:"status"`
	Progress  json.Number `json:"progress"`
	ResultURL string      `json:"resultUrl"`
	Error     string      `json:"error"`
}

func (p *HTTPProvider) Submit(ctx context.Context, params model.GenerationParams) (string, error) {
	body := submitRequest{
		Prompt:         params.Prompt,
		AspectRatio:    params.AspectRatio,
		Duration:       params.Duration,
		Size:           params.Size,
		Style:          params.Style,
		NegativePrompt: params.NegativePrompt,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := p.post(ctx, "submit", "/submit", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", domain.NewTransient("submit", 0, "provider returned empty job id", nil)
	}
	return out.ID, nil
}

func (p *HTTPProvider) FetchStatus(ctx context.Context, jobID string) (model.StatusSnapshot, error) {
	var out statusResponse
	if err := p.post(ctx, "status", "/status", map[string]string{"id": jobID}, &out); err != nil {
		return model.StatusSnapshot{}, err
	}
	status, ok := normalizeStatus(out.Status)
	if !ok {
		return model.StatusSnapshot{}, domain.NewTransient("status", 0, fmt.Sprintf("unknown provider status %q", out.Status), nil)
	}
	return model.StatusSnapshot{
		Status:    status,
		Progress:  normalizeProgress(out.Progress),
		ResultURL: out.ResultURL,
		Error:     out.Error,
	}, nil
}

func (p *HTTPProvider) post(ctx context.Context, op, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return domain.NewPermanent(op, 0, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+path, bytes.NewReader(b))
	if err != nil {
		return domain.NewPermanent(op, 0, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// network failure or call timeout
		return domain.NewTransient(op, 0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg := readErrorMessage(resp.Body)
		if isRetryableStatus(resp.StatusCode) {
			return domain.NewTransient(op, resp.StatusCode, msg, nil)
		}
		return domain.NewPermanent(op, resp.StatusCode, msg, nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewTransient(op, resp.StatusCode, "malformed provider response", err)
	}
	return nil
}

func isRetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// readErrorMessage prefers {"error": "..."} or {"message": "..."} bodies and
// falls back to the raw text.
func readErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var payload struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		switch v := payload.Error.(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if m, ok := v["message"].(string); ok && m != "" {
				return m
			}
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
