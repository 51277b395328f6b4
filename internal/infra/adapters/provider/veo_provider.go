package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/domain/ports/adapter"
)

var _ adapter.VideoProvider = (*VeoProvider)(nil)

// videoAPI is the slice of the genai SDK the Veo provider needs.
type videoAPI interface {
	GenerateVideos(ctx context.Context, model, prompt string, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error)
	GetVideosOperation(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error)
}

type genaiVideoAPI struct {
	client *genai.Client
}

func (g genaiVideoAPI) GenerateVideos(ctx context.Context, model, prompt string, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	return g.client.Models.GenerateVideos(ctx, model, prompt, nil, config)
}

func (g genaiVideoAPI) GetVideosOperation(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
	return g.client.Operations.GetVideosOperation(ctx, op, nil)
}

// VeoProvider submits long-running Veo operations; the operation name is the job id.
// Veo does not report intermediate progress.
type VeoProvider struct {
	api   videoAPI
	model string
}

func NewVeoProvider(ctx context.Context, apiKey, baseURL, model string) (*VeoProvider, error) {
	if apiKey == "" {
		return nil, errors.New("veo: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &VeoProvider{api: genaiVideoAPI{client: c}, model: model}, nil
}

// veoResolutions lists the sizes Veo can render.
var veoResolutions = map[string]string{"720p": "720p", "1080p": "1080p"}

func (v *VeoProvider) Submit(ctx context.Context, params model.GenerationParams) (string, error) {
	resolution, ok := veoResolutions[params.Size]
	if !ok {
		return "", &domain.ValidationError{Field: "size", Reason: fmt.Sprintf("unsupported by the veo provider %q", params.Size)}
	}
	prompt := params.Prompt
	if params.Style != "" {
		prompt = fmt.Sprintf("%s, %s style", prompt, params.Style)
	}
	duration := int32(params.Duration)
	cfg := &genai.GenerateVideosConfig{
		AspectRatio:     params.AspectRatio,
		DurationSeconds: &duration,
		Resolution:      resolution,
		NegativePrompt:  params.NegativePrompt,
	}
	op, err := v.api.GenerateVideos(ctx, v.model, prompt, cfg)
	if err != nil {
		return "", classifyGenAIError("submit", err)
	}
	if op == nil || op.Name == "" {
		return "", domain.NewTransient("submit", 0, "veo returned no operation name", nil)
	}
	return op.Name, nil
}

func (v *VeoProvider) FetchStatus(ctx context.Context, jobID string) (model.StatusSnapshot, error) {
	op, err := v.api.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: jobID})
	if err != nil {
		return model.StatusSnapshot{}, classifyGenAIError("status", err)
	}
	return snapshotFromOperation(op), nil
}

func snapshotFromOperation(op *genai.GenerateVideosOperation) model.StatusSnapshot {
	if op == nil || !op.Done {
		return model.StatusSnapshot{Status: model.JobStatusRunning}
	}
	if op.Error != nil {
		msg, _ := op.Error["message"].(string)
		if msg == "" {
			msg = model.DefaultFailureMessage
		}
		return model.StatusSnapshot{Status: model.JobStatusFailed, Error: msg}
	}
	if r := op.Response; r != nil {
		for _, gv := range r.GeneratedVideos {
			if gv != nil && gv.Video != nil && gv.Video.URI != "" {
				return model.StatusSnapshot{Status: model.JobStatusSucceeded, Progress: 100, ResultURL: gv.Video.URI}
			}
		}
		if r.RAIMediaFilteredCount > 0 {
			reason := "video blocked by safety filters"
			if len(r.RAIMediaFilteredReasons) > 0 {
				reason += ": " + strings.Join(r.RAIMediaFilteredReasons, "; ")
			}
			return model.StatusSnapshot{Status: model.JobStatusFailed, Error: reason}
		}
	}
	return model.StatusSnapshot{Status: model.JobStatusFailed, Error: "veo returned no video"}
}

func classifyGenAIError(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if isRetryableStatus(apiErr.Code) {
			return domain.NewTransient(op, apiErr.Code, apiErr.Message, err)
		}
		if apiErr.Code >= http.StatusBadRequest {
			return domain.NewPermanent(op, apiErr.Code, apiErr.Message, err)
		}
	}
	return domain.NewTransient(op, 0, "", err)
}
