package model

import (
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"ai-video-studio/internal/domain"
)

const MaxPromptLength = 2000

var (
	AspectRatios = []string{"16:9", "9:16", "1:1", "4:3", "3:4"}
	Durations    = []int{5, 8, 10}
	Sizes        = []string{"480p", "720p", "1080p"}
	Styles       = []string{"realistic", "cinematic", "anime", "3d", "watercolor"}
)

// GenerationParams is the validated request forwarded to the provider.
type GenerationParams struct {
	Prompt         string `json:"prompt"`
	AspectRatio    string `json:"aspectRatio"`
	Duration       int    `json:"duration"`
	Size           string `json:"size"`
	Style          string `json:"style,omitempty"`
	NegativePrompt string `json:"negativePrompt,omitempty"`
}

// Validate rejects unknown enum values instead of defaulting them.
// Style may be empty, meaning no style preset.
func (p GenerationParams) Validate() error {
	prompt := strings.TrimSpace(p.Prompt)
	if prompt == "" {
		return &domain.ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return &domain.ValidationError{Field: "prompt", Reason: "too long"}
	}
	if !slices.Contains(AspectRatios, p.AspectRatio) {
		return &domain.ValidationError{Field: "aspectRatio", Reason: "unsupported value " + quote(p.AspectRatio)}
	}
	if !slices.Contains(Durations, p.Duration) {
		return &domain.ValidationError{Field: "duration", Reason: "unsupported value"}
	}
	if !slices.Contains(Sizes, p.Size) {
		return &domain.ValidationError{Field: "size", Reason: "unsupported value " + quote(p.Size)}
	}
	if p.Style != "" && !slices.Contains(Styles, p.Style) {
		return &domain.ValidationError{Field: "style", Reason: "unsupported value " + quote(p.Style)}
	}
	if utf8.RuneCountInString(p.NegativePrompt) > MaxPromptLength {
		return &domain.ValidationError{Field: "negativePrompt", Reason: "too long"}
	}
	return nil
}

// Normalized returns a copy with surrounding whitespace removed from free-text fields.
func (p GenerationParams) Normalized() GenerationParams {
	p.Prompt = strings.TrimSpace(p.Prompt)
	p.NegativePrompt = strings.TrimSpace(p.NegativePrompt)
	return p
}

func quote(s string) string { return strconv.Quote(s) }
