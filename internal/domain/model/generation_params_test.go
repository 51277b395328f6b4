package model

import (
	"errors"
	"strings"
	"testing"

	"ai-video-studio/internal/domain"
)

func validParams() GenerationParams {
	return GenerationParams{Prompt: "a red kite", AspectRatio: "16:9", Duration: 5, Size: "720p"}
}

func TestGenerationParams_Validate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(p *GenerationParams)
		field string
	}{
		{"valid", func(p *GenerationParams) {}, ""},
		{"valid with style", func(p *GenerationParams) { p.Style = "anime" }, ""},
		{"blank prompt", func(p *GenerationParams) { p.Prompt = "   " }, "prompt"},
		{"prompt too long", func(p *GenerationParams) { p.Prompt = strings.Repeat("x", MaxPromptLength+1) }, "prompt"},
		{"bad ratio", func(p *GenerationParams) { p.AspectRatio = "21:9" }, "aspectRatio"},
		{"bad duration", func(p *GenerationParams) { p.Duration = 7 }, "duration"},
		{"bad size", func(p *GenerationParams) { p.Size = "4k" }, "size"},
		{"bad style", func(p *GenerationParams) { p.Style = "noir" }, "style"},
		{"negative prompt too long", func(p *GenerationParams) { p.NegativePrompt = strings.Repeat("x", MaxPromptLength+1) }, "negativePrompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.edit(&p)
			err := p.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, ve.Field)
			}
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Error("validation errors should match ErrInvalidArgument")
			}
		})
	}
}

func TestGenerationParams_Normalized(t *testing.T) {
	p := GenerationParams{Prompt: "  hi there \n", NegativePrompt: " blur "}
	n := p.Normalized()
	if n.Prompt != "hi there" || n.NegativePrompt != "blur" {
		t.Errorf("unexpected normalization %+v", n)
	}
	if p.Prompt != "  hi there \n" {
		t.Error("Normalized must not modify the receiver")
	}
}
