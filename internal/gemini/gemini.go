package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/buscanime/buscanime/internal/providers"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini completes title prompts with Google Gemini
type Gemini struct {
	apiKey string
}

// New returns a Gemini provider. An empty key falls back to GEMINI_API_KEY.
func New(apiKey string) *Gemini {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	return &Gemini{apiKey: apiKey}
}

// ExtractText sends the prompt and returns the first text part of the first candidate
func (g *Gemini) ExtractText(ctx context.Context, config providers.Config) (string, error) {
	if g.apiKey == "" {
		return "", errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	modelName := config.Model
	if modelName == "" {
		modelName = providers.DefaultModel("gemini")
	}
	model := client.GenerativeModel(modelName)
	model.SetTemperature(float32(config.Temperature))
	model.SetCandidateCount(1)

	resp, err := model.GenerateContent(ctx, genai.Text(config.Prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if txt, ok := part.(genai.Text); ok && strings.TrimSpace(string(txt)) != "" {
				return string(txt), nil
			}
		}
	}

	return "", errors.New("no text returned from Gemini")
}
