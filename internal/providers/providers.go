package providers

import (
	"context"
)

// Config is a single text completion request
type Config struct {
	Model       string
	Temperature float64
	Prompt      string
}

// Provider completes a prompt with an LLM backend
type Provider interface {
	ExtractText(ctx context.Context, config Config) (string, error)
}

// Func adapts a plain function to a Provider
type Func func(ctx context.Context, config Config) (string, error)

func (f Func) ExtractText(ctx context.Context, config Config) (string, error) {
	return f(ctx, config)
}

// DefaultModel is the model used when none is configured
func DefaultModel(provider string) string {
	switch provider {
	case "gemini":
		return "gemini-1.5-flash"
	case "openai":
		return "gpt-4o-mini"
	case "ollama":
		return "llama3.2"
	default:
		return ""
	}
}
