package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/buscanime/buscanime/internal/cache"
	"github.com/buscanime/buscanime/internal/config"
	"github.com/buscanime/buscanime/internal/gemini"
	"github.com/buscanime/buscanime/internal/images"
	"github.com/buscanime/buscanime/internal/normalize"
	"github.com/buscanime/buscanime/internal/ollama"
	"github.com/buscanime/buscanime/internal/openai"
	"github.com/buscanime/buscanime/internal/providers"
	"github.com/buscanime/buscanime/internal/search"
	"github.com/buscanime/buscanime/internal/title"
	"github.com/buscanime/buscanime/internal/tracemoe"
)

// app wires the collaborators shared by every command
type app struct {
	policy     config.Policy
	fetcher    *images.Fetcher
	normalizer *normalize.Normalizer
	client     *tracemoe.Client
	searcher   search.Searcher
}

func newApp(opts *globalOptions, cached bool) (*app, error) {
	policy, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	normalizer := normalize.New()
	normalizer.FirstQuality = policy.FirstQuality
	normalizer.SecondQuality = policy.SecondQuality
	normalizer.MaxPixels = policy.MaxPixels

	client := tracemoe.NewClient(
		tracemoe.WithBaseURL(policy.Endpoint),
		tracemoe.WithCutBorders(policy.CutBorders),
		tracemoe.WithAPIKey(os.Getenv("TRACE_MOE_KEY")),
	)

	a := &app{
		policy:     policy,
		fetcher:    images.NewFetcher(policy.MaxUploadBytes),
		normalizer: normalizer,
		client:     client,
		searcher:   client,
	}

	if cached && policy.CacheSize > 0 {
		c, err := cache.New(client, policy.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create result cache: %w", err)
		}
		a.searcher = c
	}

	slog.Debug("Configured search", "endpoint", client.Endpoint(), "budget", policy.MaxBytes, "retries", policy.RetryAttempts, "cache", cached && policy.CacheSize > 0)
	return a, nil
}

// newSession creates an idle orchestrator bound to the configured policy
func (a *app) newSession() *search.Orchestrator {
	return search.New(a.normalizer, a.searcher,
		search.WithBudget(a.policy.MaxBytes),
		search.WithRetryAttempts(a.policy.RetryAttempts),
	)
}

// newResolver returns nil when no provider is requested
func newResolver(provider, model string) (*title.Resolver, error) {
	if provider == "" {
		return nil, nil
	}

	var p providers.Provider
	switch strings.ToLower(provider) {
	case "gemini":
		p = gemini.New("")
	case "ollama":
		p = ollama.New("")
	case "openai":
		p = openai.New("")
	default:
		return nil, fmt.Errorf("unsupported resolver %q (supported: gemini, ollama, openai)", provider)
	}

	if model == "" {
		model = providers.DefaultModel(strings.ToLower(provider))
	}
	return &title.Resolver{Provider: p, Model: model, Temperature: 0.1}, nil
}
