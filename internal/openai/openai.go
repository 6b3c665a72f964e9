package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/buscanime/buscanime/internal/providers"
)

const defaultURL = "https://api.openai.com/v1/chat/completions"

// OpenAI completes title prompts with the chat completions API
type OpenAI struct {
	apiKey     string
	url        string
	httpClient *http.Client
}

// New returns an OpenAI provider. An empty key falls back to OPENAI_API_KEY.
func New(apiKey string) *OpenAI {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return &OpenAI{
		apiKey:     apiKey,
		url:        defaultURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// WithURL points the provider at a compatible endpoint
func (o *OpenAI) WithURL(url string) *OpenAI {
	if url != "" {
		o.url = url
	}
	return o
}

// ExtractText sends the prompt as a single user message
func (o *OpenAI) ExtractText(ctx context.Context, config providers.Config) (string, error) {
	if o.apiKey == "" {
		return "", errors.New("OPENAI_API_KEY environment variable not set")
	}

	model := config.Model
	if model == "" {
		model = providers.DefaultModel("openai")
	}

	requestBody, err := json.Marshal(map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": config.Prompt},
		},
		"temperature": config.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("received non-200 status code: %d - %s", resp.StatusCode, string(body))
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", errors.New("no choices returned from OpenAI")
	}

	return response.Choices[0].Message.Content, nil
}
