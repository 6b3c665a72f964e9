package tracemoe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/buscanime/buscanime/internal/models"
)

const (
	DefaultEndpoint    = "https://api.trace.moe/search"
	defaultHTTPTimeout = 30 * time.Second

	// imageField is the only multipart field the search endpoint reads
	imageField = "image"
	keyHeader  = "x-trace-key"
)

// Client submits normalized images to the trace.moe search endpoint.
// Each call is a single attempt; retry policy belongs to the caller.
type Client struct {
	endpoint   string
	apiKey     string
	cutBorders bool
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithBaseURL overrides the search endpoint.
func WithBaseURL(endpoint string) Option {
	return func(c *Client) {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPIKey sends the key for accounts with a higher quota.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithCutBorders asks the service to trim black borders before matching.
func WithCutBorders(enabled bool) Option {
	return func(c *Client) {
		c.cutBorders = enabled
	}
}

// NewClient creates a search client for the public endpoint
func NewClient(opts ...Option) *Client {
	c := &Client{
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL searches are posted to
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Search uploads img as the single "image" multipart field and decodes the ranked matches
func (c *Client) Search(ctx context.Context, img *models.NormalizedImage) (*models.SearchResponse, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, errors.New("tracemoe search: empty image")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	name := img.Name
	if name == "" {
		name = "image.jpg"
	}
	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, imageField, escapeQuotes(name)))
	header.Set("Content-Type", mediaType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("tracemoe search: create image field: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, fmt.Errorf("tracemoe search: write image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("tracemoe search: close multipart writer: %w", err)
	}

	endpoint, err := c.searchURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("tracemoe search: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(keyHeader, c.apiKey)
	}

	slog.Debug("Submitting search", "endpoint", endpoint, "bytes", len(img.Data))

	var parsed models.SearchResponse
	if err := c.do(req, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != "" {
		return nil, &ServiceError{StatusCode: http.StatusOK, Message: parsed.Error}
	}

	slog.Debug("Search completed", "frames", parsed.FrameCount, "results", len(parsed.Result))
	return &parsed, nil
}

// Quota describes the caller's search allowance
type Quota struct {
	ID          string `json:"id"`
	Priority    int    `json:"priority"`
	Concurrency int    `json:"concurrency"`
	Quota       int    `json:"quota"`
	QuotaUsed   int    `json:"quotaUsed"`
}

// Me fetches the quota for the caller's IP address or API key
func (c *Client) Me(ctx context.Context) (*Quota, error) {
	base, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("tracemoe me: parse endpoint: %w", err)
	}
	meURL := base.ResolveReference(&url.URL{Path: "me"})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tracemoe me: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set(keyHeader, c.apiKey)
	}

	var quota Quota
	if err := c.do(req, &quota); err != nil {
		return nil, err
	}
	return &quota, nil
}

func (c *Client) searchURL() (string, error) {
	if !c.cutBorders {
		return c.endpoint, nil
	}
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("tracemoe search: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("cutBorders", "")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := errorMessage(payload)
		if isTransientStatus(resp.StatusCode) {
			return &TransientError{StatusCode: resp.StatusCode, Err: errors.New(message)}
		}
		return &ServiceError{StatusCode: resp.StatusCode, Message: message}
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return &ServiceError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}

// errorMessage pulls the service's "error" field out of a failed response
func errorMessage(payload []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Error != "" {
		return body.Error
	}
	text := strings.TrimSpace(string(payload))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func isTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
