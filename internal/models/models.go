package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RawImage is the image file exactly as the user selected it
type RawImage struct {
	Name      string `json:"name"`
	Data      []byte `json:"-"`
	MediaType string `json:"media_type"`
	Size      int    `json:"size"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// NormalizedImage is the re-encoded upload payload produced from a RawImage
type NormalizedImage struct {
	Name      string  `json:"name"`
	Data      []byte  `json:"-"`
	MediaType string  `json:"media_type"`
	Size      int     `json:"size"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Quality   float64 `json:"quality"`
	Scale     float64 `json:"scale"`
}

// SearchResponse is the body returned by the search service
type SearchResponse struct {
	FrameCount int            `json:"frameCount"`
	Error      string         `json:"error"`
	Result     []SearchResult `json:"result"`
}

// SearchResult is one ranked match. The service orders results best match first.
type SearchResult struct {
	Anilist    json.RawMessage `json:"anilist,omitempty"`
	Filename   string          `json:"filename"`
	Episode    Episode         `json:"episode"`
	From       float64         `json:"from"`
	To         float64         `json:"to"`
	Similarity float64         `json:"similarity"`
	Video      string          `json:"video"`
	Image      string          `json:"image"`
}

// SimilarityPercent formats the similarity score the way it is displayed, e.g. "93.21%"
func (r SearchResult) SimilarityPercent() string {
	return fmt.Sprintf("%.2f%%", r.Similarity*100)
}

// Episode is an opaque episode identifier. The service sends a number, a string,
// a list of numbers for multi-episode files, or null.
type Episode struct {
	raw json.RawMessage
}

// NewEpisode wraps an already encoded JSON value
func NewEpisode(raw string) Episode {
	return Episode{raw: json.RawMessage(raw)}
}

func (e *Episode) UnmarshalJSON(data []byte) error {
	e.raw = append(e.raw[:0], data...)
	return nil
}

func (e Episode) MarshalJSON() ([]byte, error) {
	if len(e.raw) == 0 {
		return []byte("null"), nil
	}
	return e.raw, nil
}

// IsZero reports whether the service sent no episode
func (e Episode) IsZero() bool {
	trimmed := bytes.TrimSpace(e.raw)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

// String renders the identifier for display: "12", "OVA", "1-2"
func (e Episode) String() string {
	if e.IsZero() {
		return ""
	}

	var s string
	if err := json.Unmarshal(e.raw, &s); err == nil {
		return s
	}

	var list []json.Number
	if err := json.Unmarshal(e.raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, n := range list {
			parts = append(parts, n.String())
		}
		return strings.Join(parts, "-")
	}

	var n json.Number
	if err := json.Unmarshal(e.raw, &n); err == nil {
		return n.String()
	}

	return string(e.raw)
}
