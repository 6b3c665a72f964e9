package search

import (
	"fmt"
	"time"

	"github.com/buscanime/buscanime/internal/models"
)

// Phase is the observable state of one search attempt
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNormalizing
	PhaseImageReady
	PhaseAwaitingResult
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNormalizing:
		return "normalizing"
	case PhaseImageReady:
		return "image_ready"
	case PhaseAwaitingResult:
		return "awaiting_result"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Session is a snapshot of the orchestrator's state. Image, Results and Err
// are replaced wholesale on each transition and never mutated in place.
type Session struct {
	Phase      Phase
	Generation uint64
	Image      *models.NormalizedImage
	Results    []models.SearchResult
	Err        error
	Attempts   int
	UpdatedAt  time.Time
}

// Best returns the highest ranked match, if the session holds any
func (s Session) Best() (models.SearchResult, bool) {
	if len(s.Results) == 0 {
		return models.SearchResult{}, false
	}
	return s.Results[0], true
}

// Loading reports whether a normalization or submit is in flight
func (s Session) Loading() bool {
	return s.Phase == PhaseNormalizing || s.Phase == PhaseAwaitingResult
}

func (p *Phase) UnmarshalText(text []byte) error {
	for candidate := PhaseIdle; candidate <= PhaseFailed; candidate++ {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}
