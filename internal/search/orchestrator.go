package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/buscanime/buscanime/internal/models"
)

const (
	DefaultBudget         = 20 * 1024 * 1024
	DefaultRetryAttempts  = 2
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 30 * time.Second
)

var (
	// ErrNoImage is returned by SelectImage when there is nothing to select
	ErrNoImage = errors.New("no image selected")
	// ErrSuperseded means a newer selection or submit replaced this one
	// before it finished; its outcome was discarded.
	ErrSuperseded = errors.New("superseded by a newer request")
	// ErrNoMatch is returned when the service answers with an empty result list
	ErrNoMatch = errors.New("no match found")
)

// Normalizer turns a user image into an upload payload within maxBytes
type Normalizer interface {
	Normalize(ctx context.Context, raw models.RawImage, maxBytes int) (*models.NormalizedImage, error)
}

// Searcher submits a normalized image to the search service, once
type Searcher interface {
	Search(ctx context.Context, img *models.NormalizedImage) (*models.SearchResponse, error)
}

// transient is implemented by submit errors that are worth retrying
type transient interface {
	Transient() bool
}

// IsTransient reports whether err (or anything it wraps) is a retryable submit failure
func IsTransient(err error) bool {
	var t transient
	return errors.As(err, &t) && t.Transient()
}

// Orchestrator owns one search session: pick an image, normalize it, and
// submit it when the caller asks. Outcomes of superseded calls are dropped
// by comparing the generation taken at the start of the call with the
// current one at commit time.
type Orchestrator struct {
	normalizer Normalizer
	searcher   Searcher

	budget         int
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	sleeper        func(ctx context.Context, d time.Duration) error
	now            func() time.Time

	mu         sync.Mutex
	generation uint64
	session    Session
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithBudget overrides the upload byte budget (defaults to 20 MiB).
func WithBudget(maxBytes int) Option {
	return func(o *Orchestrator) {
		if maxBytes > 0 {
			o.budget = maxBytes
		}
	}
}

// WithRetryAttempts overrides how many extra submits follow a transient failure (defaults to 2).
func WithRetryAttempts(attempts int) Option {
	return func(o *Orchestrator) {
		if attempts >= 0 {
			o.retryAttempts = attempts
		}
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(o *Orchestrator) {
		o.retryBaseDelay = baseDelay
		o.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleeper != nil {
			o.sleeper = sleeper
		}
	}
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an orchestrator with an idle session
func New(normalizer Normalizer, searcher Searcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		normalizer:     normalizer,
		searcher:       searcher,
		budget:         DefaultBudget,
		retryAttempts:  DefaultRetryAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		retryMaxDelay:  defaultRetryMaxDelay,
		sleeper:        sleepContext,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.session = Session{Phase: PhaseIdle, UpdatedAt: o.now()}
	return o
}

// Session returns a snapshot of the current session
func (o *Orchestrator) Session() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// SelectImage resets the session and normalizes raw into the next query
// payload. It never submits anything.
func (o *Orchestrator) SelectImage(ctx context.Context, raw *models.RawImage) (Session, error) {
	if raw == nil || len(raw.Data) == 0 {
		return o.Session(), ErrNoImage
	}

	o.mu.Lock()
	o.generation++
	gen := o.generation
	o.session = Session{
		Phase:      PhaseNormalizing,
		Generation: gen,
		UpdatedAt:  o.now(),
	}
	o.mu.Unlock()

	slog.Info("Image selected", "name", raw.Name, "bytes", raw.Size, "generation", gen)

	img, err := o.normalizer.Normalize(ctx, *raw, o.budget)

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		slog.Debug("Discarding stale normalization", "generation", gen, "current", o.generation)
		return o.session, ErrSuperseded
	}

	if err != nil {
		slog.Warn("Image normalization failed", "name", raw.Name, "err", err)
		o.session = Session{
			Phase:      PhaseFailed,
			Generation: gen,
			Err:        fmt.Errorf("failed to process image: %w", err),
			UpdatedAt:  o.now(),
		}
		return o.session, o.session.Err
	}

	slog.Info("Image ready", "name", img.Name, "bytes", img.Size, "width", img.Width, "height", img.Height, "quality", img.Quality)
	o.session = Session{
		Phase:      PhaseImageReady,
		Generation: gen,
		Image:      img,
		UpdatedAt:  o.now(),
	}
	return o.session, nil
}

// Execute submits the selected image and waits for the ranked matches.
// Without a selected image it does nothing and returns the session as is.
func (o *Orchestrator) Execute(ctx context.Context) (Session, error) {
	o.mu.Lock()
	if o.session.Image == nil {
		defer o.mu.Unlock()
		slog.Debug("Nothing to submit", "phase", o.session.Phase)
		return o.session, nil
	}
	o.generation++
	gen := o.generation
	img := o.session.Image
	o.session = Session{
		Phase:      PhaseAwaitingResult,
		Generation: gen,
		Image:      img,
		UpdatedAt:  o.now(),
	}
	o.mu.Unlock()

	resp, attempts, err := o.submitWithRetry(ctx, img)
	if err == nil && (resp == nil || len(resp.Result) == 0) {
		err = ErrNoMatch
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		slog.Debug("Discarding stale search response", "generation", gen, "current", o.generation)
		return o.session, ErrSuperseded
	}

	if err != nil {
		slog.Warn("Search failed", "attempts", attempts, "err", err)
		o.session = Session{
			Phase:      PhaseFailed,
			Generation: gen,
			Image:      img,
			Err:        err,
			Attempts:   attempts,
			UpdatedAt:  o.now(),
		}
		return o.session, err
	}

	best := resp.Result[0]
	slog.Info("Search completed", "attempts", attempts, "results", len(resp.Result), "filename", best.Filename, "similarity", best.Similarity)
	o.session = Session{
		Phase:      PhaseReady,
		Generation: gen,
		Image:      img,
		Results:    resp.Result,
		Attempts:   attempts,
		UpdatedAt:  o.now(),
	}
	return o.session, nil
}

func (o *Orchestrator) submitWithRetry(ctx context.Context, img *models.NormalizedImage) (*models.SearchResponse, int, error) {
	maxAttempts := 1 + o.retryAttempts
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := o.searcher.Search(ctx, img)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err

		if attempt == maxAttempts || !IsTransient(err) || ctx.Err() != nil {
			if attempt > 1 {
				return nil, attempt, fmt.Errorf("search failed after %d attempts: %w", attempt, err)
			}
			return nil, attempt, err
		}

		delay := o.backoffDelay(attempt)
		slog.Debug("Retrying search", "attempt", attempt, "delay", delay, "err", err)
		if err := o.sleeper(ctx, delay); err != nil {
			return nil, attempt, err
		}
	}

	return nil, maxAttempts, lastErr
}

// backoffDelay doubles from the base delay: attempt 1 -> base, 2 -> base*2, ...
func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	delay := o.retryBaseDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if o.retryMaxDelay > 0 && delay >= o.retryMaxDelay {
			return o.retryMaxDelay
		}
	}
	if o.retryMaxDelay > 0 && delay > o.retryMaxDelay {
		return o.retryMaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
