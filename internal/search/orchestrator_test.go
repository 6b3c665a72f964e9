package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/buscanime/buscanime/internal/models"
)

type fakeNormalizer struct {
	err     error
	budgets []int
}

func (f *fakeNormalizer) Normalize(ctx context.Context, raw models.RawImage, maxBytes int) (*models.NormalizedImage, error) {
	f.budgets = append(f.budgets, maxBytes)
	if f.err != nil {
		return nil, f.err
	}
	return &models.NormalizedImage{
		Name:      raw.Name,
		Data:      append([]byte(nil), raw.Data...),
		MediaType: "image/jpeg",
		Size:      len(raw.Data),
	}, nil
}

type transientErr struct{}

func (transientErr) Error() string   { return "503 service unavailable" }
func (transientErr) Transient() bool { return true }

type fatalErr struct{}

func (fatalErr) Error() string   { return "search quota depleted" }
func (fatalErr) Transient() bool { return false }

// scriptedSearcher returns errs in order, then a single-match response
type scriptedSearcher struct {
	mu    sync.Mutex
	errs  []error
	calls int
	names []string
}

func (s *scriptedSearcher) Search(ctx context.Context, img *models.NormalizedImage) (*models.SearchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.names = append(s.names, img.Name)
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}
	return &models.SearchResponse{Result: []models.SearchResult{{
		Filename:   "attempt-" + img.Name,
		Similarity: 0.9,
	}}}, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func raw(name string) *models.RawImage {
	return &models.RawImage{Name: name, Data: []byte(name), Size: len(name)}
}

func TestSelectImageReady(t *testing.T) {
	norm := &fakeNormalizer{}
	searcher := &scriptedSearcher{}
	o := New(norm, searcher)

	session, err := o.SelectImage(context.Background(), raw("a.png"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if session.Phase != PhaseImageReady {
		t.Errorf("Expected image_ready, got %s", session.Phase)
	}
	if session.Image == nil || session.Image.Name != "a.png" {
		t.Errorf("Expected normalized image to be held, got %+v", session.Image)
	}
	if searcher.calls != 0 {
		t.Errorf("Selecting must not submit, got %d calls", searcher.calls)
	}
	if len(norm.budgets) != 1 || norm.budgets[0] != 20*1024*1024 {
		t.Errorf("Expected default 20 MiB budget, got %v", norm.budgets)
	}
}

func TestSelectImageNormalizeFailure(t *testing.T) {
	decodeErr := errors.New("image could not be decoded")
	o := New(&fakeNormalizer{err: decodeErr}, &scriptedSearcher{})

	session, err := o.SelectImage(context.Background(), raw("broken.png"))
	if !errors.Is(err, decodeErr) {
		t.Fatalf("Expected decode error, got %v", err)
	}
	if session.Phase != PhaseFailed {
		t.Errorf("Expected failed, got %s", session.Phase)
	}
	if session.Image != nil {
		t.Error("Expected no normalized image after failure")
	}

	// a failed selection leaves nothing to submit
	session, err = o.Execute(context.Background())
	if err != nil || session.Phase != PhaseFailed {
		t.Errorf("Expected Execute to be a no-op, got %s %v", session.Phase, err)
	}
}

func TestSelectImageEmpty(t *testing.T) {
	o := New(&fakeNormalizer{}, &scriptedSearcher{})
	session, err := o.SelectImage(context.Background(), nil)
	if !errors.Is(err, ErrNoImage) {
		t.Errorf("Expected ErrNoImage, got %v", err)
	}
	if session.Phase != PhaseIdle {
		t.Errorf("Expected idle, got %s", session.Phase)
	}
}

func TestExecuteWithoutImageIsNoop(t *testing.T) {
	searcher := &scriptedSearcher{}
	o := New(&fakeNormalizer{}, searcher)
	before := o.Session()

	after, err := o.Execute(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if searcher.calls != 0 {
		t.Errorf("Expected no network call, got %d", searcher.calls)
	}
	if after.Phase != before.Phase || after.Generation != before.Generation || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("Expected unchanged session, got %+v", after)
	}
}

func TestExecuteRetryPolicy(t *testing.T) {
	tests := []struct {
		name          string
		errs          []error
		expectedPhase Phase
		expectedCalls int
	}{
		{name: "first attempt succeeds", errs: nil, expectedPhase: PhaseReady, expectedCalls: 1},
		{name: "two transient failures then success", errs: []error{transientErr{}, transientErr{}}, expectedPhase: PhaseReady, expectedCalls: 3},
		{name: "retry cap exceeded", errs: []error{transientErr{}, transientErr{}, transientErr{}}, expectedPhase: PhaseFailed, expectedCalls: 3},
		{name: "service error is not retried", errs: []error{fatalErr{}}, expectedPhase: PhaseFailed, expectedCalls: 1},
		{name: "transient then service error", errs: []error{transientErr{}, fatalErr{}}, expectedPhase: PhaseFailed, expectedCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &scriptedSearcher{errs: tt.errs}
			var delays []time.Duration
			o := New(&fakeNormalizer{}, searcher, WithSleeper(func(ctx context.Context, d time.Duration) error {
				delays = append(delays, d)
				return nil
			}))

			if _, err := o.SelectImage(context.Background(), raw("frame.jpg")); err != nil {
				t.Fatalf("Unexpected select error: %v", err)
			}
			session, err := o.Execute(context.Background())

			if session.Phase != tt.expectedPhase {
				t.Errorf("Expected %s, got %s (err %v)", tt.expectedPhase, session.Phase, err)
			}
			if searcher.calls != tt.expectedCalls {
				t.Errorf("Expected %d submit attempts, got %d", tt.expectedCalls, searcher.calls)
			}
			if session.Attempts != tt.expectedCalls {
				t.Errorf("Expected session to record %d attempts, got %d", tt.expectedCalls, session.Attempts)
			}
			if session.Image == nil {
				t.Error("Expected the image to be kept for another verify")
			}

			if tt.expectedPhase == PhaseReady {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				best, ok := session.Best()
				if !ok || best.Filename != "attempt-frame.jpg" {
					t.Errorf("Expected best match from final attempt, got %+v", best)
				}
			} else if err == nil || session.Err == nil {
				t.Error("Expected a surfaced error")
			}

			if len(delays) > 0 && delays[0] != time.Second {
				t.Errorf("Expected first backoff of 1s, got %v", delays[0])
			}
		})
	}
}

func TestExecuteNoMatch(t *testing.T) {
	tests := []struct {
		name string
		resp *models.SearchResponse
	}{
		{name: "empty result list", resp: &models.SearchResponse{}},
		{name: "nil response", resp: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := searcherFunc(func(ctx context.Context, img *models.NormalizedImage) (*models.SearchResponse, error) {
				return tt.resp, nil
			})
			o := New(&fakeNormalizer{}, searcher)
			if _, err := o.SelectImage(context.Background(), raw("blank.png")); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			session, err := o.Execute(context.Background())
			if !errors.Is(err, ErrNoMatch) {
				t.Errorf("Expected ErrNoMatch, got %v", err)
			}
			if session.Phase != PhaseFailed {
				t.Errorf("Expected failed, got %s", session.Phase)
			}
			if session.Image == nil {
				t.Error("Expected the image to be kept for resubmit")
			}
		})
	}
}

type searcherFunc func(ctx context.Context, img *models.NormalizedImage) (*models.SearchResponse, error)

func (f searcherFunc) Search(ctx context.Context, img *models.NormalizedImage) (*models.SearchResponse, error) {
	return f(ctx, img)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	searcher := searcherFunc(func(ctx context.Context, img *models.NormalizedImage) (*models.SearchResponse, error) {
		close(started)
		<-release
		return &models.SearchResponse{Result: []models.SearchResult{{Filename: "stale " + img.Name}}}, nil
	})
	o := New(&fakeNormalizer{}, searcher)

	if _, err := o.SelectImage(context.Background(), raw("first.png")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	type outcome struct {
		session Session
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := o.Execute(context.Background())
		done <- outcome{s, err}
	}()

	<-started
	if s := o.Session(); s.Phase != PhaseAwaitingResult {
		t.Errorf("Expected awaiting_result while in flight, got %s", s.Phase)
	}

	fresh, err := o.SelectImage(context.Background(), raw("second.png"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	close(release)

	stale := <-done
	if !errors.Is(stale.err, ErrSuperseded) {
		t.Errorf("Expected ErrSuperseded for stale execute, got %v", stale.err)
	}

	session := o.Session()
	if session.Phase != PhaseImageReady {
		t.Errorf("Expected image_ready from newer selection, got %s", session.Phase)
	}
	if session.Image == nil || session.Image.Name != "second.png" {
		t.Errorf("Expected second.png to be selected, got %+v", session.Image)
	}
	if len(session.Results) != 0 {
		t.Errorf("Expected stale results to be dropped, got %+v", session.Results)
	}
	if session.Generation != fresh.Generation {
		t.Errorf("Expected generation %d, got %d", fresh.Generation, session.Generation)
	}
}

func TestNewSelectionResetsResults(t *testing.T) {
	o := New(&fakeNormalizer{}, &scriptedSearcher{}, WithSleeper(noSleep))
	if _, err := o.SelectImage(context.Background(), raw("one.png")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if s, err := o.Execute(context.Background()); err != nil || s.Phase != PhaseReady {
		t.Fatalf("Expected ready, got %s %v", s.Phase, err)
	}

	session, err := o.SelectImage(context.Background(), raw("two.png"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(session.Results) != 0 || session.Err != nil {
		t.Errorf("Expected results and error to be cleared, got %+v", session)
	}
}

func TestExecuteContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	searcher := &scriptedSearcher{errs: []error{transientErr{}, transientErr{}}}
	o := New(&fakeNormalizer{}, searcher, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	if _, err := o.SelectImage(context.Background(), raw("frame.png")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	session, err := o.Execute(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if searcher.calls != 1 {
		t.Errorf("Expected retries to stop, got %d calls", searcher.calls)
	}
	if session.Phase != PhaseFailed {
		t.Errorf("Expected failed, got %s", session.Phase)
	}
}

func TestBackoffDelay(t *testing.T) {
	o := New(nil, nil, WithRetryBackoff(time.Second, 3*time.Second))
	expected := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i, want := range expected {
		if got := o.backoffDelay(i + 1); got != want {
			t.Errorf("attempt %d: expected %v, got %v", i+1, want, got)
		}
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(transientErr{}) {
		t.Error("Expected transient")
	}
	if IsTransient(fatalErr{}) {
		t.Error("Expected non-transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("Expected plain errors to be non-transient")
	}
}
