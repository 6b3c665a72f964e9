package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/buscanime/buscanime/internal/images"
	"github.com/buscanime/buscanime/internal/models"
	"github.com/buscanime/buscanime/internal/normalize"
	"github.com/buscanime/buscanime/internal/search"
	"github.com/buscanime/buscanime/internal/storage"
	"github.com/buscanime/buscanime/internal/title"
)

type Handler struct {
	sessionStore *storage.SessionStore
	fetcher      *images.Fetcher
	newSession   func() *search.Orchestrator
	titles       *title.Resolver
	urlUploads   bool
}

// Option customizes the handlers.
type Option func(*Handler)

// WithURLUploads controls whether uploads may name an image_url. The server
// fetches any http(s) URL it is given, internal addresses included, so
// deployments reachable from untrusted networks should disable it.
func WithURLUploads(enabled bool) Option {
	return func(h *Handler) {
		h.urlUploads = enabled
	}
}

// New builds the web handlers. newSession is called once per uploaded image
// session; titles may be nil to use the filename heuristic alone.
func New(fetcher *images.Fetcher, newSession func() *search.Orchestrator, titles *title.Resolver, opts ...Option) *Handler {
	h := &Handler{
		sessionStore: storage.New(),
		fetcher:      fetcher,
		newSession:   newSession,
		titles:       titles,
		urlUploads:   true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SessionView is the JSON shape of a session
type SessionView struct {
	ID         string                  `json:"id"`
	Phase      search.Phase            `json:"phase"`
	Loading    bool                    `json:"loading"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
	Image      *models.NormalizedImage `json:"image,omitempty"`
	PreviewURL string                  `json:"preview_url,omitempty"`
	Match      *MatchView              `json:"match,omitempty"`
	Results    []models.SearchResult   `json:"results,omitempty"`
	Attempts   int                     `json:"attempts,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// MatchView is the best match prepared for display
type MatchView struct {
	Title             string  `json:"title"`
	Episode           string  `json:"episode"`
	Similarity        float64 `json:"similarity"`
	SimilarityPercent string  `json:"similarity_percent"`
	Video             string  `json:"video"`
	Filename          string  `json:"filename"`
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	h.writeJSONStatus(w, http.StatusOK, data)
}

func (h *Handler) writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	slog.Error(message)
	http.Error(w, message, code)
}

// Session helpers
func (h *Handler) getSessionOrError(w http.ResponseWriter, sessionID string) (*storage.Entry, bool) {
	entry, exists := h.sessionStore.Get(sessionID)
	if !exists {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return entry, true
}

func (h *Handler) view(ctx context.Context, entry *storage.Entry, session search.Session) SessionView {
	v := SessionView{
		ID:        entry.ID,
		Phase:     session.Phase,
		Loading:   session.Loading(),
		CreatedAt: entry.CreatedAt,
		UpdatedAt: session.UpdatedAt,
		Image:     session.Image,
		Results:   session.Results,
		Attempts:  session.Attempts,
	}
	if session.Image != nil {
		v.PreviewURL = "/api/sessions/" + entry.ID + "/preview"
	}
	if session.Err != nil {
		v.Error = session.Err.Error()
	}
	if best, ok := session.Best(); ok {
		v.Match = &MatchView{
			Title:             h.titles.Resolve(ctx, best.Filename),
			Episode:           best.Episode.String(),
			Similarity:        best.Similarity,
			SimilarityPercent: best.SimilarityPercent(),
			Video:             best.Video,
			Filename:          best.Filename,
		}
	}
	return v
}

// statusFor maps selection and submit failures onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, images.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, normalize.ErrDecode), errors.Is(err, normalize.ErrSizeUnachievable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, search.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// PruneSessions drops sessions idle since before cutoff
func (h *Handler) PruneSessions(cutoff time.Time) int {
	return h.sessionStore.Prune(cutoff)
}
