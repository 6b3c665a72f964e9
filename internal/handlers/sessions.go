package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/buscanime/buscanime/internal/models"
	"github.com/buscanime/buscanime/internal/storage"
)

func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		entries := h.sessionStore.List()
		sessionList := make([]SessionView, 0, len(entries))
		for _, entry := range entries {
			sessionList = append(sessionList, h.view(r.Context(), entry, entry.Orchestrator.Session()))
		}
		h.writeJSON(w, sessionList)
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSessionDetail serves /api/sessions/{id} and its image, verify and
// preview sub-resources.
func (h *Handler) HandleSessionDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	sessionID, action, _ := strings.Cut(path, "/")

	entry, ok := h.getSessionOrError(w, sessionID)
	if !ok {
		return
	}

	switch action {
	case "":
		h.handleSession(w, r, entry)
	case "image":
		h.handleSelect(w, r, entry)
	case "verify":
		h.handleVerify(w, r, entry)
	case "preview":
		h.handlePreview(w, r, entry)
	default:
		h.writeError(w, "Not found", http.StatusNotFound)
	}
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request, entry *storage.Entry) {
	switch r.Method {
	case "GET":
		h.writeJSON(w, h.view(r.Context(), entry, entry.Orchestrator.Session()))
	case "DELETE":
		h.sessionStore.Delete(entry.ID)
		slog.Info("Session deleted", "session", entry.ID)
		w.WriteHeader(http.StatusNoContent)
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSelect replaces the session's image. Any in-flight submit for the
// previous image is superseded.
func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request, entry *storage.Entry) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := h.readImage(w, r)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	h.selectImage(w, r, entry, raw, http.StatusOK)
}

func (h *Handler) selectImage(w http.ResponseWriter, r *http.Request, entry *storage.Entry, raw *models.RawImage, okStatus int) {
	session, err := entry.Orchestrator.SelectImage(r.Context(), raw)
	code := okStatus
	if err != nil {
		code = statusFor(err)
	}
	h.writeJSONStatus(w, code, h.view(r.Context(), entry, session))
}

// handleVerify submits the selected image and answers once the search settles
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request, entry *storage.Entry) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := entry.Orchestrator.Execute(r.Context())
	code := http.StatusOK
	if err != nil {
		code = statusFor(err)
	}
	h.writeJSONStatus(w, code, h.view(r.Context(), entry, session))
}
