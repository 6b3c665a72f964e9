package handlers

import (
	"net/http"
	"strconv"

	"github.com/buscanime/buscanime/internal/storage"
)

// handlePreview serves the normalized JPEG exactly as it will be uploaded
func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request, entry *storage.Entry) {
	if r.Method != "GET" && r.Method != "HEAD" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	img := entry.Orchestrator.Session().Image
	if img == nil {
		h.writeError(w, "No image selected", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", img.MediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == "GET" {
		_, _ = w.Write(img.Data)
	}
}
