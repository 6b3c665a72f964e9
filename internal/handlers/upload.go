package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/buscanime/buscanime/internal/images"
	"github.com/buscanime/buscanime/internal/models"
)

// multipart framing allowance on top of the image cap
const formOverheadBytes = 1 << 20

// requestError carries the status code a malformed upload should be answered with
type requestError struct {
	code int
	msg  string
}

func (e *requestError) Error() string { return e.msg }

// HandleUpload starts a new session from an uploaded file or an image URL.
// URL uploads make the server issue the GET itself; see WithURLUploads.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := h.readImage(w, r)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	entry := h.sessionStore.Create(h.newSession())
	slog.Info("Session created", "session", entry.ID, "name", raw.Name)
	h.selectImage(w, r, entry, raw, http.StatusCreated)
}

// readImage pulls the image out of either a JSON {"image_url": ...} body or a
// multipart form with an "image" (or "file") part.
func (h *Handler) readImage(w http.ResponseWriter, r *http.Request) (*models.RawImage, error) {
	if h.fetcher.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.fetcher.MaxBytes+formOverheadBytes)
	}

	var (
		raw *models.RawImage
		err error
	)
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		raw, err = h.readImageURL(r)
	} else {
		raw, err = h.readImageFile(r)
	}
	if err != nil {
		return nil, err
	}

	if !images.IsImageType(raw.MediaType) {
		return nil, &requestError{
			code: http.StatusUnsupportedMediaType,
			msg:  fmt.Sprintf("Unsupported media type %q", raw.MediaType),
		}
	}
	return raw, nil
}

func (h *Handler) readImageURL(r *http.Request) (*models.RawImage, error) {
	if !h.urlUploads {
		return nil, &requestError{code: http.StatusForbidden, msg: "image_url uploads are disabled"}
	}

	var request struct {
		ImageURL string `json:"image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return nil, &requestError{code: http.StatusBadRequest, msg: "Invalid JSON: " + err.Error()}
	}
	if request.ImageURL == "" {
		return nil, &requestError{code: http.StatusBadRequest, msg: "image_url is required"}
	}

	raw, err := h.fetcher.FetchURL(r.Context(), request.ImageURL)
	if err != nil {
		if errors.Is(err, images.ErrTooLarge) {
			return nil, err
		}
		return nil, &requestError{code: http.StatusBadRequest, msg: "Failed to fetch image URL: " + err.Error()}
	}
	return raw, nil
}

func (h *Handler) readImageFile(r *http.Request) (*models.RawImage, error) {
	file, header, err := r.FormFile("image")
	if err != nil {
		file, header, err = r.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, fmt.Errorf("%w (max %d bytes)", images.ErrTooLarge, h.fetcher.MaxBytes)
			}
			return nil, &requestError{code: http.StatusBadRequest, msg: "Failed to read file: " + err.Error()}
		}
	}
	defer file.Close()

	return h.fetcher.Read(header.Filename, header.Header.Get("Content-Type"), file)
}

func (h *Handler) writeUploadError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		h.writeError(w, reqErr.msg, reqErr.code)
		return
	}
	h.writeError(w, err.Error(), statusFor(err))
}
