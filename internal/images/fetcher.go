package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	// decoders used for dimension sniffing
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/buscanime/buscanime/internal/models"
)

// ErrTooLarge is returned when a source is bigger than the raw upload cap
var ErrTooLarge = errors.New("image exceeds the upload size limit")

// Fetcher builds RawImages from local files, URLs and uploaded bytes
type Fetcher struct {
	HTTPClient *http.Client
	MaxBytes   int64
}

// NewFetcher creates a fetcher that refuses sources larger than maxBytes
func NewFetcher(maxBytes int64) *Fetcher {
	return &Fetcher{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		MaxBytes: maxBytes,
	}
}

// ReadFile loads a local image
func (f *Fetcher) ReadFile(filePath string) (*models.RawImage, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	data, err := f.readLimited(file)
	if err != nil {
		return nil, err
	}

	declared := mime.TypeByExtension(strings.ToLower(filepath.Ext(filePath)))
	return FromBytes(filepath.Base(filePath), declared, data), nil
}

// FetchURL downloads an image over HTTP
func (f *Fetcher) FetchURL(ctx context.Context, imageURL string) (*models.RawImage, error) {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid image URL %q", imageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > 0 && f.MaxBytes > 0 && resp.ContentLength > f.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := f.readLimited(resp.Body)
	if err != nil {
		return nil, err
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "image.jpg"
	}

	slog.Info("Downloaded image", "url", imageURL, "bytes", len(data))
	return FromBytes(name, resp.Header.Get("Content-Type"), data), nil
}

// Read consumes an uploaded part
func (f *Fetcher) Read(name, declaredType string, r io.Reader) (*models.RawImage, error) {
	data, err := f.readLimited(r)
	if err != nil {
		return nil, err
	}
	return FromBytes(name, declaredType, data), nil
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	if f.MaxBytes <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read image data: %w", err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(r, f.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("%w (max %d bytes)", ErrTooLarge, f.MaxBytes)
	}
	return data, nil
}

// FromBytes wraps data as a RawImage. The media type is sniffed when the
// declared one is missing or not an image type; dimensions are 0 when the
// header cannot be read.
func FromBytes(name, declaredType string, data []byte) *models.RawImage {
	mediaType := declaredType
	if parsed, _, err := mime.ParseMediaType(declaredType); err == nil {
		mediaType = parsed
	}
	if !IsImageType(mediaType) {
		mediaType = http.DetectContentType(data)
	}

	width, height, err := dimensions(data)
	if err != nil {
		slog.Debug("Failed to get image dimensions", "name", name, "error", err)
	}

	return &models.RawImage{
		Name:      name,
		Data:      data,
		MediaType: mediaType,
		Size:      len(data),
		Width:     width,
		Height:    height,
	}
}

// IsImageType reports whether mediaType is an image/* type
func IsImageType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(mediaType), "image/")
}

func dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
