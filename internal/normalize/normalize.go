package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"math"

	"github.com/buscanime/buscanime/internal/models"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MediaType is the only format the normalizer produces
const MediaType = "image/jpeg"

const (
	DefaultFirstQuality  = 0.7
	DefaultSecondQuality = 0.5
	// DefaultMaxPixels bounds the decoded pixel area (40 megapixels)
	DefaultMaxPixels = 40_000_000
)

var (
	// ErrDecode means the input could not be interpreted as an image
	ErrDecode = errors.New("image could not be decoded")
	// ErrSizeUnachievable means both quality passes still exceeded the byte budget
	ErrSizeUnachievable = errors.New("image size exceeds the maximum allowed size")
)

// Encoder writes img in the output format at a quality in [0, 1]
type Encoder interface {
	Encode(w io.Writer, img image.Image, quality float64) error
}

// JPEGEncoder maps the [0, 1] quality range onto libjpeg's 1-100 scale
type JPEGEncoder struct{}

func (JPEGEncoder) Encode(w io.Writer, img image.Image, quality float64) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality(quality)})
}

// JPEGQuality converts a [0, 1] quality to the encoder's integer scale
func JPEGQuality(quality float64) int {
	q := int(math.Round(quality * 100))
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}

// Normalizer re-encodes user images so they fit under an upload byte budget.
// It makes at most two encode passes at a single scale.
type Normalizer struct {
	FirstQuality  float64
	SecondQuality float64
	// MaxPixels rejects images whose header declares a larger area before
	// any pixel memory is allocated. Zero disables the check.
	MaxPixels int64
	Encoder   Encoder

	decode func(ctx context.Context, data []byte) (image.Image, error)
	resize func(src image.Image, width, height int) image.Image
}

// New returns a Normalizer using the default quality passes and JPEG output
func New() *Normalizer {
	return &Normalizer{
		FirstQuality:  DefaultFirstQuality,
		SecondQuality: DefaultSecondQuality,
		MaxPixels:     DefaultMaxPixels,
		Encoder:       JPEGEncoder{},
		decode:        Decode,
		resize:        Resize,
	}
}

// Normalize decodes raw, downscales it by the area heuristic and encodes it,
// falling back once to a lower quality when the first pass is over budget.
func (n *Normalizer) Normalize(ctx context.Context, raw models.RawImage, maxBytes int) (*models.NormalizedImage, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("invalid byte budget %d", maxBytes)
	}

	decode := n.decode
	if decode == nil {
		decode = Decode
	}
	resize := n.resize
	if resize == nil {
		resize = Resize
	}
	encoder := n.Encoder
	if encoder == nil {
		encoder = JPEGEncoder{}
	}

	if err := CheckPixels(raw.Data, n.MaxPixels); err != nil {
		return nil, err
	}

	src, err := decode(ctx, raw.Data)
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	w0, h0 := bounds.Dx(), bounds.Dy()
	if w0 <= 0 || h0 <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrDecode, w0, h0)
	}

	scale := Scale(w0, h0, maxBytes)
	width, height := Dimensions(w0, h0, scale)

	var dst image.Image = src
	if width != w0 || height != h0 {
		dst = resize(src, width, height)
	}

	slog.Debug("Normalizing image",
		"name", raw.Name,
		"original", fmt.Sprintf("%dx%d", w0, h0),
		"resized", fmt.Sprintf("%dx%d", width, height),
		"scale", scale,
		"budget", maxBytes)

	var smallest int
	for _, quality := range []float64{n.FirstQuality, n.SecondQuality} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		if err := encoder.Encode(&buf, dst, quality); err != nil {
			return nil, fmt.Errorf("failed to encode image at quality %.2f: %w", quality, err)
		}

		size := buf.Len()
		if size <= maxBytes {
			slog.Debug("Image normalized", "name", raw.Name, "quality", quality, "bytes", size)
			return &models.NormalizedImage{
				Name:      raw.Name,
				Data:      buf.Bytes(),
				MediaType: MediaType,
				Size:      size,
				Width:     width,
				Height:    height,
				Quality:   quality,
				Scale:     scale,
			}, nil
		}

		slog.Debug("Encoded image over budget", "name", raw.Name, "quality", quality, "bytes", size, "budget", maxBytes)
		smallest = size
	}

	return nil, fmt.Errorf("%w: %d bytes after second pass, budget %d", ErrSizeUnachievable, smallest, maxBytes)
}

// Scale is the uniform downscale factor min(1, sqrt(maxBytes / (w*h))).
// It assumes encoded size is roughly proportional to pixel area; the encode
// step enforces the real bound.
func Scale(width, height, maxBytes int) float64 {
	area := float64(width) * float64(height)
	if area <= 0 {
		return 1
	}
	scale := math.Sqrt(float64(maxBytes) / area)
	if scale > 1 {
		return 1
	}
	return scale
}

// Dimensions applies scale to both sides, rounding to the nearest pixel
func Dimensions(width, height int, scale float64) (int, int) {
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Resize draws src into a new RGBA buffer of the given size
func Resize(src image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// CheckPixels reads only the image header and returns ErrDecode when the
// declared area exceeds maxPixels. Unreadable headers are left to the decoder.
func CheckPixels(data []byte, maxPixels int64) error {
	if maxPixels <= 0 {
		return nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	if area := int64(cfg.Width) * int64(cfg.Height); area > maxPixels {
		return fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", ErrDecode, cfg.Width, cfg.Height, maxPixels)
	}
	return nil
}

// Decode decodes data off the calling goroutine and waits for it or for ctx
func Decode(ctx context.Context, data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	type decoded struct {
		img image.Image
		err error
	}
	done := make(chan decoded, 1)
	go func() {
		img, _, err := image.Decode(bytes.NewReader(data))
		done <- decoded{img: img, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d := <-done:
		if d.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, d.err)
		}
		return d.img, nil
	}
}
