package batch

import (
	"context"
	"time"

	"github.com/buscanime/buscanime/internal/search"
	"github.com/buscanime/buscanime/internal/title"
)

// Record is the outcome of searching one image from a batch
type Record struct {
	Path       string  `yaml:"path" parquet:"path"`
	Phase      string  `yaml:"phase" parquet:"phase"`
	Title      string  `yaml:"title,omitempty" parquet:"title"`
	Filename   string  `yaml:"filename,omitempty" parquet:"filename"`
	Episode    string  `yaml:"episode,omitempty" parquet:"episode"`
	Similarity float64 `yaml:"similarity" parquet:"similarity"`
	Video      string  `yaml:"video,omitempty" parquet:"video"`
	Error      string  `yaml:"error,omitempty" parquet:"error"`
	Attempts   int     `yaml:"attempts" parquet:"attempts"`

	// Normalized payload
	Bytes   int     `yaml:"bytes" parquet:"bytes"`
	Width   int     `yaml:"width" parquet:"width"`
	Height  int     `yaml:"height" parquet:"height"`
	Quality float64 `yaml:"quality" parquet:"quality"`

	DurationMS int64  `yaml:"durationms" parquet:"duration_ms"`
	SearchedAt string `yaml:"searchedat" parquet:"searched_at"`
}

// Matched reports whether the search produced a best match
func (r Record) Matched() bool {
	return r.Error == "" && r.Filename != ""
}

func newRecord(ctx context.Context, path string, session search.Session, titles *title.Resolver, started time.Time) Record {
	rec := Record{
		Path:       path,
		Phase:      session.Phase.String(),
		Attempts:   session.Attempts,
		DurationMS: time.Since(started).Milliseconds(),
		SearchedAt: started.UTC().Format(time.RFC3339),
	}
	if session.Err != nil {
		rec.Error = session.Err.Error()
	}
	if img := session.Image; img != nil {
		rec.Bytes = img.Size
		rec.Width = img.Width
		rec.Height = img.Height
		rec.Quality = img.Quality
	}
	if best, ok := session.Best(); ok {
		rec.Title = titles.Resolve(ctx, best.Filename)
		rec.Filename = best.Filename
		rec.Episode = best.Episode.String()
		rec.Similarity = best.Similarity
		rec.Video = best.Video
	}
	return rec
}
