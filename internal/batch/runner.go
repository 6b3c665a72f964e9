package batch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/buscanime/buscanime/internal/images"
	"github.com/buscanime/buscanime/internal/search"
	"github.com/buscanime/buscanime/internal/title"
)

const DefaultWorkers = 4

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// Discover walks dir and returns the image files under it in lexical order
func Discover(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if imageExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	return paths, nil
}

// Runner searches many images, each in its own session
type Runner struct {
	Fetcher    *images.Fetcher
	NewSession func() *search.Orchestrator
	Titles     *title.Resolver
	Workers    int
}

// Run processes paths with at most Workers sessions in flight. Per-image
// failures are recorded, not returned; the error is non-nil only when ctx
// ends the run early, in which case unprocessed paths have empty records.
func (r *Runner) Run(ctx context.Context, paths []string) ([]Record, error) {
	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	slog.Info("Processing images", "count", len(paths), "workers", workers)

	records := make([]Record, len(paths))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, path := range paths {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			slog.Info("Processing image", "path", path, "progress", fmt.Sprintf("%d/%d", i+1, len(paths)))
			records[i] = r.process(ctx, path)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return records, fmt.Errorf("batch interrupted: %w", err)
	}
	return records, nil
}

func (r *Runner) process(ctx context.Context, path string) Record {
	started := time.Now()

	raw, err := r.Fetcher.ReadFile(path)
	if err != nil {
		return Record{
			Path:       path,
			Phase:      search.PhaseFailed.String(),
			Error:      err.Error(),
			SearchedAt: started.UTC().Format(time.RFC3339),
		}
	}

	o := r.NewSession()
	if _, err := o.SelectImage(ctx, raw); err != nil {
		slog.Warn("Skipping image", "path", path, "err", err)
		return newRecord(ctx, path, o.Session(), r.Titles, started)
	}

	session, err := o.Execute(ctx)
	if err != nil {
		slog.Warn("Search failed", "path", path, "err", err)
	}
	return newRecord(ctx, path, session, r.Titles, started)
}
