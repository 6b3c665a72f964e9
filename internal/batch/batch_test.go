package batch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/buscanime/buscanime/internal/images"
	"github.com/buscanime/buscanime/internal/models"
	"github.com/buscanime/buscanime/internal/search"
)

type passthroughNormalizer struct{}

func (passthroughNormalizer) Normalize(ctx context.Context, raw models.RawImage, maxBytes int) (*models.NormalizedImage, error) {
	return &models.NormalizedImage{
		Name:      raw.Name,
		Data:      raw.Data,
		MediaType: "image/jpeg",
		Size:      len(raw.Data),
		Width:     raw.Width,
		Height:    raw.Height,
		Quality:   0.7,
		Scale:     1,
	}, nil
}

// nameSearcher answers with a match named after the image, or fails for
// images whose name contains "broken".
type nameSearcher struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (s *nameSearcher) Search(ctx context.Context, img *models.NormalizedImage) (*models.SearchResponse, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	if strings.Contains(img.Name, "broken") {
		return nil, errors.New("bad request")
	}
	return &models.SearchResponse{Result: []models.SearchResult{{
		Filename:   "[Group][" + strings.TrimSuffix(img.Name, filepath.Ext(img.Name)) + "][01].mkv",
		Episode:    models.NewEpisode("1"),
		Similarity: 0.9,
		Video:      "https://media.example/" + img.Name,
	}}}, nil
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 6))); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}
	for _, name := range []string{"b.png", "a.JPG", "notes.txt", "sub/c.webp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	paths, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	expected := []string{
		filepath.Join(dir, "a.JPG"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "sub", "c.webp"),
	}
	if len(paths) != len(expected) {
		t.Fatalf("Expected %d paths, got %v", len(expected), paths)
	}
	for i := range expected {
		if paths[i] != expected[i] {
			t.Errorf("Expected %s at %d, got %s", expected[i], i, paths[i])
		}
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	if _, err := Discover(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected error for a missing directory")
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"alpha.png", "beta.png", "broken.png", "gamma.png", "delta.png"} {
		p := filepath.Join(dir, name)
		writePNG(t, p)
		paths = append(paths, p)
	}
	paths = append(paths, filepath.Join(dir, "missing.png"))

	searcher := &nameSearcher{}
	runner := &Runner{
		Fetcher: images.NewFetcher(1 << 20),
		NewSession: func() *search.Orchestrator {
			return search.New(passthroughNormalizer{}, searcher)
		},
		Workers: 2,
	}

	records, err := runner.Run(context.Background(), paths)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(records) != len(paths) {
		t.Fatalf("Expected %d records, got %d", len(paths), len(records))
	}

	alpha := records[0]
	if alpha.Path != paths[0] || alpha.Phase != "ready" {
		t.Errorf("Expected ready record for alpha, got %+v", alpha)
	}
	if alpha.Title != "alpha" {
		t.Errorf("Expected title alpha, got %q", alpha.Title)
	}
	if alpha.Episode != "1" || alpha.Width != 8 || alpha.Height != 6 {
		t.Errorf("Unexpected alpha record: %+v", alpha)
	}

	broken := records[2]
	if broken.Phase != "failed" || broken.Error == "" {
		t.Errorf("Expected failed record for broken, got %+v", broken)
	}
	if broken.Bytes == 0 {
		t.Error("Expected the normalized image to be recorded on a failed search")
	}

	missing := records[5]
	if missing.Phase != "failed" || missing.Error == "" {
		t.Errorf("Expected failed record for missing file, got %+v", missing)
	}

	if searcher.peak > 2 {
		t.Errorf("Expected at most 2 concurrent searches, got %d", searcher.peak)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &Runner{
		Fetcher: images.NewFetcher(1 << 20),
		NewSession: func() *search.Orchestrator {
			return search.New(passthroughNormalizer{}, &nameSearcher{})
		},
	}
	records, err := runner.Run(ctx, []string{"a.png", "b.png"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(records) != 2 || records[0].Path != "" {
		t.Errorf("Expected unprocessed records to stay empty, got %+v", records)
	}
}

func TestSummarize(t *testing.T) {
	records := []Record{
		{Path: "a", Filename: "a.mkv", Similarity: 0.9, Attempts: 1, DurationMS: 100},
		{Path: "b", Filename: "b.mkv", Similarity: 0.7, Attempts: 3, DurationMS: 300},
		{Path: "c", Filename: "c.mkv", Similarity: 0.8, Attempts: 1, DurationMS: 200},
		{Path: "d", Error: "no match found", Attempts: 1, DurationMS: 400},
	}

	s := Summarize(records)
	if s.Total != 4 || s.Matched != 3 || s.Failed != 1 {
		t.Errorf("Unexpected counts: %+v", s)
	}
	if s.Retried != 1 {
		t.Errorf("Expected 1 retried record, got %d", s.Retried)
	}
	if diff := s.AverageSimilarity - 0.8; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected average 0.8, got %f", s.AverageSimilarity)
	}
	if s.MedianSimilarity != 0.8 || s.MinSimilarity != 0.7 || s.MaxSimilarity != 0.9 {
		t.Errorf("Unexpected similarity stats: %+v", s)
	}
	if s.AverageDuration != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %s", s.AverageDuration)
	}

	if empty := Summarize(nil); empty.Total != 0 || empty.AverageSimilarity != 0 {
		t.Errorf("Expected zero summary, got %+v", empty)
	}
}

func TestSaveParquetAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "run.parquet")
	records := []Record{
		{Path: "a.png", Phase: "ready", Title: "Nekopara", Filename: "x.mkv", Episode: "3", Similarity: 0.93, Attempts: 1, Bytes: 1200, Width: 8, Height: 6, Quality: 0.7, DurationMS: 40},
		{Path: "b.png", Phase: "failed", Error: "no match found", Attempts: 3},
	}

	if err := SaveParquet(path, records); err != nil {
		t.Fatalf("SaveParquet failed: %v", err)
	}

	loaded, err := LoadParquet(path)
	if err != nil {
		t.Fatalf("LoadParquet failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(loaded))
	}
	if loaded[0] != records[0] {
		t.Errorf("Expected %+v, got %+v", records[0], loaded[0])
	}
	if loaded[1].Error != "no match found" || loaded[1].Attempts != 3 {
		t.Errorf("Unexpected second record: %+v", loaded[1])
	}
}

func TestLoadParquetMissingFile(t *testing.T) {
	if _, err := LoadParquet(filepath.Join(t.TempDir(), "missing.parquet")); err == nil {
		t.Error("Expected error for a missing file")
	}
}

func TestSaveYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.yaml")
	records := []Record{{Path: "a.png", Phase: "ready", Filename: "x.mkv", Similarity: 0.5}}
	report := &Report{
		Directory: "frames",
		Workers:   2,
		Summary:   Summarize(records),
		Records:   records,
	}

	if err := SaveYAML(path, report); err != nil {
		t.Fatalf("SaveYAML failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read report: %v", err)
	}
	var loaded Report
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Failed to parse report: %v", err)
	}
	if loaded.Directory != "frames" || loaded.Summary.Matched != 1 || len(loaded.Records) != 1 {
		t.Errorf("Unexpected report: %+v", loaded)
	}
}
