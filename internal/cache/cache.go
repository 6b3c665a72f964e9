package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/buscanime/buscanime/internal/models"
	"github.com/buscanime/buscanime/internal/search"
	"github.com/buscanime/buscanime/internal/utils"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Searcher memoizes successful search responses by the digest of the
// normalized payload. Errors are never cached.
type Searcher struct {
	next  search.Searcher
	cache *lru.Cache[string, *models.SearchResponse]
}

// New wraps next with an LRU of the given size
func New(next search.Searcher, size int) (*Searcher, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	c, err := lru.New[string, *models.SearchResponse](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	return &Searcher{next: next, cache: c}, nil
}

func (s *Searcher) Search(ctx context.Context, img *models.NormalizedImage) (*models.SearchResponse, error) {
	key := utils.CalculateDataMD5(img.Data)
	if cached, ok := s.cache.Get(key); ok {
		slog.Debug("Search cache hit", "digest", key)
		return cached, nil
	}

	resp, err := s.next.Search(ctx, img)
	if err != nil {
		return nil, err
	}
	if resp != nil && len(resp.Result) > 0 {
		s.cache.Add(key, resp)
	}
	return resp, nil
}

// Len returns the number of cached responses
func (s *Searcher) Len() int {
	return s.cache.Len()
}
