package batch

import (
	"context"
	"strings"
	"sync"

	"queryforge/internal/search"
)

// searchCache shares search rounds between tasks issued with identical
// queries, language, and market. Each key is fetched at most once; distinct
// keys never serialize behind each other.
type searchCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	once    sync.Once
	results []search.Result
	err     error
}

func newSearchCache() *searchCache {
	return &searchCache{entries: make(map[string]*cacheEntry)}
}

func cacheKey(queries []string, language, market string) string {
	return strings.Join(queries, "\x1f") + "\x1e" + language + "\x1e" + market
}

func (c *searchCache) get(key string, fetch func() ([]search.Result, error)) ([]search.Result, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &cacheEntry{}
		c.entries[key] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.results, entry.err = fetch()
	})
	return entry.results, entry.err
}

// searcher is the slice of search.Client the orchestrator depends on.
type searcher interface {
	Search(ctx context.Context, req search.Request) ([]search.Result, error)
}
