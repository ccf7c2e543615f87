package search

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTargetCount = 5
	defaultMaxAttempts = 3
)

// Request describes one evidence-gathering round for a single task.
type Request struct {
	// QueryID names the task in logs and failure messages.
	QueryID string
	// Queries are the normalized base queries, tried in order.
	Queries []string
	// Market and Language bias the backends regionally.
	Market   string
	Language string
	// TargetCount caps the aggregated result set; zero means the default.
	TargetCount int
}

// Client runs base queries through the backend with per-query relaxation and
// exponential backoff, then aggregates the hits across queries.
type Client struct {
	backend     Backend
	logger      *zap.Logger
	maxAttempts int
	sleep       func(time.Duration)
}

// NewClient wraps a backend. A nil logger logs nowhere.
func NewClient(backend Backend, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		backend:     backend,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		sleep:       time.Sleep,
	}
}

// Search executes every base query with up to maxAttempts tries each.
// Attempt N uses relaxation variant min(N, last); failed attempts back off
// exponentially. Hits are deduplicated by Result.Key across queries,
// preserving first-seen order, and truncated to the target count. The whole
// round fails with *Error only when every query produced nothing.
func (c *Client) Search(ctx context.Context, req Request) ([]Result, error) {
	if len(req.Queries) == 0 {
		return nil, &Error{Msg: "no search queries for " + req.QueryID}
	}
	target := req.TargetCount
	if target <= 0 {
		target = defaultTargetCount
	}
	opts := Options{Market: req.Market, Language: req.Language, Count: target}

	seen := make(map[string]struct{})
	var aggregated []Result
	for _, base := range req.Queries {
		results := c.searchOne(ctx, base, opts)
		for _, r := range results {
			if _, dup := seen[r.Key()]; dup {
				continue
			}
			seen[r.Key()] = struct{}{}
			aggregated = append(aggregated, r)
		}
		if len(aggregated) >= target {
			break
		}
	}

	if len(aggregated) == 0 {
		attempted := make([]string, 0, len(req.Queries)*2)
		tried := make(map[string]struct{})
		for _, base := range req.Queries {
			for _, variant := range BuildQueryVariants(base) {
				if _, dup := tried[variant]; dup {
					continue
				}
				tried[variant] = struct{}{}
				attempted = append(attempted, variant)
			}
		}
		return nil, &Error{Msg: "no search results for " + req.QueryID +
			" (attempted queries: " + strings.Join(attempted, " | ") + ")"}
	}
	if len(aggregated) > target {
		aggregated = aggregated[:target]
	}
	return aggregated, nil
}

// searchOne retries a single base query, switching to the relaxed variant
// after the first failed attempt.
// Errors are logged and swallowed here; the caller decides whether the round
// as a whole failed.
func (c *Client) searchOne(ctx context.Context, base string, opts Options) []Result {
	variants := BuildQueryVariants(base)
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		idx := attempt
		if idx >= len(variants) {
			idx = len(variants) - 1
		}
		query := variants[idx]

		results, err := c.backend.Search(ctx, query, opts)
		if err == nil && len(results) > 0 {
			if idx > 0 {
				c.logger.Info("relaxed query succeeded",
					zap.String("base_query", base),
					zap.String("relaxed_query", query),
					zap.Int("attempt", attempt+1))
			}
			return results
		}
		if err != nil {
			c.logger.Warn("search attempt failed",
				zap.String("query", query),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
		if attempt < c.maxAttempts-1 {
			c.sleep(time.Duration(1<<uint(attempt)) * time.Second)
		}
	}
	return nil
}
