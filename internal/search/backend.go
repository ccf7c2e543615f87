package search

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Options carry the per-request knobs shared by every backend.
type Options struct {
	// Market is the regional bias, e.g. "cn" or "us".
	Market string
	// Language is the UI/content language hint, e.g. "zh".
	Language string
	// Count is the maximum number of hits requested from the backend.
	Count int
}

// Backend performs one raw search against a single provider.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Chain tries each backend in order and returns the first non-empty result
// set. Unconfigured backends and credential rejections fall through to the
// next tier; only the final backend's failure is surfaced.
type Chain struct {
	backends []Backend
	logger   *zap.Logger
}

// NewChain wires backends into a fallback chain.
func NewChain(logger *zap.Logger, backends ...Backend) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{backends: backends, logger: logger}
}

// NewDefaultChain builds the standard three-tier chain from the environment:
// Serper first, Google Custom Search second, DuckDuckGo HTML last.
func NewDefaultChain(logger *zap.Logger) *Chain {
	httpClient := &http.Client{Timeout: 20 * time.Second}
	return NewChain(logger,
		NewSerperBackend(httpClient),
		NewGoogleCSEBackend(httpClient),
		NewDuckDuckGoBackend(httpClient),
	)
}

func (c *Chain) Name() string { return "chain" }

// Search walks the chain. A NotConfiguredError or an HTTP 403 from one tier
// is logged and the next tier is tried.
func (c *Chain) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	var lastErr error
	for _, backend := range c.backends {
		results, err := backend.Search(ctx, query, opts)
		if err != nil {
			var notConfigured *NotConfiguredError
			if errors.As(err, &notConfigured) {
				c.logger.Debug("search backend skipped",
					zap.String("backend", backend.Name()))
				continue
			}
			c.logger.Warn("search backend failed, trying next tier",
				zap.String("backend", backend.Name()),
				zap.String("query", query),
				zap.Error(err))
			lastErr = err
			continue
		}
		if len(results) == 0 {
			c.logger.Debug("search backend returned no hits",
				zap.String("backend", backend.Name()),
				zap.String("query", query))
			continue
		}
		return results, nil
	}
	if lastErr != nil {
		return nil, &Error{Msg: "all search backends failed", Err: lastErr}
	}
	return nil, nil
}
