// Package batch fans task specifications out over a worker pool and collects
// normalized payloads in input order.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"queryforge/internal/groundtruth"
	"queryforge/internal/llm"
	"queryforge/internal/payload"
	"queryforge/internal/prompting"
	"queryforge/internal/search"
	"queryforge/internal/spec"
)

const defaultGenerationAttempts = 3

// maxWorkersEnv overrides the worker pool size.
const maxWorkersEnv = "QUERYFORGE_MAX_WORKERS"

// Config wires the orchestrator's collaborators. Store is optional; without
// it no artifacts are cached locally.
type Config struct {
	Search        searcher
	Selector      *groundtruth.Selector
	Store         *groundtruth.Store
	LLM           llm.Client
	Logger        *zap.Logger
	Market        string
	TargetResults int
	MaxWorkers    int
	MaxAttempts   int

	// Packager, when set, persists every successful payload under Destination
	// and stamps the package path onto it. Packaging failures are logged and
	// never drop the payload.
	Packager    assembler
	Destination string
}

// assembler is the slice of packager.Assembler the orchestrator depends on.
type assembler interface {
	Save(ctx context.Context, p *payload.Payload, destination string) (string, error)
}

// Orchestrator runs the full pipeline for every specification: evidence
// search, ground-truth selection, generation, and normalization.
type Orchestrator struct {
	search   searcher
	selector *groundtruth.Selector
	store    *groundtruth.Store
	llm      llm.Client
	logger   *zap.Logger
	market   string
	target   int
	workers  int
	attempts int
	packager assembler
	dest     string
	cache    *searchCache
	sleep    func(time.Duration)
}

// NewOrchestrator applies defaults: one worker unless QUERYFORGE_MAX_WORKERS
// or Config.MaxWorkers says otherwise, three generation attempts.
func NewOrchestrator(cfg Config) *Orchestrator {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 1
		if raw := os.Getenv(maxWorkersEnv); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				workers = n
			}
		}
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultGenerationAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		search:   cfg.Search,
		selector: cfg.Selector,
		store:    cfg.Store,
		llm:      cfg.LLM,
		logger:   logger,
		market:   cfg.Market,
		target:   cfg.TargetResults,
		workers:  workers,
		attempts: attempts,
		packager: cfg.Packager,
		dest:     cfg.Destination,
		cache:    newSearchCache(),
		sleep:    time.Sleep,
	}
}

// GenerateBatch processes every spec and returns the successful payloads in
// input order. Failed specs are logged and dropped, never aborting the rest
// of the batch.
func (o *Orchestrator) GenerateBatch(ctx context.Context, specs []*spec.Spec) []*payload.Payload {
	results := make([]*payload.Payload, len(specs))

	if o.workers <= 1 || len(specs) <= 1 {
		for i, s := range specs {
			results[i] = o.processOne(ctx, s)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.workers)
		for i, s := range specs {
			g.Go(func() error {
				results[i] = o.processOne(gctx, s)
				return nil
			})
		}
		// Workers never return errors; failures are dropped per spec.
		_ = g.Wait()
	}

	out := make([]*payload.Payload, 0, len(specs))
	for _, p := range results {
		if p != nil {
			out = append(out, p)
		}
	}
	o.logger.Info("batch generation finished",
		zap.Int("requested", len(specs)),
		zap.Int("generated", len(out)),
		zap.Int("dropped", len(specs)-len(out)))
	return out
}

// processOne isolates a single spec: panics and errors are logged and turn
// into a dropped result.
func (o *Orchestrator) processOne(ctx context.Context, s *spec.Spec) (result *payload.Payload) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("task generation panicked",
				zap.String("query_id", s.QueryID),
				zap.Any("panic", r))
			result = nil
		}
	}()

	p, err := o.generate(ctx, s)
	if err != nil {
		o.logger.Warn("task generation failed, dropping",
			zap.String("query_id", s.QueryID),
			zap.Error(err))
		return nil
	}

	// Packaging failures never drop the payload; it just carries no path.
	if o.packager != nil {
		dir, err := o.packager.Save(ctx, p, o.dest)
		if err != nil {
			o.logger.Error("packaging failed",
				zap.String("query_id", s.QueryID),
				zap.Error(err))
		} else {
			p.PackagePath = dir
			o.logger.Info("package written",
				zap.String("query_id", s.QueryID),
				zap.String("dir", dir))
		}
	}
	return p
}

// generate retries the pipeline on transient search and generation errors.
// Validation failures are final immediately.
func (o *Orchestrator) generate(ctx context.Context, s *spec.Spec) (*payload.Payload, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= o.attempts; attempt++ {
		p, err := o.generateOnce(ctx, s)
		if err == nil {
			return p, nil
		}
		if !isTransient(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt < o.attempts {
			o.logger.Warn("transient failure, retrying task",
				zap.String("query_id", s.QueryID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			o.sleep(time.Duration(attempt) * time.Second)
		}
	}
	return nil, fmt.Errorf("task %s failed after %d attempts: %w", s.QueryID, o.attempts, lastErr)
}

func (o *Orchestrator) generateOnce(ctx context.Context, s *spec.Spec) (*payload.Payload, error) {
	key := cacheKey(s.SearchQueries, s.Language, o.market)
	results, err := o.cache.get(key, func() ([]search.Result, error) {
		return o.search.Search(ctx, search.Request{
			QueryID:     s.QueryID,
			Queries:     s.SearchQueries,
			Market:      o.market,
			Language:    s.Language,
			TargetCount: o.target,
		})
	})
	if err != nil {
		return nil, err
	}

	bundle, err := o.selector.Select(ctx, s, results)
	if err != nil {
		return nil, err
	}

	var artifacts *groundtruth.BundleArtifacts
	if o.store != nil {
		artifacts = o.store.CacheBundle(ctx, bundle)
	}

	messages, err := prompting.BuildMessages(s, bundle)
	if err != nil {
		return nil, err
	}
	raw, err := o.llm.CompleteJSON(ctx, messages)
	if err != nil {
		return nil, err
	}
	p, err := payload.FromMap(raw)
	if err != nil {
		return nil, &llm.GenerationError{Msg: "decoding model payload", Err: err}
	}

	if err := payload.Normalize(p, payload.NormalizeInput{
		Task:      s,
		Bundle:    bundle,
		Artifacts: artifacts,
		Results:   results,
	}); err != nil {
		return nil, err
	}

	if issues := payload.Lint(p); len(issues) > 0 {
		o.logger.Warn("payload lint violations",
			zap.String("query_id", s.QueryID),
			zap.Strings("issues", issues))
	}
	return p, nil
}

// isTransient reports whether a retry can plausibly help.
func isTransient(err error) bool {
	var serr *search.Error
	var gerr *llm.GenerationError
	return errors.As(err, &serr) || errors.As(err, &gerr)
}
