package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"queryforge/internal/batch"
	"queryforge/internal/config"
	"queryforge/internal/groundtruth"
	"queryforge/internal/llm"
	"queryforge/internal/packager"
	"queryforge/internal/search"
	"queryforge/internal/spec"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// build flags
	outputDir      string
	cacheDir       string
	market         string
	workers        int
	targetResults  int
	maxAttempts    int
	referenceLimit int
	skipDownloads  bool
	flatLayout     bool
	withInverse    bool
	onlyIDs        []string
	onlyLevels     []string

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "queryforge",
	Short: "queryforge - batch query construction pipeline",
	Long: `queryforge turns declarative task specifications into complete
agent-evaluation query packages.

For every specification it searches the open web for evidence, selects a
ground-truth source, asks an LLM to draft the task payload, normalizes the
draft against the house SOP, and writes a self-contained package directory
with judge and solver views plus a local data room.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// buildCmd runs the full pipeline for every entry in the batch file.
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Generate query packages for every task in the batch file",
	Long: `Runs the full pipeline: evidence search, ground-truth selection,
LLM generation, normalization, and packaging.

Provider credentials come from the environment: SERPER_API_KEY or
GOOGLE_API_KEY/SEARCH_ENGINE_ID for search (DuckDuckGo needs none), and
OPENAI_API_KEY/MODEL or LLM_PROVIDER=gemini with GEMINI_API_KEY for
generation.

Example:
  queryforge build --config queries.yaml --output ./out --workers 4`,
	RunE: runBuild,
}

// validateCmd checks the batch file without contacting any provider.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the batch file and print the parsed tasks",
	RunE:  runValidate,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "queries.yaml", "batch file with task specifications (.yaml/.yml/.json)")

	buildCmd.Flags().StringVarP(&outputDir, "output", "o", "output", "destination directory for query packages")
	buildCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "artifact cache directory (empty disables caching)")
	buildCmd.Flags().StringVar(&market, "market", "cn", "search market passed to the backends")
	buildCmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent tasks (0 uses QUERYFORGE_MAX_WORKERS or 1)")
	buildCmd.Flags().IntVar(&targetResults, "target-results", 10, "search results collected per task")
	buildCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "generation attempts per task (0 uses the default)")
	buildCmd.Flags().IntVar(&referenceLimit, "reference-limit", 3, "reference documents downloaded per package (negative for unlimited)")
	buildCmd.Flags().BoolVar(&skipDownloads, "skip-downloads", false, "write manifests only, never download documents")
	buildCmd.Flags().BoolVar(&flatLayout, "flat", false, "write packages directly under the output directory instead of level/orientation subdirectories")

	for _, cmd := range []*cobra.Command{buildCmd, validateCmd} {
		cmd.Flags().BoolVar(&withInverse, "with-inverse", false, "add an inverse variant after every positive task")
		cmd.Flags().StringSliceVar(&onlyIDs, "only", nil, "restrict the run to these query ids")
		cmd.Flags().StringSliceVar(&onlyLevels, "level", nil, "restrict the run to these levels (L3/L4/L5)")
	}

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadTasks applies the id/level filters and the optional inverse expansion
// to the batch file.
func loadTasks() ([]*spec.Spec, error) {
	specs, err := config.LoadSpecs(configPath)
	if err != nil {
		return nil, err
	}
	specs, err = filterTasks(specs)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no tasks in %s match the given filters", configPath)
	}
	if withInverse {
		return spec.NewExpander().Expand(specs)
	}
	return specs, nil
}

func filterTasks(specs []*spec.Spec) ([]*spec.Spec, error) {
	ids := map[string]bool{}
	for _, id := range onlyIDs {
		ids[strings.TrimSpace(id)] = true
	}
	levels := map[string]bool{}
	for _, l := range onlyLevels {
		levels[strings.ToUpper(strings.TrimSpace(l))] = true
	}
	if len(ids) == 0 && len(levels) == 0 {
		return specs, nil
	}

	var out []*spec.Spec
	for _, s := range specs {
		if len(ids) > 0 && !ids[s.QueryID] {
			continue
		}
		if len(levels) > 0 {
			level, err := s.NormalizedLevel()
			if err != nil {
				return nil, err
			}
			if !levels[level] {
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// newRefineFunc routes the selector's domain-refinement searches through the
// same backend chain as the main evidence round.
func newRefineFunc(client *search.Client, market string, target int) groundtruth.RefineFunc {
	return func(ctx context.Context, query string) ([]search.Result, error) {
		return client.Search(ctx, search.Request{
			QueryID:     "domain-refinement",
			Queries:     []string{query},
			Market:      market,
			TargetCount: target,
		})
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	specs, err := loadTasks()
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger.Info("starting batch run",
		zap.String("run_id", runID),
		zap.String("config", configPath),
		zap.Int("tasks", len(specs)))

	model, err := llm.NewFromEnv(ctx, logger)
	if err != nil {
		return err
	}

	var store *groundtruth.Store
	if cacheDir != "" {
		store, err = groundtruth.OpenStore(cacheDir, logger)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	searchClient := search.NewClient(search.NewDefaultChain(logger), logger)
	orchestrator := batch.NewOrchestrator(batch.Config{
		Search: searchClient,
		Selector: groundtruth.NewSelector(groundtruth.SelectorConfig{
			Refine: newRefineFunc(searchClient, market, targetResults),
			Logger: logger,
		}),
		Store:         store,
		LLM:           model,
		Logger:        logger,
		Market:        market,
		TargetResults: targetResults,
		MaxWorkers:    workers,
		MaxAttempts:   maxAttempts,
		Packager: packager.NewAssembler(packager.Options{
			IncludeReferences:   !skipDownloads,
			ReferenceLimit:      referenceLimit,
			DownloadGroundTruth: !skipDownloads,
			SplitViews:          !flatLayout,
		}, logger),
		Destination: outputDir,
	})
	payloads := orchestrator.GenerateBatch(ctx, specs)
	if len(payloads) == 0 {
		return fmt.Errorf("run %s produced no payloads for %d tasks", runID, len(specs))
	}

	saved := 0
	for _, p := range payloads {
		if p.PackagePath != "" {
			saved++
		}
	}
	logger.Info("batch run finished",
		zap.String("run_id", runID),
		zap.Int("tasks", len(specs)),
		zap.Int("generated", len(payloads)),
		zap.Int("packaged", saved))
	fmt.Printf("Run %s: %d/%d packages written to %s\n", runID, saved, len(specs), outputDir)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	specs, err := loadTasks()
	if err != nil {
		return err
	}
	for _, s := range specs {
		level, _ := s.NormalizedLevel()
		orientation, _ := s.NormalizedOrientation()
		fmt.Printf("%s  %s/%s  %d queries  %s\n",
			s.QueryID, level, orientation, len(s.SearchQueries), s.Scenario)
	}
	fmt.Printf("%d tasks OK\n", len(specs))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
