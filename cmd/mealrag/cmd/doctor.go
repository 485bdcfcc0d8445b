package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nutrimind/mealrag/internal/config"
	"github.com/nutrimind/mealrag/internal/output"
	"github.com/nutrimind/mealrag/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		offline    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run system diagnostics to ensure mealrag can operate correctly.

Checks:
  - Disk space (100MB minimum)
  - Available memory (512MB minimum)
  - Write permissions on the index directory
  - File descriptor limits (256 minimum)
  - Corpus loads and is non-empty
  - Persisted collection exists and matches the corpus
  - Embedder and reranker reachability

A missing or stale collection only warns because the next build
recreates it. Static embeddings also warn: they match words, not meaning.`,
		Example: `  # Run diagnostics
  mealrag doctor

  # Skip the embedder and reranker probes
  mealrag doctor --offline

  # JSON output for scripting
  mealrag doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, verbose, jsonOutput, offline)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the embedder and reranker probes")

	return cmd
}

// DoctorOutput is the JSON output of `mealrag doctor`.
type DoctorOutput struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func runDoctor(ctx context.Context, cmd *cobra.Command, verbose, jsonOutput, offline bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)

	target := preflight.Target{
		CorpusPath: resolvePath(cfg.Corpus.Path),
		IndexDir:   resolvePath(cfg.Index.Dir),
		Collection: cfg.Index.Collection,
	}

	if !offline {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if e, err := newEmbedder(probeCtx, cfg); err == nil {
			defer func() { _ = e.Close() }()
			target.Embedder = e
		} else {
			slog.Debug("doctor_embedder_unavailable", slog.String("error", err.Error()))
		}
		// An unreachable HTTP reranker fails construction, which is
		// reported through a prober that is never available.
		if r, err := newReranker(probeCtx, cfg); err == nil {
			defer func() { _ = r.Close() }()
			target.Reranker = r
		} else {
			target.Reranker = unavailable(cfg.Reranker.Provider)
		}
	}

	results := checker.RunAll(ctx, target)

	if jsonOutput {
		if err := output.New(cmd.OutOrStdout()).JSON(DoctorOutput{
			Status: checker.SummaryStatus(results),
			Checks: results,
		}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	dataDir := config.DataDir()
	if checker.HasCriticalFailures(results) {
		_ = preflight.ClearMarker(dataDir)
		return fmt.Errorf("system check failed")
	}

	if err := preflight.MarkPassed(dataDir); err != nil {
		slog.Debug("preflight_marker_failed", slog.String("error", err.Error()))
	}
	return nil
}

// unavailable is a Prober for a service that could not be constructed.
type unavailable string

func (u unavailable) Available(context.Context) bool { return false }
func (u unavailable) Name() string                   { return string(u) }
