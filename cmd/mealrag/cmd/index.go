package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nutrimind/mealrag/internal/config"
	"github.com/nutrimind/mealrag/internal/corpus"
	"github.com/nutrimind/mealrag/internal/embed"
	"github.com/nutrimind/mealrag/internal/index"
	"github.com/nutrimind/mealrag/internal/output"
	"github.com/nutrimind/mealrag/internal/preflight"
	"github.com/nutrimind/mealrag/internal/ui"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build, inspect or evict the persisted meal index",
		Long: `Manage the dense collection persisted next to the corpus.

The keyword index is rebuilt in memory on every run; the embedding
collection is written once and reused while its manifest matches the
corpus checksum, the embedding model and its dimensions.`,
	}

	cmd.AddCommand(newIndexBuildCmd())
	cmd.AddCommand(newIndexInfoCmd())
	cmd.AddCommand(newIndexEvictCmd())
	return cmd
}

type indexBuildOptions struct {
	force     bool
	noTUI     bool
	noColor   bool
	skipCheck bool
}

func newIndexBuildCmd() *cobra.Command {
	var opts indexBuildOptions

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Embed the corpus and persist the collection",
		Long: `Build the dense collection, or load it when it is already fresh.

Examples:
  mealrag index build
  mealrag index build --force
  mealrag index build --no-tui > build.log`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndexBuild(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "Evict the persisted collection and rebuild it")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Plain line-based progress output")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&opts.skipCheck, "skip-check", false, "Skip first-run system checks")

	return cmd
}

func runIndexBuild(ctx context.Context, cmd *cobra.Command, opts indexBuildOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !opts.skipCheck && preflight.NeedsCheck(config.DataDir()) {
		if err := runFirstRunChecks(ctx, cmd.ErrOrStderr(), cfg); err != nil {
			return err
		}
	}

	indexDir := resolvePath(cfg.Index.Dir)
	if opts.force {
		slog.Info("index_evict", slog.String("dir", indexDir), slog.String("collection", cfg.Index.Collection))
		if err := index.Evict(ctx, indexDir, cfg.Index.Collection); err != nil {
			return err
		}
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithNoColor(opts.noColor),
		ui.WithTitle(cfg.Index.Collection),
	))
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start progress display: %w", err)
	}
	defer func() { _ = renderer.Stop() }()

	start := time.Now()
	p, err := openPipeline(ctx, cfg, pipelineOptions{
		progress:     renderer.UpdateProgress,
		skipReranker: true,
	})
	if err != nil {
		renderer.AddError(ui.ErrorEvent{Err: err})
		return err
	}
	defer func() { _ = p.Close() }()

	stats := ui.CompletionStats{
		Records:    p.corpus.Len(),
		Collection: cfg.Index.Collection,
		Reused:     !p.dense.Built(),
		Stages:     p.timings,
	}

	check := index.CheckConsistency(p.corpus, p.sparse, p.dense)
	for _, issue := range check.Inconsistencies {
		renderer.AddError(ui.ErrorEvent{Err: errors.New(issue.Details), IsWarn: true})
		stats.Warnings++
	}

	info := embed.GetInfo(ctx, p.embedder)
	stats.Embedder = ui.EmbedderInfo{
		Provider:   info.Provider.String(),
		Model:      info.Model,
		Dimensions: info.Dimensions,
	}
	stats.Duration = time.Since(start)

	slog.Info("index_build_complete",
		slog.Int("records", stats.Records),
		slog.Bool("reused", stats.Reused),
		slog.String("model", info.Model),
		slog.Duration("duration", stats.Duration))

	renderer.Complete(stats)
	return nil
}

// runFirstRunChecks runs the preflight checks once per data directory.
func runFirstRunChecks(ctx context.Context, w io.Writer, cfg *config.Config) error {
	checker := preflight.New(preflight.WithOutput(w))
	results := checker.RunAll(ctx, preflight.Target{
		CorpusPath: resolvePath(cfg.Corpus.Path),
		IndexDir:   resolvePath(cfg.Index.Dir),
		Collection: cfg.Index.Collection,
	})
	if checker.HasCriticalFailures(results) {
		checker.PrintResults(results)
		return fmt.Errorf("system check failed, run 'mealrag doctor' for details")
	}
	if err := preflight.MarkPassed(config.DataDir()); err != nil {
		slog.Debug("preflight_marker_failed", slog.String("error", err.Error()))
	}
	return nil
}

func newIndexInfoCmd() *cobra.Command {
	var jsonOutput bool
	var noColor bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the corpus and persisted collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			status := collectStatus(cmd.Context(), cfg)
			r := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor())
			if jsonOutput {
				return r.RenderJSON(status)
			}
			return r.Render(status)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}

// collectStatus reads the corpus and manifest without building anything.
func collectStatus(ctx context.Context, cfg *config.Config) ui.StatusInfo {
	corpusPath := resolvePath(cfg.Corpus.Path)
	indexDir := resolvePath(cfg.Index.Dir)

	status := ui.StatusInfo{
		CorpusPath:     corpusPath,
		Collection:     cfg.Index.Collection,
		CollectionPath: index.CollectionDir(indexDir, cfg.Index.Collection),
		SparseBackend:  cfg.Sparse.Backend,
		RerankerName:   cfg.Reranker.Provider,
	}

	if c, err := corpus.Load(ctx, corpusPath); err == nil {
		status.CorpusRecords = c.Len()
		status.CorpusChecksum = c.Checksum()
	} else {
		slog.Debug("status_corpus_unavailable", slog.String("error", err.Error()))
	}

	info, err := index.Info(indexDir, cfg.Index.Collection)
	switch {
	case err == nil:
		status.Indexed = true
		status.IndexedCount = info.Manifest.Count
		status.IndexChecksum = info.Manifest.CorpusChecksum
		status.BuiltAt = info.Manifest.CreatedAt
		status.SizeBytes = info.SizeBytes
		status.EmbedderModel = info.Manifest.Model
		status.EmbedderDimensions = info.Manifest.Dimensions
	case !errors.Is(err, os.ErrNotExist):
		slog.Warn("status_manifest_unreadable", slog.String("error", err.Error()))
	}

	return status
}

func newIndexEvictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evict",
		Short: "Delete the persisted collection",
		Long:  `Delete the persisted collection. The next build or search re-embeds the corpus.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			indexDir := resolvePath(cfg.Index.Dir)
			if err := index.Evict(cmd.Context(), indexDir, cfg.Index.Collection); err != nil {
				return err
			}

			output.New(cmd.OutOrStdout()).Successf("Evicted collection %q from %s", cfg.Index.Collection, indexDir)
			return nil
		},
	}
}
