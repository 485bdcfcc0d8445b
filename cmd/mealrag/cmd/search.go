package cmd

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	merrors "github.com/nutrimind/mealrag/internal/errors"
	"github.com/nutrimind/mealrag/internal/output"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	intermediate int
	final        int
	explain      bool // print every pipeline stage
	jsonOutput   bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find meals matching a free-text question",
		Long: `Search the meal corpus using hybrid search.

Keyword (BM25) and semantic matches are fused by weighted reciprocal rank,
reranked against the query and printed with their nutrition facts.

Examples:
  mealrag search "meatless chicken"
  mealrag search "low carb dinner" -n 5
  mealrag search "vegan protein" -i 20 --explain
  mealrag search "oatmeal" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.intermediate, "intermediate", "i", 0, "Candidates per retriever (default from config)")
	cmd.Flags().IntVarP(&opts.final, "final", "n", 0, "Meals to return (default from config)")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show BM25, semantic, fused and reranked lists")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	intermediate := opts.intermediate
	if intermediate == 0 {
		intermediate = cfg.Search.IntermediateResults
	}
	final := opts.final
	if final == 0 {
		final = cfg.Search.FinalResults
	}

	slog.Info("search_started",
		slog.String("query", query),
		slog.Int("intermediate", intermediate),
		slog.Int("final", final))

	p, err := openPipeline(ctx, cfg, pipelineOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if cfg.Search.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Search.Timeout)
		defer cancel()
	}

	out := output.New(cmd.OutOrStdout())

	trace, err := p.engine.SearchDetailed(ctx, query, intermediate, final)
	if err != nil {
		// No candidates is an answer, not a failure.
		if errors.Is(err, merrors.ErrEmptyCandidateSet) {
			if opts.jsonOutput {
				return out.JSON(output.SearchResponse{Query: query, Results: []string{}})
			}
			out.Results(nil)
			return nil
		}
		return err
	}

	switch {
	case opts.jsonOutput:
		return out.JSON(output.SearchResponse{ID: trace.ID, Query: query, Results: trace.Output})
	case opts.explain:
		out.Explain(trace)
	default:
		out.Results(trace.Output)
	}
	return nil
}
