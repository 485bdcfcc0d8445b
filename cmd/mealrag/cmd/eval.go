package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nutrimind/mealrag/internal/output"
	"github.com/nutrimind/mealrag/internal/validation"
)

type evalOptions struct {
	intermediate int
	final        int
	concurrency  int
	negative     bool
	jsonOutput   bool
}

func newEvalCmd() *cobra.Command {
	var opts evalOptions

	cmd := &cobra.Command{
		Use:   "eval [queries.yaml]",
		Short: "Run golden queries and report hit rate and MRR",
		Long: `Evaluate search quality against a golden query set.

The YAML file has tier1, tier2 and negative sections. A tier query passes
when any of its first results contains one of its expected substrings.
A negative query passes when it returns without a fatal error.

Without a file only the built-in negative queries run.

Examples:
  mealrag eval queries.yaml
  mealrag eval queries.yaml --negative --json
  mealrag eval`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return runEval(cmd.Context(), cmd, path, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.intermediate, "intermediate", "i", 0, "Candidates per retriever (default from config)")
	cmd.Flags().IntVarP(&opts.final, "final", "n", 0, "Meals per query (default from config)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Queries run at once (default 4)")
	cmd.Flags().BoolVar(&opts.negative, "negative", false, "Also run the built-in negative queries")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the full result as JSON")

	return cmd
}

func runEval(ctx context.Context, cmd *cobra.Command, path string, opts evalOptions) error {
	queries := &validation.QueryConfig{}
	if path != "" {
		loaded, err := validation.LoadQueries(path)
		if err != nil {
			return err
		}
		queries = loaded
	}
	if opts.negative || path == "" {
		queries.Negative = append(queries.Negative, validation.BuiltinNegativeQueries()...)
	}

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

	p, err := openPipeline(ctx, cfg, pipelineOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	slog.Info("eval_started", slog.String("file", path), slog.Int("queries", queries.Len()))

	result := validation.NewValidator(p.engine, intermediate, final).
		WithConcurrency(opts.concurrency).
		RunAll(ctx, queries)

	if opts.jsonOutput {
		if err := output.New(cmd.OutOrStdout()).JSON(result); err != nil {
			return err
		}
	} else {
		validation.WriteReport(cmd.OutOrStdout(), result)
	}

	if !result.Passed() {
		return fmt.Errorf("evaluation failed: tier1 %d/%d, tier2 %d/%d, negative %d/%d",
			result.Tier1Summary.Passed, result.Tier1Summary.Total,
			result.Tier2Summary.Passed, result.Tier2Summary.Total,
			result.NegSummary.Passed, result.NegSummary.Total)
	}
	return nil
}
