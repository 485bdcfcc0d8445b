package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nutrimind/mealrag/internal/output"
	"github.com/nutrimind/mealrag/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	var days int
	var limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query telemetry",
		Long: `Display query telemetry recorded by previous searches:
  - Outcome distribution (results/empty/error)
  - Top query terms
  - Recent zero-result queries
  - Latency distribution`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			path := resolvePath(cfg.Telemetry.Path)
			if !fileExists(path) {
				return fmt.Errorf("no telemetry recorded at %s\nRun 'mealrag search' with telemetry.enabled to collect some", path)
			}

			store, err := telemetry.OpenSQLiteMetricsStore(path)
			if err != nil {
				return fmt.Errorf("failed to open metrics store: %w", err)
			}
			defer func() { _ = store.Close() }()

			stats, err := getQueryStats(store, days, limit, time.Now())
			if err != nil {
				return fmt.Errorf("failed to get query stats: %w", err)
			}

			if jsonOutput {
				return output.New(cmd.OutOrStdout()).JSON(stats)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	cmd.Flags().IntVar(&limit, "limit", 10, "Entries in the top terms and zero-result lists")

	return cmd
}

// StatsOutput is the JSON output of `mealrag stats`.
type StatsOutput struct {
	From                string                            `json:"from"`
	To                  string                            `json:"to"`
	TotalQueries        int64                             `json:"total_queries"`
	ZeroResultPct       float64                           `json:"zero_result_pct"`
	OutcomeCounts       map[telemetry.Outcome]int64       `json:"outcome_counts"`
	TopTerms            []telemetry.TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                          `json:"zero_result_queries"`
	LatencyDistribution map[telemetry.LatencyBucket]int64 `json:"latency_distribution"`
}

// metricsReader is the read side of the telemetry store.
type metricsReader interface {
	GetOutcomeCounts(from, to string) (map[telemetry.Outcome]int64, error)
	GetTopTerms(limit int) ([]telemetry.TermCount, error)
	GetZeroResultQueries(limit int) ([]string, error)
	GetLatencyCounts(from, to string) (map[telemetry.LatencyBucket]int64, error)
}

func getQueryStats(store metricsReader, days, limit int, now time.Time) (*StatsOutput, error) {
	if days < 1 {
		days = 1
	}
	to := now.Format("2006-01-02")
	from := now.AddDate(0, 0, -(days - 1)).Format("2006-01-02")

	outcomes, err := store.GetOutcomeCounts(from, to)
	if err != nil {
		return nil, fmt.Errorf("get outcome counts: %w", err)
	}
	topTerms, err := store.GetTopTerms(limit)
	if err != nil {
		return nil, fmt.Errorf("get top terms: %w", err)
	}
	zeroResults, err := store.GetZeroResultQueries(limit)
	if err != nil {
		return nil, fmt.Errorf("get zero-result queries: %w", err)
	}
	latency, err := store.GetLatencyCounts(from, to)
	if err != nil {
		return nil, fmt.Errorf("get latency counts: %w", err)
	}

	stats := &StatsOutput{
		From:                from,
		To:                  to,
		OutcomeCounts:       outcomes,
		TopTerms:            topTerms,
		ZeroResultQueries:   zeroResults,
		LatencyDistribution: latency,
	}
	for _, n := range outcomes {
		stats.TotalQueries += n
	}
	if stats.TotalQueries > 0 {
		stats.ZeroResultPct = float64(outcomes[telemetry.OutcomeEmpty]) / float64(stats.TotalQueries) * 100
	}
	return stats, nil
}

func printStats(w io.Writer, s *StatsOutput) {
	_, _ = fmt.Fprintln(w, "Query Statistics")
	_, _ = fmt.Fprintln(w, "================")
	_, _ = fmt.Fprintf(w, "Period: %s to %s\n\n", s.From, s.To)

	_, _ = fmt.Fprintf(w, "Total Queries: %d\n", s.TotalQueries)
	_, _ = fmt.Fprintf(w, "Zero Results:  %.1f%%\n\n", s.ZeroResultPct)

	if s.TotalQueries > 0 {
		_, _ = fmt.Fprintln(w, "Outcomes:")
		for _, o := range []telemetry.Outcome{telemetry.OutcomeResults, telemetry.OutcomeEmpty, telemetry.OutcomeError} {
			_, _ = fmt.Fprintf(w, "  %-8s %d\n", o, s.OutcomeCounts[o])
		}
		_, _ = fmt.Fprintln(w)
	}

	if len(s.TopTerms) > 0 {
		_, _ = fmt.Fprintln(w, "Top Query Terms:")
		for i, tc := range s.TopTerms {
			_, _ = fmt.Fprintf(w, "  %d. %s (%d)\n", i+1, tc.Term, tc.Count)
		}
	} else {
		_, _ = fmt.Fprintln(w, "Top Query Terms: (none recorded yet)")
	}
	_, _ = fmt.Fprintln(w)

	if len(s.ZeroResultQueries) > 0 {
		_, _ = fmt.Fprintln(w, "Recent Zero-Result Queries:")
		for _, q := range s.ZeroResultQueries {
			_, _ = fmt.Fprintf(w, "  - %q\n", q)
		}
	} else {
		_, _ = fmt.Fprintln(w, "Recent Zero-Result Queries: (none)")
	}
	_, _ = fmt.Fprintln(w)

	if len(s.LatencyDistribution) > 0 {
		_, _ = fmt.Fprintln(w, "Latency Distribution:")
		for _, b := range telemetry.LatencyBuckets {
			_, _ = fmt.Fprintf(w, "  %-6s %d\n", b, s.LatencyDistribution[b])
		}
	}
}
