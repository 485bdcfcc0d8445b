// Package validation runs golden meal queries against a search engine and
// reports whether the expected meals come back.
//
// Query sets are YAML so they can change without rebuilding:
//
//	tier1:
//	  - id: T1-Q1
//	    name: chicken
//	    query: chicken recipe with high protein
//	    expected: ["chicken"]
//	negative:
//	  - id: N-Q1
//	    query: "!!!"
package validation

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	merrors "github.com/nutrimind/mealrag/internal/errors"
)

// DefaultConcurrency bounds the queries evaluated in parallel.
const DefaultConcurrency = 4

//go:embed negative.yaml
var builtinNegative []byte

// QuerySpec is one golden query.
type QuerySpec struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Query string `yaml:"query" json:"query"`

	// Expected holds case-insensitive substrings; any result containing one
	// of them counts as a hit.
	Expected []string `yaml:"expected" json:"expected,omitempty"`

	// Final overrides the number of results for this query.
	Final int    `yaml:"final" json:"final,omitempty"`
	Notes string `yaml:"notes" json:"notes,omitempty"`
	Tier  int    `yaml:"-" json:"tier"`
}

// QueryConfig is a query set loaded from YAML.
type QueryConfig struct {
	Tier1    []QuerySpec `yaml:"tier1"`
	Tier2    []QuerySpec `yaml:"tier2"`
	Negative []QuerySpec `yaml:"negative"`
}

// Len returns the number of queries in the set.
func (c *QueryConfig) Len() int {
	return len(c.Tier1) + len(c.Tier2) + len(c.Negative)
}

// ParseQueries decodes a query set and assigns tiers by section.
func ParseQueries(data []byte) (*QueryConfig, error) {
	var cfg QueryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse queries YAML: %w", err)
	}

	for i := range cfg.Tier1 {
		cfg.Tier1[i].Tier = 1
	}
	for i := range cfg.Tier2 {
		cfg.Tier2[i].Tier = 2
	}
	for i := range cfg.Negative {
		cfg.Negative[i].Tier = 0
	}

	for _, spec := range slices.Concat(cfg.Tier1, cfg.Tier2) {
		if len(spec.Expected) == 0 {
			return nil, fmt.Errorf("query %s has no expected results", spec.ID)
		}
	}
	return &cfg, nil
}

// LoadQueries reads a query set from path.
func LoadQueries(path string) (*QueryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read queries file %s: %w", path, err)
	}
	return ParseQueries(data)
}

// BuiltinNegativeQueries returns the bundled robustness queries: inputs that
// must not crash the engine or surface a fatal error.
func BuiltinNegativeQueries() []QuerySpec {
	cfg, err := ParseQueries(builtinNegative)
	if err != nil {
		panic(fmt.Sprintf("builtin negative queries: %v", err))
	}
	return cfg.Negative
}

// Searcher is the query surface under evaluation.
type Searcher interface {
	Search(ctx context.Context, query string, intermediate, final int) ([]string, error)
}

// TestResult is the outcome of one query.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ns"`
	TopResults []string      `json:"top_results"`
	// MatchedAt is the 0-based position of the first hit, -1 if none.
	MatchedAt int    `json:"matched_at"`
	Error     string `json:"error,omitempty"`
}

// ReciprocalRank returns 1/(MatchedAt+1), or 0 without a hit.
func (r TestResult) ReciprocalRank() float64 {
	if r.MatchedAt < 0 {
		return 0
	}
	return 1 / float64(r.MatchedAt+1)
}

// TierSummary aggregates one tier.
type TierSummary struct {
	Passed int     `json:"passed"`
	Total  int     `json:"total"`
	MRR    float64 `json:"mrr"`
}

// PassRate returns the fraction of passed queries.
func (s TierSummary) PassRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Total)
}

// ValidationResult is a full evaluation run.
type ValidationResult struct {
	Timestamp    time.Time    `json:"timestamp"`
	Intermediate int          `json:"intermediate"`
	Final        int          `json:"final"`
	Tier1        []TestResult `json:"tier1"`
	Tier2        []TestResult `json:"tier2"`
	Negative     []TestResult `json:"negative"`
	Tier1Summary TierSummary  `json:"tier1_summary"`
	Tier2Summary TierSummary  `json:"tier2_summary"`
	NegSummary   TierSummary  `json:"negative_summary"`
}

// Passed reports whether every query passed.
func (r *ValidationResult) Passed() bool {
	for _, s := range []TierSummary{r.Tier1Summary, r.Tier2Summary, r.NegSummary} {
		if s.Passed != s.Total {
			return false
		}
	}
	return true
}

// Validator evaluates query sets.
type Validator struct {
	searcher     Searcher
	intermediate int
	final        int
	concurrency  int
}

// NewValidator creates a validator running each query with the given
// intermediate and final result counts.
func NewValidator(s Searcher, intermediate, final int) *Validator {
	return &Validator{
		searcher:     s,
		intermediate: intermediate,
		final:        final,
		concurrency:  DefaultConcurrency,
	}
}

// WithConcurrency sets how many queries run at once.
func (v *Validator) WithConcurrency(n int) *Validator {
	if n > 0 {
		v.concurrency = n
	}
	return v
}

// RunQuery executes a single query.
//
// A positive query passes when a result contains an expected substring.
// A negative query passes unless it fails with a fatal error.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	final := v.final
	if spec.Final > 0 {
		final = spec.Final
	}

	result := TestResult{Spec: spec, MatchedAt: -1}
	start := time.Now()
	results, err := v.searcher.Search(ctx, spec.Query, v.intermediate, final)
	result.Duration = time.Since(start)
	result.TopResults = results

	if spec.Tier == 0 {
		result.Passed = !merrors.IsFatal(err) && ctx.Err() == nil
		if err != nil {
			result.Error = err.Error()
		}
		return result
	}

	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.MatchedAt = firstMatch(results, spec.Expected)
	result.Passed = result.MatchedAt >= 0
	return result
}

// RunAll evaluates every query in cfg. Results keep the order of cfg.
func (v *Validator) RunAll(ctx context.Context, cfg *QueryConfig) *ValidationResult {
	result := &ValidationResult{
		Timestamp:    time.Now(),
		Intermediate: v.intermediate,
		Final:        v.final,
		Tier1:        v.runTier(ctx, cfg.Tier1),
		Tier2:        v.runTier(ctx, cfg.Tier2),
		Negative:     v.runTier(ctx, cfg.Negative),
	}
	result.Tier1Summary = summarize(result.Tier1)
	result.Tier2Summary = summarize(result.Tier2)
	result.NegSummary = summarize(result.Negative)
	return result
}

func (v *Validator) runTier(ctx context.Context, specs []QuerySpec) []TestResult {
	results := make([]TestResult, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, spec := range specs {
		g.Go(func() error {
			results[i] = v.RunQuery(gctx, spec)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func summarize(results []TestResult) TierSummary {
	s := TierSummary{Total: len(results)}
	var rr float64
	for _, r := range results {
		if r.Passed {
			s.Passed++
		}
		rr += r.ReciprocalRank()
	}
	if s.Total > 0 {
		s.MRR = rr / float64(s.Total)
	}
	return s
}

// firstMatch returns the position of the first result containing any
// expected substring, ignoring case.
func firstMatch(results, expected []string) int {
	for i, r := range results {
		lr := strings.ToLower(r)
		for _, exp := range expected {
			if strings.Contains(lr, strings.ToLower(exp)) {
				return i
			}
		}
	}
	return -1
}

// WriteReport prints a human-readable report.
func WriteReport(w io.Writer, r *ValidationResult) {
	tiers := []struct {
		name    string
		results []TestResult
		summary TierSummary
	}{
		{"Tier 1", r.Tier1, r.Tier1Summary},
		{"Tier 2", r.Tier2, r.Tier2Summary},
		{"Negative", r.Negative, r.NegSummary},
	}

	for _, tier := range tiers {
		if tier.summary.Total == 0 {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s: %d/%d passed (%.0f%%)", tier.name,
			tier.summary.Passed, tier.summary.Total, tier.summary.PassRate()*100)
		if tier.name != "Negative" {
			_, _ = fmt.Fprintf(w, ", MRR %.3f", tier.summary.MRR)
		}
		_, _ = fmt.Fprintln(w)

		for _, tr := range tier.results {
			mark := "PASS"
			if !tr.Passed {
				mark = "FAIL"
			}
			_, _ = fmt.Fprintf(w, "  [%s] %s %s (%s)", mark, tr.Spec.ID, tr.Spec.Query, tr.Duration.Round(time.Millisecond))
			switch {
			case tr.MatchedAt >= 0:
				_, _ = fmt.Fprintf(w, " hit at #%d", tr.MatchedAt+1)
			case tr.Error != "":
				_, _ = fmt.Fprintf(w, " %s", tr.Error)
			}
			_, _ = fmt.Fprintln(w)
		}
	}
}
