package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nutrimind/mealrag/internal/embed"
)

// CheckStatus is the outcome of a single check.
type CheckStatus int

const (
	// StatusPass indicates the check passed.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical problem.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns PASS, WARN or FAIL.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if a required check failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Prober reports whether a backing service can serve requests.
type Prober interface {
	Available(ctx context.Context) bool
	Name() string
}

// Target names what the checks inspect. Nil services are skipped.
type Target struct {
	CorpusPath string
	IndexDir   string
	Collection string
	Embedder   embed.Embedder
	Reranker   Prober
}

// Checker runs preflight checks.
type Checker struct {
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a Checker writing to stdout unless configured otherwise.
func New(opts ...Option) *Checker {
	c := &Checker{output: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against t.
func (c *Checker) RunAll(ctx context.Context, t Target) []CheckResult {
	dir := existingAncestor(t.IndexDir)

	results := []CheckResult{
		c.CheckDiskSpace(dir),
		c.CheckMemory(),
		c.CheckWritePermissions(dir),
		c.CheckFileDescriptors(),
	}

	corpusResult, checksum := c.CheckCorpus(ctx, t.CorpusPath)
	results = append(results, corpusResult)
	results = append(results, c.CheckDenseIndex(t.IndexDir, t.Collection, checksum, t.Embedder))

	if t.Embedder != nil {
		results = append(results, c.CheckEmbedder(ctx, t.Embedder))
	}
	if t.Reranker != nil {
		results = append(results, c.CheckReranker(ctx, t.Reranker))
	}
	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns "ready", "ready_with_warnings" or "failed".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	var warned bool
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			warned = true
		}
	}
	if warned {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults writes the results and a summary.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "mealrag doctor")
	_, _ = fmt.Fprintln(c.output, "==============")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "       %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var errs, warnings []string
	for _, r := range results {
		switch {
		case r.IsCritical():
			errs = append(errs, r.Name+": "+r.Message)
		case r.Status != StatusPass:
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}
	c.printList("error(s)", errs)
	c.printList("warning(s)", warnings)
}

func (c *Checker) printList(label string, items []string) {
	if len(items) == 0 {
		return
	}
	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "%d %s:\n", len(items), label)
	for _, item := range items {
		_, _ = fmt.Fprintf(c.output, "  - %s\n", item)
	}
}

// CheckWritePermissions checks that files can be created in path.
func (c *Checker) CheckWritePermissions(path string) CheckResult {
	result := CheckResult{Name: "write_permissions", Required: true}

	f, err := os.CreateTemp(path, ".mealrag-preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	result.Status = StatusPass
	result.Message = path
	return result
}

// existingAncestor returns the nearest existing directory at or above path.
func existingAncestor(path string) string {
	if path == "" {
		path = "."
	}
	path = filepath.Clean(path)
	for {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
