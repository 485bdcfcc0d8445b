// Package output writes CLI results: status lines, formatted meals, JSON
// and the stage-by-stage explanation of a query.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nutrimind/mealrag/internal/search"
)

// Writer provides formatted output for the CLI.
type Writer struct {
	out io.Writer
}

// New creates a new output Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a message with an icon. Write errors are ignored for
// console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Code prints an indented block between blank lines.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Results prints formatted meals as a numbered list.
func (w *Writer) Results(results []string) {
	if len(results) == 0 {
		w.Status("", "No matching meals.")
		return
	}
	for i, r := range results {
		_, _ = fmt.Fprintf(w.out, "%d. %s\n", i+1, r)
	}
}

// JSON prints v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// SearchResponse is the JSON shape of `mealrag search --json`.
type SearchResponse struct {
	ID      string   `json:"id,omitempty"`
	Query   string   `json:"query"`
	Results []string `json:"results"`
}

// Explain prints every stage of a traced query: both retriever lists, the
// fused union, the reranked order and the final strings.
func (w *Writer) Explain(t *search.Trace) {
	_, _ = fmt.Fprintf(w.out, "Query: %q (intermediate=%d, final=%d, reranker=%s)\n",
		t.Query, t.Intermediate, t.Final, t.Reranker)
	_, _ = fmt.Fprintf(w.out, "Weights: bm25=%s semantic=%s c=%s\n",
		num(t.Weights.BM25), num(t.Weights.Semantic), num(t.Weights.RRFConstant))

	w.section("BM25", len(t.Sparse))
	for _, h := range t.Sparse {
		_, _ = fmt.Fprintf(w.out, "  %2d. [%d] %.4f  %s\n", h.Rank, h.Record.SourceIndex, h.Score, h.Record.Text)
	}

	w.section("Semantic", len(t.Dense))
	for _, h := range t.Dense {
		_, _ = fmt.Fprintf(w.out, "  %2d. [%d] %.4f  %s\n", h.Rank, h.Record.SourceIndex, h.Similarity, h.Record.Text)
	}

	w.section("Fused", len(t.Fused))
	for i, c := range t.Fused {
		_, _ = fmt.Fprintf(w.out, "  %2d. [%d] %.4f  (bm25 #%s, semantic #%s)  %s\n",
			i+1, c.Record.SourceIndex, c.Score, rank(c.SparseRank), rank(c.DenseRank), c.Record.Text)
	}

	w.section("Reranked", len(t.Ranked))
	for i, c := range t.Ranked {
		_, _ = fmt.Fprintf(w.out, "  %2d. [%d] %.4f  (was #%d)  %s\n",
			i+1, c.Record.SourceIndex, c.RerankScore, c.FusedRank, c.Record.Text)
	}

	w.section("Results", len(t.Output))
	w.Results(t.Output)

	_, _ = fmt.Fprintf(w.out, "\nTimings: retrieve=%s fuse=%s rerank=%s format=%s total=%s\n",
		t.Timings.Retrieve, t.Timings.Fuse, t.Timings.Rerank, t.Timings.Format, t.Timings.Total)
}

func (w *Writer) section(name string, n int) {
	_, _ = fmt.Fprintf(w.out, "\n%s (%d)\n", name, n)
}

func rank(r int) string {
	if r == 0 {
		return "-"
	}
	return strconv.Itoa(r)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
