package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo describes the corpus and its persisted dense collection.
type StatusInfo struct {
	CorpusPath     string `json:"corpus_path"`
	CorpusRecords  int    `json:"corpus_records"`
	CorpusChecksum string `json:"corpus_checksum,omitempty"`

	Collection     string    `json:"collection"`
	CollectionPath string    `json:"collection_path"`
	Indexed        bool      `json:"indexed"`
	IndexedCount   int       `json:"indexed_count,omitempty"`
	IndexChecksum  string    `json:"index_checksum,omitempty"`
	BuiltAt        time.Time `json:"built_at,omitempty"`
	SizeBytes      int64     `json:"size_bytes"`

	SparseBackend string `json:"sparse_backend"`

	EmbedderModel      string `json:"embedder_model,omitempty"`
	EmbedderDimensions int    `json:"embedder_dimensions,omitempty"`
	EmbedderStatus     string `json:"embedder_status,omitempty"` // "ready", "offline"
	RerankerName       string `json:"reranker,omitempty"`
	RerankerStatus     string `json:"reranker_status,omitempty"`
}

// Fresh reports whether the persisted collection matches the corpus.
func (s StatusInfo) Fresh() bool {
	return s.Indexed && s.CorpusChecksum != "" && s.CorpusChecksum == s.IndexChecksum
}

// StatusRenderer prints StatusInfo.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes the human-readable status.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Collection: "+info.Collection))

	_, _ = fmt.Fprintln(r.out, "  Corpus:")
	_, _ = fmt.Fprintf(r.out, "    Path:    %s\n", info.CorpusPath)
	_, _ = fmt.Fprintf(r.out, "    Meals:   %d\n", info.CorpusRecords)
	_, _ = fmt.Fprintf(r.out, "    Sparse:  %s\n", info.SparseBackend)
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Dense index:")
	_, _ = fmt.Fprintf(r.out, "    Path:    %s\n", info.CollectionPath)
	if !info.Indexed {
		_, _ = fmt.Fprintf(r.out, "    State:   %s\n", r.renderStatus("missing"))
	} else {
		state := "fresh"
		if !info.Fresh() {
			state = "stale"
		}
		_, _ = fmt.Fprintf(r.out, "    State:   %s\n", r.renderStatus(state))
		_, _ = fmt.Fprintf(r.out, "    Vectors: %d\n", info.IndexedCount)
		if !info.BuiltAt.IsZero() {
			_, _ = fmt.Fprintf(r.out, "    Built:   %s\n", formatTime(info.BuiltAt))
		}
		_, _ = fmt.Fprintf(r.out, "    Size:    %s\n", FormatBytes(info.SizeBytes))
	}
	_, _ = fmt.Fprintln(r.out)

	if info.EmbedderModel != "" {
		_, _ = fmt.Fprintln(r.out, "  Embedder:")
		_, _ = fmt.Fprintf(r.out, "    Model:   %s (%d dims)\n", info.EmbedderModel, info.EmbedderDimensions)
		if info.EmbedderStatus != "" {
			_, _ = fmt.Fprintf(r.out, "    Status:  %s\n", r.renderStatus(info.EmbedderStatus))
		}
	}
	if info.RerankerName != "" {
		_, _ = fmt.Fprintf(r.out, "  Reranker:  %s", info.RerankerName)
		if info.RerankerStatus != "" {
			_, _ = fmt.Fprintf(r.out, " (%s)", r.renderStatus(info.RerankerStatus))
		}
		_, _ = fmt.Fprintln(r.out)
	}

	return nil
}

// RenderJSON writes the status as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "fresh":
		return r.styles.Success.Render(status)
	case "offline", "stale":
		return r.styles.Warning.Render(status)
	case "missing", "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime renders t relative to now, falling back to a date after a week.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats a byte count with binary units.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
