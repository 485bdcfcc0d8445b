// Package ui renders index build progress and collection status in the
// terminal: a bubbletea view for interactive terminals and plain lines for
// pipes and CI.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a step of building the retrieval indices.
type Stage int

const (
	// StageLoading reads the corpus file.
	StageLoading Stage = iota
	// StageSparse builds the lexical index.
	StageSparse
	// StageEmbedding embeds every meal text.
	StageEmbedding
	// StagePersisting writes the vector graph and manifest.
	StagePersisting
	// StageComplete indicates the build finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageLoading:
		return "Loading"
	case StageSparse:
		return "Sparse"
	case StageEmbedding:
		return "Embedding"
	case StagePersisting:
		return "Persisting"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageLoading:
		return "LOAD"
	case StageSparse:
		return "BM25"
	case StageEmbedding:
		return "EMBED"
	case StagePersisting:
		return "SAVE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is a progress update within a stage.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	Message string
}

// ErrorEvent is a problem reported during the build.
type ErrorEvent struct {
	Err    error
	IsWarn bool
}

// StageTimings tracks duration for each build stage.
type StageTimings struct {
	Load    time.Duration
	Sparse  time.Duration
	Embed   time.Duration
	Persist time.Duration
}

// EmbedderInfo describes the embedder used for the build.
type EmbedderInfo struct {
	Provider   string
	Model      string
	Dimensions int
}

// CompletionStats summarises a finished build.
type CompletionStats struct {
	Records    int
	Collection string
	// Reused is true when a persisted collection was loaded without embedding.
	Reused   bool
	Duration time.Duration
	Errors   int
	Warnings int
	Stages   StageTimings
	Embedder EmbedderInfo
}

// Renderer displays build progress.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error to display.
	AddError(event ErrorEvent)

	// Complete shows the build summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Title is shown in the TUI header, usually the corpus path.
	Title string
}

// ConfigOption modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithTitle sets the header title.
func WithTitle(title string) ConfigOption {
	return func(c *Config) {
		c.Title = title
	}
}

// NewConfig creates a Config for output with options applied.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns a TUI renderer for interactive terminals and a plain
// renderer for CI, pipes, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
