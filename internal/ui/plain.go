package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per progress update.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	stage  Stage
	errors []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, stage: StageLoading}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(_ context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stage = event.Stage

	switch {
	case event.Total > 0 && event.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, event.Message)
	case event.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d\n", event.Stage.Icon(), event.Current, event.Total)
	case event.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), event.Message)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	verb := "indexed"
	if stats.Reused {
		verb = "loaded"
	}
	_, _ = fmt.Fprintf(r.out, "Complete: %d meals %s into %q in %s",
		stats.Records, verb, stats.Collection, stats.Duration.Round(100*time.Millisecond))
	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Stages.Load > 0 || stats.Stages.Embed > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "Stage Breakdown:")
		_, _ = fmt.Fprintf(r.out, "  Load:    %s\n", stats.Stages.Load.Round(time.Millisecond))
		_, _ = fmt.Fprintf(r.out, "  Sparse:  %s\n", stats.Stages.Sparse.Round(time.Millisecond))
		if stats.Stages.Embed > 0 && stats.Records > 0 && !stats.Reused {
			perSec := float64(stats.Records) / stats.Stages.Embed.Seconds()
			_, _ = fmt.Fprintf(r.out, "  Embed:   %s (%d meals @ %.1f/sec)\n",
				stats.Stages.Embed.Round(time.Millisecond), stats.Records, perSec)
		} else {
			_, _ = fmt.Fprintf(r.out, "  Embed:   %s\n", stats.Stages.Embed.Round(time.Millisecond))
		}
		if stats.Stages.Persist > 0 {
			_, _ = fmt.Fprintf(r.out, "  Persist: %s\n", stats.Stages.Persist.Round(time.Millisecond))
		}
	}

	if stats.Embedder.Provider != "" {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%s, %d dims)\n",
			stats.Embedder.Provider, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

var _ Renderer = (*PlainRenderer)(nil)
