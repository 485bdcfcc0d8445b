package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// ConsoleTimeFormat is the timestamp layout of console lines.
const ConsoleTimeFormat = "2006-01-02 15:04:05"

// ConsoleHandler writes human-readable, level-colored log lines.
// Colors are dropped automatically when the writer is not a terminal.
type ConsoleHandler struct {
	opts   slog.HandlerOptions
	styles map[slog.Level]lipgloss.Style
	attrs  []slog.Attr
	group  string

	mu  *sync.Mutex
	out io.Writer
}

// NewConsoleHandler creates a ConsoleHandler writing to w.
func NewConsoleHandler(w io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	h := &ConsoleHandler{out: w, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}

	r := lipgloss.NewRenderer(w)
	h.styles = map[slog.Level]lipgloss.Style{
		slog.LevelDebug: r.NewStyle().Foreground(lipgloss.Color("6")),
		slog.LevelInfo:  r.NewStyle().Foreground(lipgloss.Color("2")),
		slog.LevelWarn:  r.NewStyle().Foreground(lipgloss.Color("3")),
		slog.LevelError: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
	return h
}

// Enabled implements slog.Handler.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle implements slog.Handler.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	name := levelName(r.Level)
	// Pad after the colon so messages line up across levels.
	pad := strings.Repeat(" ", 9-len(name))

	var sb strings.Builder
	sb.WriteString(h.styleFor(r.Level).Render(name))
	sb.WriteString(":")
	sb.WriteString(pad)
	if !r.Time.IsZero() {
		sb.WriteString("[")
		sb.WriteString(r.Time.Format(ConsoleTimeFormat))
		sb.WriteString("] ")
	}
	sb.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&sb, h.group, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&sb, h.group, a)
		return true
	})
	sb.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

// WithAttrs implements slog.Handler.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

// WithGroup implements slog.Handler.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if h.group != "" {
		clone.group = h.group + "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func (h *ConsoleHandler) styleFor(level slog.Level) lipgloss.Style {
	switch {
	case level >= slog.LevelError:
		return h.styles[slog.LevelError]
	case level >= slog.LevelWarn:
		return h.styles[slog.LevelWarn]
	case level >= slog.LevelInfo:
		return h.styles[slog.LevelInfo]
	default:
		return h.styles[slog.LevelDebug]
	}
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARNING"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func writeAttr(sb *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(sb, key, ga)
		}
		return
	}
	fmt.Fprintf(sb, " %s=%v", key, a.Value.Any())
}
