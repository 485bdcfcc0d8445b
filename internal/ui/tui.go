package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// errNotTTY is returned when the TUI is requested for a non-terminal writer.
var errNotTTY = errors.New("output is not a TTY")

// TUIRenderer draws build progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *buildModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails for non-TTY output.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errNotTTY
	}

	tracker := NewProgressTracker()
	model := newBuildModel(tracker, cfg.Title)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	opts := []tea.ProgramOption{tea.WithContext(runCtx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()

	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Apply(event)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(progressMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.SetStage(StageComplete, 0)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program == nil {
		return nil
	}

	r.program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		// An unresponsive program must not hang shutdown.
	}
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

type progressMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type tickMsg time.Time

// pipeline is the stage strip shown in the header.
var pipeline = []Stage{StageLoading, StageSparse, StageEmbedding, StagePersisting}

// buildModel is the bubbletea model for an index build.
type buildModel struct {
	tracker  *ProgressTracker
	title    string
	width    int
	quitting bool
	complete bool
	stats    CompletionStats
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
}

func newBuildModel(tracker *ProgressTracker, title string) *buildModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	return &buildModel{
		tracker: tracker,
		title:   title,
		width:   80,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(50),
			progress.WithoutPercentage(),
		),
		styles: DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m *buildModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *buildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-24, 20)
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	// progressMsg and errorMsg only trigger a redraw; the tracker holds state.
	return m, nil
}

// View implements tea.Model.
func (m *buildModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.viewComplete()
	}

	width := max(m.width-4, 40)
	stats := m.tracker.Stats()

	sections := []string{
		m.viewStages(stats.Stage),
		m.styles.Border.Render(strings.Repeat("─", width)),
		m.viewProgress(stats),
	}
	if stats.Message != "" {
		sections = append(sections, m.styles.Dim.Render(truncate(stats.Message, width-2)))
	}

	title := "mealrag index"
	if m.title != "" {
		title += " • " + m.title
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(strings.Join(sections, "\n")),
		m.viewStatusBar(stats),
	)
}

func (m *buildModel) viewStages(current Stage) string {
	parts := make([]string, 0, len(pipeline))
	for _, s := range pipeline {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *buildModel) viewProgress(stats ProgressStats) string {
	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), stats.Stage)
	}

	line := fmt.Sprintf("%s  %s", m.bar.ViewAs(stats.Progress),
		m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100)))

	detail := fmt.Sprintf("%d / %d meals", stats.Current, stats.Total)
	if stats.Rate > 0 {
		detail += fmt.Sprintf("  •  %.0f/s", stats.Rate)
	}
	if stats.ETA > 0 {
		detail += "  •  ETA " + formatDuration(stats.ETA)
	}
	return line + "\n" + m.styles.Label.Render(detail)
}

func (m *buildModel) viewStatusBar(stats ProgressStats) string {
	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	parts = append(parts, m.styles.Dim.Render("q to quit"))
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *buildModel) viewComplete() string {
	header := "✓ Index built"
	if m.stats.Reused {
		header = "✓ Index loaded"
	}

	lines := []string{
		m.styles.Success.Render(header),
		"",
		m.styles.Label.Render("Collection: ") + m.styles.Active.Render(m.stats.Collection),
		m.styles.Label.Render("Meals:      ") + m.styles.Active.Render(fmt.Sprintf("%d", m.stats.Records)),
		m.styles.Label.Render("Duration:   ") + m.styles.Active.Render(formatDuration(m.stats.Duration)),
	}
	if m.stats.Embedder.Model != "" {
		lines = append(lines, m.styles.Label.Render("Embedder:   ")+
			fmt.Sprintf("%s (%d dims)", m.stats.Embedder.Model, m.stats.Embedder.Dimensions))
	}
	if m.stats.Errors > 0 {
		lines = append(lines, "", m.styles.Error.Render(fmt.Sprintf("✗ %d errors", m.stats.Errors)))
	}
	if m.stats.Warnings > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", m.stats.Warnings)))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(1, 2).
		Width(max(m.width-4, 40)).
		Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders d as 12s, 3m 4s or 1h 2m.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return "..."
	}
	return string(r[:n-3]) + "..."
}

var _ Renderer = (*TUIRenderer)(nil)
