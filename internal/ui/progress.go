package ui

import (
	"sync"
	"time"
)

// etaSmoothingFactor weights a new ETA sample against the previous one.
const etaSmoothingFactor = 0.3

// ProgressTracker holds progress state across stages.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu         sync.RWMutex
	stage      Stage
	current    int
	total      int
	message    string
	startTime  time.Time
	stageStart time.Time
	lastETA    time.Duration
	errors     []ErrorEvent
	warnings   []ErrorEvent
}

// ProgressStats is a snapshot of the tracker.
type ProgressStats struct {
	Stage      Stage
	Current    int
	Total      int
	Progress   float64
	ETA        time.Duration
	Rate       float64 // items per second in the current stage
	Message    string
	ErrorCount int
	WarnCount  int
}

// NewProgressTracker creates a tracker positioned at StageLoading.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:      StageLoading,
		startTime:  now,
		stageStart: now,
	}
}

// SetStage moves to stage and resets the per-stage counters.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.total = total
	p.current = 0
	p.message = ""
	p.stageStart = time.Now()
	p.lastETA = 0
}

// Update records progress within the current stage.
func (p *ProgressTracker) Update(current int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if message != "" {
		p.message = message
	}
}

// Apply folds an event into the tracker, switching stage when it changes.
func (p *ProgressTracker) Apply(event ProgressEvent) {
	p.mu.Lock()
	if event.Stage != p.stage {
		p.stage = event.Stage
		p.stageStart = time.Now()
		p.lastETA = 0
		p.message = ""
	}
	p.total = event.Total
	p.mu.Unlock()

	p.Update(event.Current, event.Message)
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Progress returns the current stage's completion in [0, 1].
func (p *ProgressTracker) Progress() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.progressLocked()
}

// Elapsed returns time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.startTime)
}

// Stats returns a snapshot. It takes the write lock because ETA smoothing
// updates lastETA.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var rate float64
	if elapsed := time.Since(p.stageStart).Seconds(); elapsed > 0 && p.current > 0 {
		rate = float64(p.current) / elapsed
	}

	return ProgressStats{
		Stage:      p.stage,
		Current:    p.current,
		Total:      p.total,
		Progress:   p.progressLocked(),
		ETA:        p.etaLocked(),
		Rate:       rate,
		Message:    p.message,
		ErrorCount: len(p.errors),
		WarnCount:  len(p.warnings),
	}
}

// Errors returns a copy of the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.errors...)
}

// Warnings returns a copy of the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.warnings...)
}

func (p *ProgressTracker) progressLocked() float64 {
	if p.total <= 0 {
		return 0
	}
	return min(float64(p.current)/float64(p.total), 1.0)
}

// etaLocked must be called with the write lock held.
func (p *ProgressTracker) etaLocked() time.Duration {
	progress := p.progressLocked()
	if progress <= 0 || progress >= 1.0 {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	remaining := time.Duration(float64(elapsed)/progress) - elapsed
	if remaining < 0 {
		return 0
	}

	if p.lastETA == 0 {
		p.lastETA = remaining
		return remaining
	}

	smoothed := time.Duration(etaSmoothingFactor*float64(remaining) + (1-etaSmoothingFactor)*float64(p.lastETA))
	p.lastETA = smoothed
	return smoothed
}
