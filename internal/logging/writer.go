package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter is an io.Writer that rolls its file over once it would
// exceed a size limit. The active file keeps its name; older generations
// become name.1 (newest) through name.N (oldest). Generations past N are
// removed.
type RotatingWriter struct {
	mu    sync.Mutex
	path  string
	limit int64
	keep  int
	file  *os.File
	size  int64
}

// NewRotatingWriter opens path for appending, creating its directory.
// Files roll over at maxSizeMB and maxFiles old generations are kept.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	w := &RotatingWriter{
		path:  path,
		limit: int64(maxSizeMB) << 20,
		keep:  max(maxFiles, 1),
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends p, rolling over first when p would push a non-empty file
// past the limit. A failed roll-over is reported on stderr and writing
// continues in the current file.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.rollOver(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "mealrag: log rotation failed: %v\n", err)
		}
	}
	if w.file == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Sync flushes the active file.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the active file. A later Write reopens it.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file, w.size = f, info.Size()
	return nil
}

func (w *RotatingWriter) generation(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

// rollOver shifts every generation up by one, dropping the oldest, and
// reopens an empty active file. mu must be held.
func (w *RotatingWriter) rollOver() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		w.file = nil
	}

	if err := os.Remove(w.generation(w.keep)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to drop oldest log: %w", err)
	}
	for n := w.keep - 1; n >= 1; n-- {
		if err := os.Rename(w.generation(n), w.generation(n+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to shift log %d: %w", n, err)
		}
	}
	if err := os.Rename(w.path, w.generation(1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	return w.open()
}
