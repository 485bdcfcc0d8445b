package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile records that `mealrag doctor` passed in a data directory.
const MarkerFile = ".doctor-passed"

// NeedsCheck returns true when no marker exists in dataDir.
func NeedsCheck(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, MarkerFile))
	return os.IsNotExist(err)
}

// MarkPassed writes the marker with the current time.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), []byte(time.Now().Format(time.RFC3339)), 0o644)
}

// ClearMarker removes the marker. A missing marker is not an error.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the checks passed, or zero without a
// readable marker.
func MarkerAge(dataDir string) time.Duration {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return 0
	}
	t, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return 0
	}
	return time.Since(t)
}
