// Package version provides build and version information for mealrag.
package version

import (
	"fmt"
	"runtime"
)

// Build information, set via ldflags:
//
//	-X github.com/nutrimind/mealrag/pkg/version.Version=$(VERSION)
//	-X github.com/nutrimind/mealrag/pkg/version.Commit=$(git rev-parse --short HEAD)
//	-X github.com/nutrimind/mealrag/pkg/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String returns the one-line version with build details.
func String() string {
	return fmt.Sprintf("mealrag %s (commit: %s, built: %s, go: %s)",
		Version, Commit, Date, runtime.Version())
}

// Short returns just the version.
func Short() string {
	return Version
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
