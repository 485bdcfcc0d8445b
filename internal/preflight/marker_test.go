package preflight

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarker_Lifecycle(t *testing.T) {
	// Given: a data directory that does not exist yet
	dataDir := filepath.Join(t.TempDir(), "home", ".mealrag")
	assert.True(t, NeedsCheck(dataDir))
	assert.Zero(t, MarkerAge(dataDir))

	// When: the checks pass
	require.NoError(t, MarkPassed(dataDir))

	// Then: the marker is a fresh RFC3339 timestamp
	assert.False(t, NeedsCheck(dataDir))
	assert.Less(t, MarkerAge(dataDir), time.Second)
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339, string(content))
	assert.NoError(t, err)

	// When: the marker is cleared twice
	require.NoError(t, ClearMarker(dataDir))
	require.NoError(t, ClearMarker(dataDir))

	// Then: a check is needed again
	assert.True(t, NeedsCheck(dataDir))
}

func TestMarkerAge_Garbage(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, MarkerFile), []byte("yesterday"), 0o644))

	assert.Zero(t, MarkerAge(dataDir))
}
