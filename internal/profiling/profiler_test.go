package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func busyWork() int {
	sum := 0
	for i := range 1_000_000 {
		sum += i % 7
	}
	return sum
}

func requireNonEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestOptions_Enabled(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	assert.True(t, Options{Heap: "heap.prof"}.Enabled())
}

func TestStart_WritesEveryProfile(t *testing.T) {
	// Given: every profile requested
	dir := t.TempDir()
	opts := Options{
		CPU:    filepath.Join(dir, "cpu.prof"),
		Heap:   filepath.Join(dir, "heap.prof"),
		Allocs: filepath.Join(dir, "allocs.prof"),
		Trace:  filepath.Join(dir, "trace.out"),
	}

	// When: profiling some work
	stop, err := Start(opts)
	require.NoError(t, err)
	_ = busyWork()
	require.NoError(t, stop())

	// Then: each file has content
	for _, p := range []string{opts.CPU, opts.Heap, opts.Allocs, opts.Trace} {
		requireNonEmpty(t, p)
	}
}

func TestStart_BadPath(t *testing.T) {
	_, err := Start(Options{CPU: filepath.Join(t.TempDir(), "missing", "cpu.prof")})

	assert.Error(t, err)
}

func TestStart_TraceFailureStopsCPU(t *testing.T) {
	// Given: a valid CPU path and an invalid trace path
	dir := t.TempDir()

	// When: starting
	_, err := Start(Options{CPU: filepath.Join(dir, "cpu.prof"), Trace: filepath.Join(dir, "no", "trace.out")})
	require.Error(t, err)

	// Then: CPU profiling was stopped and can start again
	stop, err := Start(Options{CPU: filepath.Join(dir, "cpu2.prof")})
	require.NoError(t, err)
	require.NoError(t, stop())
}

func TestProfiler_WriteHeap_BadPath(t *testing.T) {
	err := NewProfiler().WriteHeap(filepath.Join(t.TempDir(), "missing", "heap.prof"))

	assert.Error(t, err)
}
