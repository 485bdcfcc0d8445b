package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrimind/mealrag/pkg/version"
)

func TestRootCmd_ShowsHelp(t *testing.T) {
	// Given: an isolated home
	setupProject(t)

	// When: executing with --help
	stdout, _, err := run(t, "--help")

	// Then: every subcommand is listed
	require.NoError(t, err)
	for _, sub := range []string{"search", "index", "corpus", "meals", "eval", "doctor", "stats", "config", "version"} {
		assert.Contains(t, stdout, sub)
	}
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	setupProject(t)

	_, _, err := run(t, "cook")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRootCmd_ProfilesWritten(t *testing.T) {
	// Given: a project and a profile destination
	dir := setupProject(t)
	heap := t.TempDir() + "/heap.pprof"

	// When: running a command with --profile-mem
	_, _, err := run(t, "--dir", dir, "--profile-mem", heap, "corpus", "info")

	// Then: the heap profile exists
	require.NoError(t, err)
	assert.FileExists(t, heap)
}

func TestVersionCmd_Outputs(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, out string)
	}{
		{
			name: "default",
			args: nil,
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "mealrag")
				assert.Contains(t, out, version.Version)
				assert.Contains(t, out, "commit")
			},
		},
		{
			name: "short",
			args: []string{"--short"},
			check: func(t *testing.T, out string) {
				assert.Equal(t, version.Version, strings.TrimSpace(out))
			},
		},
		{
			name: "json",
			args: []string{"--json"},
			check: func(t *testing.T, out string) {
				var info version.BuildInfo
				require.NoError(t, json.Unmarshal([]byte(out), &info))
				assert.Equal(t, version.Version, info.Version)
				assert.NotEmpty(t, info.GoVersion)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a version command
			cmd := newVersionCmd()
			buf := &bytes.Buffer{}
			cmd.SetOut(buf)
			cmd.SetArgs(tt.args)

			// When: executing
			err := cmd.Execute()

			// Then: the output has the requested shape
			require.NoError(t, err)
			tt.check(t, buf.String())
		})
	}
}
