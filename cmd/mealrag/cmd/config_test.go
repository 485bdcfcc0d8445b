package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrimind/mealrag/internal/config"
)

func TestConfigInit_User(t *testing.T) {
	// Given: no user config
	setupProject(t)
	path := config.GetUserConfigPath()
	require.NoFileExists(t, path)

	// When: initialising
	stdout, _, err := run(t, "config", "init")

	// Then: the defaults are written and load back
	require.NoError(t, err)
	assert.Contains(t, stdout, "Created configuration")
	require.FileExists(t, path)

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, config.NewConfig().Index.Collection, cfg.Index.Collection)
}

func TestConfigInit_ExistingFile(t *testing.T) {
	// Given: a project config
	dir := setupProject(t)
	path := filepath.Join(dir, config.ProjectConfigYAML)

	// When: initialising without --force
	stdout, _, err := run(t, "--dir", dir, "config", "init", "--project")

	// Then: the file is kept
	require.NoError(t, err)
	assert.Contains(t, stdout, "already exists")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testConfig, string(data))

	// And: --force replaces it after taking a backup
	stdout, _, err = run(t, "--dir", dir, "config", "init", "--project", "--force")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Backup:")

	backups, err := config.ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	backup, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, testConfig, string(backup))
}

func TestConfigShow(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		collection string
	}{
		{"merged", nil, "test_meals"},
		{"defaults", []string{"--defaults"}, config.NewConfig().Index.Collection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupProject(t)

			args := append([]string{"--dir", dir, "config", "show", "--json"}, tt.args...)
			stdout, _, err := run(t, args...)

			require.NoError(t, err)
			var cfg config.Config
			require.NoError(t, json.Unmarshal([]byte(stdout), &cfg))
			assert.Equal(t, tt.collection, cfg.Index.Collection)
		})
	}
}

func TestConfigShow_InvalidConfig(t *testing.T) {
	dir := setupProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ProjectConfigYAML), []byte("search:\n  bm25_weight: 0.9\n"), 0o644))

	_, _, err := run(t, "--dir", dir, "config", "show")

	require.Error(t, err)
}
