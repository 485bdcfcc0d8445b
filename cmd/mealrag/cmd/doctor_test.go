package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrimind/mealrag/internal/preflight"
)

type jsonCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Required bool   `json:"required"`
}

func doctorChecks(t *testing.T, stdout string) map[string]jsonCheck {
	t.Helper()
	var out struct {
		Status string      `json:"status"`
		Checks []jsonCheck `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.NotEmpty(t, out.Status)

	checks := make(map[string]jsonCheck, len(out.Checks))
	for _, c := range out.Checks {
		checks[c.Name] = c
	}
	return checks
}

func TestDoctorCmd_ReportsCorpusAndIndex(t *testing.T) {
	// Given: a project whose collection has not been built
	dir := setupProject(t)

	// When: running the checks with the static embedder
	stdout, _, _ := run(t, "--dir", dir, "doctor", "--json")

	// Then: the corpus passes, the index warns and both services are probed
	checks := doctorChecks(t, stdout)
	assert.Equal(t, preflight.StatusPass.String(), checks["corpus"].Status)
	assert.Equal(t, preflight.StatusWarn.String(), checks["dense_index"].Status)
	assert.Equal(t, preflight.StatusWarn.String(), checks["embedder"].Status)
	assert.Equal(t, preflight.StatusPass.String(), checks["reranker"].Status)
}

func TestDoctorCmd_Offline(t *testing.T) {
	dir := setupProject(t)

	stdout, _, _ := run(t, "--dir", dir, "doctor", "--json", "--offline")

	checks := doctorChecks(t, stdout)
	assert.NotContains(t, checks, "embedder")
	assert.NotContains(t, checks, "reranker")
}

func TestDoctorCmd_MissingCorpusFails(t *testing.T) {
	// Given: a config pointing at a missing corpus
	dir := setupProject(t)
	t.Setenv("MEALRAG_CORPUS", "nope.json")

	// When: running the checks
	stdout, _, err := run(t, "--dir", dir, "doctor", "--offline")

	// Then: the command fails and names the check
	require.Error(t, err)
	assert.Contains(t, stdout, "corpus")
	assert.Contains(t, stdout, "FAILED")
}
