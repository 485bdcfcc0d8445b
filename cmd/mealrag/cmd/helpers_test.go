package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testMeals = `{
  "texts": [
    "Grilled chicken breast with brown rice",
    "Meatless chicken nuggets made from soy protein",
    "Red lentil soup with cumin and carrots",
    "Baked salmon with spinach salad",
    "Oatmeal porridge with blueberries and honey"
  ],
  "metadatas": [
    {"calories": 520, "protein": 45, "sodium": 380},
    {"calories": 310, "protein": 22, "fiber": 4},
    {"calories": 260, "protein": 18, "fiber": 11},
    {"calories": 450, "protein": 38, "vitamin_d": 12},
    {"calories": 280, "protein": 8, "sugars": 19}
  ]
}`

const testConfig = `corpus:
  path: meals.json
index:
  dir: rag_db
  collection: test_meals
embeddings:
  provider: static
reranker:
  provider: lexical
`

// setupProject creates an isolated project directory with a small corpus
// and a config using static embeddings. HOME and XDG_CONFIG_HOME point into
// the test's temp dir so logs, telemetry and markers stay there.
func setupProject(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	for _, env := range []string{"MEALRAG_CORPUS", "MEALRAG_EMBEDDER", "MEALRAG_RERANKER", "MEALRAG_TELEMETRY", "MEALRAG_INDEX_DIR"} {
		t.Setenv(env, "")
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meals.json"), []byte(testMeals), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mealrag.yaml"), []byte(testConfig), 0o644))
	return dir
}

// run executes the root command with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := NewRootCmd()
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
