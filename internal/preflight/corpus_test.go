package preflight

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrimind/mealrag/internal/embed"
	"github.com/nutrimind/mealrag/internal/index"
)

func TestChecker_CheckCorpus(t *testing.T) {
	t.Run("loads", func(t *testing.T) {
		path := writeCorpus(t, t.TempDir())

		result, checksum := New().CheckCorpus(context.Background(), path)

		assert.Equal(t, StatusPass, result.Status)
		assert.Equal(t, "2 meals", result.Message)
		assert.Equal(t, testCorpus().Checksum(), checksum)
	})

	t.Run("missing file", func(t *testing.T) {
		result, checksum := New().CheckCorpus(context.Background(), filepath.Join(t.TempDir(), "nope.json"))

		assert.True(t, result.IsCritical())
		assert.Empty(t, checksum)
	})
}

func TestChecker_CheckDenseIndex(t *testing.T) {
	// Given: a collection built from the test corpus
	dir := t.TempDir()
	e := embed.NewStaticEmbedder(16)
	d, err := index.BuildOrLoadDense(context.Background(), testCorpus(), e, index.DenseOptions{Dir: dir, Collection: "meals"})
	require.NoError(t, err)
	require.NoError(t, d.Close())
	checksum := testCorpus().Checksum()

	tests := []struct {
		name       string
		collection string
		checksum   string
		embedder   embed.Embedder
		want       CheckStatus
		message    string
	}{
		{"fresh", "meals", checksum, e, StatusPass, "2 vectors"},
		{"unknown checksum", "meals", "", nil, StatusPass, "2 vectors"},
		{"stale corpus", "meals", "different", e, StatusWarn, "stale"},
		{"other embedder", "meals", checksum, embed.NewStaticEmbedder(8), StatusWarn, "built with static"},
		{"missing", "lunch", checksum, e, StatusWarn, `"lunch" not built yet`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When: inspecting the collection
			result := New().CheckDenseIndex(dir, tt.collection, tt.checksum, tt.embedder)

			// Then: the state is reported but never critical
			assert.Equal(t, tt.want, result.Status)
			assert.Contains(t, result.Message, tt.message)
			assert.False(t, result.IsCritical())
		})
	}
}
