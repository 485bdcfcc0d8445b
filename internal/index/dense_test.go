package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrimind/mealrag/internal/corpus"
	"github.com/nutrimind/mealrag/internal/embed"
	merrors "github.com/nutrimind/mealrag/internal/errors"
)

func TestBuildOrLoadDense_BuildsThenReuses(t *testing.T) {
	// Given: an empty index directory
	ctx := context.Background()
	dir := t.TempDir()
	c := mealCorpus()
	e := newCountingEmbedder(32)

	// When: the index is built for the first time
	first, err := BuildOrLoadDense(ctx, c, e, DenseOptions{Dir: dir, BatchSize: 2})
	require.NoError(t, err)

	// Then: every record is embedded and the manifest describes the build
	assert.True(t, first.Built())
	assert.Equal(t, c.Len(), e.embedded())
	m := first.Manifest()
	assert.Equal(t, "counting", m.Model)
	assert.Equal(t, 32, m.Dimensions)
	assert.Equal(t, c.Checksum(), m.CorpusChecksum)
	assert.Equal(t, c.Len(), m.Count)
	require.NoError(t, first.Close())

	// When: the index is opened again
	second, err := BuildOrLoadDense(ctx, c, e, DenseOptions{Dir: dir})
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	// Then: no record is embedded again
	assert.False(t, second.Built())
	assert.Equal(t, c.Len(), e.embedded())
	assert.Equal(t, c.Len(), second.Count())
}

func TestBuildOrLoadDense_RebuildsWhenStale(t *testing.T) {
	tests := []struct {
		name    string
		corpus  *corpus.Corpus
		embed   func() *countingEmbedder
		trust   bool
		rebuild bool
	}{
		{
			name:    "same corpus and model",
			corpus:  mealCorpus(),
			embed:   func() *countingEmbedder { return newCountingEmbedder(32) },
			rebuild: false,
		},
		{
			name: "changed corpus",
			corpus: corpus.New([]corpus.Record{
				{Text: "Beef stew"},
				{Text: "Tofu stir fry"},
			}),
			embed:   func() *countingEmbedder { return newCountingEmbedder(32) },
			rebuild: true,
		},
		{
			name: "changed corpus trusted",
			corpus: corpus.New([]corpus.Record{
				{Text: "Beef stew"},
				{Text: "Tofu stir fry"},
			}),
			embed:   func() *countingEmbedder { return newCountingEmbedder(32) },
			trust:   true,
			rebuild: false,
		},
		{
			name:   "changed model",
			corpus: mealCorpus(),
			embed: func() *countingEmbedder {
				e := newCountingEmbedder(32)
				e.model = "other-model"
				return e
			},
			rebuild: true,
		},
		{
			name:   "changed dimensions",
			corpus: mealCorpus(),
			embed: func() *countingEmbedder {
				return newCountingEmbedder(16)
			},
			trust:   true,
			rebuild: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a persisted index over the meal corpus
			ctx := context.Background()
			dir := t.TempDir()
			initial, err := BuildOrLoadDense(ctx, mealCorpus(), newCountingEmbedder(32), DenseOptions{Dir: dir})
			require.NoError(t, err)
			require.NoError(t, initial.Close())

			// When: reopening with a possibly different corpus or embedder
			e := tt.embed()
			idx, err := BuildOrLoadDense(ctx, tt.corpus, e, DenseOptions{Dir: dir, TrustExisting: tt.trust})
			require.NoError(t, err)
			defer func() { _ = idx.Close() }()

			// Then: the index is rebuilt only when it cannot serve the request
			assert.Equal(t, tt.rebuild, idx.Built())
			if tt.rebuild {
				assert.Equal(t, tt.corpus.Len(), e.embedded())
				assert.Equal(t, tt.corpus.Checksum(), idx.Manifest().CorpusChecksum)
			} else {
				assert.Zero(t, e.embedded())
			}
		})
	}
}

func TestBuildOrLoadDense_CorruptManifestRebuilds(t *testing.T) {
	// Given: a collection whose manifest is garbage
	ctx := context.Background()
	dir := t.TempDir()
	collDir := CollectionDir(dir, "")
	require.NoError(t, os.MkdirAll(collDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(collDir, ManifestFile), []byte("{not json"), 0644))

	// When: opening the collection
	e := newCountingEmbedder(16)
	idx, err := BuildOrLoadDense(ctx, mealCorpus(), e, DenseOptions{Dir: dir})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	// Then: it is rebuilt from scratch
	assert.True(t, idx.Built())
	m, err := ReadManifest(collDir)
	require.NoError(t, err)
	assert.Equal(t, "counting", m.Model)
}

func TestBuildOrLoadDense_MissingVectorsRebuilds(t *testing.T) {
	// Given: a valid manifest whose vector file disappeared
	ctx := context.Background()
	dir := t.TempDir()
	c := mealCorpus()
	idx, err := BuildOrLoadDense(ctx, c, newCountingEmbedder(16), DenseOptions{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.NoError(t, os.Remove(filepath.Join(CollectionDir(dir, ""), VectorsFile)))

	// When: opening the collection
	e := newCountingEmbedder(16)
	idx, err = BuildOrLoadDense(ctx, c, e, DenseOptions{Dir: dir})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	// Then: it is rebuilt
	assert.True(t, idx.Built())
	assert.Equal(t, c.Len(), e.embedded())
}

func TestBuildOrLoadDense_EmbedderFailure(t *testing.T) {
	// Given: an embedder that cannot reach its backend
	dir := t.TempDir()

	// When: building the index
	_, err := BuildOrLoadDense(context.Background(), mealCorpus(), failingEmbedder{}, DenseOptions{Dir: dir})

	// Then: the failure is an IndexUnavailable error and no manifest is written
	require.Error(t, err)
	assert.ErrorIs(t, err, merrors.ErrIndexUnavailable)
	assert.ErrorIs(t, err, errBackendDown)
	_, statErr := os.Stat(filepath.Join(CollectionDir(dir, ""), ManifestFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildOrLoadDense_RequiresDir(t *testing.T) {
	_, err := BuildOrLoadDense(context.Background(), mealCorpus(), newCountingEmbedder(8), DenseOptions{})
	assert.Error(t, err)
}

func TestBuildOrLoadDense_Progress(t *testing.T) {
	// Given: a progress callback
	var last, calls int
	opts := DenseOptions{
		Dir:       t.TempDir(),
		BatchSize: 2,
		Progress: func(done, total int) {
			calls++
			last = done
			assert.Equal(t, 5, total)
		},
	}

	// When: building
	idx, err := BuildOrLoadDense(context.Background(), mealCorpus(), newCountingEmbedder(8), opts)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	// Then: one call per batch, ending at the corpus size
	assert.Equal(t, 3, calls)
	assert.Equal(t, 5, last)
}

func TestBuildOrLoadDense_WaitsForLock(t *testing.T) {
	// Given: another holder of the build lock
	dir := t.TempDir()
	lock := embed.NewFileLock(lockPath(dir, DefaultCollection))
	require.NoError(t, lock.Lock())
	defer func() { _ = lock.Unlock() }()

	// When: building with a short lock timeout
	_, err := BuildOrLoadDense(context.Background(), mealCorpus(), newCountingEmbedder(8),
		DenseOptions{Dir: dir, LockTimeout: 150 * time.Millisecond})

	// Then: the build gives up without writing anything
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
	_, statErr := os.Stat(CollectionDir(dir, ""))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDenseIndex_Query(t *testing.T) {
	// Given: a dense index over the meal corpus
	ctx := context.Background()
	c := mealCorpus()
	idx, err := BuildOrLoadDense(ctx, c, embed.NewStaticEmbedder(64), DenseOptions{Dir: t.TempDir()})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	t.Run("exact text ranks first", func(t *testing.T) {
		hits, err := idx.Query(ctx, "Vegan lentil soup", 3)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, 1, hits[0].Record.SourceIndex)
		assert.InDelta(t, 1.0, hits[0].Similarity, 1e-4)
		for i := 1; i < len(hits); i++ {
			assert.Equal(t, i+1, hits[i].Rank)
			assert.GreaterOrEqual(t, hits[i-1].Similarity, hits[i].Similarity)
		}
	})

	t.Run("k is clamped to corpus size", func(t *testing.T) {
		hits, err := idx.Query(ctx, "soup", 50)
		require.NoError(t, err)
		assert.Len(t, hits, c.Len())
	})

	t.Run("non-positive k", func(t *testing.T) {
		hits, err := idx.Query(ctx, "soup", 0)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestDenseIndex_EmptyCorpus(t *testing.T) {
	// Given: a dense index over no records
	ctx := context.Background()
	idx, err := BuildOrLoadDense(ctx, corpus.New(nil), embed.NewStaticEmbedder(8), DenseOptions{Dir: t.TempDir()})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	// When: querying
	hits, err := idx.Query(ctx, "chicken", 5)

	// Then: nothing is returned
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 0, idx.Manifest().Count)
}

func TestInfoAndEvict(t *testing.T) {
	// Given: a persisted collection
	ctx := context.Background()
	dir := t.TempDir()
	idx, err := BuildOrLoadDense(ctx, mealCorpus(), newCountingEmbedder(8), DenseOptions{Dir: dir, Collection: "lunch"})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// When: inspecting it
	info, err := Info(dir, "lunch")

	// Then: the manifest and size are reported
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "lunch"), info.Path)
	assert.Equal(t, 5, info.Manifest.Count)
	assert.Positive(t, info.SizeBytes)

	// When: evicting it
	require.NoError(t, Evict(ctx, dir, "lunch"))

	// Then: it is gone, and evicting again is harmless
	_, err = Info(dir, "lunch")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NoError(t, Evict(ctx, dir, "lunch"))
}
