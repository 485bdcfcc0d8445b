package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, cfg VectorStoreConfig) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHNSWStore_AddAndSearch(t *testing.T) {
	// Given: vectors 0=[1,0,0,0], 1=[0,1,0,0], 2=[0.9,0.1,0,0]
	s := newTestStore(t, DefaultVectorStoreConfig(4))
	err := s.Add(context.Background(), []uint64{0, 1, 2}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	})
	require.NoError(t, err)

	// When: searching for [1,0,0,0] with k=2
	results, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)

	// Then: the exact match comes first, then the near match
	require.Len(t, results, 2)
	assert.Equal(t, uint64(0), results[0].ID)
	assert.Equal(t, uint64(2), results[1].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestHNSWStore_TiesBreakByLowestID(t *testing.T) {
	s := newTestStore(t, DefaultVectorStoreConfig(2))
	require.NoError(t, s.Add(context.Background(), []uint64{5, 2, 9}, [][]float32{
		{1, 1}, {1, 1}, {-1, 0},
	}))

	results, err := s.Search(context.Background(), []float32{1, 1}, 3)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, []uint64{2, 5, 9}, []uint64{results[0].ID, results[1].ID, results[2].ID})
}

func TestHNSWStore_KClamp(t *testing.T) {
	s := newTestStore(t, DefaultVectorStoreConfig(2))
	require.NoError(t, s.Add(context.Background(), []uint64{0, 1}, [][]float32{{1, 0}, {0, 1}}))

	results, err := s.Search(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = s.Search(context.Background(), []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWStore_EmptyStore(t *testing.T) {
	s := newTestStore(t, DefaultVectorStoreConfig(3))

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 3)

	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, s.Count())
}

func TestHNSWStore_ZeroQueryVector(t *testing.T) {
	s := newTestStore(t, DefaultVectorStoreConfig(2))
	require.NoError(t, s.Add(context.Background(), []uint64{0, 1}, [][]float32{{1, 0}, {0, 1}}))

	results, err := s.Search(context.Background(), []float32{0, 0}, 2)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint64(0), results[0].ID)
	assert.Equal(t, float32(0), results[0].Score)
}

func TestHNSWStore_GraphSearchAboveThreshold(t *testing.T) {
	// Given: a threshold below the collection size so the graph is walked
	cfg := DefaultVectorStoreConfig(4)
	cfg.ExactThreshold = 1
	s := newTestStore(t, cfg)
	require.NoError(t, s.Add(context.Background(), []uint64{0, 1, 2, 3}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}))

	// When: searching near the third vector
	results, err := s.Search(context.Background(), []float32{0, 0.1, 1, 0}, 1)

	// Then: the graph finds it
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(2), results[0].ID)
}

func TestHNSWStore_Errors(t *testing.T) {
	s := newTestStore(t, DefaultVectorStoreConfig(3))

	err := s.Add(context.Background(), []uint64{0}, [][]float32{{1, 0}})
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	err = s.Add(context.Background(), []uint64{0, 1}, [][]float32{{1, 0, 0}})
	assert.Error(t, err)

	require.NoError(t, s.Add(context.Background(), []uint64{0}, [][]float32{{1, 0, 0}}))
	err = s.Add(context.Background(), []uint64{0}, [][]float32{{0, 1, 0}})
	assert.Error(t, err, "duplicate id")

	_, err = s.Search(context.Background(), []float32{1}, 1)
	assert.ErrorAs(t, err, &dimErr)

	_, err = NewHNSWStore(VectorStoreConfig{})
	assert.Error(t, err)
}

func TestHNSWStore_SaveLoad(t *testing.T) {
	// Given: a saved store
	path := filepath.Join(t.TempDir(), "collection", "vectors.hnsw")
	s := newTestStore(t, DefaultVectorStoreConfig(3))
	require.NoError(t, s.Add(context.Background(), []uint64{0, 1, 2}, [][]float32{
		{1, 0, 0}, {0, 1, 0}, {0, 0, 1},
	}))
	require.NoError(t, s.Save(path))

	// When: loading into a fresh store
	loaded := newTestStore(t, DefaultVectorStoreConfig(3))
	require.NoError(t, loaded.Load(path))

	// Then: contents and rankings survive
	assert.Equal(t, 3, loaded.Count())
	results, err := loaded.Search(context.Background(), []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].ID)

	// And: loading with another dimension fails
	other := newTestStore(t, DefaultVectorStoreConfig(8))
	var dimErr ErrDimensionMismatch
	assert.ErrorAs(t, other.Load(path), &dimErr)
}

func TestHNSWStore_LoadMissing(t *testing.T) {
	s := newTestStore(t, DefaultVectorStoreConfig(3))

	err := s.Load(filepath.Join(t.TempDir(), "missing.hnsw"))

	assert.Error(t, err)
}

func TestHNSWStore_Closed(t *testing.T) {
	s, err := NewHNSWStore(DefaultVectorStoreConfig(2))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Search(context.Background(), []float32{1, 0}, 1)
	assert.Error(t, err)
	assert.Equal(t, 0, s.Count())
}
