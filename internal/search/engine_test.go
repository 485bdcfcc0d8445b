package search

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrimind/mealrag/internal/corpus"
	"github.com/nutrimind/mealrag/internal/embed"
	merrors "github.com/nutrimind/mealrag/internal/errors"
	"github.com/nutrimind/mealrag/internal/index"
	"github.com/nutrimind/mealrag/internal/telemetry"
)

// newRealEngine wires the in-memory BM25 index, the static embedder and the
// lexical reranker over c.
func newRealEngine(t *testing.T, c *corpus.Corpus, opts ...EngineOption) *Engine {
	t.Helper()
	ctx := context.Background()

	sparse, err := index.BuildSparse(ctx, c, index.SparseConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sparse.Close() })

	dense, err := index.BuildOrLoadDense(ctx, c, embed.NewStaticEmbedder(0), index.DenseOptions{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dense.Close() })

	e, err := NewEngine(c, sparse, dense, NewLexicalReranker(), opts...)
	require.NoError(t, err)
	return e
}

func chickenCorpus() *corpus.Corpus {
	return corpus.New([]corpus.Record{
		{Text: "Grilled chicken breast", Nutrition: corpus.Nutrition{Calories: ptr(200), Protein: ptr(40)}},
		{Text: "Meatless chicken alternative", Nutrition: corpus.Nutrition{Calories: ptr(180), Protein: ptr(20)}},
	})
}

func TestEngine_Search_MeatlessChicken(t *testing.T) {
	// Given: a grilled chicken and a meatless alternative
	e := newRealEngine(t, chickenCorpus())

	// When: asking for meatless chicken with two candidates and one answer
	results, err := e.Search(context.Background(), "meatless chicken with protein", 2, 1)

	// Then: the meatless record is the single answer
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Meatless chicken alternative - with 180 calories, 20 protein", results[0])
}

func TestEngine_Search_EmptyCorpus(t *testing.T) {
	// Given: an engine over no records
	e := newRealEngine(t, corpus.New(nil))

	// When: searching
	results, err := e.Search(context.Background(), "chicken", 5, 2)

	// Then: the explicit no-results signal is returned, not a failure
	require.Error(t, err)
	assert.Nil(t, results)
	assert.ErrorIs(t, err, merrors.ErrEmptyCandidateSet)
	assert.False(t, merrors.IsFatal(err))
}

func TestEngine_Search_NoCandidates(t *testing.T) {
	// Given: retrievers that find nothing
	c := chickenCorpus()
	e, err := NewEngine(c, stubSparse{}, stubDense{}, NewLexicalReranker())
	require.NoError(t, err)

	// When: searching
	_, err = e.Search(context.Background(), "quantum chromodynamics", 5, 2)

	// Then: the empty candidate set is reported
	assert.ErrorIs(t, err, merrors.ErrEmptyCandidateSet)
}

func TestEngine_Search_InvalidArguments(t *testing.T) {
	e := newRealEngine(t, chickenCorpus())

	tests := []struct {
		name         string
		query        string
		intermediate int
		final        int
		code         string
	}{
		{name: "blank query", query: "  ", intermediate: 2, final: 1, code: merrors.ErrCodeQueryEmpty},
		{name: "zero intermediate", query: "chicken", intermediate: 0, final: 1, code: merrors.ErrCodeInvalidInput},
		{name: "negative final", query: "chicken", intermediate: 2, final: -1, code: merrors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Search(context.Background(), tt.query, tt.intermediate, tt.final)
			require.Error(t, err)
			assert.Equal(t, tt.code, merrors.GetCode(err))
		})
	}
}

func TestEngine_Search_FinalClampedToCandidates(t *testing.T) {
	// Given: two records
	e := newRealEngine(t, chickenCorpus())

	// When: asking for more answers than candidates
	results, err := e.Search(context.Background(), "chicken", 2, 10)

	// Then: every candidate is returned once
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.NotEqual(t, results[0], results[1])
}

func TestEngine_Search_RetrieverFailures(t *testing.T) {
	c := chickenCorpus()
	hits := sparseHits(c.At(0))

	t.Run("dense index unavailable", func(t *testing.T) {
		denseErr := merrors.IndexUnavailableError("embedding query failed", errModelMissing)
		e, err := NewEngine(c, stubSparse{hits: hits}, stubDense{err: denseErr}, NewLexicalReranker())
		require.NoError(t, err)

		_, err = e.Search(context.Background(), "chicken", 2, 1)
		assert.ErrorIs(t, err, merrors.ErrIndexUnavailable)
	})

	t.Run("reranker unavailable", func(t *testing.T) {
		e, err := NewEngine(c, stubSparse{hits: hits}, stubDense{}, failingReranker{})
		require.NoError(t, err)

		_, err = e.Search(context.Background(), "chicken", 2, 1)
		assert.ErrorIs(t, err, merrors.ErrRerankUnavailable)
	})
}

func TestEngine_SearchDetailed_Trace(t *testing.T) {
	// Given: fixed retriever output
	c := corpus.New([]corpus.Record{{Text: "a"}, {Text: "b"}, {Text: "c"}})
	e, err := NewEngine(c,
		stubSparse{hits: sparseHits(c.At(0), c.At(1))},
		stubDense{hits: denseHits(c.At(2), c.At(0))},
		NoOpReranker{},
		WithWeights(Weights{BM25: 0.7, Semantic: 0.3}))
	require.NoError(t, err)

	// When: tracing a query
	trace, err := e.SearchDetailed(context.Background(), "q", 3, 2)

	// Then: every stage is visible
	require.NoError(t, err)
	assert.Len(t, trace.Sparse, 2)
	assert.Len(t, trace.Dense, 2)
	require.Len(t, trace.Fused, 3)
	assert.Equal(t, 0, trace.Fused[0].Record.SourceIndex)
	assert.Len(t, trace.Ranked, 2)
	assert.Equal(t, []string{"a", "b"}, trace.Output)
	assert.Equal(t, "none", trace.Reranker)
	assert.Equal(t, 0.7, trace.Weights.BM25)
	assert.Positive(t, trace.Timings.Total)

	// And: each query gets its own ID
	again, err := e.SearchDetailed(context.Background(), "q", 3, 2)
	require.NoError(t, err)
	assert.NotEmpty(t, trace.ID)
	assert.NotEqual(t, trace.ID, again.ID)
}

func TestEngine_ConcurrentQueries(t *testing.T) {
	// Given: one shared engine
	e := newRealEngine(t, chickenCorpus())
	want, err := e.Search(context.Background(), "meatless chicken with protein", 2, 1)
	require.NoError(t, err)

	// When: querying from many goroutines
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Search(context.Background(), "meatless chicken with protein", 2, 1)
			if err != nil {
				errs <- err
				return
			}
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
	close(errs)

	// Then: every query succeeds with the same answer
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestEngine_RecordsMetrics(t *testing.T) {
	// Given: an engine with an in-memory metrics collector
	m := telemetry.NewQueryMetricsWithConfig(nil, telemetry.QueryMetricsConfig{})
	defer func() { _ = m.Close() }()
	e := newRealEngine(t, chickenCorpus(), WithMetrics(m))

	// When: running a matching and a non-matching query
	_, err := e.Search(context.Background(), "chicken", 2, 1)
	require.NoError(t, err)
	_, err = e.Search(context.Background(), "", 2, 1)
	require.Error(t, err)

	// Then: both are counted by outcome
	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.OutcomeCounts[telemetry.OutcomeResults])
	assert.Equal(t, int64(1), snap.OutcomeCounts[telemetry.OutcomeError])
}

func TestNewEngine_NilDependencies(t *testing.T) {
	c := chickenCorpus()
	sparse, dense, rr := stubSparse{}, stubDense{}, NoOpReranker{}

	tests := []struct {
		name   string
		build  func() (*Engine, error)
		substr string
	}{
		{name: "corpus", build: func() (*Engine, error) { return NewEngine(nil, sparse, dense, rr) }, substr: "corpus"},
		{name: "sparse", build: func() (*Engine, error) { return NewEngine(c, nil, dense, rr) }, substr: "sparse"},
		{name: "dense", build: func() (*Engine, error) { return NewEngine(c, sparse, nil, rr) }, substr: "dense"},
		{name: "reranker", build: func() (*Engine, error) { return NewEngine(c, sparse, dense, nil) }, substr: "reranker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := tt.build()
			assert.Nil(t, e)
			assert.ErrorIs(t, err, ErrNilDependency)
			assert.True(t, strings.Contains(err.Error(), tt.substr))
		})
	}
}
