package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nutrimind/mealrag/internal/corpus"
	merrors "github.com/nutrimind/mealrag/internal/errors"
	"github.com/nutrimind/mealrag/internal/index"
	"github.com/nutrimind/mealrag/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// SparseRetriever returns keyword matches. *index.SparseIndex implements it.
type SparseRetriever interface {
	Query(ctx context.Context, text string, k int) ([]index.SparseHit, error)
}

// DenseRetriever returns semantic matches. *index.DenseIndex implements it.
type DenseRetriever interface {
	Query(ctx context.Context, text string, k int) ([]index.DenseHit, error)
}

// Engine runs hybrid search over one corpus. It holds no mutable state
// after construction and is safe for concurrent queries.
type Engine struct {
	corpus   *corpus.Corpus
	sparse   SparseRetriever
	dense    DenseRetriever
	reranker Reranker
	weights  Weights
	metrics  *telemetry.QueryMetrics
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithWeights sets the fusion weights. The default is DefaultWeights.
func WithWeights(w Weights) EngineOption {
	return func(e *Engine) {
		e.weights = w
	}
}

// WithMetrics records every query in m.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a search engine over c. Every dependency is required.
func NewEngine(c *corpus.Corpus, sparse SparseRetriever, dense DenseRetriever, reranker Reranker, opts ...EngineOption) (*Engine, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: corpus is required", ErrNilDependency)
	}
	if sparse == nil {
		return nil, fmt.Errorf("%w: sparse index is required", ErrNilDependency)
	}
	if dense == nil {
		return nil, fmt.Errorf("%w: dense index is required", ErrNilDependency)
	}
	if reranker == nil {
		return nil, fmt.Errorf("%w: reranker is required", ErrNilDependency)
	}

	e := &Engine{
		corpus:   c,
		sparse:   sparse,
		dense:    dense,
		reranker: reranker,
		weights:  DefaultWeights(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search returns at most final formatted meals for query. Each retriever
// contributes up to intermediate candidates and fusion keeps at most
// intermediate of their union.
//
// A query that matches nothing, or any query over an empty corpus, returns
// an error matching merrors.ErrEmptyCandidateSet.
func (e *Engine) Search(ctx context.Context, query string, intermediate, final int) ([]string, error) {
	trace, err := e.SearchDetailed(ctx, query, intermediate, final)
	if err != nil {
		return nil, err
	}
	return trace.Output, nil
}

// SearchDetailed runs Search and returns the output of every stage.
func (e *Engine) SearchDetailed(ctx context.Context, query string, intermediate, final int) (*Trace, error) {
	start := time.Now()
	trace, err := e.run(ctx, query, intermediate, final)
	trace.Timings.Total = time.Since(start)

	e.record(trace, err)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, merrors.ErrEmptyCandidateSet) {
			level = slog.LevelDebug
		}
		slog.Log(ctx, level, "search_failed",
			slog.String("query_id", trace.ID),
			slog.String("query", truncateQuery(query, 50)),
			slog.String("error", err.Error()),
			slog.Duration("duration", trace.Timings.Total))
		return nil, err
	}

	slog.Debug("search_complete",
		slog.String("query_id", trace.ID),
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("sparse", len(trace.Sparse)),
		slog.Int("dense", len(trace.Dense)),
		slog.Int("fused", len(trace.Fused)),
		slog.Int("results", len(trace.Output)),
		slog.Duration("retrieve", trace.Timings.Retrieve),
		slog.Duration("fuse", trace.Timings.Fuse),
		slog.Duration("rerank", trace.Timings.Rerank),
		slog.Duration("format", trace.Timings.Format),
		slog.Duration("total", trace.Timings.Total))

	return trace, nil
}

func (e *Engine) run(ctx context.Context, query string, intermediate, final int) (*Trace, error) {
	trace := &Trace{
		ID:           uuid.NewString(),
		Query:        query,
		Intermediate: intermediate,
		Final:        final,
		Weights:      e.weights,
		Reranker:     e.reranker.Name(),
	}

	if strings.TrimSpace(query) == "" {
		return trace, merrors.New(merrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if intermediate <= 0 || final <= 0 {
		return trace, merrors.ValidationError(
			fmt.Sprintf("intermediate and final results must be positive, got %d and %d", intermediate, final), nil)
	}

	slog.Debug("search_start",
		slog.String("query_id", trace.ID),
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("intermediate", intermediate),
		slog.Int("final", final))

	if e.corpus.Len() == 0 {
		return trace, merrors.EmptyCandidateSet(query)
	}

	stage := time.Now()
	if err := e.retrieve(ctx, trace); err != nil {
		return trace, err
	}
	trace.Timings.Retrieve = time.Since(stage)

	stage = time.Now()
	trace.Fused = Fuse(trace.Sparse, trace.Dense, e.weights, intermediate)
	trace.Timings.Fuse = time.Since(stage)
	if len(trace.Fused) == 0 {
		return trace, merrors.EmptyCandidateSet(query)
	}

	stage = time.Now()
	ranked, err := Rerank(ctx, e.reranker, query, trace.Fused, final)
	if err != nil {
		return trace, err
	}
	trace.Ranked = ranked
	trace.Timings.Rerank = time.Since(stage)

	stage = time.Now()
	records := make([]corpus.Record, len(ranked))
	for i, r := range ranked {
		records[i] = r.Record
	}
	trace.Output = FormatRecords(records)
	trace.Timings.Format = time.Since(stage)

	return trace, nil
}

// retrieve runs the sparse and dense retrievers. They share no state and
// meet only at fusion, so they run concurrently. Either failing fails the
// query.
func (e *Engine) retrieve(ctx context.Context, trace *Trace) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hits, err := e.sparse.Query(gctx, trace.Query, trace.Intermediate)
		if err != nil {
			return fmt.Errorf("sparse retrieval: %w", err)
		}
		trace.Sparse = hits
		return nil
	})

	g.Go(func() error {
		hits, err := e.dense.Query(gctx, trace.Query, trace.Intermediate)
		if err != nil {
			return fmt.Errorf("dense retrieval: %w", err)
		}
		trace.Dense = hits
		return nil
	})

	return g.Wait()
}

func (e *Engine) record(trace *Trace, err error) {
	if e.metrics == nil {
		return
	}

	outcome := telemetry.OutcomeResults
	switch {
	case errors.Is(err, merrors.ErrEmptyCandidateSet):
		outcome = telemetry.OutcomeEmpty
	case err != nil:
		outcome = telemetry.OutcomeError
	}

	e.metrics.Record(telemetry.QueryEvent{
		Query:       trace.Query,
		Outcome:     outcome,
		ResultCount: len(trace.Output),
		Latency:     trace.Timings.Total,
		Timestamp:   time.Now(),
	})
}
