package search

import (
	"context"
	"errors"

	"github.com/nutrimind/mealrag/internal/corpus"
	"github.com/nutrimind/mealrag/internal/index"
)

func ptr(v float64) *float64 { return &v }

func rec(i int, text string) corpus.Record {
	return corpus.Record{Text: text, SourceIndex: i}
}

func sparseHits(records ...corpus.Record) []index.SparseHit {
	hits := make([]index.SparseHit, len(records))
	for i, r := range records {
		hits[i] = index.SparseHit{Record: r, Rank: i + 1, Score: float64(len(records) - i)}
	}
	return hits
}

func denseHits(records ...corpus.Record) []index.DenseHit {
	hits := make([]index.DenseHit, len(records))
	for i, r := range records {
		hits[i] = index.DenseHit{Record: r, Rank: i + 1, Similarity: 1 - float64(i)*0.1}
	}
	return hits
}

// stubSparse returns fixed hits, truncated to k.
type stubSparse struct {
	hits []index.SparseHit
	err  error
}

func (s stubSparse) Query(_ context.Context, _ string, k int) ([]index.SparseHit, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.hits[:min(k, len(s.hits))], nil
}

// stubDense returns fixed hits, truncated to k.
type stubDense struct {
	hits []index.DenseHit
	err  error
}

func (s stubDense) Query(_ context.Context, _ string, k int) ([]index.DenseHit, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.hits[:min(k, len(s.hits))], nil
}

var errModelMissing = errors.New("model not loaded")

// failingReranker cannot load its model.
type failingReranker struct{}

func (failingReranker) Score(context.Context, string, []string) ([]float64, error) {
	return nil, errModelMissing
}
func (failingReranker) Available(context.Context) bool { return false }
func (failingReranker) Name() string                   { return "failing" }
func (failingReranker) Close() error                   { return nil }

// fixedReranker scores texts from a table, 0 for unknown texts.
type fixedReranker map[string]float64

func (f fixedReranker) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	scores := make([]float64, len(texts))
	for i, t := range texts {
		scores[i] = f[t]
	}
	return scores, nil
}
func (fixedReranker) Available(context.Context) bool { return true }
func (fixedReranker) Name() string                   { return "fixed" }
func (fixedReranker) Close() error                   { return nil }
