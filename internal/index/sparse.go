// Package index builds the two retrieval indices over a meal corpus: a
// sparse keyword index rebuilt in memory on every start, and a dense vector
// index persisted on disk and reused while the corpus and embedder match.
//
// Both return hits joined back to corpus records by SourceIndex.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nutrimind/mealrag/internal/corpus"
	"github.com/nutrimind/mealrag/internal/store"
)

// SparseConfig configures the keyword index.
type SparseConfig struct {
	// Backend is "memory" (default), "bleve" or "sqlite"
	Backend string

	// K1 and B are the Okapi BM25 parameters (defaults 1.2 and 0.75)
	K1 float64
	B  float64

	// StopWords replaces the default English stop word list when non-nil
	StopWords []string
}

// SparseHit is one keyword match.
type SparseHit struct {
	Record corpus.Record
	Rank   int // 1-based
	Score  float64
}

// SparseIndex answers keyword queries over a corpus. It is immutable after
// BuildSparse and safe for concurrent queries.
type SparseIndex struct {
	corpus *corpus.Corpus
	idx    store.BM25Index
}

// BuildSparse indexes every record text of c. Identical inputs produce
// identical rankings.
func BuildSparse(ctx context.Context, c *corpus.Corpus, cfg SparseConfig) (*SparseIndex, error) {
	start := time.Now()

	bm25Cfg := store.DefaultBM25Config()
	if cfg.K1 > 0 {
		bm25Cfg.K1 = cfg.K1
	}
	if cfg.B > 0 {
		bm25Cfg.B = cfg.B
	}
	if cfg.StopWords != nil {
		bm25Cfg.StopWords = cfg.StopWords
	}

	idx, err := store.NewBM25Index(cfg.Backend, bm25Cfg)
	if err != nil {
		return nil, fmt.Errorf("create sparse index: %w", err)
	}

	docs := make([]store.Document, c.Len())
	for i := range docs {
		r := c.At(i)
		docs[i] = store.Document{ID: r.SourceIndex, Content: r.Text}
	}
	if err := idx.Index(ctx, docs); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("build sparse index: %w", err)
	}

	slog.Debug("sparse_index_built",
		slog.String("backend", idx.Backend()),
		slog.Int("documents", len(docs)),
		slog.Duration("duration", time.Since(start)))

	return &SparseIndex{corpus: c, idx: idx}, nil
}

// Query returns at most min(k, corpus size) records with a positive score,
// best first, ties broken by lowest SourceIndex. k <= 0, an empty corpus or
// a query without indexable terms yield no hits.
func (s *SparseIndex) Query(ctx context.Context, text string, k int) ([]SparseHit, error) {
	k = min(k, s.corpus.Len())
	if k <= 0 {
		return []SparseHit{}, nil
	}

	results, err := s.idx.Search(ctx, text, k)
	if err != nil {
		return nil, fmt.Errorf("sparse query: %w", err)
	}

	hits := make([]SparseHit, 0, len(results))
	for _, r := range results {
		if r.DocID < 0 || r.DocID >= s.corpus.Len() {
			continue
		}
		hits = append(hits, SparseHit{
			Record: s.corpus.At(r.DocID),
			Rank:   len(hits) + 1,
			Score:  r.Score,
		})
	}
	return hits, nil
}

// Backend names the underlying BM25 implementation.
func (s *SparseIndex) Backend() string {
	return s.idx.Backend()
}

// Stats returns statistics of the underlying index.
func (s *SparseIndex) Stats() store.IndexStats {
	return s.idx.Stats()
}

// Close releases the underlying index.
func (s *SparseIndex) Close() error {
	return s.idx.Close()
}
