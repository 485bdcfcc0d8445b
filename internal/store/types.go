// Package store provides the search backends behind the meal indices:
// BM25 keyword indices (in-memory, Bleve, SQLite FTS5) and an HNSW vector
// store. Every backend keys documents by corpus SourceIndex.
package store

import (
	"context"
	"fmt"
	"sort"
)

// Document is one meal text to index for keyword search.
type Document struct {
	ID      int    // Corpus SourceIndex
	Content string // Meal description
}

// BM25Result represents a single BM25 search result.
type BM25Result struct {
	DocID        int
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about a BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search using BM25 scoring.
//
// Search returns only documents with a positive score, ordered by score
// descending with ties broken by the lowest DocID, and at most limit of them.
type BM25Index interface {
	// Index adds documents to the index
	Index(ctx context.Context, docs []Document) error

	// Search returns documents matching query, scored by BM25
	Search(ctx context.Context, query string, limit int) ([]BM25Result, error)

	// Stats returns index statistics
	Stats() IndexStats

	// Backend names the implementation
	Backend() string

	Close() error
}

// BM25Config configures a BM25 index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64

	// StopWords is a list of words to filter out during tokenization
	StopWords []string

	// MinTokenLength is minimum token length to index (default: 2)
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// withDefaults fills zero fields from DefaultBM25Config.
func (c BM25Config) withDefaults() BM25Config {
	d := DefaultBM25Config()
	if c.K1 <= 0 {
		c.K1 = d.K1
	}
	if c.B < 0 || c.B > 1 {
		c.B = d.B
	}
	if c.StopWords == nil {
		c.StopWords = d.StopWords
	}
	if c.MinTokenLength <= 0 {
		c.MinTokenLength = d.MinTokenLength
	}
	return c
}

// DefaultStopWords contains common English words that carry no meal signal.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"in", "into", "is", "it", "its", "of", "on", "or", "so", "such",
	"that", "the", "their", "then", "there", "these", "this", "to",
	"was", "were", "will", "with",
}

// sortResults orders results by score descending, lowest DocID first on ties,
// drops non-positive scores and truncates to limit.
func sortResults(results []BM25Result, limit int) []BM25Result {
	kept := results[:0]
	for _, r := range results {
		if r.Score > 0 {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].DocID < kept[j].DocID
	})
	if limit >= 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       uint64  // Corpus SourceIndex
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Cosine similarity (-1 to 1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension (256 for static, model-specific for Ollama)
	Dimensions int

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int

	// ExactThreshold is the collection size at or below which Search scans
	// every vector instead of walking the graph (default: 2048)
	ExactThreshold int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              16,
		EfSearch:       64,
		ExactThreshold: 2048,
	}
}

// VectorStore provides nearest-neighbour search over meal embeddings.
type VectorStore interface {
	// Add inserts vectors keyed by SourceIndex. Re-adding an ID fails.
	Add(ctx context.Context, ids []uint64, vectors [][]float32) error

	// Search returns the k nearest vectors, most similar first.
	Search(ctx context.Context, query []float32, k int) ([]VectorResult, error)

	Count() int

	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'mealrag index build --force')", e.Expected, e.Got)
}
