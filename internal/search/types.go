// Package search runs hybrid meal retrieval: keyword and semantic candidates
// are fused by weighted rank, reordered by a pairwise reranker and rendered
// as strings.
package search

import (
	"time"

	"github.com/nutrimind/mealrag/internal/corpus"
	"github.com/nutrimind/mealrag/internal/index"
)

// Default result bounds for a query.
const (
	DefaultIntermediateResults = 10
	DefaultFinalResults        = 3
)

// Weights configures the relative importance of keyword vs semantic ranks.
type Weights struct {
	// BM25 is the weight of the sparse list (default 0.5)
	BM25 float64

	// Semantic is the weight of the dense list (default 0.5)
	Semantic float64

	// RRFConstant is added to every rank (default 0, plain weight/rank)
	RRFConstant float64
}

// DefaultWeights returns equal weights with no rank smoothing.
func DefaultWeights() Weights {
	return Weights{BM25: 0.5, Semantic: 0.5}
}

// FusedCandidate is a record after rank fusion.
type FusedCandidate struct {
	Record corpus.Record
	Score  float64

	// SparseRank and DenseRank are 1-based, 0 when absent from that list
	SparseRank int
	DenseRank  int
}

// InBothLists reports whether both retrievers returned the record.
func (c FusedCandidate) InBothLists() bool {
	return c.SparseRank > 0 && c.DenseRank > 0
}

// RankedCandidate is a record after reranking.
type RankedCandidate struct {
	Record      corpus.Record
	RerankScore float64
	FusedScore  float64

	// FusedRank is the 1-based position before reranking
	FusedRank int
}

// StageTimings records how long each query stage took.
type StageTimings struct {
	Retrieve time.Duration
	Fuse     time.Duration
	Rerank   time.Duration
	Format   time.Duration
	Total    time.Duration
}

// Trace is the full output of every stage of one query.
type Trace struct {
	// ID correlates the log lines of one query.
	ID           string
	Query        string
	Intermediate int
	Final        int
	Weights      Weights
	Reranker     string

	Sparse []index.SparseHit
	Dense  []index.DenseHit
	Fused  []FusedCandidate
	Ranked []RankedCandidate
	Output []string

	Timings StageTimings
}
