package search

import (
	"sort"

	"github.com/nutrimind/mealrag/internal/index"
)

// Fuse merges the sparse and dense lists by weighted reciprocal rank.
//
// Algorithm: score(d) = Σ weight_i / (c + rank_i)
//
// Where:
//   - rank_i = 1-based position of d in list i
//   - c = weights.RRFConstant (0 gives weight_i / rank_i)
//   - a list that does not contain d contributes nothing
//
// The union is sorted by score descending, ties broken by lowest
// SourceIndex, and capped at limit when limit > 0.
func Fuse(sparse []index.SparseHit, dense []index.DenseHit, weights Weights, limit int) []FusedCandidate {
	if len(sparse) == 0 && len(dense) == 0 {
		return []FusedCandidate{}
	}

	byID := make(map[int]*FusedCandidate, len(sparse)+len(dense))
	for i, h := range sparse {
		c := candidateFor(byID, h.Record.SourceIndex)
		if c.SparseRank != 0 {
			continue
		}
		c.Record = h.Record
		c.SparseRank = i + 1
		c.Score += weights.BM25 / (weights.RRFConstant + float64(i+1))
	}

	for i, h := range dense {
		c := candidateFor(byID, h.Record.SourceIndex)
		if c.DenseRank != 0 {
			continue
		}
		c.Record = h.Record
		c.DenseRank = i + 1
		c.Score += weights.Semantic / (weights.RRFConstant + float64(i+1))
	}

	results := make([]FusedCandidate, 0, len(byID))
	for _, c := range byID {
		results = append(results, *c)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.SourceIndex < results[j].Record.SourceIndex
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func candidateFor(m map[int]*FusedCandidate, id int) *FusedCandidate {
	if c, ok := m[id]; ok {
		return c
	}
	c := &FusedCandidate{}
	m[id] = c
	return c
}
