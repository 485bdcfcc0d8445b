package search

import (
	"context"
	"fmt"
	"sort"

	merrors "github.com/nutrimind/mealrag/internal/errors"
	"github.com/nutrimind/mealrag/internal/store"
)

// Reranker scores (query, text) pairs jointly. Unlike the dense index it
// re-reads the raw candidate text, so it only runs over the fused set.
type Reranker interface {
	// Score returns one relevance score per text, in input order.
	// Higher is more relevant.
	Score(ctx context.Context, query string, texts []string) ([]float64, error)

	// Available checks if the reranker is ready
	Available(ctx context.Context) bool

	// Name identifies the reranker in logs and traces
	Name() string

	// Close releases resources
	Close() error
}

// Rerank orders candidates by r's score for query, ties broken by lowest
// SourceIndex, and keeps the first min(finalK, len(candidates)).
// Any scoring failure is returned as a RerankUnavailable error.
func Rerank(ctx context.Context, r Reranker, query string, candidates []FusedCandidate, finalK int) ([]RankedCandidate, error) {
	finalK = min(finalK, len(candidates))
	if finalK <= 0 {
		return []RankedCandidate{}, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Record.Text
	}

	scores, err := r.Score(ctx, query, texts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, merrors.RerankUnavailableError(fmt.Sprintf("%s reranker failed", r.Name()), err)
	}
	if len(scores) != len(candidates) {
		return nil, merrors.RerankUnavailableError(
			fmt.Sprintf("%s reranker returned %d scores for %d candidates", r.Name(), len(scores), len(candidates)), nil)
	}

	ranked := make([]RankedCandidate, len(candidates))
	for i, c := range candidates {
		ranked[i] = RankedCandidate{
			Record:      c.Record,
			RerankScore: scores[i],
			FusedScore:  c.Score,
			FusedRank:   i + 1,
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RerankScore != ranked[j].RerankScore {
			return ranked[i].RerankScore > ranked[j].RerankScore
		}
		return ranked[i].Record.SourceIndex < ranked[j].Record.SourceIndex
	})

	return ranked[:finalK], nil
}

// NoOpReranker keeps the fused order. Used when reranking is disabled.
type NoOpReranker struct{}

// Score returns the negated position so earlier texts rank higher.
func (NoOpReranker) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	scores := make([]float64, len(texts))
	for i := range texts {
		scores[i] = -float64(i)
	}
	return scores, nil
}

// Available always returns true for NoOpReranker.
func (NoOpReranker) Available(_ context.Context) bool { return true }

// Name returns "none".
func (NoOpReranker) Name() string { return "none" }

// Close is a no-op for NoOpReranker.
func (NoOpReranker) Close() error { return nil }

// Lexical reranker weights. They sum to 1 so scores stay in [0, 1].
const (
	lexicalCoverageWeight   = 0.6
	lexicalBigramWeight     = 0.25
	lexicalSaturationWeight = 0.15

	lexicalK1 = 1.2
)

// LexicalReranker is a local pairwise scorer. For each text it combines:
//   - coverage: share of distinct query terms present in the text
//   - bigrams: share of adjacent query term pairs found adjacent in the text
//   - saturation: mean tf/(tf+k1) over query terms
//
// It needs no model and is deterministic.
type LexicalReranker struct {
	stopWords map[string]struct{}
	minLen    int
}

// NewLexicalReranker creates a lexical reranker with the default stop words.
func NewLexicalReranker() *LexicalReranker {
	cfg := store.DefaultBM25Config()
	return &LexicalReranker{
		stopWords: store.BuildStopWordMap(cfg.StopWords),
		minLen:    cfg.MinTokenLength,
	}
}

func (l *LexicalReranker) terms(text string) []string {
	return store.FilterStopWords(store.Tokenize(text, l.minLen), l.stopWords)
}

// Score implements Reranker.
func (l *LexicalReranker) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	qTerms := l.terms(query)
	qUnique := unique(qTerms)
	qBigrams := bigrams(qTerms)

	scores := make([]float64, len(texts))
	if len(qUnique) == 0 {
		return scores, nil
	}

	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dTerms := l.terms(text)
		tf := make(map[string]int, len(dTerms))
		for _, t := range dTerms {
			tf[t]++
		}

		var matched int
		var saturation float64
		for _, t := range qUnique {
			if n := tf[t]; n > 0 {
				matched++
				saturation += float64(n) / (float64(n) + lexicalK1)
			}
		}
		coverage := float64(matched) / float64(len(qUnique))
		saturation /= float64(len(qUnique))

		var bigramShare float64
		if len(qBigrams) > 0 {
			dBigrams := make(map[string]struct{})
			for _, b := range bigrams(dTerms) {
				dBigrams[b] = struct{}{}
			}
			var hits int
			for _, b := range qBigrams {
				if _, ok := dBigrams[b]; ok {
					hits++
				}
			}
			bigramShare = float64(hits) / float64(len(qBigrams))
		}

		scores[i] = lexicalCoverageWeight*coverage +
			lexicalBigramWeight*bigramShare +
			lexicalSaturationWeight*saturation
	}
	return scores, nil
}

// Available always returns true for LexicalReranker.
func (l *LexicalReranker) Available(_ context.Context) bool { return true }

// Name returns "lexical".
func (l *LexicalReranker) Name() string { return "lexical" }

// Close is a no-op for LexicalReranker.
func (l *LexicalReranker) Close() error { return nil }

func unique(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func bigrams(terms []string) []string {
	if len(terms) < 2 {
		return nil
	}
	out := make([]string, 0, len(terms)-1)
	for i := 1; i < len(terms); i++ {
		out = append(out, terms[i-1]+" "+terms[i])
	}
	return out
}

// Verify interface implementations at compile time
var (
	_ Reranker = NoOpReranker{}
	_ Reranker = (*LexicalReranker)(nil)
)
