package store

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// MemoryBM25Index is an in-process Okapi BM25 index.
//
// score(d, q) = sum over query terms t of
//
//	idf(t) * tf(t,d) * (k1+1) / (tf(t,d) + k1*(1 - b + b*|d|/avgdl))
//
// with idf(t) = ln(1 + (N - n(t) + 0.5) / (n(t) + 0.5)).
type MemoryBM25Index struct {
	mu        sync.RWMutex
	config    BM25Config
	stopWords map[string]struct{}

	postings map[string][]posting // term -> documents containing it
	docLen   map[int]int
	totalLen int
	closed   bool
}

type posting struct {
	docID int
	tf    int
}

// Verify interface implementation
var _ BM25Index = (*MemoryBM25Index)(nil)

// NewMemoryBM25Index creates an empty in-memory BM25 index.
func NewMemoryBM25Index(config BM25Config) *MemoryBM25Index {
	config = config.withDefaults()
	return &MemoryBM25Index{
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
		postings:  make(map[string][]posting),
		docLen:    make(map[int]int),
	}
}

// Index adds documents to the index. Re-indexing an existing ID is an error.
func (m *MemoryBM25Index) Index(ctx context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("index is closed")
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, exists := m.docLen[doc.ID]; exists {
			return fmt.Errorf("document %d already indexed", doc.ID)
		}

		tokens := analyze(doc.Content, m.config, m.stopWords)
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		for term, n := range tf {
			m.postings[term] = append(m.postings[term], posting{docID: doc.ID, tf: n})
		}
		m.docLen[doc.ID] = len(tokens)
		m.totalLen += len(tokens)
	}

	return nil
}

// Search returns documents matching query, scored by Okapi BM25.
func (m *MemoryBM25Index) Search(ctx context.Context, query string, limit int) ([]BM25Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if limit <= 0 || len(m.docLen) == 0 {
		return []BM25Result{}, nil
	}

	terms := analyze(query, m.config, m.stopWords)
	if len(terms) == 0 {
		return []BM25Result{}, nil
	}

	n := float64(len(m.docLen))
	avgdl := float64(m.totalLen) / n
	k1, b := m.config.K1, m.config.B

	scores := make(map[int]float64)
	matched := make(map[int][]string)
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		list := m.postings[term]
		if len(list) == 0 {
			continue
		}
		df := float64(len(list))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for _, p := range list {
			tf := float64(p.tf)
			norm := 1 - b
			if avgdl > 0 {
				norm += b * float64(m.docLen[p.docID]) / avgdl
			}
			scores[p.docID] += idf * tf * (k1 + 1) / (tf + k1*norm)
			matched[p.docID] = appendUnique(matched[p.docID], term)
		}
	}

	results := make([]BM25Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, BM25Result{DocID: id, Score: score, MatchedTerms: matched[id]})
	}
	return sortResults(results, limit), nil
}

// Stats returns index statistics.
func (m *MemoryBM25Index) Stats() IndexStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := IndexStats{
		DocumentCount: len(m.docLen),
		TermCount:     len(m.postings),
	}
	if len(m.docLen) > 0 {
		stats.AvgDocLength = float64(m.totalLen) / float64(len(m.docLen))
	}
	return stats
}

// Backend returns "memory".
func (m *MemoryBM25Index) Backend() string {
	return string(BM25BackendMemory)
}

// Close releases the postings.
func (m *MemoryBM25Index) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.postings = nil
	m.docLen = nil
	return nil
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
