// Package telemetry records local query statistics: outcome counts, latency
// histogram, frequent terms and queries that matched nothing.
// Nothing leaves the machine.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nutrimind/mealrag/internal/store"
)

// Outcome classifies how a query ended.
type Outcome string

const (
	OutcomeResults Outcome = "results"
	OutcomeEmpty   Outcome = "empty"
	OutcomeError   Outcome = "error"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyBuckets lists every bucket in ascending order.
var LatencyBuckets = []LatencyBucket{BucketP10, BucketP50, BucketP100, BucketP500, BucketP1000}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one finished search.
type QueryEvent struct {
	Query       string
	Outcome     Outcome
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult returns true if the query completed without results.
func (e QueryEvent) IsZeroResult() bool {
	return e.Outcome == OutcomeEmpty || (e.Outcome == OutcomeResults && e.ResultCount == 0)
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	size  int
}

// NewCircularBuffer creates a buffer holding at most capacity items (default 100).
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity)}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, 0, b.size)
	start := (b.head - b.size + len(b.items)) % len(b.items)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(start+i)%len(b.items)])
	}
	return out
}

// Size returns the current number of items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

var termStopWords = store.BuildStopWordMap(store.DefaultStopWords)

// ExtractTerms returns the indexable terms of a query, lowercased, with
// stop words and one-letter tokens removed.
func ExtractTerms(query string) []string {
	terms := store.FilterStopWords(store.Tokenize(query, 3), termStopWords)
	if len(terms) == 0 {
		return nil
	}
	return terms
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QueryMetricsSnapshot is an immutable copy of the in-memory aggregates.
type QueryMetricsSnapshot struct {
	OutcomeCounts       map[Outcome]int64       `json:"outcome_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// ExactRepeatRate returns the share of queries seen before, in [0, 1].
func (s *QueryMetricsSnapshot) ExactRepeatRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ExactRepeatCount) / float64(s.TotalQueries)
}

// QueryMetricsStore persists aggregates. Counts passed to the Save and
// Upsert methods are increments, not totals.
type QueryMetricsStore interface {
	SaveOutcomeCounts(date string, counts map[Outcome]int64) error
	GetOutcomeCounts(from, to string) (map[Outcome]int64, error)
	UpsertTermCounts(terms map[string]int64) error
	GetTopTerms(limit int) ([]TermCount, error)
	AddZeroResultQuery(query string, timestamp time.Time) error
	GetZeroResultQueries(limit int) ([]string, error)
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// QueryMetricsConfig configures the query metrics collector.
type QueryMetricsConfig struct {
	TopTermsCapacity      int           // Max terms to track (default: 100)
	ZeroResultsCapacity   int           // Max zero-result queries to keep (default: 100)
	RecentQueriesCapacity int           // Max query hashes for repeat detection (default: 500)
	FlushInterval         time.Duration // Auto-flush period (default: 60s, 0 = only on Close)
}

// DefaultQueryMetricsConfig returns sensible defaults.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// pending holds increments not yet written to the store.
type pending struct {
	outcomes  map[Outcome]int64
	latencies map[LatencyBucket]int64
	terms     map[string]int64
	zero      []QueryEvent
}

func newPending() pending {
	return pending{
		outcomes:  make(map[Outcome]int64),
		latencies: make(map[LatencyBucket]int64),
		terms:     make(map[string]int64),
	}
}

// QueryMetrics aggregates query events in memory and periodically flushes
// the increments to a QueryMetricsStore. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	outcomes        map[Outcome]int64
	latencies       map[LatencyBucket]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	recentQueries   *lru.Cache[string, struct{}]
	totalQueries    int64
	zeroResultCount int64
	exactRepeats    int64
	startTime       time.Time

	pending pending

	store       QueryMetricsStore
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewQueryMetrics creates a collector with default configuration.
// If store is nil, metrics are only kept in memory.
func NewQueryMetrics(store QueryMetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a collector with custom configuration.
func NewQueryMetricsWithConfig(store QueryMetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	defaults := DefaultQueryMetricsConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = defaults.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = defaults.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = defaults.RecentQueriesCapacity
	}

	// lru.New only fails for non-positive sizes.
	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		outcomes:      make(map[Outcome]int64),
		latencies:     make(map[LatencyBucket]int64),
		topTerms:      topTerms,
		zeroResults:   NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recentQueries: recentQueries,
		startTime:     time.Now(),
		pending:       newPending(),
		store:         store,
		stopCh:        make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one finished query.
func (m *QueryMetrics) Record(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.totalQueries++
	m.outcomes[event.Outcome]++
	m.pending.outcomes[event.Outcome]++

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.pending.latencies[bucket]++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pending.terms[term]++
	}

	if event.IsZeroResult() {
		m.zeroResultCount++
		m.zeroResults.Add(event.Query)
		m.pending.zero = append(m.pending.zero, event)
	}

	key := hashQuery(event.Query)
	if _, seen := m.recentQueries.Get(key); seen {
		m.exactRepeats++
	}
	m.recentQueries.Add(key, struct{}{})
}

func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the in-memory aggregates since the collector started.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcomes := make(map[Outcome]int64, len(m.outcomes))
	for k, v := range m.outcomes {
		outcomes[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	terms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	return &QueryMetricsSnapshot{
		OutcomeCounts:       outcomes,
		TopTerms:            terms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		ExactRepeatCount:    m.exactRepeats,
		Since:               m.startTime,
	}
}

// Flush writes the increments recorded since the last flush to the store.
// Safe to call even if no store is configured. On failure the increments
// are kept for the next flush.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	batch := m.pending
	m.pending = newPending()
	m.mu.Unlock()

	if err := m.write(&batch); err != nil {
		m.mu.Lock()
		m.pending = merge(m.pending, batch)
		m.mu.Unlock()
		return err
	}
	return nil
}

// write stores p, clearing each part once it is stored so a failure leaves
// only the unwritten increments in p.
func (m *QueryMetrics) write(p *pending) error {
	today := time.Now().Format("2006-01-02")

	if len(p.outcomes) > 0 {
		if err := m.store.SaveOutcomeCounts(today, p.outcomes); err != nil {
			return err
		}
		p.outcomes = nil
	}
	if len(p.latencies) > 0 {
		if err := m.store.SaveLatencyCounts(today, p.latencies); err != nil {
			return err
		}
		p.latencies = nil
	}
	if err := m.store.UpsertTermCounts(p.terms); err != nil {
		return err
	}
	p.terms = nil
	for len(p.zero) > 0 {
		e := p.zero[0]
		if err := m.store.AddZeroResultQuery(e.Query, e.Timestamp); err != nil {
			return err
		}
		p.zero = p.zero[1:]
	}
	return nil
}

// merge folds b into a and returns a.
func merge(a, b pending) pending {
	for k, v := range b.outcomes {
		a.outcomes[k] += v
	}
	for k, v := range b.latencies {
		a.latencies[k] += v
	}
	for k, v := range b.terms {
		a.terms[k] += v
	}
	a.zero = append(a.zero, b.zero...)
	return a
}

// Close stops the auto-flush and performs a final flush.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}
	return m.Flush()
}
