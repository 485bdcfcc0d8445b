package store

import (
	"bufio"
	"cmp"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/coder/hnsw"
)

var errStoreClosed = errors.New("vector store is closed")

// HNSWStore is a VectorStore over a coder/hnsw graph. It also keeps every
// vector so that collections at or below ExactThreshold are ranked by an
// exhaustive scan, which is exact and deterministic for small corpora.
type HNSWStore struct {
	mu      sync.RWMutex
	config  VectorStoreConfig
	graph   *hnsw.Graph[uint64]
	vectors map[uint64][]float32
	closed  bool
}

var _ VectorStore = (*HNSWStore)(nil)

// hnswSidecar is gob-encoded next to the exported graph.
type hnswSidecar struct {
	Vectors map[uint64][]float32
	Config  VectorStoreConfig
}

// NewHNSWStore returns an empty store. Zero config fields other than
// Dimensions take DefaultVectorStoreConfig values.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	d := DefaultVectorStoreConfig(cfg.Dimensions)
	cfg.Metric = cmp.Or(cfg.Metric, d.Metric)
	cfg.M = cmp.Or(cfg.M, d.M)
	cfg.EfSearch = cmp.Or(cfg.EfSearch, d.EfSearch)
	cfg.ExactThreshold = cmp.Or(cfg.ExactThreshold, d.ExactThreshold)

	return &HNSWStore{
		config:  cfg,
		graph:   newGraph(cfg),
		vectors: make(map[uint64][]float32),
	}, nil
}

func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = distanceFunc(cfg.Metric)
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

func distanceFunc(metric string) hnsw.DistanceFunc {
	if metric == "l2" {
		return hnsw.EuclideanDistance
	}
	return hnsw.CosineDistance
}

// prepare copies v, normalizing it for the cosine metric.
func (s *HNSWStore) prepare(v []float32) []float32 {
	out := slices.Clone(v)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(out)
	}
	return out
}

// Add inserts vectors keyed by corpus SourceIndex. The batch is validated
// before anything is inserted; an ID already present is an error since
// collections are built once and never updated in place.
func (s *HNSWStore) Add(ctx context.Context, ids []uint64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}

	for i, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
		if _, dup := s.vectors[ids[i]]; dup {
			return fmt.Errorf("vector %d already present", ids[i])
		}
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec := s.prepare(vectors[i])
		s.graph.Add(hnsw.MakeNode(id, vec))
		s.vectors[id] = vec
	}
	return nil
}

// Search returns up to k vectors nearest to query, most similar first and
// lowest ID first among equal scores.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if k <= 0 || len(s.vectors) == 0 {
		return []VectorResult{}, nil
	}

	q := s.prepare(query)
	var results []VectorResult
	if len(s.vectors) <= s.config.ExactThreshold {
		results = make([]VectorResult, 0, len(s.vectors))
		for id, vec := range s.vectors {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results = append(results, s.score(id, q, vec))
		}
	} else {
		for _, node := range s.graph.Search(q, k) {
			results = append(results, s.score(node.Key, q, node.Value))
		}
	}

	slices.SortFunc(results, func(a, b VectorResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return results[:min(k, len(results))], nil
}

func (s *HNSWStore) score(id uint64, query, vec []float32) VectorResult {
	d := distanceFunc(s.config.Metric)(query, vec)
	if math.IsNaN(float64(d)) {
		// zero vector
		d = 1
	}
	return VectorResult{ID: id, Distance: d, Score: distanceToScore(d, s.config.Metric)}
}

// Count returns the number of stored vectors, or 0 once closed.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Dimensions returns the configured vector width.
func (s *HNSWStore) Dimensions() int {
	return s.config.Dimensions
}

// Save writes the graph to path and the vectors with the config to
// path+".meta". Each file is replaced atomically.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errStoreClosed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := writeFileAtomic(path, s.graph.Export); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}
	sidecar := hnswSidecar{Vectors: s.vectors, Config: s.config}
	if err := writeFileAtomic(path+".meta", func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(sidecar)
	}); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// Load replaces the store contents with the collection saved at path.
// A collection of another width is rejected with ErrDimensionMismatch.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}

	var sidecar hnswSidecar
	if err := readFile(path+".meta", func(r *bufio.Reader) error {
		return gob.NewDecoder(r).Decode(&sidecar)
	}); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}
	if sidecar.Config.Dimensions != s.config.Dimensions {
		return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: sidecar.Config.Dimensions}
	}

	graph := newGraph(sidecar.Config)
	if err := readFile(path, func(r *bufio.Reader) error { return graph.Import(r) }); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	s.graph = graph
	s.config = sidecar.Config
	s.vectors = sidecar.Vectors
	if s.vectors == nil {
		s.vectors = make(map[uint64][]float32)
	}
	return nil
}

// Close drops the graph and vectors. It is safe to call more than once.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	s.vectors = nil
	return nil
}

// writeFileAtomic writes through a temp file renamed over path.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	err = write(bw)
	if err == nil {
		err = bw.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// readFile hands a buffered reader over path to read. coder/hnsw Import
// needs an io.ByteReader.
func readFile(path string, read func(*bufio.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return read(bufio.NewReader(f))
}

func normalizeVectorInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps a distance to a similarity: cosine similarity for
// "cos" and 1/(1+d) for "l2".
func distanceToScore(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1 / (1 + distance)
	}
	return 1 - distance
}
