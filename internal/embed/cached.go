package embed

import (
	"context"
	"slices"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the number of query vectors kept in memory.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder memoizes vectors per (model, text). Repeated queries and
// meal texts that recur across builds skip the provider entirely.
type CachedEmbedder struct {
	inner   Embedder
	vectors *lru.Cache[vectorKey, []float32]
	hits    atomic.Int64
	misses  atomic.Int64
}

var _ Embedder = (*CachedEmbedder)(nil)

// vectorKey scopes a cached vector to the model that produced it.
type vectorKey struct {
	model string
	text  string
}

// NewCachedEmbedder wraps inner with an LRU of size entries. A non-positive
// size selects DefaultEmbeddingCacheSize.
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultEmbeddingCacheSize
	}
	vectors, _ := lru.New[vectorKey, []float32](size)
	return &CachedEmbedder{inner: inner, vectors: vectors}
}

func (c *CachedEmbedder) key(text string) vectorKey {
	return vectorKey{model: c.inner.ModelName(), text: text}
}

// lookup returns a copy so callers cannot corrupt the cached vector.
func (c *CachedEmbedder) lookup(k vectorKey) ([]float32, bool) {
	vec, ok := c.vectors.Get(k)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return slices.Clone(vec), true
}

// Embed implements Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	k := c.key(text)
	if vec, ok := c.lookup(k); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.vectors.Add(k, slices.Clone(vec))
	return vec, nil
}

// EmbedBatch sends only uncached texts to the inner embedder, in a single
// call, and each distinct text at most once.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	pending := make(map[string][]int)
	var missing []string
	for i, text := range texts {
		if positions, seen := pending[text]; seen {
			pending[text] = append(positions, i)
			continue
		}
		if vec, ok := c.lookup(c.key(text)); ok {
			out[i] = vec
			continue
		}
		pending[text] = []int{i}
		missing = append(missing, text)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, text := range missing {
		c.vectors.Add(c.key(text), slices.Clone(fresh[j]))
		for n, i := range pending[text] {
			if n == 0 {
				out[i] = fresh[j]
			} else {
				out[i] = slices.Clone(fresh[j])
			}
		}
	}
	return out, nil
}

// CacheStats reports cache hits and misses since construction.
func (c *CachedEmbedder) CacheStats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CachedEmbedder) Dimensions() int                    { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string                  { return c.inner.ModelName() }
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close closes the wrapped embedder.
func (c *CachedEmbedder) Close() error { return c.inner.Close() }

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }
