package embed

import (
	"context"
	"sync"
)

// countingEmbedder records how many texts it was asked to embed.
type countingEmbedder struct {
	mu     sync.Mutex
	inner  *StaticEmbedder
	calls  int
	texts  int
	closed bool
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{inner: NewStaticEmbedder(16)}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.calls++
	c.texts++
	c.mu.Unlock()
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls++
	c.texts += len(texts)
	c.mu.Unlock()
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int                  { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string                { return "counting" }
func (c *countingEmbedder) Available(_ context.Context) bool { return true }

func (c *countingEmbedder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *countingEmbedder) counts() (calls, texts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls, c.texts
}
