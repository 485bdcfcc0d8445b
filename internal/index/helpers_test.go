package index

import (
	"context"
	"errors"
	"sync"

	"github.com/nutrimind/mealrag/internal/corpus"
	"github.com/nutrimind/mealrag/internal/embed"
)

func ptr(v float64) *float64 { return &v }

func mealCorpus() *corpus.Corpus {
	return corpus.New([]corpus.Record{
		{Text: "Grilled chicken breast with rice", Nutrition: corpus.Nutrition{Calories: ptr(420), Protein: ptr(40)}},
		{Text: "Vegan lentil soup", Nutrition: corpus.Nutrition{Calories: ptr(250), Fiber: ptr(12)}},
		{Text: "Chocolate chip cookies", Nutrition: corpus.Nutrition{Calories: ptr(480), Sugars: ptr(30)}},
		{Text: "Spinach salad with salmon", Nutrition: corpus.Nutrition{Calories: ptr(350), Protein: ptr(28)}},
		{Text: "Chicken noodle soup", Nutrition: corpus.Nutrition{Calories: ptr(300), Protein: ptr(22)}},
	})
}

// countingEmbedder records how many texts it was asked to embed.
type countingEmbedder struct {
	mu    sync.Mutex
	inner embed.Embedder
	model string
	texts int
}

func newCountingEmbedder(dims int) *countingEmbedder {
	return &countingEmbedder{inner: embed.NewStaticEmbedder(dims), model: "counting"}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.texts += len(texts)
	c.mu.Unlock()
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int                  { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string                { return c.model }
func (c *countingEmbedder) Available(_ context.Context) bool { return true }
func (c *countingEmbedder) Close() error                     { return nil }

func (c *countingEmbedder) embedded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.texts
}

var errBackendDown = errors.New("backend down")

// failingEmbedder fails every call.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, errBackendDown }
func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errBackendDown
}
func (failingEmbedder) Dimensions() int                { return 8 }
func (failingEmbedder) ModelName() string              { return "failing" }
func (failingEmbedder) Available(context.Context) bool { return false }
func (failingEmbedder) Close() error                   { return nil }
