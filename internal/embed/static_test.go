package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestStaticEmbedder_Deterministic(t *testing.T) {
	// Given: two embedders
	a, b := NewStaticEmbedder(0), NewStaticEmbedder(0)

	// When: embedding the same text
	va, err := a.Embed(context.Background(), "Grilled chicken breast")
	require.NoError(t, err)
	vb, err := b.Embed(context.Background(), "Grilled chicken breast")
	require.NoError(t, err)

	// Then: vectors are identical and unit length
	assert.Equal(t, va, vb)
	assert.Len(t, va, StaticDimensions)
	assert.InDelta(t, 1.0, cosine(va, va), 1e-6)
}

func TestStaticEmbedder_SharedWordsAreCloser(t *testing.T) {
	e := NewStaticEmbedder(0)
	ctx := context.Background()

	query, err := e.Embed(ctx, "meatless chicken with protein")
	require.NoError(t, err)
	meatless, err := e.Embed(ctx, "Meatless chicken alternative")
	require.NoError(t, err)
	grilled, err := e.Embed(ctx, "Grilled chicken breast")
	require.NoError(t, err)

	assert.Greater(t, cosine(query, meatless), cosine(query, grilled))
}

func TestStaticEmbedder_BlankTextIsZeroVector(t *testing.T) {
	e := NewStaticEmbedder(8)

	v, err := e.Embed(context.Background(), "   ")

	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), v)
}

func TestStaticEmbedder_BatchMatchesSingle(t *testing.T) {
	e := NewStaticEmbedder(32)
	texts := []string{"Lentil soup", "", "Tofu bowl"}

	batch, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestStaticEmbedder_Closed(t *testing.T) {
	e := NewStaticEmbedder(0)
	require.True(t, e.Available(context.Background()))
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "soup")

	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestStaticEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStaticEmbedder(0).Embed(ctx, "soup")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractNgrams(t *testing.T) {
	assert.Equal(t, []string{"sou", "oup"}, extractNgrams("soup", 3))
	assert.Equal(t, []string{"crè", "rèm", "ème"}, extractNgrams("crème", 3))
	assert.Empty(t, extractNgrams("ab", 3))
}
