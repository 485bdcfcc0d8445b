package embed

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"unicode"
)

// StaticEmbedder derives vectors by feature hashing, with no model and no
// network. Words, adjacent word pairs and padded character trigrams each
// hash into a signed bucket, so texts that share vocabulary or spelling
// land close together. It matches words, not meaning.
type StaticEmbedder struct {
	dims   int
	closed atomic.Bool
}

var _ Embedder = (*StaticEmbedder)(nil)

var errStaticClosed = errors.New("static embedder is closed")

// Feature weights. Trigrams stay light so that misspellings help without
// drowning exact word matches.
const (
	wordWeight    = 1.0
	pairWeight    = 0.6
	trigramWeight = 0.25
	trigramSize   = 3
)

// fillerWords carry no meal content.
var fillerWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "with": {}, "of": {}, "in": {},
	"on": {}, "for": {}, "to": {}, "or": {}, "is": {}, "are": {}, "some": {},
	"me": {}, "i": {}, "want": {}, "give": {},
}

// NewStaticEmbedder returns an embedder producing dims-wide vectors.
// dims <= 0 selects StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed implements Embedder. Blank text maps to the zero vector.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.closed.Load() {
		return nil, errStaticClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dims)
	words := contentWords(text)
	if len(words) == 0 {
		return vec, nil
	}

	for i, w := range words {
		e.add(vec, "w:"+w, wordWeight)
		if i > 0 {
			e.add(vec, "p:"+words[i-1]+"_"+w, pairWeight)
		}
		for _, g := range extractNgrams(" "+w+" ", trigramSize) {
			e.add(vec, "g:"+g, trigramWeight)
		}
	}
	return normalizeVector(vec), nil
}

// add hashes feature into a bucket. The top hash bit picks the sign so that
// collisions cancel on average instead of piling up.
func (e *StaticEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[(sum&(1<<63-1))%uint64(e.dims)] += weight
}

// contentWords lowercases text and splits it on anything that is not a
// letter or digit, dropping filler words.
func contentWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := fields[:0]
	for _, f := range fields {
		if _, filler := fillerWords[f]; !filler {
			words = append(words, f)
		}
	}
	return words
}

// extractNgrams returns the n-rune sliding windows of text.
func extractNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return nil
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+n]))
	}
	return grams
}

// EmbedBatch implements Embedder.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *StaticEmbedder) Dimensions() int                  { return e.dims }
func (e *StaticEmbedder) ModelName() string                { return "static" }
func (e *StaticEmbedder) Available(_ context.Context) bool { return !e.closed.Load() }

// Close marks the embedder closed; later Embed calls fail.
func (e *StaticEmbedder) Close() error {
	e.closed.Store(true)
	return nil
}
