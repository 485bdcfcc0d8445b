package preflight

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nutrimind/mealrag/internal/corpus"
)

type stubProber struct {
	name string
	up   bool
}

func (s stubProber) Available(context.Context) bool { return s.up }
func (s stubProber) Name() string                   { return s.name }

func ptr(v float64) *float64 { return &v }

func testCorpus() *corpus.Corpus {
	return corpus.New([]corpus.Record{
		{Text: "Grilled chicken with rice", Nutrition: corpus.Nutrition{Calories: ptr(450), Protein: ptr(38)}},
		{Text: "Vegan lentil soup", Nutrition: corpus.Nutrition{Calories: ptr(300), Fiber: ptr(12)}},
	})
}

func writeCorpus(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "meals.json")
	require.NoError(t, corpus.Save(context.Background(), path, testCorpus()))
	return path
}
