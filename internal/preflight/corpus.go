package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nutrimind/mealrag/internal/corpus"
	"github.com/nutrimind/mealrag/internal/embed"
	"github.com/nutrimind/mealrag/internal/index"
)

// CheckCorpus loads the corpus and returns its checksum for the index check.
func (c *Checker) CheckCorpus(ctx context.Context, path string) (CheckResult, string) {
	result := CheckResult{Name: "corpus", Required: true, Details: path}

	cp, err := corpus.Load(ctx, path)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result, ""
	}

	if cp.Len() == 0 {
		result.Status = StatusWarn
		result.Message = "corpus is empty, every query returns no candidates"
		return result, cp.Checksum()
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d meals", cp.Len())
	return result, cp.Checksum()
}

// CheckDenseIndex inspects the persisted collection. A missing or stale
// collection warns because the next build recreates it. checksum and e may
// be empty when unknown.
func (c *Checker) CheckDenseIndex(dir, collection, checksum string, e embed.Embedder) CheckResult {
	result := CheckResult{Name: "dense_index", Required: false}

	info, err := index.Info(dir, collection)
	if err != nil {
		result.Status = StatusWarn
		if errors.Is(err, os.ErrNotExist) {
			result.Message = fmt.Sprintf("collection %q not built yet", collection)
		} else {
			result.Message = err.Error()
		}
		result.Details = "Run 'mealrag index build'"
		return result
	}

	m := info.Manifest
	result.Details = fmt.Sprintf("%s, model=%s dims=%d", info.Path, m.Model, m.Dimensions)

	switch {
	case checksum != "" && m.CorpusChecksum != checksum:
		result.Status = StatusWarn
		result.Message = "collection is stale, the corpus changed since it was built"
	case e != nil && (m.Model != e.ModelName() || m.Dimensions != e.Dimensions()):
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("collection was built with %s, embedder is %s", m.Model, e.ModelName())
	default:
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%d vectors", m.Count)
	}
	return result
}
