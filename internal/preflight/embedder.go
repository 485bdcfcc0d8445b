package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/nutrimind/mealrag/internal/embed"
)

// serviceTimeout bounds each availability probe.
const serviceTimeout = 5 * time.Second

// CheckEmbedder checks that the embedder answers. Without it no dense index
// can be built or queried.
func (c *Checker) CheckEmbedder(ctx context.Context, e embed.Embedder) CheckResult {
	result := CheckResult{Name: "embedder", Required: true}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	info := embed.GetInfo(ctx, e)
	result.Details = fmt.Sprintf("provider=%s model=%s dims=%d", info.Provider, info.Model, info.Dimensions)
	if !info.Available {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is not reachable", info.Model)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%d dims)", info.Model, info.Dimensions)
	if info.Provider == embed.ProviderStatic {
		result.Status = StatusWarn
		result.Message += ", hash embeddings carry no semantics"
	}
	return result
}

// CheckReranker checks that the reranker answers.
func (c *Checker) CheckReranker(ctx context.Context, r Prober) CheckResult {
	result := CheckResult{Name: "reranker", Required: true}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	if !r.Available(ctx) {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s reranker is not reachable", r.Name())
		result.Details = "Set reranker.provider to lexical to rerank locally"
		return result
	}
	result.Status = StatusPass
	result.Message = r.Name()
	return result
}
