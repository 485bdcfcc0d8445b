package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/nutrimind/mealrag/internal/config"
	"github.com/nutrimind/mealrag/internal/corpus"
	"github.com/nutrimind/mealrag/internal/embed"
	"github.com/nutrimind/mealrag/internal/index"
	"github.com/nutrimind/mealrag/internal/search"
	"github.com/nutrimind/mealrag/internal/store"
	"github.com/nutrimind/mealrag/internal/telemetry"
	"github.com/nutrimind/mealrag/internal/ui"
)

// pipeline holds everything a query needs. Close releases it in reverse
// order of construction.
type pipeline struct {
	cfg      *config.Config
	corpus   *corpus.Corpus
	sparse   *index.SparseIndex
	dense    *index.DenseIndex
	embedder embed.Embedder
	reranker search.Reranker
	metrics  *telemetry.QueryMetrics
	mstore   *telemetry.SQLiteMetricsStore
	engine   *search.Engine
	timings  ui.StageTimings
}

// pipelineOptions controls openPipeline.
type pipelineOptions struct {
	// progress receives stage events while the indices are built
	progress func(ui.ProgressEvent)

	// skipReranker builds the indices only
	skipReranker bool
}

// resolvePath makes a config path relative to --dir.
func resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(projectDir, p)
}

// openPipeline loads the corpus, builds the sparse index, opens or builds
// the dense collection and wires the search engine. On error everything
// opened so far is released and the typed setup error is returned as is.
func openPipeline(ctx context.Context, cfg *config.Config, opts pipelineOptions) (*pipeline, error) {
	p := &pipeline{cfg: cfg}
	if err := p.open(ctx, opts); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *pipeline) open(ctx context.Context, opts pipelineOptions) error {
	cfg := p.cfg
	emit := func(ev ui.ProgressEvent) {
		if opts.progress != nil {
			opts.progress(ev)
		}
	}

	corpusPath := resolvePath(cfg.Corpus.Path)
	emit(ui.ProgressEvent{Stage: ui.StageLoading, Message: corpusPath})
	start := time.Now()
	var err error
	p.corpus, err = corpus.Load(ctx, corpusPath)
	if err != nil {
		return err
	}
	p.timings.Load = time.Since(start)

	emit(ui.ProgressEvent{Stage: ui.StageSparse, Total: p.corpus.Len(), Message: cfg.Sparse.Backend})
	start = time.Now()
	p.sparse, err = index.BuildSparse(ctx, p.corpus, index.SparseConfig{
		Backend: cfg.Sparse.Backend,
		K1:      cfg.Sparse.K1,
		B:       cfg.Sparse.B,
	})
	if err != nil {
		return err
	}
	emit(ui.ProgressEvent{Stage: ui.StageSparse, Current: p.corpus.Len(), Total: p.corpus.Len()})
	p.timings.Sparse = time.Since(start)

	p.embedder, err = newEmbedder(ctx, cfg)
	if err != nil {
		return err
	}

	emit(ui.ProgressEvent{Stage: ui.StageEmbedding, Total: p.corpus.Len(), Message: p.embedder.ModelName()})
	start = time.Now()
	var embedDone time.Time
	p.dense, err = index.BuildOrLoadDense(ctx, p.corpus, p.embedder, index.DenseOptions{
		Dir:           resolvePath(cfg.Index.Dir),
		Collection:    cfg.Index.Collection,
		TrustExisting: cfg.Index.TrustExisting,
		Store: store.VectorStoreConfig{
			M:              cfg.Index.HNSW.M,
			EfSearch:       cfg.Index.HNSW.EfSearch,
			ExactThreshold: cfg.Index.ExactSearchThreshold,
		},
		BatchSize:   cfg.Embeddings.BatchSize,
		LockTimeout: cfg.Index.LockTimeout,
		Progress: func(done, total int) {
			if done >= total {
				embedDone = time.Now()
				emit(ui.ProgressEvent{Stage: ui.StagePersisting, Message: cfg.Index.Collection})
				return
			}
			emit(ui.ProgressEvent{Stage: ui.StageEmbedding, Current: done, Total: total})
		},
	})
	if err != nil {
		return err
	}
	if embedDone.IsZero() {
		p.timings.Embed = time.Since(start)
	} else {
		p.timings.Embed = embedDone.Sub(start)
		p.timings.Persist = time.Since(embedDone)
	}

	if opts.skipReranker {
		return nil
	}

	p.reranker, err = newReranker(ctx, cfg)
	if err != nil {
		return err
	}

	if cfg.Telemetry.Enabled {
		p.metrics, p.mstore = openMetrics(resolvePath(cfg.Telemetry.Path))
	}

	engineOpts := []search.EngineOption{search.WithWeights(weightsFromConfig(cfg))}
	if p.metrics != nil {
		engineOpts = append(engineOpts, search.WithMetrics(p.metrics))
	}
	p.engine, err = search.NewEngine(p.corpus, p.sparse, p.dense, p.reranker, engineOpts...)
	return err
}

// Close releases every resource the pipeline opened.
func (p *pipeline) Close() error {
	var errs []error
	if p.metrics != nil {
		errs = append(errs, p.metrics.Close())
	}
	if p.mstore != nil {
		errs = append(errs, p.mstore.Close())
	}
	if p.reranker != nil {
		errs = append(errs, p.reranker.Close())
	}
	if p.dense != nil {
		errs = append(errs, p.dense.Close())
	}
	if p.embedder != nil {
		errs = append(errs, p.embedder.Close())
	}
	if p.sparse != nil {
		errs = append(errs, p.sparse.Close())
	}
	return errors.Join(errs...)
}

// newEmbedder creates the configured embedding provider.
func newEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	provider, err := embed.ParseProvider(cfg.Embeddings.Provider)
	if err != nil {
		return nil, err
	}
	return embed.NewEmbedder(ctx, embed.FactoryConfig{
		Provider:   provider,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		Host:       cfg.Embeddings.OllamaHost,
		Timeout:    cfg.Embeddings.Timeout,
		CacheSize:  cfg.Embeddings.CacheSize,
	})
}

// newReranker creates the configured reranker. "http" (the default) is a
// cross-encoder server. "lexical" is a local overlap heuristic for offline
// use, not a learned model.
func newReranker(ctx context.Context, cfg *config.Config) (search.Reranker, error) {
	switch strings.ToLower(cfg.Reranker.Provider) {
	case "none":
		return search.NoOpReranker{}, nil
	case "", "http":
		rcfg := search.DefaultHTTPRerankerConfig()
		rcfg.Endpoint = cfg.Reranker.Endpoint
		if cfg.Reranker.Model != "" {
			rcfg.Model = cfg.Reranker.Model
		}
		if cfg.Reranker.Timeout > 0 {
			rcfg.Timeout = cfg.Reranker.Timeout
		}
		r, err := search.NewHTTPReranker(ctx, rcfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "lexical":
		return search.NewLexicalReranker(), nil
	default:
		return nil, fmt.Errorf("unknown reranker provider %q", cfg.Reranker.Provider)
	}
}

// openMetrics opens the telemetry store. Telemetry never fails a query,
// so a store that cannot be opened only disables persistence.
func openMetrics(path string) (*telemetry.QueryMetrics, *telemetry.SQLiteMetricsStore) {
	metricsStore, err := telemetry.OpenSQLiteMetricsStore(path)
	if err != nil {
		slog.Warn("telemetry_unavailable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return telemetry.NewQueryMetrics(nil), nil
	}

	// One CLI process runs a handful of queries; Close does the only flush.
	cfg := telemetry.DefaultQueryMetricsConfig()
	cfg.FlushInterval = 0
	return telemetry.NewQueryMetricsWithConfig(metricsStore, cfg), metricsStore
}

func weightsFromConfig(cfg *config.Config) search.Weights {
	return search.Weights{
		BM25:        cfg.Search.BM25Weight,
		Semantic:    cfg.Search.SemanticWeight,
		RRFConstant: float64(cfg.Search.RRFConstant),
	}
}
