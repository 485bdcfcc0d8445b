package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nutrimind/mealrag/internal/corpus"
	"github.com/nutrimind/mealrag/internal/embed"
	merrors "github.com/nutrimind/mealrag/internal/errors"
	"github.com/nutrimind/mealrag/internal/store"
)

// Persisted collection layout under <Dir>/<Collection>/.
const (
	ManifestFile = "manifest.json"
	VectorsFile  = "vectors.hnsw"

	// ManifestVersion is bumped when the on-disk layout changes.
	ManifestVersion = 1

	// DefaultCollection is used when DenseOptions.Collection is empty.
	DefaultCollection = "meals"

	// DefaultConcurrency is the number of embedding batches in flight.
	DefaultConcurrency = 4
)

// DenseOptions configures BuildOrLoadDense.
type DenseOptions struct {
	// Dir is the parent directory of all persisted collections
	Dir string

	// Collection names the persisted collection (default "meals")
	Collection string

	// TrustExisting reuses a persisted collection even if the corpus
	// checksum changed. Model and dimensions are still checked.
	TrustExisting bool

	// Store configures the vector store. Dimensions is taken from the embedder.
	Store store.VectorStoreConfig

	// BatchSize is the number of texts per EmbedBatch call
	BatchSize int

	// Concurrency bounds the embedding batches in flight
	Concurrency int

	// LockTimeout bounds the wait for the build lock. Zero waits until ctx is done.
	LockTimeout time.Duration

	// Progress is called after each embedded batch. Calls are serialised.
	Progress func(done, total int)
}

// Manifest is the sentinel written after a collection is fully persisted.
// A collection without a valid manifest is treated as absent.
type Manifest struct {
	Version        int       `json:"version"`
	Model          string    `json:"model"`
	Dimensions     int       `json:"dimensions"`
	CorpusChecksum string    `json:"corpus_checksum"`
	Count          int       `json:"count"`
	CreatedAt      time.Time `json:"created_at"`
}

// DenseHit is one semantic match.
type DenseHit struct {
	Record     corpus.Record
	Rank       int // 1-based
	Similarity float64
}

// DenseIndex answers semantic queries over a corpus.
type DenseIndex struct {
	corpus   *corpus.Corpus
	embedder embed.Embedder
	store    *store.HNSWStore
	manifest Manifest

	// built is true when this process embedded the corpus
	built bool
}

// CollectionDir returns the directory holding a persisted collection.
func CollectionDir(dir, collection string) string {
	if collection == "" {
		collection = DefaultCollection
	}
	return filepath.Join(dir, collection)
}

func lockPath(dir, collection string) string {
	if collection == "" {
		collection = DefaultCollection
	}
	return filepath.Join(dir, collection+".lock")
}

// BuildOrLoadDense opens the persisted collection for c if its manifest
// matches the corpus and embedder, and otherwise embeds every record and
// persists a fresh collection. The build is serialised across processes.
func BuildOrLoadDense(ctx context.Context, c *corpus.Corpus, e embed.Embedder, opts DenseOptions) (*DenseIndex, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("dense index directory is required")
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}

	lockCtx := ctx
	if opts.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, opts.LockTimeout)
		defer cancel()
	}

	lock := embed.NewFileLock(lockPath(opts.Dir, opts.Collection))
	if err := lock.LockContext(lockCtx); err != nil {
		return nil, fmt.Errorf("dense index %q is locked: %w", opts.Collection, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("dense_lock_release_failed", slog.String("error", err.Error()))
		}
	}()

	collDir := CollectionDir(opts.Dir, opts.Collection)
	want := Manifest{
		Version:        ManifestVersion,
		Model:          e.ModelName(),
		Dimensions:     e.Dimensions(),
		CorpusChecksum: c.Checksum(),
		Count:          c.Len(),
	}

	existing, err := ReadManifest(collDir)
	switch {
	case err == nil:
		if reason := staleReason(existing, want, opts.TrustExisting); reason != "" {
			slog.Warn("dense_index_stale",
				slog.String("collection", opts.Collection),
				slog.String("reason", reason))
			break
		}
		idx, loadErr := loadDense(c, e, collDir, *existing, opts.Store)
		if loadErr == nil {
			slog.Info("dense_index_loaded",
				slog.String("collection", opts.Collection),
				slog.Int("vectors", existing.Count))
			return idx, nil
		}
		slog.Warn("dense_index_corrupt",
			slog.String("collection", opts.Collection),
			slog.String("error", loadErr.Error()))
	case errors.Is(err, os.ErrNotExist):
	default:
		slog.Warn("dense_manifest_invalid",
			slog.String("collection", opts.Collection),
			slog.String("error", err.Error()))
	}

	return buildDense(ctx, c, e, collDir, want, opts)
}

// staleReason explains why a persisted manifest cannot serve the current
// corpus and embedder, or returns "" when it can.
func staleReason(have *Manifest, want Manifest, trustExisting bool) string {
	switch {
	case have.Version != want.Version:
		return fmt.Sprintf("manifest version %d, want %d", have.Version, want.Version)
	case have.Model != want.Model:
		return fmt.Sprintf("model %q, want %q", have.Model, want.Model)
	case have.Dimensions != want.Dimensions:
		return fmt.Sprintf("dimensions %d, want %d", have.Dimensions, want.Dimensions)
	case trustExisting:
		return ""
	case have.CorpusChecksum != want.CorpusChecksum:
		return "corpus checksum changed"
	case have.Count != want.Count:
		return fmt.Sprintf("vector count %d, want %d", have.Count, want.Count)
	}
	return ""
}

func newVectorStore(dims int, cfg store.VectorStoreConfig) (*store.HNSWStore, error) {
	cfg.Dimensions = dims
	return store.NewHNSWStore(cfg)
}

func loadDense(c *corpus.Corpus, e embed.Embedder, collDir string, m Manifest, cfg store.VectorStoreConfig) (*DenseIndex, error) {
	vs, err := newVectorStore(m.Dimensions, cfg)
	if err != nil {
		return nil, err
	}
	if err := vs.Load(filepath.Join(collDir, VectorsFile)); err != nil {
		_ = vs.Close()
		return nil, err
	}
	return &DenseIndex{corpus: c, embedder: e, store: vs, manifest: m}, nil
}

func buildDense(ctx context.Context, c *corpus.Corpus, e embed.Embedder, collDir string, m Manifest, opts DenseOptions) (*DenseIndex, error) {
	start := time.Now()

	// Dropping the old directory drops its manifest before any new vectors land.
	if err := os.RemoveAll(collDir); err != nil {
		return nil, fmt.Errorf("remove stale collection: %w", err)
	}
	if err := os.MkdirAll(collDir, 0755); err != nil {
		return nil, fmt.Errorf("create collection directory: %w", err)
	}

	vectors, err := embedCorpus(ctx, c, e, opts)
	if err != nil {
		return nil, err
	}

	dims := m.Dimensions
	if len(vectors) > 0 && len(vectors[0]) > 0 {
		dims = len(vectors[0])
	}
	if dims <= 0 {
		return nil, merrors.IndexUnavailableError(
			fmt.Sprintf("embedder %q reported no dimensions", e.ModelName()), nil)
	}
	m.Dimensions = dims

	vs, err := newVectorStore(dims, opts.Store)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, len(vectors))
	for i := range ids {
		ids[i] = uint64(c.At(i).SourceIndex)
	}
	if err := vs.Add(ctx, ids, vectors); err != nil {
		_ = vs.Close()
		return nil, fmt.Errorf("add vectors: %w", err)
	}

	if err := vs.Save(filepath.Join(collDir, VectorsFile)); err != nil {
		_ = vs.Close()
		return nil, fmt.Errorf("save vectors: %w", err)
	}

	m.CreatedAt = time.Now().UTC()
	if err := writeManifest(collDir, m); err != nil {
		_ = vs.Close()
		return nil, err
	}

	slog.Info("dense_index_built",
		slog.String("model", m.Model),
		slog.Int("vectors", m.Count),
		slog.Int("dimensions", m.Dimensions),
		slog.Duration("duration", time.Since(start)))

	return &DenseIndex{corpus: c, embedder: e, store: vs, manifest: m, built: true}, nil
}

// embedCorpus embeds every record text, keeping corpus order.
func embedCorpus(ctx context.Context, c *corpus.Corpus, e embed.Embedder, opts DenseOptions) ([][]float32, error) {
	texts := c.Texts()
	total := len(texts)
	vectors := make([][]float32, total)
	if total == 0 {
		return vectors, nil
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	batchSize = min(batchSize, embed.MaxBatchSize)

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	progress := make(chan int, concurrency)
	reported := make(chan struct{})
	go func() {
		defer close(reported)
		done := 0
		for n := range progress {
			done += n
			if opts.Progress != nil {
				opts.Progress(done, total)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for start := 0; start < total; start += batchSize {
		end := min(start+batchSize, total)
		g.Go(func() error {
			batch, err := e.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(batch) != end-start {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), end-start)
			}
			copy(vectors[start:end], batch)
			progress <- end - start
			return nil
		})
	}
	err := g.Wait()
	close(progress)
	<-reported

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, merrors.IndexUnavailableError(
			fmt.Sprintf("embedding corpus with %q failed", e.ModelName()), err)
	}
	return vectors, nil
}

// Query embeds text and returns at most min(k, corpus size) records ordered
// by cosine similarity, ties broken by lowest SourceIndex.
func (d *DenseIndex) Query(ctx context.Context, text string, k int) ([]DenseHit, error) {
	k = min(k, d.corpus.Len())
	if k <= 0 {
		return []DenseHit{}, nil
	}

	vec, err := d.embedder.Embed(ctx, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, merrors.IndexUnavailableError("embedding query failed", err)
	}

	results, err := d.store.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("dense query: %w", err)
	}

	hits := make([]DenseHit, 0, len(results))
	for _, r := range results {
		i := int(r.ID)
		if i < 0 || i >= d.corpus.Len() {
			continue
		}
		hits = append(hits, DenseHit{
			Record:     d.corpus.At(i),
			Rank:       len(hits) + 1,
			Similarity: float64(r.Score),
		})
	}
	return hits, nil
}

// Manifest returns the manifest of the open collection.
func (d *DenseIndex) Manifest() Manifest {
	return d.manifest
}

// Built reports whether the corpus was embedded by this process rather
// than loaded from disk.
func (d *DenseIndex) Built() bool {
	return d.built
}

// Count returns the number of indexed vectors.
func (d *DenseIndex) Count() int {
	return d.store.Count()
}

// Close releases the vector store. The embedder is owned by the caller.
func (d *DenseIndex) Close() error {
	return d.store.Close()
}

// ReadManifest reads the sentinel of the collection in collDir.
// A missing manifest returns an error wrapping os.ErrNotExist.
func ReadManifest(collDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(collDir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Model == "" || m.Dimensions <= 0 {
		return nil, fmt.Errorf("manifest is incomplete")
	}
	return &m, nil
}

func writeManifest(collDir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	path := filepath.Join(collDir, ManifestFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit manifest: %w", err)
	}
	return nil
}

// CollectionInfo describes a persisted collection.
type CollectionInfo struct {
	Path      string
	Manifest  *Manifest
	SizeBytes int64
}

// Info reports the persisted collection without opening it.
// A collection without a manifest returns an error wrapping os.ErrNotExist.
func Info(dir, collection string) (*CollectionInfo, error) {
	collDir := CollectionDir(dir, collection)
	m, err := ReadManifest(collDir)
	if err != nil {
		return nil, err
	}

	var size int64
	err = filepath.WalkDir(collDir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		size += fi.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("measure collection: %w", err)
	}

	return &CollectionInfo{Path: collDir, Manifest: m, SizeBytes: size}, nil
}

// Evict removes a persisted collection, waiting for any build in progress.
// Evicting a missing collection is not an error.
func Evict(ctx context.Context, dir, collection string) error {
	lock := embed.NewFileLock(lockPath(dir, collection))
	if err := lock.LockContext(ctx); err != nil {
		return fmt.Errorf("collection is locked: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	if err := os.RemoveAll(CollectionDir(dir, collection)); err != nil {
		return fmt.Errorf("evict collection: %w", err)
	}
	return nil
}
