package embed

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	merrors "github.com/nutrimind/mealrag/internal/errors"
)

const (
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a general-purpose English text embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout bounds the model lookup at construction.
	OllamaConnectTimeout = 5 * time.Second

	ollamaIdleConns = 4
)

// FallbackOllamaModels are tried in order when the configured model is
// not installed.
var FallbackOllamaModels = []string{
	"mxbai-embed-large",
	"bge-m3",
	"all-minilm",
}

// OllamaConfig configures an OllamaEmbedder. Zero fields take the values
// of DefaultOllamaConfig.
type OllamaConfig struct {
	Host           string
	Model          string
	FallbackModels []string

	// Dimensions skips probing the model for its width when non-zero.
	Dimensions int

	// BatchSize caps the texts sent per /api/embed request.
	BatchSize int

	// Timeout bounds each request attempt.
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Retry          merrors.RetryConfig

	// SkipHealthCheck trusts Model and Dimensions without contacting
	// the server at construction.
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns the configuration for a local Ollama.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		BatchSize:      DefaultBatchSize,
		Timeout:        DefaultTimeout,
		ConnectTimeout: OllamaConnectTimeout,
		Retry:          merrors.DefaultRetryConfig(),
	}
}

func (c *OllamaConfig) applyDefaults() {
	d := DefaultOllamaConfig()
	c.Host = strings.TrimRight(cmp.Or(c.Host, d.Host), "/")
	c.Model = cmp.Or(c.Model, d.Model)
	if c.FallbackModels == nil {
		c.FallbackModels = d.FallbackModels
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	c.BatchSize = min(c.BatchSize, MaxBatchSize)
	c.Timeout = cmp.Or(c.Timeout, d.Timeout)
	c.ConnectTimeout = cmp.Or(c.ConnectTimeout, d.ConnectTimeout)
	if c.Retry.Multiplier == 0 {
		c.Retry = d.Retry
	}
	c.Retry.ShouldRetry = isTransient
}

// ollamaEmbedRequest is the /api/embed body. Input is a string for one
// text and a list for a batch.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ollamaModelListResponse is the /api/tags body.
type ollamaModelListResponse struct {
	Models []ollamaModelInfo `json:"models"`
}

type ollamaModelInfo struct {
	Name string `json:"name"`
}

// statusError is a non-200 response from Ollama.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ollama returned status %d: %s", e.Code, e.Body)
}

// isTransient reports whether a failed request is worth retrying. Client
// errors other than 429 are permanent.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}

// OllamaEmbedder embeds meal texts and queries through a local Ollama
// server. Vectors are normalized to unit length.
type OllamaEmbedder struct {
	config    OllamaConfig
	client    *http.Client
	transport *http.Transport
	modelName string
	dims      int
	closed    atomic.Bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to Ollama. Unless SkipHealthCheck is set it
// picks the first installed model among Model and FallbackModels and, when
// Dimensions is zero, embeds a probe text to learn the vector width.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	cfg.applyDefaults()

	transport := &http.Transport{
		MaxIdleConns:        ollamaIdleConns,
		MaxIdleConnsPerHost: ollamaIdleConns,
		IdleConnTimeout:     10 * time.Second,
	}
	e := &OllamaEmbedder{
		config:    cfg,
		client:    &http.Client{Transport: transport},
		transport: transport,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		if err := e.resolve(ctx); err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
	}
	if e.dims == 0 {
		transport.CloseIdleConnections()
		return nil, fmt.Errorf("embedding dimensions unknown: set embeddings.dimensions or enable the health check")
	}

	slog.Debug("ollama_embedder_ready",
		slog.String("host", cfg.Host),
		slog.String("model", e.modelName),
		slog.Int("dimensions", e.dims))
	return e, nil
}

// resolve selects the model and learns its dimensions.
func (e *OllamaEmbedder) resolve(ctx context.Context) error {
	lookupCtx, cancel := context.WithTimeout(ctx, e.config.ConnectTimeout)
	installed, err := e.installedModels(lookupCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to Ollama at %s: %w", e.config.Host, err)
	}

	candidates := append([]string{e.config.Model}, e.config.FallbackModels...)
	name, ok := matchModel(installed, candidates...)
	if !ok {
		return fmt.Errorf("no embedding model available (tried %s)", strings.Join(candidates, ", "))
	}
	e.modelName = name

	if e.dims > 0 {
		return nil
	}
	// The first request may load the model into memory.
	probeCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()
	vecs, err := e.post(probeCtx, []string{"dimension probe"})
	if err != nil {
		return fmt.Errorf("failed to detect embedding dimensions: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return fmt.Errorf("failed to detect embedding dimensions: empty embedding returned")
	}
	e.dims = len(vecs[0])
	return nil
}

// matchModel returns the installed name of the first candidate present.
// A candidate without a tag matches any tag of the same model.
func matchModel(installed []string, candidates ...string) (string, bool) {
	byName := make(map[string]string, 2*len(installed))
	for _, m := range installed {
		lower := strings.ToLower(m)
		byName[lower] = m
		base, _, _ := strings.Cut(lower, ":")
		if _, taken := byName[base]; !taken {
			byName[base] = m
		}
	}
	for _, c := range candidates {
		lower := strings.ToLower(c)
		if m, ok := byName[lower]; ok {
			return m, true
		}
		base, _, _ := strings.Cut(lower, ":")
		if m, ok := byName[base]; ok {
			return m, true
		}
	}
	return "", false
}

func (e *OllamaEmbedder) installedModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	var list ollamaModelListResponse
	if err := e.do(req, &list); err != nil {
		return nil, err
	}
	names := make([]string, len(list.Models))
	for i, m := range list.Models {
		names[i] = m.Name
	}
	return names, nil
}

// do sends req and decodes a 200 JSON response into out.
func (e *OllamaEmbedder) do(req *http.Request, out any) error {
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// post performs one /api/embed request for texts.
func (e *OllamaEmbedder) post(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp ollamaEmbedResponse
	if err := e.do(req, &resp); err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(resp.Embeddings))
	for i, raw := range resp.Embeddings {
		if e.dims > 0 && len(raw) != e.dims {
			return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(raw), e.dims)
		}
		vec := make([]float32, len(raw))
		for j, v := range raw {
			vec[j] = float32(v)
		}
		vecs[i] = normalizeVector(vec)
	}
	return vecs, nil
}

// embedWithRetry bounds each attempt by Timeout and retries transient
// failures with backoff.
func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	attempt := 0
	return merrors.RetryWithResult(ctx, e.config.Retry, func() ([][]float32, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()

		vecs, err := e.post(attemptCtx, texts)
		if err != nil {
			slog.Debug("embedding_attempt_failed",
				slog.Int("attempt", attempt),
				slog.Int("texts", len(texts)),
				slog.String("error", err.Error()))
		}
		return vecs, err
	})
}

var errOllamaClosed = errors.New("ollama embedder is closed")

// Embed implements Embedder. Blank text maps to the zero vector without a
// request.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder, sending at most BatchSize texts per
// request. Blank texts map to zero vectors without a request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.closed.Load() {
		return nil, errOllamaClosed
	}

	out := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			out[i] = make([]float32, e.dims)
			continue
		}
		pending = append(pending, i)
	}

	for chunk := range slices.Chunk(pending, e.config.BatchSize) {
		batch := make([]string, len(chunk))
		for j, i := range chunk {
			batch[j] = texts[i]
		}
		vecs, err := e.embedWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		if len(vecs) != len(chunk) {
			return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(vecs), len(chunk))
		}
		for j, i := range chunk {
			out[i] = vecs[j]
		}
	}
	return out, nil
}

func (e *OllamaEmbedder) Dimensions() int   { return e.dims }
func (e *OllamaEmbedder) ModelName() string { return e.modelName }

// Available reports whether Ollama answers and still has the model.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.closed.Load() {
		return false
	}
	installed, err := e.installedModels(ctx)
	if err != nil {
		return false
	}
	_, ok := matchModel(installed, e.modelName)
	return ok
}

// Close releases idle connections. It is safe to call more than once.
func (e *OllamaEmbedder) Close() error {
	if e.closed.CompareAndSwap(false, true) {
		e.transport.CloseIdleConnections()
	}
	return nil
}
