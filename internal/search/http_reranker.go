package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	merrors "github.com/nutrimind/mealrag/internal/errors"
)

// HTTP reranker configuration defaults
const (
	DefaultRerankerEndpoint = "http://localhost:8080"
	DefaultRerankerModel    = "cross-encoder/ms-marco-MiniLM-L-6-v2"
	DefaultRerankerTimeout  = 30 * time.Second
)

// HTTPRerankerConfig holds configuration for a cross-encoder server client.
type HTTPRerankerConfig struct {
	// Endpoint is the server base URL (default: http://localhost:8080)
	Endpoint string

	// Model is sent with every request; servers hosting one model ignore it
	Model string

	// Timeout bounds each rerank request (default: 30s)
	Timeout time.Duration

	// MaxFailures opens the circuit after this many consecutive failures (default: 3)
	MaxFailures int

	// ResetTimeout is how long the circuit stays open (default: 30s)
	ResetTimeout time.Duration

	// SkipHealthCheck skips health check during creation (for testing)
	SkipHealthCheck bool
}

// DefaultHTTPRerankerConfig returns default reranker configuration
func DefaultHTTPRerankerConfig() HTTPRerankerConfig {
	return HTTPRerankerConfig{
		Endpoint:     DefaultRerankerEndpoint,
		Model:        DefaultRerankerModel,
		Timeout:      DefaultRerankerTimeout,
		MaxFailures:  3,
		ResetTimeout: 30 * time.Second,
	}
}

// HTTPReranker scores pairs with a cross-encoder behind an HTTP API:
// POST /rerank {query, documents, model, top_k} -> {results: [{index, score}]}.
// Repeated failures open a circuit breaker so queries fail fast.
type HTTPReranker struct {
	client  *http.Client
	config  HTTPRerankerConfig
	breaker *merrors.CircuitBreaker
	mu      sync.RWMutex
	closed  bool
}

// Verify interface implementation at compile time
var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a reranker client and checks the server is up.
func NewHTTPReranker(ctx context.Context, cfg HTTPRerankerConfig) (*HTTPReranker, error) {
	defaults := DefaultHTTPRerankerConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaults.MaxFailures
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = defaults.ResetTimeout
	}

	r := &HTTPReranker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config: cfg,
		breaker: merrors.NewCircuitBreaker("reranker",
			merrors.WithMaxFailures(cfg.MaxFailures),
			merrors.WithResetTimeout(cfg.ResetTimeout)),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := r.healthCheck(checkCtx); err != nil {
			return nil, merrors.RerankUnavailableError("reranker health check failed", err).
				WithDetail("endpoint", cfg.Endpoint)
		}
	}

	slog.Debug("http_reranker_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))

	return r, nil
}

func (r *HTTPReranker) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to reranker: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reranker unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Score implements Reranker. The server must return a score for every text.
func (r *HTTPReranker) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("reranker is closed")
	}

	if len(texts) == 0 {
		return []float64{}, nil
	}

	var scores []float64
	err := r.breaker.Execute(func() error {
		var callErr error
		scores, callErr = r.score(ctx, query, texts)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return scores, nil
}

func (r *HTTPReranker) score(ctx context.Context, query string, texts []string) ([]float64, error) {
	start := time.Now()

	body, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: texts,
		Model:     r.config.Model,
		TopK:      len(texts),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, r.config.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(msg))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, res := range result.Results {
		if res.Index < 0 || res.Index >= len(texts) {
			return nil, fmt.Errorf("rerank response index %d out of range", res.Index)
		}
		scores[res.Index] = res.Score
		seen[res.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response missing score for document %d", i)
		}
	}

	slog.Debug("reranker_http_timing",
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("doc_count", len(texts)),
		slog.Int("payload_bytes", len(body)),
		slog.Duration("total", time.Since(start)))

	return scores, nil
}

// Available checks if the reranker service is reachable
func (r *HTTPReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.healthCheck(checkCtx) == nil
}

// Name returns "http".
func (r *HTTPReranker) Name() string { return "http" }

// Close releases idle connections.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if transport, ok := r.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

// truncateQuery truncates a query string for logging
func truncateQuery(q string, maxLen int) string {
	if len(q) <= maxLen {
		return q
	}
	return q[:maxLen] + "..."
}
