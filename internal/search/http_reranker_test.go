package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "github.com/nutrimind/mealrag/internal/errors"
)

// fakeCrossEncoder scores each document by its length, returning results
// sorted by score like TEI and Infinity do.
func fakeCrossEncoder(t *testing.T, status *atomic.Int32, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/rerank", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if code := status.Load(); code != http.StatusOK {
			http.Error(w, "model not loaded", int(code))
			return
		}
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assert.Equal(t, DefaultRerankerModel, req.Model)
		assert.Equal(t, len(req.Documents), req.TopK)

		var resp rerankResponse
		for i := len(req.Documents) - 1; i >= 0; i-- {
			resp.Results = append(resp.Results, struct {
				Index int     `json:"index"`
				Score float64 `json:"score"`
			}{Index: i, Score: float64(len(req.Documents[i]))})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPReranker_Score(t *testing.T) {
	// Given: a healthy cross-encoder server
	var status, calls atomic.Int32
	status.Store(http.StatusOK)
	srv := fakeCrossEncoder(t, &status, &calls)

	r, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{Endpoint: srv.URL})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	// When: scoring texts
	scores, err := r.Score(context.Background(), "q", []string{"ab", "abcd", "a"})

	// Then: scores are mapped back to input order
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 1}, scores)
	assert.True(t, r.Available(context.Background()))
	assert.Equal(t, "http", r.Name())
}

func TestHTTPReranker_EmptyInputSkipsServer(t *testing.T) {
	var status, calls atomic.Int32
	status.Store(http.StatusOK)
	srv := fakeCrossEncoder(t, &status, &calls)

	r, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	scores, err := r.Score(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
	assert.Zero(t, calls.Load())
}

func TestHTTPReranker_HealthCheckFails(t *testing.T) {
	// Given: nothing listening
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	// When: creating the client
	_, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{Endpoint: srv.URL})

	// Then: it reports the reranker unavailable
	require.Error(t, err)
	assert.ErrorIs(t, err, merrors.ErrRerankUnavailable)
}

func TestHTTPReranker_CircuitOpensAfterFailures(t *testing.T) {
	// Given: a server whose model fails to load
	var status, calls atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := fakeCrossEncoder(t, &status, &calls)

	r, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{
		Endpoint:     srv.URL,
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	require.NoError(t, err)

	// When: scoring repeatedly
	for i := 0; i < 2; i++ {
		_, err := r.Score(context.Background(), "q", []string{"a"})
		require.Error(t, err)
	}
	_, err = r.Score(context.Background(), "q", []string{"a"})

	// Then: the third call fails fast without reaching the server
	assert.ErrorIs(t, err, merrors.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())

	// And: Rerank reports it as unavailable
	_, err = Rerank(context.Background(), r, "q", fusedOf("a"), 1)
	assert.ErrorIs(t, err, merrors.ErrRerankUnavailable)
}

func TestHTTPReranker_Closed(t *testing.T) {
	var status, calls atomic.Int32
	status.Store(http.StatusOK)
	srv := fakeCrossEncoder(t, &status, &calls)

	r, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{Endpoint: srv.URL})
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.Score(context.Background(), "q", []string{"a"})
	assert.Error(t, err)
	assert.False(t, r.Available(context.Background()))
}
