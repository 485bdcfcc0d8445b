package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	merrors "github.com/nutrimind/mealrag/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama serves /api/tags and /api/embed with 3-dimensional vectors.
type fakeOllama struct {
	models     []string
	failEmbeds int32 // number of embed calls that return 503 first
	status     int   // status for failing calls
	embedCalls atomic.Int32
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		resp := ollamaModelListResponse{}
		for _, m := range f.models {
			resp.Models = append(resp.Models, ollamaModelInfo{Name: m})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		n := f.embedCalls.Add(1)
		if n <= f.failEmbeds {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte("busy"))
			return
		}

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, s := range v {
				inputs = append(inputs, s.(string))
			}
		}

		resp := ollamaEmbedResponse{Model: req.Model}
		for _, in := range inputs {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(len(in)), 0, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func fastOllamaRetry() merrors.RetryConfig {
	return merrors.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestOllamaEmbedder_ResolvesModelAndDimensions(t *testing.T) {
	// Given: an Ollama with only a tagged fallback model installed
	fake := &fakeOllama{models: []string{"mxbai-embed-large:latest"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	// When: creating the embedder
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Retry: fastOllamaRetry()})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// Then: the fallback is selected and dimensions are detected
	assert.Equal(t, "mxbai-embed-large:latest", e.ModelName())
	assert.Equal(t, 3, e.Dimensions())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_NoModel(t *testing.T) {
	fake := &fakeOllama{models: []string{"llama3"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no embedding model available")
}

func TestOllamaEmbedder_BatchPreservesOrderAndSkipsBlanks(t *testing.T) {
	fake := &fakeOllama{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 3, BatchSize: 2, SkipHealthCheck: true, Retry: fastOllamaRetry(),
	})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", " ", "abc", "ab"})

	require.NoError(t, err)
	require.Len(t, vecs, 4)
	assert.Equal(t, []float32{1, 0, 0}, vecs[0])
	assert.Equal(t, []float32{0, 0, 0}, vecs[1])
	assert.Equal(t, []float32{1, 0, 0}, vecs[2], "normalized")
	// Three non-blank texts in batches of two
	assert.Equal(t, int32(2), fake.embedCalls.Load())
}

func TestOllamaEmbedder_RetriesServerErrors(t *testing.T) {
	fake := &fakeOllama{failEmbeds: 2, status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 3, SkipHealthCheck: true, Retry: fastOllamaRetry(),
	})
	require.NoError(t, err)

	v, err := e.Embed(context.Background(), "soup")

	require.NoError(t, err)
	assert.Len(t, v, 3)
	assert.Equal(t, int32(3), fake.embedCalls.Load())
}

func TestOllamaEmbedder_DoesNotRetryClientErrors(t *testing.T) {
	fake := &fakeOllama{failEmbeds: 5, status: http.StatusBadRequest}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 3, SkipHealthCheck: true, Retry: fastOllamaRetry(),
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "soup")

	require.Error(t, err)
	var se *statusError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, int32(1), fake.embedCalls.Load())
}

func TestOllamaEmbedder_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: url, ConnectTimeout: 200 * time.Millisecond})

	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(&statusError{Code: 500}))
	assert.True(t, isTransient(&statusError{Code: 429}))
	assert.False(t, isTransient(&statusError{Code: 404}))
	assert.False(t, isTransient(context.Canceled))
	assert.True(t, isTransient(assert.AnError))
}

func TestMatchModel(t *testing.T) {
	installed := []string{"nomic-embed-text:latest", "bge-m3:567m", "Llama3:8b"}

	tests := []struct {
		name       string
		candidates []string
		want       string
		found      bool
	}{
		{"untagged candidate matches tagged install", []string{"nomic-embed-text"}, "nomic-embed-text:latest", true},
		{"exact tag", []string{"bge-m3:567m"}, "bge-m3:567m", true},
		{"other tag falls back to base name", []string{"bge-m3:latest"}, "bge-m3:567m", true},
		{"case insensitive", []string{"llama3"}, "Llama3:8b", true},
		{"first present candidate wins", []string{"all-minilm", "bge-m3", "nomic-embed-text"}, "bge-m3:567m", true},
		{"none installed", []string{"all-minilm"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := matchModel(installed, tt.candidates...)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
