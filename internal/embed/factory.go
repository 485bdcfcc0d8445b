package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	merrors "github.com/nutrimind/mealrag/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderAuto tries Ollama and falls back to static when it is unreachable
	ProviderAuto ProviderType = ""

	// ProviderOllama uses the Ollama API and fails if it is unavailable
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings
	ProviderStatic ProviderType = "static"
)

// String returns the string representation of ProviderType
func (p ProviderType) String() string {
	if p == ProviderAuto {
		return "auto"
	}
	return string(p)
}

// ParseProvider converts a config string to ProviderType.
func ParseProvider(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ProviderAuto, nil
	case "ollama":
		return ProviderOllama, nil
	case "static":
		return ProviderStatic, nil
	default:
		return "", fmt.Errorf("unknown embedding provider %q (valid: ollama, static, auto)", s)
	}
}

// FactoryConfig selects and configures an embedder.
type FactoryConfig struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	BatchSize  int
	Host       string
	Timeout    time.Duration

	// CacheSize bounds the query cache; negative disables it
	CacheSize int
}

// NewEmbedder creates an embedder for cfg.Provider, wrapped in a
// CachedEmbedder unless CacheSize is negative.
//
// With ProviderAuto an unreachable Ollama falls back to the static
// embedder with a warning. An explicit ProviderOllama never falls back.
func NewEmbedder(ctx context.Context, cfg FactoryConfig) (Embedder, error) {
	var embedder Embedder

	switch cfg.Provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder(cfg.Dimensions)

	case ProviderOllama:
		e, err := newOllama(ctx, cfg)
		if err != nil {
			return nil, merrors.IndexUnavailableError("ollama unavailable", err).
				WithDetail("host", cfg.Host).
				WithSuggestion(fmt.Sprintf("Start Ollama (ollama serve) and pull a model (ollama pull %s), or set MEALRAG_EMBEDDER=static", modelOrDefault(cfg.Model)))
		}
		embedder = e

	case ProviderAuto:
		e, err := newOllama(ctx, cfg)
		if err != nil {
			slog.Warn("embedder_fallback",
				slog.String("from", string(ProviderOllama)),
				slog.String("to", string(ProviderStatic)),
				slog.String("reason", err.Error()))
			embedder = NewStaticEmbedder(0)
		} else {
			embedder = e
		}

	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	if cfg.CacheSize >= 0 {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}

	return embedder, nil
}

func newOllama(ctx context.Context, cfg FactoryConfig) (*OllamaEmbedder, error) {
	oc := DefaultOllamaConfig()
	if cfg.Host != "" {
		oc.Host = cfg.Host
	}
	if cfg.Model != "" {
		oc.Model = cfg.Model
		// An explicit model is not silently swapped for another
		oc.FallbackModels = []string{}
	}
	if cfg.BatchSize > 0 {
		oc.BatchSize = cfg.BatchSize
	}
	if cfg.Timeout > 0 {
		oc.Timeout = cfg.Timeout
	}
	oc.Dimensions = cfg.Dimensions
	return NewOllamaEmbedder(ctx, oc)
}

func modelOrDefault(model string) string {
	if model == "" {
		return DefaultOllamaModel
	}
	return model
}

// EmbedderInfo contains information about an embedder
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo describes embedder, looking through any cache wrapper.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}

	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	default:
		info.Provider = ProviderStatic
	}

	return info
}
