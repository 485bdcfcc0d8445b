// Package config loads mealrag configuration from defaults, YAML files and
// MEALRAG_* environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mealrag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Corpus     CorpusConfig     `yaml:"corpus" json:"corpus"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Sparse     SparseConfig     `yaml:"sparse" json:"sparse"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// CorpusConfig locates the persisted meal corpus.
type CorpusConfig struct {
	// Path is a .json, .jsonl or .db/.sqlite corpus file.
	Path string `yaml:"path" json:"path"`
}

// IndexConfig configures the persisted dense index.
type IndexConfig struct {
	// Dir is the persistence directory holding one subdirectory per collection.
	Dir string `yaml:"dir" json:"dir"`

	// Collection names the persisted collection inside Dir.
	Collection string `yaml:"collection" json:"collection"`

	// TrustExisting reuses a persisted collection without checking the
	// corpus checksum. Model and dimension checks still apply.
	TrustExisting bool `yaml:"trust_existing" json:"trust_existing"`

	// ExactSearchThreshold is the collection size at or below which queries
	// scan every vector instead of walking the HNSW graph.
	ExactSearchThreshold int `yaml:"exact_search_threshold" json:"exact_search_threshold"`

	// LockTimeout bounds how long a build waits for another process's lock.
	LockTimeout time.Duration `yaml:"lock_timeout" json:"lock_timeout"`

	HNSW HNSWConfig `yaml:"hnsw" json:"hnsw"`
}

// HNSWConfig tunes the HNSW graph.
type HNSWConfig struct {
	M        int `yaml:"m" json:"m"`
	EfSearch int `yaml:"ef_search" json:"ef_search"`
}

// SparseConfig configures the lexical index.
type SparseConfig struct {
	// Backend is "memory" (default), "bleve" or "sqlite".
	Backend string  `yaml:"backend" json:"backend"`
	K1      float64 `yaml:"k1" json:"k1"`
	B       float64 `yaml:"b" json:"b"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "static", or empty for auto-detection
	// (Ollama when reachable, otherwise static).
	Provider   string        `yaml:"provider" json:"provider"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	CacheSize  int           `yaml:"cache_size" json:"cache_size"`
	OllamaHost string        `yaml:"ollama_host" json:"ollama_host"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// RerankerConfig configures the pairwise reranker.
type RerankerConfig struct {
	// Provider is "http" (default), "lexical" or "none". "http" calls a
	// cross-encoder server; "lexical" reranks offline by term overlap.
	Provider string        `yaml:"provider" json:"provider"`
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Model    string        `yaml:"model" json:"model"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// SearchConfig configures query-time parameters.
// Precedence, lowest first:
//  1. User config (~/.config/mealrag/config.yaml)
//  2. Project config (.mealrag.yaml)
//  3. Env vars (MEALRAG_BM25_WEIGHT, MEALRAG_SEMANTIC_WEIGHT, MEALRAG_RRF_CONSTANT)
type SearchConfig struct {
	// IntermediateResults is the per-list retrieval depth.
	IntermediateResults int `yaml:"intermediate_results" json:"intermediate_results"`

	// FinalResults is the reranked output size.
	FinalResults int `yaml:"final_results" json:"final_results"`

	// BM25Weight is the fusion weight of the sparse list (0.0-1.0).
	BM25Weight float64 `yaml:"bm25_weight" json:"bm25_weight"`

	// SemanticWeight is the fusion weight of the dense list (0.0-1.0).
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`

	// RRFConstant is added to each rank before dividing. 0 gives weight/rank.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// Timeout bounds a whole query. 0 disables the deadline.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// TelemetryConfig configures local query telemetry.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// LoggingConfig configures the file logger.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// Project config file names, in lookup order.
const (
	ProjectConfigYAML = ".mealrag.yaml"
	ProjectConfigYML  = ".mealrag.yml"
)

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Corpus: CorpusConfig{
			Path: filepath.Join("local_db", "nutrition_meals.json"),
		},
		Index: IndexConfig{
			Dir:                  filepath.Join("local_db", "rag_db"),
			Collection:           "meal_nutrition_collection",
			ExactSearchThreshold: 2048,
			LockTimeout:          5 * time.Minute,
			HNSW: HNSWConfig{
				M:        16,
				EfSearch: 64,
			},
		},
		Sparse: SparseConfig{
			Backend: "memory",
			K1:      1.2,
			B:       0.75,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "",
			Model:      "",
			Dimensions: 0,
			BatchSize:  32,
			CacheSize:  1000,
			OllamaHost: "",
			Timeout:    60 * time.Second,
		},
		Reranker: RerankerConfig{
			Provider: "http",
			Endpoint: "http://localhost:8787",
			Model:    "cross-encoder/ms-marco-MiniLM-L-6-v2",
			Timeout:  30 * time.Second,
		},
		Search: SearchConfig{
			IntermediateResults: 10,
			FinalResults:        3,
			BM25Weight:          0.5,
			SemanticWeight:      0.5,
			RRFConstant:         0,
			Timeout:             30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Path:    filepath.Join(DataDir(), "telemetry.db"),
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      filepath.Join(DataDir(), "logs", "mealrag.log"),
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DataDir returns the per-user data directory (~/.mealrag).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".mealrag")
	}
	return filepath.Join(home, ".mealrag")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/mealrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/mealrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mealrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "mealrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "mealrag", "config.yaml")
}

// Load loads configuration for the given directory.
// Configuration is applied in order of increasing precedence:
//  1. Defaults
//  2. User config (~/.config/mealrag/config.yaml)
//  3. Project config (.mealrag.yaml in dir)
//  4. Environment variables (MEALRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userPath := GetUserConfigPath()
	if fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads .mealrag.yaml or .mealrag.yml from dir if present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{ProjectConfigYAML, ProjectConfigYML} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
// Booleans merge only when true; use env vars to force them off.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	mergeString(&c.Corpus.Path, other.Corpus.Path)

	mergeString(&c.Index.Dir, other.Index.Dir)
	mergeString(&c.Index.Collection, other.Index.Collection)
	if other.Index.TrustExisting {
		c.Index.TrustExisting = true
	}
	mergeInt(&c.Index.ExactSearchThreshold, other.Index.ExactSearchThreshold)
	mergeDuration(&c.Index.LockTimeout, other.Index.LockTimeout)
	mergeInt(&c.Index.HNSW.M, other.Index.HNSW.M)
	mergeInt(&c.Index.HNSW.EfSearch, other.Index.HNSW.EfSearch)

	mergeString(&c.Sparse.Backend, other.Sparse.Backend)
	mergeFloat(&c.Sparse.K1, other.Sparse.K1)
	mergeFloat(&c.Sparse.B, other.Sparse.B)

	mergeString(&c.Embeddings.Provider, other.Embeddings.Provider)
	mergeString(&c.Embeddings.Model, other.Embeddings.Model)
	mergeInt(&c.Embeddings.Dimensions, other.Embeddings.Dimensions)
	mergeInt(&c.Embeddings.BatchSize, other.Embeddings.BatchSize)
	mergeInt(&c.Embeddings.CacheSize, other.Embeddings.CacheSize)
	mergeString(&c.Embeddings.OllamaHost, other.Embeddings.OllamaHost)
	mergeDuration(&c.Embeddings.Timeout, other.Embeddings.Timeout)

	mergeString(&c.Reranker.Provider, other.Reranker.Provider)
	mergeString(&c.Reranker.Endpoint, other.Reranker.Endpoint)
	mergeString(&c.Reranker.Model, other.Reranker.Model)
	mergeDuration(&c.Reranker.Timeout, other.Reranker.Timeout)

	mergeInt(&c.Search.IntermediateResults, other.Search.IntermediateResults)
	mergeInt(&c.Search.FinalResults, other.Search.FinalResults)
	// 0 is not a practical weight, so only non-zero values merge.
	mergeFloat(&c.Search.BM25Weight, other.Search.BM25Weight)
	mergeFloat(&c.Search.SemanticWeight, other.Search.SemanticWeight)
	mergeInt(&c.Search.RRFConstant, other.Search.RRFConstant)
	mergeDuration(&c.Search.Timeout, other.Search.Timeout)

	if other.Telemetry.Enabled {
		c.Telemetry.Enabled = true
	}
	mergeString(&c.Telemetry.Path, other.Telemetry.Path)

	mergeString(&c.Logging.Level, other.Logging.Level)
	mergeString(&c.Logging.File, other.Logging.File)
	mergeInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	mergeInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func mergeFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func mergeDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies MEALRAG_* environment variable overrides.
// Unparseable values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MEALRAG_CORPUS"); v != "" {
		c.Corpus.Path = v
	}
	if v := os.Getenv("MEALRAG_INDEX_DIR"); v != "" {
		c.Index.Dir = v
	}
	if v := os.Getenv("MEALRAG_COLLECTION"); v != "" {
		c.Index.Collection = v
	}
	if v := os.Getenv("MEALRAG_SPARSE_BACKEND"); v != "" {
		c.Sparse.Backend = v
	}

	// Explicit zero weights are allowed here.
	if v := os.Getenv("MEALRAG_BM25_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Search.BM25Weight = w
		}
	}
	if v := os.Getenv("MEALRAG_SEMANTIC_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Search.SemanticWeight = w
		}
	}
	if v := os.Getenv("MEALRAG_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k >= 0 {
			c.Search.RRFConstant = k
		}
	}

	if v := os.Getenv("MEALRAG_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("MEALRAG_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("MEALRAG_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}

	if v := os.Getenv("MEALRAG_RERANKER"); v != "" {
		c.Reranker.Provider = v
	}
	if v := os.Getenv("MEALRAG_RERANKER_ENDPOINT"); v != "" {
		c.Reranker.Endpoint = v
	}

	if v := os.Getenv("MEALRAG_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MEALRAG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

var (
	validSparseBackends = map[string]bool{"memory": true, "bleve": true, "sqlite": true}
	validEmbedders      = map[string]bool{"ollama": true, "static": true}
	validRerankers      = map[string]bool{"lexical": true, "http": true, "none": true}
	validLogLevels      = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.BM25Weight < 0 || c.Search.BM25Weight > 1 {
		return fmt.Errorf("bm25_weight must be between 0 and 1, got %f", c.Search.BM25Weight)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("semantic_weight must be between 0 and 1, got %f", c.Search.SemanticWeight)
	}
	sum := c.Search.BM25Weight + c.Search.SemanticWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("bm25_weight + semantic_weight must equal 1.0, got %.2f", sum)
	}
	if c.Search.RRFConstant < 0 {
		return fmt.Errorf("rrf_constant must be non-negative, got %d", c.Search.RRFConstant)
	}
	if c.Search.IntermediateResults <= 0 {
		return fmt.Errorf("intermediate_results must be positive, got %d", c.Search.IntermediateResults)
	}
	if c.Search.FinalResults <= 0 {
		return fmt.Errorf("final_results must be positive, got %d", c.Search.FinalResults)
	}

	if c.Corpus.Path == "" {
		return fmt.Errorf("corpus.path is required")
	}
	if c.Index.Dir == "" || c.Index.Collection == "" {
		return fmt.Errorf("index.dir and index.collection are required")
	}
	if strings.ContainsAny(c.Index.Collection, `/\`) {
		return fmt.Errorf("index.collection must be a plain name, got %q", c.Index.Collection)
	}

	if !validSparseBackends[strings.ToLower(c.Sparse.Backend)] {
		return fmt.Errorf("sparse.backend must be 'memory', 'bleve' or 'sqlite', got %s", c.Sparse.Backend)
	}
	if c.Sparse.K1 < 0 || c.Sparse.B < 0 || c.Sparse.B > 1 {
		return fmt.Errorf("sparse.k1 must be non-negative and sparse.b within [0,1], got k1=%.2f b=%.2f", c.Sparse.K1, c.Sparse.B)
	}

	if c.Embeddings.Provider != "" && !validEmbedders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.BatchSize < 0 || c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.batch_size and embeddings.dimensions must be non-negative")
	}

	if !validRerankers[strings.ToLower(c.Reranker.Provider)] {
		return fmt.Errorf("reranker.provider must be 'lexical', 'http' or 'none', got %s", c.Reranker.Provider)
	}
	if strings.EqualFold(c.Reranker.Provider, "http") && c.Reranker.Endpoint == "" {
		return fmt.Errorf("reranker.endpoint is required for the http reranker")
	}

	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
