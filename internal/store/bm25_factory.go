package store

import "fmt"

// BM25Backend represents the BM25 index backend type.
type BM25Backend string

const (
	// BM25BackendMemory is the in-process Okapi BM25 index (default).
	BM25BackendMemory BM25Backend = "memory"

	// BM25BackendBleve uses an in-memory Bleve v2 index.
	BM25BackendBleve BM25Backend = "bleve"

	// BM25BackendSQLite uses an in-memory SQLite FTS5 table.
	BM25BackendSQLite BM25Backend = "sqlite"
)

// NewBM25Index creates a BM25Index using the specified backend.
//
// backend options:
//   - "memory" (default): exact Okapi BM25 with the configured k1 and b
//   - "bleve": Bleve v2 with the meal analyzer
//   - "sqlite": SQLite FTS5 via the pure Go modernc driver
func NewBM25Index(backend string, config BM25Config) (BM25Index, error) {
	switch BM25Backend(backend) {
	case BM25BackendMemory, "":
		return NewMemoryBM25Index(config), nil
	case BM25BackendBleve:
		return NewBleveBM25Index(config)
	case BM25BackendSQLite:
		return NewSQLiteBM25Index(config)
	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: memory, bleve, sqlite)", backend)
	}
}
