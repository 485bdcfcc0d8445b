package index

import (
	"fmt"
	"time"

	"github.com/nutrimind/mealrag/internal/corpus"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencySparseCount indicates the keyword index does not cover the corpus.
	InconsistencySparseCount InconsistencyType = iota
	// InconsistencyDenseCount indicates the vector store does not cover the corpus.
	InconsistencyDenseCount
	// InconsistencyStaleChecksum indicates vectors built from a different corpus.
	InconsistencyStaleChecksum
)

// String returns a short identifier for the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencySparseCount:
		return "sparse_count"
	case InconsistencyDenseCount:
		return "dense_count"
	case InconsistencyStaleChecksum:
		return "stale_checksum"
	default:
		return "unknown"
	}
}

// Inconsistency represents a detected issue between the corpus and an index.
type Inconsistency struct {
	Type    InconsistencyType
	Details string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of corpus records verified against.
	Checked int
	// Inconsistencies contains all detected issues.
	Inconsistencies []Inconsistency
	// Duration is how long the check took.
	Duration time.Duration
}

// OK reports whether no issues were found.
func (r *CheckResult) OK() bool {
	return len(r.Inconsistencies) == 0
}

// CheckConsistency verifies that both indices cover every record of c.
// A dense index opened with TrustExisting may legitimately report a stale
// checksum.
func CheckConsistency(c *corpus.Corpus, sparse *SparseIndex, dense *DenseIndex) *CheckResult {
	start := time.Now()
	var issues []Inconsistency

	if sparse != nil {
		if n := sparse.Stats().DocumentCount; n != c.Len() {
			issues = append(issues, Inconsistency{
				Type:    InconsistencySparseCount,
				Details: fmt.Sprintf("sparse index has %d documents, corpus has %d records", n, c.Len()),
			})
		}
	}

	if dense != nil {
		if n := dense.Count(); n != c.Len() {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyDenseCount,
				Details: fmt.Sprintf("dense index has %d vectors, corpus has %d records", n, c.Len()),
			})
		}
		if sum := dense.Manifest().CorpusChecksum; sum != c.Checksum() {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyStaleChecksum,
				Details: "dense index was built from a different corpus",
			})
		}
	}

	return &CheckResult{
		Checked:         c.Len(),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}
}
