// Package errors provides structured error handling for mealrag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (corpus, index files)
//   - 3XX: Backend errors (embedding and reranking services)
//   - 4XX: Validation and query errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryBackend indicates an embedding or reranking backend failure.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates the engine cannot serve queries.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo is informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeCorpusLoad   = "ERR_201_CORPUS_LOAD"
	ErrCodeCorruptIndex = "ERR_202_CORRUPT_INDEX"
	ErrCodeFileNotFound = "ERR_203_FILE_NOT_FOUND"
	ErrCodeDiskFull     = "ERR_204_DISK_FULL"

	// Backend errors (300-399)
	ErrCodeBackendTimeout    = "ERR_301_BACKEND_TIMEOUT"
	ErrCodeIndexUnavailable  = "ERR_302_INDEX_UNAVAILABLE"
	ErrCodeRerankUnavailable = "ERR_303_RERANK_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"
	ErrCodeEmptyCandidates   = "ERR_404_EMPTY_CANDIDATES"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_502_SEARCH_FAILED"
	ErrCodeIndexFailed  = "ERR_503_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorpusLoad, ErrCodeCorruptIndex, ErrCodeDiskFull,
		ErrCodeIndexUnavailable, ErrCodeRerankUnavailable:
		return SeverityFatal
	case ErrCodeEmptyCandidates:
		return SeverityInfo
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Index and rerank unavailability are fatal and deliberately absent here.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendTimeout:
		return true
	default:
		return false
	}
}
