package errors

import (
	"errors"
	"fmt"
)

// MealError is the structured error type for mealrag.
// It carries enough context for logging, CLI presentation and errors.Is matching.
type MealError struct {
	// Code is the unique error code (e.g., "ERR_201_CORPUS_LOAD").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Backend, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Sentinels for errors.Is matching. Matching is by code, so any MealError
// carrying the same code satisfies errors.Is against these.
var (
	// ErrCorpusLoad reports a missing, unreadable or malformed corpus.
	ErrCorpusLoad = &MealError{Code: ErrCodeCorpusLoad, Message: "corpus load failed"}

	// ErrIndexUnavailable reports an unreachable embedding or vector backend.
	ErrIndexUnavailable = &MealError{Code: ErrCodeIndexUnavailable, Message: "dense index unavailable"}

	// ErrRerankUnavailable reports an unreachable reranking backend.
	ErrRerankUnavailable = &MealError{Code: ErrCodeRerankUnavailable, Message: "reranker unavailable"}

	// ErrEmptyCandidateSet is the explicit "no results" signal.
	ErrEmptyCandidateSet = &MealError{Code: ErrCodeEmptyCandidates, Message: "no candidates matched the query"}
)

// Error implements the error interface.
func (e *MealError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *MealError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *MealError) Is(target error) bool {
	if t, ok := target.(*MealError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *MealError) WithDetail(key, value string) *MealError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *MealError) WithSuggestion(suggestion string) *MealError {
	e.Suggestion = suggestion
	return e
}

// New creates a new MealError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *MealError {
	return &MealError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a MealError from an existing error.
// The error's message becomes the MealError message.
func Wrap(code string, err error) *MealError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// CorpusLoadError creates a corpus load failure.
func CorpusLoadError(message string, cause error) *MealError {
	return New(ErrCodeCorpusLoad, message, cause).
		WithSuggestion("Check corpus.path in your config, or run 'mealrag corpus info <path>'")
}

// IndexUnavailableError creates a dense index failure caused by the embedding backend.
func IndexUnavailableError(message string, cause error) *MealError {
	return New(ErrCodeIndexUnavailable, message, cause).
		WithSuggestion("Check that the embedding backend is running, or set embeddings.provider: static")
}

// RerankUnavailableError creates a reranker failure.
func RerankUnavailableError(message string, cause error) *MealError {
	return New(ErrCodeRerankUnavailable, message, cause).
		WithSuggestion("Check reranker.endpoint, or set reranker.provider: lexical")
}

// EmptyCandidateSet creates the "no results" signal for a query.
func EmptyCandidateSet(query string) *MealError {
	return New(ErrCodeEmptyCandidates, "no candidates matched the query", nil).
		WithDetail("query", query)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *MealError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *MealError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *MealError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var me *MealError
	if errors.As(err, &me) {
		return me.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors mean the engine cannot serve queries.
func IsFatal(err error) bool {
	var me *MealError
	if errors.As(err, &me) {
		return me.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first MealError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var me *MealError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// GetCategory extracts the category from the first MealError in the chain.
func GetCategory(err error) Category {
	var me *MealError
	if errors.As(err, &me) {
		return me.Category
	}
	return ""
}
