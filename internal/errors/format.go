package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// asMealError returns the first MealError in the chain, wrapping plain
// errors as internal errors.
func asMealError(err error) *MealError {
	var me *MealError
	if errors.As(err, &me) {
		return me
	}
	return Wrap(ErrCodeInternal, err)
}

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	me := asMealError(err)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", me.Message))
	if me.Cause != nil && me.Cause.Error() != me.Message {
		sb.WriteString(fmt.Sprintf("  Cause: %s\n", me.Cause.Error()))
	}
	if me.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", me.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", me.Code))

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	me := asMealError(err)
	je := jsonError{
		Code:       me.Code,
		Message:    me.Message,
		Category:   string(me.Category),
		Severity:   string(me.Severity),
		Details:    me.Details,
		Suggestion: me.Suggestion,
		Retryable:  me.Retryable,
	}
	if me.Cause != nil {
		je.Cause = me.Cause.Error()
	}

	return json.Marshal(je)
}

// LogAttrs returns slog attributes describing the error.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}

	var me *MealError
	if !errors.As(err, &me) {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{
		slog.String("error_code", me.Code),
		slog.String("message", me.Message),
		slog.String("category", string(me.Category)),
		slog.String("severity", string(me.Severity)),
	}
	if me.Cause != nil {
		attrs = append(attrs, slog.String("cause", me.Cause.Error()))
	}
	for k, v := range me.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return attrs
}
