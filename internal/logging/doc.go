// Package logging configures slog for mealrag.
//
// Structured JSON logs go to a size-rotated file (~/.mealrag/logs/mealrag.log
// by default). Console output uses ConsoleHandler, which prints one colored
// line per record: "LEVEL:    [2006-01-02 15:04:05] message key=value".
package logging
