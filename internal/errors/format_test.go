package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	// Given: a corpus load error with a cause
	err := CorpusLoadError("corpus file missing", errors.New("no such file"))

	// When: formatting for the CLI
	out := FormatForCLI(err)

	// Then: message, cause, hint and code are present
	assert.Contains(t, out, "Error: corpus file missing")
	assert.Contains(t, out, "Cause: no such file")
	assert.Contains(t, out, "Hint: ")
	assert.Contains(t, out, "Code: ERR_201_CORPUS_LOAD")
}

func TestFormatForCLI_PlainError(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))

	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, ErrCodeInternal)
	assert.Equal(t, "", FormatForCLI(nil))
}

func TestFormatJSON(t *testing.T) {
	err := EmptyCandidateSet("quinoa")

	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeEmptyCandidates, decoded["code"])
	assert.Equal(t, "VALIDATION", decoded["category"])
	assert.Equal(t, "quinoa", decoded["details"].(map[string]any)["query"])
}

func TestLogAttrs(t *testing.T) {
	attrs := LogAttrs(RerankUnavailableError("model missing", errors.New("404")))

	keys := make(map[string]string)
	for _, a := range attrs {
		keys[a.Key] = a.Value.String()
	}
	assert.Equal(t, ErrCodeRerankUnavailable, keys["error_code"])
	assert.Equal(t, "404", keys["cause"])

	plain := LogAttrs(errors.New("x"))
	require.Len(t, plain, 1)
	assert.Equal(t, "error", plain[0].Key)
	assert.Nil(t, LogAttrs(nil))
}
