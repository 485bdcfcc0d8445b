package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStage_StringAndIcon(t *testing.T) {
	tests := []struct {
		stage Stage
		name  string
		icon  string
	}{
		{StageLoading, "Loading", "LOAD"},
		{StageSparse, "Sparse", "BM25"},
		{StageEmbedding, "Embedding", "EMBED"},
		{StagePersisting, "Persisting", "SAVE"},
		{StageComplete, "Complete", "DONE"},
		{Stage(99), "Unknown", "???"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.stage.String())
			assert.Equal(t, tt.icon, tt.stage.Icon())
		})
	}
}

func TestIsTTY_NonTerminalWriters(t *testing.T) {
	// Given: writers that are not terminals
	// When: checking for a TTY
	// Then: both report false
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
}

func TestNewConfig_AppliesOptions(t *testing.T) {
	// Given: an output and options
	buf := &bytes.Buffer{}

	// When: building the config
	cfg := NewConfig(buf, WithForcePlain(true), WithNoColor(true), WithTitle("meals.json"))

	// Then: every option is applied
	assert.Same(t, buf, cfg.Output)
	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "meals.json", cfg.Title)
}

func TestNewRenderer_SelectsPlain(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"forced plain", NewConfig(&bytes.Buffer{}, WithForcePlain(true))},
		{"non-tty output", NewConfig(&bytes.Buffer{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When: creating a renderer
			r := NewRenderer(tt.cfg)

			// Then: the plain renderer is chosen
			_, ok := r.(*PlainRenderer)
			assert.True(t, ok)
		})
	}
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestDetectCI(t *testing.T) {
	t.Setenv("CI", "true")
	assert.True(t, DetectCI())
}
