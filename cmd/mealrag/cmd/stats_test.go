package cmd

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrimind/mealrag/internal/telemetry"
)

func TestStatsCmd_AfterSearches(t *testing.T) {
	// Given: a project where two searches ran
	dir := setupProject(t)
	_, _, err := run(t, "--dir", dir, "search", "lentil soup")
	require.NoError(t, err)
	_, _, err = run(t, "--dir", dir, "search", "baked salmon")
	require.NoError(t, err)

	// When: reading the telemetry
	stdout, _, err := run(t, "--dir", dir, "stats", "--json")

	// Then: both queries were persisted
	require.NoError(t, err)
	var stats StatsOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &stats))
	assert.Equal(t, int64(2), stats.TotalQueries)
	assert.Equal(t, int64(2), stats.OutcomeCounts[telemetry.OutcomeResults])
	assert.NotEmpty(t, stats.TopTerms)
}

func TestStatsCmd_NoTelemetry(t *testing.T) {
	dir := setupProject(t)

	_, _, err := run(t, "--dir", dir, "stats")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no telemetry recorded")
}

type fakeReader struct {
	outcomes map[telemetry.Outcome]int64
	from, to string
	err      error
}

func (f *fakeReader) GetOutcomeCounts(from, to string) (map[telemetry.Outcome]int64, error) {
	f.from, f.to = from, to
	return f.outcomes, f.err
}
func (f *fakeReader) GetTopTerms(int) ([]telemetry.TermCount, error) { return nil, nil }
func (f *fakeReader) GetZeroResultQueries(int) ([]string, error)     { return []string{"qwzx"}, nil }
func (f *fakeReader) GetLatencyCounts(string, string) (map[telemetry.LatencyBucket]int64, error) {
	return map[telemetry.LatencyBucket]int64{telemetry.BucketP10: 3}, nil
}

func TestGetQueryStats(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("aggregates", func(t *testing.T) {
		// Given: 3 results and 1 empty outcome
		r := &fakeReader{outcomes: map[telemetry.Outcome]int64{
			telemetry.OutcomeResults: 3,
			telemetry.OutcomeEmpty:   1,
		}}

		// When: summarising a week
		stats, err := getQueryStats(r, 7, 10, now)

		// Then: totals and the date range are derived
		require.NoError(t, err)
		assert.Equal(t, int64(4), stats.TotalQueries)
		assert.InDelta(t, 25.0, stats.ZeroResultPct, 1e-9)
		assert.Equal(t, "2026-03-04", r.from)
		assert.Equal(t, "2026-03-10", r.to)
		assert.Equal(t, []string{"qwzx"}, stats.ZeroResultQueries)
	})

	t.Run("empty", func(t *testing.T) {
		stats, err := getQueryStats(&fakeReader{}, 0, 10, now)

		require.NoError(t, err)
		assert.Zero(t, stats.TotalQueries)
		assert.Zero(t, stats.ZeroResultPct)
		assert.Equal(t, stats.From, stats.To)
	})

	t.Run("store error", func(t *testing.T) {
		_, err := getQueryStats(&fakeReader{err: errors.New("locked")}, 7, 10, now)

		assert.ErrorContains(t, err, "locked")
	})
}
