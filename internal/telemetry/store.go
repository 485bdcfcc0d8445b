package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// maxZeroResultQueries bounds the persisted zero-result log.
const maxZeroResultQueries = 100

// Metric names in the daily_counts table.
const (
	metricOutcome = "outcome"
	metricLatency = "latency"
)

// SQLiteMetricsStore persists aggregated query telemetry in SQLite.
// Daily histograms share one table keyed by (date, metric, key).
type SQLiteMetricsStore struct {
	db     *sql.DB
	ownsDB bool
}

var _ QueryMetricsStore = (*SQLiteMetricsStore)(nil)

// NewSQLiteMetricsStore wraps an open database. The caller keeps
// ownership of db and must have called InitTelemetrySchema.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// OpenSQLiteMetricsStore opens or creates the telemetry database at path.
func OpenSQLiteMetricsStore(path string) (*SQLiteMetricsStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure telemetry database: %w", err)
	}
	if err := InitTelemetrySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteMetricsStore{db: db, ownsDB: true}, nil
}

const telemetrySchema = `
CREATE TABLE IF NOT EXISTS daily_counts (
	date   TEXT NOT NULL,
	metric TEXT NOT NULL,
	key    TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, metric, key)
);

CREATE TABLE IF NOT EXISTS query_terms (
	term      TEXT PRIMARY KEY,
	count     INTEGER NOT NULL DEFAULT 0,
	last_seen TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	query     TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL
);
`

// InitTelemetrySchema creates the telemetry tables if they are missing.
func InitTelemetrySchema(db *sql.DB) error {
	if _, err := db.Exec(telemetrySchema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// inTx runs fn with a statement prepared inside a transaction.
func (s *SQLiteMetricsStore) inTx(query string, fn func(*sql.Stmt) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	if err := fn(stmt); err != nil {
		return err
	}
	return tx.Commit()
}

func addDaily[K ~string](s *SQLiteMetricsStore, metric, date string, counts map[K]int64) error {
	if len(counts) == 0 {
		return nil
	}
	return s.inTx(`
		INSERT INTO daily_counts (date, metric, key, count) VALUES (?, ?, ?, ?)
		ON CONFLICT(date, metric, key) DO UPDATE SET count = count + excluded.count`,
		func(stmt *sql.Stmt) error {
			for k, n := range counts {
				if _, err := stmt.Exec(date, metric, string(k), n); err != nil {
					return fmt.Errorf("add %s count: %w", metric, err)
				}
			}
			return nil
		})
}

func sumDaily[K ~string](s *SQLiteMetricsStore, metric, from, to string) (map[K]int64, error) {
	rows, err := s.db.Query(`
		SELECT key, SUM(count) FROM daily_counts
		WHERE metric = ? AND date BETWEEN ? AND ?
		GROUP BY key`, metric, from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s counts: %w", metric, err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[K]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan %s count: %w", metric, err)
		}
		counts[K(key)] = n
	}
	return counts, rows.Err()
}

// SaveOutcomeCounts adds to the outcome histogram of date.
func (s *SQLiteMetricsStore) SaveOutcomeCounts(date string, counts map[Outcome]int64) error {
	return addDaily(s, metricOutcome, date, counts)
}

// GetOutcomeCounts sums outcomes over the inclusive range [from, to].
func (s *SQLiteMetricsStore) GetOutcomeCounts(from, to string) (map[Outcome]int64, error) {
	return sumDaily[Outcome](s, metricOutcome, from, to)
}

// SaveLatencyCounts adds to the latency histogram of date.
func (s *SQLiteMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	return addDaily(s, metricLatency, date, counts)
}

// GetLatencyCounts sums latency buckets over the inclusive range [from, to].
func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	return sumDaily[LatencyBucket](s, metricLatency, from, to)
}

// UpsertTermCounts adds to the all-time query term counts.
func (s *SQLiteMetricsStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.inTx(`
		INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(term) DO UPDATE SET count = count + excluded.count, last_seen = excluded.last_seen`,
		func(stmt *sql.Stmt) error {
			for term, n := range terms {
				if _, err := stmt.Exec(term, n, now); err != nil {
					return fmt.Errorf("upsert term %q: %w", term, err)
				}
			}
			return nil
		})
}

// GetTopTerms returns the limit most frequent terms. Ties break
// alphabetically so output is stable.
func (s *SQLiteMetricsStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddZeroResultQuery records query and trims the log to the newest
// maxZeroResultQueries entries.
func (s *SQLiteMetricsStore) AddZeroResultQuery(query string, timestamp time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)`, query, timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert zero-result query: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert zero-result query: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM zero_result_queries WHERE id <= ?`, id-maxZeroResultQueries); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}
	return tx.Commit()
}

// GetZeroResultQueries returns up to limit zero-result queries, newest first.
func (s *SQLiteMetricsStore) GetZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan zero-result query: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// Close closes the database if this store opened it.
func (s *SQLiteMetricsStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
