package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteBM25Index implements BM25Index using an in-memory SQLite FTS5 table.
// FTS5's bm25() uses k1=1.2 and b=0.75.
type SQLiteBM25Index struct {
	mu        sync.RWMutex
	db        *sql.DB
	config    BM25Config
	stopWords map[string]struct{}
	closed    bool
}

// Verify interface implementation at compile time
var _ BM25Index = (*SQLiteBM25Index)(nil)

// NewSQLiteBM25Index creates an FTS5-backed index in a private in-memory database.
func NewSQLiteBM25Index(config BM25Config) (*SQLiteBM25Index, error) {
	config = config.withDefaults()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	idx := &SQLiteBM25Index{
		db:        db,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}

	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return idx, nil
}

// initSchema creates the FTS5 virtual table.
func (s *SQLiteBM25Index) initSchema() error {
	// content holds pre-tokenized text so both backends agree on terms
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	);`

	_, err := s.db.Exec(schema)
	return err
}

// Index adds documents to the index.
func (s *SQLiteBM25Index) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insertStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fts_content(doc_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare FTS statement: %w", err)
	}
	defer func() { _ = insertStmt.Close() }()

	for _, doc := range docs {
		tokens := analyze(doc.Content, s.config, s.stopWords)
		if _, err := insertStmt.ExecContext(ctx, doc.ID, strings.Join(tokens, " ")); err != nil {
			return fmt.Errorf("failed to index document %d: %w", doc.ID, err)
		}
	}

	return tx.Commit()
}

// Search returns documents matching any query term, scored by FTS5 bm25().
func (s *SQLiteBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if limit <= 0 {
		return []BM25Result{}, nil
	}

	tokens := analyze(queryStr, s.config, s.stopWords)
	if len(tokens) == 0 {
		return []BM25Result{}, nil
	}

	// Quoted terms joined with OR: any term may match
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	matchExpr := strings.Join(quoted, " OR ")

	// FTS5 bm25() returns negative values where lower = better match
	query := `
		SELECT doc_id, bm25(fts_content) AS score
		FROM fts_content
		WHERE fts_content MATCH ?
		ORDER BY score, doc_id
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, matchExpr, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []BM25Result
	for rows.Next() {
		var docID int
		var score float64
		if err := rows.Scan(&docID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, BM25Result{
			DocID:        docID,
			Score:        -score,
			MatchedTerms: tokens,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sortResults(results, limit), nil
}

// Stats returns index statistics.
func (s *SQLiteBM25Index) Stats() IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return IndexStats{}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fts_content`).Scan(&count); err != nil {
		return IndexStats{}
	}

	return IndexStats{DocumentCount: count}
}

// Backend returns "sqlite".
func (s *SQLiteBM25Index) Backend() string {
	return string(BM25BackendSQLite)
}

// Close closes the database.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
