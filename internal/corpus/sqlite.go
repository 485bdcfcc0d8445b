package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// meals table layout for SQLite corpora. Rows are read in id order.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meals (
	id INTEGER PRIMARY KEY,
	text TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);`

func loadSQLite(ctx context.Context, path string) ([]Record, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite corpus: %w", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, `SELECT text, metadata FROM meals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query meals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var raws []rawRecord
	for rows.Next() {
		var text, meta string
		if err := rows.Scan(&text, &meta); err != nil {
			return nil, fmt.Errorf("scan meal: %w", err)
		}
		dec := json.NewDecoder(strings.NewReader(meta))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("meal %d metadata: %w", len(raws), err)
		}
		raws = append(raws, rawRecord{Text: text, Metadata: m})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return convertRaw(raws)
}

// SaveSQLite writes records into a new or existing SQLite corpus,
// replacing any rows already present.
func SaveSQLite(ctx context.Context, path string, c *Corpus) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open sqlite corpus: %w", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create meals table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM meals`); err != nil {
		return fmt.Errorf("clear meals: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO meals (id, text, metadata) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range c.records {
		meta, err := json.Marshal(r.Nutrition)
		if err != nil {
			return fmt.Errorf("encode meal %d: %w", r.SourceIndex, err)
		}
		if _, err := stmt.ExecContext(ctx, r.SourceIndex, r.Text, string(meta)); err != nil {
			return fmt.Errorf("insert meal %d: %w", r.SourceIndex, err)
		}
	}

	return tx.Commit()
}
