package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Save writes c to path. .json paths get the aligned-array document,
// .jsonl one record per line, .db/.sqlite a meals table.
// File formats are written to a temp file and renamed into place.
func Save(ctx context.Context, path string, c *Corpus) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".db" || ext == ".sqlite" || ext == ".sqlite3" {
		return SaveSQLite(ctx, path, c)
	}

	var data []byte
	var err error
	switch ext {
	case ".json":
		data, err = encodeAligned(c)
	case ".jsonl", ".ndjson":
		data, err = encodeJSONL(c)
	default:
		return fmt.Errorf("unsupported corpus format %q", ext)
	}
	if err != nil {
		return err
	}

	return writeFileAtomic(path, data)
}

func encodeAligned(c *Corpus) ([]byte, error) {
	doc := struct {
		Texts     []string    `json:"texts"`
		Metadatas []Nutrition `json:"metadatas"`
	}{
		Texts:     make([]string, 0, c.Len()),
		Metadatas: make([]Nutrition, 0, c.Len()),
	}
	for _, r := range c.records {
		doc.Texts = append(doc.Texts, r.Text)
		doc.Metadatas = append(doc.Metadatas, r.Nutrition)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode corpus: %w", err)
	}
	return append(data, '\n'), nil
}

func encodeJSONL(c *Corpus) ([]byte, error) {
	var sb strings.Builder
	for _, r := range c.records {
		line, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode meal %d: %w", r.SourceIndex, err)
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return []byte(sb.String()), nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create corpus directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write corpus: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync corpus: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close corpus: %w", err)
	}

	return os.Rename(tmpPath, path)
}
