package corpus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	merrors "github.com/nutrimind/mealrag/internal/errors"
)

// alignedDocument is the persisted aligned-array shape:
// texts[i] pairs with metadatas[i].
type alignedDocument struct {
	Texts     []string         `json:"texts"`
	Metadatas []map[string]any `json:"metadatas"`
}

// rawRecord is one record in the array and JSONL shapes.
type rawRecord struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// Load reads the corpus at path. The format is chosen by extension:
// .json (aligned arrays or a record array), .jsonl, or .db/.sqlite.
// Every failure is a CorpusLoadError.
func Load(ctx context.Context, path string) (*Corpus, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, merrors.CorpusLoadError(fmt.Sprintf("corpus file not accessible: %s", path), err).
			WithDetail("path", path)
	}
	if info.IsDir() {
		return nil, merrors.CorpusLoadError(fmt.Sprintf("corpus path is a directory: %s", path), nil).
			WithDetail("path", path)
	}

	var records []Record
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		records, err = loadJSONFile(path)
	case ".jsonl", ".ndjson":
		records, err = loadJSONLFile(path)
	case ".db", ".sqlite", ".sqlite3":
		records, err = loadSQLite(ctx, path)
	default:
		err = fmt.Errorf("unsupported corpus format %q", ext)
	}
	if err != nil {
		return nil, merrors.CorpusLoadError(fmt.Sprintf("failed to load corpus %s: %v", path, err), err).
			WithDetail("path", path)
	}

	return New(records), nil
}

func loadJSONFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseJSON(data)
}

// ParseJSON parses either JSON corpus shape.
func ParseJSON(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty corpus document")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		var raws []rawRecord
		if err := dec.Decode(&raws); err != nil {
			return nil, fmt.Errorf("malformed record array: %w", err)
		}
		return convertRaw(raws)
	}

	var doc alignedDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("malformed corpus document: %w", err)
	}
	if doc.Texts == nil {
		return nil, fmt.Errorf("corpus document has no texts array")
	}
	if len(doc.Texts) != len(doc.Metadatas) {
		return nil, fmt.Errorf("texts and metadatas lengths differ: %d != %d", len(doc.Texts), len(doc.Metadatas))
	}

	raws := make([]rawRecord, len(doc.Texts))
	for i := range doc.Texts {
		raws[i] = rawRecord{Text: doc.Texts[i], Metadata: doc.Metadatas[i]}
	}
	return convertRaw(raws)
}

func loadJSONLFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return ParseJSONL(f)
}

// ParseJSONL parses one record object per line. Blank lines are skipped.
func ParseJSONL(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var raws []rawRecord
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		var raw rawRecord
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		raws = append(raws, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return convertRaw(raws)
}

func convertRaw(raws []rawRecord) ([]Record, error) {
	records := make([]Record, 0, len(raws))
	for i, raw := range raws {
		if strings.TrimSpace(raw.Text) == "" {
			return nil, fmt.Errorf("record %d has empty text", i)
		}
		n, err := FromMetadata(raw.Metadata)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, Record{Text: raw.Text, Nutrition: n})
	}
	return records, nil
}
