// Package corpus loads the meal corpus: an ordered, immutable sequence of
// records pairing a meal description with its nutrition facts.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// Field identifies a whitelisted nutrition field.
type Field struct {
	// Name is the metadata key and the label used when formatting.
	Name string
	get  func(*Nutrition) **float64
}

// Fields is the nutrition whitelist in its published order. Formatted
// results list values in exactly this order.
var Fields = []Field{
	{"calories", func(n *Nutrition) **float64 { return &n.Calories }},
	{"total_fat", func(n *Nutrition) **float64 { return &n.TotalFat }},
	{"saturated_fat", func(n *Nutrition) **float64 { return &n.SaturatedFat }},
	{"cholesterol", func(n *Nutrition) **float64 { return &n.Cholesterol }},
	{"sodium", func(n *Nutrition) **float64 { return &n.Sodium }},
	{"vitamin_b12", func(n *Nutrition) **float64 { return &n.VitaminB12 }},
	{"vitamin_c", func(n *Nutrition) **float64 { return &n.VitaminC }},
	{"vitamin_d", func(n *Nutrition) **float64 { return &n.VitaminD }},
	{"vitamin_e", func(n *Nutrition) **float64 { return &n.VitaminE }},
	{"protein", func(n *Nutrition) **float64 { return &n.Protein }},
	{"fiber", func(n *Nutrition) **float64 { return &n.Fiber }},
	{"sugars", func(n *Nutrition) **float64 { return &n.Sugars }},
}

// Nutrition holds the known nutrition facts of a meal. Nil means absent.
type Nutrition struct {
	Calories     *float64 `json:"calories,omitempty"`
	TotalFat     *float64 `json:"total_fat,omitempty"`
	SaturatedFat *float64 `json:"saturated_fat,omitempty"`
	Cholesterol  *float64 `json:"cholesterol,omitempty"`
	Sodium       *float64 `json:"sodium,omitempty"`
	VitaminB12   *float64 `json:"vitamin_b12,omitempty"`
	VitaminC     *float64 `json:"vitamin_c,omitempty"`
	VitaminD     *float64 `json:"vitamin_d,omitempty"`
	VitaminE     *float64 `json:"vitamin_e,omitempty"`
	Protein      *float64 `json:"protein,omitempty"`
	Fiber        *float64 `json:"fiber,omitempty"`
	Sugars       *float64 `json:"sugars,omitempty"`
}

// Value returns the value of f and whether it is present.
func (n Nutrition) Value(f Field) (float64, bool) {
	p := *f.get(&n)
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Set sets the value of f.
func (n *Nutrition) Set(f Field, v float64) {
	*f.get(n) = &v
}

// FieldByName looks up a whitelisted field.
func FieldByName(name string) (Field, bool) {
	for _, f := range Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FromMetadata builds a Nutrition from a loosely typed metadata map.
// Keys outside the whitelist, source_index included, are ignored.
// Values may be JSON numbers or numeric strings.
func FromMetadata(meta map[string]any) (Nutrition, error) {
	var n Nutrition
	for _, f := range Fields {
		raw, ok := meta[f.Name]
		if !ok || raw == nil {
			continue
		}
		v, err := toFloat(raw)
		if err != nil {
			return Nutrition{}, fmt.Errorf("field %s: %w", f.Name, err)
		}
		n.Set(f, v)
	}
	return n, nil
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", raw)
	}
}

// Record is one meal. SourceIndex is its position in the corpus and the
// join key between the sparse and dense indices.
type Record struct {
	Text        string    `json:"text"`
	Nutrition   Nutrition `json:"metadata"`
	SourceIndex int       `json:"-"`
}

// Corpus is an ordered, immutable sequence of records.
type Corpus struct {
	records  []Record
	checksum string
}

// New builds a corpus from texts and nutrition facts, assigning
// SourceIndex by position.
func New(records []Record) *Corpus {
	owned := make([]Record, len(records))
	for i, r := range records {
		r.SourceIndex = i
		owned[i] = r
	}
	return &Corpus{records: owned, checksum: checksum(owned)}
}

// Len returns the number of records.
func (c *Corpus) Len() int {
	return len(c.records)
}

// At returns the record at position i.
func (c *Corpus) At(i int) Record {
	return c.records[i]
}

// Records returns a copy of all records in corpus order.
func (c *Corpus) Records() []Record {
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Texts returns record texts in corpus order.
func (c *Corpus) Texts() []string {
	out := make([]string, len(c.records))
	for i, r := range c.records {
		out[i] = r.Text
	}
	return out
}

// Checksum returns a hex sha256 over the canonical JSON of every record.
// Any change to text, nutrition or order changes it.
func (c *Corpus) Checksum() string {
	return c.checksum
}

func checksum(records []Record) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, r := range records {
		// Encoding a Record cannot fail.
		_ = enc.Encode(r)
	}
	return hex.EncodeToString(h.Sum(nil))
}
