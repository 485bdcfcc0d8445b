package search

import (
	"strconv"
	"strings"

	"github.com/nutrimind/mealrag/internal/corpus"
)

// FormatRecord renders "<text> - with <v1> <field1>, <v2> <field2>, ..."
// listing the present whitelisted nutrition fields in corpus.Fields order.
// A record without any of them renders as its text alone.
func FormatRecord(r corpus.Record) string {
	var parts []string
	for _, f := range corpus.Fields {
		v, ok := r.Nutrition.Value(f)
		if !ok {
			continue
		}
		parts = append(parts, strconv.FormatFloat(v, 'f', -1, 64)+" "+f.Name)
	}
	if len(parts) == 0 {
		return r.Text
	}
	return r.Text + " - with " + strings.Join(parts, ", ")
}

// FormatRecords renders each record with FormatRecord, keeping order.
func FormatRecords(records []corpus.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = FormatRecord(r)
	}
	return out
}
