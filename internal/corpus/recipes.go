package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
)

// recipe is one entry of a recipes.json file:
// {"name": "...", "description": "...", "nutrition": {"calories": 350, ...}}
type recipe struct {
	Name        string         `json:"name"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Nutrition   map[string]any `json:"nutrition"`
}

// ImportRecipes converts a recipes.json document into records. The record
// text is the name (or title), followed by the description when present.
func ImportRecipes(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var recipes []recipe
	if err := dec.Decode(&recipes); err != nil {
		return nil, fmt.Errorf("malformed recipes document: %w", err)
	}

	records := make([]Record, 0, len(recipes))
	for i, r := range recipes {
		name := r.Name
		if name == "" {
			name = r.Title
		}
		text := strings.TrimSpace(name)
		if d := strings.TrimSpace(r.Description); d != "" {
			if text != "" {
				text += ": " + d
			} else {
				text = d
			}
		}
		if text == "" {
			return nil, fmt.Errorf("recipe %d has no name or description", i)
		}

		n, err := FromMetadata(r.Nutrition)
		if err != nil {
			return nil, fmt.Errorf("recipe %d: %w", i, err)
		}
		records = append(records, Record{Text: text, Nutrition: n})
	}
	return records, nil
}

// Constraints filters meals by nutrition. Zero values disable a bound.
type Constraints struct {
	MaxCalories float64
	MinProtein  float64
}

// FilterByNutrition returns the records satisfying c, in corpus order.
// A record missing a constrained field never matches that constraint.
func FilterByNutrition(records []Record, c Constraints) []Record {
	var out []Record
	for _, r := range records {
		if c.MaxCalories > 0 {
			if r.Nutrition.Calories == nil || *r.Nutrition.Calories > c.MaxCalories {
				continue
			}
		}
		if c.MinProtein > 0 {
			if r.Nutrition.Protein == nil || *r.Nutrition.Protein < c.MinProtein {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// SampleMeals draws up to n records without replacement. When n covers
// every record the input order is kept.
func SampleMeals(records []Record, n int, rng *rand.Rand) []Record {
	if n <= 0 {
		return nil
	}
	if n >= len(records) {
		out := make([]Record, len(records))
		copy(out, records)
		return out
	}

	idx := rng.Perm(len(records))[:n]
	out := make([]Record, n)
	for i, j := range idx {
		out[i] = records[j]
	}
	return out
}
