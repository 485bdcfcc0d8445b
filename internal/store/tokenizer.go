package store

import (
	"regexp"
	"strings"
	"unicode"
)

// tokenRegex matches runs of letters and digits.
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Tokenize splits meal text into lowercase terms. It splits on anything
// that is not a letter or digit, splits camelCase words and drops tokens
// shorter than minLen.
func Tokenize(text string, minLen int) []string {
	var tokens []string

	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range SplitCamelCase(word) {
			lower := strings.ToLower(t)
			if len([]rune(lower)) >= minLen {
				tokens = append(tokens, lower)
			}
		}
	}

	return tokens
}

// SplitCamelCase splits camelCase and PascalCase words.
// Examples:
//   - "proteinBar" -> ["protein", "Bar"]
//   - "BBQChicken" -> ["BBQ", "Chicken"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			// Split if previous is lowercase OR next is lowercase (handles acronyms)
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

// analyze runs the full indexing pipeline for cfg.
func analyze(text string, cfg BM25Config, stopWords map[string]struct{}) []string {
	return FilterStopWords(Tokenize(text, cfg.MinTokenLength), stopWords)
}
