package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	// MealTokenizerName is the name of the meal text tokenizer.
	MealTokenizerName = "meal_tokenizer"

	// MealStopFilterName is the name of the English stop word filter.
	MealStopFilterName = "meal_stop"

	// MealAnalyzerName is the name of the meal analyzer.
	MealAnalyzerName = "meal_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(MealTokenizerName, mealTokenizerConstructor)
	_ = registry.RegisterTokenFilter(MealStopFilterName, mealStopFilterConstructor)
}

// BleveBM25Index wraps an in-memory Bleve v2 index for keyword search.
type BleveBM25Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	config BM25Config
	closed bool
}

// BleveDocument is the document structure for Bleve indexing.
type BleveDocument struct {
	Content string `json:"content"`
}

// Verify interface implementation
var _ BM25Index = (*BleveBM25Index)(nil)

// NewBleveBM25Index creates an in-memory Bleve index using the meal analyzer.
func NewBleveBM25Index(config BM25Config) (*BleveBM25Index, error) {
	config = config.withDefaults()

	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &BleveBM25Index{index: idx, config: config}, nil
}

// createIndexMapping creates the Bleve index mapping with the meal analyzer.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(MealAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": MealTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			MealStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = MealAnalyzerName

	return indexMapping, nil
}

// Index adds documents to the index.
func (b *BleveBM25Index) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(strconv.Itoa(doc.ID), BleveDocument{Content: doc.Content}); err != nil {
			return fmt.Errorf("failed to index document %d: %w", doc.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}

	return nil
}

// Search returns documents matching query. Every match is fetched so that
// ties can be ordered by DocID before truncating to limit.
func (b *BleveBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if limit <= 0 || strings.TrimSpace(queryStr) == "" {
		return []BM25Result{}, nil
	}

	docCount, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("doc count: %w", err)
	}
	if docCount == 0 {
		return []BM25Result{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = int(docCount)
	searchRequest.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]BM25Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		id, err := strconv.Atoi(hit.ID)
		if err != nil {
			return nil, fmt.Errorf("unexpected document id %q: %w", hit.ID, err)
		}
		results = append(results, BM25Result{
			DocID:        id,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}

	return sortResults(results, limit), nil
}

// Stats returns index statistics.
func (b *BleveBM25Index) Stats() IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return IndexStats{}
	}

	docCount, _ := b.index.DocCount()

	// Bleve doesn't expose term count or average length directly
	return IndexStats{DocumentCount: int(docCount)}
}

// Backend returns "bleve".
func (b *BleveBM25Index) Backend() string {
	return string(BM25BackendBleve)
}

// Close closes the index.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.index.Close()
}

// extractMatchedTerms extracts matched terms from a search hit in sorted order.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field == "content" {
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
	}

	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	sort.Strings(result)
	return result
}

func mealTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveMealTokenizer{}, nil
}

// bleveMealTokenizer adapts Tokenize to analysis.Tokenizer.
type bleveMealTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *bleveMealTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lowerText := strings.ToLower(text)
	tokens := Tokenize(text, DefaultBM25Config().MinTokenLength)

	result := make(analysis.TokenStream, 0, len(tokens))
	offset := 0

	for i, token := range tokens {
		if offset > len(lowerText) {
			offset = len(lowerText)
		}
		start := strings.Index(lowerText[offset:], token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)
		if end > len(text) {
			end = len(text)
		}

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		offset = end
	}

	return result
}

func mealStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveMealStopFilter{stopWords: BuildStopWordMap(DefaultStopWords)}, nil
}

// bleveMealStopFilter implements analysis.TokenFilter for English stop words.
type bleveMealStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *bleveMealStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
