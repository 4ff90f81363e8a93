package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kakuri/internal/models"
)

// indexedChunk is the document shape stored in Bleve. Department is deliberately not
// searchable; access control happens after retrieval.
type indexedChunk struct {
	Content string `json:"content"`
	Section string `json:"section"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates an
// in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase + tokenize, no stemming, so canonical query terms
	// match the stored words exactly.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("section", textFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping

	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index indexes a chunk's content and section under its ID.
func (b *BleveIndex) Index(ctx context.Context, chunk *models.Chunk) error {
	return b.index.Index(chunk.ID, indexedChunk{
		Content: chunk.Content,
		Section: chunk.MetaString(models.MetaSection),
	})
}

// Search runs a match query and returns up to limit results, best first.
// When opts.SectionBoost > 1, section and content are queried separately and
// the scores are merged additively with the section score boosted.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	sectionBoost := 1.0
	fuzzy := false
	fuzziness := 1
	if opts != nil {
		if opts.SectionBoost > 0 {
			sectionBoost = opts.SectionBoost
		}
		fuzzy = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	if sectionBoost <= 1.0 {
		return b.run(ctx, b.buildQuery(query, fuzzy, fuzziness, ""), limit)
	}
	return b.searchWithBoost(ctx, query, limit, sectionBoost, fuzzy, fuzziness)
}

func (b *BleveIndex) run(ctx context.Context, q blevequery.Query, size int) ([]*KeywordResult, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

func (b *BleveIndex) searchWithBoost(ctx context.Context, query string, limit int, sectionBoost float64, fuzzy bool, fuzziness int) ([]*KeywordResult, error) {
	// Request enough from each so the merged top "limit" is correct.
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	sectionHits, err := b.run(ctx, b.buildQuery(query, fuzzy, fuzziness, "section"), reqSize)
	if err != nil {
		return nil, err
	}
	contentHits, err := b.run(ctx, b.buildQuery(query, fuzzy, fuzziness, "content"), reqSize)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64)
	for _, h := range sectionHits {
		scores[h.ID] += h.Score * sectionBoost
	}
	for _, h := range contentHits {
		scores[h.ID] += h.Score
	}

	merged := make([]*KeywordResult, 0, len(scores))
	for id, s := range scores {
		merged = append(merged, &KeywordResult{ID: id, Score: s})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// buildQuery returns a match query, or a disjunction of fuzzy term queries when fuzzy
// matching is on. An empty field searches all fields.
func (b *BleveIndex) buildQuery(query string, fuzzy bool, fuzziness int, field string) blevequery.Query {
	terms := strings.Fields(strings.ToLower(query))
	if !fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes a chunk from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// DocCount returns the total number of chunks in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
