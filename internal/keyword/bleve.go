package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kioku/internal/models"
)

// Indexed field names.
const (
	fieldUserID = "user_id"
	fieldFront  = "front"
	fieldBack   = "back"
	fieldTags   = "tags"
)

// BleveIndex implements LexicalIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

var _ LexicalIndex = (*BleveIndex)(nil)

// NewBleveIndex creates or opens a Bleve index at path.
// If the path already exists, the existing index is opened and reused so that re-imports
// only touch changed decks. If you change the index mapping in code, remove the index
// directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, cardMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemBleveIndex creates an in-memory index.
func NewMemBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(cardMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func cardMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming): vocabulary cards are single
	// words in many languages and English stemming would conflate unrelated entries.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldFront, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldBack, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldTags, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldUserID, bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("card", docMapping)
	im.DefaultType = "card"
	im.DefaultMapping = docMapping
	return im
}

// Index indexes a card by its id.
func (b *BleveIndex) Index(ctx context.Context, card *models.Card) error {
	doc := map[string]interface{}{
		fieldUserID: card.UserID,
		fieldFront:  card.Front,
		fieldBack:   card.Back,
		fieldTags:   strings.Join(card.Tags, " "),
	}
	if err := b.index.Index(card.ID, doc); err != nil {
		return fmt.Errorf("failed to index card %s: %w", card.ID, err)
	}
	return nil
}

// Search matches query against front, back and tags and returns up to limit hits.
// Scores are divided by the best hit's score so the top hit scores 1. Equal scores are
// ordered by ascending id.
func (b *BleveIndex) Search(ctx context.Context, query, userID string, limit int, opts *SearchOptions) ([]*Hit, error) {
	frontBoost := 1.0
	fuzziness := 0
	if opts != nil {
		if opts.FrontBoost > 0 {
			frontBoost = opts.FrontBoost
		}
		if opts.Fuzziness > 0 {
			fuzziness = min(opts.Fuzziness, 2)
		}
	}
	if limit <= 0 {
		limit = models.DefaultSearchLimit
	}

	text := bleve.NewDisjunctionQuery(
		fieldQuery(query, fieldFront, frontBoost, fuzziness),
		fieldQuery(query, fieldBack, 1, fuzziness),
		fieldQuery(query, fieldTags, 1, fuzziness),
	)
	var q blevequery.Query = text
	if userID != "" {
		owner := bleve.NewTermQuery(userID)
		owner.SetField(fieldUserID)
		q = bleve.NewConjunctionQuery(owner, text)
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.SortBy([]string{"-_score", "_id"})

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]*Hit, 0, len(res.Hits))
	top := res.MaxScore
	for _, hit := range res.Hits {
		score := hit.Score
		if top > 0 {
			score /= top
		}
		out = append(out, &Hit{ID: hit.ID, Score: score})
	}
	return out, nil
}

// fieldQuery builds a match query on one field, optionally fuzzy.
func fieldQuery(query, field string, boost float64, fuzziness int) blevequery.Query {
	mq := bleve.NewMatchQuery(query)
	mq.SetField(field)
	if boost != 1 {
		mq.SetBoost(boost)
	}
	if fuzziness > 0 {
		mq.SetFuzziness(fuzziness)
	}
	return mq
}

// Delete removes a card from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// DocCount returns the total number of cards in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
