// Package keyword provides the lexical leg of card search.
package keyword

import (
	"context"

	"github.com/hyperjump/kioku/internal/models"
)

// SearchOptions optional parameters for lexical search. Nil means use defaults.
type SearchOptions struct {
	// FrontBoost multiplies the score contribution from matches on the card front.
	// Values > 1 rank cards whose prompt matches above cards whose answer matches. Use 1.0 for no boost.
	FrontBoost float64
	// Fuzziness is the maximum Levenshtein edit distance for typo tolerance (0 disables, max 2).
	Fuzziness int
}

// LexicalIndex defines lexical card search operations.
type LexicalIndex interface {
	Index(ctx context.Context, card *models.Card) error
	// Search returns hits for userID ("" searches all users), best first, with scores in (0, 1].
	Search(ctx context.Context, query, userID string, limit int, opts *SearchOptions) ([]*Hit, error)
	Delete(ctx context.Context, id string) error
	// DocCount returns the total number of cards in the index.
	DocCount() (uint64, error)
	Close() error
}

// Hit is a single lexical search hit.
type Hit struct {
	ID    string
	Score float64
}
