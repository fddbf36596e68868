// Package models defines core data structures for cards, schedule state, reviews, and search results.
package models

import "time"

// Card is a single flash card. Cards are immutable once created; editing a card's text
// produces a new fingerprint and invalidates cached embeddings for the old one.
type Card struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	DeckID      string    `json:"deck_id,omitempty" db:"deck_id"`
	Front       string    `json:"front" db:"front"`
	Back        string    `json:"back" db:"back"`
	Tags        []string  `json:"tags,omitempty" db:"tags"`
	Fingerprint string    `json:"fingerprint" db:"fingerprint"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Text returns the text used for lexical and vector indexing.
func (c *Card) Text() string {
	if c.Back == "" {
		return c.Front
	}
	return c.Front + "\n" + c.Back
}

// CardInput is the input for creating a card through the API or an import.
type CardInput struct {
	ID     string   `json:"id,omitempty"`
	UserID string   `json:"user_id"`
	DeckID string   `json:"deck_id,omitempty"`
	Front  string   `json:"front"`
	Back   string   `json:"back,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// Relation is a weighted, directed edge between two cards in the knowledge graph.
type Relation struct {
	FromID string  `json:"from_id"`
	ToID   string  `json:"to_id"`
	Weight float64 `json:"weight"`
}

// Deck is a set of cards imported from one source file.
type Deck struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	SourcePath  string    `json:"source_path,omitempty"`
	SourceMtime int64     `json:"source_mtime,omitempty"`
	SourceSize  int64     `json:"source_size,omitempty"`
	CardCount   int       `json:"card_count"`
	ImportedAt  time.Time `json:"imported_at"`
}
