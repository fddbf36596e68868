// Package storage defines the persistence contracts for cards, schedule state, and reviews.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// StateStore persists per-card schedule state with optimistic concurrency.
type StateStore interface {
	// GetState returns the card's state, or (nil, nil) if the card was never reviewed.
	GetState(ctx context.Context, cardID string) (*models.ScheduleState, error)
	// PutState writes state if the stored version equals expectedVersion (0 = not yet stored)
	// and sets state.Version to the new version. Otherwise it returns models.ErrConflict.
	PutState(ctx context.Context, state *models.ScheduleState, expectedVersion int64) error
}

// ReviewLog is the append-only review audit trail.
type ReviewLog interface {
	AppendReview(ctx context.Context, rec *models.ReviewRecord) error
	// ListReviews returns the newest reviews of a card first.
	ListReviews(ctx context.Context, cardID string, limit int) ([]*models.ReviewRecord, error)
	CountReviews(ctx context.Context) (int64, error)
}

// CardCatalog stores cards and the relations between them.
type CardCatalog interface {
	PutCard(ctx context.Context, card *models.Card) error
	GetCard(ctx context.Context, id string) (*models.Card, error)
	GetCards(ctx context.Context, ids []string) (map[string]*models.Card, error)
	DeleteCard(ctx context.Context, id string) error
	ListDeckCards(ctx context.Context, deckID string) ([]*models.Card, error)
	// DueCards returns the user's cards due at now: overdue cards by due date first,
	// then never-reviewed cards by creation time.
	DueCards(ctx context.Context, userID string, now time.Time, limit int) ([]*models.DueCard, error)
	LinkCards(ctx context.Context, rel models.Relation) error
	// Relations returns the edges touching cardID, oriented so that FromID is cardID.
	Relations(ctx context.Context, cardID string) ([]models.Relation, error)
	CountCards(ctx context.Context) (int64, error)
}

// DeckStore tracks imported deck files.
type DeckStore interface {
	PutDeck(ctx context.Context, deck *models.Deck) error
	GetDeck(ctx context.Context, id string) (*models.Deck, error)
	DeleteDeck(ctx context.Context, id string) error
}

// Storage is the full persistence surface.
type Storage interface {
	StateStore
	ReviewLog
	CardCatalog
	DeckStore
	Close() error
}
