// Package review runs card reviews: SM-2 baseline, optional graph blend, optimistic state
// write and review log append.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/blend"
	"github.com/hyperjump/kioku/internal/graph"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/scheduler"
	"github.com/hyperjump/kioku/internal/storage"
)

// DefaultMaxRetries is the number of re-reads after a version conflict.
const DefaultMaxRetries = 3

// DefaultDueLimit is the due queue page size when none is given.
const DefaultDueLimit = 50

// Store is the persistence the service needs.
type Store interface {
	storage.StateStore
	storage.ReviewLog
	storage.CardCatalog
}

// Invalidator drops cache entries by key.
type Invalidator interface {
	Invalidate(key string) bool
}

// Service schedules reviews and serves the due queue. It is safe for concurrent use.
type Service struct {
	store       Store
	core        *scheduler.Core
	blender     *blend.Blender
	predictions Invalidator
	embeddings  Invalidator
	maxRetries  int
	newID       func() string
	logger      *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMaxRetries sets how many times a conflicting write is retried.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithPredictionCache sets the cache whose entries are dropped after a card's state changes.
// Keys are graph.PredictionKey(cardID).
func WithPredictionCache(c Invalidator) Option {
	return func(s *Service) { s.predictions = c }
}

// WithEmbeddingCache sets the embedding cache reached by InvalidateCache.
func WithEmbeddingCache(c Invalidator) Option {
	return func(s *Service) { s.embeddings = c }
}

// WithIDGenerator overrides the review record id generator.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// NewService returns a Service. A nil blender schedules with plain SM-2.
func NewService(store Store, core *scheduler.Core, blender *blend.Blender, opts ...Option) *Service {
	if core == nil {
		core = scheduler.NewCore()
	}
	if blender == nil {
		blender = blend.New(nil, blend.Config{})
	}
	s := &Service{
		store:      store,
		core:       core,
		blender:    blender,
		maxRetries: DefaultMaxRetries,
		newID:      uuid.NewString,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleReview records a review of cardID with grade at now and returns the stored state.
// Repeating a review that was already recorded with the same grade and time returns the stored
// state without writing. Version conflicts are retried; when retries run out the error
// matches models.ErrRetriesExhausted and models.ErrConflict.
func (s *Service) ScheduleReview(ctx context.Context, cardID string, grade int, now time.Time) (*models.ScheduleState, error) {
	req := models.ReviewRequest{CardID: cardID, Grade: grade}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetCard(ctx, cardID); err != nil {
		return nil, fmt.Errorf("failed to load card %s: %w", cardID, err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		prior, err := s.store.GetState(ctx, cardID)
		if err != nil {
			return nil, fmt.Errorf("failed to load state of card %s: %w", cardID, err)
		}
		if replayed(prior, grade, now) {
			return prior, nil
		}

		base, err := s.core.Schedule(prior, cardID, grade, now)
		if err != nil {
			return nil, err
		}
		next, outcome := s.blender.Blend(ctx, base)

		var expected int64
		if prior != nil {
			expected = prior.Version
		}
		if err := s.store.PutState(ctx, next, expected); err != nil {
			if errors.Is(err, models.ErrConflict) {
				lastErr = err
				s.logger.Debug("review write conflict, retrying",
					zap.String("card_id", cardID),
					zap.Int("attempt", attempt+1),
					zap.Int64("expected_version", expected))
				continue
			}
			return nil, fmt.Errorf("failed to store state of card %s: %w", cardID, err)
		}

		rec := &models.ReviewRecord{
			ID:             s.newID(),
			CardID:         cardID,
			Grade:          grade,
			Timestamp:      now,
			ResultingState: next.Clone(),
			Degraded:       outcome.Degraded(),
		}
		if err := s.store.AppendReview(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to append review of card %s: %w", cardID, err)
		}
		s.invalidateNeighborhood(ctx, cardID)

		s.logger.Debug("review scheduled",
			zap.String("card_id", cardID),
			zap.Int("grade", grade),
			zap.Int("interval_days", next.IntervalDays),
			zap.Int("base_interval_days", next.BaseIntervalDays),
			zap.Bool("enhanced", next.Enhanced),
			zap.String("enhancement", string(outcome.Reason)))
		return next, nil
	}

	s.logger.Warn("review retries exhausted", zap.String("card_id", cardID), zap.Int("retries", s.maxRetries))
	return nil, fmt.Errorf("%w: card %s after %d attempts: %w", models.ErrRetriesExhausted, cardID, s.maxRetries+1, lastErr)
}

// replayed reports whether prior already records this exact review.
func replayed(prior *models.ScheduleState, grade int, now time.Time) bool {
	return prior != nil && prior.Version > 0 && prior.LastGrade == grade && prior.UpdatedAt.Equal(now)
}

// invalidateNeighborhood drops the cached predictions of cardID and its related cards, whose
// mastery estimates depend on this card's state.
func (s *Service) invalidateNeighborhood(ctx context.Context, cardID string) {
	if s.predictions == nil {
		return
	}
	s.predictions.Invalidate(graph.PredictionKey(cardID))
	rels, err := s.store.Relations(ctx, cardID)
	if err != nil {
		s.logger.Debug("failed to load relations for invalidation", zap.String("card_id", cardID), zap.Error(err))
		return
	}
	for _, r := range rels {
		s.predictions.Invalidate(graph.PredictionKey(r.ToID))
	}
}

// Preview returns the baseline state each grade 0..5 would produce for cardID at now.
// Nothing is written.
func (s *Service) Preview(ctx context.Context, cardID string, now time.Time) ([]*models.ScheduleState, error) {
	prior, err := s.store.GetState(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to load state of card %s: %w", cardID, err)
	}
	return s.core.Preview(prior, cardID, now)
}

// State returns the stored state of cardID, or nil if it was never reviewed.
func (s *Service) State(ctx context.Context, cardID string) (*models.ScheduleState, error) {
	return s.store.GetState(ctx, cardID)
}

// History returns the newest reviews of cardID first.
func (s *Service) History(ctx context.Context, cardID string, limit int) ([]*models.ReviewRecord, error) {
	return s.store.ListReviews(ctx, cardID, limit)
}

// GetDueCards returns the user's cards due at now, most overdue first, then new cards.
func (s *Service) GetDueCards(ctx context.Context, userID string, now time.Time, limit int) ([]*models.Card, error) {
	due, err := s.DueQueue(ctx, userID, now, limit)
	if err != nil {
		return nil, err
	}
	cards := make([]*models.Card, len(due))
	for i, d := range due {
		cards[i] = d.Card
	}
	return cards, nil
}

// DueQueue is GetDueCards with each card's current state.
func (s *Service) DueQueue(ctx context.Context, userID string, now time.Time, limit int) ([]*models.DueCard, error) {
	if userID == "" {
		return nil, models.NewValidationError("user_id", "must not be empty")
	}
	if limit <= 0 {
		limit = DefaultDueLimit
	}
	due, err := s.store.DueCards(ctx, userID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due cards for %s: %w", userID, err)
	}
	return due, nil
}

// Link relates two cards and drops both cards' cached predictions.
func (s *Service) Link(ctx context.Context, rel models.Relation) error {
	if err := s.store.LinkCards(ctx, rel); err != nil {
		return err
	}
	if s.predictions != nil {
		s.predictions.Invalidate(graph.PredictionKey(rel.FromID))
		s.predictions.Invalidate(graph.PredictionKey(rel.ToID))
	}
	return nil
}

// InvalidateCache drops the entry stored under fingerprint from the embedding and prediction
// caches. It reports whether any entry was removed.
func (s *Service) InvalidateCache(fingerprint string) bool {
	removed := false
	if s.embeddings != nil && s.embeddings.Invalidate(fingerprint) {
		removed = true
	}
	if s.predictions != nil && s.predictions.Invalidate(fingerprint) {
		removed = true
	}
	return removed
}
