package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/breaker"
	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/models"
)

// DefaultDeadline bounds a single prediction when none is configured.
const DefaultDeadline = 100 * time.Millisecond

// PredictionKey is the cache key of a card's prediction.
func PredictionKey(cardID string) string {
	return cache.Fingerprint("prediction", cardID)
}

// Bridge calls a DataProvider under a deadline, behind a feature gate and a prediction cache.
// It implements Predictor.
type Bridge struct {
	provider DataProvider
	gate     *breaker.Gate
	cache    *cache.SemanticCache[*models.GraphPrediction]
	deadline time.Duration
	logger   *zap.Logger
}

var _ Predictor = (*Bridge)(nil)

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(l *zap.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

// WithCache memoizes predictions in c.
func WithCache(c *cache.SemanticCache[*models.GraphPrediction]) BridgeOption {
	return func(b *Bridge) { b.cache = c }
}

// NewBridge returns a Bridge over provider. gate may be nil (always enabled, no breaker).
func NewBridge(provider DataProvider, gate *breaker.Gate, deadline time.Duration, opts ...BridgeOption) *Bridge {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	b := &Bridge{
		provider: provider,
		gate:     gate,
		deadline: deadline,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Predict returns the provider's prediction for cardID or an enhancement failure. It returns
// as soon as the deadline passes; a cached computation keeps running in the background and
// warms the cache for the next caller.
func (b *Bridge) Predict(ctx context.Context, cardID string) (*models.GraphPrediction, error) {
	if b.gate != nil && !b.gate.Enabled() {
		return nil, breaker.ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, b.deadline)
	defer cancel()

	var pred *models.GraphPrediction
	call := func(ctx context.Context) error {
		var err error
		pred, err = b.fetch(ctx, cardID)
		return err
	}

	var err error
	if b.gate != nil {
		err = b.gate.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, b.classify(cardID, err)
	}
	if pred == nil {
		return nil, fmt.Errorf("empty prediction for card %s: %w", cardID, models.ErrUnavailable)
	}
	return pred, nil
}

type predictOutcome struct {
	pred *models.GraphPrediction
	err  error
}

// fetch returns by ctx's deadline even when the provider ignores cancellation.
func (b *Bridge) fetch(ctx context.Context, cardID string) (*models.GraphPrediction, error) {
	if b.cache == nil {
		done := make(chan predictOutcome, 1)
		go func() {
			pred, err := b.provider.Predict(ctx, cardID)
			done <- predictOutcome{pred: pred, err: err}
		}()
		select {
		case out := <-done:
			return out.pred, out.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return b.cache.Get(ctx, PredictionKey(cardID), func(ctx context.Context) (*models.GraphPrediction, error) {
		return b.provider.Predict(ctx, cardID)
	})
}

// classify maps any failure onto the three enhancement sentinels.
func (b *Bridge) classify(cardID string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		b.logger.Debug("graph prediction timed out", zap.String("card_id", cardID), zap.Duration("deadline", b.deadline))
		return fmt.Errorf("graph prediction for card %s: %w", cardID, models.ErrTimeout)
	case models.IsEnhancementFailure(err):
		return err
	default:
		b.logger.Debug("graph prediction failed", zap.String("card_id", cardID), zap.Error(err))
		return fmt.Errorf("%w: %w", models.ErrUnavailable, err)
	}
}

// Invalidate drops the cached prediction stored under key.
func (b *Bridge) Invalidate(key string) bool {
	if b.cache == nil {
		return false
	}
	return b.cache.Invalidate(key)
}

// InvalidateCard drops the cached prediction for cardID.
func (b *Bridge) InvalidateCard(cardID string) bool {
	return b.Invalidate(PredictionKey(cardID))
}

// Gate returns the bridge's feature gate, or nil.
func (b *Bridge) Gate() *breaker.Gate { return b.gate }

// CacheStats returns the prediction cache statistics; ok is false when no cache is set.
func (b *Bridge) CacheStats() (stats cache.Stats, ok bool) {
	if b.cache == nil {
		return cache.Stats{}, false
	}
	return b.cache.Stats(), true
}
