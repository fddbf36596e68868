// Package graph connects the scheduler to the optional knowledge-graph mastery predictor.
package graph

import (
	"context"
	"fmt"

	"github.com/hyperjump/kioku/internal/models"
)

// Predictor estimates how well a card is known. Implementations return an error matching
// models.ErrUnavailable, models.ErrTimeout or models.ErrStale when no usable prediction exists.
type Predictor interface {
	Predict(ctx context.Context, cardID string) (*models.GraphPrediction, error)
}

// DataProvider is the model behind a Bridge. It has the same contract as Predictor but makes
// no latency promise; the Bridge adds the deadline, gate and cache.
type DataProvider interface {
	Predict(ctx context.Context, cardID string) (*models.GraphPrediction, error)
}

// Nop is the predictor used when no graph model is configured. It never predicts.
type Nop struct{}

// Predict always returns models.ErrUnavailable.
func (Nop) Predict(_ context.Context, cardID string) (*models.GraphPrediction, error) {
	return nil, fmt.Errorf("no graph predictor for card %s: %w", cardID, models.ErrUnavailable)
}
