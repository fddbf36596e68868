package graph

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// StateReader reads schedule state.
type StateReader interface {
	GetState(ctx context.Context, cardID string) (*models.ScheduleState, error)
}

// RelationReader lists the edges touching a card, oriented away from it.
type RelationReader interface {
	Relations(ctx context.Context, cardID string) ([]models.Relation, error)
}

// hopDecay scales the weight of evidence for each hop away from the card.
const hopDecay = 0.5

// RelationalProvider estimates mastery from the card's own schedule state and the states of
// related cards, walking the relation graph breadth-first up to Depth hops.
type RelationalProvider struct {
	states    StateReader
	relations RelationReader
	depth     int
	now       func() time.Time
}

var _ DataProvider = (*RelationalProvider)(nil)

// NewRelationalProvider returns a provider that walks up to depth hops (minimum 1).
func NewRelationalProvider(states StateReader, relations RelationReader, depth int) *RelationalProvider {
	if depth < 1 {
		depth = 1
	}
	return &RelationalProvider{states: states, relations: relations, depth: depth, now: time.Now}
}

// Predict returns the evidence-weighted mean mastery around cardID. Confidence grows with
// the total evidence weight. With no reviewed card in reach it returns models.ErrUnavailable.
func (p *RelationalProvider) Predict(ctx context.Context, cardID string) (*models.GraphPrediction, error) {
	now := p.now()
	visited := map[string]bool{cardID: true}
	frontier := []weighted{{id: cardID, weight: 1}}

	var sum, total float64
	for hop := 0; hop <= p.depth && len(frontier) > 0; hop++ {
		var next []weighted
		for _, node := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			st, err := p.states.GetState(ctx, node.id)
			if err != nil {
				return nil, fmt.Errorf("failed to read state of %s: %w", node.id, err)
			}
			if st != nil {
				sum += node.weight * Mastery(st, now)
				total += node.weight
			}
			if hop == p.depth {
				continue
			}
			rels, err := p.relations.Relations(ctx, node.id)
			if err != nil {
				return nil, fmt.Errorf("failed to read relations of %s: %w", node.id, err)
			}
			for _, r := range rels {
				if visited[r.ToID] {
					continue
				}
				visited[r.ToID] = true
				next = append(next, weighted{id: r.ToID, weight: node.weight * r.Weight * hopDecay})
			}
		}
		frontier = next
	}

	if total == 0 {
		return nil, fmt.Errorf("no reviewed cards near %s: %w", cardID, models.ErrUnavailable)
	}
	return &models.GraphPrediction{
		CardID:           cardID,
		PredictedMastery: clamp01(sum / total),
		Confidence:       total / (total + 1),
		AsOf:             now,
	}, nil
}

type weighted struct {
	id     string
	weight float64
}

// Mastery scores one card's state in [0,1]: the last grade scaled to [0,1], halved for every
// interval's worth of days the card is overdue.
func Mastery(st *models.ScheduleState, now time.Time) float64 {
	m := float64(st.LastGrade) / models.MaxGrade
	if st.IntervalDays > 0 && now.After(st.DueDate) {
		overdueDays := now.Sub(st.DueDate).Hours() / 24
		m *= math.Pow(0.5, overdueDays/float64(st.IntervalDays))
	}
	return clamp01(m)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
