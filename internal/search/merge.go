package search

import (
	"math"
	"sort"
	"time"

	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
)

// Weights of the vector leg's blended score.
type Weights struct {
	Vector  float64
	Recency float64
}

// DefaultWeights is the 60/40 vector/recency split.
var DefaultWeights = Weights{Vector: 0.6, Recency: 0.4}

// VectorHit is a vector-leg hit with the recency of its card.
type VectorHit struct {
	ID      string
	Score   float64
	Recency float64
	Card    *models.Card
}

// Merge combines the two legs by card id. Lexical-only entries keep their lexical score;
// vector entries score Vector×score + Recency×recency. When both legs return an id the
// higher of the two scores wins and the source is "both". Results are ordered by score
// descending, then id ascending.
func Merge(lexical []*keyword.Hit, vectors []VectorHit, w Weights) []*models.SearchResult {
	byID := make(map[string]*models.SearchResult, len(lexical)+len(vectors))
	for _, h := range lexical {
		if r, ok := byID[h.ID]; ok {
			if h.Score > r.LexicalScore {
				r.LexicalScore = h.Score
				r.BlendedScore = h.Score
			}
			continue
		}
		byID[h.ID] = &models.SearchResult{
			ID:           h.ID,
			LexicalScore: h.Score,
			BlendedScore: h.Score,
			Source:       models.SourceLexical,
		}
	}
	for _, h := range vectors {
		blended := w.Vector*h.Score + w.Recency*h.Recency
		r, ok := byID[h.ID]
		if !ok {
			byID[h.ID] = &models.SearchResult{
				ID:           h.ID,
				Card:         h.Card,
				VectorScore:  h.Score,
				RecencyScore: h.Recency,
				BlendedScore: blended,
				Source:       models.SourceVector,
			}
			continue
		}
		if r.Source == models.SourceLexical {
			r.Source = models.SourceBoth
		} else if blended <= r.BlendedScore {
			continue
		}
		r.VectorScore = h.Score
		r.RecencyScore = h.Recency
		if r.Card == nil {
			r.Card = h.Card
		}
		r.BlendedScore = math.Max(r.BlendedScore, blended)
	}

	out := make([]*models.SearchResult, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlendedScore != out[j].BlendedScore {
			return out[i].BlendedScore > out[j].BlendedScore
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Recency returns 0.5^(age/halfLife) for a card created at created, 1 for cards from the future.
func Recency(created, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1
	}
	age := now.Sub(created)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}
