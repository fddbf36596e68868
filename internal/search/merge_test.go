package search

import (
	"math"
	"testing"
	"time"

	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name    string
		lexical []*keyword.Hit
		vectors []VectorHit
		wantIDs []string
		want    map[string]float64
		source  map[string]models.ResultSource
	}{
		{
			name:    "lexical only keeps scores and order",
			lexical: []*keyword.Hit{{ID: "1", Score: 0.8}, {ID: "2", Score: 0.5}},
			wantIDs: []string{"1", "2"},
			want:    map[string]float64{"1": 0.8, "2": 0.5},
		},
		{
			name:    "vector scores are blended with recency",
			vectors: []VectorHit{{ID: "v", Score: 0.5, Recency: 0.25}},
			wantIDs: []string{"v"},
			want:    map[string]float64{"v": 0.4},
			source:  map[string]models.ResultSource{"v": models.SourceVector},
		},
		{
			name:    "duplicate keeps the higher score",
			lexical: []*keyword.Hit{{ID: "x", Score: 0.9}},
			vectors: []VectorHit{{ID: "x", Score: 0.5, Recency: 0.5}},
			wantIDs: []string{"x"},
			want:    map[string]float64{"x": 0.9},
			source:  map[string]models.ResultSource{"x": models.SourceBoth},
		},
		{
			name:    "ties broken by id",
			lexical: []*keyword.Hit{{ID: "b", Score: 0.5}, {ID: "a", Score: 0.5}},
			wantIDs: []string{"a", "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.lexical, tt.vectors, DefaultWeights)
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d results, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("result %d = %s, want %s", i, got[i].ID, id)
				}
				if want, ok := tt.want[id]; ok && math.Abs(got[i].BlendedScore-want) > 1e-9 {
					t.Errorf("%s score = %v, want %v", id, got[i].BlendedScore, want)
				}
				if want, ok := tt.source[id]; ok && got[i].Source != want {
					t.Errorf("%s source = %s, want %s", id, got[i].Source, want)
				}
			}
		})
	}
}

func TestRecency(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	halfLife := 30 * 24 * time.Hour
	if got := Recency(now, now, halfLife); got != 1 {
		t.Errorf("fresh card recency = %v, want 1", got)
	}
	if got := Recency(now.Add(-halfLife), now, halfLife); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("one half-life recency = %v, want 0.5", got)
	}
	if got := Recency(now.Add(time.Hour), now, halfLife); got != 1 {
		t.Errorf("future card recency = %v, want 1", got)
	}
	if got := Recency(now.Add(-halfLife), now, 0); got != 1 {
		t.Errorf("zero half-life recency = %v, want 1", got)
	}
}
