package search

import (
	"strconv"
	"testing"

	"github.com/hyperjump/kioku/internal/keyword"
)

func BenchmarkMerge(b *testing.B) {
	lexical := make([]*keyword.Hit, 100)
	vectors := make([]VectorHit, 100)
	for i := 0; i < 100; i++ {
		lexical[i] = &keyword.Hit{ID: "c" + strconv.Itoa(i), Score: float64(i) / 100}
		vectors[i] = VectorHit{ID: "c" + strconv.Itoa(i+50), Score: float64(100-i) / 100, Recency: 0.5}
	}
	w := Weights{Vector: 0.6, Recency: 0.4}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Merge(lexical, vectors, w)
	}
}
