// Package vector provides the card embedding index used by the vector leg of search.
package vector

import "context"

// VectorIndex defines vector storage and similarity search.
type VectorIndex interface {
	// Add inserts or replaces the vectors of ids.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// VectorResult is a single vector search hit keyed by card ID.
type VectorResult struct {
	ID    string
	Score float64 // cosine similarity for normalized vectors
}
