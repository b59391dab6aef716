// Package vectorindex is the vector index (C8): a best-effort, derived
// projection of the graph bundle's embeddings, used only to accelerate
// dense similarity search. It is never the source of truth for a document's
// existence — that's the graph bundle writer.
package vectorindex

import "context"

// Point is a single vector with its payload.
type Point struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Result is a single similarity search hit.
type Result struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Index is a single named vector collection (the spec's "documents" or
// "images" table).
type Index interface {
	Upsert(ctx context.Context, points []Point) error
	Delete(ctx context.Context, ids []string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]any) ([]Result, error)
	Dimension() int
	Close() error
}
