// Package embedrerank provides the text embedding and cross-encoder rerank
// services the ingestion pipeline and retrieval orchestrator share. Both
// call out to an OpenAI-compatible HTTP backend (a local llama.cpp/infinity
// style server, or a hosted API) registered in the model registry, and both
// respect the memory guard's batch-size backpressure.
package embedrerank

import (
	"context"
	"fmt"
	"math"

	"pkb/internal/config"
	"pkb/internal/embedding"
	"pkb/internal/memguard"
	"pkb/internal/modelregistry"
)

const (
	embedModelName      = "text-embedder"
	startingBatchSize   = 8
)

// Embedder turns text into L2-normalized dense vectors.
type Embedder struct {
	cfg      config.EmbeddingConfig
	registry *modelregistry.Registry
	guard    *memguard.Guard
}

// NewEmbedder constructs an Embedder bound to cfg's remote endpoint.
func NewEmbedder(cfg config.EmbeddingConfig, registry *modelregistry.Registry, guard *memguard.Guard) *Embedder {
	return &Embedder{cfg: cfg, registry: registry, guard: guard}
}

// ensureLoaded registers the embedding backend in the model registry the
// first time it's used, so concurrent callers coalesce onto one reachability
// check instead of each probing the endpoint independently.
func (e *Embedder) ensureLoaded(ctx context.Context) error {
	_, err := e.registry.GetOrLoad(ctx, embedModelName, func(ctx context.Context) (any, error) {
		if err := embedding.CheckReachability(ctx, e.cfg); err != nil {
			return nil, err
		}
		return e.cfg.Model, nil
	})
	return err
}

// EmbedBatch embeds texts, adapting its internal request batch size to
// memory pressure: it starts at 8, flushes a request once that many texts
// have accumulated, and halves the batch size (floor 2) for every
// subsequent request made while the host remains under memory pressure.
// Returned vectors are L2-normalized.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, fmt.Errorf("embedder not available: %w", err)
	}

	out := make([][]float32, 0, len(texts))
	batchSize := startingBatchSize

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]

		vecs, err := embedding.EmbedText(ctx, e.cfg, chunk)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		for _, v := range vecs {
			out = append(out, l2Normalize(v))
		}

		if e.guard != nil {
			under, err := e.guard.IsUnderPressure(ctx)
			if err != nil {
				return nil, fmt.Errorf("check memory pressure: %w", err)
			}
			batchSize = memguard.NextBatchSize(batchSize, under)
		}
	}

	return out, nil
}

// l2Normalize returns v scaled to unit length. A zero vector is returned
// unchanged to avoid a division by zero.
func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// PooledVector returns the L2-normalized element-wise mean of vectors, used to derive a
// single page-level (or file-level) vector from its constituent block
// embeddings. Returns nil if vectors is empty or the dimensions disagree.
func PooledVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	for i, s := range sum {
		out[i] = float32(s / float64(len(vectors)))
	}
	return l2Normalize(out)
}
