package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndSimilaritySearchRanksByCosine(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := t.Context()

	require.NoError(t, idx.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{0, 1}},
		{ID: "c", Vector: []float32{0.9, 0.1}},
	}))

	results, err := idx.SimilaritySearch(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
}

func TestSimilaritySearchAppliesMetadataFilter(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := t.Context()
	require.NoError(t, idx.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]any{"kind": "doc"}},
		{ID: "b", Vector: []float32{1, 0}, Metadata: map[string]any{"kind": "image"}},
	}))

	results, err := idx.SimilaritySearch(ctx, []float32{1, 0}, 10, map[string]any{"kind": "image"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestDeleteRemovesPoint(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := t.Context()
	require.NoError(t, idx.Upsert(ctx, []Point{{ID: "a", Vector: []float32{1, 0}}}))
	require.NoError(t, idx.Delete(ctx, []string{"a"}))

	results, err := idx.SimilaritySearch(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUpsertIsIdempotentReplaceByID(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := t.Context()
	require.NoError(t, idx.Upsert(ctx, []Point{{ID: "a", Vector: []float32{1, 0}}}))
	require.NoError(t, idx.Upsert(ctx, []Point{{ID: "a", Vector: []float32{0, 1}}}))

	results, err := idx.SimilaritySearch(ctx, []float32{0, 1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}
