package graphstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestBundleUpsertsNodesAndEdges(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()

	b := Bundle{
		Nodes: []Node{
			{ID: "doc:1", Labels: []string{"Document"}, Props: map[string]any{"text": "quarterly planning notes"}},
			{ID: "person:1", Labels: []string{"Person"}, Props: map[string]any{"name": "Jane Smith"}},
		},
		Edges: []Edge{
			{Source: "doc:1", Rel: "mentions", Target: "person:1"},
		},
	}
	require.NoError(t, s.IngestBundle(ctx, b))

	n, ok, err := s.GetNode(ctx, "doc:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"Document"}, n.Labels)
}

func TestIngestBundleIsIdempotentOnReplay(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()
	b := Bundle{
		Nodes: []Node{{ID: "doc:1", Labels: []string{"Document"}, Props: map[string]any{"text": "v1"}}},
	}
	require.NoError(t, s.IngestBundle(ctx, b))
	b.Nodes[0].Props["text"] = "v2"
	require.NoError(t, s.IngestBundle(ctx, b))

	n, _, err := s.GetNode(ctx, "doc:1")
	require.NoError(t, err)
	assert.Equal(t, "v2", n.Props["text"])
}

func TestLexicalSearchFindsMatchingText(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()
	require.NoError(t, s.IngestBundle(ctx, Bundle{Nodes: []Node{
		{ID: "doc:1", Labels: []string{"Document"}, Props: map[string]any{"text": "budget planning meeting notes"}},
		{ID: "doc:2", Labels: []string{"Document"}, Props: map[string]any{"text": "unrelated content about weather"}},
	}}))

	hits, err := s.LexicalSearch(ctx, "budget planning", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc:1", hits[0].ID)
}

func TestEntitySearchOnlyMatchesEntityNodes(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()
	require.NoError(t, s.IngestBundle(ctx, Bundle{Nodes: []Node{
		{ID: "doc:1", Labels: []string{"Document"}, Props: map[string]any{"text": "Jane Smith mentioned here"}},
		{ID: "person:1", Labels: []string{"Person"}, Props: map[string]any{"name": "Jane Smith"}},
	}}))

	hits, err := s.EntitySearch(ctx, "Jane", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "person:1", hits[0].ID)
}

func TestTraverseRelatedFollowsOneHop(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()
	require.NoError(t, s.IngestBundle(ctx, Bundle{
		Nodes: []Node{
			{ID: "person:1", Labels: []string{"Person"}, Props: map[string]any{"name": "Jane Smith"}},
			{ID: "doc:1", Labels: []string{"Document"}, Props: map[string]any{"text": "doc mentioning jane"}},
		},
		Edges: []Edge{{Source: "person:1", Rel: "mentioned_in", Target: "doc:1"}},
	}))

	hits, err := s.TraverseRelated(ctx, []string{"person:1"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc:1", hits[0].ID)
}

func TestTraverseRelatedEmptySeeds(t *testing.T) {
	s := NewMemoryStore()
	hits, err := s.TraverseRelated(t.Context(), nil, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
