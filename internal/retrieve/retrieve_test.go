package retrieve

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkb/internal/config"
	"pkb/internal/embedrerank"
	"pkb/internal/graphstore"
	"pkb/internal/memguard"
	"pkb/internal/modelregistry"
	"pkb/internal/planner"
	"pkb/internal/vectorindex"
)

func testOrchestrator(t *testing.T) (*Orchestrator, *graphstore.MemoryStore, *vectorindex.MemoryIndex) {
	t.Helper()

	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		type item struct {
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Data []item `json:"data"`
		}{}
		for range req.Input {
			resp.Data = append(resp.Data, item{Embedding: []float32{1, 0}})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(embedSrv.Close)

	rerankSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Pairs [][2]string `json:"pairs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := struct {
			Scores []float64 `json:"scores"`
		}{}
		for range req.Pairs {
			resp.Scores = append(resp.Scores, 1.0)
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(rerankSrv.Close)

	reg := modelregistry.New(memguard.New(1))
	embedCfg := config.EmbeddingConfig{BaseURL: embedSrv.URL, Path: "/v1/embeddings", Model: "m"}
	embedder := embedrerank.NewEmbedder(embedCfg, reg, memguard.New(1))
	reranker := embedrerank.NewReranker(
		config.RerankConfig{PrimaryModel: "primary", BatchSize: 16},
		config.EmbeddingConfig{BaseURL: rerankSrv.URL},
		reg, nil,
	)

	graph := graphstore.NewMemoryStore()
	vecs := vectorindex.NewMemoryIndex(2)

	o := &Orchestrator{
		Graph:        graph,
		Vectors:      vecs,
		Embedder:     embedder,
		Reranker:     reranker,
		RerankWeight: 0.7,
		MMRLambda:    0.7,
	}
	return o, graph, vecs
}

func TestRetrieveMergesChannelsAndRanks(t *testing.T) {
	o, graph, vecs := testOrchestrator(t)
	ctx := t.Context()

	require.NoError(t, graph.IngestBundle(ctx, graphstore.Bundle{Nodes: []graphstore.Node{
		{ID: "doc:1", Labels: []string{"Document"}, Props: map[string]any{"text": "budget planning notes for q1"}},
		{ID: "doc:2", Labels: []string{"Document"}, Props: map[string]any{"text": "unrelated content about rainfall"}},
	}}))
	require.NoError(t, vecs.Upsert(ctx, []vectorindex.Point{
		{ID: "doc:1", Vector: []float32{1, 0}, Metadata: map[string]any{"text": "budget planning notes for q1"}},
	}))

	docs, err := o.Retrieve(ctx, "budget planning", 5)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "doc:1", docs[0].ID)
	assert.Contains(t, docs[0].ChannelHits, "dense")
	assert.Contains(t, docs[0].ChannelHits, "lexical")
}

func TestRetrieveEmptyGraphReturnsEmpty(t *testing.T) {
	o, _, _ := testOrchestrator(t)
	docs, err := o.Retrieve(t.Context(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestWordSetCosineIdenticalIsOne(t *testing.T) {
	assert.InDelta(t, 1.0, wordSetCosine("alpha beta gamma", "alpha beta gamma"), 1e-9)
}

func TestWordSetCosineDisjointIsZero(t *testing.T) {
	assert.Equal(t, 0.0, wordSetCosine("alpha beta", "gamma delta"))
}

func TestMMRFirstPickIsTopScored(t *testing.T) {
	docs := []Document{
		{ID: "a", Snippet: "alpha beta", Combined: 0.9},
		{ID: "b", Snippet: "alpha beta gamma", Combined: 0.8},
		{ID: "c", Snippet: "completely different topic entirely", Combined: 0.7},
	}
	out := mmr(docs, 0.7, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
}

func TestMMRPrefersDiversityOverSecondBestScore(t *testing.T) {
	docs := []Document{
		{ID: "a", Snippet: "alpha beta gamma delta", Combined: 1.0},
		{ID: "b", Snippet: "alpha beta gamma delta", Combined: 0.95}, // near-duplicate of a
		{ID: "c", Snippet: "totally unrelated subject matter here", Combined: 0.5},
	}
	out := mmr(docs, 0.5, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "c", out[1].ID)
}

func TestMeanChannelScoreEmpty(t *testing.T) {
	assert.Equal(t, 0.0, meanChannelScore(Document{}))
}

func TestRerankDropsDocumentsWithNoText(t *testing.T) {
	o, _, _ := testOrchestrator(t)
	docs := []Document{
		{ID: "has-text", Snippet: "budget planning notes", ChannelHits: map[string]float64{"dense": 0.8}},
		{ID: "no-text", Snippet: "", ChannelHits: map[string]float64{"lexical": 0.5}},
	}
	out, err := o.rerank(t.Context(), "budget planning", docs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "has-text", out[0].ID)
}

func TestFanOutAndMergeFillsDenseSnippetFromMetadataText(t *testing.T) {
	o, _, vecs := testOrchestrator(t)
	ctx := t.Context()

	require.NoError(t, vecs.Upsert(ctx, []vectorindex.Point{
		{ID: "doc:3", Vector: []float32{1, 0}, Metadata: map[string]any{"text": "dense only document body"}},
	}))

	docs, err := o.fanOutAndMerge(ctx, "dense only", planner.Plan{}, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "dense only document body", docs[0].Snippet)
}
