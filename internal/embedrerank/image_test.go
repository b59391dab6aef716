package embedrerank

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkb/internal/config"
	"pkb/internal/memguard"
	"pkb/internal/modelregistry"
)

func TestImageEmbedderReturnsNormalizedVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 1)
		assert.Regexp(t, "^data:image/png;base64,", req.Input[0])

		resp := struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}{}
		resp.Data = append(resp.Data, struct {
			Embedding []float32 `json:"embedding"`
		}{Embedding: []float32{3, 4}})
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	reg := modelregistry.New(memguard.New(1))
	embedder := NewImageEmbedder(config.EmbeddingConfig{BaseURL: srv.URL, Path: "/v1/embeddings", ImageModel: "siglip"}, reg)

	vec, err := embedder.Embed(t.Context(), []byte{1, 2, 3}, "image/png")
	require.NoError(t, err)
	require.Len(t, vec, 2)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
}
