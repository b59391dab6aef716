package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkb/internal/config"
	"pkb/internal/embedrerank"
	"pkb/internal/graphstore"
	"pkb/internal/memguard"
	"pkb/internal/modelregistry"
	"pkb/internal/objectstore"
	"pkb/internal/vectorindex"
)

func fakeEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
		for i := range req.Input {
			resp.Data = append(resp.Data, item{Embedding: []float32{1, float32(i % 3)}})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func testProcessor(t *testing.T) (*Processor, *graphstore.MemoryStore, *vectorindex.MemoryIndex) {
	t.Helper()
	srv := fakeEmbedServer(t)
	t.Cleanup(srv.Close)

	registry := modelregistry.New(memguard.New(1))
	embedder := embedrerank.NewEmbedder(config.EmbeddingConfig{BaseURL: srv.URL, Path: "/v1/embeddings", Model: "test-embed"}, registry, memguard.New(1))

	graph := graphstore.NewMemoryStore()
	docVectors := vectorindex.NewMemoryIndex(2)

	return &Processor{
		Objects:         objectstore.NewMemoryStore(),
		ObjectPublicURL: "https://objects.example.com/bucket",
		Graph:           graph,
		DocumentVectors: docVectors,
		Embedder:        embedder,
		Registry:        registry,
		CacheDir:        t.TempDir(),
	}, graph, docVectors
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcessTextFileCreatesDocumentFileBlockAndVector(t *testing.T) {
	p, graph, docVectors := testProcessor(t)
	localPath := writeTempFile(t, "notes.md", "Project Alpha kickoff meeting notes")

	payload := Payload{
		Document: Document{DocID: "doc:abc123", Title: "Notes", Source: "manual"},
		Files:    []FileDescriptor{{URI: localPath, MimeType: "text/markdown"}},
	}

	ctx := t.Context()
	require.NoError(t, p.Process(ctx, payload))

	docNode, ok, err := graph.GetNode(ctx, "doc:abc123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Notes", docNode.Props["title"])

	pageNode, ok, err := graph.GetNode(ctx, "doc:abc123::page::0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, pageNode.Props["pooled_vector"])

	blockID := "doc:abc123::page::0#block"
	blockNode, ok, err := graph.GetNode(ctx, blockID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "text", blockNode.Props["block_type"])
	assert.Equal(t, "Project Alpha kickoff meeting notes", blockNode.Props["text_content"])

	results, err := docVectors.SimilaritySearch(ctx, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, blockID, results[0].ID)
}

func TestProcessPDFFileStillCreatesFileNodeWhenExtractionFails(t *testing.T) {
	p, graph, _ := testProcessor(t)

	// A well-formed multi-page PDF is awkward to hand-construct inline; this
	// exercises the PDF branch's failure path (extract.PDFPages erroring on a
	// malformed file) and confirms the File node still lands before the
	// branch runs, since file registration happens ahead of the dispatch
	// switch.
	localPath := writeTempFile(t, "report.pdf", "%PDF-1.4\n%%EOF")

	payload := Payload{
		Document: Document{DocID: "doc:pdf001"},
		Files:    []FileDescriptor{{URI: localPath, MimeType: "application/pdf"}},
	}

	ctx := t.Context()
	require.NoError(t, p.Process(ctx, payload))

	fileNode, ok, err := graph.GetNode(ctx, mustHashFile(t, localPath))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "application/pdf", fileNode.Props["mime_type"])
}

func TestProcessCompletesWithoutKVForRepeatedText(t *testing.T) {
	p, graph, _ := testProcessor(t)
	// p.KV is left nil: it requires a live Redis client, exercised separately
	// by the kv package's own tests. recordTextDedup no-ops when KV is nil.

	first := writeTempFile(t, "a.txt", "the quick brown fox jumps over the lazy dog")
	second := writeTempFile(t, "b.txt", "the quick brown fox jumps over the lazy dog")

	ctx := t.Context()
	require.NoError(t, p.Process(ctx, Payload{
		Document: Document{DocID: "doc:dup1"},
		Files:    []FileDescriptor{{URI: first, MimeType: "text/plain"}},
	}))
	require.NoError(t, p.Process(ctx, Payload{
		Document: Document{DocID: "doc:dup2"},
		Files:    []FileDescriptor{{URI: second, MimeType: "text/plain"}},
	}))

	// With KV disabled, no NEAR_DUPLICATE edges are recorded; this confirms
	// Process completes cleanly rather than erroring when KV is absent.
	_, ok, err := graph.GetNode(ctx, "doc:dup2")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestProcessIngestsEmailSideFacet(t *testing.T) {
	p, graph, _ := testProcessor(t)
	ctx := t.Context()

	err := p.Process(ctx, Payload{
		Document: Document{DocID: "doc:email1"},
		Email: &EmailInput{
			MessageID:  "msg-1",
			Subject:    "hello",
			Sender:     "alice@example.com",
			Recipients: []string{"bob@example.com"},
		},
	})
	require.NoError(t, err)

	emailNode, ok, err := graph.GetNode(ctx, "msg-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", emailNode.Props["subject"])
}

func TestProcessIngestsEntities(t *testing.T) {
	p, _, _ := testProcessor(t)
	ctx := t.Context()

	personJSON, _ := json.Marshal("alice@example.com")
	var person EntityRef
	require.NoError(t, json.Unmarshal(personJSON, &person))

	err := p.Process(ctx, Payload{
		Document: Document{DocID: "doc:ent1"},
		Entities: &EntitiesInput{People: []EntityRef{person}},
	})
	require.NoError(t, err)
}

// mustHashFile re-derives the sha256-based File node ID the way Process does,
// for assertions that need to look the node up by ID.
func mustHashFile(t *testing.T, path string) string {
	t.Helper()
	h, err := hashFile(path)
	require.NoError(t, err)
	return h
}
