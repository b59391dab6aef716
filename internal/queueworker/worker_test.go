package queueworker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkb/internal/config"
	"pkb/internal/embedrerank"
	"pkb/internal/graphstore"
	"pkb/internal/ingest"
	"pkb/internal/memguard"
	"pkb/internal/modelregistry"
	"pkb/internal/objectstore"
)

// fakeQueue is an in-memory stand-in for *kv.Store's BRPOP-style dequeue,
// letting the worker loop be exercised without a live Redis.
type fakeQueue struct {
	mu    sync.Mutex
	items [][]byte
}

func (q *fakeQueue) push(payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, payload)
}

func (q *fakeQueue) Dequeue(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true, nil
}

func testWorkerProcessor(t *testing.T) *ingest.Processor {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
	t.Cleanup(srv.Close)

	registry := modelregistry.New(memguard.New(1))
	embedder := embedrerank.NewEmbedder(config.EmbeddingConfig{BaseURL: srv.URL, Path: "/v1/embeddings", Model: "test-embed"}, registry, memguard.New(1))

	return &ingest.Processor{
		Objects:         objectstore.NewMemoryStore(),
		ObjectPublicURL: "https://objects.example.com/bucket",
		Graph:           graphstore.NewMemoryStore(),
		Embedder:        embedder,
		Registry:        registry,
		CacheDir:        t.TempDir(),
	}
}

func TestWorkerProcessesQueuedPayload(t *testing.T) {
	queue := &fakeQueue{}
	processor := testWorkerProcessor(t)
	worker := &Worker{Queue: queue, Processor: processor}

	payload, err := json.Marshal(ingest.Payload{Document: ingest.Document{DocID: "doc:queue1"}})
	require.NoError(t, err)
	queue.push(payload)

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	err = worker.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	graph := processor.Graph.(*graphstore.MemoryStore)
	_, ok, err := graph.GetNode(t.Context(), "doc:queue1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWorkerSkipsMalformedPayloadWithoutStopping(t *testing.T) {
	queue := &fakeQueue{}
	processor := testWorkerProcessor(t)
	worker := &Worker{Queue: queue, Processor: processor}

	queue.push([]byte("not json"))
	validPayload, err := json.Marshal(ingest.Payload{Document: ingest.Document{DocID: "doc:queue2"}})
	require.NoError(t, err)
	queue.push(validPayload)

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	err = worker.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	graph := processor.Graph.(*graphstore.MemoryStore)
	_, ok, err := graph.GetNode(t.Context(), "doc:queue2")
	require.NoError(t, err)
	assert.True(t, ok)
}
