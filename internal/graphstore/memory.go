package graphstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store used by unit tests that exercise the
// ingest pipeline's bundle-writing semantics without a Postgres instance.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]Node
	edges map[string]Edge // keyed by source+"\x00"+rel+"\x00"+target
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]Node),
		edges: make(map[string]Edge),
	}
}

func edgeKey(e Edge) string {
	return e.Source + "\x00" + e.Rel + "\x00" + e.Target
}

func (m *MemoryStore) IngestBundle(ctx context.Context, b Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range b.Nodes {
		m.nodes[n.ID] = n
	}
	for _, e := range b.Edges {
		m.edges[edgeKey(e)] = e
	}
	return nil
}

func (m *MemoryStore) GetNode(ctx context.Context, id string) (Node, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok, nil
}

func (m *MemoryStore) LexicalSearch(ctx context.Context, query string, limit int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []Hit
	for _, n := range m.nodes {
		if isEntity(n.Labels) {
			continue
		}
		text, _ := n.Props["text"].(string)
		if score := termScore(text, query); score > 0 {
			hits = append(hits, Hit{ID: n.ID, Score: score, Snippet: snippet(text), Metadata: n.Props})
		}
	}
	return topN(hits, limit), nil
}

func (m *MemoryStore) EntitySearch(ctx context.Context, query string, limit int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []Hit
	for _, n := range m.nodes {
		if !isEntity(n.Labels) {
			continue
		}
		name, _ := n.Props["name"].(string)
		if score := termScore(name, query); score > 0 {
			hits = append(hits, Hit{ID: n.ID, Score: score, Snippet: name, Metadata: n.Props})
		}
	}
	return topN(hits, limit), nil
}

func (m *MemoryStore) TraverseRelated(ctx context.Context, seedIDs []string, limit int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seeds := make(map[string]bool, len(seedIDs))
	for _, id := range seedIDs {
		seeds[id] = true
	}
	var hits []Hit
	seen := make(map[string]bool)
	for _, e := range m.edges {
		if !seeds[e.Source] || seen[e.Target] {
			continue
		}
		n, ok := m.nodes[e.Target]
		if !ok {
			continue
		}
		seen[e.Target] = true
		text, _ := n.Props["text"].(string)
		hits = append(hits, Hit{ID: n.ID, Score: 1.0, Snippet: snippet(text), Metadata: n.Props})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	return topN(hits, limit), nil
}

func (m *MemoryStore) Close() error { return nil }

func termScore(haystack, query string) float64 {
	haystack = strings.ToLower(haystack)
	var score float64
	for _, term := range strings.Fields(strings.ToLower(query)) {
		score += float64(strings.Count(haystack, term))
	}
	return score
}

func snippet(text string) string {
	if len(text) <= 160 {
		return text
	}
	return text[:160]
}

func topN(hits []Hit, n int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if n > 0 && len(hits) > n {
		hits = hits[:n]
	}
	return hits
}
