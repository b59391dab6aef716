package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory Index used by unit tests.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]Point
}

// NewMemoryIndex returns an empty MemoryIndex of the given dimension.
func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{dimension: dimension, points: make(map[string]Point)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		m.points[p.ID] = p
	}
	return nil
}

func (m *MemoryIndex) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

func (m *MemoryIndex) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]any) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Result
	for _, p := range m.points {
		if !matchesFilter(p.Metadata, filter) {
			continue
		}
		results = append(results, Result{ID: p.ID, Score: cosine(vector, p.Vector), Metadata: p.Metadata})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (m *MemoryIndex) Dimension() int { return m.dimension }

func (m *MemoryIndex) Close() error { return nil }

func matchesFilter(metadata map[string]any, filter map[string]any) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
