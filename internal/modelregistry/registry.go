// Package modelregistry caches loaded models (embedders, rerankers,
// extractor backends) behind per-name locks so concurrent callers asking
// for the same model coalesce into a single load, and so a load never
// starts while the host is under memory pressure.
package modelregistry

import (
	"context"
	"fmt"
	"sync"

	"pkb/internal/memguard"
)

// Loader constructs a model instance. It is only invoked once per name,
// unless the model is later unloaded.
type Loader func(ctx context.Context) (any, error)

// Registry is safe for concurrent use.
type Registry struct {
	guard *memguard.Guard

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	cache map[string]any
}

// New creates a Registry that gates loads on guard's memory pressure check.
func New(guard *memguard.Guard) *Registry {
	return &Registry{
		guard: guard,
		locks: make(map[string]*sync.Mutex),
		cache: make(map[string]any),
	}
}

func (r *Registry) lockFor(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

// GetOrLoad returns the cached model for name, loading it via loader if this
// is the first request for that name. Concurrent requests for the same name
// block on the same per-name lock rather than racing to load in parallel.
// Before invoking loader, GetOrLoad waits for host memory pressure to clear.
func (r *Registry) GetOrLoad(ctx context.Context, name string, loader Loader) (any, error) {
	lock := r.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	cached, ok := r.cache[name]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	if r.guard != nil {
		if err := r.guard.WaitForRecovery(ctx); err != nil {
			return nil, fmt.Errorf("wait for memory recovery before loading %q: %w", name, err)
		}
	}

	model, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", name, err)
	}

	r.mu.Lock()
	r.cache[name] = model
	r.mu.Unlock()

	return model, nil
}

// Unload evicts name from the cache. It does not attempt to release any
// resources held by the model instance itself; callers that need a
// deterministic teardown should type-assert the evicted value themselves.
func (r *Registry) Unload(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, name)
}

// Loaded reports whether name is currently cached, without triggering a load.
func (r *Registry) Loaded(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cache[name]
	return ok
}
