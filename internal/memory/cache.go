package memory

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/relay/internal/cache"
	"github.com/haasonsaas/relay/internal/store"
)

const (
	projectCacheSize = 10
	projectCacheTTL  = 60 * time.Second
)

// vectorCache keeps recall off the database on the hot path: one global
// id→vector map plus an LRU of per-project maps. Project maps are treated as
// immutable snapshots; any write to a project drops its entry so the next
// recall reloads. Global writes go through in place.
type vectorCache struct {
	mu           sync.RWMutex
	global       map[string][]float32
	globalLoaded bool
	projects     *cache.TTLCache[map[string][]float32]
}

func newVectorCache() *vectorCache {
	return &vectorCache{
		global:   make(map[string][]float32),
		projects: cache.New[map[string][]float32](projectCacheSize, projectCacheTTL),
	}
}

// globalVectors returns a snapshot of the global map, loading it from the
// store on first use. The snapshot is safe to iterate while concurrent
// writes land in the live map; vectors themselves are never mutated.
func (c *vectorCache) globalVectors(ctx context.Context, st *store.Store) (map[string][]float32, error) {
	c.mu.RLock()
	if c.globalLoaded {
		snap := snapshotVectors(c.global)
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	vectors, err := st.ListEmbeddings(ctx, store.ScopeGlobal, "")
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.globalLoaded {
		c.global = vectors
		c.globalLoaded = true
	}
	return snapshotVectors(c.global), nil
}

func snapshotVectors(m map[string][]float32) map[string][]float32 {
	snap := make(map[string][]float32, len(m))
	for id, vec := range m {
		snap[id] = vec
	}
	return snap
}

// projectVectors returns the vector map for one project path.
func (c *vectorCache) projectVectors(ctx context.Context, st *store.Store, projectPath string) (map[string][]float32, error) {
	if m, ok := c.projects.Get(projectPath); ok {
		return m, nil
	}
	vectors, err := st.ListEmbeddings(ctx, store.ScopeProject, projectPath)
	if err != nil {
		return nil, err
	}
	c.projects.Put(projectPath, vectors)
	return vectors, nil
}

// storeVector records a fresh write: global entries update in place, project
// snapshots are invalidated wholesale.
func (c *vectorCache) storeVector(scope store.Scope, projectPath, id string, vector []float32) {
	if scope == store.ScopeGlobal {
		c.mu.Lock()
		if c.globalLoaded {
			c.global[id] = vector
		}
		c.mu.Unlock()
		return
	}
	c.projects.Delete(projectPath)
}

// invalidate removes one id after a delete.
func (c *vectorCache) invalidate(scope store.Scope, projectPath, id string) {
	if scope == store.ScopeGlobal {
		c.mu.Lock()
		delete(c.global, id)
		c.mu.Unlock()
		return
	}
	c.projects.Delete(projectPath)
}

// clear drops everything, forcing reloads. Used after retention sweeps.
func (c *vectorCache) clear() {
	c.mu.Lock()
	c.global = make(map[string][]float32)
	c.globalLoaded = false
	c.mu.Unlock()
	c.projects.Clear()
}
