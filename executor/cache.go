package executor

import "sync"

import "github.com/stef-writes/iceOS-sub005/blueprint"

// Cache is the per-node result cache consulted before dispatch. Keys are
// opaque strings built from topology hash + node id + canonical input
// (executor.CacheKey).
type Cache interface {
	Get(key string) (blueprint.NodeExecutionResult, bool)
	Set(key string, result blueprint.NodeExecutionResult)
}

// MemCache is an unbounded in-process Cache, sufficient for a single run's
// lifetime; the scheduler owns one per run.
type MemCache struct {
	mu sync.RWMutex
	m  map[string]blueprint.NodeExecutionResult
}

// NewMemCache returns an empty MemCache.
func NewMemCache() *MemCache {
	return &MemCache{m: make(map[string]blueprint.NodeExecutionResult)}
}

func (c *MemCache) Get(key string) (blueprint.NodeExecutionResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.m[key]
	return r, ok
}

func (c *MemCache) Set(key string, result blueprint.NodeExecutionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = result
}
