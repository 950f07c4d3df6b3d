// Package memstore defines the MemoryStore capability consumed by the `llm`
// (memory_aware) and `agent` (memory_config) executors: a scoped
// semantic-retrieval and write interface. Concrete vector stores and
// embedding providers live behind this boundary; the package ships a
// dependency-free in-memory implementation for development and tests,
// alongside the Tool/ChatModel capability-plus-mock pattern in graph/tool
// and graph/model.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Hit is one semantic-search result.
type Hit struct {
	Key     string  `json:"key"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Scope identifies the org/user/session partition a memory read or write
// is confined to.
type Scope struct {
	OrgID     string
	UserID    string
	SessionID string
}

func (s Scope) key() string { return s.OrgID + "/" + s.UserID + "/" + s.SessionID }

// MemoryStore is the capability interface the core consumes; a real
// deployment backs it with a vector database and an embedding provider.
type MemoryStore interface {
	SemanticSearch(ctx context.Context, scope Scope, query string, k int) ([]Hit, error)
	Write(ctx context.Context, scope Scope, key, content string) error
}

// InMemoryStore is a dependency-free MemoryStore scoring hits by naive
// token overlap, sufficient for development and deterministic tests. It is
// not a substitute for a real embeddings-backed store in production.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string][]Hit // scope key -> entries, insertion order
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string][]Hit)}
}

// Write appends or replaces (by key) one entry in scope.
func (s *InMemoryStore) Write(_ context.Context, scope Scope, key, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk := scope.key()
	for i, h := range s.items[sk] {
		if h.Key == key {
			s.items[sk][i].Content = content
			return nil
		}
	}
	s.items[sk] = append(s.items[sk], Hit{Key: key, Content: content})
	return nil
}

// SemanticSearch scores every entry in scope by the fraction of query
// tokens it contains, descending, returning the top k.
func (s *InMemoryStore) SemanticSearch(_ context.Context, scope Scope, query string, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	entries := s.items[scope.key()]
	scored := make([]Hit, 0, len(entries))
	for _, h := range entries {
		content := strings.ToLower(h.Content)
		matched := 0
		for _, t := range terms {
			if strings.Contains(content, t) {
				matched++
			}
		}
		score := 0.0
		if len(terms) > 0 {
			score = float64(matched) / float64(len(terms))
		}
		scored = append(scored, Hit{Key: h.Key, Content: h.Content, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// NullStore answers every search with no hits; Write is a no-op. Used when
// a blueprint declares memory_aware but no store is configured.
type NullStore struct{}

func (NullStore) SemanticSearch(context.Context, Scope, string, int) ([]Hit, error) { return nil, nil }
func (NullStore) Write(context.Context, Scope, string, string) error                { return nil }
