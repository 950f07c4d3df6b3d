package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/graph/emit"
	"github.com/stef-writes/iceOS-sub005/graph/store"
)

// ExecutionStore persists run records and the per-run append-only event
// log. The core consumes this interface; MemExecutionStore below is the
// in-memory backing, and the SQL stores in graph/store persist the state
// snapshots alongside it.
type ExecutionStore interface {
	CreateRun(ctx context.Context, exec blueprint.Execution) error
	UpdateStatus(ctx context.Context, runID string, status blueprint.RunStatus, finishedAt *int64, cost *blueprint.CostMeta) error
	GetRun(ctx context.Context, runID string) (blueprint.Execution, error)
	// AppendEvent must durably record ev before returning: the scheduler
	// relies on the ack to guarantee subscribers never observe a completed
	// run without its events.
	AppendEvent(ctx context.Context, runID string, ev emit.Event) error
	ReadEvents(ctx context.Context, runID string, fromSeq int) ([]emit.Event, error)
}

// BlueprintStore persists finalized blueprints with optimistic locking on
// lock_version.
type BlueprintStore interface {
	Put(ctx context.Context, b *blueprint.Blueprint) error
	Get(ctx context.Context, id string) (*blueprint.Blueprint, error)
	Delete(ctx context.Context, id string, lockVersion int64) error
}

// ErrVersionConflict is returned by BlueprintStore.Put/Delete when the
// caller's lock_version is stale.
type ErrVersionConflict struct {
	ID       string
	Expected int64
	Actual   int64
}

func (e *ErrVersionConflict) Error() string {
	return fmt.Sprintf("blueprint %q: lock_version conflict (expected %d, have %d)", e.ID, e.Expected, e.Actual)
}

// MemExecutionStore is the in-memory ExecutionStore. Writes are serialized
// per store; cross-run reads never observe torn state.
type MemExecutionStore struct {
	mu     sync.Mutex
	runs   map[string]blueprint.Execution
	events map[string][]emit.Event
}

// NewMemExecutionStore returns an empty MemExecutionStore.
func NewMemExecutionStore() *MemExecutionStore {
	return &MemExecutionStore{
		runs:   make(map[string]blueprint.Execution),
		events: make(map[string][]emit.Event),
	}
}

func (s *MemExecutionStore) CreateRun(_ context.Context, exec blueprint.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[exec.ID]; exists {
		return fmt.Errorf("run %q already exists", exec.ID)
	}
	s.runs[exec.ID] = exec
	return nil
}

func (s *MemExecutionStore) UpdateStatus(_ context.Context, runID string, status blueprint.RunStatus, finishedAt *int64, cost *blueprint.CostMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	exec.Status = status
	if finishedAt != nil {
		exec.FinishedAt = finishedAt
	}
	if cost != nil {
		exec.CostMeta = cost
	}
	s.runs[runID] = exec
	return nil
}

func (s *MemExecutionStore) GetRun(_ context.Context, runID string) (blueprint.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.runs[runID]
	if !ok {
		return blueprint.Execution{}, store.ErrNotFound
	}
	return exec, nil
}

func (s *MemExecutionStore) AppendEvent(_ context.Context, runID string, ev emit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[runID] = append(s.events[runID], ev)
	return nil
}

func (s *MemExecutionStore) ReadEvents(_ context.Context, runID string, fromSeq int) ([]emit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[runID]
	out := make([]emit.Event, 0, len(all))
	for _, ev := range all {
		if ev.Step >= fromSeq {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

// MemBlueprintStore is the in-memory BlueprintStore with optimistic
// lock_version semantics: Put with LockVersion == stored version bumps it;
// anything else conflicts. A new blueprint must be Put with LockVersion 0.
type MemBlueprintStore struct {
	mu         sync.Mutex
	blueprints map[string]*blueprint.Blueprint
}

// NewMemBlueprintStore returns an empty MemBlueprintStore.
func NewMemBlueprintStore() *MemBlueprintStore {
	return &MemBlueprintStore{blueprints: make(map[string]*blueprint.Blueprint)}
}

func (s *MemBlueprintStore) Put(_ context.Context, b *blueprint.Blueprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, exists := s.blueprints[b.ID]
	if !exists && b.LockVersion != 0 {
		return &ErrVersionConflict{ID: b.ID, Expected: 0, Actual: b.LockVersion}
	}
	if exists && cur.LockVersion != b.LockVersion {
		return &ErrVersionConflict{ID: b.ID, Expected: cur.LockVersion, Actual: b.LockVersion}
	}
	stored := *b
	stored.LockVersion++
	s.blueprints[b.ID] = &stored
	return nil
}

func (s *MemBlueprintStore) Get(_ context.Context, id string) (*blueprint.Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blueprints[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemBlueprintStore) Delete(_ context.Context, id string, lockVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.blueprints[id]
	if !ok {
		return store.ErrNotFound
	}
	if cur.LockVersion != lockVersion {
		return &ErrVersionConflict{ID: id, Expected: cur.LockVersion, Actual: lockVersion}
	}
	delete(s.blueprints, id)
	return nil
}
