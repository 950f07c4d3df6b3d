package runtime

import (
	"sync"

	"github.com/stef-writes/iceOS-sub005/blueprint"
)

// BranchGatingResolver tracks condition-node decisions and derives which
// nodes are inactive: a node is active iff no recorded decision conflicts
// with its declared branch membership and none of its dependencies are
// inactive. Decisions are memoized; the derived inactive set is recomputed
// lazily when a new decision lands.
type BranchGatingResolver struct {
	mu        sync.Mutex
	graph     *blueprint.Graph
	nodes     map[string]blueprint.NodeSpec
	order     []string
	decisions map[string]bool
	inactive  map[string]bool
	dirty     bool
}

// NewBranchGatingResolver builds a resolver over the given node set.
func NewBranchGatingResolver(nodes []blueprint.NodeSpec, g *blueprint.Graph) *BranchGatingResolver {
	byID := make(map[string]blueprint.NodeSpec, len(nodes))
	order := make([]string, 0, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		order = append(order, n.ID)
	}
	return &BranchGatingResolver{
		graph:     g,
		nodes:     byID,
		order:     order,
		decisions: make(map[string]bool),
		inactive:  make(map[string]bool),
	}
}

// Record memoizes a condition node's decision and invalidates the derived
// active set.
func (r *BranchGatingResolver) Record(conditionNodeID string, decision bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.decisions[conditionNodeID]; ok && prev == decision {
		return
	}
	r.decisions[conditionNodeID] = decision
	r.dirty = true
}

// Decision returns a recorded decision, ok=false if the condition has not
// resolved yet.
func (r *BranchGatingResolver) Decision(conditionNodeID string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.decisions[conditionNodeID]
	return d, ok
}

// Active reports whether id may still execute under the decisions recorded
// so far.
func (r *BranchGatingResolver) Active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dirty {
		r.recompute()
	}
	return !r.inactive[id]
}

// recompute walks nodes in dependency order (the construction order is a
// valid one within each Levels() pass; dependencies always precede
// dependents in the propagation below because inactivity only flows along
// forward edges, iterated to a fixed point).
func (r *BranchGatingResolver) recompute() {
	r.inactive = make(map[string]bool)
	for id, n := range r.nodes {
		if n.Branch == nil {
			continue
		}
		if d, ok := r.decisions[n.Branch.ConditionNodeID]; ok && d != n.Branch.When {
			r.inactive[id] = true
		}
	}
	// Propagate along dependency edges until stable: a node with any
	// inactive dependency is itself inactive.
	for changed := true; changed; {
		changed = false
		for _, id := range r.order {
			if r.inactive[id] {
				continue
			}
			for _, dep := range r.graph.Dependencies(id) {
				if r.inactive[dep] {
					r.inactive[id] = true
					changed = true
					break
				}
			}
		}
	}
	r.dirty = false
}
