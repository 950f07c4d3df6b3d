package blueprint

import "sort"

// Graph is the adjacency/reverse-adjacency representation of a
// Blueprint's dependency edges.
type Graph struct {
	nodes   []string
	forward map[string][]string // node -> nodes that depend on it
	reverse map[string][]string // node -> its dependencies
}

// DependencyGraph builds the adjacency/reverse-adjacency maps for b. Callers
// should run Validate first; DependencyGraph does not itself check for
// dangling references or cycles.
func DependencyGraph(b *Blueprint) *Graph {
	g := &Graph{
		forward: make(map[string][]string),
		reverse: make(map[string][]string),
	}
	for _, n := range b.Nodes {
		g.nodes = append(g.nodes, n.ID)
		if _, ok := g.forward[n.ID]; !ok {
			g.forward[n.ID] = nil
		}
		g.reverse[n.ID] = append([]string(nil), n.Dependencies...)
		for _, dep := range n.Dependencies {
			g.forward[dep] = append(g.forward[dep], n.ID)
		}
	}
	return g
}

// Dependents returns the node ids that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	return g.forward[id]
}

// Dependencies returns the node ids that id directly depends on.
func (g *Graph) Dependencies(id string) []string {
	return g.reverse[id]
}

// Levels computes a topological partition via Kahn's algorithm: each level
// is the set of nodes whose dependencies are all satisfied by earlier
// levels. Within a level, node ids are sorted for determinism (spec
// property 1: level(u) < level(v) for every edge u→v).
func (g *Graph) Levels() [][]string {
	indegree := make(map[string]int, len(g.nodes))
	for _, id := range g.nodes {
		indegree[id] = len(g.reverse[id])
	}

	remaining := len(g.nodes)
	var levels [][]string
	ready := make([]string, 0)
	for _, id := range g.nodes {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	for remaining > 0 && len(ready) > 0 {
		sort.Strings(ready)
		levels = append(levels, ready)
		remaining -= len(ready)

		var next []string
		for _, id := range ready {
			for _, dep := range g.forward[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = next
	}
	return levels
}

// HasCycle reports whether the graph contains a cycle (remaining nodes after
// Kahn's algorithm terminates without consuming them all).
func (g *Graph) HasCycle() bool {
	seen := 0
	for _, level := range g.Levels() {
		seen += len(level)
	}
	return seen != len(g.nodes)
}
