// Package dag provides the dependency graph of compiled artifacts: cycle
// detection, topological order, execution levels and the builder that turns
// recorded ref() and source() calls into edges.
package dag

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Node is a vertex of the graph.
type Node struct {
	// ID is "package.model" for models and "source.package.source.table"
	// for source tables.
	ID string
	// Data is the *render.Artifact or *catalog.SourceTable behind the id.
	Data any
}

type idSet map[string]struct{}

func (s idSet) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Graph is a directed graph whose edges run from a dependency to its
// dependent. Every accessor returns ids in sorted order.
type Graph struct {
	nodes map[string]*Node
	down  map[string]idSet // dependency -> dependents
	up    map[string]idSet // dependent -> dependencies
	edges int
}

// CycleError is returned by the ordering methods when the graph is cyclic.
type CycleError struct {
	// Path lists the cycle in edge direction and repeats its first id at
	// the end.
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		down:  make(map[string]idSet),
		up:    make(map[string]idSet),
	}
}

// AddNode inserts id, or replaces its data when it is already present.
func (g *Graph) AddNode(id string, data any) {
	if n, ok := g.nodes[id]; ok {
		n.Data = data
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
	g.down[id] = idSet{}
	g.up[id] = idSet{}
}

// AddEdge records that dependent depends on dependency. Both nodes must
// exist. Repeated edges are ignored.
func (g *Graph) AddEdge(dependency, dependent string) error {
	for _, id := range [...]string{dependency, dependent} {
		if _, ok := g.nodes[id]; !ok {
			return fmt.Errorf("unknown node %q", id)
		}
	}
	if dependency == dependent {
		return fmt.Errorf("node %q cannot depend on itself", dependency)
	}
	if _, ok := g.down[dependency][dependent]; ok {
		return nil
	}
	g.down[dependency][dependent] = struct{}{}
	g.up[dependent][dependency] = struct{}{}
	g.edges++
	return nil
}

// GetNode looks up a node.
func (g *Graph) GetNode(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// GetParents returns the direct dependencies of id.
func (g *Graph) GetParents(id string) []string {
	return g.up[id].sorted()
}

// GetChildren returns the direct dependents of id.
func (g *Graph) GetChildren(id string) []string {
	return g.down[id].sorted()
}

// GetAllNodes returns every node ordered by id.
func (g *Graph) GetAllNodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, id := range g.ids() {
		out = append(out, g.nodes[id])
	}
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of distinct edges.
func (g *Graph) EdgeCount() int { return g.edges }

// HasCycle reports whether the graph is cyclic. The returned path follows
// edge direction and is closed (first id repeated last). The search starts
// from the smallest id and walks children in sorted order, so the same
// graph always yields the same path.
func (g *Graph) HasCycle() (bool, []string) {
	done := make(map[string]bool, len(g.nodes))
	onPath := make(map[string]int)
	var path []string

	var walk func(id string) []string
	walk = func(id string) []string {
		onPath[id] = len(path)
		path = append(path, id)
		for _, next := range g.down[id].sorted() {
			if at, ok := onPath[next]; ok {
				return append(slices.Clone(path[at:]), next)
			}
			if done[next] {
				continue
			}
			if cycle := walk(next); cycle != nil {
				return cycle
			}
		}
		path = path[:len(path)-1]
		delete(onPath, id)
		done[id] = true
		return nil
	}

	for _, id := range g.ids() {
		if done[id] {
			continue
		}
		if cycle := walk(id); cycle != nil {
			return true, cycle
		}
	}
	return false, nil
}

// GetExecutionLevels partitions the nodes into levels. A node sits one
// level above its deepest dependency, so level 0 holds nodes without
// dependencies and every level only needs the levels below it.
func (g *Graph) GetExecutionLevels() ([][]string, error) {
	if cyclic, path := g.HasCycle(); cyclic {
		return nil, &CycleError{Path: path}
	}

	pending := make(map[string]int, len(g.nodes))
	var level []string
	for _, id := range g.ids() {
		pending[id] = len(g.up[id])
		if pending[id] == 0 {
			level = append(level, id)
		}
	}

	var levels [][]string
	for len(level) > 0 {
		levels = append(levels, level)
		var next []string
		for _, id := range level {
			for child := range g.down[id] {
				pending[child]--
				if pending[child] == 0 {
					next = append(next, child)
				}
			}
		}
		sort.Strings(next)
		level = next
	}
	return levels, nil
}

// TopologicalSort returns the nodes with every dependency ahead of its
// dependents. Among nodes that are ready at the same time the smallest id
// goes first.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	if cyclic, path := g.HasCycle(); cyclic {
		return nil, &CycleError{Path: path}
	}

	pending := make(map[string]int, len(g.nodes))
	var ready []string
	for _, id := range g.ids() {
		pending[id] = len(g.up[id])
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}

	out := make([]*Node, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, g.nodes[id])
		for _, child := range g.down[id].sorted() {
			pending[child]--
			if pending[child] == 0 {
				i, _ := slices.BinarySearch(ready, child)
				ready = slices.Insert(ready, i, child)
			}
		}
	}
	return out, nil
}

// downstream returns roots and everything reachable from them.
func (g *Graph) downstream(roots []string) idSet {
	seen := idSet{}
	queue := make([]string, 0, len(roots))
	for _, id := range roots {
		if _, ok := g.nodes[id]; ok {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		for child := range g.down[id] {
			queue = append(queue, child)
		}
	}
	return seen
}

// ValidSubgraph copies the graph without the invalid nodes and anything
// that depends on them, directly or not. The second result lists the
// removed dependents, excluding the invalid nodes themselves.
func (g *Graph) ValidSubgraph(invalid []string) (*Graph, []string) {
	removed := g.downstream(invalid)
	for _, id := range invalid {
		delete(removed, id)
	}
	isInvalid := make(idSet, len(invalid))
	for _, id := range invalid {
		isInvalid[id] = struct{}{}
	}

	out := NewGraph()
	for _, id := range g.ids() {
		_, bad := isInvalid[id]
		_, gone := removed[id]
		if !bad && !gone {
			out.AddNode(id, g.nodes[id].Data)
		}
	}
	for id := range out.nodes {
		for child := range g.down[id] {
			if _, ok := out.nodes[child]; ok {
				_ = out.AddEdge(id, child)
			}
		}
	}
	return out, removed.sorted()
}

func (g *Graph) ids() []string {
	out := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
