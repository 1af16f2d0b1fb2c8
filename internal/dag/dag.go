// Package dag orders the tables of a schema by their foreign key
// dependencies: a table depends on every table it references.
package dag

import (
	"fmt"
	"sort"
	"strings"
)

// Node is a table in the graph.
type Node[T any] struct {
	// ID is the table name.
	ID   string
	Data T
}

// CycleError reports a dependency cycle.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Path, " -> ")
}

// Graph is a directed acyclic graph of tables.
type Graph[T any] struct {
	nodes   map[string]*Node[T]
	edges   map[string][]string // parent -> children (dependents)
	parents map[string][]string // child -> parents (dependencies)
}

// NewGraph creates an empty graph.
func NewGraph[T any]() *Graph[T] {
	return &Graph[T]{
		nodes:   make(map[string]*Node[T]),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node, replacing the data of an existing one.
func (g *Graph[T]) AddNode(id string, data T) {
	if n, exists := g.nodes[id]; exists {
		n.Data = data
		return
	}
	g.nodes[id] = &Node[T]{ID: id, Data: data}
}

// AddEdge records that child depends on parent.
func (g *Graph[T]) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}
	if parentID == childID {
		return fmt.Errorf("self-loop detected: %s", parentID)
	}
	if !contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// GetNode returns a node by ID.
func (g *Graph[T]) GetNode(id string) (*Node[T], bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// GetParents returns the tables id depends on, sorted.
func (g *Graph[T]) GetParents(id string) []string {
	return sorted(g.parents[id])
}

// GetChildren returns the tables that depend on id, sorted.
func (g *Graph[T]) GetChildren(id string) []string {
	return sorted(g.edges[id])
}

// NodeCount returns the number of nodes.
func (g *Graph[T]) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph[T]) EdgeCount() int {
	n := 0
	for _, children := range g.edges {
		n += len(children)
	}
	return n
}

// TopologicalSort returns nodes with every dependency before its dependents.
// Among nodes that are ready at the same time the smallest ID comes first, so
// the order is deterministic.
func (g *Graph[T]) TopologicalSort() ([]*Node[T], error) {
	levels, err := g.GetExecutionLevels()
	if err != nil {
		return nil, err
	}
	out := make([]*Node[T], 0, len(g.nodes))
	for _, level := range levels {
		for _, id := range level {
			out = append(out, g.nodes[id])
		}
	}
	return out, nil
}

// GetExecutionLevels groups nodes by depth. Level 0 holds nodes without
// dependencies; nodes in one level can be processed in parallel once the
// previous level is done.
func (g *Graph[T]) GetExecutionLevels() ([][]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.parents[id])
	}

	var ready []string
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	var levels [][]string
	done := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		levels = append(levels, ready)
		done += len(ready)

		var next []string
		for _, id := range ready {
			for _, child := range g.edges[id] {
				indegree[child]--
				if indegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		ready = next
	}

	if done != len(g.nodes) {
		return nil, &CycleError{Path: g.findCycle()}
	}
	return levels, nil
}

// GetRoots returns nodes without dependencies.
func (g *Graph[T]) GetRoots() []string {
	var roots []string
	for id := range g.nodes {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// GetLeaves returns nodes nothing depends on.
func (g *Graph[T]) GetLeaves() []string {
	var leaves []string
	for id := range g.nodes {
		if len(g.edges[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	sort.Strings(leaves)
	return leaves
}

// findCycle returns one cycle path, first node repeated at the end.
func (g *Graph[T]) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, child := range sorted(g.edges[id]) {
			switch color[child] {
			case grey:
				for i, s := range stack {
					if s == child {
						cycle = append(append([]string{}, stack[i:]...), child)
						return true
					}
				}
			case white:
				if visit(child) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

func sorted(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
