// SPDX-License-Identifier: MPL-2.0

// Package dag orders nodes of a directed graph so that every node comes after
// the nodes it depends on. envrun uses it to order selected environments by
// their `depends` declarations without disturbing declaration order more
// than necessary.
package dag

import (
	"fmt"
	"slices"
	"strings"
)

type (
	// CycleError indicates that the graph contains a cycle.
	CycleError struct {
		// Cycle is a closed path through the graph, first node repeated last
		// (e.g. [a b a]).
		Cycle []string
	}

	// Graph is a directed graph with string-keyed nodes. An edge from A to B
	// means A must complete before B starts. Node insertion order is the
	// tie-breaker for every ordering the graph produces.
	Graph struct {
		index map[string]int
		nodes []string
		succ  [][]int
		pred  [][]int
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{index: make(map[string]int)}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	g.id(name)
}

// AddEdge records that from must run before to. Both nodes are added if
// missing; duplicate edges are ignored.
func (g *Graph) AddEdge(from, to string) {
	f, t := g.id(from), g.id(to)
	if slices.Contains(g.succ[f], t) {
		return
	}
	g.succ[f] = append(g.succ[f], t)
	g.pred[t] = append(g.pred[t], f)
}

// TopologicalSort returns an order in which every node follows its
// predecessors. Among the nodes that are ready at any step, the one inserted
// first is emitted first, so a graph without edges sorts to insertion order.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make([]int, len(g.nodes))
	for i := range g.nodes {
		inDegree[i] = len(g.pred[i])
	}
	done := make([]bool, len(g.nodes))

	result := make([]string, 0, len(g.nodes))
	for len(result) < len(g.nodes) {
		next := -1
		for i := range g.nodes {
			if !done[i] && inDegree[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			return nil, &CycleError{Cycle: g.findCycle(done)}
		}
		done[next] = true
		result = append(result, g.nodes[next])
		for _, s := range g.succ[next] {
			inDegree[s]--
		}
	}

	return result, nil
}

func (g *Graph) id(name string) int {
	if i, ok := g.index[name]; ok {
		return i
	}
	i := len(g.nodes)
	g.index[name] = i
	g.nodes = append(g.nodes, name)
	g.succ = append(g.succ, nil)
	g.pred = append(g.pred, nil)
	return i
}

// findCycle walks predecessor edges among the unfinished nodes until a node
// repeats. Every unfinished node has an unfinished predecessor, so the walk
// always closes a cycle.
func (g *Graph) findCycle(done []bool) []string {
	start := -1
	for i := range g.nodes {
		if !done[i] {
			start = i
			break
		}
	}

	seenAt := make(map[int]int)
	var path []int
	for cur := start; ; {
		if pos, ok := seenAt[cur]; ok {
			loop := path[pos:]
			slices.Reverse(loop)
			names := make([]string, 0, len(loop)+1)
			for _, id := range loop {
				names = append(names, g.nodes[id])
			}
			return append(names, names[0])
		}
		seenAt[cur] = len(path)
		path = append(path, cur)

		next := -1
		for _, p := range g.pred[cur] {
			if !done[p] {
				next = p
				break
			}
		}
		if next == -1 {
			// Unreachable for a genuine cycle; report what we have.
			names := make([]string, len(path))
			for k, id := range path {
				names[k] = g.nodes[id]
			}
			return names
		}
		cur = next
	}
}
