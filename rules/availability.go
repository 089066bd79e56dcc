package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liamcoop/courseaudit/course"
)

// PreviousActivity is the completion condition cm value meaning "the
// activity before this one".
const PreviousActivity int64 = -1

// availabilityNode is either a condition (Type set) or a subtree (C set).
type availabilityNode struct {
	Type string             `json:"type"`
	CM   *int64             `json:"cm"`
	Op   string             `json:"op"`
	C    []availabilityNode `json:"c"`
}

// CompletionDependencies returns the course-module ids referenced by
// completion conditions anywhere in an availability restriction tree, in
// document order. An empty payload has no dependencies.
func CompletionDependencies(availability string) ([]int64, error) {
	availability = strings.TrimSpace(availability)
	if availability == "" || availability == "null" {
		return nil, nil
	}

	var root availabilityNode
	if err := json.Unmarshal([]byte(availability), &root); err != nil {
		return nil, fmt.Errorf("invalid availability payload: %w", err)
	}

	var deps []int64
	var walk func(n availabilityNode)
	walk = func(n availabilityNode) {
		if n.Type == "completion" && n.CM != nil {
			deps = append(deps, *n.CM)
		}
		for _, child := range n.C {
			walk(child)
		}
	}
	walk(root)
	return deps, nil
}

// dependencyGraph is a directed graph over a section's modules. An edge
// from a to b means b requires completion of a.
type dependencyGraph struct {
	order    []int64
	index    map[int64]int
	out      map[int64][]int64
	incoming map[int64]int
	external map[int64]bool
}

// buildDependencyGraph parses each module's availability and links it to the
// modules it depends on. Dependencies on modules outside the list are
// recorded in external. Malformed payloads are treated as having no
// conditions.
func buildDependencyGraph(modules []*course.Module) *dependencyGraph {
	g := &dependencyGraph{
		index:    make(map[int64]int, len(modules)),
		out:      make(map[int64][]int64),
		incoming: make(map[int64]int),
		external: make(map[int64]bool),
	}
	for i, m := range modules {
		g.order = append(g.order, m.ID)
		g.index[m.ID] = i
	}

	for i, m := range modules {
		deps, err := CompletionDependencies(m.Availability)
		if err != nil {
			continue
		}
		for _, dep := range deps {
			if dep == PreviousActivity {
				if i == 0 {
					g.external[m.ID] = true
					continue
				}
				dep = modules[i-1].ID
			}
			if _, inSection := g.index[dep]; !inSection {
				g.external[m.ID] = true
				continue
			}
			if dep == m.ID || containsEdge(g.out[dep], m.ID) {
				continue
			}
			g.out[dep] = append(g.out[dep], m.ID)
			g.incoming[m.ID]++
		}
	}
	return g
}

func containsEdge(edges []int64, id int64) bool {
	for _, e := range edges {
		if e == id {
			return true
		}
	}
	return false
}

// hasIncoming reports whether the module depends on completion of any other
// module, inside or outside the section.
func (g *dependencyGraph) hasIncoming(id int64) bool {
	return g.incoming[id] > 0 || g.external[id]
}

// reachable returns the set of modules reachable from start, start included.
func (g *dependencyGraph) reachable(start int64) map[int64]bool {
	seen := map[int64]bool{start: true}
	queue := []int64{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range g.out[id] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// isolated returns the modules with no edges at all, in section order.
func (g *dependencyGraph) isolated() []int64 {
	var ids []int64
	for _, id := range g.order {
		if len(g.out[id]) == 0 && g.incoming[id] == 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// cycle returns the modules of one dependency cycle in traversal order, or
// nil when the graph is acyclic.
func (g *dependencyGraph) cycle() []int64 {
	const (
		white = iota
		grey
		black
	)
	color := make(map[int64]int, len(g.order))
	var stack []int64
	var found []int64

	var visit func(id int64) bool
	visit = func(id int64) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range g.out[id] {
			switch color[next] {
			case grey:
				for i, s := range stack {
					if s == next {
						found = append([]int64(nil), stack[i:]...)
						break
					}
				}
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white && visit(id) {
			return found
		}
	}
	return nil
}
