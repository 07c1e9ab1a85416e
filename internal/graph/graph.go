package graph

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/migration"
)

type Key = migration.Key

type keySet map[Key]struct{}

func (s keySet) sorted() []Key {
	out := make([]Key, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sortKeys(out)
	return out
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// Graph is the dependency DAG over migrations. Nodes are keyed by
// (app_label, name) and edges are stored as adjacency sets in both directions.
type Graph struct {
	nodes      map[Key]*migration.Migration
	parents    map[Key]keySet // node -> its dependencies
	children   map[Key]keySet // node -> nodes depending on it
	replacedBy map[Key]Key
}

// New returns an empty graph
func New() *Graph {
	return &Graph{
		nodes:      make(map[Key]*migration.Migration),
		parents:    make(map[Key]keySet),
		children:   make(map[Key]keySet),
		replacedBy: make(map[Key]Key),
	}
}

// BuildOptions controls dependency resolution in Build
type BuildOptions struct {
	// Settings resolves swappable dependencies; nil uses each default app
	Settings func(name string) (string, bool)
}

// Build adds every migration, then every edge, then validates the result.
// Optional dependencies on an app with no migrations are dropped.
func Build(migrations []*migration.Migration, opts BuildOptions) (*Graph, error) {
	g := New()
	for _, m := range migrations {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if err := g.AddNode(m); err != nil {
			return nil, err
		}
	}

	apps := make(map[string]bool)
	for k := range g.nodes {
		apps[k.AppLabel] = true
	}

	for _, m := range migrations {
		child := m.Key()
		for _, dep := range m.Dependencies {
			if err := g.AddDependency(child, dep); err != nil {
				return nil, err
			}
		}
		for _, dep := range m.OptionalDependencies {
			if !apps[dep.AppLabel] {
				continue
			}
			if err := g.AddDependency(child, dep); err != nil {
				return nil, err
			}
		}
		for _, sw := range m.SwappableDependencies {
			if err := g.AddDependency(child, sw.Resolve(opts.Settings)); err != nil {
				return nil, err
			}
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// AddNode registers a migration. Keys must be unique.
func (g *Graph) AddNode(m *migration.Migration) error {
	k := m.Key()
	if _, exists := g.nodes[k]; exists {
		return &apperrors.InvalidMigrationError{Key: k.String(), Reason: "duplicate migration key"}
	}
	g.nodes[k] = m
	g.parents[k] = make(keySet)
	g.children[k] = make(keySet)
	for _, r := range m.Replaces {
		g.replacedBy[r] = k
	}
	return nil
}

// AddDependency records that child depends on parent
func (g *Graph) AddDependency(child, parent Key) error {
	if _, ok := g.nodes[child]; !ok {
		return &apperrors.NodeNotFoundError{Message: "migration not found", Node: child.String()}
	}
	if _, ok := g.nodes[parent]; !ok {
		return &apperrors.NodeNotFoundError{
			Message: fmt.Sprintf("migration %s depends on a missing migration", child),
			Node:    parent.String(),
		}
	}
	g.parents[child][parent] = struct{}{}
	g.children[parent][child] = struct{}{}
	return nil
}

// Has reports whether the graph contains k
func (g *Graph) Has(k Key) bool {
	_, ok := g.nodes[k]
	return ok
}

// Node returns the migration stored under k
func (g *Graph) Node(k Key) (*migration.Migration, bool) {
	m, ok := g.nodes[k]
	return m, ok
}

func (g *Graph) Len() int { return len(g.nodes) }

// Keys returns every node, sorted
func (g *Graph) Keys() []Key {
	out := make([]Key, 0, len(g.nodes))
	for k := range g.nodes {
		out = append(out, k)
	}
	sortKeys(out)
	return out
}

// Dependencies returns the direct dependencies of k
func (g *Graph) Dependencies(k Key) []Key { return g.parents[k].sorted() }

// Dependents returns the nodes that directly depend on k
func (g *Graph) Dependents(k Key) []Key { return g.children[k].sorted() }

// Leaves returns the nodes nothing depends on
func (g *Graph) Leaves() []Key {
	var out []Key
	for k := range g.nodes {
		if len(g.children[k]) == 0 {
			out = append(out, k)
		}
	}
	sortKeys(out)
	return out
}

// LeafNodes returns the latest migrations of one app: nodes with no
// dependents inside the same app
func (g *Graph) LeafNodes(app string) []Key {
	var out []Key
	for k := range g.nodes {
		if k.AppLabel != app {
			continue
		}
		leaf := true
		for c := range g.children[k] {
			if c.AppLabel == app {
				leaf = false
				break
			}
		}
		if leaf {
			out = append(out, k)
		}
	}
	sortKeys(out)
	return out
}

// Roots returns the nodes without dependencies
func (g *Graph) Roots() []Key {
	var out []Key
	for k := range g.nodes {
		if len(g.parents[k]) == 0 {
			out = append(out, k)
		}
	}
	sortKeys(out)
	return out
}

// Ancestors returns every transitive dependency of k, excluding k
func (g *Graph) Ancestors(k Key) []Key { return g.walk(k, g.parents).sorted() }

// Descendants returns every node transitively depending on k, excluding k
func (g *Graph) Descendants(k Key) []Key { return g.walk(k, g.children).sorted() }

func (g *Graph) walk(start Key, edges map[Key]keySet) keySet {
	seen := make(keySet)
	stack := []Key{start}
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range edges[k] {
			if _, ok := seen[next]; !ok {
				seen[next] = struct{}{}
				stack = append(stack, next)
			}
		}
	}
	delete(seen, start)
	return seen
}

const (
	white = iota
	grey
	black
)

// Validate reports the first cycle found by a depth-first walk. Nodes are
// visited in key order so the reported chain is stable.
func (g *Graph) Validate() error {
	color := make(map[Key]int, len(g.nodes))
	var path []Key

	var visit func(k Key) error
	visit = func(k Key) error {
		color[k] = grey
		path = append(path, k)
		for _, dep := range g.Dependencies(k) {
			switch color[dep] {
			case grey:
				return &apperrors.CircularDependencyError{Cycle: cycleFrom(path, dep)}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		color[k] = black
		return nil
	}

	for _, k := range g.Keys() {
		if color[k] == white {
			if err := visit(k); err != nil {
				return err
			}
		}
	}
	return nil
}

// cycleFrom renders path[start:] closed back onto start
func cycleFrom(path []Key, start Key) []string {
	var chain []string
	for i := range path {
		if path[i] == start {
			for _, k := range path[i:] {
				chain = append(chain, k.String())
			}
			break
		}
	}
	return append(chain, start.String())
}

// AllCycles lists every cycle reachable by a depth-first walk
func (g *Graph) AllCycles() [][]Key {
	var cycles [][]Key
	visited := make(keySet)
	onStack := make(keySet)
	var path []Key

	var visit func(k Key)
	visit = func(k Key) {
		visited[k] = struct{}{}
		onStack[k] = struct{}{}
		path = append(path, k)
		for _, dep := range g.Dependencies(k) {
			if _, ok := visited[dep]; !ok {
				visit(dep)
			} else if _, ok := onStack[dep]; ok {
				for i := range path {
					if path[i] == dep {
						cycles = append(cycles, append([]Key(nil), path[i:]...))
						break
					}
				}
			}
		}
		path = path[:len(path)-1]
		delete(onStack, k)
	}

	for _, k := range g.Keys() {
		if _, ok := visited[k]; !ok {
			visit(k)
		}
	}
	return cycles
}

type keyHeap []Key

func (h keyHeap) Len() int            { return len(h) }
func (h keyHeap) Less(i, j int) bool  { return h[i].Less(h[j]) }
func (h keyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *keyHeap) Push(x interface{}) { *h = append(*h, x.(Key)) }
func (h *keyHeap) Pop() interface{} {
	old := *h
	k := old[len(old)-1]
	*h = old[:len(old)-1]
	return k
}

// TopologicalOrder returns every node after all of its dependencies. Ready
// nodes are taken in key order, so equal graphs always yield equal orders.
func (g *Graph) TopologicalOrder() ([]Key, error) {
	inDegree := make(map[Key]int, len(g.nodes))
	ready := &keyHeap{}
	for k := range g.nodes {
		inDegree[k] = len(g.parents[k])
		if inDegree[k] == 0 {
			*ready = append(*ready, k)
		}
	}
	heap.Init(ready)

	order := make([]Key, 0, len(g.nodes))
	for ready.Len() > 0 {
		k := heap.Pop(ready).(Key)
		order = append(order, k)
		for child := range g.children[k] {
			inDegree[child]--
			if inDegree[child] == 0 {
				heap.Push(ready, child)
			}
		}
	}

	if len(order) != len(g.nodes) {
		if err := g.Validate(); err != nil {
			return nil, err
		}
		return nil, &apperrors.CircularDependencyError{Cycle: []string{"unresolved nodes"}}
	}
	return order, nil
}

// ForwardPath returns the shortest chain from -> ... -> to following dependents
func (g *Graph) ForwardPath(from, to Key) ([]Key, error) {
	return g.path(from, to, g.children)
}

// BackwardPath returns the shortest chain from -> ... -> to following dependencies
func (g *Graph) BackwardPath(from, to Key) ([]Key, error) {
	return g.path(from, to, g.parents)
}

func (g *Graph) path(from, to Key, edges map[Key]keySet) ([]Key, error) {
	if !g.Has(from) {
		return nil, &apperrors.NodeNotFoundError{Message: "source migration not found", Node: from.String()}
	}
	if !g.Has(to) {
		return nil, &apperrors.NodeNotFoundError{Message: "target migration not found", Node: to.String()}
	}
	if from == to {
		return []Key{from}, nil
	}

	prev := map[Key]Key{}
	seen := keySet{from: {}}
	queue := []Key{from}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		if k == to {
			path := []Key{to}
			for cur := to; cur != from; {
				cur = prev[cur]
				path = append(path, cur)
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path, nil
		}
		for _, next := range edges[k].sorted() {
			if _, ok := seen[next]; !ok {
				seen[next] = struct{}{}
				prev[next] = k
				queue = append(queue, next)
			}
		}
	}
	return nil, fmt.Errorf("%w: no path from %s to %s", apperrors.ErrDependency, from, to)
}

// IsReplaced reports whether a squashed migration in the graph replaces k
func (g *Graph) IsReplaced(k Key) bool {
	_, ok := g.replacedBy[k]
	return ok
}

// Replacement returns the squashed migration that replaces k
func (g *Graph) Replacement(k Key) (Key, bool) {
	r, ok := g.replacedBy[k]
	return r, ok
}
