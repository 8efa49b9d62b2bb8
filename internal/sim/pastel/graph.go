package pastel

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Edge is an undirected edge with A ordered before B.
type Edge struct {
	A NodeKey `json:"a"`
	B NodeKey `json:"b"`
}

// Graph is an undirected simple graph over node keys, stored in a gonum
// UndirectedGraph. Keys map to gonum node ids for the life of the vertex.
// Only the owning network mutates it; everyone else gets the read methods.
type Graph struct {
	g     *simple.UndirectedGraph
	ids   map[NodeKey]int64
	keys  map[int64]NodeKey
	next  int64
	edges int
}

func newGraph() *Graph {
	return &Graph{
		g:    simple.NewUndirectedGraph(),
		ids:  map[NodeKey]int64{},
		keys: map[int64]NodeKey{},
	}
}

// buildGraph tests every ordered pair of distinct nodes.
func buildGraph(nodes []Node) *Graph {
	g := newGraph()
	for _, n := range nodes {
		g.addVertex(n.Key())
	}
	for _, a := range nodes {
		for _, b := range nodes {
			if a.Key() == b.Key() {
				continue
			}
			if a.CanConnect(b) {
				g.addEdge(a.Key(), b.Key())
			}
		}
	}
	return g
}

func (g *Graph) addVertex(k NodeKey) bool {
	if _, ok := g.ids[k]; ok {
		return false
	}
	id := g.next
	g.next++
	g.g.AddNode(simple.Node(id))
	g.ids[k] = id
	g.keys[id] = k
	return true
}

// removeVertex drops k with every edge touching it.
func (g *Graph) removeVertex(k NodeKey) bool {
	id, ok := g.ids[k]
	if !ok {
		return false
	}
	g.edges -= g.g.From(id).Len()
	g.g.RemoveNode(id)
	delete(g.ids, k)
	delete(g.keys, id)
	return true
}

// addEdge rejects self loops, parallel edges and unknown endpoints.
func (g *Graph) addEdge(a, b NodeKey) bool {
	if a == b {
		return false
	}
	ia, ok := g.ids[a]
	if !ok {
		return false
	}
	ib, ok := g.ids[b]
	if !ok {
		return false
	}
	if g.g.HasEdgeBetween(ia, ib) {
		return false
	}
	g.g.SetEdge(g.g.NewEdge(simple.Node(ia), simple.Node(ib)))
	g.edges++
	return true
}

func (g *Graph) VertexCount() int { return len(g.ids) }
func (g *Graph) EdgeCount() int   { return g.edges }

func (g *Graph) HasVertex(k NodeKey) bool {
	_, ok := g.ids[k]
	return ok
}

func (g *Graph) HasEdge(a, b NodeKey) bool {
	ia, ok := g.ids[a]
	if !ok {
		return false
	}
	ib, ok := g.ids[b]
	if !ok {
		return false
	}
	return g.g.HasEdgeBetween(ia, ib)
}

// Neighbors returns the keys adjacent to k in key order.
func (g *Graph) Neighbors(k NodeKey) []NodeKey {
	id, ok := g.ids[k]
	if !ok {
		return nil
	}
	it := g.g.From(id)
	if it.Len() == 0 {
		return nil
	}
	out := make([]NodeKey, 0, it.Len())
	for it.Next() {
		out = append(out, g.keys[it.Node().ID()])
	}
	sortKeys(out)
	return out
}

func (g *Graph) Vertices() []NodeKey {
	return sortedKeys(g.ids)
}

func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, g.edges)
	for _, a := range g.Vertices() {
		for _, b := range g.Neighbors(a) {
			if a.Less(b) {
				out = append(out, Edge{A: a, B: b})
			}
		}
	}
	return out
}

// ShortestPath returns the hop-minimal path from one vertex to another,
// endpoints included. Neighbors are expanded in key order so the result is
// deterministic.
func (g *Graph) ShortestPath(from, to NodeKey) ([]NodeKey, bool) {
	if !g.HasVertex(from) || !g.HasVertex(to) {
		return nil, false
	}
	if from == to {
		return []NodeKey{from}, true
	}
	prev := map[NodeKey]NodeKey{from: from}
	queue := []NodeKey{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g.Neighbors(cur) {
			if _, seen := prev[n]; seen {
				continue
			}
			prev[n] = cur
			if n == to {
				return walkBack(prev, from, to), true
			}
			queue = append(queue, n)
		}
	}
	return nil, false
}

// Distances returns the hop count from one vertex to every vertex reachable
// from it, itself included at zero.
func (g *Graph) Distances(from NodeKey) map[NodeKey]int {
	if !g.HasVertex(from) {
		return nil
	}
	dist := map[NodeKey]int{from: 0}
	queue := []NodeKey{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		it := g.g.From(g.ids[cur])
		for it.Next() {
			n := g.keys[it.Node().ID()]
			if _, seen := dist[n]; seen {
				continue
			}
			dist[n] = dist[cur] + 1
			queue = append(queue, n)
		}
	}
	return dist
}

func walkBack(prev map[NodeKey]NodeKey, from, to NodeKey) []NodeKey {
	var path []NodeKey
	for k := to; ; k = prev[k] {
		path = append(path, k)
		if k == from {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Components returns the connected components, largest first. Each component
// is sorted; equal-sized components are ordered by their smallest key.
func (g *Graph) Components() [][]NodeKey {
	ccs := topo.ConnectedComponents(g.g)
	out := make([][]NodeKey, 0, len(ccs))
	for _, cc := range ccs {
		comp := make([]NodeKey, 0, len(cc))
		for _, n := range cc {
			comp = append(comp, g.keys[n.ID()])
		}
		sortKeys(comp)
		out = append(out, comp)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0].Less(out[j][0])
	})
	return out
}

func sortKeys(keys []NodeKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

func sortedKeys[V any](m map[NodeKey]V) []NodeKey {
	if len(m) == 0 {
		return nil
	}
	out := make([]NodeKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sortKeys(out)
	return out
}
