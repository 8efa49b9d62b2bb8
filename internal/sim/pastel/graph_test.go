package pastel

import (
	"reflect"
	"testing"
)

func keysOf(nodes ...*BlockNode) []NodeKey {
	out := make([]NodeKey, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Key())
	}
	return out
}

func TestGraph_SimpleGraphRules(t *testing.T) {
	g := newGraph()
	a, b := NodeKey{Pos: Pos{X: 0}}, NodeKey{Pos: Pos{X: 1}}
	g.addVertex(a)
	g.addVertex(b)

	if g.addEdge(a, a) {
		t.Fatalf("self loop accepted")
	}
	if !g.addEdge(a, b) || g.addEdge(b, a) {
		t.Fatalf("parallel edge handling wrong")
	}
	if g.EdgeCount() != 1 || !g.HasEdge(b, a) {
		t.Fatalf("edge count=%d", g.EdgeCount())
	}
	if g.addEdge(a, NodeKey{Pos: Pos{X: 7}}) {
		t.Fatalf("edge to unknown vertex accepted")
	}
	g.removeVertex(a)
	if g.EdgeCount() != 0 || g.HasVertex(a) || len(g.Neighbors(b)) != 0 {
		t.Fatalf("remove vertex left edges behind")
	}
}

func TestGraph_ShortestPath(t *testing.T) {
	nodes := chain(5)
	all := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		all = append(all, n)
	}
	g := buildGraph(all)

	path, ok := g.ShortestPath(nodes[0].Key(), nodes[4].Key())
	if !ok {
		t.Fatalf("no path along chain")
	}
	if !reflect.DeepEqual(path, keysOf(nodes...)) {
		t.Fatalf("path: %v", path)
	}
	if d := g.Distances(nodes[0].Key()); d[nodes[4].Key()] != 4 || len(d) != 5 {
		t.Fatalf("distances: %v", d)
	}
	if p, ok := g.ShortestPath(nodes[2].Key(), nodes[2].Key()); !ok || len(p) != 1 {
		t.Fatalf("self path: %v %v", p, ok)
	}
}

func TestGraph_Components(t *testing.T) {
	a, b, c := node(0, Provider), node(1, Storage), node(10, Gather)
	g := buildGraph([]Node{a, b, c})

	comps := g.Components()
	if len(comps) != 2 {
		t.Fatalf("components: %v", comps)
	}
	if !reflect.DeepEqual(comps[0], keysOf(a, b)) || !reflect.DeepEqual(comps[1], keysOf(c)) {
		t.Fatalf("component order: %v", comps)
	}
	if _, ok := g.ShortestPath(a.Key(), c.Key()); ok {
		t.Fatalf("path across components")
	}
}

func TestGraph_ReAddAfterRemove(t *testing.T) {
	g := newGraph()
	a, b, c := NodeKey{Pos: Pos{X: 0}}, NodeKey{Pos: Pos{X: 1}}, NodeKey{Pos: Pos{X: 2}}
	for _, k := range []NodeKey{a, b, c} {
		g.addVertex(k)
	}
	g.addEdge(a, b)
	g.addEdge(b, c)

	if !g.removeVertex(b) || g.removeVertex(b) {
		t.Fatalf("remove should succeed once")
	}
	if !g.addVertex(b) || g.EdgeCount() != 0 || g.HasEdge(a, b) {
		t.Fatalf("re-added vertex kept old edges: edges=%d", g.EdgeCount())
	}
	g.addEdge(c, b)
	if !reflect.DeepEqual(g.Neighbors(b), []NodeKey{c}) || g.VertexCount() != 3 {
		t.Fatalf("neighbors=%v vertices=%d", g.Neighbors(b), g.VertexCount())
	}

	// The pair comes before the singleton.
	comps := g.Components()
	if len(comps) != 2 || !reflect.DeepEqual(comps[0], []NodeKey{b, c}) || comps[1][0] != a {
		t.Fatalf("components=%v", comps)
	}
	g.removeVertex(c)
	comps = g.Components()
	if len(comps) != 2 || comps[0][0] != a || comps[1][0] != b {
		t.Fatalf("equal-size components out of key order: %v", comps)
	}
}
