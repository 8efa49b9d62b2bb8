package pastel

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// nodesFromCells turns generated cell indices into nodes inside a 6x6x6 cube.
func nodesFromCells(cells []int, rng int) []*BlockNode {
	seen := map[int]bool{}
	var out []*BlockNode
	for _, c := range cells {
		if seen[c] {
			continue
		}
		seen[c] = true
		pos := Pos{X: c % 6, Y: (c / 6) % 6, Z: c / 36}
		typ := NodeTypes()[c%len(NodeTypes())]
		prio := Priority(c % 3)
		out = append(out, NewBlockNode("OVERWORLD", pos, typ, prio, rng))
	}
	return out
}

func TestNetworkProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	cells := gen.SliceOf(gen.IntRange(0, 215))
	ranges := gen.IntRange(1, 3)

	properties.Property("rebuild and incremental add converge", prop.ForAll(
		func(cells []int, rng int) bool {
			nodes := nodesFromCells(cells, rng)
			rebuilt := New("OVERWORLD", uuid.Nil)
			incremental := New("OVERWORLD", uuid.Nil)
			_ = incremental.Graph()
			for _, n := range nodes {
				rebuilt.AddNode(n)
				incremental.AddNode(n)
			}
			a, b := rebuilt.Graph(), incremental.Graph()
			return reflect.DeepEqual(a.Vertices(), b.Vertices()) && reflect.DeepEqual(a.Edges(), b.Edges())
		},
		cells, ranges,
	))

	properties.Property("edge exists iff CanConnect", prop.ForAll(
		func(cells []int, rng int) bool {
			nodes := nodesFromCells(cells, rng)
			net := New("OVERWORLD", uuid.Nil)
			for _, n := range nodes {
				net.AddNode(n)
			}
			g := net.Graph()
			if g.VertexCount() != net.NodeCount() {
				return false
			}
			for _, a := range nodes {
				for _, b := range nodes {
					if a == b {
						continue
					}
					if g.HasEdge(a.Key(), b.Key()) != a.CanConnect(b) {
						return false
					}
				}
			}
			return true
		},
		cells, ranges,
	))

	properties.Property("add is idempotent", prop.ForAll(
		func(cells []int) bool {
			nodes := nodesFromCells(cells, 1)
			net := New("OVERWORLD", uuid.Nil)
			_ = net.Graph()
			for _, n := range nodes {
				net.AddNode(n)
			}
			edges := net.Graph().EdgeCount()
			for _, n := range nodes {
				net.AddNode(n)
			}
			return net.NodeCount() == len(nodes) && net.Graph().EdgeCount() == edges
		},
		cells,
	))

	properties.Property("removing every node empties network and graph", prop.ForAll(
		func(cells []int, rng int) bool {
			nodes := nodesFromCells(cells, rng)
			net := New("OVERWORLD", uuid.Nil)
			for _, n := range nodes {
				net.AddNode(n)
			}
			g := net.Graph()
			for _, n := range nodes {
				if !net.RemoveNode(n, Unloaded) {
					return false
				}
			}
			return !net.HasNodes() && g.VertexCount() == 0 && g.EdgeCount() == 0 &&
				len(net.NodesByPriority(Provider, Moderate)) == 0 &&
				len(net.NodesByPriority(Provider, High)) == 0
		},
		cells, ranges,
	))

	properties.Property("far-apart nodes never connect", prop.ForAll(
		func(x, k int) bool {
			// A multiple of 2^32 on one axis squares to 0 mod 2^64.
			a := NewBlockNode("OVERWORLD", Pos{X: x}, Provider, Generic, 4)
			b := NewBlockNode("OVERWORLD", Pos{X: x + k<<32}, Storage, Generic, 4)
			c := NewBlockNode("OVERWORLD", Pos{Y: x, Z: x + k<<32}, Storage, Generic, 4)
			return !a.CanConnect(b) && !b.CanConnect(a) && !a.CanConnect(c)
		},
		gen.Int(), gen.IntRange(1, 1<<20),
	))

	properties.Property("delay d fires on tick max(d,1)", prop.ForAll(
		func(delay int) bool {
			var fired []string
			s := NewScheduler[*countingItem]()
			s.Put(&countingItem{name: "x", fired: &fired}, delay)
			want := delay
			if want < 1 {
				want = 1
			}
			for i := 1; i < want; i++ {
				if s.Tick() != 0 {
					return false
				}
			}
			return s.Tick() == 1 && len(fired) == 1
		},
		gen.IntRange(-5, 40),
	))

	properties.TestingRun(t)
}
