package pastel

import (
	"testing"

	"github.com/google/uuid"
)

func TestRoute_PrefersHigherTier(t *testing.T) {
	net := New("OVERWORLD", uuid.Nil)
	src := node(0, Provider)
	near := node(1, Storage)
	mid := NewBlockNode("OVERWORLD", Pos{X: 2}, Connection, Generic, 1)
	far := NewBlockNode("OVERWORLD", Pos{X: 3}, Storage, High, 1)
	for _, n := range []*BlockNode{src, near, mid, far} {
		net.AddNode(n)
	}

	tr, ok := net.Route(src, Payload{Item: "GEM", Count: 1}, 4, Storage)
	if !ok {
		t.Fatalf("no route")
	}
	if tr.Destination != far.Key() {
		t.Fatalf("high tier should win: got %v", tr.Destination)
	}
	if tr.Hops() != 3 {
		t.Fatalf("hops: %d", tr.Hops())
	}
	p := net.PendingTransmissions()
	if len(p) != 1 || p[0].Remaining != 12 {
		t.Fatalf("pending: %+v", p)
	}
}

func TestRoute_ClosestInTier(t *testing.T) {
	net := New("OVERWORLD", uuid.Nil)
	src := node(0, Sender)
	for _, n := range []*BlockNode{src, node(1, Gather), node(2, Gather), node(-1, Connection)} {
		net.AddNode(n)
	}
	tr, ok := net.Route(src, Payload{Item: "GEM", Count: 1}, 1, Gather)
	if !ok || tr.Destination != (NodeKey{World: "OVERWORLD", Pos: Pos{X: 1}}) {
		t.Fatalf("closest gather not chosen: %+v %v", tr, ok)
	}
}

func TestRoute_NoReachableTarget(t *testing.T) {
	net := New("OVERWORLD", uuid.Nil)
	src := node(0, Provider)
	net.AddNode(src)
	net.AddNode(node(9, Storage))
	if _, ok := net.Route(src, Payload{Item: "GEM", Count: 1}, 1, Storage); ok {
		t.Fatalf("unreachable storage routed")
	}
	if _, ok := net.Route(node(50, Provider), Payload{}, 1); ok {
		t.Fatalf("non-member source routed")
	}
	if net.InFlight() != 0 {
		t.Fatalf("nothing should be in flight")
	}
}
