package pastel

import "sort"

// Node is a network endpoint. The world owns a node's lifetime; a network only
// tracks membership.
//
// CanConnect is evaluated for ordered pairs during graph construction, so
// implementations must answer the same for (a,b) and (b,a).
type Node interface {
	Key() NodeKey
	NodeType() NodeType
	Priority() Priority
	CanConnect(other Node) bool
}

// Receiver is implemented by nodes that accept delivered transmissions.
type Receiver interface {
	Receive(t *Transmission)
}

// BlockNode is a node placed as a block. Two block nodes connect when they
// share a world and sit within the smaller of their two ranges.
type BlockNode struct {
	key      NodeKey
	typ      NodeType
	priority Priority
	rng      int

	received map[string]int
}

func NewBlockNode(world string, pos Pos, typ NodeType, priority Priority, rng int) *BlockNode {
	if rng < 0 {
		rng = 0
	}
	return &BlockNode{
		key:      NodeKey{World: world, Pos: pos},
		typ:      typ,
		priority: priority,
		rng:      rng,
	}
}

func (n *BlockNode) Key() NodeKey       { return n.key }
func (n *BlockNode) NodeType() NodeType { return n.typ }
func (n *BlockNode) Priority() Priority { return n.priority }
func (n *BlockNode) Range() int         { return n.rng }

// SetPriority changes the node's tier and returns the previous one, which the
// owning network needs for UpdateNodePriority.
func (n *BlockNode) SetPriority(p Priority) Priority {
	old := n.priority
	n.priority = p
	return old
}

func (n *BlockNode) CanConnect(other Node) bool {
	if other == nil {
		return false
	}
	ok := other.Key()
	if ok == n.key || ok.World != n.key.World {
		return false
	}
	r := n.rng
	if o, isBlock := other.(*BlockNode); isBlock && o.rng < r {
		r = o.rng
	}
	return n.key.Pos.Within(ok.Pos, r)
}

func (n *BlockNode) Receive(t *Transmission) {
	if t == nil || t.Payload.Item == "" || t.Payload.Count <= 0 {
		return
	}
	if n.received == nil {
		n.received = map[string]int{}
	}
	n.received[t.Payload.Item] += t.Payload.Count
}

// Received returns a copy of everything delivered to the node so far.
func (n *BlockNode) Received() map[string]int {
	out := make(map[string]int, len(n.received))
	for k, v := range n.received {
		out[k] = v
	}
	return out
}

func sortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key().Less(nodes[j].Key()) })
}
