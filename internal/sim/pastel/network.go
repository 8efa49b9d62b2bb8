package pastel

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DeliveryHook observes every expired transmission. delivered is false when
// the destination left the network or cannot receive.
type DeliveryHook func(n *Network, t *Transmission, delivered bool)

type Option func(*Network)

// WithOwners shares a node ownership relation between networks.
func WithOwners(o *Owners) Option {
	return func(n *Network) {
		if o != nil {
			n.owners = o
		}
	}
}

func WithDeliveryHook(h DeliveryHook) Option {
	return func(n *Network) { n.onDeliver = h }
}

// Network owns node membership, the derived connectivity graph, the priority
// tiers and the in-flight transmissions of one pastel network.
//
// Mutations (AddNode, RemoveNode, Incorporate, UpdateNodePriority,
// AddTransmission, Tick) must come from a single simulation goroutine. Node
// set and priority tier reads may happen concurrently from other goroutines;
// the graph and the scheduler are for the simulation goroutine only.
type Network struct {
	id    uuid.UUID
	world string

	// mu guards nodes and priority.
	mu       sync.RWMutex
	nodes    map[NodeType]nodeSet
	priority priorityIndex

	graph graphCache
	sched    *Scheduler[*Transmission]

	owners    *Owners
	onDeliver DeliveryHook
}

// New creates an empty network. A nil id gets a fresh random one; persisted
// networks pass their saved id.
func New(world string, id uuid.UUID, opts ...Option) *Network {
	if id == uuid.Nil {
		id = uuid.New()
	}
	n := &Network{
		id:       id,
		world:    world,
		nodes:    make(map[NodeType]nodeSet, nodeTypeCount),
		priority: newPriorityIndex(),
		sched:    NewScheduler[*Transmission](),
		owners:   NewOwners(),
	}
	for _, t := range NodeTypes() {
		n.nodes[t] = nodeSet{}
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Network) ID() uuid.UUID   { return n.id }
func (n *Network) World() string   { return n.world }
func (n *Network) Owners() *Owners { return n.owners }

func (n *Network) Equal(o *Network) bool {
	return o != nil && n.id == o.id
}

// AddNode inserts node. A block holds one node, so adding anything at a key
// that already has a member, whatever its type, is a no-op.
func (n *Network) AddNode(node Node) {
	n.mu.Lock()
	set, ok := n.nodes[node.NodeType()]
	if !ok || n.hasKeyLocked(node.Key()) {
		n.mu.Unlock()
		return
	}
	set.add(node)
	n.priority.add(node)
	others := n.allNodesLocked()
	n.mu.Unlock()

	n.graph.patchAdd(node, others)
	n.owners.set(node.Key(), n.id)
}

// RemoveNode drops the member of node's type at node's key and reports
// whether there was one. The reason is not used by the network itself.
func (n *Network) RemoveNode(node Node, reason RemovalReason) bool {
	k := node.Key()
	n.mu.Lock()
	set, ok := n.nodes[node.NodeType()]
	if !ok {
		n.mu.Unlock()
		return false
	}
	stored, ok := set[k]
	if !ok {
		n.mu.Unlock()
		return false
	}
	set.remove(k)
	n.priority.remove(stored, stored.Priority())
	n.mu.Unlock()

	n.graph.patchRemove(k)
	n.owners.release(k, n.id)
	return true
}

// UpdateNodePriority moves node out of the old tier and into the tier of its
// current priority.
func (n *Network) UpdateNodePriority(node Node, old Priority) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.priority.remove(node, old)
	n.priority.add(node)
}

func (n *Network) hasKeyLocked(k NodeKey) bool {
	for _, set := range n.nodes {
		if _, ok := set[k]; ok {
			return true
		}
	}
	return false
}

// Incorporate moves every node of other into n. other keeps its node sets but
// must be discarded by the caller.
func (n *Network) Incorporate(other *Network) {
	if other == nil || other == n {
		return
	}
	other.mu.RLock()
	incoming := other.allNodesLocked()
	other.mu.RUnlock()

	n.mu.Lock()
	moved := make([]Node, 0, len(incoming))
	for _, node := range incoming {
		if n.hasKeyLocked(node.Key()) {
			continue
		}
		n.nodes[node.NodeType()].add(node)
		n.priority.add(node)
		moved = append(moved, node)
	}
	n.mu.Unlock()

	for _, node := range moved {
		n.owners.set(node.Key(), n.id)
		if other.owners != n.owners {
			other.owners.release(node.Key(), other.id)
		}
	}
	n.graph.invalidate()
}

// Graph returns the connectivity graph, building it if needed. The returned
// graph is live: it reflects later adds and removes until the next merge.
func (n *Network) Graph() *Graph {
	return n.graph.get(func() *Graph {
		n.mu.RLock()
		defer n.mu.RUnlock()
		return buildGraph(n.allNodesLocked())
	})
}

func (n *Network) GraphBuilt() bool { return n.graph.built }

func (n *Network) HasNodes() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, set := range n.nodes {
		if len(set) > 0 {
			return true
		}
	}
	return false
}

// Nodes returns the members of one type, sorted by key.
func (n *Network) Nodes(t NodeType) []Node {
	return n.NodesByPriority(t, Generic)
}

// NodesByPriority returns the per-type set for Generic. Moderate and High
// return their tier across every type; t is ignored for them.
func (n *Network) NodesByPriority(t NodeType, p Priority) []Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if tier, ok := n.priority.tier(p); ok {
		return tier.sorted()
	}
	set, ok := n.nodes[t]
	if !ok {
		return nil
	}
	return set.sorted()
}

func (n *Network) NodeCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	total := 0
	for _, set := range n.nodes {
		total += len(set)
	}
	return total
}

// CountByType returns member counts indexed by NodeType.
func (n *Network) CountByType() map[NodeType]int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[NodeType]int, len(n.nodes))
	for t, set := range n.nodes {
		out[t] = len(set)
	}
	return out
}

// AllNodes returns a fresh slice of every member, sorted by key.
func (n *Network) AllNodes() []Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.allNodesLocked()
}

func (n *Network) allNodesLocked() []Node {
	total := 0
	for _, set := range n.nodes {
		total += len(set)
	}
	out := make([]Node, 0, total)
	for _, set := range n.nodes {
		for _, node := range set {
			out = append(out, node)
		}
	}
	sortNodes(out)
	return out
}

func (n *Network) Node(k NodeKey) (Node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, set := range n.nodes {
		if node, ok := set[k]; ok {
			return node, true
		}
	}
	return nil, false
}

func (n *Network) NodeAt(pos Pos) (Node, bool) {
	return n.Node(NodeKey{World: n.world, Pos: pos})
}

func (n *Network) Contains(k NodeKey) bool {
	_, ok := n.Node(k)
	return ok
}

// CanConnect reports whether candidate is in this network's world and at
// least one member connects to it.
func (n *Network) CanConnect(candidate Node) bool {
	if candidate == nil || candidate.Key().World != n.world {
		return false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, set := range n.nodes {
		for _, node := range set {
			if node.CanConnect(candidate) {
				return true
			}
		}
	}
	return false
}

// Tick advances in-flight transmissions and returns how many expired.
func (n *Network) Tick() int {
	return n.sched.Tick()
}

// AddTransmission binds t to this network and schedules it.
func (n *Network) AddTransmission(t *Transmission, delay int) {
	t.network = n
	n.sched.Put(t, delay)
}

func (n *Network) PendingTransmissions() []Pending[*Transmission] {
	return n.sched.Pending()
}

func (n *Network) InFlight() int { return n.sched.Len() }

func (n *Network) deliver(t *Transmission) {
	delivered := false
	if node, ok := n.Node(t.Destination); ok {
		if r, ok := node.(Receiver); ok {
			r.Receive(t)
			delivered = true
		}
	}
	if n.onDeliver != nil {
		n.onDeliver(n, t, delivered)
	}
}

// Color is a stable 0xRRGGBB tint derived from the network id.
func (n *Network) Color() uint32 {
	return colorFromID(n.id)
}

func (n *Network) String() string {
	counts := n.CountByType()
	var b strings.Builder
	b.WriteString(n.id.String())
	for _, t := range NodeTypes() {
		fmt.Fprintf(&b, "-%d", counts[t])
	}
	return b.String()
}

func (n *Network) DebugText() string {
	c := n.CountByType()
	return fmt.Sprintf("Prov: %d - Send: %d - Gath: %d - Stor: %d - Buff: %d - Conn: %d",
		c[Provider], c[Sender], c[Gather], c[Storage], c[Buffer], c[Connection])
}
