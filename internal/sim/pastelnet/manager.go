package pastelnet

import (
	"bytes"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"pastelcraft.ai/internal/sim/pastel"
	"pastelcraft.ai/internal/sim/tuning"
)

// DeliveryEvent describes one expired transmission.
type DeliveryEvent struct {
	Tick           uint64         `json:"tick"`
	NetworkID      string         `json:"network_id"`
	TransmissionID string         `json:"transmission_id"`
	Source         pastel.NodeKey `json:"source"`
	Destination    pastel.NodeKey `json:"destination"`
	Item           string         `json:"item"`
	Count          int            `json:"count"`
	Hops           int            `json:"hops"`
	Delivered      bool           `json:"delivered"`
}

type TopologyKind string

const (
	TopologyCreate  TopologyKind = "CREATE"
	TopologyMerge   TopologyKind = "MERGE"
	TopologySplit   TopologyKind = "SPLIT"
	TopologyDispose TopologyKind = "DISPOSE"
)

// TopologyEvent reports a network created, absorbed, split off or disposed.
// Into is set for merges (the survivor) and splits (the network split from).
type TopologyEvent struct {
	Tick      uint64       `json:"tick"`
	Kind      TopologyKind `json:"kind"`
	NetworkID string       `json:"network_id"`
	Into      string       `json:"into,omitempty"`
	World     string       `json:"world"`
	Nodes     int          `json:"nodes"`
	Dropped   int          `json:"dropped,omitempty"`
}

// Hooks are called from the simulation goroutine. Any of them may be nil.
type Hooks struct {
	OnDelivery func(DeliveryEvent)
	OnTopology func(TopologyEvent)
	OnEdit     func(tick uint64, e Edit, err error)
	OnTick     func(tick uint64)
}

type Config struct {
	Tuning  tuning.Tuning
	Logger  *log.Logger
	Hooks   Hooks
	Metrics Metrics
}

// Manager is the registry of live networks. It decides when a network is
// created, merged, split or disposed, and keeps the node ownership relation
// shared by all of them.
//
// Every mutating method, and Tick, must be called from one goroutine (the one
// running Run, when Run is used). Latest and Submit are safe from anywhere.
type Manager struct {
	cfg     tuning.Tuning
	log     *log.Logger
	hooks   Hooks
	metrics Metrics

	owners   *pastel.Owners
	networks map[uuid.UUID]*pastel.Network
	tick     uint64

	inbox     chan Edit
	published atomic.Pointer[State]
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[pastelnet] ", log.LstdFlags|log.Lmicroseconds)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	inbox := cfg.Tuning.InboxSize
	if inbox <= 0 {
		inbox = tuning.Defaults().InboxSize
	}
	m := &Manager{
		cfg:      cfg.Tuning,
		log:      cfg.Logger,
		hooks:    cfg.Hooks,
		metrics:  cfg.Metrics,
		owners:   pastel.NewOwners(),
		networks: map[uuid.UUID]*pastel.Network{},
		inbox:    make(chan Edit, inbox),
		stop:     make(chan struct{}),
	}
	m.published.Store(&State{})
	return m
}

func (m *Manager) CurrentTick() uint64 { return m.tick }

func (m *Manager) Tuning() tuning.Tuning { return m.cfg }

func (m *Manager) newNetwork(world string, id uuid.UUID) *pastel.Network {
	n := pastel.New(world, id, pastel.WithOwners(m.owners), pastel.WithDeliveryHook(m.onDeliver))
	m.networks[n.ID()] = n
	return n
}

// Place puts node into the network it connects to. When it bridges several
// networks they are merged into the one with the lowest id first. A node that
// is already placed stays where it is.
func (m *Manager) Place(node pastel.Node) *pastel.Network {
	if node == nil {
		return nil
	}
	if n := m.NetworkOf(node.Key()); n != nil {
		return n
	}
	var hits []*pastel.Network
	for _, n := range m.Networks() {
		if n.CanConnect(node) {
			hits = append(hits, n)
		}
	}

	var target *pastel.Network
	if len(hits) == 0 {
		target = m.newNetwork(node.Key().World, uuid.Nil)
		m.emitTopology(TopologyEvent{Kind: TopologyCreate, NetworkID: target.ID().String(), World: target.World()})
	} else {
		target = hits[0]
		for _, other := range hits[1:] {
			m.merge(target, other)
		}
	}
	target.AddNode(node)
	m.updateGauges()
	return target
}

func (m *Manager) merge(into, other *pastel.Network) {
	dropped := other.InFlight()
	nodes := other.NodeCount()
	into.Incorporate(other)
	delete(m.networks, other.ID())
	m.metrics.Merged()
	m.log.Printf("merge: %s into %s nodes=%d dropped_in_flight=%d", other.ID(), into.ID(), nodes, dropped)
	m.emitTopology(TopologyEvent{
		Kind:      TopologyMerge,
		NetworkID: other.ID().String(),
		Into:      into.ID().String(),
		World:     into.World(),
		Nodes:     nodes,
		Dropped:   dropped,
	})
}

// Break removes the node at key. An emptied network is disposed; a network
// left in pieces keeps its id on the largest piece and the others become new
// networks.
func (m *Manager) Break(key pastel.NodeKey, reason pastel.RemovalReason) bool {
	n := m.NetworkOf(key)
	if n == nil {
		return false
	}
	node, ok := n.Node(key)
	if !ok || !n.RemoveNode(node, reason) {
		return false
	}
	if !n.HasNodes() {
		m.dispose(n)
	} else {
		m.splitIfDisconnected(n)
	}
	m.updateGauges()
	return true
}

func (m *Manager) dispose(n *pastel.Network) {
	dropped := n.InFlight()
	delete(m.networks, n.ID())
	m.emitTopology(TopologyEvent{Kind: TopologyDispose, NetworkID: n.ID().String(), World: n.World(), Dropped: dropped})
}

func (m *Manager) splitIfDisconnected(n *pastel.Network) {
	comps := n.Graph().Components()
	if len(comps) < 2 {
		return
	}
	for _, comp := range comps[1:] {
		fresh := m.newNetwork(n.World(), uuid.Nil)
		for _, k := range comp {
			node, ok := n.Node(k)
			if !ok {
				continue
			}
			n.RemoveNode(node, pastel.Split)
			fresh.AddNode(node)
		}
		m.metrics.Split()
		m.log.Printf("split: %s -> %s nodes=%d", n.ID(), fresh.ID(), len(comp))
		m.emitTopology(TopologyEvent{
			Kind:      TopologySplit,
			NetworkID: fresh.ID().String(),
			Into:      n.ID().String(),
			World:     n.World(),
			Nodes:     len(comp),
		})
	}
}

type prioritySetter interface {
	SetPriority(pastel.Priority) pastel.Priority
}

// SetPriority changes the tier of the node at key. Nodes whose type cannot
// change priority report false.
func (m *Manager) SetPriority(key pastel.NodeKey, p pastel.Priority) bool {
	n := m.NetworkOf(key)
	if n == nil {
		return false
	}
	node, ok := n.Node(key)
	if !ok {
		return false
	}
	ps, ok := node.(prioritySetter)
	if !ok {
		return false
	}
	old := ps.SetPriority(p)
	if old != p {
		n.UpdateNodePriority(node, old)
	}
	return true
}

// Send routes payload from the node at source to the best reachable target.
func (m *Manager) Send(source pastel.NodeKey, payload pastel.Payload, targets ...pastel.NodeType) bool {
	n := m.NetworkOf(source)
	if n == nil {
		return false
	}
	node, ok := n.Node(source)
	if !ok {
		return false
	}
	if _, ok := n.Route(node, payload, m.cfg.TicksPerHop, targets...); !ok {
		return false
	}
	m.metrics.Enqueued()
	return true
}

// Tick advances the clock and every network, lowest id first, and returns
// the number of transmissions that expired.
func (m *Manager) Tick() int {
	m.tick++
	expired := 0
	for _, n := range m.Networks() {
		expired += n.Tick()
	}
	return expired
}

func (m *Manager) onDeliver(n *pastel.Network, t *pastel.Transmission, delivered bool) {
	m.metrics.Delivered(delivered)
	if m.hooks.OnDelivery == nil {
		return
	}
	m.hooks.OnDelivery(DeliveryEvent{
		Tick:           m.tick,
		NetworkID:      n.ID().String(),
		TransmissionID: t.ID.String(),
		Source:         t.Source,
		Destination:    t.Destination,
		Item:           t.Payload.Item,
		Count:          t.Payload.Count,
		Hops:           t.Hops(),
		Delivered:      delivered,
	})
}

func (m *Manager) emitTopology(ev TopologyEvent) {
	if m.hooks.OnTopology == nil {
		return
	}
	ev.Tick = m.tick
	m.hooks.OnTopology(ev)
}

func (m *Manager) updateGauges() {
	m.metrics.SetTopology(len(m.networks), m.owners.Len())
}

func (m *Manager) Network(id uuid.UUID) *pastel.Network {
	return m.networks[id]
}

// NetworkOf returns the network owning key, or nil.
func (m *Manager) NetworkOf(key pastel.NodeKey) *pastel.Network {
	id, ok := m.owners.Get(key)
	if !ok {
		return nil
	}
	return m.networks[id]
}

// Networks returns every live network sorted by id.
func (m *Manager) Networks() []*pastel.Network {
	out := make([]*pastel.Network, 0, len(m.networks))
	for _, n := range m.networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ID(), out[j].ID()
		return bytes.Compare(a[:], b[:]) < 0
	})
	return out
}

func (m *Manager) NodeCount() int { return m.owners.Len() }

// Restore recreates a persisted network under its saved id. Nodes already
// owned elsewhere are skipped.
func (m *Manager) Restore(world string, id uuid.UUID, nodes []pastel.Node) *pastel.Network {
	n := m.networks[id]
	if n == nil {
		n = m.newNetwork(world, id)
	}
	for _, node := range nodes {
		if node == nil || node.Key().World != world {
			continue
		}
		if _, owned := m.owners.Get(node.Key()); owned {
			continue
		}
		n.AddNode(node)
	}
	if !n.HasNodes() {
		delete(m.networks, n.ID())
		return nil
	}
	m.updateGauges()
	return n
}

// Reset drops every network and sets the clock.
func (m *Manager) Reset(tick uint64) {
	m.networks = map[uuid.UUID]*pastel.Network{}
	m.owners = pastel.NewOwners()
	m.tick = tick
	m.updateGauges()
}
