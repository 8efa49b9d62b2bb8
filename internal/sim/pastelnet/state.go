package pastelnet

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"pastelcraft.ai/internal/sim/pastel"
)

// NetworkState is a read-only view of one network at the end of a tick.
type NetworkState struct {
	ID         string         `json:"id"`
	World      string         `json:"world"`
	Color      string         `json:"color"`
	Nodes      int            `json:"nodes"`
	Edges      int            `json:"edges"`
	InFlight   int            `json:"in_flight"`
	Counts     map[string]int `json:"counts"`
	Moderate   int            `json:"moderate"`
	High       int            `json:"high"`
	Components int            `json:"components"`
	Debug      string         `json:"debug"`
}

// State is published after every tick for readers outside the simulation
// goroutine.
type State struct {
	Tick     uint64         `json:"tick"`
	Digest   string         `json:"digest"`
	Nodes    int            `json:"nodes"`
	Networks []NetworkState `json:"networks"`
}

// State builds the current read model. It builds any graph not built yet.
func (m *Manager) State() State {
	st := State{Tick: m.tick, Digest: m.Digest(), Nodes: m.owners.Len()}
	for _, n := range m.Networks() {
		g := n.Graph()
		counts := map[string]int{}
		for t, c := range n.CountByType() {
			counts[t.String()] = c
		}
		st.Networks = append(st.Networks, NetworkState{
			ID:         n.ID().String(),
			World:      n.World(),
			Color:      fmt.Sprintf("#%06x", n.Color()),
			Nodes:      n.NodeCount(),
			Edges:      g.EdgeCount(),
			InFlight:   n.InFlight(),
			Counts:     counts,
			Moderate:   len(n.NodesByPriority(0, pastel.Moderate)),
			High:       len(n.NodesByPriority(0, pastel.High)),
			Components: len(g.Components()),
			Debug:      n.DebugText(),
		})
	}
	return st
}

// Latest returns the most recently published state. Safe for concurrent use.
func (m *Manager) Latest() *State {
	return m.published.Load()
}

func (m *Manager) publish() {
	st := m.State()
	m.published.Store(&st)
}

// Digest hashes the partition of nodes into networks along with each node's
// type and priority. Network ids are left out: new and split networks draw
// random ids, and replay has to arrive at the same digest.
func (m *Manager) Digest() string {
	groups := make([][]pastel.Node, 0, len(m.networks))
	for _, n := range m.networks {
		if nodes := n.AllNodes(); len(nodes) > 0 {
			groups = append(groups, nodes)
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i][0].Key().Less(groups[j][0].Key())
	})
	h := sha256.New()
	for _, g := range groups {
		fmt.Fprintf(h, "net %s\n", g[0].Key().World)
		for _, node := range g {
			fmt.Fprintf(h, "%s %s %s %d\n", node.Key(), node.NodeType(), node.Priority(), rangeOf(node))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

type ranged interface {
	Range() int
}

func rangeOf(n pastel.Node) int {
	if r, ok := n.(ranged); ok {
		return r.Range()
	}
	return 0
}
