package pastelnet

import (
	"fmt"

	"github.com/google/uuid"

	"pastelcraft.ai/internal/persistence/snapshot"
	"pastelcraft.ai/internal/sim/pastel"
)

// ExportSnapshot captures network ids and node placements. Transmissions in
// flight are not part of it.
func (m *Manager) ExportSnapshot() snapshot.SnapshotV1 {
	s := snapshot.SnapshotV1{
		Header:      snapshot.Header{Version: snapshot.Version, Tick: m.tick, Digest: m.Digest()},
		TickRate:    m.cfg.TickRateHz,
		TicksPerHop: m.cfg.TicksPerHop,
	}
	for _, n := range m.Networks() {
		nv := snapshot.NetworkV1{ID: n.ID().String(), World: n.World()}
		for _, node := range n.AllNodes() {
			k := node.Key()
			nv.Nodes = append(nv.Nodes, snapshot.NodeV1{
				World:    k.World,
				Pos:      [3]int{k.Pos.X, k.Pos.Y, k.Pos.Z},
				Type:     node.NodeType().String(),
				Priority: node.Priority().String(),
				Range:    rangeOf(node),
			})
		}
		s.Networks = append(s.Networks, nv)
	}
	return s
}

// ImportSnapshot replaces every network with the snapshot's contents and
// checks the resulting digest against the header when it carries one.
func (m *Manager) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("%w: %d", snapshot.ErrVersion, s.Header.Version)
	}
	m.Reset(s.Header.Tick)
	for _, nv := range s.Networks {
		id, err := uuid.Parse(nv.ID)
		if err != nil {
			return fmt.Errorf("network %q: %w", nv.ID, err)
		}
		nodes := make([]pastel.Node, 0, len(nv.Nodes))
		for _, rec := range nv.Nodes {
			typ, ok := pastel.ParseNodeType(rec.Type)
			if !ok {
				return fmt.Errorf("network %s: node type %q", nv.ID, rec.Type)
			}
			prio, ok := pastel.ParsePriority(rec.Priority)
			if !ok {
				return fmt.Errorf("network %s: priority %q", nv.ID, rec.Priority)
			}
			pos := pastel.Pos{X: rec.Pos[0], Y: rec.Pos[1], Z: rec.Pos[2]}
			nodes = append(nodes, pastel.NewBlockNode(rec.World, pos, typ, prio, rec.Range))
		}
		m.Restore(nv.World, id, nodes)
	}
	if s.Header.Digest != "" {
		if got := m.Digest(); got != s.Header.Digest {
			return fmt.Errorf("snapshot digest mismatch at tick %d: got %s want %s", s.Header.Tick, got, s.Header.Digest)
		}
	}
	m.publish()
	m.log.Printf("restored tick=%d networks=%d nodes=%d", m.tick, len(m.networks), m.owners.Len())
	return nil
}
