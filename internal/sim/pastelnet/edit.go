package pastelnet

import (
	"errors"
	"fmt"

	"pastelcraft.ai/internal/sim/pastel"
)

type EditOp string

const (
	OpPlace    EditOp = "PLACE"
	OpBreak    EditOp = "BREAK"
	OpPriority EditOp = "PRIORITY"
	OpSend     EditOp = "SEND"
)

var (
	ErrBadEdit   = errors.New("bad edit")
	ErrOccupied  = errors.New("position already holds a node")
	ErrNoNode    = errors.New("no node at position")
	ErrNoRoute   = errors.New("no reachable target")
	ErrInboxFull = errors.New("edit inbox full")
	ErrStopped   = errors.New("manager stopped")
)

// Edit is one world change affecting networks. It is the unit of the edit
// journal, so everything needed to re-apply it is inside.
type Edit struct {
	Op    EditOp     `json:"op"`
	World string     `json:"world"`
	Pos   pastel.Pos `json:"pos"`

	NodeType string `json:"node_type,omitempty"`
	Priority string `json:"priority,omitempty"`
	// Range overrides the tuned range for PLACE when positive.
	Range  int    `json:"range,omitempty"`
	Reason string `json:"reason,omitempty"`

	Item    string   `json:"item,omitempty"`
	Count   int      `json:"count,omitempty"`
	Targets []string `json:"targets,omitempty"`
}

func (e Edit) Key() pastel.NodeKey {
	return pastel.NodeKey{World: e.World, Pos: e.Pos}
}

// Apply performs e immediately. Run calls it for queued edits; tools replaying
// a journal call it directly.
func (m *Manager) Apply(e Edit) error {
	err := m.apply(e)
	m.metrics.EditApplied(string(e.Op), err)
	return err
}

func (m *Manager) apply(e Edit) error {
	if e.World == "" {
		return fmt.Errorf("%w: missing world", ErrBadEdit)
	}
	key := e.Key()
	switch e.Op {
	case OpPlace:
		typ, ok := pastel.ParseNodeType(e.NodeType)
		if !ok {
			return fmt.Errorf("%w: node_type %q", ErrBadEdit, e.NodeType)
		}
		prio, ok := pastel.ParsePriority(e.Priority)
		if !ok {
			return fmt.Errorf("%w: priority %q", ErrBadEdit, e.Priority)
		}
		if m.NetworkOf(key) != nil {
			return fmt.Errorf("%w: %s", ErrOccupied, key)
		}
		rng := e.Range
		if rng <= 0 {
			rng = m.cfg.RangeFor(typ.String())
		}
		m.Place(pastel.NewBlockNode(e.World, e.Pos, typ, prio, rng))
		return nil

	case OpBreak:
		reason := pastel.Broken
		if e.Reason != "" {
			r, ok := pastel.ParseRemovalReason(e.Reason)
			if !ok {
				return fmt.Errorf("%w: reason %q", ErrBadEdit, e.Reason)
			}
			reason = r
		}
		if !m.Break(key, reason) {
			return fmt.Errorf("%w: %s", ErrNoNode, key)
		}
		return nil

	case OpPriority:
		prio, ok := pastel.ParsePriority(e.Priority)
		if !ok {
			return fmt.Errorf("%w: priority %q", ErrBadEdit, e.Priority)
		}
		if !m.SetPriority(key, prio) {
			return fmt.Errorf("%w: %s", ErrNoNode, key)
		}
		return nil

	case OpSend:
		if e.Item == "" || e.Count <= 0 {
			return fmt.Errorf("%w: payload needs item and positive count", ErrBadEdit)
		}
		targets := make([]pastel.NodeType, 0, len(e.Targets))
		for _, s := range e.Targets {
			t, ok := pastel.ParseNodeType(s)
			if !ok {
				return fmt.Errorf("%w: target %q", ErrBadEdit, s)
			}
			targets = append(targets, t)
		}
		if m.NetworkOf(key) == nil {
			return fmt.Errorf("%w: %s", ErrNoNode, key)
		}
		if !m.Send(key, pastel.Payload{Item: e.Item, Count: e.Count}, targets...) {
			return fmt.Errorf("%w: from %s", ErrNoRoute, key)
		}
		return nil
	}
	return fmt.Errorf("%w: op %q", ErrBadEdit, e.Op)
}
