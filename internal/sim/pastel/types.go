package pastel

import (
	"fmt"
	"strings"
)

type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (p Pos) String() string { return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z) }

// maxReach caps a range so the squared sum below cannot overflow.
const maxReach = 1 << 30

// Within reports whether o lies inside the sphere of radius r around p.
// Axis distances are taken unsigned so far-apart coordinates never wrap.
func (p Pos) Within(o Pos, r int) bool {
	if r < 0 {
		return false
	}
	ur := uint64(min(r, maxReach))
	dx, dy, dz := axisDist(p.X, o.X), axisDist(p.Y, o.Y), axisDist(p.Z, o.Z)
	if dx > ur || dy > ur || dz > ur {
		return false
	}
	return dx*dx+dy*dy+dz*dz <= ur*ur
}

func axisDist(a, b int) uint64 {
	if a >= b {
		return uint64(a) - uint64(b)
	}
	return uint64(b) - uint64(a)
}

// NodeKey identifies a node by the block it occupies.
type NodeKey struct {
	World string `json:"world"`
	Pos   Pos    `json:"pos"`
}

func (k NodeKey) String() string { return k.World + "@" + k.Pos.String() }

// Less orders keys by world, then x, y, z.
func (k NodeKey) Less(o NodeKey) bool {
	if k.World != o.World {
		return k.World < o.World
	}
	if k.Pos.X != o.Pos.X {
		return k.Pos.X < o.Pos.X
	}
	if k.Pos.Y != o.Pos.Y {
		return k.Pos.Y < o.Pos.Y
	}
	return k.Pos.Z < o.Pos.Z
}

type NodeType uint8

const (
	Provider NodeType = iota
	Sender
	Gather
	Storage
	Buffer
	Connection

	nodeTypeCount
)

var nodeTypeNames = [nodeTypeCount]string{
	Provider:   "PROVIDER",
	Sender:     "SENDER",
	Gather:     "GATHER",
	Storage:    "STORAGE",
	Buffer:     "BUFFER",
	Connection: "CONNECTION",
}

// NodeTypes returns every node type in declaration order.
func NodeTypes() []NodeType {
	out := make([]NodeType, 0, nodeTypeCount)
	for t := NodeType(0); t < nodeTypeCount; t++ {
		out = append(out, t)
	}
	return out
}

func (t NodeType) Valid() bool { return t < nodeTypeCount }

func (t NodeType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("NodeType(%d)", uint8(t))
	}
	return nodeTypeNames[t]
}

func ParseNodeType(s string) (NodeType, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for t, name := range nodeTypeNames {
		if name == s {
			return NodeType(t), true
		}
	}
	return 0, false
}

type Priority uint8

const (
	Generic Priority = iota
	Moderate
	High
)

func (p Priority) String() string {
	switch p {
	case Generic:
		return "GENERIC"
	case Moderate:
		return "MODERATE"
	case High:
		return "HIGH"
	default:
		return fmt.Sprintf("Priority(%d)", uint8(p))
	}
}

func ParsePriority(s string) (Priority, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "GENERIC":
		return Generic, true
	case "MODERATE":
		return Moderate, true
	case "HIGH":
		return High, true
	}
	return Generic, false
}

// RemovalReason tags why a node left a network. It is bookkeeping for
// callers only and never changes network state.
type RemovalReason uint8

const (
	Broken RemovalReason = iota
	Unloaded
	Merged
	Split
)

func (r RemovalReason) String() string {
	switch r {
	case Broken:
		return "BROKEN"
	case Unloaded:
		return "UNLOADED"
	case Merged:
		return "MERGED"
	case Split:
		return "SPLIT"
	default:
		return fmt.Sprintf("RemovalReason(%d)", uint8(r))
	}
}

func ParseRemovalReason(s string) (RemovalReason, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "BROKEN":
		return Broken, true
	case "UNLOADED":
		return Unloaded, true
	case "MERGED":
		return Merged, true
	case "SPLIT":
		return Split, true
	}
	return Broken, false
}
