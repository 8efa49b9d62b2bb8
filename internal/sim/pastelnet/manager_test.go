package pastelnet

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"pastelcraft.ai/internal/persistence/snapshot"
	"pastelcraft.ai/internal/sim/pastel"
	"pastelcraft.ai/internal/sim/tuning"
)

const world = "OVERWORLD"

func newTestManager(t *testing.T, hooks Hooks) *Manager {
	t.Helper()
	tun := tuning.Defaults()
	tun.TicksPerHop = 1
	tun.Nodes.DefaultRange = 2
	return NewManager(Config{
		Tuning: tun,
		Logger: log.New(io.Discard, "", 0),
		Hooks:  hooks,
	})
}

func block(x int, typ pastel.NodeType) *pastel.BlockNode {
	return pastel.NewBlockNode(world, pastel.Pos{X: x}, typ, pastel.Generic, 2)
}

func key(x int) pastel.NodeKey {
	return pastel.NodeKey{World: world, Pos: pastel.Pos{X: x}}
}

func TestManager_PlaceCreatesAndJoins(t *testing.T) {
	var topo []TopologyEvent
	m := newTestManager(t, Hooks{OnTopology: func(ev TopologyEvent) { topo = append(topo, ev) }})

	a := m.Place(block(0, pastel.Provider))
	require.NotNil(t, a)
	b := m.Place(block(2, pastel.Storage))
	require.True(t, a.Equal(b), "node in range joins the existing network")
	c := m.Place(block(10, pastel.Storage))
	require.False(t, a.Equal(c))

	require.Len(t, m.Networks(), 2)
	require.Equal(t, 3, m.NodeCount())
	require.Len(t, topo, 2)
	require.Equal(t, TopologyCreate, topo[0].Kind)

	again := m.Place(block(0, pastel.Provider))
	require.True(t, a.Equal(again), "placing an owned position is a no-op")
	require.Equal(t, 3, m.NodeCount())
}

func TestManager_PlaceBridgesAndMerges(t *testing.T) {
	var merges []TopologyEvent
	m := newTestManager(t, Hooks{OnTopology: func(ev TopologyEvent) {
		if ev.Kind == TopologyMerge {
			merges = append(merges, ev)
		}
	}})
	left := m.Place(block(0, pastel.Provider))
	right := m.Place(block(4, pastel.Storage))
	require.False(t, left.Equal(right))

	survivor := m.Place(block(2, pastel.Connection))
	require.Len(t, m.Networks(), 1)
	require.Len(t, merges, 1)

	lid, rid := left.ID(), right.ID()
	want := lid
	if bytes.Compare(rid[:], lid[:]) < 0 {
		want = rid
	}
	require.Equal(t, want, survivor.ID(), "lowest id survives")
	require.Equal(t, 3, survivor.NodeCount())
	for _, x := range []int{0, 2, 4} {
		require.True(t, m.NetworkOf(key(x)).Equal(survivor))
	}
	require.Equal(t, 2, survivor.Graph().EdgeCount())
}

func TestManager_BreakDisposesEmptyNetwork(t *testing.T) {
	var kinds []TopologyKind
	m := newTestManager(t, Hooks{OnTopology: func(ev TopologyEvent) { kinds = append(kinds, ev.Kind) }})
	n := m.Place(block(0, pastel.Provider))
	require.True(t, m.Break(key(0), pastel.Broken))
	require.Nil(t, m.Network(n.ID()))
	require.Empty(t, m.Networks())
	require.Equal(t, []TopologyKind{TopologyCreate, TopologyDispose}, kinds)

	require.False(t, m.Break(key(0), pastel.Broken), "second break finds nothing")
}

func TestManager_BreakSplitsDisconnectedNetwork(t *testing.T) {
	m := newTestManager(t, Hooks{})
	// 0 - 2 - 4 - 6 - 8, breaking 2 leaves {0} and {4,6,8}.
	var n *pastel.Network
	for _, x := range []int{0, 2, 4, 6, 8} {
		n = m.Place(block(x, pastel.Connection))
	}
	require.Len(t, m.Networks(), 1)
	id := n.ID()

	require.True(t, m.Break(key(2), pastel.Broken))
	require.Len(t, m.Networks(), 2)

	kept := m.Network(id)
	require.NotNil(t, kept)
	require.Equal(t, 3, kept.NodeCount(), "largest piece keeps the id")
	require.True(t, m.NetworkOf(key(6)).Equal(kept))

	split := m.NetworkOf(key(0))
	require.NotNil(t, split)
	require.NotEqual(t, id, split.ID())
	require.Equal(t, 1, split.NodeCount())
	require.False(t, kept.Contains(key(0)))
}

func TestManager_SetPriorityMovesTier(t *testing.T) {
	m := newTestManager(t, Hooks{})
	n := m.Place(block(0, pastel.Storage))
	require.True(t, m.SetPriority(key(0), pastel.High))
	require.Len(t, n.NodesByPriority(pastel.Storage, pastel.High), 1)
	require.True(t, m.SetPriority(key(0), pastel.Moderate))
	require.Empty(t, n.NodesByPriority(pastel.Storage, pastel.High))
	require.Len(t, n.NodesByPriority(pastel.Storage, pastel.Moderate), 1)
	require.False(t, m.SetPriority(key(99), pastel.High))
}

func TestManager_SendDeliversAfterHops(t *testing.T) {
	var events []DeliveryEvent
	m := newTestManager(t, Hooks{OnDelivery: func(ev DeliveryEvent) { events = append(events, ev) }})
	m.Place(block(0, pastel.Sender))
	m.Place(block(2, pastel.Connection))
	dst := block(4, pastel.Storage)
	m.Place(dst)

	require.True(t, m.Send(key(0), pastel.Payload{Item: "IRON", Count: 3}, pastel.Storage))
	require.Equal(t, 0, m.Tick())
	require.Empty(t, events)
	require.Equal(t, 1, m.Tick())
	require.Len(t, events, 1)
	require.True(t, events[0].Delivered)
	require.Equal(t, 2, events[0].Hops)
	require.Equal(t, uint64(2), events[0].Tick)
	require.Equal(t, map[string]int{"IRON": 3}, dst.Received())

	require.False(t, m.Send(key(0), pastel.Payload{Item: "IRON", Count: 1}, pastel.Buffer))
	require.False(t, m.Send(key(42), pastel.Payload{Item: "IRON", Count: 1}))
}

func TestManager_ApplyEdits(t *testing.T) {
	m := newTestManager(t, Hooks{})
	require.NoError(t, m.Apply(Edit{Op: OpPlace, World: world, Pos: pastel.Pos{X: 0}, NodeType: "SENDER"}))
	require.NoError(t, m.Apply(Edit{Op: OpPlace, World: world, Pos: pastel.Pos{X: 2}, NodeType: "STORAGE", Priority: "HIGH"}))

	err := m.Apply(Edit{Op: OpPlace, World: world, Pos: pastel.Pos{X: 2}, NodeType: "STORAGE"})
	require.ErrorIs(t, err, ErrOccupied)
	err = m.Apply(Edit{Op: OpPlace, World: world, Pos: pastel.Pos{X: 9}, NodeType: "LAMP"})
	require.ErrorIs(t, err, ErrBadEdit)
	err = m.Apply(Edit{Op: "JUMP", World: world})
	require.ErrorIs(t, err, ErrBadEdit)
	err = m.Apply(Edit{Op: OpBreak, World: world, Pos: pastel.Pos{X: 7}})
	require.ErrorIs(t, err, ErrNoNode)
	err = m.Apply(Edit{Op: OpSend, World: world, Pos: pastel.Pos{X: 0}, Item: "GOLD"})
	require.ErrorIs(t, err, ErrBadEdit)
	err = m.Apply(Edit{Op: OpSend, World: world, Pos: pastel.Pos{X: 0}, Item: "GOLD", Count: 1, Targets: []string{"BUFFER"}})
	require.ErrorIs(t, err, ErrNoRoute)

	require.NoError(t, m.Apply(Edit{Op: OpSend, World: world, Pos: pastel.Pos{X: 0}, Item: "GOLD", Count: 1}))
	require.NoError(t, m.Apply(Edit{Op: OpPriority, World: world, Pos: pastel.Pos{X: 2}, Priority: "GENERIC"}))
	require.NoError(t, m.Apply(Edit{Op: OpBreak, World: world, Pos: pastel.Pos{X: 2}, Reason: "UNLOADED"}))

	n := m.NetworkOf(key(0))
	require.NotNil(t, n)
	require.Equal(t, 1, n.NodeCount())
}

func TestManager_PlaceUsesTunedRange(t *testing.T) {
	m := newTestManager(t, Hooks{})
	m.cfg.Nodes.Ranges = map[string]int{"CONNECTION": 5}
	require.NoError(t, m.Apply(Edit{Op: OpPlace, World: world, Pos: pastel.Pos{X: 0}, NodeType: "CONNECTION"}))
	node, ok := m.NetworkOf(key(0)).Node(key(0))
	require.True(t, ok)
	require.Equal(t, 5, node.(*pastel.BlockNode).Range())
}

func TestManager_DigestIgnoresIDs(t *testing.T) {
	build := func() *Manager {
		m := newTestManager(t, Hooks{})
		for _, x := range []int{0, 2, 10, 12} {
			m.Place(block(x, pastel.Storage))
		}
		return m
	}
	a, b := build(), build()
	require.NotEqual(t, a.Networks()[0].ID(), b.Networks()[0].ID())
	require.Equal(t, a.Digest(), b.Digest())

	require.True(t, b.SetPriority(key(10), pastel.High))
	require.NotEqual(t, a.Digest(), b.Digest())
}

func TestManager_SnapshotRoundTrip(t *testing.T) {
	m := newTestManager(t, Hooks{})
	for _, x := range []int{0, 2, 4, 20} {
		m.Place(block(x, pastel.Storage))
	}
	m.SetPriority(key(2), pastel.Moderate)
	m.Tick()
	m.Tick()

	path := filepath.Join(t.TempDir(), "pastel.snap.zst")
	require.NoError(t, snapshot.WriteSnapshot(path, m.ExportSnapshot()))
	snap, err := snapshot.ReadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, uint64(2), snap.Header.Tick)

	r := newTestManager(t, Hooks{})
	require.NoError(t, r.ImportSnapshot(snap))
	require.Equal(t, m.Digest(), r.Digest())
	require.Equal(t, uint64(2), r.CurrentTick())
	for _, n := range m.Networks() {
		restored := r.Network(n.ID())
		require.NotNil(t, restored, "network %s keeps its id", n.ID())
		require.Equal(t, n.NodeCount(), restored.NodeCount())
	}
	require.Len(t, r.Latest().Networks, 2)
}

func TestManager_ImportRejectsTamperedDigest(t *testing.T) {
	m := newTestManager(t, Hooks{})
	m.Place(block(0, pastel.Storage))
	snap := m.ExportSnapshot()
	snap.Header.Digest = "00"
	require.Error(t, newTestManager(t, Hooks{}).ImportSnapshot(snap))

	snap.Header.Version = 7
	require.True(t, errors.Is(newTestManager(t, Hooks{}).ImportSnapshot(snap), snapshot.ErrVersion))
}

func TestManager_RestoreKeepsID(t *testing.T) {
	m := newTestManager(t, Hooks{})
	id := uuid.New()
	n := m.Restore(world, id, []pastel.Node{block(0, pastel.Buffer), block(1, pastel.Buffer)})
	require.NotNil(t, n)
	require.Equal(t, id, n.ID())
	require.Nil(t, m.Restore(world, uuid.New(), []pastel.Node{block(0, pastel.Buffer)}), "owned nodes are skipped")
	require.Len(t, m.Networks(), 1)
}

func TestManager_StateReadModel(t *testing.T) {
	m := newTestManager(t, Hooks{})
	m.Place(block(0, pastel.Provider))
	m.Place(block(2, pastel.Storage))
	m.SetPriority(key(2), pastel.High)

	st := m.State()
	require.Len(t, st.Networks, 1)
	ns := st.Networks[0]
	require.Equal(t, 2, ns.Nodes)
	require.Equal(t, 1, ns.Edges)
	require.Equal(t, 1, ns.High)
	require.Equal(t, 1, ns.Counts["PROVIDER"])
	require.Len(t, ns.Color, 7)
	require.Equal(t, m.Digest(), st.Digest)
}

func TestManager_RunAppliesSubmittedEdits(t *testing.T) {
	var journal []Edit
	ticked := make(chan uint64, 64)
	tun := tuning.Defaults()
	tun.TickRateHz = 100
	tun.InboxSize = 4
	m := NewManager(Config{
		Tuning: tun,
		Logger: log.New(io.Discard, "", 0),
		Hooks: Hooks{
			OnEdit: func(_ uint64, e Edit, err error) {
				if err == nil {
					journal = append(journal, e)
				}
			},
			OnTick: func(tick uint64) {
				select {
				case ticked <- tick:
				default:
				}
			},
		},
	})

	require.NoError(t, m.Submit(Edit{Op: OpPlace, World: world, Pos: pastel.Pos{X: 0}, NodeType: "PROVIDER"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		st := m.Latest()
		return st != nil && st.Nodes == 1
	}, 2*time.Second, 5*time.Millisecond)

	m.Stop()
	require.NoError(t, <-done)
	cancel()
	require.ErrorIs(t, m.Submit(Edit{}), ErrStopped)
	require.Len(t, journal, 1)
}

func TestManager_SubmitInboxFull(t *testing.T) {
	tun := tuning.Defaults()
	tun.InboxSize = 1
	m := NewManager(Config{Tuning: tun, Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, m.Submit(Edit{Op: OpBreak, World: world}))
	require.ErrorIs(t, m.Submit(Edit{Op: OpBreak, World: world}), ErrInboxFull)
}
