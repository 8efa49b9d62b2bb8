package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	persistlog "pastelcraft.ai/internal/persistence/log"
	"pastelcraft.ai/internal/persistence/snapshot"
	"pastelcraft.ai/internal/sim/pastelnet"
)

// sinks fans simulation hooks out to the journals and the index. Every method
// runs on the simulation goroutine, so none of them may block.
type sinks struct {
	log        *log.Logger
	deliveries *persistlog.DeliveryLogger
	edits      *persistlog.EditLogger
	idx        runtimeIndex

	snapEvery uint64
	snapCh    chan<- snapshot.SnapshotV1
	export    func() snapshot.SnapshotV1
	forceSnap atomic.Bool
}

func (s *sinks) hooks() pastelnet.Hooks {
	return pastelnet.Hooks{
		OnDelivery: s.onDelivery,
		OnTopology: s.onTopology,
		OnEdit:     s.onEdit,
		OnTick:     s.onTick,
	}
}

func (s *sinks) onDelivery(ev pastelnet.DeliveryEvent) {
	if s.deliveries != nil {
		if err := s.deliveries.WriteDelivery(ev); err != nil {
			s.log.Printf("delivery log: %v", err)
		}
	}
	if s.idx != nil {
		s.idx.RecordDelivery(ev)
	}
}

func (s *sinks) onTopology(ev pastelnet.TopologyEvent) {
	switch ev.Kind {
	case pastelnet.TopologyMerge, pastelnet.TopologySplit:
		s.log.Printf("tick=%d %s network=%s into=%s nodes=%d dropped=%d", ev.Tick, ev.Kind, ev.NetworkID, ev.Into, ev.Nodes, ev.Dropped)
	}
	if s.idx != nil {
		s.idx.RecordTopology(ev)
	}
}

func (s *sinks) onEdit(tick uint64, e pastelnet.Edit, applyErr error) {
	if s.edits == nil {
		return
	}
	if err := s.edits.WriteEdit(tick, e, applyErr); err != nil {
		s.log.Printf("edit log: %v", err)
	}
}

func (s *sinks) onTick(tick uint64) {
	due := s.snapEvery > 0 && tick%s.snapEvery == 0
	if s.forceSnap.Swap(false) {
		due = true
	}
	if !due || s.export == nil || s.snapCh == nil {
		return
	}
	select {
	case s.snapCh <- s.export():
	default:
		s.log.Printf("snapshot writer busy; skipped tick %d", tick)
	}
}

// requestSnapshot makes the next tick write a snapshot.
func (s *sinks) requestSnapshot() { s.forceSnap.Store(true) }

func (s *sinks) Close() {
	if s.deliveries != nil {
		_ = s.deliveries.Close()
	}
	if s.edits != nil {
		_ = s.edits.Close()
	}
}

func snapshotPath(dataDir string, tick uint64) string {
	return filepath.Join(dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", tick))
}

// saveSnapshot writes snap under dataDir and records it in the index.
func saveSnapshot(dataDir string, snap snapshot.SnapshotV1, idx runtimeIndex) (string, error) {
	path := snapshotPath(dataDir, snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", err
	}
	if idx != nil {
		idx.RecordSnapshot(path, snap)
	}
	return path, nil
}

// runSnapshotWriter saves snapshots from in until ctx ends. onSaved, when
// set, gets the path of each written file.
func runSnapshotWriter(ctx context.Context, dataDir string, in <-chan snapshot.SnapshotV1, idx runtimeIndex, onSaved func(string), logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-in:
			path, err := saveSnapshot(dataDir, snap, idx)
			if err != nil {
				logger.Printf("snapshot write: %v", err)
				continue
			}
			logger.Printf("snapshot tick=%d networks=%d nodes=%d path=%s", snap.Header.Tick, len(snap.Networks), snap.NodeCount(), filepath.Base(path))
			if onSaved != nil {
				onSaved(path)
			}
		}
	}
}

func latestSnapshot(dataDir string) string {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
