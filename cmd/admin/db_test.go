package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"pastelcraft.ai/internal/persistence/indexdb"
	"pastelcraft.ai/internal/persistence/snapshot"
	"pastelcraft.ai/internal/sim/pastel"
	"pastelcraft.ai/internal/sim/pastelnet"
)

func seededDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index", "pastel.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	idx.RecordTopology(pastelnet.TopologyEvent{Tick: 1, Kind: pastelnet.TopologyCreate, NetworkID: "a", World: "OVERWORLD", Nodes: 1})
	idx.RecordTopology(pastelnet.TopologyEvent{Tick: 2, Kind: pastelnet.TopologyCreate, NetworkID: "b", World: "OVERWORLD", Nodes: 1})
	idx.RecordTopology(pastelnet.TopologyEvent{Tick: 3, Kind: pastelnet.TopologyCreate, NetworkID: "n", World: "NETHER", Nodes: 1})
	idx.RecordTopology(pastelnet.TopologyEvent{Tick: 4, Kind: pastelnet.TopologyMerge, NetworkID: "b", Into: "a", World: "OVERWORLD", Nodes: 2})
	idx.RecordTopology(pastelnet.TopologyEvent{Tick: 6, Kind: pastelnet.TopologySplit, NetworkID: "c", Into: "a", World: "OVERWORLD", Nodes: 1})
	idx.RecordDelivery(pastelnet.DeliveryEvent{
		Tick: 5, NetworkID: "a", TransmissionID: "t1",
		Source:      pastel.NodeKey{World: "OVERWORLD", Pos: pastel.Pos{X: 1}},
		Destination: pastel.NodeKey{World: "OVERWORLD", Pos: pastel.Pos{X: 2}},
		Item:        "GOLD", Count: 2, Hops: 1, Delivered: true,
	})
	idx.RecordSnapshot(filepath.Join("snapshots", "6.snap.zst"), snapshot.SnapshotV1{Header: snapshot.Header{Version: snapshot.Version, Tick: 6, Digest: "abc"}})
	if err := idx.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestQueryNetworks(t *testing.T) {
	db := seededDB(t)

	all, err := queryNetworks(db, "", false, 10)
	if err != nil || len(all) != 4 {
		t.Fatalf("networks=%+v err=%v", all, err)
	}
	live, err := queryNetworks(db, "OVERWORLD", true, 10)
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	var ids []string
	for _, r := range live {
		ids = append(ids, r.ID)
	}
	if strings.Join(ids, ",") != "c,a" {
		t.Fatalf("live overworld=%v want [c a]", ids)
	}
	if live[0].Parent != "a" {
		t.Fatalf("split parent=%q", live[0].Parent)
	}
}

func TestQueryLineage(t *testing.T) {
	db := seededDB(t)
	chain, err := queryLineage(db, "b")
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if len(chain) != 2 || chain[0].EndKind != "MERGE" || chain[1].ID != "a" {
		t.Fatalf("chain=%+v", chain)
	}
	if _, err := queryLineage(db, "missing"); err == nil {
		t.Fatalf("expected error for unknown network")
	}
}

func TestQueryTopologyAndDeliveries(t *testing.T) {
	db := seededDB(t)
	topo, err := queryTopology(db, "a", 10)
	if err != nil {
		t.Fatalf("topology: %v", err)
	}
	// Its own CREATE plus the merge into it and the split off it, newest first.
	if len(topo) != 3 || topo[0].Kind != "SPLIT" || topo[2].Kind != "CREATE" {
		t.Fatalf("topology=%+v", topo)
	}

	ds, err := queryDeliveries(db, "a", 10)
	if err != nil || len(ds) != 1 {
		t.Fatalf("deliveries=%+v err=%v", ds, err)
	}
	if !ds[0].Delivered || ds[0].Source != "OVERWORLD@1,0,0" || ds[0].Count != 2 {
		t.Fatalf("delivery=%+v", ds[0])
	}

	snaps, err := querySnapshots(db, 5)
	if err != nil || len(snaps) != 1 || snaps[0].Digest != "abc" {
		t.Fatalf("snapshots=%+v err=%v", snaps, err)
	}
}

func TestSummarize(t *testing.T) {
	st := pastelnet.State{Tick: 9, Digest: "d", Nodes: 3, Networks: []pastelnet.NetworkState{
		{ID: "a", World: "OVERWORLD", Color: "#112233", Nodes: 2},
		{ID: "b", World: "NETHER", Color: "#445566", Nodes: 1},
	}}
	lines := summarize(st, "NETHER")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "b NETHER #445566 nodes=1") {
		t.Fatalf("lines=%q", lines)
	}
	if got := summarize(st, ""); len(got) != 3 {
		t.Fatalf("unfiltered=%q", got)
	}
}
