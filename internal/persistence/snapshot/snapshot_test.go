package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func sample() SnapshotV1 {
	return SnapshotV1{
		Header:      Header{Tick: 42, Digest: "abc"},
		TickRate:    20,
		TicksPerHop: 10,
		Networks: []NetworkV1{
			{
				ID:    "6a1f3c2e-8d4b-4f6a-9c1e-2b3d4e5f6a7b",
				World: "OVERWORLD",
				Nodes: []NodeV1{
					{World: "OVERWORLD", Pos: [3]int{0, 64, 0}, Type: "PROVIDER", Priority: "GENERIC", Range: 12},
					{World: "OVERWORLD", Pos: [3]int{4, 64, 0}, Type: "STORAGE", Priority: "HIGH", Range: 12},
				},
			},
		},
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap", "42.snap.zst")
	in := sample()
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	in.Header.Version = Version
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
	if out.NodeCount() != 2 {
		t.Fatalf("NodeCount=%d want 2", out.NodeCount())
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}
}

func TestSnapshot_ReadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.snap.zst")
	if err := WriteSnapshot(path, sample()); err != nil {
		t.Fatalf("write: %v", err)
	}
	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Version != Version || h.Tick != 42 || h.Digest != "abc" {
		t.Fatalf("header=%+v", h)
	}
}

func TestSnapshot_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v9.snap.zst")
	s := sample()
	s.Header.Version = 9
	if err := WriteSnapshot(path, s); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); !errors.Is(err, ErrVersion) {
		t.Fatalf("expected ErrVersion, got %v", err)
	}
}

func TestSnapshot_EmptyNetworks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.snap.zst")
	if err := WriteSnapshot(path, SnapshotV1{Header: Header{Tick: 1}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out.Networks) != 0 || out.Header.Tick != 1 {
		t.Fatalf("unexpected: %+v", out)
	}
}
