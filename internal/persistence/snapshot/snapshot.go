package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

var ErrVersion = errors.New("unsupported snapshot version")

type Header struct {
	Version int    `json:"version"`
	Tick    uint64 `json:"tick"`
	// Digest is the topology digest at Tick, used by replay to verify.
	Digest string `json:"digest,omitempty"`
}

// SnapshotV1 holds network identities and node placements only. Graphs and
// priority tiers are derived on load; in-flight transmissions are not kept.
type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRate    int `json:"tick_rate_hz"`
	TicksPerHop int `json:"ticks_per_hop"`

	Networks []NetworkV1 `json:"networks"`
}

type NetworkV1 struct {
	ID    string   `json:"id"`
	World string   `json:"world"`
	Nodes []NodeV1 `json:"nodes"`
}

type NodeV1 struct {
	World    string `json:"world"`
	Pos      [3]int `json:"pos"`
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Range    int    `json:"range"`
}

// NodeCount is the number of nodes across every network.
func (s SnapshotV1) NodeCount() int {
	n := 0
	for _, net := range s.Networks {
		n += len(net.Nodes)
	}
	return n
}

// WriteSnapshot writes a zstd stream holding a JSON header line followed by
// the gob-encoded snapshot. The file is written next to path and renamed
// into place.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	hdr, err := readHeader(br)
	if err != nil {
		return snap, err
	}
	if hdr.Version != Version {
		return snap, fmt.Errorf("%w: %d", ErrVersion, hdr.Version)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the header line, for listings.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, err
	}
	defer dec.Close()
	return readHeader(bufio.NewReader(dec))
}

func readHeader(br *bufio.Reader) (Header, error) {
	var h Header
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
