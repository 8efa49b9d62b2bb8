package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"pastelcraft.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

type snapshotFile struct {
	Path   string `json:"path"`
	Tick   uint64 `json:"tick"`
	Digest string `json:"digest,omitempty"`
	Error  string `json:"error,omitempty"`
}

// listCmd prints every snapshot under <data>/snapshots with its header.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	files, err := listSnapshots(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, f := range files {
		printJSON(f)
	}
}

func listSnapshots(dataDir string) ([]snapshotFile, error) {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []snapshotFile
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		path := filepath.Join(dir, name)
		f := snapshotFile{Path: path}
		if h, err := snapshot.ReadHeader(path); err != nil {
			f.Error = err.Error()
			f.Tick, _ = strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		} else {
			f.Tick, f.Digest = h.Tick, h.Digest
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
