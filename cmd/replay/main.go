package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	persistlog "pastelcraft.ai/internal/persistence/log"
	"pastelcraft.ai/internal/persistence/snapshot"
	"pastelcraft.ai/internal/sim/pastelnet"
	"pastelcraft.ai/internal/sim/tuning"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst")
		dataDir    = flag.String("data", "", "data dir holding the edits/ journal (optional)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: built-in defaults)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
		expectPath = flag.String("expect", "", "snapshot whose digest the replay must reach (optional)")
		verbose    = flag.Bool("v", false, "log simulation output")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d tick=%d networks=%d nodes=%d digest=%s\n",
		snap.Header.Version, snap.Header.Tick, len(snap.Networks), snap.NodeCount(), snap.Header.Digest)

	if *dataDir == "" && *expectPath == "" {
		return
	}

	tune := tuning.Defaults()
	if *tuningPath != "" {
		if tune, err = tuning.Load(*tuningPath); err != nil {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
	}
	if snap.TickRate > 0 {
		tune.TickRateHz = snap.TickRate
	}
	tune.TicksPerHop = snap.TicksPerHop

	out := io.Discard
	if *verbose {
		out = os.Stderr
	}
	mgr := pastelnet.NewManager(pastelnet.Config{
		Tuning: tune,
		Logger: log.New(out, "[replay] ", log.Lmicroseconds),
	})
	if err := mgr.ImportSnapshot(snap); err != nil {
		fmt.Fprintln(os.Stderr, "import snapshot:", err)
		os.Exit(1)
	}

	var entries []persistlog.EditEntry
	if *dataDir != "" {
		if entries, err = persistlog.ReadEdits(*dataDir); err != nil {
			fmt.Fprintln(os.Stderr, "read edits:", err)
			os.Exit(1)
		}
	}

	until := *toTick
	var want snapshot.Header
	if *expectPath != "" {
		if want, err = snapshot.ReadHeader(*expectPath); err != nil {
			fmt.Fprintln(os.Stderr, "read expected snapshot:", err)
			os.Exit(1)
		}
		if until == 0 || until > want.Tick {
			until = want.Tick
		}
	}

	res := replay(mgr, entries, until)
	fmt.Printf("replayed ticks=%d edits=%d skipped=%d tick=%d digest=%s\n",
		res.Ticks, res.Applied, res.Skipped, mgr.CurrentTick(), mgr.Digest())

	if *expectPath != "" {
		if mgr.CurrentTick() != want.Tick {
			fmt.Fprintf(os.Stderr, "replay stopped at tick %d, expected snapshot is at %d\n", mgr.CurrentTick(), want.Tick)
			os.Exit(1)
		}
		if got := mgr.Digest(); got != want.Digest {
			fmt.Fprintf(os.Stderr, "digest mismatch at tick %d: got %s want %s\n", want.Tick, got, want.Digest)
			os.Exit(1)
		}
		fmt.Println("replay ok: digest matches")
	}
}
