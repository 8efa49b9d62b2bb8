package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"pastelcraft.ai/internal/sim/pastelnet"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	world := fs.String("world", "", "only networks of this world")
	raw := fs.Bool("raw", false, "print the full state document")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 || *raw {
		fmt.Println(string(b))
		if resp.StatusCode/100 != 2 {
			os.Exit(1)
		}
		return
	}

	var st pastelnet.State
	if err := json.Unmarshal(b, &st); err != nil {
		fmt.Fprintln(os.Stderr, "decode:", err)
		os.Exit(1)
	}
	for _, line := range summarize(st, strings.TrimSpace(*world)) {
		fmt.Println(line)
	}
}

// summarize renders one header line and one line per network.
func summarize(st pastelnet.State, world string) []string {
	out := []string{fmt.Sprintf("tick=%d networks=%d nodes=%d digest=%s", st.Tick, len(st.Networks), st.Nodes, st.Digest)}
	for _, n := range st.Networks {
		if world != "" && n.World != world {
			continue
		}
		out = append(out, fmt.Sprintf("%s %s %s nodes=%d edges=%d in_flight=%d moderate=%d high=%d",
			n.ID, n.World, n.Color, n.Nodes, n.Edges, n.InFlight, n.Moderate, n.High))
	}
	return out
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/snapshot"
	req, _ := http.NewRequest(http.MethodPost, u, nil)
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
