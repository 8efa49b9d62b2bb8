package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/pastel.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	network := fs.String("network", "", "network id (topology, deliveries, lineage)")
	world := fs.String("world", "", "world filter (networks)")
	live := fs.Bool("live", false, "only networks that have not ended (networks)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "pastel.sqlite")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	needNetwork := func() string {
		id := strings.TrimSpace(*network)
		if id == "" {
			fmt.Fprintf(os.Stderr, "%s needs -network\n", q)
			os.Exit(2)
		}
		return id
	}

	var rows []any
	switch q {
	case "snapshots":
		rows, err = collect(querySnapshots(db, *limit))
	case "networks":
		rows, err = collect(queryNetworks(db, strings.TrimSpace(*world), *live, *limit))
	case "topology":
		rows, err = collect(queryTopology(db, needNetwork(), *limit))
	case "deliveries":
		rows, err = collect(queryDeliveries(db, needNetwork(), *limit))
	case "lineage":
		rows, err = collect(queryLineage(db, needNetwork()))
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-network ID] snapshots|networks|topology|deliveries|lineage")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

func collect[T any](rows []T, err error) ([]any, error) {
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i := range rows {
		out[i] = rows[i]
	}
	return out, nil
}

type snapshotRow struct {
	Tick     int64  `json:"tick"`
	Path     string `json:"path"`
	Digest   string `json:"digest"`
	Networks int    `json:"networks"`
	Nodes    int    `json:"nodes"`
}

func querySnapshots(db *sql.DB, limit int) ([]snapshotRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`SELECT tick,path,digest,networks,nodes FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []snapshotRow
	for rows.Next() {
		var r snapshotRow
		if err := rows.Scan(&r.Tick, &r.Path, &r.Digest, &r.Networks, &r.Nodes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type networkRow struct {
	ID          string `json:"id"`
	World       string `json:"world"`
	CreatedTick int64  `json:"created_tick"`
	EndedTick   int64  `json:"ended_tick,omitempty"`
	EndKind     string `json:"end_kind,omitempty"`
	Successor   string `json:"successor,omitempty"`
	Parent      string `json:"parent,omitempty"`
}

const networkCols = `id,world,created_tick,ended_tick,end_kind,successor,parent`

func scanNetwork(sc interface{ Scan(...any) error }) (networkRow, error) {
	var (
		r                          networkRow
		ended                      sql.NullInt64
		endKind, successor, parent sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.World, &r.CreatedTick, &ended, &endKind, &successor, &parent); err != nil {
		return r, err
	}
	r.EndedTick = ended.Int64
	r.EndKind = endKind.String
	r.Successor = successor.String
	r.Parent = parent.String
	return r, nil
}

func queryNetworks(db *sql.DB, world string, live bool, limit int) ([]networkRow, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + networkCols + ` FROM networks WHERE 1=1`
	var args []any
	if world != "" {
		q += ` AND world=?`
		args = append(args, world)
	}
	if live {
		q += ` AND ended_tick IS NULL`
	}
	q += ` ORDER BY created_tick DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []networkRow
	for rows.Next() {
		r, err := scanNetwork(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// queryLineage follows successor links from id until a network that is still
// live or was disposed.
func queryLineage(db *sql.DB, id string) ([]networkRow, error) {
	var out []networkRow
	seen := map[string]bool{}
	for id != "" && !seen[id] {
		seen[id] = true
		r, err := scanNetwork(db.QueryRow(`SELECT `+networkCols+` FROM networks WHERE id=?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
		id = r.Successor
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("network %s not indexed", id)
	}
	return out, nil
}

type topologyRow struct {
	Tick      int64  `json:"tick"`
	Kind      string `json:"kind"`
	NetworkID string `json:"network_id"`
	Into      string `json:"into,omitempty"`
	Nodes     int    `json:"nodes"`
	Dropped   int    `json:"dropped,omitempty"`
}

// queryTopology lists events where the network is either side.
func queryTopology(db *sql.DB, networkID string, limit int) ([]topologyRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`SELECT tick,kind,network_id,into_id,nodes,dropped FROM topology
		WHERE network_id=? OR into_id=? ORDER BY tick DESC, seq DESC LIMIT ?`, networkID, networkID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []topologyRow
	for rows.Next() {
		var (
			r    topologyRow
			into sql.NullString
		)
		if err := rows.Scan(&r.Tick, &r.Kind, &r.NetworkID, &into, &r.Nodes, &r.Dropped); err != nil {
			return nil, err
		}
		r.Into = into.String
		out = append(out, r)
	}
	return out, rows.Err()
}

type deliveryRow struct {
	Tick           int64  `json:"tick"`
	TransmissionID string `json:"transmission_id"`
	Source         string `json:"source"`
	Destination    string `json:"destination"`
	Item           string `json:"item"`
	Count          int    `json:"count"`
	Hops           int    `json:"hops"`
	Delivered      bool   `json:"delivered"`
}

func queryDeliveries(db *sql.DB, networkID string, limit int) ([]deliveryRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`SELECT tick,transmission_id,source,destination,item,count,hops,delivered FROM deliveries
		WHERE network_id=? ORDER BY tick DESC, transmission_id LIMIT ?`, networkID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []deliveryRow
	for rows.Next() {
		var (
			r         deliveryRow
			delivered int
		)
		if err := rows.Scan(&r.Tick, &r.TransmissionID, &r.Source, &r.Destination, &r.Item, &r.Count, &r.Hops, &delivered); err != nil {
			return nil, err
		}
		r.Delivered = delivered != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
