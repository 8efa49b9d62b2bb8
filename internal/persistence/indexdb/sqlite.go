package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"pastelcraft.ai/internal/persistence/snapshot"
	"pastelcraft.ai/internal/sim/pastelnet"
	"pastelcraft.ai/internal/sim/tuning"
)

const schemaVersion = "1"

// SQLiteIndex is a queryable secondary index over the JSONL logs and
// snapshots. Writes are queued and applied by one goroutine in batched
// transactions; when the queue is full writes are dropped and counted.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropDelivery atomic.Uint64
	dropTopology atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqDelivery reqKind = iota + 1
	reqTopology
	reqSnapshot
	reqSync
)

type req struct {
	kind reqKind

	delivery pastelnet.DeliveryEvent
	topology pastelnet.TopologyEvent
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	Tick     uint64
	Path     string
	Digest   string
	Networks int
	Nodes    int
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropDeliveryTotal uint64 `json:"drop_delivery_total"`
	DropTopologyTotal uint64 `json:"drop_topology_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, queue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS networks (
			id TEXT PRIMARY KEY,
			world TEXT NOT NULL,
			created_tick INTEGER NOT NULL,
			ended_tick INTEGER,
			end_kind TEXT,
			successor TEXT,
			parent TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS topology (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			network_id TEXT NOT NULL,
			into_id TEXT,
			nodes INTEGER NOT NULL,
			dropped INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_topology_network ON topology(network_id, tick);`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			transmission_id TEXT PRIMARY KEY,
			tick INTEGER NOT NULL,
			network_id TEXT NOT NULL,
			source TEXT NOT NULL,
			destination TEXT NOT NULL,
			item TEXT NOT NULL,
			count INTEGER NOT NULL,
			hops INTEGER NOT NULL,
			delivered INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_network_tick ON deliveries(network_id, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			networks INTEGER NOT NULL,
			nodes INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropDeliveryTotal: s.dropDelivery.Load(),
		DropTopologyTotal: s.dropTopology.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) RecordDelivery(ev pastelnet.DeliveryEvent) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqDelivery, delivery: ev}, &s.dropDelivery)
}

func (s *SQLiteIndex) RecordTopology(ev pastelnet.TopologyEvent) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqTopology, topology: ev}, &s.dropTopology)
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Tick:     snap.Header.Tick,
		Path:     path,
		Digest:   snap.Header.Digest,
		Networks: len(snap.Networks),
		Nodes:    snap.NodeCount(),
	}}, &s.dropSnapshot)
}

// Sync waits until everything queued before it is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertTuning stores the applied tuning and its digest in meta.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for k, v := range map[string]string{
		"schema_version": schemaVersion,
		"tuning":         string(b),
		"tuning_digest":  hex.EncodeToString(sum[:]),
		"updated_at":     time.Now().UTC().Format(time.RFC3339Nano),
	} {
		if _, err := stmt.Exec(k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertDelivery, _ := s.db.Prepare(`INSERT OR REPLACE INTO deliveries(transmission_id,tick,network_id,source,destination,item,count,hops,delivered) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertTopology, _ := s.db.Prepare(`INSERT OR REPLACE INTO topology(tick,seq,kind,network_id,into_id,nodes,dropped) VALUES(?,?,?,?,?,?,?)`)
	createNetwork, _ := s.db.Prepare(`INSERT OR IGNORE INTO networks(id,world,created_tick,parent) VALUES(?,?,?,?)`)
	endNetwork, _ := s.db.Prepare(`UPDATE networks SET ended_tick=?, end_kind=?, successor=? WHERE id=?`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,digest,networks,nodes) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertDelivery, insertTopology, createNetwork, endNetwork, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastTopoTick uint64
		topoSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqDelivery:
			d := r.delivery
			exec(insertDelivery,
				d.TransmissionID,
				int64(d.Tick),
				d.NetworkID,
				d.Source.String(),
				d.Destination.String(),
				d.Item,
				d.Count,
				d.Hops,
				boolInt(d.Delivered),
			)

		case reqTopology:
			ev := r.topology
			if ev.Tick != lastTopoTick {
				lastTopoTick = ev.Tick
				topoSeq = 0
			}
			seq := topoSeq
			topoSeq++
			if !exec(insertTopology, int64(ev.Tick), seq, string(ev.Kind), ev.NetworkID, nullString(ev.Into), ev.Nodes, ev.Dropped) {
				continue
			}
			switch ev.Kind {
			case pastelnet.TopologyCreate:
				exec(createNetwork, ev.NetworkID, ev.World, int64(ev.Tick), nil)
			case pastelnet.TopologySplit:
				exec(createNetwork, ev.NetworkID, ev.World, int64(ev.Tick), ev.Into)
			case pastelnet.TopologyMerge, pastelnet.TopologyDispose:
				exec(endNetwork, int64(ev.Tick), string(ev.Kind), nullString(ev.Into), ev.NetworkID)
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.Digest, sn.Networks, sn.Nodes)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// NetworkRow is the lifecycle record of one network id.
type NetworkRow struct {
	ID          string
	World       string
	CreatedTick uint64
	EndedTick   uint64
	EndKind     string
	Successor   string
	Parent      string
}

var ErrNotFound = errors.New("not found")

func (s *SQLiteIndex) Network(ctx context.Context, id string) (NetworkRow, error) {
	var (
		row                        NetworkRow
		ended                      sql.NullInt64
		endKind, successor, parent sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, world, created_tick, ended_tick, end_kind, successor, parent FROM networks WHERE id=?`, id,
	).Scan(&row.ID, &row.World, &row.CreatedTick, &ended, &endKind, &successor, &parent)
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("network %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return row, err
	}
	row.EndedTick = uint64(ended.Int64)
	row.EndKind = endKind.String
	row.Successor = successor.String
	row.Parent = parent.String
	return row, nil
}

// Deliveries returns up to limit deliveries of a network, newest first.
func (s *SQLiteIndex) Deliveries(ctx context.Context, networkID string, limit int) ([]pastelnet.DeliveryEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT transmission_id, tick, network_id, item, count, hops, delivered
		 FROM deliveries WHERE network_id=? ORDER BY tick DESC, transmission_id LIMIT ?`, networkID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pastelnet.DeliveryEvent
	for rows.Next() {
		var (
			ev        pastelnet.DeliveryEvent
			tick      int64
			delivered int
		)
		if err := rows.Scan(&ev.TransmissionID, &tick, &ev.NetworkID, &ev.Item, &ev.Count, &ev.Hops, &delivered); err != nil {
			return nil, err
		}
		ev.Tick = uint64(tick)
		ev.Delivered = delivered != 0
		out = append(out, ev)
	}
	return out, rows.Err()
}

type SnapshotRecord struct {
	Tick     uint64
	Path     string
	Digest   string
	Networks int
	Nodes    int
}

// LatestSnapshot returns the newest recorded snapshot at or before tick; a
// zero tick means no bound.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context, atOrBefore uint64) (SnapshotRecord, error) {
	var (
		rec  SnapshotRecord
		tick int64
	)
	q := `SELECT tick, path, digest, networks, nodes FROM snapshots ORDER BY tick DESC LIMIT 1`
	args := []any{}
	if atOrBefore > 0 {
		q = `SELECT tick, path, digest, networks, nodes FROM snapshots WHERE tick<=? ORDER BY tick DESC LIMIT 1`
		args = append(args, int64(atOrBefore))
	}
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&tick, &rec.Path, &rec.Digest, &rec.Networks, &rec.Nodes)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return rec, err
	}
	rec.Tick = uint64(tick)
	return rec, nil
}

func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("meta %s: %w", key, ErrNotFound)
	}
	return v, err
}
