package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"pastelcraft.ai/internal/metrics"
	persistlog "pastelcraft.ai/internal/persistence/log"
	"pastelcraft.ai/internal/persistence/snapshot"
	"pastelcraft.ai/internal/sim/pastelnet"
	"pastelcraft.ai/internal/sim/tuning"
	"pastelcraft.ai/internal/transport/observer"
	"pastelcraft.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (deliveries, topology, snapshot metadata)")
		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
		token      = flag.String("token", "", "shared token required in HELLO (or set VC_WS_TOKEN)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	_ = os.MkdirAll(*dataDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(*dataDir)
	}

	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	var snap *snapshot.SnapshotV1
	if snapshotToLoad != "" {
		s, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		// A resumed run keeps the timing it was recorded with.
		if s.TickRate > 0 {
			tune.TickRateHz = s.TickRate
		}
		tune.TicksPerHop = s.TicksPerHop
		snap = &s
	}

	// Optional read-model index; never feeds back into the simulation.
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(reg)
	if err != nil {
		logger.Fatalf("metrics: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Closed after the journals so their final files still get queued.
	mirror, err := buildMirror(ctx, *dataDir, log.New(os.Stdout, "[mirror] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("init mirror: %v", err)
	}
	if mirror != nil {
		defer mirror.Close()
		if err := collector.WatchQueue("mirror", func() int { return mirror.Stats().QueueDepth }); err != nil {
			logger.Printf("metrics: %v", err)
		}
	}
	if idx != nil {
		if err := collector.WatchQueue("index", func() int { return idx.Stats().QueueDepth }); err != nil {
			logger.Printf("metrics: %v", err)
		}
	}

	snapCh := make(chan snapshot.SnapshotV1, 2)
	sk := &sinks{
		log:        logger,
		deliveries: persistlog.NewDeliveryLogger(*dataDir),
		edits:      persistlog.NewEditLogger(*dataDir),
		idx:        idx,
		snapEvery:  uint64(tune.SnapshotEveryTicks),
		snapCh:     snapCh,
	}
	defer sk.Close()
	if mirror != nil {
		sk.deliveries.OnClose(mirror.Enqueue)
		sk.edits.OnClose(mirror.Enqueue)
	}

	mgr := pastelnet.NewManager(pastelnet.Config{
		Tuning:  tune,
		Logger:  log.New(os.Stdout, "[pastelnet] ", log.LstdFlags|log.Lmicroseconds),
		Hooks:   sk.hooks(),
		Metrics: collector,
	})
	sk.export = mgr.ExportSnapshot

	if snap != nil {
		if err := mgr.ImportSnapshot(*snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), mgr.CurrentTick())
	}

	go runSnapshotWriter(ctx, *dataDir, snapCh, idx, mirror.Enqueue, logger)

	simDone := make(chan struct{})
	go func() {
		defer close(simDone)
		if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("simulation stopped: %v", err)
		}
	}()

	wsToken := strings.TrimSpace(*token)
	if wsToken == "" {
		wsToken = strings.TrimSpace(os.Getenv("VC_WS_TOKEN"))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", collector.Handler())

	obsSrv := observer.NewServer(mgr, logger, collector)
	mux.HandleFunc("/v1/observer/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obsSrv.WSHandler())

	enableAdminHTTP := envBool("VC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("VC_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		mux.HandleFunc("/admin/v1/state", adminStateHandler(mgr))
		mux.HandleFunc("/admin/v1/snapshot", adminSnapshotHandler(sk))
	} else {
		logger.Printf("admin endpoints disabled (VC_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (VC_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(mgr, logger, ws.Options{
		Token:        wsToken,
		TuningDigest: tuningDigest(tune),
		Conns:        collector,
	}).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// The loop has stopped, so the manager can be read from here.
	cancel()
	<-simDone
	if path, err := saveSnapshot(*dataDir, mgr.ExportSnapshot(), idx); err != nil {
		logger.Printf("final snapshot: %v", err)
	} else {
		logger.Printf("final snapshot %s", filepath.Base(path))
		mirror.Enqueue(path)
	}
}

func adminStateHandler(mgr *pastelnet.Manager) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(mgr.Latest())
	}
}

func adminSnapshotHandler(sk *sinks) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		sk.requestSnapshot()
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true})
	}
}

// tuningDigest lets clients tell whether two servers run the same tuning.
func tuningDigest(t tuning.Tuning) string {
	b, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
