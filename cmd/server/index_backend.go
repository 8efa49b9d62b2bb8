package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pastelcraft.ai/internal/persistence/indexdb"
	"pastelcraft.ai/internal/persistence/snapshot"
	"pastelcraft.ai/internal/sim/pastelnet"
	"pastelcraft.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	RecordDelivery(ev pastelnet.DeliveryEvent)
	RecordTopology(ev pastelnet.TopologyEvent)
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	UpsertTuning(tune tuning.Tuning) error
	Stats() indexdb.Stats
	Close() error
}

// openRuntimeIndex returns nil when indexing is disabled. VC_INDEX_BACKEND
// picks the backend; sqlite is the only one today.
func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VC_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "pastel.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported VC_INDEX_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
