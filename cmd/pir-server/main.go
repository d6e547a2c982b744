package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"statepir/internal/apiserver"
	"statepir/internal/config"
	"statepir/internal/delta"
	"statepir/internal/lane"
	"statepir/internal/metrics"
	"statepir/internal/snapshot"
)

func main() {
	log.Println("========================================")
	log.Println("StatePIR Server")
	log.Println("========================================")
	log.Println()

	laneFlag := flag.String("lane", "balance", "lane kind this instance serves: balance, bucketed, or stem")
	chainID := flag.Uint64("chain-id", 1, "chain id this snapshot is bound to")
	blockNumber := flag.Uint64("block", 0, "block number this snapshot was built at")
	flag.Parse()

	cfg := config.LoadServerConfig()
	log.Printf("Configuration: addr=%s, snapshot_dir=%s, wait_timeout=%s\n",
		cfg.ListenAddress(), cfg.SnapshotDir, cfg.WaitTimeout)

	waitForSnapshot(cfg.SnapshotDir, cfg.WaitTimeout)

	laneKind, err := parseLaneKind(*laneFlag)
	if err != nil {
		log.Fatalf("%v", err)
	}

	log.Println("Loading snapshot generation...")
	gen, l, err := loadGeneration(cfg.SnapshotDir, laneKind, *chainID, *blockNumber)
	if err != nil {
		log.Fatalf("Failed to load snapshot: %v", err)
	}
	log.Printf("✅ Snapshot loaded: lane=%s entries=%d block=%d\n", l.Name, gen.Header.EntryCount, gen.Meta.BlockNumber)

	srv := &apiserver.Server{
		Snapshot:    snapshot.NewHandle(gen),
		Lanes:       lane.NewRegistry([]*lane.Lane{l}),
		DeltaHub:    delta.NewHub(),
		DeltaWriter: delta.NewWriter(cfg.SnapshotDir),
		Metrics:     &metrics.QueryCollector{},
		Version:     "1.0.0",
		ConfigHash:  cfg.Hash(),
	}
	if err := srv.DeltaWriter.Load(); err != nil {
		log.Printf("warning: could not load existing delta log: %v", err)
	}

	addr := cfg.ListenAddress()
	log.Printf("🚀 StatePIR server listening on %s\n", addr)
	log.Println("========================================")
	log.Println()
	log.Println("Privacy Mode: ENABLED")
	log.Println("⚠️  Server will NEVER log queried addresses")
	log.Println()

	if err := http.ListenAndServe(addr, srv.Routes()); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func parseLaneKind(name string) (lane.Kind, error) {
	switch name {
	case "balance":
		return lane.Balance, nil
	case "bucketed":
		return lane.Bucketed, nil
	case "stem":
		return lane.Stem, nil
	default:
		return 0, &unknownLaneError{name}
	}
}

type unknownLaneError struct{ name string }

func (e *unknownLaneError) Error() string {
	return "unknown -lane value " + e.name + ", want balance, bucketed, or stem"
}

func waitForSnapshot(dir string, timeout time.Duration) {
	dbPath := dir + "/db.bin"
	log.Printf("Waiting for snapshot database at %s...\n", dbPath)

	if timeout <= 0 {
		if _, err := os.Stat(dbPath); err != nil {
			log.Fatalf("Snapshot file %s not found and timeout disabled", dbPath)
		}
		log.Println("✅ snapshot file found")
		return
	}

	start := time.Now()
	attempts := 0
	for {
		if _, err := os.Stat(dbPath); err == nil {
			log.Println("✅ snapshot file found")
			return
		}
		attempts++
		if attempts%10 == 0 {
			log.Printf("  Still waiting... (%ds/%ds)\n", int(time.Since(start).Seconds()), int(timeout.Seconds()))
		}
		if time.Since(start) >= timeout {
			log.Fatalf("Timeout waiting for snapshot file at %s", dbPath)
		}
		time.Sleep(time.Second)
	}
}
