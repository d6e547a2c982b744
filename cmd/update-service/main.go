// Command update-service follows the chain, turns each block into a bucket
// delta, and republishes the tiered range-delta file (and, optionally, an
// IPFS-pinned copy of it) for pir-server instances and light clients to
// pull from.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"statepir/internal/chainfollower"
	"statepir/internal/config"
	"statepir/internal/delta"
	"statepir/internal/ipfspublish"
	"statepir/internal/metrics"
)

func main() {
	log.Println("========================================")
	log.Println("StatePIR Update Service")
	log.Println("========================================")

	cfg := config.LoadUpdateServiceConfig()
	log.Printf("Configuration: rpc=%s, chain_id=%d, delta_dir=%s, ipfs_api=%q, start_block=%d\n",
		cfg.RPCURL, cfg.ChainID, cfg.DeltaDir, cfg.IPFSAPI, cfg.StartBlock)

	if cfg.RPCURL == "" {
		log.Fatal("no RPC URL configured (STATEPIR_RPC_URL)")
	}

	client, err := chainfollower.DialClient(context.Background(), cfg.RPCURL, cfg.RPCToken, cfg.ChainID)
	if err != nil {
		log.Fatalf("failed to dial execution node: %v", err)
	}

	follower := chainfollower.NewFollower(client, nil)
	if err := follower.Connect(context.Background()); err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	log.Printf("connected, chain id %s\n", follower.ChainID())

	writer := delta.NewWriter(cfg.DeltaDir)
	if err := writer.Load(); err != nil {
		log.Printf("warning: could not load existing delta log: %v", err)
	}

	hub := delta.NewHub()
	archiver, err := ipfspublish.New(cfg.IPFSAPI, cfg.IPFSGateway)
	if err != nil {
		log.Printf("warning: IPFS archival disabled: %v", err)
		archiver = nil
	} else if archiver != nil {
		log.Println("IPFS archival enabled")
	}

	stats := &metrics.UpdateCollector{}
	svc := &updateService{writer: writer, hub: hub, archiver: archiver, stats: stats, chainID: follower.ChainID().Uint64()}

	go svc.startHealthServer(cfg.HealthPort)

	startBlock := cfg.StartBlock
	if startBlock == 0 {
		startBlock = writer.CurrentBlock()
	}
	log.Printf("following chain from block %d\n", startBlock)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := follower.Run(ctx, startBlock, svc.onDelta); err != nil && ctx.Err() == nil {
		log.Fatalf("chain follower stopped: %v", err)
	}
	log.Println("shutting down")
}

// flushInterval bounds how long a delta can sit unflushed to disk; the
// broadcast hub gets every delta immediately, but the tiered file (what a
// reconnecting client range-requests against) is rewritten on this cadence
// instead of on every single block to avoid a rename storm during a burst.
const flushInterval = 5 * time.Second

type updateService struct {
	writer   *delta.Writer
	hub      *delta.Hub
	archiver *ipfspublish.Publisher
	stats    *metrics.UpdateCollector
	chainID  uint64

	lastFlush time.Time
}

func (s *updateService) onDelta(d delta.BucketDelta) {
	start := time.Now()
	s.writer.AddDelta(d)
	s.hub.Broadcast(d)
	s.stats.RecordBlock(d.BlockNumber, len(d.Updates), time.Since(start))

	if time.Since(s.lastFlush) < flushInterval {
		return
	}
	s.lastFlush = time.Now()

	path, err := s.writer.Write()
	if err != nil {
		log.Printf("update-service: failed to write delta file: %v", err)
		return
	}
	if s.archiver == nil {
		return
	}
	fileCID, manifestCID, err := s.archiver.PublishDeltaFile(path, s.chainID, d.BlockNumber, time.Now().Unix())
	if err != nil {
		log.Printf("update-service: IPFS publish failed: %v", err)
		return
	}
	log.Printf("published delta file to IPFS: %s (%s), manifest %s", fileCID, s.archiver.GatewayURL(fileCID), manifestCID)
}

func (s *updateService) startHealthServer(port string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         "healthy",
			"current_block":  s.writer.CurrentBlock(),
			"subscribers":    s.hub.SubscriberCount(),
			"update_metrics": s.stats.Snapshot(),
		})
	})
	addr := ":" + port
	log.Printf("health server listening on %s\n", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("health server stopped: %v", err)
	}
}
