package config

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// ServerConfig configures cmd/pir-server: which snapshot directory to serve
// generations from and where to listen.
type ServerConfig struct {
	ServerPort   string
	SnapshotDir  string
	WaitTimeout  time.Duration
}

const (
	defaultServerPort  = "3000"
	defaultSnapshotDir = "/data/snapshots"
	defaultWaitTimeout = 120 * time.Second
)

// LoadServerConfig reads cmd/pir-server's environment, preferring
// STATEPIR_SERVER_* names and falling back to the shorter, commonly used
// unprefixed aliases.
func LoadServerConfig() ServerConfig {
	cfg := ServerConfig{
		ServerPort:  defaultServerPort,
		SnapshotDir: defaultSnapshotDir,
		WaitTimeout: defaultWaitTimeout,
	}

	if v := Env("STATEPIR_SERVER_PORT", "SERVER_PORT", "PORT"); v != "" {
		cfg.ServerPort = v
	}
	if v := Env("STATEPIR_SERVER_SNAPSHOT_DIR", "SNAPSHOT_DIR"); v != "" {
		cfg.SnapshotDir = v
	}
	cfg.WaitTimeout = DurationSeconds(Env("STATEPIR_SERVER_WAIT_TIMEOUT_SECONDS", "WAIT_TIMEOUT_SECONDS"), defaultWaitTimeout)
	return cfg
}

// Hash fingerprints the loaded configuration for the /info endpoint: a
// short value an operator can diff across two deployments to confirm they
// are actually running the same settings, without echoing the settings
// themselves (some, like a future auth token, wouldn't be safe to expose).
func (c ServerConfig) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "port=%s;snapshot_dir=%s;wait_timeout=%s", c.ServerPort, c.SnapshotDir, c.WaitTimeout)
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// ListenAddress normalizes ServerPort to a net/http-ready address.
func (c ServerConfig) ListenAddress() string {
	port := strings.TrimSpace(c.ServerPort)
	if port == "" {
		port = defaultServerPort
	}
	if strings.HasPrefix(port, ":") || strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// UpdateServiceConfig configures cmd/update-service: the chain-follower's
// RPC endpoint, where it writes snapshots/deltas, and optional IPFS
// archival.
type UpdateServiceConfig struct {
	RPCURL         string
	RPCToken       string
	ChainID        uint64
	SnapshotDir    string
	DeltaDir       string
	HealthPort     string
	IPFSAPI        string
	IPFSGateway    string
	StartBlock     uint64
}

const (
	defaultDeltaDir    = "/public/deltas"
	defaultHealthPort  = "3001"
)

// LoadUpdateServiceConfig reads cmd/update-service's environment.
func LoadUpdateServiceConfig() UpdateServiceConfig {
	cfg := UpdateServiceConfig{
		SnapshotDir: defaultSnapshotDir,
		DeltaDir:    defaultDeltaDir,
		HealthPort:  defaultHealthPort,
	}

	cfg.RPCURL = Env("STATEPIR_RPC_URL", "RPC_URL", "ETH_RPC_URL")
	cfg.RPCToken = Env("STATEPIR_RPC_TOKEN", "RPC_TOKEN")
	cfg.ChainID = Uint64(Env("STATEPIR_CHAIN_ID", "CHAIN_ID"), 1)
	if v := Env("STATEPIR_SNAPSHOT_DIR", "SNAPSHOT_DIR"); v != "" {
		cfg.SnapshotDir = v
	}
	if v := Env("STATEPIR_DELTA_DIR", "DELTA_DIR"); v != "" {
		cfg.DeltaDir = v
	}
	if v := Env("STATEPIR_HEALTH_PORT", "HEALTH_PORT"); v != "" {
		cfg.HealthPort = v
	}
	cfg.IPFSAPI = Env("STATEPIR_IPFS_API", "IPFS_API")
	cfg.IPFSGateway = Env("STATEPIR_IPFS_GATEWAY", "IPFS_GATEWAY")
	cfg.StartBlock = Uint64(Env("STATEPIR_START_BLOCK", "START_BLOCK"), 0)
	return cfg
}

// LaneBuilderConfig configures cmd/lane-builder: the flat state.bin input
// and the directory to write lane artifacts (bucket index, stem index,
// hint table) into.
type LaneBuilderConfig struct {
	StatePath  string
	OutputDir  string
	MasterSeed string
}

// LoadLaneBuilderConfig reads cmd/lane-builder's environment.
func LoadLaneBuilderConfig() LaneBuilderConfig {
	return LaneBuilderConfig{
		StatePath:  Env("STATEPIR_STATE_PATH", "STATE_PATH"),
		OutputDir:  Env("STATEPIR_OUTPUT_DIR", "OUTPUT_DIR"),
		MasterSeed: Env("STATEPIR_MASTER_SEED", "MASTER_SEED"),
	}
}

// ClientConfig configures cmd/pir-client: which server to query and where
// its local hint store lives.
type ClientConfig struct {
	ServerURL string
	HintPath  string
	LaneName  string
}

// LoadClientConfig reads cmd/pir-client's environment.
func LoadClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL: Env("STATEPIR_CLIENT_SERVER_URL", "SERVER_URL"),
		HintPath:  Env("STATEPIR_CLIENT_HINT_PATH", "HINT_PATH"),
		LaneName:  Env("STATEPIR_CLIENT_LANE", "LANE"),
	}
}
