// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: Defined in genesis, must match across all peers
//   - Node settings: Runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking convergence.
type Config struct {
	// Core
	DataDir     string `conf:"datadir"`
	GenesisFile string `conf:"genesis"` // Optional genesis JSON; built-in genesis when empty.

	// P2P networking
	P2P P2PConfig

	// RPC server
	RPC RPCConfig

	// Block production
	Mining MiningConfig

	// Per-run peer identity
	Identity IdentityConfig

	// Local chain persistence
	Storage StorageConfig

	// Startup synchronisation
	Sync SyncConfig

	// Deployment overrides of protocol rules
	Consensus ConsensusConfig

	// Logging
	Log LogConfig
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
	NoDiscover bool     `conf:"p2p.nodiscover"` // Disable mDNS and DHT discovery.
	DHT        bool     `conf:"p2p.dht"`        // Enable Kademlia DHT discovery.
	DHTServer  bool     `conf:"p2p.dhtserver"`  // Run DHT in server mode (for seeds).
	Rendezvous string   `conf:"p2p.rendezvous"` // mDNS / DHT rendezvous string.
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// MiningConfig holds block production settings.
type MiningConfig struct {
	Threads int `conf:"mining.threads"` // Nonce search goroutines.
}

// Identity key types.
const (
	KeyTypeEd25519   = "ed25519"
	KeyTypeSecp256k1 = "secp256k1"
)

// IdentityConfig selects the key type of the per-run peer identity.
// The identity is generated at startup and never persisted.
type IdentityConfig struct {
	KeyType string `conf:"identity.keytype"`
}

// StorageConfig holds local chain persistence settings.
type StorageConfig struct {
	InMemory bool `conf:"storage.inmemory"` // Keep the chain in memory only.
}

// SyncConfig holds startup sync settings.
type SyncConfig struct {
	// InitDelay is how long after start the node broadcasts its first
	// chain request, giving discovery time to find peers.
	InitDelay time.Duration `conf:"sync.initdelay"`
}

// ConsensusConfig overrides genesis protocol rules for a deployment.
type ConsensusConfig struct {
	Difficulty string `conf:"consensus.difficulty"` // Leading-zero prefix; genesis value when empty.
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string `conf:"log.level"`
	File      string `conf:"log.file"`
	JSON      bool   `conf:"log.json"`
	MaxSizeKB int64  `conf:"log.maxsize"`  // Rotate the log file after this many KB.
	MaxRolls  int    `conf:"log.maxrolls"` // Rotated files kept.
}

// Genesis returns the genesis configuration for this node: the file named by
// GenesisFile or the built-in default, with the consensus.difficulty override
// applied.
func (c *Config) Genesis() (*Genesis, error) {
	g := DefaultGenesis()
	if c.GenesisFile != "" {
		loaded, err := LoadGenesis(c.GenesisFile)
		if err != nil {
			return nil, err
		}
		g = loaded
	}
	if c.Consensus.Difficulty != "" {
		g.DifficultyPrefix = c.Consensus.Difficulty
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet-ledger
//	macOS:   ~/Library/Application Support/KlingnetLedger
//	Windows: %APPDATA%\KlingnetLedger
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-ledger"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetLedger")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingnetLedger")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingnetLedger")
	default:
		return filepath.Join(home, ".klingnet-ledger")
	}
}

// DBDir returns the database directory holding the chain and peer records.
func (c *Config) DBDir() string {
	return filepath.Join(c.DataDir, "db")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "ledger.conf")
}
