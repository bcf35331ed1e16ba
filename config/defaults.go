package config

import "time"

// Default ports.
const (
	DefaultP2PPort = 30313
	DefaultRPCPort = 8555
)

// DefaultRendezvous is the mDNS service tag peers of one deployment share.
const DefaultRendezvous = "klingnet-ledger"

// Default returns the default node configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		P2P: P2PConfig{
			Enabled:    true,
			ListenAddr: "0.0.0.0",
			Port:       DefaultP2PPort,
			MaxPeers:   50,
			// Seeds are optional; on a LAN mDNS finds peers on its own.
			// Format: "/ip4/203.0.113.1/tcp/30313/p2p/12D3KooW..."
			Seeds:      []string{},
			Rendezvous: DefaultRendezvous,
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       DefaultRPCPort,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Mining: MiningConfig{
			Threads: 1,
		},
		Identity: IdentityConfig{
			KeyType: KeyTypeEd25519,
		},
		Sync: SyncConfig{
			InitDelay: time.Second,
		},
		Log: LogConfig{
			Level:     "info",
			JSON:      false,
			MaxSizeKB: 10 * 1024,
			MaxRolls:  3,
		},
	}
}
