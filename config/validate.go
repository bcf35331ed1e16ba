package config

import (
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.P2P.ListenAddr != "" && net.ParseIP(cfg.P2P.ListenAddr) == nil {
		return fmt.Errorf("p2p.listen %q is not an IP address", cfg.P2P.ListenAddr)
	}
	if cfg.P2P.MaxPeers < 0 {
		return fmt.Errorf("p2p.maxpeers must not be negative")
	}
	for i, s := range cfg.P2P.Seeds {
		if _, err := ma.NewMultiaddr(s); err != nil {
			return fmt.Errorf("p2p.seeds[%d] %q: %w", i, s, err)
		}
	}
	if cfg.Mining.Threads < 1 {
		return fmt.Errorf("mining.threads must be at least 1")
	}
	switch cfg.Identity.KeyType {
	case KeyTypeEd25519, KeyTypeSecp256k1:
	default:
		return fmt.Errorf("identity.keytype must be %q or %q", KeyTypeEd25519, KeyTypeSecp256k1)
	}
	if cfg.Sync.InitDelay < 0 {
		return fmt.Errorf("sync.initdelay must not be negative")
	}
	if cfg.Consensus.Difficulty != "" {
		if err := ValidateDifficultyPrefix(cfg.Consensus.Difficulty); err != nil {
			return fmt.Errorf("consensus.difficulty: %w", err)
		}
	}
	if cfg.Log.MaxSizeKB < 0 || cfg.Log.MaxRolls < 0 {
		return fmt.Errorf("log.maxsize and log.maxrolls must not be negative")
	}
	return nil
}
