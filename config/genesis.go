package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// =============================================================================
// Protocol Rules (immutable, defined in genesis)
// These MUST match across all nodes or peers will never converge.
// =============================================================================

// DefaultDifficultyPrefix is the required leading pattern of a block hash's
// binary rendering: two leading zero bits.
const DefaultDifficultyPrefix = "00"

// MaxDifficultyBits caps the difficulty prefix length. A 256-bit digest
// cannot satisfy a longer prefix.
const MaxDifficultyBits = 256

// Genesis holds the genesis block and the protocol rules agreed on by every
// peer before launch. The genesis (nonce, hash) pair is a deployment
// constant; it is never mined at runtime.
type Genesis struct {
	ChainName        string      `json:"chain_name"`
	DifficultyPrefix string      `json:"difficulty_prefix"`
	Block            block.Block `json:"block"`
}

// DefaultGenesis returns the built-in genesis configuration.
func DefaultGenesis() *Genesis {
	return &Genesis{
		ChainName:        "Klingnet Ledger",
		DifficultyPrefix: DefaultDifficultyPrefix,
		Block: block.Block{
			ID:           0,
			Hash:         "0c00139b5d2ed9569ce4bc89854250565b80883503e9cc06d9f446ea518ed01d",
			PreviousHash: block.GenesisPreviousHash,
			Timestamp:    1704067200, // 2024-01-01
			Data:         "genesis!",
			Nonce:        2,
		},
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}

// Validate checks that the genesis configuration is usable.
func (g *Genesis) Validate() error {
	if err := ValidateDifficultyPrefix(g.DifficultyPrefix); err != nil {
		return err
	}
	if !g.Block.IsGenesis() {
		return fmt.Errorf("genesis block must have id 0 and previous_hash %q", block.GenesisPreviousHash)
	}
	if err := g.Block.Validate(); err != nil {
		return fmt.Errorf("genesis block: %w", err)
	}
	return nil
}

// Namespace returns a short identifier derived from the genesis hash. Stored
// chain data is kept under this namespace so that a node switched to another
// genesis never loads blocks from the old one.
func (g *Genesis) Namespace() string {
	h := g.Block.Hash
	if len(h) > 16 {
		h = h[:16]
	}
	return h + "/"
}

// ValidateDifficultyPrefix checks that prefix is a non-empty run of '0'
// characters no longer than MaxDifficultyBits.
func ValidateDifficultyPrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("difficulty prefix is empty")
	}
	if len(prefix) > MaxDifficultyBits {
		return fmt.Errorf("difficulty prefix has %d bits, max is %d", len(prefix), MaxDifficultyBits)
	}
	if strings.Trim(prefix, "0") != "" {
		return fmt.Errorf("difficulty prefix %q must contain only '0'", prefix)
	}
	return nil
}
