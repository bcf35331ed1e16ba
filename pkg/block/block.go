// Package block defines the block type shared by every ledger component.
package block

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
)

// GenesisPreviousHash is the sentinel previous hash carried by the genesis block.
const GenesisPreviousHash = "genesis"

// Block is a single ledger entry. Blocks are values and are never mutated
// after construction; chains hold and exchange copies.
type Block struct {
	ID           uint64 `json:"id"`
	Hash         string `json:"hash"`
	PreviousHash string `json:"previous_hash"`
	Timestamp    int64  `json:"timestamp"`
	Data         string `json:"data"`
	Nonce        uint64 `json:"nonce"`
}

// Digest recomputes the block digest from its fields (Hash is excluded).
func (b Block) Digest() []byte {
	return crypto.Digest(b.ID, b.Timestamp, b.PreviousHash, b.Data, b.Nonce)
}

// ComputeHash returns the hex-encoded digest of the block fields.
func (b Block) ComputeHash() string {
	return crypto.HashHex(b.Digest())
}

// IsGenesis reports whether b carries the genesis sentinel.
func (b Block) IsGenesis() bool {
	return b.ID == 0 && b.PreviousHash == GenesisPreviousHash
}

// ShortHash returns the first 16 hex characters of the hash, for logging.
func (b Block) ShortHash() string {
	if len(b.Hash) <= 16 {
		return b.Hash
	}
	return b.Hash[:16]
}

func (b Block) String() string {
	return fmt.Sprintf("block %d %s", b.ID, b.ShortHash())
}

// Clone returns a copy of blocks that shares no backing array with the input.
func Clone(blocks []Block) []Block {
	if blocks == nil {
		return nil
	}
	out := make([]Block, len(blocks))
	copy(out, blocks)
	return out
}
