package block

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
)

// Structural errors. These describe blocks that cannot even be evaluated by
// consensus rules and are used to reject malformed gossip payloads.
var (
	ErrEmptyHash         = errors.New("block hash is empty")
	ErrBadHashEncoding   = errors.New("block hash is not a hex-encoded digest")
	ErrEmptyPreviousHash = errors.New("block previous hash is empty")
)

// Validate checks that the block is structurally complete. It does NOT check
// linkage, proof-of-work or hash integrity (see consensus.Validator).
func (b Block) Validate() error {
	if b.Hash == "" {
		return ErrEmptyHash
	}
	raw, err := crypto.DecodeHash(b.Hash)
	if err != nil || len(raw) != crypto.DigestSize {
		return fmt.Errorf("%w: %q", ErrBadHashEncoding, b.ShortHash())
	}
	if b.PreviousHash == "" {
		return ErrEmptyPreviousHash
	}
	return nil
}
