package consensus

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// Validation errors. ValidateBlock checks rules in the order listed and
// reports only the first failure.
var (
	ErrLinkMismatch    = errors.New("previous hash does not match predecessor hash")
	ErrSequence        = errors.New("block id is not predecessor id + 1")
	ErrHashIntegrity   = errors.New("block hash does not match its contents")
	ErrChainTooShort   = errors.New("chain has no blocks past genesis")
	ErrGenesisMismatch = errors.New("chain is not rooted at the local genesis block")
)

// Validator validates blocks and chains against the proof-of-work engine and
// the designated genesis block. It keeps no state across calls.
type Validator struct {
	engine  Engine
	genesis block.Block
}

// NewValidator creates a validator for chains rooted at genesis.
func NewValidator(engine Engine, genesis block.Block) *Validator {
	return &Validator{engine: engine, genesis: genesis}
}

// Genesis returns the designated genesis block.
func (v *Validator) Genesis() block.Block {
	return v.genesis
}

// ValidateBlock checks candidate as the successor of predecessor: link,
// proof of work, sequence, then hash integrity.
func (v *Validator) ValidateBlock(candidate, predecessor block.Block) error {
	if candidate.PreviousHash != predecessor.Hash {
		return fmt.Errorf("%w: block %d links to %.16s, predecessor is %s",
			ErrLinkMismatch, candidate.ID, candidate.PreviousHash, predecessor.ShortHash())
	}
	if !v.engine.MeetsTarget(candidate.Hash) {
		return fmt.Errorf("%w: block %d hash %s", ErrInsufficientWork, candidate.ID, candidate.ShortHash())
	}
	if candidate.ID != predecessor.ID+1 {
		return fmt.Errorf("%w: got %d after %d", ErrSequence, candidate.ID, predecessor.ID)
	}
	if computed := candidate.ComputeHash(); computed != candidate.Hash {
		return fmt.Errorf("%w: block %d claims %s, computed %.16s",
			ErrHashIntegrity, candidate.ID, candidate.ShortHash(), computed)
	}
	return nil
}

// ValidateChain validates blocks as a complete chain and returns the number
// of validated links (len(blocks) - 1). A chain of genesis alone has nothing
// to validate and is reported as ErrChainTooShort. Any failure yields a
// count of 0.
func (v *Validator) ValidateChain(blocks []block.Block) (int, error) {
	if len(blocks) <= 1 {
		return 0, fmt.Errorf("%w: length %d", ErrChainTooShort, len(blocks))
	}
	if blocks[0] != v.genesis {
		return 0, fmt.Errorf("%w: got %s", ErrGenesisMismatch, blocks[0].ShortHash())
	}
	for i := 1; i < len(blocks); i++ {
		if err := v.ValidateBlock(blocks[i], blocks[i-1]); err != nil {
			return 0, fmt.Errorf("index %d: %w", i, err)
		}
	}
	return len(blocks) - 1, nil
}

// ChainIsValid reports whether blocks form a valid chain, with the number of
// validated links.
func (v *Validator) ChainIsValid(blocks []block.Block) (bool, int) {
	n, err := v.ValidateChain(blocks)
	return err == nil, n
}
