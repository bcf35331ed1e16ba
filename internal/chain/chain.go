// Package chain holds the node's local chain and keeps it persisted.
package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// Chain errors.
var (
	ErrEmptyReplacement = errors.New("replacement chain is empty")
	ErrForeignGenesis   = errors.New("replacement chain has a different genesis block")
)

// Chain is the ordered local chain. Index 0 is always the designated genesis
// block and every later block validates against its predecessor.
type Chain struct {
	mu        sync.RWMutex
	blocks    []block.Block
	store     *BlockStore
	validator *consensus.Validator
}

// New creates a chain rooted at validator's genesis block, restoring the
// chain persisted in db. A stored chain that is missing, rooted elsewhere or
// no longer valid is discarded and the chain restarts from genesis.
func New(validator *consensus.Validator, db storage.DB) (*Chain, error) {
	if validator == nil {
		return nil, fmt.Errorf("validator is nil")
	}
	if db == nil {
		return nil, fmt.Errorf("storage db is nil")
	}

	c := &Chain{
		store:     NewBlockStore(db),
		validator: validator,
	}
	genesis := validator.Genesis()

	stored, err := c.store.Load()
	if err != nil {
		log.Chain.Warn().Err(err).Msg("Stored chain unreadable, starting from genesis")
		stored = nil
	}

	switch {
	case len(stored) == 1 && stored[0] == genesis:
		c.blocks = stored
		return c, nil
	case len(stored) > 1:
		_, verr := validator.ValidateChain(stored)
		if verr == nil {
			c.blocks = stored
			log.Chain.Info().Int("length", len(stored)).Str("tip", stored[len(stored)-1].ShortHash()).Msg("Restored chain")
			return c, nil
		}
		log.Chain.Warn().Err(verr).Int("length", len(stored)).Msg("Stored chain invalid, starting from genesis")
	}

	c.blocks = []block.Block{genesis}
	if err := c.store.PutAll(c.blocks); err != nil {
		return nil, fmt.Errorf("store genesis: %w", err)
	}
	return c, nil
}

// Len returns the number of blocks, genesis included.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Tip returns the last block.
func (c *Chain) Tip() block.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1]
}

// Genesis returns the first block.
func (c *Chain) Genesis() block.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[0]
}

// Blocks returns a copy of the chain.
func (c *Chain) Blocks() []block.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return block.Clone(c.blocks)
}

// Append validates blk against the tip, persists it and extends the chain.
// On any error the chain is unchanged.
func (c *Chain) Append(blk block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.blocks[len(c.blocks)-1]
	if err := c.validator.ValidateBlock(blk, tip); err != nil {
		return err
	}
	if err := c.store.Append(blk); err != nil {
		return fmt.Errorf("persist block %d: %w", blk.ID, err)
	}
	c.blocks = append(c.blocks, blk)

	log.Chain.Debug().Uint64("height", blk.ID).Str("hash", blk.ShortHash()).Msg("Block appended")
	return nil
}

// Replace swaps the whole chain for blocks, which the caller has already
// chosen by fork choice. The replacement is persisted in one batch before it
// becomes visible.
func (c *Chain) Replace(blocks []block.Block) error {
	if len(blocks) == 0 {
		return ErrEmptyReplacement
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if blocks[0] != c.blocks[0] {
		return fmt.Errorf("%w: %s", ErrForeignGenesis, blocks[0].ShortHash())
	}
	next := block.Clone(blocks)
	if err := c.store.PutAll(next); err != nil {
		return fmt.Errorf("persist chain: %w", err)
	}
	oldLen := len(c.blocks)
	c.blocks = next

	tip := next[len(next)-1]
	log.Chain.Info().
		Int("old_length", oldLen).
		Int("new_length", len(next)).
		Str("tip", tip.ShortHash()).
		Msg("Local chain replaced")
	return nil
}
