// Package miner implements block production for the ledger.
package miner

import (
	"context"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// Miner produces new blocks on top of a tip snapshot. It keeps no chain
// state of its own.
type Miner struct {
	engine consensus.Engine
	now    func() time.Time
}

// New creates a new block producer.
func New(engine consensus.Engine) *Miner {
	return &Miner{engine: engine, now: time.Now}
}

// ProduceBlock builds and seals a successor of tip using the current time.
func (m *Miner) ProduceBlock(tip block.Block, data string) (block.Block, error) {
	return m.ProduceBlockCtx(context.Background(), tip, data)
}

// ProduceBlockCtx builds and seals a successor of tip with cancellation
// support. When ctx is cancelled, the nonce search stops and the error
// wraps ctx.Err().
func (m *Miner) ProduceBlockCtx(ctx context.Context, tip block.Block, data string) (block.Block, error) {
	return m.ProduceBlockAt(ctx, tip, data, m.now().Unix())
}

// ProduceBlockAt builds and seals a successor of tip with the given
// timestamp.
func (m *Miner) ProduceBlockAt(ctx context.Context, tip block.Block, data string, timestamp int64) (block.Block, error) {
	id := tip.ID + 1
	nonce, hash, err := m.engine.Mine(ctx, id, timestamp, tip.Hash, data)
	if err != nil {
		return block.Block{}, fmt.Errorf("mine block %d: %w", id, err)
	}
	return block.Block{
		ID:           id,
		Hash:         hash,
		PreviousHash: tip.Hash,
		Timestamp:    timestamp,
		Data:         data,
		Nonce:        nonce,
	}, nil
}
