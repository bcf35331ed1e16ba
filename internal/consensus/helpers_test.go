package consensus

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

func testGenesis() block.Block {
	return config.DefaultGenesis().Block
}

func testPoW(t *testing.T) *PoW {
	t.Helper()
	pow, err := NewPoW(config.DefaultDifficultyPrefix)
	if err != nil {
		t.Fatalf("NewPoW: %v", err)
	}
	return pow
}

// mineNext mines a valid successor of prev.
func mineNext(t *testing.T, pow *PoW, prev block.Block, data string) block.Block {
	t.Helper()
	id := prev.ID + 1
	ts := prev.Timestamp + 1
	nonce, hash, err := pow.Mine(context.Background(), id, ts, prev.Hash, data)
	if err != nil {
		t.Fatalf("Mine(%d): %v", id, err)
	}
	return block.Block{ID: id, Hash: hash, PreviousHash: prev.Hash, Timestamp: ts, Data: data, Nonce: nonce}
}

// buildChain returns genesis followed by n mined blocks whose data is tagged
// with tag, so chains built with different tags diverge after genesis.
func buildChain(t *testing.T, pow *PoW, n int, tag string) []block.Block {
	t.Helper()
	blocks := []block.Block{testGenesis()}
	for i := 0; i < n; i++ {
		blocks = append(blocks, mineNext(t, pow, blocks[len(blocks)-1], fmt.Sprintf("%s-%d", tag, i+1)))
	}
	return blocks
}

// insufficientHash is a well-formed digest whose first bit is set.
var insufficientHash = "f" + strings.Repeat("0", 63)
