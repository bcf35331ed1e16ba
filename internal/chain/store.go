package chain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// Key prefixes and state keys for the block store.
var (
	prefixBlock = []byte("b/")    // b/<id(8)> -> block JSON
	keyLength   = []byte("s/len") // number of blocks, uint64 big-endian
)

// BlockStore persists the local chain to a storage.DB. Blocks are indexed by
// position; the stored length marks which of them belong to the chain.
type BlockStore struct {
	db storage.DB
}

// NewBlockStore creates a block store backed by the given database.
func NewBlockStore(db storage.DB) *BlockStore {
	return &BlockStore{db: db}
}

// Load returns the stored chain, or nil when nothing has been stored yet.
func (bs *BlockStore) Load() ([]block.Block, error) {
	n, err := bs.length()
	if err != nil {
		return nil, err
	}
	blocks := make([]block.Block, 0, n)
	for i := uint64(0); i < n; i++ {
		data, err := bs.db.Get(blockKey(i))
		if err != nil {
			return nil, fmt.Errorf("block %d get: %w", i, err)
		}
		var blk block.Block
		if err := json.Unmarshal(data, &blk); err != nil {
			return nil, fmt.Errorf("block %d unmarshal: %w", i, err)
		}
		blocks = append(blocks, blk)
	}
	return blocks, nil
}

// Append stores blk at its position and extends the stored length past it,
// in one batch.
func (bs *BlockStore) Append(blk block.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("block marshal: %w", err)
	}
	b := storage.NewBatch(bs.db)
	if err := b.Put(blockKey(blk.ID), data); err != nil {
		return fmt.Errorf("block put: %w", err)
	}
	if err := b.Put(keyLength, encodeLength(blk.ID+1)); err != nil {
		return fmt.Errorf("length put: %w", err)
	}
	return b.Commit()
}

// PutAll replaces the stored chain with blocks in one batch, deleting any
// stored blocks past the new length.
func (bs *BlockStore) PutAll(blocks []block.Block) error {
	old, err := bs.length()
	if err != nil {
		return err
	}

	b := storage.NewBatch(bs.db)
	for i, blk := range blocks {
		data, err := json.Marshal(blk)
		if err != nil {
			return fmt.Errorf("block %d marshal: %w", i, err)
		}
		if err := b.Put(blockKey(uint64(i)), data); err != nil {
			return fmt.Errorf("block %d put: %w", i, err)
		}
	}
	for i := uint64(len(blocks)); i < old; i++ {
		if err := b.Delete(blockKey(i)); err != nil {
			return fmt.Errorf("block %d delete: %w", i, err)
		}
	}
	if err := b.Put(keyLength, encodeLength(uint64(len(blocks)))); err != nil {
		return fmt.Errorf("length put: %w", err)
	}
	return b.Commit()
}

func (bs *BlockStore) length() (uint64, error) {
	data, err := bs.db.Get(keyLength)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("length get: %w", err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("length record has %d bytes, want 8", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func blockKey(id uint64) []byte {
	key := make([]byte, len(prefixBlock)+8)
	copy(key, prefixBlock)
	binary.BigEndian.PutUint64(key[len(prefixBlock):], id)
	return key
}

func encodeLength(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}
