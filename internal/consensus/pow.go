package consensus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
)

// PoW errors.
var (
	ErrInsufficientWork = errors.New("hash does not meet difficulty prefix")
	ErrBadPrefix        = errors.New("difficulty prefix must be a non-empty run of '0'")
	ErrNonceExhausted   = errors.New("nonce space exhausted")
)

// PoW implements the leading-zero-bits proof of work. A hash meets the
// target when the zero-padded binary rendering of its digest starts with
// Prefix. PoW holds no mutable state and is safe for concurrent use.
type PoW struct {
	Prefix string

	// Threads controls the number of parallel mining goroutines.
	// 0 or 1 = single-threaded (default). Each goroutine searches a
	// strided partition of the nonce space.
	Threads int
}

// NewPoW creates a new PoW engine for the given difficulty prefix.
func NewPoW(prefix string) (*PoW, error) {
	if prefix == "" || len(prefix) > crypto.DigestSize*8 || strings.Trim(prefix, "0") != "" {
		return nil, fmt.Errorf("%w: %q", ErrBadPrefix, prefix)
	}
	return &PoW{Prefix: prefix}, nil
}

// MeetsTarget reports whether the hex-encoded hash satisfies the prefix.
// A hash that does not decode never meets it.
func (p *PoW) MeetsTarget(hashHex string) bool {
	digest, err := crypto.DecodeHash(hashHex)
	if err != nil {
		return false
	}
	return crypto.MeetsDifficulty(digest, p.Prefix)
}

// Mine iterates the nonce from zero until the block digest meets the prefix
// and returns the winning nonce with its hex hash. There is no iteration
// bound; mining ends only on success, ctx cancellation or nonce-space
// exhaustion. With Threads > 1 any winning nonce may be returned.
func (p *PoW) Mine(ctx context.Context, id uint64, timestamp int64, previousHash, data string) (uint64, string, error) {
	threads := p.Threads
	if threads <= 1 {
		return p.mineSingle(ctx, id, timestamp, previousHash, data)
	}
	return p.mineParallel(ctx, id, timestamp, previousHash, data, threads)
}

// mineSingle mines with a single goroutine.
func (p *PoW) mineSingle(ctx context.Context, id uint64, timestamp int64, previousHash, data string) (uint64, string, error) {
	for nonce := uint64(0); ; nonce++ {
		// Check cancellation every 4096 iterations.
		if nonce&0xFFF == 0 {
			select {
			case <-ctx.Done():
				return 0, "", ctx.Err()
			default:
			}
		}

		digest := crypto.Digest(id, timestamp, previousHash, data, nonce)
		if crypto.MeetsDifficulty(digest, p.Prefix) {
			return nonce, crypto.HashHex(digest), nil
		}
		if nonce == ^uint64(0) {
			return 0, "", ErrNonceExhausted
		}
	}
}

// mineParallel mines with multiple goroutines, each searching a strided
// partition of the nonce space (goroutine i starts at nonce=i, step=threads).
func (p *PoW) mineParallel(ctx context.Context, id uint64, timestamp int64, previousHash, data string, threads int) (uint64, string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		nonce uint64
		hash  string
		err   error
	}
	found := make(chan result, 1)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		startNonce := uint64(i)
		stride := uint64(threads)
		go func() {
			defer wg.Done()
			for nonce, n := startNonce, uint64(0); ; nonce, n = nonce+stride, n+1 {
				if n&0xFFF == 0 {
					select {
					case <-ctx.Done():
						return
					default:
					}
				}

				digest := crypto.Digest(id, timestamp, previousHash, data, nonce)
				if crypto.MeetsDifficulty(digest, p.Prefix) {
					select {
					case found <- result{nonce: nonce, hash: crypto.HashHex(digest)}:
					default:
					}
					cancel()
					return
				}

				// Overflow: would wrap around past max uint64.
				if nonce > ^uint64(0)-stride {
					return
				}
			}
		}()
	}

	// Wait in background so goroutines are cleaned up.
	go func() {
		wg.Wait()
		close(found)
	}()

	select {
	case r, ok := <-found:
		if !ok {
			if err := ctx.Err(); err != nil {
				return 0, "", err
			}
			return 0, "", ErrNonceExhausted
		}
		return r.nonce, r.hash, r.err
	case <-ctx.Done():
		// A winner may have cancelled ctx just before sending.
		select {
		case r, ok := <-found:
			if ok {
				return r.nonce, r.hash, r.err
			}
		default:
		}
		return 0, "", ctx.Err()
	}
}
