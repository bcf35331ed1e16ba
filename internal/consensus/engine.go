// Package consensus implements proof-of-work, block and chain validation,
// and fork choice for the ledger.
package consensus

import "context"

// Engine produces and checks proof-of-work for block hashes.
type Engine interface {
	// MeetsTarget reports whether the hex-encoded hash satisfies the
	// difficulty prefix.
	MeetsTarget(hashHex string) bool
	// Mine searches for a nonce whose block digest meets the target.
	Mine(ctx context.Context, id uint64, timestamp int64, previousHash, data string) (uint64, string, error)
}
