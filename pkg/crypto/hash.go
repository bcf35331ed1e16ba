// Package crypto provides the hashing primitives used by the ledger.
package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/zeebo/blake3"
)

// DigestSize is the length of a block digest in bytes.
const DigestSize = sha256.Size

// hashInput is the canonical hash preimage of a block.
// Field order is part of the protocol: every peer must serialize identically.
type hashInput struct {
	ID           uint64 `json:"id"`
	PreviousHash string `json:"previous_hash"`
	Data         string `json:"data"`
	Timestamp    int64  `json:"timestamp"`
	Nonce        uint64 `json:"nonce"`
}

// CanonicalBytes returns the canonical JSON encoding of the block fields
// covered by the block hash. HTML escaping is disabled and the trailing
// newline added by json.Encoder is stripped.
func CanonicalBytes(id uint64, timestamp int64, previousHash, data string, nonce uint64) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a struct of strings and integers cannot fail.
	_ = enc.Encode(hashInput{
		ID:           id,
		PreviousHash: previousHash,
		Data:         data,
		Timestamp:    timestamp,
		Nonce:        nonce,
	})
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
}

// Digest computes the SHA-256 digest of the canonical block encoding.
func Digest(id uint64, timestamp int64, previousHash, data string, nonce uint64) []byte {
	sum := sha256.Sum256(CanonicalBytes(id, timestamp, previousHash, data, nonce))
	return sum[:]
}

// HashHex returns the lower-case hex encoding of a digest.
func HashHex(digest []byte) string {
	return hex.EncodeToString(digest)
}

// DecodeHash decodes a hex-encoded block hash back into digest bytes.
func DecodeHash(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// DifficultyString renders every byte as 8 zero-padded binary digits and
// concatenates them, so leading zero bits of each byte are preserved.
func DifficultyString(digest []byte) string {
	var sb strings.Builder
	sb.Grow(len(digest) * 8)
	for _, b := range digest {
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<uint(bit)) != 0 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
	}
	return sb.String()
}

// MeetsDifficulty reports whether the binary rendering of digest starts
// with prefix.
func MeetsDifficulty(digest []byte, prefix string) bool {
	// Only the first len(prefix) bits matter; avoid rendering all 256.
	need := (len(prefix) + 7) / 8
	if need > len(digest) {
		return false
	}
	return strings.HasPrefix(DifficultyString(digest[:need]), prefix)
}

// MessageID returns a BLAKE3-256 identifier for a gossip message preimage.
func MessageID(data []byte) string {
	sum := blake3.Sum256(data)
	return string(sum[:])
}
