// Package crypto implements the hashing and signing primitives consensus
// code depends on: SHA-256 (with an exposed midstate for miner reuse),
// RIPEMD-160, and ECDSA over secp256k1.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"thunderbolt.dev/node/internal/sha256x"
)

// Hash is a 32-byte digest. Equality is bitwise; String renders lower-hex.
type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// SHA256 returns the single SHA-256 digest of b.
func SHA256(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// DoubleSHA256 returns SHA-256(SHA-256(b)). Block and transaction
// identifiers use single SHA256 instead; DoubleSHA256 is reserved for the
// address checksum and the transaction signing digest.
func DoubleSHA256(b []byte) Hash {
	first := sha256.Sum256(b)
	return Hash(sha256.Sum256(first[:]))
}

// Midstate is the SHA-256 compression state after processing some whole
// number of 64-byte blocks. A miner feeds the first 64 bytes of the 80-byte
// block header once via FeedBlock, keeps the resulting Midstate, and then
// reuses it across nonce iterations by calling FinishAndExtract with only the
// remaining 16 (nonce-bearing) header bytes.
type Midstate struct {
	state [8]uint32
}

// NewMidstate returns the SHA-256 initial state, before any block has been
// processed.
func NewMidstate() Midstate {
	return Midstate{state: sha256x.IV}
}

// FeedBlock advances the midstate by one 64-byte compression round.
func (m Midstate) FeedBlock(block [64]byte) Midstate {
	return Midstate{state: sha256x.Compress(m.state, block)}
}

// FinishAndExtract pads the remaining tail bytes (which together with every
// block already fed via FeedBlock must equal totalLen bytes of message) and
// returns the final digest.
func (m Midstate) FinishAndExtract(tail []byte, totalLen uint64) Hash {
	padded := append(append([]byte(nil), tail...), sha256x.Pad(totalLen)...)
	state := m.state
	for off := 0; off < len(padded); off += 64 {
		var blk [64]byte
		copy(blk[:], padded[off:off+64])
		state = sha256x.Compress(state, blk)
	}
	var out Hash
	for i, word := range state {
		out[i*4] = byte(word >> 24)
		out[i*4+1] = byte(word >> 16)
		out[i*4+2] = byte(word >> 8)
		out[i*4+3] = byte(word)
	}
	return out
}
