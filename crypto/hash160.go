package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for address hashing, matches daglabs-btcd/util/address.go
)

// Hash160 returns RIPEMD160(SHA256(b)), used to derive addresses from public
// keys.
func Hash160(b []byte) [20]byte {
	sum := sha256.Sum256(b)
	h := ripemd160.New()
	_, _ = h.Write(sum[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}
