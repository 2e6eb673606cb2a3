package crypto

import "fmt"

// Address version bytes. A single-sig address pays to the RIPEMD160(SHA256)
// hash of a compressed public key; a multisig address pays to the hash of
// the MultiSig locking parameters (spec.md §3 and §4.2's hash-for-lookup).
const (
	AddressVersionSingleSigMainNet byte = 0x00
	AddressVersionMultiSigMainNet  byte = 0x05
	AddressVersionSingleSigTestNet byte = 0x6f
	AddressVersionMultiSigTestNet  byte = 0xc4
)

// Address is a base58check-encoded version byte plus a 20-byte RIPEMD160(
// SHA256(...)) hash, per spec.md §3.
type Address struct {
	Version byte
	Hash160 [20]byte
}

// NewSingleSigAddress derives the address paying to a compressed public key.
func NewSingleSigAddress(version byte, compressedPubkey []byte) Address {
	return Address{Version: version, Hash160: Hash160(compressedPubkey)}
}

// NewAddressFromHash160 wraps a precomputed 20-byte hash (e.g. a MultiSig
// locking parameter set's chain.LockingParams.AddressHash160) with version.
func NewAddressFromHash160(version byte, hash160 [20]byte) Address {
	return Address{Version: version, Hash160: hash160}
}

// String renders the address in base58check form.
func (a Address) String() string {
	return base58CheckEncode(a.Version, a.Hash160[:])
}

// ParseAddress decodes a base58check address string.
func ParseAddress(s string) (Address, error) {
	version, payload, ok := base58CheckDecode(s)
	if !ok {
		return Address{}, fmt.Errorf("crypto: invalid address %q", s)
	}
	if len(payload) != 20 {
		return Address{}, fmt.Errorf("crypto: invalid address payload length %d", len(payload))
	}
	var a Address
	a.Version = version
	copy(a.Hash160[:], payload)
	return a, nil
}
