package crypto

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// MaxSignatureBytes bounds the DER-encoded ECDSA signature size (spec.md §3:
// "signature (<=72 bytes, length-prefixed)").
const MaxSignatureBytes = 72

// CompressedPubkeyBytes is the fixed size of a compressed secp256k1 public
// key (spec.md §3).
const CompressedPubkeyBytes = 33

// Sign produces a DER-encoded ECDSA signature over digest using priv. The
// result is always <= MaxSignatureBytes.
func Sign(priv *btcec.PrivateKey, digest Hash) []byte {
	sig := ecdsa.Sign(priv, digest[:])
	return sig.Serialize()
}

// VerifySingle verifies a single ECDSA signature against a compressed
// public key and a digest (spec.md §4.2).
func VerifySingle(pubkey []byte, digest Hash, sig []byte) bool {
	if len(pubkey) != CompressedPubkeyBytes || len(sig) == 0 || len(sig) > MaxSignatureBytes {
		return false
	}
	pub, err := btcec.ParsePubKey(pubkey)
	if err != nil {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(digest[:], pub)
}

// VerifyMulti implements spec.md §4.2's verifyMulti: it accepts iff at
// least `required` distinct signatures validate against distinct pubkeys
// from the pubkeys list, with each signature positioned at an index <=
// total-1. sigMap maps a pubkey-list index to the signature claimed for
// that slot.
func VerifyMulti(required uint8, total uint8, pubkeys [][]byte, sigMap map[uint8][]byte, digest Hash) bool {
	if int(total) != len(pubkeys) {
		return false
	}
	valid := 0
	for idx, sig := range sigMap {
		if idx > total-1 || int(idx) >= len(pubkeys) {
			return false
		}
		if VerifySingle(pubkeys[idx], digest, sig) {
			valid++
		}
	}
	return valid >= int(required)
}
