package crypto

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func TestSHA256DistinctFromDoubleSHA256(t *testing.T) {
	msg := []byte("thunderbolt")
	single := SHA256(msg)
	double := DoubleSHA256(msg)
	if single == double {
		t.Fatalf("single and double SHA-256 collided")
	}
	if DoubleSHA256(msg) != SHA256(SHA256(msg)[:]) {
		t.Fatalf("DoubleSHA256 does not match SHA256(SHA256(x))")
	}
}

func TestMidstateMatchesDirectHash(t *testing.T) {
	var header [80]byte
	for i := range header {
		header[i] = byte(i)
	}
	direct := SHA256(header[:])

	var first [64]byte
	copy(first[:], header[:64])
	mid := NewMidstate().FeedBlock(first)
	got := mid.FinishAndExtract(header[64:], uint64(len(header)))
	if got != direct {
		t.Fatalf("midstate digest = %x, want %x", got, direct)
	}
}

func TestHash160Length(t *testing.T) {
	h := Hash160([]byte("pubkey"))
	if len(h) != 20 {
		t.Fatalf("Hash160 len = %d, want 20", len(h))
	}
}

func TestHashStringLowerHex(t *testing.T) {
	var h Hash
	h[0] = 0xab
	h[31] = 0xcd
	got := h.String()
	if len(got) != 64 {
		t.Fatalf("String() len = %d, want 64", len(got))
	}
	if got[:2] != "ab" || got[62:] != "cd" {
		t.Fatalf("String() = %q, unexpected", got)
	}
}

func TestSignVerifySingleRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	pubkey := priv.PubKey().SerializeCompressed()
	digest := SHA256([]byte("message"))

	sig := Sign(priv, digest)
	if len(sig) == 0 || len(sig) > MaxSignatureBytes {
		t.Fatalf("signature length %d out of range", len(sig))
	}
	if !VerifySingle(pubkey, digest, sig) {
		t.Fatalf("expected signature to verify")
	}
	if VerifySingle(pubkey, SHA256([]byte("different")), sig) {
		t.Fatalf("expected signature over different digest to fail")
	}
}

func TestVerifyMultiRequiresThreshold(t *testing.T) {
	var privs []*btcec.PrivateKey
	var pubkeys [][]byte
	for i := 0; i < 3; i++ {
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			t.Fatalf("NewPrivateKey: %v", err)
		}
		privs = append(privs, priv)
		pubkeys = append(pubkeys, priv.PubKey().SerializeCompressed())
	}
	digest := SHA256([]byte("multisig message"))

	sigs := map[uint8][]byte{
		0: Sign(privs[0], digest),
		2: Sign(privs[2], digest),
	}
	if !VerifyMulti(2, 3, pubkeys, sigs, digest) {
		t.Fatalf("expected 2-of-3 to verify with signatures at 0 and 2")
	}
	delete(sigs, 2)
	if VerifyMulti(2, 3, pubkeys, sigs, digest) {
		t.Fatalf("expected single signature to fail a 2-of-3 threshold")
	}
}

func TestAddressRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	pubkey := priv.PubKey().SerializeCompressed()
	addr := NewSingleSigAddress(AddressVersionSingleSigTestNet, pubkey)

	encoded := addr.String()
	decoded, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if decoded.Version != addr.Version || !bytes.Equal(decoded.Hash160[:], addr.Hash160[:]) {
		t.Fatalf("round-tripped address mismatch: got %+v, want %+v", decoded, addr)
	}
}

func TestParseAddressRejectsBadChecksum(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	addr := NewSingleSigAddress(AddressVersionSingleSigTestNet, priv.PubKey().SerializeCompressed())
	encoded := []byte(addr.String())
	encoded[len(encoded)-1]++
	if _, err := ParseAddress(string(encoded)); err == nil {
		t.Fatalf("expected checksum failure")
	}
}
