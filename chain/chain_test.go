package chain

import (
	"math/big"
	"testing"

	"thunderbolt.dev/node/crypto"
)

func TestCompactToTargetRoundTripsThroughTargetToCompact(t *testing.T) {
	for _, bits := range []uint32{0x1d00ffff, 0x207fffff, 0x1b0404cb} {
		target := CompactToTarget(bits)
		got := TargetToCompact(target)
		if got != bits {
			t.Fatalf("bits %08x round-tripped to %08x via target %s", bits, got, target)
		}
	}
}

func TestWorkIncreasesAsTargetShrinks(t *testing.T) {
	easy := CompactToTarget(0x207fffff)
	hard := CompactToTarget(0x1d00ffff)
	if Work(hard).Cmp(Work(easy)) <= 0 {
		t.Fatalf("expected a smaller target to imply more work")
	}
}

func TestCumulativeWorkBytesRoundTrip(t *testing.T) {
	work := big.NewInt(123456789)
	bytes := CumulativeWorkBytes(work)
	got := CumulativeWorkToBigInt(bytes)
	if got.Cmp(work) != 0 {
		t.Fatalf("got %s, want %s", got, work)
	}
}

func TestAddWorkAndCompareWork(t *testing.T) {
	zero := CumulativeWorkBytes(big.NewInt(0))
	one := AddWork(zero, big.NewInt(1))
	two := AddWork(one, big.NewInt(1))
	if CompareWork(one, zero) <= 0 {
		t.Fatalf("expected one > zero")
	}
	if CompareWork(two, one) <= 0 {
		t.Fatalf("expected two > one")
	}
	if CompareWork(one, one) != 0 {
		t.Fatalf("expected one == one")
	}
}

func TestExpectedTargetClampsToQuarterAndQuadruple(t *testing.T) {
	bits := uint32(0x1d00ffff)
	// Actual timespan four times shorter than ideal: target should shrink
	// by at most 4x (clamped), not by the full factor.
	tooFast := ExpectedTarget(bits, IdealWindowSeconds/8)
	oldTarget := CompactToTarget(bits)
	newTarget := CompactToTarget(tooFast)
	quarter := new(big.Int).Rsh(oldTarget, 2)
	if newTarget.Cmp(quarter) < 0 {
		t.Fatalf("target shrank past the 4x clamp: %s < %s", newTarget, quarter)
	}

	tooSlow := ExpectedTarget(bits, IdealWindowSeconds*8)
	grown := CompactToTarget(tooSlow)
	quadruple := new(big.Int).Lsh(oldTarget, 2)
	if grown.Cmp(quadruple) > 0 {
		t.Fatalf("target grew past the 4x clamp: %s > %s", grown, quadruple)
	}
}

func TestCheckProofOfWorkAtEasyDifficulty(t *testing.T) {
	h := BlockHeader{TargetDifficulty: 0x207fffff}
	found := false
	for nonce := uint32(0); nonce < 1<<16; nonce++ {
		h.Nonce = nonce
		if CheckProofOfWork(h) {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected to find a satisfying nonce at easy difficulty within 65536 tries")
	}
}

func TestMerkleRootSingleElement(t *testing.T) {
	id := crypto.SHA256([]byte("solo"))
	if got := MerkleRoot([]crypto.Hash{id}); got != id {
		t.Fatalf("single-element merkle root = %x, want %x", got, id)
	}
}

func TestMerkleRootOddCountDuplicatesLast(t *testing.T) {
	a := crypto.SHA256([]byte("a"))
	b := crypto.SHA256([]byte("b"))
	c := crypto.SHA256([]byte("c"))
	got := MerkleRoot([]crypto.Hash{a, b, c})
	want := MerkleRoot([]crypto.Hash{a, b, c, c})
	if got != want {
		t.Fatalf("odd-count root %x does not match explicit duplication %x", got, want)
	}
}

func TestSubsidyHalves(t *testing.T) {
	if Subsidy(0) != 0 {
		t.Fatalf("genesis subsidy = %d, want 0", Subsidy(0))
	}
	if Subsidy(1) != InitialSubsidy {
		t.Fatalf("height 1 subsidy = %d, want %d", Subsidy(1), InitialSubsidy)
	}
	if got := Subsidy(SubsidyHalvingInterval + 1); got != InitialSubsidy/2 {
		t.Fatalf("post-halving subsidy = %d, want %d", got, InitialSubsidy/2)
	}
}

func TestTransactionEncodeDecodeRoundTrip(t *testing.T) {
	lock, err := NewSingleSigLock(make([]byte, crypto.CompressedPubkeyBytes))
	if err != nil {
		t.Fatalf("NewSingleSigLock: %v", err)
	}
	tx := Transaction{
		Version: 1,
		Inputs: []TxInput{{
			PrevTxID:  crypto.SHA256([]byte("prev")),
			Unlocking: UnlockingParams{Kind: LockingSingleSig, Signature: []byte("sig")},
			Sequence:  0xffffffff,
		}},
		Outputs:  []TxOutput{{Amount: 5000, Locking: lock}},
		LockTime: 0,
	}
	decoded, err := DecodeTransaction(tx.Encode())
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}
	if decoded.TxID() != tx.TxID() {
		t.Fatalf("round-tripped transaction has a different TxID")
	}
}

func TestSigningDigestIgnoresUnlockingParams(t *testing.T) {
	lock, err := NewSingleSigLock(make([]byte, crypto.CompressedPubkeyBytes))
	if err != nil {
		t.Fatalf("NewSingleSigLock: %v", err)
	}
	base := Transaction{
		Inputs:  []TxInput{{PrevTxID: crypto.SHA256([]byte("prev")), Unlocking: UnlockingParams{Kind: LockingSingleSig}}},
		Outputs: []TxOutput{{Amount: 1, Locking: lock}},
	}
	signed := base
	signed.Inputs = []TxInput{{PrevTxID: base.Inputs[0].PrevTxID, Unlocking: UnlockingParams{Kind: LockingSingleSig, Signature: []byte("anything")}}}
	if base.SigningDigest() != signed.SigningDigest() {
		t.Fatalf("signing digest changed when only the signature bytes changed")
	}
	if base.TxID() == signed.TxID() {
		t.Fatalf("TxID should differ since Encode includes the signature bytes")
	}
}

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	lock, err := NewSingleSigLock(make([]byte, crypto.CompressedPubkeyBytes))
	if err != nil {
		t.Fatalf("NewSingleSigLock: %v", err)
	}
	coinbase := Transaction{
		Inputs:  []TxInput{{PrevTxID: CoinbasePrevTxID, OutputIndex: CoinbaseOutputIndex, Unlocking: UnlockingParams{Kind: LockingSingleSig}}},
		Outputs: []TxOutput{{Amount: Subsidy(1), Locking: lock}},
	}
	block := Block{Transactions: []Transaction{coinbase}}
	block.Header.MerkleRoot = block.ComputeMerkleRoot()

	decoded, err := DecodeBlock(block.Encode())
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if decoded.BlockID() != block.BlockID() {
		t.Fatalf("round-tripped block has a different BlockID")
	}
	if decoded.Header.MerkleRoot != block.Header.MerkleRoot {
		t.Fatalf("merkle root mismatch after round trip")
	}
}

func TestUTXOEncodeDecodeRoundTrip(t *testing.T) {
	lock, err := NewSingleSigLock(make([]byte, crypto.CompressedPubkeyBytes))
	if err != nil {
		t.Fatalf("NewSingleSigLock: %v", err)
	}
	u := UTXO{
		TxID:        crypto.SHA256([]byte("tx")),
		Index:       2,
		Amount:      7777,
		Locking:     lock,
		BlockHeight: 42,
		IsCoinbase:  true,
	}
	decoded, err := DecodeUTXO(u.Encode())
	if err != nil {
		t.Fatalf("DecodeUTXO: %v", err)
	}
	if decoded.TxID != u.TxID || decoded.Index != u.Index || decoded.Amount != u.Amount ||
		decoded.BlockHeight != u.BlockHeight || decoded.IsCoinbase != u.IsCoinbase ||
		decoded.Locking.Kind != u.Locking.Kind || decoded.Locking.Pubkey != u.Locking.Pubkey {
		t.Fatalf("round-tripped UTXO = %+v, want %+v", decoded, u)
	}
}

func TestMultiSigLockingRoundTrip(t *testing.T) {
	pubkeys := [][]byte{
		make([]byte, crypto.CompressedPubkeyBytes),
		make([]byte, crypto.CompressedPubkeyBytes),
		make([]byte, crypto.CompressedPubkeyBytes),
	}
	pubkeys[0][0], pubkeys[1][0], pubkeys[2][0] = 1, 2, 3
	lock, err := NewMultiSigLock(2, pubkeys)
	if err != nil {
		t.Fatalf("NewMultiSigLock: %v", err)
	}
	if lock.AddressHash160() != lock.AddressHash160() {
		t.Fatalf("AddressHash160 not deterministic")
	}
}
