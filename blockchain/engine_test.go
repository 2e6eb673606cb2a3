package blockchain_test

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/davecgh/go-spew/spew"

	"thunderbolt.dev/node/blockchain"
	"thunderbolt.dev/node/chain"
	"thunderbolt.dev/node/crypto"
	"thunderbolt.dev/node/mempool"
	"thunderbolt.dev/node/node"
	"thunderbolt.dev/node/store"
	"thunderbolt.dev/node/validation"
)

// newTestEngine opens a fresh store under t.TempDir(), submits regtest
// genesis, and returns the engine alongside the key that unlocks genesis's
// coinbase output (regtest coinbase maturity is 0, so it is immediately
// spendable — spec.md §8 scenario 2).
func newTestEngine(t *testing.T) (*blockchain.Engine, *btcec.PrivateKey, chain.Block) {
	t.Helper()
	dir := t.TempDir()
	persistence, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { persistence.Close() })

	priv, pub := genKey(t)
	params := node.RegTestParams()
	genesis := singleSigGenesis(t, pub, params.Genesis.Header.TargetDifficulty)

	validator := validation.New(params.CoinbaseMaturity, store.NotFound)
	engine := blockchain.New(genesis, validator, persistence)
	if err := engine.SubmitBlock(genesis); err != nil {
		t.Fatalf("submit genesis: %v", err)
	}
	return engine, priv, genesis
}

func genKey(t *testing.T) (*btcec.PrivateKey, []byte) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv, priv.PubKey().SerializeCompressed()
}

// singleSigGenesis rebuilds a genesis block whose coinbase pays a key the
// test controls, re-mining its nonce at the same (easy) difficulty.
func singleSigGenesis(t *testing.T, pubkey []byte, bits uint32) chain.Block {
	t.Helper()
	locking, err := chain.NewSingleSigLock(pubkey)
	if err != nil {
		t.Fatalf("NewSingleSigLock: %v", err)
	}
	coinbase := chain.Transaction{
		Inputs: []chain.TxInput{{
			PrevTxID:    chain.CoinbasePrevTxID,
			OutputIndex: chain.CoinbaseOutputIndex,
			Unlocking:   chain.UnlockingParams{Kind: chain.LockingSingleSig, Signature: []byte("test genesis")},
		}},
		Outputs: []chain.TxOutput{{Amount: chain.Subsidy(0), Locking: locking}},
	}
	block := chain.Block{Transactions: []chain.Transaction{coinbase}}
	block.Header.Timestamp = 1700000000
	block.Header.TargetDifficulty = bits
	block.Header.MerkleRoot = block.ComputeMerkleRoot()
	for nonce := uint32(0); ; nonce++ {
		block.Header.Nonce = nonce
		if chain.CheckProofOfWork(block.Header) {
			break
		}
	}
	return block
}

func spendGenesis(t *testing.T, priv *btcec.PrivateKey, genesis chain.Block, amount uint64, parentMeta chain.BlockMetadata, recipient []byte) chain.Block {
	t.Helper()
	recvLocking, err := chain.NewSingleSigLock(recipient)
	if err != nil {
		t.Fatalf("NewSingleSigLock: %v", err)
	}
	coinbaseID := genesis.Transactions[0].TxID()
	spend := chain.Transaction{
		Inputs: []chain.TxInput{{PrevTxID: coinbaseID, OutputIndex: 0, Unlocking: chain.UnlockingParams{Kind: chain.LockingSingleSig}}},
		Outputs: []chain.TxOutput{
			{Amount: amount, Locking: recvLocking},
		},
	}
	digest := spend.SigningDigest()
	sig := crypto.Sign(priv, digest)
	spend.Inputs[0].Unlocking.Signature = sig

	feeCoinbase := chain.Transaction{
		Inputs: []chain.TxInput{{
			PrevTxID:    chain.CoinbasePrevTxID,
			OutputIndex: chain.CoinbaseOutputIndex,
			Unlocking:   chain.UnlockingParams{Kind: chain.LockingSingleSig, Signature: []byte("block 1")},
		}},
		Outputs: []chain.TxOutput{{Amount: chain.Subsidy(1), Locking: recvLocking}},
	}

	block := chain.Block{Transactions: []chain.Transaction{feeCoinbase, spend}}
	block.Header.ParentHash = genesis.BlockID()
	block.Header.Timestamp = parentMeta.Header.Timestamp + 600
	block.Header.TargetDifficulty = parentMeta.Header.TargetDifficulty
	block.Header.MerkleRoot = block.ComputeMerkleRoot()
	for nonce := uint32(0); ; nonce++ {
		block.Header.Nonce = nonce
		if chain.CheckProofOfWork(block.Header) {
			break
		}
	}
	return block
}

// coinbaseOnlyBlock builds a valid, mined successor block with no
// transactions besides its own coinbase, at height parentMeta.Height+1.
func coinbaseOnlyBlock(t *testing.T, parentID crypto.Hash, parentMeta chain.BlockMetadata, recipient []byte, coinbaseTag string) chain.Block {
	t.Helper()
	locking, err := chain.NewSingleSigLock(recipient)
	if err != nil {
		t.Fatalf("NewSingleSigLock: %v", err)
	}
	height := parentMeta.Height + 1
	coinbase := chain.Transaction{
		Inputs: []chain.TxInput{{
			PrevTxID:    chain.CoinbasePrevTxID,
			OutputIndex: chain.CoinbaseOutputIndex,
			Unlocking:   chain.UnlockingParams{Kind: chain.LockingSingleSig, Signature: []byte(coinbaseTag)},
		}},
		Outputs: []chain.TxOutput{{Amount: chain.Subsidy(height), Locking: locking}},
	}
	block := chain.Block{Transactions: []chain.Transaction{coinbase}}
	block.Header.ParentHash = parentID
	block.Header.Timestamp = parentMeta.Header.Timestamp + 600
	block.Header.TargetDifficulty = parentMeta.Header.TargetDifficulty
	block.Header.MerkleRoot = block.ComputeMerkleRoot()
	for nonce := uint32(0); ; nonce++ {
		block.Header.Nonce = nonce
		if chain.CheckProofOfWork(block.Header) {
			break
		}
	}
	return block
}

// TestReorgReAdmitsDisconnectedBlockTransactionToMempool is spec.md §8
// scenario 3 end to end: block A (carrying a real spend) is the head, a
// heavier two-block side branch B-C overtakes it, and the reorg must both
// roll A off the main chain and return A's non-coinbase transaction to the
// mempool.
func TestReorgReAdmitsDisconnectedBlockTransactionToMempool(t *testing.T) {
	dir := t.TempDir()
	persistence, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { persistence.Close() })

	priv, pub := genKey(t)
	params := node.RegTestParams()
	genesis := singleSigGenesis(t, pub, params.Genesis.Header.TargetDifficulty)

	validator := validation.New(params.CoinbaseMaturity, store.NotFound)
	engine := blockchain.New(genesis, validator, persistence)
	if err := engine.SubmitBlock(genesis); err != nil {
		t.Fatalf("submit genesis: %v", err)
	}

	pool := mempool.New(validator, engine, engine)
	engine.AddOutputsUpdateListener(pool)
	engine.AddBlockDisconnectedListener(pool)

	genesisMeta, err := engine.GetBlockMetadata(genesis.BlockID())
	if err != nil {
		t.Fatalf("GetBlockMetadata genesis: %v", err)
	}
	_, recipient := genKey(t)

	blockA := spendGenesis(t, priv, genesis, chain.Subsidy(0), genesisMeta, recipient)
	if err := engine.SubmitBlock(blockA); err != nil {
		t.Fatalf("submit A: %v", err)
	}
	spendTxID := blockA.Transactions[1].TxID()

	if headID, height, ok := engine.ChainHead(); !ok || headID != blockA.BlockID() || height != 1 {
		t.Fatalf("head=%x height=%d ok=%v, want A at height 1", headID, height, ok)
	}

	blockB := coinbaseOnlyBlock(t, genesis.BlockID(), genesisMeta, recipient, "side branch b")
	if err := engine.SubmitBlock(blockB); err != nil {
		t.Fatalf("submit B: %v", err)
	}
	if headID, _, _ := engine.ChainHead(); headID != blockA.BlockID() {
		t.Fatalf("equal-work side branch must not become head")
	}

	bMeta, err := engine.GetBlockMetadata(blockB.BlockID())
	if err != nil {
		t.Fatalf("GetBlockMetadata B: %v", err)
	}
	blockC := coinbaseOnlyBlock(t, blockB.BlockID(), bMeta, recipient, "side branch c")
	if err := engine.SubmitBlock(blockC); err != nil {
		t.Fatalf("submit C: %v", err)
	}

	headID, height, ok := engine.ChainHead()
	if !ok || headID != blockC.BlockID() || height != 2 {
		t.Fatalf("head=%x height=%d ok=%v, want the heavier B-C branch at height 2", headID, height, ok)
	}
	if !pool.Contains(spendTxID) {
		t.Fatalf("expected disconnected block A's spend %x to be re-admitted to the mempool", spendTxID)
	}
}

func TestSubmitBlockGenesisSetsChainHead(t *testing.T) {
	engine, _, genesis := newTestEngine(t)
	headID, height, ok := engine.ChainHead()
	if !ok {
		t.Fatalf("expected chain head after genesis")
	}
	if headID != genesis.BlockID() || height != 0 {
		t.Fatalf("head=%x height=%d, want genesis at height 0: %s", headID, height, spew.Sdump(genesis))
	}
}

func TestSubmitBlockSpendingCoinbaseExtendsChain(t *testing.T) {
	engine, priv, genesis := newTestEngine(t)
	parentMeta, err := engine.GetBlockMetadata(genesis.BlockID())
	if err != nil {
		t.Fatalf("GetBlockMetadata: %v", err)
	}
	_, recipient := genKey(t)

	block1 := spendGenesis(t, priv, genesis, chain.Subsidy(0), parentMeta, recipient)
	if err := engine.SubmitBlock(block1); err != nil {
		t.Fatalf("submit block 1: %v", err)
	}

	headID, height, ok := engine.ChainHead()
	if !ok || headID != block1.BlockID() || height != 1 {
		t.Fatalf("head=%x height=%d ok=%v, want block1 at height 1", headID, height, ok)
	}
}

func TestSubmitBlockRejectsFutureTimestamp(t *testing.T) {
	engine, priv, genesis := newTestEngine(t)
	parentMeta, err := engine.GetBlockMetadata(genesis.BlockID())
	if err != nil {
		t.Fatalf("GetBlockMetadata: %v", err)
	}
	_, recipient := genKey(t)
	block1 := spendGenesis(t, priv, genesis, chain.Subsidy(0), parentMeta, recipient)
	block1.Header.Timestamp = uint32(time.Now().Add(24 * time.Hour).Unix())
	block1.Header.MerkleRoot = block1.ComputeMerkleRoot()
	for nonce := uint32(0); ; nonce++ {
		block1.Header.Nonce = nonce
		if chain.CheckProofOfWork(block1.Header) {
			break
		}
	}

	err = engine.SubmitBlock(block1)
	if !blockchain.IsRejected(err) {
		t.Fatalf("expected rejection for clock-drift violation, got %v", err)
	}
}

func TestSubmitBlockAlreadyKnownIsNoop(t *testing.T) {
	engine, _, genesis := newTestEngine(t)
	if err := engine.SubmitBlock(genesis); err != nil {
		t.Fatalf("resubmitting genesis should be a no-op, got %v", err)
	}
}

func TestGetBlockLocatorHashesIncludesGenesis(t *testing.T) {
	engine, _, genesis := newTestEngine(t)
	hashes, err := engine.GetBlockLocatorHashes()
	if err != nil {
		t.Fatalf("GetBlockLocatorHashes: %v", err)
	}
	if len(hashes) == 0 || hashes[len(hashes)-1] != genesis.BlockID() {
		t.Fatalf("locator = %x, want to end at genesis %x", hashes, genesis.BlockID())
	}
}
