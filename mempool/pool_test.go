package mempool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"thunderbolt.dev/node/chain"
	"thunderbolt.dev/node/crypto"
	"thunderbolt.dev/node/validation"
)

type fakeUTXOs map[chain.TxOutPoint]chain.UTXO

var errFakeNotFound = errors.New("not found")

func (f fakeUTXOs) GetUTXO(txID crypto.Hash, index uint32) (chain.UTXO, error) {
	u, ok := f[chain.TxOutPoint{PrevTxID: txID, OutputIndex: index}]
	if !ok {
		return chain.UTXO{}, errFakeNotFound
	}
	return u, nil
}

type fakeHeight uint64

func (h fakeHeight) ChainHeight() uint64 { return uint64(h) }

func spendableOutput(t *testing.T) (priv *btcec.PrivateKey, utxos fakeUTXOs, prevTxID crypto.Hash) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	lock, err := chain.NewSingleSigLock(priv.PubKey().SerializeCompressed())
	if err != nil {
		t.Fatalf("NewSingleSigLock: %v", err)
	}
	prevTxID = crypto.SHA256([]byte("funding"))
	utxos = fakeUTXOs{
		{PrevTxID: prevTxID, OutputIndex: 0}: {TxID: prevTxID, Index: 0, Amount: 10000, Locking: lock, BlockHeight: 1},
	}
	return priv, utxos, prevTxID
}

func spendTx(t *testing.T, priv *btcec.PrivateKey, prevTxID crypto.Hash, amount uint64, seq uint32) chain.Transaction {
	t.Helper()
	recipient := make([]byte, crypto.CompressedPubkeyBytes)
	recipient[0] = 0x02
	lock, err := chain.NewSingleSigLock(recipient)
	if err != nil {
		t.Fatalf("NewSingleSigLock: %v", err)
	}
	tx := chain.Transaction{
		Inputs:  []chain.TxInput{{PrevTxID: prevTxID, OutputIndex: 0, Unlocking: chain.UnlockingParams{Kind: chain.LockingSingleSig}}},
		Outputs: []chain.TxOutput{{Amount: amount, Locking: lock}},
		LockTime: seq,
	}
	sig := crypto.Sign(priv, tx.SigningDigest())
	tx.Inputs[0].Unlocking.Signature = sig
	return tx
}

func TestAddRejectsCoinbase(t *testing.T) {
	v := validation.New(100, func(error) bool { return true })
	p := New(v, fakeUTXOs{}, fakeHeight(0))
	lock, _ := chain.NewSingleSigLock(make([]byte, crypto.CompressedPubkeyBytes))
	coinbase := chain.Transaction{
		Inputs:  []chain.TxInput{{PrevTxID: chain.CoinbasePrevTxID, OutputIndex: chain.CoinbaseOutputIndex}},
		Outputs: []chain.TxOutput{{Amount: 1, Locking: lock}},
	}
	if err := p.Add(coinbase); !validation.IsRejection(err) {
		t.Fatalf("expected rejection for coinbase admission, got %v", err)
	}
}

func TestAddAndPickTransactionsOrdersByFeePerByte(t *testing.T) {
	priv, utxos, prevTxID := spendableOutput(t)
	v := validation.New(100, func(err error) bool { return errors.Is(err, errFakeNotFound) })
	p := New(v, utxos, fakeHeight(10))

	tx := spendTx(t, priv, prevTxID, 9000, 0) // fee 1000
	if err := p.Add(tx); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !p.Contains(tx.TxID()) {
		t.Fatalf("expected pool to contain the added transaction")
	}

	picked := p.PickTransactions(1 << 20)
	if len(picked) != 1 || picked[0].TxID() != tx.TxID() {
		t.Fatalf("PickTransactions = %v, want the single added tx", picked)
	}
}

func TestPickTransactionsSkipsConflictingLowerFee(t *testing.T) {
	priv, utxos, prevTxID := spendableOutput(t)
	v := validation.New(100, func(err error) bool { return errors.Is(err, errFakeNotFound) })
	p := New(v, utxos, fakeHeight(10))

	low := spendTx(t, priv, prevTxID, 9500, 0)  // fee 500, distinct LockTime keeps TxID distinct
	high := spendTx(t, priv, prevTxID, 8000, 1) // fee 2000, spends the same outpoint as low
	if err := p.Add(low); err != nil {
		t.Fatalf("Add low: %v", err)
	}
	if err := p.Add(high); err != nil {
		t.Fatalf("Add high: %v", err)
	}

	picked := p.PickTransactions(1 << 20)
	if len(picked) != 1 || picked[0].TxID() != high.TxID() {
		t.Fatalf("expected only the higher-fee conflicting spend to be selected, got %v", picked)
	}
}

func TestRemoveNotifiesListeners(t *testing.T) {
	priv, utxos, prevTxID := spendableOutput(t)
	v := validation.New(100, func(err error) bool { return errors.Is(err, errFakeNotFound) })
	p := New(v, utxos, fakeHeight(10))
	tx := spendTx(t, priv, prevTxID, 9000, 0)
	if err := p.Add(tx); err != nil {
		t.Fatalf("Add: %v", err)
	}

	removed := make(chan crypto.Hash, 1)
	p.AddRemovedListener(removedFunc(func(id crypto.Hash) { removed <- id }))
	p.Remove(tx.TxID())

	select {
	case id := <-removed:
		if id != tx.TxID() {
			t.Fatalf("removed listener got %x, want %x", id, tx.TxID())
		}
	case <-time.After(time.Second):
		t.Fatalf("removed listener was never called")
	}
	if p.Contains(tx.TxID()) {
		t.Fatalf("expected transaction to be gone after Remove")
	}
}

type removedFunc func(crypto.Hash)

func (f removedFunc) TransactionRemoved(id crypto.Hash) { f(id) }

func TestOnOutputsUpdateRemovesConfirmed(t *testing.T) {
	priv, utxos, prevTxID := spendableOutput(t)
	v := validation.New(100, func(err error) bool { return errors.Is(err, errFakeNotFound) })
	tx := spendTx(t, priv, prevTxID, 9000, 0)
	p := New(v, utxos, fakeHeight(10))

	if err := p.Add(tx); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// A block confirms the spend: its outpoint leaves the pool.
	if err := p.OnOutputsUpdate([]chain.TxOutPoint{{PrevTxID: prevTxID, OutputIndex: 0}}, nil); err != nil {
		t.Fatalf("OnOutputsUpdate confirm: %v", err)
	}
	if p.Contains(tx.TxID()) {
		t.Fatalf("expected confirmed transaction to leave the pool")
	}
}

// TestOnBlockDisconnectedReAdmitsNonCoinbaseTransactions exercises re-
// admission the way the engine actually drives it: by handing the pool the
// disconnected block itself, not an inferred UTXO delta. A rollback's
// restored UTXOs (the OutputsUpdate "added" half) are keyed by the
// transactions that *created* them — the disconnected branch's ancestors,
// not the disconnected block's own transactions — so OnOutputsUpdate alone
// could never recover this block's spend.
func TestOnBlockDisconnectedReAdmitsNonCoinbaseTransactions(t *testing.T) {
	priv, utxos, prevTxID := spendableOutput(t)
	v := validation.New(100, func(err error) bool { return errors.Is(err, errFakeNotFound) })
	tx := spendTx(t, priv, prevTxID, 9000, 0)
	p := New(v, utxos, fakeHeight(10))

	if err := p.Add(tx); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// The block containing tx is confirmed: its spent outpoint leaves the
	// pool, same as OnOutputsUpdate would report for a real commit.
	if err := p.OnOutputsUpdate([]chain.TxOutPoint{{PrevTxID: prevTxID, OutputIndex: 0}}, nil); err != nil {
		t.Fatalf("OnOutputsUpdate confirm: %v", err)
	}
	if p.Contains(tx.TxID()) {
		t.Fatalf("expected confirmed transaction to leave the pool")
	}

	coinbase := chain.Transaction{
		Inputs:  []chain.TxInput{{PrevTxID: chain.CoinbasePrevTxID, OutputIndex: chain.CoinbaseOutputIndex}},
		Outputs: []chain.TxOutput{{Amount: 1, Locking: tx.Outputs[0].Locking}},
	}
	disconnected := chain.Block{Transactions: []chain.Transaction{coinbase, tx}}

	p.OnBlockDisconnected(disconnected, 11)

	if !p.Contains(tx.TxID()) {
		t.Fatalf("expected disconnected block's non-coinbase transaction to be re-admitted")
	}
	if p.Contains(coinbase.TxID()) {
		t.Fatalf("coinbase transactions must never be re-admitted to the pool")
	}
}

func TestCleanupEvictsUnresolvableInput(t *testing.T) {
	priv, utxos, prevTxID := spendableOutput(t)
	v := validation.New(100, func(err error) bool { return errors.Is(err, errFakeNotFound) })
	p := New(v, utxos, fakeHeight(10))
	tx := spendTx(t, priv, prevTxID, 9000, 0)
	if err := p.Add(tx); err != nil {
		t.Fatalf("Add: %v", err)
	}

	delete(utxos, chain.TxOutPoint{PrevTxID: prevTxID, OutputIndex: 0}) // spend now unresolvable
	p.Cleanup(context.Background(), time.Now())
	if p.Contains(tx.TxID()) {
		t.Fatalf("expected Cleanup to evict a transaction whose input no longer resolves")
	}
}
