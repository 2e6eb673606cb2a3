package chain

import (
	"thunderbolt.dev/node/crypto"
	"thunderbolt.dev/node/wire"
)

// UTXO is an unspent transaction output, keyed by (TxID, Index) (spec.md
// §3).
type UTXO struct {
	TxID        crypto.Hash
	Index       uint32
	Amount      uint64
	Locking     LockingParams
	BlockHeight uint64
	IsCoinbase  bool
}

// Encode serializes the UTXO record. This is also the encoding used inside
// a ReverseDelta for consumed outputs (spec.md §6.1).
func (u UTXO) Encode() []byte {
	w := wire.NewWriter(96)
	w.Raw(u.TxID[:])
	w.U32(u.Index)
	w.U64(u.Amount)
	u.Locking.Encode(w)
	w.U64(u.BlockHeight)
	coinbase := uint8(0)
	if u.IsCoinbase {
		coinbase = 1
	}
	w.U8(coinbase)
	return w.Bytes()
}

// DecodeUTXO reads a UTXO record written by Encode.
func DecodeUTXO(b []byte) (UTXO, error) {
	r := wire.NewReader(b)
	return decodeUTXO(r)
}

func decodeUTXO(r *wire.Reader) (UTXO, error) {
	var u UTXO
	txID, err := r.Hash32()
	if err != nil {
		return UTXO{}, err
	}
	u.TxID = crypto.Hash(txID)
	if u.Index, err = r.U32(); err != nil {
		return UTXO{}, err
	}
	if u.Amount, err = r.U64(); err != nil {
		return UTXO{}, err
	}
	locking, err := DecodeLockingParams(r)
	if err != nil {
		return UTXO{}, err
	}
	u.Locking = locking
	if u.BlockHeight, err = r.U64(); err != nil {
		return UTXO{}, err
	}
	coinbase, err := r.U8()
	if err != nil {
		return UTXO{}, err
	}
	u.IsCoinbase = coinbase != 0
	return u, nil
}

// Outpoint returns the (TxID, Index) key identifying this output.
func (u UTXO) Outpoint() TxOutPoint {
	return TxOutPoint{PrevTxID: u.TxID, OutputIndex: u.Index}
}

// FromOutput builds the UTXO record a persisted TxOutput produces when the
// containing transaction is txID at txIndex, in a block at blockHeight.
func FromOutput(txID crypto.Hash, txIndex uint32, out TxOutput, blockHeight uint64, isCoinbase bool) UTXO {
	return UTXO{
		TxID:        txID,
		Index:       txIndex,
		Amount:      out.Amount,
		Locking:     out.Locking,
		BlockHeight: blockHeight,
		IsCoinbase:  isCoinbase,
	}
}
