package chain

import (
	"thunderbolt.dev/node/crypto"
	"thunderbolt.dev/node/wire"
)

// CoinbaseOutputIndex marks a coinbase input's outputIndex (spec.md §3).
const CoinbaseOutputIndex = 0xFFFFFFFF

// CoinbasePrevTxID is the all-zeros prevTxId that marks a coinbase input.
var CoinbasePrevTxID crypto.Hash

// TxOutPoint identifies a single output of a transaction.
type TxOutPoint struct {
	PrevTxID    crypto.Hash
	OutputIndex uint32
}

// IsCoinbase reports whether the outpoint is the synthetic coinbase input.
func (o TxOutPoint) IsCoinbase() bool {
	return o.PrevTxID == CoinbasePrevTxID && o.OutputIndex == CoinbaseOutputIndex
}

// TxInput spends a previously created output (spec.md §3).
type TxInput struct {
	PrevTxID    crypto.Hash
	OutputIndex uint32
	Unlocking   UnlockingParams
	Sequence    uint32
}

// Outpoint returns the (PrevTxID, OutputIndex) pair the input references.
func (in TxInput) Outpoint() TxOutPoint {
	return TxOutPoint{PrevTxID: in.PrevTxID, OutputIndex: in.OutputIndex}
}

func (in TxInput) encode(w *wire.Writer) {
	w.Raw(in.PrevTxID[:])
	w.U32(in.OutputIndex)
	in.Unlocking.Encode(w)
	w.U32(in.Sequence)
}

func decodeTxInput(r *wire.Reader) (TxInput, error) {
	var in TxInput
	prevTxID, err := r.Hash32()
	if err != nil {
		return TxInput{}, err
	}
	in.PrevTxID = crypto.Hash(prevTxID)
	outIdx, err := r.U32()
	if err != nil {
		return TxInput{}, err
	}
	in.OutputIndex = outIdx
	unlocking, err := DecodeUnlockingParams(r)
	if err != nil {
		return TxInput{}, err
	}
	in.Unlocking = unlocking
	seq, err := r.U32()
	if err != nil {
		return TxInput{}, err
	}
	in.Sequence = seq
	return in, nil
}

// TxOutput is a single unit of value locked under LockingParams (spec.md §3).
type TxOutput struct {
	Amount  uint64
	Locking LockingParams
}

func (out TxOutput) encode(w *wire.Writer) {
	w.U64(out.Amount)
	out.Locking.Encode(w)
}

func decodeTxOutput(r *wire.Reader) (TxOutput, error) {
	amount, err := r.U64()
	if err != nil {
		return TxOutput{}, err
	}
	locking, err := DecodeLockingParams(r)
	if err != nil {
		return TxOutput{}, err
	}
	return TxOutput{Amount: amount, Locking: locking}, nil
}

// Transaction is an ordered list of inputs and outputs under a version and
// lockTime (spec.md §3).
type Transaction struct {
	Version  uint32
	Inputs   []TxInput
	Outputs  []TxOutput
	LockTime uint32
}

// IsCoinbase reports whether tx is a coinbase transaction: exactly one
// input whose outpoint is the synthetic all-zeros/0xFFFFFFFF marker.
func (tx Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].Outpoint().IsCoinbase()
}

// Encode serializes tx as described in spec.md §4.1/§3.
func (tx Transaction) Encode() []byte {
	w := wire.NewWriter(256)
	tx.encode(w, false)
	return w.Bytes()
}

// encode writes the transaction. When clearUnlocking is true every input's
// unlocking parameters are replaced by empty parameters of the same kind
// (no signature material) before hashing, per spec.md §4.6 rule 5's signing digest.
func (tx Transaction) encode(w *wire.Writer, clearUnlocking bool) {
	w.U32(tx.Version)
	w.U32(uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		if clearUnlocking {
			cleared := in
			cleared.Unlocking = emptyUnlockingParams(in.Unlocking.Kind)
			cleared.encode(w)
			continue
		}
		in.encode(w)
	}
	w.U32(uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		out.encode(w)
	}
	w.U32(tx.LockTime)
}

func emptyUnlockingParams(kind LockingKind) UnlockingParams {
	switch kind {
	case LockingMultiSig:
		return UnlockingParams{Kind: kind, Signatures: map[uint8][]byte{}}
	default:
		return UnlockingParams{Kind: kind, Signature: nil}
	}
}

// DecodeTransaction reads a transaction written by Encode.
func DecodeTransaction(b []byte) (Transaction, error) {
	r := wire.NewReader(b)
	tx, err := decodeTransaction(r)
	if err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

func decodeTransaction(r *wire.Reader) (Transaction, error) {
	var tx Transaction
	version, err := r.U32()
	if err != nil {
		return Transaction{}, err
	}
	tx.Version = version
	inCount, err := r.U32()
	if err != nil {
		return Transaction{}, err
	}
	tx.Inputs = make([]TxInput, 0, inCount)
	for i := uint32(0); i < inCount; i++ {
		in, err := decodeTxInput(r)
		if err != nil {
			return Transaction{}, err
		}
		tx.Inputs = append(tx.Inputs, in)
	}
	outCount, err := r.U32()
	if err != nil {
		return Transaction{}, err
	}
	tx.Outputs = make([]TxOutput, 0, outCount)
	for i := uint32(0); i < outCount; i++ {
		out, err := decodeTxOutput(r)
		if err != nil {
			return Transaction{}, err
		}
		tx.Outputs = append(tx.Outputs, out)
	}
	lockTime, err := r.U32()
	if err != nil {
		return Transaction{}, err
	}
	tx.LockTime = lockTime
	return tx, nil
}

// TxID is the transaction identifier: single SHA-256 of its serialization
// (spec.md §3).
func (tx Transaction) TxID() crypto.Hash {
	return crypto.SHA256(tx.Encode())
}

// SigningDigest is the message signed by every input's unlocking parameters:
// double-SHA256 of the transaction with all input unlocking parameters
// cleared (spec.md §4.6 rule 5).
func (tx Transaction) SigningDigest() crypto.Hash {
	w := wire.NewWriter(256)
	tx.encode(w, true)
	return crypto.DoubleSHA256(w.Bytes())
}

// TotalOutput returns the sum of all output amounts. The caller is
// responsible for overflow checking per spec.md §4.6 rule 6; this sums in
// uint64 and reports whether it overflowed.
func (tx Transaction) TotalOutput() (sum uint64, overflow bool) {
	for _, out := range tx.Outputs {
		next := sum + out.Amount
		if next < sum {
			return 0, true
		}
		sum = next
	}
	return sum, false
}

// SerializedSize returns len(tx.Encode()), the size used for fee-per-byte
// mempool ranking and the oversize-transaction check.
func (tx Transaction) SerializedSize() int {
	return len(tx.Encode())
}
