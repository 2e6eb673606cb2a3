// Package validation implements the stateless transaction validator
// (spec.md §4.6): structural checks, duplicate-input detection, coinbase
// rules, UTXO/maturity/locking-kind checks, and the signature check,
// returning a discriminated rejection reason or a StorageError when the
// UTXO lookup itself fails. Grounded on the teacher's consensus/validate.go
// rule ordering and consensus/errors.go's {Code, Msg} error shape.
package validation

import (
	"fmt"

	"thunderbolt.dev/node/chain"
	"thunderbolt.dev/node/crypto"
	"thunderbolt.dev/node/internal/logs"
)

// MaxMoney is the largest amount (in base units) a single output may carry,
// and the ceiling on a transaction's total output (spec.md §4.6 rule 1).
const MaxMoney = 21_000_000 * 100_000_000

// MaxTxSize bounds a transaction's serialized size (spec.md §4.6 rule 1).
const MaxTxSize = 100_000

// DefaultCoinbaseMaturity is COINBASE_MATURITY from spec.md §4.6 rule 3/4.
const DefaultCoinbaseMaturity = 100

// Reason discriminates why Validate rejected a transaction
// (spec.md §4.6: "Failure returns a discriminated reason").
type Reason string

const (
	ReasonDuplicateInput      Reason = "DuplicateInput"
	ReasonMissingUtxo         Reason = "MissingUtxo"
	ReasonImmatureCoinbase    Reason = "ImmatureCoinbase"
	ReasonBadSignature        Reason = "BadSignature"
	ReasonAmountOverflow      Reason = "AmountOverflow"
	ReasonLockingKindMismatch Reason = "LockingKindMismatch"
	ReasonOversizeTx          Reason = "OversizeTx"
	ReasonStructural          Reason = "Structural"
)

// RejectionError is a validation rejection (spec.md §7 family 1): the
// caller is told why, the transaction is discarded, and system state is
// unchanged. Never logged above Debug.
type RejectionError struct {
	Reason Reason
	Msg    string
}

func (e *RejectionError) Error() string {
	if e.Msg == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
}

func reject(reason Reason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is a validation rejection (as opposed to
// a StorageError).
func IsRejection(err error) bool {
	_, ok := err.(*RejectionError)
	return ok
}

// StorageError wraps a failure from the UTXO source during validation
// (spec.md §4.6: "Storage errors propagate as StorageFailure — distinct
// from validation rejections").
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("validation: storage failure: %v", e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// UTXOSource resolves an outpoint to its UTXO record. Implementations:
// store.Service (the canonical on-disk set) and the mempool's snapshot view
// layered on top of it.
type UTXOSource interface {
	GetUTXO(txID crypto.Hash, index uint32) (chain.UTXO, error)
}

// NotFoundChecker reports whether an error returned by a UTXOSource means
// "no such UTXO" as opposed to an I/O failure; store.NotFound satisfies
// this.
type NotFoundChecker func(error) bool

// Validator holds the consensus parameters transaction validation is
// parameterized over (spec.md §9 design note: "an explicit read-only
// context value").
type Validator struct {
	CoinbaseMaturity uint64
	NotFound         NotFoundChecker
	log              *logs.Logger
}

// New constructs a Validator. notFound classifies UTXOSource errors as
// "absent key" vs storage failure.
func New(coinbaseMaturity uint64, notFound NotFoundChecker) *Validator {
	return &Validator{
		CoinbaseMaturity: coinbaseMaturity,
		NotFound:         notFound,
		log:              logs.Get(logs.TagValidation),
	}
}

// Context carries the per-call facts the validator needs beyond the
// transaction itself (spec.md §4.6: "the UTXO set and context (block
// height, aggregate fees of siblings)").
type Context struct {
	Height             uint64
	IsCoinbase         bool // this tx occupies position 0 of a block
	AggregateSiblingFees uint64
}

// Validate runs spec.md §4.6's seven rules against tx and returns the fee
// it pays (0 for a valid coinbase, since a coinbase has no "fee" of its
// own — it is paid the aggregate fee instead).
func (v *Validator) Validate(tx chain.Transaction, ctx Context, utxos UTXOSource) (fee uint64, err error) {
	if err := v.validateStructure(tx); err != nil {
		return 0, err
	}
	if err := v.checkDuplicateInputs(tx); err != nil {
		return 0, err
	}

	if tx.IsCoinbase() {
		if !ctx.IsCoinbase {
			return 0, reject(ReasonStructural, "coinbase-shaped transaction outside block position 0")
		}
		return 0, v.validateCoinbase(tx, ctx)
	}
	if ctx.IsCoinbase {
		return 0, reject(ReasonStructural, "block position 0 transaction is not coinbase-shaped")
	}
	return v.validateNonCoinbase(tx, ctx, utxos)
}

// validateStructure implements spec.md §4.6 rule 1.
func (v *Validator) validateStructure(tx chain.Transaction) error {
	if len(tx.Inputs) == 0 {
		return reject(ReasonStructural, "transaction has no inputs")
	}
	if len(tx.Outputs) == 0 {
		return reject(ReasonStructural, "transaction has no outputs")
	}
	total, overflow := tx.TotalOutput()
	if overflow {
		return reject(ReasonAmountOverflow, "output total overflows uint64")
	}
	if total > MaxMoney {
		return reject(ReasonAmountOverflow, "output total %d exceeds MAX_MONEY", total)
	}
	for i, out := range tx.Outputs {
		if out.Amount == 0 || out.Amount > MaxMoney {
			return reject(ReasonAmountOverflow, "output %d amount %d out of range", i, out.Amount)
		}
	}
	if size := tx.SerializedSize(); size > MaxTxSize {
		return reject(ReasonOversizeTx, "serialized size %d exceeds MAX_TX_SIZE", size)
	}
	return nil
}

// checkDuplicateInputs implements spec.md §4.6 rule 2.
func (v *Validator) checkDuplicateInputs(tx chain.Transaction) error {
	seen := make(map[chain.TxOutPoint]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		op := in.Outpoint()
		if _, dup := seen[op]; dup {
			return reject(ReasonDuplicateInput, "input %x:%d referenced twice", op.PrevTxID, op.OutputIndex)
		}
		seen[op] = struct{}{}
	}
	return nil
}

// validateCoinbase implements spec.md §4.6 rule 3.
func (v *Validator) validateCoinbase(tx chain.Transaction, ctx Context) error {
	if len(tx.Inputs) != 1 || !tx.Inputs[0].Outpoint().IsCoinbase() {
		return reject(ReasonStructural, "coinbase must have exactly one synthetic input")
	}
	total, overflow := tx.TotalOutput()
	if overflow {
		return reject(ReasonAmountOverflow, "coinbase output total overflows uint64")
	}
	limit := chain.Subsidy(ctx.Height) + ctx.AggregateSiblingFees
	if total > limit {
		return reject(ReasonAmountOverflow, "coinbase pays %d, exceeds subsidy+fees %d", total, limit)
	}
	return nil
}

// validateNonCoinbase implements spec.md §4.6 rules 4-7.
func (v *Validator) validateNonCoinbase(tx chain.Transaction, ctx Context, utxos UTXOSource) (uint64, error) {
	var totalIn uint64
	for _, in := range tx.Inputs {
		if in.Outpoint().IsCoinbase() {
			return 0, reject(ReasonStructural, "non-coinbase transaction spends the coinbase outpoint marker")
		}
		utxo, err := utxos.GetUTXO(in.PrevTxID, in.OutputIndex)
		if err != nil {
			if v.NotFound != nil && v.NotFound(err) {
				return 0, reject(ReasonMissingUtxo, "no unspent output at %x:%d", in.PrevTxID, in.OutputIndex)
			}
			return 0, &StorageError{Err: err}
		}

		if utxo.IsCoinbase && ctx.Height-utxo.BlockHeight < v.CoinbaseMaturity {
			return 0, reject(ReasonImmatureCoinbase, "coinbase output %x:%d matures at height %d, spent at %d",
				in.PrevTxID, in.OutputIndex, utxo.BlockHeight+v.CoinbaseMaturity, ctx.Height)
		}

		if in.Unlocking.Kind != utxo.Locking.Kind {
			return 0, reject(ReasonLockingKindMismatch, "input %x:%d unlocking kind %s does not match output locking kind %s",
				in.PrevTxID, in.OutputIndex, in.Unlocking.Kind, utxo.Locking.Kind)
		}

		if err := v.checkSignature(tx, in, utxo.Locking); err != nil {
			return 0, err
		}

		next := totalIn + utxo.Amount
		if next < totalIn {
			return 0, reject(ReasonAmountOverflow, "input total overflows uint64")
		}
		totalIn = next
	}

	totalOut, overflow := tx.TotalOutput()
	if overflow {
		return 0, reject(ReasonAmountOverflow, "output total overflows uint64")
	}
	if totalIn < totalOut {
		return 0, reject(ReasonAmountOverflow, "inputs %d less than outputs %d", totalIn, totalOut)
	}
	return totalIn - totalOut, nil
}

// checkSignature implements spec.md §4.6 rules 5-6: the message signed is
// the transaction's SigningDigest (all input unlocking parameters cleared).
func (v *Validator) checkSignature(tx chain.Transaction, in chain.TxInput, locking chain.LockingParams) error {
	digest := tx.SigningDigest()
	switch locking.Kind {
	case chain.LockingSingleSig:
		if !crypto.VerifySingle(locking.Pubkey[:], digest, in.Unlocking.Signature) {
			return reject(ReasonBadSignature, "single-sig verification failed")
		}
	case chain.LockingMultiSig:
		if !crypto.VerifyMulti(locking.Required, locking.Total, locking.Pubkeys, in.Unlocking.Signatures, digest) {
			return reject(ReasonBadSignature, "multi-sig verification failed: need %d of %d", locking.Required, locking.Total)
		}
	default:
		return reject(ReasonLockingKindMismatch, "unknown locking kind %s", locking.Kind)
	}
	return nil
}
