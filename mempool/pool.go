// Package mempool implements the fee-priority transaction pool (spec.md
// §4.7): admission revalidation against the confirmed UTXO set, stable
// fee-per-byte selection for block templates, age/UTXO-liveness eviction,
// and the blockchain engine's OutputsUpdate fan-out contract. The pool
// shape (an all-transactions map plus a fee-ordered index, maintained under
// one lock) is grounded on daglabs-btcd's domain/miningmanager/mempool
// transactionsPool.
package mempool

import (
	"context"
	"sort"
	"sync"
	"time"

	"thunderbolt.dev/node/chain"
	"thunderbolt.dev/node/crypto"
	"thunderbolt.dev/node/internal/logs"
	"thunderbolt.dev/node/validation"
)

// MaxMempoolAge is MAX_MEMPOOL_AGE from spec.md §4.7: entries older than
// this are evicted by Cleanup.
const MaxMempoolAge = 72 * time.Hour

// Entry is a single pool member: its transaction, serialized size, and the
// fee it pays (spec.md §4.7).
type Entry struct {
	Tx        chain.Transaction
	Size      int
	Fee       uint64
	addedAt   time.Time
	insertSeq uint64
}

// FeePerByte is the entry's fee-rate, used for selection ordering.
func (e *Entry) FeePerByte() float64 {
	if e.Size == 0 {
		return 0
	}
	return float64(e.Fee) / float64(e.Size)
}

// AddedListener is notified after a transaction is accepted into the pool.
type AddedListener interface {
	TransactionAdded(tx chain.Transaction)
}

// RemovedListener is notified after a transaction leaves the pool, for any
// reason (explicit removal, confirmation, or eviction).
type RemovedListener interface {
	TransactionRemoved(txID crypto.Hash)
}

// HeightSource reports the current chain height, used to re-derive coinbase
// maturity during admission revalidation.
type HeightSource interface {
	ChainHeight() uint64
}

// Pool is the concurrent fee-priority transaction pool.
type Pool struct {
	mu sync.RWMutex

	validator *validation.Validator
	utxos     validation.UTXOSource
	height    HeightSource

	entries        map[crypto.Hash]*Entry
	spentBy        map[chain.TxOutPoint][]crypto.Hash // outpoint -> ids of pool entries spending it
	addedListeners []AddedListener
	removedListeners []RemovedListener
	nextSeq        uint64

	log *logs.Logger
}

// New constructs an empty Pool. validator revalidates admissions against
// utxos (the canonical, confirmed UTXO set — never the pool's own pending
// state); height supplies the current chain height for maturity checks.
func New(validator *validation.Validator, utxos validation.UTXOSource, height HeightSource) *Pool {
	return &Pool{
		validator: validator,
		utxos:     utxos,
		height:    height,
		entries:   make(map[crypto.Hash]*Entry),
		spentBy:   make(map[chain.TxOutPoint][]crypto.Hash),
		log:       logs.Get(logs.TagMempool),
	}
}

// AddAddedListener registers l to be notified of future admissions.
func (p *Pool) AddAddedListener(l AddedListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addedListeners = append(p.addedListeners, l)
}

// AddRemovedListener registers l to be notified of future removals.
func (p *Pool) AddRemovedListener(l RemovedListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removedListeners = append(p.removedListeners, l)
}

// Contains reports whether txID is currently in the pool (spec.md §8's
// mempool eviction/re-admission properties).
func (p *Pool) Contains(txID crypto.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.entries[txID]
	return ok
}

// Add revalidates tx against the confirmed UTXO set and, if it passes,
// inserts it (spec.md §4.7). Coinbase transactions are rejected outright.
// Re-entrant: callers must not hold the pool's lock (e.g. from within a
// listener callback) when calling this — see spec.md §5's reentrancy rule.
func (p *Pool) Add(tx chain.Transaction) error {
	if tx.IsCoinbase() {
		return &validation.RejectionError{Reason: validation.ReasonStructural, Msg: "coinbase transactions are not admissible to the mempool"}
	}
	txID := tx.TxID()

	p.mu.Lock()
	if _, exists := p.entries[txID]; exists {
		p.mu.Unlock()
		return &validation.RejectionError{Reason: validation.ReasonStructural, Msg: "transaction already in mempool"}
	}
	p.mu.Unlock()

	fee, err := p.validator.Validate(tx, validation.Context{Height: p.height.ChainHeight(), IsCoinbase: false}, p.utxos)
	if err != nil {
		p.log.Debug("reject %x: %v", txID, err)
		return err
	}

	entry := &Entry{Tx: tx, Size: tx.SerializedSize(), Fee: fee, addedAt: time.Now()}

	p.mu.Lock()
	if _, exists := p.entries[txID]; exists {
		p.mu.Unlock()
		return &validation.RejectionError{Reason: validation.ReasonStructural, Msg: "transaction already in mempool"}
	}
	entry.insertSeq = p.nextSeq
	p.nextSeq++
	p.entries[txID] = entry
	for _, in := range tx.Inputs {
		op := in.Outpoint()
		p.spentBy[op] = append(p.spentBy[op], txID)
	}
	listeners := append([]AddedListener(nil), p.addedListeners...)
	p.mu.Unlock()

	for _, l := range listeners {
		l.TransactionAdded(tx)
	}
	return nil
}

// Remove evicts txID and notifies RemovedListeners (spec.md §4.7).
func (p *Pool) Remove(txID crypto.Hash) {
	p.mu.Lock()
	entry, ok := p.entries[txID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.entries, txID)
	for _, in := range entry.Tx.Inputs {
		op := in.Outpoint()
		p.spentBy[op] = removeID(p.spentBy[op], txID)
		if len(p.spentBy[op]) == 0 {
			delete(p.spentBy, op)
		}
	}
	listeners := append([]RemovedListener(nil), p.removedListeners...)
	p.mu.Unlock()

	for _, l := range listeners {
		l.TransactionRemoved(txID)
	}
}

func removeID(ids []crypto.Hash, target crypto.Hash) []crypto.Hash {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// PickTransactions selects transactions in descending (feePerByte, fee,
// insertion order) priority until the next candidate would exceed
// budgetBytes (spec.md §4.7). The selection is stable: identical pools and
// budgets always return identical lists. Two entries that spend the same
// outpoint never both appear; the lower-fee one is skipped, not evicted.
func (p *Pool) PickTransactions(budgetBytes int) []chain.Transaction {
	p.mu.RLock()
	candidates := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		candidates = append(candidates, e)
	}
	p.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.FeePerByte() != b.FeePerByte() {
			return a.FeePerByte() > b.FeePerByte()
		}
		if a.Fee != b.Fee {
			return a.Fee > b.Fee
		}
		return a.insertSeq < b.insertSeq
	})

	var selected []chain.Transaction
	claimed := make(map[chain.TxOutPoint]struct{})
	usedBytes := 0
	for _, e := range candidates {
		conflict := false
		for _, in := range e.Tx.Inputs {
			if _, taken := claimed[in.Outpoint()]; taken {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		if usedBytes+e.Size > budgetBytes {
			break
		}
		for _, in := range e.Tx.Inputs {
			claimed[in.Outpoint()] = struct{}{}
		}
		usedBytes += e.Size
		selected = append(selected, e.Tx)
	}
	return selected
}

// Cleanup evicts entries older than MaxMempoolAge or whose inputs no longer
// resolve in the confirmed UTXO set (spec.md §4.7). Cancellable at entry
// boundaries (spec.md §5): ctx is checked once per candidate.
func (p *Pool) Cleanup(ctx context.Context, now time.Time) {
	p.mu.RLock()
	candidates := make([]crypto.Hash, 0, len(p.entries))
	for id := range p.entries {
		candidates = append(candidates, id)
	}
	p.mu.RUnlock()

	for _, id := range candidates {
		if ctx.Err() != nil {
			return
		}
		p.mu.RLock()
		entry, ok := p.entries[id]
		p.mu.RUnlock()
		if !ok {
			continue
		}
		if now.Sub(entry.addedAt) > MaxMempoolAge {
			p.Remove(id)
			continue
		}
		stale := false
		for _, in := range entry.Tx.Inputs {
			if _, err := p.utxos.GetUTXO(in.PrevTxID, in.OutputIndex); err != nil {
				stale = true
				break
			}
		}
		if stale {
			p.Remove(id)
		}
	}
}

// OnOutputsUpdate implements the blockchain engine's OutputsUpdateListener
// contract (spec.md §4.7): outpoints confirmed in a committed block silently
// drop their matching pool entries. Re-admission of a rolled-back block's
// transactions is handled separately, by OnBlockDisconnected: the "added"
// half of a rollback's OutputsUpdate is keyed by the transactions that
// originally created the restored UTXOs (the disconnected branch's
// ancestors), not by the disconnected block's own transactions, so it
// cannot be used to recover them.
func (p *Pool) OnOutputsUpdate(removed []chain.TxOutPoint, added []chain.UTXO) error {
	for _, op := range removed {
		p.mu.RLock()
		ids := append([]crypto.Hash(nil), p.spentBy[op]...)
		p.mu.RUnlock()
		for _, id := range ids {
			p.Remove(id)
		}
	}
	return nil
}

// OnBlockDisconnected implements the blockchain engine's
// BlockDisconnectedListener contract (spec.md §4.7, §8 scenario 3): a
// disconnected block's non-coinbase transactions return to unconfirmed
// state, so each is re-admitted through the normal Add path, including
// revalidation against the (now rewound) confirmed UTXO set.
func (p *Pool) OnBlockDisconnected(block chain.Block, height uint64) {
	for i, tx := range block.Transactions {
		if i == 0 {
			continue // coinbases are never mempool-admissible.
		}
		txID := tx.TxID()
		if p.Contains(txID) {
			continue
		}
		if err := p.Add(tx); err != nil {
			p.log.Debug("re-admission of %x after disconnecting block at height %d rejected: %v", txID, height, err)
		}
	}
}
