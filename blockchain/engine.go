// Package blockchain implements the blockchain engine (spec.md §4.8): block
// state machine, header/body validation, chain-head selection, and
// reorganization with synchronous ordered listener fan-out. It is the
// central collaborator that drives the persistence service and the
// transaction validator; mempool and wallet plug in as listeners against
// the narrow capability interfaces declared below rather than as stored
// back-references, per spec.md §9's cyclic-reference design note.
package blockchain

import (
	"fmt"
	"sync"
	"time"

	"thunderbolt.dev/node/chain"
	"thunderbolt.dev/node/crypto"
	"thunderbolt.dev/node/internal/logs"
	"thunderbolt.dev/node/store"
	"thunderbolt.dev/node/validation"
)

// MaxClockDrift bounds how far into the future a block's timestamp may sit
// relative to the local clock (spec.md §4.8 step 2).
const MaxClockDrift = 2 * time.Hour

// MaxBlockSize bounds a block's serialized size (spec.md §4.8 step 3). Not
// named explicitly in spec.md's prose beyond "MAX_BLOCK_SIZE"; chosen to
// match the teacher's conventional block-size ceiling (see DESIGN.md).
const MaxBlockSize = 1_000_000

// RejectedError is a header/body validation rejection (spec.md §7 family 1):
// the block is discarded and left unpersisted.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "blockchain: rejected: " + e.Reason }

func rejected(format string, args ...any) error {
	return &RejectedError{Reason: fmt.Sprintf(format, args...)}
}

// IsRejected reports whether err is a block rejection.
func IsRejected(err error) bool {
	_, ok := err.(*RejectedError)
	return ok
}

// ReorganizationFailedError is returned when the apply phase of a reorg
// fails partway; the engine has already restored the previous head before
// returning it (spec.md §4.8 step 6, §7's "coherent state" guarantee).
type ReorganizationFailedError struct {
	Cause error
}

func (e *ReorganizationFailedError) Error() string {
	return fmt.Sprintf("blockchain: reorganization failed, previous head restored: %v", e.Cause)
}
func (e *ReorganizationFailedError) Unwrap() error { return e.Cause }

// OutputsUpdateListener is notified of UTXO-set changes before
// BlockCommittedListeners are, so a listener such as the mempool observes a
// consistent view when it reacts (spec.md §4.8: "UTXO-set changes are
// published before block-committed events").
type OutputsUpdateListener interface {
	OnOutputsUpdate(removed []chain.TxOutPoint, added []chain.UTXO) error
}

// BlockCommittedListener is notified after a block is applied to the main
// chain.
type BlockCommittedListener interface {
	OnBlockCommitted(block chain.Block, height uint64)
}

// BlockDisconnectedListener is notified after a block is rolled back off the
// main chain during reorganization (spec.md §4.8 step 6's rollback phase),
// once per disconnected block, tip-first. It carries the block itself,
// rather than leaving listeners to infer its contents from the UTXO-level
// OutputsUpdate fan-out: a rollback's restored UTXOs are keyed by the
// transactions that originally created them (the disconnected branch's
// ancestors), not by the disconnected block's own transactions, so they
// cannot stand in for it.
type BlockDisconnectedListener interface {
	OnBlockDisconnected(block chain.Block, height uint64)
}

// ChainHeadChangedListener is notified once, after all per-block fan-out for
// a submitBlock call completes (spec.md §4.8's final "Update chain-head
// pointer atomically" plus §5's notification ordering).
type ChainHeadChangedListener interface {
	OnChainHeadChanged(headID crypto.Hash, height uint64)
}

// Engine is the central blockchain object (spec.md §4.8): network
// parameters, validator, persistence service, and chain-head cache.
type Engine struct {
	genesisID crypto.Hash

	validator *validation.Validator
	store     *store.Service
	log       *logs.Logger

	writeMu sync.Mutex

	headMu   sync.RWMutex
	headID   crypto.Hash
	headMeta chain.BlockMetadata
	hasHead  bool

	listenerMu         sync.RWMutex
	outputsListeners   []OutputsUpdateListener
	committedListeners []BlockCommittedListener
	disconnectListeners []BlockDisconnectedListener
	headListeners      []ChainHeadChangedListener
}

// New constructs an Engine. genesis is the predefined genesis block (spec.md
// §8 scenario 1): its parent hash is never resolved, and the first time it is
// submitted it becomes height 0 once its structure, proof of work and
// transactions pass validation.
func New(genesis chain.Block, validator *validation.Validator, persistence *store.Service) *Engine {
	e := &Engine{
		genesisID: genesis.BlockID(),
		validator: validator,
		store:     persistence,
		log:       logs.Get(logs.TagBlockchain),
	}
	if headID, err := persistence.GetChainHead(); err == nil {
		if meta, err := persistence.GetBlockMetadata(headID); err == nil {
			e.headID, e.headMeta, e.hasHead = headID, meta, true
		}
	}
	return e
}

// AddOutputsUpdateListener registers l for future UTXO-set change fan-out.
func (e *Engine) AddOutputsUpdateListener(l OutputsUpdateListener) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.outputsListeners = append(e.outputsListeners, l)
}

// AddBlockCommittedListener registers l for future block-committed fan-out.
func (e *Engine) AddBlockCommittedListener(l BlockCommittedListener) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.committedListeners = append(e.committedListeners, l)
}

// AddBlockDisconnectedListener registers l for future block-disconnected
// fan-out.
func (e *Engine) AddBlockDisconnectedListener(l BlockDisconnectedListener) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.disconnectListeners = append(e.disconnectListeners, l)
}

// AddChainHeadChangedListener registers l for future chain-head-change
// notifications.
func (e *Engine) AddChainHeadChangedListener(l ChainHeadChangedListener) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.headListeners = append(e.headListeners, l)
}

func (e *Engine) fireOutputsUpdate(removed []chain.TxOutPoint, added []chain.UTXO) {
	if len(removed) == 0 && len(added) == 0 {
		return
	}
	e.listenerMu.RLock()
	listeners := append([]OutputsUpdateListener(nil), e.outputsListeners...)
	e.listenerMu.RUnlock()
	// Reentrancy rule (spec.md §5): listeners must not call back into the
	// engine's writer from within this notification. We hold writeMu for
	// the whole submitBlock call, so any such call would deadlock rather
	// than corrupt state — a cheap enforcement of the forbidden case.
	for _, l := range listeners {
		if err := l.OnOutputsUpdate(removed, added); err != nil {
			e.log.Warn("outputs-update listener returned error: %v", err)
		}
	}
}

func (e *Engine) fireBlockCommitted(block chain.Block, height uint64) {
	e.listenerMu.RLock()
	listeners := append([]BlockCommittedListener(nil), e.committedListeners...)
	e.listenerMu.RUnlock()
	for _, l := range listeners {
		l.OnBlockCommitted(block, height)
	}
}

func (e *Engine) fireBlockDisconnected(block chain.Block, height uint64) {
	e.listenerMu.RLock()
	listeners := append([]BlockDisconnectedListener(nil), e.disconnectListeners...)
	e.listenerMu.RUnlock()
	for _, l := range listeners {
		l.OnBlockDisconnected(block, height)
	}
}

func (e *Engine) fireChainHeadChanged(headID crypto.Hash, height uint64) {
	e.listenerMu.RLock()
	listeners := append([]ChainHeadChangedListener(nil), e.headListeners...)
	e.listenerMu.RUnlock()
	for _, l := range listeners {
		l.OnChainHeadChanged(headID, height)
	}
}

// ChainHeight returns the current chain-head height, satisfying
// mempool.HeightSource.
func (e *Engine) ChainHeight() uint64 {
	e.headMu.RLock()
	defer e.headMu.RUnlock()
	return e.headMeta.Height
}

// ChainHead returns the current head block id and height.
func (e *Engine) ChainHead() (crypto.Hash, uint64, bool) {
	e.headMu.RLock()
	defer e.headMu.RUnlock()
	return e.headID, e.headMeta.Height, e.hasHead
}

// GetUTXO satisfies validation.UTXOSource, reading through to the
// persistence service's confirmed UTXO set.
func (e *Engine) GetUTXO(txID crypto.Hash, index uint32) (chain.UTXO, error) {
	return e.store.GetUTXO(txID, index)
}

// GetBlock reads a block by id (spec.md §6's core surface).
func (e *Engine) GetBlock(blockID crypto.Hash) (chain.Block, error) {
	return e.store.ReadBlock(blockID)
}

// GetBlockMetadata reads a block's bookkeeping record by id.
func (e *Engine) GetBlockMetadata(blockID crypto.Hash) (chain.BlockMetadata, error) {
	return e.store.GetBlockMetadata(blockID)
}

// GetTransaction resolves a confirmed transaction id to its transaction.
func (e *Engine) GetTransaction(txID crypto.Hash) (chain.Transaction, error) {
	return e.store.GetTransaction(txID)
}
