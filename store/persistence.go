// Package store implements the persistence service (spec.md §4.5): it
// composes the contiguous block store, reverse-delta store, and metadata
// provider into the single transactional surface the blockchain engine
// drives. Failure wrapping follows the teacher/daglabs-btcd idiom of
// github.com/pkg/errors (see DESIGN.md).
package store

import (
	"errors"
	"fmt"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"

	"thunderbolt.dev/node/chain"
	"thunderbolt.dev/node/crypto"
	"thunderbolt.dev/node/internal/logs"
	"thunderbolt.dev/node/store/blockfile"
	"thunderbolt.dev/node/store/metadb"
)

// Failure wraps an unrecoverable I/O error from persistBlock or rollback
// (spec.md §4.5, §7's "Storage failure" family). Callers distinguish it
// from metadb.ErrNotFound, which is a plain absent-key result, not a
// failure.
type Failure struct {
	Op  string
	Err error
}

func (f *Failure) Error() string { return fmt.Sprintf("store: %s: %v", f.Op, f.Err) }
func (f *Failure) Unwrap() error { return f.Err }

func fail(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Op: op, Err: pkgerrors.Wrap(err, op)}
}

// NotFound reports whether err is a metadb "absent key" result, as opposed
// to a Failure (spec.md §4.4: "NotFound ... never conflated with I/O
// errors").
func NotFound(err error) bool {
	return errors.Is(err, metadb.ErrNotFound)
}

// Service composes the block store, the reverse-delta store, and the
// metadata provider (spec.md §4.5).
type Service struct {
	blocks  *blockfile.Store
	reverts *blockfile.Store
	meta    *metadb.DB
	log     *logs.Logger
}

// Open opens (creating if absent) the three on-disk stores rooted at
// baseDir: baseDir/blocks, baseDir/reverts, baseDir/metadata/meta.db
// (spec.md §6's persisted-state layout, generalized from
// ~/.thunderbolt/blocks and /reverts and /metadata).
func Open(baseDir string) (*Service, error) {
	blocks, err := blockfile.Open(filepath.Join(baseDir, "blocks"), "block")
	if err != nil {
		return nil, fail("open block store", err)
	}
	reverts, err := blockfile.Open(filepath.Join(baseDir, "reverts"), "revert")
	if err != nil {
		return nil, fail("open revert store", err)
	}
	meta, err := metadb.Open(filepath.Join(baseDir, "metadata", "meta.db"))
	if err != nil {
		return nil, fail("open metadata db", err)
	}
	return &Service{blocks: blocks, reverts: reverts, meta: meta, log: logs.Get(logs.TagStorage)}, nil
}

// Close releases the underlying file handles.
func (s *Service) Close() error {
	if err := s.blocks.Close(); err != nil {
		return fail("close block store", err)
	}
	if err := s.reverts.Close(); err != nil {
		return fail("close revert store", err)
	}
	if err := s.meta.Close(); err != nil {
		return fail("close metadata db", err)
	}
	return nil
}

func addressKeysFor(lp chain.LockingParams) [][]byte {
	h := lp.AddressHash160()
	return [][]byte{h[:]}
}

// PersistBlock appends block and reverseDelta to their respective stores
// and writes BlockMetadata with status Validated (spec.md §4.5 step 5).
// It does not touch the UTXO set or TransactionMetadata: those only take
// effect once the block is selected onto the main chain, via ApplyBlock —
// every submitted block is durably recorded here regardless of whether it
// ends up on the main chain or as a side branch (spec.md §4.8 step 5/7).
// Ordering matches the spec exactly: reverse-delta first, then block, then
// metadata — so a failure midway leaves only orphaned (unreferenced)
// block-store bytes, never a dangling metadata pointer.
func (s *Service) PersistBlock(block chain.Block, reverseDelta chain.ReverseDelta, height uint64, cumulativeWork [32]byte, totalFees uint64) error {
	revertLoc, err := s.reverts.Append(reverseDelta.Encode())
	if err != nil {
		return fail("append reverse delta", err)
	}

	blockID := block.BlockID()
	blockLoc, err := s.blocks.Append(block.Encode())
	if err != nil {
		s.log.Critical("persistBlock %x: append block failed after reverse delta was written: %v", blockID, err)
		return fail("append block", err)
	}

	meta := chain.BlockMetadata{
		Header:         block.Header,
		Height:         height,
		CumulativeWork: cumulativeWork,
		Status:         chain.StatusValidated,
		BlockLocator:   blockLoc,
		RevertLocator:  revertLoc,
		TxCount:        uint32(len(block.Transactions)),
		TotalFees:      totalFees,
	}
	if err := s.meta.PutBlockMetadata(meta); err != nil {
		s.log.Critical("persistBlock %x: write block metadata failed: %v", blockID, err)
		return fail("write block metadata", err)
	}
	return nil
}

// ApplyBlock promotes an already-recorded (Validated) block onto the main
// chain: it writes TransactionMetadata for each contained transaction,
// applies the reverse delta's implied UTXO mutations (remove consumed, add
// created — spec.md §4.5/§4.8's apply phase), marks the block
// OnMainChain, and flushes both append-only stores. It returns the removed outpoints and added UTXOs for the
// caller to fan out as an OutputsUpdate.
func (s *Service) ApplyBlock(blockID crypto.Hash) (removed []chain.TxOutPoint, added []chain.UTXO, err error) {
	meta, err := s.meta.GetBlockMetadata(blockID)
	if err != nil {
		return nil, nil, err
	}
	block, err := s.ReadBlock(blockID)
	if err != nil {
		return nil, nil, err
	}
	delta, err := s.ReadReverseDelta(blockID)
	if err != nil {
		return nil, nil, err
	}

	offset := uint32(0)
	for _, tx := range block.Transactions {
		txBytes := tx.Encode()
		txMeta := chain.TransactionMetadata{
			TxID:    tx.TxID(),
			BlockID: blockID,
			Offset:  offset,
			Size:    uint32(len(txBytes)),
		}
		if err := s.meta.PutTransactionMetadata(txMeta); err != nil {
			s.log.Critical("applyBlock %x: write tx metadata failed: %v", blockID, err)
			return nil, nil, fail("write transaction metadata", err)
		}
		offset += uint32(len(txBytes))
	}

	for _, consumed := range delta.Consumed {
		if err := s.meta.RemoveUnspentOutput(consumed.TxID, consumed.Index, addressKeysFor(consumed.Locking)); err != nil {
			s.log.Critical("applyBlock %x: remove consumed utxo failed: %v", blockID, err)
			return nil, nil, fail("remove consumed utxo", err)
		}
		removed = append(removed, consumed.Outpoint())
	}
	for i, tx := range block.Transactions {
		isCoinbase := i == 0
		for outIdx, out := range tx.Outputs {
			u := chain.FromOutput(tx.TxID(), uint32(outIdx), out, meta.Height, isCoinbase)
			if err := s.meta.AddUnspentOutput(u, addressKeysFor(out.Locking)); err != nil {
				s.log.Critical("applyBlock %x: add created utxo failed: %v", blockID, err)
				return nil, nil, fail("add created utxo", err)
			}
			added = append(added, u)
		}
	}

	meta.Status = chain.StatusOnMainChain
	if err := s.meta.PutBlockMetadata(meta); err != nil {
		return nil, nil, fail("mark on-main-chain", err)
	}
	if err := s.Flush(); err != nil {
		return nil, nil, err
	}
	return removed, added, nil
}

// ReadBlock reads and decodes a block by id.
func (s *Service) ReadBlock(blockID crypto.Hash) (chain.Block, error) {
	meta, err := s.meta.GetBlockMetadata(blockID)
	if err != nil {
		return chain.Block{}, err
	}
	raw, err := s.blocks.Read(meta.BlockLocator)
	if err != nil {
		return chain.Block{}, fail("read block", err)
	}
	block, err := chain.DecodeBlock(raw)
	if err != nil {
		return chain.Block{}, fail("decode block", err)
	}
	return block, nil
}

// ReadReverseDelta reads and decodes a block's reverse delta.
func (s *Service) ReadReverseDelta(blockID crypto.Hash) (chain.ReverseDelta, error) {
	meta, err := s.meta.GetBlockMetadata(blockID)
	if err != nil {
		return chain.ReverseDelta{}, err
	}
	raw, err := s.reverts.Read(meta.RevertLocator)
	if err != nil {
		return chain.ReverseDelta{}, fail("read reverse delta", err)
	}
	delta, err := chain.DecodeReverseDelta(raw)
	if err != nil {
		return chain.ReverseDelta{}, fail("decode reverse delta", err)
	}
	return delta, nil
}

// GetUTXO looks up a UTXO by outpoint.
func (s *Service) GetUTXO(txID crypto.Hash, index uint32) (chain.UTXO, error) {
	return s.meta.GetUTXO(txID, index)
}

// GetTransaction resolves a transaction id to its decoded transaction, by
// reading its containing block and finding the transaction there by id.
func (s *Service) GetTransaction(txID crypto.Hash) (chain.Transaction, error) {
	txMeta, err := s.meta.GetTransactionMetadata(txID)
	if err != nil {
		return chain.Transaction{}, err
	}
	block, err := s.ReadBlock(txMeta.BlockID)
	if err != nil {
		return chain.Transaction{}, err
	}
	for _, tx := range block.Transactions {
		if tx.TxID() == txID {
			return tx, nil
		}
	}
	return chain.Transaction{}, fail("get transaction", pkgerrors.Errorf("tx %x indexed under block %x but not found in it", txID, txMeta.BlockID))
}

// HasTransaction reports whether txID has a recorded canonical location.
func (s *Service) HasTransaction(txID crypto.Hash) (bool, error) {
	return s.meta.HasTransaction(txID)
}

// GetBlockMetadata is a passthrough to the metadata provider, used by the
// blockchain engine to inspect height/status/cumulative work without
// reading the full block body.
func (s *Service) GetBlockMetadata(blockID crypto.Hash) (chain.BlockMetadata, error) {
	return s.meta.GetBlockMetadata(blockID)
}

// GetUnspentOutputsForAddress returns every UTXO indexed under an address's
// 20-byte hash.
func (s *Service) GetUnspentOutputsForAddress(hash160 [20]byte) ([]chain.UTXO, error) {
	return s.meta.GetUnspentOutputsForAddress(hash160[:])
}

// GetChainHead returns the current chain-head block id.
func (s *Service) GetChainHead() (crypto.Hash, error) {
	return s.meta.GetChainHead()
}

// SetChainHead atomically updates the chain-head pointer.
func (s *Service) SetChainHead(blockID crypto.Hash) error {
	if err := s.meta.SetChainHead(blockID); err != nil {
		return fail("set chain head", err)
	}
	return nil
}

// Rollback applies blockID's reverse delta (re-inserting every consumed
// UTXO, removing every created one), removes its TransactionMetadata
// entries, and marks it Stale (spec.md §4.5). It returns the outpoints that
// left the UTXO set and the UTXOs that re-entered it, mirroring ApplyBlock,
// for the caller to fan out as an OutputsUpdate.
func (s *Service) Rollback(blockID crypto.Hash) (removed []chain.TxOutPoint, added []chain.UTXO, err error) {
	meta, err := s.meta.GetBlockMetadata(blockID)
	if err != nil {
		return nil, nil, err
	}
	delta, err := s.ReadReverseDelta(blockID)
	if err != nil {
		return nil, nil, err
	}
	block, err := s.ReadBlock(blockID)
	if err != nil {
		return nil, nil, err
	}

	for _, op := range delta.Created {
		locking, err := lockingForCreated(block, op)
		if err != nil {
			return nil, nil, fail("rollback: resolve created output", err)
		}
		if err := s.meta.RemoveUnspentOutput(op.PrevTxID, op.OutputIndex, addressKeysFor(locking)); err != nil {
			return nil, nil, fail("rollback: remove created utxo", err)
		}
		removed = append(removed, op)
	}
	for _, u := range delta.Consumed {
		if err := s.meta.AddUnspentOutput(u, addressKeysFor(u.Locking)); err != nil {
			return nil, nil, fail("rollback: re-add consumed utxo", err)
		}
		added = append(added, u)
	}
	for _, tx := range block.Transactions {
		if err := s.meta.DeleteTransactionMetadata(tx.TxID()); err != nil {
			return nil, nil, fail("rollback: delete tx metadata", err)
		}
	}

	meta.Status = chain.StatusStale
	if err := s.meta.PutBlockMetadata(meta); err != nil {
		return nil, nil, fail("rollback: mark stale", err)
	}
	return removed, added, nil
}

func lockingForCreated(block chain.Block, op chain.TxOutPoint) (chain.LockingParams, error) {
	for _, tx := range block.Transactions {
		if tx.TxID() != op.PrevTxID {
			continue
		}
		if int(op.OutputIndex) >= len(tx.Outputs) {
			return chain.LockingParams{}, pkgerrors.Errorf("output index %d out of range for tx %x", op.OutputIndex, op.PrevTxID)
		}
		return tx.Outputs[op.OutputIndex].Locking, nil
	}
	return chain.LockingParams{}, pkgerrors.Errorf("tx %x not found in its own block", op.PrevTxID)
}

// Flush fsyncs both append-only stores; ApplyBlock calls it after every
// block it commits to the main chain (spec.md §4.3).
func (s *Service) Flush() error {
	if err := s.blocks.Flush(); err != nil {
		return fail("flush block store", err)
	}
	if err := s.reverts.Flush(); err != nil {
		return fail("flush revert store", err)
	}
	return nil
}
