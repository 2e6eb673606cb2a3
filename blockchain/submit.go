package blockchain

import (
	"time"

	"thunderbolt.dev/node/chain"
	"thunderbolt.dev/node/crypto"
	"thunderbolt.dev/node/store"
	"thunderbolt.dev/node/validation"
)

// SubmitBlock runs the full block state machine (spec.md §4.8): header
// validation, body validation, cumulative-work computation, persistence as
// Validated, and — if this block's chain now outweighs the current head —
// promotion via reorganization. Submitting an already-known block is a
// no-op. Not cancellable mid-commit (spec.md §5).
func (e *Engine) SubmitBlock(block chain.Block) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	blockID := block.BlockID()

	if _, err := e.store.GetBlockMetadata(blockID); err == nil {
		return nil // step 1: already known.
	} else if !store.NotFound(err) {
		return err
	}

	if blockID == e.genesisID {
		return e.submitGenesis(block)
	}

	if !e.hasHead {
		return rejected("no chain head established; expected genesis %x first", e.genesisID)
	}

	parentMeta, err := e.store.GetBlockMetadata(block.Header.ParentHash)
	if err != nil {
		if store.NotFound(err) {
			return rejected("parent %x unknown", block.Header.ParentHash)
		}
		return err
	}
	height := parentMeta.Height + 1

	if err := e.validateHeader(block.Header, parentMeta, height, time.Now()); err != nil {
		return err
	}

	// Body validation (step 3) runs against the UTXO view implied by the
	// new block's own parent, which may not be the current head (a side
	// branch): branchView materializes that view read-only so acceptance
	// of a side branch never mutates the confirmed UTXO set.
	view, err := e.branchViewAt(block.Header.ParentHash)
	if err != nil {
		return err
	}
	reverseDelta, totalFees, err := e.validateBody(block, height, view)
	if err != nil {
		return err
	}

	work := chain.Work(chain.CompactToTarget(block.Header.TargetDifficulty))
	cumulativeWork := chain.AddWork(parentMeta.CumulativeWork, work)

	if err := e.store.PersistBlock(block, reverseDelta, height, cumulativeWork, totalFees); err != nil {
		return err
	}

	e.headMu.RLock()
	currentHeadWork := e.headMeta.CumulativeWork
	e.headMu.RUnlock()
	if chain.CompareWork(cumulativeWork, currentHeadWork) > 0 {
		return e.promote(block, height, cumulativeWork)
	}
	return nil // step 7: accepted as a non-head side branch.
}

// submitGenesis accepts the predefined genesis block as height 0 (spec.md §8
// scenario 1): no parent to resolve, no retargeting. Its structure, proof of
// work and transactions are still validated, and a failure rejects it.
func (e *Engine) submitGenesis(block chain.Block) error {
	if err := e.validateStructure(block); err != nil {
		return err
	}
	if !chain.CheckProofOfWork(block.Header) {
		return rejected("genesis proof of work invalid")
	}
	view := &branchView{base: e.store}
	reverseDelta, totalFees, err := e.validateTransactions(block, 0, view)
	if err != nil {
		return err
	}
	work := chain.Work(chain.CompactToTarget(block.Header.TargetDifficulty))
	cumulativeWork := chain.CumulativeWorkBytes(work)

	if err := e.store.PersistBlock(block, reverseDelta, 0, cumulativeWork, totalFees); err != nil {
		return err
	}
	removed, added, err := e.store.ApplyBlock(block.BlockID())
	if err != nil {
		return err
	}
	if err := e.store.SetChainHead(block.BlockID()); err != nil {
		return err
	}
	meta, err := e.store.GetBlockMetadata(block.BlockID())
	if err != nil {
		return err
	}
	e.headMu.Lock()
	e.headID, e.headMeta, e.hasHead = block.BlockID(), meta, true
	e.headMu.Unlock()

	e.fireOutputsUpdate(removed, added)
	e.fireBlockCommitted(block, 0)
	e.fireChainHeadChanged(block.BlockID(), 0)
	return nil
}

// validateHeader implements spec.md §4.8 step 2.
func (e *Engine) validateHeader(header chain.BlockHeader, parent chain.BlockMetadata, height uint64, now time.Time) error {
	if int64(header.Timestamp) > now.Add(MaxClockDrift).Unix() {
		return rejected("timestamp %d more than %s ahead of local clock", header.Timestamp, MaxClockDrift)
	}
	expected, err := e.expectedDifficulty(parent, height)
	if err != nil {
		return err
	}
	if header.TargetDifficulty != expected {
		return rejected("target difficulty %08x does not match expected %08x", header.TargetDifficulty, expected)
	}
	if !chain.CheckProofOfWork(header) {
		return rejected("proof of work invalid for block at height %d", height)
	}
	return nil
}

// expectedDifficulty implements the RETARGET_INTERVAL rule (spec.md §4.8):
// every 2016 blocks, the target is recomputed from the actual vs ideal
// elapsed time of the window that just closed; otherwise it is inherited
// unchanged from the parent.
func (e *Engine) expectedDifficulty(parent chain.BlockMetadata, height uint64) (uint32, error) {
	if height%chain.RetargetInterval != 0 {
		return parent.Header.TargetDifficulty, nil
	}
	windowStartHeight := height - chain.RetargetInterval
	windowStart, err := e.ancestorAtHeight(parent.BlockID(), windowStartHeight)
	if err != nil {
		return 0, err
	}
	actualTimespan := int64(parent.Header.Timestamp) - int64(windowStart.Header.Timestamp)
	return chain.ExpectedTarget(windowStart.Header.TargetDifficulty, actualTimespan), nil
}

// ancestorAtHeight walks parent pointers back from fromID until it reaches
// targetHeight (grounded on the teacher's findForkPoint-style height-
// equalizing walk in node/store/reorg.go).
func (e *Engine) ancestorAtHeight(fromID crypto.Hash, targetHeight uint64) (chain.BlockMetadata, error) {
	cur, err := e.store.GetBlockMetadata(fromID)
	if err != nil {
		return chain.BlockMetadata{}, err
	}
	for cur.Height > targetHeight {
		cur, err = e.store.GetBlockMetadata(cur.Header.ParentHash)
		if err != nil {
			return chain.BlockMetadata{}, err
		}
	}
	if cur.Height != targetHeight {
		return chain.BlockMetadata{}, rejected("ancestor at height %d not found", targetHeight)
	}
	return cur, nil
}

// validateStructure implements the shape half of spec.md §4.8 step 3,
// independent of any UTXO view: merkle root, tx count, coinbase position,
// and serialized size.
func (e *Engine) validateStructure(block chain.Block) error {
	if len(block.Transactions) == 0 {
		return rejected("block has no transactions")
	}
	if !block.Transactions[0].IsCoinbase() {
		return rejected("first transaction is not coinbase-shaped")
	}
	for i, tx := range block.Transactions[1:] {
		if tx.IsCoinbase() {
			return rejected("transaction %d is coinbase-shaped outside position 0", i+1)
		}
	}
	if block.ComputeMerkleRoot() != block.Header.MerkleRoot {
		return rejected("merkle root mismatch")
	}
	if len(block.Encode()) > MaxBlockSize {
		return rejected("block exceeds MAX_BLOCK_SIZE")
	}
	return nil
}

// validateBody implements spec.md §4.8 step 3 in full: structural shape
// plus per-transaction validation against view, producing the reverse
// delta persistBlock needs.
func (e *Engine) validateBody(block chain.Block, height uint64, view *branchView) (chain.ReverseDelta, uint64, error) {
	if err := e.validateStructure(block); err != nil {
		return chain.ReverseDelta{}, 0, err
	}
	return e.validateTransactions(block, height, view)
}

// validateTransactions runs §4.6 over every transaction in block, threading
// an in-block UTXO overlay so a later transaction may spend an earlier
// one's output within the same block. The coinbase (position 0) is
// validated last, once every sibling's fee is known, since its own payout
// limit depends on their sum (spec.md §4.6 rule 3).
func (e *Engine) validateTransactions(block chain.Block, height uint64, view *branchView) (chain.ReverseDelta, uint64, error) {
	var delta chain.ReverseDelta
	var aggregateFees uint64

	for _, tx := range block.Transactions[1:] {
		fee, err := e.validator.Validate(tx, validation.Context{Height: height, IsCoinbase: false}, view)
		if err != nil {
			return chain.ReverseDelta{}, 0, err
		}
		aggregateFees += fee
		for _, in := range tx.Inputs {
			consumed, err := view.GetUTXO(in.PrevTxID, in.OutputIndex)
			if err != nil {
				return chain.ReverseDelta{}, 0, err
			}
			view.spend(in.Outpoint())
			delta.Consumed = append(delta.Consumed, consumed)
		}
		for outIdx, out := range tx.Outputs {
			u := chain.FromOutput(tx.TxID(), uint32(outIdx), out, height, false)
			view.create(u)
			delta.Created = append(delta.Created, u.Outpoint())
		}
	}

	coinbase := block.Transactions[0]
	ctx := validation.Context{Height: height, IsCoinbase: true, AggregateSiblingFees: aggregateFees}
	if _, err := e.validator.Validate(coinbase, ctx, view); err != nil {
		return chain.ReverseDelta{}, 0, err
	}
	for outIdx, out := range coinbase.Outputs {
		u := chain.FromOutput(coinbase.TxID(), uint32(outIdx), out, height, true)
		view.create(u)
		delta.Created = append(delta.Created, u.Outpoint())
	}

	return delta, aggregateFees, nil
}
