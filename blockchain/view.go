package blockchain

import (
	"thunderbolt.dev/node/chain"
	"thunderbolt.dev/node/crypto"
	"thunderbolt.dev/node/store/metadb"
	"thunderbolt.dev/node/validation"
)

// branchView is a read-only UTXO overlay on top of the persistence
// service's confirmed set: created holds outputs this view considers
// unspent that the confirmed set does not (yet) know about, and removed
// holds outpoints the confirmed set still carries but this view considers
// spent. It satisfies validation.UTXOSource.
//
// A branchView materializes the UTXO state "as of" an arbitrary persisted
// block — not only the current chain head — so a side-branch candidate can
// be body-validated without mutating the real UTXO set (spec.md §4.8 step
// 3), and so the in-block overlay used while validating a block's own
// transactions can chain intra-block spends (an input spending an output
// created earlier in the same block).
type branchView struct {
	base    validation.UTXOSource
	created map[chain.TxOutPoint]chain.UTXO
	removed map[chain.TxOutPoint]struct{}
}

var _ validation.UTXOSource = (*branchView)(nil)

func (v *branchView) GetUTXO(txID crypto.Hash, index uint32) (chain.UTXO, error) {
	op := chain.TxOutPoint{PrevTxID: txID, OutputIndex: index}
	if _, gone := v.removed[op]; gone {
		return chain.UTXO{}, metadb.ErrNotFound
	}
	if u, ok := v.created[op]; ok {
		return u, nil
	}
	return v.base.GetUTXO(txID, index)
}

func (v *branchView) create(u chain.UTXO) {
	if v.created == nil {
		v.created = make(map[chain.TxOutPoint]chain.UTXO)
	}
	op := u.Outpoint()
	v.created[op] = u
	delete(v.removed, op)
}

func (v *branchView) spend(op chain.TxOutPoint) {
	if v.removed == nil {
		v.removed = make(map[chain.TxOutPoint]struct{})
	}
	v.removed[op] = struct{}{}
	delete(v.created, op)
}

// branchViewAt materializes the UTXO view as of parentID: the confirmed set
// if parentID is the current chain head, or the confirmed set adjusted by
// undoing the head's branch back to the common ancestor and replaying
// forward along parentID's own branch, if not (spec.md §4.8's rollback/
// apply phases, applied here read-only for acceptance-time validation
// rather than as a real mutation).
func (e *Engine) branchViewAt(parentID crypto.Hash) (*branchView, error) {
	v := &branchView{base: e.store}
	e.headMu.RLock()
	currentHead, hasHead := e.headID, e.hasHead
	e.headMu.RUnlock()
	if !hasHead || parentID == currentHead {
		return v, nil
	}

	ancestor, err := e.lowestCommonAncestor(currentHead, parentID)
	if err != nil {
		return nil, err
	}

	// Undo the current head's branch down to (excluding) the ancestor:
	// every output that branch created is no longer considered unspent,
	// and every output it consumed becomes unspent again.
	undoPath, err := e.pathToAncestor(currentHead, ancestor)
	if err != nil {
		return nil, err
	}
	for _, id := range undoPath {
		delta, err := e.store.ReadReverseDelta(id)
		if err != nil {
			return nil, err
		}
		for _, op := range delta.Created {
			v.spend(op)
		}
		for _, u := range delta.Consumed {
			v.create(u)
		}
	}

	// Replay parentID's own branch forward from the ancestor's child.
	applyPath, err := e.pathFromAncestor(ancestor, parentID)
	if err != nil {
		return nil, err
	}
	for _, id := range applyPath {
		delta, err := e.store.ReadReverseDelta(id)
		if err != nil {
			return nil, err
		}
		for _, u := range delta.Consumed {
			v.spend(u.Outpoint())
		}
		for _, op := range delta.Created {
			meta, err := e.store.GetBlockMetadata(id)
			if err != nil {
				return nil, err
			}
			block, err := e.store.ReadBlock(id)
			if err != nil {
				return nil, err
			}
			u, err := resolveCreatedOutput(block, op, meta.Height)
			if err != nil {
				return nil, err
			}
			v.create(u)
		}
	}
	return v, nil
}

func resolveCreatedOutput(block chain.Block, op chain.TxOutPoint, height uint64) (chain.UTXO, error) {
	for i, tx := range block.Transactions {
		if tx.TxID() != op.PrevTxID {
			continue
		}
		if int(op.OutputIndex) >= len(tx.Outputs) {
			return chain.UTXO{}, rejected("output index %d out of range for tx %x", op.OutputIndex, op.PrevTxID)
		}
		return chain.FromOutput(op.PrevTxID, op.OutputIndex, tx.Outputs[op.OutputIndex], height, i == 0), nil
	}
	return chain.UTXO{}, rejected("tx %x not found in its own block", op.PrevTxID)
}
