package blockchain

import (
	"thunderbolt.dev/node/chain"
	"thunderbolt.dev/node/crypto"
)

// promote runs spec.md §4.8 step 6: newBlock's chain now outweighs the
// current head, so the engine rolls the head's branch back to their lowest
// common ancestor and applies newBlock's branch forward from there.
func (e *Engine) promote(newBlock chain.Block, height uint64, cumulativeWork [32]byte) error {
	newID := newBlock.BlockID()
	e.headMu.RLock()
	currentHead := e.headID
	e.headMu.RUnlock()

	ancestor, err := e.lowestCommonAncestor(currentHead, newID)
	if err != nil {
		return err
	}

	rollbackPath, err := e.pathToAncestor(currentHead, ancestor)
	if err != nil {
		return err
	}
	for _, id := range rollbackPath {
		disconnected, err := e.store.ReadBlock(id)
		if err != nil {
			return err
		}
		disconnectedMeta, err := e.store.GetBlockMetadata(id)
		if err != nil {
			return err
		}
		removed, added, err := e.store.Rollback(id)
		if err != nil {
			return err
		}
		e.fireOutputsUpdate(removed, added)
		e.fireBlockDisconnected(disconnected, disconnectedMeta.Height)
	}

	applyPath, err := e.pathFromAncestor(ancestor, newID)
	if err != nil {
		return err
	}

	applied := make([]crypto.Hash, 0, len(applyPath))
	for _, id := range applyPath {
		block, err := e.store.ReadBlock(id)
		if err != nil {
			return err
		}
		meta, err := e.store.GetBlockMetadata(id)
		if err != nil {
			return err
		}

		// Re-run full body validation against the now-rewound (and, for
		// prior iterations of this loop, already re-applied) UTXO set
		// (spec.md §4.8 step 6). The plain store is the correct view
		// here: earlier steps in this loop already mutated it for real.
		view := &branchView{base: e.store}
		if _, _, err := e.validateBody(block, meta.Height, view); err != nil {
			if recErr := e.restorePreviousHead(applied, rollbackPath); recErr != nil {
				e.log.Critical("reorganization recovery failed after apply-phase rejection of %x: %v", id, recErr)
				return recErr
			}
			return &ReorganizationFailedError{Cause: err}
		}

		removed, added, err := e.store.ApplyBlock(id)
		if err != nil {
			if recErr := e.restorePreviousHead(applied, rollbackPath); recErr != nil {
				e.log.Critical("reorganization recovery failed after apply-phase storage error on %x: %v", id, recErr)
				return recErr
			}
			return &ReorganizationFailedError{Cause: err}
		}
		applied = append(applied, id)
		e.fireOutputsUpdate(removed, added)
		e.fireBlockCommitted(block, meta.Height)
	}

	if err := e.store.SetChainHead(newID); err != nil {
		return err
	}
	newMeta, err := e.store.GetBlockMetadata(newID)
	if err != nil {
		return err
	}
	e.headMu.Lock()
	e.headID, e.headMeta, e.hasHead = newID, newMeta, true
	e.headMu.Unlock()
	e.fireChainHeadChanged(newID, newMeta.Height)
	return nil
}

// restorePreviousHead undoes whatever prefix of the new branch was applied
// before a failure, then re-applies the original head's branch, restoring
// the chain to exactly the state it was in before promote was called
// (spec.md §7: "the chain must end in a coherent state regardless of
// failure"). The chain-head pointer itself was never moved (promote only
// writes it after the whole apply phase succeeds), so nothing needs
// restoring there.
func (e *Engine) restorePreviousHead(applied []crypto.Hash, rollbackPath []crypto.Hash) error {
	for i := len(applied) - 1; i >= 0; i-- {
		if _, _, err := e.store.Rollback(applied[i]); err != nil {
			return err
		}
	}
	for i := len(rollbackPath) - 1; i >= 0; i-- {
		if _, _, err := e.store.ApplyBlock(rollbackPath[i]); err != nil {
			return err
		}
	}
	return nil
}

// lowestCommonAncestor finds the fork point of a and b via a height-
// equalized parent walk (grounded on node/store/reorg.go's findForkPoint).
func (e *Engine) lowestCommonAncestor(a, b crypto.Hash) (crypto.Hash, error) {
	ma, err := e.store.GetBlockMetadata(a)
	if err != nil {
		return crypto.Hash{}, err
	}
	mb, err := e.store.GetBlockMetadata(b)
	if err != nil {
		return crypto.Hash{}, err
	}
	for ma.Height > mb.Height {
		a = ma.Header.ParentHash
		if ma, err = e.store.GetBlockMetadata(a); err != nil {
			return crypto.Hash{}, err
		}
	}
	for mb.Height > ma.Height {
		b = mb.Header.ParentHash
		if mb, err = e.store.GetBlockMetadata(b); err != nil {
			return crypto.Hash{}, err
		}
	}
	for a != b {
		a = ma.Header.ParentHash
		b = mb.Header.ParentHash
		if ma, err = e.store.GetBlockMetadata(a); err != nil {
			return crypto.Hash{}, err
		}
		if mb, err = e.store.GetBlockMetadata(b); err != nil {
			return crypto.Hash{}, err
		}
	}
	return a, nil
}

// pathToAncestor returns the ids from tip down to (excluding) ancestor, in
// descending height order — the rollback phase's iteration order.
func (e *Engine) pathToAncestor(tip, ancestor crypto.Hash) ([]crypto.Hash, error) {
	var out []crypto.Hash
	cur := tip
	for cur != ancestor {
		out = append(out, cur)
		meta, err := e.store.GetBlockMetadata(cur)
		if err != nil {
			return nil, err
		}
		cur = meta.Header.ParentHash
	}
	return out, nil
}

// pathFromAncestor returns the ids from ancestor's child up to tip, in
// ascending height order — the apply phase's iteration order (grounded on
// node/store/reorg.go's pathFromAncestor: walk back from tip, then
// reverse).
func (e *Engine) pathFromAncestor(ancestor, tip crypto.Hash) ([]crypto.Hash, error) {
	if ancestor == tip {
		return nil, nil
	}
	var out []crypto.Hash
	cur := tip
	for cur != ancestor {
		out = append(out, cur)
		meta, err := e.store.GetBlockMetadata(cur)
		if err != nil {
			return nil, err
		}
		cur = meta.Header.ParentHash
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
