package blockchain

import "thunderbolt.dev/node/crypto"

// GetBlockLocatorHashes returns an exponentially sparse list of block ids
// from the current head back to genesis (spec.md §4.8): the eleven most
// recent heights (offsets 0-10), then every other, then every fourth,
// doubling the step each time, ending at genesis. Specified here because it
// reads chain state; consumed by the (out-of-scope) peer layer.
func (e *Engine) GetBlockLocatorHashes() ([]crypto.Hash, error) {
	e.headMu.RLock()
	headID, headHeight, hasHead := e.headID, e.headMeta.Height, e.hasHead
	e.headMu.RUnlock()
	if !hasHead {
		return nil, nil
	}

	var heights []uint64
	step := uint64(1)
	height := headHeight
	for {
		heights = append(heights, height)
		if len(heights) >= 11 {
			step *= 2
		}
		if height < step {
			break
		}
		height -= step
	}
	if heights[len(heights)-1] != 0 {
		heights = append(heights, 0)
	}

	hashes := make([]crypto.Hash, 0, len(heights))
	for _, h := range heights {
		meta, err := e.ancestorAtHeight(headID, h)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, meta.BlockID())
	}
	return hashes, nil
}
