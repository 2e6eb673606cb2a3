package chain

import (
	"fmt"

	"thunderbolt.dev/node/crypto"
	"thunderbolt.dev/node/wire"
)

// HeaderSize is the fixed wire size of a BlockHeader (spec.md §3 and §6: "the
// SHA-256 compression-function state after processing the first 64 bytes of
// the 80-byte header").
const HeaderSize = 80

// BlockHeader is the fixed 80-byte structure that is proof-of-work mined
// (spec.md §3).
//
// spec.md's prose names the timestamp field "uint64 seconds" but also fixes
// the header at exactly 80 bytes and describes the miner's midstate as
// covering "the first 64 bytes" of it; 4(version)+32(parent)+32(merkle)+
// 4(target)+4(nonce) already accounts for 76 of those 80 bytes, leaving
// exactly 4 for the timestamp. Timestamp is therefore encoded as a uint32
// (seconds since epoch, identical in range to Bitcoin's header), matching
// the fixed-size and midstate-split constraints that recur three times in
// the spec over the "uint64" adjective, which is read as describing the
// field's unit (a count of seconds) rather than its wire width.
type BlockHeader struct {
	Version          uint32
	ParentHash       crypto.Hash
	MerkleRoot       crypto.Hash
	Timestamp        uint32
	TargetDifficulty uint32 // compact bits encoding, see pow.go
	Nonce            uint32
}

// Encode serializes the header to its fixed 80-byte wire form, in field
// order.
func (h BlockHeader) Encode() [HeaderSize]byte {
	w := wire.NewWriter(HeaderSize)
	w.U32(h.Version)
	w.Raw(h.ParentHash[:])
	w.Raw(h.MerkleRoot[:])
	w.U32(h.Timestamp)
	w.U32(h.TargetDifficulty)
	w.U32(h.Nonce)
	var out [HeaderSize]byte
	copy(out[:], w.Bytes())
	return out
}

// DecodeBlockHeader reads a fixed 80-byte header.
func DecodeBlockHeader(b []byte) (BlockHeader, error) {
	if len(b) != HeaderSize {
		return BlockHeader{}, fmt.Errorf("chain: block header must be %d bytes, got %d", HeaderSize, len(b))
	}
	r := wire.NewReader(b)
	var h BlockHeader
	var err error
	if h.Version, err = r.U32(); err != nil {
		return BlockHeader{}, err
	}
	parentHash, err := r.Hash32()
	if err != nil {
		return BlockHeader{}, err
	}
	h.ParentHash = crypto.Hash(parentHash)
	merkleRoot, err := r.Hash32()
	if err != nil {
		return BlockHeader{}, err
	}
	h.MerkleRoot = crypto.Hash(merkleRoot)
	if h.Timestamp, err = r.U32(); err != nil {
		return BlockHeader{}, err
	}
	if h.TargetDifficulty, err = r.U32(); err != nil {
		return BlockHeader{}, err
	}
	if h.Nonce, err = r.U32(); err != nil {
		return BlockHeader{}, err
	}
	return h, nil
}

// BlockID is the block identifier: single SHA-256 of the serialized header
// (spec.md §3).
func (h BlockHeader) BlockID() crypto.Hash {
	buf := h.Encode()
	return crypto.SHA256(buf[:])
}

// MidstateAfterFirstBlock returns the SHA-256 midstate after feeding the
// first 64 bytes of the encoded header, plus the remaining tail bytes a
// miner must append (along with the nonce) before finishing the digest
// (spec.md §6).
func (h BlockHeader) MidstateAfterFirstBlock() (mid crypto.Midstate, tail [16]byte) {
	buf := h.Encode()
	var first [64]byte
	copy(first[:], buf[:64])
	copy(tail[:], buf[64:])
	return crypto.NewMidstate().FeedBlock(first), tail
}

// Block is a header plus its ordered transactions; the first transaction
// must be the coinbase (spec.md §3).
type Block struct {
	Header       BlockHeader
	Transactions []Transaction
}

// Encode serializes the block as header ‖ txCount(uint32) ‖ txs, matching
// the block-bytes layout used by the block file format (spec.md §6.1:
// "Block-bytes = 80-byte header ‖ 4-byte txCount ‖ txs").
func (b Block) Encode() []byte {
	header := b.Header.Encode()
	w := wire.NewWriter(len(header) + 4 + 256*len(b.Transactions))
	w.Raw(header[:])
	w.U32(uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		txBytes := tx.Encode()
		w.LongBytes(txBytes)
	}
	return w.Bytes()
}

// DecodeBlock reads a block written by Encode.
func DecodeBlock(b []byte) (Block, error) {
	if len(b) < HeaderSize+4 {
		return Block{}, fmt.Errorf("chain: block too short: %d bytes", len(b))
	}
	header, err := DecodeBlockHeader(b[:HeaderSize])
	if err != nil {
		return Block{}, err
	}
	r := wire.NewReader(b[HeaderSize:])
	txCount, err := r.U32()
	if err != nil {
		return Block{}, err
	}
	txs := make([]Transaction, 0, txCount)
	for i := uint32(0); i < txCount; i++ {
		txBytes, err := r.LongBytes()
		if err != nil {
			return Block{}, err
		}
		tx, err := DecodeTransaction(txBytes)
		if err != nil {
			return Block{}, err
		}
		txs = append(txs, tx)
	}
	return Block{Header: header, Transactions: txs}, nil
}

// BlockID is the block identifier: SHA-256 of the encoded header.
func (b Block) BlockID() crypto.Hash {
	return b.Header.BlockID()
}

// ComputeMerkleRoot recomputes the merkle root over b.Transactions; callers
// validating a block compare this against b.Header.MerkleRoot.
func (b Block) ComputeMerkleRoot() crypto.Hash {
	ids := make([]crypto.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.TxID()
	}
	return MerkleRoot(ids)
}
