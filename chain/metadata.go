package chain

import (
	"fmt"

	"thunderbolt.dev/node/crypto"
	"thunderbolt.dev/node/wire"
)

// Locator pinpoints a record inside a segmented append-only store (spec.md
// §6.1): which segment file, the byte offset of the record's payload (just
// past its magic/length frame header), and the payload length.
type Locator struct {
	SegmentID uint32
	Offset    uint32
	Length    uint32
}

func (l Locator) encode(w *wire.Writer) {
	w.U32(l.SegmentID)
	w.U32(l.Offset)
	w.U32(l.Length)
}

func decodeLocator(r *wire.Reader) (Locator, error) {
	var l Locator
	var err error
	if l.SegmentID, err = r.U32(); err != nil {
		return Locator{}, err
	}
	if l.Offset, err = r.U32(); err != nil {
		return Locator{}, err
	}
	if l.Length, err = r.U32(); err != nil {
		return Locator{}, err
	}
	return l, nil
}

// BlockStatus is a BlockMetadata's position relative to the canonical chain
// (spec.md §3).
type BlockStatus uint8

const (
	StatusValidated   BlockStatus = 0
	StatusOnMainChain BlockStatus = 1
	StatusStale       BlockStatus = 2
)

func (s BlockStatus) String() string {
	switch s {
	case StatusValidated:
		return "Validated"
	case StatusOnMainChain:
		return "OnMainChain"
	case StatusStale:
		return "Stale"
	default:
		return fmt.Sprintf("BlockStatus(%d)", uint8(s))
	}
}

// BlockMetadata is the per-block bookkeeping record kept by the metadata
// provider (spec.md §3), keyed externally by block id.
type BlockMetadata struct {
	Header         BlockHeader
	Height         uint64
	CumulativeWork [32]byte // big-endian u256
	Status         BlockStatus
	BlockLocator   Locator
	RevertLocator  Locator
	TxCount        uint32
	TotalFees      uint64
}

// Encode serializes a BlockMetadata record for storage.
func (m BlockMetadata) Encode() []byte {
	w := wire.NewWriter(160)
	header := m.Header.Encode()
	w.Raw(header[:])
	w.U64(m.Height)
	w.Raw(m.CumulativeWork[:])
	w.U8(uint8(m.Status))
	m.BlockLocator.encode(w)
	m.RevertLocator.encode(w)
	w.U32(m.TxCount)
	w.U64(m.TotalFees)
	return w.Bytes()
}

// DecodeBlockMetadata reads a BlockMetadata record written by Encode.
func DecodeBlockMetadata(b []byte) (BlockMetadata, error) {
	if len(b) < HeaderSize {
		return BlockMetadata{}, fmt.Errorf("chain: truncated block metadata")
	}
	header, err := DecodeBlockHeader(b[:HeaderSize])
	if err != nil {
		return BlockMetadata{}, err
	}
	r := wire.NewReader(b[HeaderSize:])
	var m BlockMetadata
	m.Header = header
	if m.Height, err = r.U64(); err != nil {
		return BlockMetadata{}, err
	}
	work, err := r.Bytes(32)
	if err != nil {
		return BlockMetadata{}, err
	}
	copy(m.CumulativeWork[:], work)
	status, err := r.U8()
	if err != nil {
		return BlockMetadata{}, err
	}
	m.Status = BlockStatus(status)
	if m.BlockLocator, err = decodeLocator(r); err != nil {
		return BlockMetadata{}, err
	}
	if m.RevertLocator, err = decodeLocator(r); err != nil {
		return BlockMetadata{}, err
	}
	if m.TxCount, err = r.U32(); err != nil {
		return BlockMetadata{}, err
	}
	if m.TotalFees, err = r.U64(); err != nil {
		return BlockMetadata{}, err
	}
	return m, nil
}

// BlockID is the key this metadata record is stored under.
func (m BlockMetadata) BlockID() crypto.Hash {
	return m.Header.BlockID()
}

// TransactionMetadata resolves a transaction identifier to its canonical
// on-disk location (spec.md §3).
type TransactionMetadata struct {
	TxID       crypto.Hash
	BlockID    crypto.Hash
	Offset     uint32
	Size       uint32
}

// Encode serializes a TransactionMetadata record for storage.
func (m TransactionMetadata) Encode() []byte {
	w := wire.NewWriter(72)
	w.Raw(m.TxID[:])
	w.Raw(m.BlockID[:])
	w.U32(m.Offset)
	w.U32(m.Size)
	return w.Bytes()
}

// DecodeTransactionMetadata reads a TransactionMetadata record written by
// Encode.
func DecodeTransactionMetadata(b []byte) (TransactionMetadata, error) {
	r := wire.NewReader(b)
	var m TransactionMetadata
	txID, err := r.Hash32()
	if err != nil {
		return TransactionMetadata{}, err
	}
	m.TxID = crypto.Hash(txID)
	blockID, err := r.Hash32()
	if err != nil {
		return TransactionMetadata{}, err
	}
	m.BlockID = crypto.Hash(blockID)
	if m.Offset, err = r.U32(); err != nil {
		return TransactionMetadata{}, err
	}
	if m.Size, err = r.U32(); err != nil {
		return TransactionMetadata{}, err
	}
	return m, nil
}

// ReverseDelta is the rollback record produced when a block is committed
// (spec.md §3): the full record of every UTXO the block consumed, and the
// outpoint of every UTXO it created.
type ReverseDelta struct {
	Consumed []UTXO
	Created  []TxOutPoint
}

// Encode serializes the reverse delta using the revert file's record layout
// (spec.md §6.1): 4-byte consumedCount, then per consumed entry
// (txId, 4-byte index, serialized UTXO record), then 4-byte createdCount,
// then per created entry (txId, 4-byte index).
func (d ReverseDelta) Encode() []byte {
	w := wire.NewWriter(256)
	w.U32(uint32(len(d.Consumed)))
	for _, u := range d.Consumed {
		w.Raw(u.TxID[:])
		w.U32(u.Index)
		w.LongBytes(u.Encode())
	}
	w.U32(uint32(len(d.Created)))
	for _, op := range d.Created {
		w.Raw(op.PrevTxID[:])
		w.U32(op.OutputIndex)
	}
	return w.Bytes()
}

// DecodeReverseDelta reads a reverse delta written by Encode.
func DecodeReverseDelta(b []byte) (ReverseDelta, error) {
	r := wire.NewReader(b)
	var d ReverseDelta
	consumedCount, err := r.U32()
	if err != nil {
		return ReverseDelta{}, err
	}
	d.Consumed = make([]UTXO, 0, consumedCount)
	for i := uint32(0); i < consumedCount; i++ {
		if _, err := r.Hash32(); err != nil { // redundant key prefix, see Encode
			return ReverseDelta{}, err
		}
		if _, err := r.U32(); err != nil {
			return ReverseDelta{}, err
		}
		recordBytes, err := r.LongBytes()
		if err != nil {
			return ReverseDelta{}, err
		}
		u, err := DecodeUTXO(recordBytes)
		if err != nil {
			return ReverseDelta{}, err
		}
		d.Consumed = append(d.Consumed, u)
	}
	createdCount, err := r.U32()
	if err != nil {
		return ReverseDelta{}, err
	}
	d.Created = make([]TxOutPoint, 0, createdCount)
	for i := uint32(0); i < createdCount; i++ {
		txID, err := r.Hash32()
		if err != nil {
			return ReverseDelta{}, err
		}
		idx, err := r.U32()
		if err != nil {
			return ReverseDelta{}, err
		}
		d.Created = append(d.Created, TxOutPoint{PrevTxID: crypto.Hash(txID), OutputIndex: idx})
	}
	return d, nil
}
