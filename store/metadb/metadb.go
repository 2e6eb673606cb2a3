// Package metadb implements the metadata provider (spec.md §4.4): a
// key/value index over block headers, transaction locations, UTXOs, the
// chain-head pointer, and an address index, backed by bbolt (grounded on
// the teacher's node/store/db.go, which opens the same library the same
// way: one bucket per logical map, CRUD via Update/View transactions).
package metadb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"thunderbolt.dev/node/chain"
	"thunderbolt.dev/node/crypto"
)

// ErrNotFound is returned when a lookup key is absent — distinct from an
// I/O failure (spec.md §4.4: "Failures surface as StorageFailure ...
// vs NotFound").
var ErrNotFound = errors.New("metadb: not found")

var (
	bucketBlocks    = []byte("B") // blockId -> BlockMetadata
	bucketTxIndex   = []byte("T") // txId -> TransactionMetadata
	bucketUTXO      = []byte("U") // txId||index -> UTXO
	bucketAddresses = []byte("A") // addressKey||txId||index -> {} (presence only)
	bucketHead      = []byte("H") // "chainHead" -> blockId
)

var headKey = []byte("chainHead")

// DB is the bbolt-backed metadata provider.
type DB struct {
	bolt *bolt.DB
}

// Open opens (creating if absent) the metadata database at path.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("metadb: open %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketTxIndex, bucketUTXO, bucketAddresses, bucketHead} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return &DB{bolt: bdb}, nil
}

// Close closes the underlying bbolt database.
func (d *DB) Close() error { return d.bolt.Close() }

// PutBlockMetadata writes (or overwrites) a block's metadata record.
func (d *DB) PutBlockMetadata(m chain.BlockMetadata) error {
	blockID := m.BlockID()
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put(blockID[:], m.Encode())
	})
}

// GetBlockMetadata reads a block's metadata record, or ErrNotFound.
func (d *DB) GetBlockMetadata(blockID crypto.Hash) (chain.BlockMetadata, error) {
	var out chain.BlockMetadata
	err := d.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get(blockID[:])
		if v == nil {
			return ErrNotFound
		}
		m, err := chain.DecodeBlockMetadata(v)
		if err != nil {
			return fmt.Errorf("metadb: decode block metadata %x: %w", blockID, err)
		}
		out = m
		return nil
	})
	return out, err
}

// SetBlockStatus updates only the Status field of an existing block's
// metadata, used by rollback/reorg transitions (Validated/OnMainChain/Stale).
func (d *DB) SetBlockStatus(blockID crypto.Hash, status chain.BlockStatus) error {
	m, err := d.GetBlockMetadata(blockID)
	if err != nil {
		return err
	}
	m.Status = status
	return d.PutBlockMetadata(m)
}

// PutTransactionMetadata writes a transaction's canonical-location record.
func (d *DB) PutTransactionMetadata(m chain.TransactionMetadata) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTxIndex).Put(m.TxID[:], m.Encode())
	})
}

// GetTransactionMetadata resolves a transaction id to its location, or
// ErrNotFound.
func (d *DB) GetTransactionMetadata(txID crypto.Hash) (chain.TransactionMetadata, error) {
	var out chain.TransactionMetadata
	err := d.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTxIndex).Get(txID[:])
		if v == nil {
			return ErrNotFound
		}
		m, err := chain.DecodeTransactionMetadata(v)
		if err != nil {
			return fmt.Errorf("metadb: decode tx metadata %x: %w", txID, err)
		}
		out = m
		return nil
	})
	return out, err
}

// HasTransaction reports whether txID has a canonical location recorded.
func (d *DB) HasTransaction(txID crypto.Hash) (bool, error) {
	_, err := d.GetTransactionMetadata(txID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteTransactionMetadata removes a transaction's location record (used
// during rollback).
func (d *DB) DeleteTransactionMetadata(txID crypto.Hash) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTxIndex).Delete(txID[:])
	})
}

func utxoKey(txID crypto.Hash, index uint32) []byte {
	key := make([]byte, 36)
	copy(key, txID[:])
	binary.BigEndian.PutUint32(key[32:], index)
	return key
}

// AddUnspentOutput writes a UTXO record and indexes it by the address it
// pays to, when its locking parameters resolve to one (spec.md §4.4).
func (d *DB) AddUnspentOutput(u chain.UTXO, addressKeys [][]byte) error {
	key := utxoKey(u.TxID, u.Index)
	return d.bolt.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketUTXO).Put(key, u.Encode()); err != nil {
			return err
		}
		addrBucket := tx.Bucket(bucketAddresses)
		for _, ak := range addressKeys {
			composite := append(append([]byte(nil), ak...), key...)
			if err := addrBucket.Put(composite, []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveUnspentOutput deletes a UTXO record and its address-index entries.
func (d *DB) RemoveUnspentOutput(txID crypto.Hash, index uint32, addressKeys [][]byte) error {
	key := utxoKey(txID, index)
	return d.bolt.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketUTXO).Delete(key); err != nil {
			return err
		}
		addrBucket := tx.Bucket(bucketAddresses)
		for _, ak := range addressKeys {
			composite := append(append([]byte(nil), ak...), key...)
			if err := addrBucket.Delete(composite); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetUTXO reads a UTXO by outpoint, or ErrNotFound.
func (d *DB) GetUTXO(txID crypto.Hash, index uint32) (chain.UTXO, error) {
	key := utxoKey(txID, index)
	var out chain.UTXO
	err := d.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUTXO).Get(key)
		if v == nil {
			return ErrNotFound
		}
		u, err := chain.DecodeUTXO(v)
		if err != nil {
			return fmt.Errorf("metadb: decode utxo %x:%d: %w", txID, index, err)
		}
		out = u
		return nil
	})
	return out, err
}

// HasUTXO reports whether an unspent output exists at the given outpoint.
func (d *DB) HasUTXO(txID crypto.Hash, index uint32) (bool, error) {
	_, err := d.GetUTXO(txID, index)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetUnspentOutputsForAddress returns every UTXO indexed under addressKey.
func (d *DB) GetUnspentOutputsForAddress(addressKey []byte) ([]chain.UTXO, error) {
	var out []chain.UTXO
	err := d.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAddresses).Cursor()
		utxoBucket := tx.Bucket(bucketUTXO)
		for k, _ := c.Seek(addressKey); k != nil && bytes.HasPrefix(k, addressKey); k, _ = c.Next() {
			outpointKey := k[len(addressKey):]
			v := utxoBucket.Get(outpointKey)
			if v == nil {
				continue // consumed since indexed; stale address-index entry.
			}
			u, err := chain.DecodeUTXO(v)
			if err != nil {
				return fmt.Errorf("metadb: decode utxo for address entry: %w", err)
			}
			out = append(out, u)
		}
		return nil
	})
	return out, err
}

// SetChainHead atomically updates the chain-head pointer.
func (d *DB) SetChainHead(blockID crypto.Hash) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHead).Put(headKey, blockID[:])
	})
}

// GetChainHead returns the current chain-head block id, or ErrNotFound if
// no head has ever been set (a freshly initialized store).
func (d *DB) GetChainHead() (crypto.Hash, error) {
	var out crypto.Hash
	err := d.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHead).Get(headKey)
		if v == nil {
			return ErrNotFound
		}
		copy(out[:], v)
		return nil
	})
	return out, err
}
