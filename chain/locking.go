package chain

import (
	"fmt"

	"thunderbolt.dev/node/crypto"
	"thunderbolt.dev/node/wire"
)

// LockingKind identifies which of the two fixed locking-parameter shapes a
// TXO or input uses (spec.md §3: "a scripting VM is out of scope; locking
// uses two fixed parameter shapes").
type LockingKind uint8

const (
	LockingSingleSig LockingKind = 0
	LockingMultiSig  LockingKind = 1
)

func (k LockingKind) String() string {
	switch k {
	case LockingSingleSig:
		return "SingleSig"
	case LockingMultiSig:
		return "MultiSig"
	default:
		return fmt.Sprintf("LockingKind(%d)", uint8(k))
	}
}

// MaxMultiSigParties bounds total/required in a MultiSig locking parameter
// set; both are encoded as a single byte so 255 is the hard ceiling.
const MaxMultiSigParties = 255

// LockingParams is the tagged union attached to a TXO (spec.md §3). Only the
// fields relevant to Kind are meaningful.
type LockingParams struct {
	Kind LockingKind

	// SingleSig
	Pubkey [crypto.CompressedPubkeyBytes]byte

	// MultiSig
	Total    uint8
	Required uint8
	Pubkeys  [][]byte
}

// NewSingleSigLock builds a SingleSig locking parameter set for pubkey.
func NewSingleSigLock(pubkey []byte) (LockingParams, error) {
	if len(pubkey) != crypto.CompressedPubkeyBytes {
		return LockingParams{}, fmt.Errorf("chain: pubkey must be %d bytes, got %d", crypto.CompressedPubkeyBytes, len(pubkey))
	}
	var lp LockingParams
	lp.Kind = LockingSingleSig
	copy(lp.Pubkey[:], pubkey)
	return lp, nil
}

// NewMultiSigLock builds a MultiSig locking parameter set.
func NewMultiSigLock(required uint8, pubkeys [][]byte) (LockingParams, error) {
	if len(pubkeys) == 0 || len(pubkeys) > MaxMultiSigParties {
		return LockingParams{}, fmt.Errorf("chain: multisig pubkey count %d out of range", len(pubkeys))
	}
	if required == 0 || int(required) > len(pubkeys) {
		return LockingParams{}, fmt.Errorf("chain: multisig required %d invalid for %d keys", required, len(pubkeys))
	}
	return LockingParams{
		Kind:     LockingMultiSig,
		Total:    uint8(len(pubkeys)),
		Required: required,
		Pubkeys:  pubkeys,
	}, nil
}

// Encode serializes the locking parameters, including the leading kind tag.
func (lp LockingParams) Encode(w *wire.Writer) {
	w.U8(uint8(lp.Kind))
	switch lp.Kind {
	case LockingSingleSig:
		w.Raw(lp.Pubkey[:])
	case LockingMultiSig:
		w.U8(lp.Total)
		w.U8(lp.Required)
		for _, pk := range lp.Pubkeys {
			w.ShortBytes(pk)
		}
	}
}

// DecodeLockingParams reads a locking parameter set written by Encode.
func DecodeLockingParams(r *wire.Reader) (LockingParams, error) {
	kindByte, err := r.U8()
	if err != nil {
		return LockingParams{}, err
	}
	var lp LockingParams
	lp.Kind = LockingKind(kindByte)
	switch lp.Kind {
	case LockingSingleSig:
		pk, err := r.Bytes(crypto.CompressedPubkeyBytes)
		if err != nil {
			return LockingParams{}, err
		}
		copy(lp.Pubkey[:], pk)
	case LockingMultiSig:
		total, err := r.U8()
		if err != nil {
			return LockingParams{}, err
		}
		required, err := r.U8()
		if err != nil {
			return LockingParams{}, err
		}
		lp.Total = total
		lp.Required = required
		lp.Pubkeys = make([][]byte, 0, total)
		for i := 0; i < int(total); i++ {
			pk, err := r.ShortBytes()
			if err != nil {
				return LockingParams{}, err
			}
			lp.Pubkeys = append(lp.Pubkeys, pk)
		}
	default:
		return LockingParams{}, fmt.Errorf("chain: unknown locking kind %d", kindByte)
	}
	return lp, nil
}

// AddressHash160 returns the 20-byte hash an address for this locking
// parameter set encodes (spec.md §3's Address derivation, generalized to
// MultiSig so the metadata provider's address index, keyed on this value,
// can resolve balances for either locking kind uniformly): for SingleSig,
// RIPEMD160(SHA256(pubkey)); for MultiSig, RIPEMD160(SHA256(LookupHash())),
// i.e. the same hashing applied one level up, over the parameter set's own
// lookup hash instead of a raw pubkey.
func (lp LockingParams) AddressHash160() [20]byte {
	switch lp.Kind {
	case LockingSingleSig:
		return crypto.Hash160(lp.Pubkey[:])
	default:
		lookup := lp.LookupHash()
		return crypto.Hash160(lookup[:])
	}
}

// LookupHash is the SHA-256 of the locking parameters' serialization,
// excluding any signature material (spec.md §3: "Hash for lookup = SHA-256
// of serialization excluding signatures"). For SingleSig this is
// SHA256(kind byte || pubkey); LockingParams never carries signature bytes, so the same
// Encode output is used for both kinds.
func (lp LockingParams) LookupHash() crypto.Hash {
	w := wire.NewWriter(64)
	lp.Encode(w)
	return crypto.SHA256(w.Bytes())
}

// UnlockingParams is the tagged union attached to a transaction input; its
// Kind must match the referenced output's LockingParams.Kind (spec.md §4.6
// rule 5).
type UnlockingParams struct {
	Kind LockingKind

	// SingleSig
	Signature []byte

	// MultiSig: signature slot index (into the referenced output's
	// Pubkeys) -> DER signature.
	Signatures map[uint8][]byte
}

// Encode serializes the unlocking parameters, including the leading kind tag.
func (up UnlockingParams) Encode(w *wire.Writer) {
	w.U8(uint8(up.Kind))
	switch up.Kind {
	case LockingSingleSig:
		w.ShortBytes(up.Signature)
	case LockingMultiSig:
		w.U8(uint8(len(up.Signatures)))
		indices := make([]uint8, 0, len(up.Signatures))
		for idx := range up.Signatures {
			indices = append(indices, idx)
		}
		sortUint8s(indices)
		for _, idx := range indices {
			w.U8(idx)
			w.ShortBytes(up.Signatures[idx])
		}
	}
}

// DecodeUnlockingParams reads an unlocking parameter set written by Encode.
func DecodeUnlockingParams(r *wire.Reader) (UnlockingParams, error) {
	kindByte, err := r.U8()
	if err != nil {
		return UnlockingParams{}, err
	}
	var up UnlockingParams
	up.Kind = LockingKind(kindByte)
	switch up.Kind {
	case LockingSingleSig:
		sig, err := r.ShortBytes()
		if err != nil {
			return UnlockingParams{}, err
		}
		up.Signature = sig
	case LockingMultiSig:
		count, err := r.U8()
		if err != nil {
			return UnlockingParams{}, err
		}
		up.Signatures = make(map[uint8][]byte, count)
		for i := 0; i < int(count); i++ {
			idx, err := r.U8()
			if err != nil {
				return UnlockingParams{}, err
			}
			sig, err := r.ShortBytes()
			if err != nil {
				return UnlockingParams{}, err
			}
			up.Signatures[idx] = sig
		}
	default:
		return UnlockingParams{}, fmt.Errorf("chain: unknown locking kind %d", kindByte)
	}
	return up, nil
}

func sortUint8s(s []uint8) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
