package node

import (
	"thunderbolt.dev/node/chain"
	"thunderbolt.dev/node/crypto"
	"thunderbolt.dev/node/validation"
)

// Params is the explicit, read-only network-parameter context object
// (design note §9): it is constructed once by the CLI and passed by value
// into the validator and blockchain engine, never held as a package
// global, so a process can in principle run more than one network's rules
// side by side.
type Params struct {
	Name string

	Genesis chain.Block

	AddressVersionSingleSig byte
	AddressVersionMultiSig  byte

	// CoinbaseMaturity is the network's COINBASE_MATURITY (spec.md §4.6
	// rules 3/4). RegTest sets it to 0, per spec.md §8 scenario 2's
	// "test-mode maturity of 0".
	CoinbaseMaturity uint64
}

// genesisBits is a deliberately easy proof-of-work target: exponent 32,
// maximal mantissa. A block at this difficulty is found by trying only a
// handful of nonces, so genesis construction can mine its own header at
// startup instead of shipping a hardcoded nonce (no chain built on these
// parameters has ever been launched for real; see DESIGN.md).
const genesisBits = 0x207fffff

func buildGenesis(pubkey []byte, timestamp uint32) chain.Block {
	locking, err := chain.NewSingleSigLock(pubkey)
	if err != nil {
		panic(err) // genesisPubkey is a compile-time constant of the right length.
	}
	coinbase := chain.Transaction{
		Inputs: []chain.TxInput{{
			PrevTxID:    chain.CoinbasePrevTxID,
			OutputIndex: chain.CoinbaseOutputIndex,
			Unlocking:   chain.UnlockingParams{Kind: chain.LockingSingleSig, Signature: []byte("thunderbolt genesis")},
		}},
		Outputs: []chain.TxOutput{{
			Amount:  chain.Subsidy(0),
			Locking: locking,
		}},
	}
	block := chain.Block{Transactions: []chain.Transaction{coinbase}}
	block.Header.Timestamp = timestamp
	block.Header.TargetDifficulty = genesisBits
	block.Header.MerkleRoot = block.ComputeMerkleRoot()
	mineGenesisNonce(&block.Header)
	return block
}

// mineGenesisNonce searches for the first nonce satisfying the header's own
// (easy) proof-of-work target. Bounded by a generous cap rather than an
// infinite loop: at genesisBits, expected work is on the order of 2 tries.
func mineGenesisNonce(h *chain.BlockHeader) {
	const maxTries = 1 << 24
	for nonce := uint32(0); nonce < maxTries; nonce++ {
		h.Nonce = nonce
		if chain.CheckProofOfWork(*h) {
			return
		}
	}
	panic("node: genesis proof-of-work search exhausted maxTries")
}

// genesisPubkey is an unspendable placeholder compressed public key (no
// corresponding private key is known): genesis's coinbase output exists so
// the chain has a well-formed first block, not to be spent.
var genesisPubkey = func() []byte {
	pk := make([]byte, crypto.CompressedPubkeyBytes)
	pk[0] = 0x02
	return pk
}()

// MainNetParams is the production network's parameters. Thunderbolt has
// never launched a real network, so its genesis timestamp and version
// bytes are placeholders pending an actual launch; RegTest and TestNet are
// what every test and local run actually exercises.
func MainNetParams() Params {
	return Params{
		Name:                    "mainnet",
		Genesis:                 buildGenesis(genesisPubkey, 1893456000),
		AddressVersionSingleSig: crypto.AddressVersionSingleSigMainNet,
		AddressVersionMultiSig:  crypto.AddressVersionMultiSigMainNet,
		CoinbaseMaturity:        validation.DefaultCoinbaseMaturity,
	}
}

// TestNetParams is a long-running public test network: real maturity
// rules, but the TestNet address-version bytes so its coins are visibly
// distinct from MainNet's.
func TestNetParams() Params {
	return Params{
		Name:                    "testnet",
		Genesis:                 buildGenesis(genesisPubkey, 1893456000),
		AddressVersionSingleSig: crypto.AddressVersionSingleSigTestNet,
		AddressVersionMultiSig:  crypto.AddressVersionMultiSigTestNet,
		CoinbaseMaturity:        validation.DefaultCoinbaseMaturity,
	}
}

// RegTestParams is for local development and tests: coinbase maturity 0,
// so a freshly mined coinbase is immediately spendable (spec.md §8
// scenario 2).
func RegTestParams() Params {
	return Params{
		Name:                    "regtest",
		Genesis:                 buildGenesis(genesisPubkey, 1893456000),
		AddressVersionSingleSig: crypto.AddressVersionSingleSigTestNet,
		AddressVersionMultiSig:  crypto.AddressVersionMultiSigTestNet,
		CoinbaseMaturity:        0,
	}
}

// ParamsForNetwork resolves a network name as accepted by Config.Network.
func ParamsForNetwork(name string) (Params, bool) {
	switch name {
	case "mainnet":
		return MainNetParams(), true
	case "testnet":
		return TestNetParams(), true
	case "regtest":
		return RegTestParams(), true
	default:
		return Params{}, false
	}
}
