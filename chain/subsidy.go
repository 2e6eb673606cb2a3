package chain

// SubsidyHalvingInterval is the number of blocks between subsidy halvings.
// spec.md fixes only the height-1 reward (the genesis+one-block scenario
// pays 50 units); the halving schedule itself is an Open Question, resolved
// here with the teacher's own conventional choice (see DESIGN.md).
const SubsidyHalvingInterval = 210000

// InitialSubsidy is the coinbase reward at height 1 (spec.md §6's test
// scenario: "one coinbase paying 50 units").
const InitialSubsidy = 50 * CoinUnit

// CoinUnit is the smallest-denomination scaling factor; amounts elsewhere in
// the package are plain integer units, so CoinUnit is 1 unless a future
// denomination is introduced.
const CoinUnit = 1

// Subsidy returns block_subsidy(height): the coinbase-only reward (excluding
// collected fees) for a block at the given height, halving every
// SubsidyHalvingInterval blocks down to zero (spec.md §4.6 rule 3: "coinbase
// outputs' total <= subsidy(height) + feesOfOtherTxsInBlock").
func Subsidy(height uint64) uint64 {
	if height == 0 {
		return 0
	}
	halvings := height / SubsidyHalvingInterval
	if halvings >= 64 {
		return 0
	}
	return InitialSubsidy >> halvings
}
