package chain

import (
	"math/big"
)

// RetargetInterval is RETARGET_INTERVAL from spec.md §4.8: the number of
// blocks between difficulty adjustments.
const RetargetInterval = 2016

// TargetBlockIntervalSeconds is the ideal spacing between blocks the
// retarget formula aims for (spec.md's genesis+one-block test scenario uses
// a 600-second step).
const TargetBlockIntervalSeconds = 600

// IdealWindowSeconds is the expected wall-clock span of one retarget window
// if every block in it landed exactly TargetBlockIntervalSeconds apart.
const IdealWindowSeconds = RetargetInterval * TargetBlockIntervalSeconds

var (
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// CompactToTarget expands a compact 32-bit "bits" encoding into a 256-bit
// target, using the same exponent/mantissa layout as Bitcoin's nBits: the
// high byte is a base-256 exponent and the low three bytes are the
// mantissa, target = mantissa * 256^(exponent-3).
func CompactToTarget(bits uint32) *big.Int {
	exponent := bits >> 24
	mantissa := big.NewInt(int64(bits & 0x007fffff))
	if bits&0x00800000 != 0 {
		// Sign bit set: compact encoding does not represent negative
		// targets; treat as zero, which no valid hash can satisfy.
		return big.NewInt(0)
	}
	target := new(big.Int)
	if exponent <= 3 {
		target.Rsh(mantissa, uint(8*(3-exponent)))
	} else {
		target.Lsh(mantissa, uint(8*(exponent-3)))
	}
	return target
}

// TargetToCompact reduces a 256-bit target to its compact bits encoding.
func TargetToCompact(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}
	b := target.Bytes()
	exponent := len(b)
	var mantissa uint32
	switch {
	case exponent <= 3:
		var padded [3]byte
		copy(padded[3-exponent:], b)
		mantissa = uint32(padded[0])<<16 | uint32(padded[1])<<8 | uint32(padded[2])
	default:
		mantissa = uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}
	if mantissa&0x00800000 != 0 {
		// Would be misread as a sign bit; shift the mantissa down and
		// bump the exponent, matching Bitcoin's compact-bits rule.
		mantissa >>= 8
		exponent++
	}
	return uint32(exponent)<<24 | mantissa
}

// Work returns floor(2^256 / (target+1)), the chain-work contribution of a
// block mined at target (spec.md §4.8's "cumulative-work computation").
func Work(target *big.Int) *big.Int {
	denom := new(big.Int).Add(target, big.NewInt(1))
	if denom.Sign() <= 0 {
		return new(big.Int)
	}
	num := new(big.Int).Add(maxUint256, big.NewInt(1))
	return new(big.Int).Div(num, denom)
}

// ExpectedTarget computes the next retarget window's target from the
// window's starting bits and its actual elapsed wall-clock time, clamped to
// [oldTarget/4, oldTarget*4] (spec.md §4.8: "retargeted every
// RETARGET_INTERVAL=2016 blocks based on actual/ideal elapsed time, clamped
// to x1/4..x4"), grounded on the teacher's RetargetV1.
func ExpectedTarget(windowStartBits uint32, actualTimespanSeconds int64) uint32 {
	oldTarget := CompactToTarget(windowStartBits)
	if oldTarget.Sign() == 0 {
		return windowStartBits
	}
	actual := actualTimespanSeconds
	if actual <= 0 {
		actual = 1
	}
	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(actual))
	newTarget.Div(newTarget, big.NewInt(IdealWindowSeconds))

	lower := new(big.Int).Rsh(oldTarget, 2)
	if lower.Sign() == 0 {
		lower.SetInt64(1)
	}
	upper := new(big.Int).Lsh(oldTarget, 2)
	if upper.Cmp(maxUint256) > 0 {
		upper.Set(maxUint256)
	}

	if newTarget.Cmp(lower) < 0 {
		newTarget = lower
	}
	if newTarget.Cmp(upper) > 0 {
		newTarget = upper
	}
	return TargetToCompact(newTarget)
}

// CumulativeWorkBytes renders work as the big-endian 256-bit byte array
// BlockMetadata.CumulativeWork stores.
func CumulativeWorkBytes(work *big.Int) [32]byte {
	var out [32]byte
	b := work.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(out[32-len(b):], b)
	return out
}

// CumulativeWorkToBigInt parses a BlockMetadata.CumulativeWork field back
// into a big.Int for comparison and accumulation.
func CumulativeWorkToBigInt(work [32]byte) *big.Int {
	return new(big.Int).SetBytes(work[:])
}

// AddWork returns a+b as a CumulativeWork byte array, used to extend a
// parent's accumulated work by one block's Work(target) (spec.md §4.8).
func AddWork(a [32]byte, b *big.Int) [32]byte {
	sum := new(big.Int).Add(CumulativeWorkToBigInt(a), b)
	return CumulativeWorkBytes(sum)
}

// CompareWork reports -1, 0, or 1 as a's cumulative work is less than,
// equal to, or greater than b's (spec.md §4.8: "the chain with greater
// cumulative work wins").
func CompareWork(a, b [32]byte) int {
	return CumulativeWorkToBigInt(a).Cmp(CumulativeWorkToBigInt(b))
}

// CheckProofOfWork reports whether header's block identifier, read as a
// big-endian 256-bit integer, is at most its encoded target (spec.md §4.8:
// "SHA-256(header) <= target").
func CheckProofOfWork(header BlockHeader) bool {
	target := CompactToTarget(header.TargetDifficulty)
	if target.Sign() <= 0 {
		return false
	}
	id := header.BlockID()
	hashInt := new(big.Int).SetBytes(id[:])
	return hashInt.Cmp(target) <= 0
}
