package lending

import (
	"math"
	"math/big"
)

const bpsDenominator = 10_000

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

func checkedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// mulDiv computes a*b/den with the multiplication widened through big.Int so
// intermediate products never wrap. The quotient is checked back into the
// uint64 range.
func mulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrCalculation
	}
	product := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	product.Quo(product, new(big.Int).SetUint64(den))
	if product.Cmp(maxUint64) > 0 {
		return 0, ErrOverflow
	}
	return product.Uint64(), nil
}

// mulBps applies a basis-point fraction to an amount, multiplying first to
// preserve precision.
func mulBps(amount, bps uint64) (uint64, error) {
	return mulDiv(amount, bps, bpsDenominator)
}

// ratFloorUint64 rounds a non-negative rational down to a uint64, the
// direction that favours the protocol for collateral and seizure amounts.
func ratFloorUint64(r *big.Rat) (uint64, error) {
	if r == nil || r.Sign() < 0 {
		return 0, ErrCalculation
	}
	floor := new(big.Int).Quo(r.Num(), r.Denom())
	if floor.Cmp(maxUint64) > 0 {
		return 0, ErrOverflow
	}
	return floor.Uint64(), nil
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
