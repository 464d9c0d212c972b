package lending

import (
	"fmt"
	"strings"

	"creditrail/crypto"
)

// RatePoint is a single breakpoint on the utilization curve: at Utilization
// (bps of supplied liquidity borrowed) the borrow rate is RateBps before the
// base rate is added.
type RatePoint struct {
	UtilizationBps uint64 `toml:"UtilizationBps" json:"utilizationBps"`
	RateBps        uint64 `toml:"RateBps" json:"rateBps"`
}

// RateCurve is an ordered sequence of breakpoints mapping utilization to a
// borrow rate. Rates between breakpoints are linearly interpolated.
type RateCurve []RatePoint

// Validate checks ordering, range and monotonicity of the curve.
func (c RateCurve) Validate() error {
	for i, pt := range c {
		if pt.UtilizationBps > bpsDenominator {
			return fmt.Errorf("rate curve: utilization %d exceeds %d bps", pt.UtilizationBps, bpsDenominator)
		}
		if i == 0 {
			continue
		}
		prev := c[i-1]
		if pt.UtilizationBps <= prev.UtilizationBps {
			return fmt.Errorf("rate curve: breakpoints must be strictly increasing at index %d", i)
		}
		if pt.RateBps < prev.RateBps {
			return fmt.Errorf("rate curve: rates must be non-decreasing at index %d", i)
		}
	}
	return nil
}

// RateBps interpolates the borrow rate for the given utilization. Utilization
// below the first breakpoint uses the first rate, above the last breakpoint
// the last rate.
func (c RateCurve) RateBps(utilizationBps uint64) uint64 {
	if len(c) == 0 {
		return 0
	}
	if utilizationBps <= c[0].UtilizationBps {
		return c[0].RateBps
	}
	last := c[len(c)-1]
	if utilizationBps >= last.UtilizationBps {
		return last.RateBps
	}
	for i := 1; i < len(c); i++ {
		lo, hi := c[i-1], c[i]
		if utilizationBps > hi.UtilizationBps {
			continue
		}
		span := hi.UtilizationBps - lo.UtilizationBps
		rise := hi.RateBps - lo.RateBps
		offset := utilizationBps - lo.UtilizationBps
		// span > 0 by Validate; interpolation widened through mulDiv.
		step, err := mulDiv(rise, offset, span)
		if err != nil {
			return hi.RateBps
		}
		return lo.RateBps + step
	}
	return last.RateBps
}

// Reserve holds the pool-level liquidity counters, rate curve and risk
// parameters for a single lending pool. Counters are unsigned 64-bit values
// and every mutation is overflow checked; TotalBorrowed never exceeds
// TotalSupplied.
type Reserve struct {
	PoolID      string
	Authority   crypto.Address
	PriceFeedID string

	TotalSupplied uint64
	TotalBorrowed uint64

	BaseRateBps        uint64
	Curve              RateCurve
	ReserveFactorBps   uint64
	InsuranceFactorBps uint64
	InsuranceTotal     uint64
	ReserveTotal       uint64

	LiquidationThresholdBps uint64
	LiquidationBonusBps     uint64
	MinLiquidationSize      uint64
	DustThreshold           uint64

	TotalLiquidations uint64
	LastLiquidationAt int64
}

// Validate checks the reserve's static parameters.
func (r *Reserve) Validate() error {
	if r == nil {
		return ErrReserveNotFound
	}
	if strings.TrimSpace(r.PoolID) == "" {
		return ErrPoolNotConfigured
	}
	for name, bps := range map[string]uint64{
		"ReserveFactorBps":        r.ReserveFactorBps,
		"InsuranceFactorBps":      r.InsuranceFactorBps,
		"LiquidationThresholdBps": r.LiquidationThresholdBps,
	} {
		if bps > bpsDenominator {
			return fmt.Errorf("reserve %s: %s %d exceeds %d bps", r.PoolID, name, bps, bpsDenominator)
		}
	}
	return r.Curve.Validate()
}

// Clone returns a deep copy so engine operations can stage mutations.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Curve = append(RateCurve(nil), r.Curve...)
	return &clone
}

// AvailableLiquidity is the RUSD amount currently free to lend.
func (r *Reserve) AvailableLiquidity() uint64 {
	if r.TotalBorrowed > r.TotalSupplied {
		return 0
	}
	return r.TotalSupplied - r.TotalBorrowed
}

// RecordDeposit adds freshly supplied liquidity to the pool.
func (r *Reserve) RecordDeposit(amount uint64) error {
	total, err := checkedAdd(r.TotalSupplied, amount)
	if err != nil {
		return err
	}
	r.TotalSupplied = total
	return nil
}

// RecordWithdrawal releases supplied liquidity back to a lender. The amount
// must be covered by liquidity not currently on loan.
func (r *Reserve) RecordWithdrawal(amount uint64) error {
	if amount > r.AvailableLiquidity() {
		return ErrInsufficientLiquidity
	}
	r.TotalSupplied -= amount
	return nil
}

// RecordBorrow draws liquidity out of the pool after checking availability.
func (r *Reserve) RecordBorrow(amount uint64) error {
	if amount > r.AvailableLiquidity() {
		return ErrInsufficientLiquidity
	}
	total, err := checkedAdd(r.TotalBorrowed, amount)
	if err != nil {
		return err
	}
	r.TotalBorrowed = total
	return nil
}

// RecordRepayment returns borrowed liquidity to the pool. Repayments beyond
// the outstanding borrow total are clamped rather than rejected; the applied
// amount is returned. The clamp is the single documented policy for every
// repayment path in the module.
func (r *Reserve) RecordRepayment(amount uint64) uint64 {
	applied := minUint64(amount, r.TotalBorrowed)
	r.TotalBorrowed -= applied
	return applied
}

// CurrentUtilization reports borrowed/supplied scaled to basis points, zero
// when the pool is empty.
func (r *Reserve) CurrentUtilization() uint64 {
	if r.TotalSupplied == 0 {
		return 0
	}
	util, err := mulDiv(r.TotalBorrowed, bpsDenominator, r.TotalSupplied)
	if err != nil {
		return bpsDenominator
	}
	return util
}

// BorrowRateBps derives the current borrow rate from the utilization curve
// plus the reserve's base rate.
func (r *Reserve) BorrowRateBps() uint64 {
	return r.BaseRateBps + r.Curve.RateBps(r.CurrentUtilization())
}

// ApplyFee splits a fee amount into its insurance and reserve allocations and
// accrues both totals. Multiplication happens before division to preserve
// precision, with the widened product overflow checked.
func (r *Reserve) ApplyFee(amount uint64) (insurance uint64, reserve uint64, err error) {
	insurance, err = mulBps(amount, r.InsuranceFactorBps)
	if err != nil {
		return 0, 0, err
	}
	reserve, err = mulBps(amount, r.ReserveFactorBps)
	if err != nil {
		return 0, 0, err
	}
	insuranceTotal, err := checkedAdd(r.InsuranceTotal, insurance)
	if err != nil {
		return 0, 0, err
	}
	reserveTotal, err := checkedAdd(r.ReserveTotal, reserve)
	if err != nil {
		return 0, 0, err
	}
	r.InsuranceTotal = insuranceTotal
	r.ReserveTotal = reserveTotal
	return insurance, reserve, nil
}

// AbsorbLiquidationLoss covers bad debt from the insurance fund. The covered
// amount, bounded by the accumulated insurance total, is returned; both the
// insurance total and the outstanding borrow counter are reduced.
func (r *Reserve) AbsorbLiquidationLoss(loss uint64) uint64 {
	coverage := minUint64(loss, r.InsuranceTotal)
	r.InsuranceTotal -= coverage
	r.TotalBorrowed -= minUint64(loss, r.TotalBorrowed)
	return coverage
}
