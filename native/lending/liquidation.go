package lending

import (
	"math/big"

	"creditrail/crypto"
	"creditrail/native/pricefeed"
)

var ratOne = big.NewRat(1, 1)

// HealthFactor is the ratio of risk-adjusted collateral value to outstanding
// debt: collateral * price * threshold / debt. A nil result marks a zero-debt
// position, which is infinitely healthy. Exact rational arithmetic keeps the
// result reproducible across platforms.
func HealthFactor(collateral, debt uint64, price *big.Rat, thresholdBps uint64) *big.Rat {
	if debt == 0 {
		return nil
	}
	if collateral == 0 || price == nil || price.Sign() <= 0 {
		return new(big.Rat)
	}
	adjusted := new(big.Rat).SetUint64(collateral)
	adjusted.Mul(adjusted, price)
	adjusted.Mul(adjusted, new(big.Rat).SetFrac64(int64(thresholdBps), bpsDenominator))
	return adjusted.Quo(adjusted, new(big.Rat).SetUint64(debt))
}

// Liquidatable reports whether the health factor marks the position as
// eligible for liquidation (strictly below 1.0).
func Liquidatable(health *big.Rat) bool {
	return health != nil && health.Cmp(ratOne) < 0
}

// LiquidationPlan is the computed outcome of a liquidation before any asset
// movement: how much debt the liquidator repays and how much collateral they
// seize in exchange.
type LiquidationPlan struct {
	DebtToRepay       uint64
	CollateralToSeize uint64
}

// PlanLiquidation sizes a liquidation event against an unhealthy obligation.
// Collateral equivalents round down so rounding always favours the protocol.
func PlanLiquidation(o *LoanObligation, price *big.Rat, maxDebtToRepay, minLiquidationSize, bonusBps uint64) (LiquidationPlan, error) {
	if o == nil {
		return LiquidationPlan{}, ErrObligationNotFound
	}
	if price == nil || price.Sign() <= 0 {
		return LiquidationPlan{}, ErrCalculation
	}

	debtToRepay := minUint64(maxDebtToRepay, o.DebtAmount)
	if debtToRepay < minLiquidationSize {
		return LiquidationPlan{}, ErrBelowMinimumLiquidation
	}

	equivalent := new(big.Rat).SetUint64(debtToRepay)
	equivalent.Quo(equivalent, price)
	collateralEquivalent, err := ratFloorUint64(equivalent)
	if err != nil {
		return LiquidationPlan{}, err
	}

	seize, err := mulDiv(collateralEquivalent, bpsDenominator+bonusBps, bpsDenominator)
	if err != nil {
		return LiquidationPlan{}, err
	}
	seize = minUint64(seize, o.CollateralAmount)

	// No single event may consume more than half the posted collateral.
	if seize > o.CollateralAmount/2 {
		return LiquidationPlan{}, ErrExceedsMaxLiquidationPortion
	}

	return LiquidationPlan{DebtToRepay: debtToRepay, CollateralToSeize: seize}, nil
}

// LiquidationReceipt records an executed liquidation for downstream
// consumers.
type LiquidationReceipt struct {
	ObligationID         [32]byte
	Borrower             crypto.Address
	Liquidator           crypto.Address
	DebtRepaid           uint64
	CollateralLiquidated uint64
	InsuranceCoverage    uint64
	Timestamp            int64
}

// checkQuoteAgainstReserve validates the price feed identity before the quote
// is trusted for risk math.
func checkQuoteAgainstReserve(quote pricefeed.Quote, reserve *Reserve) error {
	if reserve.PriceFeedID == "" || quote.FeedID != reserve.PriceFeedID {
		return ErrInvalidPriceFeed
	}
	return nil
}
