package lending

import (
	"fmt"
	"strings"
	"time"

	"creditrail/native/common"
)

// Config carries the operator-tunable parameters of the lending module. The
// daemon decodes it from the node configuration and materialises the pool
// reserve from it at genesis.
type Config struct {
	PoolID      string `toml:"PoolID"`
	PriceFeedID string `toml:"PriceFeedID"`

	BaseRateBps        uint64      `toml:"BaseRateBps"`
	RateCurve          []RatePoint `toml:"RateCurve"`
	ReserveFactorBps   uint64      `toml:"ReserveFactorBps"`
	InsuranceFactorBps uint64      `toml:"InsuranceFactorBps"`

	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64 `toml:"LiquidationBonusBps"`
	MinLiquidationSize      uint64 `toml:"MinLiquidationSize"`
	DustThreshold           uint64 `toml:"DustThreshold"`

	MaxQuoteAgeSeconds uint64 `toml:"MaxQuoteAgeSeconds"`

	MaxLoanRequestsPerEpoch uint32 `toml:"MaxLoanRequestsPerEpoch"`
	MaxNotionalPerEpoch     uint64 `toml:"MaxNotionalPerEpoch"`
	QuotaEpochSeconds       uint32 `toml:"QuotaEpochSeconds"`

	PauseDeposits     bool `toml:"PauseDeposits"`
	PauseWithdrawals  bool `toml:"PauseWithdrawals"`
	PauseBorrowing    bool `toml:"PauseBorrowing"`
	PauseRepayments   bool `toml:"PauseRepayments"`
	PauseLiquidations bool `toml:"PauseLiquidations"`
}

// DefaultConfig mirrors the launch parameters of the RUSD pool.
func DefaultConfig() Config {
	return Config{
		PoolID:      "rusd-main",
		PriceFeedID: "CRL/RUSD",
		BaseRateBps: 200,
		RateCurve: []RatePoint{
			{UtilizationBps: 0, RateBps: 0},
			{UtilizationBps: 8000, RateBps: 400},
			{UtilizationBps: 10000, RateBps: 6000},
		},
		ReserveFactorBps:        1000,
		InsuranceFactorBps:      500,
		LiquidationThresholdBps: 8000,
		LiquidationBonusBps:     500,
		MinLiquidationSize:      100,
		DustThreshold:           10,
		MaxQuoteAgeSeconds:      60,
		QuotaEpochSeconds:       3600,
	}
}

// EnsureDefaults backfills zero-valued fields that have safe defaults.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	def := DefaultConfig()
	if strings.TrimSpace(c.PoolID) == "" {
		c.PoolID = def.PoolID
	}
	if strings.TrimSpace(c.PriceFeedID) == "" {
		c.PriceFeedID = def.PriceFeedID
	}
	if len(c.RateCurve) == 0 {
		c.RateCurve = append([]RatePoint(nil), def.RateCurve...)
	}
	if c.LiquidationThresholdBps == 0 {
		c.LiquidationThresholdBps = def.LiquidationThresholdBps
	}
	if c.MaxQuoteAgeSeconds == 0 {
		c.MaxQuoteAgeSeconds = def.MaxQuoteAgeSeconds
	}
	if c.QuotaEpochSeconds == 0 {
		c.QuotaEpochSeconds = def.QuotaEpochSeconds
	}
}

// Validate rejects parameter combinations the engine cannot operate under.
func (c Config) Validate() error {
	if strings.TrimSpace(c.PoolID) == "" {
		return fmt.Errorf("lending config: pool id required")
	}
	if strings.TrimSpace(c.PriceFeedID) == "" {
		return fmt.Errorf("lending config: price feed id required")
	}
	if c.LiquidationThresholdBps == 0 || c.LiquidationThresholdBps > bpsDenominator {
		return fmt.Errorf("lending config: liquidation threshold must be in (0, %d]", bpsDenominator)
	}
	if c.LiquidationBonusBps > bpsDenominator {
		return fmt.Errorf("lending config: liquidation bonus must not exceed %d", bpsDenominator)
	}
	if sum := c.ReserveFactorBps + c.InsuranceFactorBps; sum > bpsDenominator {
		return fmt.Errorf("lending config: fee factors sum to %d, exceeding %d", sum, bpsDenominator)
	}
	if err := RateCurve(c.RateCurve).Validate(); err != nil {
		return fmt.Errorf("lending config: %w", err)
	}
	return nil
}

// Reserve materialises a fresh reserve from the configuration.
func (c Config) Reserve() *Reserve {
	return &Reserve{
		PoolID:                  strings.TrimSpace(c.PoolID),
		PriceFeedID:             strings.TrimSpace(c.PriceFeedID),
		BaseRateBps:             c.BaseRateBps,
		Curve:                   append([]RatePoint(nil), c.RateCurve...),
		ReserveFactorBps:        c.ReserveFactorBps,
		InsuranceFactorBps:      c.InsuranceFactorBps,
		LiquidationThresholdBps: c.LiquidationThresholdBps,
		LiquidationBonusBps:     c.LiquidationBonusBps,
		MinLiquidationSize:      c.MinLiquidationSize,
		DustThreshold:           c.DustThreshold,
	}
}

// Quota returns the origination throttles configured for the module.
func (c Config) Quota() common.Quota {
	return common.Quota{
		MaxRequestsPerEpoch: c.MaxLoanRequestsPerEpoch,
		MaxNotionalPerEpoch: c.MaxNotionalPerEpoch,
		EpochSeconds:        c.QuotaEpochSeconds,
	}
}

// ActionPauses returns the per-flow circuit breaker switches.
func (c Config) ActionPauses() common.ActionPauses {
	return common.ActionPauses{
		Deposit:   c.PauseDeposits,
		Withdraw:  c.PauseWithdrawals,
		Borrow:    c.PauseBorrowing,
		Repay:     c.PauseRepayments,
		Liquidate: c.PauseLiquidations,
	}
}

// MaxQuoteAge returns the oracle staleness bound as a duration.
func (c Config) MaxQuoteAge() time.Duration {
	return time.Duration(c.MaxQuoteAgeSeconds) * time.Second
}
