package lending

import "errors"

var (
	ErrNilState              = errors.New("lending engine: state not configured")
	ErrReserveNotFound       = errors.New("lending engine: reserve not initialised")
	ErrPoolNotConfigured     = errors.New("lending engine: pool identifier not configured")
	ErrInvalidAmount         = errors.New("lending engine: amount must be positive")
	ErrInsufficientBalance   = errors.New("lending engine: insufficient balance")
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")
	ErrOverflow              = errors.New("lending engine: arithmetic overflow")
	ErrUnderflow             = errors.New("lending engine: arithmetic underflow")
	ErrCalculation           = errors.New("lending engine: calculation error")
	ErrUnauthorized          = errors.New("lending engine: caller not authorised")

	ErrKYCNotVerified          = errors.New("lending engine: kyc verification required")
	ErrInvalidKYCProvider      = errors.New("lending engine: kyc provider not registered")
	ErrInsufficientCreditScore = errors.New("lending engine: insufficient credit score")
	ErrInvalidCreditScore      = errors.New("lending engine: credit score outside supported range")
	ErrLoanLimitExceeded       = errors.New("lending engine: loan amount exceeds limit")
	ErrRateLimitExceeded       = errors.New("lending engine: borrow rate above caller limit")
	ErrProfileNotFound         = errors.New("lending engine: borrower profile not found")
	ErrRiskModelNotFound       = errors.New("lending engine: risk model not found")

	ErrObligationNotFound = errors.New("lending engine: loan obligation not found")
	ErrInvalidLoanStatus  = errors.New("lending engine: operation not permitted in current loan status")
	ErrLoanNotDue         = errors.New("lending engine: loan not yet due")

	ErrHealthyPosition              = errors.New("lending engine: loan position is healthy")
	ErrStalePrice                   = errors.New("lending engine: price feed is stale")
	ErrInvalidPriceFeed             = errors.New("lending engine: price feed identity mismatch")
	ErrBelowMinimumLiquidation      = errors.New("lending engine: liquidation below minimum size")
	ErrExceedsMaxLiquidationPortion = errors.New("lending engine: liquidation exceeds maximum portion of position")
)
