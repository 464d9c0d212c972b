package lending

import (
	"fmt"
	"strings"

	"creditrail/crypto"
	"creditrail/native/common"
)

// KYCStatus tracks a borrower's attestation state.
type KYCStatus uint8

const (
	KYCUnverified KYCStatus = iota
	KYCPending
	KYCVerified
)

// Valid reports whether the status value is within the supported range.
func (s KYCStatus) Valid() bool {
	switch s {
	case KYCUnverified, KYCPending, KYCVerified:
		return true
	default:
		return false
	}
}

func (s KYCStatus) String() string {
	switch s {
	case KYCUnverified:
		return "unverified"
	case KYCPending:
		return "pending"
	case KYCVerified:
		return "verified"
	default:
		return fmt.Sprintf("kyc(%d)", uint8(s))
	}
}

const (
	// MaxRiskTiers bounds the tier table of a risk model.
	MaxRiskTiers = 10
	// MaxKYCProviders bounds the registered attestation providers.
	MaxKYCProviders = 5
)

// Credit score bounds applied when outcomes adjust a borrower's score.
const (
	minCreditScore = 300
	maxCreditScore = 850
)

// RiskTier is one underwriting bracket: borrowers whose credit score meets
// MinScore qualify for the tier's loan-to-value and pricing terms.
type RiskTier struct {
	TierID             uint8  `toml:"TierID" json:"tierId"`
	MinScore           uint32 `toml:"MinScore" json:"minScore"`
	MaxLTV             uint64 `toml:"MaxLTV" json:"maxLtv"` // percent
	CollateralRatioBps uint64 `toml:"CollateralRatioBps" json:"collateralRatioBps"`
	InterestRateBps    uint64 `toml:"InterestRateBps" json:"interestRateBps"`
}

// RiskModel is the governance-owned tier table consulted at origination.
type RiskModel struct {
	ID           string
	Authority    crypto.Address
	Tiers        []RiskTier
	KYCProviders []crypto.Address
}

// Validate bounds the model and checks per-tier parameters.
func (m *RiskModel) Validate() error {
	if m == nil {
		return ErrRiskModelNotFound
	}
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("risk model: identifier required")
	}
	if len(m.Tiers) == 0 || len(m.Tiers) > MaxRiskTiers {
		return fmt.Errorf("risk model %s: tier count %d outside 1..%d", m.ID, len(m.Tiers), MaxRiskTiers)
	}
	if len(m.KYCProviders) > MaxKYCProviders {
		return fmt.Errorf("risk model %s: too many kyc providers", m.ID)
	}
	seen := make(map[uint8]bool, len(m.Tiers))
	for _, tier := range m.Tiers {
		if seen[tier.TierID] {
			return fmt.Errorf("risk model %s: duplicate tier id %d", m.ID, tier.TierID)
		}
		seen[tier.TierID] = true
		if tier.MaxLTV == 0 || tier.MaxLTV > 100 {
			return fmt.Errorf("risk model %s tier %d: max ltv %d outside 1..100", m.ID, tier.TierID, tier.MaxLTV)
		}
	}
	return nil
}

// Clone returns a deep copy of the model.
func (m *RiskModel) Clone() *RiskModel {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Tiers = append([]RiskTier(nil), m.Tiers...)
	clone.KYCProviders = append([]crypto.Address(nil), m.KYCProviders...)
	return &clone
}

// SelectTier returns the matching tier with the numerically largest TierID
// among those whose MinScore the borrower meets. Ties break toward the
// highest tier, the most favourable bracket.
func (m *RiskModel) SelectTier(creditScore uint32) (RiskTier, bool) {
	var (
		best  RiskTier
		found bool
	)
	for _, tier := range m.Tiers {
		if creditScore < tier.MinScore {
			continue
		}
		if !found || tier.TierID > best.TierID {
			best = tier
			found = true
		}
	}
	return best, found
}

// HasProvider reports whether the address is a registered KYC provider.
func (m *RiskModel) HasProvider(addr crypto.Address) bool {
	for _, provider := range m.KYCProviders {
		if provider.Equal(addr) {
			return true
		}
	}
	return false
}

// BorrowerProfile is the per-borrower underwriting record. Tier fields are
// refreshed on every successful evaluation so the latest decision is
// persisted alongside the profile.
type BorrowerProfile struct {
	Address      crypto.Address
	CreditScore  uint32
	DebtToIncome uint64 // percent of income already servicing debt
	KYC          KYCStatus
	RiskModelID  string

	TierID             uint8
	CollateralRatioBps uint64
	MaxLoanAmount      uint64

	TotalLoans  uint64
	ActiveLoans uint64

	QuotaUsage common.QuotaNow
}

// Clone returns a deep copy of the profile.
func (p *BorrowerProfile) Clone() *BorrowerProfile {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// LenderProfile aggregates a liquidity supplier's position and active loans.
type LenderProfile struct {
	Address       crypto.Address
	TotalSupplied uint64
	ActiveLoans   uint64
}

// Clone returns a deep copy of the profile.
func (p *LenderProfile) Clone() *LenderProfile {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Eligibility is the underwriting decision handed back to the caller for
// persistence on the borrower record.
type Eligibility struct {
	TierID             uint8
	CollateralRatioBps uint64
	InterestRateBps    uint64
	MaxLoan            uint64
}

// EvaluateBorrower runs the underwriting decision: KYC gate, tier selection
// and the maximum eligible loan. Income is an external, attested input rather
// than a protocol constant. All arithmetic is overflow checked and a zero
// debt-to-income ratio is a calculation error.
func EvaluateBorrower(profile *BorrowerProfile, model *RiskModel, requested, income uint64) (Eligibility, error) {
	if profile == nil {
		return Eligibility{}, ErrProfileNotFound
	}
	if model == nil {
		return Eligibility{}, ErrRiskModelNotFound
	}
	if profile.KYC != KYCVerified {
		return Eligibility{}, ErrKYCNotVerified
	}
	tier, ok := model.SelectTier(profile.CreditScore)
	if !ok {
		return Eligibility{}, ErrInsufficientCreditScore
	}
	maxLoan, err := maxEligibleLoan(income, profile.DebtToIncome, tier.MaxLTV)
	if err != nil {
		return Eligibility{}, err
	}
	if requested > maxLoan {
		return Eligibility{}, ErrLoanLimitExceeded
	}
	return Eligibility{
		TierID:             tier.TierID,
		CollateralRatioBps: tier.CollateralRatioBps,
		InterestRateBps:    tier.InterestRateBps,
		MaxLoan:            maxLoan,
	}, nil
}

// maxEligibleLoan computes (income * 100 / dti) * maxLTV / 100 with widened
// intermediate products.
func maxEligibleLoan(income, debtToIncome, maxLTV uint64) (uint64, error) {
	if debtToIncome == 0 {
		return 0, ErrCalculation
	}
	maxDebt, err := mulDiv(income, 100, debtToIncome)
	if err != nil {
		return 0, err
	}
	return mulDiv(maxDebt, maxLTV, 100)
}
