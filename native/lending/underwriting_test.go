package lending

import (
	"errors"
	"testing"

	"creditrail/crypto"
)

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = b
	}
	return crypto.NewAddress(crypto.RailPrefix, buf)
}

func testRiskModel() *RiskModel {
	return &RiskModel{
		ID:        "standard",
		Authority: testAddr(0xaa),
		Tiers: []RiskTier{
			{TierID: 1, MinScore: 500, MaxLTV: 50, CollateralRatioBps: 15_000, InterestRateBps: 1_200},
			{TierID: 2, MinScore: 650, MaxLTV: 70, CollateralRatioBps: 13_000, InterestRateBps: 800},
			{TierID: 3, MinScore: 750, MaxLTV: 80, CollateralRatioBps: 12_000, InterestRateBps: 500},
		},
		KYCProviders: []crypto.Address{testAddr(0xbb)},
	}
}

func TestSelectTierPicksHighestQualifyingTier(t *testing.T) {
	model := testRiskModel()
	cases := []struct {
		score    uint32
		wantTier uint8
		wantOK   bool
	}{
		{480, 0, false},
		{500, 1, true},
		{700, 2, true},
		{750, 3, true},
		{850, 3, true},
	}
	for _, tc := range cases {
		tier, ok := model.SelectTier(tc.score)
		if ok != tc.wantOK {
			t.Fatalf("score %d: found=%v want %v", tc.score, ok, tc.wantOK)
		}
		if ok && tier.TierID != tc.wantTier {
			t.Fatalf("score %d: tier %d want %d", tc.score, tier.TierID, tc.wantTier)
		}
	}
}

func TestEvaluateBorrowerRequiresKYC(t *testing.T) {
	profile := &BorrowerProfile{Address: testAddr(0x01), CreditScore: 700, DebtToIncome: 40, KYC: KYCPending}
	_, err := EvaluateBorrower(profile, testRiskModel(), 1_000, 100_000)
	if !errors.Is(err, ErrKYCNotVerified) {
		t.Fatalf("unverified borrower: got %v want ErrKYCNotVerified", err)
	}
}

func TestEvaluateBorrowerMaxLoan(t *testing.T) {
	profile := &BorrowerProfile{Address: testAddr(0x01), CreditScore: 700, DebtToIncome: 40, KYC: KYCVerified}
	// income 100_000, dti 40% -> max debt 250_000; tier 2 ltv 70% -> 175_000.
	eligibility, err := EvaluateBorrower(profile, testRiskModel(), 175_000, 100_000)
	if err != nil {
		t.Fatalf("evaluate at limit: %v", err)
	}
	if eligibility.MaxLoan != 175_000 {
		t.Fatalf("max loan: got %d want 175000", eligibility.MaxLoan)
	}
	if eligibility.TierID != 2 || eligibility.InterestRateBps != 800 {
		t.Fatalf("tier terms: got tier=%d rate=%d want 2/800", eligibility.TierID, eligibility.InterestRateBps)
	}
	if _, err := EvaluateBorrower(profile, testRiskModel(), 175_001, 100_000); !errors.Is(err, ErrLoanLimitExceeded) {
		t.Fatalf("over limit: got %v want ErrLoanLimitExceeded", err)
	}
}

func TestEvaluateBorrowerZeroDTI(t *testing.T) {
	profile := &BorrowerProfile{Address: testAddr(0x01), CreditScore: 700, DebtToIncome: 0, KYC: KYCVerified}
	if _, err := EvaluateBorrower(profile, testRiskModel(), 1, 100_000); !errors.Is(err, ErrCalculation) {
		t.Fatalf("zero dti: got %v want ErrCalculation", err)
	}
}

func TestEvaluateBorrowerScoreBelowAllTiers(t *testing.T) {
	profile := &BorrowerProfile{Address: testAddr(0x01), CreditScore: 310, DebtToIncome: 40, KYC: KYCVerified}
	if _, err := EvaluateBorrower(profile, testRiskModel(), 1, 100_000); !errors.Is(err, ErrInsufficientCreditScore) {
		t.Fatalf("low score: got %v want ErrInsufficientCreditScore", err)
	}
}

func TestRiskModelValidate(t *testing.T) {
	model := testRiskModel()
	if err := model.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	dup := testRiskModel()
	dup.Tiers = append(dup.Tiers, RiskTier{TierID: 1, MinScore: 400, MaxLTV: 10})
	if err := dup.Validate(); err == nil {
		t.Fatalf("expected duplicate tier rejection")
	}
	badLTV := testRiskModel()
	badLTV.Tiers[0].MaxLTV = 101
	if err := badLTV.Validate(); err == nil {
		t.Fatalf("expected ltv rejection")
	}
}
