package lending

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"creditrail/core/types"
	"creditrail/crypto"
	"creditrail/native/common"
	"creditrail/native/pricefeed"
)

type mockState struct {
	reserves    map[string]*Reserve
	obligations map[[32]byte]*LoanObligation
	borrowers   map[string]*BorrowerProfile
	lenders     map[string]*LenderProfile
	models      map[string]*RiskModel
	accounts    map[string]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		reserves:    make(map[string]*Reserve),
		obligations: make(map[[32]byte]*LoanObligation),
		borrowers:   make(map[string]*BorrowerProfile),
		lenders:     make(map[string]*LenderProfile),
		models:      make(map[string]*RiskModel),
		accounts:    make(map[string]*types.Account),
	}
}

func (m *mockState) GetReserve(poolID string) (*Reserve, error) {
	return m.reserves[poolID].Clone(), nil
}

func (m *mockState) PutReserve(reserve *Reserve) error {
	m.reserves[reserve.PoolID] = reserve.Clone()
	return nil
}

func (m *mockState) GetObligation(id [32]byte) (*LoanObligation, error) {
	return m.obligations[id].Clone(), nil
}

func (m *mockState) PutObligation(o *LoanObligation) error {
	m.obligations[o.ID] = o.Clone()
	return nil
}

func (m *mockState) GetBorrowerProfile(addr crypto.Address) (*BorrowerProfile, error) {
	return m.borrowers[addr.String()].Clone(), nil
}

func (m *mockState) PutBorrowerProfile(p *BorrowerProfile) error {
	m.borrowers[p.Address.String()] = p.Clone()
	return nil
}

func (m *mockState) GetLenderProfile(addr crypto.Address) (*LenderProfile, error) {
	return m.lenders[addr.String()].Clone(), nil
}

func (m *mockState) PutLenderProfile(p *LenderProfile) error {
	m.lenders[p.Address.String()] = p.Clone()
	return nil
}

func (m *mockState) GetRiskModel(id string) (*RiskModel, error) {
	return m.models[id].Clone(), nil
}

func (m *mockState) PutRiskModel(model *RiskModel) error {
	m.models[model.ID] = model.Clone()
	return nil
}

func (m *mockState) GetAccount(addr crypto.Address) (*types.Account, error) {
	acc, ok := m.accounts[addr.String()]
	if !ok {
		return nil, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr crypto.Address, acc *types.Account) error {
	m.accounts[addr.String()] = acc.Clone()
	return nil
}

type engineFixture struct {
	engine *Engine
	state  *mockState
	oracle *pricefeed.StaticOracle
	now    int64

	supplier   crypto.Address
	borrower   crypto.Address
	lender     crypto.Address
	liquidator crypto.Address
	provider   crypto.Address
	authority  crypto.Address

	liquidityVault  crypto.Address
	collateralVault crypto.Address
	insuranceVault  crypto.Address
}

func vaultAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = b
	}
	return crypto.NewAddress(crypto.VaultPrefix, buf)
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		state:           newMockState(),
		oracle:          pricefeed.NewStaticOracle(),
		now:             1_700_000_000,
		supplier:        testAddr(0x10),
		borrower:        testAddr(0x20),
		lender:          testAddr(0x30),
		liquidator:      testAddr(0x40),
		provider:        testAddr(0xbb),
		authority:       testAddr(0xaa),
		liquidityVault:  vaultAddr(0x01),
		collateralVault: vaultAddr(0x02),
		insuranceVault:  vaultAddr(0x03),
	}
	f.engine = NewEngine(f.liquidityVault, f.collateralVault, f.insuranceVault)
	f.engine.SetState(f.state)
	f.engine.SetPoolID("rusd-main")
	f.engine.SetNowFunc(func() int64 { return f.now })
	f.engine.SetOracle(f.oracle, time.Minute)
	f.engine.SetIncomeSource(func(crypto.Address) (uint64, error) { return 100_000, nil })
	f.oracle.SetNowFunc(func() time.Time { return time.Unix(f.now, 0) })

	reserve := &Reserve{
		PoolID:                  "rusd-main",
		Authority:               f.authority,
		PriceFeedID:             "CRL/RUSD",
		Curve:                   testCurve(),
		ReserveFactorBps:        1_000,
		InsuranceFactorBps:      500,
		LiquidationThresholdBps: 8_000,
		LiquidationBonusBps:     500,
		MinLiquidationSize:      100,
		DustThreshold:           10,
	}
	if err := f.engine.InitReserve(f.authority, reserve); err != nil {
		t.Fatalf("init reserve: %v", err)
	}
	model := testRiskModel()
	if err := f.engine.RegisterRiskModel(f.authority, model); err != nil {
		t.Fatalf("register risk model: %v", err)
	}

	f.setAccount(f.supplier, 100_000, 0)
	f.setAccount(f.borrower, 0, 1_000_000)
	f.setAccount(f.lender, 0, 0)
	f.setAccount(f.liquidator, 100_000, 0)
	f.setAccount(f.authority, 100_000, 0)
	f.setAccount(f.liquidityVault, 0, 0)
	f.setAccount(f.collateralVault, 0, 0)
	f.setAccount(f.insuranceVault, 0, 0)

	if _, err := f.engine.OnboardBorrower(f.borrower, 700, 40, "standard"); err != nil {
		t.Fatalf("onboard borrower: %v", err)
	}
	if err := f.engine.VerifyKYC(f.provider, f.borrower); err != nil {
		t.Fatalf("verify kyc: %v", err)
	}
	f.setQuote(t, 1, 0)
	return f
}

func (f *engineFixture) setAccount(addr crypto.Address, rusd, crl int64) {
	f.state.accounts[addr.String()] = &types.Account{
		BalanceRUSD: big.NewInt(rusd),
		BalanceCRL:  big.NewInt(crl),
	}
}

func (f *engineFixture) setQuote(t *testing.T, price int64, expo int32) {
	t.Helper()
	err := f.oracle.SetQuote(pricefeed.Quote{
		FeedID:      "CRL/RUSD",
		Price:       price,
		Expo:        expo,
		PublishedAt: time.Unix(f.now, 0),
	})
	if err != nil {
		t.Fatalf("set quote: %v", err)
	}
}

func (f *engineFixture) balance(t *testing.T, addr crypto.Address) (rusd, crl uint64) {
	t.Helper()
	acc := f.state.accounts[addr.String()]
	if acc == nil {
		t.Fatalf("account %s missing", addr)
	}
	return acc.BalanceRUSD.Uint64(), acc.BalanceCRL.Uint64()
}

func (f *engineFixture) fundLoan(t *testing.T, amount, seed uint64) [32]byte {
	t.Helper()
	obligation, err := f.engine.RequestLoan(f.borrower, seed, amount, 0, f.now+31_536_000)
	if err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if _, err := f.engine.ApproveAndFund(f.lender, obligation.ID); err != nil {
		t.Fatalf("approve and fund: %v", err)
	}
	return obligation.ID
}

func TestEngineDepositAndWithdraw(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.Deposit(f.supplier, 50_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	supplierRUSD, _ := f.balance(t, f.supplier)
	vaultRUSD, _ := f.balance(t, f.liquidityVault)
	if supplierRUSD != 50_000 || vaultRUSD != 50_000 {
		t.Fatalf("balances after deposit: supplier=%d vault=%d", supplierRUSD, vaultRUSD)
	}
	reserve, err := f.engine.Reserve()
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserve.TotalSupplied != 50_000 {
		t.Fatalf("total supplied: got %d want 50000", reserve.TotalSupplied)
	}

	if err := f.engine.Withdraw(f.supplier, 60_000); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("over-withdraw: got %v want ErrInsufficientBalance", err)
	}
	if err := f.engine.Withdraw(f.supplier, 20_000); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	supplierRUSD, _ = f.balance(t, f.supplier)
	if supplierRUSD != 70_000 {
		t.Fatalf("supplier after withdraw: got %d want 70000", supplierRUSD)
	}
}

func TestEngineLoanLifecycle(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.Deposit(f.supplier, 50_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id := f.fundLoan(t, 10_000, 1)

	obligation, err := f.engine.Obligation(id)
	if err != nil {
		t.Fatalf("obligation: %v", err)
	}
	if obligation.Status != StatusFunded {
		t.Fatalf("status: got %s want funded", obligation.Status)
	}
	// Tier 2 terms: 130% collateral ratio, 8% rate over one year.
	if obligation.CollateralAmount != 13_000 {
		t.Fatalf("collateral: got %d want 13000", obligation.CollateralAmount)
	}
	if obligation.InterestAccrued != 800 {
		t.Fatalf("interest: got %d want 800", obligation.InterestAccrued)
	}
	borrowerRUSD, borrowerCRL := f.balance(t, f.borrower)
	if borrowerRUSD != 10_000 || borrowerCRL != 987_000 {
		t.Fatalf("borrower balances: rusd=%d crl=%d", borrowerRUSD, borrowerCRL)
	}
	_, vaultCRL := f.balance(t, f.collateralVault)
	if vaultCRL != 13_000 {
		t.Fatalf("collateral vault: got %d want 13000", vaultCRL)
	}

	applied, err := f.engine.Repay(f.borrower, id, 4_000)
	if err != nil || applied != 4_000 {
		t.Fatalf("partial repay: applied=%d err=%v", applied, err)
	}
	// Over-payment clamps to the outstanding balance.
	applied, err = f.engine.Repay(f.borrower, id, 7_000)
	if err != nil || applied != 6_000 {
		t.Fatalf("clamped repay: applied=%d err=%v", applied, err)
	}
	obligation, err = f.engine.Obligation(id)
	if err != nil {
		t.Fatalf("obligation: %v", err)
	}
	if obligation.Status != StatusRepaid || obligation.DebtAmount != 0 {
		t.Fatalf("after full repay: status=%s debt=%d", obligation.Status, obligation.DebtAmount)
	}

	status, err := f.engine.CloseLoan(f.borrower, id)
	if err != nil || status != StatusRepaid {
		t.Fatalf("close: status=%v err=%v", status, err)
	}
	_, borrowerCRL = f.balance(t, f.borrower)
	if borrowerCRL != 1_000_000 {
		t.Fatalf("collateral not returned: got %d want 1000000", borrowerCRL)
	}
	profile, err := f.engine.Borrower(f.borrower)
	if err != nil {
		t.Fatalf("borrower: %v", err)
	}
	if profile.ActiveLoans != 0 || profile.CreditScore != 710 {
		t.Fatalf("profile after close: active=%d score=%d", profile.ActiveLoans, profile.CreditScore)
	}

	// Closing again must be a no-op.
	status, err = f.engine.CloseLoan(f.borrower, id)
	if err != nil || status != StatusRepaid {
		t.Fatalf("second close: status=%v err=%v", status, err)
	}
	_, borrowerCRL = f.balance(t, f.borrower)
	if borrowerCRL != 1_000_000 {
		t.Fatalf("second close moved collateral: got %d", borrowerCRL)
	}
}

func TestEngineCloseDefaultsPastDue(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.Deposit(f.supplier, 50_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id := f.fundLoan(t, 10_000, 1)

	if _, err := f.engine.CloseLoan(f.borrower, id); !errors.Is(err, ErrLoanNotDue) {
		t.Fatalf("early close: got %v want ErrLoanNotDue", err)
	}
	f.now += 31_536_001

	status, err := f.engine.CloseLoan(f.lender, id)
	if err != nil || status != StatusDefaulted {
		t.Fatalf("default close: status=%v err=%v", status, err)
	}
	profile, err := f.engine.Borrower(f.borrower)
	if err != nil {
		t.Fatalf("borrower: %v", err)
	}
	if profile.CreditScore != 600 {
		t.Fatalf("score after default: got %d want 600", profile.CreditScore)
	}
	obligation, err := f.engine.Obligation(id)
	if err != nil {
		t.Fatalf("obligation: %v", err)
	}
	if obligation.Status != StatusDefaulted || obligation.DebtAmount != 10_000 {
		t.Fatalf("defaulted obligation: status=%s debt=%d", obligation.Status, obligation.DebtAmount)
	}
	// Collateral stays in custody for liquidation.
	_, vaultCRL := f.balance(t, f.collateralVault)
	if vaultCRL != 13_000 {
		t.Fatalf("collateral vault after default: got %d want 13000", vaultCRL)
	}
}

func TestEngineLiquidation(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.Deposit(f.supplier, 50_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id := f.fundLoan(t, 10_000, 1)

	// 13000 collateral at price 1 and 80% threshold covers 10000 debt.
	if _, err := f.engine.Liquidate(f.liquidator, id, 2_000); !errors.Is(err, ErrHealthyPosition) {
		t.Fatalf("healthy position: got %v want ErrHealthyPosition", err)
	}

	// Price halves; health drops to 0.52.
	f.setQuote(t, 5, -1)
	receipt, err := f.engine.Liquidate(f.liquidator, id, 2_000)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if receipt.DebtRepaid != 2_000 {
		t.Fatalf("debt repaid: got %d want 2000", receipt.DebtRepaid)
	}
	// 2000/0.5 = 4000 collateral, +5% bonus = 4200.
	if receipt.CollateralLiquidated != 4_200 {
		t.Fatalf("collateral liquidated: got %d want 4200", receipt.CollateralLiquidated)
	}
	liquidatorRUSD, liquidatorCRL := f.balance(t, f.liquidator)
	if liquidatorRUSD != 98_000 || liquidatorCRL != 4_200 {
		t.Fatalf("liquidator balances: rusd=%d crl=%d", liquidatorRUSD, liquidatorCRL)
	}
	obligation, err := f.engine.Obligation(id)
	if err != nil {
		t.Fatalf("obligation: %v", err)
	}
	if obligation.DebtAmount != 8_000 || obligation.CollateralAmount != 8_800 {
		t.Fatalf("after liquidation: debt=%d collateral=%d", obligation.DebtAmount, obligation.CollateralAmount)
	}
	reserve, err := f.engine.Reserve()
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserve.TotalLiquidations != 1 {
		t.Fatalf("liquidation counter: got %d want 1", reserve.TotalLiquidations)
	}
}

func TestEngineLiquidationPortionCap(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.Deposit(f.supplier, 50_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id := f.fundLoan(t, 10_000, 1)
	f.setQuote(t, 5, -1)
	// Repaying 5000 would seize 10500 collateral, beyond half of 13000.
	if _, err := f.engine.Liquidate(f.liquidator, id, 5_000); !errors.Is(err, ErrExceedsMaxLiquidationPortion) {
		t.Fatalf("portion cap: got %v want ErrExceedsMaxLiquidationPortion", err)
	}
}

func TestEngineLiquidationRejectsStaleQuote(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.Deposit(f.supplier, 50_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id := f.fundLoan(t, 10_000, 1)
	f.setQuote(t, 5, -1)
	f.now += 120 // quote falls outside the one-minute window
	if _, err := f.engine.Liquidate(f.liquidator, id, 2_000); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("stale quote: got %v want ErrStalePrice", err)
	}
}

func TestEngineRequestLoanGates(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.Deposit(f.supplier, 50_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Rate cap below the tier rate rejects the request.
	if _, err := f.engine.RequestLoan(f.borrower, 1, 10_000, 500, f.now+1000); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("rate cap: got %v want ErrRateLimitExceeded", err)
	}
	// Requests beyond the underwritten maximum are rejected.
	if _, err := f.engine.RequestLoan(f.borrower, 1, 200_000, 0, f.now+1000); !errors.Is(err, ErrLoanLimitExceeded) {
		t.Fatalf("over limit: got %v want ErrLoanLimitExceeded", err)
	}
	// Past-due requests are rejected.
	if _, err := f.engine.RequestLoan(f.borrower, 1, 10_000, 0, f.now); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("past due date: got %v want ErrInvalidAmount", err)
	}

	// An unverified borrower cannot originate.
	if _, err := f.engine.OnboardBorrower(f.supplier, 700, 40, "standard"); err != nil {
		t.Fatalf("onboard supplier: %v", err)
	}
	if _, err := f.engine.RequestLoan(f.supplier, 1, 10_000, 0, f.now+1000); !errors.Is(err, ErrKYCNotVerified) {
		t.Fatalf("unverified: got %v want ErrKYCNotVerified", err)
	}
}

func TestEngineQuotaLimitsOriginations(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.SetQuota(common.Quota{MaxRequestsPerEpoch: 1, EpochSeconds: 3_600})
	if err := f.engine.Deposit(f.supplier, 50_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.engine.RequestLoan(f.borrower, 1, 1_000, 0, f.now+1000); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := f.engine.RequestLoan(f.borrower, 2, 1_000, 0, f.now+1000); !errors.Is(err, common.ErrQuotaRequestsExceeded) {
		t.Fatalf("second request: got %v want ErrQuotaRequestsExceeded", err)
	}
	// A new epoch resets the counter.
	f.now += 3_600
	if _, err := f.engine.RequestLoan(f.borrower, 3, 1_000, 0, f.now+1000); err != nil {
		t.Fatalf("request in next epoch: %v", err)
	}
}

func TestEngineActionPauses(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.SetActionPauses(common.ActionPauses{Borrow: true})
	if err := f.engine.Deposit(f.supplier, 50_000); err != nil {
		t.Fatalf("deposit with borrow paused: %v", err)
	}
	if _, err := f.engine.RequestLoan(f.borrower, 1, 1_000, 0, f.now+1000); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("paused borrow: got %v want ErrModulePaused", err)
	}
}

func TestEngineOnboardRejectsOutOfRangeScore(t *testing.T) {
	f := newEngineFixture(t)
	newcomer := testAddr(0x77)
	for _, score := range []uint32{0, 299, 851, ^uint32(0) - 5} {
		if _, err := f.engine.OnboardBorrower(newcomer, score, 40, "standard"); !errors.Is(err, ErrInvalidCreditScore) {
			t.Fatalf("score %d: got %v want ErrInvalidCreditScore", score, err)
		}
	}
	if _, err := f.engine.OnboardBorrower(newcomer, 850, 40, "standard"); err != nil {
		t.Fatalf("boundary score: %v", err)
	}
}

func TestEngineWithdrawPauseIndependentOfDeposit(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.Deposit(f.supplier, 50_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.engine.SetActionPauses(common.ActionPauses{Deposit: true})
	if err := f.engine.Withdraw(f.supplier, 10_000); err != nil {
		t.Fatalf("withdraw with deposits paused: %v", err)
	}
	f.engine.SetActionPauses(common.ActionPauses{Withdraw: true})
	if err := f.engine.Withdraw(f.supplier, 10_000); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("paused withdraw: got %v want ErrModulePaused", err)
	}
	if err := f.engine.Deposit(f.supplier, 1_000); err != nil {
		t.Fatalf("deposit with withdrawals paused: %v", err)
	}
}

func TestEngineProcessFees(t *testing.T) {
	f := newEngineFixture(t)
	if _, _, err := f.engine.ProcessFees(f.supplier, f.authority, 10_000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-authority fees: got %v want ErrUnauthorized", err)
	}
	insurance, reserveShare, err := f.engine.ProcessFees(f.authority, f.authority, 10_000)
	if err != nil {
		t.Fatalf("process fees: %v", err)
	}
	if insurance != 500 || reserveShare != 1_000 {
		t.Fatalf("fee split: insurance=%d reserve=%d", insurance, reserveShare)
	}
	insuranceRUSD, _ := f.balance(t, f.insuranceVault)
	vaultRUSD, _ := f.balance(t, f.liquidityVault)
	if insuranceRUSD != 500 || vaultRUSD != 1_000 {
		t.Fatalf("fee balances: insurance=%d vault=%d", insuranceRUSD, vaultRUSD)
	}
	reserve, err := f.engine.Reserve()
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserve.InsuranceTotal != 500 || reserve.ReserveTotal != 1_000 {
		t.Fatalf("fee totals: insurance=%d reserve=%d", reserve.InsuranceTotal, reserve.ReserveTotal)
	}
}

func TestEngineWithdrawReserveFees(t *testing.T) {
	f := newEngineFixture(t)
	if _, _, err := f.engine.ProcessFees(f.authority, f.authority, 10_000); err != nil {
		t.Fatalf("process fees: %v", err)
	}
	if err := f.engine.WithdrawReserveFees(f.supplier, f.supplier, 500); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-authority withdraw: got %v want ErrUnauthorized", err)
	}
	if err := f.engine.WithdrawReserveFees(f.authority, f.authority, 1_500); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("over-accrual withdraw: got %v want ErrInsufficientBalance", err)
	}
	beforeRUSD, _ := f.balance(t, f.authority)
	if err := f.engine.WithdrawReserveFees(f.authority, f.authority, 600); err != nil {
		t.Fatalf("withdraw fees: %v", err)
	}
	afterRUSD, _ := f.balance(t, f.authority)
	if afterRUSD != beforeRUSD+600 {
		t.Fatalf("recipient balance: got %d want %d", afterRUSD, beforeRUSD+600)
	}
	vaultRUSD, _ := f.balance(t, f.liquidityVault)
	if vaultRUSD != 400 {
		t.Fatalf("vault balance after withdraw: got %d want 400", vaultRUSD)
	}
	reserve, err := f.engine.Reserve()
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserve.ReserveTotal != 400 {
		t.Fatalf("reserve total: got %d want 400", reserve.ReserveTotal)
	}
}

func TestEngineRepayAuthorization(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.Deposit(f.supplier, 50_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id := f.fundLoan(t, 10_000, 1)
	if _, err := f.engine.Repay(f.supplier, id, 1_000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("third-party repay: got %v want ErrUnauthorized", err)
	}
}

func TestEngineEvents(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.Deposit(f.supplier, 50_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.fundLoan(t, 10_000, 1)
	events := f.engine.DrainEvents()
	var sawDeposit, sawRequested, sawFunded bool
	for _, event := range events {
		switch event.Type {
		case EventTypeDeposit:
			sawDeposit = true
		case EventTypeLoanRequested:
			sawRequested = true
		case EventTypeLoanFunded:
			sawFunded = true
		}
	}
	if !sawDeposit || !sawRequested || !sawFunded {
		t.Fatalf("missing events: deposit=%v requested=%v funded=%v", sawDeposit, sawRequested, sawFunded)
	}
	if remaining := f.engine.Events(); len(remaining) != 0 {
		t.Fatalf("drain must clear the buffer, %d left", len(remaining))
	}
}
