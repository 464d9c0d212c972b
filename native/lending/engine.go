package lending

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"creditrail/core/types"
	"creditrail/crypto"
	"creditrail/native/common"
	"creditrail/native/pricefeed"
)

const moduleName = "lending"

// engineState abstracts the persistence layer the engine operates against.
// Implementations must serve stable snapshots; conflicting writers are
// serialized by the hosting environment's optimistic concurrency control.
type engineState interface {
	GetReserve(poolID string) (*Reserve, error)
	PutReserve(reserve *Reserve) error
	GetObligation(id [32]byte) (*LoanObligation, error)
	PutObligation(obligation *LoanObligation) error
	GetBorrowerProfile(addr crypto.Address) (*BorrowerProfile, error)
	PutBorrowerProfile(profile *BorrowerProfile) error
	GetLenderProfile(addr crypto.Address) (*LenderProfile, error)
	PutLenderProfile(profile *LenderProfile) error
	GetRiskModel(id string) (*RiskModel, error)
	PutRiskModel(model *RiskModel) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// MetricsSink receives operational counters from the engine. A nil sink
// disables instrumentation.
type MetricsSink interface {
	ObserveOrigination(poolID string)
	ObserveRepayment(poolID string)
	ObserveLiquidation(poolID string)
	ObserveDefault(poolID string)
	SetUtilization(poolID string, bps uint64)
	SetBorrowRate(poolID string, bps uint64)
}

// IncomeSource resolves a borrower's attested annual income. Income is an
// external input to underwriting, never a protocol constant.
type IncomeSource func(addr crypto.Address) (uint64, error)

// Engine orchestrates the primary state transitions for the lending module:
// pool deposits, loan origination, repayment, close-out and liquidation.
// Every mutating operation validates fully before touching state, stages its
// mutations on clones and persists only once the whole operation has
// succeeded.
type Engine struct {
	state             engineState
	poolID            string
	liquidityAddress  crypto.Address
	collateralAddress crypto.Address
	insuranceAddress  crypto.Address

	oracle      pricefeed.Oracle
	maxQuoteAge time.Duration

	pauses       common.PauseView
	actionPauses common.ActionPauses
	quota        common.Quota
	incomeFn     IncomeSource
	metrics      MetricsSink

	events []*types.Event
	nowFn  func() int64
}

// NewEngine constructs a lending engine configured with the module custody
// addresses: the liquidity vault (RUSD), the collateral vault (CRL) and the
// insurance fund (RUSD).
func NewEngine(liquidityAddr, collateralAddr, insuranceAddr crypto.Address) *Engine {
	return &Engine{
		liquidityAddress:  liquidityAddr,
		collateralAddress: collateralAddr,
		insuranceAddress:  insuranceAddr,
		nowFn:             func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPoolID assigns the lending pool identifier that subsequent operations
// will operate against.
func (e *Engine) SetPoolID(poolID string) {
	if e == nil {
		return
	}
	e.poolID = strings.TrimSpace(poolID)
}

// PoolID returns the currently configured pool identifier for the engine.
func (e *Engine) PoolID() string {
	if e == nil {
		return ""
	}
	return e.poolID
}

// SetOracle wires the price oracle consulted during liquidation along with
// the staleness bound applied to quotes.
func (e *Engine) SetOracle(oracle pricefeed.Oracle, maxAge time.Duration) {
	if e == nil {
		return
	}
	e.oracle = oracle
	e.maxQuoteAge = maxAge
}

func (e *Engine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetActionPauses configures the per-flow circuit breaker switches.
func (e *Engine) SetActionPauses(p common.ActionPauses) {
	if e == nil {
		return
	}
	e.actionPauses = p
}

// SetQuota configures the per-borrower origination throttles.
func (e *Engine) SetQuota(q common.Quota) {
	if e == nil {
		return
	}
	e.quota = q
}

// SetIncomeSource wires the external income attestation consulted during
// underwriting.
func (e *Engine) SetIncomeSource(fn IncomeSource) {
	if e == nil {
		return
	}
	e.incomeFn = fn
}

// SetMetrics wires the instrumentation sink.
func (e *Engine) SetMetrics(sink MetricsSink) {
	if e == nil {
		return
	}
	e.metrics = sink
}

// SetNowFunc overrides the wall clock. Primarily leveraged in tests to
// provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// Events returns the events emitted since the last drain.
func (e *Engine) Events() []*types.Event {
	if e == nil {
		return nil
	}
	return append([]*types.Event(nil), e.events...)
}

// DrainEvents returns and clears the pending event buffer.
func (e *Engine) DrainEvents() []*types.Event {
	if e == nil {
		return nil
	}
	drained := e.events
	e.events = nil
	return drained
}

func (e *Engine) emit(event *types.Event) {
	if event == nil {
		return
	}
	e.events = append(e.events, event)
}

func (e *Engine) guard(action string) error {
	return common.GuardAction(e.pauses, moduleName, action, e.actionPauses)
}

// --- Administration ---

// InitReserve registers a new reserve after validating its parameters. The
// caller becomes the reserve authority.
func (e *Engine) InitReserve(caller crypto.Address, reserve *Reserve) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if reserve == nil {
		return ErrReserveNotFound
	}
	staged := reserve.Clone()
	staged.Authority = caller
	if err := staged.Validate(); err != nil {
		return err
	}
	existing, err := e.state.GetReserve(staged.PoolID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("lending engine: reserve %s already initialised", staged.PoolID)
	}
	return e.state.PutReserve(staged)
}

// RegisterRiskModel stores a validated risk model. Updates require the
// caller to match the recorded authority.
func (e *Engine) RegisterRiskModel(caller crypto.Address, model *RiskModel) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if model == nil {
		return ErrRiskModelNotFound
	}
	staged := model.Clone()
	if staged.Authority.IsZero() {
		staged.Authority = caller
	}
	if err := staged.Validate(); err != nil {
		return err
	}
	existing, err := e.state.GetRiskModel(staged.ID)
	if err != nil {
		return err
	}
	if existing != nil && !existing.Authority.Equal(caller) {
		return ErrUnauthorized
	}
	if !staged.Authority.Equal(caller) {
		return ErrUnauthorized
	}
	return e.state.PutRiskModel(staged)
}

// OnboardBorrower creates the borrower's underwriting profile. KYC starts
// pending until a registered provider attests it.
func (e *Engine) OnboardBorrower(caller crypto.Address, creditScore uint32, debtToIncome uint64, riskModelID string) (*BorrowerProfile, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	// Scores live on the 300-850 scale; anything else would also let the
	// close-time adjustments wrap.
	if creditScore < minCreditScore || creditScore > maxCreditScore {
		return nil, ErrInvalidCreditScore
	}
	model, err := e.state.GetRiskModel(strings.TrimSpace(riskModelID))
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, ErrRiskModelNotFound
	}
	existing, err := e.state.GetBorrowerProfile(caller)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("lending engine: borrower %s already onboarded", caller)
	}
	profile := &BorrowerProfile{
		Address:      caller,
		CreditScore:  creditScore,
		DebtToIncome: debtToIncome,
		KYC:          KYCPending,
		RiskModelID:  strings.TrimSpace(riskModelID),
	}
	if err := e.state.PutBorrowerProfile(profile); err != nil {
		return nil, err
	}
	return profile.Clone(), nil
}

// VerifyKYC marks a borrower as verified. The caller must be a provider
// registered on the borrower's risk model.
func (e *Engine) VerifyKYC(provider, borrower crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	profile, err := e.state.GetBorrowerProfile(borrower)
	if err != nil {
		return err
	}
	if profile == nil {
		return ErrProfileNotFound
	}
	model, err := e.state.GetRiskModel(profile.RiskModelID)
	if err != nil {
		return err
	}
	if model == nil {
		return ErrRiskModelNotFound
	}
	if !model.HasProvider(provider) {
		return ErrInvalidKYCProvider
	}
	staged := profile.Clone()
	staged.KYC = KYCVerified
	return e.state.PutBorrowerProfile(staged)
}

// --- Pool liquidity ---

// Deposit moves RUSD from the supplier into the liquidity vault and records
// the supplied amount on the reserve and the lender profile.
func (e *Engine) Deposit(supplier crypto.Address, amount uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.guard("deposit"); err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	reserve, err := e.loadReserve()
	if err != nil {
		return err
	}
	if err := reserve.RecordDeposit(amount); err != nil {
		return err
	}

	supplierAcc, err := e.loadAccount(supplier)
	if err != nil {
		return err
	}
	vaultAcc, err := e.loadAccount(e.liquidityAddress)
	if err != nil {
		return err
	}
	if err := debitRUSD(supplierAcc, amount); err != nil {
		return err
	}
	creditRUSD(vaultAcc, amount)

	lender, err := e.ensureLenderProfile(supplier)
	if err != nil {
		return err
	}
	total, err := checkedAdd(lender.TotalSupplied, amount)
	if err != nil {
		return err
	}
	lender.TotalSupplied = total

	if err := e.persistAccounts(accountWrite{supplier, supplierAcc}, accountWrite{e.liquidityAddress, vaultAcc}); err != nil {
		return err
	}
	if err := e.state.PutLenderProfile(lender); err != nil {
		return err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return err
	}
	e.emit(NewPoolFlowEvent(EventTypeDeposit, reserve.PoolID, amount))
	e.observeRates(reserve)
	return nil
}

// Withdraw releases supplied liquidity back to the lender, bounded by the
// liquidity not currently on loan and by the lender's recorded supply.
func (e *Engine) Withdraw(supplier crypto.Address, amount uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.guard("withdraw"); err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	reserve, err := e.loadReserve()
	if err != nil {
		return err
	}
	lender, err := e.ensureLenderProfile(supplier)
	if err != nil {
		return err
	}
	if lender.TotalSupplied < amount {
		return ErrInsufficientBalance
	}
	if err := reserve.RecordWithdrawal(amount); err != nil {
		return err
	}

	vaultAcc, err := e.loadAccount(e.liquidityAddress)
	if err != nil {
		return err
	}
	supplierAcc, err := e.loadAccount(supplier)
	if err != nil {
		return err
	}
	if err := debitRUSD(vaultAcc, amount); err != nil {
		return ErrInsufficientLiquidity
	}
	creditRUSD(supplierAcc, amount)
	lender.TotalSupplied -= amount

	if err := e.persistAccounts(accountWrite{e.liquidityAddress, vaultAcc}, accountWrite{supplier, supplierAcc}); err != nil {
		return err
	}
	if err := e.state.PutLenderProfile(lender); err != nil {
		return err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return err
	}
	e.emit(NewPoolFlowEvent(EventTypeWithdraw, reserve.PoolID, amount))
	e.observeRates(reserve)
	return nil
}

// --- Loan lifecycle ---

// RequestLoan runs underwriting for the borrower and records a Requested
// obligation. The recorded rate is the tier rate floored by the reserve's
// utilization-derived rate; a caller-supplied maxRateBps above zero caps the
// result rather than silently raising it.
func (e *Engine) RequestLoan(borrower crypto.Address, seed, amount, maxRateBps uint64, dueDate int64) (*LoanObligation, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard("borrow"); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	now := e.nowFn()
	if dueDate <= now {
		return nil, fmt.Errorf("%w: due date must be in the future", ErrInvalidAmount)
	}
	reserve, err := e.loadReserve()
	if err != nil {
		return nil, err
	}
	profile, err := e.state.GetBorrowerProfile(borrower)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrProfileNotFound
	}
	model, err := e.state.GetRiskModel(profile.RiskModelID)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, ErrRiskModelNotFound
	}
	if e.incomeFn == nil {
		return nil, fmt.Errorf("%w: income source not configured", ErrCalculation)
	}
	income, err := e.incomeFn(borrower)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalculation, err)
	}

	eligibility, err := EvaluateBorrower(profile, model, amount, income)
	if err != nil {
		return nil, err
	}

	rate := eligibility.InterestRateBps
	if poolRate := reserve.BorrowRateBps(); poolRate > rate {
		rate = poolRate
	}
	if maxRateBps > 0 && rate > maxRateBps {
		return nil, ErrRateLimitExceeded
	}

	staged := profile.Clone()
	if e.quota.Enabled() {
		usage, err := common.CheckQuota(e.quota, e.quotaEpoch(now), staged.QuotaUsage, 1, amount)
		if err != nil {
			return nil, err
		}
		staged.QuotaUsage = usage
	}
	staged.TierID = eligibility.TierID
	staged.CollateralRatioBps = eligibility.CollateralRatioBps
	staged.MaxLoanAmount = eligibility.MaxLoan

	id := ObligationID(reserve.PoolID, borrower, seed)
	existing, err := e.state.GetObligation(id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("lending engine: obligation %x already exists", id)
	}

	obligation := &LoanObligation{
		ID:                      id,
		Seed:                    seed,
		PoolID:                  reserve.PoolID,
		Borrower:                borrower,
		Principal:               amount,
		InterestRateBps:         rate,
		LiquidationThresholdBps: reserve.LiquidationThresholdBps,
		DueDate:                 dueDate,
		CreatedAt:               now,
		UpdatedAt:               now,
		Status:                  StatusRequested,
	}
	if err := e.state.PutBorrowerProfile(staged); err != nil {
		return nil, err
	}
	if err := e.state.PutObligation(obligation); err != nil {
		return nil, err
	}
	e.emit(NewLoanRequestedEvent(obligation))
	return obligation.Clone(), nil
}

// ApproveAndFund settles a Requested obligation in one atomic step: the
// borrower's collateral moves into the collateral vault and the principal
// moves from the liquidity vault to the borrower. Both legs are validated
// before either balance mutates.
func (e *Engine) ApproveAndFund(lender crypto.Address, id [32]byte) (*LoanObligation, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard("borrow"); err != nil {
		return nil, err
	}
	obligation, err := e.loadObligation(id)
	if err != nil {
		return nil, err
	}
	if obligation.Status != StatusRequested {
		return nil, ErrInvalidLoanStatus
	}
	reserve, err := e.loadReserve()
	if err != nil {
		return nil, err
	}
	if obligation.PoolID != reserve.PoolID {
		return nil, ErrReserveNotFound
	}
	profile, err := e.state.GetBorrowerProfile(obligation.Borrower)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrProfileNotFound
	}

	collateral, err := mulBps(obligation.Principal, profile.CollateralRatioBps)
	if err != nil {
		return nil, err
	}

	borrowerAcc, err := e.loadAccount(obligation.Borrower)
	if err != nil {
		return nil, err
	}
	vaultAcc, err := e.loadAccount(e.liquidityAddress)
	if err != nil {
		return nil, err
	}
	collateralAcc, err := e.loadAccount(e.collateralAddress)
	if err != nil {
		return nil, err
	}

	// Fail-fast validation of both transfer legs.
	if cmpBalance(borrowerAcc.BalanceCRL, collateral) < 0 {
		return nil, ErrInsufficientBalance
	}
	if cmpBalance(vaultAcc.BalanceRUSD, obligation.Principal) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	if err := reserve.RecordBorrow(obligation.Principal); err != nil {
		return nil, err
	}

	now := e.nowFn()
	staged := obligation.Clone()
	staged.Lender = lender
	staged.Status = StatusApproved
	staged.StartDate = now
	staged.CollateralAmount = collateral
	staged.DebtAmount = staged.Principal
	interest, err := simpleInterest(staged.Principal, staged.InterestRateBps, now, staged.DueDate)
	if err != nil {
		return nil, err
	}
	staged.InterestAccrued = interest

	debitCRL(borrowerAcc, collateral)
	creditCRL(collateralAcc, collateral)
	debitRUSDUnchecked(vaultAcc, obligation.Principal)
	creditRUSD(borrowerAcc, obligation.Principal)

	staged.Status = StatusFunded
	staged.UpdatedAt = now

	borrowerProfile := profile.Clone()
	totalLoans, err := checkedAdd(borrowerProfile.TotalLoans, 1)
	if err != nil {
		return nil, err
	}
	borrowerProfile.TotalLoans = totalLoans
	borrowerProfile.ActiveLoans++

	lenderProfile, err := e.ensureLenderProfile(lender)
	if err != nil {
		return nil, err
	}
	lenderProfile.ActiveLoans++

	if err := staged.CheckInvariants(); err != nil {
		return nil, err
	}
	if err := e.persistAccounts(
		accountWrite{obligation.Borrower, borrowerAcc},
		accountWrite{e.liquidityAddress, vaultAcc},
		accountWrite{e.collateralAddress, collateralAcc},
	); err != nil {
		return nil, err
	}
	if err := e.state.PutBorrowerProfile(borrowerProfile); err != nil {
		return nil, err
	}
	if err := e.state.PutLenderProfile(lenderProfile); err != nil {
		return nil, err
	}
	if err := e.state.PutObligation(staged); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	e.emit(NewLoanFundedEvent(staged))
	if e.metrics != nil {
		e.metrics.ObserveOrigination(reserve.PoolID)
	}
	e.observeRates(reserve)
	return staged.Clone(), nil
}

// Repay reduces the borrower's outstanding debt. The amount is clamped to the
// outstanding balance and only the clamped amount is transferred; the loan
// flips to Repaid once the principal is covered.
func (e *Engine) Repay(borrower crypto.Address, id [32]byte, amount uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	if err := e.guard("repay"); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	obligation, err := e.loadObligation(id)
	if err != nil {
		return 0, err
	}
	if !obligation.Borrower.Equal(borrower) {
		return 0, ErrUnauthorized
	}
	if obligation.Status != StatusFunded {
		return 0, ErrInvalidLoanStatus
	}

	outstanding := obligation.DebtAmount
	applied := minUint64(amount, outstanding)
	if applied == 0 {
		return 0, ErrInvalidLoanStatus
	}

	borrowerAcc, err := e.loadAccount(borrower)
	if err != nil {
		return 0, err
	}
	vaultAcc, err := e.loadAccount(e.liquidityAddress)
	if err != nil {
		return 0, err
	}
	if err := debitRUSD(borrowerAcc, applied); err != nil {
		return 0, err
	}
	creditRUSD(vaultAcc, applied)

	reserve, err := e.loadReserve()
	if err != nil {
		return 0, err
	}
	reserve.RecordRepayment(applied)

	staged := obligation.Clone()
	repaid, err := checkedAdd(staged.RepaidAmount, applied)
	if err != nil {
		return 0, err
	}
	staged.RepaidAmount = repaid
	remaining, err := checkedSub(outstanding, applied)
	if err != nil {
		return 0, err
	}
	staged.DebtAmount = remaining
	staged.UpdatedAt = e.nowFn()
	if staged.RepaidAmount >= staged.Principal {
		staged.Status = StatusRepaid
	}
	if err := staged.CheckInvariants(); err != nil {
		return 0, err
	}

	if err := e.persistAccounts(accountWrite{borrower, borrowerAcc}, accountWrite{e.liquidityAddress, vaultAcc}); err != nil {
		return 0, err
	}
	if err := e.state.PutObligation(staged); err != nil {
		return 0, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return 0, err
	}
	e.emit(NewLoanRepaidEvent(staged, applied))
	if e.metrics != nil {
		e.metrics.ObserveRepayment(reserve.PoolID)
	}
	e.observeRates(reserve)
	return applied, nil
}

// CloseLoan settles an obligation after its due date (or earlier when fully
// repaid). A repaid loan releases the remaining collateral to the borrower;
// an unpaid one defaults, adjusting the borrower's credit score and leaving
// the collateral in custody for liquidation. Closing is idempotent: a second
// call never moves assets or counters again.
func (e *Engine) CloseLoan(caller crypto.Address, id [32]byte) (LoanStatus, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	obligation, err := e.loadObligation(id)
	if err != nil {
		return 0, err
	}
	if !obligation.Borrower.Equal(caller) && !obligation.Lender.Equal(caller) {
		return 0, ErrUnauthorized
	}
	if obligation.ClosedAt != 0 {
		return obligation.Status, nil
	}
	if obligation.Status != StatusFunded && obligation.Status != StatusRepaid {
		return 0, ErrInvalidLoanStatus
	}
	now := e.nowFn()
	if now <= obligation.DueDate && obligation.Status != StatusRepaid {
		return 0, ErrLoanNotDue
	}

	profile, err := e.state.GetBorrowerProfile(obligation.Borrower)
	if err != nil {
		return 0, err
	}
	if profile == nil {
		return 0, ErrProfileNotFound
	}
	lenderProfile, err := e.ensureLenderProfile(obligation.Lender)
	if err != nil {
		return 0, err
	}

	staged := obligation.Clone()
	borrowerProfile := profile.Clone()
	totalDue := staged.Principal - staged.RepaidAmount

	var accountWrites []accountWrite
	if totalDue == 0 {
		staged.Status = StatusRepaid
		if staged.CollateralAmount > 0 {
			collateralAcc, err := e.loadAccount(e.collateralAddress)
			if err != nil {
				return 0, err
			}
			borrowerAcc, err := e.loadAccount(obligation.Borrower)
			if err != nil {
				return 0, err
			}
			if err := debitCRLChecked(collateralAcc, staged.CollateralAmount); err != nil {
				return 0, err
			}
			creditCRL(borrowerAcc, staged.CollateralAmount)
			accountWrites = append(accountWrites,
				accountWrite{e.collateralAddress, collateralAcc},
				accountWrite{obligation.Borrower, borrowerAcc})
			staged.CollateralAmount = 0
		}
		borrowerProfile.CreditScore = raiseScore(borrowerProfile.CreditScore, 10)
	} else {
		staged.Status = StatusDefaulted
		staged.DebtAmount = totalDue
		borrowerProfile.CreditScore = lowerScore(borrowerProfile.CreditScore, 100)
	}

	if borrowerProfile.ActiveLoans > 0 {
		borrowerProfile.ActiveLoans--
	}
	if lenderProfile.ActiveLoans > 0 {
		lenderProfile.ActiveLoans--
	}
	staged.ClosedAt = now
	staged.UpdatedAt = now

	if err := e.persistAccounts(accountWrites...); err != nil {
		return 0, err
	}
	if err := e.state.PutBorrowerProfile(borrowerProfile); err != nil {
		return 0, err
	}
	if err := e.state.PutLenderProfile(lenderProfile); err != nil {
		return 0, err
	}
	if err := e.state.PutObligation(staged); err != nil {
		return 0, err
	}
	e.emit(NewLoanClosedEvent(staged))
	if staged.Status == StatusDefaulted && e.metrics != nil {
		e.metrics.ObserveDefault(staged.PoolID)
	}
	return staged.Status, nil
}

// Liquidate lets a third party repay part of an unhealthy obligation's debt
// in exchange for a bonus-bearing share of its collateral. Price quotes must
// match the reserve's registered feed and fall inside the staleness window.
func (e *Engine) Liquidate(liquidator crypto.Address, id [32]byte, maxDebtToRepay uint64) (*LiquidationReceipt, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard("liquidate"); err != nil {
		return nil, err
	}
	obligation, err := e.loadObligation(id)
	if err != nil {
		return nil, err
	}
	if obligation.Status != StatusFunded && obligation.Status != StatusDefaulted {
		return nil, ErrInvalidLoanStatus
	}
	if obligation.DebtAmount == 0 {
		return nil, ErrHealthyPosition
	}
	reserve, err := e.loadReserve()
	if err != nil {
		return nil, err
	}
	if obligation.PoolID != reserve.PoolID {
		return nil, ErrReserveNotFound
	}

	quote, err := e.fetchQuote(reserve)
	if err != nil {
		return nil, err
	}
	price := quote.Rate()

	health := HealthFactor(obligation.CollateralAmount, obligation.DebtAmount, price, obligation.LiquidationThresholdBps)
	if obligation.Status == StatusFunded && !Liquidatable(health) {
		return nil, ErrHealthyPosition
	}

	plan, err := PlanLiquidation(obligation, price, maxDebtToRepay, reserve.MinLiquidationSize, reserve.LiquidationBonusBps)
	if err != nil {
		return nil, err
	}

	liquidatorAcc, err := e.loadAccount(liquidator)
	if err != nil {
		return nil, err
	}
	vaultAcc, err := e.loadAccount(e.liquidityAddress)
	if err != nil {
		return nil, err
	}
	collateralAcc, err := e.loadAccount(e.collateralAddress)
	if err != nil {
		return nil, err
	}
	if cmpBalance(liquidatorAcc.BalanceRUSD, plan.DebtToRepay) < 0 {
		return nil, ErrInsufficientBalance
	}
	if cmpBalance(collateralAcc.BalanceCRL, plan.CollateralToSeize) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	now := e.nowFn()
	staged := obligation.Clone()

	// Liquidator's debt payment into the pool, collateral payout back out.
	debitRUSDUnchecked(liquidatorAcc, plan.DebtToRepay)
	creditRUSD(vaultAcc, plan.DebtToRepay)
	debitCRL(collateralAcc, plan.CollateralToSeize)
	creditCRL(liquidatorAcc, plan.CollateralToSeize)

	repaid, err := checkedAdd(staged.RepaidAmount, plan.DebtToRepay)
	if err != nil {
		return nil, err
	}
	staged.RepaidAmount = repaid
	staged.DebtAmount -= plan.DebtToRepay
	staged.CollateralAmount -= plan.CollateralToSeize
	staged.UpdatedAt = now

	reserve.RecordRepayment(plan.DebtToRepay)
	liquidations, err := checkedAdd(reserve.TotalLiquidations, 1)
	if err != nil {
		return nil, err
	}
	reserve.TotalLiquidations = liquidations
	reserve.LastLiquidationAt = now

	receipt := &LiquidationReceipt{
		ObligationID:         staged.ID,
		Borrower:             staged.Borrower,
		Liquidator:           liquidator,
		DebtRepaid:           plan.DebtToRepay,
		CollateralLiquidated: plan.CollateralToSeize,
		Timestamp:            now,
	}

	var insuranceWrites []accountWrite
	switch {
	case staged.DebtAmount <= reserve.DustThreshold && staged.DebtAmount > 0:
		// Residual dust is written off against the insurance fund and the
		// obligation settles as repaid.
		coverage := reserve.AbsorbLiquidationLoss(staged.DebtAmount)
		writes, err := e.coverFromInsurance(coverage)
		if err != nil {
			return nil, err
		}
		insuranceWrites = writes
		receipt.InsuranceCoverage = coverage
		staged.RepaidAmount = staged.Principal
		staged.DebtAmount = 0
		staged.Status = StatusRepaid
	case staged.DebtAmount == 0:
		staged.Status = StatusRepaid
	case staged.CollateralAmount == 0:
		// Collateral exhausted with debt remaining: bad debt. Insurance
		// covers what it can and the obligation defaults.
		coverage := reserve.AbsorbLiquidationLoss(staged.DebtAmount)
		writes, err := e.coverFromInsurance(coverage)
		if err != nil {
			return nil, err
		}
		insuranceWrites = writes
		receipt.InsuranceCoverage = coverage
		staged.Status = StatusDefaulted
	}
	if err := staged.CheckInvariants(); err != nil {
		return nil, err
	}

	writes := append([]accountWrite{
		{liquidator, liquidatorAcc},
		{e.liquidityAddress, vaultAcc},
		{e.collateralAddress, collateralAcc},
	}, insuranceWrites...)
	if err := e.persistAccounts(writes...); err != nil {
		return nil, err
	}
	if err := e.state.PutObligation(staged); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	e.emit(NewLiquidationEvent(receipt))
	if e.metrics != nil {
		e.metrics.ObserveLiquidation(reserve.PoolID)
	}
	e.observeRates(reserve)
	return receipt, nil
}

// ProcessFees splits a fee payment into insurance and reserve allocations.
// The caller must be the reserve authority; the insurance share settles into
// the insurance fund and the reserve share into the liquidity vault.
func (e *Engine) ProcessFees(caller, source crypto.Address, amount uint64) (insurance uint64, reserveShare uint64, err error) {
	if e == nil || e.state == nil {
		return 0, 0, ErrNilState
	}
	if amount == 0 {
		return 0, 0, ErrInvalidAmount
	}
	reserve, err := e.loadReserve()
	if err != nil {
		return 0, 0, err
	}
	if !reserve.Authority.Equal(caller) {
		return 0, 0, ErrUnauthorized
	}
	insurance, reserveShare, err = reserve.ApplyFee(amount)
	if err != nil {
		return 0, 0, err
	}
	sourceAcc, err := e.loadAccount(source)
	if err != nil {
		return 0, 0, err
	}
	total, err := checkedAdd(insurance, reserveShare)
	if err != nil {
		return 0, 0, err
	}
	if err := debitRUSD(sourceAcc, total); err != nil {
		return 0, 0, err
	}
	insuranceAcc, err := e.loadAccount(e.insuranceAddress)
	if err != nil {
		return 0, 0, err
	}
	vaultAcc, err := e.loadAccount(e.liquidityAddress)
	if err != nil {
		return 0, 0, err
	}
	creditRUSD(insuranceAcc, insurance)
	creditRUSD(vaultAcc, reserveShare)

	if err := e.persistAccounts(
		accountWrite{source, sourceAcc},
		accountWrite{e.insuranceAddress, insuranceAcc},
		accountWrite{e.liquidityAddress, vaultAcc},
	); err != nil {
		return 0, 0, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return 0, 0, err
	}
	return insurance, reserveShare, nil
}

// WithdrawReserveFees pays accrued reserve fees out of the liquidity vault.
// Only the reserve authority may withdraw, and only up to the accrued total.
func (e *Engine) WithdrawReserveFees(caller, recipient crypto.Address, amount uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	reserve, err := e.loadReserve()
	if err != nil {
		return err
	}
	if !reserve.Authority.Equal(caller) {
		return ErrUnauthorized
	}
	if amount > reserve.ReserveTotal {
		return ErrInsufficientBalance
	}
	vaultAcc, err := e.loadAccount(e.liquidityAddress)
	if err != nil {
		return err
	}
	if err := debitRUSD(vaultAcc, amount); err != nil {
		return err
	}
	recipientAcc, err := e.state.GetAccount(recipient)
	if err != nil {
		return err
	}
	if recipientAcc == nil {
		recipientAcc = &types.Account{}
	} else {
		recipientAcc = recipientAcc.Clone()
	}
	recipientAcc.EnsureBalances()
	creditRUSD(recipientAcc, amount)
	remaining, err := checkedSub(reserve.ReserveTotal, amount)
	if err != nil {
		return err
	}
	reserve.ReserveTotal = remaining

	if err := e.persistAccounts(
		accountWrite{e.liquidityAddress, vaultAcc},
		accountWrite{recipient, recipientAcc},
	); err != nil {
		return err
	}
	return e.state.PutReserve(reserve)
}

// --- Queries ---

// Reserve returns a copy of the configured pool's reserve.
func (e *Engine) Reserve() (*Reserve, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	reserve, err := e.loadReserve()
	if err != nil {
		return nil, err
	}
	return reserve, nil
}

// Obligation returns a copy of the obligation with the given identifier.
func (e *Engine) Obligation(id [32]byte) (*LoanObligation, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	obligation, err := e.loadObligation(id)
	if err != nil {
		return nil, err
	}
	return obligation.Clone(), nil
}

// Borrower returns a copy of the borrower profile for the address.
func (e *Engine) Borrower(addr crypto.Address) (*BorrowerProfile, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	profile, err := e.state.GetBorrowerProfile(addr)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrProfileNotFound
	}
	return profile.Clone(), nil
}

// --- Internal helpers ---

func (e *Engine) loadReserve() (*Reserve, error) {
	if strings.TrimSpace(e.poolID) == "" {
		return nil, ErrPoolNotConfigured
	}
	reserve, err := e.state.GetReserve(e.poolID)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, ErrReserveNotFound
	}
	return reserve.Clone(), nil
}

func (e *Engine) loadObligation(id [32]byte) (*LoanObligation, error) {
	obligation, err := e.state.GetObligation(id)
	if err != nil {
		return nil, err
	}
	if obligation == nil {
		return nil, ErrObligationNotFound
	}
	return obligation, nil
}

func (e *Engine) ensureLenderProfile(addr crypto.Address) (*LenderProfile, error) {
	profile, err := e.state.GetLenderProfile(addr)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return &LenderProfile{Address: addr}, nil
	}
	return profile.Clone(), nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrInsufficientBalance
	}
	clone := acc.Clone()
	clone.EnsureBalances()
	return clone, nil
}

type accountWrite struct {
	addr    crypto.Address
	account *types.Account
}

func (e *Engine) persistAccounts(writes ...accountWrite) error {
	for _, w := range writes {
		if err := e.state.PutAccount(w.addr, w.account); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) fetchQuote(reserve *Reserve) (pricefeed.Quote, error) {
	if e.oracle == nil {
		return pricefeed.Quote{}, ErrInvalidPriceFeed
	}
	quote, err := e.oracle.GetPrice(reserve.PriceFeedID, e.maxQuoteAge)
	if err != nil {
		switch {
		case errors.Is(err, pricefeed.ErrStaleQuote):
			return pricefeed.Quote{}, ErrStalePrice
		case errors.Is(err, pricefeed.ErrUnknownFeed):
			return pricefeed.Quote{}, ErrInvalidPriceFeed
		default:
			return pricefeed.Quote{}, err
		}
	}
	if err := checkQuoteAgainstReserve(quote, reserve); err != nil {
		return pricefeed.Quote{}, err
	}
	return quote, nil
}

func (e *Engine) coverFromInsurance(coverage uint64) ([]accountWrite, error) {
	if coverage == 0 {
		return nil, nil
	}
	insuranceAcc, err := e.loadAccount(e.insuranceAddress)
	if err != nil {
		return nil, err
	}
	vaultAcc, err := e.loadAccount(e.liquidityAddress)
	if err != nil {
		return nil, err
	}
	if err := debitRUSD(insuranceAcc, coverage); err != nil {
		return nil, err
	}
	creditRUSD(vaultAcc, coverage)
	return []accountWrite{
		{e.insuranceAddress, insuranceAcc},
		{e.liquidityAddress, vaultAcc},
	}, nil
}

func (e *Engine) quotaEpoch(now int64) uint64 {
	seconds := e.quota.EpochSeconds
	if seconds == 0 {
		seconds = 60
	}
	if now < 0 {
		return 0
	}
	return uint64(now) / uint64(seconds)
}

func (e *Engine) observeRates(reserve *Reserve) {
	if e.metrics == nil || reserve == nil {
		return
	}
	e.metrics.SetUtilization(reserve.PoolID, reserve.CurrentUtilization())
	e.metrics.SetBorrowRate(reserve.PoolID, reserve.BorrowRateBps())
}

func raiseScore(score uint32, delta uint32) uint32 {
	if score+delta > maxCreditScore {
		return maxCreditScore
	}
	return score + delta
}

func lowerScore(score uint32, delta uint32) uint32 {
	if score < minCreditScore+delta {
		return minCreditScore
	}
	return score - delta
}

// --- Balance helpers ---

func bigAmount(amount uint64) *big.Int {
	return new(big.Int).SetUint64(amount)
}

func cmpBalance(balance *big.Int, amount uint64) int {
	if balance == nil {
		balance = big.NewInt(0)
	}
	return balance.Cmp(bigAmount(amount))
}

func debitRUSD(acc *types.Account, amount uint64) error {
	if cmpBalance(acc.BalanceRUSD, amount) < 0 {
		return ErrInsufficientBalance
	}
	acc.BalanceRUSD = new(big.Int).Sub(acc.BalanceRUSD, bigAmount(amount))
	return nil
}

// debitRUSDUnchecked is used after the balance has already been validated in
// the fail-fast phase.
func debitRUSDUnchecked(acc *types.Account, amount uint64) {
	acc.BalanceRUSD = new(big.Int).Sub(acc.BalanceRUSD, bigAmount(amount))
}

func creditRUSD(acc *types.Account, amount uint64) {
	acc.BalanceRUSD = new(big.Int).Add(acc.BalanceRUSD, bigAmount(amount))
}

func debitCRL(acc *types.Account, amount uint64) {
	acc.BalanceCRL = new(big.Int).Sub(acc.BalanceCRL, bigAmount(amount))
}

func debitCRLChecked(acc *types.Account, amount uint64) error {
	if cmpBalance(acc.BalanceCRL, amount) < 0 {
		return ErrInsufficientLiquidity
	}
	acc.BalanceCRL = new(big.Int).Sub(acc.BalanceCRL, bigAmount(amount))
	return nil
}

func creditCRL(acc *types.Account, amount uint64) {
	acc.BalanceCRL = new(big.Int).Add(acc.BalanceCRL, bigAmount(amount))
}
