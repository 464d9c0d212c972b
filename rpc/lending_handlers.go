package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"creditrail/crypto"
	"creditrail/native/common"
	"creditrail/native/lending"
	"creditrail/observability/metrics"
)

type obligationParams struct {
	ObligationID string `json:"obligationId"`
}

type borrowerParams struct {
	Address string `json:"address"`
}

type onboardParams struct {
	Address      string `json:"address"`
	CreditScore  uint32 `json:"creditScore"`
	DebtToIncome uint64 `json:"debtToIncome"`
	RiskModelID  string `json:"riskModelId"`
}

type verifyKYCParams struct {
	Provider string `json:"provider"`
	Borrower string `json:"borrower"`
}

type riskModelParams struct {
	Authority    string             `json:"authority"`
	ID           string             `json:"id"`
	Tiers        []lending.RiskTier `json:"tiers"`
	KYCProviders []string           `json:"kycProviders,omitempty"`
}

type amountParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type requestLoanParams struct {
	Borrower   string `json:"borrower"`
	Seed       uint64 `json:"seed"`
	Amount     string `json:"amount"`
	MaxRateBps uint64 `json:"maxRateBps,omitempty"`
	DueDate    int64  `json:"dueDate"`
}

type fundLoanParams struct {
	Lender       string `json:"lender"`
	ObligationID string `json:"obligationId"`
}

type repayParams struct {
	Borrower     string `json:"borrower"`
	ObligationID string `json:"obligationId"`
	Amount       string `json:"amount"`
}

type closeLoanParams struct {
	Caller       string `json:"caller"`
	ObligationID string `json:"obligationId"`
}

type liquidateParams struct {
	Liquidator   string `json:"liquidator"`
	ObligationID string `json:"obligationId"`
	MaxDebt      string `json:"maxDebtToRepay"`
}

type processFeesParams struct {
	Caller string `json:"caller"`
	Source string `json:"source"`
	Amount string `json:"amount"`
}

type withdrawFeesParams struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type obligationResult struct {
	ObligationID string `json:"obligationId"`
	PoolID       string `json:"poolId"`
	Borrower     string `json:"borrower"`
	Lender       string `json:"lender,omitempty"`
	Principal    uint64 `json:"principal"`
	DebtAmount   uint64 `json:"debtAmount"`
	Collateral   uint64 `json:"collateralAmount"`
	RepaidAmount uint64 `json:"repaidAmount"`
	RateBps      uint64 `json:"interestRateBps"`
	Interest     uint64 `json:"interestAccrued"`
	StartDate    int64  `json:"startDate,omitempty"`
	DueDate      int64  `json:"dueDate"`
	ClosedAt     int64  `json:"closedAt,omitempty"`
	Status       string `json:"status"`
}

type repayResult struct {
	Applied uint64 `json:"applied"`
}

type closeResult struct {
	Status string `json:"status"`
}

type liquidateResult struct {
	Borrower          string `json:"borrower"`
	Liquidator        string `json:"liquidator"`
	DebtRepaid        uint64 `json:"debtRepaid"`
	CollateralSeized  uint64 `json:"collateralLiquidated"`
	InsuranceCoverage uint64 `json:"insuranceCoverage,omitempty"`
	Timestamp         int64  `json:"timestamp"`
}

type feesResult struct {
	Insurance    uint64 `json:"insurance"`
	ReserveShare uint64 `json:"reserveShare"`
}

func formatObligation(o *lending.LoanObligation) obligationResult {
	result := obligationResult{
		ObligationID: "0x" + hex.EncodeToString(o.ID[:]),
		PoolID:       o.PoolID,
		Borrower:     o.Borrower.String(),
		Principal:    o.Principal,
		DebtAmount:   o.DebtAmount,
		Collateral:   o.CollateralAmount,
		RepaidAmount: o.RepaidAmount,
		RateBps:      o.InterestRateBps,
		Interest:     o.InterestAccrued,
		StartDate:    o.StartDate,
		DueDate:      o.DueDate,
		ClosedAt:     o.ClosedAt,
		Status:       o.Status.String(),
	}
	if !o.Lender.IsZero() {
		result.Lender = o.Lender.String()
	}
	return result
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("expected a single parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func decodeBech32(value string) (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(value))
}

func decodeAmount(value string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(value), 10, 64)
}

func decodeObligationID(value string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, err
	}
	if len(raw) != 32 {
		return id, errors.New("obligation id must be 32 bytes")
	}
	copy(id[:], raw)
	return id, nil
}

// writeEngineError maps engine sentinel errors onto RPC error codes.
func writeEngineError(w http.ResponseWriter, method string, id interface{}, err error) {
	metrics.RPC().ObserveError(method)
	switch {
	case errors.Is(err, lending.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, lending.ErrReserveNotFound),
		errors.Is(err, lending.ErrObligationNotFound),
		errors.Is(err, lending.ErrProfileNotFound),
		errors.Is(err, lending.ErrRiskModelNotFound):
		writeError(w, http.StatusNotFound, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrInvalidLoanStatus),
		errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrKYCNotVerified),
		errors.Is(err, lending.ErrInvalidKYCProvider),
		errors.Is(err, lending.ErrInsufficientCreditScore),
		errors.Is(err, lending.ErrInvalidCreditScore),
		errors.Is(err, lending.ErrLoanLimitExceeded),
		errors.Is(err, lending.ErrRateLimitExceeded),
		errors.Is(err, lending.ErrLoanNotDue),
		errors.Is(err, lending.ErrHealthyPosition),
		errors.Is(err, lending.ErrStalePrice),
		errors.Is(err, lending.ErrInvalidPriceFeed),
		errors.Is(err, lending.ErrBelowMinimumLiquidation),
		errors.Is(err, lending.ErrExceedsMaxLiquidationPortion),
		errors.Is(err, common.ErrModulePaused),
		errors.Is(err, common.ErrQuotaRequestsExceeded),
		errors.Is(err, common.ErrQuotaNotionalExceeded):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func (s *Server) handleGetReserve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "too many parameters", nil)
		return
	}
	s.mu.Lock()
	reserve, err := s.engine.Reserve()
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.Method, req.ID, err)
		return
	}
	writeResult(w, req.ID, reserve)
}

func (s *Server) handleGetObligation(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input obligationParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	id, err := decodeObligationID(input.ObligationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid obligationId", err.Error())
		return
	}
	s.mu.Lock()
	obligation, engineErr := s.engine.Obligation(id)
	s.mu.Unlock()
	if engineErr != nil {
		writeEngineError(w, req.Method, req.ID, engineErr)
		return
	}
	writeResult(w, req.ID, formatObligation(obligation))
}

func (s *Server) handleGetBorrower(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input borrowerParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	addr, err := decodeBech32(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	s.mu.Lock()
	profile, engineErr := s.engine.Borrower(addr)
	s.mu.Unlock()
	if engineErr != nil {
		writeEngineError(w, req.Method, req.ID, engineErr)
		return
	}
	writeResult(w, req.ID, profile)
}

func (s *Server) handleOnboardBorrower(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input onboardParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	addr, err := decodeBech32(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	s.mu.Lock()
	profile, engineErr := s.engine.OnboardBorrower(addr, input.CreditScore, input.DebtToIncome, input.RiskModelID)
	s.mu.Unlock()
	if engineErr != nil {
		writeEngineError(w, req.Method, req.ID, engineErr)
		return
	}
	writeResult(w, req.ID, profile)
}

func (s *Server) handleVerifyKYC(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input verifyKYCParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	provider, err := decodeBech32(input.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid provider", err.Error())
		return
	}
	borrower, err := decodeBech32(input.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	s.mu.Lock()
	engineErr := s.engine.VerifyKYC(provider, borrower)
	s.mu.Unlock()
	if engineErr != nil {
		writeEngineError(w, req.Method, req.ID, engineErr)
		return
	}
	writeResult(w, req.ID, map[string]bool{"verified": true})
}

func (s *Server) handleRegisterRiskModel(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input riskModelParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	authority, err := decodeBech32(input.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid authority", err.Error())
		return
	}
	model := &lending.RiskModel{
		ID:        strings.TrimSpace(input.ID),
		Authority: authority,
		Tiers:     input.Tiers,
	}
	for _, provider := range input.KYCProviders {
		addr, err := decodeBech32(provider)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid kycProvider", err.Error())
			return
		}
		model.KYCProviders = append(model.KYCProviders, addr)
	}
	s.mu.Lock()
	engineErr := s.engine.RegisterRiskModel(authority, model)
	s.mu.Unlock()
	if engineErr != nil {
		writeEngineError(w, req.Method, req.ID, engineErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"id": model.ID})
}

func (s *Server) handleDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handlePoolFlow(w, req, s.engine.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handlePoolFlow(w, req, s.engine.Withdraw)
}

func (s *Server) handlePoolFlow(w http.ResponseWriter, req *RPCRequest, op func(crypto.Address, uint64) error) {
	var input amountParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	addr, err := decodeBech32(input.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	amount, err := decodeAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	s.mu.Lock()
	engineErr := op(addr, amount)
	s.mu.Unlock()
	if engineErr != nil {
		writeEngineError(w, req.Method, req.ID, engineErr)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleRequestLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input requestLoanParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	borrower, err := decodeBech32(input.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	amount, err := decodeAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	s.mu.Lock()
	obligation, engineErr := s.engine.RequestLoan(borrower, input.Seed, amount, input.MaxRateBps, input.DueDate)
	s.mu.Unlock()
	if engineErr != nil {
		writeEngineError(w, req.Method, req.ID, engineErr)
		return
	}
	writeResult(w, req.ID, formatObligation(obligation))
}

func (s *Server) handleFundLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input fundLoanParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	lender, err := decodeBech32(input.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lender", err.Error())
		return
	}
	id, err := decodeObligationID(input.ObligationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid obligationId", err.Error())
		return
	}
	s.mu.Lock()
	obligation, engineErr := s.engine.ApproveAndFund(lender, id)
	s.mu.Unlock()
	if engineErr != nil {
		writeEngineError(w, req.Method, req.ID, engineErr)
		return
	}
	writeResult(w, req.ID, formatObligation(obligation))
}

func (s *Server) handleRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input repayParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	borrower, err := decodeBech32(input.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	id, err := decodeObligationID(input.ObligationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid obligationId", err.Error())
		return
	}
	amount, err := decodeAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	s.mu.Lock()
	applied, engineErr := s.engine.Repay(borrower, id, amount)
	s.mu.Unlock()
	if engineErr != nil {
		writeEngineError(w, req.Method, req.ID, engineErr)
		return
	}
	writeResult(w, req.ID, repayResult{Applied: applied})
}

func (s *Server) handleCloseLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input closeLoanParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(input.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	id, err := decodeObligationID(input.ObligationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid obligationId", err.Error())
		return
	}
	s.mu.Lock()
	status, engineErr := s.engine.CloseLoan(caller, id)
	s.mu.Unlock()
	if engineErr != nil {
		writeEngineError(w, req.Method, req.ID, engineErr)
		return
	}
	writeResult(w, req.ID, closeResult{Status: status.String()})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input liquidateParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	liquidator, err := decodeBech32(input.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid liquidator", err.Error())
		return
	}
	id, err := decodeObligationID(input.ObligationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid obligationId", err.Error())
		return
	}
	maxDebt, err := decodeAmount(input.MaxDebt)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid maxDebtToRepay", err.Error())
		return
	}
	s.mu.Lock()
	receipt, engineErr := s.engine.Liquidate(liquidator, id, maxDebt)
	s.mu.Unlock()
	if engineErr != nil {
		writeEngineError(w, req.Method, req.ID, engineErr)
		return
	}
	writeResult(w, req.ID, liquidateResult{
		Borrower:          receipt.Borrower.String(),
		Liquidator:        receipt.Liquidator.String(),
		DebtRepaid:        receipt.DebtRepaid,
		CollateralSeized:  receipt.CollateralLiquidated,
		InsuranceCoverage: receipt.InsuranceCoverage,
		Timestamp:         receipt.Timestamp,
	})
}

func (s *Server) handleProcessFees(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input processFeesParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(input.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	source, err := decodeBech32(input.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid source", err.Error())
		return
	}
	amount, err := decodeAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	s.mu.Lock()
	insurance, reserveShare, engineErr := s.engine.ProcessFees(caller, source, amount)
	s.mu.Unlock()
	if engineErr != nil {
		writeEngineError(w, req.Method, req.ID, engineErr)
		return
	}
	writeResult(w, req.ID, feesResult{Insurance: insurance, ReserveShare: reserveShare})
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var input withdrawFeesParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(input.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	recipient, err := decodeBech32(input.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid recipient", err.Error())
		return
	}
	amount, err := decodeAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	s.mu.Lock()
	engineErr := s.engine.WithdrawReserveFees(caller, recipient, amount)
	s.mu.Unlock()
	if engineErr != nil {
		writeEngineError(w, req.Method, req.ID, engineErr)
		return
	}
	writeResult(w, req.ID, true)
}
