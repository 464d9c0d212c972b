package lending

import (
	"encoding/hex"
	"strconv"

	"creditrail/core/types"
)

const (
	EventTypeLoanRequested  = "lending.loan.requested"
	EventTypeLoanFunded     = "lending.loan.funded"
	EventTypeLoanRepaid     = "lending.loan.repaid"
	EventTypeLoanClosed     = "lending.loan.closed"
	EventTypeLoanDefaulted  = "lending.loan.defaulted"
	EventTypeLoanLiquidated = "lending.loan.liquidated"
	EventTypeDeposit        = "lending.pool.deposit"
	EventTypeWithdraw       = "lending.pool.withdraw"
)

func newObligationEvent(eventType string, o *LoanObligation) *types.Event {
	attrs := make(map[string]string)
	if o != nil {
		attrs["id"] = hex.EncodeToString(o.ID[:])
		attrs["pool"] = o.PoolID
		attrs["borrower"] = o.Borrower.String()
		attrs["principal"] = strconv.FormatUint(o.Principal, 10)
		attrs["debt"] = strconv.FormatUint(o.DebtAmount, 10)
		attrs["collateral"] = strconv.FormatUint(o.CollateralAmount, 10)
		attrs["status"] = o.Status.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewLoanRequestedEvent emits the payload for a freshly underwritten request.
func NewLoanRequestedEvent(o *LoanObligation) *types.Event {
	return newObligationEvent(EventTypeLoanRequested, o)
}

// NewLoanFundedEvent emits the payload when collateral and principal settle.
func NewLoanFundedEvent(o *LoanObligation) *types.Event {
	return newObligationEvent(EventTypeLoanFunded, o)
}

// NewLoanRepaidEvent emits the payload for a repayment, full or partial.
func NewLoanRepaidEvent(o *LoanObligation, applied uint64) *types.Event {
	event := newObligationEvent(EventTypeLoanRepaid, o)
	event.Attributes["applied"] = strconv.FormatUint(applied, 10)
	return event
}

// NewLoanClosedEvent emits the payload when an obligation settles at close.
func NewLoanClosedEvent(o *LoanObligation) *types.Event {
	eventType := EventTypeLoanClosed
	if o != nil && o.Status == StatusDefaulted {
		eventType = EventTypeLoanDefaulted
	}
	return newObligationEvent(eventType, o)
}

// NewLiquidationEvent emits the canonical liquidation record.
func NewLiquidationEvent(receipt *LiquidationReceipt) *types.Event {
	attrs := make(map[string]string)
	if receipt != nil {
		attrs["obligation"] = hex.EncodeToString(receipt.ObligationID[:])
		attrs["borrower"] = receipt.Borrower.String()
		attrs["liquidator"] = receipt.Liquidator.String()
		attrs["debtRepaid"] = strconv.FormatUint(receipt.DebtRepaid, 10)
		attrs["collateralLiquidated"] = strconv.FormatUint(receipt.CollateralLiquidated, 10)
		attrs["timestamp"] = strconv.FormatInt(receipt.Timestamp, 10)
	}
	return &types.Event{Type: EventTypeLoanLiquidated, Attributes: attrs}
}

// NewPoolFlowEvent emits deposit/withdraw accounting events.
func NewPoolFlowEvent(eventType, poolID string, amount uint64) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"pool":   poolID,
		"amount": strconv.FormatUint(amount, 10),
	}}
}
