package storage

import (
	"math/big"
	"testing"

	"creditrail/core/types"
	"creditrail/crypto"
	"creditrail/native/lending"
)

func stateAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = b
	}
	return crypto.NewAddress(crypto.RailPrefix, buf)
}

func TestStateMissingRecordsReturnNil(t *testing.T) {
	state := NewState(NewMemDB())
	reserve, err := state.GetReserve("rusd-main")
	if err != nil || reserve != nil {
		t.Fatalf("missing reserve: got %v, %v", reserve, err)
	}
	account, err := state.GetAccount(stateAddr(0x01))
	if err != nil || account != nil {
		t.Fatalf("missing account: got %v, %v", account, err)
	}
}

func TestStateReserveRoundTrip(t *testing.T) {
	state := NewState(NewMemDB())
	reserve := &lending.Reserve{
		PoolID:      "rusd-main",
		Authority:   stateAddr(0xaa),
		PriceFeedID: "CRL/RUSD",
		Curve: lending.RateCurve{
			{UtilizationBps: 0, RateBps: 0},
			{UtilizationBps: 8000, RateBps: 400},
		},
		TotalSupplied:           50_000,
		TotalBorrowed:           10_000,
		LiquidationThresholdBps: 8_000,
	}
	if err := state.PutReserve(reserve); err != nil {
		t.Fatalf("put reserve: %v", err)
	}
	loaded, err := state.GetReserve("rusd-main")
	if err != nil {
		t.Fatalf("get reserve: %v", err)
	}
	if loaded == nil || loaded.TotalSupplied != 50_000 || len(loaded.Curve) != 2 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if !loaded.Authority.Equal(reserve.Authority) {
		t.Fatalf("authority mismatch: got %s want %s", loaded.Authority, reserve.Authority)
	}
}

func TestStateObligationRoundTrip(t *testing.T) {
	state := NewState(NewMemDB())
	borrower := stateAddr(0x01)
	obligation := &lending.LoanObligation{
		ID:         lending.ObligationID("rusd-main", borrower, 7),
		Seed:       7,
		PoolID:     "rusd-main",
		Borrower:   borrower,
		Lender:     stateAddr(0x02),
		Principal:  10_000,
		DebtAmount: 10_000,
		Status:     lending.StatusFunded,
	}
	if err := state.PutObligation(obligation); err != nil {
		t.Fatalf("put obligation: %v", err)
	}
	loaded, err := state.GetObligation(obligation.ID)
	if err != nil {
		t.Fatalf("get obligation: %v", err)
	}
	if loaded == nil || loaded.Status != lending.StatusFunded || !loaded.Borrower.Equal(borrower) {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}

func TestStateAccountRoundTrip(t *testing.T) {
	state := NewState(NewMemDB())
	addr := stateAddr(0x03)
	account := &types.Account{
		BalanceRUSD: big.NewInt(1_234),
		BalanceCRL:  big.NewInt(5_678),
	}
	if err := state.PutAccount(addr, account); err != nil {
		t.Fatalf("put account: %v", err)
	}
	loaded, err := state.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if loaded == nil || loaded.BalanceRUSD.Int64() != 1_234 || loaded.BalanceCRL.Int64() != 5_678 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}
