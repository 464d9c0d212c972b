package lending

import (
	"encoding/binary"
	"testing"
)

func TestObligationIDDerivesFromEntityKey(t *testing.T) {
	borrower := testAddr(0x01)
	var seedBytes [8]byte
	binary.BigEndian.PutUint64(seedBytes[:], 7)
	want := DeriveEntityKey("rusd-main", borrower.Bytes(), seedBytes[:])
	if got := ObligationID("rusd-main", borrower, 7); got != want {
		t.Fatalf("obligation id diverged from entity key: %x != %x", got, want)
	}
	if DeriveEntityKey("a", nil, nil) == DeriveEntityKey("b", nil, nil) {
		t.Fatalf("entity type must differentiate keys")
	}
}

func TestObligationIDDeterministic(t *testing.T) {
	borrower := testAddr(0x01)
	id := ObligationID("rusd-main", borrower, 7)
	if id != ObligationID("rusd-main", borrower, 7) {
		t.Fatalf("same inputs must derive the same id")
	}
	if id == ObligationID("rusd-main", borrower, 8) {
		t.Fatalf("seed must differentiate ids")
	}
	if id == ObligationID("rusd-alt", borrower, 7) {
		t.Fatalf("pool must differentiate ids")
	}
	if id == ObligationID("rusd-main", testAddr(0x02), 7) {
		t.Fatalf("borrower must differentiate ids")
	}
}

func TestSimpleInterest(t *testing.T) {
	// 10_000 principal at 5% over exactly one year.
	const year = 31_536_000
	interest, err := simpleInterest(10_000, 500, 0, year)
	if err != nil {
		t.Fatalf("interest: %v", err)
	}
	if interest != 500 {
		t.Fatalf("one year interest: got %d want 500", interest)
	}
	half, err := simpleInterest(10_000, 500, 0, year/2)
	if err != nil {
		t.Fatalf("interest: %v", err)
	}
	if half != 250 {
		t.Fatalf("half year interest: got %d want 250", half)
	}
	if zero, _ := simpleInterest(10_000, 500, year, year); zero != 0 {
		t.Fatalf("zero duration interest: got %d want 0", zero)
	}
}

func TestObligationInvariants(t *testing.T) {
	o := &LoanObligation{Principal: 1_000, RepaidAmount: 1_001, Status: StatusFunded}
	if err := o.CheckInvariants(); err == nil {
		t.Fatalf("expected repaid>principal rejection")
	}
	o.RepaidAmount = 1_000
	if err := o.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestObligationClosed(t *testing.T) {
	o := &LoanObligation{Status: StatusRepaid}
	if !o.Closed() {
		t.Fatalf("repaid obligation must be closed")
	}
	o = &LoanObligation{Status: StatusDefaulted, DebtAmount: 10}
	if o.Closed() {
		t.Fatalf("defaulted obligation with debt must stay open to liquidation")
	}
	o.DebtAmount = 0
	if !o.Closed() {
		t.Fatalf("defaulted obligation with zero debt must be closed")
	}
}
