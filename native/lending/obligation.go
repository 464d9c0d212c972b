package lending

import (
	"encoding/binary"
	"fmt"

	"creditrail/crypto"
)

// LoanStatus enumerates the obligation lifecycle.
type LoanStatus uint8

const (
	StatusRequested LoanStatus = iota
	StatusApproved
	StatusFunded
	StatusRepaid
	StatusDefaulted
)

// Valid reports whether the status value is within the supported range.
func (s LoanStatus) Valid() bool {
	switch s {
	case StatusRequested, StatusApproved, StatusFunded, StatusRepaid, StatusDefaulted:
		return true
	default:
		return false
	}
}

func (s LoanStatus) String() string {
	switch s {
	case StatusRequested:
		return "requested"
	case StatusApproved:
		return "approved"
	case StatusFunded:
		return "funded"
	case StatusRepaid:
		return "repaid"
	case StatusDefaulted:
		return "defaulted"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// LoanObligation is a single borrower's loan record against a reserve. The
// identifier is the keccak256 hash of the pool, borrower and a caller-chosen
// seed, making IDs deterministic without storing extra lookup state.
type LoanObligation struct {
	ID     [32]byte
	Seed   uint64
	PoolID string

	Borrower crypto.Address
	Lender   crypto.Address

	Principal        uint64
	DebtAmount       uint64
	CollateralAmount uint64
	RepaidAmount     uint64
	InterestRateBps  uint64
	InterestAccrued  uint64

	LiquidationThresholdBps uint64

	StartDate int64
	DueDate   int64
	CreatedAt int64
	UpdatedAt int64
	ClosedAt  int64

	Status LoanStatus
}

// ObligationID derives the stable lookup key for a (pool, borrower, seed)
// triple. Pure function, no global state.
func ObligationID(poolID string, borrower crypto.Address, seed uint64) [32]byte {
	var seedBytes [8]byte
	binary.BigEndian.PutUint64(seedBytes[:], seed)
	return DeriveEntityKey(poolID, borrower.Bytes(), seedBytes[:])
}

// Clone returns a deep copy so engine operations can stage mutations.
func (o *LoanObligation) Clone() *LoanObligation {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

// Outstanding is the debt still owed to the pool.
func (o *LoanObligation) Outstanding() uint64 {
	return o.DebtAmount
}

// Closed reports whether the obligation has been settled: repaid, or wound
// down to zero debt. Closed obligations permit no further mutation.
func (o *LoanObligation) Closed() bool {
	if o.Status == StatusRepaid {
		return true
	}
	return o.Status == StatusDefaulted && o.DebtAmount == 0
}

// CheckInvariants verifies the structural bounds that must hold after every
// mutation.
func (o *LoanObligation) CheckInvariants() error {
	if o.RepaidAmount > o.Principal {
		return fmt.Errorf("%w: repaid %d exceeds principal %d", ErrOverflow, o.RepaidAmount, o.Principal)
	}
	if !o.Status.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLoanStatus, uint8(o.Status))
	}
	return nil
}

// simpleInterest computes the fixed interest charge recorded at approval:
// principal * rate * duration, with duration expressed in whole seconds over
// a 365-day year. The charge is informational pricing state; repayment and
// close operate on principal.
func simpleInterest(principal, rateBps uint64, startDate, dueDate int64) (uint64, error) {
	if dueDate <= startDate {
		return 0, nil
	}
	const secondsPerYear = 31_536_000
	annual, err := mulBps(principal, rateBps)
	if err != nil {
		return 0, err
	}
	return mulDiv(annual, uint64(dueDate-startDate), secondsPerYear)
}
