package types

import "math/big"

// Account is the ledger record for a single creditrail participant. RUSD is
// the pool's debt asset, CRL the collateral asset. Balances are denominated
// in wei and kept as big integers to match on-ledger precision.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	BalanceRUSD *big.Int `json:"balanceRUSD"`
	BalanceCRL  *big.Int `json:"balanceCRL"`
}

// Clone returns a deep copy so callers can stage balance mutations without
// touching the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce}
	if a.BalanceRUSD != nil {
		clone.BalanceRUSD = new(big.Int).Set(a.BalanceRUSD)
	}
	if a.BalanceCRL != nil {
		clone.BalanceCRL = new(big.Int).Set(a.BalanceCRL)
	}
	return clone
}

// EnsureBalances populates nil balance fields so JSON handling stays safe.
func (a *Account) EnsureBalances() {
	if a.BalanceRUSD == nil {
		a.BalanceRUSD = big.NewInt(0)
	}
	if a.BalanceCRL == nil {
		a.BalanceCRL = big.NewInt(0)
	}
}
