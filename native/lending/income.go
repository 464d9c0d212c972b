package lending

import (
	"fmt"
	"sync"

	"creditrail/crypto"
)

// IncomeRegistry holds attested annual incomes pushed by trusted off-chain
// attesters. Underwriting consults it through the engine's income source;
// borrowers without an attestation cannot originate.
type IncomeRegistry struct {
	mu      sync.RWMutex
	incomes map[string]uint64
}

func NewIncomeRegistry() *IncomeRegistry {
	return &IncomeRegistry{incomes: make(map[string]uint64)}
}

// Set records the attested income for an address, replacing any prior value.
func (r *IncomeRegistry) Set(addr crypto.Address, income uint64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.incomes[addr.String()] = income
	r.mu.Unlock()
}

// Lookup resolves the attested income for an address.
func (r *IncomeRegistry) Lookup(addr crypto.Address) (uint64, error) {
	if r == nil {
		return 0, fmt.Errorf("lending: income registry not configured")
	}
	r.mu.RLock()
	income, ok := r.incomes[addr.String()]
	r.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("lending: no attested income for %s", addr)
	}
	return income, nil
}
