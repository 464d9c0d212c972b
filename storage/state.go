package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"creditrail/core/types"
	"creditrail/crypto"
	"creditrail/native/lending"
)

// State is the durable record store the lending engine runs against. Records
// are stored as JSON under the module's prefixed keys; a missing record is
// returned as a nil pointer, never an error, matching the engine's contract.
type State struct {
	db Database
}

// NewState wraps a Database as a lending state store.
func NewState(db Database) *State {
	return &State{db: db}
}

func (s *State) get(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return true, nil
}

func (s *State) put(key []byte, in interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return s.db.Put(key, raw)
}

func (s *State) GetReserve(poolID string) (*lending.Reserve, error) {
	var reserve lending.Reserve
	ok, err := s.get(lending.ReserveKey(poolID), &reserve)
	if err != nil || !ok {
		return nil, err
	}
	return &reserve, nil
}

func (s *State) PutReserve(reserve *lending.Reserve) error {
	if reserve == nil {
		return fmt.Errorf("storage: nil reserve")
	}
	return s.put(lending.ReserveKey(reserve.PoolID), reserve)
}

func (s *State) GetObligation(id [32]byte) (*lending.LoanObligation, error) {
	var obligation lending.LoanObligation
	ok, err := s.get(lending.ObligationKey(id), &obligation)
	if err != nil || !ok {
		return nil, err
	}
	return &obligation, nil
}

func (s *State) PutObligation(obligation *lending.LoanObligation) error {
	if obligation == nil {
		return fmt.Errorf("storage: nil obligation")
	}
	return s.put(lending.ObligationKey(obligation.ID), obligation)
}

func (s *State) GetBorrowerProfile(addr crypto.Address) (*lending.BorrowerProfile, error) {
	var profile lending.BorrowerProfile
	ok, err := s.get(lending.BorrowerKey(addr), &profile)
	if err != nil || !ok {
		return nil, err
	}
	return &profile, nil
}

func (s *State) PutBorrowerProfile(profile *lending.BorrowerProfile) error {
	if profile == nil {
		return fmt.Errorf("storage: nil borrower profile")
	}
	return s.put(lending.BorrowerKey(profile.Address), profile)
}

func (s *State) GetLenderProfile(addr crypto.Address) (*lending.LenderProfile, error) {
	var profile lending.LenderProfile
	ok, err := s.get(lending.LenderKey(addr), &profile)
	if err != nil || !ok {
		return nil, err
	}
	return &profile, nil
}

func (s *State) PutLenderProfile(profile *lending.LenderProfile) error {
	if profile == nil {
		return fmt.Errorf("storage: nil lender profile")
	}
	return s.put(lending.LenderKey(profile.Address), profile)
}

func (s *State) GetRiskModel(id string) (*lending.RiskModel, error) {
	var model lending.RiskModel
	ok, err := s.get(lending.RiskModelKey(id), &model)
	if err != nil || !ok {
		return nil, err
	}
	return &model, nil
}

func (s *State) PutRiskModel(model *lending.RiskModel) error {
	if model == nil {
		return fmt.Errorf("storage: nil risk model")
	}
	return s.put(lending.RiskModelKey(model.ID), model)
}

func (s *State) GetAccount(addr crypto.Address) (*types.Account, error) {
	var account types.Account
	ok, err := s.get(lending.AccountKey(addr), &account)
	if err != nil || !ok {
		return nil, err
	}
	account.EnsureBalances()
	return &account, nil
}

func (s *State) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("storage: nil account")
	}
	return s.put(lending.AccountKey(addr), account)
}
