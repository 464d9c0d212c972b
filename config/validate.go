package config

import (
	"fmt"
	"strings"

	"creditrail/crypto"
	"creditrail/native/lending"
)

// Validate checks the loaded configuration before the daemon starts.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if err := cfg.Lending.Validate(); err != nil {
		return err
	}
	model := lending.RiskModel{ID: cfg.RiskModelID, Tiers: cfg.RiskTiers}
	if err := model.Validate(); err != nil {
		return err
	}
	for _, provider := range cfg.KYCProviders {
		if _, err := crypto.DecodeAddress(provider); err != nil {
			return fmt.Errorf("config: invalid KYC provider %q: %w", provider, err)
		}
	}
	return nil
}

// ProviderAddresses decodes the configured KYC provider addresses.
func (cfg *Config) ProviderAddresses() ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(cfg.KYCProviders))
	for _, provider := range cfg.KYCProviders {
		addr, err := crypto.DecodeAddress(provider)
		if err != nil {
			return nil, fmt.Errorf("config: invalid KYC provider %q: %w", provider, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
