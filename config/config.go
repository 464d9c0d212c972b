package config

import (
	"os"
	"path/filepath"
	"strings"

	"creditrail/crypto"
	"creditrail/native/lending"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration decoded from TOML. Loading a missing
// file writes a default configuration, including a freshly generated
// authority keystore, so a node can bootstrap from an empty directory.
type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	RPCAuthToken string `toml:"RPCAuthToken"`
	DataDir      string `toml:"DataDir"`
	Environment  string `toml:"Environment"`

	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`

	AuthorityKeystorePath string `toml:"AuthorityKeystorePath"`

	Lending lending.Config `toml:"Lending"`

	RiskModelID  string             `toml:"RiskModelID"`
	RiskTiers    []lending.RiskTier `toml:"RiskTiers"`
	KYCProviders []string           `toml:"KYCProviders"`
}

// Load reads the configuration at path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./creditrail-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.RiskModelID) == "" {
		cfg.RiskModelID = "standard"
	}
	if len(cfg.RiskTiers) == 0 {
		cfg.RiskTiers = defaultRiskTiers()
	}
	cfg.Lending.EnsureDefaults()
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.AuthorityKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.AuthorityKeystorePath != keystorePath {
		cfg.AuthorityKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

func defaultRiskTiers() []lending.RiskTier {
	return []lending.RiskTier{
		{TierID: 1, MinScore: 500, MaxLTV: 50, CollateralRatioBps: 15_000, InterestRateBps: 1_200},
		{TierID: 2, MinScore: 650, MaxLTV: 70, CollateralRatioBps: 13_000, InterestRateBps: 800},
		{TierID: 3, MinScore: 750, MaxLTV: 80, CollateralRatioBps: 12_000, InterestRateBps: 500},
	}
}

// createDefault writes a default configuration alongside a generated
// authority keystore.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:            ":8545",
		DataDir:               "./creditrail-data",
		Environment:           "local",
		AuthorityKeystorePath: keystorePath,
		Lending:               lending.DefaultConfig(),
		RiskModelID:           "standard",
		RiskTiers:             defaultRiskTiers(),
		KYCProviders:          []string{},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "authority.keystore")
}
