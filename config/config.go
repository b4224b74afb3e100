// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the deployment configuration.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/luxfi/geth/common"
	"gopkg.in/yaml.v3"
)

const (
	BackendCoprocessor = "coprocessor"
	BackendTFHE        = "tfhe"
)

var (
	ErrUnknownBackend    = errors.New("unknown fhe backend")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidKey        = errors.New("invalid coprocessor key")
	ErrInvalidOracle     = errors.New("invalid oracle settings")
	ErrNoAssets          = errors.New("no assets configured")
	ErrDuplicateContract = errors.New("duplicate contract address")
)

// Config is the whole deployment.
type Config struct {
	FHE       FHEConfig       `yaml:"fhe"`
	Contracts ContractsConfig `yaml:"contracts"`
	Assets    []AssetConfig   `yaml:"assets"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// FHEConfig selects the ciphertext backend.
type FHEConfig struct {
	Backend string `yaml:"backend"`
	// Hex-encoded 32-byte key for the coprocessor backend. Empty means a
	// random key per process.
	CoprocessorKey string `yaml:"coprocessor_key"`
}

// ContractsConfig holds hex contract addresses.
type ContractsConfig struct {
	Ledger  string `yaml:"ledger"`
	Endorse string `yaml:"endorse"`
	Lending string `yaml:"lending"`
	Pool    string `yaml:"pool"`
}

// AssetConfig lists an asset in the pool.
type AssetConfig struct {
	Address   string `yaml:"address"`
	SupplyCap uint64 `yaml:"supply_cap"` // 0 = uncapped
}

// Addr returns the parsed asset address. Call after Validate.
func (a AssetConfig) Addr() common.Address {
	return common.HexToAddress(a.Address)
}

// OracleConfig configures the reveal relayer.
type OracleConfig struct {
	Workers    int  `yaml:"workers"`
	Duplicates int  `yaml:"duplicates"`
	Relayer    bool `yaml:"relayer"`
}

// MetricsConfig toggles Prometheus instruments.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a single-asset coprocessor deployment.
func Default() Config {
	return Config{
		FHE: FHEConfig{Backend: BackendCoprocessor},
		Contracts: ContractsConfig{
			Ledger:  "0x0000000000000000000000000000000000009101",
			Endorse: "0x0000000000000000000000000000000000009102",
			Lending: "0x0000000000000000000000000000000000009103",
			Pool:    "0x000000000000000000000000000000000000aa01",
		},
		Assets: []AssetConfig{
			{Address: "0x0000000000000000000000000000000000007777"},
		},
		Oracle: OracleConfig{
			Workers: 4,
			Relayer: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	switch c.FHE.Backend {
	case BackendCoprocessor:
		if c.FHE.CoprocessorKey != "" {
			if _, err := c.CoprocessorKey(); err != nil {
				return err
			}
		}
	case BackendTFHE:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.FHE.Backend)
	}

	seen := make(map[common.Address]string)
	for _, named := range []struct{ name, value string }{
		{"ledger", c.Contracts.Ledger},
		{"endorse", c.Contracts.Endorse},
		{"lending", c.Contracts.Lending},
		{"pool", c.Contracts.Pool},
	} {
		addr, err := parseAddress(named.value)
		if err != nil {
			return fmt.Errorf("contracts.%s: %w", named.name, err)
		}
		if prev, ok := seen[addr]; ok {
			return fmt.Errorf("%w: %s and %s", ErrDuplicateContract, prev, named.name)
		}
		seen[addr] = named.name
	}

	if len(c.Assets) == 0 {
		return ErrNoAssets
	}
	for i, a := range c.Assets {
		if _, err := parseAddress(a.Address); err != nil {
			return fmt.Errorf("assets[%d]: %w", i, err)
		}
	}

	if c.Oracle.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidOracle)
	}
	if c.Oracle.Duplicates < 0 {
		return fmt.Errorf("%w: duplicates must not be negative", ErrInvalidOracle)
	}
	return nil
}

// CoprocessorKey decodes FHE.CoprocessorKey. It returns nil when unset.
func (c Config) CoprocessorKey() ([]byte, error) {
	if c.FHE.CoprocessorKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(strings.TrimPrefix(c.FHE.CoprocessorKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: need 32 bytes, got %d", ErrInvalidKey, len(key))
	}
	return key, nil
}

// Addresses returns the parsed contract addresses. Call after Validate.
func (c Config) Addresses() (ledger, endorse, lending, pool common.Address) {
	return common.HexToAddress(c.Contracts.Ledger),
		common.HexToAddress(c.Contracts.Endorse),
		common.HexToAddress(c.Contracts.Lending),
		common.HexToAddress(c.Contracts.Pool)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	return addr, nil
}
