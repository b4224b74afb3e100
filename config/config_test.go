// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
fhe:
  backend: coprocessor
  coprocessor_key: "0x` + strings.Repeat("ab", 32) + `"
assets:
  - address: "0x0000000000000000000000000000000000001111"
    supply_cap: 1000
  - address: "0x0000000000000000000000000000000000002222"
oracle:
  workers: 8
  duplicates: 1
`))
	require.NoError(t, err)
	require.Len(t, cfg.Assets, 2)
	require.Equal(t, uint64(1000), cfg.Assets[0].SupplyCap)
	require.Equal(t, 8, cfg.Oracle.Workers)
	require.Equal(t, 1, cfg.Oracle.Duplicates)
	require.True(t, cfg.Oracle.Relayer, "unset fields keep defaults")

	key, err := cfg.CoprocessorKey()
	require.NoError(t, err)
	require.Len(t, key, 32)

	ledger, _, lending, _ := cfg.Addresses()
	require.Equal(t, common.HexToAddress("0x9101"), ledger)
	require.Equal(t, common.HexToAddress("0x9103"), lending)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"unknown backend", func(c *Config) { c.FHE.Backend = "paillier" }, ErrUnknownBackend},
		{"short key", func(c *Config) { c.FHE.CoprocessorKey = "abcd" }, ErrInvalidKey},
		{"bad hex key", func(c *Config) { c.FHE.CoprocessorKey = strings.Repeat("zz", 32) }, ErrInvalidKey},
		{"bad address", func(c *Config) { c.Contracts.Pool = "pool" }, ErrInvalidAddress},
		{"zero address", func(c *Config) { c.Contracts.Ledger = "0x0000000000000000000000000000000000000000" }, ErrInvalidAddress},
		{"shared address", func(c *Config) { c.Contracts.Endorse = c.Contracts.Ledger }, ErrDuplicateContract},
		{"no assets", func(c *Config) { c.Assets = nil }, ErrNoAssets},
		{"bad asset", func(c *Config) { c.Assets[0].Address = "0x12" }, ErrInvalidAddress},
		{"no workers", func(c *Config) { c.Oracle.Workers = 0 }, ErrInvalidOracle},
		{"negative duplicates", func(c *Config) { c.Oracle.Duplicates = -1 }, ErrInvalidOracle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conflend.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fhe:\n  backend: tfhe\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendTFHE, cfg.FHE.Backend)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("fhe: [\n"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
}
