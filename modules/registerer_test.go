// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package modules

import (
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

func TestRegisterSortsByAddress(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Component{Key: "lending", Address: common.HexToAddress("0x9103")}))
	require.NoError(t, r.Register(Component{Key: "ledger", Address: common.HexToAddress("0x9101")}))
	require.NoError(t, r.Register(Component{Key: "pool", Address: common.HexToAddress("0xaa01")}))

	got := r.Components()
	require.Len(t, got, 3)
	require.Equal(t, "ledger", got[0].Key)
	require.Equal(t, "lending", got[1].Key)
	require.Equal(t, "pool", got[2].Key)

	c, ok := r.byKey("pool")
	require.True(t, ok)
	require.Equal(t, common.HexToAddress("0xaa01"), c.Address)

	c, ok = r.byAddress(common.HexToAddress("0x9101"))
	require.True(t, ok)
	require.Equal(t, "ledger", c.Key)

	_, ok = r.byKey("missing")
	require.False(t, ok)
}

func TestRegisterRejects(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Component{Key: "ledger", Address: common.HexToAddress("0x9101")}))

	tests := []struct {
		name    string
		c       Component
		wantErr error
	}{
		{"blackhole", Component{Key: "x", Address: BlackholeAddr}, ErrBlackholeAddress},
		{"outside ranges", Component{Key: "x", Address: common.HexToAddress("0x1234")}, ErrNotReserved},
		{"duplicate key", Component{Key: "ledger", Address: common.HexToAddress("0x9102")}, ErrKeyInUse},
		{"duplicate address", Component{Key: "other", Address: common.HexToAddress("0x9101")}, ErrAddressInUse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, r.Register(tt.c), tt.wantErr)
		})
	}
	require.Len(t, r.Components(), 1)
}

func TestAddressRangeContains(t *testing.T) {
	require.True(t, LendingRange.Contains(common.HexToAddress("0x9100")))
	require.True(t, LendingRange.Contains(common.HexToAddress("0x91ff")))
	require.False(t, LendingRange.Contains(common.HexToAddress("0x9200")))
	require.False(t, NewRegistry(PoolRange).ReservedAddress(common.HexToAddress("0x9101")))
}
