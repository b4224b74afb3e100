// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package modules assigns contract addresses to the deployed components
// and rejects collisions.
package modules

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/luxfi/geth/common"
)

var (
	ErrBlackholeAddress = errors.New("address overlaps with blackhole address")
	ErrNotReserved      = errors.New("address not in a reserved range")
	ErrKeyInUse         = errors.New("component key already registered")
	ErrAddressInUse     = errors.New("component address already registered")
)

// AddressRange represents a continuous range of addresses
type AddressRange struct {
	Start common.Address
	End   common.Address
}

// Contains returns true iff [addr] is contained within the (inclusive)
// range of addresses defined by [a].
func (a *AddressRange) Contains(addr common.Address) bool {
	addrBytes := addr.Bytes()
	return bytes.Compare(addrBytes, a.Start[:]) >= 0 && bytes.Compare(addrBytes, a.End[:]) <= 0
}

// BlackholeAddr is the address where assets are burned
var BlackholeAddr = common.Address{
	1, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Reserved ranges for confidential lending components (low-byte format).
//
//	0x9100-0x91FF: ledgers and request registry
//	0xAA00-0xAAFF: pools and token custody
var (
	LendingRange = AddressRange{
		Start: common.HexToAddress("0x0000000000000000000000000000000000009100"),
		End:   common.HexToAddress("0x00000000000000000000000000000000000091ff"),
	}
	PoolRange = AddressRange{
		Start: common.HexToAddress("0x000000000000000000000000000000000000aa00"),
		End:   common.HexToAddress("0x000000000000000000000000000000000000aaff"),
	}
)

// Component is one deployed contract.
type Component struct {
	Key     string
	Address common.Address
}

// Registry holds components sorted by address.
type Registry struct {
	reserved   []AddressRange
	components []Component
}

// NewRegistry creates a registry accepting addresses in reserved. With no
// ranges given, LendingRange and PoolRange are used.
func NewRegistry(reserved ...AddressRange) *Registry {
	if len(reserved) == 0 {
		reserved = []AddressRange{LendingRange, PoolRange}
	}
	return &Registry{reserved: reserved}
}

// ReservedAddress returns true if [addr] is in one of the registry's ranges
func (r *Registry) ReservedAddress(addr common.Address) bool {
	for _, reservedRange := range r.reserved {
		if reservedRange.Contains(addr) {
			return true
		}
	}

	return false
}

// Register adds c.
func (r *Registry) Register(c Component) error {
	if c.Address == BlackholeAddr {
		return fmt.Errorf("%w: %s", ErrBlackholeAddress, c.Address)
	}
	if !r.ReservedAddress(c.Address) {
		return fmt.Errorf("%w: %s", ErrNotReserved, c.Address)
	}

	if _, ok := r.byKey(c.Key); ok {
		return fmt.Errorf("%w: %s", ErrKeyInUse, c.Key)
	}
	if registered, ok := r.byAddress(c.Address); ok {
		return fmt.Errorf("%w: %s used by %s", ErrAddressInUse, c.Address, registered.Key)
	}
	// sort by address to ensure deterministic iteration
	r.components = insertSortedByAddress(r.components, c)
	return nil
}

func (r *Registry) byAddress(address common.Address) (Component, bool) {
	for _, c := range r.components {
		if c.Address == address {
			return c, true
		}
	}
	return Component{}, false
}

func (r *Registry) byKey(key string) (Component, bool) {
	for _, c := range r.components {
		if c.Key == key {
			return c, true
		}
	}
	return Component{}, false
}

// Components returns every component in address order.
func (r *Registry) Components() []Component {
	return append([]Component(nil), r.components...)
}

func insertSortedByAddress(data []Component, c Component) []Component {
	data = append(data, c)
	sort.Slice(data, func(i, j int) bool {
		return bytes.Compare(data[i].Address[:], data[j].Address[:]) < 0
	})
	return data
}
