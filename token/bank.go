// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package token is the plaintext fungible-token collaborator: balances and
// allowances for any number of assets with approve/transferFrom semantics.
package token

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrAssetFrozen           = errors.New("asset is frozen")
	ErrZeroAddress           = errors.New("zero address")
)

// Transferer is the token movement the ledger and pool depend on.
type Transferer interface {
	// Transfer moves amount of asset from the caller's own balance.
	Transfer(asset, from, to common.Address, amount *uint256.Int) error
	// TransferFrom moves amount on behalf of from, spending spender's
	// allowance.
	TransferFrom(asset, spender, from, to common.Address, amount *uint256.Int) error
	Approve(asset, owner, spender common.Address, amount *uint256.Int) error
	BalanceOf(asset, holder common.Address) *uint256.Int
}

// Bank holds plaintext balances for every asset.
type Bank struct {
	mu         sync.RWMutex
	balances   map[[32]byte]*uint256.Int
	allowances map[[32]byte]*uint256.Int
	supply     map[common.Address]*uint256.Int
	frozen     map[common.Address]bool
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{
		balances:   make(map[[32]byte]*uint256.Int),
		allowances: make(map[[32]byte]*uint256.Int),
		supply:     make(map[common.Address]*uint256.Int),
		frozen:     make(map[common.Address]bool),
	}
}

// Mint credits amount of asset to holder.
func (b *Bank) Mint(asset, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.credit(balanceKey(asset, to), amount)
	total, ok := b.supply[asset]
	if !ok {
		total = new(uint256.Int)
		b.supply[asset] = total
	}
	total.Add(total, amount)
	return nil
}

// Approve sets spender's allowance over owner's asset.
func (b *Bank) Approve(asset, owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allowances[allowanceKey(asset, owner, spender)] = new(uint256.Int).Set(amount)
	return nil
}

// Allowance returns spender's remaining allowance.
func (b *Bank) Allowance(asset, owner, spender common.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if a, ok := b.allowances[allowanceKey(asset, owner, spender)]; ok {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

// BalanceOf returns holder's balance of asset.
func (b *Bank) BalanceOf(asset, holder common.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if bal, ok := b.balances[balanceKey(asset, holder)]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// TotalSupply returns the minted amount of asset.
func (b *Bank) TotalSupply(asset common.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if total, ok := b.supply[asset]; ok {
		return new(uint256.Int).Set(total)
	}
	return new(uint256.Int)
}

// Freeze makes every movement of asset fail.
func (b *Bank) Freeze(asset common.Address, frozen bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen[asset] = frozen
}

func (b *Bank) Transfer(asset, from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(asset, from, to, amount)
}

func (b *Bank) TransferFrom(asset, spender, from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := allowanceKey(asset, from, spender)
	allowance, ok := b.allowances[key]
	if !ok || allowance.Lt(amount) {
		return ErrInsufficientAllowance
	}
	if err := b.move(asset, from, to, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	return nil
}

func (b *Bank) move(asset, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if b.frozen[asset] {
		return ErrAssetFrozen
	}
	fromKey := balanceKey(asset, from)
	bal, ok := b.balances[fromKey]
	if !ok || bal.Lt(amount) {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	b.credit(balanceKey(asset, to), amount)
	return nil
}

func (b *Bank) credit(key [32]byte, amount *uint256.Int) {
	bal, ok := b.balances[key]
	if !ok {
		bal = new(uint256.Int)
		b.balances[key] = bal
	}
	bal.Add(bal, amount)
}

// balanceKey generates a unique key for a holder's balance of asset
func balanceKey(asset, holder common.Address) [32]byte {
	var key [32]byte
	h := blake3.New()
	h.Write([]byte("bal"))
	h.Write(asset.Bytes())
	h.Write(holder.Bytes())
	h.Digest().Read(key[:])
	return key
}

func allowanceKey(asset, owner, spender common.Address) [32]byte {
	var key [32]byte
	h := blake3.New()
	h.Write([]byte("allow"))
	h.Write(asset.Bytes())
	h.Write(owner.Bytes())
	h.Write(spender.Bytes())
	h.Digest().Read(key[:])
	return key
}
