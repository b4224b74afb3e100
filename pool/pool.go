// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pool is the external lending pool collaborator. It keeps plain
// reserve and position accounting; interest and risk logic live with the
// real pool and are not modelled here.
package pool

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/conflend/token"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

var (
	ErrReserveNotFound      = errors.New("reserve not found")
	ErrReserveAlreadyExists = errors.New("reserve already exists")
	ErrReserveFrozen        = errors.New("reserve is frozen")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrSupplyCapExceeded    = errors.New("supply cap exceeded")
	ErrInsufficientBalance  = errors.New("insufficient balance")
)

// Reserve is the pool's state for one asset.
type Reserve struct {
	Asset       common.Address
	TotalSupply *uint256.Int
	SupplyCap   *uint256.Int // zero means no cap
	IsActive    bool
	IsFrozen    bool
}

// Position is a supplier's stake in one reserve.
type Position struct {
	Owner    common.Address
	Asset    common.Address
	Supplied *uint256.Int
}

// Pool is an Aave-style supply pool.
type Pool struct {
	address common.Address
	tokens  token.Transferer

	mu        sync.RWMutex
	reserves  map[common.Address]*Reserve
	positions map[[32]byte]*Position
}

// New creates a pool living at address and holding funds in tokens.
func New(address common.Address, tokens token.Transferer) *Pool {
	return &Pool{
		address:   address,
		tokens:    tokens,
		reserves:  make(map[common.Address]*Reserve),
		positions: make(map[[32]byte]*Position),
	}
}

// Address returns the pool's account.
func (p *Pool) Address() common.Address {
	return p.address
}

// positionKey generates unique key for user position
func positionKey(user common.Address, asset common.Address) [32]byte {
	h := blake3.New()
	h.Write(user.Bytes())
	h.Write(asset.Bytes())
	var key [32]byte
	h.Digest().Read(key[:])
	return key
}

// InitializeReserve lists asset with an optional supply cap.
func (p *Pool) InitializeReserve(asset common.Address, supplyCap *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.reserves[asset]; exists {
		return ErrReserveAlreadyExists
	}
	if supplyCap == nil {
		supplyCap = new(uint256.Int)
	}
	p.reserves[asset] = &Reserve{
		Asset:       asset,
		TotalSupply: new(uint256.Int),
		SupplyCap:   new(uint256.Int).Set(supplyCap),
		IsActive:    true,
	}
	return nil
}

// SetReserveFrozen blocks or unblocks new supply.
func (p *Pool) SetReserveFrozen(asset common.Address, frozen bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	reserve, exists := p.reserves[asset]
	if !exists {
		return ErrReserveNotFound
	}
	reserve.IsFrozen = frozen
	return nil
}

// SupplyOnBehalf pulls amount of asset from `from` and credits the
// position of onBehalfOf. Either everything happens or nothing does.
func (p *Pool) SupplyOnBehalf(asset common.Address, amount *uint256.Int, from, onBehalfOf common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	reserve, exists := p.reserves[asset]
	if !exists {
		return ErrReserveNotFound
	}
	if !reserve.IsActive || reserve.IsFrozen {
		return ErrReserveFrozen
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	newTotal := new(uint256.Int).Add(reserve.TotalSupply, amount)
	if !reserve.SupplyCap.IsZero() && newTotal.Gt(reserve.SupplyCap) {
		return ErrSupplyCapExceeded
	}

	if err := p.tokens.TransferFrom(asset, p.address, from, p.address, amount); err != nil {
		return err
	}

	key := positionKey(onBehalfOf, asset)
	position, ok := p.positions[key]
	if !ok {
		position = &Position{Owner: onBehalfOf, Asset: asset, Supplied: new(uint256.Int)}
		p.positions[key] = position
	}
	position.Supplied.Add(position.Supplied, amount)
	reserve.TotalSupply = newTotal
	return nil
}

// Withdraw returns up to amount of onBehalfOf's supply to `to`.
func (p *Pool) Withdraw(asset common.Address, amount *uint256.Int, onBehalfOf, to common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	reserve, exists := p.reserves[asset]
	if !exists {
		return ErrReserveNotFound
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	position, ok := p.positions[positionKey(onBehalfOf, asset)]
	if !ok || position.Supplied.Lt(amount) {
		return ErrInsufficientBalance
	}
	if err := p.tokens.Transfer(asset, p.address, to, amount); err != nil {
		return err
	}
	position.Supplied.Sub(position.Supplied, amount)
	reserve.TotalSupply.Sub(reserve.TotalSupply, amount)
	return nil
}

// GetReserve returns a copy of the reserve for asset.
func (p *Pool) GetReserve(asset common.Address) (Reserve, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	reserve, exists := p.reserves[asset]
	if !exists {
		return Reserve{}, ErrReserveNotFound
	}
	out := *reserve
	out.TotalSupply = new(uint256.Int).Set(reserve.TotalSupply)
	out.SupplyCap = new(uint256.Int).Set(reserve.SupplyCap)
	return out, nil
}

// SuppliedBy returns onBehalfOf's supplied amount of asset.
func (p *Pool) SuppliedBy(asset, onBehalfOf common.Address) *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if position, ok := p.positions[positionKey(onBehalfOf, asset)]; ok {
		return new(uint256.Int).Set(position.Supplied)
	}
	return new(uint256.Int)
}
