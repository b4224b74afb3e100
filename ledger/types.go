// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/conflend/fhe"
	"github.com/luxfi/geth/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferFailed      = errors.New("token transfer failed")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrEntryNotFound       = errors.New("ledger entry not found")
	ErrBalanceOverflow     = errors.New("balance overflow")

	// ErrInvalidProof is returned when an encrypted input does not verify
	// for this ledger and caller.
	ErrInvalidProof = fhe.ErrInvalidProof
)

// Pool is the external lending pool settlement supplies into.
type Pool interface {
	Address() common.Address
	SupplyOnBehalf(asset common.Address, amount *uint256.Int, from, onBehalfOf common.Address) error
}
