// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lending

import (
	"errors"

	"github.com/luxfi/conflend/fhe"
)

var (
	ErrRequestNotPending        = errors.New("request not pending")
	ErrRequestAlreadyProcessing = errors.New("request already processing")
	ErrRequestNotFound          = errors.New("request not found")
	ErrMalformedReveal          = errors.New("malformed settlement reveal")
	ErrStaleSettlement          = errors.New("stale settlement")
	ErrInvalidProof             = fhe.ErrInvalidProof
)

// settleTask is the oracle task kind for request settlement.
const settleTask = "lending/settle"

// Status of a supply request.
type Status uint8

const (
	StatusNonExistent Status = iota
	StatusPending
	StatusSettling
	StatusProcessed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSettling:
		return "settling"
	case StatusProcessed:
		return "processed"
	default:
		return "nonexistent"
	}
}

// Request is a registered supply request. Its fields are encrypted; only
// the user and the lending contract may decrypt them.
type Request struct {
	ID     fhe.Handle
	User   fhe.EncryptedAddress
	Asset  fhe.EncryptedAddress
	Amount fhe.EncryptedAmount
	Status Status
}

// IsPending reports whether the request has not been settled yet. A
// request awaiting its settlement reveal is still pending.
func (r Request) IsPending() bool {
	return r.Status == StatusPending || r.Status == StatusSettling
}
