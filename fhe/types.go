// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"errors"
	"fmt"

	"github.com/luxfi/geth/common"
)

// Type is the plaintext type carried by a ciphertext.
// Values match the github.com/luxfi/fhe FheUintType numbering.
type Type uint8

const (
	TypeBool    Type = 0 // FheBool - 1 bit
	TypeUint64  Type = 5 // FheUint64 - 64 bits
	TypeAddress Type = 7 // FheUint160 - 160 bits
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "ebool"
	case TypeUint64:
		return "euint64"
	case TypeAddress:
		return "eaddress"
	default:
		return fmt.Sprintf("etype(%d)", uint8(t))
	}
}

// Handle identifies a ciphertext in the store. It reveals nothing about
// the plaintext.
type Handle = common.Hash

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrTypeMismatch      = errors.New("ciphertext type mismatch")
	ErrOperationFailed   = errors.New("FHE operation failed")
	ErrNotImplemented    = errors.New("operation not implemented")
	ErrInvalidCiphertext = errors.New("invalid ciphertext handle")
	ErrInvalidProof      = errors.New("invalid input proof")
	ErrUnauthorized      = errors.New("principal not in ciphertext ACL")
	ErrConditionFalse    = errors.New("encrypted condition is false")
	ErrEmptyACL          = errors.New("ciphertext ACL must not be empty")
)

// Ciphertext is an ACL-tagged ciphertext reference. ACL is the owner set
// recorded when the ciphertext was created; later grants made through
// Store.Allow are visible through Store.ACL.
type Ciphertext struct {
	Handle Handle
	Type   Type
	ACL    ACL
}

// IsZero reports whether c refers to no ciphertext.
func (c Ciphertext) IsZero() bool {
	return c.Handle == (Handle{})
}

// EncryptedAmount is a ciphertext of a non-negative 64-bit integer.
type EncryptedAmount struct {
	Ciphertext
}

// EncryptedAddress is a ciphertext of a principal identifier.
type EncryptedAddress struct {
	Ciphertext
}

// EncryptedBool is the result of an encrypted comparison.
type EncryptedBool struct {
	Ciphertext
}
