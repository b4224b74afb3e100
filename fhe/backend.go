// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import "github.com/holiman/uint256"

// Backend evaluates homomorphic operations over serialized ciphertexts.
//
// Uint64 arithmetic wraps modulo 2^64; callers guard underflow with Ge and
// Select. Ge returns a TypeBool ciphertext and Select takes one as its
// control.
type Backend interface {
	Name() string

	Encrypt(t Type, v *uint256.Int) ([]byte, error)
	Decrypt(t Type, ct []byte) (*uint256.Int, error)

	Add(t Type, lhs, rhs []byte) ([]byte, error)
	Sub(t Type, lhs, rhs []byte) ([]byte, error)
	Ge(t Type, lhs, rhs []byte) ([]byte, error)
	Select(t Type, control, ifTrue, ifFalse []byte) ([]byte, error)
}
