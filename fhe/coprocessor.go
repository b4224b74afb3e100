// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/chacha20poly1305"
)

const coprocessorPlaintextLen = 32

// CoprocessorBackend is the mocked coprocessor mode: every ciphertext is the
// plaintext sealed under the coprocessor key with XChaCha20-Poly1305, and
// operations are evaluated inside the coprocessor. Ciphertexts are
// randomized, so equal plaintexts never produce equal bytes.
type CoprocessorBackend struct {
	aead cipher.AEAD
}

// NewCoprocessorBackend creates a backend keyed with a 32-byte key.
func NewCoprocessorBackend(key []byte) (*CoprocessorBackend, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("coprocessor key: %w", err)
	}
	return &CoprocessorBackend{aead: aead}, nil
}

// NewRandomCoprocessorBackend creates a backend with a fresh random key.
func NewRandomCoprocessorBackend() (*CoprocessorBackend, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return NewCoprocessorBackend(key)
}

func (b *CoprocessorBackend) Name() string { return "coprocessor" }

func (b *CoprocessorBackend) seal(t Type, v *uint256.Int) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+coprocessorPlaintextLen+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	pt := v.Bytes32()
	return b.aead.Seal(nonce, nonce, pt[:], []byte{byte(t)}), nil
}

func (b *CoprocessorBackend) open(t Type, ct []byte) (*uint256.Int, error) {
	ns := b.aead.NonceSize()
	if len(ct) < ns+b.aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	pt, err := b.aead.Open(nil, ct[:ns], ct[ns:], []byte{byte(t)})
	if err != nil {
		// A ciphertext sealed for another type fails authentication too.
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(pt) != coprocessorPlaintextLen {
		return nil, ErrInvalidCiphertext
	}
	return new(uint256.Int).SetBytes(pt), nil
}

func (b *CoprocessorBackend) Encrypt(t Type, v *uint256.Int) ([]byte, error) {
	if err := checkRange(t, v); err != nil {
		return nil, err
	}
	return b.seal(t, v)
}

func (b *CoprocessorBackend) Decrypt(t Type, ct []byte) (*uint256.Int, error) {
	return b.open(t, ct)
}

func (b *CoprocessorBackend) Add(t Type, lhs, rhs []byte) ([]byte, error) {
	x, y, err := b.openUint64Pair(t, lhs, rhs)
	if err != nil {
		return nil, err
	}
	return b.seal(t, uint256.NewInt(x+y))
}

func (b *CoprocessorBackend) Sub(t Type, lhs, rhs []byte) ([]byte, error) {
	x, y, err := b.openUint64Pair(t, lhs, rhs)
	if err != nil {
		return nil, err
	}
	return b.seal(t, uint256.NewInt(x-y))
}

func (b *CoprocessorBackend) Ge(t Type, lhs, rhs []byte) ([]byte, error) {
	x, y, err := b.openUint64Pair(t, lhs, rhs)
	if err != nil {
		return nil, err
	}
	var bit uint64
	if x >= y {
		bit = 1
	}
	return b.seal(TypeBool, uint256.NewInt(bit))
}

func (b *CoprocessorBackend) Select(t Type, control, ifTrue, ifFalse []byte) ([]byte, error) {
	c, err := b.open(TypeBool, control)
	if err != nil {
		return nil, err
	}
	x, err := b.open(t, ifTrue)
	if err != nil {
		return nil, err
	}
	y, err := b.open(t, ifFalse)
	if err != nil {
		return nil, err
	}
	if c.IsZero() {
		return b.seal(t, y)
	}
	return b.seal(t, x)
}

func (b *CoprocessorBackend) openUint64Pair(t Type, lhs, rhs []byte) (uint64, uint64, error) {
	if t != TypeUint64 {
		return 0, 0, ErrTypeMismatch
	}
	x, err := b.open(t, lhs)
	if err != nil {
		return 0, 0, err
	}
	y, err := b.open(t, rhs)
	if err != nil {
		return 0, 0, err
	}
	return x.Uint64(), y.Uint64(), nil
}

// checkRange rejects plaintexts wider than the type.
func checkRange(t Type, v *uint256.Int) error {
	switch t {
	case TypeBool:
		if v.GtUint64(1) {
			return fmt.Errorf("%w: bool out of range", ErrInvalidInput)
		}
	case TypeUint64:
		if !v.IsUint64() {
			return fmt.Errorf("%w: uint64 out of range", ErrInvalidInput)
		}
	case TypeAddress:
		if v.BitLen() > 160 {
			return fmt.Errorf("%w: address out of range", ErrInvalidInput)
		}
	default:
		return ErrTypeMismatch
	}
	return nil
}
