// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/fhe"
)

var (
	// Singleton TFHE components
	tfheOnce  sync.Once
	evaluator *fhe.BitwiseEvaluator
	encryptor *fhe.BitwiseEncryptor
	decryptor *fhe.BitwiseDecryptor
	initErr   error
)

// initTFHE generates the key set once per process. Bootstrap key
// generation dominates start-up time.
func initTFHE() error {
	tfheOnce.Do(func() {
		params, err := fhe.NewParametersFromLiteral(fhe.PN10QP27)
		if err != nil {
			initErr = err
			return
		}

		kg := fhe.NewKeyGenerator(params)
		secretKey, _ := kg.GenKeyPair()
		bsk := kg.GenBootstrapKey(secretKey)

		encryptor = fhe.NewBitwiseEncryptor(params, secretKey)
		decryptor = fhe.NewBitwiseDecryptor(params, secretKey)
		evaluator = fhe.NewBitwiseEvaluator(params, bsk, secretKey)
	})
	return initErr
}

// TFHEBackend evaluates operations with the luxfi/fhe bitwise evaluator.
// Addresses are encrypted as three limbs (32 + 64 + 64 bits) since the
// encryptor takes 64-bit plaintexts.
type TFHEBackend struct {
	// evaluator scratch space is not safe for concurrent use
	mu sync.Mutex
}

// NewTFHEBackend initializes the shared key set and returns a backend.
func NewTFHEBackend() (*TFHEBackend, error) {
	if err := initTFHE(); err != nil {
		return nil, fmt.Errorf("tfhe init: %w", err)
	}
	return &TFHEBackend{}, nil
}

func (b *TFHEBackend) Name() string { return "tfhe" }

func (b *TFHEBackend) Encrypt(t Type, v *uint256.Int) ([]byte, error) {
	if err := checkRange(t, v); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch t {
	case TypeUint64:
		return serializeBitCiphertext(encryptor.EncryptUint64(v.Uint64(), fhe.FheUint64))
	case TypeAddress:
		limbs := addressLimbs(v)
		parts := [][]byte{}
		for i, limb := range limbs {
			width := fhe.FheUint64
			if i == 0 {
				width = fhe.FheUint32
			}
			data, err := serializeBitCiphertext(encryptor.EncryptUint64(limb, width))
			if err != nil {
				return nil, err
			}
			parts = append(parts, data)
		}
		return joinLimbs(parts), nil
	default:
		// Encrypted bools only come out of comparisons.
		return nil, ErrNotImplemented
	}
}

func (b *TFHEBackend) Decrypt(t Type, ct []byte) (*uint256.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch t {
	case TypeBool:
		bit, err := deserializeCiphertext(ct)
		if err != nil {
			return nil, err
		}
		return uint256.NewInt(decryptor.DecryptUint64(fhe.WrapBoolCiphertext(bit))), nil
	case TypeUint64:
		bc, err := deserializeBitCiphertext(ct)
		if err != nil {
			return nil, err
		}
		return uint256.NewInt(decryptor.DecryptUint64(bc)), nil
	case TypeAddress:
		parts, err := splitLimbs(ct, 3)
		if err != nil {
			return nil, err
		}
		var limbs [3]uint64
		for i, p := range parts {
			bc, err := deserializeBitCiphertext(p)
			if err != nil {
				return nil, err
			}
			limbs[i] = decryptor.DecryptUint64(bc)
		}
		v := new(uint256.Int).SetUint64(limbs[0])
		v.Lsh(v, 64).Or(v, uint256.NewInt(limbs[1]))
		v.Lsh(v, 64).Or(v, uint256.NewInt(limbs[2]))
		return v, nil
	default:
		return nil, ErrTypeMismatch
	}
}

func (b *TFHEBackend) Add(t Type, lhs, rhs []byte) ([]byte, error) {
	return b.binary(t, lhs, rhs, evaluator.Add)
}

func (b *TFHEBackend) Sub(t Type, lhs, rhs []byte) ([]byte, error) {
	return b.binary(t, lhs, rhs, evaluator.Sub)
}

func (b *TFHEBackend) Ge(t Type, lhs, rhs []byte) ([]byte, error) {
	if t != TypeUint64 {
		return nil, ErrTypeMismatch
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ctLhs, err := deserializeBitCiphertext(lhs)
	if err != nil {
		return nil, err
	}
	ctRhs, err := deserializeBitCiphertext(rhs)
	if err != nil {
		return nil, err
	}
	result, err := evaluator.Ge(ctLhs, ctRhs)
	if err != nil {
		return nil, fmt.Errorf("%w: ge: %v", ErrOperationFailed, err)
	}
	return serializeCiphertext(result)
}

func (b *TFHEBackend) Select(t Type, control, ifTrue, ifFalse []byte) ([]byte, error) {
	if t != TypeUint64 {
		return nil, ErrTypeMismatch
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ctControl, err := deserializeCiphertext(control)
	if err != nil {
		return nil, err
	}
	ctTrue, err := deserializeBitCiphertext(ifTrue)
	if err != nil {
		return nil, err
	}
	ctFalse, err := deserializeBitCiphertext(ifFalse)
	if err != nil {
		return nil, err
	}
	result, err := evaluator.Select(ctControl, ctTrue, ctFalse)
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", ErrOperationFailed, err)
	}
	return serializeBitCiphertext(result)
}

func (b *TFHEBackend) binary(
	t Type,
	lhs, rhs []byte,
	op func(a, b *fhe.BitCiphertext) (*fhe.BitCiphertext, error),
) ([]byte, error) {
	if t != TypeUint64 {
		return nil, ErrTypeMismatch
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ctLhs, err := deserializeBitCiphertext(lhs)
	if err != nil {
		return nil, err
	}
	ctRhs, err := deserializeBitCiphertext(rhs)
	if err != nil {
		return nil, err
	}
	result, err := op(ctLhs, ctRhs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	return serializeBitCiphertext(result)
}

func serializeBitCiphertext(ct *fhe.BitCiphertext) ([]byte, error) {
	if ct == nil {
		return nil, ErrOperationFailed
	}
	return ct.MarshalBinary()
}

func deserializeBitCiphertext(data []byte) (*fhe.BitCiphertext, error) {
	if len(data) == 0 {
		return nil, ErrInvalidCiphertext
	}
	ct := new(fhe.BitCiphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return ct, nil
}

// serializeCiphertext encodes a single encrypted bit
func serializeCiphertext(ct *fhe.Ciphertext) ([]byte, error) {
	if ct == nil {
		return nil, ErrOperationFailed
	}
	return ct.MarshalBinary()
}

func deserializeCiphertext(data []byte) (*fhe.Ciphertext, error) {
	if len(data) == 0 {
		return nil, ErrInvalidCiphertext
	}
	ct := new(fhe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return ct, nil
}

// addressLimbs splits a 160-bit value into {high 32, mid 64, low 64}.
func addressLimbs(v *uint256.Int) [3]uint64 {
	return [3]uint64{v[2] & 0xffffffff, v[1], v[0]}
}

func joinLimbs(parts [][]byte) []byte {
	size := 0
	for _, p := range parts {
		size += 4 + len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = binary.BigEndian.AppendUint32(out, uint32(len(p)))
		out = append(out, p...)
	}
	return out
}

func splitLimbs(data []byte, n int) ([][]byte, error) {
	parts := make([][]byte, 0, n)
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, ErrInvalidCiphertext
		}
		size := int(binary.BigEndian.Uint32(data))
		data = data[4:]
		if size > len(data) {
			return nil, ErrInvalidCiphertext
		}
		parts = append(parts, data[:size])
		data = data[size:]
	}
	if len(parts) != n {
		return nil, ErrInvalidCiphertext
	}
	return parts, nil
}
