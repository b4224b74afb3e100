// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// stored is one ciphertext arena slot. data is immutable once written;
// only acl grows.
type stored struct {
	typ  Type
	data []byte
	acl  ACL
}

// Store is the ciphertext arena. Every ciphertext it creates is tagged
// with an explicit ACL; nothing is ever readable by default.
type Store struct {
	backend  Backend
	proofKey [32]byte

	mu      sync.RWMutex
	entries map[Handle]*stored
	nonce   uint64
}

// NewStore creates a store evaluating on backend. The input-proof key is
// generated fresh.
func NewStore(backend Backend) (*Store, error) {
	s := &Store{
		backend: backend,
		entries: make(map[Handle]*stored),
	}
	if _, err := rand.Read(s.proofKey[:]); err != nil {
		return nil, err
	}
	return s, nil
}

// Backend returns the evaluation backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// EncryptUint64 encrypts v for the principals in acl.
func (s *Store) EncryptUint64(v uint64, acl ACL) (EncryptedAmount, error) {
	ct, err := s.encrypt(TypeUint64, uint256.NewInt(v), acl)
	return EncryptedAmount{ct}, err
}

// EncryptAddress encrypts addr for the principals in acl.
func (s *Store) EncryptAddress(addr common.Address, acl ACL) (EncryptedAddress, error) {
	ct, err := s.encrypt(TypeAddress, new(uint256.Int).SetBytes20(addr.Bytes()), acl)
	return EncryptedAddress{ct}, err
}

// Zero returns a fresh encryption of zero.
func (s *Store) Zero(acl ACL) (EncryptedAmount, error) {
	return s.EncryptUint64(0, acl)
}

func (s *Store) encrypt(t Type, v *uint256.Int, acl ACL) (Ciphertext, error) {
	if acl.Len() == 0 {
		return Ciphertext{}, ErrEmptyACL
	}
	data, err := s.backend.Encrypt(t, v)
	if err != nil {
		return Ciphertext{}, err
	}
	return s.put(t, data, acl), nil
}

// Add returns Enc(a + b) mod 2^64.
func (s *Store) Add(a, b EncryptedAmount, acl ACL) (EncryptedAmount, error) {
	ct, err := s.binary(a.Ciphertext, b.Ciphertext, acl, TypeUint64, s.backend.Add)
	return EncryptedAmount{ct}, err
}

// AddChecked returns Enc(a + b) mod 2^64 together with Enc(no wrap).
// Callers Require the condition, or Select on it, before using the sum.
func (s *Store) AddChecked(a, b EncryptedAmount, acl ACL) (EncryptedAmount, EncryptedBool, error) {
	sum, err := s.Add(a, b, acl)
	if err != nil {
		return EncryptedAmount{}, EncryptedBool{}, err
	}
	ok, err := s.Ge(sum, a, acl)
	if err != nil {
		return EncryptedAmount{}, EncryptedBool{}, err
	}
	return sum, ok, nil
}

// Sub returns Enc(a - b) mod 2^64. Callers guard underflow with Ge.
func (s *Store) Sub(a, b EncryptedAmount, acl ACL) (EncryptedAmount, error) {
	ct, err := s.binary(a.Ciphertext, b.Ciphertext, acl, TypeUint64, s.backend.Sub)
	return EncryptedAmount{ct}, err
}

// Ge returns Enc(a >= b).
func (s *Store) Ge(a, b EncryptedAmount, acl ACL) (EncryptedBool, error) {
	ct, err := s.binary(a.Ciphertext, b.Ciphertext, acl, TypeBool, s.backend.Ge)
	return EncryptedBool{ct}, err
}

// Select returns a fresh ciphertext of ifTrue when cond holds and of
// ifFalse otherwise. Which branch fired is not observable.
func (s *Store) Select(cond EncryptedBool, ifTrue, ifFalse EncryptedAmount, acl ACL) (EncryptedAmount, error) {
	if acl.Len() == 0 {
		return EncryptedAmount{}, ErrEmptyACL
	}
	c, err := s.load(cond.Handle, TypeBool)
	if err != nil {
		return EncryptedAmount{}, err
	}
	x, err := s.load(ifTrue.Handle, TypeUint64)
	if err != nil {
		return EncryptedAmount{}, err
	}
	y, err := s.load(ifFalse.Handle, TypeUint64)
	if err != nil {
		return EncryptedAmount{}, err
	}
	data, err := s.backend.Select(TypeUint64, c.data, x.data, y.data)
	if err != nil {
		return EncryptedAmount{}, err
	}
	return EncryptedAmount{s.put(TypeUint64, data, acl)}, nil
}

// Require discloses the single bit of cond to the evaluator and fails
// with ErrConditionFalse when it is false. Nothing else is revealed.
func (s *Store) Require(cond EncryptedBool) error {
	c, err := s.load(cond.Handle, TypeBool)
	if err != nil {
		return err
	}
	v, err := s.backend.Decrypt(TypeBool, c.data)
	if err != nil {
		return err
	}
	if v.IsZero() {
		return ErrConditionFalse
	}
	return nil
}

// Allow grants principals read access to h.
func (s *Store) Allow(h Handle, principals ...common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[h]
	if !ok {
		return ErrInvalidCiphertext
	}
	e.acl = e.acl.With(principals...)
	return nil
}

// IsAllowed reports whether p is in the current ACL of h.
func (s *Store) IsAllowed(h Handle, p common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[h]
	return ok && e.acl.Contains(p)
}

// ACL returns the current ACL of h.
func (s *Store) ACL(h Handle) (ACL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[h]
	if !ok {
		return ACL{}, ErrInvalidCiphertext
	}
	return e.acl, nil
}

// Lookup returns the ciphertext reference for h with its current ACL.
func (s *Store) Lookup(h Handle) (Ciphertext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[h]
	if !ok {
		return Ciphertext{}, ErrInvalidCiphertext
	}
	return Ciphertext{Handle: h, Type: e.typ, ACL: e.acl}, nil
}

// Decrypt returns the plaintext of h. It performs no ACL check; the
// oracle relayer and the re-encryption gateway authorize before calling.
func (s *Store) Decrypt(h Handle) (*uint256.Int, Type, error) {
	s.mu.RLock()
	e, ok := s.entries[h]
	s.mu.RUnlock()
	if !ok {
		return nil, 0, ErrInvalidCiphertext
	}
	v, err := s.backend.Decrypt(e.typ, e.data)
	if err != nil {
		return nil, 0, err
	}
	return v, e.typ, nil
}

// Len returns the number of stored ciphertexts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) binary(
	a, b Ciphertext,
	acl ACL,
	resultType Type,
	op func(t Type, lhs, rhs []byte) ([]byte, error),
) (Ciphertext, error) {
	if acl.Len() == 0 {
		return Ciphertext{}, ErrEmptyACL
	}
	lhs, err := s.load(a.Handle, TypeUint64)
	if err != nil {
		return Ciphertext{}, err
	}
	rhs, err := s.load(b.Handle, TypeUint64)
	if err != nil {
		return Ciphertext{}, err
	}
	data, err := op(TypeUint64, lhs.data, rhs.data)
	if err != nil {
		return Ciphertext{}, err
	}
	return s.put(resultType, data, acl), nil
}

func (s *Store) load(h Handle, want Type) (stored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[h]
	if !ok {
		return stored{}, fmt.Errorf("%w: %s", ErrInvalidCiphertext, h.Hex())
	}
	if e.typ != want {
		return stored{}, fmt.Errorf("%w: have %s, want %s", ErrTypeMismatch, e.typ, want)
	}
	return *e, nil
}

// put stores data under a fresh handle derived from a store-local nonce.
func (s *Store) put(t Type, data []byte, acl ACL) Ciphertext {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonce++
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], s.nonce)

	h := blake3.New()
	h.Write([]byte("conflend/ct"))
	h.Write(n[:])
	h.Write([]byte{byte(t)})
	h.Write(data)
	var handle Handle
	h.Digest().Read(handle[:])

	s.entries[handle] = &stored{typ: t, data: data, acl: acl}
	return Ciphertext{Handle: handle, Type: t, ACL: acl}
}

// putAt stores data under a caller-chosen handle, merging the ACL when the
// handle already exists.
func (s *Store) putAt(handle Handle, t Type, data []byte, acl ACL) (Ciphertext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[handle]; ok {
		if e.typ != t {
			return Ciphertext{}, ErrTypeMismatch
		}
		e.acl = e.acl.With(acl.Members()...)
		return Ciphertext{Handle: handle, Type: t, ACL: e.acl}, nil
	}
	s.entries[handle] = &stored{typ: t, data: data, acl: acl}
	return Ciphertext{Handle: handle, Type: t, ACL: acl}, nil
}
