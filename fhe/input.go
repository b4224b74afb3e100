// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

const proofMACLen = 32

// EncryptedInput is a batch of client-side ciphertexts bound to one
// (contract, caller) context. Handles[i] names the i-th value; Proof
// carries the ciphertexts and the attestation over them.
type EncryptedInput struct {
	Handles []Handle
	Proof   []byte
}

type inputValue struct {
	typ Type
	v   *uint256.Int
}

// InputBuilder assembles an EncryptedInput for a contract call.
type InputBuilder struct {
	store    *Store
	contract common.Address
	caller   common.Address
	values   []inputValue
}

// NewInput starts an input batch that only contract may import on behalf
// of caller.
func (s *Store) NewInput(contract, caller common.Address) *InputBuilder {
	return &InputBuilder{store: s, contract: contract, caller: caller}
}

// Add64 appends an encrypted uint64.
func (b *InputBuilder) Add64(v uint64) *InputBuilder {
	b.values = append(b.values, inputValue{typ: TypeUint64, v: uint256.NewInt(v)})
	return b
}

// AddAddress appends an encrypted address.
func (b *InputBuilder) AddAddress(addr common.Address) *InputBuilder {
	b.values = append(b.values, inputValue{typ: TypeAddress, v: new(uint256.Int).SetBytes20(addr.Bytes())})
	return b
}

// Encrypt seals every value and attests the batch.
func (b *InputBuilder) Encrypt() (*EncryptedInput, error) {
	if len(b.values) == 0 {
		return nil, ErrInvalidInput
	}
	types := make([]Type, len(b.values))
	cts := make([][]byte, len(b.values))
	for i, val := range b.values {
		data, err := b.store.backend.Encrypt(val.typ, val.v)
		if err != nil {
			return nil, err
		}
		types[i] = val.typ
		cts[i] = data
	}

	body := encodeInputBody(types, cts)
	mac := b.store.inputMAC(b.contract, b.caller, body)

	handles := make([]Handle, len(cts))
	for i := range cts {
		handles[i] = inputHandle(i, types[i], cts[i])
	}
	return &EncryptedInput{
		Handles: handles,
		Proof:   append(body, mac...),
	}, nil
}

// VerifyInput checks that proof attests handle for (contract, caller) and
// imports the ciphertext with ACL {caller, contract}. Any mismatch is
// ErrInvalidProof.
func (s *Store) VerifyInput(handle Handle, proof []byte, contract, caller common.Address, want Type) (Ciphertext, error) {
	if len(proof) < proofMACLen {
		return Ciphertext{}, ErrInvalidProof
	}
	body, mac := proof[:len(proof)-proofMACLen], proof[len(proof)-proofMACLen:]
	if subtle.ConstantTimeCompare(mac, s.inputMAC(contract, caller, body)) != 1 {
		return Ciphertext{}, fmt.Errorf("%w: attestation mismatch", ErrInvalidProof)
	}
	types, cts, err := decodeInputBody(body)
	if err != nil {
		return Ciphertext{}, err
	}
	for i := range cts {
		if inputHandle(i, types[i], cts[i]) != handle {
			continue
		}
		if types[i] != want {
			return Ciphertext{}, fmt.Errorf("%w: input is %s, want %s", ErrInvalidProof, types[i], want)
		}
		data := append([]byte(nil), cts[i]...)
		return s.putAt(handle, types[i], data, NewACL(caller, contract))
	}
	return Ciphertext{}, fmt.Errorf("%w: handle not in proof", ErrInvalidProof)
}

// VerifyAmount is VerifyInput for a uint64 input.
func (s *Store) VerifyAmount(handle Handle, proof []byte, contract, caller common.Address) (EncryptedAmount, error) {
	ct, err := s.VerifyInput(handle, proof, contract, caller, TypeUint64)
	return EncryptedAmount{ct}, err
}

func (s *Store) inputMAC(contract, caller common.Address, body []byte) []byte {
	h, err := blake3.NewKeyed(s.proofKey[:])
	if err != nil {
		// key length is fixed at 32 bytes
		panic(err)
	}
	h.Write(contract.Bytes())
	h.Write(caller.Bytes())
	h.Write(body)
	return h.Sum(nil)
}

func inputHandle(index int, t Type, ct []byte) Handle {
	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], uint16(index))

	h := blake3.New()
	h.Write([]byte("conflend/input"))
	h.Write(idx[:])
	h.Write([]byte{byte(t)})
	h.Write(ct)
	var handle Handle
	h.Digest().Read(handle[:])
	return handle
}

// encodeInputBody lays out count(2) | {type(1) len(4) ct}...
func encodeInputBody(types []Type, cts [][]byte) []byte {
	out := binary.BigEndian.AppendUint16(nil, uint16(len(cts)))
	for i, ct := range cts {
		out = append(out, byte(types[i]))
		out = binary.BigEndian.AppendUint32(out, uint32(len(ct)))
		out = append(out, ct...)
	}
	return out
}

func decodeInputBody(body []byte) ([]Type, [][]byte, error) {
	if len(body) < 2 {
		return nil, nil, ErrInvalidProof
	}
	n := int(binary.BigEndian.Uint16(body))
	body = body[2:]
	types := make([]Type, 0, n)
	cts := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if len(body) < 5 {
			return nil, nil, ErrInvalidProof
		}
		t := Type(body[0])
		size := int(binary.BigEndian.Uint32(body[1:5]))
		body = body[5:]
		if size > len(body) {
			return nil, nil, ErrInvalidProof
		}
		types = append(types, t)
		cts = append(cts, body[:size])
		body = body[size:]
	}
	if len(body) != 0 {
		return nil, nil, ErrInvalidProof
	}
	return types, cts, nil
}
