// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gateway re-encrypts stored ciphertexts for their authorized
// viewers. A caller signs a request naming the handle, the contract that
// owns the ledger entry and an ephemeral HPKE public key; the plaintext is
// returned sealed to that key and never leaves the gateway in the clear.
package gateway

import (
	"errors"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/luxfi/conflend/fhe"
	"github.com/luxfi/conflend/metrics"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
)

var (
	ErrUnauthorized     = fhe.ErrUnauthorized
	ErrInvalidPublicKey = errors.New("invalid re-encryption public key")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const signatureLen = 65

var (
	requestDomain = []byte("conflend-reencrypt")
	sealInfo      = []byte("conflend-reencrypt/v1")
)

// suite is X25519 / HKDF-SHA256 / ChaCha20-Poly1305.
var suite = hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_ChaCha20Poly1305)

// suiteKEM is the KEM component of suite.
var suiteKEM, _, _ = suite.Params()

// Request asks for Handle to be re-encrypted under PublicKey. Signature
// is a secp256k1 signature over RequestDigest.
type Request struct {
	Handle    fhe.Handle
	Contract  common.Address
	PublicKey []byte
	Signature []byte
}

// Response carries the HPKE encapsulated key and the sealed plaintext.
type Response struct {
	Type       fhe.Type
	Enc        []byte
	Ciphertext []byte
}

// Gateway serves re-encryption requests against a store.
type Gateway struct {
	store   *fhe.Store
	metrics *metrics.Metrics
	log     log.Logger
}

// New creates a gateway over store.
func New(store *fhe.Store, m *metrics.Metrics, logger log.Logger) *Gateway {
	return &Gateway{store: store, metrics: m, log: logger}
}

// RequestDigest is the message a requester signs.
func RequestDigest(handle fhe.Handle, contract common.Address, publicKey []byte) []byte {
	return crypto.Keccak256(requestDomain, handle.Bytes(), contract.Bytes(), publicKey)
}

// Reencrypt verifies req and returns the plaintext of req.Handle sealed to
// req.PublicKey. Both the signer and req.Contract must be in the handle's
// ACL.
func (g *Gateway) Reencrypt(req Request) (resp *Response, err error) {
	defer func() { g.metrics.Observe("reencrypt", err) }()

	pk, err := suiteKEM.Scheme().UnmarshalBinaryPublicKey(req.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	signer, err := recoverSigner(RequestDigest(req.Handle, req.Contract, req.PublicKey), req.Signature)
	if err != nil {
		return nil, err
	}

	acl, err := g.store.ACL(req.Handle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !acl.Contains(signer) || !acl.Contains(req.Contract) {
		g.log.Debug("re-encryption denied", "handle", req.Handle, "signer", signer, "contract", req.Contract)
		return nil, fmt.Errorf("%w: %s for %s", ErrUnauthorized, signer, req.Handle)
	}

	value, typ, err := g.store.Decrypt(req.Handle)
	if err != nil {
		return nil, err
	}
	sender, err := suite.NewSender(pk, sealInfo)
	if err != nil {
		return nil, err
	}
	enc, sealer, err := sender.Setup(nil)
	if err != nil {
		return nil, err
	}
	plaintext := value.Bytes32()
	ciphertext, err := sealer.Seal(plaintext[:], sealAAD(req.Handle, typ))
	if err != nil {
		return nil, err
	}
	return &Response{Type: typ, Enc: enc, Ciphertext: ciphertext}, nil
}

func sealAAD(handle fhe.Handle, t fhe.Type) []byte {
	return append(handle.Bytes(), byte(t))
}

func recoverSigner(digest, sig []byte) (common.Address, error) {
	if len(sig) != signatureLen {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return common.Address(crypto.PubkeyToAddress(*pub)), nil
}
