// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/conflend/fhe"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
)

// Keypair is a requester's ephemeral HPKE key.
type Keypair struct {
	public  []byte
	private []byte
}

// GenerateKeypair creates a fresh X25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	pk, sk, err := suiteKEM.Scheme().GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	public, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	private, err := sk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &Keypair{public: public, private: private}, nil
}

// PublicKey returns the encoded public key to send with a request.
func (k *Keypair) PublicKey() []byte {
	return append([]byte(nil), k.public...)
}

// Open decrypts a response for handle.
func (k *Keypair) Open(handle fhe.Handle, resp *Response) (*uint256.Int, error) {
	sk, err := suiteKEM.Scheme().UnmarshalBinaryPrivateKey(k.private)
	if err != nil {
		return nil, err
	}
	receiver, err := suite.NewReceiver(sk, sealInfo)
	if err != nil {
		return nil, err
	}
	opener, err := receiver.Setup(resp.Enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	plaintext, err := opener.Open(resp.Ciphertext, sealAAD(handle, resp.Type))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return new(uint256.Int).SetBytes(plaintext), nil
}

// SignRequest builds a request for handle signed by key.
func SignRequest(key *ecdsa.PrivateKey, handle fhe.Handle, contract common.Address, kp *Keypair) (Request, error) {
	public := kp.PublicKey()
	sig, err := crypto.Sign(RequestDigest(handle, contract, public), key)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Handle:    handle,
		Contract:  contract,
		PublicKey: public,
		Signature: sig,
	}, nil
}

// Address returns the account address of key.
func Address(key *ecdsa.PrivateKey) common.Address {
	return common.Address(crypto.PubkeyToAddress(key.PublicKey))
}
