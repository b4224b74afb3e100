// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

import (
	"crypto/ecdsa"
	"testing"

	"github.com/luxfi/conflend/fhe"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

var testContract = common.HexToAddress("0x0000000000000000000000000000000000009101")

type fixture struct {
	store   *fhe.Store
	gw      *Gateway
	owner   *ecdsa.PrivateKey
	other   *ecdsa.PrivateKey
	balance fhe.EncryptedAmount
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend, err := fhe.NewRandomCoprocessorBackend()
	require.NoError(t, err)
	store, err := fhe.NewStore(backend)
	require.NoError(t, err)

	owner, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	balance, err := store.EncryptUint64(90, fhe.NewACL(Address(owner), testContract))
	require.NoError(t, err)

	return &fixture{
		store:   store,
		gw:      New(store, nil, log.NewTestLogger(log.InfoLevel)),
		owner:   owner,
		other:   other,
		balance: balance,
	}
}

func TestReencryptOwner(t *testing.T) {
	f := newFixture(t)
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	req, err := SignRequest(f.owner, f.balance.Handle, testContract, kp)
	require.NoError(t, err)
	resp, err := f.gw.Reencrypt(req)
	require.NoError(t, err)
	require.Equal(t, fhe.TypeUint64, resp.Type)

	v, err := kp.Open(f.balance.Handle, resp)
	require.NoError(t, err)
	require.Equal(t, uint64(90), v.Uint64())

	// another keypair cannot open it
	stranger, err := GenerateKeypair()
	require.NoError(t, err)
	_, err = stranger.Open(f.balance.Handle, resp)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestReencryptAddress(t *testing.T) {
	f := newFixture(t)
	id, err := f.store.EncryptAddress(Address(f.owner), fhe.NewACL(Address(f.owner), testContract))
	require.NoError(t, err)

	kp, err := GenerateKeypair()
	require.NoError(t, err)
	req, err := SignRequest(f.owner, id.Handle, testContract, kp)
	require.NoError(t, err)
	resp, err := f.gw.Reencrypt(req)
	require.NoError(t, err)

	v, err := kp.Open(id.Handle, resp)
	require.NoError(t, err)
	require.Equal(t, Address(f.owner), common.Address(v.Bytes20()))
}

func TestReencryptUnauthorized(t *testing.T) {
	f := newFixture(t)
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	tests := []struct {
		name    string
		build   func() Request
		wantErr error
	}{
		{
			name: "signer not in acl",
			build: func() Request {
				req, err := SignRequest(f.other, f.balance.Handle, testContract, kp)
				require.NoError(t, err)
				return req
			},
			wantErr: ErrUnauthorized,
		},
		{
			name: "contract not in acl",
			build: func() Request {
				req, err := SignRequest(f.owner, f.balance.Handle, common.HexToAddress("0x01"), kp)
				require.NoError(t, err)
				return req
			},
			wantErr: ErrUnauthorized,
		},
		{
			name: "unknown handle",
			build: func() Request {
				req, err := SignRequest(f.owner, common.HexToHash("0xdead"), testContract, kp)
				require.NoError(t, err)
				return req
			},
			wantErr: ErrUnauthorized,
		},
		{
			name: "signature over another key",
			build: func() Request {
				req, err := SignRequest(f.owner, f.balance.Handle, testContract, kp)
				require.NoError(t, err)
				other, err := GenerateKeypair()
				require.NoError(t, err)
				req.PublicKey = other.PublicKey()
				return req
			},
			wantErr: ErrUnauthorized,
		},
		{
			name: "truncated signature",
			build: func() Request {
				req, err := SignRequest(f.owner, f.balance.Handle, testContract, kp)
				require.NoError(t, err)
				req.Signature = req.Signature[:64]
				return req
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "bad public key",
			build: func() Request {
				req, err := SignRequest(f.owner, f.balance.Handle, testContract, kp)
				require.NoError(t, err)
				req.PublicKey = []byte{1, 2, 3}
				return req
			},
			wantErr: ErrInvalidPublicKey,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.gw.Reencrypt(tt.build())
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAddressMatchesAccount(t *testing.T) {
	key, err := crypto.HexToECDSA("0000000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"), Address(key))

	// the gateway recovers the same address from a signed request
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	handle := common.Hash{7}
	req, err := SignRequest(key, handle, testContract, kp)
	require.NoError(t, err)
	signer, err := recoverSigner(RequestDigest(handle, testContract, req.PublicKey), req.Signature)
	require.NoError(t, err)
	require.Equal(t, Address(key), signer)
}
