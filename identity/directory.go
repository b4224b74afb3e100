// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package identity issues each principal a stable encrypted identity.
// Ledger entries are keyed by that handle, so events and lookups can name
// an account without publishing its address.
package identity

import (
	"sync"

	"github.com/luxfi/conflend/fhe"
	"github.com/luxfi/geth/common"
)

// Directory maps principals to their encrypted identity, creating it on
// first use.
type Directory struct {
	store *fhe.Store
	// services are the contracts that key state by identity handle
	services []common.Address

	mu         sync.Mutex
	identities map[common.Address]fhe.EncryptedAddress
}

// NewDirectory creates a directory whose handles are readable by the
// owning principal and by services.
func NewDirectory(store *fhe.Store, services ...common.Address) *Directory {
	return &Directory{
		store:      store,
		services:   services,
		identities: make(map[common.Address]fhe.EncryptedAddress),
	}
}

// Of returns the identity of principal.
func (d *Directory) Of(principal common.Address) (fhe.EncryptedAddress, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.identities[principal]; ok {
		return id, nil
	}
	acl := fhe.NewACL(principal).With(d.services...)
	id, err := d.store.EncryptAddress(principal, acl)
	if err != nil {
		return fhe.EncryptedAddress{}, err
	}
	d.identities[principal] = id
	return id, nil
}

// Lookup returns the identity of principal without creating one.
func (d *Directory) Lookup(principal common.Address) (fhe.EncryptedAddress, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.identities[principal]
	return id, ok
}
