// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger keeps encrypted Deposit and Supply balances per
// (identity, asset) and holds the plaintext tokens backing them.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/conflend/event"
	"github.com/luxfi/conflend/fhe"
	"github.com/luxfi/conflend/identity"
	"github.com/luxfi/conflend/metrics"
	"github.com/luxfi/conflend/token"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/zeebo/blake3"
)

// account is the (identity, asset) slot. A zero Handle means the entry
// has not been created yet.
type account struct {
	mu      sync.Mutex
	user    common.Address
	asset   common.Address
	deposit fhe.EncryptedAmount
	supply  fhe.EncryptedAmount
}

// Ledger is the confidential balance ledger. Its address is the custody
// account for deposited tokens.
type Ledger struct {
	address    common.Address
	store      *fhe.Store
	identities *identity.Directory
	tokens     token.Transferer
	events     event.Sink
	metrics    *metrics.Metrics
	log        log.Logger

	mu       sync.Mutex
	accounts map[[32]byte]*account
}

// New creates a ledger at address.
func New(
	address common.Address,
	store *fhe.Store,
	identities *identity.Directory,
	tokens token.Transferer,
	events event.Sink,
	m *metrics.Metrics,
	logger log.Logger,
) *Ledger {
	return &Ledger{
		address:    address,
		store:      store,
		identities: identities,
		tokens:     tokens,
		events:     events,
		metrics:    m,
		log:        logger,
		accounts:   make(map[[32]byte]*account),
	}
}

// Address returns the ledger's custody account.
func (l *Ledger) Address() common.Address {
	return l.address
}

// accountKey generates unique key for an (identity, asset) slot
func accountKey(id fhe.Handle, asset common.Address) [32]byte {
	h := blake3.New()
	h.Write(id.Bytes())
	h.Write(asset.Bytes())
	var key [32]byte
	h.Digest().Read(key[:])
	return key
}

// lookup returns the slot for (id, asset), creating it when create is set.
func (l *Ledger) lookup(id fhe.Handle, user, asset common.Address, create bool) *account {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := accountKey(id, asset)
	acct, ok := l.accounts[key]
	if !ok && create {
		acct = &account{user: user, asset: asset}
		l.accounts[key] = acct
	}
	return acct
}

func (l *Ledger) ownerACL(user common.Address) fhe.ACL {
	return fhe.NewACL(user, l.address)
}

// Deposit pulls amount of asset from user into custody and credits the
// user's encrypted Deposit entry.
func (l *Ledger) Deposit(user, asset common.Address, amount uint64) (err error) {
	defer func() { l.metrics.Observe("deposit", err) }()

	if amount == 0 {
		return ErrInvalidAmount
	}
	id, err := l.identities.Of(user)
	if err != nil {
		return err
	}
	ev, err := l.deposit(l.lookup(id.Handle, user, asset, true), id.Handle, amount)
	if err != nil {
		return err
	}
	l.log.Debug("deposit", "identity", id.Handle, "asset", asset)
	l.events.Emit(ev)
	return nil
}

func (l *Ledger) deposit(acct *account, id fhe.Handle, amount uint64) (event.Event, error) {
	acct.mu.Lock()
	defer acct.mu.Unlock()

	acl := l.ownerACL(acct.user)
	credit, err := l.store.EncryptUint64(amount, acl)
	if err != nil {
		return event.Event{}, err
	}
	next := credit
	if !acct.deposit.IsZero() {
		if next, err = l.checkedAdd(acct.deposit, credit, acl); err != nil {
			return event.Event{}, err
		}
	}

	if err := l.tokens.TransferFrom(acct.asset, l.address, acct.user, l.address, uint256.NewInt(amount)); err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	acct.deposit = next
	return event.Event{
		Kind:     event.Deposited,
		Contract: l.address,
		Subject:  id,
		Asset:    acct.asset,
		Amount:   credit.Handle,
	}, nil
}

// Withdraw releases amount of asset back to user if the encrypted Deposit
// covers it. Nothing changes on failure.
func (l *Ledger) Withdraw(user, asset common.Address, amount uint64) (err error) {
	defer func() { l.metrics.Observe("withdraw", err) }()

	if amount == 0 {
		return ErrInvalidAmount
	}
	id, ok := l.identities.Lookup(user)
	if !ok {
		return ErrInsufficientBalance
	}
	acct := l.lookup(id.Handle, user, asset, false)
	if acct == nil {
		return ErrInsufficientBalance
	}
	ev, err := l.withdraw(acct, id.Handle, amount)
	if err != nil {
		return err
	}
	l.log.Debug("withdraw", "identity", id.Handle, "asset", asset)
	l.events.Emit(ev)
	return nil
}

func (l *Ledger) withdraw(acct *account, id fhe.Handle, amount uint64) (event.Event, error) {
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.deposit.IsZero() {
		return event.Event{}, ErrInsufficientBalance
	}
	acl := l.ownerACL(acct.user)
	debit, err := l.store.EncryptUint64(amount, acl)
	if err != nil {
		return event.Event{}, err
	}
	next, err := l.checkedSub(acct.deposit, debit, acl)
	if err != nil {
		return event.Event{}, err
	}

	if err := l.tokens.Transfer(acct.asset, l.address, acct.user, uint256.NewInt(amount)); err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	acct.deposit = next
	return event.Event{
		Kind:     event.Withdrawn,
		Contract: l.address,
		Subject:  id,
		Asset:    acct.asset,
		Amount:   debit.Handle,
	}, nil
}

// Supply moves an encrypted amount from the user's Deposit to their Supply.
// input and proof come from fhe.Store.NewInput bound to this ledger and
// user.
func (l *Ledger) Supply(user, asset common.Address, input fhe.Handle, proof []byte) (err error) {
	defer func() { l.metrics.Observe("supply", err) }()

	amount, err := l.store.VerifyAmount(input, proof, l.address, user)
	if err != nil {
		return err
	}
	id, ok := l.identities.Lookup(user)
	if !ok {
		return ErrInsufficientBalance
	}
	acct := l.lookup(id.Handle, user, asset, false)
	if acct == nil {
		return ErrInsufficientBalance
	}
	ev, err := l.supply(acct, id.Handle, amount)
	if err != nil {
		return err
	}
	l.log.Debug("supply", "identity", id.Handle, "asset", asset)
	l.events.Emit(ev)
	return nil
}

func (l *Ledger) supply(acct *account, id fhe.Handle, amount fhe.EncryptedAmount) (event.Event, error) {
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.deposit.IsZero() {
		return event.Event{}, ErrInsufficientBalance
	}
	acl := l.ownerACL(acct.user)
	supply := acct.supply
	if supply.IsZero() {
		var err error
		if supply, err = l.store.Zero(acl); err != nil {
			return event.Event{}, err
		}
	}

	// New balances are selected on the encrypted condition; Require then
	// rejects the whole operation when it is false.
	ok, err := l.store.Ge(acct.deposit, amount, acl)
	if err != nil {
		return event.Event{}, err
	}
	debited, err := l.store.Sub(acct.deposit, amount, acl)
	if err != nil {
		return event.Event{}, err
	}
	credited, noWrap, err := l.store.AddChecked(supply, amount, acl)
	if err != nil {
		return event.Event{}, err
	}
	nextDeposit, err := l.store.Select(ok, debited, acct.deposit, acl)
	if err != nil {
		return event.Event{}, err
	}
	nextSupply, err := l.store.Select(ok, credited, supply, acl)
	if err != nil {
		return event.Event{}, err
	}
	if err := l.require(ok); err != nil {
		return event.Event{}, err
	}
	if err := l.requireNoWrap(noWrap); err != nil {
		return event.Event{}, err
	}
	acct.deposit = nextDeposit
	acct.supply = nextSupply
	return event.Event{
		Kind:     event.Supplied,
		Contract: l.address,
		Subject:  id,
		Asset:    acct.asset,
		Amount:   amount.Handle,
	}, nil
}

// GetDeposit returns the Deposit entry for an identity handle. Plaintext
// is only available through the re-encryption gateway.
func (l *Ledger) GetDeposit(userHandle fhe.Handle, asset common.Address) (fhe.EncryptedAmount, error) {
	acct := l.lookup(userHandle, common.Address{}, asset, false)
	if acct == nil {
		return fhe.EncryptedAmount{}, ErrEntryNotFound
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.deposit.IsZero() {
		return fhe.EncryptedAmount{}, ErrEntryNotFound
	}
	return acct.deposit, nil
}

// GetSupply returns the Supply entry for an identity handle.
func (l *Ledger) GetSupply(userHandle fhe.Handle, asset common.Address) (fhe.EncryptedAmount, error) {
	acct := l.lookup(userHandle, common.Address{}, asset, false)
	if acct == nil {
		return fhe.EncryptedAmount{}, ErrEntryNotFound
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.supply.IsZero() {
		return fhe.EncryptedAmount{}, ErrEntryNotFound
	}
	return acct.supply, nil
}

// Identity returns the encrypted identity the ledger keys user's entries by.
func (l *Ledger) Identity(user common.Address) (fhe.EncryptedAddress, error) {
	return l.identities.Of(user)
}

// checkedAdd returns a + b, failing if the sum wraps.
func (l *Ledger) checkedAdd(a, b fhe.EncryptedAmount, acl fhe.ACL) (fhe.EncryptedAmount, error) {
	sum, ok, err := l.store.AddChecked(a, b, acl)
	if err != nil {
		return fhe.EncryptedAmount{}, err
	}
	if err := l.requireNoWrap(ok); err != nil {
		return fhe.EncryptedAmount{}, err
	}
	return sum, nil
}

// checkedSub returns a - b, failing with ErrInsufficientBalance if b > a.
func (l *Ledger) checkedSub(a, b fhe.EncryptedAmount, acl fhe.ACL) (fhe.EncryptedAmount, error) {
	ok, err := l.store.Ge(a, b, acl)
	if err != nil {
		return fhe.EncryptedAmount{}, err
	}
	if err := l.require(ok); err != nil {
		return fhe.EncryptedAmount{}, err
	}
	return l.store.Sub(a, b, acl)
}

func (l *Ledger) require(ok fhe.EncryptedBool) error {
	if err := l.store.Require(ok); err != nil {
		if errors.Is(err, fhe.ErrConditionFalse) {
			return ErrInsufficientBalance
		}
		return err
	}
	return nil
}

func (l *Ledger) requireNoWrap(ok fhe.EncryptedBool) error {
	if err := l.store.Require(ok); err != nil {
		if errors.Is(err, fhe.ErrConditionFalse) {
			return ErrBalanceOverflow
		}
		return err
	}
	return nil
}
