// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package endorse tracks encrypted endorsement rewards per identity and
// the confidential reward-token balance they are claimed into.
package endorse

import (
	"errors"
	"sync"

	"github.com/luxfi/conflend/event"
	"github.com/luxfi/conflend/fhe"
	"github.com/luxfi/conflend/identity"
	"github.com/luxfi/conflend/metrics"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
)

// ErrBalanceOverflow is returned when a credit would wrap an encrypted
// total past 2^64-1.
var ErrBalanceOverflow = errors.New("balance overflow")

type entry struct {
	mu          sync.Mutex
	user        common.Address
	endorsement fhe.EncryptedAmount
	balance     fhe.EncryptedAmount
}

// Ledger is the endorsement ledger and confidential reward token.
type Ledger struct {
	address    common.Address
	store      *fhe.Store
	identities *identity.Directory
	events     event.Sink
	metrics    *metrics.Metrics
	log        log.Logger

	mu      sync.Mutex
	entries map[fhe.Handle]*entry
}

// New creates the endorsement ledger at address.
func New(
	address common.Address,
	store *fhe.Store,
	identities *identity.Directory,
	events event.Sink,
	m *metrics.Metrics,
	logger log.Logger,
) *Ledger {
	return &Ledger{
		address:    address,
		store:      store,
		identities: identities,
		events:     events,
		metrics:    m,
		log:        logger,
		entries:    make(map[fhe.Handle]*entry),
	}
}

// Address returns the ledger's contract address.
func (l *Ledger) Address() common.Address {
	return l.address
}

func (l *Ledger) lookup(id fhe.Handle, user common.Address, create bool) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok && create {
		e = &entry{user: user}
		l.entries[id] = e
	}
	return e
}

// Credit is a staged endorsement credit. The entry stays locked until
// Commit or Abort.
type Credit struct {
	e    *entry
	next fhe.EncryptedAmount
	done bool
}

// Commit applies the credit and releases the entry.
func (c *Credit) Commit() {
	if c.done {
		return
	}
	c.done = true
	c.e.endorsement = c.next
	c.e.mu.Unlock()
}

// Abort releases the entry unchanged.
func (c *Credit) Abort() {
	if c.done {
		return
	}
	c.done = true
	c.e.mu.Unlock()
}

// StageCredit prepares Endorsement(user) += amount, freshly encrypted.
func (l *Ledger) StageCredit(user common.Address, amount uint64) (*Credit, error) {
	id, err := l.identities.Of(user)
	if err != nil {
		return nil, err
	}
	e := l.lookup(id.Handle, user, true)
	e.mu.Lock()

	acl := fhe.NewACL(user, l.address)
	credit, err := l.store.EncryptUint64(amount, acl)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	next := credit
	if !e.endorsement.IsZero() {
		if next, err = l.checkedAdd(e.endorsement, credit, acl); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	}
	return &Credit{e: e, next: next}, nil
}

// Claim moves the caller's whole endorsement into their confidential
// token balance and resets the endorsement to an encryption of zero.
// Claiming with nothing accrued is a no-op.
func (l *Ledger) Claim(user common.Address) (err error) {
	defer func() { l.metrics.Observe("claim", err) }()

	id, ok := l.identities.Lookup(user)
	if !ok {
		return nil
	}
	e := l.lookup(id.Handle, user, false)
	if e == nil {
		return nil
	}
	claimed, err := l.claim(e, user)
	if err != nil || claimed.IsZero() {
		return err
	}

	l.log.Debug("claim", "identity", id.Handle)
	l.events.Emit(event.Event{
		Kind:     event.Claimed,
		Contract: l.address,
		Subject:  id.Handle,
		Amount:   claimed.Handle,
	})
	return nil
}

// claim moves e's endorsement into its balance and returns the claimed
// ciphertext, or a zero value when nothing had accrued.
func (l *Ledger) claim(e *entry, user common.Address) (fhe.EncryptedAmount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.endorsement.IsZero() {
		return fhe.EncryptedAmount{}, nil
	}
	acl := fhe.NewACL(user, l.address)
	balance := e.endorsement
	if !e.balance.IsZero() {
		var err error
		if balance, err = l.checkedAdd(e.balance, e.endorsement, acl); err != nil {
			return fhe.EncryptedAmount{}, err
		}
	}
	zero, err := l.store.Zero(acl)
	if err != nil {
		return fhe.EncryptedAmount{}, err
	}
	claimed := e.endorsement
	e.balance = balance
	e.endorsement = zero
	return claimed, nil
}

// GetEndorsements returns the endorsement entry of an identity handle.
// An identity that was never credited has no entry and ok is false.
func (l *Ledger) GetEndorsements(userHandle fhe.Handle) (fhe.EncryptedAmount, bool) {
	e := l.lookup(userHandle, common.Address{}, false)
	if e == nil {
		return fhe.EncryptedAmount{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.endorsement, !e.endorsement.IsZero()
}

// BalanceOf returns the confidential token balance of an identity handle.
func (l *Ledger) BalanceOf(userHandle fhe.Handle) (fhe.EncryptedAmount, bool) {
	e := l.lookup(userHandle, common.Address{}, false)
	if e == nil {
		return fhe.EncryptedAmount{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, !e.balance.IsZero()
}

func (l *Ledger) checkedAdd(a, b fhe.EncryptedAmount, acl fhe.ACL) (fhe.EncryptedAmount, error) {
	sum, ok, err := l.store.AddChecked(a, b, acl)
	if err != nil {
		return fhe.EncryptedAmount{}, err
	}
	if err := l.store.Require(ok); err != nil {
		if errors.Is(err, fhe.ErrConditionFalse) {
			return fhe.EncryptedAmount{}, ErrBalanceOverflow
		}
		return fhe.EncryptedAmount{}, err
	}
	return sum, nil
}
