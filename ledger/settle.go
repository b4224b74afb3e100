// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/conflend/fhe"
	"github.com/luxfi/geth/common"
)

// Debit is a staged Supply debit. The entry stays locked until Commit or
// Abort; exactly one of them must be called.
type Debit struct {
	acct *account
	next fhe.EncryptedAmount
	done bool
}

// Commit applies the debit and releases the entry.
func (d *Debit) Commit() {
	if d.done {
		return
	}
	d.done = true
	d.acct.supply = d.next
	d.acct.mu.Unlock()
}

// Abort releases the entry unchanged.
func (d *Debit) Abort() {
	if d.done {
		return
	}
	d.done = true
	d.acct.mu.Unlock()
}

// StageSupplyDebit checks the user's Supply for asset covers amount as of
// now and stages the debit.
func (l *Ledger) StageSupplyDebit(user, asset common.Address, amount uint64) (*Debit, error) {
	id, ok := l.identities.Lookup(user)
	if !ok {
		return nil, ErrInsufficientBalance
	}
	acct := l.lookup(id.Handle, user, asset, false)
	if acct == nil {
		return nil, ErrInsufficientBalance
	}
	acct.mu.Lock()

	if acct.supply.IsZero() {
		acct.mu.Unlock()
		return nil, ErrInsufficientBalance
	}
	acl := l.ownerACL(user)
	debit, err := l.store.EncryptUint64(amount, acl)
	if err != nil {
		acct.mu.Unlock()
		return nil, err
	}
	next, err := l.checkedSub(acct.supply, debit, acl)
	if err != nil {
		acct.mu.Unlock()
		return nil, err
	}
	return &Debit{acct: acct, next: next}, nil
}

// SupplyToPool moves amount of asset from custody into pool, credited to
// the ledger's own position.
func (l *Ledger) SupplyToPool(pool Pool, asset common.Address, amount uint64) (err error) {
	defer func() { l.metrics.Observe("pool_supply", err) }()

	value := uint256.NewInt(amount)
	if err := l.tokens.Approve(asset, l.address, pool.Address(), value); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := pool.SupplyOnBehalf(asset, value, l.address, l.address); err != nil {
		if rerr := l.tokens.Approve(asset, l.address, pool.Address(), new(uint256.Int)); rerr != nil {
			l.log.Warn("failed to reset pool allowance", "asset", asset, "err", rerr)
		}
		return err
	}
	return nil
}
