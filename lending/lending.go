// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package lending registers confidential supply requests and settles them
// into the external lending pool once the oracle reveals their amounts.
//
// A request moves Pending -> Settling -> Processed. Settling is entered by
// ProcessRequest and left when the oracle answers: on success the user's
// Supply is debited, an equal endorsement is credited and the tokens are
// supplied to the pool; on failure nothing changes and the request is
// Pending again.
package lending

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/conflend/endorse"
	"github.com/luxfi/conflend/event"
	"github.com/luxfi/conflend/fhe"
	"github.com/luxfi/conflend/ledger"
	"github.com/luxfi/conflend/metrics"
	"github.com/luxfi/conflend/oracle"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
)

type request struct {
	Request
	attempt uint64
}

// Lending is the request registry.
type Lending struct {
	address common.Address
	store   *fhe.Store
	ledger  *ledger.Ledger
	endorse *endorse.Ledger
	pool    ledger.Pool
	bridge  *oracle.Bridge
	events  event.Sink
	metrics *metrics.Metrics
	log     log.Logger

	mu       sync.Mutex
	counter  fhe.EncryptedAmount
	requests map[fhe.Handle]*request
}

// Config holds the collaborators of a Lending registry.
type Config struct {
	Address common.Address
	Store   *fhe.Store
	Ledger  *ledger.Ledger
	Endorse *endorse.Ledger
	Pool    ledger.Pool
	Bridge  *oracle.Bridge
	Events  event.Sink
	Metrics *metrics.Metrics
	Logger  log.Logger
}

// New creates the registry and registers its settlement continuation on
// the bridge.
func New(cfg Config) (*Lending, error) {
	counter, err := cfg.Store.Zero(fhe.NewACL(cfg.Address))
	if err != nil {
		return nil, err
	}
	l := &Lending{
		address:  cfg.Address,
		store:    cfg.Store,
		ledger:   cfg.Ledger,
		endorse:  cfg.Endorse,
		pool:     cfg.Pool,
		bridge:   cfg.Bridge,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		counter:  counter,
		requests: make(map[fhe.Handle]*request),
	}
	cfg.Bridge.Handle(settleTask, l.settle)
	return l, nil
}

// Address returns the registry's contract address.
func (l *Lending) Address() common.Address {
	return l.address
}

// RequestSupply registers a request to move an encrypted amount of asset
// from user's Supply into the pool. input and proof must be bound to this
// contract and user. The returned id is an encrypted handle.
func (l *Lending) RequestSupply(user, asset common.Address, input fhe.Handle, proof []byte) (id fhe.Handle, err error) {
	defer func() { l.metrics.Observe("request_supply", err) }()

	amount, err := l.store.VerifyAmount(input, proof, l.address, user)
	if err != nil {
		return fhe.Handle{}, err
	}
	acl := fhe.NewACL(user, l.address)
	encUser, err := l.store.EncryptAddress(user, acl)
	if err != nil {
		return fhe.Handle{}, err
	}
	encAsset, err := l.store.EncryptAddress(asset, acl)
	if err != nil {
		return fhe.Handle{}, err
	}
	one, err := l.store.EncryptUint64(1, acl)
	if err != nil {
		return fhe.Handle{}, err
	}

	l.mu.Lock()
	next, err := l.store.Add(l.counter, one, acl)
	if err != nil {
		l.mu.Unlock()
		return fhe.Handle{}, err
	}
	l.counter = next
	id = next.Handle
	l.requests[id] = &request{Request: Request{
		ID:     id,
		User:   encUser,
		Asset:  encAsset,
		Amount: amount,
		Status: StatusPending,
	}}
	l.mu.Unlock()

	l.log.Debug("supply requested", "id", id)
	l.events.Emit(event.Event{
		Kind:     event.SupplyRequested,
		Contract: l.address,
		Subject:  id,
		Amount:   amount.Handle,
	})
	return id, nil
}

// IsRequestPending reports whether id names a request not yet processed.
func (l *Lending) IsRequestPending(id fhe.Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.requests[id]
	return ok && r.IsPending()
}

// GetRequest returns the request registered under id.
func (l *Lending) GetRequest(id fhe.Handle) (Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return r.Request, nil
}

// ProcessRequest schedules settlement of a pending request and returns
// without waiting for it. The request stays pending until the oracle
// answers.
func (l *Lending) ProcessRequest(id fhe.Handle) (err error) {
	defer func() { l.metrics.Observe("process_request", err) }()

	l.mu.Lock()
	r, ok := l.requests[id]
	if !ok || r.Status == StatusProcessed {
		l.mu.Unlock()
		return ErrRequestNotPending
	}
	if r.Status == StatusSettling {
		l.mu.Unlock()
		return ErrRequestAlreadyProcessing
	}
	r.Status = StatusSettling
	r.attempt++
	task := oracle.Task{Kind: settleTask, Key: id, Nonce: r.attempt}
	handles := []fhe.Handle{r.Amount.Handle, r.Asset.Handle, r.User.Handle}
	l.mu.Unlock()

	ticket, err := l.bridge.RequestReveal(l.address, handles, task)
	if err != nil {
		l.mu.Lock()
		r.Status = StatusPending
		l.mu.Unlock()
		return fmt.Errorf("schedule settlement: %w", err)
	}
	l.log.Debug("settlement scheduled", "id", id, "ticket", ticket, "attempt", task.Nonce)
	return nil
}

// settle is the oracle continuation for settleTask. plaintexts are the
// amount, asset and user of the request.
func (l *Lending) settle(task oracle.Task, plaintexts []*uint256.Int) error {
	l.mu.Lock()
	r, ok := l.requests[task.Key]
	if !ok || r.Status != StatusSettling || r.attempt != task.Nonce {
		l.mu.Unlock()
		return ErrStaleSettlement
	}
	l.mu.Unlock()

	err := l.execute(plaintexts)

	l.mu.Lock()
	if err != nil {
		r.Status = StatusPending
	} else {
		r.Status = StatusProcessed
	}
	l.mu.Unlock()

	if err != nil {
		l.log.Warn("settlement failed", "id", task.Key, "err", err)
		l.events.Emit(event.Event{
			Kind:     event.SettlementFailed,
			Contract: l.address,
			Subject:  task.Key,
		})
		return err
	}
	l.log.Info("request processed", "id", task.Key)
	l.events.Emit(event.Event{
		Kind:     event.RequestProcessed,
		Contract: l.address,
		Subject:  task.Key,
	})
	return nil
}

// execute applies the settlement effects, all or none.
func (l *Lending) execute(plaintexts []*uint256.Int) (err error) {
	defer func() { l.metrics.Observe("settle", err) }()

	if len(plaintexts) != 3 || !plaintexts[0].IsUint64() {
		return ErrMalformedReveal
	}
	amount := plaintexts[0].Uint64()
	asset := common.Address(plaintexts[1].Bytes20())
	user := common.Address(plaintexts[2].Bytes20())

	debit, err := l.ledger.StageSupplyDebit(user, asset, amount)
	if err != nil {
		return fmt.Errorf("debit supply: %w", err)
	}
	credit, err := l.endorse.StageCredit(user, amount)
	if err != nil {
		debit.Abort()
		return fmt.Errorf("credit endorsement: %w", err)
	}
	if amount > 0 {
		if err := l.ledger.SupplyToPool(l.pool, asset, amount); err != nil {
			credit.Abort()
			debit.Abort()
			if !errors.Is(err, ledger.ErrTransferFailed) {
				err = fmt.Errorf("%w: %v", ledger.ErrTransferFailed, err)
			}
			return fmt.Errorf("supply to pool: %w", err)
		}
	}
	debit.Commit()
	credit.Commit()
	return nil
}
