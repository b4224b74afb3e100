// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package event carries the externally observable ledger events. Events
// never contain plaintext identities or confidential amounts, only handles
// an authorized party can resolve through the re-encryption gateway.
package event

import (
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
)

// Kind names an event.
type Kind string

const (
	Deposited        Kind = "Deposited"
	Withdrawn        Kind = "Withdrawn"
	Supplied         Kind = "Supplied"
	SupplyRequested  Kind = "SupplyRequested"
	RequestProcessed Kind = "RequestProcessed"
	SettlementFailed Kind = "SettlementFailed"
	Claimed          Kind = "Claimed"
)

// Event is one emitted record.
//
// Subject is the encrypted identity handle for balance events and the
// request id for request events. Amount is a ciphertext handle.
type Event struct {
	Seq      uint64         `json:"seq"`
	Kind     Kind           `json:"kind"`
	Contract common.Address `json:"contract"`
	Subject  common.Hash    `json:"subject"`
	Asset    common.Address `json:"asset,omitempty"`
	Amount   common.Hash    `json:"amount,omitempty"`
}

// Sink receives emitted events.
type Sink interface {
	Emit(Event)
}

// Emitter numbers events, journals them and fans them out to subscribers.
type Emitter struct {
	journal *Journal
	log     log.Logger

	mu     sync.Mutex
	seq    uint64
	nextID int
	subs   map[int]func(Event)
}

// NewEmitter creates an emitter. journal may be nil.
func NewEmitter(journal *Journal, logger log.Logger) *Emitter {
	e := &Emitter{
		journal: journal,
		log:     logger,
		subs:    make(map[int]func(Event)),
	}
	if journal != nil {
		e.seq = journal.Len()
	}
	return e
}

// Emit records ev. Journal failures are logged; events are observational
// and never undo a committed operation.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	e.seq++
	ev.Seq = e.seq
	if e.journal != nil {
		if err := e.journal.Append(ev); err != nil {
			e.log.Error("failed to journal event", "kind", ev.Kind, "seq", ev.Seq, "err", err)
		}
	}
	subs := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// Subscribe registers fn for every future event and returns a cancel func.
func (e *Emitter) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}
