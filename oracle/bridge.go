// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/conflend/fhe"
	"github.com/luxfi/conflend/metrics"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/zeebo/blake3"
)

var ticketPrefix = []byte("oracle/ticket/")

// Bridge tracks reveal tickets and dispatches oracle callbacks.
type Bridge struct {
	db      database.Database
	store   *fhe.Store
	metrics *metrics.Metrics
	log     log.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	tickets  map[Ticket]*record
	queue    []Job
	pending  int
	changed  chan struct{}
	closed   bool
}

// NewBridge opens the bridge persisted in db. Tickets that were scheduled
// and never answered are queued again for delivery.
func NewBridge(db database.Database, store *fhe.Store, m *metrics.Metrics, logger log.Logger) (*Bridge, error) {
	b := &Bridge{
		db:       db,
		store:    store,
		metrics:  m,
		log:      logger,
		handlers: make(map[string]Handler),
		tickets:  make(map[Ticket]*record),
		changed:  make(chan struct{}),
	}

	it := db.NewIteratorWithPrefix(ticketPrefix)
	defer it.Release()
	for it.Next() {
		rec := new(record)
		if err := json.Unmarshal(it.Value(), rec); err != nil {
			return nil, fmt.Errorf("decode ticket %x: %w", it.Key(), err)
		}
		ticket := common.BytesToHash(it.Key()[len(ticketPrefix):])
		b.tickets[ticket] = rec
		b.enqueue(ticket, rec)
		b.pending++
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("scan tickets: %w", err)
	}
	if b.pending > 0 {
		logger.Info("restored outstanding reveal tickets", "count", b.pending)
	}
	m.SetPending(b.pending)
	return b, nil
}

// Handle registers fn as the continuation for tasks of kind.
func (b *Bridge) Handle(kind string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = fn
}

// RequestReveal schedules decryption of handles on behalf of requester,
// which must be in every handle's ACL. Requesting the same task for the
// same handles again returns the outstanding ticket without scheduling a
// second reveal.
func (b *Bridge) RequestReveal(requester common.Address, handles []fhe.Handle, task Task) (Ticket, error) {
	if len(handles) == 0 {
		return Ticket{}, ErrNoHandles
	}
	for _, h := range handles {
		if !b.store.IsAllowed(h, requester) {
			return Ticket{}, fmt.Errorf("%w: %s cannot reveal %s", ErrUnauthorized, requester, h)
		}
	}
	ticket := ticketID(requester, task, handles)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Ticket{}, ErrBridgeClosed
	}
	if _, ok := b.handlers[task.Kind]; !ok {
		return Ticket{}, fmt.Errorf("%w: %q", ErrUnknownKind, task.Kind)
	}
	if rec, ok := b.tickets[ticket]; ok {
		if rec.consumed {
			return ticket, ErrTicketConsumed
		}
		return ticket, nil
	}

	rec := &record{
		Requester: requester,
		Task:      task,
		Handles:   append([]fhe.Handle(nil), handles...),
		Requested: time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return Ticket{}, err
	}
	if err := b.db.Put(ticketKey(ticket), data); err != nil {
		return Ticket{}, fmt.Errorf("persist ticket: %w", err)
	}
	b.tickets[ticket] = rec
	b.enqueue(ticket, rec)
	b.pending++
	b.metrics.SetPending(b.pending)
	b.signal()

	b.log.Debug("reveal requested", "ticket", ticket, "kind", task.Kind, "key", task.Key)
	return ticket, nil
}

// OnRevealed delivers plaintexts for ticket. Deliveries for unknown or
// already consumed tickets, and deliveries with the wrong number of
// plaintexts, are ignored. The ticket is consumed before its continuation
// runs, so the continuation runs at most once; its error is only logged.
func (b *Bridge) OnRevealed(ticket Ticket, plaintexts []*uint256.Int) {
	b.mu.Lock()
	rec, ok := b.tickets[ticket]
	switch {
	case !ok:
		b.mu.Unlock()
		b.metrics.Delivery(metrics.DeliveryUnknown)
		b.log.Debug("ignoring delivery for unknown ticket", "ticket", ticket)
		return
	case rec.consumed:
		b.mu.Unlock()
		b.metrics.Delivery(metrics.DeliveryDuplicate)
		b.log.Debug("ignoring duplicate delivery", "ticket", ticket)
		return
	case len(plaintexts) != len(rec.Handles):
		b.mu.Unlock()
		b.metrics.Delivery(metrics.DeliveryMalformed)
		b.log.Warn("ignoring malformed delivery",
			"ticket", ticket,
			"want", len(rec.Handles),
			"got", len(plaintexts),
		)
		return
	}
	rec.consumed = true
	handler := b.handlers[rec.Task.Kind]
	if err := b.db.Delete(ticketKey(ticket)); err != nil {
		b.log.Error("failed to delete consumed ticket", "ticket", ticket, "err", err)
	}
	b.mu.Unlock()

	err := ErrUnknownKind
	if handler != nil {
		err = handler(rec.Task, plaintexts)
	}

	if err != nil {
		b.metrics.Delivery(metrics.DeliveryFailed)
		b.log.Warn("reveal continuation failed",
			"ticket", ticket,
			"kind", rec.Task.Kind,
			"key", rec.Task.Key,
			"err", err,
		)
	} else {
		b.metrics.Delivery(metrics.DeliverySettled)
		b.metrics.Settled(rec.Requested)
	}

	b.mu.Lock()
	b.pending--
	b.metrics.SetPending(b.pending)
	b.signal()
	b.mu.Unlock()
}

// Pending returns the number of tickets whose continuation has not
// finished.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Next blocks until a job is queued or ctx is done.
func (b *Bridge) Next(ctx context.Context) (Job, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			job := b.queue[0]
			b.queue = b.queue[1:]
			if rec, ok := b.tickets[job.Ticket]; ok {
				rec.queued = false
			}
			b.mu.Unlock()
			return job, nil
		}
		if b.closed {
			b.mu.Unlock()
			return Job{}, ErrBridgeClosed
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-changed:
		}
	}
}

// Requeue hands an outstanding ticket to the relayer again, for jobs taken
// by Next that could not be delivered. Requeueing a ticket that is already
// queued does nothing.
func (b *Bridge) Requeue(ticket Ticket) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.tickets[ticket]
	switch {
	case !ok:
		return ErrUnknownTicket
	case rec.consumed:
		return ErrTicketConsumed
	case rec.queued:
		return nil
	}
	b.enqueue(ticket, rec)
	b.signal()
	return nil
}

// Drain blocks until every ticket has been consumed and its continuation
// has returned, or ctx is done.
func (b *Bridge) Drain(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.pending == 0 {
			b.mu.Unlock()
			return nil
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Close stops handing out jobs. Outstanding tickets stay persisted.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.signal()
}

// enqueue appends the job for ticket. Caller holds b.mu.
func (b *Bridge) enqueue(ticket Ticket, rec *record) {
	rec.queued = true
	b.queue = append(b.queue, Job{Ticket: ticket, Handles: rec.Handles})
}

// signal wakes every waiter. Caller holds b.mu.
func (b *Bridge) signal() {
	close(b.changed)
	b.changed = make(chan struct{})
}

func ticketID(requester common.Address, task Task, handles []fhe.Handle) Ticket {
	h := blake3.New()
	h.Write(requester.Bytes())
	h.Write([]byte(task.Kind))
	h.Write(task.Key.Bytes())
	h.Write(binary.BigEndian.AppendUint64(nil, task.Nonce))
	for _, handle := range handles {
		h.Write(handle.Bytes())
	}
	var t Ticket
	h.Digest().Read(t[:])
	return t
}

func ticketKey(t Ticket) []byte {
	key := make([]byte, 0, len(ticketPrefix)+len(t))
	key = append(key, ticketPrefix...)
	return append(key, t.Bytes()...)
}
