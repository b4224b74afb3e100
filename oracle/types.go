// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oracle bridges contract code to the asynchronous decryption
// oracle. Callers schedule a reveal of ciphertext handles and receive a
// ticket; the oracle later delivers plaintexts for the ticket and the
// bridge runs the registered continuation exactly once.
package oracle

import (
	"errors"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/conflend/fhe"
	"github.com/luxfi/geth/common"
)

var (
	ErrUnauthorized   = fhe.ErrUnauthorized
	ErrNoHandles      = errors.New("no handles to reveal")
	ErrUnknownKind    = errors.New("no handler for task kind")
	ErrTicketConsumed = errors.New("ticket already consumed")
	ErrUnknownTicket  = errors.New("unknown ticket")
	ErrBridgeClosed   = errors.New("bridge closed")
)

// Ticket identifies one scheduled reveal.
type Ticket = common.Hash

// Task is the continuation message carried with a reveal. Kind selects the
// handler, Key identifies the subject within it and Nonce separates
// retries of the same subject.
type Task struct {
	Kind  string      `json:"kind"`
	Key   common.Hash `json:"key"`
	Nonce uint64      `json:"nonce"`
}

// Handler runs when plaintexts for a task arrive. plaintexts are in the
// order the handles were requested.
type Handler func(task Task, plaintexts []*uint256.Int) error

// Job is a reveal the relayer must decrypt and deliver.
type Job struct {
	Ticket  Ticket
	Handles []fhe.Handle
}

// record is the persisted form of an outstanding ticket.
type record struct {
	Requester common.Address `json:"requester"`
	Task      Task           `json:"task"`
	Handles   []fhe.Handle   `json:"handles"`
	Requested time.Time      `json:"requested"`

	consumed bool
	queued   bool
}
