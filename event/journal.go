// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package event

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/luxfi/database"
)

var journalPrefix = []byte("event/")

// Journal is an append-only event log kept in a database.
type Journal struct {
	db database.Database

	mu  sync.Mutex
	len uint64
}

// NewJournal opens the journal stored in db.
func NewJournal(db database.Database) (*Journal, error) {
	j := &Journal{db: db}

	it := db.NewIteratorWithPrefix(journalPrefix)
	defer it.Release()
	for it.Next() {
		j.len++
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return j, nil
}

// Append stores ev under its sequence number.
func (j *Journal) Append(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.db.Put(journalKey(ev.Seq), data); err != nil {
		return err
	}
	if ev.Seq > j.len {
		j.len = ev.Seq
	}
	return nil
}

// Len returns the highest stored sequence number.
func (j *Journal) Len() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.len
}

// Replay calls fn for every stored event in sequence order.
func (j *Journal) Replay(fn func(Event) error) error {
	it := j.db.NewIteratorWithPrefix(journalPrefix)
	defer it.Release()

	for it.Next() {
		var ev Event
		if err := json.Unmarshal(it.Value(), &ev); err != nil {
			return fmt.Errorf("decode event %x: %w", it.Key(), err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return it.Error()
}

func journalKey(seq uint64) []byte {
	key := make([]byte, len(journalPrefix)+8)
	copy(key, journalPrefix)
	binary.BigEndian.PutUint64(key[len(journalPrefix):], seq)
	return key
}
