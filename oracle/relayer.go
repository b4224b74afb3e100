// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/conflend/fhe"
	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers    = 4
	defaultRetryDelay = time.Second
)

// Relayer plays the decryption oracle: it takes jobs from the bridge,
// decrypts the handles and delivers the plaintexts back.
type Relayer struct {
	bridge  *Bridge
	store   *fhe.Store
	log     log.Logger
	workers int
	retry   time.Duration

	// Extra copies of every delivery, for at-least-once transports.
	duplicates int
}

// RelayerOption configures a Relayer.
type RelayerOption func(*Relayer)

// WithWorkers sets the number of concurrent delivery workers.
func WithWorkers(n int) RelayerOption {
	return func(r *Relayer) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithDuplicates makes every delivery repeat n extra times.
func WithDuplicates(n int) RelayerOption {
	return func(r *Relayer) {
		if n >= 0 {
			r.duplicates = n
		}
	}
}

// WithRetryDelay sets how long a job that failed to decrypt waits before
// it is queued again.
func WithRetryDelay(d time.Duration) RelayerOption {
	return func(r *Relayer) {
		if d > 0 {
			r.retry = d
		}
	}
}

// NewRelayer creates a relayer for bridge.
func NewRelayer(bridge *Bridge, store *fhe.Store, logger log.Logger, opts ...RelayerOption) *Relayer {
	r := &Relayer{
		bridge:  bridge,
		store:   store,
		log:     logger,
		workers: defaultWorkers,
		retry:   defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run delivers jobs until ctx is done or the bridge is closed.
func (r *Relayer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			return r.work(ctx)
		})
	}
	return g.Wait()
}

// Drain waits until the bridge has no outstanding tickets.
func (r *Relayer) Drain(ctx context.Context) error {
	return r.bridge.Drain(ctx)
}

func (r *Relayer) work(ctx context.Context) error {
	for {
		job, err := r.bridge.Next(ctx)
		switch {
		case errors.Is(err, ErrBridgeClosed), ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}
		if err := r.Deliver(job); err != nil {
			r.log.Warn("reveal delivery failed, retrying", "ticket", job.Ticket, "in", r.retry, "err", err)
			time.AfterFunc(r.retry, func() { r.requeue(job.Ticket) })
		}
	}
}

func (r *Relayer) requeue(ticket Ticket) {
	err := r.bridge.Requeue(ticket)
	if err != nil && !errors.Is(err, ErrTicketConsumed) {
		r.log.Error("failed to requeue reveal", "ticket", ticket, "err", err)
	}
}

// Deliver decrypts one job and hands the plaintexts to the bridge. Nothing
// is delivered when any handle fails to decrypt.
func (r *Relayer) Deliver(job Job) error {
	plaintexts := make([]*uint256.Int, len(job.Handles))
	for i, h := range job.Handles {
		v, _, err := r.store.Decrypt(h)
		if err != nil {
			return fmt.Errorf("decrypt %s: %w", h, err)
		}
		plaintexts[i] = v
	}
	for i := 0; i <= r.duplicates; i++ {
		r.bridge.OnRevealed(job.Ticket, plaintexts)
	}
	return nil
}
