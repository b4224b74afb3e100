// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/conflend/fhe"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

var (
	requester = common.HexToAddress("0x0a00000000000000000000000000000000000001")
	stranger  = common.HexToAddress("0x0a00000000000000000000000000000000000002")
)

const testKind = "test/reveal"

func newTestStore(t *testing.T) *fhe.Store {
	t.Helper()
	backend, err := fhe.NewRandomCoprocessorBackend()
	require.NoError(t, err)
	store, err := fhe.NewStore(backend)
	require.NoError(t, err)
	return store
}

func newTestBridge(t *testing.T, store *fhe.Store) *Bridge {
	t.Helper()
	b, err := NewBridge(memdb.New(), store, nil, log.NewTestLogger(log.InfoLevel))
	require.NoError(t, err)
	return b
}

// recorder counts continuation runs and keeps the last plaintexts.
type recorder struct {
	mu    sync.Mutex
	calls int
	last  []*uint256.Int
	err   error
}

func (r *recorder) handle(_ Task, plaintexts []*uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.last = plaintexts
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func encrypt(t *testing.T, store *fhe.Store, v uint64) fhe.Handle {
	t.Helper()
	ct, err := store.EncryptUint64(v, fhe.NewACL(requester))
	require.NoError(t, err)
	return ct.Handle
}

func TestRequestRevealIdempotent(t *testing.T) {
	store := newTestStore(t)
	b := newTestBridge(t, store)
	rec := &recorder{}
	b.Handle(testKind, rec.handle)

	h := encrypt(t, store, 7)
	task := Task{Kind: testKind, Key: common.HexToHash("0x01")}

	first, err := b.RequestReveal(requester, []fhe.Handle{h}, task)
	require.NoError(t, err)
	second, err := b.RequestReveal(requester, []fhe.Handle{h}, task)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, b.Pending())

	task.Nonce++
	third, err := b.RequestReveal(requester, []fhe.Handle{h}, task)
	require.NoError(t, err)
	require.NotEqual(t, first, third)
	require.Equal(t, 2, b.Pending())
}

func TestRequestRevealErrors(t *testing.T) {
	store := newTestStore(t)
	b := newTestBridge(t, store)
	b.Handle(testKind, (&recorder{}).handle)
	h := encrypt(t, store, 1)

	tests := []struct {
		name      string
		requester common.Address
		handles   []fhe.Handle
		kind      string
		wantErr   error
	}{
		{
			name:      "not in acl",
			requester: stranger,
			handles:   []fhe.Handle{h},
			kind:      testKind,
			wantErr:   ErrUnauthorized,
		},
		{
			name:      "unknown handle",
			requester: requester,
			handles:   []fhe.Handle{common.HexToHash("0xdead")},
			kind:      testKind,
			wantErr:   ErrUnauthorized,
		},
		{
			name:      "no handles",
			requester: requester,
			kind:      testKind,
			wantErr:   ErrNoHandles,
		},
		{
			name:      "unregistered kind",
			requester: requester,
			handles:   []fhe.Handle{h},
			kind:      "other",
			wantErr:   ErrUnknownKind,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.RequestReveal(tt.requester, tt.handles, Task{Kind: tt.kind})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
	require.Zero(t, b.Pending())
}

func TestOnRevealedRunsOnce(t *testing.T) {
	store := newTestStore(t)
	b := newTestBridge(t, store)
	rec := &recorder{}
	b.Handle(testKind, rec.handle)

	h := encrypt(t, store, 42)
	ticket, err := b.RequestReveal(requester, []fhe.Handle{h}, Task{Kind: testKind})
	require.NoError(t, err)

	b.OnRevealed(ticket, []*uint256.Int{uint256.NewInt(42)})
	b.OnRevealed(ticket, []*uint256.Int{uint256.NewInt(42)})

	require.Equal(t, 1, rec.count())
	require.Equal(t, uint64(42), rec.last[0].Uint64())
	require.Zero(t, b.Pending())

	_, err = b.RequestReveal(requester, []fhe.Handle{h}, Task{Kind: testKind})
	require.ErrorIs(t, err, ErrTicketConsumed)
}

func TestOnRevealedIgnoresBadDeliveries(t *testing.T) {
	store := newTestStore(t)
	b := newTestBridge(t, store)
	rec := &recorder{}
	b.Handle(testKind, rec.handle)

	b.OnRevealed(common.HexToHash("0xbeef"), []*uint256.Int{uint256.NewInt(1)})
	require.Zero(t, rec.count())

	h := encrypt(t, store, 3)
	ticket, err := b.RequestReveal(requester, []fhe.Handle{h}, Task{Kind: testKind})
	require.NoError(t, err)

	b.OnRevealed(ticket, nil)
	require.Zero(t, rec.count())
	require.Equal(t, 1, b.Pending())

	b.OnRevealed(ticket, []*uint256.Int{uint256.NewInt(3)})
	require.Equal(t, 1, rec.count())
}

func TestOnRevealedSwallowsHandlerError(t *testing.T) {
	store := newTestStore(t)
	b := newTestBridge(t, store)
	rec := &recorder{err: errors.New("boom")}
	b.Handle(testKind, rec.handle)

	h := encrypt(t, store, 3)
	ticket, err := b.RequestReveal(requester, []fhe.Handle{h}, Task{Kind: testKind})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		b.OnRevealed(ticket, []*uint256.Int{uint256.NewInt(3)})
	})
	b.OnRevealed(ticket, []*uint256.Int{uint256.NewInt(3)})
	require.Equal(t, 1, rec.count())
	require.Zero(t, b.Pending())
}

func TestBridgeRestoresTickets(t *testing.T) {
	store := newTestStore(t)
	db := memdb.New()
	logger := log.NewTestLogger(log.InfoLevel)

	b, err := NewBridge(db, store, nil, logger)
	require.NoError(t, err)
	b.Handle(testKind, (&recorder{}).handle)

	h1 := encrypt(t, store, 1)
	h2 := encrypt(t, store, 2)
	done, err := b.RequestReveal(requester, []fhe.Handle{h1}, Task{Kind: testKind, Key: common.HexToHash("0x01")})
	require.NoError(t, err)
	open, err := b.RequestReveal(requester, []fhe.Handle{h2}, Task{Kind: testKind, Key: common.HexToHash("0x02")})
	require.NoError(t, err)
	b.OnRevealed(done, []*uint256.Int{uint256.NewInt(1)})

	restarted, err := NewBridge(db, store, nil, logger)
	require.NoError(t, err)
	require.Equal(t, 1, restarted.Pending())

	rec := &recorder{}
	restarted.Handle(testKind, rec.handle)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := restarted.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, open, job.Ticket)
	require.Equal(t, []fhe.Handle{h2}, job.Handles)

	restarted.OnRevealed(done, []*uint256.Int{uint256.NewInt(1)})
	require.Zero(t, rec.count())
	restarted.OnRevealed(open, []*uint256.Int{uint256.NewInt(2)})
	require.Equal(t, 1, rec.count())
}

func TestRelayerDeliversWithDuplicates(t *testing.T) {
	store := newTestStore(t)
	b := newTestBridge(t, store)

	var calls atomic.Int64
	var sum atomic.Uint64
	b.Handle(testKind, func(_ Task, pts []*uint256.Int) error {
		calls.Add(1)
		sum.Add(pts[0].Uint64())
		return nil
	})

	r := NewRelayer(b, store, log.NewTestLogger(log.InfoLevel), WithWorkers(3), WithDuplicates(2))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	const n = 20
	var want uint64
	for i := uint64(1); i <= n; i++ {
		h := encrypt(t, store, i)
		_, err := b.RequestReveal(requester, []fhe.Handle{h}, Task{Kind: testKind, Key: common.BigToHash(uint256.NewInt(i).ToBig())})
		require.NoError(t, err)
		want += i
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	require.NoError(t, r.Drain(drainCtx))
	require.Equal(t, int64(n), calls.Load())
	require.Equal(t, want, sum.Load())

	cancel()
	require.NoError(t, <-errc)
}

func TestRelayerStopsOnClose(t *testing.T) {
	store := newTestStore(t)
	b := newTestBridge(t, store)
	r := NewRelayer(b, store, log.NewTestLogger(log.InfoLevel))

	errc := make(chan error, 1)
	go func() { errc <- r.Run(context.Background()) }()
	b.Close()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relayer did not stop")
	}
}

func TestRequeue(t *testing.T) {
	store := newTestStore(t)
	b := newTestBridge(t, store)
	rec := &recorder{}
	b.Handle(testKind, rec.handle)

	h := encrypt(t, store, 3)
	ticket, err := b.RequestReveal(requester, []fhe.Handle{h}, Task{Kind: testKind})
	require.NoError(t, err)

	require.ErrorIs(t, b.Requeue(common.Hash{1}), ErrUnknownTicket)
	require.NoError(t, b.Requeue(ticket), "already queued")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := b.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, ticket, job.Ticket)

	require.NoError(t, b.Requeue(ticket))
	require.NoError(t, b.Requeue(ticket))
	job, err = b.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, ticket, job.Ticket)

	// only one copy was queued
	short, shortCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer shortCancel()
	_, err = b.Next(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	b.OnRevealed(ticket, []*uint256.Int{uint256.NewInt(3)})
	require.Equal(t, 1, rec.count())
	require.ErrorIs(t, b.Requeue(ticket), ErrTicketConsumed)
}

func TestRelayerRetriesFailedDecrypt(t *testing.T) {
	store := newTestStore(t)
	b := newTestBridge(t, store)
	rec := &recorder{}
	b.Handle(testKind, rec.handle)
	logger := log.NewTestLogger(log.InfoLevel)

	h := encrypt(t, store, 11)
	_, err := b.RequestReveal(requester, []fhe.Handle{h}, Task{Kind: testKind})
	require.NoError(t, err)

	// A relayer that cannot decrypt the handle leaves the ticket pending.
	blind := NewRelayer(b, newTestStore(t), logger, WithWorkers(1), WithRetryDelay(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- blind.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-errc)
	require.Equal(t, 1, b.Pending())
	require.Zero(t, rec.count())

	r := NewRelayer(b, store, logger, WithRetryDelay(5*time.Millisecond))
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	go func() { errc <- r.Run(ctx) }()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	require.NoError(t, r.Drain(drainCtx))
	require.Equal(t, 1, rec.count())
	require.Equal(t, uint64(11), rec.last[0].Uint64())
}
