// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package app assembles a confidential lending deployment from a
// config.Config.
package app

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/conflend/config"
	"github.com/luxfi/conflend/endorse"
	"github.com/luxfi/conflend/event"
	"github.com/luxfi/conflend/fhe"
	"github.com/luxfi/conflend/gateway"
	"github.com/luxfi/conflend/identity"
	"github.com/luxfi/conflend/ledger"
	"github.com/luxfi/conflend/lending"
	"github.com/luxfi/conflend/metrics"
	"github.com/luxfi/conflend/modules"
	"github.com/luxfi/conflend/oracle"
	"github.com/luxfi/conflend/pool"
	"github.com/luxfi/conflend/token"
	"github.com/luxfi/database"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Component keys in the address registry.
const (
	KeyLedger  = "ledger"
	KeyEndorse = "endorse"
	KeyLending = "lending"
	KeyPool    = "pool"
)

// App is a running deployment.
type App struct {
	Config     config.Config
	Registry   *modules.Registry
	Store      *fhe.Store
	Identities *identity.Directory
	Tokens     *token.Bank
	Pool       *pool.Pool
	Ledger     *ledger.Ledger
	Endorse    *endorse.Ledger
	Lending    *lending.Lending
	Bridge     *oracle.Bridge
	Relayer    *oracle.Relayer
	Gateway    *gateway.Gateway
	Events     *event.Emitter
	Journal    *event.Journal
	Metrics    *metrics.Metrics
}

// New builds every component. db holds the oracle tickets and the event
// journal. reg may be nil when cfg.Metrics is disabled.
func New(cfg config.Config, db database.Database, reg prometheus.Registerer, logger log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ledgerAddr, endorseAddr, lendingAddr, poolAddr := cfg.Addresses()

	registry := modules.NewRegistry()
	for _, c := range []modules.Component{
		{Key: KeyLedger, Address: ledgerAddr},
		{Key: KeyEndorse, Address: endorseAddr},
		{Key: KeyLending, Address: lendingAddr},
		{Key: KeyPool, Address: poolAddr},
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.Key, err)
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled && reg != nil {
		var err error
		if m, err = metrics.New(reg); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	store, err := fhe.NewStore(backend)
	if err != nil {
		return nil, err
	}

	journal, err := event.NewJournal(db)
	if err != nil {
		return nil, err
	}
	events := event.NewEmitter(journal, logger)

	tokens := token.NewBank()
	lendingPool := pool.New(poolAddr, tokens)
	for _, a := range cfg.Assets {
		var supplyCap *uint256.Int
		if a.SupplyCap > 0 {
			supplyCap = uint256.NewInt(a.SupplyCap)
		}
		if err := lendingPool.InitializeReserve(a.Addr(), supplyCap); err != nil {
			return nil, fmt.Errorf("asset %s: %w", a.Address, err)
		}
	}

	ids := identity.NewDirectory(store, ledgerAddr, endorseAddr, lendingAddr)
	balances := ledger.New(ledgerAddr, store, ids, tokens, events, m, logger)
	rewards := endorse.New(endorseAddr, store, ids, events, m, logger)

	bridge, err := oracle.NewBridge(db, store, m, logger)
	if err != nil {
		return nil, err
	}
	registryContract, err := lending.New(lending.Config{
		Address: lendingAddr,
		Store:   store,
		Ledger:  balances,
		Endorse: rewards,
		Pool:    lendingPool,
		Bridge:  bridge,
		Events:  events,
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:     cfg,
		Registry:   registry,
		Store:      store,
		Identities: ids,
		Tokens:     tokens,
		Pool:       lendingPool,
		Ledger:     balances,
		Endorse:    rewards,
		Lending:    registryContract,
		Bridge:     bridge,
		Gateway:    gateway.New(store, m, logger),
		Events:     events,
		Journal:    journal,
		Metrics:    m,
	}
	if cfg.Oracle.Relayer {
		a.Relayer = oracle.NewRelayer(bridge, store, logger,
			oracle.WithWorkers(cfg.Oracle.Workers),
			oracle.WithDuplicates(cfg.Oracle.Duplicates),
		)
	}
	logger.Info("confidential lending deployment ready",
		"backend", backend.Name(),
		"ledger", ledgerAddr,
		"lending", lendingAddr,
		"pool", poolAddr,
		"assets", len(cfg.Assets),
	)
	return a, nil
}

// Run serves oracle deliveries until ctx is done. Without a relayer it
// only waits for ctx.
func (a *App) Run(ctx context.Context) error {
	if a.Relayer == nil {
		<-ctx.Done()
		return nil
	}
	return a.Relayer.Run(ctx)
}

// Close stops the bridge from handing out further jobs.
func (a *App) Close() {
	a.Bridge.Close()
}

func newBackend(cfg config.Config) (fhe.Backend, error) {
	switch cfg.FHE.Backend {
	case config.BackendTFHE:
		return fhe.NewTFHEBackend()
	default:
		key, err := cfg.CoprocessorKey()
		if err != nil {
			return nil, err
		}
		if key == nil {
			return fhe.NewRandomCoprocessorBackend()
		}
		return fhe.NewCoprocessorBackend(key)
	}
}
