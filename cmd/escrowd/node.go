package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"poolescrow/config"
	"poolescrow/core/events"
	"poolescrow/core/runtime"
	"poolescrow/core/state"
	"poolescrow/native/bank"
	"poolescrow/native/escrow"
	"poolescrow/native/factory"
	"poolescrow/observability/metrics"
	"poolescrow/rpc"
	"poolescrow/storage"
	"poolescrow/storage/journal"
)

// node owns every long-lived component of the daemon.
type node struct {
	db      storage.Database
	state   *state.Manager
	bank    *bank.Bank
	runtime *runtime.Runtime
	engine  *escrow.Engine
	dao     *factory.Factory
	ft      *factory.Factory
	journal *journal.Journal
	stream  *events.Broadcaster
	rpc     *rpc.Server
	logger  *slog.Logger
}

func openDatabase(dataDir string) (storage.Database, error) {
	if dataDir == "" {
		return storage.NewMemDB(), nil
	}
	return storage.NewLevelDB(dataDir)
}

func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.EscrowMetrics) (*node, error) {
	params, err := cfg.EscrowParams()
	if err != nil {
		return nil, err
	}
	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	n := &node{db: db, logger: logger}
	n.state = state.NewManager(db)

	n.stream = events.NewBroadcaster(cfg.RPC.StreamBuffer)
	fanout := events.Fanout{n.stream}
	if cfg.JournalDSN != "" {
		n.journal, err = journal.Open(cfg.JournalDSN)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		n.journal.SetLogger(logger)
		fanout = append(fanout, n.journal)
	}
	n.bank = bank.New(n.state)
	n.runtime = runtime.New(n.state, n.bank)
	n.runtime.SetLogger(logger)
	n.runtime.SetEmitter(fanout)
	n.bank.SetEmitter(n.runtime)

	n.engine = escrow.NewEngine()
	n.engine.SetState(n.state)
	n.engine.SetBank(n.bank)
	n.engine.SetScheduler(n.runtime)
	n.engine.SetEmitter(n.runtime)
	n.engine.SetLogger(logger)
	n.engine.SetMetrics(m)
	n.engine.SetNowFunc(n.runtime.Now)

	n.dao = factory.NewDAOFactory(params.DAOFactory, n.state, n.bank)
	n.ft = factory.NewTokenFactory(params.TokenFactory, n.state, n.bank)
	n.dao.SetLogger(logger)
	n.ft.SetLogger(logger)

	if err := n.bootstrap(ctx, cfg, params); err != nil {
		_ = n.Close()
		return nil, err
	}
	for account, handler := range map[[20]byte]runtime.Handler{
		params.Self:         n.engine,
		params.DAOFactory:   n.dao,
		params.TokenFactory: n.ft,
	} {
		if err := n.runtime.Register(account, handler); err != nil {
			_ = n.Close()
			return nil, err
		}
	}

	var lister rpc.EventLister
	if n.journal != nil {
		lister = n.journal
	}
	n.rpc = rpc.New(rpc.Config{
		Escrow:         rpc.NewLockedReader(n.runtime, n.engine),
		Journal:        lister,
		Stream:         n.stream,
		Invoker:        n.runtime,
		Auth:           rpc.NewAuthenticator(cfg.RPC.JWTSecret, cfg.RPC.JWTIssuer),
		EscrowAccount:  params.Self,
		OriginPatterns: cfg.RPC.AllowedOrigins,
		Logger:         logger,
		RateLimit:      cfg.RPC.RateLimit,
		Burst:          cfg.RPC.Burst,
	})
	return n, nil
}

// bootstrap credits genesis balances and creates the escrow on first start.
// Later starts find the stored record and leave state untouched.
func (n *node) bootstrap(ctx context.Context, cfg *config.Config, params escrow.InitParams) error {
	_, exists, err := n.state.EscrowGet()
	if err != nil {
		return fmt.Errorf("load escrow: %w", err)
	}
	if exists {
		n.logger.InfoContext(ctx, "escrow state found, skipping genesis")
		return nil
	}
	allocs, err := cfg.Allocations()
	if err != nil {
		return err
	}
	for _, alloc := range allocs {
		if err := n.bank.Credit(ctx, alloc.Account, alloc.Amount); err != nil {
			n.state.Discard()
			return fmt.Errorf("genesis credit: %w", err)
		}
	}
	if _, err := n.engine.Init(ctx, params); err != nil {
		n.state.Discard()
		return fmt.Errorf("init escrow: %w", err)
	}
	return n.state.Commit()
}

// Close releases the journal and the state database.
func (n *node) Close() error {
	var errs []error
	if n.journal != nil {
		errs = append(errs, n.journal.Close())
	}
	if n.db != nil {
		errs = append(errs, n.db.Close())
	}
	return errors.Join(errs...)
}
