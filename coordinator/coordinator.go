// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package coordinator wires the full off-chain stack: both chain
// clients, the position store, event listener, persister, dispatcher,
// settlement, and the test-mode controller, all built from one Config.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/coordinator/chain"
	"github.com/luxfi/coordinator/config"
	"github.com/luxfi/coordinator/dispatcher"
	"github.com/luxfi/coordinator/listener"
	"github.com/luxfi/coordinator/persister"
	"github.com/luxfi/coordinator/proxy"
	"github.com/luxfi/coordinator/retry"
	"github.com/luxfi/coordinator/settlement"
	"github.com/luxfi/coordinator/store"
	"github.com/luxfi/coordinator/testmode"
	"github.com/luxfi/coordinator/vault"
	"github.com/luxfi/coordinator/xcm"
)

var ErrNilConfig = errors.New("config must not be nil")

// Status is one snapshot of the running coordinator.
type Status struct {
	Environment    string
	VaultConnected bool
	ProxyConnected bool
	Listening      bool
	TestMode       testmode.Status
}

type options struct {
	vaultDial chain.Dialer
	proxyDial chain.Dialer
	store     *store.Store
	registry  prometheus.Registerer
}

// Option tunes construction, mainly for tests.
type Option func(*options)

// WithVaultDialer overrides how the custodial-chain endpoint is dialed.
func WithVaultDialer(d chain.Dialer) Option {
	return func(o *options) { o.vaultDial = d }
}

// WithProxyDialer overrides how the execution-chain endpoint is dialed.
func WithProxyDialer(d chain.Dialer) Option {
	return func(o *options) { o.proxyDial = d }
}

// WithStore injects an already-open store instead of dialing
// cfg.DatabaseURL.
func WithStore(st *store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithRegistry overrides the prometheus registerer for the listener
// counters.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// Coordinator owns every long-lived component and their lifecycle.
type Coordinator struct {
	cfg *config.Config
	log log.Logger

	vault    *vault.Client
	proxy    *proxy.Client
	store    *store.Store
	mode     *testmode.Controller
	listener *listener.Listener
	pers     *persister.Persister
	disp     *dispatcher.Dispatcher
	settle   *settlement.Coordinator

	internal listener.CallbackSet

	mu          sync.Mutex
	started     bool
	rangeCancel context.CancelFunc
	rangeWG     sync.WaitGroup
}

// New assembles a coordinator from the config. db persists the per
// chain event cursors; nil disables backfill. Nothing is dialed yet,
// connections open lazily on first use or in Start.
func New(ctx context.Context, cfg *config.Config, db database.Database, logger log.Logger, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Vault.RPCURL == "" || cfg.Proxy.RPCURL == "" {
		return nil, config.ErrMissingRPCURL
	}
	if cfg.Vault.Contract == (common.Address{}) || cfg.Proxy.Contract == (common.Address{}) {
		return nil, config.ErrMissingContract
	}

	vaultClient, err := vault.NewClient(chain.Config{
		Name:       "vault",
		RPCURL:     cfg.Vault.RPCURL,
		Contract:   cfg.Vault.Contract,
		SigningKey: cfg.Vault.SigningKey,
		Timeout:    cfg.RPCTimeout,
		Dial:       o.vaultDial,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	proxyClient, err := proxy.NewClient(chain.Config{
		Name:       "proxy",
		RPCURL:     cfg.Proxy.RPCURL,
		Contract:   cfg.Proxy.Contract,
		SigningKey: cfg.Proxy.SigningKey,
		Timeout:    cfg.RPCTimeout,
		Dial:       o.proxyDial,
	}, 0, logger, proxy.WithPrecompiles(proxy.Precompiles{
		XTokens:    cfg.XTokensPrecompile,
		Transactor: cfg.TransactorPrecompile,
		XCM:        cfg.XCMPrecompile,
	}))
	if err != nil {
		return nil, fmt.Errorf("proxy client: %w", err)
	}

	st := o.store
	if st == nil {
		if cfg.DatabaseURL == "" {
			return nil, config.ErrMissingDatabase
		}
		if st, err = store.Open(ctx, cfg.DatabaseURL, logger); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Multiplier:  cfg.Retry.Multiplier,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      true,
	}
	builder := xcm.NewBuilder(cfg.Vault.ParaID, cfg.Proxy.ParaID,
		xcm.WithTestMode(cfg.TestMode))
	settleBuilder := xcm.NewSettlementBuilder(cfg.PassetHubSettlementEnable,
		cfg.Vault.ParaID, cfg.Vault.Contract.Hex())

	mode := testmode.New(cfg.TestMode, vaultClient, proxyClient, logger)
	pers := persister.New(st, logger)
	var dispOpts []dispatcher.Option
	if !cfg.TestMode {
		// Production submissions are proven against the destination
		// runtime via the XCM precompile before they spend anything.
		dispOpts = append(dispOpts, dispatcher.WithValidator(proxyClient.DryRunXcm))
	}
	disp := dispatcher.New(vaultClient, builder, cfg.Proxy.Contract, cfg.Vault.Contract, policy, logger, dispOpts...)
	settle := settlement.New(vaultClient, proxyClient, settleBuilder, mode, policy, logger)
	lst := listener.New(vaultClient, proxyClient, db, listener.Options{
		HighWater: cfg.EventQueueHighWater,
		Registry:  o.registry,
	}, logger)

	c := &Coordinator{
		cfg:      cfg,
		log:      logger,
		vault:    vaultClient,
		proxy:    proxyClient,
		store:    st,
		mode:     mode,
		listener: lst,
		pers:     pers,
		disp:     disp,
		settle:   settle,
	}
	c.internal = c.buildInternalCallbacks()
	return c, nil
}

// buildInternalCallbacks takes the persister's handler set and chains
// the settlement trigger onto the LiquidationCompleted stream.
func (c *Coordinator) buildInternalCallbacks() listener.CallbackSet {
	cbs := c.pers.Callbacks()
	persist := cbs.Proxy.OnLiquidationCompleted
	cbs.Proxy.OnLiquidationCompleted = func(ev proxy.LiquidationCompleted) {
		if persist != nil {
			persist(ev)
		}
		c.settle.HandleLiquidationCompleted(ev)
	}
	return cbs
}

// Start syncs the on-chain test-mode flags, installs the internal
// handlers, begins listening when auto-start is configured, and spawns
// the range watcher when an interval is set.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if res := c.mode.Sync(ctx); !res.Success {
		// Degraded but workable: the flag re-syncs on the next toggle.
		c.log.Warn("test mode sync incomplete", "errors", len(res.Errors))
	}

	c.listener.Register(ctx, c.internal)
	if c.cfg.EventsAutoStart {
		c.listener.Start(ctx)
	}

	if c.cfg.RangeCheckInterval > 0 {
		watchCtx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.rangeCancel = cancel
		c.mu.Unlock()
		c.rangeWG.Add(1)
		go c.watchRanges(watchCtx)
	}

	c.log.Info("coordinator started",
		"environment", c.cfg.Environment,
		"testMode", c.mode.ShouldSkipXcm(),
		"autoStart", c.cfg.EventsAutoStart,
		"rangeCheckInterval", c.cfg.RangeCheckInterval)
	return nil
}

// Stop tears everything down in reverse order. Safe to call more than
// once.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.rangeCancel
	c.rangeCancel = nil
	started := c.started
	c.started = false
	c.mu.Unlock()
	if !started {
		return
	}

	if cancel != nil {
		cancel()
	}
	c.rangeWG.Wait()
	c.listener.Stop()
	c.vault.Close()
	c.proxy.Close()
	if err := c.store.Close(); err != nil {
		c.log.Warn("store close failed", "err", err)
	}
	c.log.Info("coordinator stopped")
}

// RegisterCallbacks installs caller handlers alongside the internal
// persistence and settlement handlers. Each call replaces the previous
// external set.
func (c *Coordinator) RegisterCallbacks(ctx context.Context, external listener.CallbackSet) {
	c.listener.Register(ctx, mergeCallbackSets(c.internal, external))
}

// StartListening opens the event subscriptions.
func (c *Coordinator) StartListening(ctx context.Context) { c.listener.Start(ctx) }

// StopListening detaches the event subscriptions.
func (c *Coordinator) StopListening() { c.listener.Stop() }

// GetStats snapshots the listener delivery counters.
func (c *Coordinator) GetStats() listener.Stats { return c.listener.GetStats() }

// ResetStats zeroes the listener delivery counters.
func (c *Coordinator) ResetStats() { c.listener.ResetStats() }

// DispatchInvestmentWithXcm runs the full dispatch pipeline and returns
// the new cross-chain position id.
func (c *Coordinator) DispatchInvestmentWithXcm(ctx context.Context, req dispatcher.Request) ([32]byte, error) {
	return c.disp.DispatchInvestment(ctx, req)
}

// EnableTestMode flips the backend flag on and syncs both contracts.
func (c *Coordinator) EnableTestMode(ctx context.Context) testmode.SyncResult {
	return c.mode.Enable(ctx)
}

// DisableTestMode flips the backend flag off and syncs both contracts.
func (c *Coordinator) DisableTestMode(ctx context.Context) testmode.SyncResult {
	return c.mode.Disable(ctx)
}

// GetStatus reports connection, listening, and test-mode state.
func (c *Coordinator) GetStatus() Status {
	return Status{
		Environment:    c.cfg.Environment,
		VaultConnected: c.vault.IsInitialized(),
		ProxyConnected: c.proxy.IsInitialized(),
		Listening:      c.listener.GetStats().IsListening,
		TestMode:       c.mode.Status(),
	}
}

// Vault exposes the custodial-chain client for operational tooling.
func (c *Coordinator) Vault() *vault.Client { return c.vault }

// Proxy exposes the execution-chain client for operational tooling.
func (c *Coordinator) Proxy() *proxy.Client { return c.proxy }

// Store exposes the position repositories.
func (c *Coordinator) Store() *store.Store { return c.store }
