// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package testmode owns the process-wide test-mode flag and keeps the
// two contracts' on-chain flags in agreement with it.
package testmode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/geth/core/types"
	log "github.com/luxfi/log"
)

// ContractFlag is the slice of a contract client the controller drives.
// Both chain clients satisfy it.
type ContractFlag interface {
	Name() string
	TestMode(ctx context.Context) (bool, error)
	SetTestMode(ctx context.Context, enabled bool) (*types.Receipt, error)
}

// SyncResult reports one synchronization pass across both contracts.
type SyncResult struct {
	Success bool
	Errors  []error
}

// Status is the external view of the flag and its on-chain mirrors. A
// nil contract value means that contract has no usable connection.
type Status struct {
	BackendTestMode bool
	VaultTestMode   *bool
	ProxyTestMode   *bool
	Synchronized    bool
	LastSyncTime    time.Time
}

// Controller holds the backend flag and the last observed contract
// state. Either client may be nil.
type Controller struct {
	log log.Logger

	mu         sync.Mutex
	enabled    bool
	vault      ContractFlag
	proxy      ContractFlag
	vaultState *bool
	proxyState *bool
	lastSync   time.Time
}

// New builds a controller with the startup-derived flag. enabled should
// already fold in the environment rule (explicit flag or a development
// or test environment).
func New(enabled bool, vaultClient, proxyClient ContractFlag, logger log.Logger) *Controller {
	return &Controller{
		log:     logger,
		enabled: enabled,
		vault:   vaultClient,
		proxy:   proxyClient,
	}
}

// ShouldSkipXcm reports whether cross-chain submissions take the mock
// path.
func (c *Controller) ShouldSkipXcm() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// ShouldSkipXcmValidation reports whether dry-run validation is waived.
func (c *Controller) ShouldSkipXcmValidation() bool {
	return c.ShouldSkipXcm()
}

// Enable turns the flag on and pushes it to both contracts.
func (c *Controller) Enable(ctx context.Context) SyncResult {
	return c.set(ctx, true)
}

// Disable turns the flag off and pushes it to both contracts.
func (c *Controller) Disable(ctx context.Context) SyncResult {
	return c.set(ctx, false)
}

func (c *Controller) set(ctx context.Context, enabled bool) SyncResult {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
	return c.Sync(ctx)
}

// Sync reads each contract's flag and submits an update where it
// disagrees with the backend flag. Contracts without a connection are
// recorded as unknown, not as mismatched.
func (c *Controller) Sync(ctx context.Context) SyncResult {
	c.mu.Lock()
	enabled := c.enabled
	vaultClient, proxyClient := c.vault, c.proxy
	c.mu.Unlock()

	var res SyncResult
	vaultState := c.syncOne(ctx, vaultClient, enabled, &res)
	proxyState := c.syncOne(ctx, proxyClient, enabled, &res)

	c.mu.Lock()
	c.vaultState = vaultState
	c.proxyState = proxyState
	c.lastSync = time.Now()
	c.mu.Unlock()

	res.Success = len(res.Errors) == 0
	return res
}

// syncOne aligns a single contract and returns its final observed state,
// nil when unknown.
func (c *Controller) syncOne(ctx context.Context, client ContractFlag, enabled bool, res *SyncResult) *bool {
	if client == nil {
		return nil
	}
	current, err := client.TestMode(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("read test mode on %s: %w", client.Name(), err))
		return nil
	}
	if current == enabled {
		state := current
		return &state
	}
	c.log.Info("syncing contract test mode",
		"chain", client.Name(), "from", current, "to", enabled)
	if _, err := client.SetTestMode(ctx, enabled); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("set test mode on %s: %w", client.Name(), err))
		state := current
		return &state
	}
	state := enabled
	return &state
}

// Status snapshots the flag and the last sync observations.
// Synchronized is true iff every known contract state equals the
// backend flag.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		BackendTestMode: c.enabled,
		LastSyncTime:    c.lastSync,
		Synchronized:    true,
	}
	if c.vaultState != nil {
		v := *c.vaultState
		st.VaultTestMode = &v
		st.Synchronized = st.Synchronized && v == c.enabled
	}
	if c.proxyState != nil {
		v := *c.proxyState
		st.ProxyTestMode = &v
		st.Synchronized = st.Synchronized && v == c.enabled
	}
	return st
}
