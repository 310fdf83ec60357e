// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package settlement closes the position loop: when the execution chain
// reports a completed liquidation, the on-chain totalBase is credited
// back on the custodial chain, directly in test mode or through a
// cross-chain Transact in production.
package settlement

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	log "github.com/luxfi/log"

	"github.com/luxfi/coordinator/proxy"
	"github.com/luxfi/coordinator/retry"
	"github.com/luxfi/coordinator/xcm"
)

// settleTimeout bounds one settlement submission including retries.
const settleTimeout = 5 * time.Minute

// VaultSettler is the direct settlement slice of the vault client.
type VaultSettler interface {
	SettleLiquidation(ctx context.Context, vaultPositionID [32]byte, receivedAmount *big.Int) (*types.Receipt, error)
}

// RemoteForwarder is the production-path slice of the proxy client.
type RemoteForwarder interface {
	ForwardSettlement(ctx context.Context, destination []byte, target common.Address, innerCall []byte) (*types.Receipt, error)
}

// ModeSource reports whether cross-chain submissions are mocked.
type ModeSource interface {
	ShouldSkipXcm() bool
}

// Coordinator settles completed liquidations at most once per vault
// position id. The contract itself rejects non-active positions, the
// dedupe here only avoids wasted submissions.
type Coordinator struct {
	vault   VaultSettler
	proxy   RemoteForwarder
	builder *xcm.SettlementBuilder
	mode    ModeSource
	policy  retry.Policy
	log     log.Logger

	mu      sync.Mutex
	settled map[[32]byte]struct{}
}

func New(vaultClient VaultSettler, proxyClient RemoteForwarder, builder *xcm.SettlementBuilder, mode ModeSource, policy retry.Policy, logger log.Logger) *Coordinator {
	return &Coordinator{
		vault:   vaultClient,
		proxy:   proxyClient,
		builder: builder,
		mode:    mode,
		policy:  policy,
		log:     logger,
		settled: make(map[[32]byte]struct{}),
	}
}

// HandleLiquidationCompleted is the event entry point. It blocks for
// the duration of the settlement, so it is meant to run on the delivery
// queue, not on the subscription loop.
func (c *Coordinator) HandleLiquidationCompleted(ev proxy.LiquidationCompleted) {
	key := ev.VaultPositionId

	c.mu.Lock()
	if _, done := c.settled[key]; done {
		c.mu.Unlock()
		c.log.Debug("settlement already submitted, skipping",
			"vaultPositionId", common.Hash(key))
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	if err := c.Settle(ctx, key, ev.TotalBase); err != nil {
		c.log.Error("settlement failed",
			"vaultPositionId", common.Hash(key), "totalBase", ev.TotalBase, "err", err)
	}
}

// Settle credits receivedAmount for the position, marking it settled on
// success. Safe to call again after a failure as long as the position
// is still active on-chain.
func (c *Coordinator) Settle(ctx context.Context, vaultPositionID [32]byte, receivedAmount *big.Int) error {
	if c.mode.ShouldSkipXcm() {
		return c.settleDirect(ctx, vaultPositionID, receivedAmount)
	}
	return c.settleRemote(ctx, vaultPositionID, receivedAmount)
}

func (c *Coordinator) settleDirect(ctx context.Context, id [32]byte, amount *big.Int) error {
	res := retry.Execute(ctx, c.log, c.policy, func(ctx context.Context) (*types.Receipt, error) {
		return c.vault.SettleLiquidation(ctx, id, amount)
	})
	if !res.Success {
		return res.Err
	}
	c.markSettled(id)
	c.log.Info("liquidation settled directly",
		"vaultPositionId", common.Hash(id), "amount", amount, "attempts", res.Attempts)
	return nil
}

func (c *Coordinator) settleRemote(ctx context.Context, id [32]byte, amount *big.Int) error {
	call, err := c.builder.Build(xcm.SettlementSpec{
		VaultPositionID: id,
		ReceivedAmount:  amount,
	})
	if err != nil {
		return err
	}
	res := retry.Execute(ctx, c.log, c.policy, func(ctx context.Context) (*types.Receipt, error) {
		return c.proxy.ForwardSettlement(ctx, call.Destination, call.Target, call.Call)
	})
	if !res.Success {
		return res.Err
	}
	c.markSettled(id)
	c.log.Info("liquidation settlement forwarded",
		"vaultPositionId", common.Hash(id), "amount", amount,
		"target", call.Target, "attempts", res.Attempts)
	return nil
}

func (c *Coordinator) markSettled(id [32]byte) {
	c.mu.Lock()
	c.settled[id] = struct{}{}
	c.mu.Unlock()
}
