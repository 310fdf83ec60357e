// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package persister applies the contract event stream to the relational
// store. Handlers are idempotent, never panic out of the delivery loop,
// and serialize all writes per vault position id.
package persister

import (
	"context"
	"errors"
	"math/big"
	"runtime/debug"
	"strings"
	"time"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/coordinator/listener"
	"github.com/luxfi/coordinator/proxy"
	"github.com/luxfi/coordinator/retry"
	"github.com/luxfi/coordinator/store"
	"github.com/luxfi/coordinator/vault"
)

// opTimeout bounds each handler's database work.
const opTimeout = 30 * time.Second

// PositionKey is the canonical string form of a vault position id used
// as the store key.
func PositionKey(id [32]byte) string {
	return strings.ToLower(common.Hash(id).Hex())
}

// Persister owns the store and reacts to both chains' events.
type Persister struct {
	store *store.Store
	log   log.Logger
	locks *keyedMutex
}

func New(st *store.Store, logger log.Logger) *Persister {
	return &Persister{store: st, log: logger, locks: newKeyedMutex()}
}

// Callbacks builds the handler set to register with the listener.
func (p *Persister) Callbacks() listener.CallbackSet {
	return listener.CallbackSet{
		Vault: &vault.Callbacks{
			OnDeposit:                    guard(p.log, "Deposit", p.onDeposit),
			OnWithdrawal:                 guard(p.log, "Withdrawal", p.onWithdrawal),
			OnInvestmentInitiated:        guard(p.log, "InvestmentInitiated", p.onInvestmentInitiated),
			OnPositionExecutionConfirmed: guard(p.log, "PositionExecutionConfirmed", p.onExecutionConfirmed),
			OnPositionLiquidated:         guard(p.log, "PositionLiquidated", p.onPositionLiquidated),
			OnLiquidationSettled:         guard(p.log, "LiquidationSettled", p.onLiquidationSettled),
			OnChainAdded:                 guard(p.log, "ChainAdded", p.onChainAdded),
			OnXcmMessageSent:             guard(p.log, "XcmMessageSent", p.onXcmMessageSent),
		},
		Proxy: &proxy.Callbacks{
			OnAssetsReceived:           guard(p.log, "AssetsReceived", p.onAssetsReceived),
			OnPendingPositionCreated:   guard(p.log, "PendingPositionCreated", p.onPendingPositionCreated),
			OnPositionExecuted:         guard(p.log, "PositionExecuted", p.onProxyPositionExecuted),
			OnPositionLiquidated:       guard(p.log, "ProxyPositionLiquidated", p.onProxyPositionLiquidated),
			OnLiquidationCompleted:     guard(p.log, "LiquidationCompleted", p.onLiquidationCompleted),
			OnAssetsReturned:           guard(p.log, "AssetsReturned", p.onAssetsReturned),
			OnPendingPositionCancelled: guard(p.log, "PendingPositionCancelled", p.onPendingPositionCancelled),
		},
	}
}

// guard wraps a handler so a panic is logged instead of unwinding into
// the delivery loop.
func guard[E any](logger log.Logger, name string, fn func(E)) func(E) {
	return func(ev E) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("event handler panicked",
					"event", name, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn(ev)
	}
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

// ============================================================
// Vault handlers
// ============================================================

func (p *Persister) onDeposit(ev vault.Deposit) {
	ctx, cancel := opContext()
	defer cancel()

	u, err := p.store.UpsertUser(ctx, ev.User.Hex())
	if err != nil {
		p.log.Error("deposit: upsert user failed", "user", ev.User, "err", err)
		return
	}
	if err := p.store.RecordDeposit(ctx, u.ID, ev.Amount.String(), ev.Raw.TxHash.Hex(), ev.Raw.BlockNumber); err != nil {
		p.log.Error("deposit: record failed", "user", ev.User, "err", err)
		return
	}
	p.log.Info("deposit recorded", "user", u.WalletAddress, "amount", ev.Amount)
}

func (p *Persister) onWithdrawal(ev vault.Withdrawal) {
	p.log.Info("withdrawal observed", "user", ev.User, "amount", ev.Amount,
		"block", ev.Raw.BlockNumber)
}

func (p *Persister) onInvestmentInitiated(ev vault.InvestmentInitiated) {
	key := PositionKey(ev.VaultPositionId)
	unlock := p.locks.Lock(key)
	defer unlock()

	ctx, cancel := opContext()
	defer cancel()

	user, err := p.store.GetUserByWallet(ctx, ev.User.Hex())
	if err != nil {
		p.log.Warn("investment initiated for unknown user, skipping",
			"vaultPositionId", key, "user", ev.User, "err", err)
		return
	}
	pool, err := p.store.GetPoolByAddress(ctx, ev.Pool.Hex())
	if err != nil {
		p.log.Warn("investment initiated for unknown pool, skipping",
			"vaultPositionId", key, "pool", ev.Pool, "err", err)
		return
	}

	if _, err := p.store.GetPositionByVaultID(ctx, key); err == nil {
		// Replayed dispatch for an existing key rewinds the position.
		if err := p.store.ResetToPending(ctx, key); err != nil {
			p.log.Error("reset to pending failed", "vaultPositionId", key, "err", err)
		}
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		p.log.Error("position lookup failed", "vaultPositionId", key, "err", err)
		return
	}

	_, err = p.store.CreatePosition(ctx, store.NewPositionParams{
		VaultPositionID: key,
		UserID:          user.ID,
		PoolID:          pool.ID,
		Amount:          ev.Amount.String(),
		ChainID:         int64(ev.TargetChainId),
		TickLower:       ev.TickLowerPercent,
		TickUpper:       ev.TickUpperPercent,
	})
	if err != nil {
		p.log.Error("create position failed", "vaultPositionId", key, "err", err)
		return
	}
	p.log.Info("position created",
		"vaultPositionId", key, "user", user.WalletAddress, "amount", ev.Amount)
}

func (p *Persister) onExecutionConfirmed(ev vault.PositionExecutionConfirmed) {
	key := PositionKey(ev.VaultPositionId)
	unlock := p.locks.Lock(key)
	defer unlock()

	ctx, cancel := opContext()
	defer cancel()

	err := p.store.MarkActive(ctx, key, ev.RemotePositionId.String(), ev.Liquidity.String())
	switch {
	case err == nil:
		p.log.Info("position active",
			"vaultPositionId", key, "proxyPositionId", ev.RemotePositionId)
	case errors.Is(err, store.ErrNotFound):
		p.log.Warn("execution confirmed for unknown position", "vaultPositionId", key)
	case errors.Is(err, store.ErrInvalidTransition):
		// Redelivery of a confirmation already applied.
		p.log.Debug("execution confirmation ignored", "vaultPositionId", key, "err", err)
	default:
		p.log.Error("mark active failed", "vaultPositionId", key, "err", err)
	}
}

func (p *Persister) onPositionLiquidated(ev vault.PositionLiquidated) {
	key := PositionKey(ev.VaultPositionId)
	unlock := p.locks.Lock(key)
	defer unlock()

	ctx, cancel := opContext()
	defer cancel()

	err := p.store.MarkLiquidated(ctx, key, ev.FinalAmount.String())
	switch {
	case err == nil:
		p.log.Info("position liquidated",
			"vaultPositionId", key, "returnedAmount", ev.FinalAmount)
	case errors.Is(err, store.ErrNotFound):
		p.log.Warn("liquidation for unknown position", "vaultPositionId", key)
	case errors.Is(err, store.ErrInvalidTransition):
		p.log.Debug("liquidation ignored", "vaultPositionId", key, "err", err)
	default:
		p.log.Error("mark liquidated failed", "vaultPositionId", key, "err", err)
	}
}

func (p *Persister) onLiquidationSettled(ev vault.LiquidationSettled) {
	bps := SlippageBps(ev.ExpectedAmount, ev.ReceivedAmount)
	if bps > 0 {
		p.log.Warn("settlement slippage",
			"vaultPositionId", PositionKey(ev.VaultPositionId),
			"expected", ev.ExpectedAmount, "received", ev.ReceivedAmount,
			"slippageBps", bps)
		return
	}
	p.log.Info("liquidation settled",
		"vaultPositionId", PositionKey(ev.VaultPositionId), "received", ev.ReceivedAmount)
}

func (p *Persister) onChainAdded(ev vault.ChainAdded) {
	p.log.Info("chain added", "chainId", ev.ChainId, "executor", ev.Executor)
}

func (p *Persister) onXcmMessageSent(ev vault.XcmMessageSent) {
	key := PositionKey(ev.VaultPositionId)
	if !ev.Success {
		xcmErr := retry.ParseXcmEventError(ev.ErrorBlob)
		p.log.Warn("xcm message failed",
			"vaultPositionId", key,
			"messageHash", common.Hash(ev.MessageHash),
			"errorType", xcmErr.ErrorType,
			"error", xcmErr.Message,
			"retryable", xcmErr.ShouldRetry)
		return
	}
	p.log.Info("xcm message sent",
		"vaultPositionId", key,
		"messageHash", common.Hash(ev.MessageHash), "success", ev.Success)
}

// ============================================================
// Proxy handlers
// ============================================================

func (p *Persister) onAssetsReceived(ev proxy.AssetsReceived) {
	p.log.Info("assets received on execution chain",
		"vaultPositionId", PositionKey(ev.VaultPositionId), "token", ev.Token, "amount", ev.Amount)
}

func (p *Persister) onPendingPositionCreated(ev proxy.PendingPositionCreated) {
	p.log.Info("pending position created on execution chain",
		"vaultPositionId", PositionKey(ev.VaultPositionId), "amount", ev.Amount)
}

// onProxyPositionExecuted is best-effort: the authoritative transition
// comes from the custodial chain, but the proxy observation can land
// first and still carries useful identifiers.
func (p *Persister) onProxyPositionExecuted(ev proxy.PositionExecuted) {
	key := PositionKey(ev.VaultPositionId)
	unlock := p.locks.Lock(key)
	defer unlock()

	ctx, cancel := opContext()
	defer cancel()

	err := p.store.UpdateProxyInfo(ctx, key, ev.ProxyPositionId.String(), ev.Liquidity.String())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		p.log.Error("proxy info update failed", "vaultPositionId", key, "err", err)
	}
}

func (p *Persister) onProxyPositionLiquidated(ev proxy.PositionLiquidated) {
	p.log.Info("proxy position liquidated",
		"proxyPositionId", ev.ProxyPositionId, "amount0", ev.Amount0, "amount1", ev.Amount1)
}

func (p *Persister) onLiquidationCompleted(ev proxy.LiquidationCompleted) {
	p.log.Info("liquidation completed on execution chain",
		"vaultPositionId", PositionKey(ev.VaultPositionId), "totalBase", ev.TotalBase)
}

func (p *Persister) onAssetsReturned(ev proxy.AssetsReturned) {
	p.log.Info("assets returned to custodial chain",
		"vaultPositionId", PositionKey(ev.VaultPositionId), "user", ev.User, "amount", ev.Amount)
}

func (p *Persister) onPendingPositionCancelled(ev proxy.PendingPositionCancelled) {
	key := PositionKey(ev.VaultPositionId)
	unlock := p.locks.Lock(key)
	defer unlock()

	ctx, cancel := opContext()
	defer cancel()

	err := p.store.MarkFailed(ctx, key)
	switch {
	case err == nil:
		p.log.Warn("position failed",
			"vaultPositionId", key, "reason", ev.Reason)
	case errors.Is(err, store.ErrNotFound):
		p.log.Debug("cancellation for unknown position", "vaultPositionId", key)
	case errors.Is(err, store.ErrInvalidTransition):
		p.log.Debug("cancellation ignored", "vaultPositionId", key, "err", err)
	default:
		p.log.Error("mark failed errored", "vaultPositionId", key, "err", err)
	}
}

// SlippageBps computes (expected - received) / expected in basis
// points, zero when expected is not positive or received covers it.
func SlippageBps(expected, received *big.Int) int64 {
	if expected == nil || received == nil || expected.Sign() <= 0 {
		return 0
	}
	diff := new(big.Int).Sub(expected, received)
	if diff.Sign() <= 0 {
		return 0
	}
	diff.Mul(diff, big.NewInt(10000))
	diff.Quo(diff, expected)
	return diff.Int64()
}
