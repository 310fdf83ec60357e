// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package coordinator

import (
	"github.com/luxfi/coordinator/listener"
	"github.com/luxfi/coordinator/proxy"
	"github.com/luxfi/coordinator/vault"
)

// seq chains two optional handlers, first then second.
func seq[E any](first, second func(E)) func(E) {
	switch {
	case first == nil:
		return second
	case second == nil:
		return first
	}
	return func(ev E) {
		first(ev)
		second(ev)
	}
}

// mergeCallbackSets layers external handlers after the internal ones so
// persistence always runs before caller code observes an event.
func mergeCallbackSets(base, extra listener.CallbackSet) listener.CallbackSet {
	merged := listener.CallbackSet{
		Vault: &vault.Callbacks{},
		Proxy: &proxy.Callbacks{},
	}

	bv, ev := base.Vault, extra.Vault
	if bv == nil {
		bv = &vault.Callbacks{}
	}
	if ev == nil {
		ev = &vault.Callbacks{}
	}
	merged.Vault.OnDeposit = seq(bv.OnDeposit, ev.OnDeposit)
	merged.Vault.OnWithdrawal = seq(bv.OnWithdrawal, ev.OnWithdrawal)
	merged.Vault.OnInvestmentInitiated = seq(bv.OnInvestmentInitiated, ev.OnInvestmentInitiated)
	merged.Vault.OnPositionExecutionConfirmed = seq(bv.OnPositionExecutionConfirmed, ev.OnPositionExecutionConfirmed)
	merged.Vault.OnPositionLiquidated = seq(bv.OnPositionLiquidated, ev.OnPositionLiquidated)
	merged.Vault.OnLiquidationSettled = seq(bv.OnLiquidationSettled, ev.OnLiquidationSettled)
	merged.Vault.OnChainAdded = seq(bv.OnChainAdded, ev.OnChainAdded)
	merged.Vault.OnXcmMessageSent = seq(bv.OnXcmMessageSent, ev.OnXcmMessageSent)

	bp, ep := base.Proxy, extra.Proxy
	if bp == nil {
		bp = &proxy.Callbacks{}
	}
	if ep == nil {
		ep = &proxy.Callbacks{}
	}
	merged.Proxy.OnAssetsReceived = seq(bp.OnAssetsReceived, ep.OnAssetsReceived)
	merged.Proxy.OnPendingPositionCreated = seq(bp.OnPendingPositionCreated, ep.OnPendingPositionCreated)
	merged.Proxy.OnPositionExecuted = seq(bp.OnPositionExecuted, ep.OnPositionExecuted)
	merged.Proxy.OnPositionLiquidated = seq(bp.OnPositionLiquidated, ep.OnPositionLiquidated)
	merged.Proxy.OnLiquidationCompleted = seq(bp.OnLiquidationCompleted, ep.OnLiquidationCompleted)
	merged.Proxy.OnAssetsReturned = seq(bp.OnAssetsReturned, ep.OnAssetsReturned)
	merged.Proxy.OnPendingPositionCancelled = seq(bp.OnPendingPositionCancelled, ep.OnPendingPositionCancelled)
	return merged
}
