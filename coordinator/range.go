// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package coordinator

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/coordinator/proxy"
	"github.com/luxfi/coordinator/store"
)

// rangePageSize bounds one getActivePositions read.
const rangePageSize = 100

func (c *Coordinator) watchRanges(ctx context.Context) {
	defer c.rangeWG.Done()
	ticker := time.NewTicker(c.cfg.RangeCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.CheckPositionRanges(ctx); err != nil {
				c.log.Warn("range sweep failed", "err", err)
			}
		}
	}
}

// CheckPositionRanges sweeps the active execution-chain positions and
// liquidates any that moved outside their tick range. One bad position
// does not stop the sweep; a failed page read does.
func (c *Coordinator) CheckPositionRanges(ctx context.Context) error {
	var offset uint64
	for {
		ids, total, err := c.proxy.GetActivePositions(ctx, offset, rangePageSize)
		if err != nil {
			return err
		}
		for _, id := range ids {
			c.checkPosition(ctx, id)
		}
		offset += uint64(len(ids))
		if len(ids) == 0 || total == nil || offset >= total.Uint64() {
			return nil
		}
	}
}

func (c *Coordinator) checkPosition(ctx context.Context, proxyPositionID *big.Int) {
	out, price, err := c.proxy.IsPositionOutOfRange(ctx, proxyPositionID)
	if err != nil {
		c.log.Warn("range check failed", "proxyPositionId", proxyPositionID, "err", err)
		return
	}
	if !out {
		return
	}

	pos, err := c.store.GetPositionByProxyID(ctx, proxyPositionID.String())
	if errors.Is(err, store.ErrNotFound) {
		// Not ours, or executed before this coordinator observed it.
		c.log.Debug("out-of-range position unknown locally", "proxyPositionId", proxyPositionID)
		return
	}
	if err != nil {
		c.log.Warn("range lookup failed", "proxyPositionId", proxyPositionID, "err", err)
		return
	}
	if pos.Status != store.StatusActive {
		return
	}

	c.log.Info("position out of range, liquidating",
		"vaultPositionId", pos.VaultPositionID,
		"proxyPositionId", proxyPositionID, "price", price)
	vaultID := [32]byte(common.HexToHash(pos.VaultPositionID))
	totalBase, _, err := c.proxy.LiquidateSwapAndReturn(ctx, proxy.LiquidationParams{
		VaultPositionID: vaultID,
		ProxyPositionID: proxyPositionID,
	})
	if err != nil {
		c.log.Error("range liquidation failed",
			"vaultPositionId", pos.VaultPositionID,
			"proxyPositionId", proxyPositionID, "err", err)
		return
	}
	c.log.Info("range liquidation submitted",
		"vaultPositionId", pos.VaultPositionID, "totalBase", totalBase)
}
