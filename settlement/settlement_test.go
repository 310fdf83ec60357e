// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	log "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/coordinator/proxy"
	"github.com/luxfi/coordinator/retry"
	"github.com/luxfi/coordinator/xcm"
)

var vaultAddr = common.HexToAddress("0x3333333333333333333333333333333333333333")

type fakeSettler struct {
	mu       sync.Mutex
	calls    int
	failures []error
	lastID   [32]byte
	lastAmt  *big.Int
}

func (f *fakeSettler) SettleLiquidation(ctx context.Context, id [32]byte, amount *big.Int) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastID = id
	f.lastAmt = amount
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return nil, err
		}
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

type fakeForwarder struct {
	mu       sync.Mutex
	calls    int
	lastDest []byte
	lastTgt  common.Address
	lastCall []byte
}

func (f *fakeForwarder) ForwardSettlement(ctx context.Context, dest []byte, target common.Address, call []byte) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastDest = dest
	f.lastTgt = target
	f.lastCall = call
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

type fixedMode bool

func (m fixedMode) ShouldSkipXcm() bool { return bool(m) }

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Millisecond,
	}
}

func posID(s string) [32]byte {
	var id [32]byte
	copy(id[:], s)
	return id
}

func completed(id string, totalBase int64) proxy.LiquidationCompleted {
	return proxy.LiquidationCompleted{
		VaultPositionId: posID(id),
		ProxyPositionId: big.NewInt(456),
		TotalBase:       big.NewInt(totalBase),
	}
}

func TestTestModeSettlesDirectly(t *testing.T) {
	settler := &fakeSettler{}
	forwarder := &fakeForwarder{}
	builder := xcm.NewSettlementBuilder(true, 1000, vaultAddr.Hex())
	c := New(settler, forwarder, builder, fixedMode(true), fastPolicy(), log.NewTestLogger(log.InfoLevel))

	c.HandleLiquidationCompleted(completed("pos-123", 1200))

	require.Equal(t, 1, settler.calls)
	require.Zero(t, forwarder.calls)
	require.Equal(t, posID("pos-123"), settler.lastID)
	require.Equal(t, int64(1200), settler.lastAmt.Int64())
}

func TestProductionForwardsRemoteCall(t *testing.T) {
	settler := &fakeSettler{}
	forwarder := &fakeForwarder{}
	builder := xcm.NewSettlementBuilder(true, 1000, vaultAddr.Hex())
	c := New(settler, forwarder, builder, fixedMode(false), fastPolicy(), log.NewTestLogger(log.InfoLevel))

	c.HandleLiquidationCompleted(completed("pos-123", 1200))

	require.Zero(t, settler.calls)
	require.Equal(t, 1, forwarder.calls)
	require.Equal(t, vaultAddr, forwarder.lastTgt)
	require.NotEmpty(t, forwarder.lastDest)
	require.Len(t, forwarder.lastCall, 4+64)
}

func TestProductionFailsFastWhenDisabled(t *testing.T) {
	settler := &fakeSettler{}
	forwarder := &fakeForwarder{}
	builder := xcm.NewSettlementBuilder(false, 1000, vaultAddr.Hex())
	c := New(settler, forwarder, builder, fixedMode(false), fastPolicy(), log.NewTestLogger(log.InfoLevel))

	err := c.Settle(context.Background(), posID("pos-123"), big.NewInt(1))
	require.ErrorIs(t, err, xcm.ErrFeatureDisabled)
	require.Zero(t, forwarder.calls)
}

func TestDuplicateCompletionIsDeduped(t *testing.T) {
	settler := &fakeSettler{}
	builder := xcm.NewSettlementBuilder(true, 1000, vaultAddr.Hex())
	c := New(settler, &fakeForwarder{}, builder, fixedMode(true), fastPolicy(), log.NewTestLogger(log.InfoLevel))

	c.HandleLiquidationCompleted(completed("pos-123", 1200))
	c.HandleLiquidationCompleted(completed("pos-123", 1200))

	require.Equal(t, 1, settler.calls)
}

func TestFailedSettlementStaysRetryable(t *testing.T) {
	permanent := errors.New("execution reverted: position not active")
	settler := &fakeSettler{failures: []error{permanent}}
	builder := xcm.NewSettlementBuilder(true, 1000, vaultAddr.Hex())
	c := New(settler, &fakeForwarder{}, builder, fixedMode(true), fastPolicy(), log.NewTestLogger(log.InfoLevel))

	// First completion fails; the position is not marked settled, so a
	// redelivery submits again.
	c.HandleLiquidationCompleted(completed("pos-123", 1200))
	require.Equal(t, 1, settler.calls)

	c.HandleLiquidationCompleted(completed("pos-123", 1200))
	require.Equal(t, 2, settler.calls)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	transient := errors.New("connection refused")
	settler := &fakeSettler{failures: []error{transient, nil}}
	builder := xcm.NewSettlementBuilder(true, 1000, vaultAddr.Hex())
	c := New(settler, &fakeForwarder{}, builder, fixedMode(true), fastPolicy(), log.NewTestLogger(log.InfoLevel))

	require.NoError(t, c.Settle(context.Background(), posID("pos-123"), big.NewInt(5)))
	require.Equal(t, 2, settler.calls)
}
