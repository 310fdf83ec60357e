// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dispatcher

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	log "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/coordinator/retry"
	"github.com/luxfi/coordinator/vault"
	"github.com/luxfi/coordinator/xcm"
)

var (
	userAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	proxyAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	vaultAddr = common.HexToAddress("0x3333333333333333333333333333333333333333")
	poolAddr  = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

// fakeVault scripts per-call outcomes.
type fakeVault struct {
	calls    int
	failures []error // consumed one per call; nil entry means success
	id       [32]byte

	lastDestination []byte
	lastMessage     []byte
}

func (f *fakeVault) DispatchInvestment(ctx context.Context, req vault.InvestmentRequest, dest, msg []byte) ([32]byte, *types.Receipt, error) {
	f.calls++
	f.lastDestination = dest
	f.lastMessage = msg
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return [32]byte{}, nil, err
		}
	}
	return f.id, &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func fastPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Millisecond,
	}
}

func newDispatcher(fv *fakeVault, policy retry.Policy) *Dispatcher {
	builder := xcm.NewBuilder(1000, 2004)
	return New(fv, builder, proxyAddr, vaultAddr, policy, log.NewTestLogger(log.InfoLevel))
}

func validRequest() Request {
	amount, _ := new(big.Int).SetString("500000000000000000", 10)
	return Request{
		User:             userAddr,
		Pool:             poolAddr,
		Amount:           amount,
		ChainID:          1284,
		TickLowerPercent: -500,
		TickUpperPercent: 500,
	}
}

func TestDispatchSucceeds(t *testing.T) {
	want := [32]byte{1, 2, 3}
	fv := &fakeVault{id: want}
	d := newDispatcher(fv, fastPolicy(3))

	id, err := d.DispatchInvestment(context.Background(), validRequest())
	require.NoError(t, err)
	require.Equal(t, want, id)
	require.Equal(t, 1, fv.calls)

	// The submitted bytes are the builder's production encoding.
	require.NotEmpty(t, fv.lastDestination)
	require.NotEmpty(t, fv.lastMessage)
	require.Equal(t, []byte{0x04, 0x01, 0x01, 0x00, 0x51, 0x1f}, fv.lastDestination)
}

func TestDispatchDryRunFailure(t *testing.T) {
	fv := &fakeVault{}
	d := newDispatcher(fv, fastPolicy(3))

	req := validRequest()
	req.User = common.Address{}
	_, err := d.DispatchInvestment(context.Background(), req)
	require.ErrorIs(t, err, ErrDryRunFailed)
	// The vault is never touched when the dry run fails.
	require.Zero(t, fv.calls)
}

func TestDispatchValidatorRejection(t *testing.T) {
	fv := &fakeVault{}
	builder := xcm.NewBuilder(1000, 2004)
	d := New(fv, builder, proxyAddr, vaultAddr, fastPolicy(3), log.NewTestLogger(log.InfoLevel),
		WithValidator(func(ctx context.Context, destination, message []byte) (bool, string, error) {
			require.NotEmpty(t, destination)
			require.NotEmpty(t, message)
			return false, "Barrier", nil
		}))

	_, err := d.DispatchInvestment(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrDryRunFailed)
	require.Contains(t, err.Error(), "Barrier")
	require.Zero(t, fv.calls)
}

func TestDispatchValidatorAccepts(t *testing.T) {
	want := [32]byte{7}
	fv := &fakeVault{id: want}
	builder := xcm.NewBuilder(1000, 2004)
	validated := 0
	d := New(fv, builder, proxyAddr, vaultAddr, fastPolicy(3), log.NewTestLogger(log.InfoLevel),
		WithValidator(func(ctx context.Context, destination, message []byte) (bool, string, error) {
			validated++
			return true, "", nil
		}))

	id, err := d.DispatchInvestment(context.Background(), validRequest())
	require.NoError(t, err)
	require.Equal(t, want, id)
	require.Equal(t, 1, validated)
	require.Equal(t, 1, fv.calls)
}

func TestDispatchRetriesTransientErrors(t *testing.T) {
	transient := errors.New("nonce too low")
	fv := &fakeVault{
		id:       [32]byte{9},
		failures: []error{transient, transient, transient, nil},
	}
	d := newDispatcher(fv, fastPolicy(5))

	id, err := d.DispatchInvestment(context.Background(), validRequest())
	require.NoError(t, err)
	require.Equal(t, [32]byte{9}, id)
	require.Equal(t, 4, fv.calls)
}

func TestDispatchStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("execution reverted: insufficient balance")
	fv := &fakeVault{failures: []error{permanent, permanent, permanent}}
	d := newDispatcher(fv, fastPolicy(5))

	_, err := d.DispatchInvestment(context.Background(), validRequest())
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, fv.calls)
	require.Contains(t, err.Error(), "after 1 attempts")
}

func TestDispatchExhaustsAttempts(t *testing.T) {
	transient := errors.New("connection refused")
	fv := &fakeVault{failures: []error{transient, transient, transient}}
	d := newDispatcher(fv, fastPolicy(3))

	_, err := d.DispatchInvestment(context.Background(), validRequest())
	require.ErrorIs(t, err, transient)
	require.Equal(t, 3, fv.calls)
	require.Contains(t, err.Error(), "after 3 attempts")
}
