// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	log "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/coordinator/chain"
	"github.com/luxfi/coordinator/chain/chaintest"
	"github.com/luxfi/coordinator/vault"
)

const operatorKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	vaultContract = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	userAddr      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	poolAddr      = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func newVaultClient(t *testing.T, backend *chaintest.Backend) *vault.Client {
	c, err := vault.NewClient(chain.Config{
		Name:       "vault",
		RPCURL:     "ws://fake",
		Contract:   vaultContract,
		SigningKey: operatorKey,
		Timeout:    5 * time.Second,
		Dial:       backend.Dialer(),
	}, log.NewTestLogger(log.InfoLevel))
	require.NoError(t, err)
	return c
}

func posID(s string) [32]byte {
	var id [32]byte
	copy(id[:], s)
	return id
}

func validRequest() vault.InvestmentRequest {
	amount, _ := new(big.Int).SetString("500000000000000000", 10)
	return vault.InvestmentRequest{
		User:             userAddr,
		Pool:             poolAddr,
		Amount:           amount,
		TargetChainID:    1284,
		TickLowerPercent: -500,
		TickUpperPercent: 500,
	}
}

// investmentInitiatedLog packs an event log as the contract would emit it.
func investmentInitiatedLog(t *testing.T, id [32]byte, req vault.InvestmentRequest) *types.Log {
	ev := vault.ABI.Events[vault.EvInvestmentInitiated]
	data, err := ev.Inputs.Pack(id, req.User, req.Pool, req.Amount,
		req.TargetChainID, req.TickLowerPercent, req.TickUpperPercent)
	require.NoError(t, err)
	return &types.Log{
		Address: vaultContract,
		Topics:  []common.Hash{ev.ID},
		Data:    data,
	}
}

func TestDispatchInvestmentReturnsPositionID(t *testing.T) {
	backend := chaintest.New()
	c := newVaultClient(t, backend)

	req := validRequest()
	want := posID("pos-123")
	backend.StageReceiptLogs([]*types.Log{investmentInitiatedLog(t, want, req)})

	id, receipt, err := c.DispatchInvestment(context.Background(), req,
		[]byte{0x04, 0x01}, []byte{0x04, 0x10})
	require.NoError(t, err)
	require.Equal(t, want, id)
	require.NotNil(t, receipt)
}

func TestDispatchInvestmentWithoutEvent(t *testing.T) {
	backend := chaintest.New()
	c := newVaultClient(t, backend)

	_, _, err := c.DispatchInvestment(context.Background(), validRequest(),
		[]byte{0x04}, []byte{0x04})
	require.ErrorIs(t, err, vault.ErrNoPositionID)
}

func TestDispatchInvestmentValidation(t *testing.T) {
	backend := chaintest.New()
	c := newVaultClient(t, backend)
	ctx := context.Background()

	t.Run("zero user", func(t *testing.T) {
		req := validRequest()
		req.User = common.Address{}
		_, _, err := c.DispatchInvestment(ctx, req, []byte{1}, []byte{1})
		require.ErrorIs(t, err, vault.ErrMissingUser)
	})

	t.Run("zero pool", func(t *testing.T) {
		req := validRequest()
		req.Pool = common.Address{}
		_, _, err := c.DispatchInvestment(ctx, req, []byte{1}, []byte{1})
		require.ErrorIs(t, err, vault.ErrMissingPool)
	})

	t.Run("nil amount", func(t *testing.T) {
		req := validRequest()
		req.Amount = nil
		_, _, err := c.DispatchInvestment(ctx, req, []byte{1}, []byte{1})
		require.ErrorIs(t, err, vault.ErrNilAmount)
	})

	t.Run("zero chain id", func(t *testing.T) {
		req := validRequest()
		req.TargetChainID = 0
		_, _, err := c.DispatchInvestment(ctx, req, []byte{1}, []byte{1})
		require.ErrorIs(t, err, vault.ErrInvalidChainID)
	})

	t.Run("empty xcm bytes", func(t *testing.T) {
		_, _, err := c.DispatchInvestment(ctx, validRequest(), nil, []byte{1})
		require.ErrorIs(t, err, vault.ErrEmptyXcmBytes)
	})

	// No transaction reached the backend.
	require.Empty(t, backend.Sent)
}

func TestLifecycleWrites(t *testing.T) {
	backend := chaintest.New()
	c := newVaultClient(t, backend)
	ctx := context.Background()
	id := posID("pos-123")

	_, err := c.ConfirmExecution(ctx, id, big.NewInt(456), big.NewInt(1e18))
	require.NoError(t, err)

	_, err = c.SettleLiquidation(ctx, id, big.NewInt(1200))
	require.NoError(t, err)

	_, err = c.ConfirmExecution(ctx, [32]byte{}, big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, vault.ErrEmptyPosition)

	_, err = c.SettleLiquidation(ctx, id, big.NewInt(0))
	require.ErrorIs(t, err, vault.ErrNonPositive)

	require.Len(t, backend.Sent, 2)
}

func TestGetPosition(t *testing.T) {
	backend := chaintest.New()
	c := newVaultClient(t, backend)

	outputs := vault.ABI.Methods["getPosition"].Outputs
	packed, err := outputs.Pack(userAddr, poolAddr, big.NewInt(500), uint64(1284), vault.StatusActive)
	require.NoError(t, err)
	backend.CallResult = packed

	p, err := c.GetPosition(context.Background(), posID("pos-123"))
	require.NoError(t, err)
	require.Equal(t, userAddr, p.User)
	require.Equal(t, poolAddr, p.Pool)
	require.Equal(t, int64(500), p.Amount.Int64())
	require.Equal(t, uint64(1284), p.TargetChainID)
	require.Equal(t, vault.StatusActive, p.Status)

	_, err = c.GetPosition(context.Background(), [32]byte{})
	require.ErrorIs(t, err, vault.ErrEmptyPosition)
}

func TestGetUserPositionsEmptyPage(t *testing.T) {
	backend := chaintest.New()
	c := newVaultClient(t, backend)

	outputs := vault.ABI.Methods["getUserPositions"].Outputs
	packed, err := outputs.Pack([][32]byte{}, big.NewInt(0))
	require.NoError(t, err)
	backend.CallResult = packed

	page, err := c.GetUserPositions(context.Background(), userAddr, 0, 10)
	require.NoError(t, err)
	require.Empty(t, page.IDs)
	require.Zero(t, page.Total.Sign())
}

func TestChainManagementValidation(t *testing.T) {
	backend := chaintest.New()
	c := newVaultClient(t, backend)
	ctx := context.Background()

	_, err := c.AddChain(ctx, 0, userAddr)
	require.ErrorIs(t, err, vault.ErrInvalidChainID)

	_, err = c.AddChain(ctx, 1284, common.Address{})
	require.ErrorIs(t, err, vault.ErrZeroExecutor)

	_, err = c.AddChain(ctx, 1284, userAddr)
	require.NoError(t, err)

	_, err = c.UpdateChainExecutor(ctx, 1284, poolAddr)
	require.NoError(t, err)

	_, err = c.RemoveChain(ctx, 1284)
	require.NoError(t, err)
}

func TestCallbacksDispatch(t *testing.T) {
	req := validRequest()
	id := posID("pos-123")
	lg := investmentInitiatedLog(t, id, req)
	lg.BlockNumber = 42
	lg.TxHash = common.HexToHash("0xbeef")

	var got vault.InvestmentInitiated
	cb := &vault.Callbacks{
		OnInvestmentInitiated: func(ev vault.InvestmentInitiated) { got = ev },
	}

	name, err := cb.Dispatch(*lg)
	require.NoError(t, err)
	require.Equal(t, vault.EvInvestmentInitiated, name)
	require.Equal(t, id, got.VaultPositionId)
	require.Equal(t, req.User, got.User)
	require.Equal(t, req.Amount, got.Amount)
	require.Equal(t, int32(-500), got.TickLowerPercent)
	require.Equal(t, uint64(42), got.Raw.BlockNumber)

	// Unknown topic is ignored, not an error.
	name, err = cb.Dispatch(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	require.NoError(t, err)
	require.Empty(t, name)

	// A registered set with a nil handler for the decoded kind is fine.
	name, err = (&vault.Callbacks{}).Dispatch(*lg)
	require.NoError(t, err)
	require.Equal(t, vault.EvInvestmentInitiated, name)
}
