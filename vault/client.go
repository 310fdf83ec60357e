// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vault wraps the custodial-chain contract: balance entry and
// exit, operator-driven position lifecycle writes, paginated reads, and
// typed decoding of the contract's event stream.
package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	log "github.com/luxfi/log"

	"github.com/luxfi/coordinator/chain"
)

var (
	ErrNilAmount      = errors.New("amount must not be nil")
	ErrNonPositive    = errors.New("amount must be positive")
	ErrEmptyPosition  = errors.New("vault position id must not be zero")
	ErrMissingUser    = errors.New("user address must not be zero")
	ErrMissingPool    = errors.New("pool address must not be zero")
	ErrEmptyXcmBytes  = errors.New("xcm destination and message must not be empty")
	ErrNoPositionID   = errors.New("dispatch succeeded but no InvestmentInitiated event found")
	ErrZeroExecutor   = errors.New("executor address must not be zero")
	ErrInvalidChainID = errors.New("chain id must not be zero")
)

// Position status values as stored by the contract.
const (
	StatusPendingExecution uint8 = iota
	StatusActive
	StatusLiquidated
	StatusFailed
)

// InvestmentRequest is the operator intent behind dispatchInvestment.
type InvestmentRequest struct {
	User             common.Address
	Pool             common.Address
	Amount           *big.Int
	TargetChainID    uint64
	TickLowerPercent int32
	TickUpperPercent int32
}

// Position is the on-chain view returned by getPosition.
type Position struct {
	User          common.Address
	Pool          common.Address
	Amount        *big.Int
	TargetChainID uint64
	Status        uint8
}

// PositionPage is one page of a user's position ids.
type PositionPage struct {
	IDs   [][32]byte
	Total *big.Int
}

// Client exposes the typed contract surface on top of the shared chain
// plumbing.
type Client struct {
	*chain.Client
	log log.Logger
}

// NewClient builds a vault client for the given chain config. The ABI
// field is overridden with the vault contract interface.
func NewClient(cfg chain.Config, logger log.Logger) (*Client, error) {
	cfg.ABI = ABI
	inner, err := chain.NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Client{Client: inner, log: logger}, nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	if amount.Sign() <= 0 {
		return ErrNonPositive
	}
	return nil
}

// Deposit credits the operator's balance on the vault.
func (c *Client) Deposit(ctx context.Context, amount *big.Int) (*types.Receipt, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	return c.Transact(ctx, "deposit", amount)
}

// Withdraw debits the operator's balance.
func (c *Client) Withdraw(ctx context.Context, amount *big.Int) (*types.Receipt, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	return c.Transact(ctx, "withdraw", amount)
}

// DispatchInvestment submits the investment with prebuilt cross-chain
// bytes and returns the vault position id minted by the contract. The
// id is recovered from the InvestmentInitiated event in the receipt.
func (c *Client) DispatchInvestment(ctx context.Context, req InvestmentRequest, xcmDestination, xcmMessage []byte) ([32]byte, *types.Receipt, error) {
	var zero [32]byte
	if req.User == (common.Address{}) {
		return zero, nil, ErrMissingUser
	}
	if req.Pool == (common.Address{}) {
		return zero, nil, ErrMissingPool
	}
	if err := checkAmount(req.Amount); err != nil {
		return zero, nil, err
	}
	if req.TargetChainID == 0 {
		return zero, nil, ErrInvalidChainID
	}
	if len(xcmDestination) == 0 || len(xcmMessage) == 0 {
		return zero, nil, ErrEmptyXcmBytes
	}

	receipt, err := c.Transact(ctx, "dispatchInvestment",
		req.User, req.Pool, req.Amount, req.TargetChainID,
		req.TickLowerPercent, req.TickUpperPercent,
		xcmDestination, xcmMessage)
	if err != nil {
		return zero, receipt, err
	}

	var ev InvestmentInitiated
	if _, err := c.ExtractEvent(receipt, "InvestmentInitiated", &ev); err != nil {
		return zero, receipt, fmt.Errorf("%w: %v", ErrNoPositionID, err)
	}
	c.log.Info("investment dispatched",
		"vaultPositionId", common.Hash(ev.VaultPositionId),
		"user", ev.User, "amount", ev.Amount)
	return ev.VaultPositionId, receipt, nil
}

// ConfirmExecution records the remote execution result for a position.
func (c *Client) ConfirmExecution(ctx context.Context, vaultPositionID [32]byte, proxyPositionID, liquidity *big.Int) (*types.Receipt, error) {
	if vaultPositionID == ([32]byte{}) {
		return nil, ErrEmptyPosition
	}
	if proxyPositionID == nil || liquidity == nil {
		return nil, ErrNilAmount
	}
	return c.Transact(ctx, "confirmExecution", vaultPositionID, proxyPositionID, liquidity)
}

// SettleLiquidation credits the user with the amount returned from the
// execution chain. The contract rejects non-active positions.
func (c *Client) SettleLiquidation(ctx context.Context, vaultPositionID [32]byte, receivedAmount *big.Int) (*types.Receipt, error) {
	if vaultPositionID == ([32]byte{}) {
		return nil, ErrEmptyPosition
	}
	if err := checkAmount(receivedAmount); err != nil {
		return nil, err
	}
	return c.Transact(ctx, "settleLiquidation", vaultPositionID, receivedAmount)
}

// GetPosition reads the on-chain record for a position id.
func (c *Client) GetPosition(ctx context.Context, vaultPositionID [32]byte) (Position, error) {
	var p Position
	if vaultPositionID == ([32]byte{}) {
		return p, ErrEmptyPosition
	}
	err := c.Call(ctx, "getPosition",
		[]interface{}{&p.User, &p.Pool, &p.Amount, &p.TargetChainID, &p.Status},
		vaultPositionID)
	return p, err
}

// GetUserPositions reads one page of a user's position ids. A user with
// no positions yields an empty page.
func (c *Client) GetUserPositions(ctx context.Context, user common.Address, offset, limit uint64) (PositionPage, error) {
	var page PositionPage
	if user == (common.Address{}) {
		return page, ErrMissingUser
	}
	err := c.Call(ctx, "getUserPositions",
		[]interface{}{&page.IDs, &page.Total},
		user, new(big.Int).SetUint64(offset), new(big.Int).SetUint64(limit))
	return page, err
}

// AddChain registers an execution chain and its executor contract.
func (c *Client) AddChain(ctx context.Context, chainID uint64, executor common.Address) (*types.Receipt, error) {
	if chainID == 0 {
		return nil, ErrInvalidChainID
	}
	if executor == (common.Address{}) {
		return nil, ErrZeroExecutor
	}
	return c.Transact(ctx, "addChain", chainID, executor)
}

// RemoveChain deregisters an execution chain.
func (c *Client) RemoveChain(ctx context.Context, chainID uint64) (*types.Receipt, error) {
	if chainID == 0 {
		return nil, ErrInvalidChainID
	}
	return c.Transact(ctx, "removeChain", chainID)
}

// UpdateChainExecutor swaps the executor contract for a chain.
func (c *Client) UpdateChainExecutor(ctx context.Context, chainID uint64, executor common.Address) (*types.Receipt, error) {
	if chainID == 0 {
		return nil, ErrInvalidChainID
	}
	if executor == (common.Address{}) {
		return nil, ErrZeroExecutor
	}
	return c.Transact(ctx, "updateChainExecutor", chainID, executor)
}

// Pause halts contract writes.
func (c *Client) Pause(ctx context.Context) (*types.Receipt, error) {
	return c.Transact(ctx, "pause")
}

// Unpause resumes contract writes.
func (c *Client) Unpause(ctx context.Context) (*types.Receipt, error) {
	return c.Transact(ctx, "unpause")
}

// Paused reads the pause flag.
func (c *Client) Paused(ctx context.Context) (bool, error) {
	var v bool
	err := c.Call(ctx, "paused", []interface{}{&v})
	return v, err
}

// SetTestMode flips the contract's test-mode branch.
func (c *Client) SetTestMode(ctx context.Context, enabled bool) (*types.Receipt, error) {
	return c.Transact(ctx, "setTestMode", enabled)
}

// TestMode reads the contract's test-mode flag.
func (c *Client) TestMode(ctx context.Context) (bool, error) {
	var v bool
	err := c.Call(ctx, "testMode", []interface{}{&v})
	return v, err
}
