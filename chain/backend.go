// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chain provides the shared plumbing both contract clients sit
// on: lazy connection management with bounded reconnect, typed contract
// reads and writes, and log subscriptions that survive provider drops by
// backfilling from a persisted block cursor.
package chain

import (
	"context"
	"errors"
	"math/big"

	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/ethclient"
)

var (
	ErrNotConnected  = errors.New("client not connected")
	ErrNoSigningKey  = errors.New("client is read-only: no signing key")
	ErrTxFailed      = errors.New("transaction reverted")
	ErrEventNotFound = errors.New("expected event not found in receipt")
)

// Backend is the subset of the RPC client surface the coordinator uses.
// *ethclient.Client satisfies it; tests substitute an in-memory fake.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	Close()
}

// Dialer opens a Backend for an endpoint. Swapped out in tests.
type Dialer func(ctx context.Context, url string) (Backend, error)

// DefaultDialer dials a real JSON-RPC endpoint.
func DefaultDialer(ctx context.Context, url string) (Backend, error) {
	return ethclient.DialContext(ctx, url)
}
