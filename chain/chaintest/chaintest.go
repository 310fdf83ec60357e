// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chaintest provides an in-memory Backend double shared by the
// contract client test suites.
package chaintest

import (
	"context"
	"math/big"
	"sync"

	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/coordinator/chain"
)

// Sub satisfies ethereum.Subscription.
type Sub struct {
	errc chan error
	once sync.Once
}

func NewSub() *Sub { return &Sub{errc: make(chan error, 1)} }

func (s *Sub) Unsubscribe()      { s.once.Do(func() { close(s.errc) }) }
func (s *Sub) Err() <-chan error { return s.errc }

// Fail terminates the subscription with err, as a dropped provider would.
func (s *Sub) Fail(err error) { s.errc <- err }

// Backend is a programmable chain.Backend. The zero value is not usable;
// construct with New.
type Backend struct {
	mu sync.Mutex

	ChainIDValue *big.Int
	Head         uint64
	TxStatus     uint64

	// CallFunc, when set, answers eth_call per message. CallResult and
	// CallErr answer otherwise.
	CallFunc   func(msg ethereum.CallMsg) ([]byte, error)
	CallResult []byte
	CallErr    error

	// FilterFunc, when set, answers FilterLogs queries.
	FilterFunc func(q ethereum.FilterQuery) []types.Log

	Sent      []*types.Transaction
	Receipts  map[common.Hash]*types.Receipt
	LogCh     chan<- types.Log
	SubCount  int
	CloseHits int

	// nextLogs are attached to the receipt of the next sent transaction.
	nextLogs []*types.Log
}

func New() *Backend {
	return &Backend{
		ChainIDValue: big.NewInt(1284),
		TxStatus:     types.ReceiptStatusSuccessful,
		Receipts:     make(map[common.Hash]*types.Receipt),
	}
}

// Dialer returns a chain.Dialer that always yields this backend.
func (b *Backend) Dialer() chain.Dialer {
	return func(ctx context.Context, url string) (chain.Backend, error) {
		return b, nil
	}
}

// Lock exposes the mutex for tests that mutate programmable fields while
// the backend is live.
func (b *Backend) Lock()   { b.mu.Lock() }
func (b *Backend) Unlock() { b.mu.Unlock() }

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) { return b.ChainIDValue, nil }

func (b *Backend) BlockNumber(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Head, nil
}

func (b *Backend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	fn, res, err := b.CallFunc, b.CallResult, b.CallErr
	b.mu.Unlock()
	if fn != nil {
		return fn(msg)
	}
	return res, err
}

func (b *Backend) PendingNonceAt(ctx context.Context, _ common.Address) (uint64, error) {
	return 7, nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (b *Backend) EstimateGas(ctx context.Context, _ ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Sent = append(b.Sent, tx)
	if _, ok := b.Receipts[tx.Hash()]; !ok {
		b.Receipts[tx.Hash()] = &types.Receipt{
			Status:      b.TxStatus,
			TxHash:      tx.Hash(),
			BlockNumber: new(big.Int).SetUint64(b.Head),
			Logs:        b.nextLogs,
		}
		b.nextLogs = nil
	}
	return nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, h common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.Receipts[h]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (b *Backend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FilterFunc == nil {
		return nil, nil
	}
	return b.FilterFunc(q), nil
}

func (b *Backend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LogCh = ch
	b.SubCount++
	return NewSub(), nil
}

func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseHits++
}

// Emit pushes a live log to the current subscription channel.
func (b *Backend) Emit(lg types.Log) {
	b.mu.Lock()
	ch := b.LogCh
	b.mu.Unlock()
	ch <- lg
}

// StageReceiptLogs attaches logs to the receipt of the next transaction
// sent through the backend. Used to simulate contract events.
func (b *Backend) StageReceiptLogs(logs []*types.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextLogs = logs
}
