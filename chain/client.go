// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/crypto"
	log "github.com/luxfi/log"
)

// Reconnect backoff bounds. Doubles from min to max, then stays at max.
const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = time.Minute
)

// receiptPollInterval is how often a pending transaction is re-checked.
const receiptPollInterval = 2 * time.Second

// Config parameterizes a contract client.
type Config struct {
	Name       string         // chain label used in logs ("vault", "proxy")
	RPCURL     string         // endpoint; ws for subscriptions
	Contract   common.Address // bound contract
	ABI        abi.ABI        // parsed contract ABI
	SigningKey string         // hex key, empty = read-only
	Timeout    time.Duration  // per-RPC deadline, 0 = 30s
	Dial       Dialer         // nil = DefaultDialer
}

// Client binds one contract on one chain: lazy connect, typed reads and
// writes, receipt waiting, and reconnect with bounded backoff. A Client
// must not share its signing key with another goroutine's signer.
type Client struct {
	cfg     Config
	log     log.Logger
	key     *ecdsa.PrivateKey
	keyAddr common.Address

	mu      sync.RWMutex
	backend Backend
	chainID *big.Int

	// txMu serializes nonce acquisition and submission.
	txMu sync.Mutex
}

// NewClient creates an unconnected client. The signing key, when present,
// is parsed eagerly so misconfiguration fails at startup.
func NewClient(cfg Config, logger log.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Dial == nil {
		cfg.Dial = DefaultDialer
	}
	c := &Client{cfg: cfg, log: logger}
	if cfg.SigningKey != "" {
		key, err := crypto.HexToECDSA(cfg.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("parse signing key for %s: %w", cfg.Name, err)
		}
		c.key = key
		c.keyAddr = common.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// IsInitialized reports whether the client holds a live connection.
func (c *Client) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend != nil
}

// Contract returns the bound contract address.
func (c *Client) Contract() common.Address { return c.cfg.Contract }

// Operator returns the signing address, zero for read-only clients.
func (c *Client) Operator() common.Address { return c.keyAddr }

// Name returns the chain label.
func (c *Client) Name() string { return c.cfg.Name }

// Connect dials the endpoint if not already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil {
		return nil
	}
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	backend, err := c.cfg.Dial(dialCtx, c.cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.Name, err)
	}
	chainID, err := backend.ChainID(dialCtx)
	if err != nil {
		backend.Close()
		return fmt.Errorf("chain id %s: %w", c.cfg.Name, err)
	}
	c.backend = backend
	c.chainID = chainID
	c.log.Info("chain client connected", "chain", c.cfg.Name, "chainId", chainID)
	return nil
}

// Reconnect drops the current connection and redials with exponential
// backoff until success or ctx cancellation.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
	c.mu.Unlock()

	delay := reconnectMinDelay
	for {
		c.mu.Lock()
		err := c.connectLocked(ctx)
		c.mu.Unlock()
		if err == nil {
			return nil
		}
		c.log.Warn("reconnect failed", "chain", c.cfg.Name, "retryIn", delay, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// Close tears down the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
}

// getBackend returns the live backend, lazily connecting.
func (c *Client) getBackend(ctx context.Context) (Backend, error) {
	c.mu.RLock()
	b := c.backend
	c.mu.RUnlock()
	if b != nil {
		return b, nil
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.backend == nil {
		return nil, ErrNotConnected
	}
	return c.backend, nil
}

// Call performs a typed read: packs the method, executes eth_call, and
// unpacks the results into out (a slice of pointers).
func (c *Client) Call(ctx context.Context, method string, out []interface{}, args ...interface{}) error {
	backend, err := c.getBackend(ctx)
	if err != nil {
		return err
	}
	input, err := c.cfg.ABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	raw, err := backend.CallContract(callCtx, ethereum.CallMsg{
		To:   &c.cfg.Contract,
		Data: input,
	}, nil)
	if err != nil {
		return fmt.Errorf("call %s.%s: %w", c.cfg.Name, method, err)
	}

	values, err := c.cfg.ABI.Unpack(method, raw)
	if err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) < len(out) {
		return fmt.Errorf("unpack %s: got %d values, want %d", method, len(values), len(out))
	}
	for i := range out {
		if err := assign(out[i], values[i]); err != nil {
			return fmt.Errorf("unpack %s result %d: %w", method, i, err)
		}
	}
	return nil
}

// RawCall executes eth_call against an arbitrary address with prepacked
// input. Used for calls outside the bound contract, token metadata reads
// in particular.
func (c *Client) RawCall(ctx context.Context, to common.Address, input []byte) ([]byte, error) {
	backend, err := c.getBackend(ctx)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return backend.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: input}, nil)
}

// Transact signs and submits a state-changing call and waits for its
// receipt. Returns ErrTxFailed when the receipt status is 0.
func (c *Client) Transact(ctx context.Context, method string, args ...interface{}) (*types.Receipt, error) {
	if c.key == nil {
		return nil, ErrNoSigningKey
	}
	backend, err := c.getBackend(ctx)
	if err != nil {
		return nil, err
	}
	input, err := c.cfg.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return c.transact(ctx, backend, c.cfg.Contract, method, input)
}

// TransactRaw signs and submits prepacked input to an arbitrary address
// and waits for the receipt. Used for precompile calls that bypass the
// bound contract.
func (c *Client) TransactRaw(ctx context.Context, to common.Address, input []byte) (*types.Receipt, error) {
	if c.key == nil {
		return nil, ErrNoSigningKey
	}
	backend, err := c.getBackend(ctx)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, backend, to, to.Hex(), input)
}

func (c *Client) transact(ctx context.Context, backend Backend, to common.Address, label string, input []byte) (*types.Receipt, error) {
	c.txMu.Lock()
	tx, err := c.submit(ctx, backend, to, input)
	c.txMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("submit %s.%s: %w", c.cfg.Name, label, err)
	}

	receipt, err := c.WaitMined(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s.%s tx %s", ErrTxFailed, c.cfg.Name, label, tx.Hash())
	}
	c.log.Debug("transaction mined",
		"chain", c.cfg.Name, "method", label,
		"tx", tx.Hash(), "block", receipt.BlockNumber)
	return receipt, nil
}

func (c *Client) submit(ctx context.Context, backend Backend, to common.Address, input []byte) (*types.Transaction, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	nonce, err := backend.PendingNonceAt(callCtx, c.keyAddr)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := backend.SuggestGasPrice(callCtx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	tipCap, err := backend.SuggestGasTipCap(callCtx)
	if err != nil {
		// Chains without EIP-1559 report an error here; fall back to legacy pricing.
		tipCap = gasPrice
	}
	gasLimit, err := backend.EstimateGas(callCtx, ethereum.CallMsg{
		From: c.keyAddr,
		To:   &to,
		Data: input,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: gasPrice,
		Gas:       gasLimit + gasLimit/5, // headroom over the estimate
		To:        &to,
		Data:      input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := backend.SendTransaction(callCtx, signed); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return signed, nil
}

// WaitMined polls for the receipt of txHash until it lands or ctx ends.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	backend, err := c.getBackend(ctx)
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for tx %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ExtractEvent finds the first log in the receipt emitted by the bound
// contract for the named event and unpacks its non-indexed fields.
func (c *Client) ExtractEvent(receipt *types.Receipt, name string, out interface{}) (*types.Log, error) {
	ev, ok := c.cfg.ABI.Events[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s not in ABI", ErrEventNotFound, name)
	}
	for _, lg := range receipt.Logs {
		if lg.Address != c.cfg.Contract || len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
			continue
		}
		if out != nil {
			if err := c.cfg.ABI.UnpackIntoInterface(out, name, lg.Data); err != nil {
				return nil, fmt.Errorf("unpack event %s: %w", name, err)
			}
		}
		return lg, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrEventNotFound, name)
}

// assign copies an unpacked ABI value into a typed destination pointer.
func assign(dst, src interface{}) error {
	switch d := dst.(type) {
	case *common.Address:
		v, ok := src.(common.Address)
		if !ok {
			return fmt.Errorf("expected address, got %T", src)
		}
		*d = v
	case **big.Int:
		v, ok := src.(*big.Int)
		if !ok {
			return fmt.Errorf("expected *big.Int, got %T", src)
		}
		*d = v
	case *bool:
		v, ok := src.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", src)
		}
		*d = v
	case *[32]byte:
		v, ok := src.([32]byte)
		if !ok {
			return fmt.Errorf("expected bytes32, got %T", src)
		}
		*d = v
	case *[]common.Address:
		v, ok := src.([]common.Address)
		if !ok {
			return fmt.Errorf("expected address slice, got %T", src)
		}
		*d = v
	case *uint64:
		v, ok := src.(uint64)
		if !ok {
			return fmt.Errorf("expected uint64, got %T", src)
		}
		*d = v
	case *uint8:
		v, ok := src.(uint8)
		if !ok {
			return fmt.Errorf("expected uint8, got %T", src)
		}
		*d = v
	case *int32:
		v, ok := src.(int32)
		if !ok {
			return fmt.Errorf("expected int32, got %T", src)
		}
		*d = v
	case *[][32]byte:
		v, ok := src.([][32]byte)
		if !ok {
			return fmt.Errorf("expected bytes32 slice, got %T", src)
		}
		*d = v
	case *[]*big.Int:
		v, ok := src.([]*big.Int)
		if !ok {
			return fmt.Errorf("expected uint256 slice, got %T", src)
		}
		*d = v
	case *string:
		v, ok := src.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", src)
		}
		*d = v
	default:
		return fmt.Errorf("unsupported destination type %T", dst)
	}
	return nil
}
