// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package proxy wraps the execution-chain contract: pending-investment
// execution, range checks, liquidation, refunds, and DEX reads with a
// TTL-cached token metadata lookup.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	log "github.com/luxfi/log"

	"github.com/luxfi/coordinator/chain"
)

var (
	ErrEmptyPosition   = errors.New("vault position id must not be zero")
	ErrNilPositionID   = errors.New("proxy position id must not be nil")
	ErrNilAmount       = errors.New("amount must not be nil")
	ErrNonPositive     = errors.New("amount must be positive")
	ErrNoExecutedEvent = errors.New("execute succeeded but no PositionExecuted event found")
	ErrNoLiquidation   = errors.New("liquidate succeeded but no LiquidationCompleted event found")
	ErrZeroToken       = errors.New("token address must not be zero")
	ErrEmptyReturnPath = errors.New("return destination must not be empty")
	ErrZeroTarget      = errors.New("settlement target must not be zero")
)

// defaultTokenTTL bounds how long token metadata is served from cache.
const defaultTokenTTL = 10 * time.Minute

// TokenInfo is the cached ERC-20 metadata for one supported token.
type TokenInfo struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// LiquidationParams drives liquidateSwapAndReturn.
type LiquidationParams struct {
	VaultPositionID [32]byte
	ProxyPositionID *big.Int
	MinBaseOut      *big.Int
}

// Precompiles holds the Moonbeam-family precompile addresses for the
// production XCM path. Zero addresses leave the contract routes in place.
type Precompiles struct {
	XTokens    common.Address // asset transfers, consumed by the contract itself
	Transactor common.Address // remote Transact submission
	XCM        common.Address // message utilities, dry run in particular
}

// Option tweaks client construction.
type Option func(*Client)

// WithPrecompiles routes settlement forwards through the XCM-Transactor
// precompile and enables remote dry runs via the XCM precompile.
func WithPrecompiles(p Precompiles) Option {
	return func(c *Client) { c.precompiles = p }
}

// Client exposes the typed contract surface on top of the shared chain
// plumbing.
type Client struct {
	*chain.Client
	log log.Logger

	precompiles Precompiles

	tokens  *bigcache.BigCache
	fetches atomic.Uint64
}

// NewClient builds a proxy client. tokenTTL bounds the metadata cache
// lifetime; zero selects the default.
func NewClient(cfg chain.Config, tokenTTL time.Duration, logger log.Logger, opts ...Option) (*Client, error) {
	cfg.ABI = ABI
	inner, err := chain.NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(tokenTTL))
	if err != nil {
		return nil, fmt.Errorf("token cache: %w", err)
	}
	c := &Client{Client: inner, log: logger, tokens: cache}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ExecutePendingInvestment mints the LP position for a pending transfer
// and returns the proxy-side position id from the PositionExecuted event.
func (c *Client) ExecutePendingInvestment(ctx context.Context, vaultPositionID [32]byte) (*big.Int, *types.Receipt, error) {
	if vaultPositionID == ([32]byte{}) {
		return nil, nil, ErrEmptyPosition
	}
	receipt, err := c.Transact(ctx, "executePendingInvestment", vaultPositionID)
	if err != nil {
		return nil, receipt, err
	}
	var ev PositionExecuted
	if _, err := c.ExtractEvent(receipt, EvPositionExecuted, &ev); err != nil {
		return nil, receipt, fmt.Errorf("%w: %v", ErrNoExecutedEvent, err)
	}
	c.log.Info("pending investment executed",
		"vaultPositionId", common.Hash(ev.VaultPositionId),
		"proxyPositionId", ev.ProxyPositionId, "liquidity", ev.Liquidity)
	return ev.ProxyPositionId, receipt, nil
}

// IsPositionOutOfRange reports whether the LP position sits outside its
// tick range, along with the current pool price.
func (c *Client) IsPositionOutOfRange(ctx context.Context, proxyPositionID *big.Int) (bool, *big.Int, error) {
	if proxyPositionID == nil {
		return false, nil, ErrNilPositionID
	}
	var (
		out   bool
		price *big.Int
	)
	err := c.Call(ctx, "isPositionOutOfRange", []interface{}{&out, &price}, proxyPositionID)
	return out, price, err
}

// LiquidateSwapAndReturn burns the LP position, swaps holdings to the
// base asset, and returns the on-chain totalBase from the
// LiquidationCompleted event.
func (c *Client) LiquidateSwapAndReturn(ctx context.Context, params LiquidationParams) (*big.Int, *types.Receipt, error) {
	if params.VaultPositionID == ([32]byte{}) {
		return nil, nil, ErrEmptyPosition
	}
	if params.ProxyPositionID == nil {
		return nil, nil, ErrNilPositionID
	}
	minOut := params.MinBaseOut
	if minOut == nil {
		minOut = new(big.Int)
	}
	receipt, err := c.Transact(ctx, "liquidateSwapAndReturn",
		params.VaultPositionID, params.ProxyPositionID, minOut)
	if err != nil {
		return nil, receipt, err
	}
	var ev LiquidationCompleted
	if _, err := c.ExtractEvent(receipt, EvLiquidationCompleted, &ev); err != nil {
		return nil, receipt, fmt.Errorf("%w: %v", ErrNoLiquidation, err)
	}
	return ev.TotalBase, receipt, nil
}

// CancelPendingPosition refunds a pending transfer that will not be
// executed. destination carries the encoded return route.
func (c *Client) CancelPendingPosition(ctx context.Context, vaultPositionID [32]byte, destination []byte) (*types.Receipt, error) {
	if vaultPositionID == ([32]byte{}) {
		return nil, ErrEmptyPosition
	}
	if len(destination) == 0 {
		return nil, ErrEmptyReturnPath
	}
	return c.Transact(ctx, "cancelPendingPosition", vaultPositionID, destination)
}

// ForwardSettlement submits a prebuilt inner call as a cross-chain
// Transact. destination routes to the custodial chain; target is the
// contract the inner call invokes there. With a Transactor precompile
// configured the call goes straight through it; otherwise it is wrapped
// by the contract's forwardSettlement.
func (c *Client) ForwardSettlement(ctx context.Context, destination []byte, target common.Address, innerCall []byte) (*types.Receipt, error) {
	if len(destination) == 0 || len(innerCall) == 0 {
		return nil, ErrEmptyReturnPath
	}
	if target == (common.Address{}) {
		return nil, ErrZeroTarget
	}
	if pc := c.precompiles.Transactor; pc != (common.Address{}) {
		input, err := TransactorABI.Pack("transactThroughSigned", destination, target, innerCall)
		if err != nil {
			return nil, fmt.Errorf("pack transactThroughSigned: %w", err)
		}
		c.log.Debug("forwarding settlement via transactor precompile",
			"precompile", pc, "target", target)
		return c.TransactRaw(ctx, pc, input)
	}
	return c.Transact(ctx, "forwardSettlement", destination, target, innerCall)
}

// DryRunXcm asks the XCM precompile whether the built message would
// execute on the destination. Returns ErrZeroTarget when no XCM
// precompile is configured.
func (c *Client) DryRunXcm(ctx context.Context, destination, message []byte) (bool, string, error) {
	pc := c.precompiles.XCM
	if pc == (common.Address{}) {
		return false, "", ErrZeroTarget
	}
	input, err := XcmUtilsABI.Pack("dryRun", destination, message)
	if err != nil {
		return false, "", fmt.Errorf("pack dryRun: %w", err)
	}
	raw, err := c.RawCall(ctx, pc, input)
	if err != nil {
		return false, "", fmt.Errorf("dry run: %w", err)
	}
	values, err := XcmUtilsABI.Unpack("dryRun", raw)
	if err != nil {
		return false, "", fmt.Errorf("unpack dryRun: %w", err)
	}
	ok, _ := values[0].(bool)
	reason, _ := values[1].(string)
	return ok, reason, nil
}

// GetActivePositions reads one page of active proxy position ids.
func (c *Client) GetActivePositions(ctx context.Context, offset, limit uint64) ([]*big.Int, *big.Int, error) {
	var (
		ids   []*big.Int
		total *big.Int
	)
	err := c.Call(ctx, "getActivePositions", []interface{}{&ids, &total},
		new(big.Int).SetUint64(offset), new(big.Int).SetUint64(limit))
	return ids, total, err
}

// Quote returns the DEX output amount for swapping amountIn.
func (c *Client) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if tokenIn == (common.Address{}) || tokenOut == (common.Address{}) {
		return nil, ErrZeroToken
	}
	if amountIn == nil {
		return nil, ErrNilAmount
	}
	if amountIn.Sign() <= 0 {
		return nil, ErrNonPositive
	}
	var out *big.Int
	err := c.Call(ctx, "quote", []interface{}{&out}, tokenIn, tokenOut, amountIn)
	return out, err
}

// SupportedTokens reads the raw supported token list, deduplicated and
// order-preserving.
func (c *Client) SupportedTokens(ctx context.Context) ([]common.Address, error) {
	var raw []common.Address
	if err := c.Call(ctx, "getSupportedTokens", []interface{}{&raw}); err != nil {
		return nil, err
	}
	seen := make(map[common.Address]struct{}, len(raw))
	tokens := raw[:0]
	for _, addr := range raw {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		tokens = append(tokens, addr)
	}
	return tokens, nil
}

// SupportedTokensWithNames resolves the supported token list to ERC-20
// metadata. Metadata is cached per address for the configured TTL, so
// repeated calls within the window fetch each address at most once.
func (c *Client) SupportedTokensWithNames(ctx context.Context) ([]TokenInfo, error) {
	tokens, err := c.SupportedTokens(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]TokenInfo, 0, len(tokens))
	for _, addr := range tokens {
		info, err := c.tokenInfo(ctx, addr)
		if err != nil {
			// One broken token must not hide the rest of the list.
			c.log.Warn("token metadata fetch failed", "token", addr, "err", err)
			info = TokenInfo{Address: addr}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// MetadataFetches counts underlying ERC-20 metadata round trips.
func (c *Client) MetadataFetches() uint64 { return c.fetches.Load() }

func (c *Client) tokenInfo(ctx context.Context, addr common.Address) (TokenInfo, error) {
	key := addr.Hex()
	if raw, err := c.tokens.Get(key); err == nil {
		var info TokenInfo
		if err := json.Unmarshal(raw, &info); err == nil {
			return info, nil
		}
	}

	c.fetches.Add(1)
	info := TokenInfo{Address: addr}
	var err error
	if info.Name, err = c.erc20String(ctx, addr, "name"); err != nil {
		return info, err
	}
	if info.Symbol, err = c.erc20String(ctx, addr, "symbol"); err != nil {
		return info, err
	}
	dec, err := c.erc20Decimals(ctx, addr)
	if err != nil {
		return info, err
	}
	info.Decimals = dec

	if raw, err := json.Marshal(info); err == nil {
		if err := c.tokens.Set(key, raw); err != nil {
			c.log.Debug("token cache set failed", "token", addr, "err", err)
		}
	}
	return info, nil
}

func (c *Client) erc20String(ctx context.Context, addr common.Address, method string) (string, error) {
	input, err := ERC20ABI.Pack(method)
	if err != nil {
		return "", err
	}
	raw, err := c.RawCall(ctx, addr, input)
	if err != nil {
		return "", fmt.Errorf("%s(%s): %w", method, addr, err)
	}
	values, err := ERC20ABI.Unpack(method, raw)
	if err != nil {
		return "", err
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("%s(%s): unexpected type %T", method, addr, values[0])
	}
	return s, nil
}

func (c *Client) erc20Decimals(ctx context.Context, addr common.Address) (uint8, error) {
	input, err := ERC20ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	raw, err := c.RawCall(ctx, addr, input)
	if err != nil {
		return 0, fmt.Errorf("decimals(%s): %w", addr, err)
	}
	values, err := ERC20ABI.Unpack("decimals", raw)
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals(%s): unexpected type %T", addr, values[0])
	}
	return d, nil
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
