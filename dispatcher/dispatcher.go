// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dispatcher turns operator investment intents into dry-run
// validated, retried custodial-chain submissions.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	log "github.com/luxfi/log"

	"github.com/luxfi/coordinator/retry"
	"github.com/luxfi/coordinator/vault"
	"github.com/luxfi/coordinator/xcm"
)

var ErrDryRunFailed = errors.New("xcm dry run failed")

// VaultSubmitter is the slice of the vault client the dispatcher needs.
type VaultSubmitter interface {
	DispatchInvestment(ctx context.Context, req vault.InvestmentRequest, xcmDestination, xcmMessage []byte) ([32]byte, *types.Receipt, error)
}

// Validator proves built message bytes against the destination runtime,
// the XCM precompile's dry run in production.
type Validator func(ctx context.Context, destination, message []byte) (bool, string, error)

// Option tweaks dispatcher construction.
type Option func(*Dispatcher)

// WithValidator adds a remote validation step between build and submit.
func WithValidator(v Validator) Option {
	return func(d *Dispatcher) { d.validate = v }
}

// Request is an operator investment intent.
type Request struct {
	User             common.Address
	Pool             common.Address
	Amount           *big.Int
	ChainID          uint64
	TickLowerPercent int32
	TickUpperPercent int32
}

// Dispatcher builds the cross-chain program for a request, proves it
// with a dry run, and submits it with retries.
type Dispatcher struct {
	vault    VaultSubmitter
	builder  *xcm.Builder
	policy   retry.Policy
	validate Validator
	log      log.Logger

	proxyAddress common.Address
	vaultAddress common.Address
}

func New(vaultClient VaultSubmitter, builder *xcm.Builder, proxyAddress, vaultAddress common.Address, policy retry.Policy, logger log.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		vault:        vaultClient,
		builder:      builder,
		policy:       policy,
		log:          logger,
		proxyAddress: proxyAddress,
		vaultAddress: vaultAddress,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchInvestment validates the request against a dry run, builds
// the final bytes, and submits them to the vault. The returned id is
// the contract-minted vault position id.
func (d *Dispatcher) DispatchInvestment(ctx context.Context, req Request) ([32]byte, error) {
	var zero [32]byte

	spec := xcm.InvestmentSpec{
		Amount:       req.Amount,
		ProxyAddress: d.proxyAddress,
		VaultAddress: d.vaultAddress,
		User:         req.User,
		PoolAddress:  req.Pool,
		ChainID:      req.ChainID,
		TickRange: xcm.TickRange{
			LowerPercent: req.TickLowerPercent,
			UpperPercent: req.TickUpperPercent,
		},
	}

	dry := d.builder.DryRun(spec)
	if !dry.Success {
		return zero, fmt.Errorf("%w: %s", ErrDryRunFailed, dry.FailureReason)
	}
	msg, err := d.builder.BuildInvestment(spec)
	if err != nil {
		return zero, fmt.Errorf("build xcm: %w", err)
	}
	if d.validate != nil {
		ok, reason, err := d.validate(ctx, msg.Destination, msg.Message)
		if err != nil {
			return zero, fmt.Errorf("validate xcm: %w", err)
		}
		if !ok {
			return zero, fmt.Errorf("%w: %s", ErrDryRunFailed, reason)
		}
	}
	d.log.Info("dispatching investment",
		"user", req.User, "pool", req.Pool, "amount", req.Amount,
		"chainId", req.ChainID, "estimatedFees", dry.EstimatedFees)

	res := retry.Execute(ctx, d.log, d.policy, func(ctx context.Context) ([32]byte, error) {
		id, _, err := d.vault.DispatchInvestment(ctx, vault.InvestmentRequest{
			User:             req.User,
			Pool:             req.Pool,
			Amount:           req.Amount,
			TargetChainID:    req.ChainID,
			TickLowerPercent: req.TickLowerPercent,
			TickUpperPercent: req.TickUpperPercent,
		}, msg.Destination, msg.Message)
		return id, err
	})
	if !res.Success {
		return zero, fmt.Errorf("dispatch failed after %d attempts (%s): %w",
			res.Attempts, res.ErrorType, res.Err)
	}
	d.log.Info("investment dispatched",
		"vaultPositionId", common.Hash(res.Value), "attempts", res.Attempts)
	return res.Value, nil
}
