// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package xcm

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
)

var (
	ErrNilAmount          = errors.New("amount is required")
	ErrZeroAmount         = errors.New("amount must be positive")
	ErrMissingProxy       = errors.New("proxy address not configured")
	ErrMissingVault       = errors.New("vault address not configured")
	ErrMissingUser        = errors.New("user address is required")
	ErrInvalidTickRange   = errors.New("invalid tick range")
	ErrFeatureDisabled    = errors.New("passethub transact settlement is disabled")
	ErrEndpointMissing    = errors.New("passethub endpoint not configured")
	ErrInvalidRecipient   = errors.New("recipient is not a 20-byte hex address")
	ErrEmptyVaultPosition = errors.New("vault position id is required")
)

// Version tag prepended to every destination and message payload.
const xcmVersion byte = 0x04

// Instruction indices for the XCM version the target runtimes speak.
// These are part of the builder's output contract and pinned by the
// golden tests; bump them together with xcmVersion.
const (
	instrWithdrawAsset byte = 0x00
	instrTransact      byte = 0x06
	instrDepositAsset  byte = 0x0d
	instrBuyExecution  byte = 0x13
	instrSetTopic      byte = 0x2c
)

// OriginKind values for Transact.
const (
	originKindSovereignAccount byte = 0x01
)

// TickRange bounds a concentrated-liquidity position in integer basis
// points around the current price.
type TickRange struct {
	LowerPercent int32
	UpperPercent int32
}

// Valid reports whether the range is ordered and non-degenerate.
func (r TickRange) Valid() bool {
	return r.LowerPercent < r.UpperPercent
}

// InvestmentSpec is the typed input for the dispatch path: everything the
// destination chain needs to open the position.
type InvestmentSpec struct {
	Amount       *big.Int       // base-asset units, 256-bit
	ProxyAddress common.Address // Proxy contract on the execution chain
	VaultAddress common.Address // Vault contract on the custodial chain
	User         common.Address // beneficiary wallet
	PoolAddress  common.Address // target LP pool
	ChainID      uint64         // execution chain EVM chain id
	TickRange    TickRange
}

// ReturnSpec is the typed input for the refund path: send base assets back
// to a user on the custodial chain.
type ReturnSpec struct {
	User   common.Address
	Amount *big.Int
}

// SettlementSpec is the input for the remote-settlement inner call.
type SettlementSpec struct {
	VaultAddress    common.Address
	VaultPositionID [32]byte
	ReceivedAmount  *big.Int
}

// Message is the builder output: destination and message bytes ready to
// pass verbatim to the Vault's dispatchInvestment.
type Message struct {
	Destination []byte
	Message     []byte
	Topic       [32]byte // blake3 topic embedded via SetTopic
}

// DryRunResult reports a simulated submission. EstimatedFees is a
// snapshot; the underlying chain state may move between dry-runs.
type DryRunResult struct {
	Success       bool
	EstimatedFees *big.Int
	FailureReason string
}
