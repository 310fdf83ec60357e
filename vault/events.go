// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
)

// Event names as they appear in the ABI.
const (
	EvDeposit                    = "Deposit"
	EvWithdrawal                 = "Withdrawal"
	EvInvestmentInitiated        = "InvestmentInitiated"
	EvPositionExecutionConfirmed = "PositionExecutionConfirmed"
	EvPositionLiquidated         = "PositionLiquidated"
	EvLiquidationSettled         = "LiquidationSettled"
	EvChainAdded                 = "ChainAdded"
	EvXcmMessageSent             = "XcmMessageSent"
)

// Raw carries the chain coordinates every delivered event includes.
type Raw struct {
	BlockNumber uint64
	TxHash      common.Hash
}

type Deposit struct {
	User   common.Address
	Amount *big.Int
	Raw    Raw
}

type Withdrawal struct {
	User   common.Address
	Amount *big.Int
	Raw    Raw
}

type InvestmentInitiated struct {
	VaultPositionId  [32]byte
	User             common.Address
	Pool             common.Address
	Amount           *big.Int
	TargetChainId    uint64
	TickLowerPercent int32
	TickUpperPercent int32
	Raw              Raw
}

type PositionExecutionConfirmed struct {
	VaultPositionId  [32]byte
	RemotePositionId *big.Int
	Liquidity        *big.Int
	Raw              Raw
}

type PositionLiquidated struct {
	VaultPositionId [32]byte
	FinalAmount     *big.Int
	Raw             Raw
}

type LiquidationSettled struct {
	VaultPositionId [32]byte
	ExpectedAmount  *big.Int
	ReceivedAmount  *big.Int
	Raw             Raw
}

type ChainAdded struct {
	ChainId  uint64
	Executor common.Address
	Raw      Raw
}

type XcmMessageSent struct {
	VaultPositionId [32]byte
	MessageHash     [32]byte
	Success         bool
	ErrorBlob       []byte
	Raw             Raw
}

// Callbacks is a named handler set for the vault event stream. Nil
// entries are skipped. Handlers run on the delivery goroutine and must
// not block.
type Callbacks struct {
	OnDeposit                    func(Deposit)
	OnWithdrawal                 func(Withdrawal)
	OnInvestmentInitiated        func(InvestmentInitiated)
	OnPositionExecutionConfirmed func(PositionExecutionConfirmed)
	OnPositionLiquidated         func(PositionLiquidated)
	OnLiquidationSettled         func(LiquidationSettled)
	OnChainAdded                 func(ChainAdded)
	OnXcmMessageSent             func(XcmMessageSent)
}

// EventName resolves a log's topic to the vault event it encodes, or
// "" when the log belongs to no known event.
func EventName(lg types.Log) string {
	if len(lg.Topics) == 0 {
		return ""
	}
	for name, ev := range ABI.Events {
		if ev.ID == lg.Topics[0] {
			return name
		}
	}
	return ""
}

// Dispatch decodes one contract log and routes it to the matching
// callback. Unknown logs are ignored. The returned name identifies the
// event kind for accounting, "" when the log was not ours.
func (cb *Callbacks) Dispatch(lg types.Log) (string, error) {
	name := EventName(lg)
	if name == "" {
		return "", nil
	}
	raw := Raw{BlockNumber: lg.BlockNumber, TxHash: lg.TxHash}

	switch name {
	case EvDeposit:
		var ev Deposit
		if err := unpack(name, lg, &ev); err != nil {
			return name, err
		}
		ev.Raw = raw
		if cb.OnDeposit != nil {
			cb.OnDeposit(ev)
		}
	case EvWithdrawal:
		var ev Withdrawal
		if err := unpack(name, lg, &ev); err != nil {
			return name, err
		}
		ev.Raw = raw
		if cb.OnWithdrawal != nil {
			cb.OnWithdrawal(ev)
		}
	case EvInvestmentInitiated:
		var ev InvestmentInitiated
		if err := unpack(name, lg, &ev); err != nil {
			return name, err
		}
		ev.Raw = raw
		if cb.OnInvestmentInitiated != nil {
			cb.OnInvestmentInitiated(ev)
		}
	case EvPositionExecutionConfirmed:
		var ev PositionExecutionConfirmed
		if err := unpack(name, lg, &ev); err != nil {
			return name, err
		}
		ev.Raw = raw
		if cb.OnPositionExecutionConfirmed != nil {
			cb.OnPositionExecutionConfirmed(ev)
		}
	case EvPositionLiquidated:
		var ev PositionLiquidated
		if err := unpack(name, lg, &ev); err != nil {
			return name, err
		}
		ev.Raw = raw
		if cb.OnPositionLiquidated != nil {
			cb.OnPositionLiquidated(ev)
		}
	case EvLiquidationSettled:
		var ev LiquidationSettled
		if err := unpack(name, lg, &ev); err != nil {
			return name, err
		}
		ev.Raw = raw
		if cb.OnLiquidationSettled != nil {
			cb.OnLiquidationSettled(ev)
		}
	case EvChainAdded:
		var ev ChainAdded
		if err := unpack(name, lg, &ev); err != nil {
			return name, err
		}
		ev.Raw = raw
		if cb.OnChainAdded != nil {
			cb.OnChainAdded(ev)
		}
	case EvXcmMessageSent:
		var ev XcmMessageSent
		if err := unpack(name, lg, &ev); err != nil {
			return name, err
		}
		ev.Raw = raw
		if cb.OnXcmMessageSent != nil {
			cb.OnXcmMessageSent(ev)
		}
	}
	return name, nil
}

func unpack(name string, lg types.Log, out interface{}) error {
	if err := ABI.UnpackIntoInterface(out, name, lg.Data); err != nil {
		return fmt.Errorf("decode %s at block %d: %w", name, lg.BlockNumber, err)
	}
	return nil
}
