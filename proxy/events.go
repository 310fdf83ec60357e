// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
)

// Event names as they appear in the ABI.
const (
	EvAssetsReceived           = "AssetsReceived"
	EvPendingPositionCreated   = "PendingPositionCreated"
	EvPositionExecuted         = "PositionExecuted"
	EvPositionLiquidated       = "PositionLiquidated"
	EvLiquidationCompleted     = "LiquidationCompleted"
	EvAssetsReturned           = "AssetsReturned"
	EvPendingPositionCancelled = "PendingPositionCancelled"
)

// Raw carries the chain coordinates every delivered event includes.
type Raw struct {
	BlockNumber uint64
	TxHash      common.Hash
}

type AssetsReceived struct {
	VaultPositionId [32]byte
	Token           common.Address
	Amount          *big.Int
	Raw             Raw
}

type PendingPositionCreated struct {
	VaultPositionId [32]byte
	Amount          *big.Int
	Raw             Raw
}

type PositionExecuted struct {
	VaultPositionId [32]byte
	ProxyPositionId *big.Int
	Liquidity       *big.Int
	Raw             Raw
}

type PositionLiquidated struct {
	ProxyPositionId *big.Int
	Amount0         *big.Int
	Amount1         *big.Int
	Raw             Raw
}

type LiquidationCompleted struct {
	VaultPositionId [32]byte
	ProxyPositionId *big.Int
	TotalBase       *big.Int
	Raw             Raw
}

type AssetsReturned struct {
	VaultPositionId [32]byte
	User            common.Address
	Amount          *big.Int
	Raw             Raw
}

type PendingPositionCancelled struct {
	VaultPositionId [32]byte
	Reason          string
	Raw             Raw
}

// Callbacks is a named handler set for the proxy event stream. Nil
// entries are skipped. Handlers run on the delivery goroutine and must
// not block.
type Callbacks struct {
	OnAssetsReceived           func(AssetsReceived)
	OnPendingPositionCreated   func(PendingPositionCreated)
	OnPositionExecuted         func(PositionExecuted)
	OnPositionLiquidated       func(PositionLiquidated)
	OnLiquidationCompleted     func(LiquidationCompleted)
	OnAssetsReturned           func(AssetsReturned)
	OnPendingPositionCancelled func(PendingPositionCancelled)
}

// EventName resolves a log's topic to the proxy event it encodes, or ""
// when the log belongs to no known event.
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
// callback. Unknown logs are ignored.
func (cb *Callbacks) Dispatch(lg types.Log) (string, error) {
	name := EventName(lg)
	if name == "" {
		return "", nil
	}
	raw := Raw{BlockNumber: lg.BlockNumber, TxHash: lg.TxHash}

	switch name {
	case EvAssetsReceived:
		var ev AssetsReceived
		if err := unpack(name, lg, &ev); err != nil {
			return name, err
		}
		ev.Raw = raw
		if cb.OnAssetsReceived != nil {
			cb.OnAssetsReceived(ev)
		}
	case EvPendingPositionCreated:
		var ev PendingPositionCreated
		if err := unpack(name, lg, &ev); err != nil {
			return name, err
		}
		ev.Raw = raw
		if cb.OnPendingPositionCreated != nil {
			cb.OnPendingPositionCreated(ev)
		}
	case EvPositionExecuted:
		var ev PositionExecuted
		if err := unpack(name, lg, &ev); err != nil {
			return name, err
		}
		ev.Raw = raw
		if cb.OnPositionExecuted != nil {
			cb.OnPositionExecuted(ev)
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
	case EvLiquidationCompleted:
		var ev LiquidationCompleted
		if err := unpack(name, lg, &ev); err != nil {
			return name, err
		}
		ev.Raw = raw
		if cb.OnLiquidationCompleted != nil {
			cb.OnLiquidationCompleted(ev)
		}
	case EvAssetsReturned:
		var ev AssetsReturned
		if err := unpack(name, lg, &ev); err != nil {
			return name, err
		}
		ev.Raw = raw
		if cb.OnAssetsReturned != nil {
			cb.OnAssetsReturned(ev)
		}
	case EvPendingPositionCancelled:
		var ev PendingPositionCancelled
		if err := unpack(name, lg, &ev); err != nil {
			return name, err
		}
		ev.Raw = raw
		if cb.OnPendingPositionCancelled != nil {
			cb.OnPendingPositionCancelled(ev)
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
