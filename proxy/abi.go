// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"strings"

	"github.com/luxfi/geth/accounts/abi"
)

// abiJSON covers the execution-chain contract surface. Event fields are
// non-indexed so payloads decode from the data segment alone.
const abiJSON = `[
	{"type":"function","name":"executePendingInvestment","stateMutability":"nonpayable","inputs":[
		{"name":"vaultPositionId","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"isPositionOutOfRange","stateMutability":"view","inputs":[
		{"name":"proxyPositionId","type":"uint256"}],"outputs":[
		{"name":"outOfRange","type":"bool"},
		{"name":"price","type":"uint256"}]},
	{"type":"function","name":"liquidateSwapAndReturn","stateMutability":"nonpayable","inputs":[
		{"name":"vaultPositionId","type":"bytes32"},
		{"name":"proxyPositionId","type":"uint256"},
		{"name":"minBaseOut","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"cancelPendingPosition","stateMutability":"nonpayable","inputs":[
		{"name":"vaultPositionId","type":"bytes32"},
		{"name":"returnDestination","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"getActivePositions","stateMutability":"view","inputs":[
		{"name":"offset","type":"uint256"},
		{"name":"limit","type":"uint256"}],"outputs":[
		{"name":"ids","type":"uint256[]"},
		{"name":"total","type":"uint256"}]},
	{"type":"function","name":"quote","stateMutability":"view","inputs":[
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amountIn","type":"uint256"}],"outputs":[
		{"name":"amountOut","type":"uint256"}]},
	{"type":"function","name":"getSupportedTokens","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"address[]"}]},
	{"type":"function","name":"forwardSettlement","stateMutability":"nonpayable","inputs":[
		{"name":"destination","type":"bytes"},
		{"name":"target","type":"address"},
		{"name":"innerCall","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"setTestMode","stateMutability":"nonpayable","inputs":[{"name":"enabled","type":"bool"}],"outputs":[]},
	{"type":"function","name":"testMode","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},

	{"type":"event","name":"AssetsReceived","inputs":[
		{"name":"vaultPositionId","type":"bytes32","indexed":false},
		{"name":"token","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"PendingPositionCreated","inputs":[
		{"name":"vaultPositionId","type":"bytes32","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"PositionExecuted","inputs":[
		{"name":"vaultPositionId","type":"bytes32","indexed":false},
		{"name":"proxyPositionId","type":"uint256","indexed":false},
		{"name":"liquidity","type":"uint256","indexed":false}]},
	{"type":"event","name":"PositionLiquidated","inputs":[
		{"name":"proxyPositionId","type":"uint256","indexed":false},
		{"name":"amount0","type":"uint256","indexed":false},
		{"name":"amount1","type":"uint256","indexed":false}]},
	{"type":"event","name":"LiquidationCompleted","inputs":[
		{"name":"vaultPositionId","type":"bytes32","indexed":false},
		{"name":"proxyPositionId","type":"uint256","indexed":false},
		{"name":"totalBase","type":"uint256","indexed":false}]},
	{"type":"event","name":"AssetsReturned","inputs":[
		{"name":"vaultPositionId","type":"bytes32","indexed":false},
		{"name":"user","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"PendingPositionCancelled","inputs":[
		{"name":"vaultPositionId","type":"bytes32","indexed":false},
		{"name":"reason","type":"string","indexed":false}]}
]`

// erc20JSON is the metadata slice of the token standard used by the
// supported-tokens read.
const erc20JSON = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// transactorJSON is the XCM-Transactor precompile surface the settlement
// forward uses in production. The signature mirrors forwardSettlement so
// the two routes stay interchangeable.
const transactorJSON = `[
	{"type":"function","name":"transactThroughSigned","stateMutability":"nonpayable","inputs":[
		{"name":"destination","type":"bytes"},
		{"name":"target","type":"address"},
		{"name":"call","type":"bytes"}],"outputs":[]}
]`

// xcmUtilsJSON is the XCM utilities precompile slice used for remote
// dry-running a built message before dispatch.
const xcmUtilsJSON = `[
	{"type":"function","name":"dryRun","stateMutability":"view","inputs":[
		{"name":"destination","type":"bytes"},
		{"name":"message","type":"bytes"}],"outputs":[
		{"name":"ok","type":"bool"},
		{"name":"reason","type":"string"}]}
]`

var (
	ABI           = mustParse(abiJSON)
	ERC20ABI      = mustParse(erc20JSON)
	TransactorABI = mustParse(transactorJSON)
	XcmUtilsABI   = mustParse(xcmUtilsJSON)
)

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
