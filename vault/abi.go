// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"strings"

	"github.com/luxfi/geth/accounts/abi"
)

// abiJSON covers the custodial-chain contract surface the coordinator
// drives. Event fields are deliberately non-indexed so payloads decode
// from the data segment alone.
const abiJSON = `[
	{"type":"function","name":"deposit","stateMutability":"payable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"dispatchInvestment","stateMutability":"nonpayable","inputs":[
		{"name":"user","type":"address"},
		{"name":"pool","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"targetChainId","type":"uint64"},
		{"name":"tickLowerPercent","type":"int32"},
		{"name":"tickUpperPercent","type":"int32"},
		{"name":"xcmDestination","type":"bytes"},
		{"name":"xcmMessage","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"confirmExecution","stateMutability":"nonpayable","inputs":[
		{"name":"vaultPositionId","type":"bytes32"},
		{"name":"proxyPositionId","type":"uint256"},
		{"name":"liquidity","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"settleLiquidation","stateMutability":"nonpayable","inputs":[
		{"name":"vaultPositionId","type":"bytes32"},
		{"name":"receivedAmount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"getPosition","stateMutability":"view","inputs":[
		{"name":"vaultPositionId","type":"bytes32"}],"outputs":[
		{"name":"user","type":"address"},
		{"name":"pool","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"targetChainId","type":"uint64"},
		{"name":"status","type":"uint8"}]},
	{"type":"function","name":"getUserPositions","stateMutability":"view","inputs":[
		{"name":"user","type":"address"},
		{"name":"offset","type":"uint256"},
		{"name":"limit","type":"uint256"}],"outputs":[
		{"name":"ids","type":"bytes32[]"},
		{"name":"total","type":"uint256"}]},
	{"type":"function","name":"addChain","stateMutability":"nonpayable","inputs":[
		{"name":"chainId","type":"uint64"},
		{"name":"executor","type":"address"}],"outputs":[]},
	{"type":"function","name":"removeChain","stateMutability":"nonpayable","inputs":[
		{"name":"chainId","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"updateChainExecutor","stateMutability":"nonpayable","inputs":[
		{"name":"chainId","type":"uint64"},
		{"name":"executor","type":"address"}],"outputs":[]},
	{"type":"function","name":"pause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"unpause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"setTestMode","stateMutability":"nonpayable","inputs":[{"name":"enabled","type":"bool"}],"outputs":[]},
	{"type":"function","name":"testMode","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},

	{"type":"event","name":"Deposit","inputs":[
		{"name":"user","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"Withdrawal","inputs":[
		{"name":"user","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"InvestmentInitiated","inputs":[
		{"name":"vaultPositionId","type":"bytes32","indexed":false},
		{"name":"user","type":"address","indexed":false},
		{"name":"pool","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"targetChainId","type":"uint64","indexed":false},
		{"name":"tickLowerPercent","type":"int32","indexed":false},
		{"name":"tickUpperPercent","type":"int32","indexed":false}]},
	{"type":"event","name":"PositionExecutionConfirmed","inputs":[
		{"name":"vaultPositionId","type":"bytes32","indexed":false},
		{"name":"remotePositionId","type":"uint256","indexed":false},
		{"name":"liquidity","type":"uint256","indexed":false}]},
	{"type":"event","name":"PositionLiquidated","inputs":[
		{"name":"vaultPositionId","type":"bytes32","indexed":false},
		{"name":"finalAmount","type":"uint256","indexed":false}]},
	{"type":"event","name":"LiquidationSettled","inputs":[
		{"name":"vaultPositionId","type":"bytes32","indexed":false},
		{"name":"expectedAmount","type":"uint256","indexed":false},
		{"name":"receivedAmount","type":"uint256","indexed":false}]},
	{"type":"event","name":"ChainAdded","inputs":[
		{"name":"chainId","type":"uint64","indexed":false},
		{"name":"executor","type":"address","indexed":false}]},
	{"type":"event","name":"XcmMessageSent","inputs":[
		{"name":"vaultPositionId","type":"bytes32","indexed":false},
		{"name":"messageHash","type":"bytes32","indexed":false},
		{"name":"success","type":"bool","indexed":false},
		{"name":"errorBlob","type":"bytes","indexed":false}]}
]`

// ABI is the parsed contract interface. Parsing a constant cannot fail,
// so the error is checked once at init.
var ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()
