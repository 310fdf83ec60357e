// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package xcm

import (
	"fmt"
	"regexp"

	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/crypto"
)

// hexAddressRe is the strict recipient format: 0x followed by exactly 40
// hex characters.
var hexAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

var settleCallArgs = abi.Arguments{
	{Name: "vaultPositionId", Type: mustType("bytes32")},
	{Name: "receivedAmount", Type: mustType("uint256")},
}

var settleLiquidationSelector = crypto.Keccak256([]byte(
	"settleLiquidation(bytes32,uint256)"))[:4]

// SettlementBuilder builds the inner-call payload for the production
// settlement path: the Proxy wraps the payload into a cross-chain Transact
// that invokes settleLiquidation on the Vault. Feature-flagged; disabled
// deployments fail fast rather than emit bytes no runtime will accept.
type SettlementBuilder struct {
	enabled      bool
	vaultParaID  uint32
	vaultAddress string // configured endpoint on the custodial chain
}

// NewSettlementBuilder constructs the PassetHub transact builder.
// vaultAddress may be empty when the deployment has no remote endpoint;
// Build then rejects with ErrEndpointMissing.
func NewSettlementBuilder(enabled bool, vaultParaID uint32, vaultAddress string) *SettlementBuilder {
	return &SettlementBuilder{
		enabled:      enabled,
		vaultParaID:  vaultParaID,
		vaultAddress: vaultAddress,
	}
}

// Enabled reports whether the remote settlement path is switched on.
func (sb *SettlementBuilder) Enabled() bool { return sb.enabled }

// SettlementCall is the built inner payload plus the destination the
// Transact wrapper targets.
type SettlementCall struct {
	Destination []byte // custodial-chain location
	Call        []byte // selector + ABI args for settleLiquidation
	Target      common.Address
}

// Build produces the settlement inner call. Identical inputs always yield
// identical bytes.
func (sb *SettlementBuilder) Build(spec SettlementSpec) (*SettlementCall, error) {
	if !sb.enabled {
		return nil, ErrFeatureDisabled
	}
	if sb.vaultAddress == "" {
		return nil, ErrEndpointMissing
	}
	if !hexAddressRe.MatchString(sb.vaultAddress) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, sb.vaultAddress)
	}
	if spec.VaultPositionID == ([32]byte{}) {
		return nil, ErrEmptyVaultPosition
	}
	if spec.ReceivedAmount == nil {
		return nil, ErrNilAmount
	}
	if spec.ReceivedAmount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}

	packed, err := settleCallArgs.Pack(spec.VaultPositionID, spec.ReceivedAmount)
	if err != nil {
		return nil, fmt.Errorf("pack settlement call: %w", err)
	}

	return &SettlementCall{
		Destination: parachainDestination(sb.vaultParaID),
		Call:        append(append([]byte{}, settleLiquidationSelector...), packed...),
		Target:      common.HexToAddress(sb.vaultAddress),
	}, nil
}
