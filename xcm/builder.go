// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package xcm

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/crypto"
	"github.com/zeebo/blake3"
)

// Mock payload magic emitted in test mode. The Vault contract's test-mode
// branch accepts any payload carrying this prefix.
var mockMagic = []byte("MOCKXCM1")

// Weight bought per instruction when estimating fees, in planck. The
// runtime re-prices at execution; this is only the dry-run snapshot.
const feePerInstruction = 1_000_000_000

// FeeSource supplies the execution-fee estimate for a dry run. Estimates
// are snapshots of chain state and may differ between calls.
type FeeSource interface {
	EstimateFee(instructions int) (*big.Int, error)
}

// staticFeeSource prices each instruction at a fixed rate.
type staticFeeSource struct{}

func (staticFeeSource) EstimateFee(instructions int) (*big.Int, error) {
	return new(big.Int).Mul(big.NewInt(feePerInstruction), big.NewInt(int64(instructions))), nil
}

// Builder constructs destination and message bytes for the Vault's
// dispatch path. All Build methods are pure: no clock, no counter, no
// network. Test mode swaps real SCALE programs for recognizable mocks.
type Builder struct {
	vaultParaID uint32
	proxyParaID uint32
	testMode    bool
	fees        FeeSource
}

// Option configures a Builder.
type Option func(*Builder)

// WithTestMode makes the builder emit mock payloads.
func WithTestMode(enabled bool) Option {
	return func(b *Builder) { b.testMode = enabled }
}

// WithFeeSource overrides the dry-run fee estimator.
func WithFeeSource(src FeeSource) Option {
	return func(b *Builder) { b.fees = src }
}

// NewBuilder creates a builder targeting the given parachains.
func NewBuilder(vaultParaID, proxyParaID uint32, opts ...Option) *Builder {
	b := &Builder{
		vaultParaID: vaultParaID,
		proxyParaID: proxyParaID,
		fees:        staticFeeSource{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// investCallArgs is the ABI shape of the Proxy-side entry point invoked by
// the Transact instruction.
var investCallArgs = abi.Arguments{
	{Name: "user", Type: mustType("address")},
	{Name: "pool", Type: mustType("address")},
	{Name: "amount", Type: mustType("uint256")},
	{Name: "chainId", Type: mustType("uint64")},
	{Name: "lowerPercent", Type: mustType("int32")},
	{Name: "upperPercent", Type: mustType("int32")},
}

var receiveInvestmentSelector = crypto.Keccak256([]byte(
	"receiveInvestment(address,address,uint256,uint64,int32,int32)"))[:4]

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// BuildInvestment produces the destination and message for dispatching an
// investment to the execution chain.
func (b *Builder) BuildInvestment(spec InvestmentSpec) (*Message, error) {
	if err := validateInvestment(spec); err != nil {
		return nil, err
	}
	if b.testMode {
		return b.mockMessage(investmentFingerprint(spec))
	}

	dest := parachainDestination(b.proxyParaID)

	inner, err := investCallArgs.Pack(
		spec.User, spec.PoolAddress, spec.Amount,
		spec.ChainID, spec.TickRange.LowerPercent, spec.TickRange.UpperPercent)
	if err != nil {
		return nil, fmt.Errorf("pack invest call: %w", err)
	}
	call := append(append([]byte{}, receiveInvestmentSelector...), inner...)

	body := &encoder{}
	if err := withdrawAsset(body, spec.Amount); err != nil {
		return nil, err
	}
	if err := buyExecution(body, spec.Amount); err != nil {
		return nil, err
	}
	transact(body, spec.ProxyAddress, call)

	return finalize(dest, body)
}

// BuildReturn produces the program that sends base assets back to a user
// on the custodial chain (refund path).
func (b *Builder) BuildReturn(spec ReturnSpec) (*Message, error) {
	if spec.User == (common.Address{}) {
		return nil, ErrMissingUser
	}
	if spec.Amount == nil {
		return nil, ErrNilAmount
	}
	if spec.Amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if b.testMode {
		return b.mockMessage(returnFingerprint(spec))
	}

	dest := parachainDestination(b.vaultParaID)

	body := &encoder{}
	if err := withdrawAsset(body, spec.Amount); err != nil {
		return nil, err
	}
	if err := buyExecution(body, spec.Amount); err != nil {
		return nil, err
	}
	depositAsset(body, spec.User)

	return finalize(dest, body)
}

// DryRun validates and encodes the spec without submitting, returning the
// fee snapshot. A successful dry run guarantees BuildInvestment on the
// same spec will not fail.
func (b *Builder) DryRun(spec InvestmentSpec) DryRunResult {
	if _, err := b.BuildInvestment(spec); err != nil {
		return DryRunResult{Success: false, FailureReason: err.Error()}
	}
	// Fixed program shape: withdraw, buy, transact, topic.
	fee, err := b.fees.EstimateFee(4)
	if err != nil {
		return DryRunResult{Success: false, FailureReason: fmt.Sprintf("fee estimate: %v", err)}
	}
	return DryRunResult{Success: true, EstimatedFees: fee}
}

func validateInvestment(spec InvestmentSpec) error {
	if spec.Amount == nil {
		return ErrNilAmount
	}
	if spec.Amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if spec.ProxyAddress == (common.Address{}) {
		return ErrMissingProxy
	}
	if spec.VaultAddress == (common.Address{}) {
		return ErrMissingVault
	}
	if spec.User == (common.Address{}) {
		return ErrMissingUser
	}
	if !spec.TickRange.Valid() {
		return ErrInvalidTickRange
	}
	return nil
}

// parachainDestination encodes VersionedLocation{parents: 1,
// interior: X1(Parachain(id))}.
func parachainDestination(paraID uint32) []byte {
	e := &encoder{}
	e.byte(xcmVersion)
	e.byte(0x01) // parents
	e.byte(0x01) // X1
	e.byte(0x00) // Junction::Parachain
	e.compact(uint64(paraID))
	return e.bytes()
}

// withdrawAsset encodes WithdrawAsset([{Here, Fungible(amount)}]).
func withdrawAsset(e *encoder, amount *big.Int) error {
	e.byte(instrWithdrawAsset)
	e.compact(1) // one asset
	e.byte(0x00) // AssetId: Location parents 0
	e.byte(0x00) // interior Here
	e.byte(0x00) // Fungibility::Fungible
	return e.compactBig(amount)
}

// buyExecution encodes BuyExecution{fees: {Here, Fungible(amount)},
// weight_limit: Unlimited}.
func buyExecution(e *encoder, amount *big.Int) error {
	e.byte(instrBuyExecution)
	e.byte(0x00) // AssetId: Location parents 0
	e.byte(0x00) // interior Here
	e.byte(0x00) // Fungibility::Fungible
	if err := e.compactBig(amount); err != nil {
		return err
	}
	e.byte(0x00) // WeightLimit::Unlimited
	return nil
}

// transact encodes Transact{origin_kind: SovereignAccount, call} where the
// call is a Proxy-contract invocation wrapped for the EVM executor.
func transact(e *encoder, target common.Address, call []byte) {
	e.byte(instrTransact)
	e.byte(originKindSovereignAccount)
	inner := &encoder{}
	inner.raw(target.Bytes())
	inner.vec(call)
	e.vec(inner.bytes())
}

// depositAsset encodes DepositAsset{assets: Wild(All), beneficiary:
// AccountKey20(user)}.
func depositAsset(e *encoder, beneficiary common.Address) {
	e.byte(instrDepositAsset)
	e.byte(0x01) // AssetFilter::Wild
	e.byte(0x00) // WildAsset::All
	e.byte(0x00) // beneficiary parents
	e.byte(0x01) // X1
	e.byte(0x03) // Junction::AccountKey20
	e.byte(0x00) // network: None
	e.raw(beneficiary.Bytes())
}

// finalize appends the SetTopic instruction and wraps the body in the
// version envelope. The topic is the blake3 digest of the untagged body,
// so identical programs share a topic.
func finalize(dest []byte, body *encoder) (*Message, error) {
	topic := blake3.Sum256(body.bytes())
	body.byte(instrSetTopic)
	body.raw(topic[:])

	msg := &encoder{}
	msg.byte(xcmVersion)
	msg.compact(4) // instruction count
	msg.raw(body.bytes())

	return &Message{
		Destination: dest,
		Message:     msg.bytes(),
		Topic:       topic,
	}, nil
}

// mockMessage emits the recognizable test-mode payload: magic, version
// tag, and the spec fingerprint. Well-formed enough for the contract's
// test-mode branch, clearly not a real program.
func (b *Builder) mockMessage(fingerprint [32]byte) (*Message, error) {
	dest := &encoder{}
	dest.raw(mockMagic)
	dest.byte(xcmVersion)
	dest.u32(b.proxyParaID)

	msg := &encoder{}
	msg.raw(mockMagic)
	msg.byte(xcmVersion)
	msg.raw(fingerprint[:])

	return &Message{
		Destination: dest.bytes(),
		Message:     msg.bytes(),
		Topic:       fingerprint,
	}, nil
}

// investmentFingerprint canonically hashes an investment spec.
func investmentFingerprint(spec InvestmentSpec) [32]byte {
	e := &encoder{}
	e.raw(spec.User.Bytes())
	e.raw(spec.ProxyAddress.Bytes())
	e.raw(spec.VaultAddress.Bytes())
	e.raw(spec.PoolAddress.Bytes())
	e.raw(spec.Amount.Bytes())
	e.u64(spec.ChainID)
	e.u32(uint32(spec.TickRange.LowerPercent))
	e.u32(uint32(spec.TickRange.UpperPercent))
	return blake3.Sum256(e.bytes())
}

// returnFingerprint canonically hashes a return spec.
func returnFingerprint(spec ReturnSpec) [32]byte {
	e := &encoder{}
	e.raw(spec.User.Bytes())
	e.raw(spec.Amount.Bytes())
	return blake3.Sum256(e.bytes())
}
