// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package xcm

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

var (
	testUser  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testProxy = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testVault = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testPool  = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func validSpec() InvestmentSpec {
	amount, _ := new(big.Int).SetString("500000000000000000", 10)
	return InvestmentSpec{
		Amount:       amount,
		ProxyAddress: testProxy,
		VaultAddress: testVault,
		User:         testUser,
		PoolAddress:  testPool,
		ChainID:      1284,
		TickRange:    TickRange{LowerPercent: -500, UpperPercent: 500},
	}
}

func TestBuildInvestmentDeterministic(t *testing.T) {
	b := NewBuilder(1000, 2004)

	first, err := b.BuildInvestment(validSpec())
	require.NoError(t, err)
	second, err := b.BuildInvestment(validSpec())
	require.NoError(t, err)

	require.Equal(t, first.Destination, second.Destination)
	require.Equal(t, first.Message, second.Message)
	require.Equal(t, first.Topic, second.Topic)
}

func TestBuildInvestmentDestination(t *testing.T) {
	b := NewBuilder(1000, 2004)
	msg, err := b.BuildInvestment(validSpec())
	require.NoError(t, err)

	// VersionedLocation: version, parents=1, X1, Parachain, compact(2004)
	want := []byte{0x04, 0x01, 0x01, 0x00, 0x51, 0x1f}
	require.Equal(t, want, msg.Destination)
}

func TestBuildInvestmentMessageShape(t *testing.T) {
	b := NewBuilder(1000, 2004)
	msg, err := b.BuildInvestment(validSpec())
	require.NoError(t, err)

	require.Equal(t, xcmVersion, msg.Message[0])
	// compact(4) instruction count
	require.Equal(t, byte(4<<2), msg.Message[1])
	require.Equal(t, instrWithdrawAsset, msg.Message[2])
	// SetTopic trailer carries the topic digest
	require.True(t, bytes.HasSuffix(msg.Message, msg.Topic[:]))
	require.NotEqual(t, [32]byte{}, msg.Topic)
}

func TestBuildInvestmentValidation(t *testing.T) {
	b := NewBuilder(1000, 2004)

	t.Run("nil amount", func(t *testing.T) {
		spec := validSpec()
		spec.Amount = nil
		_, err := b.BuildInvestment(spec)
		require.ErrorIs(t, err, ErrNilAmount)
	})

	t.Run("zero amount", func(t *testing.T) {
		spec := validSpec()
		spec.Amount = big.NewInt(0)
		_, err := b.BuildInvestment(spec)
		require.ErrorIs(t, err, ErrZeroAmount)
	})

	t.Run("missing proxy", func(t *testing.T) {
		spec := validSpec()
		spec.ProxyAddress = common.Address{}
		_, err := b.BuildInvestment(spec)
		require.ErrorIs(t, err, ErrMissingProxy)
	})

	t.Run("inverted tick range", func(t *testing.T) {
		spec := validSpec()
		spec.TickRange = TickRange{LowerPercent: 500, UpperPercent: -500}
		_, err := b.BuildInvestment(spec)
		require.ErrorIs(t, err, ErrInvalidTickRange)
	})
}

func TestDryRunImpliesBuild(t *testing.T) {
	b := NewBuilder(1000, 2004)

	res := b.DryRun(validSpec())
	require.True(t, res.Success)
	require.NotNil(t, res.EstimatedFees)
	require.Positive(t, res.EstimatedFees.Sign())

	_, err := b.BuildInvestment(validSpec())
	require.NoError(t, err)
}

func TestDryRunReportsFailure(t *testing.T) {
	b := NewBuilder(1000, 2004)

	spec := validSpec()
	spec.User = common.Address{}
	res := b.DryRun(spec)
	require.False(t, res.Success)
	require.Contains(t, res.FailureReason, "user address")
}

func TestTestModeMockBytes(t *testing.T) {
	b := NewBuilder(1000, 2004, WithTestMode(true))

	msg, err := b.BuildInvestment(validSpec())
	require.NoError(t, err)

	require.True(t, bytes.HasPrefix(msg.Destination, mockMagic))
	require.True(t, bytes.HasPrefix(msg.Message, mockMagic))

	// Mock output is still deterministic.
	again, err := b.BuildInvestment(validSpec())
	require.NoError(t, err)
	require.Equal(t, msg.Message, again.Message)

	// And distinguishable from the production encoding.
	prod, err := NewBuilder(1000, 2004).BuildInvestment(validSpec())
	require.NoError(t, err)
	require.NotEqual(t, prod.Message, msg.Message)
}

func TestBuildReturn(t *testing.T) {
	b := NewBuilder(1000, 2004)

	amount := big.NewInt(1e18)
	msg, err := b.BuildReturn(ReturnSpec{User: testUser, Amount: amount})
	require.NoError(t, err)

	// Refunds target the custodial chain.
	want := []byte{0x04, 0x01, 0x01, 0x00}
	require.Equal(t, want, msg.Destination[:4])
	require.Contains(t, string(msg.Message), string(testUser.Bytes()))

	_, err = b.BuildReturn(ReturnSpec{User: common.Address{}, Amount: amount})
	require.ErrorIs(t, err, ErrMissingUser)

	_, err = b.BuildReturn(ReturnSpec{User: testUser, Amount: big.NewInt(-1)})
	require.ErrorIs(t, err, ErrZeroAmount)
}

func TestCompactEncoding(t *testing.T) {
	cases := []struct {
		value uint64
		want  []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x04}},
		{63, []byte{0xfc}},
		{64, []byte{0x01, 0x01}},
		{2004, []byte{0x51, 0x1f}},
		{16383, []byte{0xfd, 0xff}},
		{16384, []byte{0x02, 0x00, 0x01, 0x00}},
		{1 << 29, []byte{0x02, 0x00, 0x00, 0x80}},
		{1 << 30, []byte{0x03, 0x00, 0x00, 0x00, 0x40}},
	}
	for _, tc := range cases {
		e := &encoder{}
		e.compact(tc.value)
		require.Equal(t, tc.want, e.bytes(), "compact(%d)", tc.value)
	}
}

func TestCompactBigLargeAmounts(t *testing.T) {
	// 1.2e18 fits u64 mode
	e := &encoder{}
	amount, _ := new(big.Int).SetString("1200000000000000000", 10)
	require.NoError(t, e.compactBig(amount))
	require.NotEmpty(t, e.bytes())

	// 2^127 requires big-integer mode
	e = &encoder{}
	huge := new(big.Int).Lsh(big.NewInt(1), 127)
	require.NoError(t, e.compactBig(huge))
	require.Equal(t, byte(12<<2|0x03), e.bytes()[0]) // 16-byte payload header

	// 2^128 overflows u128
	e = &encoder{}
	over := new(big.Int).Lsh(big.NewInt(1), 128)
	require.ErrorIs(t, e.compactBig(over), ErrU128Overflow)

	// negative rejected
	e = &encoder{}
	require.ErrorIs(t, e.compactBig(big.NewInt(-1)), ErrNegativeAmount)
}

func TestSettlementBuilder(t *testing.T) {
	var posID [32]byte
	copy(posID[:], []byte("pos-123"))
	spec := SettlementSpec{
		VaultAddress:    testVault,
		VaultPositionID: posID,
		ReceivedAmount:  big.NewInt(1e18),
	}

	t.Run("feature disabled", func(t *testing.T) {
		sb := NewSettlementBuilder(false, 1000, testVault.Hex())
		_, err := sb.Build(spec)
		require.ErrorIs(t, err, ErrFeatureDisabled)
	})

	t.Run("endpoint missing", func(t *testing.T) {
		sb := NewSettlementBuilder(true, 1000, "")
		_, err := sb.Build(spec)
		require.ErrorIs(t, err, ErrEndpointMissing)
	})

	t.Run("malformed endpoint", func(t *testing.T) {
		sb := NewSettlementBuilder(true, 1000, "0x1234")
		_, err := sb.Build(spec)
		require.ErrorIs(t, err, ErrInvalidRecipient)
	})

	t.Run("builds deterministic call", func(t *testing.T) {
		sb := NewSettlementBuilder(true, 1000, testVault.Hex())
		call, err := sb.Build(spec)
		require.NoError(t, err)
		require.Equal(t, testVault, call.Target)
		require.Equal(t, settleLiquidationSelector, call.Call[:4])
		require.Len(t, call.Call, 4+64) // selector + bytes32 + uint256

		again, err := sb.Build(spec)
		require.NoError(t, err)
		require.Equal(t, call.Call, again.Call)
		require.Equal(t, call.Destination, again.Destination)
	})

	t.Run("rejects empty position id", func(t *testing.T) {
		sb := NewSettlementBuilder(true, 1000, testVault.Hex())
		bad := spec
		bad.VaultPositionID = [32]byte{}
		_, err := sb.Build(bad)
		require.ErrorIs(t, err, ErrEmptyVaultPosition)
	})
}
