// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	log "github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Millisecond,
		Jitter:      false,
	}
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	logger := log.NewTestLogger(log.InfoLevel)

	res := Execute(context.Background(), logger, testPolicy(), func(ctx context.Context) (int, error) {
		return 42, nil
	})

	require.True(t, res.Success)
	require.Equal(t, 42, res.Value)
	require.Equal(t, 1, res.Attempts)
	require.NoError(t, res.Err)
}

func TestExecuteRetriesTransient(t *testing.T) {
	logger := log.NewTestLogger(log.InfoLevel)

	calls := 0
	res := Execute(context.Background(), logger, testPolicy(), func(ctx context.Context) (string, error) {
		calls++
		if calls <= 3 {
			return "", errors.New("nonce too low")
		}
		return "0xdeadbeef", nil
	})

	require.True(t, res.Success)
	require.Equal(t, 4, res.Attempts)
	require.Equal(t, "0xdeadbeef", res.Value)
}

func TestExecuteAbortsOnPermanent(t *testing.T) {
	logger := log.NewTestLogger(log.InfoLevel)

	calls := 0
	res := Execute(context.Background(), logger, testPolicy(), func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("execution reverted: slippage")
	})

	require.False(t, res.Success)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, 1, calls)
	require.Equal(t, Permanent, res.ErrorType)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	logger := log.NewTestLogger(log.InfoLevel)

	res := Execute(context.Background(), logger, testPolicy(), func(ctx context.Context) (int, error) {
		return 0, errors.New("connection refused")
	})

	require.False(t, res.Success)
	require.Equal(t, 4, res.Attempts)
	require.Equal(t, Transient, res.ErrorType)
}

func TestExecuteUnknownIsRetried(t *testing.T) {
	logger := log.NewTestLogger(log.InfoLevel)

	calls := 0
	res := Execute(context.Background(), logger, testPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("some entirely novel failure")
	})

	require.False(t, res.Success)
	require.Equal(t, 4, calls)
	require.Equal(t, Unknown, res.ErrorType)
}

func TestExecuteCancellation(t *testing.T) {
	logger := log.NewTestLogger(log.InfoLevel)
	ctx, cancel := context.WithCancel(context.Background())

	pol := testPolicy()
	pol.BaseDelay = time.Hour // would block forever without cancellation
	pol.MaxDelay = time.Hour

	done := make(chan Result[int], 1)
	go func() {
		done <- Execute(ctx, logger, pol, func(ctx context.Context) (int, error) {
			return 0, errors.New("timeout")
		})
	}()

	cancel()
	select {
	case res := <-done:
		require.False(t, res.Success)
		require.Error(t, res.Err)
		require.Equal(t, 1, res.Attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
}

func TestDelaySchedule(t *testing.T) {
	pol := Policy{
		MaxAttempts: 10,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
	}

	require.Equal(t, time.Second, pol.Delay(1))
	require.Equal(t, 2*time.Second, pol.Delay(2))
	require.Equal(t, 4*time.Second, pol.Delay(3))
	require.Equal(t, 16*time.Second, pol.Delay(5))
	// ceil(log2(30)) + 1 = 6 is the first clamped attempt
	require.Equal(t, 30*time.Second, pol.Delay(6))
	require.Equal(t, 30*time.Second, pol.Delay(9))
}

func TestWithJitterBounds(t *testing.T) {
	base := 1000 * time.Millisecond
	for i := 0; i < 200; i++ {
		d := withJitter(base)
		require.GreaterOrEqual(t, d, 750*time.Millisecond)
		require.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want Classification
	}{
		{"nonce too low", Transient},
		{"replacement transaction underpriced", Transient},
		{"Request timed out after 30000ms", Transient},
		{"connect ECONNRESET 10.0.0.1:9933", Transient},
		{"429 rate limit exceeded", Transient},
		{"503 Service Unavailable", Transient},
		{"XCM queue full", Transient},
		{"WeightLimitReached", Transient},
		{"insufficient balance for transfer", Permanent},
		{"execution reverted: PositionNotActive", Permanent},
		{"invalid signature", Permanent},
		{"caller is not authorized", Permanent},
		{"contract is paused", Permanent},
		{"token not supported", Permanent},
		{"invalid destination", Permanent},
		{"slippage tolerance exceeded", Permanent},
		{"mysterious gremlins", Unknown},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Classify(errors.New(tc.msg)), "message %q", tc.msg)
	}
}

func TestClassifyIsIdempotentAndTotal(t *testing.T) {
	err := errors.New("execution reverted")
	require.Equal(t, Classify(err), Classify(err))
	require.Equal(t, Unknown, Classify(nil))
}

func TestClassifyUnwrapsChains(t *testing.T) {
	root := errors.New("nonce too low")
	wrapped := fmt.Errorf("dispatch investment: %w", fmt.Errorf("send tx: %w", root))
	require.Equal(t, Transient, Classify(wrapped))
}

func TestExtractMessageNestedJSON(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`rpc failed: {"reason":"execution reverted: slippage"}`, "execution reverted: slippage"},
		{`{"error":{"message":"nonce too low"}}`, "nonce too low"},
		{`{"error":{"message":"outer","data":{"message":"insufficient balance"}}}`, "insufficient balance"},
		{`plain failure text`, "plain failure text"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ExtractMessage(errors.New(tc.raw)), "raw %q", tc.raw)
	}
}

func TestParseXcmEventError(t *testing.T) {
	t.Run("transient variant", func(t *testing.T) {
		res := ParseXcmEventErrorString("ExhaustsResources")
		require.Equal(t, Transient, res.ErrorType)
		require.True(t, res.ShouldRetry)
	})

	t.Run("permanent variant", func(t *testing.T) {
		res := ParseXcmEventErrorString("UntrustedTeleportLocation")
		require.Equal(t, Permanent, res.ErrorType)
		require.False(t, res.ShouldRetry)
	})

	t.Run("hex encoded variant", func(t *testing.T) {
		// "Barrier" as 0x-hex
		res := ParseXcmEventErrorString("0x42617272696572")
		require.Equal(t, Permanent, res.ErrorType)
		require.Equal(t, "Barrier", res.Message)
	})

	t.Run("opaque bytes", func(t *testing.T) {
		res := ParseXcmEventError([]byte{0x01, 0x02, 0xff})
		require.Equal(t, Unknown, res.ErrorType)
		require.True(t, res.ShouldRetry)
	})
}
