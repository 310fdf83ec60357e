// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	log "github.com/luxfi/log"
)

// Policy controls how an operation is retried.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before attempt 2
	Multiplier  float64       // backoff growth factor
	MaxDelay    time.Duration // backoff ceiling
	Jitter      bool          // randomize each delay by ±25%
}

// DefaultPolicy matches the coordinator-wide defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// normalized fills zero fields with defaults so a partially built Policy
// behaves sensibly.
func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Delay returns the pre-sleep backoff for a failed attempt (1-based),
// before jitter: min(base * multiplier^(attempt-1), max).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	f := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if f > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(f)
}

// Result reports the outcome of Execute, including partial progress when
// the operation ultimately failed or was cancelled.
type Result[T any] struct {
	Success   bool
	Value     T
	Err       error
	Attempts  int
	Duration  time.Duration
	ErrorType Classification // classification of the final error; meaningless on success
}

// Operation is one attempt of a retryable unit of work. It must honor ctx.
type Operation[T any] func(ctx context.Context) (T, error)

// Execute runs op under the policy. Transient and Unknown failures are
// retried with exponential backoff; Permanent failures abort immediately.
// Cancellation aborts any pending sleep and returns the last error seen.
func Execute[T any](ctx context.Context, logger log.Logger, pol Policy, op Operation[T]) Result[T] {
	pol = pol.normalized()
	start := time.Now()

	var res Result[T]
	for attempt := 1; attempt <= pol.MaxAttempts; attempt++ {
		res.Attempts = attempt

		value, err := op(ctx)
		if err == nil {
			res.Success = true
			res.Value = value
			res.Duration = time.Since(start)
			return res
		}
		res.Err = err
		res.ErrorType = Classify(err)

		if res.ErrorType == Permanent {
			logger.Debug("operation failed permanently",
				"attempt", attempt, "err", ExtractMessage(err))
			break
		}
		if attempt == pol.MaxAttempts {
			break
		}

		delay := pol.Delay(attempt)
		if pol.Jitter {
			delay = withJitter(delay)
		}
		logger.Debug("retrying operation",
			"attempt", attempt, "delay", delay,
			"classification", res.ErrorType.String(),
			"err", ExtractMessage(err))

		select {
		case <-ctx.Done():
			res.Duration = time.Since(start)
			if res.Err == nil {
				res.Err = ctx.Err()
				res.ErrorType = Classify(ctx.Err())
			}
			return res
		case <-time.After(delay):
		}
	}

	res.Duration = time.Since(start)
	return res
}

// withJitter scales d by a uniform factor in [0.75, 1.25], floored to a
// whole millisecond.
func withJitter(d time.Duration) time.Duration {
	factor := 0.75 + rand.Float64()*0.5
	ms := int64(float64(d.Milliseconds()) * factor)
	return time.Duration(ms) * time.Millisecond
}
