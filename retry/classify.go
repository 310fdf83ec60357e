// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package retry executes remote operations with classified, bounded
// retries. Errors are matched against ordered pattern tables: transient
// errors are retried with exponential backoff, permanent errors abort
// immediately, and anything unrecognized is retried under the default
// policy.
package retry

import (
	"encoding/json"
	"errors"
	"strings"
)

// Classification is the retry-relevant kind of a failure.
type Classification uint8

const (
	// Unknown errors did not match any pattern; retried under default policy.
	Unknown Classification = iota
	// Transient errors are expected to clear on their own (network, nonce,
	// rate limits, full XCM queues).
	Transient
	// Permanent errors are business-rule failures that retrying cannot fix.
	Permanent
)

// String implements fmt.Stringer.
func (c Classification) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// transientPatterns are matched first. Order matters: more specific
// substrings come before generic ones.
var transientPatterns = []string{
	"nonce too low",
	"replacement transaction underpriced",
	"replacement underpriced",
	"already known",
	"request timed out",
	"context deadline exceeded",
	"timeout",
	"connection refused",
	"connection reset",
	"econnreset",
	"etimedout",
	"rate limit",
	"too many requests",
	"503 service unavailable",
	"502 bad gateway",
	"500 internal server error",
	"xcm queue full",
	"exhaustsresources",
	"weight limit exceeded",
	"weightlimitreached",
	"temporarily unavailable",
	"eof",
}

// permanentPatterns mark business-rule failures. Checked after transient
// so "timeout during revert" style messages stay retryable.
var permanentPatterns = []string{
	"insufficient balance",
	"insufficient funds",
	"execution reverted",
	"invalid signature",
	"not authorized",
	"notauthorized",
	"unauthorized",
	"contract is paused",
	"paused",
	"position not active",
	"position already settled",
	"token not supported",
	"invalid destination",
	"baddestination",
	"destinationunsupported",
	"slippage",
	"invalid opcode",
	"out of gas",
	"nonce too high",
	"chain not supported",
	"untrusted teleport",
	"barrier",
}

// Classify maps an error to its retry classification. It is total: a nil
// pattern match yields Unknown, never an error. Classification inspects
// the deepest meaningful message reachable through common wrapper shapes.
func Classify(err error) Classification {
	if err == nil {
		return Unknown
	}
	msg := strings.ToLower(ExtractMessage(err))

	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return Transient
		}
	}
	for _, p := range permanentPatterns {
		if strings.Contains(msg, p) {
			return Permanent
		}
	}
	return Unknown
}

// jsonError mirrors the nested error shapes produced by JSON-RPC servers
// and provider SDKs: {"reason": ...}, {"error": {"message": ...}},
// {"data": {"message": ...}}.
type jsonError struct {
	Reason  string     `json:"reason"`
	Message string     `json:"message"`
	Error   *jsonError `json:"error"`
	Data    *jsonError `json:"data"`
}

func (j *jsonError) deepest() string {
	if j == nil {
		return ""
	}
	if m := j.Data.deepest(); m != "" {
		return m
	}
	if m := j.Error.deepest(); m != "" {
		return m
	}
	if j.Reason != "" {
		return j.Reason
	}
	return j.Message
}

// ExtractMessage returns the most meaningful message for an error. It
// unwraps the Go error chain to the root cause, and when a message embeds
// a JSON error envelope it digs out the innermost reason/message field.
func ExtractMessage(err error) string {
	if err == nil {
		return ""
	}

	// Walk to the root of the wrap chain; wrapped messages usually prefix
	// context, the root carries the remote failure.
	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}
	msg := root.Error()

	// A JSON envelope may be embedded anywhere in the message.
	if start := strings.IndexByte(msg, '{'); start >= 0 {
		end := strings.LastIndexByte(msg, '}')
		if end > start {
			var je jsonError
			if json.Unmarshal([]byte(msg[start:end+1]), &je) == nil {
				if deep := je.deepest(); deep != "" {
					return deep
				}
			}
		}
	}
	return msg
}
