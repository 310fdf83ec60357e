// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package retry

import (
	"strings"
	"unicode"

	"github.com/luxfi/geth/common/hexutil"
)

// XcmError is the decoded form of the error blob carried inside emitted
// XCM-failure events.
type XcmError struct {
	ErrorType   Classification
	Message     string
	ShouldRetry bool
}

// xcmTransientErrors are XCM executor outcomes that clear once the lane
// drains or weight frees up.
var xcmTransientErrors = []string{
	"exhaustsresources",
	"weightlimitreached",
	"weightnotcomputable",
	"holdingwouldoverflow",
	"queuefull",
	"maxweightinvalid",
}

// xcmPermanentErrors are executor outcomes that a resubmission cannot fix.
var xcmPermanentErrors = []string{
	"untrustedreserve",
	"untrustedteleport",
	"assetnotfound",
	"failedtotransactasset",
	"locationfull",
	"locationnotinvertible",
	"badorigin",
	"invalidlocation",
	"destinationunsupported",
	"unhandledxcmversion",
	"barrier",
	"notwithdrawable",
	"tooexpensive",
	"trap",
	"nodeal",
}

// ParseXcmEventError decodes the raw error payload of an XCM failure event.
// The payload is either a printable variant name (possibly 0x-hex encoded)
// or opaque SCALE bytes; opaque payloads classify as Unknown and retryable.
func ParseXcmEventError(raw []byte) XcmError {
	msg := decodeBlob(raw)
	lower := strings.ToLower(msg)

	for _, p := range xcmTransientErrors {
		if strings.Contains(lower, p) {
			return XcmError{ErrorType: Transient, Message: msg, ShouldRetry: true}
		}
	}
	for _, p := range xcmPermanentErrors {
		if strings.Contains(lower, p) {
			return XcmError{ErrorType: Permanent, Message: msg, ShouldRetry: false}
		}
	}
	return XcmError{ErrorType: Unknown, Message: msg, ShouldRetry: true}
}

// ParseXcmEventErrorString is ParseXcmEventError for payloads already
// delivered as strings.
func ParseXcmEventErrorString(raw string) XcmError {
	return ParseXcmEventError([]byte(raw))
}

// decodeBlob normalizes the event payload to a printable message. Hex
// payloads are decoded first; if the result is not printable the original
// hex form is kept so operators can still inspect it.
func decodeBlob(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "0x") {
		decoded, err := hexutil.Decode(s)
		if err == nil && isPrintable(decoded) {
			return string(decoded)
		}
		return s
	}
	if isPrintable(raw) {
		return s
	}
	return hexutil.Encode(raw)
}

func isPrintable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, r := range string(b) {
		if r == unicode.ReplacementChar {
			return false
		}
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
