// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package backend

import (
	clerr "github.com/codelens-dev/codelens/pkg/errors"
)

// Kind classifies a backend failure. The set is closed: retry eligibility,
// health transitions, and metrics breakdown all key off these six values.
type Kind string

const (
	KindConfiguration  Kind = "CONFIGURATION_ERROR"
	KindNetwork        Kind = "NETWORK_ERROR"
	KindAuthentication Kind = "AUTHENTICATION_ERROR"
	KindRateLimit      Kind = "RATE_LIMIT_ERROR"
	KindUnavailable    Kind = "BACKEND_UNAVAILABLE"
	KindResponseFormat Kind = "RESPONSE_FORMAT_ERROR"
)

// kindCodes maps each Kind onto its pkg/errors code so oops codes remain
// the single error vocabulary across the codebase.
var kindCodes = map[Kind]clerr.Code{
	KindConfiguration:  clerr.CodeBackendConfigInvalid,
	KindNetwork:        clerr.CodeBackendNetworkFailure,
	KindAuthentication: clerr.CodeBackendAuthDenied,
	KindRateLimit:      clerr.CodeBackendRateLimitExceeded,
	KindUnavailable:    clerr.CodeBackendUnavailable,
	KindResponseFormat: clerr.CodeBackendResponseInvalid,
}

var codeKinds = func() map[clerr.Code]Kind {
	m := make(map[clerr.Code]Kind, len(kindCodes))
	for k, c := range kindCodes {
		m[c] = k
	}
	return m
}()

// NewError creates a backend error of the given kind.
func NewError(kind Kind, msg string, fields ...clerr.Attr) error {
	return clerr.New(kindCodes[kind], msg, fields...)
}

// Errf creates a formatted backend error of the given kind.
func Errf(kind Kind, format string, args ...any) error {
	return clerr.Errorf(kindCodes[kind], format, args...)
}

// WrapKind wraps an underlying error with a backend kind.
func WrapKind(err error, kind Kind, msg string, fields ...clerr.Attr) error {
	return clerr.Wrap(err, kindCodes[kind], msg, fields...)
}

// KindOf recovers the failure kind from an error chain. The second return
// is false when the error carries no backend code.
func KindOf(err error) (Kind, bool) {
	k, ok := codeKinds[clerr.CodeOf(err)]
	return k, ok
}

// Retryable reports whether the kind is retryable under the default policy.
// Non-retryable kinds abort the per-call retry loop immediately but still
// count toward backend health degradation.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindRateLimit, KindUnavailable:
		return true
	default:
		return false
	}
}

// DefaultRetryableKinds returns the default retry eligibility set.
func DefaultRetryableKinds() map[Kind]bool {
	return map[Kind]bool{
		KindNetwork:     true,
		KindRateLimit:   true,
		KindUnavailable: true,
	}
}
