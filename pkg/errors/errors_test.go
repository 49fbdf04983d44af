// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clerr "github.com/codelens-dev/codelens/pkg/errors"
)

func TestCodeOf(t *testing.T) {
	err := clerr.New(clerr.CodeBackendRateLimitExceeded, "throttled")
	assert.Equal(t, clerr.CodeBackendRateLimitExceeded, clerr.CodeOf(err))

	assert.Equal(t, clerr.Code(""), clerr.CodeOf(nil))
	assert.Equal(t, clerr.Code(""), clerr.CodeOf(stderrors.New("plain")))
}

func TestHasCode(t *testing.T) {
	err := clerr.Errorf(clerr.CodeStoreDatabaseFailure, "insert failed: %s", "locked")

	assert.True(t, clerr.HasCode(err, clerr.CodeStoreDatabaseFailure))
	assert.False(t, clerr.HasCode(err, clerr.CodeBackendUnavailable))
	assert.False(t, clerr.HasCode(nil, clerr.CodeStoreDatabaseFailure))
}

func TestWrapPreservesCodeAndCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := clerr.Wrap(cause, clerr.CodeStoreDatabaseFailure, "appending metric")

	assert.Equal(t, clerr.CodeStoreDatabaseFailure, clerr.CodeOf(err))
	assert.ErrorContains(t, err, "appending metric")
	assert.ErrorIs(t, err, cause)

	assert.Nil(t, clerr.Wrap(nil, clerr.CodeStoreDatabaseFailure, "never"))
	assert.Nil(t, clerr.Wrapf(nil, clerr.CodeStoreDatabaseFailure, "never"))
}

func TestWrapfKeepsInnerCodeRecoverable(t *testing.T) {
	inner := clerr.New(clerr.CodeBackendAuthDenied, "bad key")
	outer := clerr.Wrapf(inner, clerr.CodeBackendUnavailable, "all backends failed")

	// The outermost code wins.
	assert.Equal(t, clerr.CodeBackendUnavailable, clerr.CodeOf(outer))
	assert.ErrorContains(t, outer, "bad key")
}

func TestFields(t *testing.T) {
	err := clerr.New(clerr.CodeBackendNetworkFailure, "dial failed",
		clerr.FieldBackend("openai"),
		clerr.FieldRequestID("req-1"),
		clerr.Field("", "dropped"))

	fields := clerr.FieldsOf(err)
	assert.Equal(t, "openai", fields["backend"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.NotContains(t, fields, "")

	assert.Nil(t, clerr.FieldsOf(stderrors.New("plain")))
}

func TestPredicates(t *testing.T) {
	assert.True(t, clerr.IsNotFound(clerr.New(clerr.CodeSecretNotFound, "missing")))
	assert.True(t, clerr.IsInvalidInput(clerr.New(clerr.CodeBackendConfigInvalid, "bad")))
	assert.True(t, clerr.IsInvalidInput(clerr.New(clerr.CodeConfigValidateInvalidValue, "bad")))
	assert.True(t, clerr.IsUnauthorized(clerr.New(clerr.CodeBackendAuthDenied, "no")))
	assert.True(t, clerr.IsRateLimited(clerr.New(clerr.CodeBackendRateLimitExceeded, "slow")))
	assert.True(t, clerr.IsUnavailable(clerr.New(clerr.CodeBackendUnavailable, "down")))

	err := clerr.New(clerr.CodeBackendNetworkFailure, "net")
	assert.False(t, clerr.IsNotFound(err))
	assert.False(t, clerr.IsUnauthorized(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code clerr.Code
		want int
	}{
		{clerr.CodeSecretNotFound, http.StatusNotFound},
		{clerr.CodeBackendConfigInvalid, http.StatusBadRequest},
		{clerr.CodeBackendAuthDenied, http.StatusForbidden},
		{clerr.CodeBackendRateLimitExceeded, http.StatusTooManyRequests},
		{clerr.CodeBackendUnavailable, http.StatusServiceUnavailable},
		{clerr.CodeBackendNetworkFailure, http.StatusBadGateway},
		{clerr.CodeServerInternalFailure, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, clerr.HTTPStatus(clerr.New(tt.code, "x")))
		})
	}
}

func TestJoin(t *testing.T) {
	err := clerr.Join(
		clerr.New(clerr.CodeBackendConfigInvalid, "first"),
		clerr.New(clerr.CodeBackendConfigInvalid, "second"),
	)
	require.Error(t, err)
	assert.ErrorContains(t, err, "first")
	assert.ErrorContains(t, err, "second")
}
