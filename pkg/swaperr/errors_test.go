package swaperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsesDefaultMessage(t *testing.T) {
	err := New(CodeSigningRejected, "")
	assert.Equal(t, "signing cancelled", err.Error())
	assert.Equal(t, CodeSigningRejected, err.Code())
}

func TestCodeOfWrappedChain(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := fmt.Errorf("quote: %w", Wrap(CodeQuoteUnavailable, cause, ""))

	assert.Equal(t, CodeQuoteUnavailable, CodeOf(err))
	assert.True(t, HasCode(err, CodeQuoteUnavailable))
	assert.False(t, HasCode(err, CodeSessionExpired))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "quote unavailable: dial tcp: timeout", UserMessage(err))
}

func TestCodeOfPlainErrors(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	assert.Equal(t, "boom", UserMessage(errors.New("boom")))
	assert.Empty(t, UserMessage(nil))
}

func TestHasCodeFindsInnerCode(t *testing.T) {
	inner := New(CodeTrustlineRequired, "")
	outer := Wrap(CodeBackendExecution, inner, "")

	assert.Equal(t, CodeBackendExecution, CodeOf(outer))
	assert.True(t, HasCode(outer, CodeTrustlineRequired))
}

func TestAttributes(t *testing.T) {
	assert.True(t, AttributesOf(CodeSigningRejected).Neutral)
	assert.True(t, AttributesOf(CodeSessionExpired).Reauth)
	assert.True(t, AttributesOf(CodeRemotePairingTimeout).Retryable)
	assert.Equal(t, "unknown error", AttributesOf(Code("NOPE")).Message)

	code := Code("TEST_REGISTERED")
	Register(code, Attributes{Message: "custom", Retryable: true})
	require.True(t, AttributesOf(code).Retryable)
	assert.Equal(t, "custom", New(code, "").Error())
}

func TestNilError(t *testing.T) {
	var err *Error
	assert.Empty(t, err.Error())
	assert.Equal(t, CodeUnknown, err.Code())
	assert.NoError(t, err.Unwrap())
}
