// Package swaperr holds the coded error taxonomy shared by the swap core.
package swaperr

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code identifies an error category
type Code string

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeQuoteUnavailable      Code = "QUOTE_UNAVAILABLE"
	CodeQuoteSuperseded       Code = "QUOTE_SUPERSEDED"
	CodeInsufficientLiquidity Code = "INSUFFICIENT_LIQUIDITY"
	CodePriceUnavailable      Code = "PRICE_UNAVAILABLE"
	CodeSessionExpired        Code = "SESSION_EXPIRED"
	CodeSigningRejected       Code = "SIGNING_REJECTED"
	CodeRemotePairingTimeout  Code = "REMOTE_PAIRING_TIMEOUT"
	CodeBackendExecution      Code = "BACKEND_EXECUTION_ERROR"
	CodeNoWalletSelected      Code = "NO_WALLET_SELECTED"
	CodeAmbiguousWallet       Code = "AMBIGUOUS_WALLET"
	CodeSwapBusy              Code = "SWAP_BUSY"
	CodeInvalidTransition     Code = "INVALID_TRANSITION"
	CodeTrustlineRequired     Code = "TRUSTLINE_REQUIRED"
	CodeApprovalRequired      Code = "APPROVAL_REQUIRED"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeUnsupported           Code = "UNSUPPORTED"
)

// Attributes describe how a code is surfaced
type Attributes struct {
	Message   string
	Neutral   bool // No error styling, e.g. the user declined
	Reauth    bool // Prompt re-authentication
	Retryable bool // The user may simply try again
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error"},
		CodeInvalidArgument:       {Message: "invalid argument"},
		CodeQuoteUnavailable:      {Message: "quote unavailable", Retryable: true},
		CodeQuoteSuperseded:       {Message: "quote superseded by a newer request", Neutral: true},
		CodeInsufficientLiquidity: {Message: "insufficient liquidity"},
		CodePriceUnavailable:      {Message: "price unavailable", Retryable: true},
		CodeSessionExpired:        {Message: "session expired, please sign in again", Reauth: true},
		CodeSigningRejected:       {Message: "signing cancelled", Neutral: true},
		CodeRemotePairingTimeout:  {Message: "remote wallet did not respond in time", Retryable: true},
		CodeBackendExecution:      {Message: "swap execution failed"},
		CodeNoWalletSelected:      {Message: "no wallet selected"},
		CodeAmbiguousWallet:       {Message: "several wallets match, choose one"},
		CodeSwapBusy:              {Message: "a swap is already in progress", Neutral: true},
		CodeInvalidTransition:     {Message: "invalid swap state transition"},
		CodeTrustlineRequired:     {Message: "trustline required"},
		CodeApprovalRequired:      {Message: "token approval required"},
		CodeInsufficientBalance:   {Message: "insufficient balance"},
		CodeUnsupported:           {Message: "unsupported operation"},
	}
)

// Register adds or overrides the attributes of a code
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf returns the attributes of a code, falling back to UNKNOWN
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error is the coded error type
type Error struct {
	code    Code
	message string
	cause   error
}

// New creates an error with the code's default message when message is empty
func New(code Code, message string) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	return &Error{code: code, message: message}
}

// Newf creates an error with a formatted message
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a code to an existing error
func Wrap(code Code, cause error, message string) *Error {
	e := New(code, message)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code returns the error code
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message returns the message without the cause
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// CodeOf extracts the outermost code from an error chain
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded *Error
	if stdErrors.As(err, &coded) {
		return coded.code
	}
	return CodeUnknown
}

// HasCode reports whether any error in the chain carries the code
func HasCode(err error, code Code) bool {
	return stdErrors.Is(err, &Error{code: code})
}

// UserMessage is the text shown for an error: the coded message, or the error itself
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var coded *Error
	if stdErrors.As(err, &coded) {
		return coded.Error()
	}
	return err.Error()
}
