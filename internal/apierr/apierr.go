// Package apierr defines the closed set of error kinds the gateway surfaces
// to HTTP/websocket clients.
package apierr

import "fmt"

// Code is a client-facing error kind. The zero value is never valid.
type Code string

const (
	InvalidAddress     Code = "invalid_address"
	InvalidValue       Code = "invalid_value"
	InvalidNonce       Code = "invalid_nonce"
	InvalidGas         Code = "invalid_gas"
	InvalidGasPrice    Code = "invalid_gas_price"
	InvalidData        Code = "invalid_data"
	InvalidTransaction Code = "invalid_transaction"
	InvalidSignature   Code = "invalid_signature"
	InvalidParams      Code = "invalid_params"
	MissingSignature   Code = "missing_signature"
	InsufficientFunds  Code = "insufficient_funds"
	NotFound           Code = "not_found"
	InternalError      Code = "internal_error"
	UnexpectedError    Code = "unexpected_error"
)

// Error wraps a Code with a human-readable message and an optional cause.
// It satisfies errors.Unwrap so callers can still test the underlying RPC
// or database failure with errors.Is/errors.As.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a client-facing error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a client-facing error that carries an underlying cause for
// logging, without leaking the cause's text to the client.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Nonce- and signature-specific messages, kept distinct so clients can branch on wording
// without parsing the Code alone.
const (
	NonceTooLow       = "Nonce too low"
	NonceTooHigh      = "Nonce too high"
	NonceAlreadyUsed  = "Nonce already used"
	SigInvalidLength  = "invalid length"
	SigInvalidHex     = "hex value"
	SigSenderMismatch = "signature of transaction does not match"
)

// HTTPStatus maps a Code to its response status. Validation failures are
// 400, a missing resource is 404, and node/communication failures are 500.
func HTTPStatus(c Code) int {
	switch c {
	case InternalError, UnexpectedError:
		return 500
	case NotFound:
		return 404
	default:
		return 400
	}
}
