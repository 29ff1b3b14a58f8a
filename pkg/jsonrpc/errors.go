package jsonrpc

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// Standard and provider-specific error codes.
const (
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUserRejected   = 4001
	CodeUnauthorized   = 4100
	CodeUnsupported    = 4200
	CodeMethodNotFound = -32601
	CodeInvalidRequest = -32600
	CodeParseError     = -32700
)

// Kind classifies provider errors independently of their wire code.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindMissingField
	KindUnauthorizedAddress
	KindUnauthorized
	KindUserDeniedAccountAccess
	KindUserDeniedSignature
	KindSynchronousUnsupported
	KindRemoteProtocol
	KindRemote
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindMissingField:
		return "missing_field"
	case KindUnauthorizedAddress:
		return "unauthorized_address"
	case KindUnauthorized:
		return "unauthorized"
	case KindUserDeniedAccountAccess:
		return "user_denied_account_access"
	case KindUserDeniedSignature:
		return "user_denied_signature"
	case KindSynchronousUnsupported:
		return "synchronous_unsupported"
	case KindRemoteProtocol:
		return "remote_protocol"
	case KindRemote:
		return "remote"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a JSON-RPC error object tagged with a Kind. Two errors match under
// errors.Is when their kinds are equal, so the sentinels below can be used to
// test any error produced by the provider.
type Error struct {
	Kind    Kind   `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`

	cause error
}

var (
	ErrInvalidInput            = &Error{Kind: KindInvalidInput, Code: CodeInvalidParams, Message: "invalid input"}
	ErrMissingField            = &Error{Kind: KindMissingField, Code: CodeInvalidParams, Message: "missing field"}
	ErrUnauthorizedAddress     = &Error{Kind: KindUnauthorizedAddress, Code: CodeUnauthorized, Message: "unauthorized address"}
	ErrUnauthorized            = &Error{Kind: KindUnauthorized, Code: CodeUnauthorized, Message: "Unauthorized: must request accounts first"}
	ErrUserDeniedAccountAccess = &Error{Kind: KindUserDeniedAccountAccess, Code: CodeUserRejected, Message: "User denied account authorization"}
	ErrUserDeniedSignature     = &Error{Kind: KindUserDeniedSignature, Code: CodeUserRejected, Message: "User denied message signature"}
	ErrSynchronousUnsupported  = &Error{Kind: KindSynchronousUnsupported, Code: CodeUnsupported, Message: "synchronous call unsupported"}
	ErrRemoteProtocol          = &Error{Kind: KindRemoteProtocol, Code: CodeInternalError, Message: "remote protocol error"}
)

func (e *Error) Error() string {
	return e.Message
}

// Is matches errors of the same kind. An error field returned by the remote
// node is a remote protocol error as well, so KindRemote also matches
// ErrRemoteProtocol.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Kind == KindUnknown {
		return false
	}
	return t.Kind == e.Kind || (t.Kind == KindRemoteProtocol && e.Kind == KindRemote)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// ErrorCode implements rpc.Error.
func (e *Error) ErrorCode() int { return e.Code }

// ErrorData implements rpc.DataError.
func (e *Error) ErrorData() interface{} { return e.Data }

func newError(kind Kind, code int, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidInput reports malformed arguments.
func InvalidInput(format string, args ...any) *Error {
	return newError(KindInvalidInput, CodeInvalidParams, format, args...)
}

// WrapInvalidInput reports err as invalid input while keeping it reachable
// through errors.Is and errors.As.
func WrapInvalidInput(err error) *Error {
	e := InvalidInput("%v", err)
	e.cause = err
	return e
}

// MissingField reports a required field that is absent.
func MissingField(format string, args ...any) *Error {
	return newError(KindMissingField, CodeInvalidParams, format, args...)
}

// UnauthorizedAddress reports an address the user has not approved.
func UnauthorizedAddress(address string) *Error {
	return newError(KindUnauthorizedAddress, CodeUnauthorized, "Unknown Ethereum address %s", address)
}

// UserDeniedAccountAccess remaps a relay rejection of account authorization.
func UserDeniedAccountAccess(cause error) *Error {
	e := newError(KindUserDeniedAccountAccess, CodeUserRejected, "%s", ErrUserDeniedAccountAccess.Message)
	e.cause = cause
	return e
}

// UserDeniedSignature remaps a relay rejection of a signing request.
func UserDeniedSignature(cause error) *Error {
	e := newError(KindUserDeniedSignature, CodeUserRejected, "%s", ErrUserDeniedSignature.Message)
	e.cause = cause
	return e
}

// Unauthorized reports a call that needs an authorized account.
func Unauthorized() *Error {
	return newError(KindUnauthorized, CodeUnauthorized, "%s", ErrUnauthorized.Message)
}

// SynchronousUnsupported names the method and the calling convention to use instead.
func SynchronousUnsupported(method string) *Error {
	return newError(KindSynchronousUnsupported, CodeUnsupported,
		"The provider does not support synchronous method %s. Use an asynchronous call (SendAsync, SendContext or Request) instead.", method)
}

// RemoteProtocol reports an unusable response from the remote endpoint.
func RemoteProtocol(format string, args ...any) *Error {
	return newError(KindRemoteProtocol, CodeInternalError, format, args...)
}

// Internal reports a provider-side failure that is none of the above.
func Internal(format string, args ...any) *Error {
	return newError(KindInternal, CodeInternalError, format, args...)
}

// AsError converts any error into its wire form. Provider errors are returned
// as is; errors implementing go-ethereum's rpc.Error and rpc.DataError keep
// their code and data; everything else becomes an internal error carrying the
// original message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	out := &Error{Kind: KindUnknown, Code: CodeInternalError, Message: err.Error()}
	var coded rpc.Error
	if errors.As(err, &coded) {
		out.Code = coded.ErrorCode()
	}
	var withData rpc.DataError
	if errors.As(err, &withData) {
		out.Data = withData.ErrorData()
	}
	return out
}
