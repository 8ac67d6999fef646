package rpcmsg

import "fmt"

// ErrorKind is the small wire-compatible integer code carried in an
// error response's meta, per the error taxonomy every RPC error
// belongs to.
type ErrorKind int

const (
	InvalidRequest      ErrorKind = 1
	MethodNotFound      ErrorKind = 2
	InvalidParam        ErrorKind = 3
	InternalErr         ErrorKind = 4
	ParseErr            ErrorKind = 5
	MethodCallTimeout   ErrorKind = 6
	MethodCallCancelled ErrorKind = 7
	MethodCallException ErrorKind = 8
	UnknownErr          ErrorKind = 9
	LoginRequired       ErrorKind = 10
	UserIDRequired      ErrorKind = 11
	NotImplemented      ErrorKind = 12
	TryAgainLater       ErrorKind = 13
	RequestInvalid      ErrorKind = 14
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidRequest:
		return "InvalidRequest"
	case MethodNotFound:
		return "MethodNotFound"
	case InvalidParam:
		return "InvalidParam"
	case InternalErr:
		return "InternalErr"
	case ParseErr:
		return "ParseErr"
	case MethodCallTimeout:
		return "MethodCallTimeout"
	case MethodCallCancelled:
		return "MethodCallCancelled"
	case MethodCallException:
		return "MethodCallException"
	case LoginRequired:
		return "LoginRequired"
	case UserIDRequired:
		return "UserIDRequired"
	case NotImplemented:
		return "NotImplemented"
	case TryAgainLater:
		return "TryAgainLater"
	case RequestInvalid:
		return "RequestInvalid"
	case UnknownErr:
		return "Unknown"
	default:
		if k >= 32 {
			return fmt.Sprintf("UserCode(%d)", int(k))
		}
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// RPCError is the structured error carried in a Response's error
// field. It implements error so handler code can just `return
// rpcmsg.Errorf(...)` the way ordinary Go functions return errors.
type RPCError struct {
	Kind    ErrorKind
	Message string
}

func (e *RPCError) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds an RPCError with the given kind and message.
func NewError(kind ErrorKind, message string) *RPCError {
	return &RPCError{Kind: kind, Message: message}
}

// Errorf builds an RPCError with a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *RPCError {
	return &RPCError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsRPCError unwraps err into an *RPCError if it is one (or wraps
// one), otherwise reports a MethodCallException carrying err's text
// -- the "any other exception becomes MethodCallException" rule a
// handler's caller applies at the boundary.
func AsRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	if re, ok := err.(*RPCError); ok {
		return re
	}
	return &RPCError{Kind: MethodCallException, Message: err.Error()}
}

// IsProgress reports whether an error response shape is in fact a
// progress notification rather than a terminal failure -- the
// RequestInvalid-carrying-a-delay shape some v2 peers use (§4.6).
func IsProgress(e *RPCError, delay float64, hasDelay bool) bool {
	return hasDelay && e != nil && e.Kind == RequestInvalid
}

// IsRetriable reports whether a failure at the transport boundary
// (EOF, reset, parse error) should be treated as retriable by a
// waiting caller rather than a hard failure.
func IsRetriable(err error) bool {
	re, ok := err.(*RPCError)
	if !ok {
		return true
	}
	switch re.Kind {
	case TryAgainLater, MethodCallTimeout, RequestInvalid:
		return true
	}
	return false
}
