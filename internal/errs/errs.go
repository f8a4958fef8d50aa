// Package errs implements the ErrorCode taxonomy of the module/RPC fabric.
// Every failure that crosses a component boundary is one of these codes,
// never a bare string or a panic.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies one entry of the taxonomy.
type Code int

const (
	// InvalidArguments covers a nil module, an unparseable frame header,
	// or any other caller-supplied value the fabric cannot act on.
	InvalidArguments Code = iota + 1
	// SendBufferOverflow reports a mailbox still full after one drain retry
	// on the send side.
	SendBufferOverflow
	// RecvBufferOverflow reports the same condition on the receive side.
	RecvBufferOverflow
	// SetSendCallbackFailed reports that binding a module's egress closures
	// failed during registration; fatal to that registration.
	SetSendCallbackFailed
	// ServiceIdNotFound reports a request key with no registered handler
	// and no network module to fall back to.
	ServiceIdNotFound
	// ServiceIdAlreadyRegistered reports a service-key collision on
	// registration.
	ServiceIdAlreadyRegistered
	// ModuleAlreadyRegistered reports a duplicate module id on registration.
	ModuleAlreadyRegistered
	// NetworkStartFailed reports that the transport refused to start;
	// fatal to node startup.
	NetworkStartFailed
	// Timeout reports an RPC deadline elapsing before a response arrived.
	Timeout
)

var names = map[Code]string{
	InvalidArguments:           "InvalidArguments",
	SendBufferOverflow:         "SendBufferOverflow",
	RecvBufferOverflow:         "RecvBufferOverflow",
	SetSendCallbackFailed:      "SetSendCallbackFailed",
	ServiceIdNotFound:          "ServiceIdNotFound",
	ServiceIdAlreadyRegistered: "ServiceIdAlreadyRegistered",
	ModuleAlreadyRegistered:    "ModuleAlreadyRegistered",
	NetworkStartFailed:         "NetworkStartFailed",
	Timeout:                    "Timeout",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error is a typed error carrying a Code plus an optional wrapped cause and
// free-form detail. Callers compare against Code via errors.As, never
// against error strings.
type Error struct {
	Code   Code
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Detail != "" {
			return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Cause)
		}
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, errs.New(SomeCode)) match any *Error with the same
// Code, ignoring Detail/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New builds a bare *Error with just a Code.
func New(code Code) *Error {
	return &Error{Code: code}
}

// Newf builds a *Error with a Code and formatted detail.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds a *Error with a Code and an underlying cause.
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

// WrapDetail builds a *Error with a Code, detail, and underlying cause.
func WrapDetail(code Code, detail string, cause error) *Error {
	return &Error{Code: code, Detail: detail, Cause: cause}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
