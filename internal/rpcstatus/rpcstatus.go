// Package rpcstatus classifies errors into the five CRI status codes
// the runtime service boundary reports: OK is implicit
// (a nil error), the rest are explicit.
package rpcstatus

import (
	"errors"
	"fmt"
)

// Code is one of the CRI codes this core ever returns.
type Code int

const (
	OK Code = iota
	NotFound
	InvalidArgument
	Internal
	Unimplemented
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case NotFound:
		return "NOT_FOUND"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case Internal:
		return "INTERNAL"
	case Unimplemented:
		return "UNIMPLEMENTED"
	default:
		return "UNKNOWN"
	}
}

// Error pairs a message with the CRI code it should surface as.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// New builds an *Error with the given code and formatted message.
func New(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf reports a missing sandbox/container id lookup.
func NotFoundf(format string, args ...any) error {
	return New(NotFound, format, args...)
}

// InvalidArgumentf reports bad client input: a malformed CIDR, an
// unsupported image-pull form, an unknown mount key, a non-string
// server label.
func InvalidArgumentf(format string, args ...any) error {
	return New(InvalidArgument, format, args...)
}

// Internalf reports a resource or spawn failure: open/read/write/
// unlink errors, allocator exhaustion, spawn failures. Not retried
// inside the core; the orchestrator retries at its layer.
func Internalf(format string, args ...any) error {
	return New(Internal, format, args...)
}

// Unimplementedf reports an operation this core deliberately does not
// perform: Attach, PortForward, ImageFsInfo, PullImage-by-URL.
func Unimplementedf(format string, args ...any) error {
	return New(Unimplemented, format, args...)
}

// CodeOf classifies err for an RPC response. A nil error is OK; any
// error not already an *Error is treated as Internal, since it
// originated below the boundary this package exists to classify at.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
