package core

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error class. Every rejected action is
// reported back to the originating connection with exactly one of these.
type Code string

const (
	CodeAuth        Code = "auth_failed"
	CodeNotJoinable Code = "not_joinable"
	CodeInvalid     Code = "invalid_payload"
	CodeBadState    Code = "bad_state"
	CodePersist     Code = "persist_failed"
	CodeExhausted   Code = "resource_exhausted"
	// CodeUnknownConn marks a caller bug: an operation against a connection
	// id the registry never saw. Logged, never shown to users as retryable.
	CodeUnknownConn Code = "unknown_connection"
	CodeInternal    Code = "internal"
)

type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Errf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf extracts the stable code from any error, defaulting to internal.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}
