package protoerr

import (
	stderrors "errors"
)

// Error carries a protocol code through the layers so the transport can
// report it without string matching.
type Error struct {
	Code  Code
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Inner == nil {
		return msg
	}
	return msg + ": " + e.Inner.Error()
}

func (e *Error) Unwrap() error { return e.Inner }

// New returns an Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap returns an Error with the given code that wraps inner.
func Wrap(code Code, msg string, inner error) *Error {
	return &Error{Code: code, Msg: msg, Inner: inner}
}

// CodeOf extracts the protocol code from err. Errors that carry no code
// report CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var pe *Error
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	var pe *Error
	if stderrors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
