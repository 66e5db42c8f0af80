package automaton

import (
	"errors"
	"fmt"
)

// Error is the runtime's structured error type, carrying the failing
// operation, connection, and code for errors.As. The tcp-layer result
// types (ConnectOutcome, SendResult, RecvResult, …) do not use it: they
// report failures as a plain Err string.
type Error struct {
	Op    string    // operation that failed, e.g. "connect", "send", "replay"
	Conn  uint64     // connection/listener UID involved, 0 if not applicable
	Code  ErrorCode
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Conn != 0 {
		parts = append(parts, fmt.Sprintf("conn=%d", e.Conn))
	}
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("automaton: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("automaton: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// ErrorCode is a high-level error category, generalized from the
// teacher's block-device codes to this runtime's own failure modes.
type ErrorCode string

const (
	ErrCodeInit      ErrorCode = "init failed"
	ErrCodeListen    ErrorCode = "listen failed"
	ErrCodeConnect   ErrorCode = "connect failed"
	ErrCodeAccept    ErrorCode = "accept failed"
	ErrCodeIO        ErrorCode = "i/o error"
	ErrCodeTimeout   ErrorCode = "timeout"
	ErrCodeClosed    ErrorCode = "connection closed"
	ErrCodeHandshake ErrorCode = "handshake failed"
	ErrCodeReplay    ErrorCode = "replay mismatch"
)

// NewError builds a structured error for op/code with a human message.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewConnError is NewError scoped to a specific connection or listener
// UID.
func NewConnError(op string, conn uint64, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Conn: conn, Code: code, Msg: msg}
}

// WrapError wraps an existing error with runtime context, preserving
// Conn/Code if inner is already a structured *Error.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if e, ok := inner.(*Error); ok {
		return &Error{Op: op, Conn: e.Conn, Code: e.Code, Msg: e.Msg, Inner: e.Inner}
	}
	return &Error{Op: op, Code: ErrCodeIO, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is (or wraps) a structured Error with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
