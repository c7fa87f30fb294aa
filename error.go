package espwifi

import (
	"errors"
	"strconv"
)

// Error is returned by all command level methods of Device. Err may be
// compared using errors.Is with the Err* variables below.
type Error struct {
	Dev string
	Cmd string
	Err error
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	return e.Dev + ": AT" + e.Cmd + ": " + e.Err.Error()
}

// Timeout reports whether the command was cancelled because its deadline
// expired.
func (e *Error) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}

// RejectedError represents a failure token returned by ESP-AT (ERROR, FAIL,
// SEND FAIL). Code is the value of the preceding "ERR CODE:" line, if any.
type RejectedError struct {
	Token string
	Code  string
	Lines []string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return e.Token + " (" + e.Code + ")"
	}
	return e.Token
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// ParseError describes a malformed frame. The parser has already skipped
// to the next line boundary when it is returned.
type ParseError struct {
	Offset int64 // stream offset of the frame start
	Reason string
}

func (e *ParseError) Error() string {
	return "parse: " + e.Reason + " at offset " + strconv.FormatInt(e.Offset, 10)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// TransportError wraps a read or write failure of the underlying transport.
// It is fatal: the I/O loop stops after reporting it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

type timeoutError struct{}

func (e timeoutError) Error() string { return "timeout" }
func (e timeoutError) Timeout() bool { return true }

// Errors that may be returned in the Error.Err field.
var (
	ErrTimeout            = &timeoutError{}
	ErrParse              = errors.New("parse")
	ErrRejected           = errors.New("rejected")
	ErrTransport          = errors.New("transport")
	ErrArgType            = errors.New("argument type")
	ErrTxOverflow         = errors.New("tx buffer overflow")
	ErrUnknownConn        = errors.New("unknown connection")
	ErrNoFreeConn         = errors.New("no free connection")
	ErrConnFailed         = errors.New("connection failed")
	ErrClosed             = errors.New("device closed")
	ErrInvalidConfig      = errors.New("invalid config")
	ErrUnsupportedVersion = errors.New("unsupported AT firmware version")
	ErrLoopRunning        = errors.New("I/O loop already running")
)

// ErrIncomplete is returned by Parser.Next when more input is required.
var ErrIncomplete = errors.New("incomplete frame")
