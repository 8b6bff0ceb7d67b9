// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the outcome of an asynchronous operation.
type ErrorCode byte

// Constants defining the outcome classes.
const (
	CodeSuccess         ErrorCode = iota // no error
	CodeFailedOperation                  // the transport primitive failed, or a transfer was short
	CodeAborted                          // the operation was canceled or timed out
	CodeEncoding                         // the message could not be encoded
	CodeDecoding                         // the message could not be decoded
	CodeInvalidFrame                     // the frame length disagrees with the data or the bound
)

var codeNames = [...]string{
	CodeSuccess:         "success",
	CodeFailedOperation: "failed operation",
	CodeAborted:         "aborted",
	CodeEncoding:        "encoding error",
	CodeDecoding:        "decoding error",
	CodeInvalidFrame:    "invalid frame",
}

func (c ErrorCode) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code %d", byte(c))
}

// Error is the concrete type of errors reported to the completion handlers of
// asynchronous operations.
type Error struct {
	Code ErrorCode // the outcome class (never CodeSuccess)
	Err  error     // the underlying cause, if known
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", e.Code, e.Err)
	}
	return e.Code.String()
}

// Unwrap reports the underlying cause of e, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with no cause and the same code as e.
// This permits the sentinel values to be used with [errors.Is].
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Code == e.Code
}

// Sentinel errors for each outcome class. Use [errors.Is] to check an error
// reported by an operation against these values.
var (
	ErrFailedOperation = &Error{Code: CodeFailedOperation}
	ErrAborted         = &Error{Code: CodeAborted}
	ErrEncoding        = &Error{Code: CodeEncoding}
	ErrDecoding        = &Error{Code: CodeDecoding}
	ErrInvalidFrame    = &Error{Code: CodeInvalidFrame}
)

// CodeOf reports the outcome class of err. A nil error is [CodeSuccess]; an
// error that is not an [*Error] is reported as [CodeFailedOperation].
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeFailedOperation
}

// newError constructs an *Error with the given code and cause. If cause is
// already an *Error with the same code, it is returned unchanged.
func newError(code ErrorCode, cause error) error {
	if e, ok := cause.(*Error); ok && e.Code == code {
		return e
	}
	return &Error{Code: code, Err: cause}
}
