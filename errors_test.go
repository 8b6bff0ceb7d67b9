// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/creachadair/wirecall"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		err  error
		want wirecall.ErrorCode
		is   error
		text string
	}{
		{nil, wirecall.CodeSuccess, nil, ""},
		{io.EOF, wirecall.CodeFailedOperation, nil, "EOF"},
		{wirecall.ErrAborted, wirecall.CodeAborted, wirecall.ErrAborted, "aborted"},
		{&wirecall.Error{Code: wirecall.CodeInvalidFrame, Err: io.ErrUnexpectedEOF},
			wirecall.CodeInvalidFrame, wirecall.ErrInvalidFrame, "invalid frame: unexpected EOF"},
		{fmt.Errorf("wrapped: %w", &wirecall.Error{Code: wirecall.CodeDecoding}),
			wirecall.CodeDecoding, wirecall.ErrDecoding, "wrapped: decoding error"},
		{&wirecall.Error{Code: wirecall.CodeEncoding, Err: errors.New("bad")},
			wirecall.CodeEncoding, wirecall.ErrEncoding, "encoding error: bad"},
	}
	for _, tc := range tests {
		if got := wirecall.CodeOf(tc.err); got != tc.want {
			t.Errorf("CodeOf(%v): got %v, want %v", tc.err, got, tc.want)
		}
		if tc.is != nil && !errors.Is(tc.err, tc.is) {
			t.Errorf("Is(%v, %v): got false, want true", tc.err, tc.is)
		}
		if tc.err != nil && tc.err.Error() != tc.text {
			t.Errorf("Error(): got %q, want %q", tc.err.Error(), tc.text)
		}
	}

	// Errors with a cause match their sentinel, but not other sentinels.
	err := &wirecall.Error{Code: wirecall.CodeAborted, Err: io.EOF}
	if errors.Is(err, wirecall.ErrFailedOperation) {
		t.Errorf("Is(%v, ErrFailedOperation): got true, want false", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("Is(%v, io.EOF): got false, want true", err)
	}
	if s := wirecall.ErrorCode(99).String(); s != "code 99" {
		t.Errorf("Unknown code: got %q, want %q", s, "code 99")
	}
}
