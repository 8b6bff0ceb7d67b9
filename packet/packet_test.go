// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package packet_test

import (
	"errors"
	"io"
	"testing"

	"github.com/creachadair/wirecall/packet"
	"github.com/google/go-cmp/cmp"
)

func TestBuilder(t *testing.T) {
	b := packet.NewBuilder(4)
	b.Put(5, 9, 100)
	b.Uint8(7)
	b.Uint32(0xfc009a01)
	b.Put('x', 'y')

	const want = "\x05\x09\x64\x07\xfc\x00\x9a\x01xy"
	//             ^---^---^-- ^-- ^-------------- ^-
	//             byte*3    uint8 uint32          bytes

	if string(b.Bytes()) != want {
		t.Errorf("Bytes = %q, want %q", b.Bytes(), want)
	}

	s := packet.NewScanner(b.Bytes())
	check(t, "Byte 1", s.Byte, 5)
	check(t, "Byte 2", s.Byte, 9)
	check(t, "Byte 3", s.Byte, 100)
	check(t, "Uint8", s.Byte, 7)
	check(t, "Uint32", s.Uint32, 0xfc009a01)
	check(t, "Literal", func() (string, error) { return packet.Get[string](s, 2) }, "xy")

	if _, err := s.Byte(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Byte at EOF: got %v, want %v", err, io.ErrUnexpectedEOF)
	}
}

func TestScannerTruncated(t *testing.T) {
	s := packet.NewScanner("\x01\x02\x03")
	if _, err := s.Uint32(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Uint32: got %v, want %v", err, io.ErrUnexpectedEOF)
	}
	check(t, "Byte", s.Byte, 1)
	got, err := packet.Get[string](s, 3)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Get: got %v, want %v", err, io.ErrUnexpectedEOF)
	}
	if got != "\x02\x03" {
		t.Errorf("Get partial: got %q, want %q", got, "\x02\x03")
	}
}

func check[T any](t *testing.T, label string, f func() (T, error), want T) {
	t.Helper()

	got, err := f()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", label, err)
	} else if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("%s result (-got, +want):\n%s", label, diff)
	}
}
