// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package wirecalltest provides support code for testing users of the
// wirecall packages.
package wirecalltest

import (
	"fmt"
	"net"
	"testing"

	"github.com/creachadair/wirecall"
	"github.com/creachadair/wirecall/packet"
)

// NewWorkers returns a new executor driven by n worker goroutines.  The
// workers are stopped when tb and all its subtests complete, if the caller
// has not already stopped them. Tests that check for leaked goroutines should
// stop the workers explicitly before checking.
func NewWorkers(tb testing.TB, n int) *wirecall.Workers {
	tb.Helper()
	w := wirecall.StartWorkers(wirecall.NewExecutor(), n)
	tb.Cleanup(w.Stop)
	return w
}

// Local is a pair of in-memory connected stream endpoints, suitable for
// testing. Data written to A is read from B and vice versa.
type Local struct {
	A *wirecall.Handle[net.Conn]
	B *wirecall.Handle[net.Conn]
}

// NewLocal creates a connected pair of endpoints via [net.Pipe]. Both are
// closed when tb and all its subtests complete.
func NewLocal(tb testing.TB) *Local {
	tb.Helper()
	a, b := net.Pipe()
	loc := &Local{A: wirecall.NewHandle(a), B: wirecall.NewHandle(b)}
	tb.Cleanup(loc.Close)
	return loc
}

// Close closes both endpoints. It is safe to call more than once.
func (p *Local) Close() {
	p.A.Close()
	p.B.Close()
}

// MessageType distinguishes requests from responses.
type MessageType byte

// Message types.
const (
	Request  MessageType = 2
	Response MessageType = 3
)

func (t MessageType) String() string {
	switch t {
	case Request:
		return "REQUEST"
	case Response:
		return "RESPONSE"
	}
	return fmt.Sprintf("MessageType(%d)", byte(t))
}

// MessageSize is the encoded size in bytes of a [Message].
const MessageSize = 9

// A Message is a small fixed-layout message for exercising services.
// Its encoding is the ID (4 bytes), the Type (1 byte), and the Value (4 bytes).
type Message struct {
	ID    uint32
	Type  MessageType
	Value uint32
}

// NewRequest returns a request message with the given ID.
func NewRequest(id uint32) Message { return Message{ID: id, Type: Request} }

// NewResponse returns a response message with the given ID and value.
func NewResponse(id, value uint32) Message { return Message{ID: id, Type: Response, Value: value} }

// MarshalBinary implements the [encoding.BinaryMarshaler] interface.
func (m Message) MarshalBinary() ([]byte, error) {
	b := packet.NewBuilder(MessageSize)
	b.Uint32(m.ID)
	b.Uint8(byte(m.Type))
	b.Uint32(m.Value)
	return b.Bytes(), nil
}

// UnmarshalBinary implements the [encoding.BinaryUnmarshaler] interface.
func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) != MessageSize {
		return fmt.Errorf("invalid message size %d, want %d", len(data), MessageSize)
	}
	s := packet.NewScanner(data)
	id, _ := s.Uint32()
	tag, _ := s.Byte()
	val, _ := s.Uint32()
	*m = Message{ID: id, Type: MessageType(tag), Value: val}
	return nil
}

// Fixed is a codec for byte strings that pads or truncates every message to a
// fixed size on encoding. It is useful for sending messages of a particular
// length.
type Fixed int

// Encode implements part of [wirecall.Codec].
func (f Fixed) Encode(s string) ([]byte, error) {
	out := make([]byte, int(f))
	copy(out, s)
	return out, nil
}

// Decode implements part of [wirecall.Codec].
func (Fixed) Decode(data []byte) (string, error) { return string(data), nil }
