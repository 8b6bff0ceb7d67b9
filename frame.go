// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/creachadair/wirecall/packet"
)

const (
	// HeaderSize is the size in bytes of the length header of a frame.
	HeaderSize = 4

	// DefaultMaxMessageSize is the default bound on the payload length of a
	// frame accepted by a receiver.
	DefaultMaxMessageSize = 512
)

// A Frame is a single length-prefixed message on the wire.  The encoding is
// a 4-byte big-endian unsigned length followed by exactly that many bytes of
// payload. An empty payload is valid.
type Frame struct {
	Payload []byte
}

// Encode returns the wire encoding of f.
func (f Frame) Encode() []byte { return EncodeFrame(f.Payload) }

// String returns a human-friendly rendering of the frame.
func (f Frame) String() string { return fmt.Sprintf("Frame(%d bytes)", len(f.Payload)) }

// WriteTo writes the frame to w in wire format.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	nw, err := w.Write(f.Encode())
	return int64(nw), err
}

// ReadFrom reads a frame from r in wire format, replacing the contents of f.
// It accepts payloads of up to [MaxReadSize] bytes; use [ReadFrame] to set a
// different bound.
func (f *Frame) ReadFrom(r io.Reader) (int64, error) {
	nr, err := readFrame(r, MaxReadSize, f)
	return int64(nr), err
}

// MaxReadSize is the payload bound applied by [Frame.ReadFrom].
const MaxReadSize = 1 << 24

// ReadFrame reads a single frame from r whose payload is at most maxSize
// bytes. If r is exhausted before any header bytes are read, it reports
// [io.EOF]. If the header or payload is incomplete, or the declared length
// exceeds maxSize, the error matches [ErrInvalidFrame]; in the incomplete case
// it also matches [io.ErrUnexpectedEOF]. An oversized payload is not consumed,
// so r should not be read further after an error.
func ReadFrame(r io.Reader, maxSize int) (Frame, error) {
	var f Frame
	_, err := readFrame(r, maxSize, &f)
	return f, err
}

func readFrame(r io.Reader, maxSize int, f *Frame) (int, error) {
	var hdr [HeaderSize]byte
	nr, err := io.ReadFull(r, hdr[:])
	if err == io.EOF {
		return 0, err
	} else if err != nil {
		return nr, newError(CodeInvalidFrame, err)
	}
	size := frameLength(hdr[:])
	if uint64(size) > uint64(max(maxSize, 0)) {
		return nr, newError(CodeInvalidFrame, fmt.Errorf("frame length %d exceeds limit %d", size, maxSize))
	}
	f.Payload = make([]byte, size)
	np, err := io.ReadFull(r, f.Payload)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return nr + np, newError(CodeInvalidFrame, err)
	}
	return nr + np, nil
}

// EncodeFrame returns a new slice containing the frame encoding of payload.
// It panics if len(payload) exceeds the largest representable frame length.
func EncodeFrame(payload []byte) []byte {
	if uint64(len(payload)) > math.MaxUint32 {
		panic("payload too large for frame")
	}
	b := packet.NewBuilder(HeaderSize + len(payload))
	b.Uint32(uint32(len(payload)))
	b.Put(payload...)
	return b.Bytes()
}

// ParseFrame parses a complete frame from the head of data, and returns its
// payload as a slice aliasing data. It reports [ErrInvalidFrame] if data is too
// short to hold the header, if the declared length exceeds maxSize, or if the
// declared length exceeds the number of bytes actually present.
func ParseFrame(data []byte, maxSize int) ([]byte, error) {
	s := packet.NewScanner(data)
	size, err := s.Uint32()
	if err != nil {
		return nil, newError(CodeInvalidFrame, err)
	}
	if uint64(size) > uint64(maxSize) {
		return nil, newError(CodeInvalidFrame, fmt.Errorf("frame length %d exceeds limit %d", size, maxSize))
	}
	payload, err := packet.Get[[]byte](s, int(size))
	if err != nil {
		return nil, newError(CodeInvalidFrame, err)
	}
	return payload, nil
}

// frameLength decodes the payload length from a frame header.
func frameLength(hdr []byte) uint32 { return binary.BigEndian.Uint32(hdr[:HeaderSize]) }

// errShortWrite is the cause reported when a write transfers less than a
// complete frame without reporting an error.
var errShortWrite = errors.New("short frame write")
