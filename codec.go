// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall

import (
	"bytes"
	"encoding"
	"fmt"
	"reflect"
	"sync"
)

// A Codec converts messages of type T to and from their payload encoding.
// Implementations must be safe for concurrent use.
type Codec[T any] interface {
	// Encode returns the payload encoding of msg.
	Encode(msg T) ([]byte, error)

	// Decode decodes a message from data. The caller may reuse the contents
	// of data after Decode returns, so the result must not alias it.
	Decode(data []byte) (T, error)
}

// String is a [Codec] for string messages. The payload is the string itself.
type String struct{}

// Encode implements part of [Codec].
func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }

// Decode implements part of [Codec].
func (String) Decode(data []byte) (string, error) { return string(data), nil }

// Bytes is a [Codec] for []byte messages. The payload is a copy of the message.
type Bytes struct{}

// Encode implements part of [Codec].
func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }

// Decode implements part of [Codec].
func (Bytes) Decode(data []byte) ([]byte, error) { return bytes.Clone(data), nil }

var registry struct {
	μ      sync.Mutex
	codecs map[reflect.Type]any // T ↦ Codec[T]
}

// Register registers c as the default codec for messages of type T,
// replacing any previous registration for T.
func Register[T any](c Codec[T]) {
	registry.μ.Lock()
	defer registry.μ.Unlock()
	if registry.codecs == nil {
		registry.codecs = make(map[reflect.Type]any)
	}
	registry.codecs[reflect.TypeFor[T]()] = c
}

// CodecFor returns the default codec for messages of type T.
//
// If a codec was registered for T by [Register], that codec is used.
// Otherwise, strings and byte slices use [String] and [Bytes], and other types
// are encoded if they (or their pointers) implement [encoding.BinaryMarshaler]
// or [encoding.TextMarshaler], and decoded if their pointers implement
// [encoding.BinaryUnmarshaler] or [encoding.TextUnmarshaler].
func CodecFor[T any]() Codec[T] {
	registry.μ.Lock()
	c, ok := registry.codecs[reflect.TypeFor[T]()]
	registry.μ.Unlock()
	if ok {
		return c.(Codec[T])
	}
	return autoCodec[T]{}
}

// autoCodec is the fallback codec using the standard encoding interfaces.
type autoCodec[T any] struct{}

func (autoCodec[T]) Encode(msg T) ([]byte, error) {
	if data, err := marshal(msg); err == nil {
		return data, nil
	}
	return marshal(&msg)
}

func (autoCodec[T]) Decode(data []byte) (T, error) {
	var msg T
	err := unmarshal(data, &msg)
	return msg, err
}

// encode encodes msg with c, reporting any failure as [ErrEncoding].
// A panic in the codec is reported as a failure.
func encode[T any](c Codec[T], msg T) (_ []byte, err error) {
	defer func() {
		if x := recover(); x != nil {
			err = newError(CodeEncoding, fmt.Errorf("codec panic: %v", x))
		}
		if err != nil {
			rootMetrics.encodeErrors.Add(1)
		}
	}()
	data, err := c.Encode(msg)
	if err != nil {
		return nil, newError(CodeEncoding, err)
	}
	return data, nil
}

// decode decodes data with c, reporting any failure as [ErrDecoding].
// A panic in the codec is reported as a failure.
func decode[T any](c Codec[T], data []byte) (msg T, err error) {
	defer func() {
		if x := recover(); x != nil {
			var zero T
			msg, err = zero, newError(CodeDecoding, fmt.Errorf("codec panic: %v", x))
		}
		if err != nil {
			rootMetrics.decodeErrors.Add(1)
		}
	}()
	msg, err = c.Decode(data)
	if err != nil {
		var zero T
		return zero, newError(CodeDecoding, err)
	}
	return msg, nil
}

// Encode encodes msg using c. Any failure, including a panic inside the codec,
// is reported as an error matching [ErrEncoding].
func Encode[T any](c Codec[T], msg T) ([]byte, error) { return encode(c, msg) }

// Decode decodes data using c. Any failure, including a panic inside the
// codec, is reported as an error matching [ErrDecoding].
func Decode[T any](c Codec[T], data []byte) (T, error) { return decode(c, data) }

// unmarshal decodes data into v. The concrete type of v must be a pointer to a
// []byte or string, or must implement either the encoding.BinaryUnmarshaler
// interface or the encoding.TextUnmarshaler interface.  If v implements both,
// BinaryUnmarshaler is preferred.
func unmarshal(data []byte, v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = bytes.Clone(data)
	case *string:
		*t = string(data)
	case encoding.BinaryUnmarshaler:
		return t.UnmarshalBinary(data)
	case encoding.TextUnmarshaler:
		return t.UnmarshalText(data)
	default:
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	return nil
}

// marshal encodes v into data. The concrete type of v must be a []byte or
// string (or a pointer to these); otherwise it must implement either the
// encoding.BinaryMarshaler interface or the encoding.TextMarshaler
// interface. If v implements both, BinaryMarshaler is preferred.
func marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case *[]byte:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	case string:
		return []byte(t), nil
	case *string:
		if t == nil {
			return nil, nil
		}
		return []byte(*t), nil
	case encoding.BinaryMarshaler:
		return t.MarshalBinary()
	case encoding.TextMarshaler:
		return t.MarshalText()
	default:
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
}
