// Package frame turns an ordered reliable byte stream (QUIC stream or
// circuit stream) into a sequence of typed, length-delimited frames.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrMessageTooLong = errors.New("message too long")
var ErrUnknownFrameType = errors.New("unknown frame type")
var ErrUnexpectedEOS = errors.New("unexpected end of stream")
var ErrStreamAbandoned = errors.New("stream abandoned")

// HeaderSize: fixed frame header, 8 bytes on the wire.
const HeaderSize = 8

// MaxPayloadSize: length field is 32 bits.
const MaxPayloadSize = math.MaxUint32

// Context carries the persistent-header coding flag for Data/Control/Signal
// frames. Interpreted only by layers above this one.
type Context struct {
	UsePersistentHeader bool
}

// Kind: frame kind discriminant.
type Kind uint8

const (
	KindHello Kind = iota
	KindData
	KindControl
	KindSignal
)

// FrameType: kind + coding context. Comparable by value; Context is
// meaningful for every kind except Hello.
type FrameType struct {
	Kind    Kind
	Context Context
}

// Hello frame type (no coding context).
func Hello() FrameType { return FrameType{Kind: KindHello} }

// Data frame type with ctx.
func Data(ctx Context) FrameType { return FrameType{Kind: KindData, Context: ctx} }

// Control frame type with ctx.
func Control(ctx Context) FrameType { return FrameType{Kind: KindControl, Context: ctx} }

// Signal frame type with ctx.
func Signal(ctx Context) FrameType { return FrameType{Kind: KindSignal, Context: ctx} }

func (t FrameType) String() string {
	var s string
	switch t.Kind {
	case KindHello:
		return "hello"
	case KindData:
		s = "data"
	case KindControl:
		s = "control"
	case KindSignal:
		s = "signal"
	default:
		return fmt.Sprintf("frametype(%d)", t.Kind)
	}
	if t.Context.UsePersistentHeader {
		s += "+phdr"
	}
	return s
}

// code: wire code per the frame-type table. Hello=0; Data/Control/Signal are
// 1/2/3, +3 when the persistent-header flag is set. Values outside the
// table (an out-of-range Kind, or Hello with a context flag) do not encode,
// so every code that goes on the wire round-trips through typeFromCode.
func (t FrameType) code() (uint32, error) {
	var base uint32
	switch t.Kind {
	case KindHello:
		if t.Context.UsePersistentHeader {
			return 0, fmt.Errorf("%w: hello carries no context", ErrUnknownFrameType)
		}
		return 0, nil
	case KindData:
		base = 1
	case KindControl:
		base = 2
	case KindSignal:
		base = 3
	default:
		return 0, fmt.Errorf("%w: kind %d", ErrUnknownFrameType, t.Kind)
	}
	if t.Context.UsePersistentHeader {
		base += 3
	}
	return base, nil
}

func typeFromCode(code uint32) (FrameType, error) {
	switch code {
	case 0:
		return Hello(), nil
	case 1:
		return Data(Context{}), nil
	case 2:
		return Control(Context{}), nil
	case 3:
		return Signal(Context{}), nil
	case 4:
		return Data(Context{UsePersistentHeader: true}), nil
	case 5:
		return Control(Context{UsePersistentHeader: true}), nil
	case 6:
		return Signal(Context{UsePersistentHeader: true}), nil
	}
	return FrameType{}, fmt.Errorf("%w: code %d", ErrUnknownFrameType, code)
}

// Header: ephemeral (type, length) pair; built right before a write or right
// after reading HeaderSize bytes, never persisted.
type Header struct {
	Type   FrameType
	Length int
}

// Encode writes the header as one little-endian u64: low 32 bits length,
// high 32 bits frame-type code.
func (h Header) Encode() ([]byte, error) {
	if uint64(h.Length) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLong, h.Length)
	}
	code, err := h.Type.code()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf, uint64(h.Length)|uint64(code)<<32)
	return buf, nil
}

// DecodeHeader is the exact inverse of Encode.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("header must be %d bytes, got %d", HeaderSize, len(buf))
	}
	v := binary.LittleEndian.Uint64(buf)
	t, err := typeFromCode(uint32(v >> 32))
	if err != nil {
		return Header{}, err
	}
	return Header{Type: t, Length: int(uint32(v))}, nil
}
