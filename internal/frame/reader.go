package frame

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Frame is one complete unit off the wire. Fin reports that the stream
// finished with this frame.
type Frame struct {
	Type    FrameType
	Payload []byte
	Fin     bool
}

type readState uint8

const (
	stateInitial readState = iota
	stateGotHeader
)

// StreamReader reassembles frames from the read half of one logical stream.
// Next is not reentrant; at most one call in flight per reader. Abandon may
// race a blocked Next, so the poison flag is atomic.
type StreamReader struct {
	peer      NodeID
	r         streamReader
	state     readState
	hdr       Header
	hdrBuf    [HeaderSize]byte
	abandoned atomic.Bool
}

// Next blocks until one complete frame is available and returns it. A clean
// end of stream with no pending frame surfaces as io.EOF from the header
// read. Errors are terminal for the stream.
func (r *StreamReader) Next(ctx context.Context) (Frame, error) {
	if r.abandoned.Load() {
		return Frame{}, ErrStreamAbandoned
	}
	if r.state == stateInitial {
		fin, err := r.r.readExact(ctx, r.hdrBuf[:])
		if err != nil {
			return Frame{}, err
		}
		hdr, err := DecodeHeader(r.hdrBuf[:])
		if err != nil {
			return Frame{}, err
		}
		if hdr.Length == 0 {
			// Zero-length frames complete without a payload read.
			return Frame{Type: hdr.Type, Fin: fin}, nil
		}
		if fin {
			// A header that was the last thing on the wire cannot
			// promise a non-empty payload.
			return Frame{}, fmt.Errorf("%w: stream ended before %d payload bytes", ErrUnexpectedEOS, hdr.Length)
		}
		r.hdr = hdr
		r.state = stateGotHeader
	}
	payload := make([]byte, r.hdr.Length)
	fin, err := r.r.readExact(ctx, payload)
	if err != nil {
		return Frame{}, err
	}
	r.state = stateInitial
	return Frame{Type: r.hdr.Type, Payload: payload, Fin: fin}, nil
}

// Abandon permanently disconnects the read half. Idempotent.
func (r *StreamReader) Abandon(ctx context.Context) {
	if !r.abandoned.CompareAndSwap(false, true) {
		return
	}
	r.r.abandon(ctx)
}

// IsInitiator reports whether the local side opened this stream.
func (r *StreamReader) IsInitiator() bool { return r.r.isInitiator() }

// Conn identifies the transport connection this stream belongs to.
func (r *StreamReader) Conn() ConnRef { return r.r.connRef() }

// Peer returns the remote node this stream is addressed to.
func (r *StreamReader) Peer() NodeID { return r.peer }
