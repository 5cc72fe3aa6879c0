package frame

import (
	"context"
	"sync/atomic"
)

// StreamWriter serializes frames onto the write half of one logical stream.
// Not safe for concurrent Send calls; callers keep a single-writer
// discipline or frame boundaries interleave on the wire. Abandon alone may
// race a suspended Send, so the poison flag is atomic.
type StreamWriter struct {
	peer      NodeID
	w         streamWriter
	abandoned atomic.Bool
}

// Send writes one frame: 8-byte header, then the payload. The header write
// never carries fin unless the payload is empty and the caller asked for
// fin; otherwise fin rides on the payload write. stats is charged header +
// payload bytes and one message on success. Any transport write error
// permanently abandons the stream before it is returned.
func (w *StreamWriter) Send(ctx context.Context, t FrameType, payload []byte, fin bool, stats *MessageStats) error {
	if w.abandoned.Load() {
		return ErrStreamAbandoned
	}
	hdr, err := (Header{Type: t, Length: len(payload)}).Encode()
	if err != nil {
		return err
	}
	if err := w.w.send(ctx, hdr, fin && len(payload) == 0); err != nil {
		w.Abandon(ctx)
		return err
	}
	if len(payload) > 0 {
		if err := w.w.send(ctx, payload, fin); err != nil {
			w.Abandon(ctx)
			return err
		}
	}
	stats.SentMessage(uint64(HeaderSize + len(payload)))
	return nil
}

// Abandon permanently disconnects the write half. Idempotent; once
// abandoned, Send fails fast without touching the transport.
func (w *StreamWriter) Abandon(ctx context.Context) {
	if !w.abandoned.CompareAndSwap(false, true) {
		return
	}
	w.w.abandon(ctx)
}

// ID returns the transport-assigned stream id.
func (w *StreamWriter) ID() uint64 { return w.w.id() }

// Conn identifies the transport connection this stream belongs to.
func (w *StreamWriter) Conn() ConnRef { return w.w.connRef() }

// Peer returns the remote node this stream is addressed to.
func (w *StreamWriter) Peer() NodeID { return w.peer }
