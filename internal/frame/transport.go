package frame

import (
	"context"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"

	"dev.c0redev.framelink/internal/circuit"
)

// NodeID identifies a peer node in the mesh.
type NodeID uint64

func (n NodeID) String() string { return fmt.Sprintf("node:%d", uint64(n)) }

// ConnRef identifies which transport connection a stream belongs to.
// Exactly one of Quic/Circuit is set.
type ConnRef struct {
	Peer    NodeID
	Quic    *quic.Conn
	Circuit *circuit.Conn
}

// errCodeAbandoned: QUIC application error code used for CancelRead/CancelWrite.
const errCodeAbandoned quic.StreamErrorCode = 0

// streamWriter is the closed two-variant write side: exactly quicWriter and
// circuitWriter implement it, nothing outside this package can.
type streamWriter interface {
	send(ctx context.Context, b []byte, fin bool) error
	abandon(ctx context.Context)
	id() uint64
	connRef() ConnRef
}

// streamReader mirrors streamWriter for the read side. readExact fills buf
// completely or fails; fin is true only when end-of-stream landed exactly on
// the last requested byte. A clean end-of-stream before any byte is io.EOF;
// one mid-buffer is io.ErrUnexpectedEOF.
type streamReader interface {
	readExact(ctx context.Context, buf []byte) (fin bool, err error)
	abandon(ctx context.Context)
	isInitiator() bool
	connRef() ConnRef
}

type quicWriter struct {
	peer   NodeID
	conn   *quic.Conn
	stream *quic.Stream
}

func (w *quicWriter) send(ctx context.Context, b []byte, fin bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := w.stream.Write(b); err != nil {
		return err
	}
	if fin {
		return w.stream.Close()
	}
	return nil
}

func (w *quicWriter) abandon(ctx context.Context) {
	w.stream.CancelWrite(errCodeAbandoned)
}

func (w *quicWriter) id() uint64 { return uint64(w.stream.StreamID()) }

func (w *quicWriter) connRef() ConnRef { return ConnRef{Peer: w.peer, Quic: w.conn} }

type quicReader struct {
	peer      NodeID
	conn      *quic.Conn
	stream    *quic.Stream
	initiator bool
}

func (r *quicReader) readExact(ctx context.Context, buf []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	n := 0
	for n < len(buf) {
		m, err := r.stream.Read(buf[n:])
		n += m
		if err == io.EOF {
			if n == len(buf) {
				return true, nil
			}
			if n == 0 {
				return false, io.EOF
			}
			return false, io.ErrUnexpectedEOF
		}
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

func (r *quicReader) abandon(ctx context.Context) {
	r.stream.CancelRead(errCodeAbandoned)
}

func (r *quicReader) isInitiator() bool { return r.initiator }

func (r *quicReader) connRef() ConnRef { return ConnRef{Peer: r.peer, Quic: r.conn} }

type circuitWriter struct {
	peer NodeID
	st   *circuit.Stream
}

func (w *circuitWriter) send(ctx context.Context, b []byte, fin bool) error {
	return w.st.Write(ctx, b, fin)
}

func (w *circuitWriter) abandon(ctx context.Context) {
	w.st.AbandonWrite()
}

func (w *circuitWriter) id() uint64 { return uint64(w.st.ID()) }

func (w *circuitWriter) connRef() ConnRef { return ConnRef{Peer: w.peer, Circuit: w.st.Conn()} }

type circuitReader struct {
	peer NodeID
	st   *circuit.Stream
}

func (r *circuitReader) readExact(ctx context.Context, buf []byte) (bool, error) {
	return r.st.ReadExact(ctx, buf)
}

func (r *circuitReader) abandon(ctx context.Context) {
	r.st.AbandonRead()
}

// isInitiator: circuit streams have no per-stream initiator bit on the wire;
// the client side of the connection counts as the initiating side.
func (r *circuitReader) isInitiator() bool { return r.st.Conn().IsClient() }

func (r *circuitReader) connRef() ConnRef { return ConnRef{Peer: r.peer, Circuit: r.st.Conn()} }

// NewQUICStream pairs a writer and reader over one QUIC stream. initiator
// records whether the local side opened the stream.
func NewQUICStream(peer NodeID, conn *quic.Conn, stream *quic.Stream, initiator bool) (*StreamWriter, *StreamReader) {
	w := &StreamWriter{peer: peer, w: &quicWriter{peer: peer, conn: conn, stream: stream}}
	r := &StreamReader{peer: peer, r: &quicReader{peer: peer, conn: conn, stream: stream, initiator: initiator}}
	return w, r
}

// NewCircuitStream pairs a writer and reader over one circuit stream.
func NewCircuitStream(peer NodeID, st *circuit.Stream) (*StreamWriter, *StreamReader) {
	w := &StreamWriter{peer: peer, w: &circuitWriter{peer: peer, st: st}}
	r := &StreamReader{peer: peer, r: &circuitReader{peer: peer, st: st}}
	return w, r
}
