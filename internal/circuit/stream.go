package circuit

import (
	"context"
	"errors"
	"io"
	"sync"
)

var ErrStreamFinished = errors.New("circuit stream already finished")

// Stream is one point-to-point byte stream inside a circuit connection.
// The two halves are independent: the write half feeds chunks to the
// connection, the read half drains the inbox filled by the connection's
// read loop. Abandoning either half is a one-way state change.
type Stream struct {
	conn *Conn
	id   uint32

	mu   sync.Mutex
	cond *sync.Cond

	// read half
	inbox         []byte
	finned        bool
	readAbandoned bool

	// write half
	writeClosed    bool
	writeAbandoned bool

	// terminal for both halves
	reset    bool
	resetErr error

	resetSent bool
}

func newStream(conn *Conn, id uint32) *Stream {
	s := &Stream{conn: conn, id: id}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns the stream id within the connection.
func (s *Stream) ID() uint32 { return s.id }

// Conn returns the connection this stream runs over.
func (s *Stream) Conn() *Conn { return s.conn }

// Write sends b on the stream, split into chunks as needed. fin marks the
// final data in this direction and travels with the last chunk so the peer
// observes end-of-stream exactly at the last byte.
func (s *Stream) Write(ctx context.Context, b []byte, fin bool) error {
	s.mu.Lock()
	var err error
	switch {
	case s.writeAbandoned:
		err = ErrStreamAbandoned
	case s.writeClosed:
		err = ErrStreamFinished
	case s.reset:
		err = s.resetErr
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for len(b) > maxDataChunk {
		if err := s.conn.writeChunk(chunkData, s.id, b[:maxDataChunk]); err != nil {
			return err
		}
		b = b[maxDataChunk:]
	}
	ct := chunkData
	if fin {
		ct = chunkDataFin
	}
	if len(b) == 0 {
		if !fin {
			return nil
		}
		ct = chunkFin
	}
	if err := s.conn.writeChunk(ct, s.id, b); err != nil {
		return err
	}
	if fin {
		s.mu.Lock()
		s.writeClosed = true
		s.mu.Unlock()
	}
	return nil
}

// ReadExact fills buf completely from the stream or fails. The returned fin
// is true only when the peer's end-of-stream landed exactly on the last
// requested byte. End-of-stream before any byte is io.EOF; mid-buffer it is
// io.ErrUnexpectedEOF.
func (s *Stream) ReadExact(ctx context.Context, buf []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()
	n := 0
	for n < len(buf) {
		if len(s.inbox) > 0 {
			m := copy(buf[n:], s.inbox)
			s.inbox = s.inbox[m:]
			n += m
			continue
		}
		switch {
		case s.readAbandoned:
			return false, ErrStreamAbandoned
		case s.reset:
			return false, s.resetErr
		case s.finned:
			if n == 0 {
				return false, io.EOF
			}
			return false, io.ErrUnexpectedEOF
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		s.cond.Wait()
	}
	return s.finned && len(s.inbox) == 0, nil
}

// AbandonWrite permanently disconnects the write half. Idempotent.
func (s *Stream) AbandonWrite() {
	s.mu.Lock()
	if s.writeAbandoned {
		s.mu.Unlock()
		return
	}
	s.writeAbandoned = true
	send := !s.resetSent
	s.resetSent = true
	s.mu.Unlock()
	if send {
		_ = s.conn.writeChunk(chunkReset, s.id, nil)
	}
}

// AbandonRead permanently disconnects the read half and drops buffered
// data. Idempotent.
func (s *Stream) AbandonRead() {
	s.mu.Lock()
	if s.readAbandoned {
		s.mu.Unlock()
		return
	}
	s.readAbandoned = true
	s.inbox = nil
	send := !s.resetSent
	s.resetSent = true
	s.cond.Broadcast()
	s.mu.Unlock()
	if send {
		_ = s.conn.writeChunk(chunkReset, s.id, nil)
	}
}

// Abandon disconnects both halves.
func (s *Stream) Abandon() {
	s.AbandonWrite()
	s.AbandonRead()
}

// deliver appends data from the connection read loop; fin means the stream
// ends right after it.
func (s *Stream) deliver(p []byte, fin bool) {
	s.mu.Lock()
	if !s.readAbandoned && !s.reset {
		s.inbox = append(s.inbox, p...)
		if fin {
			s.finned = true
		}
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

func (s *Stream) deliverFin() {
	s.mu.Lock()
	if !s.reset {
		s.finned = true
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

func (s *Stream) deliverReset(err error) {
	s.mu.Lock()
	if !s.reset {
		s.reset = true
		s.resetErr = err
		s.inbox = nil
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}
