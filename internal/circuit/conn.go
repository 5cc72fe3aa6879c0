package circuit

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Options configures one side of a circuit connection.
type Options struct {
	// Client marks the initiating side; it allocates odd stream ids.
	Client bool
	// Secure enables ML-KEM key agreement; data chunk payloads are then
	// sealed with ChaCha20-Poly1305.
	Secure bool
	// AuthToken is sent by the client after key agreement when non-empty.
	AuthToken string
	// AuthHash is the server-side bcrypt hash the token is checked
	// against; non-empty enables auth.
	AuthHash []byte
	// Logger is optional; nil logs nothing.
	Logger *zerolog.Logger
}

// Conn multiplexes circuit streams over one net.Conn. Streams are keyed by
// id: the client allocates odd ids, the server even, so the two sides never
// collide. The read loop owns all inbound chunk dispatch.
type Conn struct {
	id     string
	nc     net.Conn
	br     *bufio.Reader
	client bool
	log    zerolog.Logger

	secure    bool
	authToken string
	authHash  []byte
	// secret is written during Handshake, before any stream I/O.
	secret []byte

	wmu sync.Mutex

	mu       sync.Mutex
	streams  map[uint32]*Stream
	nextID   uint32
	closed   bool
	closeErr error

	accepts chan *Stream
	done    chan struct{}
}

// NewConn wraps nc. Call Start before opening or accepting streams.
func NewConn(nc net.Conn, opts Options) *Conn {
	c := &Conn{
		id:        uuid.NewString(),
		nc:        nc,
		br:        bufio.NewReader(nc),
		client:    opts.Client,
		secure:    opts.Secure,
		authToken: opts.AuthToken,
		authHash:  opts.AuthHash,
		streams:   make(map[uint32]*Stream),
		accepts:   make(chan *Stream, 16),
		done:      make(chan struct{}),
	}
	if opts.Client {
		c.nextID = 1
	} else {
		c.nextID = 2
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	c.log = log.With().Str("circuit", c.id).Bool("client", c.client).Logger()
	return c
}

// ID returns the local diagnostic id of this connection.
func (c *Conn) ID() string { return c.id }

// IsClient reports whether this side initiated the connection.
func (c *Conn) IsClient() bool { return c.client }

// Start runs the setup handshake (key agreement, auth) and launches the
// read loop. Must be called exactly once, before any stream use.
func (c *Conn) Start(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.nc.SetDeadline(deadline)
		defer func() { _ = c.nc.SetDeadline(time.Time{}) }()
	}
	if err := c.handshake(); err != nil {
		c.fail(err)
		return err
	}
	go c.readLoop()
	return nil
}

func (c *Conn) handshake() error {
	if c.client {
		return c.handshakeClient()
	}
	return c.handshakeServer()
}

func (c *Conn) handshakeClient() error {
	if c.secure {
		ct, _, payload, err := readChunk(c.br, nil)
		if err != nil {
			return fmt.Errorf("%w: read key: %v", ErrHandshake, err)
		}
		if ct != chunkKey {
			return fmt.Errorf("%w: expected key chunk, got 0x%02x", ErrHandshake, uint8(ct))
		}
		secret, cipher, err := encapsulate(payload)
		if err != nil {
			return fmt.Errorf("%w: encapsulate: %v", ErrHandshake, err)
		}
		if err := writeChunk(c.nc, chunkCipher, 0, cipher); err != nil {
			return fmt.Errorf("%w: send cipher: %v", ErrHandshake, err)
		}
		c.secret = secret
		c.log.Debug().Msg("circuit secured")
	}
	if c.authToken != "" {
		token := []byte(c.authToken)
		if c.secret != nil {
			sealed, err := seal(c.secret, token)
			if err != nil {
				return fmt.Errorf("%w: seal token: %v", ErrHandshake, err)
			}
			token = sealed
		}
		if err := writeChunk(c.nc, chunkAuth, 0, token); err != nil {
			return fmt.Errorf("%w: send auth: %v", ErrHandshake, err)
		}
		ct, _, payload, err := readChunk(c.br, nil)
		if err != nil {
			return fmt.Errorf("%w: read auth reply: %v", ErrHandshake, err)
		}
		if ct != chunkAuthOK || len(payload) < 1 || payload[0] != 1 {
			return fmt.Errorf("%w: auth rejected", ErrHandshake)
		}
	}
	return nil
}

func (c *Conn) handshakeServer() error {
	if c.secure {
		enc, decap, err := generateKEM()
		if err != nil {
			return fmt.Errorf("%w: keygen: %v", ErrHandshake, err)
		}
		if err := writeChunk(c.nc, chunkKey, 0, enc); err != nil {
			return fmt.Errorf("%w: send key: %v", ErrHandshake, err)
		}
		ct, _, payload, err := readChunk(c.br, nil)
		if err != nil {
			return fmt.Errorf("%w: read cipher: %v", ErrHandshake, err)
		}
		if ct != chunkCipher {
			return fmt.Errorf("%w: expected cipher chunk, got 0x%02x", ErrHandshake, uint8(ct))
		}
		secret, err := decapsulate(decap, payload)
		if err != nil {
			return fmt.Errorf("%w: decapsulate: %v", ErrHandshake, err)
		}
		c.secret = secret
		c.log.Debug().Msg("circuit secured")
	}
	if len(c.authHash) > 0 {
		ct, _, payload, err := readChunk(c.br, nil)
		if err != nil {
			return fmt.Errorf("%w: read auth: %v", ErrHandshake, err)
		}
		if ct != chunkAuth {
			return fmt.Errorf("%w: expected auth chunk, got 0x%02x", ErrHandshake, uint8(ct))
		}
		token := payload
		if c.secret != nil {
			token, err = open(c.secret, payload)
			if err != nil {
				_ = writeChunk(c.nc, chunkAuthOK, 0, []byte{0})
				return fmt.Errorf("%w: open token: %v", ErrHandshake, err)
			}
		}
		if bcrypt.CompareHashAndPassword(c.authHash, token) != nil {
			_ = writeChunk(c.nc, chunkAuthOK, 0, []byte{0})
			return fmt.Errorf("%w: auth rejected", ErrHandshake)
		}
		if err := writeChunk(c.nc, chunkAuthOK, 0, []byte{1}); err != nil {
			return fmt.Errorf("%w: send auth reply: %v", ErrHandshake, err)
		}
	}
	return nil
}

// OpenStream allocates a local stream id and announces it to the peer.
func (c *Conn) OpenStream() (*Stream, error) {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	id := c.nextID
	c.nextID += 2
	s := newStream(c, id)
	c.streams[id] = s
	c.mu.Unlock()
	if err := c.writeChunk(chunkOpen, id, nil); err != nil {
		c.mu.Lock()
		delete(c.streams, id)
		c.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// AcceptStream blocks until the peer opens a stream.
func (c *Conn) AcceptStream(ctx context.Context) (*Stream, error) {
	select {
	case s := <-c.accepts:
		return s, nil
	case <-c.done:
		c.mu.Lock()
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears the connection down; every live stream observes a reset.
func (c *Conn) Close() error {
	c.fail(ErrConnClosed)
	return nil
}

func (c *Conn) stream(id uint32) *Stream {
	c.mu.Lock()
	s := c.streams[id]
	c.mu.Unlock()
	return s
}

// writeChunk serializes one chunk onto the connection, sealing stream data
// and auth payloads when the connection is secured. Write failures are
// fatal to the whole connection.
func (c *Conn) writeChunk(ct chunkType, stream uint32, payload []byte) error {
	if c.secret != nil && len(payload) > 0 && (ct == chunkData || ct == chunkDataFin) {
		sealed, err := seal(c.secret, payload)
		if err != nil {
			return err
		}
		payload = sealed
	}
	c.mu.Lock()
	closed := c.closed
	err := c.closeErr
	c.mu.Unlock()
	if closed {
		return err
	}
	c.wmu.Lock()
	werr := writeChunk(c.nc, ct, stream, payload)
	c.wmu.Unlock()
	if werr != nil {
		c.fail(werr)
	}
	return werr
}

func (c *Conn) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		ct, id, payload, err := readChunk(c.br, buf)
		if err != nil {
			if err == io.EOF {
				err = ErrConnClosed
			}
			c.fail(err)
			return
		}
		switch ct {
		case chunkOpen:
			s := newStream(c, id)
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			if _, dup := c.streams[id]; dup {
				c.mu.Unlock()
				continue
			}
			c.streams[id] = s
			c.mu.Unlock()
			select {
			case c.accepts <- s:
			default:
				// acceptor not keeping up; refuse the stream
				c.mu.Lock()
				delete(c.streams, id)
				c.mu.Unlock()
				s.Abandon()
			}
		case chunkData, chunkDataFin:
			p := payload
			if c.secret != nil && len(p) > 0 {
				dec, err := open(c.secret, p)
				if err != nil {
					c.log.Warn().Uint32("stream", id).Msg("dropping undecryptable chunk")
					continue
				}
				p = dec
			}
			if s := c.stream(id); s != nil {
				s.deliver(p, ct == chunkDataFin)
			}
		case chunkFin:
			if s := c.stream(id); s != nil {
				s.deliverFin()
			}
		case chunkReset:
			c.mu.Lock()
			s := c.streams[id]
			delete(c.streams, id)
			c.mu.Unlock()
			if s != nil {
				s.deliverReset(ErrStreamReset)
			}
		default:
			c.log.Debug().Uint8("chunk", uint8(ct)).Msg("ignoring unknown chunk type")
		}
	}
}

// fail marks the connection dead exactly once and resets every stream.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	close(c.done)
	c.mu.Unlock()
	_ = c.nc.Close()
	for _, s := range streams {
		s.deliverReset(err)
	}
	if err != ErrConnClosed {
		c.log.Warn().Err(err).Msg("circuit connection failed")
	}
}
