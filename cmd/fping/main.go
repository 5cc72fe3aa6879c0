// fping: frame-level ping/echo diagnostic for framelink transports.
// Serves or dials over QUIC, over a circuit connection on TCP, or over a
// peer-to-peer ICE path with file-based signaling.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"

	"dev.c0redev.framelink/internal/circuit"
	"dev.c0redev.framelink/internal/frame"
	"dev.c0redev.framelink/internal/quicwire"
	"dev.c0redev.framelink/internal/statstore"
)

func main() {
	configPath := flag.String("config", "", "optional TOML config file")
	serve := flag.Bool("serve", false, "run the echo side")
	addr := flag.String("addr", "", "listen/dial address")
	transport := flag.String("transport", "", "quic, tcp (circuit) or ice (p2p circuit)")
	node := flag.Uint64("node", 0, "remote node id")
	count := flag.Int("count", 0, "pings to send")
	size := flag.Int("size", 0, "ping payload bytes")
	secure := flag.Bool("secure", false, "circuit: ML-KEM + ChaCha20-Poly1305")
	token := flag.String("token", "", "circuit: auth token (client)")
	tokenHash := flag.String("token-hash", "", "circuit: bcrypt token hash (server)")
	statsDB := flag.String("stats", "", "sqlite stats journal path")
	stunURL := flag.String("stun", "", "ice: STUN server url")
	iceLocal := flag.String("ice-local", "", "ice: file to write local params to")
	iceRemote := flag.String("ice-remote", "", "ice: file to read peer params from")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *transport != "" {
		cfg.Transport = *transport
	}
	if *node != 0 {
		cfg.Node = *node
	}
	if *count != 0 {
		cfg.Count = *count
	}
	if *size != 0 {
		cfg.Size = *size
	}
	if *secure {
		cfg.Secure = true
	}
	if *token != "" {
		cfg.Token = *token
	}
	if *tokenHash != "" {
		cfg.TokenHash = *tokenHash
	}
	if *statsDB != "" {
		cfg.StatsDB = *statsDB
	}
	if *stunURL != "" {
		cfg.StunURL = *stunURL
	}
	if *iceLocal != "" {
		cfg.IceLocal = *iceLocal
	}
	if *iceRemote != "" {
		cfg.IceRemote = *iceRemote
	}

	ctx := context.Background()
	if *serve {
		switch cfg.Transport {
		case "quic":
			err = serveQUIC(ctx, log, cfg)
		case "ice":
			err = serveICE(ctx, log, cfg)
		default:
			err = serveCircuit(ctx, log, cfg)
		}
	} else {
		err = ping(ctx, log, cfg)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("fping")
	}
}

func serveQUIC(ctx context.Context, log zerolog.Logger, cfg config) error {
	tlsConf, err := quicwire.SelfSignedTLS()
	if err != nil {
		return err
	}
	ln, err := quicwire.Listen(cfg.Addr, tlsConf)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Info().Str("addr", cfg.Addr).Msg("quic echo listening")
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			return err
		}
		clog := log.With().Str("remote", conn.RemoteAddr().String()).Logger()
		go func() {
			for {
				w, r, err := quicwire.AcceptFramed(ctx, conn, frame.NodeID(cfg.Node))
				if err != nil {
					clog.Debug().Err(err).Msg("connection done")
					return
				}
				go echo(ctx, clog, w, r)
			}
		}()
	}
}

func serveCircuit(ctx context.Context, log zerolog.Logger, cfg config) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Info().Str("addr", cfg.Addr).Msg("circuit echo listening")
	for {
		nc, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			opts := circuit.Options{Secure: cfg.Secure, Logger: &log}
			if cfg.TokenHash != "" {
				opts.AuthHash = []byte(cfg.TokenHash)
			}
			conn := circuit.NewConn(nc, opts)
			hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Start(hctx)
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("circuit setup failed")
				return
			}
			for {
				st, err := conn.AcceptStream(ctx)
				if err != nil {
					return
				}
				w, r := frame.NewCircuitStream(frame.NodeID(cfg.Node), st)
				go echo(ctx, log, w, r)
			}
		}()
	}
}

// serveICE establishes one peer-to-peer circuit connection and echoes its
// streams. Signaling is file-based: both sides publish their params and
// poll for the peer's.
func serveICE(ctx context.Context, log zerolog.Logger, cfg config) error {
	nc, err := iceConnect(ctx, log, cfg, true)
	if err != nil {
		return err
	}
	opts := circuit.Options{Secure: cfg.Secure, Logger: &log}
	if cfg.TokenHash != "" {
		opts.AuthHash = []byte(cfg.TokenHash)
	}
	conn := circuit.NewConn(nc, opts)
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = conn.Start(hctx)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Info().Msg("circuit over ice established")
	for {
		st, err := conn.AcceptStream(ctx)
		if err != nil {
			return nil
		}
		w, r := frame.NewCircuitStream(frame.NodeID(cfg.Node), st)
		go echo(ctx, log, w, r)
	}
}

// iceConnect gathers candidates, writes local params to cfg.IceLocal, waits
// for the peer's params in cfg.IceRemote and runs connectivity checks. The
// serving side accepts, the pinging side dials.
func iceConnect(ctx context.Context, log zerolog.Logger, cfg config, accept bool) (net.Conn, error) {
	if cfg.IceLocal == "" || cfg.IceRemote == "" {
		return nil, errors.New("ice transport needs -ice-local and -ice-remote signaling files")
	}
	side, err := circuit.NewICE(circuit.ICEOptions{StunURL: cfg.StunURL})
	if err != nil {
		return nil, err
	}
	local, err := json.Marshal(side.Params())
	if err != nil {
		_ = side.Close()
		return nil, err
	}
	if err := os.WriteFile(cfg.IceLocal, local, 0o600); err != nil {
		_ = side.Close()
		return nil, err
	}
	log.Info().Str("file", cfg.IceLocal).Msg("local ice params published")
	remote, err := waitICEParams(ctx, cfg.IceRemote)
	if err != nil {
		_ = side.Close()
		return nil, err
	}
	var nc net.Conn
	if accept {
		nc, err = side.Accept(ctx, remote)
	} else {
		nc, err = side.Dial(ctx, remote)
	}
	if err != nil {
		_ = side.Close()
		return nil, err
	}
	return nc, nil
}

// waitICEParams polls for the peer's signaling file until it parses.
func waitICEParams(ctx context.Context, path string) (circuit.ICEParams, error) {
	for {
		b, err := os.ReadFile(path)
		if err == nil {
			var p circuit.ICEParams
			if err := json.Unmarshal(b, &p); err == nil && p.Ufrag != "" {
				return p, nil
			}
		}
		select {
		case <-ctx.Done():
			return circuit.ICEParams{}, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// echo mirrors every frame back, preserving type, payload and fin.
func echo(ctx context.Context, log zerolog.Logger, w *frame.StreamWriter, r *frame.StreamReader) {
	var stats frame.MessageStats
	for {
		f, err := r.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("stream done")
			}
			w.Abandon(ctx)
			return
		}
		if err := w.Send(ctx, f.Type, f.Payload, f.Fin, &stats); err != nil {
			log.Debug().Err(err).Msg("echo send failed")
			return
		}
		if f.Fin {
			log.Debug().Uint64("messages", stats.SentMessages()).Msg("stream finished")
			return
		}
	}
}

func ping(ctx context.Context, log zerolog.Logger, cfg config) error {
	peer := frame.NodeID(cfg.Node)
	w, r, cleanup, err := dialFramed(ctx, log, cfg, peer)
	if err != nil {
		return err
	}
	defer cleanup()

	var stats frame.MessageStats
	if err := w.Send(ctx, frame.Hello(), nil, false, &stats); err != nil {
		return err
	}
	f, err := r.Next(ctx)
	if err != nil {
		return err
	}
	if f.Type != frame.Hello() {
		log.Warn().Str("type", f.Type.String()).Msg("unexpected reply to hello")
	}

	payload := make([]byte, cfg.Size)
	if _, err := rand.Read(payload); err != nil {
		return err
	}
	for i := 0; i < cfg.Count; i++ {
		fin := i == cfg.Count-1
		start := time.Now()
		if err := w.Send(ctx, frame.Data(frame.Context{}), payload, fin, &stats); err != nil {
			return err
		}
		f, err := r.Next(ctx)
		if err != nil {
			return err
		}
		log.Info().
			Int("seq", i).
			Int("bytes", len(f.Payload)).
			Dur("rtt", time.Since(start)).
			Bool("fin", f.Fin).
			Msg("pong")
	}

	log.Info().
		Stringer("peer", peer).
		Uint64("sent_messages", stats.SentMessages()).
		Uint64("sent_bytes", stats.SentBytes()).
		Msg("done")

	if cfg.StatsDB != "" {
		db, err := statstore.Open(cfg.StatsDB)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Record(peer, &stats); err != nil {
			return err
		}
		log.Debug().Str("db", cfg.StatsDB).Msg("stats recorded")
	}
	return nil
}

func dialFramed(ctx context.Context, log zerolog.Logger, cfg config, peer frame.NodeID) (*frame.StreamWriter, *frame.StreamReader, func(), error) {
	if cfg.Transport == "quic" {
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		conn, err := quicwire.Dial(dctx, cfg.Addr, nil)
		if err != nil {
			return nil, nil, nil, err
		}
		w, r, err := quicwire.OpenFramed(dctx, conn, peer)
		if err != nil {
			_ = conn.CloseWithError(0, "")
			return nil, nil, nil, err
		}
		return w, r, func() { _ = conn.CloseWithError(0, "") }, nil
	}
	var nc net.Conn
	var err error
	if cfg.Transport == "ice" {
		// signaling can take a while; only the circuit setup below is
		// deadline-bounded
		nc, err = iceConnect(ctx, log, cfg, false)
	} else {
		nc, err = net.DialTimeout("tcp", cfg.Addr, 10*time.Second)
	}
	if err != nil {
		return nil, nil, nil, err
	}
	conn := circuit.NewConn(nc, circuit.Options{
		Client:    true,
		Secure:    cfg.Secure,
		AuthToken: cfg.Token,
		Logger:    &log,
	})
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Start(hctx); err != nil {
		return nil, nil, nil, err
	}
	st, err := conn.OpenStream()
	if err != nil {
		conn.Close()
		return nil, nil, nil, err
	}
	w, r := frame.NewCircuitStream(peer, st)
	return w, r, func() { conn.Close() }, nil
}
