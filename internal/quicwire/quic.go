// Package quicwire dials and accepts the QUIC connections the frame layer
// multiplexes streams over.
package quicwire

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/quic-go/quic-go"

	"dev.c0redev.framelink/internal/frame"
)

// ALPN tag for framelink connections.
const ALPN = "framelink/1"

const maxIdleTimeout = 30 * time.Second

// ClientTLS default TLS for dialing (self-signed peers, ALPN pinned).
func ClientTLS() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
		NextProtos:         []string{ALPN},
	}
}

// ServerTLS TLS for listening; certs required.
func ServerTLS(certs []tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: certs,
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{ALPN},
	}
}

// Dial opens a QUIC connection to addr.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*quic.Conn, error) {
	if tlsConfig == nil {
		tlsConfig = ClientTLS()
	}
	return quic.DialAddr(ctx, addr, tlsConfig, &quic.Config{
		MaxIdleTimeout: maxIdleTimeout,
	})
}

// Listen starts a QUIC listener on addr.
func Listen(addr string, tlsConfig *tls.Config) (*quic.Listener, error) {
	return quic.ListenAddr(addr, tlsConfig, &quic.Config{
		MaxIdleTimeout: maxIdleTimeout,
	})
}

// OpenFramed opens a new stream on conn and wraps it in a framed
// writer/reader pair addressed to peer.
func OpenFramed(ctx context.Context, conn *quic.Conn, peer frame.NodeID) (*frame.StreamWriter, *frame.StreamReader, error) {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, nil, err
	}
	w, r := frame.NewQUICStream(peer, conn, stream, true)
	return w, r, nil
}

// AcceptFramed waits for the peer to open a stream and wraps it.
func AcceptFramed(ctx context.Context, conn *quic.Conn, peer frame.NodeID) (*frame.StreamWriter, *frame.StreamReader, error) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, nil, err
	}
	w, r := frame.NewQUICStream(peer, conn, stream, false)
	return w, r, nil
}
