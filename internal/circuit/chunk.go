// Package circuit runs point-to-point byte streams over a single net.Conn,
// keyed by small integer stream ids. Optional ML-KEM key agreement with
// ChaCha20-Poly1305 sealing, and bcrypt token auth, at connection setup.
package circuit

import (
	"encoding/binary"
	"errors"
	"io"
)

var ErrShortChunk = errors.New("short chunk")
var ErrChunkTooLarge = errors.New("chunk too large")
var ErrConnClosed = errors.New("circuit connection closed")
var ErrStreamReset = errors.New("circuit stream reset")
var ErrStreamAbandoned = errors.New("circuit stream abandoned")
var ErrHandshake = errors.New("circuit handshake failed")

// chunkType: 1-byte type on the inner wire.
type chunkType uint8

const (
	chunkOpen    chunkType = 0x01
	chunkData    chunkType = 0x02
	chunkDataFin chunkType = 0x03 // data, and the stream ends after it
	chunkFin     chunkType = 0x04 // no data, stream ends
	chunkReset   chunkType = 0x05
	chunkKey     chunkType = 0x11 // server -> client: ML-KEM encapsulation key
	chunkCipher  chunkType = 0x12 // client -> server: KEM ciphertext
	chunkAuth    chunkType = 0x13 // client -> server: bearer token
	chunkAuthOK  chunkType = 0x14 // server -> client: 1 byte, 1=accepted
)

// chunkHeaderSize: 1 + 4 + 4 = 9 bytes (type, stream id, length).
const chunkHeaderSize = 9

// maxChunkPayload caps one chunk; larger stream writes are split.
const maxChunkPayload = 1024 * 1024

// maxDataChunk is the split size for stream data, leaving headroom for the
// nonce and tag added when the connection is sealed.
const maxDataChunk = maxChunkPayload - 64

// writeChunk writes one 9-byte header + payload to w.
func writeChunk(w io.Writer, ct chunkType, stream uint32, payload []byte) error {
	if len(payload) > maxChunkPayload {
		return ErrChunkTooLarge
	}
	header := [chunkHeaderSize]byte{}
	header[0] = byte(ct)
	binary.LittleEndian.PutUint32(header[1:5], stream)
	binary.LittleEndian.PutUint32(header[5:9], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// readChunk reads one chunk; buf is reused when large enough.
func readChunk(r io.Reader, buf []byte) (chunkType, uint32, []byte, error) {
	var header [chunkHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, 0, nil, err
	}
	ct := chunkType(header[0])
	stream := binary.LittleEndian.Uint32(header[1:5])
	length := binary.LittleEndian.Uint32(header[5:9])
	if length == 0 {
		return ct, stream, nil, nil
	}
	if length > maxChunkPayload {
		return 0, 0, nil, ErrChunkTooLarge
	}
	var payload []byte
	if buf != nil && cap(buf) >= int(length) {
		payload = buf[:length]
	} else {
		payload = make([]byte, length)
	}
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, 0, nil, err
	}
	return ct, stream, payload, nil
}
