package circuit

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeChunk(&buf, chunkData, 3, []byte("hello")))
	ct, stream, payload, err := readChunk(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, chunkData, ct)
	assert.Equal(t, uint32(3), stream)
	assert.Equal(t, []byte("hello"), payload)
}

func TestChunkEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeChunk(&buf, chunkFin, 9, nil))
	assert.Equal(t, chunkHeaderSize, buf.Len())
	ct, stream, payload, err := readChunk(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, chunkFin, ct)
	assert.Equal(t, uint32(9), stream)
	assert.Empty(t, payload)
}

func TestChunkTooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := writeChunk(&buf, chunkData, 1, make([]byte, maxChunkPayload+1))
	assert.ErrorIs(t, err, ErrChunkTooLarge)
}

func TestReadChunkShort(t *testing.T) {
	_, _, _, err := readChunk(bytes.NewReader([]byte{0x02, 0x00}), nil)
	require.Error(t, err)
}

func TestReadChunkReusesBuffer(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeChunk(&buf, chunkData, 1, []byte("abc")))
	scratch := make([]byte, 16)
	_, _, payload, err := readChunk(&buf, scratch)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), payload)
	assert.Same(t, &scratch[0], &payload[0], "small payloads land in the scratch buffer")
}

func TestSealOpenRoundTrip(t *testing.T) {
	enc, decap, err := generateKEM()
	require.NoError(t, err)
	secret, cipher, err := encapsulate(enc)
	require.NoError(t, err)
	peerSecret, err := decapsulate(decap, cipher)
	require.NoError(t, err)
	require.Equal(t, secret, peerSecret)

	sealed, err := seal(secret, []byte("payload"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "payload")
	opened, err := open(peerSecret, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), opened)

	// tampering is detected
	sealed[len(sealed)-1] ^= 0xff
	_, err = open(peerSecret, sealed)
	assert.Error(t, err)
}
