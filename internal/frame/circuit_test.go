package frame

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.c0redev.framelink/internal/circuit"
)

func circuitPair(t *testing.T) (*circuit.Conn, *circuit.Conn) {
	t.Helper()
	nc1, nc2 := net.Pipe()
	client := circuit.NewConn(nc1, circuit.Options{Client: true})
	server := circuit.NewConn(nc2, circuit.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()
	require.NoError(t, client.Start(ctx))
	require.NoError(t, <-errCh)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestFramedOverCircuit(t *testing.T) {
	client, server := circuitPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cst, err := client.OpenStream()
	require.NoError(t, err)
	sst, err := server.AcceptStream(ctx)
	require.NoError(t, err)

	w, _ := NewCircuitStream(1, cst)
	_, r := NewCircuitStream(2, sst)

	assert.Equal(t, uint64(cst.ID()), w.ID())
	assert.Same(t, client, w.Conn().Circuit)
	assert.False(t, r.IsInitiator(), "server side of a circuit is not the initiator")

	var stats MessageStats
	require.NoError(t, w.Send(ctx, Hello(), nil, false, &stats))
	require.NoError(t, w.Send(ctx, Data(Context{UsePersistentHeader: true}), []byte("payload"), true, &stats))
	assert.Equal(t, uint64(2), stats.SentMessages())
	assert.Equal(t, uint64(HeaderSize+HeaderSize+7), stats.SentBytes())

	f, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Hello(), f.Type)
	assert.Empty(t, f.Payload)
	assert.False(t, f.Fin)

	f, err = r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Data(Context{UsePersistentHeader: true}), f.Type)
	assert.Equal(t, []byte("payload"), f.Payload)
	assert.True(t, f.Fin)

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFramedCircuitEmptyFinalFrame(t *testing.T) {
	client, server := circuitPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cst, err := client.OpenStream()
	require.NoError(t, err)
	sst, err := server.AcceptStream(ctx)
	require.NoError(t, err)

	w, _ := NewCircuitStream(1, cst)
	_, r := NewCircuitStream(2, sst)

	var stats MessageStats
	require.NoError(t, w.Send(ctx, Control(Context{}), nil, true, &stats))

	f, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Control(Context{}), f.Type)
	assert.Empty(t, f.Payload)
	assert.True(t, f.Fin, "empty final frame carries fin on the header")
}

func TestFramedCircuitAbandon(t *testing.T) {
	client, server := circuitPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cst, err := client.OpenStream()
	require.NoError(t, err)
	sst, err := server.AcceptStream(ctx)
	require.NoError(t, err)

	w, _ := NewCircuitStream(1, cst)
	_, r := NewCircuitStream(2, sst)

	w.Abandon(ctx)
	var stats MessageStats
	err = w.Send(ctx, Hello(), nil, false, &stats)
	require.ErrorIs(t, err, ErrStreamAbandoned)

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, circuit.ErrStreamReset)
}
