package workerserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/kvmirror/internal/core/domain"
	"github.com/yndnr/kvmirror/internal/protocol"
	"github.com/yndnr/kvmirror/internal/transport"
)

func TestRegistry_RegisterSendsHandshake(t *testing.T) {
	r := NewRegistry(true, nil)
	client, server := transport.Pipe()
	defer client.Close()

	c := newConn(server)
	require.NoError(t, r.Register(context.Background(), c))

	m, err := client.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeConnected, m.Type)
	assert.True(t, m.SupportsPersistence)

	got, ok := r.Get(c.ID)
	assert.True(t, ok)
	assert.Same(t, c, got)
}

func TestRegistry_RegisterTwice(t *testing.T) {
	r := NewRegistry(false, nil)
	client, server := transport.Pipe()
	defer client.Close()

	c := newConn(server)
	require.NoError(t, r.Register(context.Background(), c))
	require.NoError(t, r.Register(context.Background(), c))
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	r := NewRegistry(true, nil)
	client, server := transport.Pipe()
	defer client.Close()

	c := newConn(server)
	require.NoError(t, r.Register(context.Background(), c))

	r.Unregister(c.ID)
	r.Unregister(c.ID)
	r.Unregister("never-registered")
	assert.Equal(t, 0, r.Count())

	// A removed connection receives nothing.
	err := c.Send(context.Background(), protocol.SessionValidated(1, nil))
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
}

func TestRegistry_IndependentConnections(t *testing.T) {
	r := NewRegistry(true, nil)

	var conns []*Conn
	for i := 0; i < 20; i++ {
		client, server := transport.Pipe()
		defer client.Close()
		c := newConn(server)
		require.NoError(t, r.Register(context.Background(), c))
		conns = append(conns, c)
	}
	assert.Equal(t, 20, r.Count())

	r.Unregister(conns[3].ID)
	assert.Equal(t, 19, r.Count())
	_, ok := r.Get(conns[4].ID)
	assert.True(t, ok)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
}
