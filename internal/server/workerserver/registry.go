package workerserver

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/kvmirror/internal/core/domain"
	"github.com/yndnr/kvmirror/internal/protocol"
	"github.com/yndnr/kvmirror/internal/transport"
	"github.com/yndnr/kvmirror/pkg/cmap"
)

// ConnID identifies a registered connection.
type ConnID string

// Conn is one registered client connection.
type Conn struct {
	ID          ConnID
	ConnectedAt time.Time

	port    transport.Port
	removed atomic.Bool
}

func newConn(port transport.Port) *Conn {
	return &Conn{
		ID:          ConnID(ulid.Make().String()),
		ConnectedAt: time.Now(),
		port:        port,
	}
}

// Send posts m to this connection only. A connection that was
// unregistered receives nothing.
func (c *Conn) Send(ctx context.Context, m *protocol.Message) error {
	if c.removed.Load() {
		return domain.ErrConnectionClosed
	}
	return c.port.Send(ctx, m)
}

// Registry tracks the live connections of one worker.
type Registry struct {
	conns     *cmap.Map[ConnID, *Conn]
	supported bool
	logger    *slog.Logger

	onChange func(active int)
}

// NewRegistry creates a registry whose handshake reports supported as the
// persistence capability.
func NewRegistry(supported bool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:     cmap.New[ConnID, *Conn](),
		supported: supported,
		logger:    logger,
	}
}

// Register adds c and sends it the connected handshake.
func (r *Registry) Register(ctx context.Context, c *Conn) error {
	if !r.conns.SetIfAbsent(c.ID, c) {
		return nil
	}
	r.changed()

	if err := c.Send(ctx, protocol.Connected(r.supported)); err != nil {
		r.Unregister(c.ID)
		return err
	}

	r.logger.Debug("client registered",
		"conn_id", c.ID,
		"supports_persistence", r.supported,
		"active", r.conns.Count())
	return nil
}

// Unregister removes the connection. Removing an absent connection is a
// no-op.
func (r *Registry) Unregister(id ConnID) {
	c, ok := r.conns.Pop(id)
	if !ok {
		return
	}
	c.removed.Store(true)
	r.changed()

	r.logger.Debug("client unregistered",
		"conn_id", id,
		"active", r.conns.Count())
}

// Get returns the registered connection with id.
func (r *Registry) Get(id ConnID) (*Conn, bool) {
	return r.conns.Get(id)
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	return r.conns.Count()
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange(r.conns.Count())
	}
}
