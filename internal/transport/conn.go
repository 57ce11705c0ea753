package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/kvmirror/internal/protocol"
)

// ConnPort is a Port over a stream connection.
type ConnPort struct {
	conn   net.Conn
	enc    *protocol.Encoder
	dec    *protocol.Decoder
	wmu    sync.Mutex
	closed atomic.Bool
}

// NewConnPort wraps conn.
func NewConnPort(conn net.Conn) *ConnPort {
	return &ConnPort{
		conn: conn,
		enc:  protocol.NewEncoder(conn),
		dec:  protocol.NewDecoder(conn),
	}
}

// Dial connects to the worker listening on the unix socket at path.
func Dial(ctx context.Context, path string) (*ConnPort, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return NewConnPort(conn), nil
}

// Send writes m, honouring the ctx deadline.
func (p *ConnPort) Send(ctx context.Context, m *protocol.Message) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return p.mapError(ctx, err)
	}
	if err := p.enc.Encode(m); err != nil {
		return p.mapError(ctx, err)
	}
	return nil
}

// Recv reads the next message. A malformed line is returned as an
// ErrMalformedMessage error and the port stays usable. After Recv returned
// a ctx error the port must be closed.
func (p *ConnPort) Recv(ctx context.Context) (*protocol.Message, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Unblock the read when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = p.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	m, err := p.dec.Decode()
	if err != nil {
		return nil, p.mapError(ctx, err)
	}
	return m, nil
}

// Close closes the underlying connection.
func (p *ConnPort) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.conn.Close()
}

// RemoteAddr returns the peer address.
func (p *ConnPort) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}

func (p *ConnPort) mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if p.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}
