// Package transport provides the bidirectional message ports that connect
// mirror clients to a worker.
//
// Two implementations exist: Pipe links two in-process endpoints, and
// ConnPort carries newline-delimited JSON over a stream connection such as
// a unix socket.
package transport

import (
	"context"
	"errors"

	"github.com/yndnr/kvmirror/internal/protocol"
)

// ErrClosed is returned by Send and Recv once either end closed the port.
var ErrClosed = errors.New("transport: port closed")

// Port is one end of a message channel.
//
// Send may be called concurrently. Recv must be called from a single
// goroutine. Messages are delivered in the order they were sent.
type Port interface {
	// Send delivers m to the other end.
	Send(ctx context.Context, m *protocol.Message) error

	// Recv blocks until the next message arrives, the port closes
	// (ErrClosed), or ctx is done.
	Recv(ctx context.Context) (*protocol.Message, error)

	// Close releases the port. It is safe to call more than once.
	Close() error
}
