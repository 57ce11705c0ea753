package transport

import (
	"context"
	"sync"

	"github.com/yndnr/kvmirror/internal/protocol"
)

// mailbox is an unbounded FIFO queue, so a sender never blocks on a peer
// that is itself blocked sending.
type mailbox struct {
	mu     sync.Mutex
	queue  []*protocol.Message
	notify chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (b *mailbox) put(m *protocol.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.queue = append(b.queue, m)
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

func (b *mailbox) take(ctx context.Context) (*protocol.Message, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			m := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return m, nil
		}
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// close stops new deliveries. Queued messages can still be taken.
func (b *mailbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

// pipeEnd is one side of an in-memory pipe.
type pipeEnd struct {
	in   *mailbox
	out  *mailbox
	once sync.Once
}

// Pipe returns the two connected ends of an in-memory message channel.
//
// Messages are copied on send, so neither side observes later changes the
// other makes to a sent message. Closing either end closes both.
func Pipe() (Port, Port) {
	a, b := newMailbox(), newMailbox()
	return &pipeEnd{in: a, out: b}, &pipeEnd{in: b, out: a}
}

func (p *pipeEnd) Send(ctx context.Context, m *protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clone := *m
	return p.out.put(&clone)
}

func (p *pipeEnd) Recv(ctx context.Context) (*protocol.Message, error) {
	return p.in.take(ctx)
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() {
		p.in.close()
		p.out.close()
	})
	return nil
}
