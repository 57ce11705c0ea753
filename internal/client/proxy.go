package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yndnr/kvmirror/internal/core/domain"
	"github.com/yndnr/kvmirror/internal/core/service"
	"github.com/yndnr/kvmirror/internal/protocol"
	"github.com/yndnr/kvmirror/internal/transport"
)

// DefaultRequestTimeout bounds a request when the caller's context has no
// earlier deadline.
const DefaultRequestTimeout = 30 * time.Second

// Option configures a Proxy.
type Option func(*Proxy)

// WithRequestTimeout sets the per-request timeout. 0 disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		p.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) {
		p.logger = logger
	}
}

// WithLazyConnect defers the handshake to the first request.
func WithLazyConnect() Option {
	return func(p *Proxy) {
		p.lazy = true
	}
}

// Proxy is the client side of one worker connection.
//
// The handshake runs at most once at a time; its outcome is cached once it
// succeeds, and a failed handshake is retried by the next call. Losing the
// worker connection fails the outstanding requests and drops the cached
// handshake, so the next call connects again. When the worker reports no
// persistence capability, or no worker can be reached at all, every request
// completes with an empty result without contacting a store.
type Proxy struct {
	url     string
	workers *Workers
	timeout time.Duration
	lazy    bool
	logger  *slog.Logger

	connect singleflight.Group

	mu        sync.Mutex
	port      transport.Port
	connected bool
	supported bool
	closed    bool

	nextID  atomic.Uint64
	pending map[uint64]chan *protocol.Message
	// done is closed when the read loop of port returns.
	done chan struct{}
}

// New creates a proxy for the worker at url and starts the handshake.
func New(url string, workers *Workers, opts ...Option) *Proxy {
	p := &Proxy{
		url:     url,
		workers: workers,
		timeout: DefaultRequestTimeout,
		logger:  slog.Default(),
		pending: make(map[uint64]chan *protocol.Message),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("worker_url", url)

	if !p.lazy {
		go func() {
			if _, err := p.Connect(context.Background()); err != nil {
				p.logger.Warn("worker handshake failed", "error", err)
			}
		}()
	}
	return p
}

// Connect performs the handshake once and reports whether the worker
// supports persistence. Concurrent callers share one handshake.
func (p *Proxy) Connect(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false, domain.ErrConnectionClosed
	}
	if p.connected {
		supported := p.supported
		p.mu.Unlock()
		return supported, nil
	}
	p.mu.Unlock()

	ch := p.connect.DoChan("connect", func() (any, error) {
		return p.handshake(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *Proxy) handshake(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if p.connected {
		supported := p.supported
		p.mu.Unlock()
		return supported, nil
	}
	p.mu.Unlock()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	port, err := p.workers.Acquire(ctx, p.url)
	if errors.Is(err, domain.ErrCapabilityUnavailable) {
		p.logger.Error("no worker capability available, mirroring disabled")
		return p.finishHandshake(nil, false)
	}
	if err != nil {
		return false, err
	}

	if err := port.Send(ctx, protocol.Connect()); err != nil {
		port.Close()
		return false, err
	}

	for {
		m, err := port.Recv(ctx)
		if errors.Is(err, domain.ErrMalformedMessage) {
			p.logger.Debug("malformed message during handshake", "error", err)
			continue
		}
		if err != nil {
			port.Close()
			return false, err
		}
		if m.Type != protocol.TypeConnected {
			p.logger.Debug("message before handshake ignored", "type", m.Type)
			continue
		}
		return p.finishHandshake(port, m.SupportsPersistence)
	}
}

func (p *Proxy) finishHandshake(port transport.Port, supported bool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		if port != nil {
			port.Close()
		}
		return false, domain.ErrConnectionClosed
	}

	p.port = port
	p.connected = true
	p.supported = supported && port != nil
	if port != nil {
		p.done = make(chan struct{})
		go p.readLoop(port, p.done)
	}

	p.logger.Info("connected to worker", "supports_persistence", p.supported)
	return p.supported, nil
}

// SupportsMirroring reports the capability flag of the completed handshake.
// ok is false until the handshake has completed.
func (p *Proxy) SupportsMirroring() (supported, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.supported, p.connected
}

// ValidateSession asks the worker to validate session. An unset session is
// a no-op.
func (p *Proxy) ValidateSession(ctx context.Context, session domain.Session) error {
	if session.IsUnset() {
		return nil
	}
	_, err := p.request(ctx, func(id uint64) *protocol.Message {
		return protocol.ValidateSession(id, session)
	})
	return err
}

// Transaction runs one operation on the mirrored data. The result is nil
// when the worker does not support persistence.
func (p *Proxy) Transaction(ctx context.Context, op service.Operation, key string, value json.RawMessage) (json.RawMessage, error) {
	resp, err := p.request(ctx, func(id uint64) *protocol.Message {
		return protocol.Transaction(id, op.String(), key, value)
	})
	if err != nil || resp == nil {
		return nil, err
	}
	return resp.Result, nil
}

// Get returns the value stored under key, JSON null when absent.
func (p *Proxy) Get(ctx context.Context, key string) (json.RawMessage, error) {
	return p.Transaction(ctx, service.OpGet, key, nil)
}

// Set stores value under key.
func (p *Proxy) Set(ctx context.Context, key string, value json.RawMessage) error {
	_, err := p.Transaction(ctx, service.OpSet, key, value)
	return err
}

// Destroy replaces the value under key with JSON null.
func (p *Proxy) Destroy(ctx context.Context, key string) error {
	return p.Set(ctx, key, json.RawMessage("null"))
}

// Clear removes every mirrored record.
func (p *Proxy) Clear(ctx context.Context) error {
	_, err := p.Transaction(ctx, service.OpClear, "", nil)
	return err
}

// request sends the message built by build and waits for its response.
// It returns nil, nil when the worker does not support persistence.
func (p *Proxy) request(ctx context.Context, build func(id uint64) *protocol.Message) (*protocol.Message, error) {
	supported, err := p.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if !supported {
		return nil, nil
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	id := p.nextID.Add(1)
	ch := make(chan *protocol.Message, 1)

	p.mu.Lock()
	if p.closed || p.port == nil {
		p.mu.Unlock()
		return nil, domain.ErrConnectionClosed
	}
	port := p.port
	p.pending[id] = ch
	p.mu.Unlock()

	m := build(id)
	if err := port.Send(ctx, m); err != nil {
		p.forget(id)
		if errors.Is(err, transport.ErrClosed) {
			return nil, domain.ErrConnectionClosed
		}
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, domain.ErrConnectionClosed
		}
		if resp.Error != nil {
			return nil, resp.Error.Err()
		}
		return resp, nil
	case <-ctx.Done():
		p.forget(id)
		return nil, fmt.Errorf("%s request %d: %w", m.Type, id, ctx.Err())
	}
}

func (p *Proxy) forget(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// readLoop routes responses to their waiting callers by id.
func (p *Proxy) readLoop(port transport.Port, done chan struct{}) {
	defer close(done)

	for {
		m, err := port.Recv(context.Background())
		if errors.Is(err, domain.ErrMalformedMessage) {
			p.logger.Debug("malformed response dropped", "error", err)
			continue
		}
		if err != nil {
			if !errors.Is(err, transport.ErrClosed) {
				p.logger.Warn("worker connection lost", "error", err)
			}
			p.failPending(port)
			return
		}
		if !m.IsResponse() {
			p.logger.Debug("unexpected message ignored", "type", m.Type)
			continue
		}

		p.mu.Lock()
		ch, ok := p.pending[m.ID]
		delete(p.pending, m.ID)
		p.mu.Unlock()

		if !ok {
			p.logger.Debug("response for unknown request ignored", "id", m.ID)
			continue
		}
		ch <- m
	}
}

// failPending fails every outstanding request with ErrConnectionClosed and
// forgets the handshake made over port.
func (p *Proxy) failPending(port transport.Port) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == port {
		p.port = nil
		p.connected = false
		p.supported = false
	}
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
}

// Close sends the disconnect notification and releases the connection.
// Outstanding requests fail with ErrConnectionClosed.
func (p *Proxy) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	port, done := p.port, p.done
	p.mu.Unlock()

	if port == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := port.Send(ctx, protocol.Disconnect()); err != nil && !errors.Is(err, transport.ErrClosed) {
		p.logger.Debug("disconnect not delivered", "error", err)
	}

	err := port.Close()
	<-done
	if errors.Is(err, transport.ErrClosed) {
		return nil
	}
	return err
}
