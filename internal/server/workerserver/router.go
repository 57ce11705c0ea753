package workerserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/kvmirror/internal/core/domain"
	"github.com/yndnr/kvmirror/internal/core/service"
	"github.com/yndnr/kvmirror/internal/protocol"
	"github.com/yndnr/kvmirror/internal/telemetry/logger"
	"github.com/yndnr/kvmirror/internal/transport"
)

// State is the connection state of a Router.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// inboundQueueSize bounds messages read ahead of the dispatch loop.
const inboundQueueSize = 64

type inbound struct {
	msg *protocol.Message
	err error
}

// router drives one connection: Connecting until the connect handshake,
// Connected while it dispatches requests, Disconnected once the client
// disconnects or the port goes away.
type router struct {
	w       *Worker
	port    transport.Port
	conn    *Conn
	state   State
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newRouter(w *Worker, port transport.Port) *router {
	r := &router{
		w:      w,
		port:   port,
		conn:   newConn(port),
		state:  StateConnecting,
		logger: w.logger,
	}

	if w.cfg.RateLimit > 0 {
		burst := w.cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(w.cfg.RateLimit), burst)
	}
	return r
}

func (r *router) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(logger.WithConnID(ctx, string(r.conn.ID)))
	defer cancel()
	defer r.port.Close()
	defer r.w.registry.Unregister(r.conn.ID)

	queue := make(chan inbound, inboundQueueSize)
	go r.readLoop(ctx, queue)

	for {
		var in inbound
		select {
		case in = <-queue:
		case <-ctx.Done():
			r.state = StateDisconnected
			return ctx.Err()
		}

		if in.err != nil {
			if errors.Is(in.err, domain.ErrMalformedMessage) {
				r.dropMalformed(ctx, in.err)
				continue
			}
			r.state = StateDisconnected
			if errors.Is(in.err, transport.ErrClosed) {
				r.logger.DebugContext(ctx, "port closed", "state", r.state)
				return nil
			}
			return in.err
		}

		if err := r.step(ctx, in.msg); err != nil {
			r.state = StateDisconnected
			return err
		}
		if r.state == StateDisconnected {
			return nil
		}
	}
}

// readLoop feeds the inbound queue in arrival order.
func (r *router) readLoop(ctx context.Context, queue chan<- inbound) {
	for {
		m, err := r.port.Recv(ctx)
		select {
		case queue <- inbound{msg: m, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil && !errors.Is(err, domain.ErrMalformedMessage) {
			return
		}
	}
}

func (r *router) step(ctx context.Context, m *protocol.Message) error {
	if err := m.Validate(); err != nil {
		r.dropMalformed(ctx, err)
		return nil
	}

	switch r.state {
	case StateConnecting:
		if m.Type != protocol.TypeConnect {
			r.logger.DebugContext(ctx, "message before handshake ignored", "type", m.Type)
			return nil
		}
		if err := r.w.registry.Register(ctx, r.conn); err != nil {
			return fmt.Errorf("register connection: %w", err)
		}
		r.state = StateConnected
		if r.w.metrics != nil {
			r.w.metrics.ConnectionsTotal.Inc()
		}
		return nil

	case StateConnected:
		return r.dispatch(ctx, m)
	}
	return nil
}

func (r *router) dispatch(ctx context.Context, m *protocol.Message) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if m.ID != 0 {
		ctx = logger.WithRequestID(ctx, strconv.FormatUint(m.ID, 10))
	}

	start := time.Now()
	var (
		reply *protocol.Message
		err   error
	)

	switch m.Type {
	case protocol.TypeValidateSession:
		err = r.validateSession(ctx, m)
		reply = protocol.SessionValidated(m.ID, err)

	case protocol.TypeTransaction:
		var result []byte
		result, err = r.transaction(ctx, m)
		reply = protocol.TransactionResult(m.ID, result, err)

	case protocol.TypeDisconnect:
		r.w.registry.Unregister(r.conn.ID)
		r.state = StateDisconnected
		r.logger.DebugContext(ctx, "client disconnected")
		return nil

	default:
		// connect after the handshake, or a response type sent by a client
		r.logger.DebugContext(ctx, "message ignored", "type", m.Type, "state", r.state)
		return nil
	}

	if r.w.metrics != nil {
		r.w.metrics.ObserveRequest(string(m.Type), start, err)
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "request failed",
			"type", m.Type,
			"error", err)
	}

	if sendErr := r.conn.Send(ctx, reply); sendErr != nil {
		if errors.Is(sendErr, domain.ErrConnectionClosed) {
			return nil
		}
		return fmt.Errorf("send %s: %w", reply.Type, sendErr)
	}
	return nil
}

func (r *router) validateSession(ctx context.Context, m *protocol.Message) error {
	if !r.w.cfg.SupportsPersistence {
		return domain.ErrCapabilityUnavailable
	}
	return r.w.guard.Validate(ctx, m.Session)
}

func (r *router) transaction(ctx context.Context, m *protocol.Message) ([]byte, error) {
	if !r.w.cfg.SupportsPersistence {
		return nil, domain.ErrCapabilityUnavailable
	}
	op, err := service.ParseOperation(m.Method)
	if err != nil {
		return nil, err
	}
	return r.w.mirror.Execute(ctx, service.Transaction{
		Op:    op,
		Key:   m.Key,
		Value: m.Value,
	})
}

func (r *router) dropMalformed(ctx context.Context, err error) {
	if r.w.metrics != nil {
		r.w.metrics.MalformedMessages.Inc()
	}
	r.logger.DebugContext(ctx, "malformed message dropped", "error", err)
}
