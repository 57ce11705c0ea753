package workerserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/yndnr/kvmirror/internal/transport"
)

// Server exposes a Worker on a unix domain socket.
type Server struct {
	worker   *Worker
	path     string
	logger   *slog.Logger
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewServer creates a server for worker listening at socketPath.
func NewServer(worker *Worker, socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		worker: worker,
		path:   socketPath,
		logger: logger,
	}
}

// Listen binds the socket. A stale socket file left by a dead worker is
// replaced; a socket another worker still answers on is an error.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		if conn, err := net.Dial("unix", s.path); err == nil {
			conn.Close()
			return fmt.Errorf("worker already listening on %s", s.path)
		}
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until Shutdown. Listen must be called first.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("workerserver: Serve called before Listen")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.running.Store(true)
	s.logger.Info("worker listening", "socket", s.path)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Check if server is shutting down
			if !s.running.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		// Track goroutine for graceful shutdown
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.worker.Serve(ctx, transport.NewConnPort(conn)); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("connection ended with error", "error", err)
			}
		}()
	}
}

// Shutdown gracefully shuts down the server.
//
// This method:
//  1. Stops accepting new connections
//  2. Ends the running connections
//  3. Waits for their goroutines to return (respects context timeout)
//  4. Removes the socket file
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var closeErr error
	if s.listener != nil {
		closeErr = s.listener.Close()
		if errors.Is(closeErr, net.ErrClosed) {
			closeErr = nil
		}
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	_ = os.Remove(s.path)
	s.logger.Info("worker stopped", "socket", s.path)
	return closeErr
}
