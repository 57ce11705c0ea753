package client

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	neturl "net/url"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/yndnr/kvmirror/internal/core/domain"
	"github.com/yndnr/kvmirror/internal/server/workerserver"
	"github.com/yndnr/kvmirror/internal/storage"
	"github.com/yndnr/kvmirror/internal/transport"
)

// Dialer opens a private port to the shared worker addressed by url.
type Dialer func(ctx context.Context, url string) (transport.Port, error)

// WorkerFactory creates the dedicated worker for url.
type WorkerFactory func(url string) (*workerserver.Worker, error)

// DialUnix dials the shared worker daemon on the unix socket at url.
func DialUnix(ctx context.Context, url string) (transport.Port, error) {
	port, err := transport.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// InProcessFactory returns a factory creating workers with their own store.
// Each worker keeps its database in a subdirectory of kv.Dir named after
// its url.
func InProcessFactory(kv storage.KVConfig, cfg workerserver.Config, logger *slog.Logger) WorkerFactory {
	return func(workerURL string) (*workerserver.Worker, error) {
		wkv := kv
		if !kv.InMemory {
			wkv.Dir = filepath.Join(kv.Dir, "workers", neturl.PathEscape(workerURL))
		}
		engine := storage.NewEngine(wkv, logger)
		return workerserver.NewWorker(cfg, engine, logger), nil
	}
}

// WorkersOption configures Workers.
type WorkersOption func(*Workers)

// WithShared enables the shared worker capability.
func WithShared(dial Dialer) WorkersOption {
	return func(w *Workers) {
		w.dial = dial
	}
}

// WithDedicated enables the dedicated worker fallback.
func WithDedicated(factory WorkerFactory) WorkersOption {
	return func(w *Workers) {
		w.factory = factory
	}
}

// WithWorkersLogger sets the logger.
func WithWorkersLogger(logger *slog.Logger) WorkersOption {
	return func(w *Workers) {
		w.logger = logger
	}
}

// Workers hands out worker ports.
//
// With the shared capability every Acquire opens a fresh private port to
// the one shared worker at url. When no shared worker answers, Workers
// keeps one dedicated worker per url, created on first use and reused by
// every later caller with the same url.
type Workers struct {
	dial    Dialer
	factory WorkerFactory
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	dedicated map[string]*workerserver.Worker
	closed    bool
}

// NewWorkers creates a worker registry. Without options neither capability
// is available and every Acquire fails with ErrCapabilityUnavailable.
func NewWorkers(opts ...WorkersOption) *Workers {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Workers{
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
		dedicated: make(map[string]*workerserver.Worker),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Acquire returns a new port connected to the worker for url.
func (w *Workers) Acquire(ctx context.Context, url string) (transport.Port, error) {
	if w.dial != nil {
		port, err := w.dial(ctx, url)
		if err == nil {
			return port, nil
		}
		if !isUnreachable(err) || w.factory == nil {
			return nil, err
		}
		w.logger.Debug("shared worker unreachable, using dedicated worker",
			"url", url,
			"error", err)
	}

	if w.factory == nil {
		return nil, domain.ErrCapabilityUnavailable
	}

	worker, err := w.dedicatedWorker(url)
	if err != nil {
		return nil, err
	}

	client, server := transport.Pipe()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := worker.Serve(w.ctx, server); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("dedicated worker connection ended with error",
				"url", url,
				"error", err)
		}
	}()
	return client, nil
}

func (w *Workers) dedicatedWorker(url string) (*workerserver.Worker, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, domain.ErrConnectionClosed.WithDetails("workers closed")
	}
	if worker, ok := w.dedicated[url]; ok {
		return worker, nil
	}

	worker, err := w.factory(url)
	if err != nil {
		return nil, err
	}
	w.dedicated[url] = worker
	w.logger.Info("dedicated worker created", "url", url)
	return worker, nil
}

// Dedicated returns the number of dedicated workers created so far.
func (w *Workers) Dedicated() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dedicated)
}

// Close ends every dedicated worker connection and closes their stores.
func (w *Workers) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	workers := w.dedicated
	w.dedicated = nil
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()

	var errs []error
	for _, worker := range workers {
		if err := worker.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// isUnreachable reports whether err means no shared worker is listening.
func isUnreachable(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
