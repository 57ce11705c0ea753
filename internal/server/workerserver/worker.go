package workerserver

import (
	"context"
	"log/slog"

	"github.com/yndnr/kvmirror/internal/core/service"
	"github.com/yndnr/kvmirror/internal/storage"
	"github.com/yndnr/kvmirror/internal/telemetry/metric"
	"github.com/yndnr/kvmirror/internal/transport"
)

// Config configures a Worker.
type Config struct {
	// Name is the database name.
	Name string

	// DataPartition holds the mirrored records.
	DataPartition string

	// SupportsPersistence is the capability flag sent in every handshake.
	// A worker without persistence answers requests with
	// ErrCapabilityUnavailable.
	SupportsPersistence bool

	// RateLimit caps handled messages per second per connection.
	// 0 disables the limit.
	RateLimit float64

	// RateBurst is the limiter burst. Defaults to 1 when RateLimit is set.
	RateBurst int
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		Name:                storage.DefaultName,
		DataPartition:       storage.DefaultDataPartition,
		SupportsPersistence: true,
	}
}

// Option configures a Worker.
type Option func(*Worker)

// WithMetrics records worker metrics in reg.
func WithMetrics(reg *metric.Registry) Option {
	return func(w *Worker) {
		w.metrics = reg
	}
}

// Worker serves mirror clients from one store.
type Worker struct {
	cfg      Config
	store    *storage.Engine
	mirror   *service.MirrorService
	guard    *service.SessionGuard
	registry *Registry
	metrics  *metric.Registry
	logger   *slog.Logger
}

// NewWorker creates a worker on store and starts opening it in the
// background. Requests wait for that open to finish.
func NewWorker(cfg Config, store *storage.Engine, logger *slog.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = storage.DefaultName
	}
	if cfg.DataPartition == "" {
		cfg.DataPartition = storage.DefaultDataPartition
	}

	w := &Worker{
		cfg:      cfg,
		store:    store,
		mirror:   service.NewMirrorService(store, cfg.DataPartition),
		guard:    service.NewSessionGuard(store, cfg.DataPartition, storage.InternalPartition, logger),
		registry: NewRegistry(cfg.SupportsPersistence, logger),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.metrics != nil {
		w.guard.OnInvalidate = w.metrics.SessionInvalidations.Inc
		w.registry.onChange = func(active int) {
			w.metrics.ConnectionsActive.Set(float64(active))
		}
	}

	if cfg.SupportsPersistence {
		go func() {
			_ = w.Open(context.Background())
		}()
	}

	logger.Info("mirror worker started",
		"name", cfg.Name,
		"data_partition", cfg.DataPartition,
		"supports_persistence", cfg.SupportsPersistence)

	return w
}

// Open waits until the store is open and migrated.
func (w *Worker) Open(ctx context.Context) error {
	return w.store.Open(ctx, w.cfg.Name, storage.SchemaVersion, storage.DefaultMigrations(w.cfg.DataPartition))
}

// Registry returns the connection registry.
func (w *Worker) Registry() *Registry {
	return w.registry
}

// Serve drives one client connection until it disconnects, the port
// closes or ctx is done. The port is closed on return.
func (w *Worker) Serve(ctx context.Context, port transport.Port) error {
	r := newRouter(w, port)
	return r.run(ctx)
}

// Close closes the store.
func (w *Worker) Close() error {
	return w.store.Close()
}
