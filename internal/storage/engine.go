package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/kvmirror/internal/core/domain"
)

// Default database layout.
const (
	DefaultName          = "app-mirror"
	DefaultDataPartition = "mirrored_data"
	InternalPartition    = "internal"
	SchemaVersion        = 2
)

// Migration is one schema step. Step i upgrades version i to i+1.
type Migration struct {
	// Partitions are created by this step. Creating an existing partition
	// is a no-op.
	Partitions []string
}

// CreatePartition returns a migration step creating one partition.
func CreatePartition(name string) Migration {
	return Migration{Partitions: []string{name}}
}

// DefaultMigrations returns the migration chain for SchemaVersion:
// the data partition first, then the internal partition.
func DefaultMigrations(dataPartition string) []Migration {
	return []Migration{
		CreatePartition(dataPartition),
		CreatePartition(InternalPartition),
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics registers backend metrics on reg once the database is open.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// Engine owns one embedded database handle.
//
// The handle is opened lazily by the first Open call. Every operation,
// including the ones issued before Open, waits until the migration chain
// has completed and fails with the open error if it did not.
type Engine struct {
	cfg      KVConfig
	logger   *slog.Logger
	registry prometheus.Registerer

	once    sync.Once
	ready   chan struct{}
	backend Backend
	openErr error
	name    string
	version int

	// locks holds one write mutex per partition. Filled before ready is
	// closed and read-only afterwards.
	locks map[string]*sync.Mutex

	closed atomic.Bool
}

// NewEngine creates an engine that is not yet open.
func NewEngine(cfg KVConfig, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger.With("component", "storage"),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open opens the database called name and upgrades it to version by
// running migrations[current:version] in order.
//
// Open is idempotent: the first call starts the open and every call,
// whatever its arguments, waits for that same open to finish. A failed
// open is permanent for this engine and is returned as ErrStoreOpen.
func (e *Engine) Open(ctx context.Context, name string, version int, migrations []Migration) error {
	e.once.Do(func() {
		go e.open(context.WithoutCancel(ctx), name, version, migrations)
	})
	return e.await(ctx)
}

func (e *Engine) open(ctx context.Context, name string, version int, migrations []Migration) {
	defer close(e.ready)

	startTime := time.Now()
	e.name = name
	e.version = version

	if err := e.openBackend(ctx, name, version, migrations); err != nil {
		e.openErr = domain.ErrStoreOpen.WithCause(err).WithDetails(err.Error())
		e.logger.Error("store open failed",
			"name", name,
			"version", version,
			"error", err)
		return
	}

	e.logger.Info("store opened",
		"name", name,
		"version", version,
		"partitions", len(e.locks),
		"elapsed", time.Since(startTime))
}

func (e *Engine) openBackend(ctx context.Context, name string, version int, migrations []Migration) error {
	if version < 1 {
		return fmt.Errorf("invalid schema version %d", version)
	}
	if len(migrations) < version {
		return fmt.Errorf("schema version %d needs %d migrations, got %d",
			version, version, len(migrations))
	}

	backend, err := OpenBackend(e.cfg, name, e.logger)
	if err != nil {
		return err
	}

	current, err := backend.SchemaVersion(ctx)
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > version {
		_ = backend.Close()
		return fmt.Errorf("database version %d is newer than requested version %d", current, version)
	}

	for v := current; v < version; v++ {
		if err := backend.ApplyMigration(ctx, v+1, migrations[v].Partitions); err != nil {
			_ = backend.Close()
			return fmt.Errorf("migrate to version %d: %w", v+1, err)
		}
		e.logger.Info("schema migrated",
			"from_version", v,
			"to_version", v+1,
			"partitions", migrations[v].Partitions)
	}

	partitions, err := backend.Partitions(ctx)
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("list partitions: %w", err)
	}
	e.locks = make(map[string]*sync.Mutex, len(partitions))
	for _, p := range partitions {
		e.locks[p] = &sync.Mutex{}
	}

	if bb, ok := backend.(*BadgerBackend); ok && e.registry != nil {
		bb.RegisterMetrics(e.registry)
	}

	e.backend = backend
	return nil
}

func (e *Engine) await(ctx context.Context) error {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if e.closed.Load() {
		return domain.ErrStoreClosed
	}
	return e.openErr
}

func (e *Engine) partitionLock(partition string) (*sync.Mutex, error) {
	mu, ok := e.locks[partition]
	if !ok {
		return nil, domain.ErrPartitionNotFound.WithDetails(partition)
	}
	return mu, nil
}

// Info returns the opened database name and schema version. ok is false
// while the open is pending, after it failed, and once the engine is closed.
// Info never blocks.
func (e *Engine) Info() (name string, version int, ok bool) {
	select {
	case <-e.ready:
	default:
		return "", 0, false
	}
	if e.openErr != nil || e.closed.Load() {
		return "", 0, false
	}
	return e.name, e.version, true
}

// Get returns the value stored at key, or nil when the key is absent.
// Reads take no partition lock.
func (e *Engine) Get(ctx context.Context, partition, key string) ([]byte, error) {
	if err := e.await(ctx); err != nil {
		return nil, err
	}
	if _, err := e.partitionLock(partition); err != nil {
		return nil, err
	}

	value, err := e.backend.Get(ctx, partition, key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, e.mapError(domain.ErrStoreRead, err)
	}
	return value, nil
}

// Set upserts value at key. It returns once the write is committed.
func (e *Engine) Set(ctx context.Context, partition, key string, value []byte) error {
	if err := e.await(ctx); err != nil {
		return err
	}
	mu, err := e.partitionLock(partition)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	if err := e.backend.Put(ctx, partition, key, value); err != nil {
		e.logger.ErrorContext(ctx, "store write failed",
			"partition", partition,
			"key", key,
			"error", err)
		return e.mapError(domain.ErrStoreWrite, err)
	}
	return nil
}

// Clear removes every entry of partition. It returns once the delete is
// committed.
func (e *Engine) Clear(ctx context.Context, partition string) error {
	if err := e.await(ctx); err != nil {
		return err
	}
	mu, err := e.partitionLock(partition)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	if err := e.backend.Clear(ctx, partition); err != nil {
		e.logger.ErrorContext(ctx, "store clear failed",
			"partition", partition,
			"error", err)
		return e.mapError(domain.ErrStoreWrite, err)
	}
	return nil
}

// mapError keeps context errors as they are and wraps everything else.
func (e *Engine) mapError(kind *domain.DomainError, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrClosed) {
		return domain.ErrStoreClosed
	}
	return kind.Wrap(err)
}

// Close releases the database handle. Operations issued afterwards fail
// with ErrStoreClosed. Close waits for an in-flight open to finish.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.once.Do(func() {
		e.openErr = domain.ErrStoreClosed
		close(e.ready)
	})
	<-e.ready

	if e.backend == nil {
		return nil
	}
	if err := e.backend.Close(); err != nil {
		return fmt.Errorf("storage: close: %w", err)
	}
	e.logger.Info("store closed", "name", e.name)
	return nil
}
