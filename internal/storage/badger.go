package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
)

// Key layout:
//
//	\x00meta\x00version        schema version (decimal)
//	\x00part\x00<partition>    partition marker
//	\x01<partition>\x00<key>   record
var (
	metaVersionKey  = []byte("\x00meta\x00version")
	partitionPrefix = []byte("\x00part\x00")
)

func partitionKey(partition string) []byte {
	return append(append([]byte{}, partitionPrefix...), partition...)
}

func recordPrefix(partition string) []byte {
	buf := make([]byte, 0, len(partition)+2)
	buf = append(buf, 0x01)
	buf = append(buf, partition...)
	return append(buf, 0x00)
}

func recordKey(partition, key string) []byte {
	return append(recordPrefix(partition), key...)
}

// BadgerBackend implements Backend using Badger v3.
type BadgerBackend struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	// Metrics (internal counters)
	lastGCTime atomic.Int64 // Unix milliseconds
	gcRuns     atomic.Uint64

	// Prometheus metrics
	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsLastGCTime   prometheus.Gauge
	metricsGCRuns       prometheus.Counter

	// Shutdown
	closed atomic.Bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBadgerBackend opens the Badger database called name under cfg.Dir.
func NewBadgerBackend(cfg KVConfig, name string, logger *slog.Logger) (*BadgerBackend, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dir := ""
	if !cfg.InMemory {
		dir = filepath.Join(cfg.Dir, name)
	}

	badgerCfg := cfg.Badger
	opts := badger.DefaultOptions(dir).WithInMemory(cfg.InMemory)
	opts.Logger = &badgerLogger{logger: logger.With("component", "badger")}
	if badgerCfg.CacheSize > 0 {
		opts.BlockCacheSize = badgerCfg.CacheSize
	}
	if badgerCfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = badgerCfg.ValueLogFileSize
	}
	if badgerCfg.NumMemtables > 0 {
		opts.NumMemtables = badgerCfg.NumMemtables
	}
	opts.SyncWrites = badgerCfg.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	b := &BadgerBackend{
		db:     db,
		cfg:    badgerCfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if cfg.InMemory {
		// Value log GC is not available in memory mode.
		close(b.doneCh)
	} else {
		go b.gcLoop()
	}

	logger.Info("badger backend opened",
		"name", name,
		"dir", dir,
		"in_memory", cfg.InMemory,
		"sync_writes", badgerCfg.SyncWrites)

	return b, nil
}

// SchemaVersion returns the recorded schema version.
func (b *BadgerBackend) SchemaVersion(ctx context.Context) (int, error) {
	if err := b.check(ctx); err != nil {
		return 0, err
	}

	var version int
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaVersionKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := strconv.Atoi(string(val))
			if err != nil {
				return fmt.Errorf("corrupt schema version %q: %w", val, err)
			}
			version = v
			return nil
		})
	})
	return version, err
}

// ApplyMigration creates partitions and records version atomically.
func (b *BadgerBackend) ApplyMigration(ctx context.Context, version int, partitions []string) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		for _, p := range partitions {
			if err := ValidatePartitionName(p); err != nil {
				return err
			}
			if err := txn.Set(partitionKey(p), nil); err != nil {
				return err
			}
		}
		return txn.Set(metaVersionKey, []byte(strconv.Itoa(version)))
	})
}

// Partitions lists the created partitions.
func (b *BadgerBackend) Partitions(ctx context.Context) ([]string, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = partitionPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(bytes.TrimPrefix(it.Item().Key(), partitionPrefix)))
		}
		return nil
	})
	return names, err
}

// Get retrieves a value by key.
func (b *BadgerBackend) Get(ctx context.Context, partition, key string) ([]byte, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(partition, key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Put stores a key-value pair.
func (b *BadgerBackend) Put(ctx context.Context, partition, key string, value []byte) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(partition, key), value)
	})
}

// Clear removes every record of a partition.
//
// The deletes run in one transaction. A partition too large for a single
// transaction is dropped with DropPrefix, which blocks writes while it runs.
func (b *BadgerBackend) Clear(ctx context.Context, partition string) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	prefix := recordPrefix(partition)
	deleted := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})

	if errors.Is(err, badger.ErrTxnTooBig) {
		b.logger.Warn("partition too large for one transaction, dropping prefix",
			"partition", partition)
		return b.db.DropPrefix(prefix)
	}
	if err != nil {
		return err
	}

	b.logger.Debug("partition cleared",
		"partition", partition,
		"deleted_count", deleted)
	return nil
}

// GC runs value log garbage collection until nothing is left to rewrite.
// It returns the number of rewritten value log files.
func (b *BadgerBackend) GC(ctx context.Context) (int, error) {
	startTime := time.Now()

	runs := 0
	for {
		if err := ctx.Err(); err != nil {
			return runs, err
		}
		err := b.db.RunValueLogGC(b.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
				break
			}
			return runs, fmt.Errorf("gc: %w", err)
		}
		runs++
	}

	b.lastGCTime.Store(time.Now().UnixMilli())
	b.gcRuns.Add(uint64(runs))
	if b.metricsGCRuns != nil {
		b.metricsGCRuns.Add(float64(runs))
	}

	b.logger.Debug("gc completed",
		"rewritten_files", runs,
		"elapsed", time.Since(startTime))

	return runs, nil
}

// Size returns the LSM tree and value log sizes in bytes.
func (b *BadgerBackend) Size() (lsm, vlog int64) {
	return b.db.Size()
}

// Close gracefully shuts down the Badger backend.
func (b *BadgerBackend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(b.stopCh)
	<-b.doneCh

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}

	b.logger.Info("badger backend closed")
	return nil
}

func (b *BadgerBackend) check(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// RegisterMetrics registers Badger size and GC metrics.
//
// This should be called once during initialization.
// Returns the backend for method chaining.
func (b *BadgerBackend) RegisterMetrics(registry prometheus.Registerer) *BadgerBackend {
	b.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kvmirror",
		Subsystem: "badger",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})

	b.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kvmirror",
		Subsystem: "badger",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})

	b.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kvmirror",
		Subsystem: "badger",
		Name:      "last_gc_timestamp_seconds",
		Help:      "Unix timestamp of the last Badger GC run",
	})

	b.metricsGCRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kvmirror",
		Subsystem: "badger",
		Name:      "gc_rewritten_files_total",
		Help:      "Total value log files rewritten by Badger garbage collection",
	})

	registry.MustRegister(
		b.metricsLSMSize,
		b.metricsValueLogSize,
		b.metricsLastGCTime,
		b.metricsGCRuns,
	)

	go b.metricsUpdateLoop()

	return b
}

// metricsUpdateLoop periodically updates the size gauges.
func (b *BadgerBackend) metricsUpdateLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if b.closed.Load() {
				return
			}
			lsm, vlog := b.db.Size()
			b.metricsLSMSize.Set(float64(lsm))
			b.metricsValueLogSize.Set(float64(vlog))
			if last := b.lastGCTime.Load(); last > 0 {
				b.metricsLastGCTime.Set(float64(last) / 1000.0)
			}

		case <-b.stopCh:
			return
		}
	}
}

// gcLoop runs periodic garbage collection.
func (b *BadgerBackend) gcLoop() {
	defer close(b.doneCh)

	interval, err := time.ParseDuration(b.cfg.GCInterval)
	if err != nil || interval <= 0 {
		b.logger.Error("invalid gc_interval, using default 10m", "value", b.cfg.GCInterval)
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := b.GC(ctx); err != nil {
				b.logger.Error("auto gc failed", "error", err)
			}
			cancel()

		case <-b.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
