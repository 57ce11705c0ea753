package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("kv backend closed")
)

// Engine kinds accepted by KVConfig.Engine.
const (
	EngineBadger = "badger"
	EngineSQLite = "sqlite"
)

// Backend is one embedded key-value engine holding named partitions.
//
// Implementations must be safe for concurrent use. Every method runs in its
// own transaction and returns only after that transaction committed.
type Backend interface {
	// SchemaVersion returns the recorded schema version, 0 for a new database.
	SchemaVersion(ctx context.Context) (int, error)

	// ApplyMigration creates the given partitions and records version in a
	// single transaction. Creating an existing partition is a no-op.
	ApplyMigration(ctx context.Context, version int, partitions []string) error

	// Partitions lists the partitions created so far.
	Partitions(ctx context.Context) ([]string, error)

	// Get returns the value at key, or ErrKeyNotFound.
	Get(ctx context.Context, partition, key string) ([]byte, error)

	// Put upserts value at key.
	Put(ctx context.Context, partition, key string, value []byte) error

	// Clear removes every entry of a partition.
	Clear(ctx context.Context, partition string) error

	// Close releases the database handle.
	Close() error
}

// KVConfig configures an embedded KV backend.
type KVConfig struct {
	// Engine specifies the backend type ("badger", "sqlite").
	// Default: "badger"
	Engine string

	// Dir is the directory holding one database per name.
	Dir string

	// InMemory keeps the database in memory (tests, ephemeral workers).
	InMemory bool

	// Badger-specific configuration
	Badger BadgerConfig
}

// BadgerConfig contains Badger-specific tuning parameters.
type BadgerConfig struct {
	// GCInterval is the interval between automatic value log GC runs.
	// Default: 10m
	GCInterval string

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 16MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 64MB
	ValueLogFileSize int64

	// NumMemtables is the number of memtables.
	// Default: 2
	NumMemtables int

	// SyncWrites fsyncs every commit, so a returned Put is durable.
	// Default: true
	SyncWrites bool
}

// DefaultKVConfig returns the default KV configuration.
func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{
		Engine: EngineBadger,
		Dir:    dir,
		Badger: DefaultBadgerConfig(),
	}
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:       "10m",
		GCThreshold:      0.5,
		CacheSize:        16 << 20, // 16MB
		ValueLogFileSize: 64 << 20, // 64MB
		NumMemtables:     2,
		SyncWrites:       true,
	}
}

// OpenBackend opens the database called name with the configured engine.
func OpenBackend(cfg KVConfig, name string, logger *slog.Logger) (Backend, error) {
	if name == "" {
		return nil, fmt.Errorf("storage: database name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(cfg.Engine) {
	case "", EngineBadger:
		return NewBadgerBackend(cfg, name, logger)
	case EngineSQLite:
		return NewSQLiteBackend(cfg, name, logger)
	default:
		return nil, fmt.Errorf("storage: unknown engine %q", cfg.Engine)
	}
}

// ValidatePartitionName reports whether name can be used as a partition.
func ValidatePartitionName(name string) error {
	if name == "" {
		return fmt.Errorf("partition name is empty")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("partition name %q contains a NUL byte", name)
	}
	return nil
}
