package config

import (
	"time"

	"github.com/yndnr/kvmirror/internal/server/workerserver"
	"github.com/yndnr/kvmirror/internal/storage"
)

// Config is the root configuration shared by kvmirror-worker and kvmirror.
type Config struct {
	Worker  WorkerSection  `koanf:"worker"`
	Storage StorageSection `koanf:"storage"`
	Client  ClientSection  `koanf:"client"`
	Metrics MetricsSection `koanf:"metrics"`
	Log     LogSection     `koanf:"log"`
}

// WorkerSection configures the worker daemon.
type WorkerSection struct {
	// Socket is the unix socket path. It is also the worker URL clients
	// use to select a worker.
	Socket string `koanf:"socket"`

	// RateLimit caps messages per second per connection. 0 disables it.
	RateLimit float64 `koanf:"rate_limit"`

	// RateBurst is the limiter burst.
	RateBurst int `koanf:"rate_burst"`
}

// StorageSection configures the embedded store.
type StorageSection struct {
	// Engine is "badger" or "sqlite".
	Engine string `koanf:"engine"`

	DataDir       string `koanf:"data_dir"`
	Name          string `koanf:"name"`
	DataPartition string `koanf:"data_partition"`

	// InMemory keeps the store in memory. Badger only.
	InMemory bool `koanf:"in_memory"`

	SyncWrites bool          `koanf:"sync_writes"`
	GCInterval time.Duration `koanf:"gc_interval"`

	// Enabled is the persistence capability reported to clients.
	Enabled bool `koanf:"enabled"`
}

// ClientSection configures the mirror client.
type ClientSection struct {
	// RequestTimeout bounds every request. 0 disables the timeout.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// MetricsSection configures the metrics endpoint.
type MetricsSection struct {
	// Addr is the listen address for /metrics and /healthz. Empty disables it.
	Addr string `koanf:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// KVConfig returns the storage backend configuration.
func (c *Config) KVConfig() storage.KVConfig {
	kv := storage.DefaultKVConfig(c.Storage.DataDir)
	kv.Engine = c.Storage.Engine
	kv.InMemory = c.Storage.InMemory
	kv.Badger.SyncWrites = c.Storage.SyncWrites
	if c.Storage.GCInterval > 0 {
		kv.Badger.GCInterval = c.Storage.GCInterval.String()
	}
	return kv
}

// WorkerConfig returns the worker configuration.
func (c *Config) WorkerConfig() workerserver.Config {
	return workerserver.Config{
		Name:                c.Storage.Name,
		DataPartition:       c.Storage.DataPartition,
		SupportsPersistence: c.Storage.Enabled,
		RateLimit:           c.Worker.RateLimit,
		RateBurst:           c.Worker.RateBurst,
	}
}
