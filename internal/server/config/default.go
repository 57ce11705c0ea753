package config

import (
	"time"

	"github.com/yndnr/kvmirror/internal/client"
	"github.com/yndnr/kvmirror/internal/storage"
)

// Default configuration values.
const (
	DefaultSocket  = "/tmp/kvmirror/worker.sock"
	DefaultDataDir = "/tmp/kvmirror/data"

	DefaultGCInterval = 10 * time.Minute

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Worker: WorkerSection{
			Socket: DefaultSocket,
		},
		Storage: StorageSection{
			Engine:        storage.EngineBadger,
			DataDir:       DefaultDataDir,
			Name:          storage.DefaultName,
			DataPartition: storage.DefaultDataPartition,
			SyncWrites:    true,
			GCInterval:    DefaultGCInterval,
			Enabled:       true,
		},
		Client: ClientSection{
			RequestTimeout: client.DefaultRequestTimeout,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
