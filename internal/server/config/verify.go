package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/yndnr/kvmirror/internal/storage"
)

// Verify validates the configuration.
func Verify(cfg *Config) error {
	if err := verifyWorker(&cfg.Worker); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if cfg.Client.RequestTimeout < 0 {
		return errors.New("client.request_timeout must not be negative")
	}
	if cfg.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr: %w", err)
		}
	}
	return verifyLog(&cfg.Log)
}

func verifyWorker(cfg *WorkerSection) error {
	if cfg.Socket == "" {
		return errors.New("worker.socket is required")
	}
	if cfg.RateLimit < 0 {
		return errors.New("worker.rate_limit must not be negative")
	}
	if cfg.RateBurst < 0 {
		return errors.New("worker.rate_burst must not be negative")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	switch strings.ToLower(cfg.Engine) {
	case storage.EngineBadger, storage.EngineSQLite:
	default:
		return fmt.Errorf("storage.engine %q is not supported", cfg.Engine)
	}
	if cfg.Name == "" {
		return errors.New("storage.name is required")
	}
	if err := storage.ValidatePartitionName(cfg.DataPartition); err != nil {
		return fmt.Errorf("storage.data_partition: %w", err)
	}
	if cfg.DataPartition == storage.InternalPartition {
		return fmt.Errorf("storage.data_partition must differ from %q", storage.InternalPartition)
	}

	if cfg.InMemory {
		return nil
	}
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return fmt.Errorf("cannot create data directory: %w", err)
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not supported", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not supported", cfg.Format)
	}
	return nil
}
