package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kvmirror_meta (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS kvmirror_partitions (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS kvmirror_records (
	partition TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     BLOB,
	PRIMARY KEY (partition, key)
);
`

// SQLiteBackend implements Backend on a single SQLite file.
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
	closed atomic.Bool
}

// NewSQLiteBackend opens <cfg.Dir>/<name>.db, or a private in-memory
// database when cfg.InMemory is set.
func NewSQLiteBackend(cfg KVConfig, name string, logger *slog.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dsn string
	if cfg.InMemory {
		dsn = ":memory:"
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("sqlite: dir is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
		dsn = filepath.Join(filepath.Clean(cfg.Dir), name+".db") +
			"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	if cfg.InMemory {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	logger.Info("sqlite backend opened",
		"name", name,
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory)

	return &SQLiteBackend{db: db, logger: logger}, nil
}

// SchemaVersion returns the recorded schema version.
func (s *SQLiteBackend) SchemaVersion(ctx context.Context) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kvmirror_meta WHERE name = 'version'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt schema version %q: %w", raw, err)
	}
	return version, nil
}

// ApplyMigration creates partitions and records version atomically.
func (s *SQLiteBackend) ApplyMigration(ctx context.Context, version int, partitions []string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range partitions {
		if err := ValidatePartitionName(p); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO kvmirror_partitions (name) VALUES (?)`, p); err != nil {
			return fmt.Errorf("create partition %q: %w", p, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO kvmirror_meta (name, value) VALUES ('version', ?)
ON CONFLICT(name) DO UPDATE SET value = excluded.value
`, strconv.Itoa(version)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// Partitions lists the created partitions.
func (s *SQLiteBackend) Partitions(ctx context.Context) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM kvmirror_partitions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Get retrieves a value by key.
func (s *SQLiteBackend) Get(ctx context.Context, partition, key string) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kvmirror_records WHERE partition = ? AND key = ?`,
		partition, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return value, nil
}

// Put stores a key-value pair.
func (s *SQLiteBackend) Put(ctx context.Context, partition, key string, value []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO kvmirror_records (partition, key, value) VALUES (?, ?, ?)
ON CONFLICT(partition, key) DO UPDATE SET value = excluded.value
`, partition, key, value)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// Clear removes every record of a partition.
func (s *SQLiteBackend) Clear(ctx context.Context, partition string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kvmirror_records WHERE partition = ?`, partition)
	if err != nil {
		return fmt.Errorf("clear partition: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Debug("partition cleared",
			"partition", partition,
			"deleted_count", n)
	}
	return nil
}

// Close releases the SQLite connection.
func (s *SQLiteBackend) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite db: %w", err)
	}
	s.logger.Info("sqlite backend closed")
	return nil
}

func (s *SQLiteBackend) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}
