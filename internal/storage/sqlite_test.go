package storage

import (
	"context"
	"log/slog"
	"testing"
)

func TestSQLiteBackend_BasicOperations(t *testing.T) {
	cfg := KVConfig{Engine: EngineSQLite, Dir: t.TempDir()}
	b, err := NewSQLiteBackend(cfg, "sqlite-test", slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	ctx := context.Background()

	t.Run("Put overwrites", func(t *testing.T) {
		if err := b.Put(ctx, "data", "k", []byte(`1`)); err != nil {
			t.Fatal(err)
		}
		if err := b.Put(ctx, "data", "k", []byte(`2`)); err != nil {
			t.Fatal(err)
		}
		got, err := b.Get(ctx, "data", "k")
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "2" {
			t.Errorf("Get = %s, want 2", got)
		}
	})

	t.Run("Get non-existent key", func(t *testing.T) {
		if _, err := b.Get(ctx, "data", "missing"); err != ErrKeyNotFound {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("Clear keeps other partitions", func(t *testing.T) {
		if err := b.Put(ctx, "internal", "session", []byte(`"s1"`)); err != nil {
			t.Fatal(err)
		}
		if err := b.Clear(ctx, "data"); err != nil {
			t.Fatal(err)
		}
		if _, err := b.Get(ctx, "data", "k"); err != ErrKeyNotFound {
			t.Errorf("expected ErrKeyNotFound after clear, got %v", err)
		}
		if _, err := b.Get(ctx, "internal", "session"); err != nil {
			t.Errorf("internal entry removed by clear: %v", err)
		}
	})
}

func TestSQLiteBackend_Migrations(t *testing.T) {
	cfg := KVConfig{Engine: EngineSQLite, Dir: t.TempDir()}
	ctx := context.Background()

	b, err := NewSQLiteBackend(cfg, "migrate", slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := b.ApplyMigration(ctx, 1, []string{"data"}); err != nil {
		t.Fatal(err)
	}
	// Re-creating a partition is a no-op
	if err := b.ApplyMigration(ctx, 2, []string{"data", "internal"}); err != nil {
		t.Fatal(err)
	}
	b.Close()

	b, err = NewSQLiteBackend(cfg, "migrate", slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	v, err := b.SchemaVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
	parts, err := b.Partitions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Errorf("partitions = %v, want 2 entries", parts)
	}
}

func TestSQLiteBackend_InMemory(t *testing.T) {
	b, err := NewSQLiteBackend(KVConfig{Engine: EngineSQLite, InMemory: true}, "mem", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	ctx := context.Background()
	if err := b.Put(ctx, "data", "k", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	got, err := b.Get(ctx, "data", "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("Get = %s", got)
	}
}
