package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/kvmirror/internal/core/domain"
)

var testEngines = []struct {
	name string
	cfg  func(tb testing.TB) KVConfig
}{
	{"badger", func(tb testing.TB) KVConfig {
		cfg := DefaultKVConfig(tb.TempDir())
		cfg.Badger.GCInterval = "1h"
		cfg.Badger.SyncWrites = false
		return cfg
	}},
	{"sqlite", func(tb testing.TB) KVConfig {
		return KVConfig{Engine: EngineSQLite, Dir: tb.TempDir()}
	}},
}

func openTestEngine(t *testing.T, cfg KVConfig) *Engine {
	t.Helper()

	e := NewEngine(cfg, slog.Default())
	if err := e.Open(context.Background(), "t1", SchemaVersion, DefaultMigrations("data")); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestDefaultMigrations(t *testing.T) {
	m := DefaultMigrations(DefaultDataPartition)
	if len(m) != SchemaVersion {
		t.Fatalf("len = %d, want %d", len(m), SchemaVersion)
	}
	if m[0].Partitions[0] != DefaultDataPartition {
		t.Errorf("step 1 = %v, want %s", m[0].Partitions, DefaultDataPartition)
	}
	if m[1].Partitions[0] != InternalPartition {
		t.Errorf("step 2 = %v, want %s", m[1].Partitions, InternalPartition)
	}
}

func TestEngine_SetGetClear(t *testing.T) {
	for _, tc := range testEngines {
		t.Run(tc.name, func(t *testing.T) {
			e := openTestEngine(t, tc.cfg(t))
			ctx := context.Background()

			t.Run("last write wins", func(t *testing.T) {
				for i := 0; i < 5; i++ {
					if err := e.Set(ctx, "data", "x", []byte(fmt.Sprintf(`{"a":%d}`, i))); err != nil {
						t.Fatalf("Set failed: %v", err)
					}
				}
				got, err := e.Get(ctx, "data", "x")
				if err != nil {
					t.Fatalf("Get failed: %v", err)
				}
				if string(got) != `{"a":4}` {
					t.Errorf("Get = %s, want {\"a\":4}", got)
				}
			})

			t.Run("absent key is nil", func(t *testing.T) {
				got, err := e.Get(ctx, "data", "missing")
				if err != nil {
					t.Fatalf("Get failed: %v", err)
				}
				if got != nil {
					t.Errorf("Get = %s, want nil", got)
				}
			})

			t.Run("clear removes every key", func(t *testing.T) {
				keys := []string{"a", "b", "c"}
				for _, k := range keys {
					if err := e.Set(ctx, "data", k, []byte(`1`)); err != nil {
						t.Fatal(err)
					}
				}
				if err := e.Clear(ctx, "data"); err != nil {
					t.Fatalf("Clear failed: %v", err)
				}
				for _, k := range append(keys, "x") {
					got, err := e.Get(ctx, "data", k)
					if err != nil {
						t.Fatal(err)
					}
					if got != nil {
						t.Errorf("Get(%s) after clear = %s, want nil", k, got)
					}
				}
			})

			t.Run("unknown partition", func(t *testing.T) {
				err := e.Set(ctx, "nope", "k", []byte(`1`))
				if !errors.Is(err, domain.ErrPartitionNotFound) {
					t.Errorf("Set error = %v, want ErrPartitionNotFound", err)
				}
				_, err = e.Get(ctx, "nope", "k")
				if !errors.Is(err, domain.ErrPartitionNotFound) {
					t.Errorf("Get error = %v, want ErrPartitionNotFound", err)
				}
			})
		})
	}
}

func TestEngine_ConcurrentSetSameKey(t *testing.T) {
	for _, tc := range testEngines {
		t.Run(tc.name, func(t *testing.T) {
			e := openTestEngine(t, tc.cfg(t))
			ctx := context.Background()

			v1 := []byte(`{"writer":"one","pad":"1111111111"}`)
			v2 := []byte(`{"writer":"two","pad":"2222222222"}`)

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					if err := e.Set(ctx, "data", "k", v1); err != nil {
						t.Errorf("Set v1: %v", err)
					}
				}()
				go func() {
					defer wg.Done()
					if err := e.Set(ctx, "data", "k", v2); err != nil {
						t.Errorf("Set v2: %v", err)
					}
				}()
			}
			wg.Wait()

			got, err := e.Get(ctx, "data", "k")
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != string(v1) && string(got) != string(v2) {
				t.Errorf("Get = %s, want one of the written values", got)
			}
		})
	}
}

func TestEngine_OpenIdempotent(t *testing.T) {
	cfg := DefaultKVConfig(t.TempDir())
	cfg.InMemory = true
	e := NewEngine(cfg, nil)
	defer e.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.Open(ctx, "t1", SchemaVersion, DefaultMigrations("data"))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Open failed: %v", err)
		}
	}

	// Later arguments are ignored
	if err := e.Open(ctx, "other", 1, nil); err != nil {
		t.Errorf("second Open failed: %v", err)
	}
	if name, version, ok := e.Info(); !ok || name != "t1" || version != SchemaVersion {
		t.Errorf("opened %s v%d (ok=%v), want t1 v%d", name, version, ok, SchemaVersion)
	}
}

func TestEngine_OperationsWaitForOpen(t *testing.T) {
	cfg := DefaultKVConfig(t.TempDir())
	cfg.InMemory = true
	e := NewEngine(cfg, nil)
	defer e.Close()

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		done <- e.Set(ctx, "data", "early", []byte(`true`))
	}()

	select {
	case err := <-done:
		t.Fatalf("Set returned before Open: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := e.Open(ctx, "t1", SchemaVersion, DefaultMigrations("data")); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("queued Set failed: %v", err)
	}

	got, err := e.Get(ctx, "data", "early")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "true" {
		t.Errorf("Get = %s, want true", got)
	}
}

func TestEngine_WaitHonoursContext(t *testing.T) {
	e := NewEngine(KVConfig{InMemory: true}, nil)
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := e.Get(ctx, "data", "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get error = %v, want DeadlineExceeded", err)
	}
}

func TestEngine_InfoDoesNotBlock(t *testing.T) {
	cfg := DefaultKVConfig(t.TempDir())
	cfg.InMemory = true
	e := NewEngine(cfg, nil)

	if _, _, ok := e.Info(); ok {
		t.Error("Info reported ok before open")
	}

	if err := e.Open(context.Background(), "t1", SchemaVersion, DefaultMigrations("data")); err != nil {
		t.Fatal(err)
	}
	if name, _, ok := e.Info(); !ok || name != "t1" {
		t.Errorf("Info after open = %q, %v", name, ok)
	}

	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := e.Info(); ok {
		t.Error("Info reported ok after close")
	}
}

func TestEngine_Upgrade(t *testing.T) {
	for _, tc := range testEngines {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg(t)
			ctx := context.Background()

			// Version 1 only knows the data partition
			e := NewEngine(cfg, nil)
			if err := e.Open(ctx, "up", 1, DefaultMigrations("data")); err != nil {
				t.Fatal(err)
			}
			if err := e.Set(ctx, "data", "k", []byte(`"kept"`)); err != nil {
				t.Fatal(err)
			}
			if err := e.Set(ctx, InternalPartition, "session", []byte(`null`)); !errors.Is(err, domain.ErrPartitionNotFound) {
				t.Errorf("internal partition before upgrade: %v", err)
			}
			e.Close()

			e = NewEngine(cfg, nil)
			defer e.Close()
			if err := e.Open(ctx, "up", 2, DefaultMigrations("data")); err != nil {
				t.Fatal(err)
			}
			if err := e.Set(ctx, InternalPartition, "session", []byte(`"s1"`)); err != nil {
				t.Errorf("internal partition after upgrade: %v", err)
			}
			got, err := e.Get(ctx, "data", "k")
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != `"kept"` {
				t.Errorf("data lost by upgrade: %s", got)
			}
		})
	}
}

func TestEngine_OpenErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("downgrade", func(t *testing.T) {
		cfg := KVConfig{Engine: EngineSQLite, Dir: t.TempDir()}

		e := NewEngine(cfg, nil)
		if err := e.Open(ctx, "down", 2, DefaultMigrations("data")); err != nil {
			t.Fatal(err)
		}
		e.Close()

		e = NewEngine(cfg, nil)
		defer e.Close()
		err := e.Open(ctx, "down", 1, DefaultMigrations("data"))
		if !errors.Is(err, domain.ErrStoreOpen) {
			t.Fatalf("Open error = %v, want ErrStoreOpen", err)
		}

		// The open error is sticky for every later operation
		if _, err := e.Get(ctx, "data", "k"); !errors.Is(err, domain.ErrStoreOpen) {
			t.Errorf("Get error = %v, want ErrStoreOpen", err)
		}
	})

	t.Run("missing migrations", func(t *testing.T) {
		e := NewEngine(KVConfig{InMemory: true}, nil)
		defer e.Close()
		err := e.Open(ctx, "short", 3, DefaultMigrations("data"))
		if !errors.Is(err, domain.ErrStoreOpen) {
			t.Errorf("Open error = %v, want ErrStoreOpen", err)
		}
	})

	t.Run("unknown engine", func(t *testing.T) {
		e := NewEngine(KVConfig{Engine: "leveldb", Dir: t.TempDir()}, nil)
		defer e.Close()
		err := e.Open(ctx, "x", 1, DefaultMigrations("data"))
		if !errors.Is(err, domain.ErrStoreOpen) {
			t.Errorf("Open error = %v, want ErrStoreOpen", err)
		}
	})
}

func TestEngine_Close(t *testing.T) {
	t.Run("after open", func(t *testing.T) {
		cfg := DefaultKVConfig(t.TempDir())
		cfg.InMemory = true
		e := openTestEngine(t, cfg)

		if err := e.Close(); err != nil {
			t.Fatal(err)
		}
		if err := e.Set(context.Background(), "data", "k", nil); !errors.Is(err, domain.ErrStoreClosed) {
			t.Errorf("Set after close = %v, want ErrStoreClosed", err)
		}
	})

	t.Run("before open", func(t *testing.T) {
		e := NewEngine(KVConfig{InMemory: true}, nil)
		if err := e.Close(); err != nil {
			t.Fatal(err)
		}
		err := e.Open(context.Background(), "t1", SchemaVersion, DefaultMigrations("data"))
		if !errors.Is(err, domain.ErrStoreClosed) {
			t.Errorf("Open after close = %v, want ErrStoreClosed", err)
		}
	})
}
