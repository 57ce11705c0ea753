package client

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/yndnr/kvmirror/internal/server/workerserver"
	"github.com/yndnr/kvmirror/internal/storage"
)

func benchProxy(b *testing.B) *Proxy {
	b.Helper()
	kv := storage.DefaultKVConfig(b.TempDir())
	kv.InMemory = true
	workers := NewWorkers(WithDedicated(InProcessFactory(kv, workerserver.DefaultConfig(), nil)))
	b.Cleanup(func() { workers.Close() })

	p := New("bench", workers, WithLazyConnect())
	b.Cleanup(func() { p.Close() })
	if _, err := p.Connect(context.Background()); err != nil {
		b.Fatalf("Connect failed: %v", err)
	}
	return p
}

func BenchmarkProxySet(b *testing.B) {
	p := benchProxy(b)
	ctx := context.Background()
	value := json.RawMessage(`{"name":"alice","n":1}`)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := p.Set(ctx, fmt.Sprintf("key-%d", i%1000), value); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
	}
}

func BenchmarkProxyGetParallel(b *testing.B) {
	p := benchProxy(b)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if err := p.Set(ctx, fmt.Sprintf("key-%d", i), json.RawMessage(`1`)); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := p.Get(ctx, fmt.Sprintf("key-%d", i%100)); err != nil {
				b.Errorf("Get failed: %v", err)
				return
			}
			i++
		}
	})
}
