package metric

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/kvmirror/internal/storage"
)

func TestRegistry_ObserveRequest(t *testing.T) {
	r := NewRegistry()

	r.ObserveRequest("transaction", time.Now(), nil)
	r.ObserveRequest("transaction", time.Now(), nil)
	r.ObserveRequest("transaction", time.Now(), errors.New("boom"))

	if got := testutil.ToFloat64(r.RequestsTotal.WithLabelValues("transaction", "ok")); got != 2 {
		t.Errorf("ok requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.RequestsTotal.WithLabelValues("transaction", "error")); got != 1 {
		t.Errorf("error requests = %v, want 1", got)
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.ConnectionsActive.Set(3)
	r.SessionInvalidations.Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"kvmirror_worker_connections_active 3",
		"kvmirror_session_invalidations_total 1",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

type fakeStore struct {
	open bool
}

func (s fakeStore) Info() (string, int, bool) {
	if !s.open {
		return "", 0, false
	}
	return "app-mirror", 2, true
}

func TestStoreCollector(t *testing.T) {
	r := NewRegistry()
	r.Registerer().MustRegister(NewStoreCollector(fakeStore{open: true}, "badger"))

	expected := `
# HELP kvmirror_store_info Opened mirror store
# TYPE kvmirror_store_info gauge
kvmirror_store_info{engine="badger",name="app-mirror",version="2"} 1
`
	if err := testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected), "kvmirror_store_info"); err != nil {
		t.Error(err)
	}
}

func TestStoreCollector_StoreNotOpen(t *testing.T) {
	// A worker with storage disabled never opens its engine.
	engine := storage.NewEngine(storage.KVConfig{InMemory: true}, nil)
	defer engine.Close()
	c := NewStoreCollector(engine, "badger")

	done := make(chan int, 1)
	go func() { done <- testutil.CollectAndCount(c) }()

	select {
	case n := <-done:
		if n != 0 {
			t.Errorf("collected %d metrics, want 0", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("collect blocked on an unopened store")
	}
}

func TestServer_Healthz(t *testing.T) {
	s := NewServer("127.0.0.1:0", NewRegistry(), nil)

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
