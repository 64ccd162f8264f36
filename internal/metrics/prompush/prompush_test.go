package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"votermatch/internal/metrics"
)

func TestNewBackend_RejectsEmptyURL(t *testing.T) {
	if _, err := NewBackend("job", " "); err == nil {
		t.Fatalf("expected error for empty gateway url")
	}
}

func TestFlush_PushesRegisteredSeries(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("votermatch_test", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"job": "votermatch_test", "kind": "matched"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.2, metrics.Labels{"step": "resolve", "status": "ok"})
	b.IncCounter("not_a_metric", 1, nil)
	b.IncCounter(metrics.StepDurationSeconds, 1, nil) // histogram name used as counter is ignored

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Fatalf("method=%s, want PUT", method)
	}
	if path != "/metrics/job/votermatch_test" {
		t.Fatalf("path=%s", path)
	}
	if body == "" {
		t.Fatalf("empty push body")
	}
}

func TestFlush_GatewayErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, err := NewBackend("", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.BatchesTotal, 1, nil)

	err = b.Flush()
	if err == nil || !strings.Contains(err.Error(), "prompush") {
		t.Fatalf("expected wrapped push error, got %v", err)
	}
}
