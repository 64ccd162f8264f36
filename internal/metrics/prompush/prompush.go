// Package prompush implements a metrics.Backend that accumulates into a
// private Prometheus registry and pushes it to a Pushgateway on Flush.
package prompush

import (
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"votermatch/internal/metrics"
)

type metricDef struct {
	help    string
	labels  []string
	buckets []float64 // nil means counter
}

// The "job" label is dropped: it is the Pushgateway grouping key.
var defs = map[string]metricDef{
	metrics.StepTotal:                   {help: "Pipeline step executions.", labels: []string{"step", "status"}},
	metrics.StepDurationSeconds:         {help: "Pipeline step duration.", labels: []string{"step", "status"}, buckets: prometheus.ExponentialBuckets(0.01, 4, 10)},
	metrics.RecordsTotal:                {help: "Records by kind.", labels: []string{"kind"}},
	metrics.BatchesTotal:                {help: "Storage batches written."},
	metrics.HTTPRequestsTotal:           {help: "HTTP attempts by status.", labels: []string{"status"}},
	metrics.HTTPErrorsTotal:             {help: "Failed HTTP attempts by status.", labels: []string{"status"}},
	metrics.HTTPRequestDurationSeconds:  {help: "Time to response headers.", labels: []string{"status"}, buckets: prometheus.DefBuckets},
	metrics.HTTPResponseDurationSeconds: {help: "Time to read the response body.", labels: []string{"status"}, buckets: prometheus.ExponentialBuckets(0.1, 3, 10)},
	metrics.HTTPDownloadBytes:           {help: "Response body size.", labels: []string{"status"}, buckets: prometheus.ExponentialBuckets(1024, 8, 9)},
}

// Backend implements metrics.Backend.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewBackend returns a backend pushing to gatewayURL under job.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: empty gateway url")
	}
	if job == "" {
		job = "votermatch"
	}
	reg := prometheus.NewRegistry()
	return &Backend{
		reg:        reg,
		pusher:     push.New(gatewayURL, job).Gatherer(reg),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}, nil
}

func values(sp metricDef, l metrics.Labels) []string {
	out := make([]string, len(sp.labels))
	for i, k := range sp.labels {
		v := l[k]
		if v == "" {
			v = "unknown"
		}
		out[i] = v
	}
	return out
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	sp, ok := defs[name]
	if !ok || sp.buckets != nil || delta <= 0 {
		return
	}
	b.mu.Lock()
	vec := b.counters[name]
	if vec == nil {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: sp.help}, sp.labels)
		b.reg.MustRegister(vec)
		b.counters[name] = vec
	}
	b.mu.Unlock()
	vec.WithLabelValues(values(sp, labels)...).Add(delta)
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	sp, ok := defs[name]
	if !ok || sp.buckets == nil || value < 0 {
		return
	}
	b.mu.Lock()
	vec := b.histograms[name]
	if vec == nil {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: sp.help, Buckets: sp.buckets}, sp.labels)
		b.reg.MustRegister(vec)
		b.histograms[name] = vec
	}
	b.mu.Unlock()
	vec.WithLabelValues(values(sp, labels)...).Observe(value)
}

// Flush pushes the registry, replacing the job's previous metric group.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)
