// Package datadog implements a Datadog backend for internal/metrics.
//
// Observations are buffered in memory and submitted by a background loop
// (default once per minute) plus one final Flush on Close, so long runs get
// a time series and short runs still report their tail.
//
// Counters are submitted as COUNT series. Histograms are reduced to
// nearest-rank percentile gauges (p50/p90/p95/p99/max/samples).
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"votermatch/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "votermatch".
	JobName string

	// Tags are extra Datadog tags such as "service:votermatch".
	Tags []string

	// FlushEvery is the background submit interval. Defaults to 60s.
	FlushEvery time.Duration

	// Unexported test seams.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// series identifies one buffered Datadog series: the dotted metric name plus
// its sorted, comma-joined dimension tags.
type series struct {
	metric string
	tags   string
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu       sync.Mutex
	counters map[series]float64
	samples  map[series][]float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a backend using the official client and starts its
// flush loop. Credentials come from DD_API_KEY / DD_SITE as read by the
// client's default context; submission errors surface from Flush.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "votermatch"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[series]float64),
		samples:    make(map[series][]float64),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Call it once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// datadogName maps a metrics.* name to its dotted Datadog name and the label
// keys kept as tags. Unknown names are dropped.
func datadogName(name string) (string, []string, bool) {
	switch name {
	case metrics.StepTotal:
		return "votermatch.step.total", []string{"step", "status"}, true
	case metrics.StepDurationSeconds:
		return "votermatch.step.duration_seconds", []string{"step", "status"}, true
	case metrics.RecordsTotal:
		return "votermatch.records.total", []string{"kind"}, true
	case metrics.BatchesTotal:
		return "votermatch.batches.total", nil, true
	case metrics.HTTPRequestsTotal:
		return "votermatch.http.requests.total", []string{"status"}, true
	case metrics.HTTPErrorsTotal:
		return "votermatch.http.errors.total", []string{"status"}, true
	case metrics.HTTPRequestDurationSeconds:
		return "votermatch.http.request_duration_seconds", []string{"status"}, true
	case metrics.HTTPResponseDurationSeconds:
		return "votermatch.http.response_duration_seconds", []string{"status"}, true
	case metrics.HTTPDownloadBytes:
		return "votermatch.http.download_bytes", []string{"status"}, true
	}
	return "", nil, false
}

func seriesFor(name string, labels metrics.Labels) (series, bool) {
	metric, keys, ok := datadogName(name)
	if !ok {
		return series{}, false
	}
	tags := make([]string, 0, len(keys))
	for _, k := range keys {
		v := labels[k]
		if v == "" {
			if k == "kind" {
				return series{}, false
			}
			v = "unknown"
		}
		tags = append(tags, k+":"+v)
	}
	return series{metric: metric, tags: strings.Join(tags, ",")}, true
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	s, ok := seriesFor(name, labels)
	if !ok {
		return
	}
	b.mu.Lock()
	b.counters[s] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	s, ok := seriesFor(name, labels)
	if !ok {
		return
	}
	b.mu.Lock()
	b.samples[s] = append(b.samples[s], value)
	b.mu.Unlock()
}

func (b *Backend) snapshotAndReset() (map[series]float64, map[series][]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, s := b.counters, b.samples
	b.counters = make(map[series]float64)
	b.samples = make(map[series][]float64)
	return c, s
}

// Flush submits buffered metrics and resets the buffers, even when the
// submission fails. Nothing is sent when the buffers are empty.
func (b *Backend) Flush() error {
	counters, samples := b.snapshotAndReset()
	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(counters, samples, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is the pure payload builder used by Flush. Output is sorted by
// metric name then tags so payloads are stable.
func (b *Backend) buildSeries(counters map[series]float64, samples map[series][]float64, nowUnix int64) []datadogV2.MetricSeries {
	out := make([]datadogV2.MetricSeries, 0, len(counters)+6*len(samples))

	for _, s := range sortedKeys(counters) {
		out = append(out, point(s.metric, datadogV2.METRICINTAKETYPE_COUNT, counters[s], b.tagsFor(s), nowUnix))
	}
	for _, s := range sortedKeys(samples) {
		addPercentiles(&out, s.metric, samples[s], b.tagsFor(s), nowUnix)
	}
	return out
}

func (b *Backend) tagsFor(s series) []string {
	if s.tags == "" {
		return withTags(b.baseTags)
	}
	return withTags(b.baseTags, strings.Split(s.tags, ",")...)
}

func sortedKeys[V any](m map[series]V) []series {
	keys := make([]series, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].metric != keys[j].metric {
			return keys[i].metric < keys[j].metric
		}
		return keys[i].tags < keys[j].tags
	})
	return keys
}

// addPercentiles appends percentile gauges for samples. It sorts a copy.
func addPercentiles(out *[]datadogV2.MetricSeries, metric string, samples []float64, tags []string, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	g := datadogV2.METRICINTAKETYPE_GAUGE
	*out = append(*out,
		point(metric+".p50", g, percentileNearestRank(cp, 0.50), tags, nowUnix),
		point(metric+".p90", g, percentileNearestRank(cp, 0.90), tags, nowUnix),
		point(metric+".p95", g, percentileNearestRank(cp, 0.95), tags, nowUnix),
		point(metric+".p99", g, percentileNearestRank(cp, 0.99), tags, nowUnix),
		point(metric+".max", g, cp[len(cp)-1], tags, nowUnix),
		point(metric+".samples", g, float64(len(cp)), tags, nowUnix),
	)
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:votermatch".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
