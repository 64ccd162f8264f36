// Package metrics is the backend-neutral metrics facade. Pipeline code calls
// the Record* helpers; a concrete Backend (datadog, prompush) is installed
// once at startup with SetBackend. Until then every call is a no-op.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives counter and histogram observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names shared by all backends.
const (
	StepTotal           = "votermatch_step_total"
	StepDurationSeconds = "votermatch_step_duration_seconds"
	RecordsTotal        = "votermatch_records_total"
	BatchesTotal        = "votermatch_batches_total"

	HTTPRequestsTotal           = "votermatch_http_requests_total"
	HTTPErrorsTotal             = "votermatch_http_errors_total"
	HTTPRequestDurationSeconds  = "votermatch_http_request_duration_seconds"
	HTTPResponseDurationSeconds = "votermatch_http_response_duration_seconds"
	HTTPDownloadBytes           = "votermatch_http_download_bytes"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of a pipeline step and observes its
// duration. status is "ok" when err is nil, "error" otherwise.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"job": job, "step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRecords adds n to the record counter for kind. n <= 0 is ignored.
func RecordRecords(job, kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"job": job, "kind": kind})
}

// RecordBatches counts storage batches written.
func RecordBatches(job string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(n), Labels{"job": job})
}

// RecordHTTP records one HTTP attempt. statusCode 0 means no response was
// received; it is reported as status "error".
func RecordHTTP(job string, statusCode int, err error, reqDur, respDur time.Duration, bytes int64) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	l := Labels{"job": job, "status": status}
	b := current()
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || statusCode == 0 || statusCode >= 400 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	if reqDur > 0 {
		b.ObserveHistogram(HTTPRequestDurationSeconds, reqDur.Seconds(), l)
	}
	if respDur > 0 {
		b.ObserveHistogram(HTTPResponseDurationSeconds, respDur.Seconds(), l)
	}
	if bytes > 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}
