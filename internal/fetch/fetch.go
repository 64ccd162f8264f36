// Package fetch downloads per-county voter extracts from the state portal.
//
// Each county is fetched by appending its number to a base URL and is written
// atomically to OutDir under FilePattern. Attempts are retried with
// exponential backoff (Retry-After honoured on 429). A 404 skips the county.
// A 2xx answer carrying an anti-bot interstitial is retried and never written.
package fetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"votermatch/internal/metrics"
)

// challengeSniff is how much of a 2xx body is inspected for a challenge page.
const challengeSniff = 64 << 10

// DefaultUserAgent is sent when Fetcher.UserAgent is empty. The portal
// rejects obvious non-browser clients.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Record is emitted for every HTTP attempt. Field names are a log contract.
type Record struct {
	Timestamp    string            `json:"ts"`
	County       int               `json:"county"`
	URL          string            `json:"url"`
	Attempt      int               `json:"attempt"`
	StatusCode   int               `json:"http_code"`
	DurationMs   int64             `json:"duration_ms"`
	RequestMs    int64             `json:"request_ms"`
	ResponseMs   int64             `json:"response_ms"`
	DownloadSz   int64             `json:"size_bytes"`
	File         string            `json:"file,omitempty"`
	Error        string            `json:"error,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	RetryAfterMs int64             `json:"retry_after_ms,omitempty"`
	Challenge    bool              `json:"challenge,omitempty"`
}

// Fetcher holds download settings. The zero value is not usable; set at
// least Client, BaseURL, OutDir and FilePattern.
type Fetcher struct {
	Client      *http.Client
	BaseURL     string
	OutDir      string
	FilePattern string // fmt pattern with one %d for the county number
	UserAgent   string
	Job         string

	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	SleepBefore time.Duration
	JitterMax   time.Duration

	// Sleep is used for the pre-request pacing sleep; nil means time.Sleep.
	Sleep func(d time.Duration)
	// Now seeds worker jitter; nil means time.Now.
	Now func() time.Time
}

// Summary counts county outcomes for one Run.
type Summary struct {
	Downloaded []int
	Skipped    []int // 404
	Failed     []int
}

// CountyURL returns the download URL for county.
func (f *Fetcher) CountyURL(county int) string {
	return f.BaseURL + strconv.Itoa(county)
}

// CountyPath returns the output file path for county.
func (f *Fetcher) CountyPath(county int) string {
	return filepath.Join(f.OutDir, fmt.Sprintf(f.FilePattern, county))
}

// Run downloads counties with workers goroutines, sending one Record per
// attempt to logs (which Run does not close). The first county to exhaust
// its retries cancels the remaining work and Run returns an error naming it.
func (f *Fetcher) Run(ctx context.Context, counties []int, workers int, logs chan<- Record) (Summary, error) {
	if workers <= 0 {
		workers = 1
	}
	if f.MaxAttempts <= 0 {
		return Summary{}, errors.New("fetch: MaxAttempts must be > 0")
	}
	if err := os.MkdirAll(f.OutDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("fetch: create output dir: %w", err)
	}

	now := f.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu  sync.Mutex
		sum Summary
	)
	jobs := make(chan int)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		rng := rand.New(rand.NewSource(now().UnixNano() + int64(i)*9973))
		s := newSleeper(rng, f.SleepBefore, f.JitterMax, f.Sleep)
		go func() {
			defer wg.Done()
			for county := range jobs {
				out := f.fetchCounty(ctx, county, s, logs)
				mu.Lock()
				switch out {
				case outcomeDownloaded:
					sum.Downloaded = append(sum.Downloaded, county)
				case outcomeSkipped:
					sum.Skipped = append(sum.Skipped, county)
				case outcomeFailed:
					sum.Failed = append(sum.Failed, county)
				}
				mu.Unlock()
				if out == outcomeFailed {
					cancel()
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, c := range counties {
			select {
			case <-ctx.Done():
				return
			case jobs <- c:
			}
		}
	}()

	wg.Wait()

	if len(sum.Failed) > 0 {
		return sum, fmt.Errorf("fetch: counties %v failed", sum.Failed)
	}
	if err := ctx.Err(); err != nil && len(sum.Downloaded)+len(sum.Skipped) < len(counties) {
		return sum, err
	}
	return sum, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeDownloaded
	outcomeSkipped
	outcomeCancelled
)

func (f *Fetcher) fetchCounty(ctx context.Context, county int, s *sleeper, logs chan<- Record) outcome {
	rawURL := f.CountyURL(county)
	outputPath := f.CountyPath(county)

	for attempt := 1; attempt <= f.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return outcomeCancelled
		}
		s.Sleep()

		rec := f.doAttempt(ctx, rawURL, attempt, outputPath)
		rec.County = county

		var attemptErr error
		if rec.Error != "" {
			attemptErr = errors.New(rec.Error)
		}
		metrics.RecordHTTP(
			f.Job,
			rec.StatusCode,
			attemptErr,
			time.Duration(rec.RequestMs)*time.Millisecond,
			time.Duration(rec.ResponseMs)*time.Millisecond,
			rec.DownloadSz,
		)
		if logs != nil {
			logs <- rec
		}

		switch {
		case ctx.Err() != nil:
			return outcomeCancelled
		case rec.StatusCode >= 200 && rec.StatusCode < 300 && rec.Error == "":
			return outcomeDownloaded
		case rec.StatusCode == http.StatusNotFound:
			return outcomeSkipped
		case attempt == f.MaxAttempts:
			return outcomeFailed
		}

		if !sleepContext(ctx, nextRetryDelay(rec, attempt, f.BaseBackoff, f.MaxBackoff)) {
			return outcomeCancelled
		}
	}
	return outcomeFailed
}

func (f *Fetcher) doAttempt(ctx context.Context, rawURL string, attempt int, outputPath string) Record {
	start := time.Now()
	rec := Record{
		Timestamp:  start.UTC().Format("2006-01-02T15:04:05.000Z"),
		URL:        rawURL,
		Attempt:    attempt,
		RequestMs:  -1,
		ResponseMs: -1,
		DownloadSz: -1,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		rec.DurationMs = time.Since(start).Milliseconds()
		rec.Error = err.Error()
		return rec
	}
	ua := f.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/plain,text/csv,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.Client.Do(req)
	if err != nil {
		rec.DurationMs = time.Since(start).Milliseconds()
		rec.Error = err.Error()
		return rec
	}
	rec.RequestMs = time.Since(start).Milliseconds()
	defer resp.Body.Close()

	rec.StatusCode = resp.StatusCode

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		br := bufio.NewReaderSize(resp.Body, challengeSniff)
		head, _ := br.Peek(challengeSniff)
		if IsChallengePage(head) {
			n, _ := io.Copy(io.Discard, br)
			rec.DownloadSz = n
			rec.Challenge = true
			rec.Error = ErrChallenge.Error()
		} else {
			n, werr := writeBodyToFile(outputPath, br)
			rec.DownloadSz = n
			if werr != nil {
				rec.Error = werr.Error()
			} else {
				rec.File = outputPath
			}
		}
	} else {
		n, derr := io.Copy(io.Discard, resp.Body)
		rec.DownloadSz = n
		if derr != nil {
			rec.Error = derr.Error()
		}
	}

	rec.ResponseMs = time.Since(start).Milliseconds()
	rec.DurationMs = rec.ResponseMs

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		rec.Headers = flattenHeaders(resp.Header, 64)
		rec.RetryAfterMs = parseRetryAfter(resp.Header).Milliseconds()
	}
	return rec
}

// writeBodyToFile writes r to outputPath through a temp file in the same
// directory and renames it into place. The temp file is removed on failure.
// syncFile flushes an extract to stable storage before it is renamed into place.
var syncFile = func(f *os.File) error { return f.Sync() }

func writeBodyToFile(outputPath string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".voterfetch-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	n, copyErr := io.Copy(tmp, r)
	var syncErr error
	if copyErr == nil {
		syncErr = syncFile(tmp)
	}
	closeErr := tmp.Close()

	if copyErr != nil {
		_ = os.Remove(tmpName)
		return n, copyErr
	}
	if syncErr != nil {
		_ = os.Remove(tmpName)
		return n, fmt.Errorf("sync %s: %w", tmpName, syncErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return n, closeErr
	}
	if err := os.Rename(tmpName, outputPath); err != nil {
		_ = os.Remove(tmpName)
		return n, err
	}
	return n, nil
}

// nextRetryDelay honours Retry-After when the server sent one, otherwise
// backs off exponentially from base, clamped to max. Network failures wait
// at least 10s.
func nextRetryDelay(rec Record, attempt int, base, max time.Duration) time.Duration {
	if rec.RetryAfterMs > 0 {
		return time.Duration(rec.RetryAfterMs) * time.Millisecond
	}

	d := base << uint(attempt-1)
	if d > max || d < 0 {
		d = max
	}
	if rec.StatusCode == 0 && d < 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func parseRetryAfter(h http.Header) time.Duration {
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func flattenHeaders(h http.Header, maxKeys int) map[string]string {
	out := make(map[string]string, min(len(h), maxKeys))
	for k, v := range h {
		if len(out) >= maxKeys {
			break
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// NewHTTPClient returns a client with pooled keep-alive connections.
func NewHTTPClient(timeout time.Duration, maxConnsPerHost int) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 16,
			MaxConnsPerHost:     maxConnsPerHost,
		},
	}
}

type sleeper struct {
	rng       *rand.Rand
	base      time.Duration
	jitterMax time.Duration
	sleep     func(d time.Duration)
}

func newSleeper(rng *rand.Rand, base, jitterMax time.Duration, sleep func(d time.Duration)) *sleeper {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &sleeper{rng: rng, base: base, jitterMax: jitterMax, sleep: sleep}
}

// Sleep pauses for base plus uniform jitter in [0, jitterMax].
func (s *sleeper) Sleep() {
	var jitter time.Duration
	if s.jitterMax > 0 {
		jitter = time.Duration(s.rng.Int63n(int64(s.jitterMax) + 1))
	}
	s.sleep(s.base + jitter)
}
