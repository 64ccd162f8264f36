// Command voterfetch downloads per-county voter extracts into the candidate
// directory votermatch reads from.
//
// Every HTTP attempt is written to stdout as one JSON line; the summary and
// errors go to stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"votermatch/internal/config"
	"votermatch/internal/fetch"
	"votermatch/internal/metrics"
	"votermatch/internal/metrics/datadog"
)

// backendCloser is the metrics backend this command owns and must close.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are the seams tests replace.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
	Now            func() time.Time
	Sleep          func(d time.Duration)
}

// runConfig holds the parsed flags merged over the optional config file.
type runConfig struct {
	ConfigPath      string
	Counties        string
	DiscoverURL     string
	BaseURL         string
	OutDir          string
	FilePattern     string
	UserAgent       string
	Workers         int
	Timeout         time.Duration
	JobName         string
	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	JitterMax       time.Duration
	SleepBefore     time.Duration
	DDTagsCSV       string
	FlushEvery      time.Duration
	MaxConnsPerHost int

	counties []int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
		Now:   time.Now,
		Sleep: time.Sleep,
	})
	stop()
	os.Exit(code)
}

// run executes the downloader and returns an exit code.
//
// Exit codes:
//   - 0: every county downloaded or skipped (404).
//   - 1: at least one county exhausted its retries.
//   - 2: configuration or initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sleep == nil {
		d.Sleep = time.Sleep
	}
	if d.BackendFactory == nil {
		fmt.Fprintln(d.Stderr, "internal error: BackendFactory is nil")
		return 2
	}

	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		fmt.Fprintf(d.Stderr, "failed to create output directory: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tags := append(datadog.ParseTagsCSV(cfg.DDTagsCSV), "tool:voterfetch")
	backend, err := d.BackendFactory(ctx, cfg.JobName, tags, cfg.FlushEvery)
	if err != nil {
		fmt.Fprintf(d.Stderr, "metrics backend init failed: %v\n", err)
		return 2
	}
	metrics.SetBackend(backend)
	defer func() {
		_ = metrics.Flush()
		_ = backend.Close()
		metrics.SetBackend(nil)
	}()

	f := &fetch.Fetcher{
		Client:      fetch.NewHTTPClient(cfg.Timeout, cfg.MaxConnsPerHost),
		BaseURL:     cfg.BaseURL,
		OutDir:      cfg.OutDir,
		FilePattern: cfg.FilePattern,
		UserAgent:   cfg.UserAgent,
		Job:         cfg.JobName,
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		SleepBefore: cfg.SleepBefore,
		JitterMax:   cfg.JitterMax,
		Sleep:       d.Sleep,
		Now:         d.Now,
	}

	counties := cfg.counties
	if cfg.DiscoverURL != "" {
		found, err := f.Discover(ctx, cfg.DiscoverURL)
		if err != nil {
			fmt.Fprintln(d.Stderr, err.Error())
			return 1
		}
		counties = fetch.Numbers(found)
		fmt.Fprintf(d.Stderr, "discovered %d counties at %s\n", len(counties), cfg.DiscoverURL)
	}

	logCh := make(chan fetch.Record, 512)
	var logWG sync.WaitGroup
	logWG.Add(1)
	go func() {
		defer logWG.Done()
		writeJSONLines(d.Stdout, logCh)
	}()

	sum, runErr := f.Run(ctx, counties, cfg.Workers, logCh)
	close(logCh)
	logWG.Wait()

	fmt.Fprintf(d.Stderr, "downloaded=%d skipped=%d failed=%d\n",
		len(sum.Downloaded), len(sum.Skipped), len(sum.Failed))

	if runErr != nil {
		fmt.Fprintln(d.Stderr, runErr.Error())
		return 1
	}
	return 0
}

// parseFlags parses args into a validated runConfig. Values from -config
// seed the defaults; flags given explicitly on the command line win.
func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("voterfetch", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var p config.Pipeline
	p.ApplyDefaults()

	var cfg runConfig
	fs.StringVar(&cfg.ConfigPath, "config", "", "Optional pipeline JSON; its fetch section supplies defaults")
	fs.StringVar(&cfg.Counties, "counties", p.Fetch.Counties, "County numbers, e.g. 1-4,7,9-10")
	fs.StringVar(&cfg.DiscoverURL, "discover_url", "", "Listing page to read county links from; replaces -counties")
	fs.StringVar(&cfg.BaseURL, "base_url", p.Fetch.BaseURL, "URL prefix the county number is appended to")
	fs.StringVar(&cfg.OutDir, "o", p.Fetch.OutDir, "Directory to write county extracts into")
	fs.StringVar(&cfg.FilePattern, "pattern", p.Fetch.FilePattern, "Output file name pattern with one %d")
	fs.StringVar(&cfg.UserAgent, "user_agent", "", "User-Agent header (default: a desktop browser string)")
	fs.IntVar(&cfg.Workers, "n", p.Fetch.Workers, "Number of concurrent workers")
	fs.DurationVar(&cfg.Timeout, "t", p.Fetch.Timeout.Duration, "HTTP timeout per request")
	fs.StringVar(&cfg.JobName, "name", "voterfetch", "Logical job name used in metrics tags")
	fs.IntVar(&cfg.MaxAttempts, "max_attempts", p.Fetch.MaxAttempts, "Max attempts per county (including first attempt)")
	fs.DurationVar(&cfg.BaseBackoff, "base_backoff", 2*time.Second, "Base backoff for retries")
	fs.DurationVar(&cfg.MaxBackoff, "max_backoff", 60*time.Second, "Max backoff for retries")
	fs.DurationVar(&cfg.JitterMax, "jitter_max", 350*time.Millisecond, "Max jitter added to sleeps")
	fs.DurationVar(&cfg.SleepBefore, "sleep_before", 500*time.Millisecond, "Base sleep before each request")
	fs.StringVar(&cfg.DDTagsCSV, "dd_tags", "", "Extra Datadog tags CSV (e.g. env:prod,state:oh)")
	fs.DurationVar(&cfg.FlushEvery, "metrics_flush", time.Minute, "Datadog flush interval")
	fs.IntVar(&cfg.MaxConnsPerHost, "max_conns_per_host", 8, "Max HTTP connections per host (0 means unlimited)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}

	if cfg.ConfigPath != "" {
		loaded, err := config.Load(cfg.ConfigPath)
		if err != nil {
			return runConfig{}, err
		}
		set := map[string]bool{}
		fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
		applyFetchSection(&cfg, loaded.Fetch, set)
	}

	if cfg.Workers <= 0 {
		return runConfig{}, errors.New("-n must be > 0")
	}
	if cfg.MaxAttempts <= 0 {
		return runConfig{}, errors.New("-max_attempts must be > 0")
	}
	if cfg.MaxConnsPerHost < 0 {
		return runConfig{}, errors.New("-max_conns_per_host must be >= 0")
	}
	if cfg.BaseURL == "" {
		return runConfig{}, errors.New("missing -base_url")
	}
	if strings.Count(cfg.FilePattern, "%d") != 1 {
		return runConfig{}, fmt.Errorf("-pattern %q must contain exactly one %%d", cfg.FilePattern)
	}
	counties, err := fetch.ParseCounties(cfg.Counties)
	if err != nil {
		return runConfig{}, fmt.Errorf("-counties: %w", err)
	}
	cfg.counties = counties

	return cfg, nil
}

// applyFetchSection copies the config file's fetch values into cfg for every
// flag the user did not set explicitly.
func applyFetchSection(cfg *runConfig, f config.Fetch, set map[string]bool) {
	if !set["counties"] {
		cfg.Counties = f.Counties
	}
	if !set["discover_url"] && f.DiscoverURL != "" {
		cfg.DiscoverURL = f.DiscoverURL
	}
	if !set["base_url"] {
		cfg.BaseURL = f.BaseURL
	}
	if !set["o"] {
		cfg.OutDir = f.OutDir
	}
	if !set["pattern"] {
		cfg.FilePattern = f.FilePattern
	}
	if !set["user_agent"] && f.UserAgent != "" {
		cfg.UserAgent = f.UserAgent
	}
	if !set["n"] {
		cfg.Workers = f.Workers
	}
	if !set["t"] {
		cfg.Timeout = f.Timeout.Duration
	}
	if !set["max_attempts"] {
		cfg.MaxAttempts = f.MaxAttempts
	}
}

func writeJSONLines(w io.Writer, in <-chan fetch.Record) {
	enc := json.NewEncoder(w)
	for rec := range in {
		_ = enc.Encode(rec)
	}
}
