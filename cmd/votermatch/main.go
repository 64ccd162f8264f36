// Command votermatch enriches a target roster with state voter ids by
// matching it against county voter extracts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"votermatch/internal/config"
	"votermatch/internal/metrics"
	"votermatch/internal/metrics/datadog"
	"votermatch/internal/metrics/prompush"
	"votermatch/internal/runner"

	// register every audit backend; the config picks one.
	_ "votermatch/internal/storage/all"
)

const usage = "usage: votermatch -config path/to/pipeline.json [-validate] [-v] [-log-format text|json] [-metrics-backend none|datadog|pushgateway]"

// pipelineRunner is the part of *runner.Runner the CLI depends on.
type pipelineRunner interface {
	Run(ctx context.Context, p config.Pipeline) (runner.Report, error)
}

// metricsBackend is what initMetrics owns and closes.
type metricsBackend interface {
	Close() error
}

// metricsConfig selects and configures the metrics backend for one run.
type metricsConfig struct {
	Job            string
	Backend        string
	PushgatewayURL string
}

// appDeps are the seams runMain is tested through.
type appDeps struct {
	loadConfig  func(path string) (config.Pipeline, error)
	newRunner   func(logger runner.Logger) pipelineRunner
	initMetrics func(ctx context.Context, mc metricsConfig) (func(), error)
}

// Package-level seams used by initMetrics.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushgatewayBackend = func(job, url string) (metricsBackend, error) {
		b, err := prompush.NewBackend(job, url)
		if err != nil {
			return nil, err
		}
		return pushCloser{b}, nil
	}
	setMetricsBackend = func(b any) {
		mb, _ := b.(metrics.Backend)
		metrics.SetBackend(mb)
	}
	logPrintf = log.Printf
	getenv    = os.Getenv
)

// pushCloser pushes the collected series once when the run ends.
type pushCloser struct{ *prompush.Backend }

func (p pushCloser) Close() error { return p.Flush() }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig: config.Load,
		newRunner: func(logger runner.Logger) pipelineRunner {
			return &runner.Runner{Logger: logger}
		},
		initMetrics: initMetrics,
	}
}

// runMain parses args, validates the pipeline and executes it.
//
// Exit codes:
//   - 0: success, or -validate on a valid config.
//   - 1: the run failed.
//   - 2: usage, config or metrics initialization error.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("votermatch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath     string
		validate    bool
		verbose     bool
		backendName string
		gatewayURL  string
		logFormat   string
	)
	fs.StringVar(&cfgPath, "config", "", "pipeline config JSON path")
	fs.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&verbose, "v", false, "enable verbose logs")
	fs.StringVar(&backendName, "metrics-backend", "", "metrics backend: none, datadog, pushgateway (overrides env METRICS_BACKEND)")
	fs.StringVar(&gatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	fs.StringVar(&logFormat, "log-format", "text", "log output format: text or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, usage)
		return 2
	}
	if strings.TrimSpace(cfgPath) == "" {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	logger, syncLog, err := newLogger(logFormat, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		fmt.Fprintln(stderr, usage)
		return 2
	}
	defer syncLog()

	p, err := deps.loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", cfgPath)
		return 2
	}
	if validate {
		fmt.Fprintf(stdout, "configuration is valid: %s\n", cfgPath)
		return 0
	}

	// flag -> env -> default
	if backendName == "" {
		backendName = getenv("METRICS_BACKEND")
	}
	if gatewayURL == "" {
		gatewayURL = getenv("PUSHGATEWAY_URL")
	}
	if gatewayURL == "" {
		gatewayURL = "http://localhost:9091"
	}

	cleanup, err := deps.initMetrics(ctx, metricsConfig{Job: p.Job, Backend: backendName, PushgatewayURL: gatewayURL})
	if err != nil {
		fmt.Fprintf(stderr, "metrics: %v\n", err)
		return 2
	}
	defer cleanup()

	if verbose {
		logger.Printf("pipeline: job=%s candidates=%s target=%s output=%s audit=%s",
			p.Job, p.Candidates.Dir+"/"+p.Candidates.Pattern, p.Target.Path, p.Output.Path, auditKind(p.Audit))
	}

	start := time.Now()
	rep, err := deps.newRunner(logger).Run(ctx, p)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	if verbose {
		logger.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}

	s := rep.Summary
	fmt.Fprintf(stdout, "targets=%d matched=%d ambiguous=%d unmatched=%d ineligible=%d output=%s\n",
		s.Targets, s.Matched, s.Ambiguous, s.Unmatched, s.Ineligible, rep.OutputPath)
	return 0
}

func auditKind(a config.Audit) string {
	if !a.Enabled() {
		return "none"
	}
	return a.Kind
}

// initMetrics installs the selected backend and returns its cleanup, which
// is always non-nil and safe to call.
func initMetrics(ctx context.Context, mc metricsConfig) (func(), error) {
	noop := func() {}
	job := mc.Job
	if job == "" {
		job = "votermatch"
	}

	switch strings.ToLower(mc.Backend) {
	case "", "none", "noop":
		return noop, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       datadog.ParseTagsCSV(getenv("METRICS_TAGS")),
			FlushEvery: time.Minute,
		})
		if err != nil {
			return noop, fmt.Errorf("init datadog backend: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	case "pushgateway", "prometheus":
		b, err := newPushgatewayBackend(job, mc.PushgatewayURL)
		if err != nil {
			return noop, fmt.Errorf("init pushgateway backend: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: pushgateway push error: %v", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q", mc.Backend)
	}
}

// newLogger builds the run logger. text is a stdlib *log.Logger; json is a
// zap SugaredLogger whose message is the runner's key=value line.
func newLogger(format string, w io.Writer) (runner.Logger, func(), error) {
	switch strings.ToLower(format) {
	case "", "text":
		return log.New(w, "", log.LstdFlags), func() {}, nil
	case "json":
		enc := zap.NewProductionEncoderConfig()
		enc.TimeKey = "ts"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), zapcore.InfoLevel)
		s := zap.New(core).Sugar().With("service", "votermatch")
		return zapPrintf{s}, func() { _ = s.Sync() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown -log-format %q", format)
	}
}

// zapPrintf adapts a SugaredLogger to runner.Logger.
type zapPrintf struct {
	s *zap.SugaredLogger
}

func (z zapPrintf) Printf(format string, v ...any) {
	z.s.Infof(format, v...)
}
