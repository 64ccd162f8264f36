package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"votermatch/internal/fetch"
	"votermatch/internal/metrics"
)

type testBackend struct{}

func (testBackend) IncCounter(name string, delta float64, labels metrics.Labels)       {}
func (testBackend) ObserveHistogram(name string, value float64, labels metrics.Labels) {}
func (testBackend) Flush() error                                                       { return nil }
func (testBackend) Close() error                                                       { return nil }

func testDeps(out, errOut io.Writer) deps {
	return deps{
		Stdout: out,
		Stderr: errOut,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return testBackend{}, nil
		},
		Now:   time.Now,
		Sleep: func(time.Duration) {},
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      []string
		wantErr   string
		wantField func(t *testing.T, cfg runConfig)
	}{
		{
			name: "defaults",
			args: []string{},
			wantField: func(t *testing.T, cfg runConfig) {
				if len(cfg.counties) != 4 || cfg.counties[0] != 1 || cfg.counties[3] != 4 {
					t.Fatalf("counties=%v, want [1 2 3 4]", cfg.counties)
				}
				if cfg.Workers != 2 || cfg.MaxAttempts != 8 {
					t.Fatalf("Workers=%d MaxAttempts=%d", cfg.Workers, cfg.MaxAttempts)
				}
				if cfg.FilePattern != "ohio_vrecords_county_%d.txt" {
					t.Fatalf("FilePattern=%q", cfg.FilePattern)
				}
			},
		},
		{
			name:    "invalid_workers",
			args:    []string{"-n", "0"},
			wantErr: "-n must be > 0",
		},
		{
			name:    "invalid_max_attempts",
			args:    []string{"-max_attempts", "0"},
			wantErr: "-max_attempts must be > 0",
		},
		{
			name:    "bad_counties",
			args:    []string{"-counties", "4-1"},
			wantErr: "-counties",
		},
		{
			name:    "bad_pattern",
			args:    []string{"-pattern", "county.txt"},
			wantErr: "exactly one %d",
		},
		{
			name:    "unknown_flag",
			args:    []string{"-nope"},
			wantErr: "Usage of voterfetch",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := parseFlags(tc.args)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("parseFlags() err=%v, want contains %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags() err=%v, want nil", err)
			}
			if tc.wantField != nil {
				tc.wantField(t, cfg)
			}
		})
	}
}

func TestParseFlags_ConfigFileAndOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.json")
	body := `{"fetch":{"counties":"9-10","workers":5,"out_dir":"` + filepath.ToSlash(dir) + `/raw","timeout":"30s"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := parseFlags([]string{"-config", path, "-n", "1"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if len(cfg.counties) != 2 || cfg.counties[0] != 9 {
		t.Fatalf("counties=%v, want [9 10]", cfg.counties)
	}
	if cfg.Workers != 1 {
		t.Fatalf("explicit -n must win; Workers=%d", cfg.Workers)
	}
	if cfg.Timeout != 30*time.Second {
		t.Fatalf("Timeout=%s", cfg.Timeout)
	}
	if !strings.HasSuffix(cfg.OutDir, "/raw") {
		t.Fatalf("OutDir=%q", cfg.OutDir)
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-counties", "x"}, testDeps(&out, &errOut))
	if code != 2 {
		t.Fatalf("run()=%d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "-counties") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestRun_DownloadsCountiesAndLogsJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.RawQuery, "=3") {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "SOS_VOTERID,FIRST_NAME,LAST_NAME\nOH1,JOHN,PUBLIC\n")
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{
		"-base_url", srv.URL + "/?county=",
		"-counties", "1-3",
		"-o", dir,
		"-sleep_before", "0",
		"-jitter_max", "0",
	}, testDeps(&out, &errOut))
	if code != 0 {
		t.Fatalf("run()=%d, want 0; stderr=%s", code, errOut.String())
	}

	for _, n := range []string{"1", "2"} {
		if _, err := os.Stat(filepath.Join(dir, "ohio_vrecords_county_"+n+".txt")); err != nil {
			t.Fatalf("county %s not written: %v", n, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "ohio_vrecords_county_3.txt")); err == nil {
		t.Fatalf("404 county must not be written")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("want 3 JSON lines, got %d: %q", len(lines), out.String())
	}
	for _, l := range lines {
		var rec fetch.Record
		if err := json.Unmarshal([]byte(l), &rec); err != nil {
			t.Fatalf("bad JSON line %q: %v", l, err)
		}
		if rec.County == 0 || rec.Attempt != 1 {
			t.Fatalf("unexpected record %+v", rec)
		}
	}
	if !strings.Contains(errOut.String(), "downloaded=2 skipped=1 failed=0") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestRun_ExhaustedCountyExitsOne(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{
		"-base_url", srv.URL + "/?county=",
		"-counties", "1",
		"-o", t.TempDir(),
		"-max_attempts", "2",
		"-base_backoff", "0",
		"-sleep_before", "0",
		"-jitter_max", "0",
	}, testDeps(&out, &errOut))
	if code != 1 {
		t.Fatalf("run()=%d, want 1", code)
	}
}

func TestRun_DiscoverCounties(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body><a href="/get?county=5">FIVE</a><a href="/get?county=7">SEVEN</a></body></html>`)
	})
	mux.HandleFunc("/get", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "SOS_VOTERID\nOH"+r.URL.Query().Get("county")+"\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{
		"-base_url", srv.URL + "/get?county=",
		"-discover_url", srv.URL + "/list",
		"-o", dir,
		"-sleep_before", "0",
		"-jitter_max", "0",
	}, testDeps(&out, &errOut))
	if code != 0 {
		t.Fatalf("run()=%d; stderr=%s", code, errOut.String())
	}
	if !strings.Contains(errOut.String(), "discovered 2 counties") {
		t.Fatalf("stderr=%q", errOut.String())
	}
	for _, n := range []string{"5", "7"} {
		if _, err := os.Stat(filepath.Join(dir, "ohio_vrecords_county_"+n+".txt")); err != nil {
			t.Fatalf("county %s not written: %v", n, err)
		}
	}
}
