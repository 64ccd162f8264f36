package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "pipeline.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_DefaultsAndEnvExpansion(t *testing.T) {
	t.Setenv("VM_DATA", "/srv/voters")
	t.Setenv("VM_DSN", "file:audit.db")

	p, err := Load(writeConfig(t, `{
		"candidates": {"dir": "${VM_DATA}/input"},
		"target": {"path": "$VM_DATA/roster.csv", "parser": {"comma": ";"}},
		"audit": {"kind": "sqlite", "dsn": "${VM_DSN}"},
		"fetch": {"timeout": "30s"}
	}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if p.Candidates.Dir != "/srv/voters/input" {
		t.Fatalf("Candidates.Dir=%q", p.Candidates.Dir)
	}
	if p.Target.Path != "/srv/voters/roster.csv" {
		t.Fatalf("Target.Path=%q", p.Target.Path)
	}
	if p.Audit.DSN != "file:audit.db" {
		t.Fatalf("Audit.DSN=%q", p.Audit.DSN)
	}
	if p.Candidates.Pattern != DefaultCandidatesPattern {
		t.Fatalf("Candidates.Pattern=%q, want default", p.Candidates.Pattern)
	}
	if p.Output.Column != DefaultOutputColumn || p.Output.Path != DefaultOutputPath {
		t.Fatalf("output defaults not applied: %+v", p.Output)
	}
	if p.Match.TieBreak != TieBreakMinID {
		t.Fatalf("TieBreak=%q, want %q", p.Match.TieBreak, TieBreakMinID)
	}
	if !p.Match.FoldDiacriticsEnabled() {
		t.Fatalf("fold_diacritics should default to true")
	}
	if p.Fetch.OutDir != "/srv/voters/input" {
		t.Fatalf("Fetch.OutDir=%q, want candidates dir", p.Fetch.OutDir)
	}
	if p.Fetch.Timeout.Duration != 30*time.Second {
		t.Fatalf("Fetch.Timeout=%v", p.Fetch.Timeout)
	}
	if got := p.Target.Parser.Rune("comma", ','); got != ';' {
		t.Fatalf("target comma=%q", got)
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	_, err := Load(writeConfig(t, `{"candidatez": {}}`))
	if err == nil || !strings.Contains(err.Error(), "decode config") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil || !strings.Contains(err.Error(), "open config") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestValidatePipeline(t *testing.T) {
	t.Parallel()

	base := func() Pipeline {
		var p Pipeline
		p.ApplyDefaults()
		return p
	}

	tests := []struct {
		name     string
		mutate   func(p *Pipeline)
		wantPath string
		wantErr  bool
	}{
		{name: "defaults_valid", mutate: func(p *Pipeline) {}},
		{
			name:     "bad_tie_break",
			mutate:   func(p *Pipeline) { p.Match.TieBreak = "random" },
			wantPath: "match.tie_break",
			wantErr:  true,
		},
		{
			name:     "output_equals_target",
			mutate:   func(p *Pipeline) { p.Output.Path = p.Target.Path },
			wantPath: "output.path",
			wantErr:  true,
		},
		{
			name: "output_would_be_reread_as_shard",
			mutate: func(p *Pipeline) {
				p.Output.Path = filepath.Join(p.Candidates.Dir, "matched.txt")
			},
			wantPath: "output.path",
			wantErr:  true,
		},
		{
			name:     "bad_target_format",
			mutate:   func(p *Pipeline) { p.Target.Parser = Options{"format": "xml"} },
			wantPath: "target.parser.format",
			wantErr:  true,
		},
		{
			name:     "bad_format",
			mutate:   func(p *Pipeline) { p.Output.Format = "parquet" },
			wantPath: "output.format",
			wantErr:  true,
		},
		{
			name:     "audit_without_dsn",
			mutate:   func(p *Pipeline) { p.Audit.Kind = "postgres" },
			wantPath: "audit.dsn",
			wantErr:  true,
		},
		{
			name: "audit_bad_table",
			mutate: func(p *Pipeline) {
				p.Audit.Kind = "sqlite"
				p.Audit.DSN = "x.db"
				p.Audit.Table = "audit; DROP TABLE x"
			},
			wantPath: "audit.table",
			wantErr:  true,
		},
		{
			name:     "unknown_backend",
			mutate:   func(p *Pipeline) { p.Audit.Kind = "oracle" },
			wantPath: "audit.kind",
			wantErr:  true,
		},
		{
			name:     "birth_year_bounds",
			mutate:   func(p *Pipeline) { p.Match.MaxBirthYear = 1800 },
			wantPath: "match.max_birth_year",
			wantErr:  true,
		},
		{
			name:     "unknown_year_matching_warns",
			mutate:   func(p *Pipeline) { p.Match.MatchUnknownBirthYear = true },
			wantPath: "match.match_unknown_birth_year",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := base()
			tc.mutate(&p)
			issues := ValidatePipeline(p)

			if got := HasErrors(issues); got != tc.wantErr {
				t.Fatalf("HasErrors=%v want %v; issues=%+v", got, tc.wantErr, issues)
			}
			if tc.wantPath == "" {
				if len(issues) != 0 {
					t.Fatalf("expected no issues, got %+v", issues)
				}
				return
			}
			found := false
			for _, iss := range issues {
				if iss.Path == tc.wantPath {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected issue at %s, got %+v", tc.wantPath, issues)
			}
		})
	}
}

func TestOptions_Getters(t *testing.T) {
	t.Parallel()

	o := Options{
		"has_header": "false",
		"comma":      `\t`,
		"n":          float64(3),
		"header_map": map[string]any{"Voter ID": "SOS_VOTERID", "skip": 1},
	}

	if o.Bool("has_header", true) {
		t.Fatalf("has_header should parse string false")
	}
	if got := o.Rune("comma", ','); got != '\t' {
		t.Fatalf("comma=%q", got)
	}
	if got := o.Int("n", 0); got != 3 {
		t.Fatalf("n=%d", got)
	}
	hm := o.StringMap("header_map")
	if len(hm) != 1 || hm["Voter ID"] != "SOS_VOTERID" {
		t.Fatalf("header_map=%v", hm)
	}
	var nilOpts Options
	if nilOpts.String("x", "d") != "d" {
		t.Fatalf("nil Options should return default")
	}
}

func TestLoad_SampleConfigIsValid(t *testing.T) {
	t.Parallel()

	p, err := Load(filepath.Join("..", "..", "configs", "ohio.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, iss := range ValidatePipeline(p) {
		if iss.Severity == SeverityError {
			t.Fatalf("sample config: %s: %s", iss.Path, iss.Message)
		}
	}
	if p.Runtime.ChannelBuffer != 512 || p.Fetch.Counties != "1-88" {
		t.Fatalf("runtime=%+v fetch.counties=%q", p.Runtime, p.Fetch.Counties)
	}
	if p.Fetch.OutDir != p.Candidates.Dir {
		t.Fatalf("fetch.out_dir=%q should default to candidates.dir %q", p.Fetch.OutDir, p.Candidates.Dir)
	}
}
