// Package config defines the votermatch pipeline configuration: where candidate
// extracts and the target roster live, how they are parsed, how matches are
// resolved, where the augmented roster is written, and the optional audit and
// fetch settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Tie-break policies understood by the match resolver.
const (
	TieBreakMinID         = "min_id"
	TieBreakMaxID         = "max_id"
	TieBreakPreferAddress = "prefer_address"
)

// Output formats understood by the result assembler.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const (
	DefaultCandidatesDir     = "data/input"
	DefaultCandidatesPattern = "*.txt"
	DefaultTargetPath        = "data/input/eng-matching-input-v3.csv"
	DefaultOutputPath        = "data/output/oh_matched_voterids.csv"
	DefaultOutputColumn      = "matched_voterid"
	DefaultAuditTable        = "voter_match_audit"
	DefaultAuditBatchSize    = 500
	DefaultMinBirthYear      = 1870

	DefaultFetchBaseURL     = "https://www6.ohiosos.gov/ords/f?p=VOTERFTP:DOWNLOAD::FILE:NO:2:P2_PRODUCT_NUMBER:"
	DefaultFetchCounties    = "1-4"
	DefaultFetchFilePattern = "ohio_vrecords_county_%d.txt"
)

// Pipeline is the top-level JSON config for one matching run.
type Pipeline struct {
	Job        string     `json:"job"`
	Candidates Candidates `json:"candidates"`
	Target     Target     `json:"target"`
	Output     Output     `json:"output"`
	Match      Match      `json:"match"`
	Audit      Audit      `json:"audit"`
	Fetch      Fetch      `json:"fetch"`
	Runtime    Runtime    `json:"runtime"`
}

// Runtime tunes the candidate streaming stage.
type Runtime struct {
	ChannelBuffer       int `json:"channel_buffer"`
	CanonicalizeWorkers int `json:"canonicalize_workers"`
}

// Candidates locates the per-county extract shards.
type Candidates struct {
	Dir     string  `json:"dir"`
	Pattern string  `json:"pattern"`
	Parser  Options `json:"parser"`
}

// Target locates the roster to enrich.
type Target struct {
	Path   string  `json:"path"`
	Parser Options `json:"parser"`
}

// Output controls the augmented roster artifact.
type Output struct {
	Path   string `json:"path"`
	Format string `json:"format"` // "csv" | "xlsx"; empty infers from extension
	Column string `json:"column"`
	Comma  string `json:"comma"`
}

// Match controls canonicalization and resolution policy.
type Match struct {
	TieBreak              string `json:"tie_break"`
	MatchUnknownBirthYear bool   `json:"match_unknown_birth_year"`
	FoldDiacritics        *bool  `json:"fold_diacritics,omitempty"`
	MinBirthYear          int    `json:"min_birth_year"`
	MaxBirthYear          int    `json:"max_birth_year"` // 0 means current year
}

// FoldDiacriticsEnabled reports the effective fold_diacritics setting (default true).
func (m Match) FoldDiacriticsEnabled() bool {
	if m.FoldDiacritics == nil {
		return true
	}
	return *m.FoldDiacritics
}

// Audit configures the optional decision audit sink.
type Audit struct {
	Kind      string `json:"kind"` // "", "none", "postgres", "sqlite", "mssql"
	DSN       string `json:"dsn"`
	Table     string `json:"table"`
	BatchSize int    `json:"batch_size"`
}

// Enabled reports whether an audit backend is configured.
func (a Audit) Enabled() bool {
	return a.Kind != "" && a.Kind != "none"
}

// Fetch configures the county extract downloader.
type Fetch struct {
	BaseURL     string   `json:"base_url"`
	DiscoverURL string   `json:"discover_url"`
	Counties    string   `json:"counties"`
	OutDir      string   `json:"out_dir"`
	FilePattern string   `json:"file_pattern"`
	Workers     int      `json:"workers"`
	MaxAttempts int      `json:"max_attempts"`
	Timeout     Duration `json:"timeout"`
	UserAgent   string   `json:"user_agent"`
}

// Duration decodes JSON strings like "60s" into a time.Duration.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n float64
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return fmt.Errorf("duration: %w", err)
		}
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// Load reads an optional .env file, decodes the pipeline JSON at path, applies
// defaults and expands ${VAR} references in paths and the audit DSN.
func Load(path string) (Pipeline, error) {
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var p Pipeline
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}

	p.ApplyDefaults()
	p.ExpandEnv()
	return p, nil
}

// ApplyDefaults fills unset fields with the documented defaults.
func (p *Pipeline) ApplyDefaults() {
	if p.Job == "" {
		p.Job = "votermatch"
	}
	if p.Candidates.Dir == "" {
		p.Candidates.Dir = DefaultCandidatesDir
	}
	if p.Candidates.Pattern == "" {
		p.Candidates.Pattern = DefaultCandidatesPattern
	}
	if p.Target.Path == "" {
		p.Target.Path = DefaultTargetPath
	}
	if p.Output.Path == "" {
		p.Output.Path = DefaultOutputPath
	}
	if p.Output.Column == "" {
		p.Output.Column = DefaultOutputColumn
	}
	if p.Match.TieBreak == "" {
		p.Match.TieBreak = TieBreakMinID
	}
	if p.Match.MinBirthYear == 0 {
		p.Match.MinBirthYear = DefaultMinBirthYear
	}
	if p.Audit.Table == "" {
		p.Audit.Table = DefaultAuditTable
	}
	if p.Audit.BatchSize <= 0 {
		p.Audit.BatchSize = DefaultAuditBatchSize
	}
	if p.Fetch.BaseURL == "" {
		p.Fetch.BaseURL = DefaultFetchBaseURL
	}
	if p.Fetch.Counties == "" {
		p.Fetch.Counties = DefaultFetchCounties
	}
	if p.Fetch.OutDir == "" {
		p.Fetch.OutDir = p.Candidates.Dir
	}
	if p.Fetch.FilePattern == "" {
		p.Fetch.FilePattern = DefaultFetchFilePattern
	}
	if p.Runtime.ChannelBuffer <= 0 {
		p.Runtime.ChannelBuffer = 256
	}
	if p.Runtime.CanonicalizeWorkers <= 0 {
		p.Runtime.CanonicalizeWorkers = 2
	}
	if p.Fetch.Workers <= 0 {
		p.Fetch.Workers = 2
	}
	if p.Fetch.MaxAttempts <= 0 {
		p.Fetch.MaxAttempts = 8
	}
	if p.Fetch.Timeout.Duration <= 0 {
		p.Fetch.Timeout.Duration = 120 * time.Second
	}
}

// ExpandEnv expands $VAR and ${VAR} in filesystem paths and the audit DSN.
func (p *Pipeline) ExpandEnv() {
	p.Candidates.Dir = os.ExpandEnv(p.Candidates.Dir)
	p.Target.Path = os.ExpandEnv(p.Target.Path)
	p.Output.Path = os.ExpandEnv(p.Output.Path)
	p.Audit.DSN = os.ExpandEnv(p.Audit.DSN)
	p.Fetch.OutDir = os.ExpandEnv(p.Fetch.OutDir)
	p.Fetch.BaseURL = os.ExpandEnv(p.Fetch.BaseURL)
	p.Fetch.DiscoverURL = os.ExpandEnv(p.Fetch.DiscoverURL)
}

// MaxYear resolves the effective upper bound for plausible birth years.
func (m Match) MaxYear(now time.Time) int {
	if m.MaxBirthYear > 0 {
		return m.MaxBirthYear
	}
	return now.Year()
}
