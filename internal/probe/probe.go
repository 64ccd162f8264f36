// Package probe samples a candidate extract or target roster and reports
// whether a run could read it: detected delimiter and encoding, which required
// columns resolve (directly or through a suggested header_map), how full they
// are, and how many birth dates parse.
//
// Sampling is bounded by Options.MaxBytes and inference is best-effort; only
// I/O errors and an unreadable header fail a probe.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"votermatch/internal/config"
	"votermatch/internal/parser/csv"
	"votermatch/internal/schema"
)

// Role selects the required column set.
type Role string

const (
	RoleCandidates Role = "candidates"
	RoleTarget     Role = "target"
)

// DefaultMaxBytes is the sample size when Options.MaxBytes is unset.
const DefaultMaxBytes = 64 << 10

// Options control sampling.
type Options struct {
	Role     Role
	MaxBytes int
	// Delimiter forces the field separator; zero detects it.
	Delimiter rune
}

// Column describes how one required column resolved.
type Column struct {
	Required string  `json:"required"`
	Source   string  `json:"source,omitempty"`
	Via      string  `json:"via,omitempty"` // "header" or "alias"
	Filled   float64 `json:"filled"`        // share of sample rows with a value
}

// Report is the outcome of one probe.
type Report struct {
	Path       string            `json:"path,omitempty"`
	Role       Role              `json:"role"`
	Delimiter  string            `json:"delimiter"`
	Encoding   string            `json:"encoding"`
	Headers    []string          `json:"headers"`
	SampleRows int               `json:"sample_rows"`
	Columns    []Column          `json:"columns"`
	Missing    []string          `json:"missing,omitempty"`
	HeaderMap  map[string]string `json:"header_map,omitempty"`
	// BirthYearParsed is the share of non-empty birth cells ParseBirthYear accepts.
	BirthYearParsed float64 `json:"birth_year_parsed"`
}

// OK reports whether every required column resolved.
func (r Report) OK() bool { return len(r.Missing) == 0 }

// ParserOptions renders the parser settings a pipeline config needs to read
// the probed file.
func (r Report) ParserOptions() config.Options {
	o := config.Options{}
	if r.Delimiter != "," {
		o["comma"] = r.Delimiter
	}
	if r.Encoding == "windows-1252" {
		o["encoding"] = r.Encoding
	}
	if len(r.HeaderMap) > 0 {
		hm := make(map[string]any, len(r.HeaderMap))
		for k, v := range r.HeaderMap {
			hm[k] = v
		}
		o["header_map"] = hm
	}
	return o
}

// File probes the first opt.MaxBytes of path.
func File(ctx context.Context, path string, opt Options) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("probe: %w", err)
	}
	defer f.Close()

	n := opt.MaxBytes
	if n <= 0 {
		n = DefaultMaxBytes
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(f, int64(n))); err != nil {
		return Report{}, fmt.Errorf("probe: read %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	rep, err := Sample(buf.Bytes(), opt)
	rep.Path = path
	return rep, err
}

// Sample probes an in-memory prefix of a file.
func Sample(b []byte, opt Options) (Report, error) {
	role := opt.Role
	if role == "" {
		role = RoleCandidates
	}
	required, birthCol, err := requiredFor(role)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Role: role, Encoding: "utf-8"}

	// Cut at the last newline so a truncated record is not judged.
	if i := bytes.LastIndexByte(b, '\n'); i > 0 {
		b = b[:i+1]
	}
	if bytes.HasPrefix(b, []byte("\xEF\xBB\xBF")) {
		b = b[3:]
		rep.Encoding = "utf-8-bom"
	}
	if !utf8.Valid(b) {
		dec, err := charmap.Windows1252.NewDecoder().Bytes(b)
		if err == nil {
			b = dec
			rep.Encoding = "windows-1252"
		}
	}

	delim := opt.Delimiter
	if delim == 0 {
		delim = detectDelimiter(b)
	}
	rep.Delimiter = string(delim)

	headers, rows, err := readSample(b, delim)
	if err != nil {
		return rep, fmt.Errorf("probe: read header: %w", err)
	}
	rep.Headers = headers
	rep.SampleRows = len(rows)

	resolved := resolveColumns(headers, required, aliasesFor(role))
	for _, rc := range resolved {
		col := Column{Required: rc.required}
		if rc.index < 0 {
			rep.Missing = append(rep.Missing, rc.required)
			rep.Columns = append(rep.Columns, col)
			continue
		}
		col.Source = headers[rc.index]
		col.Via = rc.via
		col.Filled = filled(rows, rc.index)
		if rc.via == "alias" {
			if rep.HeaderMap == nil {
				rep.HeaderMap = map[string]string{}
			}
			rep.HeaderMap[headers[rc.index]] = rc.required
		}
		if rc.required == birthCol {
			rep.BirthYearParsed = birthYearRate(rows, rc.index)
		}
		rep.Columns = append(rep.Columns, col)
	}
	return rep, nil
}

func requiredFor(role Role) (cols []string, birthCol string, err error) {
	switch role {
	case RoleCandidates:
		return schema.CandidateColumns, "DATE_OF_BIRTH", nil
	case RoleTarget:
		return schema.TargetColumns, "birth_year", nil
	default:
		return nil, "", fmt.Errorf("probe: unknown role %q", role)
	}
}

type resolvedColumn struct {
	required string
	index    int
	via      string
}

// resolveColumns finds each required column first by normalized header name,
// then through the alias table. A header cell is claimed at most once.
func resolveColumns(headers, required []string, aliases map[string][]string) []resolvedColumn {
	norm := make([]string, len(headers))
	for i, h := range headers {
		norm[i] = csv.NormalizeHeader(h)
	}
	claimed := make([]bool, len(headers))
	find := func(name string) int {
		for i, n := range norm {
			if !claimed[i] && n == name {
				return i
			}
		}
		return -1
	}

	out := make([]resolvedColumn, len(required))
	for i, req := range required {
		out[i] = resolvedColumn{required: req, index: -1}
		if ix := find(csv.NormalizeHeader(req)); ix >= 0 {
			claimed[ix] = true
			out[i].index, out[i].via = ix, "header"
		}
	}
	for i, req := range required {
		if out[i].index >= 0 {
			continue
		}
		for _, alias := range aliases[req] {
			if ix := find(alias); ix >= 0 {
				claimed[ix] = true
				out[i].index, out[i].via = ix, "alias"
				break
			}
		}
	}
	return out
}

func filled(rows [][]string, col int) float64 {
	if len(rows) == 0 {
		return 0
	}
	n := 0
	for _, r := range rows {
		if col < len(r) && strings.TrimSpace(r[col]) != "" {
			n++
		}
	}
	return float64(n) / float64(len(rows))
}

func birthYearRate(rows [][]string, col int) float64 {
	seen, ok := 0, 0
	for _, r := range rows {
		if col >= len(r) || strings.TrimSpace(r[col]) == "" {
			continue
		}
		seen++
		if _, good := schema.ParseBirthYear(r[col]); good {
			ok++
		}
	}
	if seen == 0 {
		return 0
	}
	return float64(ok) / float64(seen)
}

// Text renders a human-readable summary.
func (r Report) Text() string {
	var b strings.Builder
	if r.Path != "" {
		fmt.Fprintf(&b, "file: %s\n", r.Path)
	}
	fmt.Fprintf(&b, "role: %s\ndelimiter: %q\nencoding: %s\nsample_rows: %d\n", r.Role, r.Delimiter, r.Encoding, r.SampleRows)
	for _, c := range r.Columns {
		if c.Source == "" {
			fmt.Fprintf(&b, "  %-22s MISSING\n", c.Required)
			continue
		}
		fmt.Fprintf(&b, "  %-22s <- %-24q %-6s filled=%.0f%%\n", c.Required, c.Source, c.Via, c.Filled*100)
	}
	fmt.Fprintf(&b, "birth_year_parsed: %.0f%%\n", r.BirthYearParsed*100)
	if len(r.HeaderMap) > 0 {
		keys := make([]string, 0, len(r.HeaderMap))
		for k := range r.HeaderMap {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("suggested header_map:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %q: %q\n", k, r.HeaderMap[k])
		}
	}
	return b.String()
}
