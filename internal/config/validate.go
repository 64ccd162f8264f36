package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a dotted JSON path into the config.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline checks a defaulted pipeline for settings the run cannot
// recover from. It does not touch the filesystem.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Candidates.Dir) == "" {
		add(SeverityError, "candidates.dir", "must be set")
	}
	if _, err := filepath.Match(p.Candidates.Pattern, "probe"); err != nil {
		add(SeverityError, "candidates.pattern", "invalid glob %q: %v", p.Candidates.Pattern, err)
	}
	if strings.TrimSpace(p.Target.Path) == "" {
		add(SeverityError, "target.path", "must be set")
	}
	if strings.TrimSpace(p.Output.Path) == "" {
		add(SeverityError, "output.path", "must be set")
	}
	if p.Output.Path != "" && filepath.Clean(p.Output.Path) == filepath.Clean(p.Target.Path) {
		add(SeverityError, "output.path", "must differ from target.path")
	}

	switch strings.ToLower(p.Target.Parser.String("format", "")) {
	case "", "csv", "json":
	default:
		add(SeverityError, "target.parser.format", "unsupported format %q (want csv or json)", p.Target.Parser.String("format", ""))
	}

	switch strings.ToLower(p.Output.Format) {
	case "", FormatCSV, FormatXLSX:
	default:
		add(SeverityError, "output.format", "unsupported format %q (want csv or xlsx)", p.Output.Format)
	}
	if len([]rune(p.Output.Comma)) > 1 {
		add(SeverityError, "output.comma", "must be a single character, got %q", p.Output.Comma)
	}

	// Shards written next to the output would be re-read as candidates on the next run.
	if p.Candidates.Dir != "" && p.Output.Path != "" {
		if filepath.Clean(filepath.Dir(p.Output.Path)) == filepath.Clean(p.Candidates.Dir) {
			if ok, _ := filepath.Match(p.Candidates.Pattern, filepath.Base(p.Output.Path)); ok {
				add(SeverityError, "output.path", "matches candidates.pattern inside candidates.dir")
			}
		}
	}

	switch p.Match.TieBreak {
	case TieBreakMinID, TieBreakMaxID, TieBreakPreferAddress:
	default:
		add(SeverityError, "match.tie_break", "unknown policy %q", p.Match.TieBreak)
	}
	if p.Match.MaxBirthYear != 0 && p.Match.MaxBirthYear < p.Match.MinBirthYear {
		add(SeverityError, "match.max_birth_year", "must be >= min_birth_year (%d)", p.Match.MinBirthYear)
	}
	if p.Match.MatchUnknownBirthYear {
		add(SeverityWarning, "match.match_unknown_birth_year", "records without a birth year will match on name alone")
	}

	switch p.Audit.Kind {
	case "", "none":
	case "postgres", "sqlite", "mssql":
		if strings.TrimSpace(p.Audit.DSN) == "" {
			add(SeverityError, "audit.dsn", "must be set when audit.kind=%s", p.Audit.Kind)
		}
		if !isSafeIdent(p.Audit.Table) {
			add(SeverityError, "audit.table", "invalid table name %q", p.Audit.Table)
		}
	default:
		add(SeverityError, "audit.kind", "unsupported backend %q", p.Audit.Kind)
	}

	return issues
}

// isSafeIdent accepts [A-Za-z_][A-Za-z0-9_]* optionally qualified by one schema prefix.
func isSafeIdent(s string) bool {
	if s == "" {
		return false
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for i, r := range p {
			switch {
			case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9' && i > 0:
			default:
				return false
			}
		}
	}
	return true
}
