// Package runner wires one matching run end to end: stream candidate shards
// into the match index, read and canonicalize the target roster, resolve,
// write the augmented roster and, when configured, persist the audit trail.
package runner

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"votermatch/internal/assemble"
	"votermatch/internal/config"
	"votermatch/internal/match"
	"votermatch/internal/metrics"
	"votermatch/internal/parser/csv"
	jsonparser "votermatch/internal/parser/json"
	"votermatch/internal/records"
	"votermatch/internal/schema"
	"votermatch/internal/storage"
	"votermatch/internal/transformer"
)

// Logger is the minimal logging interface used by the runner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Step names reported to metrics and logs.
const (
	StepReadCandidates = "read_candidates"
	StepReadTarget     = "read_target"
	StepCanonicalize   = "canonicalize"
	StepResolve        = "resolve"
	StepWriteOutput    = "write_output"
	StepAudit          = "audit"
)

// maxLoggedRejects caps per-row reject lines; the total is always reported.
const maxLoggedRejects = 20

// Runner executes pipelines. The zero value logs nowhere, connects audit
// backends through storage.New and uses random run ids.
type Runner struct {
	Logger Logger

	// NewAuditRepo is the storage seam; nil means storage.New.
	NewAuditRepo func(ctx context.Context, cfg storage.Config) (storage.AuditRepository, error)
	// NewRunID returns the id stamped on audit rows; nil means uuid.NewString.
	NewRunID func() string
	// Now is the run clock; nil means time.Now.
	Now func() time.Time
}

// Report summarizes a completed run.
type Report struct {
	RunID          string
	CandidateFiles int
	Candidates     int
	Rejected       int64
	Summary        match.Summary

	// Birth-year degradations seen while normalizing each side.
	CandidateBirthYearMissing  int64
	CandidateBirthYearUnparsed int64
	TargetBirthYearMissing     int64
	TargetBirthYearUnparsed    int64

	OutputPath string
	AuditRows  int64
}

// Run executes p, which must already have defaults applied. Nothing is
// written if any stage before write_output fails.
func (r *Runner) Run(ctx context.Context, p config.Pipeline) (Report, error) {
	logf := r.logger()
	now := r.now()
	rep := Report{RunID: r.runID(), OutputPath: p.Output.Path}

	tb, err := match.ParseTieBreak(p.Match.TieBreak)
	if err != nil {
		return rep, err
	}
	ix := match.NewIndex(match.Options{
		TieBreak:              tb,
		MatchUnknownBirthYear: p.Match.MatchUnknownBirthYear,
	})
	canon := transformer.Canonicalizer{
		FoldDiacritics: p.Match.FoldDiacriticsEnabled(),
		MinYear:        p.Match.MinBirthYear,
		MaxYear:        p.Match.MaxYear(now),
	}
	logf("stage=start run_id=%s job=%s tie_break=%s fold_diacritics=%t years=%d-%d",
		rep.RunID, p.Job, p.Match.TieBreak, canon.FoldDiacritics, canon.MinYear, canon.MaxYear)

	var candNorm, targetNorm schema.Normalizer

	err = r.step(p.Job, StepReadCandidates, func() error {
		st, err := r.loadCandidates(ctx, p, &candNorm, canon, ix)
		rep.CandidateFiles = st.files
		rep.Rejected = st.rejected
		return err
	})
	rep.Candidates = ix.Candidates()
	rep.CandidateBirthYearMissing = candNorm.Stats.BirthYearMissing.Load()
	rep.CandidateBirthYearUnparsed = candNorm.Stats.BirthYearUnparsed.Load()
	metrics.RecordRecords(p.Job, "candidates", rep.Candidates)
	metrics.RecordRecords(p.Job, "candidate_rows_rejected", int(rep.Rejected))
	if err != nil {
		return rep, err
	}
	logf("stage=%s files=%d candidates=%d rejected=%d birth_year_missing=%d birth_year_unparsed=%d",
		StepReadCandidates, rep.CandidateFiles, rep.Candidates, rep.Rejected,
		rep.CandidateBirthYearMissing, rep.CandidateBirthYearUnparsed)

	var (
		table   records.Table
		targets []records.Target
	)
	err = r.step(p.Job, StepReadTarget, func() error {
		var err error
		table, targets, err = readTargets(ctx, p.Target, &targetNorm)
		return err
	})
	if err != nil {
		return rep, err
	}
	rep.TargetBirthYearMissing = targetNorm.Stats.BirthYearMissing.Load()
	rep.TargetBirthYearUnparsed = targetNorm.Stats.BirthYearUnparsed.Load()
	metrics.RecordRecords(p.Job, "targets", len(targets))

	_ = r.step(p.Job, StepCanonicalize, func() error {
		for _, t := range targets {
			ix.AddTarget(canon.Target(t))
		}
		return nil
	})

	var rs []match.Resolution
	_ = r.step(p.Job, StepResolve, func() error {
		rs = ix.Resolve()
		return nil
	})
	rep.Summary = match.Summarize(rs)
	for _, res := range rs {
		if res.Status == match.Ambiguous {
			logf("stage=%s row=%d ambiguous candidates=%s chosen=%s",
				StepResolve, res.Row, strings.Join(res.CandidateIDs, ","), res.MatchedID)
		}
	}
	metrics.RecordRecords(p.Job, "matched", rep.Summary.Matched)
	metrics.RecordRecords(p.Job, "ambiguous", rep.Summary.Ambiguous)
	metrics.RecordRecords(p.Job, "unmatched", rep.Summary.Unmatched)
	metrics.RecordRecords(p.Job, "ineligible", rep.Summary.Ineligible)

	err = r.step(p.Job, StepWriteOutput, func() error {
		out, err := assemble.Join(table, rs, p.Output.Column)
		if err != nil {
			return err
		}
		return assemble.WriteFile(ctx, p.Output.Path, out, assemble.Options{
			Format: p.Output.Format,
			Comma:  outputComma(p.Output.Comma),
		})
	})
	if err != nil {
		return rep, err
	}

	if p.Audit.Enabled() {
		err = r.step(p.Job, StepAudit, func() error {
			n, err := r.writeAudit(ctx, p, rep.RunID, rs, now)
			rep.AuditRows = n
			return err
		})
		if err != nil {
			return rep, err
		}
	}

	s := rep.Summary
	logf("stage=summary run_id=%s targets=%d candidates=%d matched=%d ambiguous=%d unmatched=%d ineligible=%d rejected=%d output=%s",
		rep.RunID, s.Targets, rep.Candidates, s.Matched, s.Ambiguous, s.Unmatched, s.Ineligible, rep.Rejected, rep.OutputPath)
	return rep, nil
}

// step times fn, records it under name and logs the outcome.
func (r *Runner) step(job, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)
	metrics.RecordStep(job, name, err, d)
	if err != nil {
		r.logger()("stage=%s error=%q duration=%s", name, err.Error(), d.Truncate(time.Millisecond))
		return fmt.Errorf("%s: %w", name, err)
	}
	r.logger()("stage=%s ok duration=%s", name, d.Truncate(time.Millisecond))
	return nil
}

// readTargets loads the roster verbatim and maps it to target records whose
// Row indexes back into the returned table.
func readTargets(ctx context.Context, t config.Target, norm *schema.Normalizer) (records.Table, []records.Target, error) {
	f, err := os.Open(t.Path)
	if err != nil {
		return records.Table{}, nil, fmt.Errorf("open target: %w", err)
	}
	read := csv.ReadTable
	if targetFormat(t) == "json" {
		read = jsonparser.ReadTable
	}
	table, err := read(ctx, f, t.Parser)
	if err != nil {
		return records.Table{}, nil, fmt.Errorf("read target %s: %w", t.Path, err)
	}
	targets, err := norm.Targets(t.Path, table, t.Parser.StringMap("header_map"))
	if err != nil {
		return records.Table{}, nil, err
	}
	return table, targets, nil
}

// targetFormat returns the roster format: parser option "format" when set,
// otherwise inferred from the file extension.
func targetFormat(t config.Target) string {
	if f := strings.ToLower(t.Parser.String("format", "")); f != "" {
		return f
	}
	switch strings.ToLower(filepath.Ext(t.Path)) {
	case ".json", ".jsonl", ".ndjson":
		return "json"
	}
	return "csv"
}

func outputComma(s string) rune {
	for _, r := range s {
		return r
	}
	return ','
}

func (r *Runner) logger() func(format string, v ...any) {
	if r.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return r.Logger.Printf
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) runID() string {
	if r.NewRunID != nil {
		return r.NewRunID()
	}
	return uuid.NewString()
}
