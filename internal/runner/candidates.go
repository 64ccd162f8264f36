package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"votermatch/internal/config"
	"votermatch/internal/match"
	"votermatch/internal/parser/csv"
	"votermatch/internal/records"
	"votermatch/internal/schema"
	"votermatch/internal/transformer"
)

type candidateStats struct {
	files    int
	rejected int64
}

// candidateFiles returns the regular files in dir matching pattern, sorted
// so shard order is stable across runs.
func candidateFiles(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("candidates glob: %w", err)
	}
	out := matches[:0]
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no candidate files match %s", filepath.Join(dir, pattern))
	}
	sort.Strings(out)
	return out, nil
}

// loadCandidates streams every shard through:
//
//	reader -> rawCh -> CanonicalizeLoop x N -> candCh -> index
//
// Malformed or id-less rows are skipped and counted. A shard that cannot be
// opened or lacks a required column aborts the whole stage.
func (r *Runner) loadCandidates(
	ctx context.Context,
	p config.Pipeline,
	norm *schema.Normalizer,
	canon transformer.Canonicalizer,
	ix *match.Index,
) (candidateStats, error) {
	logf := r.logger()

	files, err := candidateFiles(p.Candidates.Dir, p.Candidates.Pattern)
	if err != nil {
		return candidateStats{}, err
	}
	st := candidateStats{files: len(files)}

	buf := p.Runtime.ChannelBuffer
	if buf <= 0 {
		buf = 256
	}
	workers := p.Runtime.CanonicalizeWorkers
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		rejected  atomic.Int64
		fatalOnce sync.Once
		fatalErr  error
	)
	fail := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}
	// Parse errors know their shard; normalization rejects arrive after
	// the row has left the reader and carry only the line.
	reject := func(source string, line int, reason string) {
		n := rejected.Add(1)
		if n > maxLoggedRejects {
			return
		}
		if source == "" {
			logf("stage=%s line=%d reject=%q", StepReadCandidates, line, reason)
			return
		}
		logf("stage=%s file=%s line=%d reject=%q", StepReadCandidates, filepath.Base(source), line, reason)
	}

	rawCh := make(chan *transformer.Row, buf)
	candCh := make(chan records.Candidate, buf)

	var wgReader sync.WaitGroup
	wgReader.Add(1)
	go func() {
		defer wgReader.Done()
		defer close(rawCh)

		for _, path := range files {
			if ctx.Err() != nil {
				return
			}
			f, err := os.Open(path)
			if err != nil {
				fail(fmt.Errorf("open candidates: %w", err))
				return
			}
			err = csv.StreamCSVRows(ctx, f, schema.CandidateColumns, p.Candidates.Parser, rawCh,
				func(line int, err error) { reject(path, line, err.Error()) })
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				fail(schema.SourceError(path, err))
				return
			}
		}
	}()

	var wgWorkers sync.WaitGroup
	wgWorkers.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wgWorkers.Done()
			transformer.CanonicalizeLoop(ctx, rawCh, candCh, norm.Candidate, canon,
				func(line int, reason string) { reject("", line, reason) })
		}()
	}
	go func() {
		wgWorkers.Wait()
		close(candCh)
	}()

	for c := range candCh {
		ix.AddCandidate(c)
	}
	wgReader.Wait()

	st.rejected = rejected.Load()
	if fatalErr != nil {
		return st, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return st, err
	}
	return st, nil
}
