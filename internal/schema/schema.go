// Package schema maps raw source rows onto records.Candidate and
// records.Target. It is the only package that knows source column names.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"votermatch/internal/parser/csv"
	"votermatch/internal/records"
	"votermatch/internal/transformer"
)

// ErrMissingColumn is wrapped by *Error when a source lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// Error names the source and the required columns it lacks.
type Error struct {
	Source  string
	Missing []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("schema: %s: %v: %s", e.Source, ErrMissingColumn, strings.Join(e.Missing, ", "))
}

func (e *Error) Unwrap() error { return ErrMissingColumn }

// CandidateColumns is the column order candidate rows are streamed in.
var CandidateColumns = []string{
	"SOS_VOTERID",
	"FIRST_NAME",
	"LAST_NAME",
	"DATE_OF_BIRTH",
	"RESIDENTIAL_ADDRESS1",
	"RESIDENTIAL_CITY",
	"RESIDENTIAL_STATE",
	"RESIDENTIAL_ZIP",
}

const (
	candID = iota
	candFirst
	candLast
	candDOB
	candAddress
	candCity
	candState
	candZip
)

// TargetColumns are the columns a target roster must carry. Any other
// columns are passed through untouched.
var TargetColumns = []string{"name", "birth_year", "address", "city", "state", "zip"}

const (
	tgtName = iota
	tgtBirthYear
	tgtAddress
	tgtCity
	tgtState
	tgtZip
)

// ErrEmptyID rejects a candidate row without an external id.
var ErrEmptyID = errors.New("empty SOS_VOTERID")

// Stats counts per-record degradations. Safe for concurrent use.
type Stats struct {
	BirthYearMissing  atomic.Int64
	BirthYearUnparsed atomic.Int64
}

// Normalizer turns parsed rows into records, counting degradations in Stats.
type Normalizer struct {
	Stats Stats
}

// SourceError converts a parser *csv.MissingColumnsError into a schema *Error
// for source. Other errors are returned unchanged.
func SourceError(source string, err error) error {
	var mc *csv.MissingColumnsError
	if errors.As(err, &mc) {
		return &Error{Source: source, Missing: mc.Missing}
	}
	return err
}

// Candidate maps a row streamed with CandidateColumns. The returned record is
// not canonicalized; Name is "FIRST LAST" as found in the source.
func (n *Normalizer) Candidate(r *transformer.Row) (records.Candidate, error) {
	v := r.V
	if len(v) != len(CandidateColumns) {
		return records.Candidate{}, fmt.Errorf("row has %d cells, want %d", len(v), len(CandidateColumns))
	}
	if strings.TrimSpace(v[candID]) == "" {
		return records.Candidate{}, ErrEmptyID
	}
	return records.Candidate{
		ExternalID: v[candID],
		Fields: records.Fields{
			Name:      joinName(v[candFirst], v[candLast]),
			BirthYear: n.birthYear(v[candDOB]),
			Address:   v[candAddress],
			City:      v[candCity],
			State:     v[candState],
			Zip:       v[candZip],
		},
	}, nil
}

// Targets maps every row of t to a records.Target whose Row is the row's
// index in t. It fails with *Error before producing anything if t lacks a
// required column.
func (n *Normalizer) Targets(source string, t records.Table, headerMap map[string]string) ([]records.Target, error) {
	ix, err := csv.Columns(t, TargetColumns, headerMap)
	if err != nil {
		return nil, SourceError(source, err)
	}

	out := make([]records.Target, len(t.Rows))
	for i, row := range t.Rows {
		cell := func(c int) string {
			if ix[c] < len(row) {
				return row[ix[c]]
			}
			return ""
		}
		out[i] = records.Target{
			Row: i,
			Fields: records.Fields{
				Name:      cell(tgtName),
				BirthYear: n.birthYear(cell(tgtBirthYear)),
				Address:   cell(tgtAddress),
				City:      cell(tgtCity),
				State:     cell(tgtState),
				Zip:       cell(tgtZip),
			},
		}
	}
	return out, nil
}

func (n *Normalizer) birthYear(s string) int {
	if strings.TrimSpace(s) == "" {
		n.Stats.BirthYearMissing.Add(1)
		return records.UnknownBirthYear
	}
	y, ok := ParseBirthYear(s)
	if !ok {
		n.Stats.BirthYearUnparsed.Add(1)
		return records.UnknownBirthYear
	}
	return y
}

func joinName(first, last string) string {
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}
