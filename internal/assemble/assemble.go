// Package assemble joins match resolutions back onto the raw target table and
// writes the augmented roster.
package assemble

import (
	"fmt"
	"strings"

	"votermatch/internal/match"
	"votermatch/internal/parser/csv"
	"votermatch/internal/records"
)

// Join returns a copy of t with column holding each row's matched id. If t
// already has a column whose normalized name equals column it is overwritten
// in place; otherwise column is appended. Rows are kept in input order and
// padded to the header width. t is not modified.
//
// Every resolution must refer to a row of t; a row with no resolution gets
// an empty id.
func Join(t records.Table, rs []match.Resolution, column string) (records.Table, error) {
	if strings.TrimSpace(column) == "" {
		return records.Table{}, fmt.Errorf("assemble: empty output column name")
	}

	ids := make([]string, len(t.Rows))
	for _, r := range rs {
		if r.Row < 0 || r.Row >= len(t.Rows) {
			return records.Table{}, fmt.Errorf("assemble: resolution for row %d outside table of %d rows", r.Row, len(t.Rows))
		}
		ids[r.Row] = r.MatchedID
	}

	col := -1
	want := csv.NormalizeHeader(column)
	for i, h := range t.Header {
		if csv.NormalizeHeader(h) == want {
			col = i
			break
		}
	}

	header := append([]string(nil), t.Header...)
	if col < 0 {
		col = len(header)
		header = append(header, column)
	}

	out := records.Table{Header: header, Rows: make([][]string, len(t.Rows))}
	for i, src := range t.Rows {
		row := make([]string, len(header))
		copy(row, src)
		row[col] = ids[i]
		out.Rows[i] = row
	}
	return out, nil
}
