// Package transformer holds the row plumbing shared by the parser and the
// normalizer, plus the field canonicalizer that runs between schema
// normalization and match resolution.
package transformer

import "sync"

// Row is a pooled positional row of text cells produced by the CSV parser.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time; sending it on a channel
//     transfers ownership.
//   - The final consumer calls Free() once it no longer reads r.V.
//   - Cancellation paths call Drop() instead, so a row that may still be
//     observed downstream is never handed back to the pool.
type Row struct {
	V    []string
	Line int // 1-based physical record number in the source, header included
}

var rowPool sync.Pool

// GetRow returns a pooled Row with len(V) == colCount and all cells empty.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]string, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = ""
		}
		r.Line = 0
		return r
	}
	return &Row{V: make([]string, colCount)}
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row without re-pooling it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}
