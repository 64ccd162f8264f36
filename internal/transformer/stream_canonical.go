package transformer

import (
	"context"

	"votermatch/internal/records"
)

// NormalizeFunc turns one parsed row into a candidate record. A non-nil error
// rejects the row; its message becomes the reject reason.
type NormalizeFunc func(r *Row) (records.Candidate, error)

// CanonicalizeLoop is the candidate stage between the CSV parser and the
// match index: every row is normalized, canonicalized, freed and the record
// forwarded on out. Rows that fail normalization are reported through
// onReject and freed.
//
// The loop runs until in is closed. On ctx cancellation remaining rows are
// drained and dropped so the producer never blocks.
func CanonicalizeLoop(
	ctx context.Context,
	in <-chan *Row,
	out chan<- records.Candidate,
	normalize NormalizeFunc,
	canon Canonicalizer,
	onReject func(line int, reason string),
) {
	for r := range in {
		select {
		case <-ctx.Done():
			if r != nil {
				r.Drop()
			}
			continue
		default:
		}
		if r == nil {
			continue
		}

		cand, err := normalize(r)
		line := r.Line
		r.Free()
		if err != nil {
			if onReject != nil {
				onReject(line, err.Error())
			}
			continue
		}

		select {
		case out <- canon.Candidate(cand):
		case <-ctx.Done():
		}
	}
}
