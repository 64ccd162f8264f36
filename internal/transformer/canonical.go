package transformer

import (
	"strings"

	"votermatch/internal/records"
	"votermatch/internal/transformer/builtin"
)

// Canonicalizer applies the shared canonical rules to target and candidate
// fields. The zero value upper-cases and collapses whitespace but neither
// folds diacritics nor range-checks birth years.
//
// Rules, in order, for every text field:
//
//	upper-case -> fold diacritics (optional) -> collapse whitespace
//
// then, per field:
//
//	Name     strip single-character middle tokens
//	Address  abbreviate street suffixes on word boundaries
//	BirthYear outside [MinYear, MaxYear] becomes records.UnknownBirthYear
//
// Every rule is idempotent, so canonicalizing canonical fields is a no-op.
type Canonicalizer struct {
	FoldDiacritics bool
	// MinYear and MaxYear bound plausible birth years. Zero disables that side.
	MinYear int
	MaxYear int
}

// Fields returns the canonical form of f. f is not modified.
func (c Canonicalizer) Fields(f records.Fields) records.Fields {
	return records.Fields{
		Name:      builtin.StripMiddleInitials(c.text(f.Name)),
		BirthYear: c.year(f.BirthYear),
		Address:   builtin.AbbreviateAddress(c.text(f.Address)),
		City:      c.text(f.City),
		State:     c.text(f.State),
		Zip:       builtin.CollapseSpace(f.Zip),
	}
}

// Target returns a canonicalized copy of t; the row position is carried over.
func (c Canonicalizer) Target(t records.Target) records.Target {
	return records.Target{Row: t.Row, Fields: c.Fields(t.Fields)}
}

// Candidate returns a canonicalized copy of cand. The external id is only
// edge-trimmed; its case is significant to the source system.
func (c Canonicalizer) Candidate(cand records.Candidate) records.Candidate {
	id := cand.ExternalID
	if builtin.HasEdgeSpace(id) {
		id = strings.TrimSpace(id)
	}
	return records.Candidate{ExternalID: id, Fields: c.Fields(cand.Fields)}
}

func (c Canonicalizer) text(s string) string {
	if s == "" {
		return s
	}
	s = builtin.Upper(s)
	if c.FoldDiacritics {
		s = builtin.FoldDiacritics(s)
	}
	return builtin.CollapseSpace(s)
}

func (c Canonicalizer) year(y int) int {
	if y == records.UnknownBirthYear {
		return y
	}
	if c.MinYear != 0 && y < c.MinYear {
		return records.UnknownBirthYear
	}
	if c.MaxYear != 0 && y > c.MaxYear {
		return records.UnknownBirthYear
	}
	return y
}
