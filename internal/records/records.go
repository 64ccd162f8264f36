// Package records holds the canonical record types shared by the matching
// stages. Raw source column names never leave the schema package; everything
// downstream works on these fixed fields.
package records

import "strconv"

// UnknownBirthYear marks an absent or unparseable birth year.
const UnknownBirthYear = 0

// Fields are the canonical attributes shared by targets and candidates.
type Fields struct {
	Name      string
	BirthYear int
	Address   string
	City      string
	State     string
	Zip       string
}

// Key returns the join key for the record.
func (f Fields) Key() Key {
	return Key{Name: f.Name, BirthYear: f.BirthYear}
}

// Target is one row of the roster being enriched. Row is its 0-based position
// in the input and is the only identity used for write-back.
type Target struct {
	Row int
	Fields
}

// Candidate is one row of an aggregated external extract.
type Candidate struct {
	ExternalID string
	Fields
}

// Key is the (name, birth year) pair used to group records.
type Key struct {
	Name      string
	BirthYear int
}

// HasUnknownYear reports whether the key carries the sentinel year.
func (k Key) HasUnknownYear() bool { return k.BirthYear == UnknownBirthYear }

func (k Key) String() string {
	return k.Name + "|" + strconv.Itoa(k.BirthYear)
}

// Table is a raw delimited table kept verbatim for write-back.
type Table struct {
	Header []string
	Rows   [][]string
}

// Width returns the number of header columns.
func (t Table) Width() int { return len(t.Header) }
