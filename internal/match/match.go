// Package match resolves target rows to candidate external ids by exact
// equality of the canonical (name, birth year) key.
//
// Targets and candidates are pooled by key. A key group is contested when it
// holds two or more members; each target in a contested group that also holds
// a candidate receives exactly one id, chosen by a TieBreak policy when the
// group carries more than one distinct id. Singleton groups never match.
package match

import (
	"fmt"
	"sort"

	"votermatch/internal/records"
)

// Status is the outcome for one target row.
type Status int

const (
	Unmatched Status = iota
	Matched
	Ambiguous
	Ineligible
)

func (s Status) String() string {
	switch s {
	case Unmatched:
		return "unmatched"
	case Matched:
		return "matched"
	case Ambiguous:
		return "ambiguous"
	case Ineligible:
		return "ineligible"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Resolution is the decision for one target. MatchedID is empty unless
// Status is Matched or Ambiguous. CandidateIDs lists the distinct ids in the
// target's group in ascending order.
type Resolution struct {
	Row          int
	Key          records.Key
	MatchedID    string
	Status       Status
	CandidateIDs []string
}

// Options controls eligibility and tie-breaking.
type Options struct {
	TieBreak TieBreak
	// MatchUnknownBirthYear lets keys carrying records.UnknownBirthYear
	// match. Keys with an empty name are never eligible.
	MatchUnknownBirthYear bool
}

type group struct {
	targets    []int // indexes into Index.targets
	candidates []records.Candidate
}

// Index pools targets and candidates by key. Candidates may be added as they
// stream in; the result of Resolve does not depend on insertion order.
type Index struct {
	opt     Options
	groups  map[records.Key]*group
	targets []records.Target
	ncand   int
}

// NewIndex returns an empty index. A nil opt.TieBreak means MinID.
func NewIndex(opt Options) *Index {
	if opt.TieBreak == nil {
		opt.TieBreak = MinID{}
	}
	return &Index{opt: opt, groups: make(map[records.Key]*group)}
}

func (ix *Index) eligible(k records.Key) bool {
	if k.Name == "" {
		return false
	}
	return ix.opt.MatchUnknownBirthYear || !k.HasUnknownYear()
}

func (ix *Index) group(k records.Key) *group {
	g := ix.groups[k]
	if g == nil {
		g = &group{}
		ix.groups[k] = g
	}
	return g
}

// AddCandidate pools c. Candidates with an ineligible key are counted but
// not indexed, since no target could ever match them.
func (ix *Index) AddCandidate(c records.Candidate) {
	ix.ncand++
	k := c.Key()
	if !ix.eligible(k) {
		return
	}
	g := ix.group(k)
	g.candidates = append(g.candidates, c)
}

// AddTarget pools t. Targets are resolved in the order they were added.
func (ix *Index) AddTarget(t records.Target) {
	ix.targets = append(ix.targets, t)
	k := t.Key()
	if !ix.eligible(k) {
		return
	}
	g := ix.group(k)
	g.targets = append(g.targets, len(ix.targets)-1)
}

// Candidates returns the number of candidates added.
func (ix *Index) Candidates() int { return ix.ncand }

// Targets returns the number of targets added.
func (ix *Index) Targets() int { return len(ix.targets) }

// Resolve returns one Resolution per added target, in insertion order.
// Neither the index nor any pooled record is modified.
func (ix *Index) Resolve() []Resolution {
	out := make([]Resolution, len(ix.targets))
	for i, t := range ix.targets {
		k := t.Key()
		out[i] = Resolution{Row: t.Row, Key: k}
		if !ix.eligible(k) {
			out[i].Status = Ineligible
			continue
		}
		g := ix.groups[k]
		if g == nil || len(g.candidates) == 0 {
			continue
		}

		ids := distinctIDs(g.candidates)
		out[i].CandidateIDs = ids
		if len(ids) == 1 {
			out[i].MatchedID = ids[0]
			out[i].Status = Matched
			continue
		}
		out[i].MatchedID = ix.opt.TieBreak.Choose(t, g.candidates)
		out[i].Status = Ambiguous
	}
	return out
}

func distinctIDs(cs []records.Candidate) []string {
	seen := make(map[string]struct{}, len(cs))
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		if _, ok := seen[c.ExternalID]; ok {
			continue
		}
		seen[c.ExternalID] = struct{}{}
		ids = append(ids, c.ExternalID)
	}
	sort.Strings(ids)
	return ids
}

// Summary tallies resolutions by status.
type Summary struct {
	Targets    int
	Matched    int
	Ambiguous  int
	Unmatched  int
	Ineligible int
}

// Summarize counts rs by status. Ambiguous rows are assigned an id but are
// counted separately from Matched.
func Summarize(rs []Resolution) Summary {
	s := Summary{Targets: len(rs)}
	for _, r := range rs {
		switch r.Status {
		case Matched:
			s.Matched++
		case Ambiguous:
			s.Ambiguous++
		case Ineligible:
			s.Ineligible++
		default:
			s.Unmatched++
		}
	}
	return s
}
