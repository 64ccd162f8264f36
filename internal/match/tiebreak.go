package match

import (
	"fmt"

	"votermatch/internal/config"
	"votermatch/internal/records"
)

// TieBreak picks one external id for target t among cands, which share t's
// key and carry at least two distinct ids. Implementations must be
// deterministic and independent of the order of cands.
type TieBreak interface {
	Choose(t records.Target, cands []records.Candidate) string
}

// MinID picks the lexicographically smallest id.
type MinID struct{}

func (MinID) Choose(_ records.Target, cands []records.Candidate) string {
	best := cands[0].ExternalID
	for _, c := range cands[1:] {
		if c.ExternalID < best {
			best = c.ExternalID
		}
	}
	return best
}

// MaxID picks the lexicographically greatest id.
type MaxID struct{}

func (MaxID) Choose(_ records.Target, cands []records.Candidate) string {
	best := cands[0].ExternalID
	for _, c := range cands[1:] {
		if c.ExternalID > best {
			best = c.ExternalID
		}
	}
	return best
}

// PreferAddress picks among the candidates whose canonical address, city and
// zip equal the target's, then falls back to MinID over that subset (or over
// all candidates when none agree).
type PreferAddress struct{}

func (PreferAddress) Choose(t records.Target, cands []records.Candidate) string {
	var same []records.Candidate
	for _, c := range cands {
		if c.Address == t.Address && c.City == t.City && c.Zip == t.Zip {
			same = append(same, c)
		}
	}
	if len(same) > 0 && t.Address != "" {
		return MinID{}.Choose(t, same)
	}
	return MinID{}.Choose(t, cands)
}

// ParseTieBreak maps a policy name to its implementation. "" means min_id.
func ParseTieBreak(name string) (TieBreak, error) {
	switch name {
	case "", config.TieBreakMinID:
		return MinID{}, nil
	case config.TieBreakMaxID:
		return MaxID{}, nil
	case config.TieBreakPreferAddress:
		return PreferAddress{}, nil
	default:
		return nil, fmt.Errorf("unknown tie_break %q", name)
	}
}
