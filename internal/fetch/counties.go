package fetch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// maxCountyRange caps a single "a-b" span so a typo cannot queue millions of
// downloads.
const maxCountyRange = 1000

// ParseCounties parses a county list such as "1-4,7,9-10" into sorted,
// de-duplicated county numbers. Numbers must be positive.
func ParseCounties(s string) ([]int, error) {
	seen := map[int]struct{}{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, err := parseSpan(part)
		if err != nil {
			return nil, err
		}
		for n := lo; n <= hi; n++ {
			seen[n] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("counties %q: empty list", s)
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func parseSpan(part string) (lo, hi int, err error) {
	a, b, isRange := strings.Cut(part, "-")
	if lo, err = parseCounty(a); err != nil {
		return 0, 0, err
	}
	if !isRange {
		return lo, lo, nil
	}
	if hi, err = parseCounty(b); err != nil {
		return 0, 0, err
	}
	if hi < lo {
		return 0, 0, fmt.Errorf("county range %q: end before start", part)
	}
	if hi-lo >= maxCountyRange {
		return 0, 0, fmt.Errorf("county range %q: more than %d counties", part, maxCountyRange)
	}
	return lo, hi, nil
}

func parseCounty(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("county %q: not a number", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("county %d: must be positive", n)
	}
	return n, nil
}
