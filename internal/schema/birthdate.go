package schema

import (
	"math"
	"strconv"
	"strings"
	"time"
)

var birthDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"2006/01/02",
}

// ParseBirthYear extracts the calendar year from a birth date or a bare year.
// Integral floats such as "1980.0" are accepted as years. ok is false when s
// is empty or matches none of the known forms.
func ParseBirthYear(s string) (year int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	if len(s) == 4 && isDigits(s) {
		y, _ := strconv.Atoi(s)
		return y, true
	}

	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Year(), true
		}
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f == math.Trunc(f) && f >= 1000 && f <= 9999 {
			return int(f), true
		}
	}
	return 0, false
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
