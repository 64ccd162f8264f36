// Package builtin contains the small, pure text rules the canonicalizer is
// assembled from. Every rule is a fixed point: applying it to its own output
// returns the output unchanged.
package builtin

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// HasEdgeSpace reports whether s starts or ends with an ASCII space or tab.
// It lets hot paths skip strings.TrimSpace for the common already-clean case.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return s[0] == ' ' || s[len(s)-1] == ' ' || s[0] == '\t' || s[len(s)-1] == '\t'
}

// CollapseSpace trims s and replaces every run of Unicode whitespace with a
// single ASCII space.
func CollapseSpace(s string) string {
	if s == "" {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}

// Upper upper-cases s using Unicode case mapping (ß becomes SS, etc).
// A Caser is stateful, so one is built per call.
func Upper(s string) string {
	if s == "" {
		return s
	}
	return cases.Upper(language.Und).String(s)
}

// FoldDiacritics strips combining marks, e.g. "JOSÉ" -> "JOSE", "MÜLLER" -> "MULLER".
func FoldDiacritics(s string) string {
	if s == "" {
		return s
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// StripMiddleInitials drops every single-character token that is neither the
// first nor the last token: "JOHN Q PUBLIC" -> "JOHN PUBLIC",
// "MARY A B JONES" -> "MARY JONES". Whitespace is collapsed as a side effect.
func StripMiddleInitials(name string) string {
	toks := strings.Fields(name)
	if len(toks) < 3 {
		return strings.Join(toks, " ")
	}
	kept := toks[:1]
	for _, tok := range toks[1 : len(toks)-1] {
		if isInitial(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	kept = append(kept, toks[len(toks)-1])
	return strings.Join(kept, " ")
}

func isInitial(tok string) bool {
	n := 0
	for range tok {
		n++
		if n > 1 {
			return false
		}
	}
	return n == 1
}

// addressSuffixes maps whole-word address spellings to their abbreviation.
// No replacement value is itself a key, so the substitution is idempotent.
var addressSuffixes = map[string]string{
	"STREET":      "ST",
	"AVENUE":      "AVE",
	"AV":          "AVE",
	"DRIVE":       "DR",
	"ROAD":        "RD",
	"CIRCLE":      "CR",
	"STATE ROUTE": "ST RT",
}

// addressSuffixRe is a single alternation, longest phrase first, so one
// left-to-right scan decides every substitution independent of map order.
// RE2's \b is ASCII-only, so word boundaries are checked in wordBounded.
var addressSuffixRe = regexp.MustCompile(`STATE ROUTE|STREET|AVENUE|DRIVE|CIRCLE|ROAD|AV`)

// AbbreviateAddress applies the suffix table to an upper-cased, whitespace
// collapsed address: "123 MAIN STREET" -> "123 MAIN ST", "5TH AV" -> "5TH AVE",
// "STATE ROUTE 9" -> "ST RT 9". A match must not touch a letter, digit or
// underscore in any script, so "MAINSTREET" and "ØSTREET" are left alone.
func AbbreviateAddress(addr string) string {
	if addr == "" {
		return addr
	}
	locs := addressSuffixRe.FindAllStringIndex(addr, -1)
	if locs == nil {
		return addr
	}
	var b strings.Builder
	b.Grow(len(addr))
	last := 0
	for _, l := range locs {
		if !wordBounded(addr, l[0], l[1]) {
			continue
		}
		b.WriteString(addr[last:l[0]])
		b.WriteString(addressSuffixes[addr[l[0]:l[1]]])
		last = l[1]
	}
	b.WriteString(addr[last:])
	return b.String()
}

// wordBounded reports whether s[start:end] has no word rune on either side.
func wordBounded(s string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(s[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		if r, _ := utf8.DecodeRuneInString(s[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

// isWordRune is Unicode \w plus combining marks, which belong to the letter
// before them.
func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// AddressSuffixes returns a copy of the abbreviation table.
func AddressSuffixes() map[string]string {
	out := make(map[string]string, len(addressSuffixes))
	for k, v := range addressSuffixes {
		out[k] = v
	}
	return out
}
