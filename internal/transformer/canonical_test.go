package transformer

import (
	"testing"

	"votermatch/internal/records"
)

func TestCanonicalizer_Fields(t *testing.T) {
	t.Parallel()

	c := Canonicalizer{FoldDiacritics: true, MinYear: 1870, MaxYear: 2026}

	tests := []struct {
		name string
		in   records.Fields
		want records.Fields
	}{
		{
			name: "middle initial and street suffix",
			in:   records.Fields{Name: "John Q Public", BirthYear: 1980, Address: "123 Main Street", City: "columbus", State: "oh", Zip: "43215"},
			want: records.Fields{Name: "JOHN PUBLIC", BirthYear: 1980, Address: "123 MAIN ST", City: "COLUMBUS", State: "OH", Zip: "43215"},
		},
		{
			name: "diacritics and whitespace",
			in:   records.Fields{Name: "  josé   müller ", BirthYear: 1975, Address: "9  state route 4", City: " Dayton "},
			want: records.Fields{Name: "JOSE MULLER", BirthYear: 1975, Address: "9 ST RT 4", City: "DAYTON"},
		},
		{
			name: "implausible years become unknown",
			in:   records.Fields{Name: "A B", BirthYear: 1066},
			want: records.Fields{Name: "A B", BirthYear: records.UnknownBirthYear},
		},
		{
			name: "future year",
			in:   records.Fields{Name: "A B", BirthYear: 2100},
			want: records.Fields{Name: "A B", BirthYear: records.UnknownBirthYear},
		},
		{
			name: "empty stays empty",
			in:   records.Fields{},
			want: records.Fields{},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := c.Fields(tc.in)
			if got != tc.want {
				t.Fatalf("Fields()=%+v want %+v", got, tc.want)
			}
			if again := c.Fields(got); again != got {
				t.Fatalf("not idempotent: %+v -> %+v", got, again)
			}
		})
	}
}

func TestCanonicalizer_NoFoldKeepsMarks(t *testing.T) {
	t.Parallel()

	got := Canonicalizer{}.Fields(records.Fields{Name: "josé"})
	if got.Name != "JOSÉ" {
		t.Fatalf("Name=%q", got.Name)
	}
}

func TestCanonicalizer_TargetKeepsRowAndDoesNotMutate(t *testing.T) {
	t.Parallel()

	in := records.Target{Row: 7, Fields: records.Fields{Name: "jane q doe"}}
	got := Canonicalizer{}.Target(in)
	if got.Row != 7 || got.Name != "JANE DOE" {
		t.Fatalf("Target()=%+v", got)
	}
	if in.Name != "jane q doe" {
		t.Fatalf("input mutated: %+v", in)
	}
}

func TestCanonicalizer_CandidateIDCaseKept(t *testing.T) {
	t.Parallel()

	got := Canonicalizer{}.Candidate(records.Candidate{ExternalID: " oh00123 "})
	if got.ExternalID != "oh00123" {
		t.Fatalf("ExternalID=%q", got.ExternalID)
	}
}
