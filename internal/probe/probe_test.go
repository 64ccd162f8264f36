package probe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const ohioSample = "SOS_VOTERID|FIRST_NAME|MIDDLE_NAME|LAST_NAME|DATE_OF_BIRTH|RESIDENTIAL_ADDRESS1|RESIDENTIAL_CITY|RESIDENTIAL_STATE|RESIDENTIAL_ZIP\n" +
	"OH123|JOHN|Q|PUBLIC|1980-03-04|1 MAIN STREET|COLUMBUS|OH|43004\n" +
	"OH124|JANE||DOE|not a date|2 OAK AVE|DAYTON|OH|45402\n" +
	"OH125|AL||SMITH||3 ELM DR|AKRON|OH|44301\n"

func TestSample_CandidatePipeDelimited(t *testing.T) {
	t.Parallel()

	rep, err := Sample([]byte(ohioSample), Options{Role: RoleCandidates})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if rep.Delimiter != "|" {
		t.Fatalf("delimiter=%q want |", rep.Delimiter)
	}
	if !rep.OK() {
		t.Fatalf("missing=%v", rep.Missing)
	}
	if rep.SampleRows != 3 {
		t.Fatalf("sample rows=%d want 3", rep.SampleRows)
	}
	if len(rep.HeaderMap) != 0 {
		t.Fatalf("unexpected header_map %v", rep.HeaderMap)
	}
	// Two non-empty birth cells, one parses.
	if rep.BirthYearParsed != 0.5 {
		t.Fatalf("birth_year_parsed=%v want 0.5", rep.BirthYearParsed)
	}
	for _, c := range rep.Columns {
		if c.Required == "DATE_OF_BIRTH" && (c.Filled < 0.66 || c.Filled > 0.67) {
			t.Fatalf("DATE_OF_BIRTH filled=%v", c.Filled)
		}
	}
	opts := rep.ParserOptions()
	if opts.String("comma", ",") != "|" {
		t.Fatalf("parser options comma=%v", opts["comma"])
	}
}

func TestSample_TargetAliasesSuggestHeaderMap(t *testing.T) {
	t.Parallel()

	in := "\xEF\xBB\xBFFull Name,DOB,Street,City,State,Zipcode\n" +
		"John Q Public,03/04/1980,1 Main St,Columbus,OH,43004\n"

	rep, err := Sample([]byte(in), Options{Role: RoleTarget})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if rep.Encoding != "utf-8-bom" {
		t.Fatalf("encoding=%q", rep.Encoding)
	}
	if !rep.OK() {
		t.Fatalf("missing=%v", rep.Missing)
	}
	want := map[string]string{
		"Full Name": "name",
		"DOB":       "birth_year",
		"Street":    "address",
		"Zipcode":   "zip",
	}
	if len(rep.HeaderMap) != len(want) {
		t.Fatalf("header_map=%v want %v", rep.HeaderMap, want)
	}
	for k, v := range want {
		if rep.HeaderMap[k] != v {
			t.Fatalf("header_map[%q]=%q want %q", k, rep.HeaderMap[k], v)
		}
	}
	if rep.BirthYearParsed != 1 {
		t.Fatalf("birth_year_parsed=%v", rep.BirthYearParsed)
	}
	hm := rep.ParserOptions().StringMap("header_map")
	if hm["DOB"] != "birth_year" {
		t.Fatalf("parser header_map=%v", hm)
	}
}

func TestSample_ReportsMissing(t *testing.T) {
	t.Parallel()

	rep, err := Sample([]byte("name,city\nA,B\n"), Options{Role: RoleTarget})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if rep.OK() {
		t.Fatalf("expected missing columns")
	}
	got := strings.Join(rep.Missing, ",")
	if got != "birth_year,address,state,zip" {
		t.Fatalf("missing=%q", got)
	}
	if !strings.Contains(rep.Text(), "MISSING") {
		t.Fatalf("text report lacks MISSING:\n%s", rep.Text())
	}
}

func TestSample_ExactHeaderWinsOverAlias(t *testing.T) {
	t.Parallel()

	// "full_name" is an alias for name, but an exact "name" column exists.
	in := "full_name,name,birth_year,address,city,state,zip\nX,Y,1980,a,b,OH,1\n"
	rep, err := Sample([]byte(in), Options{Role: RoleTarget})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if rep.Columns[0].Source != "name" || rep.Columns[0].Via != "header" {
		t.Fatalf("name resolved to %+v", rep.Columns[0])
	}
	if len(rep.HeaderMap) != 0 {
		t.Fatalf("header_map=%v", rep.HeaderMap)
	}
}

func TestSample_Windows1252(t *testing.T) {
	t.Parallel()

	// 0xE9 is é in windows-1252 and invalid on its own in UTF-8.
	in := "name,birth_year,address,city,state,zip\nJos\xE9,1980,a,b,OH,1\n"
	rep, err := Sample([]byte(in), Options{Role: RoleTarget})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if rep.Encoding != "windows-1252" {
		t.Fatalf("encoding=%q", rep.Encoding)
	}
	if rep.ParserOptions().String("encoding", "") != "windows-1252" {
		t.Fatalf("parser options=%v", rep.ParserOptions())
	}
}

func TestSample_TruncatedLastLineIgnored(t *testing.T) {
	t.Parallel()

	in := "a,b,c\n1,2,3\n4,5"
	rep, err := Sample([]byte(in), Options{Role: RoleTarget})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if rep.SampleRows != 1 {
		t.Fatalf("sample rows=%d want 1", rep.SampleRows)
	}
}

func TestSample_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Sample(nil, Options{Role: RoleTarget}); err == nil {
		t.Fatalf("expected error for empty sample")
	}
	if _, err := Sample([]byte("a\n"), Options{Role: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestDetectDelimiter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want rune
	}{
		{"a,b,c\n1,2,3\n", ','},
		{"a\tb\tc\n1\t2\t3\n", '\t'},
		{"a|b|c\n1|2|3\n", '|'},
		{"a;b;c\n1;2;3\n", ';'},
		{"single\nvalue\n", ','},
	}
	for _, tc := range tests {
		if got := detectDelimiter([]byte(tc.in)); got != tc.want {
			t.Fatalf("detectDelimiter(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestFile_BoundedRead(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "county_1.txt")
	if err := os.WriteFile(p, []byte(ohioSample), 0o644); err != nil {
		t.Fatal(err)
	}
	// Only the header and first data row fit.
	limit := strings.Index(ohioSample, "OH124")
	rep, err := File(context.Background(), p, Options{Role: RoleCandidates, MaxBytes: limit + 3})
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if rep.Path != p || rep.SampleRows != 1 {
		t.Fatalf("path=%q rows=%d", rep.Path, rep.SampleRows)
	}

	if _, err := File(context.Background(), filepath.Join(t.TempDir(), "nope"), Options{}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
