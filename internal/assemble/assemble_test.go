package assemble

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"votermatch/internal/match"
	"votermatch/internal/records"
)

func sampleTable() records.Table {
	return records.Table{
		Header: []string{"id", "name", "birth_year"},
		Rows: [][]string{
			{"1", "John Q Public", "1980"},
			{"2", "Jane Doe"},
			{"3", "Nobody", "1990"},
		},
	}
}

func TestJoin_AppendsColumnPreservingRows(t *testing.T) {
	tbl := sampleTable()
	rs := []match.Resolution{{Row: 0, MatchedID: "OH123", Status: match.Matched}, {Row: 2}}

	got, err := Join(tbl, rs, "matched_voterid")
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name", "birth_year", "matched_voterid"}, got.Header)
	require.Equal(t, [][]string{
		{"1", "John Q Public", "1980", "OH123"},
		{"2", "Jane Doe", "", ""},
		{"3", "Nobody", "1990", ""},
	}, got.Rows)

	// input untouched
	require.Len(t, tbl.Header, 3)
	require.Len(t, tbl.Rows[1], 2)
}

func TestJoin_OverwritesExistingColumn(t *testing.T) {
	tbl := records.Table{
		Header: []string{"name", "Matched VoterID"},
		Rows:   [][]string{{"a", "stale"}, {"b", "stale"}},
	}
	got, err := Join(tbl, []match.Resolution{{Row: 1, MatchedID: "OH9"}}, "matched_voterid")
	require.NoError(t, err)
	require.Equal(t, []string{"name", "Matched VoterID"}, got.Header)
	require.Equal(t, [][]string{{"a", ""}, {"b", "OH9"}}, got.Rows)
}

func TestJoin_RejectsForeignRow(t *testing.T) {
	_, err := Join(sampleTable(), []match.Resolution{{Row: 3}}, "matched_voterid")
	require.Error(t, err)

	_, err = Join(sampleTable(), nil, " ")
	require.Error(t, err)
}

func TestWriteFile_CSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "matched.csv")

	tbl, err := Join(sampleTable(), []match.Resolution{{Row: 0, MatchedID: "OH123"}}, "matched_voterid")
	require.NoError(t, err)
	require.NoError(t, WriteFile(context.Background(), path, tbl, Options{}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "id,name,birth_year,matched_voterid\n1,John Q Public,1980,OH123\n2,Jane Doe,,\n3,Nobody,1990,\n", string(b))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file left behind")
}

func TestWriteFile_CSVCustomComma(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tsv")
	tbl := records.Table{Header: []string{"a", "b"}, Rows: [][]string{{"1", "x,y"}}}
	require.NoError(t, WriteFile(context.Background(), path, tbl, Options{Comma: '\t'}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a\tb\n1\tx,y\n", string(b))
}

func TestWriteFile_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matched.xlsx")
	tbl := records.Table{
		Header: []string{"zip", "matched_voterid"},
		Rows:   [][]string{{"04321", "OH1"}, {"43215", ""}},
	}
	require.NoError(t, WriteFile(context.Background(), path, tbl, Options{Sheet: "matched"}))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("matched")
	require.NoError(t, err)
	require.Equal(t, []string{"zip", "matched_voterid"}, rows[0])
	require.Equal(t, []string{"04321", "OH1"}, rows[1])
	require.Equal(t, "43215", rows[2][0])
}

func TestWriteAtomic_FailureLeavesDestinationUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matched.csv")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

	boom := errors.New("boom")
	err := writeAtomic(path, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "previous", string(b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriteFile_CancelledContextCreatesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(t.TempDir(), "matched.csv")
	err := WriteFile(ctx, path, sampleTable(), Options{})
	require.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestFormatFor(t *testing.T) {
	require.Equal(t, "xlsx", FormatFor("a/b.XLSX", ""))
	require.Equal(t, "csv", FormatFor("a/b.txt", ""))
	require.Equal(t, "xlsx", FormatFor("a/b.csv", "XLSX"))
}
