package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"votermatch/internal/config"
	"votermatch/internal/records"
	"votermatch/internal/transformer"
	"votermatch/internal/transformer/builtin"
)

// MissingColumnsError is returned when the header lacks requested columns.
// Missing holds the requested names as given by the caller.
type MissingColumnsError struct {
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing columns: %s", strings.Join(e.Missing, ", "))
}

// NormalizeHeader folds a header cell into the form used for column lookup:
// BOM and edge spaces removed, lower-cased, inner spaces replaced by '_'.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\uFEFF")
	if builtin.HasEdgeSpace(h) {
		h = strings.TrimSpace(h)
	}
	return strings.ReplaceAll(strings.ToLower(h), " ", "_")
}

// decodeReader wraps src with a legacy charset decoder when opt["encoding"] asks for one.
func decodeReader(src io.Reader, opt config.Options) (io.Reader, error) {
	switch enc := strings.ToLower(strings.TrimSpace(opt.String("encoding", "utf-8"))); enc {
	case "", "utf-8", "utf8":
		return src, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(src), nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(src), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
}

func newCSVReader(r io.Reader, opt config.Options) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	if n := opt.Int("fields_per_record", 0); n != 0 {
		cr.FieldsPerRecord = n
	} else {
		cr.FieldsPerRecord = -1
	}
	return cr
}

// headerIndex maps normalized header names to source positions. header_map
// renames are applied to the raw (edge-trimmed) cell before normalization.
func headerIndex(hdr []string, hm map[string]string) map[string]int {
	idx := make(map[string]int, len(hdr))
	for i, h := range hdr {
		raw := strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		if mapped, ok := hm[raw]; ok {
			raw = mapped
		}
		key := NormalizeHeader(raw)
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// StreamCSVRows streams CSV into pooled *transformer.Row objects aligned to the
// requested 'columns' order. A header missing any requested column fails with
// *MissingColumnsError before any row is emitted.
//
// Malformed records are reported through onErr and skipped.
//
// NOTE on cancellation: on ctx cancellation an in-flight row is dropped, not
// re-pooled, since a downstream stage may still be unwinding.
func StreamCSVRows(
	ctx context.Context,
	src io.ReadCloser,
	columns []string,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	r, err := decodeReader(src, opt)
	if err != nil {
		return err
	}

	var line int
	hasHeader := opt.Bool("has_header", true)
	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")

	cr := newCSVReader(r, opt)
	cr.ReuseRecord = true

	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	colIx := make([]int, len(columns))
	if hasHeader {
		hdr, err := readRec()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return &MissingColumnsError{Missing: append([]string(nil), columns...)}
			}
			if onErr != nil {
				onErr(line, fmt.Errorf("read header: %w", err))
			}
			return fmt.Errorf("read header: %w", err)
		}
		srcToIdx := headerIndex(hdr, hm)
		var missing []string
		for t, target := range columns {
			si, ok := srcToIdx[NormalizeHeader(target)]
			if !ok {
				missing = append(missing, target)
				continue
			}
			colIx[t] = si
		}
		if len(missing) > 0 {
			return &MissingColumnsError{Missing: missing}
		}
	} else {
		for i := range columns {
			colIx[i] = i
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}
		if isBlankRecord(rec) {
			continue
		}

		row := transformer.GetRow(len(columns))
		row.Line = line

		for t := range columns {
			si := colIx[t]
			if si >= len(rec) {
				continue
			}
			v := rec[si]
			if trim && builtin.HasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			row.V[t] = v
		}

		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
}

// ReadTable reads a whole headered CSV into memory with every cell kept
// verbatim. Unlike StreamCSVRows it fails on the first malformed record: the
// caller needs every input row back, so skipping one is not an option.
//
// Short rows are padded with empty cells to the header width.
func ReadTable(ctx context.Context, src io.ReadCloser, opt config.Options) (records.Table, error) {
	defer src.Close()

	r, err := decodeReader(src, opt)
	if err != nil {
		return records.Table{}, err
	}
	cr := newCSVReader(r, opt)

	hdr, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return records.Table{}, fmt.Errorf("read header: empty input")
		}
		return records.Table{}, fmt.Errorf("read header: %w", err)
	}
	if len(hdr) > 0 {
		hdr[0] = strings.TrimPrefix(hdr[0], "\uFEFF")
	}

	t := records.Table{Header: hdr}
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return records.Table{}, err
		}
		rec, err := cr.Read()
		line++
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		if err != nil {
			return records.Table{}, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) > len(hdr) {
			return records.Table{}, fmt.Errorf("line %d: %d fields, header has %d", line, len(rec), len(hdr))
		}
		if len(rec) < len(hdr) {
			padded := make([]string, len(hdr))
			copy(padded, rec)
			rec = padded
		}
		t.Rows = append(t.Rows, rec)
	}
}

// Columns returns the positions of the requested columns in t's header using
// NormalizeHeader folding, or *MissingColumnsError.
func Columns(t records.Table, columns []string, hm map[string]string) ([]int, error) {
	idx := headerIndex(t.Header, hm)
	out := make([]int, len(columns))
	var missing []string
	for i, c := range columns {
		si, ok := idx[NormalizeHeader(c)]
		if !ok {
			missing = append(missing, c)
			continue
		}
		out[i] = si
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing}
	}
	return out, nil
}

// isBlankRecord reports a record consisting of a single empty field, which
// encoding/csv yields for whitespace-only lines in some dialects.
func isBlankRecord(rec []string) bool {
	return len(rec) == 1 && strings.TrimSpace(rec[0]) == ""
}
