package probe

import (
	"bytes"
	encsv "encoding/csv"
	"errors"
	"io"
	"strings"
)

// delimiters are tried in order; ties keep the earlier one.
var delimiters = []rune{',', '\t', '|', ';'}

// detectDelimiter picks the delimiter whose header splits into the most
// fields while data rows keep that width.
func detectDelimiter(b []byte) rune {
	best, bestScore := ',', -1.0
	for _, d := range delimiters {
		hdr, rows, err := readSample(b, d)
		if err != nil || len(hdr) < 2 {
			continue
		}
		consistent := 1.0
		if len(rows) > 0 {
			n := 0
			for _, r := range rows {
				if len(r) == len(hdr) {
					n++
				}
			}
			consistent = float64(n) / float64(len(rows))
		}
		if score := consistent * float64(len(hdr)); score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

// readSample parses a header and data rows leniently: bad quotes are
// tolerated and unreadable records skipped.
func readSample(data []byte, delim rune) ([]string, [][]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil, errors.New("empty sample")
	}

	r := encsv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	headers, err := r.Read()
	if err != nil {
		return nil, nil, err
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}
		rows = append(rows, rec)
	}
	return headers, rows, nil
}
