// Package json reads target rosters exported as JSON into a records.Table so
// they flow through the same normalizer and writers as CSV rosters.
//
// Accepted shapes:
//   - a root array of objects
//   - a root object whose first array-of-objects field holds the records
//     (envelope), other fields are skipped
//   - newline-delimited objects (NDJSON), also after a root array or object
//   - a single root object, read as one record
//
// The header is the union of object keys in first-seen order. Values are
// rendered as strings: numbers keep their literal text, null becomes empty,
// string arrays are joined with array_join_separator (default ","), and
// nested objects are kept as compact JSON.
package json

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"votermatch/internal/config"
	"votermatch/internal/records"
)

// object is one decoded record with its keys in document order.
type object struct {
	keys []string
	vals map[string]string
}

// tableBuilder accumulates objects into a rectangular table.
type tableBuilder struct {
	header []string
	pos    map[string]int
	rows   [][]string
}

func (b *tableBuilder) add(o object) {
	for _, k := range o.keys {
		if _, ok := b.pos[k]; !ok {
			b.pos[k] = len(b.header)
			b.header = append(b.header, k)
		}
	}
	row := make([]string, len(b.header))
	for k, v := range o.vals {
		row[b.pos[k]] = v
	}
	b.rows = append(b.rows, row)
}

func (b *tableBuilder) table() records.Table {
	// Earlier rows were built before later keys appeared.
	for i, r := range b.rows {
		if len(r) < len(b.header) {
			padded := make([]string, len(b.header))
			copy(padded, r)
			b.rows[i] = padded
		}
	}
	return records.Table{Header: b.header, Rows: b.rows}
}

// ReadTable reads a whole JSON roster. Like the CSV reader it fails on the
// first malformed record; a roster must come back complete.
func ReadTable(ctx context.Context, src io.ReadCloser, opt config.Options) (records.Table, error) {
	defer src.Close()

	sep := opt.String("array_join_separator", ",")
	if sep == "" {
		sep = ","
	}
	dec := json.NewDecoder(src)
	dec.UseNumber()

	b := &tableBuilder{pos: map[string]int{}}
	n := 0
	emit := func(o object) error {
		n++
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		b.add(o)
		return nil
	}

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return records.Table{}, errors.New("json: empty input")
		}
		return records.Table{}, fmt.Errorf("json: read first token: %w", err)
	}

	switch tok {
	case json.Delim('['):
		if err := readArray(dec, sep, emit); err != nil {
			return records.Table{}, err
		}
	case json.Delim('{'):
		single, err := readEnvelopeOrSingle(dec, sep, emit)
		if err != nil {
			return records.Table{}, err
		}
		if single != nil {
			if err := emit(*single); err != nil {
				return records.Table{}, err
			}
		}
	default:
		return records.Table{}, fmt.Errorf("json: unsupported root token %v (want object or array)", tok)
	}

	if err := readTrailing(dec, sep, emit); err != nil {
		return records.Table{}, err
	}
	if err := ctx.Err(); err != nil {
		return records.Table{}, err
	}
	if len(b.header) == 0 {
		return records.Table{}, errors.New("json: no records")
	}
	return b.table(), nil
}

// readArray consumes array elements after '[' up to and including ']'.
// Null elements are skipped; any other non-object element is an error.
func readArray(dec *json.Decoder, sep string, emit func(object) error) error {
	i := 0
	for dec.More() {
		i++
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: record %d: %w", i, err)
		}
		if tok == nil {
			continue
		}
		if tok != json.Delim('{') {
			return fmt.Errorf("json: record %d: element is not an object", i)
		}
		o, err := readObject(dec, sep)
		if err != nil {
			return fmt.Errorf("json: record %d: %w", i, err)
		}
		if err := emit(o); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("json: read array end: %w", err)
	}
	return nil
}

// readEnvelopeOrSingle walks a root object after '{'. The first field holding
// an array of objects is streamed as the records; otherwise the root object
// itself is returned as the single record.
func readEnvelopeOrSingle(dec *json.Decoder, sep string, emit func(object) error) (*object, error) {
	single := object{vals: map[string]string{}}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("json: field %q: %w", key, err)
		}
		if tok == json.Delim('[') {
			if err := readArray(dec, sep, emit); err != nil {
				return nil, err
			}
			for dec.More() {
				if _, err := readKey(dec); err != nil {
					return nil, err
				}
				if err := skipValue(dec); err != nil {
					return nil, err
				}
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("json: read object end: %w", err)
			}
			return nil, nil
		}
		v, err := valueFromToken(dec, tok, sep)
		if err != nil {
			return nil, fmt.Errorf("json: field %q: %w", key, err)
		}
		single.keys = append(single.keys, key)
		single.vals[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("json: read object end: %w", err)
	}
	return &single, nil
}

func readTrailing(dec *json.Decoder, sep string, emit func(object) error) error {
	for i := 1; ; i++ {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("json: trailing record %d: %w", i, err)
		}
		if tok != json.Delim('{') {
			return fmt.Errorf("json: trailing record %d: not an object", i)
		}
		o, err := readObject(dec, sep)
		if err != nil {
			return fmt.Errorf("json: trailing record %d: %w", i, err)
		}
		if err := emit(o); err != nil {
			return err
		}
	}
}

// readObject consumes an object body after '{' up to and including '}'.
func readObject(dec *json.Decoder, sep string) (object, error) {
	o := object{vals: map[string]string{}}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return object{}, err
		}
		tok, err := dec.Token()
		if err != nil {
			return object{}, err
		}
		v, err := valueFromToken(dec, tok, sep)
		if err != nil {
			return object{}, fmt.Errorf("field %q: %w", key, err)
		}
		if _, dup := o.vals[key]; !dup {
			o.keys = append(o.keys, key)
		}
		o.vals[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return object{}, err
	}
	return o, nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("json: read key: %w", err)
	}
	k, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("json: object key not a string (got %T)", tok)
	}
	return k, nil
}

// valueFromToken renders the value whose first token is tok as a cell.
func valueFromToken(dec *json.Decoder, tok json.Token, sep string) (string, error) {
	switch v := tok.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Delim:
		raw, err := materialize(dec, v)
		if err != nil {
			return "", err
		}
		if arr, ok := raw.([]any); ok {
			if s, ok := joinStrings(arr, sep); ok {
				return s, nil
			}
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(raw); err != nil {
			return "", err
		}
		return strings.TrimSuffix(buf.String(), "\n"), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// joinStrings joins an array of strings; ok is false when any element is not
// a string. Nulls are skipped.
func joinStrings(arr []any, sep string) (string, bool) {
	ss := make([]string, 0, len(arr))
	for _, it := range arr {
		if it == nil {
			continue
		}
		s, ok := it.(string)
		if !ok {
			return "", false
		}
		ss = append(ss, s)
	}
	return strings.Join(ss, sep), true
}

// materialize builds the Go value of a nested array or object whose opening
// delimiter d has been consumed.
func materialize(dec *json.Decoder, d json.Delim) (any, error) {
	switch d {
	case '{':
		m := map[string]any{}
		for dec.More() {
			k, err := readKey(dec)
			if err != nil {
				return nil, err
			}
			v, err := nextValue(dec)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return m, nil
	case '[':
		arr := []any{}
		for dec.More() {
			v, err := nextValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", d)
	}
}

func nextValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); ok {
		return materialize(dec, d)
	}
	return tok, nil
}

func skipValue(dec *json.Decoder) error {
	_, err := nextValue(dec)
	return err
}
