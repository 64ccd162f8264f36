package assemble

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"votermatch/internal/config"
	"votermatch/internal/records"
)

// Options selects the output encoding.
type Options struct {
	// Format is config.FormatCSV or config.FormatXLSX. Empty infers it from
	// the path extension.
	Format string
	Comma  rune
	// Sheet names the xlsx worksheet. Empty keeps the workbook default.
	Sheet string
}

// FormatFor resolves the effective format for path.
func FormatFor(path, format string) string {
	if format != "" {
		return strings.ToLower(format)
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return config.FormatXLSX
	}
	return config.FormatCSV
}

// WriteFile writes t to path atomically: the table is written to a temp file
// in the destination directory, synced and renamed over path. On any error
// the temp file is removed and path is left as it was.
func WriteFile(ctx context.Context, path string, t records.Table, opt Options) error {
	var enc func(io.Writer) error
	switch f := FormatFor(path, opt.Format); f {
	case config.FormatCSV:
		enc = func(w io.Writer) error { return writeCSV(ctx, w, t, opt.Comma) }
	case config.FormatXLSX:
		enc = func(w io.Writer) error { return writeXLSX(ctx, w, t, opt.Sheet) }
	default:
		return fmt.Errorf("assemble: unsupported format %q", f)
	}
	return writeAtomic(path, enc)
}

func writeAtomic(path string, enc func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("assemble: create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".votermatch-*")
	if err != nil {
		return fmt.Errorf("assemble: create temp: %w", err)
	}
	tmpName := tmp.Name()

	encErr := enc(tmp)
	var syncErr error
	if encErr == nil {
		syncErr = tmp.Sync()
	}
	closeErr := tmp.Close()

	switch {
	case encErr != nil:
		_ = os.Remove(tmpName)
		return fmt.Errorf("assemble: write %s: %w", path, encErr)
	case syncErr != nil:
		_ = os.Remove(tmpName)
		return fmt.Errorf("assemble: sync %s: %w", path, syncErr)
	case closeErr != nil:
		_ = os.Remove(tmpName)
		return fmt.Errorf("assemble: close %s: %w", path, closeErr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("assemble: rename into %s: %w", path, err)
	}
	return nil
}

func writeCSV(ctx context.Context, w io.Writer, t records.Table, comma rune) error {
	cw := csv.NewWriter(w)
	if comma != 0 {
		cw.Comma = comma
	}
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	for i, row := range t.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(ctx context.Context, w io.Writer, t records.Table, sheet string) error {
	f := excelize.NewFile()
	defer f.Close()

	name := f.GetSheetName(0)
	if sheet != "" && sheet != name {
		if err := f.SetSheetName(name, sheet); err != nil {
			return err
		}
		name = sheet
	}

	sw, err := f.NewStreamWriter(name)
	if err != nil {
		return err
	}

	put := func(r int, cells []string) error {
		cell, err := excelize.CoordinatesToCellName(1, r)
		if err != nil {
			return err
		}
		vals := make([]interface{}, len(cells))
		for i, c := range cells {
			vals[i] = c
		}
		return sw.SetRow(cell, vals)
	}

	if err := put(1, t.Header); err != nil {
		return err
	}
	for i, row := range t.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := put(i+2, row); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}
