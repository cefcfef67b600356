// Package source reads files into tabular tables for the ingestion engine.
//
// Readers are registered by format name and file extension. Every reader
// honors the same Options: skip rows before the header, a positional
// rename list, and a size limit.
package source

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/tabledger/internal/tabular"
)

// DefaultMaxFileSize is the default read limit (100MB).
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// Options control how a source is turned into a table.
type Options struct {
	// Format overrides detection by extension (csv, tsv, json, xlsx).
	Format string
	// Sheet selects a worksheet. Defaults to the first sheet.
	Sheet string
	// Rename replaces the header positionally. Its length must match.
	Rename []string
	// SkipRows drops leading records before the header.
	SkipRows int
	// Delimiter overrides the field separator for delimited text.
	Delimiter rune
	// Lines reads JSON as one object per line.
	Lines bool
	// MaxFileSize rejects larger inputs. Zero selects DefaultMaxFileSize.
	MaxFileSize int64
}

func (o Options) maxSize() int64 {
	if o.MaxFileSize > 0 {
		return o.MaxFileSize
	}
	return DefaultMaxFileSize
}

// ReadFile reads path using the reader registered for its extension, or for
// opts.Format when set.
func ReadFile(path string, opts Options) (*tabular.Table, error) {
	format := opts.Format
	if format == "" {
		var ok bool
		if format, ok = FormatForPath(path); !ok {
			return nil, fmt.Errorf("%s: unsupported format %q", path, filepath.Ext(path))
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > opts.maxSize() {
		return nil, fmt.Errorf("%s: file too large: %d bytes exceeds %d", path, info.Size(), opts.maxSize())
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	tbl, err := Read(f, format, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tbl, nil
}

// Read parses r as format.
func Read(r io.Reader, format string, opts Options) (*tabular.Table, error) {
	reader, ok := Lookup(format)
	if !ok {
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	data, err := readLimited(r, opts.maxSize())
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(stripBOM(data))) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	tbl, err := reader.Read(data, opts)
	if err != nil {
		return nil, err
	}
	if len(opts.Rename) > 0 {
		if err := tbl.Rename(opts.Rename); err != nil {
			return nil, fmt.Errorf("rename list: %w", err)
		}
	}
	return tbl, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file too large: exceeds %d bytes", limit)
	}
	return data, nil
}

// fromRecords builds a table from raw text records: SkipRows records are
// dropped, the next is the header, and blank records are ignored. Short
// records read NULL for their missing cells.
func fromRecords(records [][]string, opts Options) (*tabular.Table, error) {
	if opts.SkipRows < 0 {
		return nil, fmt.Errorf("skip rows must not be negative")
	}
	if opts.SkipRows >= len(records) {
		return nil, fmt.Errorf("empty file: no header after skipping %d rows", opts.SkipRows)
	}
	records = records[opts.SkipRows:]

	header := records[0]
	if isEmptyRow(header) {
		return nil, fmt.Errorf("empty file: header row is blank")
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
	}

	tbl := tabular.New(cols...)
	for _, rec := range records[1:] {
		if isEmptyRow(rec) {
			continue
		}
		vals := make([]any, len(cols))
		for i := range cols {
			if i < len(rec) {
				vals[i] = tabular.ParseCell(rec[i])
			}
		}
		tbl.Append(vals...)
	}
	return tbl, nil
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
