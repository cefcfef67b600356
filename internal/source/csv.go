package source

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"unicode/utf8"

	"github.com/JonMunkholm/tabledger/internal/tabular"
)

func readCSV(data []byte, opts Options) (*tabular.Table, error) {
	return readDelimited(data, opts, ',')
}

func readTSV(data []byte, opts Options) (*tabular.Table, error) {
	return readDelimited(data, opts, '\t')
}

func readDelimited(data []byte, opts Options, comma rune) (*tabular.Table, error) {
	if opts.Delimiter != 0 {
		comma = opts.Delimiter
	}
	records, err := parseCSV(sanitizeUTF8(stripBOM(data)), comma)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return fromRecords(records, opts)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// stripBOM removes a leading UTF-8 byte order mark.
func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, utf8BOM)
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}

func parseCSV(data []byte, comma rune) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}
