package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/tabledger/internal/tabular"
)

func readJSON(data []byte, opts Options) (*tabular.Table, error) {
	return decodeRecords(data, opts, opts.Lines)
}

func readJSONLines(data []byte, opts Options) (*tabular.Table, error) {
	return decodeRecords(data, opts, true)
}

// record is one decoded object with its keys in document order.
type record struct {
	keys   []string
	values map[string]any
}

// decodeRecords reads either one array of objects or a stream of objects
// (one per line or concatenated). Columns are the union of keys in order of
// first appearance.
func decodeRecords(data []byte, opts Options, lines bool) (*tabular.Table, error) {
	dec := json.NewDecoder(bytes.NewReader(sanitizeUTF8(stripBOM(data))))
	dec.UseNumber()

	inArray := false
	if !lines {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse error: %w", err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			// Not an array: re-read from the start as a stream of objects.
			dec = json.NewDecoder(bytes.NewReader(sanitizeUTF8(stripBOM(data))))
			dec.UseNumber()
		} else {
			inArray = true
		}
	}

	var recs []record
	for {
		if inArray && !dec.More() {
			break
		}
		rec, err := decodeObject(dec)
		if errors.Is(err, io.EOF) && !inArray {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse error: record %d: %w", len(recs)+1, err)
		}
		recs = append(recs, rec)
	}

	if opts.SkipRows < 0 {
		return nil, fmt.Errorf("skip rows must not be negative")
	}
	if opts.SkipRows >= len(recs) {
		recs = nil
	} else {
		recs = recs[opts.SkipRows:]
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("empty file: no records")
	}

	var cols []string
	seen := make(map[string]bool)
	for _, rec := range recs {
		for _, k := range rec.keys {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}

	tbl := tabular.New(cols...)
	for _, rec := range recs {
		vals := make([]any, len(cols))
		for i, c := range cols {
			vals[i] = rec.values[c]
		}
		tbl.Append(vals...)
	}
	return tbl, nil
}

func decodeObject(dec *json.Decoder) (record, error) {
	tok, err := dec.Token()
	if err != nil {
		return record{}, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return record{}, fmt.Errorf("expected object, got %v", tok)
	}

	rec := record{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return record{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return record{}, fmt.Errorf("expected key, got %v", tok)
		}

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return record{}, err
		}
		if _, dup := rec.values[key]; !dup {
			rec.keys = append(rec.keys, key)
		}
		rec.values[key] = jsonCell(raw)
	}
	// Closing brace.
	if _, err := dec.Token(); err != nil {
		return record{}, err
	}
	return rec, nil
}

// jsonCell narrows a decoded JSON value to a table cell. Nested values are
// kept as their JSON text.
func jsonCell(v any) any {
	switch x := v.(type) {
	case nil, string, bool:
		return x
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
