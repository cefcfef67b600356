// Package tabular defines the in-memory table handed to the ingestion engine
// by format readers: ordered column names plus ordered rows of typed cells.
package tabular

import (
	"fmt"
	"strconv"
	"time"
)

// Row maps a column name to a scalar cell. A missing key reads as NULL.
//
// Cells hold nil, string, int64, float64, bool or time.Time.
type Row map[string]any

// Table is an ordered set of columns and rows. All rows share Columns.
type Table struct {
	Columns []string
	Rows    []Row
}

// New creates an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Append adds a row built positionally from values. Extra values are ignored;
// missing values are NULL.
func (t *Table) Append(values ...any) {
	row := make(Row, len(t.Columns))
	for i, col := range t.Columns {
		if i < len(values) {
			row[col] = normalizeValue(values[i])
		} else {
			row[col] = nil
		}
	}
	t.Rows = append(t.Rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Column returns the values of one column in row order.
func (t *Table) Column(name string) []any {
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[name]
	}
	return out
}

// HasColumn reports whether name is one of the table's columns.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Rename rewrites column names positionally, carrying every row's cells over
// to the new keys. len(names) must equal len(t.Columns).
func (t *Table) Rename(names []string) error {
	if len(names) != len(t.Columns) {
		return fmt.Errorf("rename: %d names for %d columns", len(names), len(t.Columns))
	}
	for _, row := range t.Rows {
		vals := make([]any, len(t.Columns))
		for i, old := range t.Columns {
			vals[i] = row[old]
			delete(row, old)
		}
		for i, name := range names {
			row[name] = vals[i]
		}
	}
	t.Columns = append([]string(nil), names...)
	return nil
}

// Values returns the cells of row in column order.
func (t *Table) Values(row Row) []any {
	out := make([]any, len(t.Columns))
	for i, col := range t.Columns {
		out[i] = row[col]
	}
	return out
}

// FormatCell renders a cell as text. NULL renders as "".
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// normalizeValue narrows Go scalar types to the cell set.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	default:
		return v
	}
}

// NormalizeValue is normalizeValue for readers that build rows by hand.
func NormalizeValue(v any) any {
	return normalizeValue(v)
}
