package tabular

// convert.go turns raw text cells from delimited files and spreadsheets into
// typed cells, and infers a column kind from a column's values.
//
// Parsing is deliberately conservative: only unambiguous integers, decimals
// and four-digit-year dates are typed. Anything else stays text, so "00123"
// keeps its leading zeros and "$1,200" stays as written.

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	integerRegex = regexp.MustCompile(`^[+-]?(0|[1-9]\d*)$`)
	numericRegex = regexp.MustCompile(`^[+-]?((0|[1-9]\d*)(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
)

// dateLayouts are tried in order. Only four-digit years are accepted.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006/01/02",
	"2006.01.02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// ParseCell converts raw text to a typed cell. Empty or whitespace-only text
// is NULL.
func ParseCell(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	if integerRegex.MatchString(s) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	if numericRegex.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if t, ok := parseDate(s); ok {
		return t
	}
	return raw
}

func parseDate(s string) (time.Time, bool) {
	if len(s) < 8 {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Kind is the storage class of a column.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindFloat
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "text"
	}
}

// KindOf returns the kind of a single cell and false for NULL.
func KindOf(v any) (Kind, bool) {
	switch v.(type) {
	case nil:
		return KindText, false
	case int64, int, int32:
		return KindInteger, true
	case float64, float32:
		return KindFloat, true
	case bool:
		return KindBool, true
	case time.Time:
		return KindTime, true
	default:
		return KindText, true
	}
}

// InferKind picks one kind for a column. Integers widen to float when both
// appear; any other mix is text. An all-NULL column is text.
func InferKind(values []any) Kind {
	var (
		kind Kind
		seen bool
	)
	for _, v := range values {
		k, ok := KindOf(v)
		if !ok {
			continue
		}
		if !seen {
			kind, seen = k, true
			continue
		}
		if k == kind {
			continue
		}
		if (k == KindFloat && kind == KindInteger) || (k == KindInteger && kind == KindFloat) {
			kind = KindFloat
			continue
		}
		return KindText
	}
	return kind
}

// InferKinds infers a kind for every column of t.
func InferKinds(t *Table) map[string]Kind {
	kinds := make(map[string]Kind, len(t.Columns))
	for _, col := range t.Columns {
		kinds[col] = InferKind(t.Column(col))
	}
	return kinds
}

// Coerce adapts v to a column of kind k where the store would otherwise
// reject it. Only widening conversions are applied; text columns accept any
// cell in its text form.
func Coerce(k Kind, v any) any {
	v = normalizeValue(v)
	if v == nil {
		return nil
	}
	switch k {
	case KindText:
		if _, ok := v.(string); !ok {
			return FormatCell(v)
		}
	case KindFloat:
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	}
	return v
}
