// Package ident turns human-authored column and table labels into canonical
// database identifiers.
//
// A canonical identifier is ASCII, lowercase, and made of alphanumeric
// fragments joined by single underscores:
//
//	Normalize("//:ZErt88//:fdgg__Xkf") // "zert88_fdgg_xkf"
//	Normalize("Prénom Client")         // "prenom_client"
//
// Normalize is pure and idempotent. Callers decide what an empty result
// means; NormalizeColumns and TableName treat it as an error.
package ident

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ControlColumn is the column every ingested row carries to join back to its
// ledger record. Input columns may not normalize to it.
const ControlColumn = "control_id"

// LedgerTable is the relation holding one row per load. It cannot be used as
// a destination table.
const LedgerTable = "control_table"

// ErrInvalidIdentifier is the sentinel matched by errors.Is for every
// *InvalidIdentifierError.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// InvalidIdentifierError reports a label that cannot be used as a column or
// table name after normalization.
type InvalidIdentifierError struct {
	Label  string // Original label as supplied
	Reason string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", e.Label, e.Reason)
}

func (e *InvalidIdentifierError) Is(target error) bool {
	return target == ErrInvalidIdentifier
}

// fold covers letters that survive NFKD decomposition unchanged.
var fold = map[rune]string{
	'ß': "ss", 'ẞ': "SS",
	'æ': "ae", 'Æ': "AE",
	'œ': "oe", 'Œ': "OE",
	'ø': "o", 'Ø': "O",
	'ł': "l", 'Ł': "L",
	'đ': "d", 'Đ': "D",
	'ð': "d", 'Ð': "D",
	'þ': "th", 'Þ': "TH",
	'ı': "i",
	'ŋ': "ng", 'Ŋ': "NG",
}

// Normalize converts label to a canonical identifier. Non-ASCII letters are
// folded to their closest ASCII form; anything that cannot be folded acts as
// a separator. An all-symbolic label yields "".
func Normalize(label string) string {
	ascii := transliterate(label)

	var (
		b     strings.Builder
		inRun bool
	)
	b.Grow(len(ascii))
	for i := 0; i < len(ascii); i++ {
		c := ascii[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') {
			if !inRun && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteByte(c)
			inRun = true
			continue
		}
		inRun = false
	}
	return b.String()
}

func transliterate(s string) string {
	if isASCII(s) {
		return s
	}

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	decomposed, _, err := transform.String(t, s)
	if err != nil {
		decomposed = s
	}

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case r < utf8.RuneSelf:
			b.WriteRune(r)
		case fold[r] != "":
			b.WriteString(fold[r])
		default:
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// NormalizeColumns normalizes every label and rejects the set if any label
// collapses to "", two labels collapse to the same identifier, or a label
// collapses to ControlColumn.
func NormalizeColumns(labels []string) ([]string, error) {
	out := make([]string, len(labels))
	seen := make(map[string]string, len(labels))

	for i, label := range labels {
		name := Normalize(label)
		switch {
		case name == "":
			return nil, &InvalidIdentifierError{Label: label, Reason: "normalizes to an empty name"}
		case name == ControlColumn:
			return nil, &InvalidIdentifierError{Label: label, Reason: "collides with reserved column " + ControlColumn}
		}
		if prev, dup := seen[name]; dup {
			return nil, &InvalidIdentifierError{
				Label:  label,
				Reason: fmt.Sprintf("normalizes to %q, same as %q", name, prev),
			}
		}
		seen[name] = label
		out[i] = name
	}
	return out, nil
}

// TableName normalizes a destination table name. Control ids are formed as
// <table><generation>, so a name ending in a digit is rejected: "t1" at
// generation 1 and "t" at generation 11 would share the id "t11".
func TableName(label string) (string, error) {
	name := Normalize(label)
	if name == "" {
		return "", &InvalidIdentifierError{Label: label, Reason: "normalizes to an empty table name"}
	}
	if last := name[len(name)-1]; '0' <= last && last <= '9' {
		return "", &InvalidIdentifierError{Label: label, Reason: "table name must not end in a digit"}
	}
	if name == ControlColumn || name == LedgerTable {
		return "", &InvalidIdentifierError{Label: label, Reason: "reserved name"}
	}
	return name, nil
}
