package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingTable matches every *MissingTableError.
var ErrMissingTable = errors.New("missing table")

// MissingTableError lists tables that have no loaded generation.
type MissingTableError struct {
	Tables []string
}

func (e *MissingTableError) Error() string {
	return fmt.Sprintf("table not found or never loaded: %s", strings.Join(e.Tables, ", "))
}

func (e *MissingTableError) Is(target error) bool { return target == ErrMissingTable }

// ErrSplitFormat matches every *SplitFormatError.
var ErrSplitFormat = errors.New("invalid split specification")

// SplitFormatError reports an unusable split specification.
type SplitFormatError struct {
	Column string
	Reason string
}

func (e *SplitFormatError) Error() string {
	if e.Column == "" {
		return "invalid split specification: " + e.Reason
	}
	return fmt.Sprintf("invalid split specification for column %q: %s", e.Column, e.Reason)
}

func (e *SplitFormatError) Is(target error) bool { return target == ErrSplitFormat }
