package core

// # Error Codes Reference
//
// Technical errors are mapped to user-facing messages with a code that can
// be quoted when reporting a problem. Typed errors from the engine are
// matched first with errors.Is; everything else falls back to
// case-insensitive substring patterns on the error text.
//
// # Engine Errors
//
//	ID001   - Invalid identifier: a table or column name is empty, reserved
//	          or duplicated after normalization (ident.ErrInvalidIdentifier)
//	LED001  - Ledger write: a control record could not be appended
//	          (ledger.ErrLedgerWrite)
//	HAR001  - Missing table: a table has no loaded generation (ErrMissingTable)
//	SPL001  - Split format: a split specification is unusable (ErrSplitFormat)
//	GATE001 - Writer busy: another ingest or harmonize holds the writer gate
//	          (ErrWriterBusy)
//	REQ001  - Request cancelled (context.Canceled)
//	REQ002  - Request timed out (context.DeadlineExceeded)
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key          Patterns: "duplicate key"
//	DB002 - Unique constraint      Patterns: "unique constraint", "violates unique"
//	DB003 - No such table/column   Patterns: "no such table", "no such column", "does not exist"
//	DB004 - Connection refused     Patterns: "connection refused"
//	DB005 - Connection reset       Patterns: "connection reset"
//	DB006 - Database busy          Patterns: "database is locked", "deadlock"
//	DB007 - Query syntax           Patterns: "syntax error"
//	DB008 - Column conflict        Patterns: "duplicate column", "already exists"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large       Patterns: "file too large"
//	FILE002 - Unsupported format   Patterns: "unsupported format"
//	FILE003 - Parse error          Patterns: "parse error"
//	FILE004 - No file              Patterns: "no file provided"
//	FILE005 - Empty file           Patterns: "empty file"
//	FILE006 - Header mismatch      Patterns: "rename list"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the logs for the original error.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/tabledger/internal/ident"
	"github.com/JonMunkholm/tabledger/internal/ledger"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type errorTarget struct {
	target error
	msg    UserMessage
}

// errorTargets are checked with errors.Is before any pattern.
var errorTargets = []errorTarget{
	{
		target: ident.ErrInvalidIdentifier,
		msg: UserMessage{
			Message: "A table or column name is invalid",
			Action:  "Rename the column or table so it contains letters or digits and is unique",
			Code:    "ID001",
		},
	},
	{
		target: ledger.ErrLedgerWrite,
		msg: UserMessage{
			Message: "The load could not be recorded in the ledger",
			Action:  "Check the ledger history for this table before retrying",
			Code:    "LED001",
		},
	},
	{
		target: ErrMissingTable,
		msg: UserMessage{
			Message: "A table has no loaded generation",
			Action:  "Load every table before harmonizing or reading it",
			Code:    "HAR001",
		},
	},
	{
		target: ErrSplitFormat,
		msg: UserMessage{
			Message: "The split specification is invalid",
			Action:  "Give one delimiter per split column and match link and rename lists",
			Code:    "SPL001",
		},
	},
	{
		target: ErrWriterBusy,
		msg: UserMessage{
			Message: "Another load is in progress",
			Action:  "Please wait a moment and try again",
			Code:    "GATE001",
		},
	},
	{
		target: context.Canceled,
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		target: context.DeadlineExceeded,
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or raise INGEST_TIMEOUT",
			Code:    "REQ002",
		},
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns map technical error text (case-insensitive) to user
// messages. The first match wins, so specific patterns come first.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database Errors (DB001-DB008)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Review the ledger for an earlier load of this generation",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},
	{
		pattern: "no such table",
		msg: UserMessage{
			Message: "Table or column does not exist",
			Action:  "Check the name against the ledger overview",
			Code:    "DB003",
		},
	},
	{
		pattern: "no such column",
		msg: UserMessage{
			Message: "Table or column does not exist",
			Action:  "Check the name against the ledger overview",
			Code:    "DB003",
		},
	},
	{
		pattern: "does not exist",
		msg: UserMessage{
			Message: "Table or column does not exist",
			Action:  "Check the name against the ledger overview",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with another writer",
			Action:  "Make sure only one process loads into this store",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB006",
		},
	},
	{
		pattern: "syntax error",
		msg: UserMessage{
			Message: "The query could not be parsed",
			Action:  "Check the SQL statement",
			Code:    "DB007",
		},
	},
	{
		pattern: "duplicate column",
		msg: UserMessage{
			Message: "Two columns would share one name in the table",
			Action:  "Rename the input or split columns so every column name is unique",
			Code:    "DB008",
		},
	},
	{
		pattern: "already exists",
		msg: UserMessage{
			Message: "A column or table with that name already exists",
			Action:  "Rename the input or split columns so every column name is unique",
			Code:    "DB008",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE006)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "unsupported format",
		msg: UserMessage{
			Message: "File format is not supported",
			Action:  "Use .csv, .tsv, .json, .jsonl or .xlsx",
			Code:    "FILE002",
		},
	},
	{
		pattern: "parse error",
		msg: UserMessage{
			Message: "File could not be parsed",
			Action:  "Check the delimiter and that rows have consistent columns",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was provided",
			Action:  "Attach a file to load",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The file has no header row",
			Action:  "Upload a file with a header row",
			Code:    "FILE005",
		},
	},
	{
		pattern: "rename list",
		msg: UserMessage{
			Message: "The rename list does not match the file's columns",
			Action:  "Give exactly one name per column",
			Code:    "FILE006",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or check the logs",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Typed
// engine errors are matched first, then text patterns, then ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, et := range errorTargets {
		if errors.Is(err, et.target) {
			return et.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
