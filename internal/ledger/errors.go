package ledger

import (
	"errors"
	"fmt"
)

// ErrLedgerWrite matches every *WriteError.
var ErrLedgerWrite = errors.New("ledger write failed")

// WriteError reports a control record that could not be appended. Conflict
// is set when the store rejected a duplicate control id or generation.
type WriteError struct {
	ControlID string
	Conflict  bool
	Err       error
}

func (e *WriteError) Error() string {
	if e.Conflict {
		return fmt.Sprintf("ledger write %s: duplicate control record: %v", e.ControlID, e.Err)
	}
	return fmt.Sprintf("ledger write %s: %v", e.ControlID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrLedgerWrite }
