package core

import (
	"time"

	"github.com/JonMunkholm/tabledger/internal/ledger"
)

// SplitSpec explodes one delimited column of an ingested table into a child
// table. Each fragment of the cell becomes one child row.
type SplitSpec struct {
	Column     string `json:"column" yaml:"column"`
	Delimiter  string `json:"delimiter" yaml:"delimiter"`
	ChildTable string `json:"childTable" yaml:"child_table"`
	// LinkColumn names a parent column copied verbatim into every child row.
	// When empty, child rows carry the 1-based parent row number as "id".
	LinkColumn string `json:"linkColumn,omitempty" yaml:"link_column"`
	// RenameTo names the fragment column in the child table. Defaults to Column.
	RenameTo string `json:"renameTo,omitempty" yaml:"rename_to"`
}

// IngestResult describes one committed load.
type IngestResult struct {
	OperationID string        `json:"operationId"`
	Table       string        `json:"table"`
	Record      ledger.Record `json:"record"`
	Created     bool          `json:"created"`
	Columns     []string      `json:"columns"`
	Rows        int64         `json:"rows"`
	Children    []ChildResult `json:"children,omitempty"`
	Duration    time.Duration `json:"durationNs"`
}

// ChildResult describes one split child-table write.
type ChildResult struct {
	Table   string        `json:"table"`
	Column  string        `json:"column"`
	Record  ledger.Record `json:"record"`
	Created bool          `json:"created"`
	Rows    int64         `json:"rows"`
}

// HarmonizeResult describes one committed harmonization.
type HarmonizeResult struct {
	OperationID string            `json:"operationId"`
	Generation  int               `json:"generation"`
	Tables      []HarmonizedTable `json:"tables"`
	Duration    time.Duration     `json:"durationNs"`
}

// HarmonizedTable is the copy made for one table of the set.
type HarmonizedTable struct {
	Table  string        `json:"table"`
	From   string        `json:"from"`
	Record ledger.Record `json:"record"`
	Rows   int64         `json:"rows"`
}

// IngestPlan is what Ingest would do, computed without writing.
type IngestPlan struct {
	Table      string      `json:"table"`
	Columns    []string    `json:"columns"`
	NewColumns []string    `json:"newColumns,omitempty"`
	Exists     bool        `json:"exists"`
	ControlID  string      `json:"controlId"`
	Generation int         `json:"generation"`
	Rows       int         `json:"rows"`
	Splits     []SplitPlan `json:"splits,omitempty"`
}

// SplitPlan is the planned write for one SplitSpec.
type SplitPlan struct {
	ChildTable string `json:"childTable"`
	ControlID  string `json:"controlId"`
	Rows       int    `json:"rows"`
}

// Recorder receives operation outcomes, typically for metrics.
type Recorder interface {
	IngestCompleted(table string, rows int64, d time.Duration)
	HarmonizeCompleted(tables int, d time.Duration)
	OperationFailed(op, code string)
}

type nopRecorder struct{}

func (nopRecorder) IngestCompleted(string, int64, time.Duration) {}
func (nopRecorder) HarmonizeCompleted(int, time.Duration) {}
func (nopRecorder) OperationFailed(string, string) {}
