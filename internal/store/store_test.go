package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/tabledger/internal/tabular"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), Options{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "store.db"),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// ----------------------------------------------------------------------------
// Dialect Tests
// ----------------------------------------------------------------------------

func TestDialectFor(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "sqlite", false},
		{"sqlite", "sqlite", false},
		{"SQLite3", "sqlite", false},
		{"postgres", "postgres", false},
		{"pgx", "postgres", false},
		{"duckdb", "duckdb", false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := DialectFor(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DialectFor(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && d.Name != tt.want {
				t.Errorf("DialectFor(%q) = %s, want %s", tt.in, d.Name, tt.want)
			}
		})
	}
}

func TestDialect_Placeholder(t *testing.T) {
	if got := SQLite.Placeholder(3); got != "?" {
		t.Errorf("sqlite placeholder = %q", got)
	}
	if got := DuckDB.Placeholder(3); got != "?" {
		t.Errorf("duckdb placeholder = %q", got)
	}
	if got := Postgres.Placeholder(3); got != "$3" {
		t.Errorf("postgres placeholder = %q", got)
	}
}

func TestDialect_KindOf(t *testing.T) {
	tests := []struct {
		dbType string
		want   tabular.Kind
	}{
		{"TEXT", tabular.KindText},
		{"VARCHAR", tabular.KindText},
		{"INTEGER", tabular.KindInteger},
		{"INT8", tabular.KindInteger},
		{"BIGINT", tabular.KindInteger},
		{"REAL", tabular.KindFloat},
		{"FLOAT8", tabular.KindFloat},
		{"DOUBLE PRECISION", tabular.KindFloat},
		{"BOOLEAN", tabular.KindBool},
		{"BOOL", tabular.KindBool},
		{"TIMESTAMP", tabular.KindTime},
		{"TIMESTAMPTZ", tabular.KindTime},
		{"", tabular.KindText},
	}

	for _, tt := range tests {
		t.Run(tt.dbType, func(t *testing.T) {
			if got := SQLite.KindOf(tt.dbType); got != tt.want {
				t.Errorf("KindOf(%q) = %v, want %v", tt.dbType, got, tt.want)
			}
		})
	}
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct{ in, want string }{
		{"orders", `"orders"`},
		{`we"ird`, `"we""ird"`},
	}
	for _, tt := range tests {
		if got := QuoteIdentifier(tt.in); got != tt.want {
			t.Errorf("QuoteIdentifier(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// Handle Tests
// ----------------------------------------------------------------------------

func TestHandle_CreateInsertRead(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	h := st.Handle()

	exists, err := h.TableExists(ctx, "items")
	if err != nil || exists {
		t.Fatalf("TableExists() = %v, %v before create", exists, err)
	}

	cols := []Column{
		{Name: "control_id", Kind: tabular.KindText},
		{Name: "name", Kind: tabular.KindText},
		{Name: "qty", Kind: tabular.KindInteger},
	}
	if err := h.CreateTable(ctx, "items", cols); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}

	exists, err = h.TableExists(ctx, "items")
	if err != nil || !exists {
		t.Fatalf("TableExists() = %v, %v after create", exists, err)
	}

	got, err := h.Columns(ctx, "items")
	if err != nil {
		t.Fatalf("Columns() error = %v", err)
	}
	if len(got) != 3 || got[2].Name != "qty" || got[2].Kind != tabular.KindInteger {
		t.Errorf("Columns() = %+v", got)
	}

	rows := [][]any{
		{"items1", "a", int64(1)},
		{"items1", "b", int64(2)},
		{"items1", "c", nil},
	}
	// A tiny parameter budget forces one statement per row.
	n, err := h.Insert(ctx, "items", []string{"control_id", "name", "qty"}, rows, 3)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Insert() = %d, want 3", n)
	}

	tbl, err := h.ReadTable(ctx, "items", "items1")
	if err != nil {
		t.Fatalf("ReadTable() error = %v", err)
	}
	if tbl.Len() != 3 {
		t.Fatalf("ReadTable() rows = %d, want 3", tbl.Len())
	}
	if tbl.Rows[1]["name"] != "b" || tbl.Rows[1]["qty"] != int64(2) {
		t.Errorf("row 1 = %#v", tbl.Rows[1])
	}
	if tbl.Rows[2]["qty"] != nil {
		t.Errorf("row 2 qty = %#v, want nil", tbl.Rows[2]["qty"])
	}
}

func TestHandle_InsertRowWidthMismatch(t *testing.T) {
	ctx := context.Background()
	h := openTestStore(t).Handle()
	if err := h.CreateTable(ctx, "t", []Column{{Name: "a"}, {Name: "b"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Insert(ctx, "t", []string{"a", "b"}, [][]any{{"x"}}, 0); err == nil {
		t.Fatal("Insert() expected error for short row")
	}
}

func TestHandle_AddColumn(t *testing.T) {
	ctx := context.Background()
	h := openTestStore(t).Handle()
	if err := h.CreateTable(ctx, "t", []Column{{Name: "control_id"}, {Name: "a"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Insert(ctx, "t", []string{"control_id", "a"}, [][]any{{"t1", "x"}}, 0); err != nil {
		t.Fatal(err)
	}
	if err := h.AddColumn(ctx, "t", Column{Name: "b", Kind: tabular.KindFloat}); err != nil {
		t.Fatalf("AddColumn() error = %v", err)
	}

	tbl, err := h.ReadTable(ctx, "t", "")
	if err != nil {
		t.Fatal(err)
	}
	if !tbl.HasColumn("b") {
		t.Fatalf("columns = %v, want b present", tbl.Columns)
	}
	if tbl.Rows[0]["b"] != nil {
		t.Errorf("old row b = %#v, want nil", tbl.Rows[0]["b"])
	}
}

func TestHandle_CopyGeneration(t *testing.T) {
	ctx := context.Background()
	h := openTestStore(t).Handle()
	if err := h.CreateTable(ctx, "t", []Column{{Name: "control_id"}, {Name: "v"}}); err != nil {
		t.Fatal(err)
	}
	rows := [][]any{{"t1", "old"}, {"t2", "x"}, {"t2", "y"}}
	if _, err := h.Insert(ctx, "t", []string{"control_id", "v"}, rows, 0); err != nil {
		t.Fatal(err)
	}

	n, err := h.CopyGeneration(ctx, "t", "t2", "t5")
	if err != nil {
		t.Fatalf("CopyGeneration() error = %v", err)
	}
	if n != 2 {
		t.Errorf("CopyGeneration() = %d, want 2", n)
	}

	copied, err := h.ReadTable(ctx, "t", "t5")
	if err != nil {
		t.Fatal(err)
	}
	if copied.Len() != 2 || copied.Rows[0]["v"] != "x" || copied.Rows[1]["v"] != "y" {
		t.Errorf("copied rows = %#v", copied.Rows)
	}

	original, err := h.ReadTable(ctx, "t", "t2")
	if err != nil {
		t.Fatal(err)
	}
	if original.Len() != 2 {
		t.Errorf("original generation rows = %d, want 2", original.Len())
	}
}

// ----------------------------------------------------------------------------
// Transaction Tests
// ----------------------------------------------------------------------------

func TestStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	boom := errors.New("boom")

	err := st.InTx(ctx, func(h Handle) error {
		if err := h.CreateTable(ctx, "t", []Column{{Name: "a"}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, want boom", err)
	}

	exists, err := st.Handle().TableExists(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("table survived rollback")
	}
}

func TestStore_InTxCommits(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	err := st.InTx(ctx, func(h Handle) error {
		return h.CreateTable(ctx, "t", []Column{{Name: "a"}})
	})
	if err != nil {
		t.Fatalf("InTx() error = %v", err)
	}

	exists, err := st.Handle().TableExists(ctx, "t")
	if err != nil || !exists {
		t.Errorf("TableExists() = %v, %v after commit", exists, err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	h := openTestStore(t).Handle()
	if _, err := h.DB.ExecContext(ctx, `CREATE TABLE u (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Insert(ctx, "u", []string{"id"}, [][]any{{"a"}}, 0); err != nil {
		t.Fatal(err)
	}

	_, err := h.Insert(ctx, "u", []string{"id"}, [][]any{{"a"}}, 0)
	if err == nil {
		t.Fatal("second insert succeeded")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false", err)
	}
	if IsUniqueViolation(errors.New("disk full")) {
		t.Error("IsUniqueViolation(unrelated) = true")
	}
	if IsUniqueViolation(nil) {
		t.Error("IsUniqueViolation(nil) = true")
	}
}
