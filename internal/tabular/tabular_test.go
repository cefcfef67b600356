package tabular

import (
	"reflect"
	"testing"
)

func TestTable_Append(t *testing.T) {
	tbl := New("a", "b")
	tbl.Append("x", 1)
	tbl.Append("y")

	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}
	if got := tbl.Rows[0]["b"]; got != int64(1) {
		t.Errorf("row 0 b = %#v, want int64(1)", got)
	}
	if got, ok := tbl.Rows[1]["b"]; !ok || got != nil {
		t.Errorf("row 1 b = %#v (present=%v), want nil", got, ok)
	}
}

func TestTable_Rename(t *testing.T) {
	tbl := New("First Name", "Age")
	tbl.Append("Alice", 30)

	if err := tbl.Rename([]string{"name", "age"}); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if !reflect.DeepEqual(tbl.Columns, []string{"name", "age"}) {
		t.Errorf("Columns = %v", tbl.Columns)
	}
	want := Row{"name": "Alice", "age": int64(30)}
	if !reflect.DeepEqual(tbl.Rows[0], want) {
		t.Errorf("row = %#v, want %#v", tbl.Rows[0], want)
	}
}

func TestTable_RenameSwap(t *testing.T) {
	tbl := New("a", "b")
	tbl.Append("1", "2")

	if err := tbl.Rename([]string{"b", "a"}); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if tbl.Rows[0]["b"] != "1" || tbl.Rows[0]["a"] != "2" {
		t.Errorf("swap lost values: %#v", tbl.Rows[0])
	}
}

func TestTable_RenameLengthMismatch(t *testing.T) {
	tbl := New("a", "b")
	if err := tbl.Rename([]string{"x"}); err == nil {
		t.Fatal("Rename() expected error for length mismatch")
	}
}

func TestTable_Values(t *testing.T) {
	tbl := New("a", "b", "c")
	tbl.Append("x", nil, 2.5)
	got := tbl.Values(tbl.Rows[0])
	want := []any{"x", nil, 2.5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Values() = %#v, want %#v", got, want)
	}
}
