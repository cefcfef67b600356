package source

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ============================================================================
// sanitizeUTF8 / stripBOM Tests
// ============================================================================

func TestSanitizeUTF8(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  []byte
	}{
		{name: "valid UTF-8 unchanged", input: []byte("hello world"), want: []byte("hello world")},
		{name: "empty input", input: []byte{}, want: []byte{}},
		{name: "valid unicode", input: []byte("hello \xe4\xb8\x96\xe7\x95\x8c"), want: []byte("hello \xe4\xb8\x96\xe7\x95\x8c")},
		{name: "invalid byte replaced", input: []byte{0x80}, want: []byte("�")},
		{name: "mixed valid and invalid", input: []byte("hello\x80world"), want: []byte("hello�world")},
		{name: "Latin-1 high bytes replaced", input: []byte("caf\xe9"), want: []byte("caf�")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeUTF8(tt.input)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("sanitizeUTF8(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestStripBOM(t *testing.T) {
	if got := stripBOM([]byte("\xEF\xBB\xBFa,b")); string(got) != "a,b" {
		t.Errorf("stripBOM() = %q", got)
	}
	if got := stripBOM([]byte("a,b")); string(got) != "a,b" {
		t.Errorf("stripBOM() without BOM = %q", got)
	}
}

// ============================================================================
// Delimited Text Tests
// ============================================================================

func TestRead_CSV(t *testing.T) {
	data := "\xEF\xBB\xBFName,Qty,Joined\nAlice,3,2024-01-15\n\n,,\nBob,,\n"
	tbl, err := Read(strings.NewReader(data), "csv", Options{})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if !reflect.DeepEqual(tbl.Columns, []string{"Name", "Qty", "Joined"}) {
		t.Errorf("Columns = %v", tbl.Columns)
	}
	if tbl.Len() != 2 {
		t.Fatalf("rows = %d, want 2 (blank rows skipped)", tbl.Len())
	}
	if tbl.Rows[0]["Qty"] != int64(3) {
		t.Errorf("Qty = %#v", tbl.Rows[0]["Qty"])
	}
	if joined, ok := tbl.Rows[0]["Joined"].(time.Time); !ok || joined.Day() != 15 {
		t.Errorf("Joined = %#v", tbl.Rows[0]["Joined"])
	}
	if tbl.Rows[1]["Qty"] != nil {
		t.Errorf("empty cell = %#v, want nil", tbl.Rows[1]["Qty"])
	}
}

func TestRead_CSVShortRowsPadded(t *testing.T) {
	tbl, err := Read(strings.NewReader("a,b,c\n1\n"), "csv", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Rows[0]["a"] != int64(1) || tbl.Rows[0]["c"] != nil {
		t.Errorf("row = %#v", tbl.Rows[0])
	}
}

func TestRead_SkipRowsAndRename(t *testing.T) {
	data := "Report generated 2024\nignore me\ncol a,col b\nx,y\n"
	tbl, err := Read(strings.NewReader(data), "csv", Options{
		SkipRows: 2,
		Rename:   []string{"first", "second"},
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !reflect.DeepEqual(tbl.Columns, []string{"first", "second"}) {
		t.Errorf("Columns = %v", tbl.Columns)
	}
	if tbl.Rows[0]["second"] != "y" {
		t.Errorf("row = %#v", tbl.Rows[0])
	}
}

func TestRead_RenameMismatch(t *testing.T) {
	_, err := Read(strings.NewReader("a,b\n1,2\n"), "csv", Options{Rename: []string{"only"}})
	if err == nil || !strings.Contains(err.Error(), "rename list") {
		t.Errorf("Read() error = %v, want rename list error", err)
	}
}

func TestRead_TSVAndDelimiter(t *testing.T) {
	tbl, err := Read(strings.NewReader("a\tb\n1\t2\n"), "tsv", Options{})
	if err != nil || tbl.Rows[0]["b"] != int64(2) {
		t.Errorf("tsv = %v, %v", tbl, err)
	}

	tbl, err = Read(strings.NewReader("a;b\n1;2\n"), "csv", Options{Delimiter: ';'})
	if err != nil || tbl.Rows[0]["b"] != int64(2) {
		t.Errorf("semicolon csv = %v, %v", tbl, err)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format string
		opts   Options
		want   string
	}{
		{"empty", "", "csv", Options{}, "empty file"},
		{"whitespace only", " \n\n", "csv", Options{}, "empty file"},
		{"skip past end", "a,b\n", "csv", Options{SkipRows: 3}, "empty file"},
		{"unknown format", "a", "pdf", Options{}, "unsupported format"},
		{"too large", "a,b\n1,2\n", "csv", Options{MaxFileSize: 4}, "file too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.data), tt.format, tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Read() error = %v, want %q", err, tt.want)
			}
		})
	}
}

// ============================================================================
// JSON Tests
// ============================================================================

func TestRead_JSONArray(t *testing.T) {
	data := `[{"zeta": 1, "alpha": "x", "nested": {"k": [1,2]}}, {"alpha": "y", "extra": true, "zeta": 2.5}]`
	tbl, err := Read(strings.NewReader(data), "json", Options{})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	// Key order follows the document, not alphabetical order.
	if !reflect.DeepEqual(tbl.Columns, []string{"zeta", "alpha", "nested", "extra"}) {
		t.Errorf("Columns = %v", tbl.Columns)
	}
	if tbl.Rows[0]["zeta"] != int64(1) || tbl.Rows[1]["zeta"] != 2.5 {
		t.Errorf("zeta = %#v, %#v", tbl.Rows[0]["zeta"], tbl.Rows[1]["zeta"])
	}
	if tbl.Rows[0]["nested"] != `{"k":[1,2]}` {
		t.Errorf("nested = %#v", tbl.Rows[0]["nested"])
	}
	if tbl.Rows[0]["extra"] != nil || tbl.Rows[1]["extra"] != true {
		t.Errorf("extra = %#v, %#v", tbl.Rows[0]["extra"], tbl.Rows[1]["extra"])
	}
}

func TestRead_JSONLines(t *testing.T) {
	data := "{\"a\": 1}\n{\"a\": 2, \"b\": null}\n\n{\"a\": 3}\n"
	for _, format := range []string{"jsonl", "json"} {
		t.Run(format, func(t *testing.T) {
			tbl, err := Read(strings.NewReader(data), format, Options{})
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if tbl.Len() != 3 || !reflect.DeepEqual(tbl.Columns, []string{"a", "b"}) {
				t.Errorf("table = %v rows, columns %v", tbl.Len(), tbl.Columns)
			}
		})
	}
}

func TestRead_JSONInvalid(t *testing.T) {
	_, err := Read(strings.NewReader(`[{"a": 1}, 5]`), "json", Options{})
	if err == nil || !strings.Contains(err.Error(), "parse error") {
		t.Errorf("Read() error = %v, want parse error", err)
	}
}

// ============================================================================
// Spreadsheet Tests
// ============================================================================

func writeWorkbook(t *testing.T, path string, sheets map[string][][]any, order []string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatal(err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			t.Fatal(err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				t.Fatal(err)
			}
			if err := f.SetSheetRow(name, cell, &row); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
}

func TestReadFile_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.xlsx")
	writeWorkbook(t, path, map[string][][]any{
		"Summary": {{"ignored"}},
		"Orders": {
			{"title row"},
			{"Order ID", "Tags"},
			{"A-1", "red,blue"},
			{"A-2", "green"},
		},
	}, []string{"Summary", "Orders"})

	tbl, err := ReadFile(path, Options{Sheet: "Orders", SkipRows: 1})
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !reflect.DeepEqual(tbl.Columns, []string{"Order ID", "Tags"}) {
		t.Errorf("Columns = %v", tbl.Columns)
	}
	if tbl.Len() != 2 || tbl.Rows[0]["Tags"] != "red,blue" {
		t.Errorf("rows = %#v", tbl.Rows)
	}

	first, err := ReadFile(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first.Columns, []string{"ignored"}) {
		t.Errorf("default sheet columns = %v", first.Columns)
	}

	if _, err := ReadFile(path, Options{Sheet: "Nope"}); err == nil {
		t.Error("ReadFile() with missing sheet succeeded")
	}
}

// ============================================================================
// ReadFile / Registry Tests
// ============================================================================

func TestReadFile_ByExtension(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "a.CSV", "x\n1\n")
	jsonPath := writeFile(t, dir, "b.ndjson", "{\"x\": 1}\n")

	for _, p := range []string{csvPath, jsonPath} {
		tbl, err := ReadFile(p, Options{})
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", p, err)
		}
		if tbl.Rows[0]["x"] != int64(1) {
			t.Errorf("ReadFile(%s) = %#v", p, tbl.Rows[0])
		}
	}

	pdf := writeFile(t, dir, "c.pdf", "%PDF")
	if _, err := ReadFile(pdf, Options{}); err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Errorf("ReadFile(pdf) error = %v", err)
	}

	// An explicit format wins over the extension.
	odd := writeFile(t, dir, "d.dat", "x\n2\n")
	tbl, err := ReadFile(odd, Options{Format: "csv"})
	if err != nil || tbl.Rows[0]["x"] != int64(2) {
		t.Errorf("ReadFile(d.dat, csv) = %v, %v", tbl, err)
	}
}

func TestRegistry(t *testing.T) {
	if got := Formats(); !reflect.DeepEqual(got, []string{"csv", "json", "jsonl", "tsv", "xlsx"}) {
		t.Errorf("Formats() = %v", got)
	}
	if f, ok := FormatForPath("/x/y/Report.XLSX"); !ok || f != "xlsx" {
		t.Errorf("FormatForPath() = %s, %v", f, ok)
	}
	if _, ok := Lookup(".json"); !ok {
		t.Error("Lookup(.json) failed")
	}

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register did not panic")
		}
	}()
	Register("csv", ReaderFunc(readCSV))
}

// ============================================================================
// Folder Tests
// ============================================================================

func TestReadFolder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "2024-01.csv", "Date,Amount,Note\n2024-01-01,10,a\n")
	writeFile(t, dir, "2024-02.csv", "date,amount,note,Region\n2024-02-01,20,b,eu\n2024-02-02,30,c,us\n")
	writeFile(t, dir, "2024-03.json", `[{"Amount": 40, "DATE": "2024-03-01", "note": "d"}]`)
	writeFile(t, dir, ".hidden.csv", "junk\n1\n")
	writeFile(t, dir, "readme.md", "# not data")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := ReadFolder(context.Background(), dir, Options{}, 2)
	if err != nil {
		t.Fatalf("ReadFolder() error = %v", err)
	}

	if !reflect.DeepEqual(res.Files, []string{"2024-01.csv", "2024-02.csv", "2024-03.json"}) {
		t.Errorf("Files = %v", res.Files)
	}
	if !reflect.DeepEqual(res.Table.Columns, []string{"source_file", "date", "amount", "note"}) {
		t.Errorf("Columns = %v", res.Table.Columns)
	}
	if !reflect.DeepEqual(res.Dropped, []string{"region"}) {
		t.Errorf("Dropped = %v", res.Dropped)
	}
	if res.Table.Len() != 4 {
		t.Fatalf("rows = %d, want 4", res.Table.Len())
	}
	if res.Table.Rows[3]["source_file"] != "2024-03.json" || res.Table.Rows[3]["amount"] != int64(40) {
		t.Errorf("last row = %#v", res.Table.Rows[3])
	}
}

func TestReadFolder_Empty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.md", "nothing")
	_, err := ReadFolder(context.Background(), dir, Options{}, 0)
	if err == nil || !strings.Contains(err.Error(), "no file provided") {
		t.Errorf("ReadFolder() error = %v", err)
	}
}

func TestReadFolder_BadFileFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "x\n1\n")
	writeFile(t, dir, "b.csv", "")
	_, err := ReadFolder(context.Background(), dir, Options{}, 1)
	if err == nil {
		t.Fatal("ReadFolder() succeeded with an empty file")
	}
	if errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want the file error", err)
	}
}
