package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/JonMunkholm/tabledger/internal/ident"
	"github.com/JonMunkholm/tabledger/internal/ledger"
	"github.com/JonMunkholm/tabledger/internal/store"
	"github.com/JonMunkholm/tabledger/internal/tabular"
)

var testTime = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, store.Options{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "engine.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc, err := NewService(ctx, st, Options{
		Actor:      "tester",
		Clock:      func() time.Time { return testTime },
		WriterWait: time.Second,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func shipments() *tabular.Table {
	tbl := tabular.New("Shipment ID", "Weight (kg)")
	tbl.Append("S-1", int64(10))
	tbl.Append("S-2", int64(20))
	tbl.Append("S-3", int64(30))
	return tbl
}

// content drops control_id so generations can be compared by data alone.
func content(tbl *tabular.Table) []map[string]any {
	out := make([]map[string]any, len(tbl.Rows))
	for i, row := range tbl.Rows {
		m := make(map[string]any, len(row))
		for k, v := range row {
			if k != ident.ControlColumn {
				m[k] = v
			}
		}
		out[i] = m
	}
	return out
}

func mustRead(t *testing.T, svc *Service, table, controlID string) *tabular.Table {
	t.Helper()
	tbl, err := svc.ReadTable(context.Background(), table, controlID)
	if err != nil {
		t.Fatalf("ReadTable(%s, %s) error = %v", table, controlID, err)
	}
	return tbl
}

// ----------------------------------------------------------------------------
// Ingest Tests
// ----------------------------------------------------------------------------

func TestIngest_EndToEnd(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	first, err := svc.Ingest(ctx, shipments(), "shipments", "batch_2024")
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}
	if first.Record.ControlID != "shipments1" || first.Record.Generation != 1 || !first.Created {
		t.Errorf("first Ingest() = %+v", first.Record)
	}
	if first.Record.Source != "batch_2024" || first.Record.Actor != "tester" {
		t.Errorf("first record source/actor = %q/%q", first.Record.Source, first.Record.Actor)
	}
	if first.Rows != 3 {
		t.Errorf("first Ingest() rows = %d, want 3", first.Rows)
	}
	if !reflect.DeepEqual(first.Columns, []string{"control_id", "shipment_id", "weight_kg"}) {
		t.Errorf("columns = %v", first.Columns)
	}

	second, err := svc.Ingest(ctx, shipments(), "shipments", "batch_2024")
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if second.Record.ControlID != "shipments2" || second.Record.Generation != 2 || second.Created {
		t.Errorf("second Ingest() = %+v created=%v", second.Record, second.Created)
	}

	h, err := svc.Harmonize(ctx, []string{"shipments"})
	if err != nil {
		t.Fatalf("Harmonize() error = %v", err)
	}
	if h.Generation != 3 || h.Tables[0].Record.ControlID != "shipments3" || h.Tables[0].Rows != 3 {
		t.Errorf("Harmonize() = %+v", h)
	}
	if h.Tables[0].Record.Source != "batch_2024" {
		t.Errorf("harmonized source = %q, want batch_2024", h.Tables[0].Record.Source)
	}

	gen2 := mustRead(t, svc, "shipments", "shipments2")
	gen3 := mustRead(t, svc, "shipments", "shipments3")
	if !reflect.DeepEqual(content(gen2), content(gen3)) {
		t.Errorf("generation 3 = %v, want %v", content(gen3), content(gen2))
	}
	for _, row := range gen3.Rows {
		if row[ident.ControlColumn] != "shipments3" {
			t.Errorf("copied row control_id = %v", row[ident.ControlColumn])
		}
	}

	all := mustRead(t, svc, "shipments", "")
	if all.Len() != 9 {
		t.Errorf("total rows = %d, want 9", all.Len())
	}

	hist, err := svc.Ledger(ctx, "shipments")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 {
		t.Fatalf("ledger rows = %d, want 3", len(hist))
	}
	for i, rec := range hist {
		if rec.Generation != i+1 {
			t.Errorf("ledger[%d].Generation = %d", i, rec.Generation)
		}
		if !rec.InsertedAt.Equal(testTime) {
			t.Errorf("ledger[%d].InsertedAt = %v", i, rec.InsertedAt)
		}
	}
}

func TestIngest_GenerationsIncreaseByOne(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	for want := 1; want <= 6; want++ {
		res, err := svc.Ingest(ctx, shipments(), "loads", "src")
		if err != nil {
			t.Fatalf("Ingest() #%d error = %v", want, err)
		}
		if res.Record.Generation != want {
			t.Fatalf("Ingest() #%d generation = %d", want, res.Record.Generation)
		}
	}
}

func TestIngest_InvalidIdentifiers(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	tests := []struct {
		name    string
		columns []string
		table   string
	}{
		{"symbol-only column", []string{"ok", "!!!"}, "t"},
		{"duplicate after normalization", []string{"First Name", "first_name"}, "t"},
		{"reserved column", []string{"Control ID"}, "t"},
		{"empty table name", []string{"a"}, "***"},
		{"table ending in digit", []string{"a"}, "sales2024"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tabular.New(tt.columns...)
			_, err := svc.Ingest(ctx, in, tt.table, "src")
			if !errors.Is(err, ident.ErrInvalidIdentifier) {
				t.Errorf("Ingest() error = %v, want ErrInvalidIdentifier", err)
			}
		})
	}

	hist, err := svc.Ledger(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 0 {
		t.Errorf("ledger has %d rows after rejected ingests", len(hist))
	}
}

func TestIngest_DoesNotModifyInput(t *testing.T) {
	in := shipments()
	svc := newTestService(t)
	if _, err := svc.Ingest(context.Background(), in, "shipments", "src"); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in.Columns, []string{"Shipment ID", "Weight (kg)"}) {
		t.Errorf("input columns changed: %v", in.Columns)
	}
	if _, ok := in.Rows[0][ident.ControlColumn]; ok {
		t.Error("input rows were tagged")
	}
}

func TestIngest_NewColumnsExtendTable(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.Ingest(ctx, shipments(), "shipments", "a"); err != nil {
		t.Fatal(err)
	}

	wider := tabular.New("Shipment ID", "Weight (kg)", "Carrier")
	wider.Append("S-9", int64(5), "DHL")
	if _, err := svc.Ingest(ctx, wider, "shipments", "b"); err != nil {
		t.Fatalf("Ingest() with new column error = %v", err)
	}

	old := mustRead(t, svc, "shipments", "shipments1")
	if old.Rows[0]["carrier"] != nil {
		t.Errorf("old generation carrier = %v, want nil", old.Rows[0]["carrier"])
	}
	newer := mustRead(t, svc, "shipments", "shipments2")
	if newer.Rows[0]["carrier"] != "DHL" {
		t.Errorf("new generation carrier = %v", newer.Rows[0]["carrier"])
	}
}

func TestIngest_EmptyInputStillMints(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	res, err := svc.Ingest(ctx, tabular.New("a", "b"), "empty", "src")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Rows != 0 || res.Record.ControlID != "empty1" {
		t.Errorf("Ingest() = %+v", res)
	}
	tbl := mustRead(t, svc, "empty", "")
	if !reflect.DeepEqual(tbl.Columns, []string{"control_id", "a", "b"}) {
		t.Errorf("columns = %v", tbl.Columns)
	}
}

func TestIngest_ActorFromContext(t *testing.T) {
	svc := newTestService(t)
	ctx := ContextWithActor(context.Background(), "bob")

	res, err := svc.Ingest(ctx, shipments(), "shipments", "src")
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.Actor != "bob" {
		t.Errorf("actor = %q, want bob", res.Record.Actor)
	}
}

// ----------------------------------------------------------------------------
// Split Ingest Tests
// ----------------------------------------------------------------------------

func orders() *tabular.Table {
	tbl := tabular.New("Order ID", "Tags", "Regions")
	tbl.Append("A-1", "red,blue", "eu;us")
	tbl.Append("A-2", "", "us")
	tbl.Append("A-3", "green", nil)
	return tbl
}

func TestIngest_WithSplits(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	res, err := svc.Ingest(ctx, orders(), "orders", "orders.csv",
		SplitSpec{Column: "Tags", Delimiter: ",", ChildTable: "order_tags", LinkColumn: "Order ID", RenameTo: "tag"},
		SplitSpec{Column: "Regions", Delimiter: ";", ChildTable: "order_regions"},
	)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(res.Children) != 2 {
		t.Fatalf("children = %+v", res.Children)
	}
	if res.Children[0].Record.ControlID != "order_tags1" || res.Children[0].Rows != 3 {
		t.Errorf("tags child = %+v", res.Children[0])
	}
	if res.Children[1].Record.ControlID != "order_regions1" || res.Children[1].Rows != 3 {
		t.Errorf("regions child = %+v", res.Children[1])
	}

	tags := mustRead(t, svc, "order_tags", "order_tags1")
	wantTags := []map[string]any{
		{"order_id": "A-1", "tag": "red"},
		{"order_id": "A-1", "tag": "blue"},
		{"order_id": "A-3", "tag": "green"},
	}
	if !reflect.DeepEqual(content(tags), wantTags) {
		t.Errorf("order_tags = %v, want %v", content(tags), wantTags)
	}

	regions := mustRead(t, svc, "order_regions", "")
	wantRegions := []map[string]any{
		{"id": int64(1), "regions": "eu"},
		{"id": int64(1), "regions": "us"},
		{"id": int64(2), "regions": "us"},
	}
	if !reflect.DeepEqual(content(regions), wantRegions) {
		t.Errorf("order_regions = %v, want %v", content(regions), wantRegions)
	}

	// Every child link value exists among the parent's rows.
	parent := mustRead(t, svc, "orders", "orders1")
	ids := make(map[any]bool)
	for _, r := range parent.Rows {
		ids[r["order_id"]] = true
	}
	for _, r := range tags.Rows {
		if !ids[r["order_id"]] {
			t.Errorf("child %v has no parent", r)
		}
	}
}

func TestIngest_SplitOnControlID(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Ingest(ctx, orders(), "orders", "src",
		SplitSpec{Column: "Tags", Delimiter: ",", ChildTable: "order_tags", LinkColumn: "control_id"})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	tags := mustRead(t, svc, "order_tags", "")
	if tags.Len() != 3 {
		t.Fatalf("child rows = %d, want 3", tags.Len())
	}
	for _, r := range tags.Rows {
		if r[ident.ControlColumn] != "order_tags1" {
			t.Errorf("child control_id = %v", r[ident.ControlColumn])
		}
		if r[ParentControlColumn] != "orders1" {
			t.Errorf("child %s = %v, want orders1", ParentControlColumn, r[ParentControlColumn])
		}
	}
}

func TestIngest_SplitFragmentNamedID(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	in := tabular.New("ID", "Name")
	in.Append("1;2", "a")
	in.Append("3", "b")

	res, err := svc.Ingest(ctx, in, "bundles", "src", SplitSpec{Column: "ID", Delimiter: ";", ChildTable: "bundle_ids"})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(res.Children) != 1 || res.Children[0].Rows != 3 {
		t.Fatalf("children = %+v", res.Children)
	}

	ids := mustRead(t, svc, "bundle_ids", "")
	got := make(map[string]any)
	for _, r := range ids.Rows {
		got[tabular.FormatCell(r["id"])] = r[ParentIDColumn]
	}
	want := map[string]any{"1": int64(1), "2": int64(1), "3": int64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("fragment -> parent row = %v, want %v", got, want)
	}
}

func TestIngest_BadSplitWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Ingest(ctx, orders(), "orders", "src",
		SplitSpec{Column: "Missing", Delimiter: ",", ChildTable: "x"})
	if !errors.Is(err, ErrSplitFormat) {
		t.Fatalf("Ingest() error = %v, want ErrSplitFormat", err)
	}
	hist, _ := svc.Ledger(ctx, "")
	if len(hist) != 0 {
		t.Errorf("ledger rows = %d, want 0", len(hist))
	}
}

// ----------------------------------------------------------------------------
// Atomicity Tests
// ----------------------------------------------------------------------------

func TestIngest_FaultAfterMintLeavesNothing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.Ingest(ctx, shipments(), "shipments", "ok"); err != nil {
		t.Fatal(err)
	}

	injected := errors.New("injected failure")
	svc.afterMint = func(ledger.Record) error { return injected }

	for i := 0; i < 5; i++ {
		_, err := svc.Ingest(ctx, shipments(), "shipments", "faulty",
			SplitSpec{Column: "Shipment ID", Delimiter: "-", ChildTable: "shipment_parts"})
		if !errors.Is(err, injected) {
			t.Fatalf("Ingest() #%d error = %v, want injected", i, err)
		}

		hist, err := svc.Ledger(ctx, "shipments")
		if err != nil {
			t.Fatal(err)
		}
		if len(hist) != 1 {
			t.Fatalf("ledger rows after fault #%d = %d, want 1", i, len(hist))
		}
		all := mustRead(t, svc, "shipments", "")
		if all.Len() != 3 {
			t.Fatalf("data rows after fault #%d = %d, want 3", i, all.Len())
		}
		if _, err := svc.ReadTable(ctx, "shipment_parts", ""); !errors.Is(err, ErrMissingTable) {
			t.Fatalf("child table exists after fault: %v", err)
		}
	}

	svc.afterMint = nil
	res, err := svc.Ingest(ctx, shipments(), "shipments", "ok")
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.Generation != 2 {
		t.Errorf("generation after faults = %d, want 2", res.Record.Generation)
	}
}

func TestIngest_FailedAppendRollsBackLedger(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	// A column that already exists only on the database side as NOT NULL
	// makes the append fail after the record is minted.
	_, err := svc.st.Handle().DB.ExecContext(ctx,
		`CREATE TABLE "strict" ("control_id" TEXT NOT NULL, "a" TEXT, "required" TEXT NOT NULL)`)
	if err != nil {
		t.Fatal(err)
	}

	in := tabular.New("a")
	in.Append("x")
	if _, err := svc.Ingest(ctx, in, "strict", "src"); err == nil {
		t.Fatal("Ingest() succeeded, want NOT NULL failure")
	}

	hist, err := svc.Ledger(ctx, "strict")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 0 {
		t.Errorf("ledger rows = %d, want 0 after failed append", len(hist))
	}
}

// ----------------------------------------------------------------------------
// Harmonize Tests
// ----------------------------------------------------------------------------

func TestHarmonize_Convergence(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	load := func(table string, n int) {
		for i := 0; i < n; i++ {
			in := tabular.New("name", "load")
			in.Append(table, int64(i+1))
			if _, err := svc.Ingest(ctx, in, table, table+".csv"); err != nil {
				t.Fatal(err)
			}
		}
	}
	load("alpha", 1)
	load("beta", 1)
	load("gamma", 3)

	res, err := svc.Harmonize(ctx, []string{"alpha", "beta", "gamma"})
	if err != nil {
		t.Fatalf("Harmonize() error = %v", err)
	}
	if res.Generation != 4 {
		t.Errorf("Generation = %d, want 4", res.Generation)
	}

	from := map[string]string{"alpha": "alpha1", "beta": "beta1", "gamma": "gamma3"}
	for _, ht := range res.Tables {
		if ht.Record.Generation != 4 || ht.From != from[ht.Table] {
			t.Errorf("%s harmonized = %+v", ht.Table, ht)
		}
		before := mustRead(t, svc, ht.Table, from[ht.Table])
		after := mustRead(t, svc, ht.Table, ht.Record.ControlID)
		if !reflect.DeepEqual(content(before), content(after)) {
			t.Errorf("%s: generation 4 = %v, want %v", ht.Table, content(after), content(before))
		}
	}

	// Older generations are untouched.
	if n := mustRead(t, svc, "gamma", "").Len(); n != 4 {
		t.Errorf("gamma total rows = %d, want 4", n)
	}
}

func TestHarmonize_MissingTableWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.Ingest(ctx, shipments(), "shipments", "src"); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Harmonize(ctx, []string{"shipments", "nope", "ghost"})
	var mte *MissingTableError
	if !errors.As(err, &mte) {
		t.Fatalf("Harmonize() error = %v, want *MissingTableError", err)
	}
	if !reflect.DeepEqual(mte.Tables, []string{"nope", "ghost"}) {
		t.Errorf("missing = %v", mte.Tables)
	}

	latest, _, err := ledger.New(svc.st.Handle()).LatestGeneration(ctx, "shipments")
	if err != nil || latest != 1 {
		t.Errorf("shipments latest = %d, %v; want 1", latest, err)
	}
}

func TestHarmonize_NormalizesAndDedupes(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	if _, err := svc.Ingest(ctx, shipments(), "shipments", "src"); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Harmonize(ctx, []string{"Shipments", "shipments"})
	if err != nil {
		t.Fatalf("Harmonize() error = %v", err)
	}
	if len(res.Tables) != 1 || res.Generation != 2 {
		t.Errorf("Harmonize() = %+v", res)
	}

	if _, err := svc.Harmonize(ctx, nil); err == nil {
		t.Error("Harmonize(nil) succeeded")
	}
}

func TestHarmonize_WriterBusy(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	if _, err := svc.Ingest(ctx, shipments(), "shipments", "src"); err != nil {
		t.Fatal(err)
	}

	svc.gate = NewWriterGate(50 * time.Millisecond)
	if !svc.gate.TryAcquire() {
		t.Fatal("TryAcquire failed")
	}
	defer svc.gate.Release()

	if _, err := svc.Harmonize(ctx, []string{"shipments"}); !errors.Is(err, ErrWriterBusy) {
		t.Errorf("Harmonize() error = %v, want ErrWriterBusy", err)
	}
}

// ----------------------------------------------------------------------------
// Preview and Query Tests
// ----------------------------------------------------------------------------

func TestPreview(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	plan, err := svc.Preview(ctx, orders(), "orders",
		SplitSpec{Column: "Tags", Delimiter: ",", ChildTable: "order_tags"},
		SplitSpec{Column: "Regions", Delimiter: ";", ChildTable: "order_tags", RenameTo: "region"},
	)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if plan.Exists || plan.ControlID != "orders1" || plan.Rows != 3 {
		t.Errorf("plan = %+v", plan)
	}
	if len(plan.Splits) != 2 || plan.Splits[0].ControlID != "order_tags1" || plan.Splits[1].ControlID != "order_tags2" {
		t.Errorf("splits = %+v", plan.Splits)
	}
	if plan.Splits[0].Rows != 3 {
		t.Errorf("tag rows = %d, want 3", plan.Splits[0].Rows)
	}

	hist, _ := svc.Ledger(ctx, "")
	if len(hist) != 0 {
		t.Errorf("Preview wrote %d ledger rows", len(hist))
	}

	if _, err := svc.Ingest(ctx, orders(), "orders", "src"); err != nil {
		t.Fatal(err)
	}
	wider := tabular.New("Order ID", "Tags", "Regions", "Total")
	plan, err = svc.Preview(ctx, wider, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if !plan.Exists || plan.ControlID != "orders2" || !reflect.DeepEqual(plan.NewColumns, []string{"total"}) {
		t.Errorf("plan = %+v", plan)
	}
}

func TestQuerySurface(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	if _, err := svc.Ingest(ctx, shipments(), "shipments", "src"); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Query(ctx, `SELECT shipment_id FROM shipments WHERE weight_kg > ? ORDER BY shipment_id`, 15)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got := res.Column("shipment_id"); !reflect.DeepEqual(got, []any{"S-2", "S-3"}) {
		t.Errorf("Query() = %v", got)
	}

	path := filepath.Join(t.TempDir(), "count.sql")
	if err := os.WriteFile(path, []byte(`SELECT COUNT(*) AS n FROM shipments`), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err = svc.QueryFile(ctx, path)
	if err != nil {
		t.Fatalf("QueryFile() error = %v", err)
	}
	if res.Rows[0]["n"] != int64(3) {
		t.Errorf("QueryFile() = %v", res.Rows)
	}

	if _, err := svc.Query(ctx, "  "); err == nil {
		t.Error("Query(empty) succeeded")
	}
	if _, err := svc.ReadTable(ctx, "nope", ""); !errors.Is(err, ErrMissingTable) {
		t.Errorf("ReadTable(nope) error = %v", err)
	}

	sums, err := svc.Tables(ctx)
	if err != nil || len(sums) != 1 || sums[0].Table != "shipments" {
		t.Errorf("Tables() = %+v, %v", sums, err)
	}
}
