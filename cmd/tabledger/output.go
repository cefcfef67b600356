package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/JonMunkholm/tabledger/internal/core"
	"github.com/JonMunkholm/tabledger/internal/ledger"
	"github.com/JonMunkholm/tabledger/internal/tabular"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printGrid writes header and rows in the selected output format. JSON
// output is produced by the callers from their typed values.
func (a *app) printGrid(w io.Writer, header []string, rows [][]string) error {
	if a.output == "csv" {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	writeRow := func(cells []string) {
		for i, c := range cells {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, c)
		}
		fmt.Fprintln(tw)
	}
	writeRow(header)
	for _, r := range rows {
		writeRow(r)
	}
	return tw.Flush()
}

func (a *app) printTable(w io.Writer, tbl *tabular.Table) error {
	if a.output == "json" {
		rows := make([]map[string]any, len(tbl.Rows))
		for i, r := range tbl.Rows {
			rows[i] = r
		}
		return writeJSON(w, map[string]any{"columns": tbl.Columns, "rows": rows})
	}

	rows := make([][]string, len(tbl.Rows))
	for i, r := range tbl.Rows {
		rows[i] = make([]string, len(tbl.Columns))
		for j, c := range tbl.Columns {
			rows[i][j] = tabular.FormatCell(r[c])
		}
	}
	return a.printGrid(w, tbl.Columns, rows)
}

func (a *app) printRecords(w io.Writer, records []ledger.Record) error {
	if a.output == "json" {
		if records == nil {
			records = []ledger.Record{}
		}
		return writeJSON(w, records)
	}
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{r.ControlID, r.Table, strconv.Itoa(r.Generation), r.Source, r.InsertedAt.Format(time.RFC3339), r.Actor}
	}
	return a.printGrid(w, []string{"control_id", "table_name", "upload", "source", "insert_date", "user_id"}, rows)
}

func (a *app) printSummaries(w io.Writer, tables []ledger.TableSummary) error {
	if a.output == "json" {
		if tables == nil {
			tables = []ledger.TableSummary{}
		}
		return writeJSON(w, tables)
	}
	rows := make([][]string, len(tables))
	for i, t := range tables {
		last := t.LastInsert.Format(time.RFC3339)
		if a.output == "text" {
			last = humanize.Time(t.LastInsert)
		}
		rows[i] = []string{t.Table, strconv.Itoa(t.LatestGeneration), strconv.Itoa(t.Loads), last}
	}
	return a.printGrid(w, []string{"table", "latest", "loads", "last_insert"}, rows)
}

func (a *app) printIngest(w io.Writer, res *core.IngestResult) error {
	if a.output == "json" {
		return writeJSON(w, res)
	}
	rows := [][]string{ingestRow(res.Record, res.Rows, res.Created, res.Duration)}
	for _, c := range res.Children {
		rows = append(rows, ingestRow(c.Record, c.Rows, c.Created, res.Duration))
	}
	return a.printGrid(w, []string{"control_id", "table", "rows", "created", "duration"}, rows)
}

func ingestRow(rec ledger.Record, rows int64, created bool, d time.Duration) []string {
	return []string{rec.ControlID, rec.Table, humanize.Comma(rows), strconv.FormatBool(created), d.Round(time.Millisecond).String()}
}

func (a *app) printPlan(w io.Writer, plan *core.IngestPlan) error {
	if a.output == "json" {
		return writeJSON(w, plan)
	}
	rows := [][]string{{plan.ControlID, plan.Table, strconv.Itoa(plan.Rows), strconv.FormatBool(plan.Exists), fmt.Sprint(plan.NewColumns)}}
	for _, s := range plan.Splits {
		rows = append(rows, []string{s.ControlID, s.ChildTable, strconv.Itoa(s.Rows), "", ""})
	}
	return a.printGrid(w, []string{"control_id", "table", "rows", "exists", "new_columns"}, rows)
}

func (a *app) printHarmonize(w io.Writer, res *core.HarmonizeResult) error {
	if a.output == "json" {
		return writeJSON(w, res)
	}
	rows := make([][]string, len(res.Tables))
	for i, t := range res.Tables {
		rows[i] = []string{t.Record.ControlID, t.Table, t.From, humanize.Comma(t.Rows)}
	}
	return a.printGrid(w, []string{"control_id", "table", "copied_from", "rows"}, rows)
}
