package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabledger/internal/batch"
)

func newBatchCmd(a *app) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Run the loads and harmonizations listed in a YAML descriptor",
		Long: "Reads every source in the descriptor concurrently, then ingests them in list\n" +
			"order and runs the harmonize groups. The run stops at the first failure;\n" +
			"loads committed before it stay committed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := batch.LoadFile(args[0])
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = a.cfg.Ingest.ReadConcurrency
			}

			svc, m, closeStore, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			runner := batch.NewRunner(svc, batch.Options{
				Concurrency: concurrency,
				MaxFileSize: int64(a.cfg.Ingest.MaxFileSize),
				Recorder:    m,
			})
			report, runErr := runner.Run(cmd.Context(), desc)
			if report != nil {
				if err := a.printReport(cmd, report); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			slog.Info("batch complete", "run_id", report.RunID, "loads", len(report.Loads), "duration", report.Duration)
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel source reads (env BATCH_READ_CONCURRENCY)")
	return cmd
}

func (a *app) printReport(cmd *cobra.Command, report *batch.Report) error {
	w := cmd.OutOrStdout()
	if a.output == "json" {
		return writeJSON(w, report)
	}

	var rows [][]string
	for _, l := range report.Loads {
		res := l.Result
		rows = append(rows, []string{strconv.Itoa(l.Index), "ingest", res.Record.ControlID, strconv.FormatInt(res.Rows, 10), l.Source})
		for _, c := range res.Children {
			rows = append(rows, []string{strconv.Itoa(l.Index), "split", c.Record.ControlID, strconv.FormatInt(c.Rows, 10), c.Column})
		}
	}
	for i, h := range report.Harmonized {
		for _, t := range h.Tables {
			rows = append(rows, []string{strconv.Itoa(i), "harmonize", t.Record.ControlID, strconv.FormatInt(t.Rows, 10), t.From})
		}
	}
	if err := a.printGrid(w, []string{"step", "action", "control_id", "rows", "from"}, rows); err != nil {
		return err
	}
	if a.output == "text" {
		fmt.Fprintf(cmd.ErrOrStderr(), "run %s took %s%s\n", report.RunID, report.Duration.Round(time.Millisecond), droppedNote(report))
	}
	return nil
}

func droppedNote(report *batch.Report) string {
	var notes []string
	for _, l := range report.Loads {
		if len(l.Dropped) > 0 {
			notes = append(notes, "load "+strconv.Itoa(l.Index)+" dropped "+strings.Join(l.Dropped, ","))
		}
	}
	if len(notes) == 0 {
		return ""
	}
	return "; " + strings.Join(notes, "; ")
}
