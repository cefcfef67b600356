package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabledger/internal/core"
	"github.com/JonMunkholm/tabledger/internal/ident"
	"github.com/JonMunkholm/tabledger/internal/tabular"
)

func newQueryCmd(a *app) *cobra.Command {
	var (
		sql       string
		file      string
		table     string
		controlID string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a read-only statement or dump a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if controlID != "" && table == "" {
				return errors.New("--control-id requires --table")
			}

			svc, _, closeStore, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			var tbl *tabular.Table
			switch {
			case sql != "":
				tbl, err = svc.Query(cmd.Context(), sql)
			case file != "":
				tbl, err = svc.QueryFile(cmd.Context(), file)
			default:
				tbl, err = svc.ReadTable(cmd.Context(), table, controlID)
			}
			if err != nil {
				return err
			}
			return a.printTable(cmd.OutOrStdout(), tbl)
		},
	}

	cmd.Flags().StringVar(&sql, "sql", "", "Statement to run")
	cmd.Flags().StringVar(&file, "file", "", "File holding the statement to run")
	cmd.Flags().StringVar(&table, "table", "", "Table to dump")
	cmd.Flags().StringVar(&controlID, "control-id", "", "Restrict --table to one generation")
	cmd.MarkFlagsOneRequired("sql", "file", "table")
	cmd.MarkFlagsMutuallyExclusive("sql", "file", "table")
	return cmd
}

func newLedgerCmd(a *app) *cobra.Command {
	var summary bool

	cmd := &cobra.Command{
		Use:   "ledger [TABLE]",
		Short: "Show ledger records, for all tables or one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, closeStore, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			if summary {
				tables, err := svc.Tables(cmd.Context())
				if err != nil {
					return err
				}
				return a.printSummaries(cmd.OutOrStdout(), tables)
			}

			var table string
			if len(args) == 1 {
				table = args[0]
			}
			records, err := svc.Ledger(cmd.Context(), table)
			if err != nil {
				return err
			}
			if table != "" && len(records) == 0 {
				return &core.MissingTableError{Tables: []string{ident.Normalize(table)}}
			}
			return a.printRecords(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().BoolVar(&summary, "summary", false, "One line per table with its latest generation")
	return cmd
}
