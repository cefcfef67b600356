package main

import (
	"fmt"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabledger/internal/core"
	"github.com/JonMunkholm/tabledger/internal/source"
	"github.com/JonMunkholm/tabledger/internal/tabular"
)

type ingestOptions struct {
	table     string
	source    string
	format    string
	sheet     string
	rename    []string
	skipRows  int
	lines     bool
	delimiter string
	splits    []string
	dryRun    bool
}

func (o *ingestOptions) bindCommon(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.table, "table", "", "Destination table (required)")
	cmd.Flags().StringVar(&o.source, "source", "", "Source label recorded in the ledger (default: the path)")
	cmd.Flags().IntVar(&o.skipRows, "skip-rows", 0, "Records to skip before the header")
	cmd.Flags().StringVar(&o.delimiter, "delimiter", "", "Field separator for delimited text")
	cmd.Flags().StringArrayVar(&o.splits, "split", nil, "Split spec column:delimiter:child[:link[:rename]] (repeatable)")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "Show what would be written without writing")
	_ = cmd.MarkFlagRequired("table")
}

func (o *ingestOptions) readerOptions(maxSize int64) (source.Options, error) {
	opts := source.Options{
		Format:      o.format,
		Sheet:       o.sheet,
		Rename:      o.rename,
		SkipRows:    o.skipRows,
		Lines:       o.lines,
		MaxFileSize: maxSize,
	}
	if o.delimiter != "" {
		if utf8.RuneCountInString(o.delimiter) != 1 {
			return opts, fmt.Errorf("--delimiter %q must be a single character", o.delimiter)
		}
		opts.Delimiter, _ = utf8.DecodeRuneInString(o.delimiter)
	}
	return opts, nil
}

func (o *ingestOptions) splitSpecs() ([]core.SplitSpec, error) {
	specs := make([]core.SplitSpec, 0, len(o.splits))
	for _, v := range o.splits {
		spec, err := core.ParseSplitFlag(v)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func newIngestCmd(a *app) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Load one file as a new generation of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			readOpts, err := opts.readerOptions(int64(a.cfg.Ingest.MaxFileSize))
			if err != nil {
				return err
			}
			tbl, err := source.ReadFile(args[0], readOpts)
			if err != nil {
				return err
			}
			label := opts.source
			if label == "" {
				label = args[0]
			}
			return a.runIngest(cmd, tbl, label, &opts)
		},
	}

	opts.bindCommon(cmd)
	cmd.Flags().StringVar(&opts.format, "format", "", "Reader format (default: by extension): csv, tsv, json, jsonl, xlsx")
	cmd.Flags().StringVar(&opts.sheet, "sheet", "", "Worksheet name for spreadsheets (default: first sheet)")
	cmd.Flags().StringSliceVar(&opts.rename, "rename", nil, "Replacement header, one name per column")
	cmd.Flags().BoolVar(&opts.lines, "lines", false, "Read JSON as one object per line")
	return cmd
}

func newIngestFolderCmd(a *app) *cobra.Command {
	var (
		opts        ingestOptions
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "ingest-folder DIR",
		Short: "Merge every readable file in a folder and load it as one generation",
		Long: "Reads every supported file directly inside DIR, keeps the columns present in all\n" +
			"of them and prepends a " + source.FileColumn + " column naming each row's file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			readOpts, err := opts.readerOptions(int64(a.cfg.Ingest.MaxFileSize))
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = a.cfg.Ingest.ReadConcurrency
			}
			res, err := source.ReadFolder(cmd.Context(), args[0], readOpts, concurrency)
			if err != nil {
				return err
			}
			if len(res.Dropped) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "dropped columns not present in every file: %v\n", res.Dropped)
			}
			label := opts.source
			if label == "" {
				label = args[0]
			}
			return a.runIngest(cmd, res.Table, label, &opts)
		},
	}

	opts.bindCommon(cmd)
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel file reads (env BATCH_READ_CONCURRENCY)")
	return cmd
}

func (a *app) runIngest(cmd *cobra.Command, tbl *tabular.Table, label string, opts *ingestOptions) error {
	splits, err := opts.splitSpecs()
	if err != nil {
		return err
	}

	svc, _, closeStore, err := a.open(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.dryRun {
		plan, err := svc.Preview(cmd.Context(), tbl, opts.table, splits...)
		if err != nil {
			return err
		}
		return a.printPlan(cmd.OutOrStdout(), plan)
	}

	res, err := svc.Ingest(cmd.Context(), tbl, opts.table, label, splits...)
	if err != nil {
		return err
	}
	return a.printIngest(cmd.OutOrStdout(), res)
}
