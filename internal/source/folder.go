package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/tabledger/internal/ident"
	"github.com/JonMunkholm/tabledger/internal/tabular"
)

// FileColumn is prepended to merged folder tables and names the file each
// row came from.
const FileColumn = "source_file"

// DefaultFolderConcurrency bounds parallel file reads in ReadFolder.
const DefaultFolderConcurrency = 4

// FolderResult is a merged folder read.
type FolderResult struct {
	Table *tabular.Table
	// Files are the base names that were merged, in name order.
	Files []string
	// Dropped are columns present in some files but not all.
	Dropped []string
}

// ReadFolder reads every supported file directly inside dir and merges them
// into one table. Headers are normalized per file; only columns present in
// every file are kept, ordered as in the widest header. Hidden files and
// subdirectories are ignored.
func ReadFolder(ctx context.Context, dir string, opts Options, concurrency int) (*FolderResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read folder %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := FormatForPath(name); !ok {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no file provided: folder %s has no readable files", dir)
	}

	if concurrency <= 0 {
		concurrency = DefaultFolderConcurrency
	}

	tables := make([]*tabular.Table, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, name := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fileOpts := opts
			fileOpts.Format = ""
			tbl, err := ReadFile(filepath.Join(dir, name), fileOpts)
			if err != nil {
				return err
			}
			cols, err := ident.NormalizeColumns(tbl.Columns)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if err := tbl.Rename(cols); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			tables[i] = tbl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept, dropped := commonColumns(tables)
	for _, c := range kept {
		if c == FileColumn {
			return nil, fmt.Errorf("column %q is reserved for folder reads", FileColumn)
		}
	}

	merged := tabular.New(append([]string{FileColumn}, kept...)...)
	for i, tbl := range tables {
		for _, row := range tbl.Rows {
			out := make(tabular.Row, len(kept)+1)
			out[FileColumn] = files[i]
			for _, c := range kept {
				out[c] = row[c]
			}
			merged.Rows = append(merged.Rows, out)
		}
	}

	return &FolderResult{Table: merged, Files: files, Dropped: dropped}, nil
}

// commonColumns returns the columns shared by every table, ordered as in the
// widest table, and the rest sorted.
func commonColumns(tables []*tabular.Table) (kept, dropped []string) {
	widest := tables[0]
	for _, t := range tables[1:] {
		if len(t.Columns) > len(widest.Columns) {
			widest = t
		}
	}

	count := make(map[string]int)
	for _, t := range tables {
		for _, c := range t.Columns {
			count[c]++
		}
	}

	for _, c := range widest.Columns {
		if count[c] == len(tables) {
			kept = append(kept, c)
		}
	}
	for c, n := range count {
		if n < len(tables) {
			dropped = append(dropped, c)
		}
	}
	sort.Strings(dropped)
	return kept, dropped
}
