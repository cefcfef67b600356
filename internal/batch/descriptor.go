// Package batch runs YAML load descriptors against the ingestion service.
//
// A descriptor lists loads (one file or folder into one table, with reader
// options and optional split specs) and harmonize groups. Loads execute in
// list order; harmonize groups run after every load has committed.
package batch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/tabledger/internal/core"
	"github.com/JonMunkholm/tabledger/internal/source"
)

// Descriptor is a parsed batch file.
type Descriptor struct {
	Loads     []Load     `yaml:"loads"`
	Harmonize [][]string `yaml:"harmonize"`

	// dir resolves relative paths. Empty means the working directory.
	dir string
}

// Load is one entry of the loads list. Exactly one of Source and Folder is set.
type Load struct {
	Source    string   `yaml:"source"`
	Folder    string   `yaml:"folder"`
	Table     string   `yaml:"table"`
	Format    string   `yaml:"format"`
	Sheet     string   `yaml:"sheet"`
	Rename    []string `yaml:"rename"`
	SkipRows  int      `yaml:"skip_rows"`
	Lines     bool     `yaml:"lines"`
	Delimiter string   `yaml:"delimiter"`
	Split     *Split   `yaml:"split"`
}

// Split is the descriptor form of a set of split specs sharing one child
// table. The lists are parallel to Columns.
type Split struct {
	Table       string   `yaml:"table"`
	Columns     []string `yaml:"columns"`
	Delimiters  []string `yaml:"delimiters"`
	LinkColumns []string `yaml:"link_columns"`
	Renames     []string `yaml:"renames"`
}

// Job is a load resolved against the descriptor's directory.
type Job struct {
	// Index is the 1-based position in the loads list.
	Index int
	// Path is the absolute or descriptor-relative path to read.
	Path string
	// Folder reads every file under Path and merges them.
	Folder bool
	Table  string
	// Source is recorded in the ledger: the path as written in the descriptor.
	Source  string
	Options source.Options
	Splits  []core.SplitSpec
}

// LoadFile reads and parses the descriptor at path. Relative paths inside
// it resolve against its directory.
func LoadFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	d, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse decodes a descriptor. Unknown keys are rejected.
func Parse(data []byte, dir string) (*Descriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty file: batch descriptor has no loads")
		}
		return nil, fmt.Errorf("parse error: batch descriptor: %w", err)
	}
	if len(d.Loads) == 0 {
		return nil, fmt.Errorf("empty file: batch descriptor has no loads")
	}
	d.dir = dir
	return &d, nil
}

// Jobs validates every load and resolves it into a Job. All loads are
// checked before any is returned.
func (d *Descriptor) Jobs(maxFileSize int64) ([]Job, error) {
	var errs []error
	jobs := make([]Job, 0, len(d.Loads))

	for i, l := range d.Loads {
		job, err := d.resolve(i+1, l, maxFileSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %d: %w", i+1, err))
			continue
		}
		jobs = append(jobs, job)
	}
	for i, group := range d.Harmonize {
		if len(group) == 0 {
			errs = append(errs, fmt.Errorf("harmonize group %d is empty", i+1))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (d *Descriptor) resolve(index int, l Load, maxFileSize int64) (Job, error) {
	if l.Table == "" {
		return Job{}, fmt.Errorf("table is required")
	}
	raw := l.Source
	folder := false
	switch {
	case l.Source != "" && l.Folder != "":
		return Job{}, fmt.Errorf("source and folder are mutually exclusive")
	case l.Folder != "":
		raw, folder = l.Folder, true
	case l.Source == "":
		return Job{}, fmt.Errorf("source or folder is required")
	}
	if l.SkipRows < 0 {
		return Job{}, fmt.Errorf("skip_rows must not be negative")
	}

	opts := source.Options{
		Format:      l.Format,
		Sheet:       l.Sheet,
		Rename:      l.Rename,
		SkipRows:    l.SkipRows,
		Lines:       l.Lines,
		MaxFileSize: maxFileSize,
	}
	if l.Delimiter != "" {
		if utf8.RuneCountInString(l.Delimiter) != 1 {
			return Job{}, fmt.Errorf("delimiter %q must be a single character", l.Delimiter)
		}
		opts.Delimiter, _ = utf8.DecodeRuneInString(l.Delimiter)
	}
	if folder && len(l.Rename) > 0 {
		return Job{}, fmt.Errorf("rename is not supported for folder loads")
	}

	var splits []core.SplitSpec
	if s := l.Split; s != nil {
		if s.Table == "" {
			return Job{}, &core.SplitFormatError{Reason: "split table is required"}
		}
		var err error
		splits, err = core.ZipSplitSpecs(s.Table, s.Columns, s.Delimiters, s.LinkColumns, s.Renames)
		if err != nil {
			return Job{}, err
		}
	}

	return Job{
		Index:   index,
		Path:    d.path(raw),
		Folder:  folder,
		Table:   l.Table,
		Source:  raw,
		Options: opts,
		Splits:  splits,
	}, nil
}

func (d *Descriptor) path(p string) string {
	if filepath.IsAbs(p) || d.dir == "" {
		return p
	}
	return filepath.Join(d.dir, p)
}
