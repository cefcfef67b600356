package source

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/tabledger/internal/tabular"
)

// Reader turns raw file bytes into a table.
type Reader interface {
	Read(data []byte, opts Options) (*tabular.Table, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(data []byte, opts Options) (*tabular.Table, error)

func (f ReaderFunc) Read(data []byte, opts Options) (*tabular.Table, error) {
	return f(data, opts)
}

var (
	readers    = make(map[string]Reader)
	extensions = make(map[string]string)
	registryMu sync.RWMutex
)

func init() {
	Register("csv", ReaderFunc(readCSV), ".csv", ".txt")
	Register("tsv", ReaderFunc(readTSV), ".tsv", ".tab")
	Register("json", ReaderFunc(readJSON), ".json")
	Register("jsonl", ReaderFunc(readJSONLines), ".jsonl", ".ndjson")
	Register("xlsx", ReaderFunc(readXLSX), ".xlsx", ".xlsm")
}

// Register adds a reader for format and the given extensions.
// Panics if the format or an extension is already registered.
func Register(format string, r Reader, exts ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()

	format = strings.ToLower(format)
	if _, exists := readers[format]; exists {
		panic(fmt.Sprintf("source format already registered: %s", format))
	}
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if _, exists := extensions[ext]; exists {
			panic(fmt.Sprintf("source extension already registered: %s", ext))
		}
		extensions[ext] = format
	}
	readers[format] = r
}

// Lookup returns the reader for a format name.
func Lookup(format string) (Reader, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	r, ok := readers[strings.ToLower(strings.TrimPrefix(format, "."))]
	return r, ok
}

// FormatForPath returns the format registered for path's extension.
func FormatForPath(path string) (string, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	format, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return format, ok
}

// Formats returns the registered format names, sorted.
func Formats() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]string, 0, len(readers))
	for f := range readers {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
