package core

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/JonMunkholm/tabledger/internal/ident"
	"github.com/JonMunkholm/tabledger/internal/ledger"
	"github.com/JonMunkholm/tabledger/internal/tabular"
)

// Query runs an ad-hoc read against the store.
func (s *Service) Query(ctx context.Context, query string, args ...any) (*tabular.Table, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("syntax error: empty statement")
	}
	return s.st.Handle().Query(ctx, query, args...)
}

// QueryFile runs the statement stored in path.
func (s *Service) QueryFile(ctx context.Context, path string) (*tabular.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read query file: %w", err)
	}
	return s.Query(ctx, string(data))
}

// ReadTable returns every row of table, or one generation's rows when
// controlID is set.
func (s *Service) ReadTable(ctx context.Context, table, controlID string) (*tabular.Table, error) {
	name := ident.Normalize(table)
	if name == "" {
		return nil, &ident.InvalidIdentifierError{Label: table, Reason: "empty after normalization"}
	}

	h := s.st.Handle()
	exists, err := h.TableExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &MissingTableError{Tables: []string{name}}
	}
	return h.ReadTable(ctx, name, controlID)
}

// Ledger returns the load history of table, or of every table when table is
// empty.
func (s *Service) Ledger(ctx context.Context, table string) ([]ledger.Record, error) {
	name := ""
	if table != "" {
		name = ident.Normalize(table)
	}
	return ledger.New(s.st.Handle()).History(ctx, name)
}

// Tables summarizes every table recorded in the ledger.
func (s *Service) Tables(ctx context.Context) ([]ledger.TableSummary, error) {
	return ledger.New(s.st.Handle()).Tables(ctx)
}
