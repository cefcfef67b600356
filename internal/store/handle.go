package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/JonMunkholm/tabledger/internal/ident"
	"github.com/JonMunkholm/tabledger/internal/tabular"
)

// DefaultMaxParams bounds bind parameters per INSERT statement.
const DefaultMaxParams = 900

// Column is a column name with its storage kind.
type Column struct {
	Name string
	Kind tabular.Kind
}

// Handle runs statements against a connection or transaction.
type Handle struct {
	DB      DBTX
	Dialect Dialect
}

// TableExists reports whether the catalog contains a table with exactly name.
func (h Handle) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := h.DB.QueryRowContext(ctx, h.Dialect.tableExists, name).Scan(&n); err != nil {
		return false, fmt.Errorf("catalog lookup %s: %w", name, err)
	}
	return n > 0, nil
}

// Columns returns the table's columns in declared order.
func (h Handle) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := h.DB.QueryContext(ctx, "SELECT * FROM "+QuoteIdentifier(table)+" WHERE 1 = 0")
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}

	cols := make([]Column, len(types))
	for i, ct := range types {
		cols[i] = Column{Name: ct.Name(), Kind: h.Dialect.KindOf(ct.DatabaseTypeName())}
	}
	return cols, rows.Err()
}

// CreateTable creates table with the given columns. The control id column is
// always declared NOT NULL.
func (h Handle) CreateTable(ctx context.Context, table string, cols []Column) error {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = QuoteIdentifier(c.Name) + " " + h.Dialect.Type(c.Kind)
		if c.Name == ident.ControlColumn {
			defs[i] += " NOT NULL"
		}
	}

	query := fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdentifier(table), strings.Join(defs, ", "))
	if _, err := h.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// AddColumn extends an existing table. Rows written earlier read NULL.
func (h Handle) AddColumn(ctx context.Context, table string, col Column) error {
	query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		QuoteIdentifier(table), QuoteIdentifier(col.Name), h.Dialect.Type(col.Kind))
	if _, err := h.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, col.Name, err)
	}
	return nil
}

// Insert appends rows using multi-row INSERT statements of at most maxParams
// bind parameters each. Each row must have len(columns) values.
func (h Handle) Insert(ctx context.Context, table string, columns []string, rows [][]any, maxParams int) (int64, error) {
	if len(rows) == 0 || len(columns) == 0 {
		return 0, nil
	}
	if maxParams <= 0 {
		maxParams = DefaultMaxParams
	}

	perStmt := maxParams / len(columns)
	if perStmt < 1 {
		perStmt = 1
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdentifier(c)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", QuoteIdentifier(table), strings.Join(quoted, ", "))

	var written int64
	for start := 0; start < len(rows); start += perStmt {
		end := min(start+perStmt, len(rows))
		chunk := rows[start:end]

		var sb strings.Builder
		sb.WriteString(prefix)
		args := make([]any, 0, len(chunk)*len(columns))
		for i, row := range chunk {
			if len(row) != len(columns) {
				return written, fmt.Errorf("insert %s: row %d has %d values for %d columns",
					table, start+i+1, len(row), len(columns))
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('(')
			for j, v := range row {
				if j > 0 {
					sb.WriteString(", ")
				}
				args = append(args, v)
				sb.WriteString(h.Dialect.Placeholder(len(args)))
			}
			sb.WriteByte(')')
		}

		if _, err := h.DB.ExecContext(ctx, sb.String(), args...); err != nil {
			return written, fmt.Errorf("insert %s: %w", table, err)
		}
		written += int64(len(chunk))
	}
	return written, nil
}

// CopyGeneration re-inserts the rows tagged fromID under toID. Every other
// column is copied unchanged.
func (h Handle) CopyGeneration(ctx context.Context, table, fromID, toID string) (int64, error) {
	cols, err := h.Columns(ctx, table)
	if err != nil {
		return 0, err
	}

	names := make([]string, len(cols))
	exprs := make([]string, len(cols))
	for i, c := range cols {
		names[i] = QuoteIdentifier(c.Name)
		if c.Name == ident.ControlColumn {
			exprs[i] = fmt.Sprintf("CAST(%s AS %s)", h.Dialect.Placeholder(1), h.Dialect.Type(tabular.KindText))
		} else {
			exprs[i] = names[i]
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE %s = %s",
		QuoteIdentifier(table), strings.Join(names, ", "), strings.Join(exprs, ", "),
		QuoteIdentifier(table), QuoteIdentifier(ident.ControlColumn), h.Dialect.Placeholder(2))

	res, err := h.DB.ExecContext(ctx, query, toID, fromID)
	if err != nil {
		return 0, fmt.Errorf("copy %s %s -> %s: %w", table, fromID, toID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("copy %s %s -> %s: rows affected: %w", table, fromID, toID, err)
	}
	return n, nil
}

// Query runs a read and materializes the result.
func (h Handle) Query(ctx context.Context, query string, args ...any) (*tabular.Table, error) {
	rows, err := h.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return ScanTable(rows)
}

// ReadTable returns a whole table, or only the rows of one generation when
// controlID is set.
func (h Handle) ReadTable(ctx context.Context, table, controlID string) (*tabular.Table, error) {
	query := "SELECT * FROM " + QuoteIdentifier(table)
	var args []any
	if controlID != "" {
		query += " WHERE " + QuoteIdentifier(ident.ControlColumn) + " = " + h.Dialect.Placeholder(1)
		args = append(args, controlID)
	}
	return h.Query(ctx, query, args...)
}

// ScanTable drains rows into a table.
func ScanTable(rows *sql.Rows) (*tabular.Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	out := tabular.New(cols...)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out.Append(vals...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
