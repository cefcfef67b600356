package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/tabledger/internal/tabular"
)

// Dialect captures the SQL differences between supported engines.
type Dialect struct {
	// Name is the configuration name (sqlite, postgres, duckdb).
	Name string
	// Driver is the database/sql driver name registered by the engine's package.
	Driver string

	numbered    bool
	types       map[tabular.Kind]string
	tableExists string
}

var (
	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		types: map[tabular.Kind]string{
			tabular.KindText:    "TEXT",
			tabular.KindInteger: "INTEGER",
			tabular.KindFloat:   "REAL",
			tabular.KindBool:    "BOOLEAN",
			tabular.KindTime:    "TIMESTAMP",
		},
		tableExists: `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
	}

	Postgres = Dialect{
		Name:     "postgres",
		Driver:   "pgx",
		numbered: true,
		types: map[tabular.Kind]string{
			tabular.KindText:    "TEXT",
			tabular.KindInteger: "BIGINT",
			tabular.KindFloat:   "DOUBLE PRECISION",
			tabular.KindBool:    "BOOLEAN",
			tabular.KindTime:    "TIMESTAMPTZ",
		},
		tableExists: `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`,
	}

	DuckDB = Dialect{
		Name:   "duckdb",
		Driver: "duckdb",
		types: map[tabular.Kind]string{
			tabular.KindText:    "VARCHAR",
			tabular.KindInteger: "BIGINT",
			tabular.KindFloat:   "DOUBLE",
			tabular.KindBool:    "BOOLEAN",
			tabular.KindTime:    "TIMESTAMP",
		},
		tableExists: `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?`,
	}
)

// DialectFor resolves a dialect by configuration name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "duckdb":
		return DuckDB, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", name)
	}
}

// Placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Type returns the column type used for a cell kind.
func (d Dialect) Type(k tabular.Kind) string {
	if t, ok := d.types[k]; ok {
		return t
	}
	return d.types[tabular.KindText]
}

// KindOf maps a database type name reported by the driver back to a kind.
func (d Dialect) KindOf(dbType string) tabular.Kind {
	t := strings.ToUpper(dbType)
	switch {
	case strings.Contains(t, "BOOL"):
		return tabular.KindBool
	case strings.Contains(t, "TIME"), strings.Contains(t, "DATE"):
		return tabular.KindTime
	case strings.Contains(t, "INT"):
		return tabular.KindInteger
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"),
		strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return tabular.KindFloat
	default:
		return tabular.KindText
	}
}

// QuoteIdentifier safely quotes a SQL identifier.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// IsUniqueViolation reports whether err is a primary key or unique
// constraint failure from any supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
		return false
	}

	var duckErr *duckdb.Error
	if errors.As(err, &duckErr) {
		return duckErr.Type == duckdb.ErrorTypeConstraint
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
