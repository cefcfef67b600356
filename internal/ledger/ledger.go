// Package ledger owns the append-only control table. Each row records one
// load of one table: its control id, generation, source, time and actor.
//
// The ledger is the only place control ids are minted. Generations are read
// from the table_name and upload columns, never derived from control_id
// prefixes, so tables whose names share a prefix never see each other's
// generations.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/JonMunkholm/tabledger/internal/ident"
	"github.com/JonMunkholm/tabledger/internal/store"
	"github.com/JonMunkholm/tabledger/internal/tabular"
)

// Clock supplies the insertion timestamp for new records.
type Clock func() time.Time

// SystemClock is the wall clock truncated to whole seconds in UTC.
func SystemClock() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Record is one ledger row.
type Record struct {
	ControlID  string    `json:"controlId"`
	Table      string    `json:"table"`
	Source     string    `json:"source"`
	Generation int       `json:"generation"`
	InsertedAt time.Time `json:"insertedAt"`
	Actor      string    `json:"actor"`
}

// TableSummary aggregates the ledger rows of one table.
type TableSummary struct {
	Table            string    `json:"table"`
	LatestGeneration int       `json:"latestGeneration"`
	Loads            int       `json:"loads"`
	LastInsert       time.Time `json:"lastInsert"`
}

// Lookup answers read-only questions the orchestrator and harmonizer plan
// against. Only Ledger's Mint methods write.
type Lookup interface {
	TableExists(ctx context.Context, name string) (bool, error)
	LatestGeneration(ctx context.Context, name string) (int, bool, error)
}

// Ledger reads and appends control records through a store handle.
type Ledger struct {
	h store.Handle
}

var _ Lookup = (*Ledger)(nil)

// New binds a ledger to h. Pass a transaction handle to make minting part of
// a larger unit of work.
func New(h store.Handle) *Ledger {
	return &Ledger{h: h}
}

func controlID(table string, generation int) string {
	return table + strconv.Itoa(generation)
}

// Next returns the control id and generation the next Mint of table would
// produce, without writing.
func (l *Ledger) Next(ctx context.Context, table string) (string, int, error) {
	return l.Peek(ctx, table, 0)
}

// Peek is Next after ahead further mints of the same table.
func (l *Ledger) Peek(ctx context.Context, table string, ahead int) (string, int, error) {
	latest, _, err := l.LatestGeneration(ctx, table)
	if err != nil {
		return "", 0, err
	}
	gen := latest + 1 + ahead
	return controlID(table, gen), gen, nil
}

// EnsureSchema creates the control table if it does not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	d := l.h.Dialect
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	control_id %s PRIMARY KEY,
	table_name %s NOT NULL,
	source %s NOT NULL,
	upload %s NOT NULL,
	insert_date %s NOT NULL,
	user_id %s NOT NULL,
	UNIQUE (table_name, upload)
)`, store.QuoteIdentifier(ident.LedgerTable),
		d.Type(tabular.KindText), d.Type(tabular.KindText), d.Type(tabular.KindText),
		d.Type(tabular.KindInteger), d.Type(tabular.KindTime), d.Type(tabular.KindText))

	if _, err := l.h.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// TableExists is a catalog lookup, independent of ledger rows.
func (l *Ledger) TableExists(ctx context.Context, name string) (bool, error) {
	return l.h.TableExists(ctx, name)
}

// LatestGeneration returns the highest generation recorded for exactly name.
func (l *Ledger) LatestGeneration(ctx context.Context, name string) (int, bool, error) {
	query := fmt.Sprintf("SELECT MAX(upload) FROM %s WHERE table_name = %s",
		store.QuoteIdentifier(ident.LedgerTable), l.h.Dialect.Placeholder(1))

	var latest sql.NullInt64
	if err := l.h.DB.QueryRowContext(ctx, query, name).Scan(&latest); err != nil {
		return 0, false, fmt.Errorf("latest generation of %s: %w", name, err)
	}
	if !latest.Valid {
		return 0, false, nil
	}
	return int(latest.Int64), true, nil
}

// Mint appends the next generation of table: 1 for a new table, otherwise
// latest+1.
func (l *Ledger) Mint(ctx context.Context, table, source, actor string, clock Clock) (Record, error) {
	latest, _, err := l.LatestGeneration(ctx, table)
	if err != nil {
		return Record{}, err
	}
	return l.append(ctx, table, latest+1, source, actor, clock)
}

// MintGeneration appends an explicit generation, which must be above the
// table's latest.
func (l *Ledger) MintGeneration(ctx context.Context, table string, generation int, source, actor string, clock Clock) (Record, error) {
	latest, _, err := l.LatestGeneration(ctx, table)
	if err != nil {
		return Record{}, err
	}
	if generation <= latest {
		return Record{}, &WriteError{
			ControlID: controlID(table, generation),
			Err:       fmt.Errorf("generation %d is not above latest %d", generation, latest),
		}
	}
	return l.append(ctx, table, generation, source, actor, clock)
}

func (l *Ledger) append(ctx context.Context, table string, generation int, source, actor string, clock Clock) (Record, error) {
	if clock == nil {
		clock = SystemClock
	}
	rec := Record{
		ControlID:  controlID(table, generation),
		Table:      table,
		Source:     source,
		Generation: generation,
		InsertedAt: clock().UTC(),
		Actor:      actor,
	}

	_, err := l.h.Insert(ctx, ident.LedgerTable,
		[]string{"control_id", "table_name", "source", "upload", "insert_date", "user_id"},
		[][]any{{rec.ControlID, rec.Table, rec.Source, int64(rec.Generation), rec.InsertedAt, rec.Actor}}, 0)
	if err != nil {
		return Record{}, &WriteError{
			ControlID: rec.ControlID,
			Conflict:  store.IsUniqueViolation(err),
			Err:       err,
		}
	}
	return rec, nil
}

// Get returns the record with the given control id.
func (l *Ledger) Get(ctx context.Context, controlID string) (Record, bool, error) {
	recs, err := l.list(ctx, "WHERE control_id = "+l.h.Dialect.Placeholder(1), controlID)
	if err != nil {
		return Record{}, false, err
	}
	if len(recs) == 0 {
		return Record{}, false, nil
	}
	return recs[0], true, nil
}

// Latest returns the newest record of table.
func (l *Ledger) Latest(ctx context.Context, table string) (Record, bool, error) {
	gen, ok, err := l.LatestGeneration(ctx, table)
	if err != nil || !ok {
		return Record{}, false, err
	}
	return l.Get(ctx, controlID(table, gen))
}

// History returns every record of table ordered by generation. An empty
// table name returns the whole ledger ordered by table then generation.
func (l *Ledger) History(ctx context.Context, table string) ([]Record, error) {
	if table == "" {
		return l.list(ctx, "")
	}
	return l.list(ctx, "WHERE table_name = "+l.h.Dialect.Placeholder(1), table)
}

// Tables summarizes the ledger per table, ordered by table name.
func (l *Ledger) Tables(ctx context.Context) ([]TableSummary, error) {
	query := fmt.Sprintf(`SELECT table_name, MAX(upload), COUNT(*), MAX(insert_date)
FROM %s GROUP BY table_name ORDER BY table_name`, store.QuoteIdentifier(ident.LedgerTable))

	rows, err := l.h.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("summarize ledger: %w", err)
	}
	defer rows.Close()

	var out []TableSummary
	for rows.Next() {
		var (
			s    TableSummary
			last timestamp
		)
		if err := rows.Scan(&s.Table, &s.LatestGeneration, &s.Loads, &last); err != nil {
			return nil, fmt.Errorf("scan ledger summary: %w", err)
		}
		s.LastInsert = last.Time
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summarize ledger: %w", err)
	}
	return out, nil
}

func (l *Ledger) list(ctx context.Context, where string, args ...any) ([]Record, error) {
	query := fmt.Sprintf(`SELECT control_id, table_name, source, upload, insert_date, user_id
FROM %s %s ORDER BY table_name, upload`, store.QuoteIdentifier(ident.LedgerTable), where)

	rows, err := l.h.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r  Record
			at timestamp
		)
		if err := rows.Scan(&r.ControlID, &r.Table, &r.Source, &r.Generation, &at, &r.Actor); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		r.InsertedAt = at.Time
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return out, nil
}

// timestampLayouts cover the text forms drivers use for stored timestamps.
// Untyped aggregates such as MAX(insert_date) come back from modernc
// sqlite in time.Time's String form.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// timestamp scans a TIMESTAMP column whatever representation the driver
// returns for it.
type timestamp struct {
	time.Time
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case int64:
		t.Time = time.Unix(v, 0).UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return errors.New("unrecognized timestamp " + strconv.Quote(s))
}
