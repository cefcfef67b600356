package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabledger/internal/ident"
	"github.com/JonMunkholm/tabledger/internal/ledger"
	"github.com/JonMunkholm/tabledger/internal/logging"
	"github.com/JonMunkholm/tabledger/internal/store"
	"github.com/JonMunkholm/tabledger/internal/tabular"
)

// Ingest loads in as a new generation of table.
//
// Column labels and the table name are normalized. A ledger record is
// minted, every row is tagged with its control id, each split spec writes a
// child table under its own record, and the rows are appended. All of it
// commits in one transaction or not at all. The caller's table is not
// modified.
func (s *Service) Ingest(ctx context.Context, in *tabular.Table, table, source string, splits ...SplitSpec) (*IngestResult, error) {
	start := time.Now()
	opID := uuid.New().String()
	log := logging.WithFields(ctx, "op_id", opID, "table", table, "source", source)

	res, err := s.ingest(ctx, opID, in, table, source, splits)
	if err != nil {
		code := MapError(err).Code
		s.rec.OperationFailed("ingest", code)
		log.Error("ingest failed", "code", code, "error", err)
		return nil, err
	}

	res.Duration = time.Since(start)
	s.rec.IngestCompleted(res.Table, res.Rows, res.Duration)
	for _, c := range res.Children {
		s.rec.IngestCompleted(c.Table, c.Rows, res.Duration)
	}
	log.Info("ingest committed",
		"control_id", res.Record.ControlID,
		"created", res.Created,
		"rows", res.Rows,
		"children", len(res.Children),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (s *Service) ingest(ctx context.Context, opID string, in *tabular.Table, table, source string, splits []SplitSpec) (*IngestResult, error) {
	if in == nil {
		in = tabular.New()
	}
	name, err := ident.TableName(table)
	if err != nil {
		return nil, err
	}
	cols, err := ident.NormalizeColumns(in.Columns)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", name, err)
	}
	specs, err := prepareSplits(name, cols, splits)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", name, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	actor := s.actorFor(ctx)
	log := logging.WithFields(ctx, "op_id", opID, "table", name)
	res := &IngestResult{OperationID: opID, Table: name}

	err = s.write(ctx, func(h store.Handle) error {
		led := ledger.New(h)

		exists, err := led.TableExists(ctx, name)
		if err != nil {
			return err
		}
		res.Created = !exists
		if exists {
			log.Debug("appending to existing table")
		} else {
			log.Debug("creating table")
		}

		rec, err := led.Mint(ctx, name, source, actor, s.clock)
		if err != nil {
			return err
		}
		res.Record = rec
		if s.afterMint != nil {
			if err := s.afterMint(rec); err != nil {
				return err
			}
		}

		tagged := tag(in, cols, rec.ControlID)
		res.Columns = tagged.Columns

		for _, spec := range specs {
			child, err := s.writeSplit(ctx, h, led, tagged, spec, source, actor)
			if err != nil {
				return err
			}
			res.Children = append(res.Children, child)
		}

		if _, err := s.prepareTable(ctx, h, name, tagged); err != nil {
			return err
		}
		n, err := s.appendRows(ctx, h, name, tagged)
		if err != nil {
			return err
		}
		res.Rows = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) writeSplit(ctx context.Context, h store.Handle, led *ledger.Ledger, parent *tabular.Table, spec SplitSpec, source, actor string) (ChildResult, error) {
	rec, err := led.Mint(ctx, spec.ChildTable, source, actor, s.clock)
	if err != nil {
		return ChildResult{}, err
	}

	child, err := Explode(parent, spec, rec.ControlID)
	if err != nil {
		return ChildResult{}, err
	}

	created, err := s.prepareTable(ctx, h, spec.ChildTable, child)
	if err != nil {
		return ChildResult{}, err
	}
	n, err := s.appendRows(ctx, h, spec.ChildTable, child)
	if err != nil {
		return ChildResult{}, err
	}

	return ChildResult{
		Table:   spec.ChildTable,
		Column:  spec.Column,
		Record:  rec,
		Created: created,
		Rows:    n,
	}, nil
}

// tag copies in under normalized column names with control_id as the first
// column.
func tag(in *tabular.Table, cols []string, controlID string) *tabular.Table {
	out := tabular.New(append([]string{ident.ControlColumn}, cols...)...)
	out.Rows = make([]tabular.Row, len(in.Rows))
	for i, row := range in.Rows {
		r := make(tabular.Row, len(cols)+1)
		r[ident.ControlColumn] = controlID
		for j, orig := range in.Columns {
			r[cols[j]] = tabular.NormalizeValue(row[orig])
		}
		out.Rows[i] = r
	}
	return out
}

// prepareTable creates table for t's columns, or adds the columns an
// existing table lacks. It reports whether the table was created.
func (s *Service) prepareTable(ctx context.Context, h store.Handle, table string, t *tabular.Table) (bool, error) {
	kinds := tabular.InferKinds(t)
	kinds[ident.ControlColumn] = tabular.KindText

	exists, err := h.TableExists(ctx, table)
	if err != nil {
		return false, err
	}
	if !exists {
		cols := make([]store.Column, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = store.Column{Name: c, Kind: kinds[c]}
		}
		return true, h.CreateTable(ctx, table, cols)
	}

	current, err := h.Columns(ctx, table)
	if err != nil {
		return false, err
	}
	have := make(map[string]bool, len(current))
	for _, c := range current {
		have[c.Name] = true
	}
	for _, c := range t.Columns {
		if have[c] {
			continue
		}
		if err := h.AddColumn(ctx, table, store.Column{Name: c, Kind: kinds[c]}); err != nil {
			return false, err
		}
	}
	return false, nil
}

// appendRows inserts t's rows, converting cells to the kinds of the
// table's columns.
func (s *Service) appendRows(ctx context.Context, h store.Handle, table string, t *tabular.Table) (int64, error) {
	if t.Len() == 0 {
		return 0, nil
	}

	current, err := h.Columns(ctx, table)
	if err != nil {
		return 0, err
	}
	kinds := make(map[string]tabular.Kind, len(current))
	for _, c := range current {
		kinds[c.Name] = c.Kind
	}

	rows := make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		vals := make([]any, len(t.Columns))
		for j, c := range t.Columns {
			vals[j] = tabular.Coerce(kinds[c], row[c])
		}
		rows[i] = vals
	}
	return h.Insert(ctx, table, t.Columns, rows, s.maxParams)
}
