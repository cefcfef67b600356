package core

import (
	"context"

	"github.com/JonMunkholm/tabledger/internal/ident"
	"github.com/JonMunkholm/tabledger/internal/ledger"
	"github.com/JonMunkholm/tabledger/internal/tabular"
)

// Preview reports what Ingest would do with the same arguments without
// writing anything. The next control ids shown may be taken by a concurrent
// writer before a real ingest runs.
func (s *Service) Preview(ctx context.Context, in *tabular.Table, table string, splits ...SplitSpec) (*IngestPlan, error) {
	if in == nil {
		in = tabular.New()
	}
	name, err := ident.TableName(table)
	if err != nil {
		return nil, err
	}
	cols, err := ident.NormalizeColumns(in.Columns)
	if err != nil {
		return nil, err
	}
	specs, err := prepareSplits(name, cols, splits)
	if err != nil {
		return nil, err
	}

	h := s.st.Handle()
	led := ledger.New(h)

	exists, err := led.TableExists(ctx, name)
	if err != nil {
		return nil, err
	}
	controlID, gen, err := led.Next(ctx, name)
	if err != nil {
		return nil, err
	}

	tagged := tag(in, cols, controlID)
	plan := &IngestPlan{
		Table:      name,
		Columns:    tagged.Columns,
		Exists:     exists,
		ControlID:  controlID,
		Generation: gen,
		Rows:       tagged.Len(),
	}

	if exists {
		current, err := h.Columns(ctx, name)
		if err != nil {
			return nil, err
		}
		have := make(map[string]bool, len(current))
		for _, c := range current {
			have[c.Name] = true
		}
		for _, c := range tagged.Columns {
			if !have[c] {
				plan.NewColumns = append(plan.NewColumns, c)
			}
		}
	}

	// Several specs may target one child table; each would mint in turn.
	pending := make(map[string]int)
	for _, spec := range specs {
		childID, _, err := led.Peek(ctx, spec.ChildTable, pending[spec.ChildTable])
		if err != nil {
			return nil, err
		}
		pending[spec.ChildTable]++

		child, err := Explode(tagged, spec, childID)
		if err != nil {
			return nil, err
		}
		plan.Splits = append(plan.Splits, SplitPlan{
			ChildTable: spec.ChildTable,
			ControlID:  childID,
			Rows:       child.Len(),
		})
	}
	return plan, nil
}
