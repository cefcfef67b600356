package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabledger/internal/ident"
	"github.com/JonMunkholm/tabledger/internal/ledger"
	"github.com/JonMunkholm/tabledger/internal/logging"
	"github.com/JonMunkholm/tabledger/internal/store"
)

// Harmonize copies the latest generation of every table in tables to one
// shared new generation, max(latest)+1, so the set joins on a single
// generation number. Copies keep every column except control_id; older
// generations are left untouched. If any table has never been loaded the
// call fails with *MissingTableError before writing anything.
func (s *Service) Harmonize(ctx context.Context, tables []string) (*HarmonizeResult, error) {
	start := time.Now()
	opID := uuid.New().String()
	log := logging.WithFields(ctx, "op_id", opID, "tables", tables)

	res, err := s.harmonize(ctx, opID, tables)
	if err != nil {
		code := MapError(err).Code
		s.rec.OperationFailed("harmonize", code)
		log.Error("harmonize failed", "code", code, "error", err)
		return nil, err
	}

	res.Duration = time.Since(start)
	s.rec.HarmonizeCompleted(len(res.Tables), res.Duration)
	log.Info("harmonize committed",
		"generation", res.Generation,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (s *Service) harmonize(ctx context.Context, opID string, tables []string) (*HarmonizeResult, error) {
	names, err := harmonizeSet(tables)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	actor := s.actorFor(ctx)
	res := &HarmonizeResult{OperationID: opID}

	err = s.write(ctx, func(h store.Handle) error {
		led := ledger.New(h)

		latest := make([]ledger.Record, len(names))
		var missing []string
		target := 0
		for i, name := range names {
			rec, ok, err := led.Latest(ctx, name)
			if err != nil {
				return err
			}
			exists := false
			if ok {
				if exists, err = led.TableExists(ctx, name); err != nil {
					return err
				}
			}
			if !ok || !exists {
				missing = append(missing, name)
				continue
			}
			latest[i] = rec
			target = max(target, rec.Generation)
		}
		if len(missing) > 0 {
			return &MissingTableError{Tables: missing}
		}
		target++
		res.Generation = target

		for i, name := range names {
			rec, err := led.MintGeneration(ctx, name, target, latest[i].Source, actor, s.clock)
			if err != nil {
				return err
			}
			n, err := h.CopyGeneration(ctx, name, latest[i].ControlID, rec.ControlID)
			if err != nil {
				return err
			}
			res.Tables = append(res.Tables, HarmonizedTable{
				Table:  name,
				From:   latest[i].ControlID,
				Record: rec,
				Rows:   n,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// harmonizeSet normalizes table names and drops repeats, keeping first
// occurrence order.
func harmonizeSet(tables []string) ([]string, error) {
	if len(tables) == 0 {
		return nil, errors.New("harmonize: no tables given")
	}
	seen := make(map[string]bool, len(tables))
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		name, err := ident.TableName(t)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}
