package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/tabledger/internal/core"
	"github.com/JonMunkholm/tabledger/internal/logging"
	"github.com/JonMunkholm/tabledger/internal/source"
	"github.com/JonMunkholm/tabledger/internal/tabular"
)

// DefaultConcurrency bounds parallel source reads.
const DefaultConcurrency = 4

// Ingester is the part of core.Service a batch run needs.
type Ingester interface {
	Ingest(ctx context.Context, in *tabular.Table, table, source string, splits ...core.SplitSpec) (*core.IngestResult, error)
	Harmonize(ctx context.Context, tables []string) (*core.HarmonizeResult, error)
}

// RunRecorder counts finished runs. *metrics.Metrics satisfies it.
type RunRecorder interface {
	RecordBatchRun(success bool)
}

// Options configure a Runner.
type Options struct {
	// Concurrency bounds parallel source reads. Zero selects DefaultConcurrency.
	Concurrency int
	// MaxFileSize is passed to every reader. Zero selects the reader default.
	MaxFileSize int64
	Recorder    RunRecorder
}

// Runner executes descriptors.
type Runner struct {
	ing         Ingester
	concurrency int
	maxFileSize int64
	rec         RunRecorder
}

// Report is the outcome of a run. On failure it holds every step that
// committed before the failing one.
type Report struct {
	RunID      string                  `json:"runId"`
	Loads      []LoadReport            `json:"loads"`
	Harmonized []*core.HarmonizeResult `json:"harmonized,omitempty"`
	Duration   time.Duration           `json:"durationNs"`
}

// LoadReport is one committed load.
type LoadReport struct {
	Index  int      `json:"index"`
	Source string   `json:"source"`
	Files  []string `json:"files,omitempty"`
	// Dropped lists folder columns missing from at least one file.
	Dropped []string           `json:"dropped,omitempty"`
	Result  *core.IngestResult `json:"result"`
}

// NewRunner creates a Runner over ing.
func NewRunner(ing Ingester, opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Runner{
		ing:         ing,
		concurrency: opts.Concurrency,
		maxFileSize: opts.MaxFileSize,
		rec:         opts.Recorder,
	}
}

// Run validates d, reads every source concurrently, then ingests the loads
// one at a time in list order and finally runs each harmonize group. The
// first failure stops the run; loads committed before it stay committed.
func (r *Runner) Run(ctx context.Context, d *Descriptor) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.New().String()}
	ctx = logging.WithRunID(ctx, report.RunID)
	log := logging.FromContext(ctx)

	err := r.run(ctx, d, report)
	report.Duration = time.Since(start)
	if r.rec != nil {
		r.rec.RecordBatchRun(err == nil)
	}
	if err != nil {
		log.Error("batch run failed", "committed_loads", len(report.Loads), "error", err)
		return report, err
	}
	log.Info("batch run completed",
		"loads", len(report.Loads),
		"harmonized", len(report.Harmonized),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

func (r *Runner) run(ctx context.Context, d *Descriptor, report *Report) error {
	jobs, err := d.Jobs(r.maxFileSize)
	if err != nil {
		return err
	}

	inputs, err := r.readAll(ctx, jobs)
	if err != nil {
		return err
	}

	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := r.ing.Ingest(ctx, inputs[i].table, job.Table, job.Source, job.Splits...)
		if err != nil {
			return fmt.Errorf("load %d (%s): %w", job.Index, job.Source, err)
		}
		report.Loads = append(report.Loads, LoadReport{
			Index:   job.Index,
			Source:  job.Source,
			Files:   inputs[i].files,
			Dropped: inputs[i].dropped,
			Result:  res,
		})
	}

	for i, group := range d.Harmonize {
		res, err := r.ing.Harmonize(ctx, group)
		if err != nil {
			return fmt.Errorf("harmonize group %d: %w", i+1, err)
		}
		report.Harmonized = append(report.Harmonized, res)
	}
	return nil
}

type input struct {
	table   *tabular.Table
	files   []string
	dropped []string
}

// readAll reads every job's source with bounded parallelism. Results keep
// job order.
func (r *Runner) readAll(ctx context.Context, jobs []Job) ([]input, error) {
	inputs := make([]input, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if job.Folder {
				res, err := source.ReadFolder(gctx, job.Path, job.Options, 1)
				if err != nil {
					return fmt.Errorf("load %d: %w", job.Index, err)
				}
				inputs[i] = input{table: res.Table, files: res.Files, dropped: res.Dropped}
				return nil
			}
			tbl, err := source.ReadFile(job.Path, job.Options)
			if err != nil {
				return fmt.Errorf("load %d: %w", job.Index, err)
			}
			inputs[i] = input{table: tbl}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}
