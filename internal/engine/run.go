package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapstack-labs/starschema/internal/pipeline"
	"github.com/leapstack-labs/starschema/internal/state"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// Engine stages wrapped around the pipeline stages.
const (
	StageLoad   = "load"
	StageExport = "export"
)

// RunStages lists every stage a run records, in order.
var RunStages = append(append([]string{StageLoad}, pipeline.Stages...), StageExport)

// RunOptions configures a single run.
type RunOptions struct {
	// Input is the CSV file to normalize.
	Input string
	// DryRun runs the pipeline and the integrity gate but exports nothing.
	DryRun bool
	// OnStage, if set, observes stage transitions, engine stages included.
	OnStage func(pipeline.StageEvent)
}

// RunResult is everything a run produced.
type RunResult struct {
	Run      *core.Run
	Pipeline *pipeline.Result
	Tables   []core.TableStat
	Files    []string
	Manifest string
	Summary  *Summary
	// Changed lists tables whose fingerprint differs from the previous
	// completed run over the same input.
	Changed []string
}

// Run loads the input, runs the pipeline, records every stage in the state
// store and exports the star schema. On failure the run is marked failed and
// the partial result is returned with the error.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	e.logger.Info("starting run", "input", opts.Input, "dry_run", opts.DryRun)

	previous, err := e.store.GetLatestRun(ctx, core.RunStatusCompleted)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("failed to read run history: %w", err)
	}

	run, err := e.store.CreateRun(ctx, opts.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	e.logger.Debug("created run", "run_id", run.ID)

	tr, err := e.newTracker(ctx, run.ID, opts.OnStage)
	if err != nil {
		return nil, err
	}
	res := &RunResult{Run: run}

	runErr := e.execute(ctx, opts, tr, res, previous)
	tr.skipPending(ctx)

	if rep := reportOf(res); rep != nil {
		run.TotalRows = rep.Total
		run.CleanRows = rep.Clean
		run.SkippedRows = rep.Skipped
		run.DuplicateRows = rep.Duplicates
		run.Warnings = rep.TotalWarnings()
		e.observeReport(rep)
	}
	if runErr != nil {
		run.Status = core.RunStatusFailed
		run.Error = runErr.Error()
		e.logger.Error("run failed", "run_id", run.ID, "error", runErr.Error())
	} else {
		run.Status = core.RunStatusCompleted
		e.logger.Info("run completed", "run_id", run.ID,
			"rows", run.CleanRows, "skipped", run.SkippedRows, "warnings", run.Warnings)
	}
	if err := e.store.CompleteRun(ctx, run); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to complete run: %w", err))
	}
	if runErr == nil && e.cfg.KeepRuns > 0 {
		if n, err := e.store.DeleteOldRuns(ctx, e.cfg.KeepRuns); err != nil {
			e.logger.Warn("failed to prune run history", "error", err.Error())
		} else if n > 0 {
			e.logger.Debug("pruned run history", "deleted", n)
		}
	}

	e.metrics.ObserveRun(string(run.Status), e.clock.Now())
	if e.cfg.MetricsFile != "" {
		if err := e.metrics.WriteFile(e.cfg.MetricsFile); err != nil {
			e.logger.Warn("failed to write metrics", "path", e.cfg.MetricsFile, "error", err.Error())
		}
	}
	return res, runErr
}

func (e *Engine) execute(ctx context.Context, opts RunOptions, tr *tracker, res *RunResult, previous *core.Run) error {
	var raw []core.RawRecord
	err := tr.engineStage(ctx, StageLoad, 0, func() (int, error) {
		var err error
		raw, err = e.Load(ctx, opts.Input)
		return len(raw), err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", StageLoad, err)
	}

	popts := e.cfg.Pipeline
	popts.OnStage = tr.pipelineEvent(ctx)
	pres, err := pipeline.Run(raw, popts)
	res.Pipeline = pres
	if err != nil {
		return err
	}

	schema := pres.Schema
	res.Tables = tableStats(schema.Tables())
	if raw1NF, ok := schema.Table(core.TableRaw); ok {
		res.Run.InputFingerprint = Fingerprint(raw1NF)
	}
	if err := e.store.SaveTableStats(ctx, res.Run.ID, res.Tables); err != nil {
		return err
	}
	for _, st := range res.Tables {
		e.metrics.TableRows.WithLabelValues(st.TableName).Set(float64(st.RowCount))
	}
	res.Changed = e.checkIdempotence(ctx, previous, res.Run.InputFingerprint, res.Tables)

	if opts.DryRun {
		e.logger.Info("dry run, nothing exported", "run_id", res.Run.ID)
		return nil
	}

	err = tr.engineStage(ctx, StageExport, len(res.Tables), func() (int, error) {
		files, err := e.Export(ctx, schema)
		if err != nil {
			return 0, err
		}
		res.Files = files
		return len(schema.Tables()), nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", StageExport, err)
	}

	return e.writeReports(ctx, res)
}

func (e *Engine) writeReports(ctx context.Context, res *RunResult) error {
	if e.cfg.OutputDir == "" {
		return nil
	}
	if e.cfg.Export.Summary {
		s, err := e.Summary(ctx)
		if err != nil {
			return fmt.Errorf("summary: %w", err)
		}
		res.Summary = s
		path, err := WriteSummary(e.cfg.OutputDir, s)
		if err != nil {
			return err
		}
		res.Files = append(res.Files, path)
	}
	if e.cfg.Export.Manifest {
		m := NewManifest(res.Run, res.Pipeline, res.Files, e.clock.Now())
		path, err := WriteManifest(e.cfg.OutputDir, m)
		if err != nil {
			return err
		}
		res.Manifest = path
	}
	return nil
}

// checkIdempotence compares table fingerprints with the previous completed
// run when both runs saw the same cleaned input.
func (e *Engine) checkIdempotence(ctx context.Context, previous *core.Run, fingerprint string, tables []core.TableStat) []string {
	if previous == nil || previous.InputFingerprint == "" || previous.InputFingerprint != fingerprint {
		return nil
	}
	before, err := e.store.GetTableStats(ctx, previous.ID)
	if err != nil {
		e.logger.Warn("failed to read previous table stats", "run_id", previous.ID, "error", err.Error())
		return nil
	}
	prints := make(map[string]string, len(before))
	for _, st := range before {
		prints[st.TableName] = st.Fingerprint
	}
	var changed []string
	for _, st := range tables {
		if fp, ok := prints[st.TableName]; ok && fp != st.Fingerprint {
			changed = append(changed, st.TableName)
		}
	}
	if len(changed) > 0 {
		e.metrics.IdempotenceIssues.Add(float64(len(changed)))
		e.logger.Warn("idempotence violation: same input produced different tables",
			"previous_run", previous.ID, "tables", changed)
	}
	return changed
}

func (e *Engine) observeReport(rep *pipeline.Report) {
	e.metrics.RowsRead.Add(float64(rep.Total))
	e.metrics.RowsClean.Add(float64(rep.Clean))
	e.metrics.Duplicates.Add(float64(rep.Duplicates))
	for reason, n := range rep.SkippedByReason {
		e.metrics.RowsSkipped.WithLabelValues(reason).Add(float64(n))
	}
	for entity, n := range rep.Warnings {
		e.metrics.ConflictWarnings.WithLabelValues(entity).Set(float64(n))
	}
}

func reportOf(res *RunResult) *pipeline.Report {
	if res.Pipeline == nil {
		return nil
	}
	return res.Pipeline.Report
}

// tracker mirrors stage transitions into the state store.
type tracker struct {
	e       *Engine
	runID   string
	stages  map[string]*core.StageRun
	onStage func(pipeline.StageEvent)
}

func (e *Engine) newTracker(ctx context.Context, runID string, onStage func(pipeline.StageEvent)) (*tracker, error) {
	tr := &tracker{e: e, runID: runID, stages: make(map[string]*core.StageRun), onStage: onStage}
	for _, name := range RunStages {
		sr := &core.StageRun{RunID: runID, Stage: name, Status: core.StageStatusPending}
		if err := e.store.RecordStage(ctx, sr); err != nil {
			return nil, err
		}
		tr.stages[name] = sr
	}
	return tr, nil
}

func (t *tracker) pipelineEvent(ctx context.Context) func(pipeline.StageEvent) {
	return func(ev pipeline.StageEvent) {
		t.apply(ctx, ev)
	}
}

func (t *tracker) apply(ctx context.Context, ev pipeline.StageEvent) {
	if sr, ok := t.stages[ev.Stage]; ok {
		sr.Status = ev.Status
		sr.RowsIn = ev.RowsIn
		sr.RowsOut = ev.RowsOut
		sr.DurationMS = ev.Duration.Milliseconds()
		if ev.Err != nil {
			sr.Error = ev.Err.Error()
		}
		if err := t.e.store.UpdateStage(ctx, sr); err != nil {
			t.e.logger.Warn("failed to record stage", "stage", ev.Stage, "error", err.Error())
		}
	}
	if ev.Status == core.StageStatusSuccess || ev.Status == core.StageStatusFailed {
		t.e.metrics.ObserveStage(ev.Stage, ev.Duration)
	}
	if t.onStage != nil {
		t.onStage(ev)
	}
}

// engineStage runs fn as a tracked stage outside the pipeline.
func (t *tracker) engineStage(ctx context.Context, name string, rowsIn int, fn func() (int, error)) error {
	t.apply(ctx, pipeline.StageEvent{Stage: name, Status: core.StageStatusRunning, RowsIn: rowsIn})
	start := t.e.clock.Now()
	rowsOut, err := fn()
	ev := pipeline.StageEvent{Stage: name, RowsIn: rowsIn, RowsOut: rowsOut, Duration: t.e.clock.Since(start), Err: err}
	if err != nil {
		ev.Status = core.StageStatusFailed
	} else {
		ev.Status = core.StageStatusSuccess
	}
	t.apply(ctx, ev)
	return err
}

// skipPending marks stages that never started as skipped.
func (t *tracker) skipPending(ctx context.Context) {
	for _, name := range RunStages {
		sr := t.stages[name]
		if sr.Status != core.StageStatusPending {
			continue
		}
		t.apply(ctx, pipeline.StageEvent{Stage: name, Status: core.StageStatusSkipped})
	}
}
