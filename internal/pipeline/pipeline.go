// Package pipeline runs the normalization stages in order:
//
//	clean -> extract -> assign_keys -> resolve -> build_fact -> assemble
//
// Each stage consumes the complete output of the previous one. Run does no
// I/O; loading and exporting live in the engine package.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/leapstack-labs/starschema/internal/cleaner"
	"github.com/leapstack-labs/starschema/internal/extract"
	"github.com/leapstack-labs/starschema/internal/fact"
	"github.com/leapstack-labs/starschema/internal/keys"
	"github.com/leapstack-labs/starschema/internal/resolve"
	"github.com/leapstack-labs/starschema/internal/star"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// Stage names, in execution order.
const (
	StageClean      = "clean"
	StageExtract    = "extract"
	StageAssignKeys = "assign_keys"
	StageResolve    = "resolve"
	StageBuildFact  = "build_fact"
	StageAssemble   = "assemble"
)

// Stages lists the stages in execution order.
var Stages = []string{StageClean, StageExtract, StageAssignKeys, StageResolve, StageBuildFact, StageAssemble}

// Options configures a pipeline run.
type Options struct {
	Cleaning  cleaner.Options
	Keys      keys.Options
	DateSpine bool
	// Entities defaults to core.DefaultEntitySpecs.
	Entities []core.EntitySpec
	// Dependencies defaults to core.DefaultDependencyRules.
	Dependencies []core.DependencyRule

	// OnStage, if set, is called when a stage starts and when it ends.
	OnStage func(StageEvent)

	Logger *slog.Logger
	Clock  clockwork.Clock
}

// DefaultOptions returns the configuration used when nothing is set.
func DefaultOptions() Options {
	return Options{
		Cleaning:     cleaner.DefaultOptions(),
		Keys:         keys.DefaultOptions(),
		Entities:     core.DefaultEntitySpecs(),
		Dependencies: core.DefaultDependencyRules(),
	}
}

// StageEvent describes a stage transition.
type StageEvent struct {
	Stage    string
	Status   core.StageStatus
	RowsIn   int
	RowsOut  int
	Duration time.Duration
	Err      error
}

// StageReport is the timing and volume of one completed stage.
type StageReport struct {
	Stage    string
	RowsIn   int
	RowsOut  int
	Duration time.Duration
}

// Report summarizes a run for humans and the run history.
type Report struct {
	Total           int
	Clean           int
	Skipped         int
	SkippedByReason map[string]int
	Duplicates      int
	Issues          []cleaner.Issue
	// Warnings counts first-seen conflicts per entity.
	Warnings  map[string]int
	Conflicts map[string][]extract.Conflict
	Stages    []StageReport
}

// TotalWarnings sums the per-entity warnings.
func (r *Report) TotalWarnings() int {
	n := 0
	for _, w := range r.Warnings {
		n += w
	}
	return n
}

// Result is the output of Run.
type Result struct {
	Schema  *star.Schema
	Cleaned []core.CleanRecord
	Report  *Report
}

// Validate checks the entity and dependency tables before any data is read.
func Validate(opts Options) error {
	var errs []error
	tables := make(map[string]string)
	fks := make(map[string]string)
	claim := func(kind, value, owner string, seen map[string]string) {
		if value == "" {
			return
		}
		if prev, ok := seen[value]; ok && prev != owner {
			errs = append(errs, fmt.Errorf("%s %q used by both %s and %s", kind, value, prev, owner))
			return
		}
		seen[value] = owner
	}

	names := make(map[string]bool)
	for _, e := range entitiesOf(opts) {
		if e.Name == "" || e.ForeignKey == "" || len(e.KeyColumns) == 0 {
			errs = append(errs, fmt.Errorf("entity %q: name, foreign_key and key_columns are required", e.Name))
			continue
		}
		if names[e.Name] {
			errs = append(errs, fmt.Errorf("entity %q declared twice", e.Name))
		}
		names[e.Name] = true
		claim("table", e.TableName(), "entity "+e.Name, tables)
		claim("foreign key", e.ForeignKey, "entity "+e.Name, fks)
		if _, err := extract.Columns("entity "+e.Name, e.Columns()); err != nil {
			errs = append(errs, err)
		}
	}
	rules := dependenciesOf(opts)
	for _, r := range rules {
		claim("table", r.Table, "dimension "+r.Dimension, tables)
		claim("foreign key", r.ForeignKey, "dimension "+r.Dimension, fks)
	}
	if err := resolve.ValidateRules(rules); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Run executes every stage. On failure the returned Result still carries the
// report gathered so far.
func Run(raw []core.RawRecord, opts Options) (*Result, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Cleaning.Logger == nil {
		opts.Cleaning.Logger = opts.Logger
	}

	r := &runner{
		opts:   opts,
		logger: opts.Logger,
		res: &Result{Report: &Report{
			Warnings:  make(map[string]int),
			Conflicts: make(map[string][]extract.Conflict),
		}},
	}
	if err := Validate(opts); err != nil {
		return r.res, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := r.run(raw); err != nil {
		return r.res, err
	}
	return r.res, nil
}

type runner struct {
	opts   Options
	logger *slog.Logger
	res    *Result

	entities []star.EntityDimension
	resolved *resolve.Result
	fact     *fact.Fact
}

func (r *runner) run(raw []core.RawRecord) error {
	steps := []struct {
		stage string
		in    int
		fn    func() (int, error)
	}{
		{StageClean, len(raw), func() (int, error) { return r.clean(raw) }},
		{StageExtract, -1, r.extract},
		{StageAssignKeys, -1, r.assignKeys},
		{StageResolve, -1, r.resolve},
		{StageBuildFact, -1, r.buildFact},
		{StageAssemble, -1, r.assemble},
	}
	for _, s := range steps {
		in := s.in
		if in < 0 {
			in = len(r.res.Cleaned)
		}
		if err := r.stage(s.stage, in, s.fn); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) stage(name string, rowsIn int, fn func() (int, error)) error {
	r.emit(StageEvent{Stage: name, Status: core.StageStatusRunning, RowsIn: rowsIn})
	r.logger.Debug("stage started", slog.String("stage", name), slog.Int("rows_in", rowsIn))

	start := r.opts.Clock.Now()
	rowsOut, err := fn()
	elapsed := r.opts.Clock.Since(start)

	if err != nil {
		r.emit(StageEvent{Stage: name, Status: core.StageStatusFailed, RowsIn: rowsIn, Duration: elapsed, Err: err})
		r.logger.Error("stage failed", slog.String("stage", name), slog.String("error", err.Error()))
		return fmt.Errorf("%s: %w", name, err)
	}
	r.res.Report.Stages = append(r.res.Report.Stages, StageReport{
		Stage: name, RowsIn: rowsIn, RowsOut: rowsOut, Duration: elapsed,
	})
	r.emit(StageEvent{Stage: name, Status: core.StageStatusSuccess, RowsIn: rowsIn, RowsOut: rowsOut, Duration: elapsed})
	r.logger.Debug("stage finished", slog.String("stage", name), slog.Int("rows_out", rowsOut), slog.Duration("duration", elapsed))
	return nil
}

func (r *runner) emit(ev StageEvent) {
	if r.opts.OnStage != nil {
		r.opts.OnStage(ev)
	}
}

func (r *runner) clean(raw []core.RawRecord) (int, error) {
	cr, err := cleaner.Clean(raw, r.opts.Cleaning)
	rep := r.res.Report
	rep.Total = len(raw)
	if err != nil {
		var dq *core.DataQualityError
		if errors.As(err, &dq) {
			rep.Skipped = dq.Skipped
			rep.SkippedByReason = dq.ByReason
		}
		return 0, err
	}
	rep.Clean = len(cr.Records)
	rep.Skipped = cr.Skipped
	rep.SkippedByReason = cr.SkippedByReason
	rep.Duplicates = cr.Duplicates
	rep.Issues = cr.Issues
	r.res.Cleaned = cr.Records
	return len(cr.Records), nil
}

func (r *runner) extract() (int, error) {
	total := 0
	for _, spec := range entitiesOf(r.opts) {
		e, err := extract.Extract(r.res.Cleaned, spec)
		if err != nil {
			return total, err
		}
		if e.Warnings > 0 {
			r.logger.Warn("conflicting attributes, first occurrence kept",
				slog.String("entity", e.Name()),
				slog.Int("rows", e.Warnings),
				slog.Int("keys", e.ConflictedKeys()))
		}
		r.res.Report.Warnings[e.Name()] = e.Warnings
		if len(e.Conflicts) > 0 {
			r.res.Report.Conflicts[e.Name()] = e.Conflicts
		}
		r.entities = append(r.entities, star.EntityDimension{Entity: e})
		total += e.Len()
	}
	return total, nil
}

func (r *runner) assignKeys() (int, error) {
	total := 0
	for i := range r.entities {
		km, err := keys.AssignEntity(r.entities[i].Entity, r.opts.Keys)
		if err != nil {
			return total, err
		}
		r.entities[i].Keys = km
		total += km.Len()
	}
	return total, nil
}

func (r *runner) resolve() (int, error) {
	res, err := resolve.Resolve(r.res.Cleaned, dependenciesOf(r.opts), resolve.Options{
		Keys:      r.opts.Keys,
		DateSpine: r.opts.DateSpine,
	})
	if err != nil {
		return 0, err
	}
	r.resolved = res
	total := 0
	for _, d := range res.Dimensions {
		total += d.Keys.Len()
	}
	return total, nil
}

func (r *runner) buildFact() (int, error) {
	f, err := fact.Build(core.TableFactSales, r.res.Cleaned, r.bindings())
	if err != nil {
		return 0, err
	}
	r.fact = f
	return f.Table.Len(), nil
}

// bindings orders the fact foreign keys: calendar roles, then entities, then
// the remaining lookup dimensions.
func (r *runner) bindings() []fact.Binding {
	var calendar, lookups []fact.Binding
	for _, s := range r.resolved.Substitutions {
		d, _ := r.resolved.Dimension(s.Dimension)
		b := fact.Binding{ForeignKey: s.ForeignKey, Dimension: d.TableName, Keys: d.Keys, Columns: s.Determinant}
		if d.Derive == "calendar" {
			calendar = append(calendar, b)
		} else {
			lookups = append(lookups, b)
		}
	}

	out := calendar
	for _, ed := range r.entities {
		out = append(out, fact.Binding{
			ForeignKey: ed.Entity.Spec.ForeignKey,
			Dimension:  ed.Entity.Spec.TableName(),
			Keys:       ed.Keys,
			Columns:    ed.Entity.KeyColumns(),
		})
	}
	return append(out, lookups...)
}

func (r *runner) assemble() (int, error) {
	s, err := star.Assemble(star.Input{
		Records:  r.res.Cleaned,
		Entities: r.entities,
		Resolved: r.resolved,
		Fact:     r.fact,
	})
	if err != nil {
		return 0, err
	}
	r.res.Schema = s
	return len(s.Tables()), nil
}

func entitiesOf(opts Options) []core.EntitySpec {
	if opts.Entities != nil {
		return opts.Entities
	}
	return core.DefaultEntitySpecs()
}

func dependenciesOf(opts Options) []core.DependencyRule {
	if opts.Dependencies != nil {
		return opts.Dependencies
	}
	return core.DefaultDependencyRules()
}
