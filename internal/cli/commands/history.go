package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/starschema/internal/cli/output"
	"github.com/leapstack-labs/starschema/internal/state"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// LatestRun is the run id alias for the most recent run.
const LatestRun = "latest"

// RunInfo is the JSON shape of a run history entry.
type RunInfo struct {
	ID            string     `json:"id"`
	Input         string     `json:"input"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	TotalRows     int        `json:"total_rows"`
	CleanRows     int        `json:"clean_rows"`
	SkippedRows   int        `json:"skipped_rows"`
	DuplicateRows int        `json:"duplicate_rows"`
	Warnings      int        `json:"warnings"`
	Error         string     `json:"error,omitempty"`
}

// StageInfo is the JSON shape of a stage record.
type StageInfo struct {
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	RowsIn     int    `json:"rows_in"`
	RowsOut    int    `json:"rows_out"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func runInfo(run *core.Run) RunInfo {
	return RunInfo{
		ID:            run.ID,
		Input:         run.Input,
		Status:        string(run.Status),
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
		TotalRows:     run.TotalRows,
		CleanRows:     run.CleanRows,
		SkippedRows:   run.SkippedRows,
		DuplicateRows: run.DuplicateRows,
		Warnings:      run.Warnings,
		Error:         run.Error,
	}
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the run history",
		Long: `List recent runs, newest first, with their row counts and status.

Output adapts to environment:
  - Terminal: Styled table
  - Piped/Scripted: Markdown table (agent-friendly)`,
		Example: `  # Show the last 20 runs
  starschema runs

  # Show the last 5 runs as JSON
  starschema runs --limit 5 --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRuns(cmd, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	return cmd
}

func runRuns(cmd *cobra.Command, limit int) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := cmdCtx.Engine.GetStateStore().ListRuns(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		infos := make([]RunInfo, 0, len(runs))
		for _, run := range runs {
			infos = append(infos, runInfo(run))
		}
		return r.JSON(infos)
	}

	r.Header(1, "Runs")
	if len(runs) == 0 {
		r.Println("No runs yet. Run 'starschema run' first.")
		return nil
	}
	rows := make([][]any, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []any{
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			string(run.Status),
			run.CleanRows,
			run.SkippedRows,
			run.Warnings,
		})
	}
	r.Table([]string{"run", "started", "status", "rows", "skipped", "warnings"}, rows)
	return nil
}

// NewStagesCommand creates the stages command.
func NewStagesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stages [run-id]",
		Short: "Show the stages of a run",
		Long: `Show every stage of a run with its status, row counts and duration.

Without an argument, or with "latest", the most recent run is shown.`,
		Example: `  # Stages of the latest run
  starschema stages

  # Stages of a specific run
  starschema stages 0b6f5c1e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := LatestRun
			if len(args) > 0 {
				id = args[0]
			}
			return runStages(cmd, id)
		},
	}
	return cmd
}

func runStages(cmd *cobra.Command, id string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	store := cmdCtx.Engine.GetStateStore()
	run, err := resolveRun(ctx, store, id, "")
	if err != nil {
		return err
	}
	stages, err := store.GetStagesForRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to get stages: %w", err)
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		infos := make([]StageInfo, 0, len(stages))
		for _, s := range stages {
			infos = append(infos, StageInfo{
				Stage: s.Stage, Status: string(s.Status),
				RowsIn: s.RowsIn, RowsOut: s.RowsOut,
				DurationMS: s.DurationMS, Error: s.Error,
			})
		}
		return r.JSON(struct {
			Run    RunInfo     `json:"run"`
			Stages []StageInfo `json:"stages"`
		}{runInfo(run), infos})
	}

	r.Header(1, "Run "+run.ID)
	r.KeyValue("input", run.Input)
	r.KeyValue("status", string(run.Status))
	if run.Error != "" {
		r.KeyValue("error", run.Error)
	}
	r.Println("")

	rows := make([][]any, 0, len(stages))
	for _, s := range stages {
		rows = append(rows, []any{s.Stage, string(s.Status), s.RowsIn, s.RowsOut, fmt.Sprintf("%dms", s.DurationMS), s.Error})
	}
	r.Table([]string{"stage", "status", "rows in", "rows out", "duration", "error"}, rows)
	return nil
}

// resolveRun finds a run by id. "latest" picks the most recent run with the
// given status, any status when status is empty.
func resolveRun(ctx context.Context, store core.Store, id string, status core.RunStatus) (*core.Run, error) {
	var (
		run *core.Run
		err error
	)
	if id == LatestRun {
		run, err = store.GetLatestRun(ctx, status)
	} else {
		run, err = store.GetRun(ctx, id)
	}
	if errors.Is(err, state.ErrNotFound) {
		if id == LatestRun {
			return nil, fmt.Errorf("no runs found\nHint: Run 'starschema run' first")
		}
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}
