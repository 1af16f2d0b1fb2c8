package commands

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/starschema/internal/cli/output"
	"github.com/leapstack-labs/starschema/internal/engine"
	"github.com/leapstack-labs/starschema/internal/pipeline"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	DryRun     bool
	JSONOutput bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run [input.csv]",
		Short: "Normalize the input and export the star schema",
		Long: `Load the retail transactions file, normalize it to third normal form and
assemble the star schema (fact_sales with its dimensions).

Every stage is recorded in the run history. A run whose integrity checks
fail is marked failed and exports nothing.`,
		Example: `  # Run with the input from starschema.yaml
  starschema run

  # Run a specific file
  starschema run data/superstore.csv

  # Check the input without exporting
  starschema run --dry-run

  # Emit JSON lines for CI/CD integration
  starschema run --json`,
		Aliases: []string{"build"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Run the pipeline and integrity checks without exporting")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "Output as JSON lines for progress tracking")

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions, args []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := *cmdCtx.Cfg
	if len(args) > 0 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		cfg.Input = abs
	}
	if err := cfg.ValidateInput(); err != nil {
		if cfg.Input == "" {
			return fmt.Errorf("%w\n%s", err, configFileHint)
		}
		return err
	}

	r := cmdCtx.Renderer
	if opts.JSONOutput || r.EffectiveMode() == output.ModeJSON {
		return runWithJSON(cmd, cmdCtx.Engine, cfg.Input, opts.DryRun)
	}
	return runWithText(cmd, cmdCtx.Engine, r, cfg.Input, opts.DryRun)
}

// runWithText executes a run with human-readable progress.
func runWithText(cmd *cobra.Command, eng *engine.Engine, r *output.Renderer, input string, dryRun bool) error {
	r.Header(1, "Run")
	r.KeyValue("input", input)
	if dryRun {
		r.KeyValue("mode", "dry run")
	}
	r.Println("")

	res, runErr := eng.Run(cmd.Context(), engine.RunOptions{
		Input:  input,
		DryRun: dryRun,
		OnStage: func(ev pipeline.StageEvent) {
			if ev.Status == core.StageStatusRunning {
				return
			}
			r.StatusLine(ev.Stage, string(ev.Status), stageDetail(r, ev))
		},
	})
	r.Println("")

	if res != nil && res.Run != nil {
		renderRunResult(r, res)
	}
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}

func stageDetail(r *output.Renderer, ev pipeline.StageEvent) string {
	switch ev.Status {
	case core.StageStatusSuccess:
		return fmt.Sprintf("%s → %s rows in %dms", r.Number(int64(ev.RowsIn)), r.Number(int64(ev.RowsOut)), ev.Duration.Milliseconds())
	case core.StageStatusFailed:
		if ev.Err != nil {
			return ev.Err.Error()
		}
	}
	return ""
}

func renderRunResult(r *output.Renderer, res *engine.RunResult) {
	run := res.Run
	r.Header(2, "Result")
	r.KeyValue("run", run.ID)
	r.KeyValue("status", string(run.Status))
	r.KeyValue("rows read", run.TotalRows)
	r.KeyValue("rows kept", run.CleanRows)
	r.KeyValue("rows skipped", run.SkippedRows)
	r.KeyValue("duplicates removed", run.DuplicateRows)
	r.KeyValue("consistency warnings", run.Warnings)

	if res.Pipeline != nil && res.Pipeline.Report != nil {
		rep := res.Pipeline.Report
		reasons := make([]string, 0, len(rep.SkippedByReason))
		for reason := range rep.SkippedByReason {
			reasons = append(reasons, reason)
		}
		slices.Sort(reasons)
		for _, reason := range reasons {
			r.KeyValue("skipped ("+reason+")", rep.SkippedByReason[reason])
		}
	}
	r.Println("")

	if len(res.Tables) > 0 {
		rows := make([][]any, 0, len(res.Tables))
		for _, st := range res.Tables {
			rows = append(rows, []any{st.TableName, st.RowCount})
		}
		r.Table([]string{"table", "rows"}, rows)
	}

	for _, name := range res.Changed {
		r.Warning(fmt.Sprintf("%s differs from the previous run over the same input", name))
	}
	if len(res.Files) > 0 {
		r.KeyValue("files written", len(res.Files))
	}
	if res.Manifest != "" {
		r.KeyValue("manifest", res.Manifest)
	}
	if run.Status == core.RunStatusCompleted {
		r.Success("Star schema ready")
	}
}

// runWithJSON executes a run with JSON lines output.
func runWithJSON(cmd *cobra.Command, eng *engine.Engine, input string, dryRun bool) error {
	w := cmd.OutOrStdout()

	_ = output.EmitEvent(w, output.RunEvent{
		Event:  output.EventRunStart,
		Input:  input,
		Stages: engine.RunStages,
	})

	res, runErr := eng.Run(cmd.Context(), engine.RunOptions{
		Input:  input,
		DryRun: dryRun,
		OnStage: func(ev pipeline.StageEvent) {
			event := output.RunEvent{
				Event:      output.EventStageComplete,
				Stage:      ev.Stage,
				Status:     string(ev.Status),
				RowsIn:     ev.RowsIn,
				RowsOut:    ev.RowsOut,
				DurationMS: ev.Duration.Milliseconds(),
			}
			if ev.Status == core.StageStatusRunning {
				event.Event = output.EventStageStart
			}
			if ev.Err != nil {
				event.Error = ev.Err.Error()
			}
			_ = output.EmitEvent(w, event)
		},
	})

	done := output.RunEvent{Event: output.EventRunComplete, Status: string(core.RunStatusFailed)}
	if res != nil && res.Run != nil {
		done.RunID = res.Run.ID
		done.Status = string(res.Run.Status)
		done.Skipped = res.Run.SkippedRows
		done.Warnings = res.Run.Warnings
		done.Files = res.Files
		if len(res.Tables) > 0 {
			done.Tables = make(map[string]int, len(res.Tables))
			for _, st := range res.Tables {
				done.Tables[st.TableName] = st.RowCount
			}
		}
	}
	if runErr != nil {
		done.Error = runErr.Error()
	}
	_ = output.EmitEvent(w, done)

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}
