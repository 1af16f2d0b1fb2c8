package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/starschema/internal/cli/config"
	"github.com/leapstack-labs/starschema/internal/cli/output"
	intconfig "github.com/leapstack-labs/starschema/internal/config"
	"github.com/leapstack-labs/starschema/internal/engine"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with engine and renderer.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cmdCtx := NewCommandContextWithoutEngine(cmd)

	eng, err := createEngine(cmdCtx.Cfg, cmdCtx.Logger)
	if err != nil {
		return nil, nil, err
	}
	cmdCtx.Engine = eng

	cleanup := func() {
		if err := eng.Close(); err != nil {
			cmdCtx.Logger.Warn("failed to close engine", "error", err.Error())
		}
	}
	return cmdCtx, cleanup, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without an engine.
// Useful for commands that don't need database access.
func NewCommandContextWithoutEngine(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// getConfig returns the current configuration.
// Falls back to loading from the working directory when the root command
// did not load one (direct command use in tests).
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	if cfg, err := config.LoadConfig("", nil); err == nil {
		return cfg
	}

	return config.DefaultConfig()
}

// engineConfig maps the CLI configuration onto the engine.
func engineConfig(cfg *config.Config, logger *slog.Logger) (engine.Config, error) {
	popts, err := cfg.PipelineOptions()
	if err != nil {
		return engine.Config{}, err
	}
	formats, err := cfg.Export.FileFormats()
	if err != nil {
		return engine.Config{}, err
	}

	return engine.Config{
		StatePath:  cfg.StatePath,
		SourcePath: cfg.Database,
		Target:     cfg.Target,
		OutputDir:  cfg.OutputDir,
		Export: engine.ExportConfig{
			Formats:     formats,
			Artifacts:   cfg.Export.Artifacts,
			Manifest:    cfg.Export.Manifest,
			Summary:     cfg.Export.Summary,
			Concurrency: cfg.Export.Concurrency,
		},
		Pipeline:    popts,
		MetricsFile: cfg.MetricsFile,
		KeepRuns:    cfg.KeepRuns,
		Logger:      logger,
	}, nil
}

func createEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	// Ensure the directories of file-backed databases exist
	for _, p := range []string{cfg.StatePath, cfg.Database, cfg.MetricsFile} {
		if err := ensureParentDir(p); err != nil {
			return nil, err
		}
	}
	if cfg.Target != nil && cfg.Target.Type == "duckdb" {
		if err := ensureParentDir(cfg.Target.Database); err != nil {
			return nil, err
		}
	}

	engineCfg, err := engineConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	return engine.New(engineCfg)
}

func ensureParentDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// configFileHint is appended to errors that a config file would fix.
const configFileHint = "Hint: Run 'starschema init' to create " + intconfig.ConfigFileName
