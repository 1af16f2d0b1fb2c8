// Package engine is the I/O shell around the normalization pipeline.
// It loads the source CSV through DuckDB, runs the pipeline, records the run
// in the state store and exports the star schema.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/leapstack-labs/starschema/internal/metrics"
	"github.com/leapstack-labs/starschema/internal/pipeline"
	"github.com/leapstack-labs/starschema/internal/state"
	"github.com/leapstack-labs/starschema/pkg/adapter"
	"github.com/leapstack-labs/starschema/pkg/core"

	// Register the adapters a target can name.
	_ "github.com/leapstack-labs/starschema/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/starschema/pkg/adapters/postgres"
)

// Engine orchestrates load, pipeline and export.
type Engine struct {
	cfg Config

	// Working DuckDB database (lazy initialized)
	source          adapter.Adapter
	sourceConnected bool
	sourceMu        sync.Mutex

	// Export target (lazy initialized, nil config means none)
	target          adapter.Adapter
	targetConnected bool
	targetMu        sync.Mutex

	logger  *slog.Logger
	clock   clockwork.Clock
	store   core.Store
	metrics *metrics.Registry
}

// Config holds engine configuration.
type Config struct {
	// StatePath is the path to the SQLite run history (":memory:" allowed).
	StatePath string
	// SourcePath is the DuckDB database used for loading and file exports.
	// Empty means in-memory.
	SourcePath string
	// Target is the database receiving the star schema. Nil disables
	// database export; tables are then only written to the source database.
	Target *core.TargetConfig
	// OutputDir receives exported files, the manifest and the summary.
	OutputDir string
	Export    ExportConfig
	// Pipeline configures the normalization stages. Start from
	// pipeline.DefaultOptions.
	Pipeline pipeline.Options
	// MetricsFile, if set, receives the run metrics in Prometheus text format.
	MetricsFile string
	// KeepRuns bounds the run history; 0 keeps everything.
	KeepRuns int

	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
	// Clock is used for stage timings (optional, real clock if nil)
	Clock clockwork.Clock
	// Metrics is the registry to record into (optional)
	Metrics *metrics.Registry
}

// ExportConfig controls what a run writes besides the target tables.
type ExportConfig struct {
	// Formats are file formats written to OutputDir (csv, parquet).
	Formats []adapter.FileFormat
	// Artifacts also exports the 1NF/2NF/3NF normalization artifacts.
	Artifacts bool
	// Manifest writes manifest.yaml to OutputDir.
	Manifest bool
	// Summary writes summary.json to OutputDir.
	Summary bool
	// Concurrency bounds parallel file exports.
	Concurrency int
}

// DefaultConcurrency is used when ExportConfig.Concurrency is not positive.
const DefaultConcurrency = 4

// New creates a new engine with lazy database connections.
// Only the state store is opened here.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.StatePath == "" {
		cfg.StatePath = ":memory:"
	}
	if cfg.Export.Concurrency <= 0 {
		cfg.Export.Concurrency = DefaultConcurrency
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewRegistry()
	}
	cfg.Pipeline.Logger = logger
	cfg.Pipeline.Clock = clock

	logger.Debug("initializing engine", "state_path", cfg.StatePath, "output_dir", cfg.OutputDir)

	store := state.NewSQLiteStore(logger).WithClock(clock)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}

	return &Engine{
		cfg:     cfg,
		logger:  logger,
		clock:   clock,
		store:   store,
		metrics: cfg.Metrics,
	}, nil
}

// ensureSource lazily connects the working DuckDB database.
func (e *Engine) ensureSource(ctx context.Context) (adapter.Adapter, error) {
	e.sourceMu.Lock()
	defer e.sourceMu.Unlock()

	if e.sourceConnected {
		return e.source, nil
	}

	cfg := adapter.Config{Type: "duckdb", Path: e.cfg.SourcePath}
	e.logger.Debug("connecting to source database", "path", cfg.Path)

	db, err := adapter.NewAdapter(cfg, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create source adapter: %w", err)
	}
	if err := db.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to source database: %w", err)
	}

	e.source = db
	e.sourceConnected = true
	return db, nil
}

// ensureTarget lazily connects the export target. Without a configured
// target the source database stands in.
func (e *Engine) ensureTarget(ctx context.Context) (adapter.Adapter, error) {
	if e.cfg.Target == nil {
		return e.ensureSource(ctx)
	}

	e.targetMu.Lock()
	defer e.targetMu.Unlock()

	if e.targetConnected {
		return e.target, nil
	}

	cfg := e.cfg.Target.AdapterConfig()
	e.logger.Debug("connecting to target database", "adapter_type", cfg.Type)

	db, err := adapter.NewAdapter(cfg, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create target adapter: %w", err)
	}
	if err := db.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to target database: %w", err)
	}

	e.target = db
	e.targetConnected = true
	return db, nil
}

// Close releases all resources.
func (e *Engine) Close() error {
	e.logger.Debug("closing engine")

	var errs []error
	if e.target != nil {
		errs = append(errs, e.target.Close())
	}
	if e.source != nil {
		errs = append(errs, e.source.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("errors closing engine: %w", err)
	}
	return nil
}

// Query runs SQL against the database holding the star schema.
func (e *Engine) Query(ctx context.Context, sql string) (*core.Rows, error) {
	db, err := e.ensureTarget(ctx)
	if err != nil {
		return nil, err
	}
	return db.Query(ctx, sql)
}

// --- Getters (public accessors) ---

// GetStateStore returns the state store.
func (e *Engine) GetStateStore() core.Store {
	return e.store
}

// Metrics returns the metrics registry.
func (e *Engine) Metrics() *metrics.Registry {
	return e.metrics
}

// PipelineOptions returns the pipeline configuration in effect.
func (e *Engine) PipelineOptions() pipeline.Options {
	return e.cfg.Pipeline
}
