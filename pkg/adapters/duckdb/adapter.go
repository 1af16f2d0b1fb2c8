// Package duckdb provides a DuckDB database adapter.
//
// DuckDB is the default engine: the source CSV is read through read_csv and
// the star schema can be copied out to CSV or Parquet files.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/starschema/pkg/adapter"
	"github.com/leapstack-labs/starschema/pkg/core"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Dialect describes DuckDB SQL for table writes.
var Dialect = &adapter.Dialect{
	Name:          "duckdb",
	DefaultSchema: "main",
	Placeholder:   adapter.QuestionPlaceholder,
	Types: map[core.ColumnType]string{
		core.TypeInteger: "BIGINT",
		core.TypeDecimal: "DOUBLE",
		core.TypeText:    "VARCHAR",
		core.TypeDate:    "DATE",
	},
}

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
	params *Params
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger, Dialect: Dialect},
	}
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" or an empty path for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	params, err := parseParams(cfg.Params)
	if err != nil {
		return fmt.Errorf("invalid duckdb params: %w", err)
	}

	a.Logger.Debug("connecting to duckdb", slog.String("path", path))

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	a.params = params

	if err := a.applyParams(ctx); err != nil {
		_ = db.Close()
		a.DB = nil
		return err
	}
	if cfg.Schema != "" {
		if err := a.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+adapter.QuoteIdent(cfg.Schema)); err != nil {
			_ = db.Close()
			a.DB = nil
			return err
		}
	}
	return nil
}

// applyParams installs extensions, applies settings and creates secrets.
func (a *Adapter) applyParams(ctx context.Context) error {
	for _, ext := range a.params.Extensions {
		a.Logger.Debug("loading duckdb extension", slog.String("extension", ext))
		for _, stmt := range []string{"INSTALL " + ext, "LOAD " + ext} {
			if err := a.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to load extension %s: %w", ext, err)
			}
		}
	}
	for _, key := range sortedKeys(a.params.Settings) {
		stmt := fmt.Sprintf("SET %s = %s", key, adapter.QuoteLiteral(a.params.Settings[key]))
		if err := a.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply setting %s: %w", key, err)
		}
	}
	for _, secret := range a.params.Secrets {
		if err := a.Exec(ctx, buildCreateSecretSQL(secret)); err != nil {
			return fmt.Errorf("failed to create %s secret: %w", secret.Type, err)
		}
	}
	return nil
}

// GetTableMetadata retrieves metadata for a specified table.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	return a.GetTableMetadataCommon(ctx, table)
}

// LoadCSV loads a CSV file into a table with every column typed VARCHAR, so
// that all interpretation of values is left to the cleaner.
func (a *Adapter) LoadCSV(ctx context.Context, tableName string, filePath string) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}

	path := filePath
	if !strings.Contains(filePath, "://") {
		abs, err := filepath.Abs(filePath)
		if err != nil {
			return fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = abs
	}

	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv(%s, header=true, all_varchar=true)",
		adapter.QuoteIdent(tableName),
		adapter.QuoteLiteral(path),
	)
	if err := a.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to load CSV: %w", err)
	}
	return nil
}

// ExportTable copies a table into a CSV or Parquet file.
func (a *Adapter) ExportTable(ctx context.Context, table, path string, format adapter.FileFormat) error {
	var opts string
	switch format {
	case adapter.FormatCSV:
		opts = "FORMAT csv, HEADER true"
	case adapter.FormatParquet:
		opts = "FORMAT parquet"
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
	stmt := fmt.Sprintf("COPY %s TO %s (%s)", a.QualifiedName(table), adapter.QuoteLiteral(path), opts)
	if err := a.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to export %s: %w", table, err)
	}
	return nil
}

// Ensure Adapter implements the adapter interfaces.
var (
	_ adapter.Adapter      = (*Adapter)(nil)
	_ adapter.FileExporter = (*Adapter)(nil)
)
