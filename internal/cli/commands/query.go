package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leapstack-labs/starschema/internal/cli/config"
	"github.com/leapstack-labs/starschema/internal/cli/output"
	"github.com/leapstack-labs/starschema/internal/engine"
	"github.com/leapstack-labs/starschema/pkg/adapter"

	// sqlite driver for state database queries.
	_ "modernc.org/sqlite"
)

// Query output formats.
const (
	FormatTable    = "table"
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "md"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Format  string
	File    string
	History bool
}

// queryBackend is a database the query command can read from.
type queryBackend struct {
	name      string
	query     func(ctx context.Context, sql string) (*sql.Rows, error)
	close     func() error
	tablesSQL string
	// columnsSQL lists name, type and nullability of a table's columns.
	columnsSQL func(table string) string
	history    string
}

// starBackend queries the database holding the star schema.
func starBackend(eng *engine.Engine, cfg *config.Config) *queryBackend {
	return &queryBackend{
		name: "star schema",
		query: func(ctx context.Context, q string) (*sql.Rows, error) {
			rows, err := eng.Query(ctx, q)
			if err != nil {
				return nil, err
			}
			return rows.Rows, nil
		},
		close: func() error { return nil },
		tablesSQL: `SELECT table_schema AS schema, table_name AS name, lower(table_type) AS type
FROM information_schema.tables
WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
ORDER BY table_schema, table_name`,
		columnsSQL: func(table string) string {
			return fmt.Sprintf(`SELECT column_name AS name, data_type AS type, is_nullable AS nullable
FROM information_schema.columns
WHERE table_name = %s
ORDER BY ordinal_position`, adapter.QuoteLiteral(table))
		},
		history: historyPath(cfg),
	}
}

// stateBackend queries the run history database read-only.
func stateBackend(cfg *config.Config) (*queryBackend, error) {
	statePath := resolveStatePath(cfg)
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("state database not found at %s (run 'starschema run' first)", statePath)
	}
	db, err := openStateDBReadOnly(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &queryBackend{
		name: "state",
		query: func(ctx context.Context, q string) (*sql.Rows, error) {
			return db.QueryContext(ctx, q)
		},
		close: db.Close,
		tablesSQL: `SELECT 'main' AS schema, name, type
FROM sqlite_master
WHERE type IN ('table', 'view')
AND name NOT LIKE 'sqlite_%'
AND name NOT LIKE 'goose_%'
ORDER BY type DESC, name`,
		columnsSQL: func(table string) string {
			return fmt.Sprintf(`SELECT name, type, CASE WHEN "notnull" = 1 THEN 'NO' ELSE 'YES' END AS nullable
FROM pragma_table_info(%s)`, adapter.QuoteLiteral(table))
		},
		history: historyPath(cfg),
	}, nil
}

// resolveStatePath returns the state database path from config or the default.
func resolveStatePath(cfg *config.Config) string {
	if cfg.StatePath != "" {
		return cfg.StatePath
	}
	return config.DefaultStateFile
}

// openStateDBReadOnly opens the state database in read-only mode.
func openStateDBReadOnly(path string) (*sql.DB, error) {
	return sql.Open("sqlite", path+"?mode=ro")
}

// historyPath keeps the REPL history next to the state database.
func historyPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(resolveStatePath(cfg)), "query_history")
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Query the star schema",
		Long: `Run SQL against the database holding the star schema.

With --history, the query runs against the run history database instead.
When invoked without arguments on a terminal, enters interactive REPL mode.`,
		Example: `  # Execute SQL directly
  starschema query "SELECT * FROM fact_sales LIMIT 10"

  # List available tables
  starschema query tables

  # Show the columns of a table
  starschema query schema dim_customer

  # Inspect the run history
  starschema query --history "SELECT id, status FROM runs"

  # Output as JSON
  starschema query "SELECT category, count(*) FROM dim_product GROUP BY 1" --format json

  # Interactive mode
  starschema query`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Format, "format", "f", "", "Output format: table, json, csv, md (default from --output)")
	cmd.PersistentFlags().BoolVar(&opts.History, "history", false, "Query the run history database")
	cmd.Flags().StringVar(&opts.File, "file", "", "Read SQL from file")

	cmd.AddCommand(newQueryTablesCommand(opts))
	cmd.AddCommand(newQuerySchemaCommand(opts))

	return cmd
}

// withBackend opens the selected backend, runs fn and releases everything.
func withBackend(cmd *cobra.Command, opts *QueryOptions, fn func(b *queryBackend, format string) error) error {
	if opts.History {
		cmdCtx := NewCommandContextWithoutEngine(cmd)
		b, err := stateBackend(cmdCtx.Cfg)
		if err != nil {
			return err
		}
		defer func() { _ = b.close() }()
		return fn(b, queryFormat(opts.Format, cmdCtx.Renderer))
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(starBackend(cmdCtx.Engine, cmdCtx.Cfg), queryFormat(opts.Format, cmdCtx.Renderer))
}

// queryFormat picks the explicit format or follows the global output mode.
func queryFormat(format string, r *output.Renderer) string {
	if format != "" {
		return strings.ToLower(format)
	}
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return FormatJSON
	case output.ModeMarkdown:
		return FormatMarkdown
	default:
		return FormatTable
	}
}

func runQuery(cmd *cobra.Command, args []string, opts *QueryOptions) error {
	var sqlQuery string

	switch {
	case len(args) > 0:
		sqlQuery = strings.Join(args, " ")
	case opts.File != "":
		content, err := os.ReadFile(opts.File)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		sqlQuery = string(content)
	case !isTerminal(cmd.InOrStdin()):
		// Piped input
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		sqlQuery = string(content)
	default:
		return withBackend(cmd, opts, func(b *queryBackend, format string) error {
			return runQueryREPL(cmd, b, format)
		})
	}

	sqlQuery = strings.TrimSuffix(strings.TrimSpace(sqlQuery), ";")
	if sqlQuery == "" {
		return errors.New("no SQL to run")
	}
	return withBackend(cmd, opts, func(b *queryBackend, format string) error {
		return executeAndRender(cmd.Context(), cmd.OutOrStdout(), b, sqlQuery, format)
	})
}

// executeAndRender executes a query and renders results, closing rows with defer.
func executeAndRender(ctx context.Context, w io.Writer, b *queryBackend, sqlQuery, format string) error {
	rows, err := b.query(ctx, sqlQuery)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return renderResults(w, rows, format)
}

// newQueryTablesCommand creates the tables subcommand.
func newQueryTablesCommand(opts *QueryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List all tables and views in the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, opts, func(b *queryBackend, format string) error {
				return executeAndRender(cmd.Context(), cmd.OutOrStdout(), b, b.tablesSQL, format)
			})
		},
	}
}

// newQuerySchemaCommand creates the schema subcommand.
func newQuerySchemaCommand(opts *QueryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <table>",
		Short: "Show the columns of a table or view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(b *queryBackend, format string) error {
				return showSchema(cmd.Context(), cmd.OutOrStdout(), b, args[0], format)
			})
		},
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
