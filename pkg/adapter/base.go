package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/starschema/pkg/core"
)

var errNotConnected = errors.New("database connection not established")

// BaseSQLAdapter provides common database/sql functionality for adapters.
// Embed this struct in concrete adapter implementations to get standard
// Close, Exec, Query and table writing.
type BaseSQLAdapter struct {
	DB      *sql.DB
	Cfg     core.AdapterConfig
	Logger  *slog.Logger
	Dialect *Dialect
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.DB.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string) error {
	if b.DB == nil {
		return errNotConnected
	}
	if _, err := b.DB.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Query executes a SQL statement that returns rows.
func (b *BaseSQLAdapter) Query(ctx context.Context, sqlStr string) (*core.Rows, error) {
	if b.DB == nil {
		return nil, errNotConnected
	}
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := b.DB.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return &core.Rows{Rows: rows}, nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

// QualifiedName returns the quoted target name of a table, prefixed with the
// configured schema when there is one.
func (b *BaseSQLAdapter) QualifiedName(table string) string {
	if b.Cfg.Schema != "" {
		return QuoteIdent(b.Cfg.Schema) + "." + QuoteIdent(table)
	}
	return QuoteIdent(table)
}

// GetTableMetadataCommon reads column metadata from information_schema.
func (b *BaseSQLAdapter) GetTableMetadataCommon(ctx context.Context, table string) (*core.TableMetadata, error) {
	if b.DB == nil {
		return nil, errNotConnected
	}
	d := b.Dialect
	schema, tableName := ParseQualifiedName(table, d)

	//nolint:gosec // Placeholders come from the dialect
	query := fmt.Sprintf(`
		SELECT
			column_name,
			data_type,
			is_nullable,
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = %s AND table_name = %s
		ORDER BY ordinal_position
	`, d.Placeholder(1), d.Placeholder(2))

	rows, err := b.DB.QueryContext(ctx, query, schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []core.Column
	for rows.Next() {
		var col core.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", QuoteIdent(schema), QuoteIdent(tableName)) //nolint:gosec // quoted identifiers
	var rowCount int64
	if err := b.DB.QueryRowContext(ctx, countQuery).Scan(&rowCount); err != nil {
		rowCount = 0
	}

	return &core.TableMetadata{
		Schema:   schema,
		Name:     tableName,
		Columns:  columns,
		RowCount: rowCount,
	}, nil
}

// WriteTable replaces the target table with t inside one transaction:
// drop, create with typed columns, then one prepared insert per row.
func (b *BaseSQLAdapter) WriteTable(ctx context.Context, t *core.Table) error {
	if b.DB == nil {
		return errNotConnected
	}
	qualified := b.QualifiedName(t.Name())
	create, err := CreateTableSQL(qualified, t, b.Dialect)
	if err != nil {
		return err
	}

	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+qualified); err != nil {
		return fmt.Errorf("failed to drop %s: %w", t.Name(), err)
	}
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create %s: %w", t.Name(), err)
	}

	if t.Len() > 0 {
		stmt, err := tx.PrepareContext(ctx, InsertSQL(qualified, t, b.Dialect))
		if err != nil {
			return fmt.Errorf("failed to prepare insert into %s: %w", t.Name(), err)
		}
		defer func() { _ = stmt.Close() }()

		args := make([]any, len(t.Columns()))
		for i := 0; i < t.Len(); i++ {
			for j, v := range t.Row(i) {
				args[j] = BindValue(v)
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("failed to insert row %d into %s: %w", i+1, t.Name(), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", t.Name(), err)
	}
	if b.Logger != nil {
		b.Logger.Debug("table written", slog.String("table", t.Name()), slog.Int("rows", t.Len()))
	}
	return nil
}
