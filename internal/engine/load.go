package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leapstack-labs/starschema/internal/cleaner"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// SourceTable is the DuckDB table the input CSV is loaded into.
const SourceTable = "source_rows"

// Load reads a CSV file into raw records. Every value stays text; the header
// is checked for the required columns before any row is read.
func (e *Engine) Load(ctx context.Context, path string) ([]core.RawRecord, error) {
	src, err := e.ensureSource(ctx)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("loading input", "path", path)
	if err := src.LoadCSV(ctx, SourceTable, path); err != nil {
		return nil, err
	}

	meta, err := src.GetTableMetadata(ctx, SourceTable)
	if err != nil {
		return nil, err
	}
	header := meta.ColumnNames()
	if err := cleaner.CheckColumns(header); err != nil {
		var sm *core.SchemaMismatchError
		if errors.As(err, &sm) {
			sm.Source = path
		}
		return nil, err
	}

	rows, err := src.Query(ctx, "SELECT * FROM "+SourceTable)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	canonical := make([]string, len(columns))
	for i, c := range columns {
		canonical[i] = core.CanonicalColumnName(c)
	}

	values := make([]sql.NullString, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	records := make([]core.RawRecord, 0, meta.RowCount)
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan line %d: %w", len(records)+1, err)
		}
		rec := core.RawRecord{Line: len(records) + 1}
		for i, v := range values {
			// Unknown columns are carried by the source table but ignored.
			rec.Set(canonical[i], v.String)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating input rows: %w", err)
	}

	e.logger.Info("input loaded", "path", path, "rows", len(records))
	return records, nil
}
