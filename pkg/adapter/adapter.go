// Package adapter provides the database adapter contract used to load the
// source table and write the star schema.
//
// Concrete adapter implementations are in pkg/adapters/ subdirectories and
// register themselves by name.
package adapter

import (
	"context"

	"github.com/leapstack-labs/starschema/pkg/core"
)

type (
	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Column is an alias for core.Column.
	Column = core.Column

	// Metadata is an alias for core.TableMetadata.
	Metadata = core.TableMetadata

	// Rows is an alias for core.Rows.
	Rows = core.Rows

	// Adapter is an alias for core.Adapter.
	Adapter = core.Adapter
)

// FileFormat is a file format a table can be exported to.
type FileFormat string

// Supported export file formats.
const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
)

// FileExporter is implemented by adapters that can copy a table into a file.
type FileExporter interface {
	ExportTable(ctx context.Context, table, path string, format FileFormat) error
}
