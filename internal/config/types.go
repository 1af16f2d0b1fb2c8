// Package config provides the shared configuration types for starschema.
// This package is decoupled from CLI concerns: it knows how a project file
// is shaped and how it maps onto engine and pipeline options.
package config

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/starschema/internal/cleaner"
	"github.com/leapstack-labs/starschema/internal/keys"
	"github.com/leapstack-labs/starschema/internal/pipeline"
	"github.com/leapstack-labs/starschema/pkg/adapter"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// TargetConfig is the export target, shared with pkg/core.
type TargetConfig = core.TargetConfig

// CleaningConfig configures the cleaner.
type CleaningConfig struct {
	DateOrder              string  `koanf:"date_order"`
	PostalCodeWidth        int     `koanf:"postal_code_width"`
	AllowMissingPostalCode bool    `koanf:"allow_missing_postal_code"`
	MaxSkipRate            float64 `koanf:"max_skip_rate"`
}

// KeysConfig configures surrogate key assignment.
type KeysConfig struct {
	Base  int64  `koanf:"base"`
	Order string `koanf:"order"`
}

// DimensionsConfig configures dimension derivation.
type DimensionsConfig struct {
	// DateSpine fills dim_date with every day between the first and last
	// date seen.
	DateSpine bool `koanf:"date_spine"`
}

// ExportConfig configures what a run writes to output_dir.
type ExportConfig struct {
	Formats     []string `koanf:"formats"`
	Artifacts   bool     `koanf:"artifacts"`
	Manifest    bool     `koanf:"manifest"`
	Summary     bool     `koanf:"summary"`
	Concurrency int      `koanf:"concurrency"`
}

// ProjectConfig is the content of a starschema.yaml file.
type ProjectConfig struct {
	Input       string `koanf:"input"`
	OutputDir   string `koanf:"output_dir"`
	StatePath   string `koanf:"state_path"`
	Database    string `koanf:"database"`
	MetricsFile string `koanf:"metrics_file"`
	KeepRuns    int    `koanf:"keep_runs"`

	Cleaning   CleaningConfig   `koanf:"cleaning"`
	Keys       KeysConfig       `koanf:"keys"`
	Dimensions DimensionsConfig `koanf:"dimensions"`

	// Entities and Dependencies replace the built-in declarations when set.
	Entities     []core.EntitySpec     `koanf:"entities"`
	Dependencies []core.DependencyRule `koanf:"dependencies"`

	Target *TargetConfig `koanf:"target"`
	Export ExportConfig  `koanf:"export"`
}

// PipelineOptions converts the cleaning, keys and dimension sections into
// pipeline options.
func (c *ProjectConfig) PipelineOptions() (pipeline.Options, error) {
	opts := pipeline.DefaultOptions()

	order, err := cleaner.ParseDateOrder(c.Cleaning.DateOrder)
	if err != nil {
		return opts, fmt.Errorf("cleaning.date_order: %w", err)
	}
	opts.Cleaning.DateOrder = order
	if c.Cleaning.PostalCodeWidth > 0 {
		opts.Cleaning.PostalCodeWidth = c.Cleaning.PostalCodeWidth
	}
	opts.Cleaning.AllowMissingPostalCode = c.Cleaning.AllowMissingPostalCode
	opts.Cleaning.MaxSkipRate = c.Cleaning.MaxSkipRate

	keyOrder, err := keys.ParseOrder(c.Keys.Order)
	if err != nil {
		return opts, fmt.Errorf("keys.order: %w", err)
	}
	opts.Keys.Order = keyOrder
	opts.Keys.Base = c.Keys.Base

	opts.DateSpine = c.Dimensions.DateSpine
	if len(c.Entities) > 0 {
		opts.Entities = c.Entities
	}
	if len(c.Dependencies) > 0 {
		opts.Dependencies = c.Dependencies
	}
	return opts, nil
}

// FileFormats returns the configured export formats.
func (c *ExportConfig) FileFormats() ([]adapter.FileFormat, error) {
	out := make([]adapter.FileFormat, 0, len(c.Formats))
	for _, f := range c.Formats {
		switch ff := adapter.FileFormat(strings.ToLower(strings.TrimSpace(f))); ff {
		case adapter.FormatCSV, adapter.FormatParquet:
			out = append(out, ff)
		default:
			return nil, fmt.Errorf("export.formats: unknown format %q (want csv or parquet)", f)
		}
	}
	return out, nil
}

// Validate checks the configuration without touching the filesystem.
func (c *ProjectConfig) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.Cleaning.MaxSkipRate < 0 || c.Cleaning.MaxSkipRate > 1 {
		return fmt.Errorf("cleaning.max_skip_rate must be between 0 and 1, got %g", c.Cleaning.MaxSkipRate)
	}
	if c.Cleaning.PostalCodeWidth < 0 {
		return fmt.Errorf("cleaning.postal_code_width must not be negative")
	}
	if c.Keys.Base < 0 {
		return fmt.Errorf("keys.base must not be negative")
	}
	if c.KeepRuns < 0 {
		return fmt.Errorf("keep_runs must not be negative")
	}
	if _, err := c.PipelineOptions(); err != nil {
		return err
	}
	if _, err := c.Export.FileFormats(); err != nil {
		return err
	}
	for i, e := range c.Entities {
		if e.Name == "" || len(e.KeyColumns) == 0 || e.ForeignKey == "" {
			return fmt.Errorf("entities[%d]: name, key_columns and foreign_key are required", i)
		}
	}
	for i, r := range c.Dependencies {
		if len(r.Determinant) == 0 || r.Dimension == "" || r.ForeignKey == "" {
			return fmt.Errorf("dependencies[%d]: determinant, dimension and foreign_key are required", i)
		}
	}
	if c.Target != nil {
		return ValidateTarget(c.Target)
	}
	return nil
}

// ValidateTarget checks that the target names a registered adapter.
// It uses the adapter registry as the single source of truth.
func ValidateTarget(t *TargetConfig) error {
	if t.Type == "" {
		return fmt.Errorf("target type is required")
	}
	if !adapter.IsRegistered(t.Type) {
		return &adapter.UnknownAdapterError{
			Type:      t.Type,
			Available: adapter.ListAdapters(),
		}
	}
	if strings.EqualFold(t.Type, "duckdb") && t.Database == "" {
		return fmt.Errorf("target database is required for duckdb")
	}
	return nil
}
