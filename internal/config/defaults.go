package config

import (
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/starschema/internal/cleaner"
	"github.com/leapstack-labs/starschema/internal/engine"
	"github.com/leapstack-labs/starschema/internal/keys"
)

// Default configuration values.
const (
	DefaultOutputDir    = "out"
	DefaultStateFile    = ".starschema/state.db"
	DefaultDatabaseFile = "starschema.duckdb"
	DefaultDateOrder    = string(cleaner.DayFirst)
	DefaultKeyOrder     = string(keys.FirstSeen)
	DefaultFormat       = "csv"
	DefaultKeyBase      = int64(1)

	DefaultAllowMissingPostalCode = true
)

// Defaults returns the flattened default values, keyed the way they appear
// in starschema.yaml.
func Defaults() map[string]any {
	return map[string]any{
		"output_dir":                         DefaultOutputDir,
		"state_path":                         DefaultStateFile,
		"keep_runs":                          0,
		"cleaning.date_order":                DefaultDateOrder,
		"cleaning.postal_code_width":         cleaner.DefaultPostalCodeWidth,
		"cleaning.allow_missing_postal_code": DefaultAllowMissingPostalCode,
		"cleaning.max_skip_rate":             cleaner.DefaultMaxSkipRate,
		"keys.base":                          DefaultKeyBase,
		"keys.order":                         DefaultKeyOrder,
		"dimensions.date_spine":              false,
		"export.formats":                     []string{DefaultFormat},
		"export.artifacts":                   false,
		"export.manifest":                    true,
		"export.summary":                     true,
		"export.concurrency":                 engine.DefaultConcurrency,
	}
}

// DefaultProjectConfig returns a ProjectConfig holding the same values as
// Defaults, for callers that build a configuration without a loader.
func DefaultProjectConfig() ProjectConfig {
	c := ProjectConfig{
		OutputDir: DefaultOutputDir,
		StatePath: DefaultStateFile,
		Cleaning: CleaningConfig{
			DateOrder:              DefaultDateOrder,
			PostalCodeWidth:        cleaner.DefaultPostalCodeWidth,
			AllowMissingPostalCode: DefaultAllowMissingPostalCode,
			MaxSkipRate:            cleaner.DefaultMaxSkipRate,
		},
		Keys: KeysConfig{Base: DefaultKeyBase, Order: DefaultKeyOrder},
		Export: ExportConfig{
			Formats:     []string{DefaultFormat},
			Manifest:    true,
			Summary:     true,
			Concurrency: engine.DefaultConcurrency,
		},
	}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields of a ProjectConfig. Fields whose zero
// value is a valid setting (keys.base, cleaning.max_skip_rate,
// cleaning.allow_missing_postal_code) are left alone; start from
// DefaultProjectConfig to get those.
func (c *ProjectConfig) ApplyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.StatePath == "" {
		c.StatePath = DefaultStateFile
	}
	if c.Database == "" {
		c.Database = filepath.Join(c.OutputDir, DefaultDatabaseFile)
	}
	if c.Cleaning.DateOrder == "" {
		c.Cleaning.DateOrder = DefaultDateOrder
	}
	if c.Cleaning.PostalCodeWidth == 0 {
		c.Cleaning.PostalCodeWidth = cleaner.DefaultPostalCodeWidth
	}
	if c.Keys.Order == "" {
		c.Keys.Order = DefaultKeyOrder
	}
	if c.Export.Concurrency <= 0 {
		c.Export.Concurrency = engine.DefaultConcurrency
	}
	ApplyTargetDefaults(c.Target)
}

// DefaultSchemaForType returns the default schema for a database type.
func DefaultSchemaForType(dbType string) string {
	if strings.EqualFold(dbType, "postgres") {
		return "public"
	}
	return "main"
}

// ApplyTargetDefaults applies default values to a TargetConfig based on the target type.
func ApplyTargetDefaults(t *TargetConfig) {
	if t == nil {
		return
	}
	t.Type = strings.ToLower(t.Type)

	if t.Schema == "" {
		t.Schema = DefaultSchemaForType(t.Type)
	}

	if t.Type == "postgres" {
		if t.Port == 0 {
			t.Port = 5432
		}
	}
}
