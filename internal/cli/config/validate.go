package config

import (
	"fmt"
	"os"

	intconfig "github.com/leapstack-labs/starschema/internal/config"
)

// DefaultSchemaForType returns the default schema for a database type.
// This is a convenience wrapper that delegates to the shared config function.
func DefaultSchemaForType(dbType string) string {
	return intconfig.DefaultSchemaForType(dbType)
}

// ValidateInput checks that the input file exists.
// Only commands that read the input call this, so help and history
// commands work without one.
func (c *Config) ValidateInput() error {
	if c.Input == "" {
		return fmt.Errorf("no input file configured\nHint: Set input in starschema.yaml or pass --input")
	}
	info, err := os.Stat(c.Input)
	if os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s\nHint: Check the input path or use --input to specify a different file", c.Input)
	}
	if err != nil {
		return fmt.Errorf("failed to stat input: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input is a directory, not a file: %s", c.Input)
	}
	return nil
}
