// Package config provides configuration management for the starschema CLI.
//
// This package extends the shared project configuration from internal/config
// with CLI-specific fields (verbosity, output mode, named environments).
package config

import (
	intconfig "github.com/leapstack-labs/starschema/internal/config"
)

// TargetConfig is an alias for the shared target configuration.
// This allows CLI code to use config.TargetConfig without importing pkg/core.
type TargetConfig = intconfig.TargetConfig

// Config holds all CLI configuration options.
type Config struct {
	intconfig.ProjectConfig `koanf:",squash"`

	Environment  string               `koanf:"environment"`
	Verbose      bool                 `koanf:"verbose"`
	OutputFormat string               `koanf:"output"`
	Environments map[string]EnvConfig `koanf:"environments"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
}

// EnvConfig holds environment-specific configuration overrides.
type EnvConfig struct {
	OutputDir string        `koanf:"output_dir"`
	Database  string        `koanf:"database"`
	Target    *TargetConfig `koanf:"target"`
}

// Default configuration values - uses shared defaults from internal/config
const (
	DefaultStateFile = intconfig.DefaultStateFile
	DefaultOutputDir = intconfig.DefaultOutputDir
	DefaultEnv       = "dev"
	DefaultOutput    = "auto" // Auto-detect: TTY=text, non-TTY=markdown
)

// DefaultConfig returns the configuration used when no file, environment
// or flag has been loaded.
func DefaultConfig() *Config {
	return &Config{
		ProjectConfig: intconfig.DefaultProjectConfig(),
		Environment:   DefaultEnv,
		OutputFormat:  DefaultOutput,
	}
}

// EnvPrefix is the prefix of environment variables read into the config.
const EnvPrefix = "STARSCHEMA_"
