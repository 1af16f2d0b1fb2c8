package core

// TargetConfig holds database target configuration for the exported schema.
type TargetConfig struct {
	Type string `koanf:"type"` // duckdb, postgres

	// File-based databases (DuckDB)
	Database string `koanf:"database"` // file path or database name

	// Network databases
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`

	// Common
	Schema string `koanf:"schema"`

	// Additional driver-specific options
	Options map[string]string `koanf:"options"`

	// Params holds adapter-specific configuration (e.g., DuckDB settings, threads)
	Params map[string]any `koanf:"params"`
}

// AdapterConfig converts the target into connection settings.
func (t *TargetConfig) AdapterConfig() AdapterConfig {
	cfg := AdapterConfig{
		Type:     t.Type,
		Host:     t.Host,
		Port:     t.Port,
		Database: t.Database,
		Username: t.User,
		Password: t.Password,
		Schema:   t.Schema,
		Options:  t.Options,
		Params:   t.Params,
	}
	if t.Type == "duckdb" {
		cfg.Path = t.Database
	}
	return cfg
}
