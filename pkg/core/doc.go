// Package core defines the shared language of the starschema system.
//
// This package contains:
//   - Record types (RawRecord, CleanRecord) and the canonical column registry
//   - Relational building blocks (Table, NaturalKey, Date)
//   - Declarative decomposition rules (EntitySpec, DependencyRule)
//   - The error taxonomy shared by every pipeline stage
//   - Service interfaces (Adapter, Store)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
