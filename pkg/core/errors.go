package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. Every typed error below matches exactly one of them with
// errors.Is.
var (
	// ErrBadRow marks a recoverable per-row failure; the row is skipped.
	ErrBadRow = errors.New("bad row")
	// ErrInput marks a fatal problem with the input as a whole.
	ErrInput = errors.New("invalid input")
	// ErrInvariant marks an internal invariant violation; always fatal.
	ErrInvariant = errors.New("invariant violation")
)

// FormatError reports a field that could not be parsed (e.g. a date).
type FormatError struct {
	Line   int
	Column string
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("line %d: %s: cannot parse %q: %s", e.Line, e.Column, e.Value, e.Reason)
}

// Is matches ErrBadRow.
func (e *FormatError) Is(target error) bool { return target == ErrBadRow }

// ValidationError reports a field that parsed but violates a domain rule.
type ValidationError struct {
	Line   int
	Column string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d: %s: invalid value %q: %s", e.Line, e.Column, e.Value, e.Reason)
}

// Is matches ErrBadRow.
func (e *ValidationError) Is(target error) bool { return target == ErrBadRow }

// DataQualityError aborts a run when too many rows were skipped.
type DataQualityError struct {
	Total     int
	Skipped   int
	Threshold float64
	ByReason  map[string]int
}

// Rate returns the skipped fraction.
func (e *DataQualityError) Rate() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Skipped) / float64(e.Total)
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality: %d of %d rows skipped (%.2f%%), threshold %.2f%%",
		e.Skipped, e.Total, e.Rate()*100, e.Threshold*100)
}

// Is matches ErrInput.
func (e *DataQualityError) Is(target error) bool { return target == ErrInput }

// SchemaMismatchError reports required columns missing from the input.
type SchemaMismatchError struct {
	Missing []string
	// Source names where the columns were expected (file, table or spec).
	Source string
}

func (e *SchemaMismatchError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("schema mismatch in %s: missing columns %s", e.Source, strings.Join(e.Missing, ", "))
	}
	return "schema mismatch: missing columns " + strings.Join(e.Missing, ", ")
}

// Is matches ErrInput.
func (e *SchemaMismatchError) Is(target error) bool { return target == ErrInput }

// KeyCollisionError reports two natural keys mapped to the same surrogate key.
type KeyCollisionError struct {
	Entity string
	ID     int64
	First  NaturalKey
	Second NaturalKey
}

func (e *KeyCollisionError) Error() string {
	return fmt.Sprintf("key collision in %s: id %d assigned to both (%s) and (%s)",
		e.Entity, e.ID, e.First.Display(), e.Second.Display())
}

// Is matches ErrInvariant.
func (e *KeyCollisionError) Is(target error) bool { return target == ErrInvariant }

// ReferentialError reports a fact row whose natural key has no dimension entry.
type ReferentialError struct {
	Dimension string
	Key       NaturalKey
	Line      int
}

func (e *ReferentialError) Error() string {
	return fmt.Sprintf("line %d: no %s entry for key (%s)", e.Line, e.Dimension, e.Key.Display())
}

// Is matches ErrInvariant.
func (e *ReferentialError) Is(target error) bool { return target == ErrInvariant }

// SchemaIntegrityError lists every failed check of the final schema gate.
type SchemaIntegrityError struct {
	Violations []string
}

func (e *SchemaIntegrityError) Error() string {
	return fmt.Sprintf("schema integrity: %d violation(s):\n  - %s",
		len(e.Violations), strings.Join(e.Violations, "\n  - "))
}

// Is matches ErrInvariant.
func (e *SchemaIntegrityError) Is(target error) bool { return target == ErrInvariant }
