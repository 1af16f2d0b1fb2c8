package adapter

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/starschema/pkg/core"
)

// Dialect holds the SQL differences between target databases that matter
// for writing tables.
type Dialect struct {
	Name          string
	DefaultSchema string
	// Placeholder formats the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Types maps logical column types to SQL types.
	Types map[core.ColumnType]string
}

// QuestionPlaceholder renders ? for every parameter.
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder renders $1, $2, ...
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// QuoteIdent quotes an identifier with double quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string literal with single quotes.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// SQLType returns the SQL type for a logical column type.
func (d *Dialect) SQLType(t core.ColumnType) (string, error) {
	if s, ok := d.Types[t]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%s: no SQL type for %s", d.Name, t)
}

// ParseQualifiedName splits a table reference into schema and name.
// Uses the dialect's default schema if not specified.
func ParseQualifiedName(table string, d *Dialect) (schema, name string) {
	if parts := strings.Split(table, "."); len(parts) == 2 {
		return parts[0], parts[1]
	}
	return d.DefaultSchema, table
}

// CreateTableSQL renders a CREATE TABLE statement for t.
func CreateTableSQL(qualified string, t *core.Table, d *Dialect) (string, error) {
	var defs, keys []string
	for _, c := range t.Columns() {
		typ, err := d.SQLType(c.Type)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", c.Name, err)
		}
		defs = append(defs, QuoteIdent(c.Name)+" "+typ)
		if c.Key {
			keys = append(keys, QuoteIdent(c.Name))
		}
	}
	if len(keys) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", qualified, strings.Join(defs, ", ")), nil
}

// InsertSQL renders a parameterized INSERT for every column of t.
func InsertSQL(qualified string, t *core.Table, d *Dialect) string {
	cols := t.Columns()
	names := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		names[i] = QuoteIdent(c.Name)
		params[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualified, strings.Join(names, ", "), strings.Join(params, ", "))
}

// BindValue converts a table cell into a driver value.
func BindValue(v any) any {
	if d, ok := v.(core.Date); ok {
		return d.Time()
	}
	return v
}
