package core

import (
	"fmt"
)

// ColumnType is the logical type of a table column.
type ColumnType string

// Column types used by output tables.
const (
	TypeInteger ColumnType = "integer"
	TypeDecimal ColumnType = "decimal"
	TypeText    ColumnType = "text"
	TypeDate    ColumnType = "date"
)

// TableColumn describes one column of a Table.
type TableColumn struct {
	Name string
	Type ColumnType
	// Key marks the surrogate primary key column.
	Key bool
	// References names the dimension table a foreign key points to.
	References string
}

// Table is a named, ordered sequence of homogeneous rows.
// Rows are appended while building, then the table is frozen and becomes an
// immutable value.
type Table struct {
	name    string
	columns []TableColumn
	index   map[string]int
	rows    [][]any
	frozen  bool
}

// NewTable creates an empty table with the given column layout.
func NewTable(name string, columns ...TableColumn) *Table {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c.Name] = i
	}
	return &Table{name: name, columns: columns, index: index}
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Columns returns a copy of the column layout.
func (t *Table) Columns() []TableColumn {
	out := make([]TableColumn, len(t.columns))
	copy(out, t.columns)
	return out
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of a column, or -1.
func (t *Table) ColumnIndex(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Append adds a row. It panics if the table is frozen or the row width does
// not match the layout; both are programming errors.
func (t *Table) Append(values ...any) {
	if t.frozen {
		panic(fmt.Sprintf("core: append to frozen table %s", t.name))
	}
	if len(values) != len(t.columns) {
		panic(fmt.Sprintf("core: table %s expects %d values, got %d", t.name, len(t.columns), len(values)))
	}
	row := make([]any, len(values))
	copy(row, values)
	t.rows = append(t.rows, row)
}

// Freeze makes the table immutable and returns it.
func (t *Table) Freeze() *Table {
	t.frozen = true
	return t
}

// Frozen reports whether the table is frozen.
func (t *Table) Frozen() bool { return t.frozen }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Row returns a copy of row i.
func (t *Table) Row(i int) []any {
	out := make([]any, len(t.rows[i]))
	copy(out, t.rows[i])
	return out
}

// Value returns the cell at row i, column name. It panics on an unknown
// column.
func (t *Table) Value(i int, column string) any {
	c, ok := t.index[column]
	if !ok {
		panic(fmt.Sprintf("core: table %s has no column %s", t.name, column))
	}
	return t.rows[i][c]
}

// Rows returns a copy of all rows.
func (t *Table) Rows() [][]any {
	out := make([][]any, len(t.rows))
	for i := range t.rows {
		out[i] = t.Row(i)
	}
	return out
}

// Clone returns an unfrozen copy of the table under a new name.
func (t *Table) Clone(name string) *Table {
	c := NewTable(name, t.Columns()...)
	for _, r := range t.rows {
		c.Append(r...)
	}
	return c
}
