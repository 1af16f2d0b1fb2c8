// Package extract groups cleaned records into dimension entities keyed by
// their natural key.
//
// Conflicting attribute values for the same key are resolved first-seen
// wins: the first occurrence is kept, later disagreeing rows are counted as
// warnings and the key is recorded as conflicted.
package extract

import (
	"fmt"

	"github.com/leapstack-labs/starschema/pkg/core"
)

// Entry is one distinct entity instance.
type Entry struct {
	Key core.NaturalKey
	// KeyValues are the typed values behind Key.
	KeyValues  []any
	Attributes []any
	// Line is the source line of the first occurrence.
	Line int
}

// Conflict describes a row whose attributes disagreed with the kept entry.
type Conflict struct {
	Key     core.NaturalKey
	Column  string
	Kept    string
	Dropped string
	Line    int
}

// Entity is the set of distinct instances of one EntitySpec, in first-seen
// order.
type Entity struct {
	Spec    core.EntitySpec
	Entries []Entry
	// Warnings counts rows whose attributes conflicted with the kept entry.
	Warnings int
	// Conflicts holds the first conflict seen per column for each key, in
	// the order encountered.
	Conflicts []Conflict

	keyCols  []core.CleanColumn
	attrCols []core.CleanColumn
	index    map[string]int
	conflict map[string]struct{}
}

// MaxConflictDetails caps Entity.Conflicts.
const MaxConflictDetails = 1000

// Columns resolves column names against the cleaned relation layout.
func Columns(source string, names []string) ([]core.CleanColumn, error) {
	cols := make([]core.CleanColumn, 0, len(names))
	var missing []string
	for _, n := range names {
		c, ok := core.LookupCleanColumn(n)
		if !ok {
			missing = append(missing, n)
			continue
		}
		cols = append(cols, c)
	}
	if len(missing) > 0 {
		return nil, &core.SchemaMismatchError{Missing: missing, Source: source}
	}
	return cols, nil
}

// KeyOf builds the natural key of r over cols.
func KeyOf(r *core.CleanRecord, cols []core.CleanColumn) core.NaturalKey {
	key := make(core.NaturalKey, len(cols))
	for i, c := range cols {
		key[i] = c.Text(r)
	}
	return key
}

// Extract collects the distinct entities described by spec.
func Extract(records []core.CleanRecord, spec core.EntitySpec) (*Entity, error) {
	if len(spec.KeyColumns) == 0 {
		return nil, fmt.Errorf("entity %s: no key columns", spec.Name)
	}
	source := "entity " + spec.Name
	keyCols, err := Columns(source, spec.KeyColumns)
	if err != nil {
		return nil, err
	}
	attrCols, err := Columns(source, spec.AttributeColumns)
	if err != nil {
		return nil, err
	}

	e := &Entity{
		Spec:     spec,
		keyCols:  keyCols,
		attrCols: attrCols,
		index:    make(map[string]int),
		conflict: make(map[string]struct{}),
	}
	for i := range records {
		e.add(&records[i])
	}
	return e, nil
}

func (e *Entity) add(r *core.CleanRecord) {
	key := KeyOf(r, e.keyCols)
	enc := key.String()

	pos, seen := e.index[enc]
	if !seen {
		e.index[enc] = len(e.Entries)
		e.Entries = append(e.Entries, Entry{
			Key:        key,
			KeyValues:  valuesOf(r, e.keyCols),
			Attributes: valuesOf(r, e.attrCols),
			Line:       r.Line,
		})
		return
	}

	kept := e.Entries[pos]
	conflicted := false
	for i, c := range e.attrCols {
		have := core.FormatValue(kept.Attributes[i])
		got := c.Text(r)
		if have == got {
			continue
		}
		conflicted = true
		if len(e.Conflicts) < MaxConflictDetails {
			e.Conflicts = append(e.Conflicts, Conflict{
				Key: key, Column: c.Name, Kept: have, Dropped: got, Line: r.Line,
			})
		}
	}
	if conflicted {
		e.Warnings++
		e.conflict[enc] = struct{}{}
	}
}

// Name returns the entity name.
func (e *Entity) Name() string { return e.Spec.Name }

// Len returns the number of distinct entities.
func (e *Entity) Len() int { return len(e.Entries) }

// KeyColumns returns the resolved natural key columns.
func (e *Entity) KeyColumns() []core.CleanColumn { return e.keyCols }

// AttributeColumns returns the resolved attribute columns.
func (e *Entity) AttributeColumns() []core.CleanColumn { return e.attrCols }

// Keys returns the natural keys in first-seen order.
func (e *Entity) Keys() []core.NaturalKey {
	keys := make([]core.NaturalKey, len(e.Entries))
	for i, en := range e.Entries {
		keys[i] = en.Key
	}
	return keys
}

// Lookup returns the entry for key.
func (e *Entity) Lookup(key core.NaturalKey) (Entry, bool) {
	pos, ok := e.index[key.String()]
	if !ok {
		return Entry{}, false
	}
	return e.Entries[pos], true
}

// Conflicted reports whether key had conflicting attribute values.
func (e *Entity) Conflicted(key core.NaturalKey) bool {
	_, ok := e.conflict[key.String()]
	return ok
}

// ConflictedKeys returns the number of keys with at least one conflict.
func (e *Entity) ConflictedKeys() int { return len(e.conflict) }

// Table renders the entity as a normalization artifact: natural key columns
// followed by attribute columns, no surrogate key.
func (e *Entity) Table(name string) *core.Table {
	cols := make([]core.TableColumn, 0, len(e.keyCols)+len(e.attrCols))
	for _, c := range e.keyCols {
		cols = append(cols, core.TableColumn{Name: c.Name, Type: c.Type})
	}
	for _, c := range e.attrCols {
		cols = append(cols, core.TableColumn{Name: c.Name, Type: c.Type})
	}

	t := core.NewTable(name, cols...)
	for _, en := range e.Entries {
		row := make([]any, 0, len(cols))
		row = append(row, en.KeyValues...)
		row = append(row, en.Attributes...)
		t.Append(row...)
	}
	return t.Freeze()
}

func valuesOf(r *core.CleanRecord, cols []core.CleanColumn) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = c.Value(r)
	}
	return out
}
