// Package resolve moves attribute groups that depend on something other than
// the fact key into dimensions of their own.
//
// The work is table driven: each core.DependencyRule names the attribute
// group, its determinant, the dimension it moves to and the deriver that
// computes the dimension attributes. Rules sharing a dimension name form a
// role-playing dimension with a single key space.
package resolve

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/starschema/internal/extract"
	"github.com/leapstack-labs/starschema/internal/keys"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// Options configures dependency resolution.
type Options struct {
	Keys keys.Options
	// DateSpine makes calendar dimensions cover every day between the
	// earliest and latest observed date.
	DateSpine bool
}

// Substitution tells the fact builder to replace an attribute group with a
// foreign key into a dimension.
type Substitution struct {
	Entity         string
	AttributeGroup []string
	Dimension      string
	ForeignKey     string
	// Determinant columns feed the dimension lookup.
	Determinant []core.CleanColumn
}

// Dimension is a dimension derived from one or more dependency rules.
type Dimension struct {
	Name            string
	TableName       string
	// SurrogateColumn is the surrogate key column ("date_key").
	SurrogateColumn string
	Derive          string
	Roles           []string
	Keys            *keys.KeyMap

	columns    []core.TableColumn
	keyColumns []string
	rows       map[string][]any
}

// NaturalKeyColumns names the table columns that carry the natural key.
func (d *Dimension) NaturalKeyColumns() []string {
	out := make([]string, len(d.keyColumns))
	copy(out, d.keyColumns)
	return out
}

// Columns returns the derived attribute columns (surrogate key excluded).
func (d *Dimension) Columns() []core.TableColumn {
	out := make([]core.TableColumn, len(d.columns))
	copy(out, d.columns)
	return out
}

// Attributes returns the derived attribute values for a natural key.
func (d *Dimension) Attributes(key core.NaturalKey) ([]any, bool) {
	row, ok := d.rows[key.String()]
	return row, ok
}

// Table renders the dimension with its surrogate key first, rows in key
// order.
func (d *Dimension) Table(name string) *core.Table {
	cols := make([]core.TableColumn, 0, len(d.columns)+1)
	cols = append(cols, core.TableColumn{Name: d.SurrogateColumn, Type: core.TypeInteger, Key: true})
	cols = append(cols, d.columns...)

	t := core.NewTable(name, cols...)
	for i, k := range d.Keys.Keys() {
		row := make([]any, 0, len(cols))
		row = append(row, d.Keys.Base()+int64(i))
		row = append(row, d.rows[k.String()]...)
		t.Append(row...)
	}
	return t.Freeze()
}

// Result is the outcome of Resolve.
type Result struct {
	Dimensions    []*Dimension
	Substitutions []Substitution
}

// Dimension returns a dimension by name.
func (r *Result) Dimension(name string) (*Dimension, bool) {
	for _, d := range r.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

type plan struct {
	dim     *Dimension
	deriver Deriver
	rules   []core.DependencyRule
	cols    [][]core.CleanColumn
}

// ValidateRules checks a rule table without touching any data. All problems
// are reported together.
func ValidateRules(rules []core.DependencyRule) error {
	_, err := plans(rules)
	return err
}

func plans(rules []core.DependencyRule) ([]*plan, error) {
	var errs []error
	var order []*plan
	byDim := make(map[string]*plan)
	fks := make(map[string]bool)

	for i, r := range rules {
		where := fmt.Sprintf("dependency rule %d (%s)", i+1, r.ForeignKey)
		if r.Dimension == "" || r.ForeignKey == "" || len(r.Determinant) == 0 {
			errs = append(errs, fmt.Errorf("%s: dimension, foreign_key and determinant are required", where))
			continue
		}
		if fks[r.ForeignKey] {
			errs = append(errs, fmt.Errorf("%s: duplicate foreign key", where))
			continue
		}
		fks[r.ForeignKey] = true

		group := make(map[string]bool, len(r.AttributeGroup))
		for _, a := range r.AttributeGroup {
			group[a] = true
		}
		for _, d := range r.Determinant {
			if len(r.AttributeGroup) > 0 && !group[d] {
				errs = append(errs, fmt.Errorf("%s: determinant %s not in attribute group", where, d))
			}
		}

		cols, err := extract.Columns(where, r.Determinant)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		deriver, ok := LookupDeriver(r.Derive)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: unknown deriver %q (available: %v)", where, r.Derive, Derivers()))
			continue
		}

		p, exists := byDim[r.Dimension]
		if !exists {
			derived, err := deriver.Columns(cols)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", where, err))
				continue
			}
			p = &plan{
				dim: &Dimension{
					Name:            r.Dimension,
					TableName:       r.TableName(),
					SurrogateColumn: r.Dimension + "_key",
					Derive:          r.Derive,
					columns:         derived,
					keyColumns:      deriver.KeyColumns(cols),
				},
				deriver: deriver,
			}
			byDim[r.Dimension] = p
			order = append(order, p)
		} else if err := p.compatible(r, cols); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
			continue
		}
		p.rules = append(p.rules, r)
		p.cols = append(p.cols, cols)
		p.dim.Roles = append(p.dim.Roles, r.ForeignKey)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return order, nil
}

// compatible checks that a further role of a dimension shares its key shape.
func (p *plan) compatible(r core.DependencyRule, cols []core.CleanColumn) error {
	if r.Derive != p.dim.Derive {
		return fmt.Errorf("dimension %s: deriver %q differs from %q", p.dim.Name, r.Derive, p.dim.Derive)
	}
	if r.Table != "" && r.Table != p.dim.TableName {
		return fmt.Errorf("dimension %s: table %q differs from %q", p.dim.Name, r.Table, p.dim.TableName)
	}
	first := p.cols[0]
	if len(first) != len(cols) {
		return fmt.Errorf("dimension %s: determinant width differs between roles", p.dim.Name)
	}
	for i := range cols {
		if cols[i].Type != first[i].Type {
			return fmt.Errorf("dimension %s: determinant %s is %s, want %s", p.dim.Name, cols[i].Name, cols[i].Type, first[i].Type)
		}
	}
	return nil
}

// Resolve builds every dimension named by rules from the cleaned records and
// the substitutions the fact builder applies.
func Resolve(records []core.CleanRecord, rules []core.DependencyRule, opts Options) (*Result, error) {
	ps, err := plans(rules)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, p := range ps {
		if err := p.build(records, opts); err != nil {
			return nil, err
		}
		res.Dimensions = append(res.Dimensions, p.dim)
		for i, r := range p.rules {
			res.Substitutions = append(res.Substitutions, Substitution{
				Entity:         r.Entity,
				AttributeGroup: r.AttributeGroup,
				Dimension:      r.Dimension,
				ForeignKey:     r.ForeignKey,
				Determinant:    p.cols[i],
			})
		}
	}
	return res, nil
}

func (p *plan) build(records []core.CleanRecord, opts Options) error {
	var naturals []core.NaturalKey
	values := make(map[string][]any)

	// Scan order, roles interleaved per record.
	for i := range records {
		for _, cols := range p.cols {
			k := extract.KeyOf(&records[i], cols)
			enc := k.String()
			if _, ok := values[enc]; ok {
				continue
			}
			vals := make([]any, len(cols))
			for j, c := range cols {
				vals[j] = c.Value(&records[i])
			}
			values[enc] = vals
			naturals = append(naturals, k)
		}
	}

	if opts.DateSpine && p.dim.Derive == "calendar" && len(naturals) > 0 {
		naturals, values = spine(values)
	}

	km, err := keys.Assign(p.dim.Name, naturals, opts.Keys)
	if err != nil {
		return err
	}

	rows := make(map[string][]any, len(values))
	for _, k := range km.Keys() {
		enc := k.String()
		derived, err := p.deriver.Derive(values[enc])
		if err != nil {
			return fmt.Errorf("dimension %s: %w", p.dim.Name, err)
		}
		rows[enc] = derived
	}
	p.dim.Keys = km
	p.dim.rows = rows
	return nil
}

// spine returns every day from the earliest to the latest observed date, in
// calendar order.
func spine(observed map[string][]any) ([]core.NaturalKey, map[string][]any) {
	var lo, hi core.Date
	for _, v := range observed {
		d := v[0].(core.Date)
		if lo.IsZero() || d.Before(lo) {
			lo = d
		}
		if hi.IsZero() || hi.Before(d) {
			hi = d
		}
	}

	var naturals []core.NaturalKey
	values := make(map[string][]any)
	for d := lo; !hi.Before(d); d = d.AddDays(1) {
		k := core.NaturalKey{d.String()}
		naturals = append(naturals, k)
		values[k.String()] = []any{d}
	}
	return naturals, values
}
