package star

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/starschema/internal/extract"
	"github.com/leapstack-labs/starschema/internal/fact"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// maxPerCheck caps the violations reported for a single check.
const maxPerCheck = 10

type gate struct {
	in   Input
	dims map[string]*dimension

	violations []string
	counts     map[string]int
}

func (g *gate) violate(check, format string, args ...any) {
	if g.counts == nil {
		g.counts = make(map[string]int)
	}
	g.counts[check]++
	switch n := g.counts[check]; {
	case n <= maxPerCheck:
		g.violations = append(g.violations, check+": "+fmt.Sprintf(format, args...))
	case n == maxPerCheck+1:
		g.violations = append(g.violations, check+": further violations omitted")
	}
}

func (g *gate) check() error {
	if g.in.Fact == nil || g.in.Fact.Table == nil {
		return &core.SchemaIntegrityError{Violations: []string{"fact table missing"}}
	}
	g.checkDimensions()
	g.checkForeignKeys()
	g.checkGrain()
	g.checkLossless()
	if len(g.violations) > 0 {
		return &core.SchemaIntegrityError{Violations: g.violations}
	}
	return nil
}

// checkDimensions verifies each dimension table is in bijection with its key
// map: dense ids from the base, one row per key, no repeated natural key.
func (g *gate) checkDimensions() {
	const check = "dimension"
	names := make([]string, 0, len(g.dims))
	for name := range g.dims {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := g.dims[name]
		t := d.table
		if t.Len() != d.keys.Len() {
			g.violate(check, "%s has %d rows for %d keys", name, t.Len(), d.keys.Len())
		}
		seen := make(map[string]int64, t.Len())
		for i := 0; i < t.Len(); i++ {
			id, _ := t.Value(i, d.surrogate).(int64)
			if want := d.keys.Base() + int64(i); id != want {
				g.violate(check, "%s row %d has key %d, want %d", name, i+1, id, want)
			}
			nk := naturalKey(t, i, d.naturalCols)
			enc := nk.String()
			if prev, dup := seen[enc]; dup {
				g.violate(check, "%s keys %d and %d share natural key (%s)", name, prev, id, nk.Display())
			}
			seen[enc] = id
			if mapped, ok := d.keys.Lookup(nk); !ok || mapped != id {
				g.violate(check, "%s key %d does not map back to (%s)", name, id, nk.Display())
			}
		}
	}
}

// checkForeignKeys verifies every fact foreign key resolves.
func (g *gate) checkForeignKeys() {
	const check = "foreign key"
	ft := g.in.Fact.Table
	for _, c := range ft.Columns() {
		if c.References == "" {
			continue
		}
		d, ok := g.dims[c.References]
		if !ok {
			g.violate(check, "%s references unknown table %s", c.Name, c.References)
			continue
		}
		lo, hi := d.keys.Base(), d.keys.Base()+int64(d.table.Len())
		for i := 0; i < ft.Len(); i++ {
			id, ok := ft.Value(i, c.Name).(int64)
			if !ok || id < lo || id >= hi {
				g.violate(check, "%s row %d: %s=%v has no %s row", ft.Name(), i+1, c.Name, ft.Value(i, c.Name), c.References)
			}
		}
	}
}

// checkGrain verifies one fact row per cleaned record.
func (g *gate) checkGrain() {
	if got, want := g.in.Fact.Table.Len(), len(g.in.Records); got != want {
		g.violate("grain", "%s has %d rows, cleaned input has %d", g.in.Fact.Table.Name(), got, want)
	}
}

// checkLossless rejoins the fact with every dimension and compares the result
// with the cleaned relation. Attributes of keys that had first-seen
// conflicts are exempt; their dropped values are already reported as
// warnings.
func (g *gate) checkLossless() {
	const check = "lossless"
	ft := g.in.Fact.Table
	if ft.Len() != len(g.in.Records) {
		return
	}

	covered := map[string]bool{
		core.ColRowID:    true,
		core.ColOrderID:  true,
		core.ColSales:    true,
		core.ColQuantity: true,
	}
	type join struct {
		fk   string
		dim  *dimension
		cols []core.CleanColumn
		// attrs pairs cleaned columns with dimension columns for entities.
		attrs []core.CleanColumn
	}
	var joins []join
	for _, b := range g.in.Fact.Bindings {
		d, ok := g.dims[b.Dimension]
		if !ok {
			continue
		}
		j := join{fk: b.ForeignKey, dim: d, cols: b.Columns}
		for _, c := range b.Columns {
			covered[c.Name] = true
		}
		if d.entity != nil {
			j.attrs = d.entity.AttributeColumns()
			for _, c := range j.attrs {
				covered[c.Name] = true
			}
		}
		joins = append(joins, j)
	}
	for _, c := range core.CleanColumns {
		if !covered[c.Name] {
			g.violate(check, "column %s is not recoverable from the star schema", c.Name)
		}
	}

	for i := range g.in.Records {
		r := &g.in.Records[i]
		if v := ft.Value(i, fact.ColRowID); v != r.RowID {
			g.violate(check, "line %d: row_id %v, want %d", r.Line, v, r.RowID)
		}
		if v := ft.Value(i, fact.ColOrderID); v != r.OrderID {
			g.violate(check, "line %d: order_id %v, want %s", r.Line, v, r.OrderID)
		}
		if v := ft.Value(i, fact.ColSalesAmount); v != r.Sales {
			g.violate(check, "line %d: sales_amount %v, want %v", r.Line, v, r.Sales)
		}
		want := ""
		if r.Quantity != nil {
			want = core.FormatValue(*r.Quantity)
		}
		if got := core.FormatValue(ft.Value(i, fact.ColQuantity)); got != want {
			g.violate(check, "line %d: quantity %s, want %s", r.Line, got, want)
		}

		for _, j := range joins {
			id, _ := ft.Value(i, j.fk).(int64)
			row := int(id - j.dim.keys.Base())
			if row < 0 || row >= j.dim.table.Len() {
				continue // reported by checkForeignKeys
			}
			want := extract.KeyOf(r, j.cols)
			got := naturalKey(j.dim.table, row, j.dim.naturalCols)
			if !got.Equal(want) {
				g.violate(check, "line %d: %s resolves to (%s), want (%s)", r.Line, j.fk, got.Display(), want.Display())
				continue
			}
			if j.dim.entity == nil || j.dim.entity.Conflicted(want) {
				continue
			}
			for _, c := range j.attrs {
				have := core.FormatValue(j.dim.table.Value(row, c.Name))
				if exp := c.Text(r); have != exp {
					g.violate(check, "line %d: %s.%s is %q, want %q", r.Line, j.dim.table.Name(), c.Name, have, exp)
				}
			}
		}
	}
}

func naturalKey(t *core.Table, row int, cols []string) core.NaturalKey {
	k := make(core.NaturalKey, len(cols))
	for i, c := range cols {
		k[i] = core.FormatValue(t.Value(row, c))
	}
	return k
}
