// Package fact builds the sales fact table at the grain of one cleaned
// record per row.
package fact

import (
	"github.com/leapstack-labs/starschema/internal/extract"
	"github.com/leapstack-labs/starschema/internal/keys"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// Fact columns that are not foreign keys.
const (
	ColSalesKey    = "sales_key"
	ColRowID       = "row_id"
	ColOrderID     = "order_id"
	ColSalesAmount = "sales_amount"
	ColQuantity    = "quantity"
)

// Binding resolves one foreign key column of the fact table.
type Binding struct {
	ForeignKey string
	// Dimension names the dimension table for diagnostics.
	Dimension string
	Keys      *keys.KeyMap
	// Columns build the natural key looked up in Keys.
	Columns []core.CleanColumn
}

// Fact is the built fact table and the bindings that produced it.
type Fact struct {
	Table    *core.Table
	Bindings []Binding
}

// Columns returns the fact table layout for the given bindings: surrogate
// key, degenerate dimensions, foreign keys in binding order, then measures.
func Columns(bindings []Binding) []core.TableColumn {
	cols := []core.TableColumn{
		{Name: ColSalesKey, Type: core.TypeInteger, Key: true},
		{Name: ColRowID, Type: core.TypeInteger},
		{Name: ColOrderID, Type: core.TypeText},
	}
	for _, b := range bindings {
		cols = append(cols, core.TableColumn{Name: b.ForeignKey, Type: core.TypeInteger, References: b.Dimension})
	}
	return append(cols,
		core.TableColumn{Name: ColSalesAmount, Type: core.TypeDecimal},
		core.TableColumn{Name: ColQuantity, Type: core.TypeInteger},
	)
}

// Build emits one fact row per record in input order. sales_key is dense
// from 1. A natural key missing from its dimension is fatal.
func Build(name string, records []core.CleanRecord, bindings []Binding) (*Fact, error) {
	t := core.NewTable(name, Columns(bindings)...)
	width := len(bindings) + 5

	for i := range records {
		r := &records[i]
		row := make([]any, 0, width)
		row = append(row, int64(i+1), r.RowID, r.OrderID)
		for _, b := range bindings {
			nk := extract.KeyOf(r, b.Columns)
			id, ok := b.Keys.Lookup(nk)
			if !ok {
				return nil, &core.ReferentialError{Dimension: b.Dimension, Key: nk, Line: r.Line}
			}
			row = append(row, id)
		}
		var qty any
		if r.Quantity != nil {
			qty = *r.Quantity
		}
		row = append(row, r.Sales, qty)
		t.Append(row...)
	}
	return &Fact{Table: t.Freeze(), Bindings: bindings}, nil
}
