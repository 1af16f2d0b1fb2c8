package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/starschema/internal/keys"
	"github.com/leapstack-labs/starschema/pkg/core"
)

func date(t *testing.T, y int, m time.Month, d int) core.Date {
	t.Helper()
	v, ok := core.NewDate(y, m, d)
	require.True(t, ok)
	return v
}

func records(t *testing.T) []core.CleanRecord {
	return []core.CleanRecord{
		{Line: 1, OrderDate: date(t, 2016, 3, 15), ShipDate: date(t, 2016, 3, 18), ShipMode: "Second Class"},
		{Line: 2, OrderDate: date(t, 2016, 3, 18), ShipDate: date(t, 2016, 3, 20), ShipMode: "Standard Class"},
		{Line: 3, OrderDate: date(t, 2016, 3, 15), ShipDate: date(t, 2016, 3, 18), ShipMode: "Second Class"},
	}
}

func TestResolve_DefaultRules(t *testing.T) {
	res, err := Resolve(records(t), core.DefaultDependencyRules(), Options{Keys: keys.DefaultOptions()})
	require.NoError(t, err)
	require.Len(t, res.Dimensions, 2)
	require.Len(t, res.Substitutions, 3)

	dates, ok := res.Dimension("date")
	require.True(t, ok)
	assert.Equal(t, core.TableDimDate, dates.TableName)
	assert.Equal(t, "date_key", dates.SurrogateColumn)
	assert.Equal(t, []string{"order_date_key", "ship_date_key"}, dates.Roles)
	// 2016-03-15, 2016-03-18 (shared by both roles), 2016-03-20.
	assert.Equal(t, 3, dates.Keys.Len())

	id, ok := dates.Keys.Lookup(core.NaturalKey{"2016-03-18"})
	require.True(t, ok)
	assert.Equal(t, int64(2), id)

	modes, ok := res.Dimension("ship_mode")
	require.True(t, ok)
	assert.Equal(t, 2, modes.Keys.Len())
	tbl := modes.Table(core.TableDimShipMode)
	assert.Equal(t, []string{"ship_mode_key", "ship_mode"}, tbl.ColumnNames())
	assert.Equal(t, []any{int64(1), "Second Class"}, tbl.Row(0))
}

func TestResolve_DefaultTableName(t *testing.T) {
	rules := core.DefaultDependencyRules()
	for i := range rules {
		rules[i].Table = ""
	}
	res, err := Resolve(records(t), rules, Options{Keys: keys.DefaultOptions()})
	require.NoError(t, err)

	dates, ok := res.Dimension("date")
	require.True(t, ok)
	assert.Equal(t, core.TableDimDate, dates.TableName)
	assert.Equal(t, rules[0].TableName(), dates.TableName)

	modes, ok := res.Dimension("ship_mode")
	require.True(t, ok)
	assert.Equal(t, core.TableDimShipMode, modes.TableName)
}

func TestResolve_CalendarAttributes(t *testing.T) {
	res, err := Resolve(records(t), core.DefaultDependencyRules(), Options{Keys: keys.DefaultOptions()})
	require.NoError(t, err)
	dates, _ := res.Dimension("date")

	tbl := dates.Table(core.TableDimDate)
	assert.Equal(t, []string{
		"date_key", ColFullDate, ColDateID, ColYear, ColQuarter, ColMonth,
		ColMonthName, ColDay, ColWeekday, ColWeekOfYear,
	}, tbl.ColumnNames())
	assert.Equal(t, []any{
		int64(1), date(t, 2016, 3, 15), int64(20160315), int64(2016), int64(1), int64(3),
		"March", int64(15), "Tuesday", int64(11),
	}, tbl.Row(0))
}

func TestResolve_DateSpine(t *testing.T) {
	res, err := Resolve(records(t), core.DefaultDependencyRules(), Options{Keys: keys.DefaultOptions(), DateSpine: true})
	require.NoError(t, err)
	dates, _ := res.Dimension("date")

	// 2016-03-15 through 2016-03-20 inclusive.
	assert.Equal(t, 6, dates.Keys.Len())
	id, ok := dates.Keys.Lookup(core.NaturalKey{"2016-03-17"})
	require.True(t, ok)
	assert.Equal(t, int64(3), id)
}

func TestResolve_ShipModeSubstitution(t *testing.T) {
	res, err := Resolve(records(t), core.DefaultDependencyRules(), Options{Keys: keys.DefaultOptions()})
	require.NoError(t, err)

	var sub Substitution
	for _, s := range res.Substitutions {
		if s.ForeignKey == "ship_mode_key" {
			sub = s
		}
	}
	assert.Equal(t, "ship_mode", sub.Dimension)
	assert.Equal(t, "sales", sub.Entity)
	require.Len(t, sub.Determinant, 1)
	assert.Equal(t, core.ColShipMode, sub.Determinant[0].Name)
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name  string
		rules []core.DependencyRule
		ok    bool
	}{
		{"defaults", core.DefaultDependencyRules(), true},
		{"unknown deriver", []core.DependencyRule{
			{Dimension: "x", ForeignKey: "x_key", Determinant: []string{core.ColShipMode}, Derive: "magic"},
		}, false},
		{"unknown column", []core.DependencyRule{
			{Dimension: "x", ForeignKey: "x_key", Determinant: []string{"nope"}, Derive: "identity"},
		}, false},
		{"calendar on text", []core.DependencyRule{
			{Dimension: "x", ForeignKey: "x_key", Determinant: []string{core.ColShipMode}, Derive: "calendar"},
		}, false},
		{"role derivers disagree", []core.DependencyRule{
			{Dimension: "d", ForeignKey: "a_key", Determinant: []string{core.ColOrderDate}, Derive: "calendar"},
			{Dimension: "d", ForeignKey: "b_key", Determinant: []string{core.ColShipDate}, Derive: "identity"},
		}, false},
		{"duplicate foreign key", []core.DependencyRule{
			{Dimension: "a", ForeignKey: "k", Determinant: []string{core.ColShipMode}, Derive: "identity"},
			{Dimension: "b", ForeignKey: "k", Determinant: []string{core.ColSegment}, Derive: "identity"},
		}, false},
		{"determinant outside group", []core.DependencyRule{
			{Dimension: "a", ForeignKey: "k", AttributeGroup: []string{core.ColSegment}, Determinant: []string{core.ColShipMode}, Derive: "identity"},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRules(tt.rules)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDerivers(t *testing.T) {
	assert.Equal(t, []string{"calendar", "identity"}, Derivers())
}
