package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/starschema/internal/cleaner"
	"github.com/leapstack-labs/starschema/internal/keys"
	"github.com/leapstack-labs/starschema/internal/testutil"
	"github.com/leapstack-labs/starschema/pkg/core"
)

type row struct {
	orderID, orderDate, shipDate, shipMode  string
	customerID, customerName, segment       string
	city, state, postal, region             string
	productID, category, subCategory, pname string
	sales, quantity                         string
}

func (r row) raw(line int) core.RawRecord {
	return core.RawRecord{
		Line: line, RowID: fmt.Sprint(line),
		OrderID: r.orderID, OrderDate: r.orderDate, ShipDate: r.shipDate, ShipMode: r.shipMode,
		CustomerID: r.customerID, CustomerName: r.customerName, Segment: r.segment,
		Country: "United States", City: r.city, State: r.state, PostalCode: r.postal, Region: r.region,
		ProductID: r.productID, Category: r.category, SubCategory: r.subCategory, ProductName: r.pname,
		Sales: r.sales, Quantity: r.quantity,
	}
}

func sample() []core.RawRecord {
	rows := []row{
		{"CA-2016-152156", "08/11/2016", "11/11/2016", "Second Class", "CG-12520", "Claire Gute", "Consumer", "Henderson", "Kentucky", "42420", "South", "FUR-BO-10001798", "Furniture", "Bookcases", "Bush Somerset Collection Bookcase", "261.96", "2"},
		{"CA-2016-152156", "08/11/2016", "11/11/2016", "Second Class", "CG-12520", "Claire Gute", "Consumer", "Henderson", "Kentucky", "42420", "South", "FUR-CH-10000454", "Furniture", "Chairs", "Hon Deluxe Fabric Upholstered Stacking Chairs", "731.94", "3"},
		{"CA-2016-138688", "12/06/2016", "16/06/2016", "Second Class", "DV-13045", "Darrin Van Huff", "Corporate", "Los Angeles", "California", "90036", "West", "OFF-LA-10000240", "Office Supplies", "Labels", "Self-Adhesive Address Labels", "14.62", "2"},
		{"US-2015-108966", "11/10/2015", "18/10/2015", "Standard Class", "SO-20335", "Sean O'Donnell", "Consumer", "Fort Lauderdale", "Florida", "33311", "South", "FUR-TA-10000577", "Furniture", "Tables", "Bretford CR4500 Series Slim Rectangular Table", "957.5775", "5"},
		{"US-2015-108966", "11/10/2015", "18/10/2015", "Standard Class", "SO-20335", "Sean O'Donnell", "Consumer", "Fort Lauderdale", "Florida", "33311", "South", "OFF-ST-10000760", "Office Supplies", "Storage", "Eldon Fold 'N Roll Cart System", "22.368", "2"},
		{"CA-2014-115812", "09/06/2014", "14/06/2014", "Standard Class", "BH-11710", "Brosina Hoffman", "Consumer", "Los Angeles", "California", "90032", "West", "FUR-FU-10001487", "Furniture", "Furnishings", "Eldon Expressions Wood and Plastic Desk Accessories", "48.86", "7"},
		{"CA-2016-152156", "08/11/2016", "11/11/2016", "Second Class", "CG-12520", "Claire Gute", "Consumer", "Henderson", "Kentucky", "42420", "South", "FUR-BO-10001798", "Furniture", "Bookcases", "Bush Somerset Collection Bookcase", "261.96", "2"},
		{"CA-2017-114412", "15/04/2017", "20/04/2017", "Standard Class", "AA-10480", "Andrew Allen", "Consumer", "Concord", "North Carolina", "28027", "South", "OFF-PA-10002365", "Office Supplies", "Paper", "Xerox 1967", "15.552", ""},
	}
	out := make([]core.RawRecord, len(rows))
	for i, r := range rows {
		out[i] = r.raw(i + 1)
	}
	return out
}

func testOptions(t *testing.T) Options {
	opts := DefaultOptions()
	opts.Logger = testutil.NewTestLogger(t)
	return opts
}

func TestRun_Sample(t *testing.T) {
	res, err := Run(sample(), testOptions(t))
	require.NoError(t, err)
	require.NotNil(t, res.Schema)

	rep := res.Report
	assert.Equal(t, 8, rep.Total)
	assert.Equal(t, 7, rep.Clean)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Equal(t, 0, rep.Skipped)
	assert.Equal(t, 0, rep.TotalWarnings())
	assert.Len(t, rep.Stages, len(Stages))

	names := make([]string, 0)
	for _, tbl := range res.Schema.Tables() {
		names = append(names, tbl.Name())
	}
	assert.Equal(t, []string{
		core.TableDimCustomer, core.TableDimDate, core.TableDimProduct,
		core.TableDimRegion, core.TableDimShipMode, core.TableFactSales,
	}, names)

	fact := res.Schema.Fact()
	assert.Equal(t, []string{
		"sales_key", "row_id", "order_id", "order_date_key", "ship_date_key",
		"customer_key", "product_key", "region_key", "ship_mode_key",
		"sales_amount", "quantity",
	}, fact.ColumnNames())
	assert.Equal(t, 7, fact.Len())

	customers, ok := res.Schema.Table(core.TableDimCustomer)
	require.True(t, ok)
	assert.Equal(t, []string{"customer_key", "customer_id", "customer_name", "segment"}, customers.ColumnNames())
	assert.Equal(t, 5, customers.Len())

	regions, _ := res.Schema.Table(core.TableDimRegion)
	assert.Equal(t, []string{"region_key", "region", "state", "city", "postal_code", "country"}, regions.ColumnNames())

	products, _ := res.Schema.Table(core.TableDimProduct)
	assert.Equal(t, []string{"product_key", "product_id", "category", "sub_category", "product_name"}, products.ColumnNames())

	modes, _ := res.Schema.Table(core.TableDimShipMode)
	assert.Equal(t, 2, modes.Len())
}

func TestRun_Artifacts(t *testing.T) {
	res, err := Run(sample(), testOptions(t))
	require.NoError(t, err)

	var names []string
	for _, a := range res.Schema.Artifacts() {
		names = append(names, a.Name())
	}
	assert.Equal(t, []string{
		"1NF_raw", "2NF_customer", "2NF_product", "2NF_region",
		"3NF_dim_date", "3NF_dim_ship_mode", "3NF_fact_sales",
	}, names)

	raw, ok := res.Schema.Table("1NF_raw")
	require.True(t, ok)
	assert.Equal(t, 7, raw.Len())

	c2, _ := res.Schema.Table("2NF_customer")
	assert.Equal(t, []string{"customer_id", "customer_name", "segment"}, c2.ColumnNames())

	f3, _ := res.Schema.Table("3NF_fact_sales")
	assert.Equal(t, res.Schema.Fact().Rows(), f3.Rows())
}

// A row dated 2016-03-15 with Sales 261.96 yields a fact row whose
// order_date_key resolves to 2016-03-15 and whose sales_amount is 261.96.
func TestRun_DateScenario(t *testing.T) {
	raw := sample()
	raw[0].OrderDate = "15/03/2016"
	res, err := Run(raw, testOptions(t))
	require.NoError(t, err)

	fact := res.Schema.Fact()
	dates, _ := res.Schema.Table(core.TableDimDate)
	key := fact.Value(0, "order_date_key").(int64)
	row := dates.Row(int(key - 1))
	assert.Equal(t, "2016-03-15", core.FormatValue(row[dates.ColumnIndex("full_date")]))
	assert.Equal(t, 261.96, fact.Value(0, "sales_amount"))
}

// Two rows with the same customer id but different names keep the first
// name and raise the warning count by one.
func TestRun_ConflictScenario(t *testing.T) {
	raw := sample()
	raw[1].CustomerName = "Claire G."
	res, err := Run(raw, testOptions(t))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Report.Warnings["customer"])
	require.Len(t, res.Report.Conflicts["customer"], 1)

	customers, _ := res.Schema.Table(core.TableDimCustomer)
	assert.Equal(t, "Claire Gute", customers.Value(0, "customer_name"))
}

// A 4-digit postal code is zero padded; one with letters fails validation
// and the row is skipped.
func TestRun_PostalCodeScenario(t *testing.T) {
	raw := sample()
	raw[2].PostalCode = "2801"
	raw[5].PostalCode = "9O032"

	opts := testOptions(t)
	opts.Cleaning.MaxSkipRate = 0.2
	res, err := Run(raw, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Report.Skipped)
	assert.Equal(t, 1, res.Report.SkippedByReason[cleaner.ReasonValidation])

	regions, _ := res.Schema.Table(core.TableDimRegion)
	var codes []string
	for i := 0; i < regions.Len(); i++ {
		codes = append(codes, regions.Value(i, "postal_code").(string))
	}
	assert.Contains(t, codes, "02801")
	assert.NotContains(t, codes, "90032")
}

func TestRun_SkipRateAborts(t *testing.T) {
	raw := sample()
	raw[0].OrderDate = "someday"

	res, err := Run(raw, testOptions(t))
	var dq *core.DataQualityError
	require.ErrorAs(t, err, &dq)
	require.NotNil(t, res)
	assert.Nil(t, res.Schema)
	assert.Equal(t, 1, res.Report.Skipped)
}

func TestRun_Idempotent(t *testing.T) {
	a, err := Run(sample(), testOptions(t))
	require.NoError(t, err)
	b, err := Run(sample(), testOptions(t))
	require.NoError(t, err)

	at, bt := a.Schema.Tables(), b.Schema.Tables()
	require.Len(t, bt, len(at))
	for i := range at {
		assert.Equal(t, at[i].Name(), bt[i].Name())
		assert.Equal(t, at[i].Rows(), bt[i].Rows(), at[i].Name())
	}
}

func TestRun_SortedKeysIgnoreRowOrder(t *testing.T) {
	opts := testOptions(t)
	opts.Keys = keys.Options{Base: 1, Order: keys.Sorted}

	forward := sample()
	reversed := sample()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}

	a, err := Run(forward, opts)
	require.NoError(t, err)
	b, err := Run(reversed, opts)
	require.NoError(t, err)

	for _, name := range []string{core.TableDimCustomer, core.TableDimProduct, core.TableDimRegion, core.TableDimDate, core.TableDimShipMode} {
		ta, _ := a.Schema.Table(name)
		tb, _ := b.Schema.Table(name)
		assert.Equal(t, ta.Rows(), tb.Rows(), name)
	}
}

func TestRun_Properties(t *testing.T) {
	opts := testOptions(t)
	opts.DateSpine = true
	res, err := Run(sample(), opts)
	require.NoError(t, err)

	fact := res.Schema.Fact()
	// Grain preservation.
	assert.Equal(t, len(res.Cleaned), fact.Len())

	// Referential integrity and key density.
	for _, c := range fact.Columns() {
		if c.References == "" {
			continue
		}
		dim, ok := res.Schema.Table(c.References)
		require.True(t, ok, c.References)
		for i := 0; i < dim.Len(); i++ {
			assert.Equal(t, int64(i+1), dim.Row(i)[0], "%s row %d", dim.Name(), i)
		}
		for i := 0; i < fact.Len(); i++ {
			id := fact.Value(i, c.Name).(int64)
			assert.True(t, id >= 1 && id <= int64(dim.Len()), "%s=%d", c.Name, id)
		}
	}

	// Lossless decomposition of the customer name.
	customers, _ := res.Schema.Table(core.TableDimCustomer)
	for i, rec := range res.Cleaned {
		key := fact.Value(i, "customer_key").(int64)
		assert.Equal(t, rec.CustomerName, customers.Value(int(key-1), "customer_name"))
	}

	// The date spine covers every day between 2014-06-09 and 2017-04-20.
	dates, _ := res.Schema.Table(core.TableDimDate)
	first, _ := core.NewDate(2014, time.June, 9)
	last, _ := core.NewDate(2017, time.April, 20)
	days := int(last.Time().Sub(first.Time()).Hours()/24) + 1
	assert.Equal(t, days, dates.Len())
}

func TestRun_StageEvents(t *testing.T) {
	clock := clockwork.NewFakeClock()
	opts := testOptions(t)
	opts.Clock = clock

	var events []StageEvent
	opts.OnStage = func(ev StageEvent) { events = append(events, ev) }

	_, err := Run(sample(), opts)
	require.NoError(t, err)
	require.Len(t, events, 2*len(Stages))
	for i, stage := range Stages {
		assert.Equal(t, stage, events[2*i].Stage)
		assert.Equal(t, core.StageStatusRunning, events[2*i].Status)
		assert.Equal(t, core.StageStatusSuccess, events[2*i+1].Status)
		assert.Zero(t, events[2*i+1].Duration)
	}
	assert.Equal(t, 8, events[0].RowsIn)
	assert.Equal(t, 7, events[1].RowsOut)
}

func TestRun_Empty(t *testing.T) {
	res, err := Run(nil, testOptions(t))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Schema.Fact().Len())
}

func TestValidate(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, Validate(opts))

	opts.Entities = append(core.DefaultEntitySpecs(), core.EntitySpec{
		Name: "store", KeyColumns: []string{"store_id"}, ForeignKey: "customer_key",
	})
	err := Validate(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store_id")
	assert.Contains(t, err.Error(), `foreign key "customer_key"`)

	_, err = Run(sample(), opts)
	assert.Error(t, err)
}
