package core

// EntitySpec declares one dimension entity extracted from the cleaned
// relation: which columns identify it and which depend on that identifier.
type EntitySpec struct {
	// Name is the entity name ("customer").
	Name string `koanf:"name" yaml:"name"`
	// Table is the star dimension table name ("dim_customer").
	Table string `koanf:"table" yaml:"table"`
	// KeyColumns form the natural key, in order.
	KeyColumns []string `koanf:"key_columns" yaml:"key_columns"`
	// AttributeColumns are functionally dependent on the natural key.
	AttributeColumns []string `koanf:"attribute_columns" yaml:"attribute_columns"`
	// ForeignKey is the fact column referencing the entity ("customer_key").
	ForeignKey string `koanf:"foreign_key" yaml:"foreign_key"`
}

// TableName returns the dimension table name, "dim_<name>" when unset.
func (s EntitySpec) TableName() string {
	if s.Table != "" {
		return s.Table
	}
	return "dim_" + s.Name
}

// SurrogateColumn returns the surrogate key column name of the dimension.
func (s EntitySpec) SurrogateColumn() string { return s.ForeignKey }

// Columns returns key columns followed by attribute columns.
func (s EntitySpec) Columns() []string {
	out := make([]string, 0, len(s.KeyColumns)+len(s.AttributeColumns))
	out = append(out, s.KeyColumns...)
	return append(out, s.AttributeColumns...)
}

// DependencyRule moves an attribute group that depends on something other
// than the fact key into its own dimension.
type DependencyRule struct {
	// Entity is the relation the group is removed from ("sales").
	Entity string `koanf:"entity" yaml:"entity"`
	// AttributeGroup is the dependent attribute set ("order_date").
	AttributeGroup []string `koanf:"attribute_group" yaml:"attribute_group"`
	// Determinant is the natural key of the new dimension, taken from the
	// attribute group ("order_date").
	Determinant []string `koanf:"determinant" yaml:"determinant"`
	// Dimension is the dimension name; rules sharing it form a role-playing
	// dimension ("date").
	Dimension string `koanf:"dimension" yaml:"dimension"`
	// Table is the star table name ("dim_date").
	Table string `koanf:"table" yaml:"table"`
	// ForeignKey is the fact column that replaces the group ("order_date_key").
	ForeignKey string `koanf:"foreign_key" yaml:"foreign_key"`
	// Derive names the attribute deriver ("calendar", "identity").
	Derive string `koanf:"derive" yaml:"derive"`
}

// TableName returns the dimension table name, "dim_<dimension>" when unset.
func (r DependencyRule) TableName() string {
	if r.Table != "" {
		return r.Table
	}
	return "dim_" + r.Dimension
}

// Fact and dimension table names.
const (
	TableFactSales    = "fact_sales"
	TableDimDate      = "dim_date"
	TableDimShipMode  = "dim_ship_mode"
	TableDimCustomer  = "dim_customer"
	TableDimProduct   = "dim_product"
	TableDimRegion    = "dim_region"
	TableRaw          = "1NF_raw"
	ArtifactPrefix2NF = "2NF_"
	ArtifactPrefix3NF = "3NF_"
)

// DefaultEntitySpecs returns the customer, product and region entities of the
// retail transactions layout.
func DefaultEntitySpecs() []EntitySpec {
	return []EntitySpec{
		{
			Name:             "customer",
			Table:            TableDimCustomer,
			KeyColumns:       []string{ColCustomerID},
			AttributeColumns: []string{ColCustomerName, ColSegment},
			ForeignKey:       "customer_key",
		},
		{
			Name:             "product",
			Table:            TableDimProduct,
			KeyColumns:       []string{ColProductID},
			AttributeColumns: []string{ColCategory, ColSubCategory, ColProductName},
			ForeignKey:       "product_key",
		},
		{
			Name:             "region",
			Table:            TableDimRegion,
			KeyColumns:       []string{ColRegion, ColState, ColCity, ColPostalCode},
			AttributeColumns: []string{ColCountry},
			ForeignKey:       "region_key",
		},
	}
}

// DefaultDependencyRules returns the transitive-dependency rules of the
// retail transactions layout: both dates share a role-playing date dimension
// and ship mode gets its own lookup dimension.
func DefaultDependencyRules() []DependencyRule {
	return []DependencyRule{
		{
			Entity:         "sales",
			AttributeGroup: []string{ColOrderDate},
			Determinant:    []string{ColOrderDate},
			Dimension:      "date",
			Table:          TableDimDate,
			ForeignKey:     "order_date_key",
			Derive:         "calendar",
		},
		{
			Entity:         "sales",
			AttributeGroup: []string{ColShipDate},
			Determinant:    []string{ColShipDate},
			Dimension:      "date",
			Table:          TableDimDate,
			ForeignKey:     "ship_date_key",
			Derive:         "calendar",
		},
		{
			Entity:         "sales",
			AttributeGroup: []string{ColShipMode},
			Determinant:    []string{ColShipMode},
			Dimension:      "ship_mode",
			Table:          TableDimShipMode,
			ForeignKey:     "ship_mode_key",
			Derive:         "identity",
		},
	}
}
