// Package star assembles the final star schema and refuses to hand out a
// schema that fails its integrity gate.
package star

import (
	"github.com/leapstack-labs/starschema/internal/dag"
	"github.com/leapstack-labs/starschema/internal/extract"
	"github.com/leapstack-labs/starschema/internal/fact"
	"github.com/leapstack-labs/starschema/internal/keys"
	"github.com/leapstack-labs/starschema/internal/resolve"
	"github.com/leapstack-labs/starschema/pkg/core"
)

// EntityDimension pairs an extracted entity with its surrogate keys.
type EntityDimension struct {
	Entity *extract.Entity
	Keys   *keys.KeyMap
}

// Input is everything the earlier stages produced.
type Input struct {
	Records  []core.CleanRecord
	Entities []EntityDimension
	Resolved *resolve.Result
	Fact     *fact.Fact
}

// Schema is a validated star schema plus its normalization artifacts.
// All tables are frozen.
type Schema struct {
	tables    map[string]*core.Table
	order     []string
	artifacts []*core.Table
	graph     *dag.Graph[*core.Table]
	fact      string
}

// dimension is the gate's view of one dimension table.
type dimension struct {
	table       *core.Table
	keys        *keys.KeyMap
	surrogate   string
	naturalCols []string
	// entity is set for extracted entities; resolved dimensions leave it nil.
	entity *extract.Entity
}

// Assemble builds every output table, runs the integrity gate and returns
// the schema only if every check passes.
func Assemble(in Input) (*Schema, error) {
	var dims []*dimension
	for _, ed := range in.Entities {
		dims = append(dims, entityDimension(ed))
	}
	if in.Resolved != nil {
		for _, d := range in.Resolved.Dimensions {
			dims = append(dims, &dimension{
				table:       d.Table(d.TableName),
				keys:        d.Keys,
				surrogate:   d.SurrogateColumn,
				naturalCols: d.NaturalKeyColumns(),
			})
		}
	}

	g := &gate{in: in, dims: make(map[string]*dimension, len(dims))}
	for _, d := range dims {
		g.dims[d.table.Name()] = d
	}
	if err := g.check(); err != nil {
		return nil, err
	}

	s := &Schema{
		tables: make(map[string]*core.Table),
		graph:  dag.NewGraph[*core.Table](),
		fact:   in.Fact.Table.Name(),
	}
	for _, d := range dims {
		s.add(d.table)
	}
	s.add(in.Fact.Table)
	for _, c := range in.Fact.Table.Columns() {
		if c.References != "" {
			if err := s.graph.AddEdge(c.References, s.fact); err != nil {
				return nil, err
			}
		}
	}
	nodes, err := s.graph.TopologicalSort()
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		s.order = append(s.order, n.ID)
	}

	s.artifacts = append(s.artifacts, cleanedTable(in.Records))
	for _, ed := range in.Entities {
		s.artifacts = append(s.artifacts, ed.Entity.Table(core.ArtifactPrefix2NF+ed.Entity.Name()))
	}
	if in.Resolved != nil {
		for _, d := range in.Resolved.Dimensions {
			t := s.tables[d.TableName]
			s.artifacts = append(s.artifacts, t.Clone(core.ArtifactPrefix3NF+t.Name()).Freeze())
		}
	}
	s.artifacts = append(s.artifacts, in.Fact.Table.Clone(core.ArtifactPrefix3NF+s.fact).Freeze())
	return s, nil
}

func (s *Schema) add(t *core.Table) {
	s.tables[t.Name()] = t
	s.graph.AddNode(t.Name(), t)
}

// entityDimension renders an entity as a star dimension: surrogate key,
// natural key columns, attributes, rows in surrogate key order.
func entityDimension(ed EntityDimension) *dimension {
	e := ed.Entity
	surrogate := e.Spec.SurrogateColumn()
	cols := []core.TableColumn{{Name: surrogate, Type: core.TypeInteger, Key: true}}
	natural := make([]string, 0, len(e.KeyColumns()))
	for _, c := range e.KeyColumns() {
		cols = append(cols, core.TableColumn{Name: c.Name, Type: c.Type})
		natural = append(natural, c.Name)
	}
	for _, c := range e.AttributeColumns() {
		cols = append(cols, core.TableColumn{Name: c.Name, Type: c.Type})
	}

	t := core.NewTable(e.Spec.TableName(), cols...)
	for _, k := range ed.Keys.Keys() {
		id, _ := ed.Keys.Lookup(k)
		entry, ok := e.Lookup(k)
		if !ok {
			// Left for the gate to report as a bijection failure.
			continue
		}
		row := make([]any, 0, len(cols))
		row = append(row, id)
		row = append(row, entry.KeyValues...)
		row = append(row, entry.Attributes...)
		t.Append(row...)
	}
	return &dimension{
		table:       t.Freeze(),
		keys:        ed.Keys,
		surrogate:   surrogate,
		naturalCols: natural,
		entity:      e,
	}
}

// cleanedTable renders the cleaned relation as the 1NF artifact.
func cleanedTable(records []core.CleanRecord) *core.Table {
	cols := make([]core.TableColumn, len(core.CleanColumns))
	for i, c := range core.CleanColumns {
		cols[i] = core.TableColumn{Name: c.Name, Type: c.Type}
	}
	t := core.NewTable(core.TableRaw, cols...)
	for i := range records {
		row := make([]any, len(core.CleanColumns))
		for j, c := range core.CleanColumns {
			row[j] = c.Value(&records[i])
		}
		t.Append(row...)
	}
	return t.Freeze()
}

// Tables returns the star tables, dimensions before the fact table.
func (s *Schema) Tables() []*core.Table {
	out := make([]*core.Table, len(s.order))
	for i, name := range s.order {
		out[i] = s.tables[name]
	}
	return out
}

// Artifacts returns the normalization artifacts: 1NF, 2NF then 3NF tables.
func (s *Schema) Artifacts() []*core.Table {
	out := make([]*core.Table, len(s.artifacts))
	copy(out, s.artifacts)
	return out
}

// Table finds a star table or artifact by name.
func (s *Schema) Table(name string) (*core.Table, bool) {
	if t, ok := s.tables[name]; ok {
		return t, true
	}
	for _, t := range s.artifacts {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Fact returns the fact table.
func (s *Schema) Fact() *core.Table { return s.tables[s.fact] }

// Graph returns the table dependency graph.
func (s *Schema) Graph() *dag.Graph[*core.Table] { return s.graph }
