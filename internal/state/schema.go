package state

import (
	"fmt"
	"sort"

	"github.com/lockplane/migrator/database"
)

// ToSchema renders the physical schema the state describes. Fields become
// columns (primary key first, then by name), unique fields become unique
// indexes, references become single-column foreign keys and foreign_key
// constraints become composite foreign keys.
func (s *ProjectState) ToSchema() *database.Schema {
	schema := &database.Schema{Extensions: s.Extensions()}
	for _, m := range s.Models() {
		schema.Tables = append(schema.Tables, s.tableFor(m))
	}
	sort.Slice(schema.Tables, func(i, j int) bool { return schema.Tables[i].Name < schema.Tables[j].Name })
	return schema
}

// Table renders one model as a table
func (s *ProjectState) Table(m *ModelState) database.Table {
	return s.tableFor(m)
}

func (s *ProjectState) tableFor(m *ModelState) database.Table {
	table := database.Table{Name: m.TableName()}

	names := m.FieldNames()
	sort.SliceStable(names, func(i, j int) bool {
		return m.Fields[names[i]].IsPrimaryKey() && !m.Fields[names[j]].IsPrimaryKey()
	})

	for _, name := range names {
		f := m.Fields[name]
		table.Columns = append(table.Columns, Column(f))
		if f.IsUnique() && !f.IsPrimaryKey() {
			table.Indexes = append(table.Indexes, database.Index{
				Name:    UniqueIndexName(table.Name, f.Name),
				Columns: []string{f.Name},
				Unique:  true,
			})
		}
		if f.References() != "" {
			table.ForeignKeys = append(table.ForeignKeys, s.ForeignKey(table.Name, f))
		}
	}

	for _, idx := range m.Indexes {
		idx.Columns = append([]string(nil), idx.Columns...)
		table.Indexes = append(table.Indexes, idx)
	}
	for _, c := range m.Constraints {
		if c.Kind == database.ConstraintForeignKey {
			table.ForeignKeys = append(table.ForeignKeys, c.ForeignKey())
			continue
		}
		table.Constraints = append(table.Constraints, c.Clone())
	}
	sort.Slice(table.Indexes, func(i, j int) bool { return table.Indexes[i].Name < table.Indexes[j].Name })
	sort.Slice(table.ForeignKeys, func(i, j int) bool { return table.ForeignKeys[i].Name < table.ForeignKeys[j].Name })
	sort.Slice(table.Constraints, func(i, j int) bool { return table.Constraints[i].Name < table.Constraints[j].Name })
	return table
}

// Column converts a field to its column definition
func Column(f FieldState) database.Column {
	return database.Column{
		Name:         f.Name,
		Type:         f.ColumnType(),
		Nullable:     f.Nullable,
		Default:      f.Default(),
		IsPrimaryKey: f.IsPrimaryKey(),
	}
}

// UniqueIndexName is the index backing a unique field
func UniqueIndexName(table, column string) string {
	return fmt.Sprintf("%s_%s_key", table, column)
}

// ForeignKeyName is the default name of the foreign key a field declares
func ForeignKeyName(table, column string) string {
	return fmt.Sprintf("fk_%s_%s", table, column)
}

// ForeignKey builds the foreign key a referencing field declares. The
// referenced table and column are resolved against the state when the
// target model is known.
func (s *ProjectState) ForeignKey(table string, f FieldState) database.ForeignKey {
	fk := database.ForeignKey{
		Name:    ForeignKeyName(table, f.Name),
		Columns: []string{f.Name},
	}
	if name, ok := f.Param(ParamFKName); ok {
		fk.Name = name
	}

	refCol := "id"
	if key, ok := ParseModelKey(f.References()); ok {
		if target, found := s.GetModel(key.AppLabel, key.Name); found {
			fk.ReferencedTable = target.TableName()
			refCol = target.PrimaryKey()
		} else {
			fk.ReferencedTable = DefaultTableName(key.AppLabel, key.Name)
		}
	} else {
		fk.ReferencedTable = f.References()
	}
	if to, ok := f.Param(ParamToField); ok {
		refCol = to
	}
	fk.ReferencedColumns = []string{refCol}

	if v, ok := f.Param(ParamOnDelete); ok {
		fk.OnDelete = &v
	}
	if v, ok := f.Param(ParamOnUpdate); ok {
		fk.OnUpdate = &v
	}
	return fk
}

// FromSchema builds a state from a physical schema, one model per table
// named after the table. Single-column foreign keys become references;
// composite ones become foreign_key constraints.
func FromSchema(app string, schema *database.Schema) *ProjectState {
	s := NewProjectState()
	for _, ext := range schema.Extensions {
		s.AddExtension(ext)
	}
	for _, t := range schema.Tables {
		s.AddModel(ModelFromTable(app, t))
	}
	return s
}

// ModelFromTable converts one table to a model keyed by the table name
func ModelFromTable(app string, t database.Table) *ModelState {
	m := NewModelState(app, t.Name)
	m.Table = t.Name
	for _, col := range t.Columns {
		m.AddField(FieldFromColumn(col))
	}
	for _, fk := range t.ForeignKeys {
		if !FieldForeignKey(t, fk) {
			if m.Constraints == nil {
				m.Constraints = make(map[string]database.Constraint)
			}
			m.Constraints[fk.Name] = database.ForeignKeyConstraint(fk)
			continue
		}
		f := m.Fields[fk.Columns[0]].WithParam(ParamReferences, app+"."+fk.ReferencedTable)
		if len(fk.ReferencedColumns) == 1 {
			f = f.WithParam(ParamToField, fk.ReferencedColumns[0])
		}
		if fk.Name != ForeignKeyName(t.Name, fk.Columns[0]) {
			f = f.WithParam(ParamFKName, fk.Name)
		}
		if fk.OnDelete != nil {
			f = f.WithParam(ParamOnDelete, *fk.OnDelete)
		}
		if fk.OnUpdate != nil {
			f = f.WithParam(ParamOnUpdate, *fk.OnUpdate)
		}
		m.AddField(f)
	}
	for _, idx := range t.Indexes {
		if m.Indexes == nil {
			m.Indexes = make(map[string]database.Index)
		}
		idx.Columns = append([]string(nil), idx.Columns...)
		m.Indexes[idx.Name] = idx
	}
	for _, c := range t.Constraints {
		if m.Constraints == nil {
			m.Constraints = make(map[string]database.Constraint)
		}
		m.Constraints[c.Name] = c.Clone()
	}
	return m
}

// FieldForeignKey reports whether fk is carried by a field reference rather
// than a foreign_key constraint
func FieldForeignKey(t database.Table, fk database.ForeignKey) bool {
	return len(fk.Columns) == 1 && len(fk.ReferencedColumns) <= 1 && t.Column(fk.Columns[0]) != nil
}

// FieldFromColumn converts a column to a field
func FieldFromColumn(col database.Column) FieldState {
	f := NewField(col.Name, col.Type, col.Nullable)
	if col.Default != nil {
		f = f.WithParam(ParamDefault, *col.Default)
	}
	if col.IsPrimaryKey {
		f = f.WithParam(ParamPrimaryKey, "true")
	}
	return f
}
