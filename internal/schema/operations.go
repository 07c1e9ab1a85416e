package schema

import (
	"sort"

	"github.com/lockplane/migrator/database"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/state"
)

// OperationsFromDiff turns a physical diff into operations on models named
// after their tables. Replaying them onto state.FromSchema(app, current)
// renders target through ToSchema. Single-column foreign keys travel on
// fields; composite ones become foreign_key constraints.
//
// Order: extensions, new tables (referenced tables first), added columns,
// altered columns, index and constraint removals, index and constraint
// additions, dropped columns, dropped tables, dropped extensions.
func OperationsFromDiff(app string, diff *SchemaDiff) []migration.Operation {
	var (
		ops          []migration.Operation
		addFields    []migration.Operation
		alterFields  []migration.Operation
		removeIdx    []migration.Operation
		addIdx       []migration.Operation
		removeFields []migration.Operation
	)

	for _, ext := range diff.AddedExtensions {
		ops = append(ops, &migration.CreateExtension{Name: ext})
	}

	for _, t := range orderByReferences(diff.AddedTables) {
		m := state.ModelFromTable(app, t)
		create := &migration.CreateModel{App: app, Name: t.Name, Table: t.Name}
		for _, col := range t.Columns {
			create.Fields = append(create.Fields, m.Fields[col.Name])
		}
		ops = append(ops, create)
		for _, idx := range t.Indexes {
			addIdx = append(addIdx, &migration.AddIndex{App: app, Model: t.Name, Index: idx})
		}
		for _, c := range t.Constraints {
			addIdx = append(addIdx, &migration.AddConstraint{App: app, Model: t.Name, Constraint: c})
		}
		for _, fk := range t.ForeignKeys {
			if !state.FieldForeignKey(t, fk) {
				addIdx = append(addIdx, &migration.AddConstraint{App: app, Model: t.Name, Constraint: database.ForeignKeyConstraint(fk)})
			}
		}
	}

	for _, td := range diff.ModifiedTables {
		target := state.ModelFromTable(app, td.Target)

		for _, col := range td.AddedColumns {
			addFields = append(addFields, &migration.AddField{App: app, Model: td.TableName, Field: target.Fields[col.Name]})
		}

		// columns whose definition or single-column foreign key changed
		altered := make(map[string]bool)
		for _, cd := range td.ModifiedColumns {
			altered[cd.ColumnName] = true
		}
		for _, fk := range td.AddedForeignKeys {
			if state.FieldForeignKey(td.Target, fk) && td.Current.Column(fk.Columns[0]) != nil {
				altered[fk.Columns[0]] = true
			}
		}
		for _, fk := range td.RemovedForeignKeys {
			if state.FieldForeignKey(td.Current, fk) && td.Target.Column(fk.Columns[0]) != nil {
				altered[fk.Columns[0]] = true
			}
		}
		names := make([]string, 0, len(altered))
		for name := range altered {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			alterFields = append(alterFields, &migration.AlterField{App: app, Model: td.TableName, Field: target.Fields[name]})
		}

		for _, idx := range td.RemovedIndexes {
			removeIdx = append(removeIdx, &migration.RemoveIndex{App: app, Model: td.TableName, Name: idx.Name})
		}
		for _, c := range td.RemovedConstraints {
			removeIdx = append(removeIdx, &migration.RemoveConstraint{App: app, Model: td.TableName, Name: c.Name})
		}
		for _, fk := range td.RemovedForeignKeys {
			if !state.FieldForeignKey(td.Current, fk) {
				removeIdx = append(removeIdx, &migration.RemoveConstraint{App: app, Model: td.TableName, Name: fk.Name})
			}
		}
		for _, idx := range td.AddedIndexes {
			addIdx = append(addIdx, &migration.AddIndex{App: app, Model: td.TableName, Index: idx})
		}
		for _, c := range td.AddedConstraints {
			addIdx = append(addIdx, &migration.AddConstraint{App: app, Model: td.TableName, Constraint: c})
		}
		for _, fk := range td.AddedForeignKeys {
			if !state.FieldForeignKey(td.Target, fk) {
				addIdx = append(addIdx, &migration.AddConstraint{App: app, Model: td.TableName, Constraint: database.ForeignKeyConstraint(fk)})
			}
		}
		for _, col := range td.RemovedColumns {
			removeFields = append(removeFields, &migration.RemoveField{App: app, Model: td.TableName, Name: col.Name})
		}
	}

	ops = append(ops, addFields...)
	ops = append(ops, alterFields...)
	ops = append(ops, removeIdx...)
	ops = append(ops, addIdx...)
	ops = append(ops, removeFields...)

	for _, t := range diff.RemovedTables {
		ops = append(ops, &migration.DeleteModel{App: app, Name: t.Name})
	}
	for _, ext := range diff.RemovedExtensions {
		ops = append(ops, &migration.DropExtension{Name: ext})
	}
	return ops
}

// orderByReferences sorts tables so a table follows the tables its foreign
// keys point at; ties and cycles fall back to name order
func orderByReferences(tables []database.Table) []database.Table {
	byName := make(map[string]database.Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}
	names := sortedKeys(byName)

	var out []database.Table
	marks := make(map[string]int) // 1 visiting, 2 done
	var visit func(name string)
	visit = func(name string) {
		if marks[name] != 0 {
			return
		}
		marks[name] = 1
		t := byName[name]
		refs := make([]string, 0, len(t.ForeignKeys))
		for _, fk := range t.ForeignKeys {
			if _, ok := byName[fk.ReferencedTable]; ok && fk.ReferencedTable != name {
				refs = append(refs, fk.ReferencedTable)
			}
		}
		sort.Strings(refs)
		for _, ref := range refs {
			visit(ref)
		}
		marks[name] = 2
		out = append(out, t)
	}
	for _, name := range names {
		visit(name)
	}
	return out
}
