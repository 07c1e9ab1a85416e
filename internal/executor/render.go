package executor

import (
	"fmt"

	"github.com/lockplane/migrator/database"
	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/schema"
	"github.com/lockplane/migrator/internal/state"
)

// Render returns the DDL that performs op against a database whose schema
// matches before
func Render(d database.Driver, op migration.Operation, before *state.ProjectState) ([]string, error) {
	steps, err := RenderSteps(d, op, before)
	if err != nil {
		return nil, err
	}
	var stmts []string
	for _, s := range steps {
		stmts = append(stmts, s.SQL...)
	}
	return stmts, nil
}

// RenderSteps is Render with the statements grouped per logical change
func RenderSteps(d database.Driver, op migration.Operation, before *state.ProjectState) ([]database.PlanStep, error) {
	if before == nil {
		before = state.NewProjectState()
	}
	after := before.Clone()
	if err := op.StateForwards(after); err != nil {
		return nil, fmt.Errorf("failed to apply %s: %w", op.Describe(), err)
	}
	current := before.ToSchema()
	target := after.ToSchema()

	switch o := op.(type) {
	case *migration.RunSQL:
		var stmts []string
		for _, s := range o.SQL {
			if s != "" {
				stmts = append(stmts, s)
			}
		}
		if len(stmts) == 0 {
			return nil, nil
		}
		return []database.PlanStep{{Description: o.Describe(), SQL: stmts}}, nil

	case *migration.CreateExtension:
		return single(d.CreateExtension(o.Name)), nil

	case *migration.DropExtension:
		return single(d.DropExtension(o.Name)), nil

	case *migration.CreateModel:
		t := target.Table(o.Model().TableName())
		return createTable(d, *t), nil

	case *migration.DeleteModel:
		m, _ := before.GetModel(o.App, o.Name)
		return single(d.DropTable(*current.Table(m.TableName()))), nil

	case *migration.RenameModel:
		oldModel, _ := before.GetModel(o.App, o.OldName)
		newModel, _ := after.GetModel(o.App, o.NewName)
		from := current.Table(oldModel.TableName()).Clone()
		to := *target.Table(newModel.TableName())
		if from.Name == to.Name {
			return nil, nil
		}
		steps := single(d.RenameTable(from.Name, to.Name))
		from.Name = to.Name
		rest, err := alterTable(d, current, from, to)
		if err != nil {
			return nil, err
		}
		return append(steps, rest...), nil

	case *migration.RenameField:
		m, _ := before.GetModel(o.App, o.Model)
		from := renameColumn(*current.Table(m.TableName()), o.OldName, o.NewName)
		steps := single(d.RenameColumn(from.Name, o.OldName, o.NewName))
		rest, err := alterTable(d, current, from, *target.Table(from.Name))
		if err != nil {
			return nil, err
		}
		return append(steps, rest...), nil
	}

	app, model, ok := modelOf(op)
	if !ok {
		return nil, fmt.Errorf("unhandled operation %T", op)
	}
	m, _ := after.GetModel(app, model)
	name := m.TableName()
	return alterTable(d, current, *current.Table(name), *target.Table(name))
}

func single(sql, description string) []database.PlanStep {
	if sql == "" {
		return nil
	}
	return []database.PlanStep{{Description: description, SQL: []string{sql}}}
}

func modelOf(op migration.Operation) (app, model string, ok bool) {
	switch o := op.(type) {
	case *migration.AddField:
		return o.App, o.Model, true
	case *migration.RemoveField:
		return o.App, o.Model, true
	case *migration.AlterField:
		return o.App, o.Model, true
	case *migration.AddIndex:
		return o.App, o.Model, true
	case *migration.RemoveIndex:
		return o.App, o.Model, true
	case *migration.AddConstraint:
		return o.App, o.Model, true
	case *migration.RemoveConstraint:
		return o.App, o.Model, true
	}
	return "", "", false
}

// createTable creates t with its indexes. Dialects that can add foreign keys
// later get them as separate statements; the others declare them inline.
func createTable(d database.Driver, t database.Table) []database.PlanStep {
	steps := single(d.CreateTable(t))
	if d.SupportsFeature(database.FeatureAddForeignKey) {
		for _, fk := range t.ForeignKeys {
			steps = append(steps, d.AddForeignKey(t, fk)...)
		}
	}
	for _, idx := range t.Indexes {
		steps = append(steps, single(d.AddIndex(t.Name, idx))...)
	}
	return steps
}

// renameColumn returns t as it looks right after a column rename: the
// column and every index, key and constraint over it follow the new name,
// object names stay as they were
func renameColumn(t database.Table, oldName, newName string) database.Table {
	out := t.Clone()
	rename := func(cols []string) {
		for i, c := range cols {
			if c == oldName {
				cols[i] = newName
			}
		}
	}
	for i := range out.Columns {
		if out.Columns[i].Name == oldName {
			out.Columns[i].Name = newName
		}
	}
	for i := range out.Indexes {
		rename(out.Indexes[i].Columns)
	}
	for i := range out.ForeignKeys {
		rename(out.ForeignKeys[i].Columns)
	}
	for i := range out.Constraints {
		rename(out.Constraints[i].Columns)
	}
	return out
}

// alterTable moves one table from its current to its target definition.
// Removals run before additions so renamed objects do not collide, and
// foreign keys are dropped before the columns they cover.
func alterTable(d database.Driver, current *database.Schema, from, to database.Table) ([]database.PlanStep, error) {
	diff := schema.DiffSchemas(
		&database.Schema{Tables: []database.Table{from}},
		&database.Schema{Tables: []database.Table{to}},
	)
	if len(diff.ModifiedTables) == 0 {
		return nil, nil
	}
	td := diff.ModifiedTables[0]

	if needsRebuild(d, &td) {
		if refs := current.ReferencingForeignKeys(from.Name); len(refs) > 0 {
			return nil, &apperrors.ForeignKeyViolationError{Table: from.Name, ReferencedBy: refs}
		}
		step, err := rebuild(d, td)
		if err != nil {
			return nil, err
		}
		return []database.PlanStep{step}, nil
	}

	var steps []database.PlanStep
	for _, fk := range td.RemovedForeignKeys {
		steps = append(steps, d.DropForeignKey(from, fk)...)
	}
	for _, c := range td.RemovedConstraints {
		steps = append(steps, d.DropConstraint(from, c)...)
	}
	for _, idx := range td.RemovedIndexes {
		steps = append(steps, single(d.DropIndex(from.Name, idx))...)
	}
	for _, col := range td.RemovedColumns {
		steps = append(steps, single(d.DropColumn(from.Name, col))...)
	}
	for _, col := range td.AddedColumns {
		steps = append(steps, single(d.AddColumn(from.Name, col))...)
	}
	for _, cd := range td.ModifiedColumns {
		steps = append(steps, d.ModifyColumn(from, cd)...)
	}
	for _, c := range td.AddedConstraints {
		steps = append(steps, d.AddConstraint(to, c)...)
	}
	for _, idx := range td.AddedIndexes {
		steps = append(steps, single(d.AddIndex(to.Name, idx))...)
	}
	for _, fk := range td.AddedForeignKeys {
		steps = append(steps, d.AddForeignKey(to, fk)...)
	}
	return steps, nil
}

// needsRebuild reports whether the dialect cannot express td in place
func needsRebuild(d database.Driver, td *schema.TableDiff) bool {
	if d.SupportsFeature(database.FeatureAlterColumn) &&
		d.SupportsFeature(database.FeatureAddForeignKey) &&
		d.SupportsFeature(database.FeatureAddConstraint) {
		return false
	}
	if len(td.ModifiedColumns) > 0 ||
		len(td.AddedForeignKeys)+len(td.RemovedForeignKeys) > 0 ||
		len(td.AddedConstraints)+len(td.RemovedConstraints) > 0 {
		return true
	}
	for _, col := range td.AddedColumns {
		if col.IsPrimaryKey || (!col.Nullable && col.Default == nil) {
			return true
		}
	}
	for _, col := range td.RemovedColumns {
		if col.IsPrimaryKey || !d.SupportsFeature(database.FeatureDropColumn) {
			return true
		}
	}
	return false
}

type rebuilder interface {
	RebuildTable(old, target database.Table, exprs map[string]string, description string) database.PlanStep
}

func rebuild(d database.Driver, td schema.TableDiff) (database.PlanStep, error) {
	r, ok := d.(rebuilder)
	if !ok {
		return database.PlanStep{}, fmt.Errorf("%s cannot alter table %s in place", d.Name(), td.TableName)
	}
	exprs := map[string]string{}
	for _, cd := range td.ModifiedColumns {
		if !cd.New.Nullable && cd.New.Default != nil {
			exprs[cd.ColumnName] = fmt.Sprintf("COALESCE(%s, %s)", cd.ColumnName, *cd.New.Default)
		}
	}
	return r.RebuildTable(td.Current, td.Target, exprs, fmt.Sprintf("Rebuild table %s", td.TableName)), nil
}
