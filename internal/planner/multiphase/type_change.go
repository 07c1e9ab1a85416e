package multiphase

import (
	"fmt"

	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/state"
)

// splitTypeChange changes a column type through a shadow column:
// add <col>_new, backfill with a cast, switch reads, then drop the old
// column and rename the shadow into place
func splitTypeChange(op *migration.AlterField, before *state.ProjectState, opts Options) (*Plan, error) {
	m, _ := before.GetModel(op.App, op.Model)
	old, _ := m.GetField(op.Field.Name)
	table := m.TableName()
	col := op.Field.Name
	shadow := col + "_new"
	newType := op.Field.ColumnType()

	conversion := opts.Backfill
	if conversion == "" {
		conversion = fmt.Sprintf("CAST(%s AS %s)", quote(col), newType)
	}
	b := newBuilder(op.App, before, opts)

	err := b.add(Phase{
		Name:        "add_new_column",
		Description: fmt.Sprintf("Add %s column with %s type", shadow, newType),
		CodeChangesRequired: []string{
			"No code changes yet, the new column is not used",
		},
		Verification: []string{
			fmt.Sprintf("SELECT %s FROM %s LIMIT 1", shadow, table),
		},
	}, &migration.AddField{App: op.App, Model: op.Model,
		Field: op.Field.WithName(shadow).WithNullable(true).WithoutParam(state.ParamPrimaryKey).WithoutParam(state.ParamUnique)})
	if err != nil {
		return nil, err
	}

	err = b.add(Phase{
		Name:               "backfill",
		Description:        fmt.Sprintf("Write both %s and %s, then backfill %s", col, shadow, shadow),
		RequiresCodeDeploy: true,
		CodeChangesRequired: []string{
			fmt.Sprintf("Write to both %s and %s (converted to %s)", col, shadow, newType),
		},
		Verification: []string{
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL AND %s IS NOT NULL should return 0", table, shadow, col),
		},
	}, &migration.RunSQL{
		SQL:        []string{fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", quote(table), quote(shadow), conversion, quote(shadow))},
		ReverseSQL: []string{fmt.Sprintf("UPDATE %s SET %s = NULL", quote(table), quote(shadow))},
		Note:       fmt.Sprintf("convert %s.%s from %s to %s", table, col, old.ColumnType(), newType),
	})
	if err != nil {
		return nil, err
	}

	err = b.add(Phase{
		Name:               "migrate_reads",
		Description:        fmt.Sprintf("Update application to read from %s", shadow),
		RequiresCodeDeploy: true,
		CodeChangesRequired: []string{
			fmt.Sprintf("Read from %s, keep writing both columns", shadow),
		},
	})
	if err != nil {
		return nil, err
	}

	// indexes and constraints over col are dropped with it and rebuilt on
	// the renamed shadow column
	var contract, restore []migration.Operation
	for _, name := range sortedNames(m.Indexes) {
		if idx := m.Indexes[name]; containsName(idx.Columns, col) {
			contract = append(contract, &migration.RemoveIndex{App: op.App, Model: op.Model, Name: name})
			restore = append(restore, &migration.AddIndex{App: op.App, Model: op.Model, Index: idx})
		}
	}
	for _, name := range sortedNames(m.Constraints) {
		if c := m.Constraints[name]; containsName(c.Columns, col) {
			contract = append(contract, &migration.RemoveConstraint{App: op.App, Model: op.Model, Name: name})
			restore = append(restore, &migration.AddConstraint{App: op.App, Model: op.Model, Constraint: c.Clone()})
		}
	}
	contract = append(contract,
		&migration.RemoveField{App: op.App, Model: op.Model, Name: col},
		&migration.RenameField{App: op.App, Model: op.Model, OldName: shadow, NewName: col},
		&migration.AlterField{App: op.App, Model: op.Model, Field: op.Field.Clone()})
	contract = append(contract, restore...)

	err = b.add(Phase{
		Name:               "contract",
		Description:        fmt.Sprintf("Drop old %s column and rename %s to %s", col, shadow, col),
		RequiresCodeDeploy: true,
		CodeChangesRequired: []string{
			fmt.Sprintf("Stop writing %s; after this phase the application uses %s again", shadow, col),
		},
	}, contract...)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Pattern:     PatternTypeChange,
		Description: fmt.Sprintf("Change %s.%s type from %s to %s using dual writes", table, col, old.ColumnType(), newType),
		Phases:      b.phases,
		SafetyNotes: []string{
			"Rolling back the contract phase restores the column with its old type but not its data",
		},
	}, nil
}
