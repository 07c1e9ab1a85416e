package multiphase

import (
	"fmt"

	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/state"
)

// splitRename renames a column with the expand/contract pattern:
//   - expand: add the new column and backfill it from the old one
//   - migrate_reads: the application switches reads (no schema change)
//   - contract: move indexes over and drop the old column
func splitRename(op *migration.RenameField, before *state.ProjectState, opts Options) (*Plan, error) {
	m, _ := before.GetModel(op.App, op.Model)
	old, _ := m.GetField(op.OldName)
	table := m.TableName()
	b := newBuilder(op.App, before, opts)

	expanded := old.WithName(op.NewName).WithNullable(true).WithoutParam(state.ParamPrimaryKey)
	err := b.add(Phase{
		Name:               "expand",
		Description:        fmt.Sprintf("Add %s column and backfill from %s", op.NewName, op.OldName),
		RequiresCodeDeploy: true,
		CodeChangesRequired: []string{
			fmt.Sprintf("Update application to write to both %s and %s columns", op.OldName, op.NewName),
			fmt.Sprintf("Keep reading from %s column", op.OldName),
		},
		Verification: []string{
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL AND %s IS NOT NULL should return 0", table, op.NewName, op.OldName),
		},
	},
		&migration.AddField{App: op.App, Model: op.Model, Field: expanded},
		&migration.RunSQL{
			SQL: []string{fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL",
				quote(table), quote(op.NewName), quote(op.OldName), quote(op.NewName))},
			ReverseSQL: []string{fmt.Sprintf("UPDATE %s SET %s = NULL", quote(table), quote(op.NewName))},
			Note:       fmt.Sprintf("copy %s into %s", op.OldName, op.NewName),
		})
	if err != nil {
		return nil, err
	}

	err = b.add(Phase{
		Name:               "migrate_reads",
		Description:        fmt.Sprintf("Switch application to read from %s column", op.NewName),
		RequiresCodeDeploy: true,
		CodeChangesRequired: []string{
			fmt.Sprintf("Read from %s, keep writing both columns", op.NewName),
		},
	})
	if err != nil {
		return nil, err
	}

	var contract []migration.Operation
	for _, name := range sortedNames(m.Indexes) {
		idx := m.Indexes[name]
		if !containsName(idx.Columns, op.OldName) {
			continue
		}
		moved := idx
		moved.Columns = replaceName(idx.Columns, op.OldName, op.NewName)
		contract = append(contract,
			&migration.RemoveIndex{App: op.App, Model: op.Model, Name: name},
			&migration.AddIndex{App: op.App, Model: op.Model, Index: moved})
	}
	for _, name := range sortedNames(m.Constraints) {
		c := m.Constraints[name]
		if !containsName(c.Columns, op.OldName) {
			continue
		}
		moved := c
		moved.Columns = replaceName(c.Columns, op.OldName, op.NewName)
		contract = append(contract,
			&migration.RemoveConstraint{App: op.App, Model: op.Model, Name: name},
			&migration.AddConstraint{App: op.App, Model: op.Model, Constraint: moved})
	}
	contract = append(contract, &migration.RemoveField{App: op.App, Model: op.Model, Name: op.OldName})
	if final := old.WithName(op.NewName); !final.Equal(expanded) {
		contract = append(contract, &migration.AlterField{App: op.App, Model: op.Model, Field: final})
	}

	err = b.add(Phase{
		Name:               "contract",
		Description:        fmt.Sprintf("Remove old %s column", op.OldName),
		RequiresCodeDeploy: true,
		CodeChangesRequired: []string{
			fmt.Sprintf("Remove all references to %s from application code before this phase", op.OldName),
		},
		Verification: []string{
			fmt.Sprintf("No errors mentioning %s appear in application logs", op.OldName),
		},
	}, contract...)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Pattern:     PatternExpandContract,
		Description: fmt.Sprintf("Rename %s.%s to %s using expand/contract", table, op.OldName, op.NewName),
		Phases:      b.phases,
		SafetyNotes: []string{
			"Each phase is backward compatible with the previous one",
			"Code must be deployed between phases",
		},
	}, nil
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func replaceName(names []string, oldName, newName string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		if n == oldName {
			n = newName
		}
		out[i] = n
	}
	return out
}
