package multiphase

import (
	"fmt"

	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/state"
)

// splitDeprecation drops a table after a deprecation period. The table is
// first renamed so any code still using it fails loudly while the data is
// kept; the drop follows once nothing has complained.
func splitDeprecation(op *migration.DeleteModel, before *state.ProjectState, opts Options) (*Plan, error) {
	m, _ := before.GetModel(op.App, op.Name)
	table := m.TableName()
	deprecated := op.Name + "Deprecated"
	b := newBuilder(op.App, before, opts)

	stop := Phase{
		Name:               "deprecate",
		Description:        fmt.Sprintf("Stop using %s", table),
		RequiresCodeDeploy: true,
		CodeChangesRequired: []string{
			fmt.Sprintf("Remove all code that reads or writes %s", table),
		},
		Verification: []string{
			fmt.Sprintf("Monitor logs for queries against %s", table),
		},
	}
	var ops []migration.Operation
	remaining := op.Name
	if m.Table == "" {
		// tables with derived names follow the model rename
		ops = append(ops, &migration.RenameModel{App: op.App, OldName: op.Name, NewName: deprecated})
		remaining = deprecated
		stop.Description = fmt.Sprintf("Rename %s to %s", table, state.DefaultTableName(op.App, deprecated))
	}
	if err := b.add(stop, ops...); err != nil {
		return nil, err
	}

	err := b.add(Phase{
		Name:        "drop",
		Description: fmt.Sprintf("Drop %s", table),
		Verification: []string{
			"No application errors after the deprecation period",
		},
	}, &migration.DeleteModel{App: op.App, Name: remaining})
	if err != nil {
		return nil, err
	}

	return &Plan{
		Pattern:     PatternDeprecation,
		Description: fmt.Sprintf("Drop %s after a deprecation period", table),
		Phases:      b.phases,
		SafetyNotes: []string{
			"Take a backup before the drop phase; it cannot be reversed with data",
		},
	}, nil
}
