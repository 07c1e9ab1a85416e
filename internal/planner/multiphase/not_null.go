package multiphase

import (
	"fmt"

	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/state"
)

// splitNotNull adds a NOT NULL column without a default in three phases:
// add it nullable, backfill, then set NOT NULL
func splitNotNull(op *migration.AddField, before *state.ProjectState, opts Options) (*Plan, error) {
	if opts.Backfill == "" {
		return nil, &apperrors.InvalidMigrationError{
			Reason: fmt.Sprintf("adding NOT NULL field %s to %s.%s needs a backfill expression", op.Field.Name, op.App, op.Model),
		}
	}
	table := tableOf(before, op.App, op.Model)
	col := op.Field.Name
	b := newBuilder(op.App, before, opts)

	err := b.add(Phase{
		Name:               "add_nullable",
		Description:        fmt.Sprintf("Add %s column as nullable", col),
		RequiresCodeDeploy: true,
		CodeChangesRequired: []string{
			fmt.Sprintf("Write %s on every insert and update of %s", col, table),
			"Deploy this code before proceeding to the backfill",
		},
		Verification: []string{
			fmt.Sprintf("Check new rows populate %s: SELECT COUNT(*) FROM %s WHERE %s IS NULL", col, table, col),
		},
	}, &migration.AddField{App: op.App, Model: op.Model, Field: op.Field.WithNullable(true)})
	if err != nil {
		return nil, err
	}

	err = b.add(Phase{
		Name:        "backfill",
		Description: fmt.Sprintf("Backfill existing rows of %s.%s", table, col),
		Verification: []string{
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL should return 0", table, col),
		},
	}, &migration.RunSQL{
		SQL:        []string{fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", quote(table), quote(col), opts.Backfill, quote(col))},
		ReverseSQL: []string{fmt.Sprintf("UPDATE %s SET %s = NULL", quote(table), quote(col))},
		Note:       fmt.Sprintf("backfill %s.%s", table, col),
	})
	if err != nil {
		return nil, err
	}

	err = b.add(Phase{
		Name:        "set_not_null",
		Description: fmt.Sprintf("Set %s NOT NULL", col),
		Verification: []string{
			fmt.Sprintf("Inserting a row without %s fails", col),
		},
	}, &migration.AlterField{App: op.App, Model: op.Model, Field: op.Field.Clone()})
	if err != nil {
		return nil, err
	}

	return &Plan{
		Pattern:     PatternNotNullColumn,
		Description: fmt.Sprintf("Add NOT NULL column %s.%s without locking out writers", table, col),
		Phases:      b.phases,
		SafetyNotes: []string{
			"The application must write the column before the backfill runs",
			"SET NOT NULL scans the table; run it off-peak on large tables",
		},
	}, nil
}
