package locks

import (
	"fmt"
	"strings"

	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/state"
)

// DetectLockMode classifies one raw SQL statement
func DetectLockMode(sql string) LockMode {
	sqlUpper := strings.ToUpper(strings.TrimSpace(sql))
	if sqlUpper == "" {
		return LockAccessShare
	}

	switch {
	case strings.HasPrefix(sqlUpper, "CREATE INDEX"), strings.HasPrefix(sqlUpper, "CREATE UNIQUE INDEX"):
		if strings.Contains(sqlUpper, "CONCURRENTLY") {
			return LockShareUpdateExclusive
		}
		return LockShare
	case strings.HasPrefix(sqlUpper, "ALTER TABLE"):
		if strings.Contains(sqlUpper, "VALIDATE CONSTRAINT") {
			return LockShareUpdateExclusive
		}
		return LockAccessExclusive
	case strings.HasPrefix(sqlUpper, "DROP TABLE"),
		strings.HasPrefix(sqlUpper, "DROP INDEX"),
		strings.HasPrefix(sqlUpper, "TRUNCATE"):
		if strings.Contains(sqlUpper, "CONCURRENTLY") {
			return LockShareUpdateExclusive
		}
		return LockAccessExclusive
	case strings.HasPrefix(sqlUpper, "CREATE TABLE"), strings.HasPrefix(sqlUpper, "SELECT"):
		return LockAccessShare
	case strings.HasPrefix(sqlUpper, "INSERT"),
		strings.HasPrefix(sqlUpper, "UPDATE"),
		strings.HasPrefix(sqlUpper, "DELETE"):
		return LockRowExclusive
	}
	// unknown statements are assumed to take the strongest lock
	return LockAccessExclusive
}

// ForOperation returns the lock op takes on PostgreSQL when run against before
func ForOperation(op migration.Operation, before *state.ProjectState) LockImpact {
	desc := op.Describe()
	table := func(app, model string) string {
		if before != nil {
			if m, ok := before.GetModel(app, model); ok {
				return m.TableName()
			}
		}
		return state.DefaultTableName(app, model)
	}

	switch o := op.(type) {
	case *migration.CreateModel:
		t := o.Model().TableName()
		for _, f := range o.Fields {
			if f.References() != "" {
				return newImpact(desc, t, LockShareRowExclusive,
					"Foreign keys take SHARE ROW EXCLUSIVE on the referenced table, blocking its writes")
			}
		}
		return newImpact(desc, t, LockAccessShare, "New table, no existing rows are locked")
	case *migration.DeleteModel:
		return newImpact(desc, table(o.App, o.Name), LockAccessExclusive, "DROP TABLE requires exclusive access")
	case *migration.RenameModel:
		return newImpact(desc, table(o.App, o.OldName), LockAccessExclusive, "RENAME TABLE requires exclusive access (brief)")
	case *migration.AddField:
		t := table(o.App, o.Model)
		switch {
		case !o.Field.Nullable && o.Field.Default() == nil:
			return newImpact(desc, t, LockAccessExclusive,
				"NOT NULL column without a default fails on non-empty tables")
		case o.Field.References() != "":
			return newImpact(desc, t, LockAccessExclusive,
				"Adding a foreign key column validates every existing row")
		case o.Field.Default() != nil:
			return newImpact(desc, t, LockAccessExclusive,
				"ADD COLUMN with DEFAULT may rewrite the table")
		}
		return newImpact(desc, t, LockAccessExclusive, "ADD COLUMN requires exclusive access (brief, metadata only)")
	case *migration.RemoveField:
		return newImpact(desc, table(o.App, o.Model), LockAccessExclusive, "DROP COLUMN requires exclusive access")
	case *migration.AlterField:
		t := table(o.App, o.Model)
		if before != nil {
			if m, ok := before.GetModel(o.App, o.Model); ok {
				if old, ok := m.GetField(o.Field.Name); ok {
					switch {
					case old.ColumnType() != o.Field.ColumnType():
						return newImpact(desc, t, LockAccessExclusive,
							"Changing column type may rewrite the entire table")
					case old.Nullable && !o.Field.Nullable:
						return newImpact(desc, t, LockAccessExclusive,
							"SET NOT NULL scans every row while holding the lock")
					}
				}
			}
		}
		return newImpact(desc, t, LockAccessExclusive, "ALTER COLUMN requires exclusive access (brief)")
	case *migration.RenameField:
		return newImpact(desc, table(o.App, o.Model), LockAccessExclusive, "RENAME COLUMN requires exclusive access (brief)")
	case *migration.AddIndex:
		return newImpact(desc, table(o.App, o.Model), LockShare,
			"CREATE INDEX blocks writes during the index build")
	case *migration.RemoveIndex:
		return newImpact(desc, table(o.App, o.Model), LockAccessExclusive, "DROP INDEX requires exclusive access")
	case *migration.AddConstraint:
		return newImpact(desc, table(o.App, o.Model), LockAccessExclusive,
			"ADD CONSTRAINT scans all existing rows to validate the constraint")
	case *migration.RemoveConstraint:
		return newImpact(desc, table(o.App, o.Model), LockAccessExclusive, "DROP CONSTRAINT requires exclusive access (brief)")
	case *migration.CreateExtension, *migration.DropExtension:
		return newImpact(desc, "", LockAccessShare, "Extensions do not lock user tables")
	case *migration.RunSQL:
		mode := LockAccessShare
		for _, stmt := range o.SQL {
			if m := DetectLockMode(stmt); m > mode {
				mode = m
			}
		}
		return newImpact(desc, "", mode, fmt.Sprintf("Strongest lock among %d raw statements", len(o.SQL)))
	default:
		panic(fmt.Sprintf("unhandled operation %T", op))
	}
}

// Analyze returns the lock impact of each operation, replaying them on a
// copy of before so later operations see earlier ones
func Analyze(before *state.ProjectState, ops []migration.Operation) ([]LockImpact, error) {
	s := state.NewProjectState()
	if before != nil {
		s = before.Clone()
	}
	out := make([]LockImpact, 0, len(ops))
	for i, op := range ops {
		out = append(out, ForOperation(op, s))
		if err := op.StateForwards(s); err != nil {
			return nil, fmt.Errorf("failed to apply operation %d (%s): %w", i, op.Describe(), err)
		}
	}
	return out, nil
}

// Strongest returns the highest impact in impacts
func Strongest(impacts []LockImpact) (LockImpact, bool) {
	if len(impacts) == 0 {
		return LockImpact{}, false
	}
	best := impacts[0]
	for _, li := range impacts[1:] {
		if li.LockMode > best.LockMode {
			best = li
		}
	}
	return best, true
}
