package sqlite

import (
	"fmt"
	"strings"

	"github.com/lockplane/migrator/database"
)

// Generator implements database.SQLGenerator for SQLite
type Generator struct{}

// NewGenerator creates a new SQLite SQL generator
func NewGenerator() *Generator {
	return &Generator{}
}

// CreateTable generates SQLite SQL to create a table.
// Foreign keys and constraints are written inline since SQLite cannot add them later.
func (g *Generator) CreateTable(table database.Table) (string, string) {
	var parts []string
	for _, col := range table.Columns {
		parts = append(parts, g.FormatColumnDefinition(col))
	}
	for _, fk := range table.ForeignKeys {
		parts = append(parts, g.FormatForeignKeyConstraint(fk))
	}
	for _, c := range table.Constraints {
		parts = append(parts, g.FormatConstraint(c))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("CREATE TABLE %s (\n", table.Name))
	for i, p := range parts {
		sb.WriteString("  ")
		sb.WriteString(p)
		if i < len(parts)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(")")

	return sb.String(), fmt.Sprintf("Create table %s", table.Name)
}

// DropTable generates SQLite SQL to drop a table
func (g *Generator) DropTable(table database.Table) (string, string) {
	// no CASCADE in SQLite
	return fmt.Sprintf("DROP TABLE %s", table.Name), fmt.Sprintf("Drop table %s", table.Name)
}

// RenameTable generates SQLite SQL to rename a table
func (g *Generator) RenameTable(oldName, newName string) (string, string) {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", oldName, newName),
		fmt.Sprintf("Rename table %s to %s", oldName, newName)
}

// AddColumn generates SQLite SQL to add a column
func (g *Generator) AddColumn(tableName string, col database.Column) (string, string) {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", tableName, g.FormatColumnDefinition(col)),
		fmt.Sprintf("Add column %s to table %s", col.Name, tableName)
}

// DropColumn generates SQLite SQL to drop a column (SQLite 3.35.0+)
func (g *Generator) DropColumn(tableName string, col database.Column) (string, string) {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", tableName, col.Name),
		fmt.Sprintf("Drop column %s from table %s", col.Name, tableName)
}

// RenameColumn generates SQLite SQL to rename a column (SQLite 3.25.0+)
func (g *Generator) RenameColumn(tableName, oldName, newName string) (string, string) {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", tableName, oldName, newName),
		fmt.Sprintf("Rename column %s.%s to %s", tableName, oldName, newName)
}

// ModifyColumn rebuilds the table with the new column definition.
// SQLite has no ALTER COLUMN, so type, nullability and default changes all
// go through the create/copy/drop/rename sequence.
func (g *Generator) ModifyColumn(table database.Table, diff database.ColumnDiff) []database.PlanStep {
	if len(diff.Changes) == 0 {
		return nil
	}
	target := table.Clone()
	for i := range target.Columns {
		if target.Columns[i].Name == diff.ColumnName {
			target.Columns[i] = diff.New.Clone()
		}
	}

	exprs := map[string]string{}
	if !diff.New.Nullable && diff.New.Default != nil {
		// rows holding NULL would violate the new NOT NULL
		exprs[diff.New.Name] = fmt.Sprintf("COALESCE(%s, %s)", diff.ColumnName, *diff.New.Default)
	} else if diff.New.Name != diff.ColumnName {
		exprs[diff.New.Name] = diff.ColumnName
	}

	desc := fmt.Sprintf("Modify column %s.%s (%s)", table.Name, diff.ColumnName, strings.Join(diff.Changes, ", "))
	return []database.PlanStep{g.RebuildTable(table, target, exprs, desc)}
}

// AddIndex generates SQLite SQL to add an index
func (g *Generator) AddIndex(tableName string, idx database.Index) (string, string) {
	return g.formatIndex(tableName, idx), fmt.Sprintf("Create index %s on table %s", idx.Name, tableName)
}

func (g *Generator) formatIndex(tableName string, idx database.Index) string {
	uniqueStr := ""
	if idx.Unique {
		uniqueStr = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", uniqueStr, idx.Name, tableName, strings.Join(idx.Columns, ", "))
}

// DropIndex generates SQLite SQL to drop an index
func (g *Generator) DropIndex(tableName string, idx database.Index) (string, string) {
	return fmt.Sprintf("DROP INDEX %s", idx.Name), fmt.Sprintf("Drop index %s from table %s", idx.Name, tableName)
}

// AddForeignKey recreates the table with the added foreign key
func (g *Generator) AddForeignKey(table database.Table, fk database.ForeignKey) []database.PlanStep {
	target := table.Clone()
	target.ForeignKeys = append(target.ForeignKeys, fk.Clone())
	return []database.PlanStep{g.RebuildTable(table, target, nil, fmt.Sprintf("Add foreign key %s to table %s", fk.Name, table.Name))}
}

// DropForeignKey recreates the table without the foreign key
func (g *Generator) DropForeignKey(table database.Table, fk database.ForeignKey) []database.PlanStep {
	target := table.Clone()
	target.ForeignKeys = nil
	for _, existing := range table.ForeignKeys {
		if existing.Name != fk.Name {
			target.ForeignKeys = append(target.ForeignKeys, existing.Clone())
		}
	}
	return []database.PlanStep{g.RebuildTable(table, target, nil, fmt.Sprintf("Drop foreign key %s from table %s", fk.Name, table.Name))}
}

// AddConstraint recreates the table with the added constraint
func (g *Generator) AddConstraint(table database.Table, c database.Constraint) []database.PlanStep {
	target := table.Clone()
	target.Constraints = append(target.Constraints, c)
	return []database.PlanStep{g.RebuildTable(table, target, nil, fmt.Sprintf("Add constraint %s to table %s", c.Name, table.Name))}
}

// DropConstraint recreates the table without the constraint
func (g *Generator) DropConstraint(table database.Table, c database.Constraint) []database.PlanStep {
	target := table.Clone()
	target.Constraints = nil
	for _, existing := range table.Constraints {
		if existing.Name != c.Name {
			target.Constraints = append(target.Constraints, existing)
		}
	}
	return []database.PlanStep{g.RebuildTable(table, target, nil, fmt.Sprintf("Drop constraint %s from table %s", c.Name, table.Name))}
}

// CreateExtension is a no-op on SQLite
func (g *Generator) CreateExtension(name string) (string, string) {
	return "", fmt.Sprintf("Skip extension %s (not supported by SQLite)", name)
}

// DropExtension is a no-op on SQLite
func (g *Generator) DropExtension(name string) (string, string) {
	return "", fmt.Sprintf("Skip extension %s (not supported by SQLite)", name)
}

// FormatColumnDefinition formats a column definition for CREATE/ALTER statements
func (g *Generator) FormatColumnDefinition(col database.Column) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s %s", col.Name, col.Type))

	// PRIMARY KEY must come before NOT NULL in SQLite
	if col.IsPrimaryKey {
		sb.WriteString(" PRIMARY KEY")
	}
	if !col.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if col.Default != nil {
		sb.WriteString(fmt.Sprintf(" DEFAULT %s", *col.Default))
	}
	return sb.String()
}

// FormatForeignKeyConstraint formats a foreign key constraint for CREATE TABLE
func (g *Generator) FormatForeignKeyConstraint(fk database.ForeignKey) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		fk.Name,
		strings.Join(fk.Columns, ", "),
		fk.ReferencedTable,
		strings.Join(fk.ReferencedColumns, ", ")))
	if fk.OnDelete != nil {
		sb.WriteString(fmt.Sprintf(" ON DELETE %s", *fk.OnDelete))
	}
	if fk.OnUpdate != nil {
		sb.WriteString(fmt.Sprintf(" ON UPDATE %s", *fk.OnUpdate))
	}
	return sb.String()
}

// FormatConstraint formats a unique or check constraint for CREATE TABLE
func (g *Generator) FormatConstraint(c database.Constraint) string {
	if c.Kind == database.ConstraintCheck {
		return fmt.Sprintf("CONSTRAINT %s CHECK (%s)", c.Name, c.Check)
	}
	return fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", c.Name, strings.Join(c.Columns, ", "))
}

// RebuildTable generates the standard SQLite table recreation as one step:
// create <table>_new with the target definition, copy rows, drop the old
// table, rename, then recreate indexes. exprs maps target column names to the
// select expression used during the copy; unmapped columns that exist in the
// old table are copied by name, the rest take their default.
func (g *Generator) RebuildTable(old, target database.Table, exprs map[string]string, description string) database.PlanStep {
	tmp := target.Clone()
	tmp.Name = fmt.Sprintf("%s_new", old.Name)
	createSQL, _ := g.CreateTable(tmp)

	var cols, selects []string
	for _, col := range target.Columns {
		if expr, ok := exprs[col.Name]; ok {
			cols = append(cols, col.Name)
			selects = append(selects, expr)
			continue
		}
		if old.Column(col.Name) != nil {
			cols = append(cols, col.Name)
			selects = append(selects, col.Name)
		}
	}

	stmts := []string{createSQL}
	if len(cols) > 0 {
		stmts = append(stmts, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			tmp.Name, strings.Join(cols, ", "), strings.Join(selects, ", "), old.Name))
	}
	stmts = append(stmts,
		fmt.Sprintf("DROP TABLE %s", old.Name),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", tmp.Name, old.Name),
	)
	for _, idx := range target.Indexes {
		stmts = append(stmts, g.formatIndex(old.Name, idx))
	}

	return database.PlanStep{Description: description, SQL: stmts}
}

// ParameterPlaceholder returns the SQLite parameter placeholder (?)
func (g *Generator) ParameterPlaceholder(position int) string {
	return "?"
}
