package postgres

import (
	"fmt"
	"strings"

	"github.com/lockplane/migrator/database"
)

// Generator implements database.SQLGenerator for PostgreSQL
type Generator struct{}

// NewGenerator creates a new PostgreSQL SQL generator
func NewGenerator() *Generator {
	return &Generator{}
}

// CreateTable generates PostgreSQL SQL to create a table.
// Foreign keys are added separately with AddForeignKey.
func (g *Generator) CreateTable(table database.Table) (string, string) {
	parts := make([]string, 0, len(table.Columns)+len(table.Constraints))
	for _, col := range table.Columns {
		parts = append(parts, g.FormatColumnDefinition(col))
	}
	for _, c := range table.Constraints {
		parts = append(parts, formatConstraint(c))
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

// DropTable generates PostgreSQL SQL to drop a table
func (g *Generator) DropTable(table database.Table) (string, string) {
	return fmt.Sprintf("DROP TABLE %s CASCADE", table.Name), fmt.Sprintf("Drop table %s", table.Name)
}

// RenameTable generates PostgreSQL SQL to rename a table
func (g *Generator) RenameTable(oldName, newName string) (string, string) {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", oldName, newName),
		fmt.Sprintf("Rename table %s to %s", oldName, newName)
}

// AddColumn generates PostgreSQL SQL to add a column
func (g *Generator) AddColumn(tableName string, col database.Column) (string, string) {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", tableName, g.FormatColumnDefinition(col)),
		fmt.Sprintf("Add column %s to table %s", col.Name, tableName)
}

// DropColumn generates PostgreSQL SQL to drop a column
func (g *Generator) DropColumn(tableName string, col database.Column) (string, string) {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", tableName, col.Name),
		fmt.Sprintf("Drop column %s from table %s", col.Name, tableName)
}

// RenameColumn generates PostgreSQL SQL to rename a column
func (g *Generator) RenameColumn(tableName, oldName, newName string) (string, string) {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", tableName, oldName, newName),
		fmt.Sprintf("Rename column %s.%s to %s", tableName, oldName, newName)
}

// ModifyColumn emits one ALTER COLUMN step per changed attribute
func (g *Generator) ModifyColumn(table database.Table, diff database.ColumnDiff) []database.PlanStep {
	var steps []database.PlanStep
	alter := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s", table.Name, diff.ColumnName)

	if diff.HasChange("type") {
		steps = append(steps, database.PlanStep{
			Description: fmt.Sprintf("Change type of %s.%s from %s to %s",
				table.Name, diff.ColumnName, diff.Old.Type, diff.New.Type),
			SQL: []string{fmt.Sprintf("%s TYPE %s USING %s::%s", alter, diff.New.Type, diff.ColumnName, diff.New.Type)},
		})
	}

	// default before nullability so SET NOT NULL can rely on it for new rows
	if diff.HasChange("default") {
		stmt := alter + " DROP DEFAULT"
		if diff.New.Default != nil {
			stmt = fmt.Sprintf("%s SET DEFAULT %s", alter, *diff.New.Default)
		}
		steps = append(steps, database.PlanStep{
			Description: fmt.Sprintf("Change default of %s.%s", table.Name, diff.ColumnName),
			SQL:         []string{stmt},
		})
	}

	if diff.HasChange("nullable") {
		var stmts []string
		if diff.New.Nullable {
			stmts = []string{alter + " DROP NOT NULL"}
		} else {
			if diff.New.Default != nil {
				stmts = append(stmts, fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL",
					table.Name, diff.ColumnName, *diff.New.Default, diff.ColumnName))
			}
			stmts = append(stmts, alter+" SET NOT NULL")
		}
		steps = append(steps, database.PlanStep{
			Description: fmt.Sprintf("Change nullability of %s.%s to %t", table.Name, diff.ColumnName, diff.New.Nullable),
			SQL:         stmts,
		})
	}

	if diff.HasChange("primary_key") {
		stmt := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s_pkey", table.Name, table.Name)
		if diff.New.IsPrimaryKey {
			stmt = fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", table.Name, diff.ColumnName)
		}
		steps = append(steps, database.PlanStep{
			Description: fmt.Sprintf("Change primary key of %s", table.Name),
			SQL:         []string{stmt},
		})
	}

	return steps
}

// AddIndex generates PostgreSQL SQL to add an index
func (g *Generator) AddIndex(tableName string, idx database.Index) (string, string) {
	uniqueStr := ""
	if idx.Unique {
		uniqueStr = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", uniqueStr, idx.Name, tableName, strings.Join(idx.Columns, ", ")),
		fmt.Sprintf("Create index %s on table %s", idx.Name, tableName)
}

// DropIndex generates PostgreSQL SQL to drop an index
func (g *Generator) DropIndex(tableName string, idx database.Index) (string, string) {
	return fmt.Sprintf("DROP INDEX %s", idx.Name), fmt.Sprintf("Drop index %s from table %s", idx.Name, tableName)
}

// AddForeignKey generates PostgreSQL SQL to add a foreign key
func (g *Generator) AddForeignKey(table database.Table, fk database.ForeignKey) []database.PlanStep {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		table.Name, fk.Name, strings.Join(fk.Columns, ", "), fk.ReferencedTable, strings.Join(fk.ReferencedColumns, ", "))
	if fk.OnDelete != nil {
		stmt += fmt.Sprintf(" ON DELETE %s", *fk.OnDelete)
	}
	if fk.OnUpdate != nil {
		stmt += fmt.Sprintf(" ON UPDATE %s", *fk.OnUpdate)
	}
	return []database.PlanStep{{
		Description: fmt.Sprintf("Add foreign key %s to table %s", fk.Name, table.Name),
		SQL:         []string{stmt},
	}}
}

// DropForeignKey generates PostgreSQL SQL to drop a foreign key
func (g *Generator) DropForeignKey(table database.Table, fk database.ForeignKey) []database.PlanStep {
	return []database.PlanStep{{
		Description: fmt.Sprintf("Drop foreign key %s from table %s", fk.Name, table.Name),
		SQL:         []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table.Name, fk.Name)},
	}}
}

// AddConstraint generates PostgreSQL SQL to add a unique or check constraint
func (g *Generator) AddConstraint(table database.Table, c database.Constraint) []database.PlanStep {
	return []database.PlanStep{{
		Description: fmt.Sprintf("Add constraint %s to table %s", c.Name, table.Name),
		SQL:         []string{fmt.Sprintf("ALTER TABLE %s ADD %s", table.Name, formatConstraint(c))},
	}}
}

// DropConstraint generates PostgreSQL SQL to drop a unique or check constraint
func (g *Generator) DropConstraint(table database.Table, c database.Constraint) []database.PlanStep {
	return []database.PlanStep{{
		Description: fmt.Sprintf("Drop constraint %s from table %s", c.Name, table.Name),
		SQL:         []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table.Name, c.Name)},
	}}
}

// CreateExtension generates PostgreSQL SQL to install an extension
func (g *Generator) CreateExtension(name string) (string, string) {
	return fmt.Sprintf("CREATE EXTENSION IF NOT EXISTS %s", quoteIdent(name)), fmt.Sprintf("Create extension %s", name)
}

// DropExtension generates PostgreSQL SQL to remove an extension
func (g *Generator) DropExtension(name string) (string, string) {
	return fmt.Sprintf("DROP EXTENSION IF EXISTS %s", quoteIdent(name)), fmt.Sprintf("Drop extension %s", name)
}

// FormatColumnDefinition formats a column definition for CREATE/ALTER statements
func (g *Generator) FormatColumnDefinition(col database.Column) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s %s", col.Name, col.Type))
	if !col.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if col.Default != nil {
		sb.WriteString(fmt.Sprintf(" DEFAULT %s", *col.Default))
	}
	if col.IsPrimaryKey {
		sb.WriteString(" PRIMARY KEY")
	}
	return sb.String()
}

// ParameterPlaceholder returns the PostgreSQL parameter placeholder ($1, $2, etc.)
func (g *Generator) ParameterPlaceholder(position int) string {
	return fmt.Sprintf("$%d", position)
}

func formatConstraint(c database.Constraint) string {
	if c.Kind == database.ConstraintCheck {
		return fmt.Sprintf("CONSTRAINT %s CHECK (%s)", c.Name, c.Check)
	}
	return fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", c.Name, strings.Join(c.Columns, ", "))
}

// extension names like uuid-ossp need quoting
func quoteIdent(name string) string {
	if strings.ContainsAny(name, "-. ") {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
	return name
}
