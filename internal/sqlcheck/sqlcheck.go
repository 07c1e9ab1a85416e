// Package sqlcheck inspects the raw SQL carried by RunSQL operations before
// it reaches a database.
package sqlcheck

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/lockplane/migrator/internal/migration"
)

// Severity of an Issue
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding in a migration's SQL
type Issue struct {
	Migration string   `json:"migration"`
	Operation int      `json:"operation"`
	Reverse   bool     `json:"reverse,omitempty"`
	Statement string   `json:"statement"`
	Severity  Severity `json:"severity"`
	Code      string   `json:"code"`
	Message   string   `json:"message"`
}

func (i Issue) String() string {
	side := "forward"
	if i.Reverse {
		side = "reverse"
	}
	return fmt.Sprintf("%s operation %d (%s): %s [%s]", i.Migration, i.Operation, side, i.Message, i.Code)
}

// Report collects the issues found in one migration
type Report struct {
	Issues []Issue `json:"issues"`
}

// Valid is false when any issue is an error
func (r *Report) Valid() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return false
		}
	}
	return true
}

func (r *Report) Errors() []Issue   { return r.filter(SeverityError) }
func (r *Report) Warnings() []Issue { return r.filter(SeverityWarning) }

func (r *Report) filter(s Severity) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == s {
			out = append(out, i)
		}
	}
	return out
}

// ValidatePostgres parses sql with the PostgreSQL parser
func ValidatePostgres(sql string) error {
	if _, err := pg_query.Parse(sql); err != nil {
		return fmt.Errorf("invalid SQL: %s", strings.TrimPrefix(err.Error(), "failed to parse SQL: "))
	}
	return nil
}

// Finding is a data-loss pattern found in a statement
type Finding struct {
	Code    string
	Message string
}

// DangerousPatterns reports statements that are valid but delete data.
// SQL the parser cannot read yields no findings.
func DangerousPatterns(sql string) []Finding {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil
	}
	var findings []Finding
	for _, raw := range tree.Stmts {
		if raw.Stmt == nil {
			continue
		}
		findings = append(findings, dataLoss(raw.Stmt)...)
	}
	return findings
}

func dataLoss(stmt *pg_query.Node) []Finding {
	switch node := stmt.Node.(type) {
	case *pg_query.Node_DropStmt:
		if node.DropStmt.RemoveType != pg_query.ObjectType_OBJECT_TABLE {
			return nil
		}
		msg := fmt.Sprintf("DROP TABLE %s permanently deletes its data", objectName(node.DropStmt.Objects))
		if node.DropStmt.Behavior == pg_query.DropBehavior_DROP_CASCADE {
			msg += "; CASCADE also drops dependent objects"
		}
		return []Finding{{Code: "dangerous_drop_table", Message: msg}}

	case *pg_query.Node_TruncateStmt:
		var names []string
		for _, rel := range node.TruncateStmt.Relations {
			if rv, ok := rel.Node.(*pg_query.Node_RangeVar); ok {
				names = append(names, rangeVarName(rv.RangeVar))
			}
		}
		return []Finding{{
			Code:    "dangerous_truncate",
			Message: fmt.Sprintf("TRUNCATE removes every row from %s", strings.Join(names, ", ")),
		}}

	case *pg_query.Node_DeleteStmt:
		if node.DeleteStmt.WhereClause != nil {
			return nil
		}
		return []Finding{{
			Code:    "dangerous_delete_all",
			Message: fmt.Sprintf("DELETE FROM %s without WHERE removes every row", rangeVarName(node.DeleteStmt.Relation)),
		}}

	case *pg_query.Node_AlterTableStmt:
		table := rangeVarName(node.AlterTableStmt.Relation)
		var findings []Finding
		for _, cmd := range node.AlterTableStmt.Cmds {
			c, ok := cmd.Node.(*pg_query.Node_AlterTableCmd)
			if !ok || c.AlterTableCmd.Subtype != pg_query.AlterTableType_AT_DropColumn {
				continue
			}
			findings = append(findings, Finding{
				Code:    "dangerous_drop_column",
				Message: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s permanently deletes its data", table, c.AlterTableCmd.Name),
			})
		}
		return findings
	}
	return nil
}

func objectName(objects []*pg_query.Node) string {
	if len(objects) == 0 {
		return "unknown"
	}
	list, ok := objects[0].Node.(*pg_query.Node_List)
	if !ok {
		return "unknown"
	}
	var parts []string
	for _, item := range list.List.Items {
		if s, ok := item.Node.(*pg_query.Node_String_); ok {
			parts = append(parts, s.String_.Sval)
		}
	}
	return strings.Join(parts, ".")
}

func rangeVarName(rv *pg_query.RangeVar) string {
	if rv == nil {
		return "unknown"
	}
	if rv.Schemaname != "" {
		return rv.Schemaname + "." + rv.Relname
	}
	return rv.Relname
}

// CheckMigration inspects every RunSQL operation in m. Syntax is only
// checked for the postgres dialect; data-loss patterns are reported as
// warnings for every dialect the parser understands.
func CheckMigration(m *migration.Migration, dialect string) *Report {
	report := &Report{}
	for i, op := range m.Operations {
		run, ok := op.(*migration.RunSQL)
		if !ok {
			continue
		}
		check := func(statements []string, reverse bool) {
			for _, sql := range statements {
				issue := Issue{Migration: m.Key().String(), Operation: i, Reverse: reverse, Statement: sql}
				if strings.TrimSpace(sql) == "" {
					issue.Severity, issue.Code, issue.Message = SeverityError, "empty_statement", "statement is empty"
					report.Issues = append(report.Issues, issue)
					continue
				}
				if dialect == "postgres" {
					if err := ValidatePostgres(sql); err != nil {
						issue.Severity, issue.Code, issue.Message = SeverityError, "syntax_error", err.Error()
						report.Issues = append(report.Issues, issue)
						continue
					}
				}
				for _, f := range DangerousPatterns(sql) {
					issue.Severity, issue.Code, issue.Message = SeverityWarning, f.Code, f.Message
					report.Issues = append(report.Issues, issue)
				}
			}
		}
		check(run.SQL, false)
		check(run.ReverseSQL, true)
	}
	return report
}
