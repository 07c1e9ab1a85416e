package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lockplane/migrator/database"
)

// ValidationResult is the outcome of validating one change in a diff
type ValidationResult struct {
	Subject     string   `json:"subject"`     // table or table.column
	Valid       bool     `json:"valid"`       // can we safely do this?
	Reversible  bool     `json:"reversible"`  // can the change be undone without data loss?
	Destructive bool     `json:"destructive"` // can the change lose data?
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Reasons     []string `json:"reasons,omitempty"`
}

// ValidationReport aggregates the results of a whole diff. Warnings never
// flip Valid; only errors do.
type ValidationReport struct {
	Valid      bool               `json:"valid"`
	Reversible bool               `json:"reversible"`
	Errors     []string           `json:"errors,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	Results    []ValidationResult `json:"results"`
}

// ValidateOptions tunes Validate
type ValidateOptions struct {
	// Backfilled lists "table.column" entries with a declared backfill, which
	// turns a NOT NULL conversion without default into a warning
	Backfilled []string
	// Target resolves foreign key references when set
	Target *database.Schema
}

func (o ValidateOptions) backfilled(table, column string) bool {
	for _, b := range o.Backfilled {
		if b == table+"."+column {
			return true
		}
	}
	return false
}

func newResult(subject string) ValidationResult {
	return ValidationResult{Subject: subject, Valid: true, Reversible: true}
}

func (r *ValidationResult) fail(format string, args ...interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) reason(format string, args ...interface{}) {
	r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
}

// Validate classifies every change in diff. Removals and type narrowing are
// destructive and produce warnings; making a column NOT NULL without a
// default or backfill, or adding such a column to an existing table, is a
// blocking error.
func Validate(diff *SchemaDiff, opts ValidateOptions) *ValidationReport {
	var results []ValidationResult

	for _, t := range diff.RemovedTables {
		r := newResult(t.Name)
		r.Destructive = true
		r.Reversible = false
		r.warn("Dropping table '%s' deletes all of its rows", t.Name)
		results = append(results, r)
	}

	for _, t := range diff.AddedTables {
		r := newResult(t.Name)
		r.reason("Reversible: DROP TABLE %s", t.Name)
		for _, fk := range t.ForeignKeys {
			validateForeignKey(&r, t.Name, fk, opts.Target)
		}
		results = append(results, r)
	}

	for _, td := range diff.ModifiedTables {
		for _, col := range td.AddedColumns {
			results = append(results, validateAddedColumn(td.TableName, col, opts))
		}
		for _, col := range td.RemovedColumns {
			r := newResult(td.TableName + "." + col.Name)
			r.Destructive = true
			r.Reversible = false
			r.warn("Dropping column '%s.%s' deletes its data", td.TableName, col.Name)
			results = append(results, r)
		}
		for _, cd := range td.ModifiedColumns {
			results = append(results, validateModifiedColumn(td.TableName, cd, opts))
		}
		for _, fk := range td.AddedForeignKeys {
			r := newResult(td.TableName)
			validateForeignKey(&r, td.TableName, fk, opts.Target)
			results = append(results, r)
		}
	}

	report := &ValidationReport{Valid: true, Reversible: true, Results: results}
	for _, r := range results {
		if !r.Valid {
			report.Valid = false
		}
		if !r.Reversible {
			report.Reversible = false
		}
		report.Errors = append(report.Errors, r.Errors...)
		report.Warnings = append(report.Warnings, r.Warnings...)
	}
	return report
}

func validateAddedColumn(table string, col database.Column, opts ValidateOptions) ValidationResult {
	r := newResult(table + "." + col.Name)
	switch {
	case !col.Nullable && (col.Default == nil || *col.Default == ""):
		if opts.backfilled(table, col.Name) {
			r.warn("NOT NULL column '%s.%s' has no DEFAULT; relying on the declared backfill", table, col.Name)
		} else {
			r.fail("Cannot add NOT NULL column '%s.%s' without a DEFAULT value - existing rows would violate constraint", table, col.Name)
			r.reason("NOT NULL columns require a DEFAULT value when added to tables with existing data")
		}
	case col.Nullable:
		r.reason("Column '%s' is nullable - safe to add", col.Name)
	default:
		r.reason("Column '%s' has DEFAULT value - safe to add", col.Name)
	}
	r.reason("Reversible: DROP COLUMN %s.%s", table, col.Name)
	return r
}

func validateModifiedColumn(table string, cd database.ColumnDiff, opts ValidateOptions) ValidationResult {
	r := newResult(table + "." + cd.ColumnName)

	if cd.HasChange("type") {
		if narrows(cd.Old.Type, cd.New.Type) {
			r.Destructive = true
			r.Reversible = false
			r.warn("Changing '%s.%s' from %s to %s narrows the type and may truncate or reject data",
				table, cd.ColumnName, cd.Old.Type, cd.New.Type)
		} else {
			r.reason("Type change %s -> %s widens or keeps the domain", cd.Old.Type, cd.New.Type)
		}
	}

	if cd.HasChange("nullable") && !cd.New.Nullable {
		switch {
		case cd.New.Default != nil && *cd.New.Default != "":
			r.warn("'%s.%s' becomes NOT NULL; existing NULLs will be set to %s", table, cd.ColumnName, *cd.New.Default)
		case opts.backfilled(table, cd.ColumnName):
			r.warn("'%s.%s' becomes NOT NULL after the declared backfill", table, cd.ColumnName)
		default:
			r.Destructive = true
			r.fail("Cannot make '%s.%s' NOT NULL without a DEFAULT or backfill - existing NULL rows would violate constraint",
				table, cd.ColumnName)
		}
	}

	if cd.HasChange("primary_key") && cd.Old.IsPrimaryKey {
		r.warn("'%s.%s' is no longer part of the primary key", table, cd.ColumnName)
	}
	return r
}

// validateForeignKey checks the reference against the target schema
func validateForeignKey(r *ValidationResult, table string, fk database.ForeignKey, target *database.Schema) {
	if len(fk.Columns) != len(fk.ReferencedColumns) {
		r.fail("Foreign key column count (%d) does not match referenced column count (%d)",
			len(fk.Columns), len(fk.ReferencedColumns))
		return
	}
	if target == nil {
		return
	}
	refTable := target.Table(fk.ReferencedTable)
	if refTable == nil {
		r.fail("Referenced table '%s' does not exist", fk.ReferencedTable)
		return
	}
	for i, refCol := range fk.ReferencedColumns {
		if refTable.Column(refCol) == nil {
			r.fail("Referenced column '%s.%s' does not exist", fk.ReferencedTable, refCol)
			continue
		}
		r.reason("FK column '%s.%s' → '%s.%s' is valid", table, fk.Columns[i], fk.ReferencedTable, refCol)
	}
	r.reason("Reversible: DROP CONSTRAINT %s", fk.Name)
}

var typePattern = regexp.MustCompile(`^\s*([a-z][a-z0-9 _]*?)\s*(?:\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\))?\s*$`)

type sqlType struct {
	base  string
	args  []int
	known bool
}

func parseType(t string) sqlType {
	m := typePattern.FindStringSubmatch(strings.ToLower(t))
	if m == nil {
		return sqlType{base: strings.ToLower(strings.TrimSpace(t))}
	}
	st := sqlType{base: m[1], known: true}
	for _, a := range m[2:] {
		if a == "" {
			continue
		}
		n, _ := strconv.Atoi(a)
		st.args = append(st.args, n)
	}
	return st
}

var integerRank = map[string]int{
	"smallint": 1, "int2": 1, "smallserial": 1,
	"integer": 2, "int": 2, "int4": 2, "serial": 2,
	"bigint": 3, "int8": 3, "bigserial": 3,
}

var stringTypes = map[string]bool{
	"varchar": true, "character varying": true, "char": true, "character": true,
}

var fractionalTypes = map[string]bool{
	"numeric": true, "decimal": true, "real": true, "float4": true,
	"double precision": true, "float8": true, "float": true,
}

// narrows reports whether converting from -> to can lose data
func narrows(from, to string) bool {
	f, t := parseType(from), parseType(to)

	if fr, ok := integerRank[f.base]; ok {
		if tr, ok := integerRank[t.base]; ok {
			return tr < fr
		}
	}
	if fractionalTypes[f.base] {
		if _, ok := integerRank[t.base]; ok {
			return true
		}
		if (f.base == "numeric" || f.base == "decimal") && (t.base == "numeric" || t.base == "decimal") {
			return lessArgs(t.args, f.args)
		}
	}
	if f.base == "text" && stringTypes[t.base] && len(t.args) > 0 {
		return true
	}
	if stringTypes[f.base] && stringTypes[t.base] && len(t.args) > 0 {
		return len(f.args) == 0 || t.args[0] < f.args[0]
	}
	return false
}

// lessArgs reports whether any precision/scale shrinks; an unbounded side
// counts as the largest
func lessArgs(to, from []int) bool {
	if len(to) == 0 {
		return false
	}
	if len(from) == 0 {
		return true
	}
	for i := range to {
		if i < len(from) && to[i] < from[i] {
			return true
		}
	}
	return false
}
