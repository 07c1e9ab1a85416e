package schema

import (
	"strings"
	"testing"

	"github.com/lockplane/migrator/database"
)

func modifiedDiff(table string, cd database.ColumnDiff) *SchemaDiff {
	return &SchemaDiff{ModifiedTables: []TableDiff{{TableName: table, ModifiedColumns: []database.ColumnDiff{cd}}}}
}

func TestValidate_AddNotNullColumn(t *testing.T) {
	diff := &SchemaDiff{ModifiedTables: []TableDiff{{
		TableName:    "users",
		AddedColumns: []database.Column{{Name: "age", Type: "integer"}},
	}}}

	report := Validate(diff, ValidateOptions{})
	if report.Valid {
		t.Fatal("Expected NOT NULL column without default to be invalid")
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "users.age") {
		t.Errorf("Expected one error naming users.age, got %v", report.Errors)
	}

	report = Validate(diff, ValidateOptions{Backfilled: []string{"users.age"}})
	if !report.Valid {
		t.Errorf("Expected backfilled column to be valid, got errors %v", report.Errors)
	}
	if len(report.Warnings) != 1 {
		t.Errorf("Expected one warning, got %v", report.Warnings)
	}
}

func TestValidate_AddSafeColumns(t *testing.T) {
	diff := &SchemaDiff{ModifiedTables: []TableDiff{{
		TableName: "users",
		AddedColumns: []database.Column{
			{Name: "bio", Type: "text", Nullable: true},
			{Name: "score", Type: "integer", Default: strPtr("0")},
		},
	}}}

	report := Validate(diff, ValidateOptions{})
	if !report.Valid || !report.Reversible {
		t.Errorf("Expected valid reversible report, got %+v", report)
	}
	if len(report.Results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(report.Results))
	}
}

func TestValidate_Removals(t *testing.T) {
	diff := &SchemaDiff{
		RemovedTables: []database.Table{{Name: "legacy"}},
		ModifiedTables: []TableDiff{{
			TableName:      "users",
			RemovedColumns: []database.Column{{Name: "nickname", Type: "text"}},
		}},
	}

	report := Validate(diff, ValidateOptions{})
	if !report.Valid {
		t.Errorf("Expected removals to be valid with warnings, got errors %v", report.Errors)
	}
	if report.Reversible {
		t.Error("Expected removals to be irreversible")
	}
	if len(report.Warnings) != 2 {
		t.Errorf("Expected 2 warnings, got %v", report.Warnings)
	}
	for _, r := range report.Results {
		if !r.Destructive {
			t.Errorf("Expected %s to be destructive", r.Subject)
		}
	}
}

func TestValidate_NotNullConversion(t *testing.T) {
	tests := []struct {
		name       string
		def        *string
		backfilled []string
		wantValid  bool
	}{
		{"no default", nil, nil, false},
		{"with default", strPtr("'n/a'"), nil, true},
		{"backfilled", nil, []string{"users.nickname"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cd := database.ColumnDiff{
				ColumnName: "nickname",
				Old:        database.Column{Name: "nickname", Type: "text", Nullable: true},
				New:        database.Column{Name: "nickname", Type: "text", Default: tt.def},
				Changes:    []string{"nullable"},
			}
			report := Validate(modifiedDiff("users", cd), ValidateOptions{Backfilled: tt.backfilled})
			if report.Valid != tt.wantValid {
				t.Errorf("Expected valid=%v, got %v (errors %v)", tt.wantValid, report.Valid, report.Errors)
			}
			if tt.wantValid && len(report.Warnings) != 1 {
				t.Errorf("Expected one warning, got %v", report.Warnings)
			}
		})
	}
}

func TestValidate_TypeChanges(t *testing.T) {
	tests := []struct {
		from, to   string
		wantNarrow bool
	}{
		{"integer", "bigint", false},
		{"bigint", "integer", true},
		{"smallint", "integer", false},
		{"varchar(255)", "varchar(100)", true},
		{"varchar(100)", "varchar(255)", false},
		{"varchar(100)", "text", false},
		{"text", "varchar(50)", true},
		{"numeric(10,2)", "numeric(8,2)", true},
		{"numeric(8,2)", "numeric(10,2)", false},
		{"numeric", "integer", true},
		{"double precision", "bigint", true},
		{"integer", "text", false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := narrows(tt.from, tt.to); got != tt.wantNarrow {
				t.Errorf("narrows(%q, %q) = %v, expected %v", tt.from, tt.to, got, tt.wantNarrow)
			}

			cd := database.ColumnDiff{
				ColumnName: "value",
				Old:        database.Column{Name: "value", Type: tt.from},
				New:        database.Column{Name: "value", Type: tt.to},
				Changes:    []string{"type"},
			}
			report := Validate(modifiedDiff("metrics", cd), ValidateOptions{})
			if !report.Valid {
				t.Errorf("Expected type change to stay valid, got errors %v", report.Errors)
			}
			if report.Reversible == tt.wantNarrow {
				t.Errorf("Expected reversible=%v, got %v", !tt.wantNarrow, report.Reversible)
			}
		})
	}
}

func TestValidate_PrimaryKeyRemoval(t *testing.T) {
	cd := database.ColumnDiff{
		ColumnName: "id",
		Old:        database.Column{Name: "id", Type: "bigint", IsPrimaryKey: true},
		New:        database.Column{Name: "id", Type: "bigint"},
		Changes:    []string{"primary_key"},
	}
	report := Validate(modifiedDiff("users", cd), ValidateOptions{})
	if len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], "primary key") {
		t.Errorf("Expected primary key warning, got %v", report.Warnings)
	}
}

func TestValidate_ForeignKeys(t *testing.T) {
	target := sampleSchema()
	valid := database.ForeignKey{Name: "fk_ok", Columns: []string{"user_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}}
	missingTable := database.ForeignKey{Name: "fk_table", Columns: []string{"tag_id"}, ReferencedTable: "tags", ReferencedColumns: []string{"id"}}
	missingColumn := database.ForeignKey{Name: "fk_col", Columns: []string{"user_id"}, ReferencedTable: "users", ReferencedColumns: []string{"uuid"}}
	mismatched := database.ForeignKey{Name: "fk_count", Columns: []string{"a", "b"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}}

	tests := []struct {
		name      string
		fk        database.ForeignKey
		wantValid bool
	}{
		{"valid", valid, true},
		{"missing table", missingTable, false},
		{"missing column", missingColumn, false},
		{"column count", mismatched, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := &SchemaDiff{ModifiedTables: []TableDiff{{TableName: "posts", AddedForeignKeys: []database.ForeignKey{tt.fk}}}}
			report := Validate(diff, ValidateOptions{Target: target})
			if report.Valid != tt.wantValid {
				t.Errorf("Expected valid=%v, got %v (errors %v)", tt.wantValid, report.Valid, report.Errors)
			}
		})
	}
}
