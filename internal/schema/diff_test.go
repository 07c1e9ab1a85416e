package schema

import (
	"testing"

	"github.com/lockplane/migrator/database"
)

func strPtr(s string) *string { return &s }

func sampleSchema() *database.Schema {
	return &database.Schema{
		Extensions: []string{"pgcrypto"},
		Tables: []database.Table{
			{
				Name: "users",
				Columns: []database.Column{
					{Name: "id", Type: "bigint", IsPrimaryKey: true},
					{Name: "email", Type: "varchar(255)"},
					{Name: "nickname", Type: "text", Nullable: true},
				},
				Indexes: []database.Index{{Name: "users_email_key", Columns: []string{"email"}, Unique: true}},
			},
			{
				Name: "posts",
				Columns: []database.Column{
					{Name: "id", Type: "bigint", IsPrimaryKey: true},
					{Name: "user_id", Type: "bigint"},
					{Name: "title", Type: "text"},
					{Name: "score", Type: "integer", Default: strPtr("0")},
				},
				ForeignKeys: []database.ForeignKey{{
					Name: "fk_posts_user_id", Columns: []string{"user_id"},
					ReferencedTable: "users", ReferencedColumns: []string{"id"}, OnDelete: strPtr("CASCADE"),
				}},
				Constraints: []database.Constraint{{Name: "posts_score_check", Kind: database.ConstraintCheck, Check: "score >= 0"}},
			},
		},
	}
}

func TestDiffSchemas_Reflexive(t *testing.T) {
	s := sampleSchema()
	if diff := DiffSchemas(s, s); !diff.IsEmpty() {
		t.Fatalf("Expected empty diff for identical schemas, got %#v", diff)
	}
	if diff := DiffSchemas(nil, nil); !diff.IsEmpty() {
		t.Fatalf("Expected empty diff for nil schemas, got %#v", diff)
	}
}

func TestDiffSchemas_UsesLogicalTypes(t *testing.T) {
	before := &database.Schema{Tables: []database.Table{{
		Name:    "todos",
		Columns: []database.Column{{Name: "completed", Type: "INTEGER"}},
	}}}
	after := &database.Schema{Tables: []database.Table{{
		Name:    "todos",
		Columns: []database.Column{{Name: "completed", Type: "integer"}},
	}}}

	if diff := DiffSchemas(before, after); !diff.IsEmpty() {
		t.Fatalf("Expected diff to be empty when logical types match, got %#v", diff)
	}
}

func TestDiffSchemas_DetectsChanges(t *testing.T) {
	current := sampleSchema()
	target := sampleSchema()

	target.Tables = append(target.Tables, database.Table{
		Name:    "tags",
		Columns: []database.Column{{Name: "id", Type: "bigint", IsPrimaryKey: true}},
	})
	users := target.Table("users")
	users.Columns = append(users.Columns, database.Column{Name: "bio", Type: "text", Nullable: true})
	users.Column("nickname").Nullable = false
	users.Column("email").Type = "varchar(100)"
	posts := target.Table("posts")
	posts.Columns = posts.Columns[:3]
	posts.ForeignKeys[0].OnDelete = nil
	target.Extensions = []string{"uuid-ossp"}

	diff := DiffSchemas(current, target)
	if diff.IsEmpty() {
		t.Fatal("Expected differences")
	}
	if len(diff.AddedTables) != 1 || diff.AddedTables[0].Name != "tags" {
		t.Errorf("Expected added table tags, got %v", diff.AddedTables)
	}
	if len(diff.AddedExtensions) != 1 || diff.AddedExtensions[0] != "uuid-ossp" {
		t.Errorf("Expected added extension uuid-ossp, got %v", diff.AddedExtensions)
	}
	if len(diff.RemovedExtensions) != 1 || diff.RemovedExtensions[0] != "pgcrypto" {
		t.Errorf("Expected removed extension pgcrypto, got %v", diff.RemovedExtensions)
	}
	if len(diff.ModifiedTables) != 2 {
		t.Fatalf("Expected 2 modified tables, got %d", len(diff.ModifiedTables))
	}

	postsDiff, usersDiff := diff.ModifiedTables[0], diff.ModifiedTables[1]
	if postsDiff.TableName != "posts" || usersDiff.TableName != "users" {
		t.Fatalf("Expected modified tables sorted by name, got %s, %s", postsDiff.TableName, usersDiff.TableName)
	}
	if len(postsDiff.RemovedColumns) != 1 || postsDiff.RemovedColumns[0].Name != "score" {
		t.Errorf("Expected removed column score, got %v", postsDiff.RemovedColumns)
	}
	if len(postsDiff.AddedForeignKeys) != 1 || len(postsDiff.RemovedForeignKeys) != 1 {
		t.Errorf("Expected changed foreign key to be removed and added, got +%d -%d",
			len(postsDiff.AddedForeignKeys), len(postsDiff.RemovedForeignKeys))
	}
	if len(usersDiff.AddedColumns) != 1 || usersDiff.AddedColumns[0].Name != "bio" {
		t.Errorf("Expected added column bio, got %v", usersDiff.AddedColumns)
	}

	changes := diff.ModifiedColumns()
	if len(changes) != 2 {
		t.Fatalf("Expected 2 modified columns, got %d", len(changes))
	}
	if changes[0].Table != "users" || changes[0].ColumnName != "email" || !changes[0].HasChange("type") {
		t.Errorf("Expected users.email type change, got %+v", changes[0])
	}
	if changes[1].ColumnName != "nickname" || !changes[1].HasChange("nullable") {
		t.Errorf("Expected users.nickname nullable change, got %+v", changes[1])
	}
}

func TestDiffSchemas_DoesNotMutateInputs(t *testing.T) {
	current := sampleSchema()
	target := sampleSchema()
	target.Table("users").Column("email").Type = "text"

	before, _ := ComputeSchemaHash(current)
	diff := DiffSchemas(current, target)
	diff.ModifiedTables[0].ModifiedColumns[0].New.Type = "changed"
	after, _ := ComputeSchemaHash(current)
	if before != after {
		t.Error("Expected current schema to be unchanged")
	}
	if target.Table("users").Column("email").Type != "text" {
		t.Error("Expected target schema to be unchanged")
	}
}

func TestSchemaDiff_IsEmpty(t *testing.T) {
	diff := &SchemaDiff{}
	if !diff.IsEmpty() {
		t.Error("Expected empty diff to be empty")
	}
	diff.AddedExtensions = []string{"citext"}
	if diff.IsEmpty() {
		t.Error("Expected diff with extension to not be empty")
	}
}

func TestTableDiff_IsEmpty(t *testing.T) {
	diff := &TableDiff{TableName: "users"}
	if !diff.IsEmpty() {
		t.Error("Expected empty table diff to be empty")
	}
	diff.AddedConstraints = []database.Constraint{{Name: "ck", Kind: database.ConstraintCheck}}
	if diff.IsEmpty() {
		t.Error("Expected table diff with constraint to not be empty")
	}
}

func TestEqualDefaults(t *testing.T) {
	tests := []struct {
		a, b *string
		want bool
	}{
		{nil, nil, true},
		{strPtr("0"), nil, false},
		{nil, strPtr("0"), false},
		{strPtr("0"), strPtr("0"), true},
		{strPtr("0"), strPtr("1"), false},
	}
	for _, tt := range tests {
		if got := equalDefaults(tt.a, tt.b); got != tt.want {
			t.Errorf("equalDefaults(%v, %v) = %v, expected %v", tt.a, tt.b, got, tt.want)
		}
	}
}
