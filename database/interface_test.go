package database

import (
	"encoding/json"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestSchemaCloneIsIndependent(t *testing.T) {
	original := &Schema{
		Tables: []Table{
			{
				Name: "users",
				Columns: []Column{
					{Name: "id", Type: "integer", IsPrimaryKey: true},
					{Name: "status", Type: "text", Default: strPtr("'active'")},
				},
				Indexes:     []Index{{Name: "idx_users_status", Columns: []string{"status"}}},
				Constraints: []Constraint{{Name: "uq_users_status", Kind: ConstraintUnique, Columns: []string{"status"}}},
			},
		},
		Extensions: []string{"pgcrypto"},
	}

	clone := original.Clone()
	clone.Tables[0].Columns[1].Name = "state"
	*clone.Tables[0].Columns[1].Default = "'gone'"
	clone.Tables[0].Indexes[0].Columns[0] = "state"
	clone.Tables[0].Constraints[0].Columns[0] = "state"
	clone.Extensions[0] = "citext"

	users := original.Table("users")
	if users.Columns[1].Name != "status" {
		t.Errorf("Expected original column name status, got %s", users.Columns[1].Name)
	}
	if *users.Columns[1].Default != "'active'" {
		t.Errorf("Expected original default to be untouched, got %s", *users.Columns[1].Default)
	}
	if users.Indexes[0].Columns[0] != "status" {
		t.Errorf("Expected original index column status, got %s", users.Indexes[0].Columns[0])
	}
	if users.Constraints[0].Columns[0] != "status" {
		t.Errorf("Expected original constraint column status, got %s", users.Constraints[0].Columns[0])
	}
	if !original.HasExtension("pgcrypto") {
		t.Error("Expected original to keep pgcrypto extension")
	}
}

func TestSchemaLookups(t *testing.T) {
	schema := &Schema{
		Tables: []Table{
			{Name: "users", Columns: []Column{{Name: "id", Type: "integer"}}},
			{
				Name:    "posts",
				Columns: []Column{{Name: "id", Type: "integer"}, {Name: "user_id", Type: "integer"}},
				ForeignKeys: []ForeignKey{{
					Name: "fk_posts_user_id", Columns: []string{"user_id"},
					ReferencedTable: "users", ReferencedColumns: []string{"id"},
				}},
			},
		},
	}

	if schema.Table("missing") != nil {
		t.Error("Expected nil for missing table")
	}
	posts := schema.Table("posts")
	if posts == nil || posts.Column("user_id") == nil {
		t.Fatal("Expected posts.user_id to be found")
	}
	if posts.Column("nope") != nil {
		t.Error("Expected nil for missing column")
	}

	refs := schema.ReferencingForeignKeys("users")
	if len(refs) != 1 || refs[0] != "posts.fk_posts_user_id" {
		t.Errorf("Expected [posts.fk_posts_user_id], got %v", refs)
	}
	if refs := schema.ReferencingForeignKeys("posts"); len(refs) != 0 {
		t.Errorf("Expected no references to posts, got %v", refs)
	}
}

func TestLogicalType(t *testing.T) {
	col := Column{Name: "title", Type: "  VARCHAR(255) "}
	if got := col.LogicalType(); got != "varchar(255)" {
		t.Errorf("Expected varchar(255), got %s", got)
	}
}

func TestColumnDiffHasChange(t *testing.T) {
	diff := ColumnDiff{ColumnName: "email", Changes: []string{"type", "nullable"}}
	if !diff.HasChange("nullable") {
		t.Error("Expected nullable change")
	}
	if diff.HasChange("default") {
		t.Error("Expected no default change")
	}
}

func TestSchemaJSONOmitsEmptyParts(t *testing.T) {
	schema := Schema{Tables: []Table{{Name: "t", Columns: []Column{{Name: "id", Type: "integer"}}}}}
	data, err := json.Marshal(schema)
	if err != nil {
		t.Fatalf("Failed to marshal schema: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal schema: %v", err)
	}
	if _, ok := decoded["extensions"]; ok {
		t.Error("Expected extensions to be omitted when empty")
	}
}
