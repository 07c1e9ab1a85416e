package schema

import (
	"testing"

	"github.com/lockplane/migrator/database"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/state"
)

// applyDiff replays OperationsFromDiff(current, target) onto current and
// renders the result
func applyDiff(t *testing.T, current, target *database.Schema) *database.Schema {
	t.Helper()
	ops := OperationsFromDiff("app", DiffSchemas(current, target))
	s := state.FromSchema("app", current)
	if err := migration.Apply(s, migration.New("app", "diff", ops...)); err != nil {
		t.Fatalf("Failed to apply diff operations: %v", err)
	}
	return s.ToSchema()
}

func TestOperationsFromDiff_RoundTrip(t *testing.T) {
	empty := &database.Schema{}
	full := sampleSchema()

	changed := sampleSchema()
	changed.Tables = append(changed.Tables, database.Table{
		Name: "comments",
		Columns: []database.Column{
			{Name: "id", Type: "bigint", IsPrimaryKey: true},
			{Name: "post_id", Type: "bigint"},
			{Name: "body", Type: "text"},
		},
		ForeignKeys: []database.ForeignKey{{
			Name: "comments_post_fk", Columns: []string{"post_id"},
			ReferencedTable: "posts", ReferencedColumns: []string{"id"},
		}},
		Indexes: []database.Index{{Name: "idx_comments_post", Columns: []string{"post_id"}}},
	})
	users := changed.Table("users")
	users.Columns = append(users.Columns, database.Column{Name: "bio", Type: "text", Nullable: true})
	users.Column("nickname").Default = strPtr("'anon'")
	users.Column("nickname").Nullable = false
	users.Indexes = []database.Index{{Name: "users_email_key", Columns: []string{"email", "id"}, Unique: true}}
	posts := changed.Table("posts")
	posts.Columns = posts.Columns[:3]
	posts.Constraints = []database.Constraint{{Name: "posts_title_key", Kind: database.ConstraintUnique, Columns: []string{"title"}}}
	posts.ForeignKeys[0].OnDelete = strPtr("SET NULL")
	changed.Extensions = []string{"citext"}

	composite := &database.Schema{Tables: []database.Table{
		{
			Name: "orders",
			Columns: []database.Column{
				{Name: "a", Type: "bigint"},
				{Name: "b", Type: "bigint"},
			},
			Constraints: []database.Constraint{{Name: "orders_a_b_key", Kind: database.ConstraintUnique, Columns: []string{"a", "b"}}},
		},
		{
			Name: "lines",
			Columns: []database.Column{
				{Name: "oa", Type: "bigint"},
				{Name: "ob", Type: "bigint"},
			},
			ForeignKeys: []database.ForeignKey{{
				Name: "lines_order_fk", Columns: []string{"oa", "ob"},
				ReferencedTable: "orders", ReferencedColumns: []string{"a", "b"},
			}},
		},
	}}
	cascading := &database.Schema{Tables: []database.Table{composite.Tables[0], composite.Tables[1].Clone()}}
	cascading.Tables[1].ForeignKeys[0].OnDelete = strPtr("CASCADE")

	tests := []struct {
		name            string
		current, target *database.Schema
	}{
		{"create everything", empty, full},
		{"create composite foreign key", empty, composite},
		{"drop composite foreign key", composite, empty},
		{"alter composite foreign key", composite, cascading},
		{"drop everything", full, empty},
		{"modify", full, changed},
		{"modify back", changed, full},
		{"no change", full, full},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyDiff(t, tt.current, tt.target)
			if diff := DiffSchemas(got, tt.target); !diff.IsEmpty() {
				t.Errorf("Expected replayed schema to match target, got diff %#v", diff)
			}
		})
	}
}

func TestOperationsFromDiff_Order(t *testing.T) {
	target := sampleSchema()
	ops := OperationsFromDiff("app", DiffSchemas(&database.Schema{}, target))

	if _, ok := ops[0].(*migration.CreateExtension); !ok {
		t.Fatalf("Expected CreateExtension first, got %s", ops[0].Describe())
	}
	var created []string
	for _, op := range ops {
		if c, ok := op.(*migration.CreateModel); ok {
			created = append(created, c.Name)
		}
	}
	if len(created) != 2 || created[0] != "users" || created[1] != "posts" {
		t.Errorf("Expected referenced table users before posts, got %v", created)
	}
}

func TestOperationsFromDiff_Empty(t *testing.T) {
	if ops := OperationsFromDiff("app", DiffSchemas(sampleSchema(), sampleSchema())); len(ops) != 0 {
		t.Errorf("Expected no operations, got %d", len(ops))
	}
}
