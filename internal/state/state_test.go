package state

import (
	"testing"

	"github.com/lockplane/migrator/database"
)

func TestProjectStateLifecycle(t *testing.T) {
	s := NewProjectState()
	if s.Len() != 0 {
		t.Fatalf("Expected new state to have 0 models, got %d", s.Len())
	}

	s.AddModel(NewModelState("blog", "Post", NewField("id", "integer", false)))
	m, ok := s.GetModel("blog", "Post")
	if !ok || m.Name != "Post" {
		t.Fatalf("Expected to find model Post, got %v", m)
	}

	s.RemoveModel("blog", "Post")
	if s.Len() != 0 {
		t.Errorf("Expected 0 models after removal, got %d", s.Len())
	}

	// removing again is a no-op
	s.RemoveModel("blog", "Post")
	if _, ok := s.GetModel("blog", "Post"); ok {
		t.Error("Expected model to be absent")
	}
}

func TestAddModelOverwrites(t *testing.T) {
	s := NewProjectState()
	s.AddModel(NewModelState("blog", "Post", NewField("id", "integer", false)))
	s.AddModel(NewModelState("blog", "Post", NewField("title", "text", false)))

	if s.Len() != 1 {
		t.Fatalf("Expected 1 model, got %d", s.Len())
	}
	m, _ := s.GetModel("blog", "Post")
	if m.HasField("id") || !m.HasField("title") {
		t.Errorf("Expected overwritten field set [title], got %v", m.FieldNames())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewProjectState()
	s.AddModel(NewModelState("blog", "Post", NewField("title", "text", false).WithParam(ParamMaxLength, "200")))
	s.AddExtension("pgcrypto")

	clone := s.Clone()
	cm, _ := clone.GetModel("blog", "Post")
	cm.AddField(NewField("body", "text", true))
	cm.Fields["title"].Params[ParamMaxLength] = "10"
	clone.RemoveExtension("pgcrypto")
	clone.AddModel(NewModelState("blog", "Tag"))

	m, _ := s.GetModel("blog", "Post")
	if m.HasField("body") {
		t.Error("Expected original model to be unaffected by clone mutation")
	}
	if v, _ := m.Fields["title"].Param(ParamMaxLength); v != "200" {
		t.Errorf("Expected original max_length 200, got %s", v)
	}
	if !s.HasExtension("pgcrypto") {
		t.Error("Expected original to keep extension")
	}
	if s.Len() != 1 {
		t.Errorf("Expected original to keep 1 model, got %d", s.Len())
	}
	if s.Equal(clone) {
		t.Error("Expected diverged clone to be unequal")
	}
	if !s.Equal(s.Clone()) {
		t.Error("Expected fresh clone to be equal")
	}
}

func TestFieldStateWithHelpersDoNotMutate(t *testing.T) {
	f := NewField("email", "varchar", false).WithParam(ParamMaxLength, "100")
	g := f.WithParam(ParamMaxLength, "255").WithNullable(true).WithName("mail")

	if v, _ := f.Param(ParamMaxLength); v != "100" {
		t.Errorf("Expected original max_length 100, got %s", v)
	}
	if f.Nullable || f.Name != "email" {
		t.Error("Expected original field to be unchanged")
	}
	changes := f.ChangedAttributes(g)
	if len(changes) != 2 || changes[0] != "nullable" || changes[1] != "param:max_length" {
		t.Errorf("Expected [nullable param:max_length], got %v", changes)
	}
	if g.ColumnType() != "varchar(255)" {
		t.Errorf("Expected varchar(255), got %s", g.ColumnType())
	}
	if f.WithoutParam(ParamMaxLength).Params != nil {
		t.Error("Expected params to be nil once empty")
	}
}

func TestTableName(t *testing.T) {
	tests := []struct {
		app, model, table, want string
	}{
		{"blog", "Post", "", "blog_post"},
		{"blog", "BlogPost", "", "blog_blog_post"},
		{"shop", "HTTPLog", "", "shop_http_log"},
		{"shop", "Order", "orders", "orders"},
	}
	for _, tt := range tests {
		m := NewModelState(tt.app, tt.model)
		m.Table = tt.table
		if got := m.TableName(); got != tt.want {
			t.Errorf("TableName(%s.%s): expected %s, got %s", tt.app, tt.model, tt.want, got)
		}
	}
}

func TestToSchema(t *testing.T) {
	s := NewProjectState()
	author := NewModelState("blog", "Author",
		NewField("id", "integer", false).WithParam(ParamPrimaryKey, "true"),
		NewField("email", "text", false).WithParam(ParamUnique, "true"),
	)
	post := NewModelState("blog", "Post",
		NewField("id", "integer", false).WithParam(ParamPrimaryKey, "true"),
		NewField("author_id", "integer", false).WithParam(ParamReferences, "blog.Author").WithParam(ParamOnDelete, "CASCADE"),
		NewField("status", "text", false).WithParam(ParamDefault, "'draft'"),
	)
	s.AddModel(author)
	s.AddModel(post)

	schema := s.ToSchema()
	if len(schema.Tables) != 2 {
		t.Fatalf("Expected 2 tables, got %d", len(schema.Tables))
	}

	authors := schema.Table("blog_author")
	if authors == nil {
		t.Fatal("Expected blog_author table")
	}
	if authors.Columns[0].Name != "id" || !authors.Columns[0].IsPrimaryKey {
		t.Errorf("Expected primary key first, got %+v", authors.Columns[0])
	}
	if len(authors.Indexes) != 1 || authors.Indexes[0].Name != "blog_author_email_key" || !authors.Indexes[0].Unique {
		t.Errorf("Expected unique index on email, got %+v", authors.Indexes)
	}

	posts := schema.Table("blog_post")
	if len(posts.ForeignKeys) != 1 {
		t.Fatalf("Expected 1 foreign key, got %d", len(posts.ForeignKeys))
	}
	fk := posts.ForeignKeys[0]
	if fk.Name != "fk_blog_post_author_id" || fk.ReferencedTable != "blog_author" || fk.ReferencedColumns[0] != "id" {
		t.Errorf("Unexpected foreign key %+v", fk)
	}
	if fk.OnDelete == nil || *fk.OnDelete != "CASCADE" {
		t.Errorf("Expected ON DELETE CASCADE, got %v", fk.OnDelete)
	}
	status := posts.Column("status")
	if status.Default == nil || *status.Default != "'draft'" {
		t.Errorf("Expected default 'draft', got %v", status.Default)
	}
}

func TestFromSchemaRoundTrip(t *testing.T) {
	cascade := "CASCADE"
	schema := &database.Schema{
		Tables: []database.Table{
			{
				Name: "posts",
				Columns: []database.Column{
					{Name: "id", Type: "integer", IsPrimaryKey: true},
					{Name: "user_id", Type: "integer"},
				},
				Indexes: []database.Index{{Name: "idx_posts_user", Columns: []string{"user_id"}}},
				ForeignKeys: []database.ForeignKey{{
					Name: "posts_user_fkey", Columns: []string{"user_id"},
					ReferencedTable: "users", ReferencedColumns: []string{"id"}, OnDelete: &cascade,
				}},
			},
			{
				Name:        "users",
				Columns:     []database.Column{{Name: "id", Type: "integer", IsPrimaryKey: true}},
				Constraints: []database.Constraint{{Name: "ck_id", Kind: database.ConstraintCheck, Check: "id > 0"}},
			},
		},
	}

	s := FromSchema("app", schema)
	if s.Len() != 2 {
		t.Fatalf("Expected 2 models, got %d", s.Len())
	}
	if _, ok := s.ModelByTable("users"); !ok {
		t.Error("Expected to find model by table users")
	}

	out := s.ToSchema()
	posts := out.Table("posts")
	if posts == nil || len(posts.ForeignKeys) != 1 {
		t.Fatalf("Expected posts with one foreign key, got %+v", posts)
	}
	if posts.ForeignKeys[0].Name != "posts_user_fkey" || posts.ForeignKeys[0].ReferencedTable != "users" {
		t.Errorf("Expected foreign key to survive round trip, got %+v", posts.ForeignKeys[0])
	}
	if len(posts.Indexes) != 1 || posts.Indexes[0].Name != "idx_posts_user" {
		t.Errorf("Expected index to survive round trip, got %+v", posts.Indexes)
	}
	if users := out.Table("users"); len(users.Constraints) != 1 {
		t.Errorf("Expected check constraint to survive round trip, got %+v", users.Constraints)
	}
}
