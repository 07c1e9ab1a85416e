package schema

import (
	"testing"

	"github.com/lockplane/migrator/database"
)

func TestParseBasicCreateTable(t *testing.T) {
	sql := `CREATE TABLE users (id INTEGER);`

	schema, err := ParseSQL(sql)
	if err != nil {
		t.Fatalf("ParseSQL failed: %v", err)
	}

	if len(schema.Tables) != 1 {
		t.Fatalf("Expected 1 table, got %d", len(schema.Tables))
	}

	table := schema.Tables[0]
	if table.Name != "users" {
		t.Errorf("Expected table name 'users', got %q", table.Name)
	}
	if len(table.Columns) != 1 {
		t.Fatalf("Expected 1 column, got %d", len(table.Columns))
	}

	col := table.Columns[0]
	if col.Name != "id" {
		t.Errorf("Expected column name 'id', got %q", col.Name)
	}
	if col.Type != "integer" {
		t.Errorf("Expected column type 'integer', got %q", col.Type)
	}
	if !col.Nullable {
		t.Error("Expected column to be nullable by default")
	}
	if col.IsPrimaryKey {
		t.Error("Expected column to not be primary key")
	}
}

func TestParseColumnTypes(t *testing.T) {
	sql := `
		CREATE TABLE products (
			id BIGINT,
			name VARCHAR(120),
			price NUMERIC(10, 2),
			active BOOLEAN,
			tags TEXT[],
			weight FLOAT8
		);
	`

	schema, err := ParseSQL(sql)
	if err != nil {
		t.Fatalf("ParseSQL failed: %v", err)
	}

	expected := map[string]string{
		"id":     "bigint",
		"name":   "varchar(120)",
		"price":  "numeric(10,2)",
		"active": "boolean",
		"tags":   "text[]",
		"weight": "double precision",
	}
	table := schema.Tables[0]
	for name, typ := range expected {
		col := table.Column(name)
		if col == nil {
			t.Errorf("Expected column %s", name)
			continue
		}
		if col.Type != typ {
			t.Errorf("Expected %s to have type %q, got %q", name, typ, col.Type)
		}
	}
}

func TestParseColumnConstraints(t *testing.T) {
	sql := `
		CREATE TABLE accounts (
			id BIGINT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'active',
			balance INTEGER DEFAULT 0 CHECK (balance >= 0),
			created_at TIMESTAMP DEFAULT now(),
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`

	schema, err := ParseSQL(sql)
	if err != nil {
		t.Fatalf("ParseSQL failed: %v", err)
	}
	table := schema.Table("accounts")
	if table == nil {
		t.Fatal("Expected table accounts")
	}

	id := table.Column("id")
	if !id.IsPrimaryKey || id.Nullable {
		t.Errorf("Expected id to be a NOT NULL primary key, got %+v", id)
	}
	if table.Column("email").Nullable {
		t.Error("Expected email to be NOT NULL")
	}

	defaults := map[string]string{
		"status":     "'active'",
		"balance":    "0",
		"created_at": "now()",
		"updated_at": "CURRENT_TIMESTAMP",
	}
	for name, want := range defaults {
		col := table.Column(name)
		if col.Default == nil {
			t.Errorf("Expected %s to have a default", name)
			continue
		}
		if *col.Default != want {
			t.Errorf("Expected %s default %q, got %q", name, want, *col.Default)
		}
	}

	if len(table.Constraints) != 2 {
		t.Fatalf("Expected 2 constraints, got %d: %+v", len(table.Constraints), table.Constraints)
	}
	unique := table.Constraints[0]
	if unique.Name != "accounts_email_key" || unique.Kind != database.ConstraintUnique {
		t.Errorf("Expected unique constraint accounts_email_key, got %+v", unique)
	}
	check := table.Constraints[1]
	if check.Name != "accounts_balance_check" || check.Kind != database.ConstraintCheck {
		t.Errorf("Expected check constraint accounts_balance_check, got %+v", check)
	}
	if check.Check != "balance >= 0" {
		t.Errorf("Expected check text 'balance >= 0', got %q", check.Check)
	}
}

func TestParseTableConstraints(t *testing.T) {
	sql := `
		CREATE TABLE memberships (
			user_id BIGINT,
			team_id BIGINT,
			role TEXT,
			PRIMARY KEY (user_id, team_id),
			CONSTRAINT memberships_role_check CHECK (role IN ('owner', 'member')),
			UNIQUE (team_id, role)
		);
	`

	schema, err := ParseSQL(sql)
	if err != nil {
		t.Fatalf("ParseSQL failed: %v", err)
	}
	table := schema.Table("memberships")

	for _, name := range []string{"user_id", "team_id"} {
		col := table.Column(name)
		if !col.IsPrimaryKey || col.Nullable {
			t.Errorf("Expected %s to be part of the primary key", name)
		}
	}
	if table.Column("role").IsPrimaryKey {
		t.Error("Expected role to not be part of the primary key")
	}

	if len(table.Constraints) != 2 {
		t.Fatalf("Expected 2 constraints, got %d", len(table.Constraints))
	}
	if table.Constraints[0].Name != "memberships_role_check" {
		t.Errorf("Expected named check constraint, got %q", table.Constraints[0].Name)
	}
	if table.Constraints[0].Check != "role IN ('owner', 'member')" {
		t.Errorf("Expected check text, got %q", table.Constraints[0].Check)
	}
	if table.Constraints[1].Name != "memberships_team_id_role_key" {
		t.Errorf("Expected derived unique name, got %q", table.Constraints[1].Name)
	}
}

func TestParseTableConstraintUnknownColumn(t *testing.T) {
	_, err := ParseSQL(`CREATE TABLE t (a INTEGER, PRIMARY KEY (b));`)
	if err == nil {
		t.Fatal("Expected error for primary key on unknown column")
	}
}

func TestParseForeignKeys(t *testing.T) {
	sql := `
		CREATE TABLE users (id BIGINT PRIMARY KEY);
		CREATE TABLE posts (
			id BIGINT PRIMARY KEY,
			author_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
			editor_id BIGINT,
			CONSTRAINT posts_editor_fk FOREIGN KEY (editor_id) REFERENCES users (id) ON DELETE SET NULL ON UPDATE RESTRICT
		);
	`

	schema, err := ParseSQL(sql)
	if err != nil {
		t.Fatalf("ParseSQL failed: %v", err)
	}
	posts := schema.Table("posts")
	if len(posts.ForeignKeys) != 2 {
		t.Fatalf("Expected 2 foreign keys, got %d", len(posts.ForeignKeys))
	}

	author := posts.ForeignKeys[0]
	if author.Name != "fk_posts_author_id" {
		t.Errorf("Expected derived name fk_posts_author_id, got %q", author.Name)
	}
	if author.ReferencedTable != "users" || len(author.ReferencedColumns) != 1 || author.ReferencedColumns[0] != "id" {
		t.Errorf("Expected reference to users(id), got %s%v", author.ReferencedTable, author.ReferencedColumns)
	}
	if author.OnDelete == nil || *author.OnDelete != "CASCADE" {
		t.Errorf("Expected ON DELETE CASCADE, got %v", author.OnDelete)
	}
	if author.OnUpdate != nil {
		t.Errorf("Expected no ON UPDATE action, got %q", *author.OnUpdate)
	}

	editor := posts.ForeignKeys[1]
	if editor.Name != "posts_editor_fk" {
		t.Errorf("Expected explicit name posts_editor_fk, got %q", editor.Name)
	}
	if editor.OnDelete == nil || *editor.OnDelete != "SET NULL" {
		t.Errorf("Expected ON DELETE SET NULL, got %v", editor.OnDelete)
	}
	if editor.OnUpdate == nil || *editor.OnUpdate != "RESTRICT" {
		t.Errorf("Expected ON UPDATE RESTRICT, got %v", editor.OnUpdate)
	}
}

func TestParseIndexesAndExtensions(t *testing.T) {
	sql := `
		CREATE EXTENSION IF NOT EXISTS pgcrypto;
		CREATE EXTENSION pgcrypto;
		CREATE TABLE events (id BIGINT, kind TEXT, occurred_at TIMESTAMP);
		CREATE INDEX idx_events_kind ON events (kind);
		CREATE UNIQUE INDEX idx_events_kind_time ON events (kind, occurred_at);
	`

	schema, err := ParseSQL(sql)
	if err != nil {
		t.Fatalf("ParseSQL failed: %v", err)
	}
	if len(schema.Extensions) != 1 || schema.Extensions[0] != "pgcrypto" {
		t.Errorf("Expected single pgcrypto extension, got %v", schema.Extensions)
	}

	events := schema.Table("events")
	if len(events.Indexes) != 2 {
		t.Fatalf("Expected 2 indexes, got %d", len(events.Indexes))
	}
	if events.Indexes[0].Name != "idx_events_kind" || events.Indexes[0].Unique {
		t.Errorf("Expected non-unique idx_events_kind, got %+v", events.Indexes[0])
	}
	second := events.Indexes[1]
	if !second.Unique || len(second.Columns) != 2 || second.Columns[1] != "occurred_at" {
		t.Errorf("Expected unique composite index, got %+v", second)
	}
}

func TestParseIndexOnUnknownTable(t *testing.T) {
	if _, err := ParseSQL(`CREATE INDEX idx ON missing (id);`); err == nil {
		t.Fatal("Expected error for index on unknown table")
	}
}

func TestParseInvalidSQL(t *testing.T) {
	if _, err := ParseSQL(`CREATE TABLE (;`); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestParseIgnoresOtherStatements(t *testing.T) {
	sql := `
		CREATE TABLE items (id INTEGER);
		INSERT INTO items (id) VALUES (1);
		COMMENT ON TABLE items IS 'things';
	`
	schema, err := ParseSQL(sql)
	if err != nil {
		t.Fatalf("ParseSQL failed: %v", err)
	}
	if len(schema.Tables) != 1 {
		t.Errorf("Expected 1 table, got %d", len(schema.Tables))
	}
}
