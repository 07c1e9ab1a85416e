package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// getTestDB returns a test database connection or skips the test if unavailable
func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_TEST_URL")
	if dbURL == "" {
		t.Skip("Skipping test: POSTGRES_TEST_URL not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("Skipping test: cannot open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Skipf("Skipping test: database not available: %v", err)
	}
	return db
}

func TestIntrospector_IntrospectSchema(t *testing.T) {
	db := getTestDB(t)
	defer func() { _ = db.Close() }()
	ctx := context.Background()

	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS migrator_it_posts, migrator_it_users CASCADE")
	defer func() {
		_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS migrator_it_posts, migrator_it_users CASCADE")
	}()

	for _, stmt := range []string{
		`CREATE TABLE migrator_it_users (id BIGSERIAL PRIMARY KEY, email TEXT NOT NULL, CONSTRAINT migrator_it_uq_email UNIQUE (email))`,
		`CREATE TABLE migrator_it_posts (
			id SERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES migrator_it_users(id),
			score INTEGER DEFAULT 0,
			CONSTRAINT migrator_it_ck_score CHECK (score >= 0)
		)`,
		`CREATE INDEX migrator_it_idx_posts_user ON migrator_it_posts (user_id, score)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("Failed to create schema: %v", err)
		}
	}

	schema, err := NewIntrospector().IntrospectSchema(ctx, db)
	if err != nil {
		t.Fatalf("Failed to introspect: %v", err)
	}

	users := schema.Table("migrator_it_users")
	if users == nil {
		t.Fatal("Expected migrator_it_users table")
	}
	if id := users.Column("id"); id == nil || id.Type != "bigserial" || id.Default != nil {
		t.Errorf("Expected bigserial id without default, got %+v", id)
	}
	if len(users.Constraints) != 1 || users.Constraints[0].Kind != "unique" {
		t.Errorf("Expected unique constraint, got %+v", users.Constraints)
	}

	posts := schema.Table("migrator_it_posts")
	if len(posts.Indexes) != 1 || len(posts.Indexes[0].Columns) != 2 || posts.Indexes[0].Columns[1] != "score" {
		t.Errorf("Expected two-column index, got %+v", posts.Indexes)
	}
	if len(posts.ForeignKeys) != 1 || posts.ForeignKeys[0].ReferencedTable != "migrator_it_users" {
		t.Errorf("Expected foreign key to users, got %+v", posts.ForeignKeys)
	}
	if len(posts.Constraints) != 1 || posts.Constraints[0].Check != "score >= 0" {
		t.Errorf("Expected check constraint score >= 0, got %+v", posts.Constraints)
	}
}

func TestNormalizeDefault(t *testing.T) {
	tests := map[string]string{
		"'{}'::jsonb":    "'{}'",
		"'active'::text": "'active'",
		"0":              "0",
		"'a::b'":         "'a::b'",
		"now()":          "now()",
	}
	for in, want := range tests {
		if got := normalizeDefault(in); got != want {
			t.Errorf("normalizeDefault(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestCheckExpression(t *testing.T) {
	tests := map[string]string{
		"CHECK ((price > 0))":            "price > 0",
		"CHECK (price > 0)":              "price > 0",
		"CHECK ((a > 0) AND (b > 0))":    "(a > 0) AND (b > 0)",
		"CHECK (((status = 'x'::text)))": "status = 'x'::text",
	}
	for in, want := range tests {
		if got := checkExpression(in); got != want {
			t.Errorf("checkExpression(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestIsSerialDefault(t *testing.T) {
	if !isSerialDefault("nextval('users_id_seq'::regclass)") {
		t.Error("Expected nextval default to be detected as serial")
	}
	if isSerialDefault("0") {
		t.Error("Expected literal default not to be serial")
	}
}
