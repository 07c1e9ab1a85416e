package sqlite

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/lockplane/migrator/database"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open SQLite: %v", err)
	}
	// every pooled connection would get its own :memory: database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}
	return db
}

func findColumn(columns []database.Column, name string) *database.Column {
	for i := range columns {
		if columns[i].Name == name {
			return &columns[i]
		}
	}
	return nil
}

func TestIntrospector_IntrospectSchema(t *testing.T) {
	db := getTestDB(t)
	defer func() { _ = db.Close() }()
	ctx := context.Background()

	for _, stmt := range []string{
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			status TEXT DEFAULT 'active'
		)`,
		`CREATE TABLE posts (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX idx_posts_user ON posts (user_id)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("Failed to create schema: %v", err)
		}
	}

	schema, err := NewIntrospector().IntrospectSchema(ctx, db)
	if err != nil {
		t.Fatalf("Failed to introspect: %v", err)
	}
	if len(schema.Tables) != 2 {
		t.Fatalf("Expected 2 tables, got %d", len(schema.Tables))
	}
	// sorted by name
	if schema.Tables[0].Name != "posts" || schema.Tables[1].Name != "users" {
		t.Errorf("Expected [posts users], got [%s %s]", schema.Tables[0].Name, schema.Tables[1].Name)
	}

	users := schema.Table("users")
	id := users.Column("id")
	if id == nil || !id.IsPrimaryKey {
		t.Errorf("Expected users.id to be primary key, got %+v", id)
	}
	status := users.Column("status")
	if status == nil || status.Default == nil || *status.Default != "'active'" {
		t.Errorf("Expected status default 'active', got %+v", status)
	}
	if len(users.Indexes) != 0 {
		t.Errorf("Expected implicit UNIQUE index to be skipped, got %+v", users.Indexes)
	}

	posts := schema.Table("posts")
	if len(posts.Indexes) != 1 || posts.Indexes[0].Name != "idx_posts_user" {
		t.Fatalf("Expected idx_posts_user, got %+v", posts.Indexes)
	}
	if len(posts.Indexes[0].Columns) != 1 || posts.Indexes[0].Columns[0] != "user_id" {
		t.Errorf("Expected index on user_id, got %v", posts.Indexes[0].Columns)
	}

	if len(posts.ForeignKeys) != 1 {
		t.Fatalf("Expected 1 foreign key, got %d", len(posts.ForeignKeys))
	}
	fk := posts.ForeignKeys[0]
	if fk.Name != "fk_posts_user_id" {
		t.Errorf("Expected synthesized name fk_posts_user_id, got %s", fk.Name)
	}
	if fk.ReferencedTable != "users" || fk.ReferencedColumns[0] != "id" {
		t.Errorf("Expected reference to users(id), got %s%v", fk.ReferencedTable, fk.ReferencedColumns)
	}
	if fk.OnDelete == nil || *fk.OnDelete != "CASCADE" {
		t.Errorf("Expected ON DELETE CASCADE, got %v", fk.OnDelete)
	}
}

func TestIntrospector_EmptyDatabase(t *testing.T) {
	db := getTestDB(t)
	defer func() { _ = db.Close() }()

	schema, err := NewIntrospector().IntrospectSchema(context.Background(), db)
	if err != nil {
		t.Fatalf("Failed to introspect: %v", err)
	}
	if len(schema.Tables) != 0 {
		t.Errorf("Expected 0 tables, got %d", len(schema.Tables))
	}
}
