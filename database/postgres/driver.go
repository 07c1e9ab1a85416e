package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/lockplane/migrator/database"
)

// Driver implements database.Driver for PostgreSQL
type Driver struct {
	*Introspector
	*Generator
}

// NewDriver creates a new PostgreSQL driver
func NewDriver() *Driver {
	return &Driver{
		Introspector: NewIntrospector(),
		Generator:    NewGenerator(),
	}
}

// Name returns the database driver name
func (d *Driver) Name() string {
	return "postgres"
}

// SupportsFeature checks if PostgreSQL supports a specific feature
func (d *Driver) SupportsFeature(feature string) bool {
	switch feature {
	case database.FeatureCascade,
		database.FeatureAlterColumn,
		database.FeatureAddForeignKey,
		database.FeatureAddConstraint,
		database.FeatureForeignKeys,
		database.FeatureDropColumn,
		database.FeatureRenameColumn,
		database.FeatureExtensions,
		database.FeatureTransactionalDDL:
		return true
	default:
		return false
	}
}

// OpenConnection opens and pings a PostgreSQL connection
func (d *Driver) OpenConnection(ctx context.Context, connString string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

var (
	_ database.Driver       = (*Driver)(nil)
	_ database.Introspector = (*Introspector)(nil)
	_ database.SQLGenerator = (*Generator)(nil)
)
