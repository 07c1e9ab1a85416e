package sqlite

import (
	"github.com/lockplane/migrator/database"
)

// Driver implements database.Driver for SQLite
type Driver struct {
	*Introspector
	*Generator
}

// NewDriver creates a new SQLite driver
func NewDriver() *Driver {
	return &Driver{
		Introspector: NewIntrospector(),
		Generator:    NewGenerator(),
	}
}

// Name returns the database driver name
func (d *Driver) Name() string {
	return "sqlite"
}

// SupportsFeature reports whether SQLite supports a feature in place.
// Unsupported ALTER forms fall back to a table rebuild.
func (d *Driver) SupportsFeature(feature string) bool {
	switch feature {
	case database.FeatureForeignKeys, database.FeatureDropColumn, database.FeatureRenameColumn, database.FeatureTransactionalDDL:
		return true
	case database.FeatureCascade, database.FeatureAlterColumn, database.FeatureAddForeignKey, database.FeatureAddConstraint, database.FeatureExtensions:
		return false
	default:
		return false
	}
}

var (
	_ database.Driver       = (*Driver)(nil)
	_ database.Introspector = (*Introspector)(nil)
	_ database.SQLGenerator = (*Generator)(nil)
)
