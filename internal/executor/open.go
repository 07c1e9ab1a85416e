package executor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/lockplane/migrator/database"
	"github.com/lockplane/migrator/database/postgres"
	"github.com/lockplane/migrator/database/sqlite"
)

// DetectDriver maps a connection string to a driver name: postgres,
// libsql or sqlite
func DetectDriver(connString string) string {
	lower := strings.ToLower(connString)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "libsql://"):
		return "libsql"
	default:
		return "sqlite"
	}
}

// NewDriver creates the dialect driver for a driver name. libsql speaks the
// SQLite dialect.
func NewDriver(driverName string) (database.Driver, error) {
	switch driverName {
	case "postgres", "postgresql":
		return postgres.NewDriver(), nil
	case "sqlite", "sqlite3", "libsql":
		return sqlite.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driverName)
	}
}

// SQLDriverName returns the database/sql driver registered for driverName
func SQLDriverName(driverName string) string {
	switch driverName {
	case "postgres", "postgresql":
		return "postgres"
	case "libsql":
		return "libsql"
	default:
		return "sqlite"
	}
}

// sqliteDSN strips the sqlite:// scheme the sqlite driver does not understand
// and turns on foreign key enforcement for every pooled connection
func sqliteDSN(connString string) string {
	dsn := connString
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	if dsn == ":memory:" || strings.Contains(dsn, "_pragma=foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

// OpenDB opens and pings the database behind connString and returns it with
// its dialect driver
func OpenDB(ctx context.Context, connString string) (*sql.DB, database.Driver, error) {
	name := DetectDriver(connString)
	driver, err := NewDriver(name)
	if err != nil {
		return nil, nil, err
	}

	dsn := connString
	if name == "sqlite" {
		dsn = sqliteDSN(connString)
	}
	db, err := sql.Open(SQLDriverName(name), dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if dsn == ":memory:" {
		// every pooled connection would get its own in-memory database
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}
	return db, driver, nil
}
