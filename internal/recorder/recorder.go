package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lockplane/migrator/database"
	"github.com/lockplane/migrator/internal/migration"
)

// TableName is the ledger table the SQL recorder maintains
const TableName = "migrator_migrations"

// Record is one row of the applied-migrations ledger
type Record struct {
	Key       migration.Key `json:"key"`
	AppliedAt time.Time     `json:"applied_at"`
}

// AppliedSet turns ledger rows into the set the planner consumes
func AppliedSet(records []Record) map[migration.Key]bool {
	set := make(map[migration.Key]bool, len(records))
	for _, r := range records {
		set[r.Key] = true
	}
	return set
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLRecorder stores the ledger in a table of the target database
type SQLRecorder struct {
	db  querier
	gen database.SQLGenerator
	now func() time.Time
}

// NewSQLRecorder creates a recorder on db. gen supplies the dialect's
// parameter placeholders.
func NewSQLRecorder(db *sql.DB, gen database.SQLGenerator) *SQLRecorder {
	return &SQLRecorder{db: db, gen: gen, now: time.Now}
}

// WithTx returns a recorder writing through tx, so ledger rows commit or
// roll back together with the schema changes of the same transaction
func (r *SQLRecorder) WithTx(tx *sql.Tx) *SQLRecorder {
	return &SQLRecorder{db: tx, gen: r.gen, now: r.now}
}

// EnsureTable creates the ledger table if it does not exist
func (r *SQLRecorder) EnsureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  app_label VARCHAR(255) NOT NULL,
  name VARCHAR(255) NOT NULL,
  applied_at TIMESTAMP NOT NULL,
  PRIMARY KEY (app_label, name)
)`, TableName))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", TableName, err)
	}
	return nil
}

func (r *SQLRecorder) p(n int) string { return r.gen.ParameterPlaceholder(n) }

// Record marks key as applied
func (r *SQLRecorder) Record(ctx context.Context, key migration.Key) error {
	query := fmt.Sprintf("INSERT INTO %s (app_label, name, applied_at) VALUES (%s, %s, %s)",
		TableName, r.p(1), r.p(2), r.p(3))
	if _, err := r.db.ExecContext(ctx, query, key.AppLabel, key.Name, r.now().UTC()); err != nil {
		return fmt.Errorf("failed to record %s: %w", key, err)
	}
	return nil
}

// Unrecord removes key from the ledger
func (r *SQLRecorder) Unrecord(ctx context.Context, key migration.Key) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE app_label = %s AND name = %s", TableName, r.p(1), r.p(2))
	if _, err := r.db.ExecContext(ctx, query, key.AppLabel, key.Name); err != nil {
		return fmt.Errorf("failed to unrecord %s: %w", key, err)
	}
	return nil
}

// IsApplied reports whether key is in the ledger
func (r *SQLRecorder) IsApplied(ctx context.Context, key migration.Key) (bool, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE app_label = %s AND name = %s", TableName, r.p(1), r.p(2))
	var n int
	if err := r.db.QueryRowContext(ctx, query, key.AppLabel, key.Name).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to query %s: %w", TableName, err)
	}
	return n > 0, nil
}

// Applied lists the ledger in application order
func (r *SQLRecorder) Applied(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT app_label, name, applied_at FROM %s ORDER BY applied_at, app_label, name", TableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", TableName, err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key.AppLabel, &rec.Key.Name, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", TableName, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MemoryRecorder keeps the ledger in memory. It is safe for concurrent use.
type MemoryRecorder struct {
	mu      sync.Mutex
	applied map[migration.Key]time.Time
	now     func() time.Time
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{applied: make(map[migration.Key]time.Time), now: time.Now}
}

func (r *MemoryRecorder) Record(_ context.Context, key migration.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.applied[key]; !ok {
		r.applied[key] = r.now()
	}
	return nil
}

func (r *MemoryRecorder) Unrecord(_ context.Context, key migration.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.applied, key)
	return nil
}

func (r *MemoryRecorder) IsApplied(_ context.Context, key migration.Key) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.applied[key]
	return ok, nil
}

func (r *MemoryRecorder) Applied(_ context.Context) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make([]Record, 0, len(r.applied))
	for k, at := range r.applied {
		records = append(records, Record{Key: k, AppliedAt: at})
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].AppliedAt.Equal(records[j].AppliedAt) {
			return records[i].AppliedAt.Before(records[j].AppliedAt)
		}
		return records[i].Key.Less(records[j].Key)
	})
	return records, nil
}
