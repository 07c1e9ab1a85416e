package executor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lockplane/migrator/database"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/recorder"
	"github.com/lockplane/migrator/internal/state"
)

// SchemaEditor applies one operation to the database. before is the
// project state the operation runs against.
type SchemaEditor interface {
	Execute(ctx context.Context, op migration.Operation, before *state.ProjectState) error
}

// EditorTx is a SchemaEditor scoped to one transaction
type EditorTx interface {
	SchemaEditor
	Commit() error
	Rollback() error
}

// TransactionalEditor is a SchemaEditor that can open transactions
type TransactionalEditor interface {
	SchemaEditor
	Begin(ctx context.Context) (EditorTx, error)
}

// Renderer turns operations into SQL without running them
type Renderer interface {
	RenderSteps(op migration.Operation, before *state.ProjectState) ([]database.PlanStep, error)
}

// Recorder is the applied-migrations ledger
type Recorder interface {
	Record(ctx context.Context, key migration.Key) error
	Unrecord(ctx context.Context, key migration.Key) error
	IsApplied(ctx context.Context, key migration.Key) (bool, error)
	Applied(ctx context.Context) ([]recorder.Record, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLEditor runs rendered DDL on a database/sql connection
type SQLEditor struct {
	DB     *sql.DB
	Driver database.Driver
}

func NewSQLEditor(db *sql.DB, driver database.Driver) *SQLEditor {
	return &SQLEditor{DB: db, Driver: driver}
}

func (e *SQLEditor) Execute(ctx context.Context, op migration.Operation, before *state.ProjectState) error {
	return execute(ctx, e.DB, e.Driver, op, before)
}

func (e *SQLEditor) RenderSteps(op migration.Operation, before *state.ProjectState) ([]database.PlanStep, error) {
	return RenderSteps(e.Driver, op, before)
}

func (e *SQLEditor) Begin(ctx context.Context) (EditorTx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTx{tx: tx, driver: e.Driver}, nil
}

type sqlTx struct {
	tx     *sql.Tx
	driver database.Driver
}

func (t *sqlTx) Execute(ctx context.Context, op migration.Operation, before *state.ProjectState) error {
	return execute(ctx, t.tx, t.driver, op, before)
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

// SQLTx exposes the transaction so the ledger can be written inside it
func (t *sqlTx) SQLTx() *sql.Tx { return t.tx }

func execute(ctx context.Context, db execer, d database.Driver, op migration.Operation, before *state.ProjectState) error {
	stmts, err := Render(d, op, before)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", stmt, err)
		}
	}
	return nil
}
